package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseServerString(t *testing.T) {
	cases := []struct {
		input  string
		result []serverString
	}{
		{"/path/to/socket", []serverString{{"", "unix", "/path/to/socket"}}},
		{"unix:/path/to/socket", []serverString{{"", "unix", "/path/to/socket"}}},
		{"tcp4:host:port", []serverString{{"", "tcp4", "host:port"}}},
		{"tcp6:host:port", []serverString{{"", "tcp6", "host:port"}}},
		{"tcp:address:port", []serverString{{"", "tcp", "address:port"}}},
		{"gurki", []serverString{{"", "tcp", "gurki:4713"}}},
		{
			"{somewhere}/path/to/socket tcp:address:port",
			[]serverString{
				{"somewhere", "unix", "/path/to/socket"},
				{"", "tcp", "address:port"},
			},
		},
	}
	for _, c := range cases {
		assert.Equal(t, c.result, parseServerString(c.input), c.input)
	}
}
