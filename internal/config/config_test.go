package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfreymuth/pulsed/internal/stream"
	"github.com/jfreymuth/pulsed/proto"
)

func TestDefaults(t *testing.T) {
	v, err := New("")
	require.NoError(t, err)
	c, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, []Address{{Address: "unix:native", MaxClients: 64, ListenBacklog: 32}}, c.Addresses)
	assert.Equal(t, stream.DefaultLimits(), c.Limits)
	assert.Equal(t, proto.SampleSpec{Format: proto.FormatFloat32LE, Channels: 2, Rate: 48000}, c.DefaultSampleSpec)
	assert.Equal(t, proto.ChannelMap{proto.ChannelFrontLeft, proto.ChannelFrontRight}, c.DefaultChannelMap)
	assert.True(t, c.AllowModuleLoading)
	assert.Contains(t, c.Commands, "load-module module-always-sink")
}

const testConfig = `
server:
  address:
    - unix:native
    - address: tcp:4713
      max-clients: 8
      client.access: allowed
pulse:
  min:
    req: 256/48000
  default:
    format: S16
    position: [ FL, FR, FC ]
  idle:
    timeout: 5
log:
  level: debug
`

func TestLoadFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "pulsed.yaml")
	require.NoError(t, os.WriteFile(file, []byte(testConfig), 0o644))
	v, err := New(file)
	require.NoError(t, err)
	c, err := Load(v)
	require.NoError(t, err)

	require.Len(t, c.Addresses, 2)
	assert.Equal(t, Address{Address: "tcp:4713", MaxClients: 8, ListenBacklog: 32, Access: "allowed"}, c.Addresses[1])
	assert.Equal(t, stream.Fraction{Num: 256, Denom: 48000}, c.Limits.MinReq)
	assert.Equal(t, uint32(5), c.Limits.IdleTimeout)
	assert.Equal(t, proto.SampleSpec{Format: proto.FormatInt16LE, Channels: 3, Rate: 48000}, c.DefaultSampleSpec)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PULSED_LOG_LEVEL", "trace")
	t.Setenv("PULSED_SERVER_ADDRESS", "unix:/tmp/a tcp:[::1]:4713")
	v, err := New("")
	require.NoError(t, err)
	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "trace", c.LogLevel)
	require.Len(t, c.Addresses, 2)
	assert.Equal(t, "tcp:[::1]:4713", c.Addresses[1].Address)
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"pulse.default.format", "bogus"},
		{"pulse.default.position", "[ XX ]"},
		{"default.clock.rate", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v, err := New("")
			require.NoError(t, err)
			v.Set(tt.key, tt.value)
			_, err = Load(v)
			assert.Error(t, err)
		})
	}
}

func TestConfigureLogger(t *testing.T) {
	l := logrus.New()
	require.NoError(t, ConfigureLogger(l, "warn", "json"))
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)
	assert.Error(t, ConfigureLogger(l, "loud", "text"))
	assert.Error(t, ConfigureLogger(l, "info", "xml"))
}
