package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingWrap(t *testing.T) {
	tests := []struct {
		name  string
		start uint32
	}{
		{"buffer end", MaxLength - 4},
		{"index overflow", 0xFFFFFFFC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRing()
			r.ReadUpdate(tt.start)
			r.WriteUpdate(tt.start)
			data := []byte{1, 2, 3, 4, 5, 6, 7, 8}

			index, filled := r.WriteIndex()
			assert.Equal(t, tt.start, index)
			assert.Zero(t, filled)
			r.WriteData(index, data)
			r.WriteUpdate(index + uint32(len(data)))

			index, avail := r.ReadIndex()
			assert.Equal(t, tt.start, index)
			assert.Equal(t, int32(8), avail)
			got := make([]byte, 8)
			r.ReadData(index, got)
			assert.Equal(t, data, got)
			assert.Equal(t, []byte{5, 6, 7, 8}, r.buf[:4])
		})
	}
}

func TestRingOvertaken(t *testing.T) {
	r := NewRing()
	r.ReadUpdate(100)
	_, avail := r.ReadIndex()
	assert.Equal(t, int32(-100), avail)
	_, filled := r.WriteIndex()
	assert.Equal(t, int32(-100), filled)
}

func TestRingDrop(t *testing.T) {
	r := NewRing()
	r.WriteUpdate(1000)
	r.DropRead()
	_, avail := r.ReadIndex()
	assert.Zero(t, avail)

	r.WriteUpdate(2000)
	r.DropWrite()
	index, filled := r.WriteIndex()
	assert.Equal(t, uint32(1000), index)
	assert.Zero(t, filled)
}
