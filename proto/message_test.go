package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		ok   bool
	}{
		{"control", Descriptor{Length: 10, Channel: ControlChannel}, true},
		{"memblock", Descriptor{Length: 10, Channel: 3, Flags: 1}, true},
		{"empty", Descriptor{Length: 0, Channel: ControlChannel}, false},
		{"too large", Descriptor{Length: FrameSizeMax + 1, Channel: 0}, false},
		{"control with flags", Descriptor{Length: 10, Channel: ControlChannel, Flags: 1}, false},
		{"shm", Descriptor{Length: 10, Channel: 0, Flags: 0x80000000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrProtocolError)
			}
		})
	}
}

func TestDescriptorEncoding(t *testing.T) {
	d := Descriptor{Length: 1, Channel: 2, OffsetHi: 3, OffsetLo: 4, Flags: 5}
	var b [DescriptorSize]byte
	d.Encode(b[:])
	assert.Equal(t, []byte{0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0, 4, 0, 0, 0, 5}, b[:])
	var d2 Descriptor
	d2.Decode(b[:])
	assert.Equal(t, d, d2)
	assert.Equal(t, int64(3<<32|4), d2.Offset())
}

func TestPoolRecycles(t *testing.T) {
	p := NewPool()
	m := p.Get(ControlChannel, 10)
	assert.Equal(t, 0, m.Len())
	st := p.Stats()
	assert.Equal(t, uint32(1), st.NumAllocated)
	assert.Equal(t, uint32(allocQuantum), st.AllocatedSize)

	p.Put(m)
	m2 := p.Get(5, 100)
	assert.Same(t, m, m2)
	assert.Equal(t, 100, m2.Len())
	assert.Equal(t, uint32(5), m2.Channel)
	st = p.Stats()
	assert.Equal(t, uint32(1), st.NumAllocated)
	assert.Equal(t, uint32(1), st.NumAccumulated)
}

func TestPoolReleasesLargeMessages(t *testing.T) {
	p := NewPool()
	m := p.Get(0, maxRecycleSize+1)
	require.Greater(t, len(m.data), maxRecycleSize)
	p.Put(m)
	st := p.Stats()
	assert.Equal(t, uint32(0), st.NumAllocated)
	assert.Equal(t, uint32(0), st.AllocatedSize)
	assert.Equal(t, uint32(1), st.NumAccumulated)
	assert.NotZero(t, st.AccumulatedSize)
}

func TestMessageGrowsInQuanta(t *testing.T) {
	p := NewPool()
	m := p.Get(ControlChannel, 0)
	w := m.Writer()
	for i := 0; i < 2000; i++ {
		w.PutU32(uint32(i))
	}
	assert.Equal(t, 10000, m.Len())
	assert.Zero(t, len(m.data)%allocQuantum)
	assert.Equal(t, uint32(len(m.data)), p.Stats().AllocatedSize)
}

func TestNewError(t *testing.T) {
	p := NewPool()
	m := p.NewError(42, ErrNoSuchEntity)
	r := m.Reader()
	assert.Equal(t, uint32(OpError), r.U32())
	assert.Equal(t, uint32(42), r.U32())
	assert.Equal(t, uint32(ErrNoSuchEntity), r.U32())
	assert.NoError(t, r.Done())
}
