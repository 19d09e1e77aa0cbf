package proto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jfreymuth/pulsed/proto"
)

func TestLinearVolume(t *testing.T) {
	for n := 0; n <= 200; n++ {
		linear := float64(n) / 100
		assert.InDelta(t, linear, proto.LinearVolume(linear).Linear(), 0.0001, "linear %f", linear)
	}
	assert.Equal(t, proto.VolumeMuted, proto.LinearVolume(-1))
	assert.Equal(t, proto.VolumeMax, proto.LinearVolume(1e30))
}

// Every valid volume maps back to itself through the linear representation.
func TestVolumeRoundTrip(t *testing.T) {
	for n := 0; n <= int(proto.VolumeNorm)*10; n++ {
		v := proto.Volume(n)
		if got := proto.LinearVolume(v.Linear()); got != v {
			t.Fatalf("LinearVolume(Volume(%d).Linear()) = %d", n, got)
		}
	}
}

func TestChannelVolumesValid(t *testing.T) {
	tests := []struct {
		name string
		cv   proto.ChannelVolumes
		want bool
	}{
		{"stereo", proto.ChannelVolumes{uint32(proto.VolumeNorm), 0}, true},
		{"empty", proto.ChannelVolumes{}, false},
		{"too loud", proto.ChannelVolumes{uint32(proto.VolumeMax) + 1}, false},
		{"too many channels", make(proto.ChannelVolumes, proto.ChannelsMax+1), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cv.Valid(), tt.name)
	}
	assert.True(t, proto.ChannelVolumes{1, 2}.Equal(proto.ChannelVolumes{1, 2}))
	assert.False(t, proto.ChannelVolumes{1, 2}.Equal(proto.ChannelVolumes{1}))
}
