package proto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jfreymuth/pulsed/proto"
)

func TestSampleSpec(t *testing.T) {
	tests := []struct {
		ss        proto.SampleSpec
		valid     bool
		frameSize uint32
	}{
		{proto.SampleSpec{Format: proto.FormatInt16LE, Channels: 2, Rate: 44100}, true, 4},
		{proto.SampleSpec{Format: proto.FormatInt24LE, Channels: 6, Rate: 48000}, true, 18},
		{proto.SampleSpec{Format: proto.FormatFloat32LE, Channels: 0, Rate: 48000}, false, 0},
		{proto.SampleSpec{Format: proto.FormatUint8, Channels: 1, Rate: 0}, false, 1},
		{proto.SampleSpec{Format: proto.FormatMax, Channels: 1, Rate: 8000}, false, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, tt.ss.Valid(), "%+v", tt.ss)
		assert.Equal(t, tt.frameSize, tt.ss.FrameSize(), "%+v", tt.ss)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name string
		want byte
		ok   bool
	}{
		{"S16", proto.FormatInt16LE, true},
		{"f32", proto.FormatFloat32LE, true},
		{"S24_32BE", proto.FormatInt24_32BE, true},
		{"ULAW", proto.FormatULaw, true},
		{"S8", proto.FormatInvalid, false},
	}
	for _, tt := range tests {
		got, ok := proto.ParseFormat(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
	assert.Equal(t, "S24LE", proto.FormatName(proto.FormatInt24LE))
	assert.Equal(t, "UNKNOWN", proto.FormatName(proto.FormatInvalid))
}

func TestChannelMap(t *testing.T) {
	m, ok := proto.ParseChannelMap("[ FL FR ]")
	assert.True(t, ok)
	assert.Equal(t, proto.ChannelMap{proto.ChannelFrontLeft, proto.ChannelFrontRight}, m)

	m, ok = proto.ParseChannelMap("fl,fr,lfe")
	assert.True(t, ok)
	assert.Equal(t, []string{"FL", "FR", "LFE"}, m.Names())

	_, ok = proto.ParseChannelMap("FL XX")
	assert.False(t, ok)
	_, ok = proto.ParseChannelMap("")
	assert.False(t, ok)

	assert.Equal(t, proto.ChannelMap{proto.ChannelAux0, proto.ChannelAux0 + 1, proto.ChannelAux0 + 2, proto.ChannelAux0 + 3, proto.ChannelAux0 + 4},
		proto.DefaultChannelMap(5))
	for n := 1; n <= proto.ChannelsMax; n++ {
		assert.True(t, proto.DefaultChannelMap(n).Valid(), "%d channels", n)
	}
	assert.False(t, proto.ChannelMap{proto.ChannelPositionMax}.Valid())
}

func TestSilence(t *testing.T) {
	buf := []byte{1, 2, 3}
	proto.Silence(proto.FormatUint8, buf)
	assert.Equal(t, []byte{0x80, 0x80, 0x80}, buf)
	proto.Silence(proto.FormatFloat32LE, buf)
	assert.Equal(t, []byte{0, 0, 0}, buf)
}
