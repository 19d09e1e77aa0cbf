package stream

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfreymuth/pulsed/proto"
)

func nullLog() *logrus.Entry {
	l, _ := test.NewNullLogger()
	return logrus.NewEntry(l)
}

var (
	f32Stereo = proto.SampleSpec{Format: proto.FormatFloat32LE, Channels: 2, Rate: 48000}
	s16Stereo = proto.SampleSpec{Format: proto.FormatInt16LE, Channels: 2, Rate: 48000}
	s16Mono   = proto.SampleSpec{Format: proto.FormatInt16LE, Channels: 1, Rate: 48000}
)

func TestFracToBytes(t *testing.T) {
	tests := []struct {
		f    Fraction
		ss   proto.SampleSpec
		want uint32
	}{
		{Fraction{1, 1}, proto.SampleSpec{Format: proto.FormatInt16LE, Channels: 2, Rate: 44100}, 176400},
		{Fraction{128, 48000}, proto.SampleSpec{Format: proto.FormatInt16LE, Channels: 2, Rate: 44100}, 472},
		{Fraction{128, 48000}, f32Stereo, 1024},
		{Fraction{0, 48000}, f32Stereo, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FracToBytes(tt.f, tt.ss), "%v at %v", tt.f, tt.ss)
	}
}

func TestParseFraction(t *testing.T) {
	f, err := ParseFraction("256/48000")
	require.NoError(t, err)
	assert.Equal(t, Fraction{256, 48000}, f)
	assert.Equal(t, "256/48000", f.String())
	assert.Equal(t, uint64(5333), f.Usec())

	for _, s := range []string{"1/0", "abc", "/48000", ""} {
		_, err := ParseFraction(s)
		assert.Error(t, err, s)
	}
}

func TestLimitsWithProps(t *testing.T) {
	l := DefaultLimits().WithProps(map[string]string{
		"pulse.min.req":      "256/48000",
		"pulse.default.frag": "bogus",
		"pulse.idle.timeout": "5",
	})
	assert.Equal(t, Fraction{256, 48000}, l.MinReq)
	assert.Equal(t, DefaultLimits().DefaultFrag, l.DefaultFrag)
	assert.Equal(t, uint32(5), l.IdleTimeout)
}

func TestFixPlayback(t *testing.T) {
	tests := []struct {
		name    string
		mode    int
		want    BufferAttr
		latency uint64
	}{
		{"default", 0, BufferAttr{MaxLength, 768000, 760328, 7680, 0}, 170666},
		{"adjust latency", AdjustLatency, BufferAttr{MaxLength, 702464, 694792, 7680, 0}, 170666},
		{"early requests", EarlyRequests, BufferAttr{MaxLength, 768000, 760328, 7680, 0}, 20000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := DefaultLimits()
			attr := UnsetAttr()
			lat := FixPlayback(nullLog(), &attr, f32Stereo, 0, tt.mode, &l)
			assert.Equal(t, tt.want, attr)
			assert.Equal(t, tt.latency, lat.Usec())
		})
	}
}

func TestFixPlaybackUnalignedMinReq(t *testing.T) {
	tests := []struct {
		name    string
		mode    int
		want    BufferAttr
		latency Fraction
	}{
		{"default", 0, BufferAttr{MaxLength, 10000, 8008, 2000, 0}, Fraction{749, 48000}},
		{"adjust latency", AdjustLatency, BufferAttr{MaxLength, 7008, 5016, 2000, 0}, Fraction{374, 48000}},
		{"early requests", EarlyRequests, BufferAttr{MaxLength, 10000, 8008, 2000, 0}, Fraction{250, 48000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := DefaultLimits()
			attr := BufferAttr{MaxLength: Unset, TLength: 10000, PreBuf: Unset, MinReq: 2001, FragSize: Unset}
			lat := FixPlayback(nullLog(), &attr, f32Stereo, 0, tt.mode, &l)
			assert.Equal(t, tt.want, attr)
			assert.Equal(t, tt.latency, lat)
		})
	}
}

func TestFixRecord(t *testing.T) {
	l := DefaultLimits()
	attr := UnsetAttr()
	lat := FixRecord(nullLog(), &attr, f32Stereo, 0, &l)
	assert.Equal(t, BufferAttr{MaxLength: MaxLength, FragSize: 768000}, attr)
	assert.Equal(t, uint64(2000000), lat.Usec())

	attr = BufferAttr{MaxLength: 1000, FragSize: Unset}
	FixRecord(nullLog(), &attr, s16Mono, 0, &l)
	assert.Equal(t, BufferAttr{MaxLength: 4000, FragSize: 1000}, attr)
}

func TestMinimumLatency(t *testing.T) {
	l := DefaultLimits()
	l.MinFrag = Fraction{32, 48000}
	attr := BufferAttr{MaxLength: Unset, FragSize: 4}
	lat := FixRecord(nullLog(), &attr, s16Stereo, 0, &l)
	assert.Equal(t, uint32(128), attr.FragSize)
	assert.Equal(t, Fraction{128, 48000}, lat)
}

func TestNegotiatedSizes(t *testing.T) {
	specs := []proto.SampleSpec{
		{Format: proto.FormatUint8, Channels: 1, Rate: 8000},
		{Format: proto.FormatInt16LE, Channels: 2, Rate: 44100},
		f32Stereo,
		{Format: proto.FormatInt24LE, Channels: 6, Rate: 96000},
	}
	values := []uint32{0, 1, 333, 5000, 100000, 1 << 30, Unset}
	for _, ss := range specs {
		fs := ss.FrameSize()
		for _, maxlength := range values {
			for _, v := range values {
				for _, mode := range []int{0, AdjustLatency, EarlyRequests} {
					l := DefaultLimits()
					attr := BufferAttr{MaxLength: maxlength, TLength: v, PreBuf: v, MinReq: v}
					FixPlayback(nullLog(), &attr, ss, 0, mode, &l)
					msg := fmt.Sprintf("playback %v maxlength=%d v=%d mode=%d: %+v", ss, maxlength, v, mode, attr)
					assert.Zero(t, attr.MaxLength%fs, msg)
					// tlength follows a minreq that is not whole frames
					assert.Zero(t, attr.MinReq%fs, msg)
					assert.Zero(t, attr.PreBuf%fs, msg)
					assert.NotZero(t, attr.MinReq, msg)
					assert.LessOrEqual(t, attr.MinReq, attr.TLength, msg)
					assert.LessOrEqual(t, attr.TLength, attr.MaxLength, msg)
					assert.LessOrEqual(t, attr.MaxLength, uint32(MaxLength), msg)
				}

				l := DefaultLimits()
				attr := BufferAttr{MaxLength: maxlength, FragSize: v}
				FixRecord(nullLog(), &attr, ss, 0, &l)
				msg := fmt.Sprintf("record %v maxlength=%d fragsize=%d: %+v", ss, maxlength, v, attr)
				assert.Zero(t, attr.MaxLength%fs, msg)
				assert.Zero(t, attr.FragSize%fs, msg)
				assert.NotZero(t, attr.FragSize, msg)
				assert.LessOrEqual(t, attr.FragSize, attr.MaxLength, msg)
				assert.LessOrEqual(t, attr.MaxLength, uint32(MaxLength), msg)
			}
		}
	}
}
