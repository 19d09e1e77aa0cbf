package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfreymuth/pulsed/proto"
)

func writeWAV(t *testing.T, rate, depth, channels int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, rate, depth, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: rate, NumChannels: channels},
		SourceBitDepth: depth,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestReadWAV(t *testing.T) {
	path := writeWAV(t, 44100, 16, 2, []int{1, -1, 256, -256})
	s, err := readWAV(path)
	require.NoError(t, err)
	assert.Equal(t, proto.SampleSpec{Format: proto.FormatInt16LE, Channels: 2, Rate: 44100}, s.ss)
	assert.Equal(t, proto.ChannelMap{proto.ChannelFrontLeft, proto.ChannelFrontRight}, s.chmap)
	assert.Equal(t, []byte{1, 0, 0xff, 0xff, 0, 1, 0, 0xff}, s.data)
}

func TestReadWAVInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav file"), 0o644))
	_, err := readWAV(path)
	assert.Error(t, err)
}

func TestEncodePCM(t *testing.T) {
	tests := []struct {
		depth int
		in    []int
		want  []byte
	}{
		{8, []int{0, 128, 255}, []byte{0, 128, 255}},
		{16, []int{-2, 0x1234}, []byte{0xfe, 0xff, 0x34, 0x12}},
		{24, []int{-1, 0x123456}, []byte{0xff, 0xff, 0xff, 0x56, 0x34, 0x12}},
		{32, []int{1, -1}, []byte{1, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}},
	}
	for _, tt := range tests {
		got := encodePCM(&audio.IntBuffer{Data: tt.in}, tt.depth)
		assert.Equal(t, tt.want, got, "depth %d", tt.depth)
	}
}
