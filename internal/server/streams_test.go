package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfreymuth/pulsed/proto"
)

var (
	testSpec  = proto.SampleSpec{Format: proto.FormatFloat32LE, Channels: 2, Rate: 48000}
	testChmap = proto.ChannelMap{proto.ChannelFrontLeft, proto.ChannelFrontRight}
)

func TestCreatePlaybackStream(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	c := ts.connect("playback-test")

	var reply proto.CreatePlaybackStreamReply
	require.NoError(t, c.Request(&proto.CreatePlaybackStream{
		SampleSpec:            testSpec,
		ChannelMap:            testChmap,
		SinkIndex:             proto.Undefined,
		BufferMaxLength:       proto.Undefined,
		BufferTargetLength:    proto.Undefined,
		BufferPrebufferLength: proto.Undefined,
		BufferMinimumRequest:  proto.Undefined,
		SyncID:                proto.Undefined,
		ChannelVolumes:        proto.UniformVolume(2, proto.VolumeNorm),
		Properties:            proto.PropList{"media.name": "playback test"},
	}, &reply))

	assert.Equal(t, uint32(4194304), reply.BufferMaxLength)
	assert.Equal(t, uint32(768000), reply.BufferTargetLength)
	assert.Equal(t, uint32(760328), reply.BufferPrebufferLength)
	assert.Equal(t, uint32(7680), reply.BufferMinimumRequest)
	assert.Equal(t, proto.Microseconds(170666), reply.SinkLatency)
	assert.Equal(t, testSpec, reply.SampleSpec)
	assert.Equal(t, testChmap, reply.ChannelMap)
	assert.Equal(t, testSink, reply.SinkName)
	assert.NotEqual(t, uint32(proto.Undefined), reply.SinkInputIndex)

	sink := c.sink(t, testSink)
	require.NotNil(t, sink)
	assert.Equal(t, sink.SinkIndex, reply.SinkIndex)

	require.Eventually(t, func() bool {
		var inputs proto.GetSinkInputInfoListReply
		require.NoError(t, c.Request(&proto.GetSinkInputInfoList{}, &inputs))
		return len(inputs) == 1 && inputs[0].SinkInputIndex == reply.SinkInputIndex &&
			inputs[0].MediaName == "playback test"
	}, 5*time.Second, 10*time.Millisecond)

	var lat proto.GetPlaybackLatencyReply
	require.NoError(t, c.Request(&proto.GetPlaybackLatency{StreamIndex: reply.StreamIndex}, &lat))
	err := c.Request(&proto.GetPlaybackLatency{StreamIndex: reply.StreamIndex + 100}, &lat)
	assert.Equal(t, proto.ErrNoSuchEntity, err)

	require.NoError(t, c.Request(&proto.DeletePlaybackStream{StreamIndex: reply.StreamIndex}, nil))
	require.Eventually(t, func() bool {
		var list proto.GetSinkInputInfoListReply
		require.NoError(t, c.Request(&proto.GetSinkInputInfoList{}, &list))
		return len(list) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCreateRecordStream(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	c := ts.connect("record-test")

	var reply proto.CreateRecordStreamReply
	require.NoError(t, c.Request(&proto.CreateRecordStream{
		SampleSpec:         testSpec,
		ChannelMap:         testChmap,
		SourceIndex:        proto.Undefined,
		BufferMaxLength:    proto.Undefined,
		BufferFragSize:     proto.Undefined,
		DirectOnInputIndex: proto.Undefined,
		Properties:         proto.PropList{"media.name": "record test"},
	}, &reply))

	assert.Equal(t, uint32(4194304), reply.BufferMaxLength)
	assert.Equal(t, uint32(768000), reply.BufferFragSize)
	assert.Equal(t, testSpec, reply.SampleSpec)
	assert.Equal(t, testSource, reply.SourceName)
	assert.NotEqual(t, uint32(proto.Undefined), reply.SourceOutputIndex)

	require.Eventually(t, func() bool {
		var outputs proto.GetSourceOutputInfoListReply
		require.NoError(t, c.Request(&proto.GetSourceOutputInfoList{}, &outputs))
		return len(outputs) == 1 && outputs[0].SourceOutputIndex == reply.SourceOutputIndex
	}, 5*time.Second, 10*time.Millisecond)

	var lat proto.GetRecordLatencyReply
	require.NoError(t, c.Request(&proto.GetRecordLatency{StreamIndex: reply.StreamIndex}, &lat))

	err := c.Request(&proto.CreateRecordStream{
		SampleSpec:         testSpec,
		ChannelMap:         testChmap,
		SourceIndex:        1,
		SourceName:         testSource,
		BufferMaxLength:    proto.Undefined,
		BufferFragSize:     proto.Undefined,
		DirectOnInputIndex: proto.Undefined,
		Properties:         proto.PropList{},
	}, &reply)
	assert.Equal(t, proto.ErrInvalidArgument, err)
}
