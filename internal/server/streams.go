package server

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/collect"
	"github.com/jfreymuth/pulsed/internal/manager"
	"github.com/jfreymuth/pulsed/internal/stream"
	"github.com/jfreymuth/pulsed/proto"
)

// fixSpec replaces the fields of ss the client asked the server to choose.
func fixSpec(ss proto.SampleSpec, m proto.ChannelMap, fix proto.SampleSpec, fixMap proto.ChannelMap) (proto.SampleSpec, proto.ChannelMap) {
	if fix.Format != 0 {
		ss.Format = fix.Format
	}
	if fix.Rate != 0 {
		ss.Rate = fix.Rate
	}
	if fix.Channels != 0 && fix.Channels != ss.Channels {
		ss.Channels = fix.Channels
		m = fixMap
	}
	return ss, m
}

// streamFormats collects the formats a create request accepts, in order of
// preference. rate is the highest rate of them.
func (c *Client) streamFormats(formats []proto.FormatInfo, ss proto.SampleSpec, m proto.ChannelMap, fix proto.SampleSpec, fixMap proto.ChannelMap) (list []graph.Format, spec proto.SampleSpec, rate uint32) {
	for _, fi := range formats {
		f, err := collect.GraphFormat(fi)
		if err != nil {
			c.log.WithError(err).WithField("encoding", fi.Encoding).Warn("unsupported format info")
			continue
		}
		list = append(list, f)
		rate = max(rate, f.Rate)
	}
	if ss.Valid() {
		spec, m = fixSpec(ss, m, fix, fixMap)
		rate = spec.Rate
		var cm proto.ChannelMap
		if spec.Channels > 0 && len(m) == int(spec.Channels) {
			cm = m
		}
		list = append(list, collect.SpecFormat(spec, cm))
	}
	return list, spec, rate
}

// deviceFix returns the format fields of device o selected by the fix
// flags of a create request.
func deviceFix(o *manager.Object, monitor bool, dir graph.Direction, format, rate, channels bool) (proto.SampleSpec, proto.ChannelMap) {
	var fix proto.SampleSpec
	if o == nil || !(format || rate || channels) {
		return fix, nil
	}
	di := collect.GetDeviceInfo(o, dir, monitor)
	if format {
		fix.Format = di.SampleSpec.Format
	}
	if rate {
		fix.Rate = di.SampleSpec.Rate
	}
	if channels {
		fix.Channels = di.SampleSpec.Channels
	}
	return fix, di.ChannelMap
}

func (c *Client) createPlaybackStream(op, tag uint32, r *proto.ProtocolReader) error {
	var req proto.CreatePlaybackStream
	req.VolumeSet = true
	if err := c.parse(r, &req); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"tag": tag, "corked": req.Corked, "sink": req.SinkName, "index": req.SinkIndex,
	}).Info("create playback stream")
	if req.SinkIndex != collect.Invalid && req.SinkName != "" {
		return proto.ErrInvalidArgument
	}
	dev, monitor := c.findDevice(req.SinkIndex, req.SinkName, true)
	fix, fixMap := deviceFix(dev, monitor, graph.DirectionOutput, req.FixFormat, req.FixRate, req.FixChannels)
	formats, spec, rate := c.streamFormats(req.Formats, req.SampleSpec, req.ChannelMap, fix, fixMap)
	if len(formats) == 0 {
		return proto.ErrNotSupported
	}
	if c.quirks.has(quirkBlockPlaybackStream) {
		return proto.ErrAccessDenied
	}

	props := c.props.Copy()
	for k, v := range req.Properties {
		props[k] = v
	}
	if req.Name != "" {
		props["media.name"] = req.Name
	}
	props["pulse.corked"] = strconv.FormatBool(req.Corked)
	attr := stream.BufferAttr{
		MaxLength: req.BufferMaxLength,
		TLength:   req.BufferTargetLength,
		PreBuf:    req.BufferPrebufferLength,
		MinReq:    req.BufferMinimumRequest,
	}
	mode := 0
	if req.AdjustLatency {
		mode |= stream.AdjustLatency
	}
	if req.EarlyRequests {
		mode |= stream.EarlyRequests
	}
	if rate != 0 && spec.Valid() {
		a := attr
		limits := c.s.limits.WithProps(c.props)
		lat := stream.FixPlayback(c.log, &a, spec, spec.FrameSize(), mode, &limits)
		props["node.rate"] = fmt.Sprintf("1/%d", rate)
		props["node.latency"] = lat.String()
	}
	if req.NoRemix {
		props["stream.dont-remix"] = "true"
	}
	flags := uint32(graph.StreamAutoconnect | graph.StreamRTProcess)
	if req.NoMove {
		flags |= graph.StreamDontReconnect
	}
	switch {
	case req.SinkName != "":
		name := req.SinkName
		if dev != nil {
			name = dev.Props["node.name"]
		}
		props["target.object"] = name
	case req.SinkIndex != collect.Invalid && req.SinkIndex != 0:
		props["target.object"] = strconv.FormatUint(uint64(req.SinkIndex), 10)
	}
	if req.DontInhibitAutoSuspend {
		props["node.passive"] = "true"
	}

	s := c.newStream(stream.Playback, op, tag, req.Corked)
	s.attr = attr
	s.st.SetMode(mode)
	s.volume = req.ChannelVolumes
	s.volumeSet = req.VolumeSet && req.ChannelVolumes.Valid()
	s.muted = req.Muted
	s.mutedSet = req.MutedSet
	s.failOnSuspend = req.FailOnSuspend
	s.props = props.Copy()
	if err := s.connect(graph.StreamConfig{
		Direction: graph.DirectionOutput,
		Props:     props,
		Formats:   formats,
		Flags:     flags,
	}); err != nil {
		s.createTag = proto.Undefined
		s.free()
		return err
	}
	return errDeferred
}

func (c *Client) createRecordStream(op, tag uint32, r *proto.ProtocolReader) error {
	req := proto.CreateRecordStream{DirectOnInputIndex: collect.Invalid}
	if err := c.parse(r, &req); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"tag": tag, "corked": req.Corked, "source": req.SourceName, "index": req.SourceIndex,
	}).Info("create record stream")
	if req.SourceIndex != collect.Invalid && req.SourceName != "" {
		return proto.ErrInvalidArgument
	}
	if c.version < 22 {
		req.VolumeSet = false
	}
	dev, monitor := c.findDevice(req.SourceIndex, req.SourceName, false)
	fix, fixMap := deviceFix(dev, monitor, graph.DirectionInput, req.FixFormat, req.FixRate, req.FixChannels)
	formats, spec, rate := c.streamFormats(req.Formats, req.SampleSpec, req.ChannelMap, fix, fixMap)
	if len(formats) == 0 {
		return proto.ErrNotSupported
	}
	if c.quirks.has(quirkBlockRecordStream) {
		return proto.ErrAccessDenied
	}
	if c.quirks.has(quirkRemoveCaptureDontMove) {
		req.NoMove = false
	}

	props := c.props.Copy()
	for k, v := range req.Properties {
		props[k] = v
	}
	if req.Name != "" {
		props["media.name"] = req.Name
	}
	props["pulse.corked"] = strconv.FormatBool(req.Corked)
	attr := stream.BufferAttr{MaxLength: req.BufferMaxLength, FragSize: req.BufferFragSize}
	if rate != 0 && spec.Valid() {
		a := attr
		limits := c.s.limits.WithProps(c.props)
		lat := stream.FixRecord(c.log, &a, spec, spec.FrameSize(), &limits)
		props["node.rate"] = fmt.Sprintf("1/%d", rate)
		props["node.latency"] = lat.String()
	}
	if req.PeakDetect {
		props["stream.monitor"] = "true"
	}
	if req.NoRemix {
		props["stream.dont-remix"] = "true"
	}
	flags := uint32(graph.StreamAutoconnect | graph.StreamRTProcess)
	if req.NoMove {
		flags |= graph.StreamDontReconnect
	}
	index := req.SourceIndex
	if req.DirectOnInputIndex != collect.Invalid {
		index = req.DirectOnInputIndex
	} else if n, ok := parseIndex(req.SourceName); ok && n != 0 {
		index = n
	}
	switch {
	case index != collect.Invalid && index != 0:
		props["target.object"] = strconv.FormatUint(uint64(index), 10)
	case req.SourceName != "":
		name := req.SourceName
		if dev != nil {
			name = dev.Props["node.name"]
			if monitor {
				name += ".monitor"
			}
		}
		node, monitor := recordTarget(name)
		props["target.object"] = node
		if monitor {
			props["stream.capture.sink"] = "true"
		}
	}
	if req.DontInhibitAutoSuspend {
		props["node.passive"] = "true"
	}

	s := c.newStream(stream.Record, op, tag, req.Corked)
	s.attr = attr
	mode := 0
	if req.AdjustLatency {
		mode |= stream.AdjustLatency
	}
	if req.EarlyRequests {
		mode |= stream.EarlyRequests
	}
	s.st.SetMode(mode)
	s.volume = req.ChannelVolumes
	s.volumeSet = req.VolumeSet && req.ChannelVolumes.Valid()
	s.muted = req.Muted
	s.mutedSet = req.MutedSet
	s.failOnSuspend = req.FailOnSuspend
	s.props = props.Copy()
	if err := s.connect(graph.StreamConfig{
		Direction: graph.DirectionInput,
		Props:     props,
		Formats:   formats,
		Flags:     flags,
	}); err != nil {
		s.createTag = proto.Undefined
		s.free()
		return err
	}
	return errDeferred
}

// streamKind returns the stream kind a command operates on.
func streamKind(op uint32) stream.Kind {
	switch op {
	case proto.OpDeleteRecordStream, proto.OpCorkRecordStream, proto.OpFlushRecordStream,
		proto.OpGetRecordLatency, proto.OpSetRecordStreamBufferAttr,
		proto.OpUpdateRecordStreamSampleRate, proto.OpSetRecordStreamName,
		proto.OpUpdateRecordStreamProplist, proto.OpRemoveRecordStreamProplist:
		return stream.Record
	case proto.OpDeleteUploadStream, proto.OpFinishUploadStream:
		return stream.Upload
	}
	return stream.Playback
}

// findStream returns the stream on channel if it has the given kind.
func (c *Client) findStream(channel uint32, kind stream.Kind) (*clientStream, error) {
	s, ok := c.streams[channel]
	if !ok || s.kind != kind {
		return nil, proto.ErrNoSuchEntity
	}
	return s, nil
}

// findAudioStream returns the playback or record stream on channel.
func (c *Client) findAudioStream(channel uint32) (*clientStream, error) {
	s, ok := c.streams[channel]
	if !ok || s.kind == stream.Upload {
		return nil, proto.ErrNoSuchEntity
	}
	return s, nil
}

func (c *Client) deleteStream(op, tag uint32, r *proto.ProtocolReader) error {
	var req struct{ StreamIndex uint32 }
	if err := c.parse(r, &req); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "channel": req.StreamIndex}).Info("delete stream")
	s, err := c.findStream(req.StreamIndex, streamKind(op))
	if err != nil {
		return err
	}
	s.free()
	c.ack(tag)
	return nil
}

func (c *Client) drainStream(op, tag uint32, r *proto.ProtocolReader) error {
	var req proto.DrainPlaybackStream
	if err := c.parse(r, &req); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "channel": req.StreamIndex}).Info("drain")
	s, err := c.findStream(req.StreamIndex, stream.Playback)
	if err != nil {
		return err
	}
	if s.drainTag != proto.Undefined {
		c.replyError(op, s.drainTag, proto.ErrBadState)
	}
	s.drainTag = tag
	s.st.Drain()
	return errDeferred
}

func (c *Client) corkStream(op, tag uint32, r *proto.ProtocolReader) error {
	var req proto.CorkPlaybackStream
	if err := c.parse(r, &req); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "channel": req.StreamIndex, "cork": req.Corked}).Info(commandName(op))
	s, err := c.findAudioStream(req.StreamIndex)
	if err != nil {
		return err
	}
	s.corked = req.Corked
	s.st.SetCorked(req.Corked)
	c.ack(tag)
	return nil
}

func (c *Client) flushStream(op, tag uint32, r *proto.ProtocolReader) error {
	var req struct{ StreamIndex uint32 }
	if err := c.parse(r, &req); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "channel": req.StreamIndex}).Info(commandName(op))
	s, err := c.findAudioStream(req.StreamIndex)
	if err != nil {
		return err
	}
	switch op {
	case proto.OpFlushPlaybackStream, proto.OpFlushRecordStream:
		s.st.Flush()
	case proto.OpTriggerPlaybackStream, proto.OpPrebufPlaybackStream:
		if s.kind != stream.Playback {
			return proto.ErrNoSuchEntity
		}
		if op == proto.OpTriggerPlaybackStream {
			s.st.Trigger()
		} else {
			s.st.Prebuf()
		}
	}
	c.ack(tag)
	return nil
}

// now returns the wall clock time for latency replies.
func now() proto.Time {
	t := time.Now()
	return proto.Time{Seconds: uint32(t.Unix()), Microseconds: uint32(t.Nanosecond() / 1000)}
}

func (c *Client) getPlaybackLatency(op, tag uint32, r *proto.ProtocolReader) error {
	var req proto.GetPlaybackLatency
	if err := c.parse(r, &req); err != nil {
		return err
	}
	s, err := c.findStream(req.StreamIndex, stream.Playback)
	if err != nil {
		return err
	}
	p := s.st.Position()
	c.log.WithFields(logrus.Fields{
		"read": p.ReadIndex, "write": p.WriteIndex, "delay": p.Delay, "playing": p.PlayingFor,
	}).Trace("playback latency")
	c.reply(tag, &proto.GetPlaybackLatencyReply{
		Latency:     proto.Microseconds(p.Delay),
		Running:     p.Playing,
		RequestTime: req.Time,
		ReplyTime:   now(),
		WriteIndex:  p.WriteIndex,
		ReadIndex:   p.ReadIndex,
		UnderrunFor: p.UnderrunFor,
		PlayingFor:  p.PlayingFor,
	})
	return nil
}

func (c *Client) getRecordLatency(op, tag uint32, r *proto.ProtocolReader) error {
	var req proto.GetRecordLatency
	if err := c.parse(r, &req); err != nil {
		return err
	}
	s, err := c.findStream(req.StreamIndex, stream.Record)
	if err != nil {
		return err
	}
	p := s.st.Position()
	c.reply(tag, &proto.GetRecordLatencyReply{
		Latency:     proto.Microseconds(p.Delay),
		Running:     p.Playing,
		RequestTime: req.Time,
		ReplyTime:   now(),
		WriteIndex:  p.WriteIndex,
		ReadIndex:   p.ReadIndex,
	})
	return nil
}

func (c *Client) setStreamBufferAttr(op, tag uint32, r *proto.ProtocolReader) error {
	kind := streamKind(op)
	var attr stream.BufferAttr
	var channel uint32
	mode := 0
	if kind == stream.Playback {
		var req proto.SetPlaybackStreamBufferAttr
		if err := c.parse(r, &req); err != nil {
			return err
		}
		channel = req.StreamIndex
		attr = stream.BufferAttr{
			MaxLength: req.BufferMaxLength,
			TLength:   req.BufferTargetLength,
			PreBuf:    req.BufferPrebufferLength,
			MinReq:    req.BufferMinimumRequest,
		}
		if req.AdjustLatency {
			mode |= stream.AdjustLatency
		}
		if req.EarlyRequests {
			mode |= stream.EarlyRequests
		}
	} else {
		var req proto.SetRecordStreamBufferAttr
		if err := c.parse(r, &req); err != nil {
			return err
		}
		channel = req.StreamIndex
		attr = stream.BufferAttr{MaxLength: req.BufferMaxLength, FragSize: req.BufferFragSize}
		if req.AdjustLatency {
			mode |= stream.AdjustLatency
		}
		if req.EarlyRequests {
			mode |= stream.EarlyRequests
		}
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "channel": channel}).Info(commandName(op))
	s, err := c.findStream(channel, kind)
	if err != nil {
		return err
	}
	s.st.SetMode(mode)
	lat := proto.Microseconds(s.st.SetAttr(attr))
	a := s.st.Attr()
	if kind == stream.Playback {
		c.reply(tag, &proto.SetPlaybackStreamBufferAttrReply{
			BufferMaxLength:       a.MaxLength,
			BufferTargetLength:    a.TLength,
			BufferPrebufferLength: a.PreBuf,
			BufferMinimumRequest:  a.MinReq,
			SinkLatency:           lat,
		})
		s.st.SendRequest()
	} else {
		c.reply(tag, &proto.SetRecordStreamBufferAttrReply{
			BufferMaxLength: a.MaxLength,
			BufferFragSize:  a.FragSize,
			SourceLatency:   lat,
		})
	}
	return nil
}

func (c *Client) updateStreamSampleRate(op, tag uint32, r *proto.ProtocolReader) error {
	var req proto.UpdatePlaybackStreamSampleRate
	if err := c.parse(r, &req); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "channel": req.StreamIndex, "rate": req.SampleRate}).Info(commandName(op))
	s, err := c.findAudioStream(req.StreamIndex)
	if err != nil {
		return err
	}
	ss := s.st.SampleSpec()
	if req.SampleRate == 0 || ss.Rate == 0 {
		return proto.ErrInvalidArgument
	}
	corr := float32(req.SampleRate) / float32(ss.Rate)
	if gs := s.st.Graph(); gs != nil {
		if err := gs.SetControl(graph.ControlRate, []float32{corr}); err != nil {
			return err
		}
	}
	c.ack(tag)
	return nil
}

func (c *Client) setStreamName(op, tag uint32, r *proto.ProtocolReader) error {
	var req proto.SetPlaybackStreamName
	if err := c.parse(r, &req); err != nil {
		return err
	}
	if req.Name == "" {
		return proto.ErrInvalidArgument
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "channel": req.StreamIndex, "name": req.Name}).Info(commandName(op))
	s, err := c.findAudioStream(req.StreamIndex)
	if err != nil {
		return err
	}
	s.props["media.name"] = req.Name
	if gs := s.st.Graph(); gs != nil {
		if err := gs.UpdateProperties(graph.Props{"media.name": req.Name}); err != nil {
			return err
		}
	}
	c.ack(tag)
	return nil
}
