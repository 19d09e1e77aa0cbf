package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/collect"
	"github.com/jfreymuth/pulsed/internal/manager"
	"github.com/jfreymuth/pulsed/internal/stream"
	"github.com/jfreymuth/pulsed/proto"
)

const createTimeout = 35 * time.Second

// clientStream is a playback, record or upload stream of a client. It
// receives the graph events of its stream on the event loop, except for
// Process which runs on the real time goroutine.
type clientStream struct {
	c       *Client
	st      *stream.Stream
	kind    stream.Kind
	channel uint32
	log     *logrus.Entry

	createOp  uint32
	createTag uint32
	drainTag  uint32
	timer     *time.Timer

	nodeID        uint32
	peerIndex     uint32
	pending       bool
	killed        bool
	suspended     bool
	failOnSuspend bool
	corked        bool
	attr          stream.BufferAttr

	chmap     proto.ChannelMap
	volume    proto.ChannelVolumes
	muted     bool
	volumeSet bool
	mutedSet  bool

	props graph.Props

	// upload streams only
	name   string
	ss     proto.SampleSpec
	length uint32
	upload *ringbuffer.RingBuffer

	freed bool
}

// newChannel returns the lowest channel not used by a stream.
func (c *Client) newChannel() uint32 {
	var ch uint32
	for {
		if _, ok := c.streams[ch]; !ok {
			return ch
		}
		ch++
	}
}

func (c *Client) newStream(kind stream.Kind, op, tag uint32, corked bool) *clientStream {
	ch := c.newChannel()
	s := &clientStream{
		c:         c,
		kind:      kind,
		channel:   ch,
		log:       c.log.WithFields(logrus.Fields{"channel": ch, "kind": kind}),
		createOp:  op,
		createTag: tag,
		drainTag:  proto.Undefined,
		nodeID:    graph.IDInvalid,
		peerIndex: collect.Invalid,
		corked:    corked,
	}
	s.st = stream.New(stream.Config{
		Kind:      kind,
		Channel:   ch,
		Client:    c,
		Exec:      c.s.exec,
		Log:       c.log,
		Limits:    c.s.limits.WithProps(c.props),
		Attr:      stream.UnsetAttr(),
		Corked:    corked,
		Underruns: c.s.metrics.UnderrunCounter(),
		Overflows: c.s.metrics.OverflowCounter(),
	})
	c.streams[ch] = s
	c.s.metrics.StreamOpened(kind.String())
	return s
}

// connect creates the graph side of the stream. The create request is
// answered once the stream is linked or failed.
func (s *clientStream) connect(cfg graph.StreamConfig) error {
	gs, err := s.c.core.CreateStream(cfg, s)
	if err != nil {
		return err
	}
	s.st.SetGraph(gs)
	s.nodeID = gs.NodeID()
	s.log = s.log.WithField("node", s.nodeID)
	s.timer = time.AfterFunc(createTimeout, func() {
		s.c.s.exec.Invoke(s.createTimedOut)
	})
	s.log.Debug("stream connecting")
	return nil
}

func (s *clientStream) createTimedOut() {
	if s.freed || s.createTag == proto.Undefined {
		return
	}
	s.log.Warn("timeout waiting for stream to link")
	s.c.replyError(s.createOp, s.createTag, proto.ErrTimeout)
	s.createTag = proto.Undefined
	s.free()
}

func (s *clientStream) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// created finishes creation: the create tag is consumed and buffering
// starts.
func (s *clientStream) created(peer *manager.Object) {
	s.stopTimer()
	s.createTag = proto.Undefined
	s.pending = false
	if peer != nil {
		s.peerIndex = peer.Index
	}
	s.st.Start()
	s.log.WithField("peer", s.peerIndex).Info("stream created")
}

func (s *clientStream) replyCreate(peer *manager.Object) {
	if s.kind == stream.Record {
		s.replyCreateRecord(peer)
	} else {
		s.replyCreatePlayback(peer)
	}
}

func (s *clientStream) replyCreatePlayback(peer *manager.Object) {
	c := s.c
	lat := s.st.SetAttr(s.attr)
	missing := s.st.PopMissing()
	a := s.st.Attr()
	ss := s.st.SampleSpec()
	r := &proto.CreatePlaybackStreamReply{
		StreamIndex:           s.channel,
		SinkInputIndex:        collect.IDToIndex(c.mgr, s.nodeID),
		Missing:               missing,
		BufferMaxLength:       a.MaxLength,
		BufferTargetLength:    a.TLength,
		BufferPrebufferLength: a.PreBuf,
		BufferMinimumRequest:  a.MinReq,
		SampleSpec:            ss,
		ChannelMap:            s.chmap,
		SinkIndex:             collect.Invalid,
		SinkLatency:           proto.Microseconds(lat),
		FormatInfo:            collect.FormatInfoFromSpec(ss, s.chmap),
	}
	if peer != nil {
		r.SinkIndex = peer.Index
		r.SinkName = peer.Props["node.name"]
		if r.SinkName == "" {
			r.SinkName = "unknown"
		}
	}
	s.log.WithFields(logrus.Fields{
		"missing": missing, "maxlength": a.MaxLength, "tlength": a.TLength,
		"prebuf": a.PreBuf, "minreq": a.MinReq, "latency": lat,
	}).Debug("playback stream reply")
	c.reply(s.createTag, r)
	s.created(peer)
}

func (s *clientStream) replyCreateRecord(peer *manager.Object) {
	c := s.c
	lat := s.st.SetAttr(s.attr)
	a := s.st.Attr()
	ss := s.st.SampleSpec()
	r := &proto.CreateRecordStreamReply{
		StreamIndex:       s.channel,
		SourceOutputIndex: collect.IDToIndex(c.mgr, s.nodeID),
		BufferMaxLength:   a.MaxLength,
		BufferFragSize:    a.FragSize,
		SampleSpec:        ss,
		ChannelMap:        s.chmap,
		SourceIndex:       collect.Invalid,
		SourceLatency:     proto.Microseconds(lat),
		FormatInfo:        collect.FormatInfoFromSpec(ss, s.chmap),
	}
	if peer != nil && peer.IsSinkInput() {
		peer = collect.FindLinked(c.mgr, peer.ID, graph.DirectionOutput)
	}
	if peer != nil && peer.IsSourceOrMonitor() {
		r.SourceIndex = peer.Index
		r.SourceName = peer.Props["node.name"]
		if r.SourceName == "" {
			r.SourceName = "unknown"
		}
		if !peer.IsSource() {
			r.SourceName += ".monitor"
		}
	}
	s.log.WithFields(logrus.Fields{
		"maxlength": a.MaxLength, "fragsize": a.FragSize, "latency": lat,
	}).Debug("record stream reply")
	c.reply(s.createTag, r)
	s.created(peer)
}

// linkAdded answers a pending create request once the stream is linked and
// reports moves of created streams.
func (s *clientStream) linkAdded(link *manager.Object) {
	if s.freed || s.nodeID == graph.IDInvalid {
		return
	}
	peer := collect.FindPeerForLink(s.c.mgr, link, s.nodeID, s.kind.Direction())
	if peer == nil {
		return
	}
	if s.pending {
		s.replyCreate(peer)
		return
	}
	if s.createTag != proto.Undefined || peer.Index == s.peerIndex {
		return
	}
	s.peerIndex = peer.Index
	name := peer.Props["node.name"]
	if s.kind == stream.Record && peer.IsSink() && !peer.IsSource() {
		name += ".monitor"
	}
	s.st.SendMoved(peer.Index, name)
}

// free releases the stream. Pending drain requests fail.
func (s *clientStream) free() {
	if s.freed {
		return
	}
	s.freed = true
	s.stopTimer()
	c := s.c
	if s.drainTag != proto.Undefined {
		c.replyError(proto.OpDrainPlaybackStream, s.drainTag, proto.ErrNoSuchEntity)
		s.drainTag = proto.Undefined
	}
	if s.killed {
		s.st.SendKilled()
	}
	s.st.Close()
	if gs := s.st.Graph(); gs != nil {
		if err := gs.Disconnect(); err != nil && !errors.Is(err, graph.ErrDisconnected) {
			s.log.WithError(err).Debug("disconnecting stream")
		}
	}
	if s.upload != nil {
		s.upload.Reset()
		s.upload = nil
	}
	delete(c.streams, s.channel)
	c.s.metrics.StreamClosed(s.kind.String())
	s.log.Debug("stream freed")
}

// write stores a memblock of the client.
func (s *clientStream) write(data []byte, offset int64, flags uint32) error {
	if s.kind != stream.Upload {
		return s.st.Write(data, offset, flags)
	}
	if s.upload == nil {
		return fmt.Errorf("%w: upload finished", proto.ErrProtocolError)
	}
	if uint32(len(data)) > uint32(s.upload.Free()) {
		s.log.WithFields(logrus.Fields{"size": len(data), "free": s.upload.Free()}).Warn("upload overflow")
		data = data[:s.upload.Free()]
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := s.upload.Write(data); err != nil {
		return fmt.Errorf("%w: %v", proto.ErrInputOutputError, err)
	}
	return nil
}

// uploaded returns the data received by an upload stream.
func (s *clientStream) uploaded() []byte {
	if s.upload == nil {
		return nil
	}
	data := make([]byte, s.upload.Length())
	n, _ := s.upload.Read(data)
	return data[:n]
}

func (s *clientStream) StateChanged(old, state graph.StreamState, err error) {
	if s.freed {
		return
	}
	s.log.WithFields(logrus.Fields{"old": old, "state": state}).Debug("stream state")
	c := s.c
	switch state {
	case graph.StreamError:
		s.log.WithError(err).Warn("stream error")
		if s.createTag != proto.Undefined {
			c.replyError(s.createOp, s.createTag, err)
			s.createTag = proto.Undefined
		} else {
			s.killed = true
		}
		s.free()
	case graph.StreamUnconnected:
		if s.createTag != proto.Undefined {
			c.replyError(s.createOp, s.createTag, proto.ErrNoSuchEntity)
			s.createTag = proto.Undefined
		} else {
			s.killed = true
		}
		s.free()
	case graph.StreamPaused, graph.StreamStreaming:
		if s.createTag != proto.Undefined || s.st.Corked() {
			return
		}
		switch {
		case state == graph.StreamStreaming && s.suspended:
			s.suspended = false
			s.st.SendSuspended(false)
		case state == graph.StreamPaused && old == graph.StreamStreaming && !s.suspended && !s.st.Paused():
			if s.failOnSuspend {
				s.killed = true
				s.free()
				return
			}
			s.suspended = true
			s.st.SendSuspended(true)
		}
	}
}

func (s *clientStream) FormatChanged(f graph.Format) {
	if s.freed || s.createTag == proto.Undefined {
		return
	}
	ss, m, err := collect.FormatSpec(f)
	if err == nil {
		err = s.st.SetFormat(ss)
	}
	if err != nil {
		s.log.WithError(err).WithField("format", f).Warn("unusable stream format")
		s.c.replyError(s.createOp, s.createTag, proto.ErrNotSupported)
		s.createTag = proto.Undefined
		s.free()
		return
	}
	s.chmap = m
	gs := s.st.Graph()
	if s.volumeSet {
		if err := gs.SetControl(graph.ControlChannelVolumes, s.volume.Linear()); err != nil {
			s.log.WithError(err).Debug("setting initial volume")
		}
		s.volumeSet = false
	}
	if s.mutedSet {
		v := float32(0)
		if s.muted {
			v = 1
		}
		if err := gs.SetControl(graph.ControlMute, []float32{v}); err != nil {
			s.log.WithError(err).Debug("setting initial mute")
		}
		s.mutedSet = false
	}
	if s.corked {
		s.st.SetPaused(true, "cork after create")
	}
	if peer := collect.FindLinked(s.c.mgr, s.nodeID, s.kind.Direction()); peer != nil {
		s.replyCreate(peer)
	} else {
		s.pending = true
	}
}

func (s *clientStream) ControlInfo(ctl graph.Control, values []float32) {
	if s.freed {
		return
	}
	switch ctl {
	case graph.ControlChannelVolumes, graph.ControlVolume:
		if !s.volumeSet {
			s.volume = proto.LinearChannelVolumes(values)
		}
	case graph.ControlMute:
		if !s.mutedSet && len(values) > 0 {
			s.muted = values[0] != 0
		}
	}
}

func (s *clientStream) Process(b *graph.Buffer) { s.st.Process(b) }

func (s *clientStream) Drained() {
	if s.freed || s.drainTag == proto.Undefined {
		return
	}
	s.log.Debug("drained")
	s.c.ack(s.drainTag)
	s.drainTag = proto.Undefined
	if gs := s.st.Graph(); gs != nil {
		gs.SetActive(!s.st.Paused())
	}
}

// recordTarget maps the source name of a record request to a node name.
// A monitor name selects the sink and sets capture.
func recordTarget(name string) (node string, monitor bool) {
	if strings.HasSuffix(name, ".monitor") {
		return strings.TrimSuffix(name, ".monitor"), true
	}
	return name, false
}
