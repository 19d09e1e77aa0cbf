package server

import (
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/collect"
	"github.com/jfreymuth/pulsed/internal/stream"
	"github.com/jfreymuth/pulsed/proto"
)

// maxSampleSize is the largest sample the cache accepts.
const maxSampleSize = 16 * 1024 * 1024

// sample is an entry of the sample cache. It is immutable once stored;
// replacing a sample stores a new value under the same index.
type sample struct {
	index uint32
	name  string
	props graph.Props
	ss    proto.SampleSpec
	chmap proto.ChannelMap
	data  []byte
}

func (s *sample) duration() proto.Microseconds {
	fs := s.ss.FrameSize()
	if fs == 0 || s.ss.Rate == 0 {
		return 0
	}
	return proto.Microseconds(uint64(len(s.data)) / uint64(fs) * 1000000 / uint64(s.ss.Rate))
}

// sampleCache holds the uploaded samples of all clients.
type sampleCache struct {
	byIndex map[uint32]*sample
	next    uint32
	bytes   uint32
}

func newSampleCache() *sampleCache {
	return &sampleCache{byIndex: make(map[uint32]*sample)}
}

func (sc *sampleCache) size() uint32 { return sc.bytes }

// find returns the sample with the given index or, if index is invalid,
// name.
func (sc *sampleCache) find(index uint32, name string) *sample {
	if index != collect.Invalid {
		return sc.byIndex[index]
	}
	for _, s := range sc.byIndex {
		if s.name == name {
			return s
		}
	}
	return nil
}

// store adds s, replacing a sample with the same name. It reports whether
// a sample was replaced.
func (sc *sampleCache) store(s *sample) bool {
	old := sc.find(collect.Invalid, s.name)
	if old != nil {
		s.index = old.index
		sc.bytes -= uint32(len(old.data))
	} else {
		s.index = sc.next
		sc.next++
	}
	sc.byIndex[s.index] = s
	sc.bytes += uint32(len(s.data))
	return old != nil
}

func (sc *sampleCache) remove(s *sample) {
	delete(sc.byIndex, s.index)
	sc.bytes -= uint32(len(s.data))
}

func (sc *sampleCache) sorted() []*sample {
	list := make([]*sample, 0, len(sc.byIndex))
	for _, s := range sc.byIndex {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].index < list[j].index })
	return list
}

func (c *Client) createUploadStream(op, tag uint32, r *proto.ProtocolReader) error {
	var req proto.CreateUploadStream
	if err := c.parse(r, &req); err != nil {
		return err
	}
	props := c.props.Copy()
	if c.version >= 13 {
		for k, v := range req.Properties {
			props[k] = v
		}
	} else if req.Name != "" {
		props["media.name"] = req.Name
	}
	name := req.Name
	if name == "" {
		name = props["event.id"]
	}
	if name == "" {
		name = props["media.name"]
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "name": name, "length": req.Length}).Info("create upload stream")
	if name == "" || !req.SampleSpec.Valid() || !req.ChannelMap.Valid() ||
		int(req.SampleSpec.Channels) != len(req.ChannelMap) ||
		req.Length == 0 || req.Length%req.SampleSpec.FrameSize() != 0 {
		return proto.ErrInvalidArgument
	}
	if req.Length >= maxSampleSize {
		return proto.ErrTooLarge
	}

	s := c.newStream(stream.Upload, op, tag, false)
	s.createTag = proto.Undefined
	s.name = name
	s.props = props
	s.ss = req.SampleSpec
	s.chmap = req.ChannelMap
	s.length = req.Length
	s.upload = ringbuffer.New(int(req.Length))
	c.reply(tag, &proto.CreateUploadStreamReply{StreamIndex: s.channel, Length: req.Length})
	return nil
}

func (c *Client) finishUploadStream(op, tag uint32, r *proto.ProtocolReader) error {
	var req proto.FinishUploadStream
	if err := c.parse(r, &req); err != nil {
		return err
	}
	s, err := c.findStream(req.StreamIndex, stream.Upload)
	if err != nil {
		return err
	}
	defer s.free()
	name := s.props["event.id"]
	if name == "" {
		name = s.props["media.name"]
	}
	if name == "" {
		return proto.ErrInvalidArgument
	}
	data := s.uploaded()
	c.log.WithFields(logrus.Fields{"tag": tag, "channel": req.StreamIndex, "name": name, "bytes": len(data)}).Info("finish upload")
	if fs := s.ss.FrameSize(); fs > 0 {
		data = data[:uint32(len(data))/fs*fs]
	}
	smp := &sample{
		name:  name,
		props: s.props,
		ss:    s.ss,
		chmap: s.chmap,
		data:  data,
	}
	typ := uint32(proto.EventNew)
	if c.s.samples.store(smp) {
		typ = proto.EventChange
	}
	c.s.broadcast(proto.EventSampleCache, typ, smp.index)
	c.ack(tag)
	return nil
}

func (c *Client) removeSample(op, tag uint32, r *proto.ProtocolReader) error {
	name, ok := r.NullableString()
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "name": name}).Info("remove sample")
	if !ok {
		return proto.ErrInvalidArgument
	}
	smp := c.s.samples.find(collect.Invalid, name)
	if smp == nil {
		return proto.ErrNoSuchEntity
	}
	c.s.broadcast(proto.EventSampleCache, proto.EventRemove, smp.index)
	c.s.samples.remove(smp)
	c.ack(tag)
	return nil
}

func (c *Client) sampleInfo(s *sample) *proto.GetSampleInfoReply {
	return &proto.GetSampleInfoReply{
		SampleIndex:    s.index,
		SampleName:     s.name,
		ChannelVolumes: proto.UniformVolume(int(s.ss.Channels), proto.VolumeNorm),
		Duration:       s.duration(),
		SampleSpec:     s.ss,
		ChannelMap:     s.chmap,
		Length:         uint32(len(s.data)),
		Properties:     proto.PropList(s.props.Copy()),
	}
}

func (c *Client) getSampleInfo(op, tag uint32, r *proto.ProtocolReader) error {
	index, name, err := readTarget(r)
	if err != nil {
		return err
	}
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "index": index, "name": name}).Info("get sample info")
	s := c.s.samples.find(index, name)
	if s == nil {
		return proto.ErrNoSuchEntity
	}
	c.reply(tag, c.sampleInfo(s))
	return nil
}

func (c *Client) getSampleInfoList(op, tag uint32, r *proto.ProtocolReader) error {
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithField("tag", tag).Info("get sample info list")
	m := c.s.pool.NewReply(tag)
	w := m.Writer()
	for _, s := range c.s.samples.sorted() {
		w.Write(c.sampleInfo(s), c.version)
	}
	c.Queue(m)
	return nil
}

func (c *Client) playSample(op, tag uint32, r *proto.ProtocolReader) error {
	var req proto.PlaySample
	if err := c.parse(r, &req); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "sink": req.SinkIndex, "sinkName": req.SinkName, "name": req.Name}).Info("play sample")
	if req.SinkIndex != collect.Invalid && req.SinkName != "" {
		return proto.ErrInvalidArgument
	}
	sink, _ := c.findDevice(req.SinkIndex, req.SinkName, true)
	if sink == nil {
		return proto.ErrNoSuchEntity
	}
	smp := c.s.samples.find(collect.Invalid, req.Name)
	if smp == nil {
		return proto.ErrNoSuchEntity
	}
	props := smp.props.Copy()
	for k, v := range req.Properties {
		props[k] = v
	}
	for k, v := range c.props {
		props[k] = v
	}
	props["target.object"] = strconv.FormatUint(sink.Serial, 10)
	if props["media.name"] == "" {
		props["media.name"] = smp.name
	}
	return c.startPlayer(smp, props, req.Volume, tag)
}

// samplePlayer plays a cached sample once on a new playback stream.
type samplePlayer struct {
	c      *Client
	smp    *sample
	tag    uint32
	volume uint32
	log    *logrus.Entry
	gs     graph.Stream

	// pos is owned by the real time goroutine.
	pos      int
	finished atomic.Bool
	replied  bool
	freed    bool
}

func (c *Client) startPlayer(smp *sample, props graph.Props, volume uint32, tag uint32) error {
	p := &samplePlayer{
		c:      c,
		smp:    smp,
		tag:    tag,
		volume: volume,
		log:    c.log.WithField("sample", smp.name),
	}
	gs, err := c.core.CreateStream(graph.StreamConfig{
		Direction: graph.DirectionOutput,
		Props:     props,
		Formats:   []graph.Format{collect.SpecFormat(smp.ss, smp.chmap)},
		Flags:     graph.StreamAutoconnect | graph.StreamRTProcess,
	}, p)
	if err != nil {
		return err
	}
	p.gs = gs
	c.players[p] = struct{}{}
	return errDeferred
}

// ready answers the play request with the index of the new sink input once
// the node is visible to the client.
func (p *samplePlayer) ready() {
	if p.replied {
		return
	}
	p.replied = true
	c := p.c
	c.newOperation(p.tag, func() {
		index := collect.IDToIndex(c.mgr, p.gs.NodeID())
		p.log.WithField("index", index).Debug("sample playing")
		c.reply(p.tag, &proto.PlaySampleReply{SinkInputIndex: index})
	})
}

func (p *samplePlayer) fail(err error) {
	if !p.replied {
		p.replied = true
		p.c.replyError(proto.OpPlaySample, p.tag, err)
	}
	p.free()
}

func (p *samplePlayer) free() {
	if p.freed {
		return
	}
	p.freed = true
	p.finished.Store(true)
	if err := p.gs.Disconnect(); err != nil {
		p.log.WithError(err).Debug("disconnecting sample stream")
	}
	delete(p.c.players, p)
}

func (p *samplePlayer) StateChanged(old, state graph.StreamState, err error) {
	if p.freed {
		return
	}
	switch state {
	case graph.StreamError:
		p.log.WithError(err).Warn("sample stream failed")
		p.fail(proto.ErrNoSuchEntity)
	case graph.StreamUnconnected:
		p.fail(proto.ErrNoSuchEntity)
	case graph.StreamPaused, graph.StreamStreaming:
		p.ready()
		if state == graph.StreamPaused {
			if err := p.gs.SetActive(true); err != nil {
				p.log.WithError(err).Debug("activating sample stream")
			}
		}
	}
}

func (p *samplePlayer) FormatChanged(f graph.Format) {
	if p.freed || p.volume == proto.Undefined {
		return
	}
	v := proto.UniformVolume(int(p.smp.ss.Channels), proto.Volume(p.volume))
	if err := p.gs.SetControl(graph.ControlChannelVolumes, v.Linear()); err != nil {
		p.log.WithError(err).Debug("setting sample volume")
	}
}

func (p *samplePlayer) ControlInfo(graph.Control, []float32) {}

func (p *samplePlayer) Process(b *graph.Buffer) {
	if p.finished.Load() {
		b.Size = 0
		return
	}
	data := p.smp.data[p.pos:]
	n := copy(b.Data, data)
	if b.Requested > 0 {
		if limit := int(b.Requested) * int(p.smp.ss.FrameSize()); n > limit {
			n = limit
		}
	}
	b.Size = n
	p.pos += n
	if p.pos >= len(p.smp.data) {
		p.finished.Store(true)
		p.c.s.exec.Invoke(func() {
			if !p.freed {
				if err := p.gs.Flush(true); err != nil {
					p.free()
				}
			}
		})
	}
}

func (p *samplePlayer) Drained() {
	p.log.Debug("sample finished")
	p.free()
}
