// Package stream implements the buffering of client streams: buffer
// attribute negotiation, the ring shared with the real time goroutine of
// the graph, and the per cycle bookkeeping that decides when a client is
// asked for more data or sent captured data.
//
// A Stream has two sides. Process runs on the real time goroutine and only
// touches the ring and a few atomics. Everything else runs on the event
// loop.
package stream

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/proto"
)

// Kind is the type of a stream.
type Kind int

const (
	Playback Kind = iota
	Record
	Upload
)

func (k Kind) String() string {
	switch k {
	case Playback:
		return "playback"
	case Record:
		return "record"
	case Upload:
		return "upload"
	}
	return "unknown"
}

// Direction returns the graph direction of streams of kind k.
func (k Kind) Direction() graph.Direction {
	if k == Record {
		return graph.DirectionInput
	}
	return graph.DirectionOutput
}

// Seek modes of a memblock.
const (
	SeekRelative = iota
	SeekAbsolute
	SeekRelativeOnRead
	SeekRelativeEnd
	SeekMask = 0xFF
)

var ErrInvalidFormat = errors.New("stream: invalid format")

// Client is the connection a stream sends its messages on. Its methods are
// called on the event loop.
type Client interface {
	Version() proto.Version
	Pool() *proto.Pool
	Queue(m *proto.Message)
	// Pending reports whether messages are waiting to be written.
	Pending() bool
}

// Counter is incremented for underruns and overflows.
type Counter interface{ Inc() }

type Config struct {
	Kind    Kind
	Channel uint32
	Client  Client
	Exec    graph.Executor
	Log     *logrus.Entry
	Limits  Limits

	SampleSpec proto.SampleSpec
	Attr       BufferAttr
	// Mode is a combination of AdjustLatency and EarlyRequests.
	Mode   int
	Corked bool

	Underruns, Overflows Counter
}

// Stream is the buffer engine of one client stream.
type Stream struct {
	Kind    Kind
	Channel uint32

	log       *logrus.Entry
	client    Client
	exec      graph.Executor
	gs        graph.Stream
	limits    Limits
	ring      *Ring
	warn      *rate.Limiter
	underruns Counter
	overflows Counter

	ss        proto.SampleSpec
	frameSize uint32
	mode      int
	attr      BufferAttr
	latency   Fraction

	// shared with the real time goroutine
	rtAttr   atomic.Pointer[BufferAttr]
	running  atomic.Bool
	closed   atomic.Bool
	corked   atomic.Bool
	draining atomic.Bool

	readIndex   int64
	writeIndex  int64
	requested   int64
	inPrebuf    bool
	isUnderrun  bool
	isIdle      bool
	isPaused    bool
	underrunFor uint64
	playingFor  uint64
	idleTime    int64
	timestamp   int64
	delay       int64
	lastQuantum uint32
}

// New returns a stream. Its format must be set with SetFormat and its
// attributes with SetAttr before Start.
func New(cfg Config) *Stream {
	s := &Stream{
		Kind:        cfg.Kind,
		Channel:     cfg.Channel,
		log:         cfg.Log.WithFields(logrus.Fields{"channel": cfg.Channel, "kind": cfg.Kind}),
		client:      cfg.Client,
		exec:        cfg.Exec,
		limits:      cfg.Limits,
		ring:        NewRing(),
		warn:        rate.NewLimiter(rate.Every(time.Second), 1),
		underruns:   cfg.Underruns,
		overflows:   cfg.Overflows,
		ss:          cfg.SampleSpec,
		frameSize:   cfg.SampleSpec.FrameSize(),
		mode:        cfg.Mode,
		attr:        cfg.Attr,
		isUnderrun:  true,
		underrunFor: ^uint64(0),
	}
	s.rtAttr.Store(&BufferAttr{})
	s.corked.Store(cfg.Corked)
	return s
}

// SetGraph attaches the graph side of the stream.
func (s *Stream) SetGraph(gs graph.Stream) { s.gs = gs }

// Graph returns the graph side of the stream, or nil.
func (s *Stream) Graph() graph.Stream { return s.gs }

// SampleSpec returns the negotiated format.
func (s *Stream) SampleSpec() proto.SampleSpec { return s.ss }

// FrameSize returns the size of one frame in bytes.
func (s *Stream) FrameSize() uint32 { return s.frameSize }

// Attr returns the negotiated buffer attributes.
func (s *Stream) Attr() BufferAttr { return s.attr }

// Latency returns the configured latency in microseconds.
func (s *Stream) Latency() uint64 { return s.latency.Usec() }

// SetMode sets the latency mode used by the next SetAttr.
func (s *Stream) SetMode(mode int) { s.mode = mode }

// SetFormat sets the negotiated format. It must not be called while the
// stream is running.
func (s *Stream) SetFormat(ss proto.SampleSpec) error {
	fs := ss.FrameSize()
	if fs == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, ss)
	}
	s.ss = ss
	s.frameSize = fs
	return nil
}

// SetAttr negotiates buffer attributes from attr and returns the latency
// in microseconds. The graph stream is told the latency it should run at.
func (s *Stream) SetAttr(attr BufferAttr) uint64 {
	var props graph.Props
	if s.Kind == Record {
		s.latency = FixRecord(s.log, &attr, s.ss, s.frameSize, &s.limits)
		props = graph.Props{
			"pulse.attr.maxlength": fmt.Sprint(attr.MaxLength),
			"pulse.attr.fragsize":  fmt.Sprint(attr.FragSize),
		}
	} else {
		s.latency = FixPlayback(s.log, &attr, s.ss, s.frameSize, s.mode, &s.limits)
		props = graph.Props{
			"pulse.attr.maxlength": fmt.Sprint(attr.MaxLength),
			"pulse.attr.tlength":   fmt.Sprint(attr.TLength),
			"pulse.attr.prebuf":    fmt.Sprint(attr.PreBuf),
			"pulse.attr.minreq":    fmt.Sprint(attr.MinReq),
		}
	}
	props["node.latency"] = s.latency.String()
	props["node.rate"] = fmt.Sprintf("1/%d", s.latency.Denom)
	s.attr = attr
	a := attr
	s.rtAttr.Store(&a)
	if s.gs != nil {
		if err := s.gs.UpdateProperties(props); err != nil {
			s.log.WithError(err).Warn("updating stream latency")
		}
	}
	if s.Kind == Playback && attr.PreBuf > 0 {
		s.inPrebuf = true
	}
	return s.latency.Usec()
}

// Start lets the real time side process the stream. Until then cycles are
// ignored.
func (s *Stream) Start() { s.running.Store(true) }

// Close stops processing. Results of cycles still in flight are dropped.
func (s *Stream) Close() {
	s.running.Store(false)
	s.closed.Store(true)
}

// Corked reports whether the client corked the stream.
func (s *Stream) Corked() bool { return s.corked.Load() }

// Paused reports whether the graph side is inactive.
func (s *Stream) Paused() bool { return s.isPaused }

// SetPaused activates or deactivates the graph side.
func (s *Stream) SetPaused(paused bool, reason string) {
	if s.isPaused == paused {
		return
	}
	if reason != "" {
		verb := "resumed"
		if paused {
			verb = "paused"
		}
		s.log.WithField("reason", reason).Info("stream " + verb)
	}
	s.isPaused = paused
	if s.gs != nil {
		if err := s.gs.SetActive(!paused); err != nil {
			s.log.WithError(err).Warn("setting stream active")
		}
	}
}

// SetCorked corks or uncorks the stream.
func (s *Stream) SetCorked(cork bool) {
	s.corked.Store(cork)
	s.log.WithField("cork", cork).Debug("cork")
	if s.gs != nil {
		s.gs.UpdateProperties(graph.Props{"pulse.corked": fmt.Sprint(cork)})
	}
	s.SetPaused(cork, "cork request")
	if cork {
		s.isUnderrun = true
	} else {
		s.playingFor = 0
		s.underrunFor = ^uint64(0)
		s.SendRequest()
	}
}

// Drain makes the stream play out its queued data. The graph reports
// completion through its Drained event.
func (s *Stream) Drain() {
	s.draining.Store(true)
	s.SetPaused(false, "drain start")
}

// Flush discards queued data.
func (s *Stream) Flush() {
	if s.gs != nil {
		s.gs.Flush(false)
	}
	if s.Kind == Playback {
		s.ring.DropWrite()
		s.writeIndex = s.readIndex
		if s.attr.PreBuf > 0 {
			s.inPrebuf = true
		}
		s.playingFor = 0
		s.underrunFor = ^uint64(0)
		s.isUnderrun = true
		s.SendRequest()
	} else {
		s.ring.DropRead()
		s.readIndex = s.writeIndex
	}
}

// Trigger ends prebuffering early.
func (s *Stream) Trigger() {
	s.inPrebuf = false
	s.SendRequest()
}

// Prebuf restarts prebuffering.
func (s *Stream) Prebuf() {
	if s.attr.PreBuf > 0 {
		s.inPrebuf = true
	}
	s.SendRequest()
}

func (s *Stream) prebufActive(avail int64) bool {
	if s.inPrebuf {
		if avail >= int64(s.attr.PreBuf) {
			s.inPrebuf = false
		}
	} else if s.attr.PreBuf > 0 && avail <= 0 {
		s.inPrebuf = true
	}
	return s.inPrebuf
}

// PopMissing returns how many bytes the client should send now and counts
// them as requested.
func (s *Stream) PopMissing() uint32 {
	avail := s.writeIndex - s.readIndex
	missing := int64(s.attr.TLength) - s.requested - avail
	if missing <= 0 {
		return 0
	}
	if missing < int64(s.attr.MinReq) && !s.prebufActive(avail) {
		return 0
	}
	s.requested += missing
	return uint32(missing)
}

func (s *Stream) send(op uint32, v interface{}) {
	m := s.client.Pool().NewCommand(op, proto.Undefined)
	m.Writer().Write(v, s.client.Version())
	s.client.Queue(m)
}

// SendRequest asks the client for data if it is missing any.
func (s *Stream) SendRequest() {
	size := s.PopMissing()
	if size == 0 {
		return
	}
	s.log.WithField("size", size).Trace("request")
	s.send(proto.OpRequest, &proto.Request{StreamIndex: s.Channel, Length: size})
}

func (s *Stream) sendUnderflow(offset int64) {
	if s.underruns != nil {
		s.underruns.Inc()
	}
	if s.warn.Allow() {
		s.log.WithField("offset", offset).Info("underflow")
	}
	s.send(proto.OpUnderflow, &proto.Underflow{StreamIndex: s.Channel, Offset: offset})
}

func (s *Stream) sendOverflow() {
	if s.overflows != nil {
		s.overflows.Inc()
	}
	if s.warn.Allow() {
		s.log.Warn("overflow")
	}
	s.send(proto.OpOverflow, &proto.Overflow{StreamIndex: s.Channel})
}

// SendKilled tells the client the stream is gone.
func (s *Stream) SendKilled() {
	s.log.Info("stream killed")
	if s.client.Version() < 23 {
		return
	}
	if s.Kind == Record {
		s.send(proto.OpRecordStreamKilled, &proto.RecordStreamKilled{StreamIndex: s.Channel})
	} else {
		s.send(proto.OpPlaybackStreamKilled, &proto.PlaybackStreamKilled{StreamIndex: s.Channel})
	}
}

// SendSuspended reports a suspend state change of the device.
func (s *Stream) SendSuspended(suspended bool) {
	s.log.WithField("suspended", suspended).Debug("suspended")
	if s.Kind == Record {
		s.send(proto.OpRecordStreamSuspended, &proto.RecordStreamSuspended{StreamIndex: s.Channel, Suspended: suspended})
	} else {
		s.send(proto.OpPlaybackStreamSuspended, &proto.PlaybackStreamSuspended{StreamIndex: s.Channel, Suspended: suspended})
	}
}

// SendMoved tells the client its stream now plays on another device.
func (s *Stream) SendMoved(index uint32, name string) {
	s.log.WithFields(logrus.Fields{"index": index, "name": name}).Info("stream moved")
	if s.client.Version() < 12 {
		return
	}
	lat := proto.Microseconds(s.latency.Usec())
	if s.Kind == Record {
		s.send(proto.OpRecordStreamMoved, &proto.RecordStreamMoved{
			StreamIndex: s.Channel, DestIndex: index, DestName: name,
			BufferMaxLength: s.attr.MaxLength, BufferFragSize: s.attr.FragSize,
			SourceLatency: lat,
		})
		return
	}
	s.send(proto.OpPlaybackStreamMoved, &proto.PlaybackStreamMoved{
		StreamIndex: s.Channel, DestIndex: index, DestName: name,
		BufferMaxLength: s.attr.MaxLength, BufferTargetLength: s.attr.TLength,
		BufferPrebufferLength: s.attr.PreBuf, BufferMinimumRequest: s.attr.MinReq,
		SinkLatency: lat,
	})
}

// updateMinReq grows tlength when the graph asks for more data per cycle
// than the client was told to keep queued.
func (s *Stream) updateMinReq(minreq uint32) {
	tlength := minreq + 2*s.attr.MinReq
	if tlength <= s.attr.TLength {
		return
	}
	tlength = min(tlength, MaxLength)
	s.attr.TLength = tlength
	if s.attr.TLength > s.attr.MaxLength {
		s.attr.MaxLength = s.attr.TLength
	}
	a := s.attr
	s.rtAttr.Store(&a)
	if s.client.Version() < 15 || s.ss.Rate == 0 {
		return
	}
	s.send(proto.OpPlaybackBufferAttrChanged, &proto.PlaybackBufferAttrChanged{
		StreamIndex:           s.Channel,
		BufferMaxLength:       s.attr.MaxLength,
		BufferTargetLength:    s.attr.TLength,
		BufferPrebufferLength: s.attr.PreBuf,
		BufferMinimumRequest:  s.attr.MinReq,
		SinkLatency:           proto.Microseconds(uint64(minreq/s.frameSize) * 1000000 / uint64(s.ss.Rate)),
	})
}

// Write stores a memblock received from the client. The offset and seek
// mode come from the frame descriptor.
func (s *Stream) Write(data []byte, offset int64, flags uint32) error {
	index, filled := s.ring.WriteIndex()
	var diff int64
	switch flags & SeekMask {
	case SeekRelative:
		diff = offset
	case SeekAbsolute:
		diff = offset - s.writeIndex
	case SeekRelativeOnRead, SeekRelativeEnd:
		diff = offset - int64(filled)
	default:
		return fmt.Errorf("%w: invalid seek mode %d", proto.ErrProtocolError, flags&SeekMask)
	}
	if diff > 0 {
		s.clear(index, uint32(min(diff, MaxLength)))
	}
	index += uint32(diff)
	filled += int32(diff)
	s.writeIndex += diff
	if flags&SeekMask == SeekRelative {
		s.requested -= diff
	}
	if filled >= 0 && int64(filled)+int64(len(data)) > int64(s.attr.MaxLength) {
		s.sendOverflow()
	}
	s.ring.WriteData(index, data)
	index += uint32(len(data))
	s.ring.WriteUpdate(index)

	s.writeIndex += int64(len(data))
	s.requested -= int64(len(data))

	if s.Kind == Playback {
		s.SendRequest()
		if s.isPaused && !s.corked.Load() {
			s.SetPaused(false, "new data")
		}
	}
	return nil
}

func (s *Stream) clear(index, n uint32) {
	for n > 0 {
		off := index % MaxLength
		chunk := min(n, MaxLength-off)
		proto.Silence(s.ss.Format, s.ring.buf[off:off+chunk])
		index += chunk
		n -= chunk
	}
}

// Position describes the state of a stream for latency queries.
type Position struct {
	Delay       int64
	ReadIndex   int64
	WriteIndex  int64
	UnderrunFor uint64
	PlayingFor  uint64
	Playing     bool
}

// Position returns the current position of the stream.
func (s *Stream) Position() Position {
	p := Position{
		Delay:       max(s.delay, 0),
		ReadIndex:   s.readIndex,
		WriteIndex:  s.writeIndex,
		UnderrunFor: s.underrunFor,
		PlayingFor:  s.playingFor,
	}
	if s.Kind == Playback {
		p.Playing = s.playingFor > 0 && !s.corked.Load()
	} else {
		p.Playing = !s.corked.Load()
	}
	return p
}
