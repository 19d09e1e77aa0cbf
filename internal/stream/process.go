package stream

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/proto"
)

// cycle is the outcome of one real time cycle, handed to the event loop.
type cycle struct {
	time        graph.Time
	readInc     uint32
	writeInc    uint32
	underrunFor uint32
	playingFor  uint32
	minreq      uint32
	quantum     uint32
	underrun    bool
	idle        bool
	flush       bool
}

// Process runs one cycle of the graph. It is called on the real time
// goroutine and never blocks on the event loop. Playback streams fill b;
// a cycle that produced only silence leaves b.Size at 0.
func (s *Stream) Process(b *graph.Buffer) {
	if !s.running.Load() {
		if s.Kind != Record {
			b.Size = 0
		}
		return
	}
	attr := s.rtAttr.Load()
	var c cycle
	if s.Kind == Record {
		s.processRecord(b, attr, &c)
	} else {
		s.processPlayback(b, attr, &c)
	}
	if s.gs != nil {
		c.time = s.gs.Time()
	}
	s.exec.Invoke(func() { s.done(&c) })
}

func (s *Stream) processPlayback(b *graph.Buffer, attr *BufferAttr, c *cycle) {
	index, avail := s.ring.ReadIndex()
	minreq := uint32(b.Requested) * s.frameSize
	if minreq == 0 {
		minreq = attr.MinReq
	}
	c.minreq = minreq
	c.quantum = uint32(b.Requested)
	if c.quantum == 0 {
		c.quantum = minreq
	}
	corked := s.corked.Load()

	if avail < int32(minreq) || corked {
		size := min(uint32(len(b.Data)), minreq)
		proto.Silence(s.ss.Format, b.Data[:size])
		empty := true

		if !corked && s.draining.CompareAndSwap(true, false) {
			c.flush = true
		} else {
			c.underrunFor = size
			c.underrun = true
		}
		if (attr.PreBuf == 0 || c.flush) && !corked {
			if avail > 0 {
				n := min(uint32(avail), size)
				s.ring.ReadData(index, b.Data[:n])
				empty = false
			}
			index += size
			c.readInc = size
			s.ring.ReadUpdate(index)
			c.playingFor = size
		}
		c.idle = true
		if empty {
			b.Size = 0
		} else {
			b.Size = int(size)
		}
		return
	}

	if avail > int32(attr.MaxLength) {
		// skip ahead to the oldest data that still fits
		skip := uint32(avail) - attr.MaxLength
		index += skip
		c.readInc = skip
		avail = int32(attr.MaxLength)
	}
	size := min(uint32(len(b.Data)), uint32(avail), minreq)
	s.ring.ReadData(index, b.Data[:size])
	index += size
	c.readInc += size
	s.ring.ReadUpdate(index)
	c.playingFor = size
	b.Size = int(size)
}

func (s *Stream) processRecord(b *graph.Buffer, attr *BufferAttr, c *cycle) {
	index, filled := s.ring.WriteIndex()
	size := uint32(min(b.Size, len(b.Data)))
	if filled < 0 {
		if s.warn.Allow() {
			s.log.WithFields(logrus.Fields{"index": index, "filled": filled}).Warn("record underrun")
		}
	} else if uint32(filled)+size > attr.MaxLength {
		// the event loop catches up on its side
		s.log.WithFields(logrus.Fields{"index": index, "filled": filled, "size": size}).Trace("record overrun")
	}
	s.ring.WriteData(index, b.Data[:size])
	index += size
	c.writeInc = size
	s.ring.WriteUpdate(index)
}

// done applies the outcome of a cycle on the event loop.
func (s *Stream) done(c *cycle) {
	if s.closed.Load() {
		return
	}
	s.timestamp = c.time.Now
	s.delay = 0
	if c.time.RateDenom > 0 {
		s.delay = c.time.Delay * 1000000 * int64(c.time.RateNum) / int64(c.time.RateDenom)
	}
	if s.Kind == Record {
		s.doneRecord(c)
		return
	}
	if c.flush && s.gs != nil {
		if err := s.gs.Flush(true); err != nil {
			s.log.WithError(err).Warn("draining stream")
		}
	}
	if c.quantum != s.lastQuantum {
		s.updateMinReq(c.minreq)
	}
	s.lastQuantum = c.quantum
	s.readIndex += int64(c.readInc)

	if s.corked.Load() {
		if s.underrunFor != ^uint64(0) {
			s.underrunFor += uint64(c.underrunFor)
		}
		s.playingFor = 0
		return
	}
	if c.underrun != s.isUnderrun {
		s.isUnderrun = c.underrun
		s.underrunFor = 0
		s.playingFor = 0
		if c.underrun {
			s.sendUnderflow(s.readIndex)
		} else {
			s.log.Debug("started")
			s.send(proto.OpStarted, &proto.Started{StreamIndex: s.Channel})
		}
	}
	if c.idle {
		if !s.isIdle {
			s.idleTime = s.timestamp
		} else if !s.isPaused && s.limits.IdleTimeout > 0 &&
			s.timestamp-s.idleTime > int64(s.limits.IdleTimeout)*int64(time.Second) {
			s.SetPaused(true, "long underrun")
		}
	}
	s.isIdle = c.idle
	s.playingFor += uint64(c.playingFor)
	if s.underrunFor != ^uint64(0) {
		s.underrunFor += uint64(c.underrunFor)
	}
	s.SendRequest()
}

func (s *Stream) doneRecord(c *cycle) {
	s.writeIndex += int64(c.writeInc)
	index, avail := s.ring.ReadIndex()
	if s.client.Pending() {
		return
	}
	attr := s.attr
	if avail <= 0 || attr.FragSize == 0 {
		return
	}
	if uint32(avail) > attr.MaxLength {
		// catch up to the latest fragment
		skip := uint32(avail) - attr.FragSize
		if s.overflows != nil {
			s.overflows.Inc()
		}
		if s.warn.Allow() {
			s.log.WithFields(logrus.Fields{"avail": avail, "max": attr.MaxLength, "skip": skip}).Warn("record overrun")
		}
		index += skip
		s.readIndex += int64(skip)
		avail = int32(attr.FragSize)
	}
	for uint32(avail) >= attr.FragSize {
		n := min(uint32(avail), MaxBlock, attr.FragSize)
		n = roundDown(n, s.frameSize)
		m := s.client.Pool().Get(s.Channel, int(n))
		s.ring.ReadData(index, m.Bytes())
		s.client.Queue(m)
		index += n
		avail -= int32(n)
		s.readIndex += int64(n)
	}
	s.ring.ReadUpdate(index)
}
