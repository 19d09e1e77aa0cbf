package stream

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/proto"
)

// MaxLength is the size of the ring buffer of every stream and the upper
// bound of any negotiated maxlength.
const MaxLength = 4 * 1024 * 1024

// MaxBlock is the largest block sent to a record client at once.
const MaxBlock = 64 * 1024

// Unset marks a buffer attribute the client left to the server.
const Unset = proto.Undefined

// Fraction is a duration expressed as Num/Denom seconds.
type Fraction struct {
	Num, Denom uint32
}

// ParseFraction parses "num/denom". The denominator must not be zero.
func ParseFraction(s string) (Fraction, error) {
	var f Fraction
	if _, err := fmt.Sscanf(s, "%d/%d", &f.Num, &f.Denom); err != nil {
		return f, fmt.Errorf("parsing fraction %q: %w", s, err)
	}
	if f.Denom == 0 {
		return f, fmt.Errorf("parsing fraction %q: zero denominator", s)
	}
	return f, nil
}

func (f Fraction) String() string { return fmt.Sprintf("%d/%d", f.Num, f.Denom) }

// Usec returns the fraction in microseconds.
func (f Fraction) Usec() uint64 {
	if f.Denom == 0 {
		return 0
	}
	return uint64(f.Num) * 1000000 / uint64(f.Denom)
}

// FracToBytes converts a duration to a whole number of frames of ss,
// rounding up, and returns its size in bytes.
func FracToBytes(f Fraction, ss proto.SampleSpec) uint32 {
	u := uint64(f.Num) * 1000000 * uint64(ss.Rate) / uint64(f.Denom)
	u = (u + 1000000 - 1) / 1000000
	u *= uint64(ss.FrameSize())
	return uint32(u)
}

// Limits are the server side bounds used to negotiate buffer attributes.
type Limits struct {
	MinReq         Fraction
	DefaultReq     Fraction
	MinFrag        Fraction
	DefaultFrag    Fraction
	DefaultTLength Fraction
	MinQuantum     Fraction
	QuantumLimit   uint32
	// IdleTimeout is the number of seconds a playback stream may underrun
	// before it is paused. Zero disables pausing.
	IdleTimeout uint32
}

// DefaultLimits returns the limits used when nothing is configured.
func DefaultLimits() Limits {
	return Limits{
		MinReq:         Fraction{128, 48000},
		DefaultReq:     Fraction{960, 48000},
		MinFrag:        Fraction{128, 48000},
		DefaultFrag:    Fraction{96000, 48000},
		DefaultTLength: Fraction{96000, 48000},
		MinQuantum:     Fraction{128, 48000},
		QuantumLimit:   8192,
	}
}

// WithProps returns a copy of l with the limits a client overrides in its
// properties. Malformed values keep the server default.
func (l Limits) WithProps(props map[string]string) Limits {
	fracs := []struct {
		key string
		f   *Fraction
	}{
		{"pulse.min.req", &l.MinReq},
		{"pulse.min.frag", &l.MinFrag},
		{"pulse.min.quantum", &l.MinQuantum},
		{"pulse.default.req", &l.DefaultReq},
		{"pulse.default.frag", &l.DefaultFrag},
		{"pulse.default.tlength", &l.DefaultTLength},
	}
	for _, x := range fracs {
		if s, ok := props[x.key]; ok {
			if f, err := ParseFraction(s); err == nil {
				*x.f = f
			}
		}
	}
	if s, ok := props["pulse.idle.timeout"]; ok {
		var n uint32
		if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
			l.IdleTimeout = n
		}
	}
	return l
}

// BufferAttr are the buffer metrics of a stream, in bytes.
type BufferAttr struct {
	MaxLength uint32
	TLength   uint32
	PreBuf    uint32
	MinReq    uint32
	FragSize  uint32
}

// UnsetAttr returns buffer attributes that leave every choice to the server.
func UnsetAttr() BufferAttr {
	return BufferAttr{Unset, Unset, Unset, Unset, Unset}
}

// Latency modes of a playback stream.
const (
	AdjustLatency = 1 << iota
	EarlyRequests
)

func roundDown(v, n uint32) uint32 { return v / n * n }
func roundUp(v, n uint32) uint32   { return (v + n - 1) / n * n }

func clamp(v, lo, hi uint32) uint32 {
	return min(max(v, lo), hi)
}

func frameSizeOf(frameSize uint32, ss proto.SampleSpec) uint32 {
	if frameSize == 0 {
		frameSize = ss.FrameSize()
	}
	if frameSize == 0 {
		frameSize = 4
	}
	return frameSize
}

func (l *Limits) clampLatency(lat *Fraction) {
	if lat.Denom == 0 {
		return
	}
	mq := l.MinQuantum
	if uint64(lat.Num)*uint64(mq.Denom)/uint64(lat.Denom) < uint64(mq.Num) {
		lat.Num = uint32((uint64(mq.Num)*uint64(lat.Denom) + uint64(mq.Denom-1)) / uint64(mq.Denom))
	}
}

// FixPlayback negotiates the attributes of a playback stream in place and
// returns the latency the stream should run at. frameSize may be 0 if the
// format is not known yet.
func FixPlayback(log *logrus.Entry, attr *BufferAttr, ss proto.SampleSpec, frameSize uint32, mode int, l *Limits) Fraction {
	frameSize = frameSizeOf(frameSize, ss)
	maxlength := roundDown(MaxLength, frameSize)

	log.WithFields(logrus.Fields{
		"maxlength": attr.MaxLength, "tlength": attr.TLength,
		"minreq": attr.MinReq, "prebuf": attr.PreBuf, "max": maxlength,
	}).Debug("playback buffer attr requested")

	minreq := FracToBytes(l.MinReq, ss)
	maxLatency := l.QuantumLimit * frameSize

	if attr.MaxLength == Unset || attr.MaxLength > maxlength {
		attr.MaxLength = maxlength
	} else {
		attr.MaxLength = roundDown(attr.MaxLength, frameSize)
	}
	attr.MaxLength = max(attr.MaxLength, frameSize)
	minreq = min(minreq, attr.MaxLength)

	if attr.TLength == Unset {
		attr.TLength = FracToBytes(l.DefaultTLength, ss)
	}
	attr.TLength = clamp(attr.TLength, minreq, attr.MaxLength)
	attr.TLength = roundUp(attr.TLength, frameSize)

	if attr.MinReq == Unset {
		process := FracToBytes(l.DefaultReq, ss)
		m := roundDown(attr.TLength/4, frameSize)
		attr.MinReq = min(process, m)
	}
	attr.MinReq = max(attr.MinReq, minreq)
	attr.MinReq = min(attr.MinReq, attr.MaxLength)

	if attr.TLength < attr.MinReq+frameSize {
		attr.TLength = min(attr.MinReq+frameSize, attr.MaxLength)
	}

	var latency uint32
	switch {
	case mode&EarlyRequests != 0:
		latency = attr.MinReq
	case mode&AdjustLatency != 0:
		if attr.TLength > attr.MinReq*2 {
			latency = min(maxLatency, (attr.TLength-attr.MinReq*2)/2)
		} else {
			latency = attr.MinReq
		}
		latency = roundDown(latency, frameSize)
		if attr.TLength >= latency {
			attr.TLength -= latency
		}
	default:
		if attr.TLength > attr.MinReq*2 {
			latency = min(maxLatency, attr.TLength-attr.MinReq*2)
		} else {
			latency = attr.MinReq
		}
	}

	if attr.TLength < latency+2*attr.MinReq {
		attr.TLength = min(latency+2*attr.MinReq, attr.MaxLength)
	}

	attr.MinReq = roundDown(attr.MinReq, frameSize)
	if attr.MinReq == 0 {
		attr.MinReq = frameSize
		attr.TLength += frameSize * 2
	}
	if attr.TLength <= attr.MinReq {
		attr.TLength = min(attr.MinReq*2+frameSize, attr.MaxLength)
	}

	maxPrebuf := attr.TLength + frameSize - attr.MinReq
	if attr.PreBuf == Unset || attr.PreBuf > maxPrebuf {
		attr.PreBuf = maxPrebuf
	}
	attr.PreBuf = roundDown(attr.PreBuf, frameSize)
	attr.FragSize = 0

	lat := Fraction{latency / frameSize, ss.Rate}
	l.clampLatency(&lat)

	log.WithFields(logrus.Fields{
		"maxlength": attr.MaxLength, "tlength": attr.TLength, "minreq": attr.MinReq,
		"prebuf": attr.PreBuf, "latency": lat.String(),
	}).Debug("playback buffer attr negotiated")
	return lat
}

// FixRecord negotiates the attributes of a record stream in place and
// returns the latency the stream should run at.
func FixRecord(log *logrus.Entry, attr *BufferAttr, ss proto.SampleSpec, frameSize uint32, l *Limits) Fraction {
	frameSize = frameSizeOf(frameSize, ss)
	maxlength := roundDown(MaxLength, frameSize)

	log.WithFields(logrus.Fields{
		"maxlength": attr.MaxLength, "fragsize": attr.FragSize, "framesize": frameSize,
	}).Debug("record buffer attr requested")

	if attr.MaxLength == Unset || attr.MaxLength > maxlength {
		attr.MaxLength = maxlength
	} else {
		attr.MaxLength = roundDown(attr.MaxLength, frameSize)
	}
	attr.MaxLength = max(attr.MaxLength, frameSize)

	minfrag := FracToBytes(l.MinFrag, ss)
	if attr.FragSize == Unset || attr.FragSize == 0 {
		attr.FragSize = FracToBytes(l.DefaultFrag, ss)
	}
	attr.FragSize = clamp(attr.FragSize, minfrag, attr.MaxLength)
	attr.FragSize = roundUp(attr.FragSize, frameSize)

	attr.TLength, attr.MinReq, attr.PreBuf = 0, 0, 0

	// room for at least four fragments
	if attr.MaxLength < attr.FragSize*4 {
		attr.MaxLength = attr.FragSize * 4
		if attr.MaxLength > maxlength {
			attr.MaxLength = maxlength
			attr.FragSize = roundDown(maxlength/4, frameSize)
		}
	}

	lat := Fraction{attr.FragSize / frameSize, ss.Rate}
	l.clampLatency(&lat)

	log.WithFields(logrus.Fields{
		"maxlength": attr.MaxLength, "fragsize": attr.FragSize, "minfrag": minfrag,
		"latency": lat.String(),
	}).Debug("record buffer attr negotiated")
	return lat
}
