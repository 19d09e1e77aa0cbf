package proto

import "strings"

// Sample formats as they appear in a sample spec.
const (
	FormatUint8      = 0
	FormatALaw       = 1
	FormatULaw       = 2
	FormatInt16LE    = 3
	FormatInt16BE    = 4
	FormatFloat32LE  = 5
	FormatFloat32BE  = 6
	FormatInt32LE    = 7
	FormatInt32BE    = 8
	FormatInt24LE    = 9
	FormatInt24BE    = 10
	FormatInt24_32LE = 11
	FormatInt24_32BE = 12

	FormatMax     = 13
	FormatInvalid = 0xFF
)

// Channel positions.
const (
	ChannelMono           = 0
	ChannelFrontLeft      = 1
	ChannelFrontRight     = 2
	ChannelFrontCenter    = 3
	ChannelRearCenter     = 4
	ChannelRearLeft       = 5
	ChannelRearRight      = 6
	ChannelLFE            = 7
	ChannelLeftCenter     = 8
	ChannelRightCenter    = 9
	ChannelSideLeft       = 10
	ChannelSideRight      = 11
	ChannelAux0           = 12
	ChannelAux31          = 43
	ChannelTopCenter      = 44
	ChannelTopFrontLeft   = 45
	ChannelTopFrontRight  = 46
	ChannelTopFrontCenter = 47
	ChannelTopRearLeft    = 48
	ChannelTopRearRight   = 49
	ChannelTopRearCenter  = 50

	ChannelLeft   = ChannelFrontLeft
	ChannelRight  = ChannelFrontRight
	ChannelCenter = ChannelFrontCenter

	ChannelPositionMax = 51
)

// ChannelsMax is the largest number of channels a sample spec, channel map
// or volume may carry.
const ChannelsMax = 32

// Format info encodings.
const (
	EncodingAny              = 0
	EncodingPCM              = 1
	EncodingAC3IEC61937      = 2
	EncodingEAC3IEC61937     = 3
	EncodingMPEGIEC61937     = 4
	EncodingDTSIEC61937      = 5
	EncodingMPEG2AACIEC61937 = 6
	EncodingTrueHDIEC61937   = 7
	EncodingDTSHDIEC61937    = 8
	EncodingMax              = 9
)

// Undefined is used for buffer attributes and indexes that are left to the server.
const Undefined = 0xFFFFFFFF

type SampleSpec struct {
	Format   byte
	Channels byte
	Rate     uint32
}

// Valid reports whether the sample spec describes a format the server can handle.
func (s SampleSpec) Valid() bool {
	return s.Format < FormatMax && s.Channels > 0 && s.Channels <= ChannelsMax &&
		s.Rate > 0 && s.Rate <= 48000*8
}

// FrameSize returns the size in bytes of one frame, or 0 for an invalid format.
func (s SampleSpec) FrameSize() uint32 {
	return FormatSampleSize(s.Format) * uint32(s.Channels)
}

// FormatSampleSize returns the size of one sample in the given format.
func FormatSampleSize(f byte) uint32 {
	switch f {
	case FormatUint8, FormatALaw, FormatULaw:
		return 1
	case FormatInt16LE, FormatInt16BE:
		return 2
	case FormatInt24LE, FormatInt24BE:
		return 3
	case FormatFloat32LE, FormatFloat32BE, FormatInt32LE, FormatInt32BE,
		FormatInt24_32LE, FormatInt24_32BE:
		return 4
	}
	return 0
}

// Silence fills buf with the silence value of format f.
func Silence(f byte, buf []byte) {
	var b byte
	switch f {
	case FormatUint8:
		b = 0x80
	case FormatALaw:
		b = 0xd5
	case FormatULaw:
		b = 0xff
	}
	for i := range buf {
		buf[i] = b
	}
}

var formatNames = [FormatMax]string{
	"U8", "ALAW", "ULAW", "S16LE", "S16BE", "F32LE", "F32BE",
	"S32LE", "S32BE", "S24LE", "S24BE", "S24_32LE", "S24_32BE",
}

// FormatName returns the graph name of a sample format.
func FormatName(f byte) string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "UNKNOWN"
}

// ParseFormat parses a format name. Names without an endianness suffix
// refer to the little endian variant.
func ParseFormat(name string) (byte, bool) {
	name = strings.ToUpper(name)
	switch name {
	case "S16", "S16NE":
		return FormatInt16LE, true
	case "F32", "FLOAT32", "F32NE":
		return FormatFloat32LE, true
	case "S32", "S32NE":
		return FormatInt32LE, true
	case "S24", "S24NE":
		return FormatInt24LE, true
	case "S24_32":
		return FormatInt24_32LE, true
	}
	for i, n := range formatNames {
		if n == name {
			return byte(i), true
		}
	}
	return FormatInvalid, false
}

type Microseconds uint64

type ChannelMap []byte

var channelNames = [ChannelPositionMax]string{
	"MONO", "FL", "FR", "FC", "RC", "RL", "RR", "LFE", "FLC", "FRC", "SL", "SR",
	"AUX0", "AUX1", "AUX2", "AUX3", "AUX4", "AUX5", "AUX6", "AUX7",
	"AUX8", "AUX9", "AUX10", "AUX11", "AUX12", "AUX13", "AUX14", "AUX15",
	"AUX16", "AUX17", "AUX18", "AUX19", "AUX20", "AUX21", "AUX22", "AUX23",
	"AUX24", "AUX25", "AUX26", "AUX27", "AUX28", "AUX29", "AUX30", "AUX31",
	"TC", "TFL", "TFR", "TFC", "TRL", "TRR", "TRC",
}

// ChannelName returns the short name of a channel position.
func ChannelName(pos byte) string {
	if int(pos) < len(channelNames) {
		return channelNames[pos]
	}
	return "UNK"
}

// ParseChannelMap parses a list of position names such as "[ FL FR ]" or "FL,FR".
func ParseChannelMap(s string) (ChannelMap, bool) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) == 0 || len(fields) > ChannelsMax {
		return nil, false
	}
	m := make(ChannelMap, 0, len(fields))
	for _, f := range fields {
		pos, ok := ParseChannelPosition(f)
		if !ok {
			return nil, false
		}
		m = append(m, pos)
	}
	return m, true
}

// ParseChannelPosition parses a single position name.
func ParseChannelPosition(name string) (byte, bool) {
	name = strings.ToUpper(strings.Trim(name, `"`))
	for i, n := range channelNames {
		if n == name {
			return byte(i), true
		}
	}
	return 0, false
}

// Names returns the position names of the map.
func (m ChannelMap) Names() []string {
	names := make([]string, len(m))
	for i, p := range m {
		names[i] = ChannelName(p)
	}
	return names
}

// Valid reports whether every position of the map is known.
func (m ChannelMap) Valid() bool {
	if len(m) == 0 || len(m) > ChannelsMax {
		return false
	}
	for _, p := range m {
		if p >= ChannelPositionMax {
			return false
		}
	}
	return true
}

// DefaultChannelMap returns the default positions for a channel count.
func DefaultChannelMap(channels int) ChannelMap {
	switch channels {
	case 1:
		return ChannelMap{ChannelMono}
	case 2:
		return ChannelMap{ChannelFrontLeft, ChannelFrontRight}
	case 3:
		return ChannelMap{ChannelFrontLeft, ChannelFrontRight, ChannelLFE}
	case 4:
		return ChannelMap{ChannelFrontLeft, ChannelFrontRight, ChannelRearLeft, ChannelRearRight}
	case 6:
		return ChannelMap{ChannelFrontLeft, ChannelFrontRight, ChannelFrontCenter,
			ChannelLFE, ChannelRearLeft, ChannelRearRight}
	case 8:
		return ChannelMap{ChannelFrontLeft, ChannelFrontRight, ChannelFrontCenter,
			ChannelLFE, ChannelRearLeft, ChannelRearRight, ChannelSideLeft, ChannelSideRight}
	}
	m := make(ChannelMap, channels)
	for i := range m {
		m[i] = byte(ChannelAux0 + i)
	}
	return m
}

type Time struct {
	Seconds      uint32
	Microseconds uint32
}

// PropList is a property list. Values are strings; entries carrying binary
// values are dropped when read.
type PropList map[string]string

// Update copies all entries of o into p.
func (p PropList) Update(o PropList) {
	for k, v := range o {
		p[k] = v
	}
}

// Copy returns a copy of p.
func (p PropList) Copy() PropList {
	c := make(PropList, len(p))
	c.Update(p)
	return c
}

// Property list update modes.
const (
	UpdateSet     = 0
	UpdateMerge   = 1
	UpdateReplace = 2
)

type FormatInfo struct {
	Encoding   byte
	Properties PropList
}
