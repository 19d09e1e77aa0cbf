package collect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/antonholmquist/jason"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/manager"
	"github.com/jfreymuth/pulsed/proto"
)

// ErrFormat is returned for formats that cannot be represented.
var ErrFormat = errors.New("unsupported format")

var encodings = []struct {
	enc   byte
	codec string
}{
	{proto.EncodingPCM, "pcm"},
	{proto.EncodingAC3IEC61937, "ac3"},
	{proto.EncodingEAC3IEC61937, "eac3"},
	{proto.EncodingMPEGIEC61937, "mpeg"},
	{proto.EncodingDTSIEC61937, "dts"},
	{proto.EncodingMPEG2AACIEC61937, "mpeg2-aac"},
	{proto.EncodingTrueHDIEC61937, "truehd"},
	{proto.EncodingDTSHDIEC61937, "dtshd"},
}

// EncodingCodec returns the IEC958 codec carrying encoding enc, or "".
func EncodingCodec(enc byte) string {
	for _, e := range encodings {
		if e.enc == enc {
			return e.codec
		}
	}
	return ""
}

// CodecEncoding returns the encoding of an IEC958 codec, or EncodingAny.
func CodecEncoding(codec string) byte {
	for _, e := range encodings {
		if e.codec == codec {
			return e.enc
		}
	}
	return proto.EncodingAny
}

// ParseFormat decodes a Format or EnumFormat parameter into ss and m.
// Fields missing from the parameter are left untouched. If def is set it is
// copied into ss before a raw format is applied; otherwise a raw format
// without sample format or channels is rejected. With enumerate set,
// compressed formats are skipped.
func ParseFormat(blob []byte, enumerate bool, def *proto.SampleSpec, ss *proto.SampleSpec, m *proto.ChannelMap) error {
	o, err := jason.NewObjectFromBytes(blob)
	if err != nil {
		return err
	}
	if t, _ := o.GetString("mediaType"); t != "audio" {
		return ErrFormat
	}
	var f graph.Format
	sub, _ := o.GetString("mediaSubtype")
	switch sub {
	case "raw":
		f.Format = optString(o, "format")
		f.Rate = optUint(o, "rate")
		f.Channels = optUint(o, "channels")
		f.Position, _ = o.GetStringArray("position")
		if def != nil {
			*ss = *def
		} else {
			if f.Rate == 0 {
				f.Rate = 48000
			}
			if f.Format == "" || f.Channels == 0 {
				return ErrFormat
			}
		}
	case "iec958":
		if enumerate {
			break
		}
		f.Format = "S16LE"
		f.Rate = optUint(o, "rate")
		f.Channels = 2
		f.Position = []string{"FL", "FR"}
		switch optString(o, "iec958Codec") {
		case "truehd", "dtshd":
			f.Channels = 8
			f.Position = []string{"FL", "FR", "FC", "LFE", "SL", "SR", "RL", "RR"}
		}
	default:
		return ErrFormat
	}
	if f.Format != "" {
		if pf, ok := proto.ParseFormat(f.Format); ok {
			ss.Format = pf
		}
	}
	if f.Rate != 0 {
		ss.Rate = f.Rate
	}
	if f.Channels != 0 {
		n := f.Channels
		if n > proto.ChannelsMax {
			n = proto.ChannelsMax
		}
		ss.Channels = byte(n)
		cm := make(proto.ChannelMap, n)
		for i := range cm {
			if i < len(f.Position) {
				cm[i], _ = proto.ParseChannelPosition(f.Position[i])
			}
		}
		*m = cm
	}
	return nil
}

// FormatInfos lists the formats a device accepts, for clients that
// negotiate formats. Plain PCM is listed once, compressed formats with the
// rates they support.
func FormatInfos(o *manager.Object) []proto.FormatInfo {
	var infos []proto.FormatInfo
	for _, p := range o.ParamsByID(graph.ParamEnumFormat) {
		if len(infos) >= 32 {
			break
		}
		j, err := jason.NewObjectFromBytes(p.Blob)
		if err != nil {
			continue
		}
		if t, _ := j.GetString("mediaType"); t != "audio" {
			continue
		}
		switch sub, _ := j.GetString("mediaSubtype"); sub {
		case "raw":
			infos = append(infos, proto.FormatInfo{Encoding: proto.EncodingPCM, Properties: proto.PropList{}})
		case "iec958":
			enc := CodecEncoding(optString(j, "iec958Codec"))
			if enc == proto.EncodingAny || enc == proto.EncodingPCM {
				continue
			}
			props := proto.PropList{}
			if rate := optUint(j, "rate"); rate != 0 {
				props["format.rate"] = strconv.Itoa(int(rate))
			}
			infos = append(infos, proto.FormatInfo{Encoding: enc, Properties: props})
		}
	}
	return infos
}

var sampleFormatNames = [proto.FormatMax]string{
	"u8", "aLaw", "uLaw", "s16le", "s16be", "float32le", "float32be",
	"s32le", "s32be", "s24le", "s24be", "s24-32le", "s24-32be",
}

var channelPositionNames = [...]string{
	"mono", "front-left", "front-right", "front-center", "rear-center",
	"rear-left", "rear-right", "lfe", "front-left-of-center",
	"front-right-of-center", "side-left", "side-right",
}

var channelPositionTop = [...]string{
	"top-center", "top-front-left", "top-front-right", "top-front-center",
	"top-rear-left", "top-rear-right", "top-rear-center",
}

func channelPositionName(pos byte) string {
	switch {
	case int(pos) < len(channelPositionNames):
		return channelPositionNames[pos]
	case pos >= proto.ChannelAux0 && pos <= proto.ChannelAux31:
		return fmt.Sprintf("aux%d", pos-proto.ChannelAux0)
	case pos >= proto.ChannelTopCenter && pos < proto.ChannelPositionMax:
		return channelPositionTop[pos-proto.ChannelTopCenter]
	}
	return "invalid"
}

func parseChannelPositionName(name string) (byte, bool) {
	for i, n := range channelPositionNames {
		if n == name {
			return byte(i), true
		}
	}
	for i, n := range channelPositionTop {
		if n == name {
			return byte(proto.ChannelTopCenter + i), true
		}
	}
	switch name {
	case "left":
		return proto.ChannelFrontLeft, true
	case "right":
		return proto.ChannelFrontRight, true
	case "center":
		return proto.ChannelFrontCenter, true
	case "subwoofer":
		return proto.ChannelLFE, true
	}
	if strings.HasPrefix(name, "aux") {
		if n, err := strconv.Atoi(name[3:]); err == nil && n >= 0 && n < 32 {
			return byte(proto.ChannelAux0 + n), true
		}
	}
	return 0, false
}

// FormatInfoFromSpec describes a PCM sample spec as a format info.
func FormatInfoFromSpec(ss proto.SampleSpec, m proto.ChannelMap) proto.FormatInfo {
	props := proto.PropList{
		"format.sample_format": strconv.Quote(sampleFormatNames[ss.Format]),
		"format.rate":          strconv.Itoa(int(ss.Rate)),
		"format.channels":      strconv.Itoa(int(ss.Channels)),
	}
	if len(m) == int(ss.Channels) {
		names := make([]string, len(m))
		for i, p := range m {
			names[i] = channelPositionName(p)
		}
		props["format.channel_map"] = strconv.Quote(strings.Join(names, ","))
	}
	return proto.FormatInfo{Encoding: proto.EncodingPCM, Properties: props}
}

func jsonValue(props proto.PropList, key string) (*jason.Value, error) {
	s, ok := props[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrFormat, key)
	}
	return jason.NewValueFromBytes([]byte(s))
}

// FormatInfoToSpec converts a PCM format info to a sample spec and channel
// map. Properties given as ranges or lists are not supported.
func FormatInfoToSpec(fi proto.FormatInfo) (proto.SampleSpec, proto.ChannelMap, error) {
	var ss proto.SampleSpec
	if fi.Encoding != proto.EncodingPCM {
		return ss, nil, ErrFormat
	}
	v, err := jsonValue(fi.Properties, "format.sample_format")
	if err != nil {
		return ss, nil, err
	}
	name, err := v.String()
	if err != nil {
		return ss, nil, ErrFormat
	}
	ss.Format = proto.FormatInvalid
	for i, n := range sampleFormatNames {
		if strings.EqualFold(n, name) {
			ss.Format = byte(i)
		}
	}
	if ss.Format == proto.FormatInvalid {
		return ss, nil, ErrFormat
	}
	rate, err := formatInfoRate(fi)
	if err != nil {
		return ss, nil, err
	}
	ss.Rate = rate
	if v, err = jsonValue(fi.Properties, "format.channels"); err != nil {
		return ss, nil, err
	}
	ch, err := v.Float64()
	if err != nil {
		return ss, nil, ErrFormat
	}
	ss.Channels = byte(ch)

	var m proto.ChannelMap
	if _, ok := fi.Properties["format.channel_map"]; ok {
		v, err := jsonValue(fi.Properties, "format.channel_map")
		if err != nil {
			return ss, nil, err
		}
		s, err := v.String()
		if err != nil {
			return ss, nil, ErrFormat
		}
		for _, n := range strings.Split(s, ",") {
			pos, ok := parseChannelPositionName(n)
			if !ok {
				return ss, nil, ErrFormat
			}
			m = append(m, pos)
		}
	}
	return ss, m, nil
}

func formatInfoRate(fi proto.FormatInfo) (uint32, error) {
	v, err := jsonValue(fi.Properties, "format.rate")
	if err != nil {
		return 0, err
	}
	r, err := v.Int64()
	if err != nil {
		return 0, ErrFormat
	}
	return uint32(r), nil
}

// GraphFormat converts a format info requested by a client into a graph
// stream format. Compressed formats keep their rate if one is given.
func GraphFormat(fi proto.FormatInfo) (graph.Format, error) {
	if fi.Encoding == proto.EncodingPCM {
		ss, m, err := FormatInfoToSpec(fi)
		if err != nil {
			return graph.Format{}, err
		}
		return SpecFormat(ss, m), nil
	}
	codec := EncodingCodec(fi.Encoding)
	if codec == "" || codec == "pcm" {
		return graph.Format{}, ErrFormat
	}
	f := graph.Format{Encoding: codec}
	if r, err := formatInfoRate(fi); err == nil {
		f.Rate = r
	}
	return f, nil
}

// SpecFormat converts a sample spec and channel map to a graph format.
// Unset fields of ss leave the choice to the graph.
func SpecFormat(ss proto.SampleSpec, m proto.ChannelMap) graph.Format {
	f := graph.Format{Rate: ss.Rate, Channels: uint32(ss.Channels)}
	if ss.Format < proto.FormatMax {
		f.Format = proto.FormatName(ss.Format)
	}
	if len(m) == int(ss.Channels) {
		f.Position = m.Names()
	}
	return f
}

// FormatSpec converts a negotiated graph format back to a sample spec.
func FormatSpec(f graph.Format) (proto.SampleSpec, proto.ChannelMap, error) {
	ss := proto.SampleSpec{Rate: f.Rate, Channels: byte(f.Channels)}
	pf, ok := proto.ParseFormat(f.Format)
	if !ok {
		return ss, nil, ErrFormat
	}
	ss.Format = pf
	m := make(proto.ChannelMap, f.Channels)
	for i := range m {
		if i < len(f.Position) {
			m[i], _ = proto.ParseChannelPosition(f.Position[i])
		}
	}
	if len(f.Position) == 0 {
		m = proto.DefaultChannelMap(int(f.Channels))
	}
	return ss, m, nil
}
