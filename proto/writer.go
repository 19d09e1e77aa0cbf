package proto

import (
	"encoding/binary"
	"reflect"
	"sort"
)

// ProtocolWriter appends a tag stream to a message.
type ProtocolWriter struct {
	m *Message
}

// Writer returns a writer appending to the payload of m.
func (m *Message) Writer() *ProtocolWriter {
	return &ProtocolWriter{m: m}
}

func (p *ProtocolWriter) grow(n int) []byte {
	m := p.m
	m.ensure(n)
	b := m.data[m.length : m.length+n]
	m.length += n
	return b
}

func (p *ProtocolWriter) byte(b byte) {
	p.grow(1)[0] = b
}

func (p *ProtocolWriter) uint32(u uint32) {
	binary.BigEndian.PutUint32(p.grow(4), u)
}

func (p *ProtocolWriter) uint64(u uint64) {
	binary.BigEndian.PutUint64(p.grow(8), u)
}

func (p *ProtocolWriter) string(s string) {
	b := p.grow(len(s) + 1)
	copy(b, s)
	b[len(s)] = 0
}

// PutString writes s, or a null string if s is empty.
func (p *ProtocolWriter) PutString(s string) {
	if s == "" {
		p.byte(TagStringNull)
		return
	}
	p.byte(TagString)
	p.string(s)
}

func (p *ProtocolWriter) PutU32(u uint32) {
	p.byte(TagU32)
	p.uint32(u)
}

func (p *ProtocolWriter) PutU8(b byte) {
	p.byte(TagU8)
	p.byte(b)
}

func (p *ProtocolWriter) PutU64(u uint64) {
	p.byte(TagU64)
	p.uint64(u)
}

func (p *ProtocolWriter) PutS64(i int64) {
	p.byte(TagS64)
	p.uint64(uint64(i))
}

func (p *ProtocolWriter) PutUsec(u Microseconds) {
	p.byte(TagUsec)
	p.uint64(uint64(u))
}

func (p *ProtocolWriter) PutBool(b bool) {
	if b {
		p.byte(TagBooleanTrue)
	} else {
		p.byte(TagBooleanFalse)
	}
}

func (p *ProtocolWriter) PutSampleSpec(s SampleSpec) {
	if s.Channels > ChannelsMax {
		s.Channels = ChannelsMax
	}
	p.byte(TagSampleSpec)
	p.byte(s.Format)
	p.byte(s.Channels)
	p.uint32(s.Rate)
}

func (p *ProtocolWriter) PutArbitrary(b []byte) {
	p.byte(TagArbitrary)
	p.uint32(uint32(len(b)))
	copy(p.grow(len(b)), b)
}

func (p *ProtocolWriter) PutTime(t Time) {
	p.byte(TagTimeval)
	p.uint32(t.Seconds)
	p.uint32(t.Microseconds)
}

func (p *ProtocolWriter) PutChannelMap(m ChannelMap) {
	if len(m) > ChannelsMax {
		m = m[:ChannelsMax]
	}
	p.byte(TagChannelMap)
	p.byte(byte(len(m)))
	copy(p.grow(len(m)), m)
}

func (p *ProtocolWriter) PutChannelVolumes(v ChannelVolumes) {
	if len(v) > ChannelsMax {
		v = v[:ChannelsMax]
	}
	p.byte(TagCVolume)
	p.byte(byte(len(v)))
	for _, u := range v {
		p.uint32(u)
	}
}

func (p *ProtocolWriter) PutVolume(v Volume) {
	p.byte(TagVolume)
	p.uint32(uint32(v))
}

// PutPropList writes a property list with keys translated to their wire
// names. Stream properties additionally carry their stream-restore key.
func (p *ProtocolWriter) PutPropList(list PropList) {
	p.byte(TagPropList)
	p.propList(list, true)
}

func (p *ProtocolWriter) propList(list PropList, remap bool) {
	keys := make([]string, 0, len(list))
	for k := range list {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key, value := k, list[k]
		if remap {
			key, value = remapToWire(key, value)
		}
		p.propEntry(key, value)
	}
	if remap {
		if g := StreamGroup(list); g != "" {
			p.propEntry("module-stream-restore.id", g)
		}
	}
	p.byte(TagStringNull)
}

func (p *ProtocolWriter) propEntry(key, value string) {
	p.byte(TagString)
	p.string(key)
	p.PutU32(uint32(len(value) + 1))
	p.byte(TagArbitrary)
	p.uint32(uint32(len(value) + 1))
	p.string(value)
}

func (p *ProtocolWriter) PutFormatInfo(f FormatInfo) {
	p.byte(TagFormatInfo)
	p.PutU8(f.Encoding)
	p.byte(TagPropList)
	p.propList(f.Properties, false)
}

// Write encodes the fields of the struct pointed to by i, honoring the same
// version tags as ProtocolReader.Read.
func (p *ProtocolWriter) Write(i interface{}, version Version) {
	if i == nil {
		return
	}
	p.value(reflect.ValueOf(i).Elem(), version)
}

func (p *ProtocolWriter) value(v reflect.Value, version Version) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		if !fieldPresent(t.Field(i).Tag, version) {
			continue
		}
		f := v.Field(i)
		switch x := f.Interface().(type) {
		case string:
			p.PutString(x)
		case uint32:
			p.PutU32(x)
		case Version:
			p.PutU32(uint32(x))
		case byte:
			p.PutU8(x)
		case uint64:
			p.PutU64(x)
		case int64:
			p.PutS64(x)
		case SampleSpec:
			p.PutSampleSpec(x)
		case []byte:
			p.PutArbitrary(x)
		case bool:
			p.PutBool(x)
		case Time:
			p.PutTime(x)
		case Microseconds:
			p.PutUsec(x)
		case ChannelMap:
			p.PutChannelMap(x)
		case ChannelVolumes:
			p.PutChannelVolumes(x)
		case PropList:
			p.PutPropList(x)
		case Volume:
			p.PutVolume(x)
		case FormatInfo:
			p.PutFormatInfo(x)
		case []FormatInfo:
			p.PutU8(byte(len(x)))
			for _, fi := range x {
				p.PutFormatInfo(fi)
			}
		default:
			if f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.Struct {
				p.PutU32(uint32(f.Len()))
				for j := 0; j < f.Len(); j++ {
					p.value(f.Index(j), version)
				}
			} else if f.Kind() == reflect.Struct {
				p.value(f, version)
			} else {
				panic("proto: cannot encode field of type " + f.Type().String())
			}
		}
	}
}
