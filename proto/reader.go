package proto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
	"strconv"
)

// Wire tags of the tag stream.
const (
	TagInvalid      = 0
	TagString       = 't'
	TagStringNull   = 'N'
	TagU32          = 'L'
	TagU8           = 'B'
	TagU64          = 'R'
	TagS64          = 'r'
	TagSampleSpec   = 'a'
	TagArbitrary    = 'x'
	TagBooleanTrue  = '1'
	TagBooleanFalse = '0'
	TagTimeval      = 'T'
	TagUsec         = 'U'
	TagChannelMap   = 'm'
	TagCVolume      = 'v'
	TagPropList     = 'P'
	TagVolume       = 'V'
	TagFormatInfo   = 'f'
)

// MaxTagSize is the largest property value accepted in a property list.
const MaxTagSize = 64 * 1024

// ProtocolReader parses a tag stream. The first error is sticky: all later
// reads return zero values and Err reports it.
type ProtocolReader struct {
	buf []byte
	pos int
	err error
}

// NewReader returns a reader over b.
func NewReader(b []byte) *ProtocolReader {
	return &ProtocolReader{buf: b}
}

// Reader returns a reader over the payload.
func (m *Message) Reader() *ProtocolReader {
	return &ProtocolReader{buf: m.data[:m.length]}
}

func (p *ProtocolReader) setErr(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *ProtocolReader) fail(format string, args ...interface{}) {
	p.setErr(fmt.Errorf("%w: "+format, append([]interface{}{ErrProtocolError}, args...)...))
}

func (p *ProtocolReader) invalid(format string, args ...interface{}) {
	p.setErr(fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidArgument}, args...)...))
}

// Err returns the first error encountered.
func (p *ProtocolReader) Err() error { return p.err }

// Remaining returns the number of unread bytes.
func (p *ProtocolReader) Remaining() int { return len(p.buf) - p.pos }

// Done reports an error if reading failed or if bytes are left over.
func (p *ProtocolReader) Done() error {
	if p.err != nil {
		return p.err
	}
	if p.pos != len(p.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrProtocolError, len(p.buf)-p.pos)
	}
	return nil
}

func (p *ProtocolReader) take(n int) []byte {
	if p.err != nil {
		return nil
	}
	if n < 0 || p.pos+n > len(p.buf) {
		p.fail("message truncated")
		return nil
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b
}

func (p *ProtocolReader) byte() byte {
	if b := p.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (p *ProtocolReader) uint32() uint32 {
	if b := p.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (p *ProtocolReader) uint64() uint64 {
	if b := p.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (p *ProtocolReader) string() string {
	if p.err != nil {
		return ""
	}
	n := bytes.IndexByte(p.buf[p.pos:], 0)
	if n < 0 {
		p.invalid("unterminated string")
		return ""
	}
	s := string(p.buf[p.pos : p.pos+n])
	p.pos += n + 1
	return s
}

func (p *ProtocolReader) tag(want byte) bool {
	t := p.byte()
	if p.err != nil {
		return false
	}
	if t != want {
		p.invalid("expected tag %q, got %q", want, t)
		return false
	}
	return true
}

// String reads a string. A null string reads as "".
func (p *ProtocolReader) String() string {
	s, _ := p.NullableString()
	return s
}

// NullableString reads a string and reports whether it was non-null.
func (p *ProtocolReader) NullableString() (string, bool) {
	switch t := p.byte(); {
	case p.err != nil:
		return "", false
	case t == TagString:
		s := p.string()
		return s, p.err == nil
	case t == TagStringNull:
		return "", false
	default:
		p.invalid("expected string, got %q", t)
		return "", false
	}
}

func (p *ProtocolReader) U32() uint32 {
	if !p.tag(TagU32) {
		return 0
	}
	return p.uint32()
}

func (p *ProtocolReader) U8() byte {
	if !p.tag(TagU8) {
		return 0
	}
	return p.byte()
}

func (p *ProtocolReader) U64() uint64 {
	if !p.tag(TagU64) {
		return 0
	}
	return p.uint64()
}

func (p *ProtocolReader) S64() int64 {
	if !p.tag(TagS64) {
		return 0
	}
	return int64(p.uint64())
}

func (p *ProtocolReader) Usec() Microseconds {
	if !p.tag(TagUsec) {
		return 0
	}
	return Microseconds(p.uint64())
}

func (p *ProtocolReader) Bool() bool {
	switch t := p.byte(); {
	case p.err != nil:
		return false
	case t == TagBooleanTrue:
		return true
	case t == TagBooleanFalse:
		return false
	default:
		p.invalid("expected boolean, got %q", t)
		return false
	}
}

func (p *ProtocolReader) SampleSpec() SampleSpec {
	if !p.tag(TagSampleSpec) {
		return SampleSpec{}
	}
	return SampleSpec{Format: p.byte(), Channels: p.byte(), Rate: p.uint32()}
}

// Arbitrary reads a byte blob. The result aliases the message buffer.
func (p *ProtocolReader) Arbitrary() []byte {
	if !p.tag(TagArbitrary) {
		return nil
	}
	return p.take(int(p.uint32()))
}

func (p *ProtocolReader) Time() Time {
	if !p.tag(TagTimeval) {
		return Time{}
	}
	return Time{Seconds: p.uint32(), Microseconds: p.uint32()}
}

func (p *ProtocolReader) ChannelMap() ChannelMap {
	if !p.tag(TagChannelMap) {
		return nil
	}
	n := int(p.byte())
	if n > ChannelsMax {
		p.invalid("too many channels: %d", n)
		return nil
	}
	b := p.take(n)
	if b == nil {
		return nil
	}
	return append(ChannelMap{}, b...)
}

func (p *ProtocolReader) ChannelVolumes() ChannelVolumes {
	if !p.tag(TagCVolume) {
		return nil
	}
	n := int(p.byte())
	if n > ChannelsMax {
		p.invalid("too many channels: %d", n)
		return nil
	}
	v := make(ChannelVolumes, n)
	for i := range v {
		v[i] = p.uint32()
	}
	if p.err != nil {
		return nil
	}
	return v
}

func (p *ProtocolReader) Volume() Volume {
	if !p.tag(TagVolume) {
		return 0
	}
	return Volume(p.uint32())
}

// PropList reads a property list, translating keys to their graph names.
func (p *ProtocolReader) PropList() PropList {
	if !p.tag(TagPropList) {
		return nil
	}
	props := make(PropList)
	p.propList(props, true)
	return props
}

func (p *ProtocolReader) propList(out PropList, remap bool) {
	for p.err == nil {
		key, ok := p.NullableString()
		if !ok {
			return
		}
		l := p.U32()
		if p.err != nil {
			return
		}
		if l > MaxTagSize {
			p.invalid("property %q too large", key)
			return
		}
		value := p.Arbitrary()
		if p.err != nil {
			return
		}
		if int(l) != len(value) {
			p.invalid("property %q length mismatch", key)
			return
		}
		// only NUL terminated values without embedded NULs are kept
		if len(value) == 0 || bytes.IndexByte(value, 0) != len(value)-1 {
			continue
		}
		k, v := key, string(value[:len(value)-1])
		if remap {
			k, v = remapFromWire(k, v)
		}
		out[k] = v
	}
}

func (p *ProtocolReader) FormatInfo() FormatInfo {
	if !p.tag(TagFormatInfo) {
		return FormatInfo{}
	}
	return p.formatInfo()
}

func (p *ProtocolReader) formatInfo() FormatInfo {
	var f FormatInfo
	if p.byte() != TagU8 {
		p.fail("format info without encoding")
		return f
	}
	f.Encoding = p.byte()
	if p.byte() != TagPropList {
		p.fail("format info without properties")
		return f
	}
	f.Properties = make(PropList)
	p.propList(f.Properties, false)
	return f
}

// Read decodes the fields of the struct pointed to by i in order. Fields
// tagged with a version number are only present from that version on, a
// tag of the form "<N" marks fields that were dropped in version N.
func (p *ProtocolReader) Read(i interface{}, version Version) error {
	p.value(reflect.ValueOf(i).Elem(), version)
	return p.err
}

func fieldPresent(tag reflect.StructTag, version Version) bool {
	s := string(tag)
	if s == "" {
		return true
	}
	if ver, err := strconv.Atoi(s); err == nil && ver > version.Version() {
		return false
	}
	if s[0] == '<' {
		if ver, err := strconv.Atoi(s[1:]); err == nil && ver <= version.Version() {
			return false
		}
	}
	return true
}

func (p *ProtocolReader) value(v reflect.Value, version Version) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		if p.err != nil {
			return
		}
		if !fieldPresent(t.Field(i).Tag, version) {
			continue
		}
		f := v.Field(i)
		switch x := f.Addr().Interface().(type) {
		case *string:
			*x = p.String()
		case *uint32:
			*x = p.U32()
		case *Version:
			*x = Version(p.U32())
		case *byte:
			*x = p.U8()
		case *uint64:
			*x = p.U64()
		case *int64:
			*x = p.S64()
		case *SampleSpec:
			*x = p.SampleSpec()
		case *[]byte:
			*x = append([]byte(nil), p.Arbitrary()...)
		case *bool:
			*x = p.Bool()
		case *Time:
			*x = p.Time()
		case *Microseconds:
			*x = p.Usec()
		case *ChannelMap:
			*x = p.ChannelMap()
		case *ChannelVolumes:
			*x = p.ChannelVolumes()
		case *PropList:
			*x = p.PropList()
		case *Volume:
			*x = p.Volume()
		case *FormatInfo:
			*x = p.FormatInfo()
		case *[]FormatInfo:
			n := int(p.U8())
			fi := make([]FormatInfo, 0, n)
			for j := 0; j < n && p.err == nil; j++ {
				fi = append(fi, p.FormatInfo())
			}
			*x = fi
		default:
			if f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.Struct {
				n := int(p.U32())
				if n > p.Remaining() {
					p.fail("list too long")
					return
				}
				fv := reflect.MakeSlice(f.Type(), n, n)
				for j := 0; j < n; j++ {
					p.value(fv.Index(j), version)
				}
				f.Set(fv)
			} else if f.Kind() == reflect.Struct {
				p.value(f, version)
			} else {
				panic("proto: cannot decode field of type " + f.Type().String())
			}
		}
	}
}
