package proto

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocolReaderUint32(t *testing.T) {
	r := NewReader(prepareUint32Buf())

	for i := uint32(0); i < 1000; i++ {
		d := r.uint32()
		require.NoError(t, r.Err())
		require.Equal(t, i, d)
	}
	assert.Equal(t, 4000, r.pos)
	assert.NoError(t, r.Done())
}

func BenchmarkProtocolReaderUint32(b *testing.B) {
	buf := prepareUint32Buf()

	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		r := NewReader(buf)
		for i := uint32(0); i < 1000; i++ {
			if d := r.uint32(); d != i {
				b.Fatalf("expecting read %d, got %d", i, d)
			}
		}
	}
}

func prepareUint32Buf() []byte {
	buf := make([]byte, 4000)
	for i := 0; i < 1000; i++ {
		binary.BigEndian.PutUint32(buf[i*4:], uint32(i))
	}
	return buf
}

func TestProtocolReaderTruncated(t *testing.T) {
	r := NewReader([]byte{TagU32, 0, 0})
	assert.Zero(t, r.U32())
	assert.ErrorIs(t, r.Err(), ErrProtocolError)
	// errors are sticky
	assert.Zero(t, r.U8())
	assert.ErrorIs(t, r.Err(), ErrProtocolError)
}

func TestProtocolReaderTagMismatch(t *testing.T) {
	r := NewReader([]byte{TagU8, 7})
	r.U32()
	assert.ErrorIs(t, r.Err(), ErrInvalidArgument)
}

func TestProtocolReaderStrings(t *testing.T) {
	r := NewReader([]byte{TagString, 'a', 'b', 0, TagStringNull, TagString, 'x'})
	s, ok := r.NullableString()
	assert.True(t, ok)
	assert.Equal(t, "ab", s)
	s, ok = r.NullableString()
	assert.False(t, ok)
	assert.Equal(t, "", s)
	assert.NoError(t, r.Err())
	_ = r.String()
	assert.ErrorIs(t, r.Err(), ErrInvalidArgument)
}

func TestProtocolReaderChannelLimits(t *testing.T) {
	r := NewReader([]byte{TagChannelMap, ChannelsMax + 1})
	assert.Nil(t, r.ChannelMap())
	assert.ErrorIs(t, r.Err(), ErrInvalidArgument)

	r = NewReader([]byte{TagCVolume, ChannelsMax + 1})
	assert.Nil(t, r.ChannelVolumes())
	assert.ErrorIs(t, r.Err(), ErrInvalidArgument)
}

func TestProtocolReaderTrailingBytes(t *testing.T) {
	r := NewReader([]byte{TagBooleanTrue, TagBooleanFalse})
	assert.True(t, r.Bool())
	assert.ErrorIs(t, r.Done(), ErrProtocolError)
}

func propEntry(key string, length uint32, value []byte) []byte {
	b := []byte{TagString}
	b = append(b, key...)
	b = append(b, 0, TagU32)
	b = binary.BigEndian.AppendUint32(b, length)
	b = append(b, TagArbitrary)
	b = binary.BigEndian.AppendUint32(b, uint32(len(value)))
	return append(b, value...)
}

func TestProtocolReaderPropList(t *testing.T) {
	tests := []struct {
		name    string
		entries [][]byte
		want    PropList
		err     error
	}{
		{
			name:    "plain",
			entries: [][]byte{propEntry("media.name", 4, []byte("abc\x00"))},
			want:    PropList{"media.name": "abc"},
		},
		{
			name: "not terminated is skipped",
			entries: [][]byte{
				propEntry("binary", 3, []byte("abc")),
				propEntry("embedded", 4, []byte("a\x00c\x00")),
				propEntry("ok", 2, []byte("1\x00")),
			},
			want: PropList{"ok": "1"},
		},
		{
			name:    "keys are translated",
			entries: [][]byte{propEntry("device.icon_name", 5, []byte("card\x00"))},
			want:    PropList{"device.icon-name": "card"},
		},
		{
			name:    "role values are translated",
			entries: [][]byte{propEntry("media.role", 6, []byte("music\x00"))},
			want:    PropList{"media.role": "Music"},
		},
		{
			name:    "length mismatch",
			entries: [][]byte{propEntry("a", 3, []byte("b\x00"))},
			err:     ErrInvalidArgument,
		},
		{
			name:    "too large",
			entries: [][]byte{propEntry("a", MaxTagSize+1, []byte("b\x00"))},
			err:     ErrInvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := []byte{TagPropList}
			for _, e := range tt.entries {
				b = append(b, e...)
			}
			b = append(b, TagStringNull)
			r := NewReader(b)
			got := r.PropList()
			if tt.err != nil {
				assert.ErrorIs(t, r.Err(), tt.err)
				return
			}
			require.NoError(t, r.Done())
			assert.Equal(t, tt.want, got)
		})
	}
}
