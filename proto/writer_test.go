package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allTags struct {
	S      string
	Null   string
	U32    uint32
	U8     byte
	U64    uint64
	S64    int64
	Spec   SampleSpec
	Blob   []byte
	B      bool
	T      Time
	Usec   Microseconds
	Map    ChannelMap
	Vol    ChannelVolumes
	Props  PropList
	V      Volume
	Format FormatInfo
	List   []struct {
		Name string
		N    uint32 "20"
	}
	Formats []FormatInfo
	New     uint32 "30"
	Old     uint32 "<30"
}

func TestRoundTrip(t *testing.T) {
	in := allTags{
		S:      "hello",
		U32:    0xdeadbeef,
		U8:     7,
		U64:    1 << 40,
		S64:    -12345,
		Spec:   SampleSpec{Format: FormatFloat32LE, Channels: 2, Rate: 48000},
		Blob:   []byte{0, 1, 2},
		B:      true,
		T:      Time{Seconds: 10, Microseconds: 20},
		Usec:   99,
		Map:    ChannelMap{ChannelFrontLeft, ChannelFrontRight},
		Vol:    ChannelVolumes{uint32(VolumeNorm), 0},
		Props:  PropList{"application.name": "test", "media.role": "Music"},
		V:      VolumeNorm,
		Format: FormatInfo{Encoding: EncodingPCM, Properties: PropList{"format.rate": "44100"}},
		Formats: []FormatInfo{
			{Encoding: EncodingAC3IEC61937, Properties: PropList{}},
		},
		New: 1,
		Old: 2,
	}
	in.List = append(in.List, struct {
		Name string
		N    uint32 "20"
	}{"a", 1})

	for _, version := range []Version{13, 35} {
		pool := NewPool()
		m := pool.Get(ControlChannel, 0)
		m.Writer().Write(&in, version)

		var out allTags
		r := m.Reader()
		require.NoError(t, r.Read(&out, version))
		require.NoError(t, r.Done())

		want := in
		if version < 20 {
			want.List = append(want.List[:0:0], in.List...)
			want.List[0].N = 0
		}
		if version < 30 {
			want.New = 0
		} else {
			want.Old = 0
		}
		assert.Equal(t, want.Spec, out.Spec)
		assert.Equal(t, want.Props, out.Props)
		assert.Equal(t, want.Format, out.Format)
		assert.Equal(t, want, out)
	}
}

func TestWriterStreamGroup(t *testing.T) {
	pool := NewPool()
	m := pool.Get(ControlChannel, 0)
	m.Writer().PutPropList(PropList{
		"media.class": "Stream/Output/Audio",
		"media.role":  "Music",
	})
	got := m.Reader().PropList()
	assert.Equal(t, "sink-input-by-media-role:music", got["module-stream-restore.id"])
	assert.Equal(t, "Music", got["media.role"])
}

func TestWriterNullString(t *testing.T) {
	pool := NewPool()
	m := pool.Get(ControlChannel, 0)
	m.Writer().PutString("")
	assert.Equal(t, []byte{TagStringNull}, m.Bytes())
}
