package module

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jfreymuth/pulsed/proto"
)

// Stream restore subcommands.
const (
	StreamRestoreTest = iota
	StreamRestoreRead
	StreamRestoreWrite
	StreamRestoreDelete
	StreamRestoreSubscribe
	StreamRestoreEvent
)

// StreamRestore stores per role and per application volumes for volume
// control applications.
var StreamRestore = &Info{
	Name:     "module-stream-restore",
	LoadOnce: true,
	Properties: map[string]string{
		"module.author":      "pulsed",
		"module.description": "Automatically restore the volume/mute/device state of streams",
		"module.usage":       "",
		"module.version":     "1.0",
	},
	Create: func(m *Module, args map[string]string) (Instance, error) {
		return &streamRestore{m: m, entries: map[string]*RestoreEntry{}, subscribers: map[Client]func(){}}, nil
	},
	Extension: []Subcommand{
		{"TEST", StreamRestoreTest, streamRestoreTest},
		{"READ", StreamRestoreRead, streamRestoreRead},
		{"WRITE", StreamRestoreWrite, streamRestoreWrite},
		{"DELETE", StreamRestoreDelete, streamRestoreDelete},
		{"SUBSCRIBE", StreamRestoreSubscribe, streamRestoreSubscribe},
	},
}

// RestoreEntry is one stored stream setting. Names look like
// sink-input-by-media-role:music.
type RestoreEntry struct {
	Name       string
	ChannelMap proto.ChannelMap
	Volume     proto.ChannelVolumes
	Device     string
	Mute       bool
}

// RouteKey returns the key under which the graph stores the setting of an
// entry name, or "" for names that are not understood.
func RouteKey(name string) string {
	direction := ""
	rest := ""
	switch {
	case strings.HasPrefix(name, "sink-input-by-"):
		direction, rest = "Output", name[len("sink-input-by-"):]
	case strings.HasPrefix(name, "source-output-by-"):
		direction, rest = "Input", name[len("source-output-by-"):]
	default:
		return ""
	}
	kind, value, ok := strings.Cut(rest, ":")
	if !ok {
		return ""
	}
	var key string
	switch kind {
	case "media-role":
		key = "media.role"
		if r, ok := proto.MediaRoleFromWire(value); ok {
			value = r
		}
	case "application-id":
		key = "application.id"
	case "application-name":
		key = "application.name"
	case "media-name":
		key = "media.name"
	default:
		return ""
	}
	return fmt.Sprintf("restore.stream.%s/Audio.%s:%s", direction, key, value)
}

type streamRestore struct {
	m           *Module
	entries     map[string]*RestoreEntry
	subscribers map[Client]func()
}

func (s *streamRestore) Load() error {
	s.m.Loaded(nil)
	return nil
}

func (s *streamRestore) Unload() error {
	for c, remove := range s.subscribers {
		remove()
		delete(s.subscribers, c)
	}
	return nil
}

// Entries returns the stored entries sorted by name.
func (s *streamRestore) Entries() []RestoreEntry {
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	list := make([]RestoreEntry, len(names))
	for i, n := range names {
		list[i] = *s.entries[n]
	}
	return list
}

func (s *streamRestore) notify() {
	for c := range s.subscribers {
		m := c.Pool().NewCommand(proto.OpExtension, 0)
		w := m.Writer()
		w.PutU32(s.m.Index)
		w.PutString(s.m.Name())
		w.PutU32(StreamRestoreEvent)
		c.Queue(m)
	}
}

func restoreOf(m *Module) *streamRestore { return m.Instance().(*streamRestore) }

func ack(c Client, tag uint32) {
	c.Queue(c.Pool().NewReply(tag))
}

func streamRestoreTest(m *Module, c Client, tag uint32, r *proto.ProtocolReader) error {
	if err := r.Done(); err != nil {
		return err
	}
	reply := c.Pool().NewReply(tag)
	reply.Writer().PutU32(1)
	c.Queue(reply)
	return nil
}

func streamRestoreRead(m *Module, c Client, tag uint32, r *proto.ProtocolReader) error {
	if err := r.Done(); err != nil {
		return err
	}
	reply := c.Pool().NewReply(tag)
	w := reply.Writer()
	for _, e := range restoreOf(m).Entries() {
		w.PutString(e.Name)
		w.PutChannelMap(e.ChannelMap)
		w.PutChannelVolumes(e.Volume)
		w.PutString(e.Device)
		w.PutBool(e.Mute)
	}
	c.Queue(reply)
	return nil
}

func streamRestoreWrite(m *Module, c Client, tag uint32, r *proto.ProtocolReader) error {
	mode := r.U32()
	apply := r.Bool()
	if err := r.Err(); err != nil {
		return err
	}
	if mode > proto.UpdateReplace {
		return proto.ErrInvalidArgument
	}
	var list []*RestoreEntry
	for r.Remaining() > 0 {
		e := &RestoreEntry{Name: r.String()}
		e.ChannelMap = r.ChannelMap()
		e.Volume = r.ChannelVolumes()
		e.Device = r.String()
		e.Mute = r.Bool()
		if err := r.Err(); err != nil {
			return err
		}
		if e.Name == "" {
			return proto.ErrInvalidArgument
		}
		if len(e.Volume) > 0 && len(e.ChannelMap) > 0 && len(e.Volume) != len(e.ChannelMap) {
			return proto.ErrInvalidArgument
		}
		list = append(list, e)
	}

	s := restoreOf(m)
	if mode == proto.UpdateSet {
		s.entries = map[string]*RestoreEntry{}
	}
	for _, e := range list {
		if _, ok := s.entries[e.Name]; ok && mode == proto.UpdateMerge {
			continue
		}
		s.entries[e.Name] = e
		m.Log.WithField("key", RouteKey(e.Name)).Debug("stored stream volume")
	}
	if apply {
		m.Log.Debug("stored volumes apply to new streams only")
	}
	ack(c, tag)
	s.notify()
	return nil
}

func streamRestoreDelete(m *Module, c Client, tag uint32, r *proto.ProtocolReader) error {
	s := restoreOf(m)
	for r.Remaining() > 0 {
		name := r.String()
		if err := r.Err(); err != nil {
			return err
		}
		delete(s.entries, name)
	}
	ack(c, tag)
	s.notify()
	return nil
}

func streamRestoreSubscribe(m *Module, c Client, tag uint32, r *proto.ProtocolReader) error {
	enable := r.Bool()
	if err := r.Done(); err != nil {
		return err
	}
	s := restoreOf(m)
	if remove, ok := s.subscribers[c]; ok && !enable {
		remove()
		delete(s.subscribers, c)
	} else if !ok && enable {
		s.subscribers[c] = c.OnDisconnect(func() { delete(s.subscribers, c) })
	}
	ack(c, tag)
	return nil
}
