package server

import (
	"strconv"
	"strings"

	"github.com/antonholmquist/jason"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/proto"
)

// quirks change the behaviour of the server for one client.
type quirks uint32

const (
	quirkForceS16Info quirks = 1 << iota
	quirkRemoveCaptureDontMove
	quirkBlockSourceVolume
	quirkBlockSinkVolume
	quirkBlockRecordStream
	quirkBlockPlaybackStream
)

var quirkNames = map[string]quirks{
	"force-s16-info":           quirkForceS16Info,
	"remove-capture-dont-move": quirkRemoveCaptureDontMove,
	"block-source-volume":      quirkBlockSourceVolume,
	"block-sink-volume":        quirkBlockSinkVolume,
	"block-record-stream":      quirkBlockRecordStream,
	"block-playback-stream":    quirkBlockPlaybackStream,
}

// parseQuirks reads a quirk list like "[ force-s16-info, block-sink-volume ]".
// Unknown names are ignored.
func parseQuirks(s string) quirks {
	var q quirks
	for _, f := range splitList(s) {
		q |= quirkNames[f]
	}
	return q
}

// splitList splits a list value. Brackets, commas and quotes are optional.
func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case '[', ']', ',', '"', ' ', '\t', '\n':
			return true
		}
		return false
	})
}

func (q quirks) has(f quirks) bool { return q&f != 0 }

// parseIndex parses a decimal object index as used in device names.
func parseIndex(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// metadataName extracts the node name from a default device metadata
// value. Values are either JSON objects {"name": ...} or plain names.
func metadataName(value string) string {
	if value == "" {
		return ""
	}
	o, err := jason.NewObjectFromBytes([]byte(value))
	if err != nil {
		return value
	}
	name, err := o.GetString("name")
	if err != nil {
		return ""
	}
	return name
}

// metadataValue encodes a node name for the default device metadata.
func metadataValue(name string) string {
	return `{ "name": ` + strconv.Quote(name) + ` }`
}

// updateProps applies a proplist update to props and returns the keys that
// changed, with removed keys mapped to "".
func updateProps(props graph.Props, mode uint32, update proto.PropList) graph.Props {
	changed := graph.Props{}
	if mode == proto.UpdateReplace {
		for k := range props {
			if _, ok := update[k]; !ok {
				changed[k] = ""
				delete(props, k)
			}
		}
	}
	for k, v := range update {
		if old, ok := props[k]; ok && (old == v || mode == proto.UpdateMerge) {
			continue
		}
		props[k] = v
		changed[k] = v
	}
	return changed
}

// removeProps deletes keys from props and returns the removed keys mapped
// to "".
func removeProps(props graph.Props, keys []string) graph.Props {
	changed := graph.Props{}
	for _, k := range keys {
		if _, ok := props[k]; ok {
			delete(props, k)
			changed[k] = ""
		}
	}
	return changed
}
