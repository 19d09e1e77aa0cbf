package local

import (
	"encoding/json"

	"github.com/jfreymuth/pulsed/graph"
)

func parseNameJSON(s string) (string, bool) {
	var v struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil || v.Name == "" {
		return "", false
	}
	return v.Name, true
}

// setMetadataLocked stores a metadata value and forwards it to the bound
// metadata proxies. An empty value removes the key.
func (g *Graph) setMetadataLocked(subject uint32, key, typ, value string) {
	m := g.metadata.meta
	if value == "" {
		delete(m[subject], key)
	} else {
		if m[subject] == nil {
			m[subject] = make(map[string]metaValue)
		}
		m[subject][key] = metaValue{typ: typ, value: value}
	}
	proxies := append([]*proxy(nil), g.metadata.proxies...)
	g.exec.Invoke(func() {
		for _, p := range proxies {
			if ev := p.listener(); ev != nil {
				ev.Property(subject, key, typ, value)
			}
		}
	})
}

func (g *Graph) metadataSetPropertyLocked(subject uint32, key, typ, value string) error {
	if subject != graph.IDCore {
		if _, ok := g.objects[subject]; !ok {
			return graph.ErrNoEntity
		}
	}
	g.setMetadataLocked(subject, key, typ, value)
	switch {
	case subject == graph.IDCore && (key == "default.configured.audio.sink" || key == "default.configured.audio.source"):
		// The effective default follows the configured one while it exists.
		eff := "default." + key[len("default.configured."):]
		if value == "" {
			g.setMetadataLocked(subject, eff, "", "")
			g.pickDefaultsLocked()
		} else {
			g.setMetadataLocked(subject, eff, typ, value)
		}
		g.relinkDefaultStreamsLocked()
	case key == "target.object" || key == "target.node":
		if o := g.objects[subject]; o != nil && o.node != nil && o.node.stream != nil {
			if value == "" {
				delete(o.info.Props, "target.object")
			} else {
				o.info.Props["target.object"] = value
			}
			o.node.stream.retargetLocked(value)
		}
	}
	return nil
}

// sendMetadataLocked replays all metadata values to a newly bound proxy.
func (g *Graph) sendMetadataLocked(p *proxy) {
	type entry struct {
		subject         uint32
		key, typ, value string
	}
	var entries []entry
	for subject, kv := range g.metadata.meta {
		for k, v := range kv {
			entries = append(entries, entry{subject, k, v.typ, v.value})
		}
	}
	g.exec.Invoke(func() {
		ev := p.listener()
		if ev == nil {
			return
		}
		for _, e := range entries {
			ev.Property(e.subject, e.key, e.typ, e.value)
		}
	})
}
