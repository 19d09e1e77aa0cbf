package proto

import "fmt"

// Property keys differ between the graph and the wire. Keys are translated
// when property lists of objects are read or written; format properties are
// passed through unchanged.
var propKeys = []struct {
	graph, wire string
	values      []valueMap
}{
	{"device.bus-path", "device.bus_path", nil},
	{"device.sysfs.path", "sysfs.path", nil},
	{"device.form-factor", "device.form_factor", nil},
	{"device.icon-name", "device.icon_name", nil},
	{"device.intended-roles", "device.intended_roles", nil},
	{"node.description", "device.description", nil},
	{"media.icon-name", "media.icon_name", nil},
	{"application.icon-name", "application.icon_name", nil},
	{"application.process.machine-id", "application.process.machine_id", nil},
	{"application.process.session-id", "application.process.session_id", nil},
	{"media.role", "media.role", MediaRoles},
	{"pipe.filename", "device.string", nil},
}

type valueMap struct{ Graph, Wire string }

// MediaRoles maps graph media roles to wire media roles.
var MediaRoles = []valueMap{
	{"Movie", "video"},
	{"Music", "music"},
	{"Game", "game"},
	{"Notification", "event"},
	{"Communication", "phone"},
	{"Movie", "animation"},
	{"Production", "production"},
	{"Accessibility", "a11y"},
	{"Test", "test"},
}

// MediaRoleToWire returns the wire name of a graph media role.
func MediaRoleToWire(role string) (string, bool) {
	for _, m := range MediaRoles {
		if m.Graph == role {
			return m.Wire, true
		}
	}
	return "", false
}

// MediaRoleFromWire returns the graph name of a wire media role.
func MediaRoleFromWire(role string) (string, bool) {
	for _, m := range MediaRoles {
		if m.Wire == role {
			return m.Graph, true
		}
	}
	return "", false
}

func remapFromWire(key, value string) (string, string) {
	for _, k := range propKeys {
		if k.wire != key {
			continue
		}
		for _, v := range k.values {
			if v.Wire == value {
				return k.graph, v.Graph
			}
		}
		return k.graph, value
	}
	return key, value
}

func remapToWire(key, value string) (string, string) {
	for _, k := range propKeys {
		if k.graph != key {
			continue
		}
		for _, v := range k.values {
			if v.Graph == value {
				return k.wire, v.Wire
			}
		}
		return k.wire, value
	}
	return key, value
}

// StreamGroup returns the stream-restore key of a stream with the given
// properties, or "" if the properties do not identify a stream.
func StreamGroup(props PropList) string {
	var prefix string
	switch props["media.class"] {
	case "Stream/Output/Audio":
		prefix = "sink-input"
	case "Stream/Input/Audio":
		prefix = "source-output"
	default:
		return ""
	}
	if role, ok := props["media.role"]; ok {
		if r, ok := MediaRoleToWire(role); ok {
			role = r
		}
		return fmt.Sprintf("%s-by-media-role:%s", prefix, role)
	}
	for _, k := range []struct{ key, id string }{
		{"application.id", "application-id"},
		{"application.name", "application-name"},
		{"media.name", "media-name"},
	} {
		if v, ok := props[k.key]; ok {
			return fmt.Sprintf("%s-by-%s:%s", prefix, k.id, v)
		}
	}
	return ""
}
