package collect

import (
	"github.com/antonholmquist/jason"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/manager"
)

// Availability of a profile or port as sent to clients.
const (
	AvailableUnknown = 0
	AvailableNo      = 1
	AvailableYes     = 2
)

func availability(s string) uint32 {
	switch s {
	case graph.AvailableNo:
		return AvailableNo
	case graph.AvailableYes:
		return AvailableYes
	}
	return AvailableUnknown
}

// CardInfo summarizes the profile state of a card.
type CardInfo struct {
	NumProfiles       int
	ActiveProfile     int32
	ActiveProfileName string
	NumPorts          int
}

// ProfileInfo is one decoded EnumProfile value.
type ProfileInfo struct {
	Index       int32
	Name        string
	Description string
	Priority    uint32
	Available   uint32
	NumSinks    uint32
	NumSources  uint32
}

// PortInfo is one decoded EnumRoute value.
type PortInfo struct {
	Index             int32
	Direction         graph.Direction
	Name              string
	Description       string
	Priority          uint32
	Available         uint32
	Devices           []int32
	Profiles          []int32
	Props             graph.Props
	AvailabilityGroup string
	Type              uint32
}

// CodecInfo is a transport codec of a bluetooth card.
type CodecInfo struct {
	ID          int
	Name        string
	Description string
}

func decode(p manager.Param) *jason.Object {
	o, err := jason.NewObjectFromBytes(p.Blob)
	if err != nil {
		return nil
	}
	return o
}

func optString(o *jason.Object, key string) string {
	s, _ := o.GetString(key)
	return s
}

func optUint(o *jason.Object, key string) uint32 {
	n, _ := o.GetInt64(key)
	return uint32(n)
}

func int32Array(o *jason.Object, key string) []int32 {
	vs, err := o.GetInt64Array(key)
	if err != nil {
		return nil
	}
	a := make([]int32, len(vs))
	for i, v := range vs {
		a[i] = int32(v)
	}
	return a
}

// GetCardInfo counts the profiles and ports of card and finds its active
// profile.
func GetCardInfo(card *manager.Object) CardInfo {
	info := CardInfo{ActiveProfile: -1}
	for _, p := range card.Params {
		switch p.ID {
		case graph.ParamEnumProfile:
			info.NumProfiles++
		case graph.ParamProfile:
			if o := decode(p); o != nil {
				if idx, err := o.GetInt64("index"); err == nil {
					info.ActiveProfile = int32(idx)
				}
			}
		case graph.ParamEnumRoute:
			info.NumPorts++
		}
	}
	return info
}

// Profiles decodes the profiles of card. It sets ActiveProfileName of info,
// falling back to the first profile.
func Profiles(card *manager.Object, info *CardInfo) []ProfileInfo {
	var profiles []ProfileInfo
	for _, p := range card.ParamsByID(graph.ParamEnumProfile) {
		o := decode(p)
		if o == nil {
			continue
		}
		idx, err := o.GetInt64("index")
		if err != nil {
			continue
		}
		name, err := o.GetString("name")
		if err != nil {
			continue
		}
		pi := ProfileInfo{
			Index:       int32(idx),
			Name:        name,
			Description: optString(o, "description"),
			Priority:    optUint(o, "priority"),
			Available:   availability(optString(o, "available")),
		}
		if pi.Description == "" {
			pi.Description = pi.Name
		}
		if pi.Index == info.ActiveProfile {
			info.ActiveProfileName = pi.Name
		}
		if classes, err := o.GetValueArray("classes"); err == nil {
			for _, c := range classes {
				pair, err := c.Array()
				if err != nil || len(pair) != 2 {
					continue
				}
				class, err1 := pair[0].String()
				count, err2 := pair[1].Int64()
				if err1 != nil || err2 != nil {
					continue
				}
				switch class {
				case "Audio/Sink":
					pi.NumSinks += uint32(count)
				case "Audio/Source":
					pi.NumSources += uint32(count)
				}
			}
		}
		profiles = append(profiles, pi)
	}
	if info.ActiveProfileName == "" && len(profiles) > 0 {
		info.ActiveProfileName = profiles[0].Name
	}
	return profiles
}

// FindProfileIndex returns the index of the profile called name, or -1.
func FindProfileIndex(card *manager.Object, name string) int32 {
	for _, p := range card.ParamsByID(graph.ParamEnumProfile) {
		o := decode(p)
		if o == nil {
			continue
		}
		idx, err1 := o.GetInt64("index")
		n, err2 := o.GetString("name")
		if err1 != nil || err2 != nil {
			continue
		}
		if n == name {
			return int32(idx)
		}
	}
	return -1
}

func routeDirection(s string) (graph.Direction, bool) {
	switch s {
	case graph.DirectionNameOutput:
		return graph.DirectionOutput, true
	case graph.DirectionNameInput:
		return graph.DirectionInput, true
	}
	return 0, false
}

func decodeRoute(p manager.Param) (PortInfo, bool) {
	o := decode(p)
	if o == nil {
		return PortInfo{}, false
	}
	idx, err1 := o.GetInt64("index")
	dir, err2 := o.GetString("direction")
	name, err3 := o.GetString("name")
	if err1 != nil || err2 != nil || err3 != nil {
		return PortInfo{}, false
	}
	d, ok := routeDirection(dir)
	if !ok {
		return PortInfo{}, false
	}
	pi := PortInfo{
		Index:       int32(idx),
		Direction:   d,
		Name:        name,
		Description: optString(o, "description"),
		Priority:    optUint(o, "priority"),
		Available:   availability(optString(o, "available")),
		Devices:     int32Array(o, "devices"),
		Profiles:    int32Array(o, "profiles"),
	}
	if pi.Description == "" {
		pi.Description = pi.Name
	}
	if info, err := o.GetObject("info"); err == nil {
		pi.Props = graph.Props{}
		for k, v := range info.Map() {
			s, err := v.String()
			if err != nil {
				continue
			}
			pi.Props[k] = s
			switch k {
			case "port.availability-group":
				pi.AvailabilityGroup = s
			case "port.type":
				pi.Type = PortType(s)
			}
		}
	}
	return pi, true
}

func containsInt32(list []int32, v int32) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Ports decodes the ports of card. With dev set, only the ports of that
// device in the active profile are returned, and dev.ActivePortName is
// filled in, falling back to the first returned port.
func Ports(card *manager.Object, info *CardInfo, dev *DeviceInfo) []PortInfo {
	if card == nil {
		return nil
	}
	var ports []PortInfo
	for _, p := range card.ParamsByID(graph.ParamEnumRoute) {
		pi, ok := decodeRoute(p)
		if !ok {
			continue
		}
		if dev != nil {
			if pi.Direction != dev.Direction ||
				!containsInt32(pi.Profiles, info.ActiveProfile) ||
				!containsInt32(pi.Devices, int32(dev.Device)) {
				continue
			}
			if uint32(pi.Index) == dev.ActivePort {
				dev.ActivePortName = pi.Name
			}
		}
		ports = append(ports, pi)
	}
	if dev != nil && dev.ActivePortName == "" && len(ports) > 0 {
		dev.ActivePortName = ports[0].Name
	}
	return ports
}

// FindPortIndex returns the index of the port called name with the given
// direction, or -1.
func FindPortIndex(card *manager.Object, dir graph.Direction, name string) int32 {
	for _, p := range card.ParamsByID(graph.ParamEnumRoute) {
		pi, ok := decodeRoute(p)
		if ok && pi.Direction == dir && pi.Name == name {
			return pi.Index
		}
	}
	return -1
}

// TransportCodecs returns the codecs of a bluetooth card and the position
// of the active one in that list, or -1.
func TransportCodecs(card *manager.Object) ([]CodecInfo, int) {
	if card == nil {
		return nil, -1
	}
	var codecs []CodecInfo
	for _, p := range card.ParamsByID(graph.ParamPropInfo) {
		o := decode(p)
		if o == nil {
			continue
		}
		list, err := o.GetObjectArray("codecs")
		if err != nil {
			continue
		}
		for _, c := range list {
			id, err1 := c.GetInt64("id")
			name, err2 := c.GetString("name")
			if err1 != nil || err2 != nil {
				continue
			}
			codecs = append(codecs, CodecInfo{ID: int(id), Name: name, Description: optString(c, "description")})
		}
	}
	active := -1
	for _, p := range card.ParamsByID(graph.ParamProps) {
		o := decode(p)
		if o == nil {
			continue
		}
		name, err := o.GetString("bluetoothAudioCodec")
		if err != nil {
			continue
		}
		for i, c := range codecs {
			if c.Name == name {
				active = i
			}
		}
	}
	return codecs, active
}

var portTypes = []string{
	"unknown", "aux", "speaker", "headphones", "line", "mic", "headset",
	"handset", "earpiece", "spdif", "hdmi", "tv", "radio", "video", "usb",
	"bluetooth", "portable", "handsfree", "car", "hifi", "phone", "network",
	"analog",
}

// PortType returns the client visible port type for a port.type property.
func PortType(s string) uint32 {
	for i, t := range portTypes {
		if t == s {
			return uint32(i)
		}
	}
	return 0
}
