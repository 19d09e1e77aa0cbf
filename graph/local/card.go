package local

import (
	"encoding/json"
	"sort"

	"github.com/jfreymuth/pulsed/graph"
)

type card struct {
	f       *DeviceFixture
	profile int
	// activeRoute maps a card profile device to the index of its route.
	activeRoute map[int32]int
	routeProps  []graph.PropsParam
	codec       string
	nodes       map[string]*object
}

func (g *Graph) addCardLocked(f *DeviceFixture) *object {
	c := &card{
		f:           f,
		activeRoute: make(map[int32]int),
		routeProps:  make([]graph.PropsParam, len(f.Routes)),
		codec:       f.ActiveCodec,
		nodes:       make(map[string]*object),
	}
	for i, p := range f.Profiles {
		if p.Name == f.ActiveProfile {
			c.profile = i
		}
	}
	for i := range c.routeProps {
		c.routeProps[i].Mute = graph.Bool(false)
		c.routeProps[i].LatencyOffsetNsec = graph.Int64(0)
	}
	if c.codec == "" && len(f.Codecs) > 0 {
		c.codec = f.Codecs[0].Name
	}

	props := graph.Props{
		"device.name":        f.Name,
		"device.description": f.Description,
		"media.class":        "Audio/Device",
		"device.api":         "alsa",
	}
	if len(f.Codecs) > 0 {
		props["device.api"] = "bluez5"
	}
	for k, v := range f.Props {
		props[k] = v
	}
	params := []graph.ParamInfo{
		{ID: graph.ParamEnumProfile, Flags: graph.ParamRead},
		{ID: graph.ParamProfile, Flags: graph.ParamRead | graph.ParamWrite},
		{ID: graph.ParamEnumRoute, Flags: graph.ParamRead},
		{ID: graph.ParamRoute, Flags: graph.ParamRead | graph.ParamWrite},
	}
	if len(f.Codecs) > 0 {
		params = append(params,
			graph.ParamInfo{ID: graph.ParamPropInfo, Flags: graph.ParamRead},
			graph.ParamInfo{ID: graph.ParamProps, Flags: graph.ParamRead | graph.ParamWrite})
	}
	o := &object{
		global: graph.Global{Type: graph.TypeDevice, Props: props},
		info:   graph.Info{Props: props.Copy(), Params: params},
		card:   c,
	}
	g.addObjectLocked(o)
	g.syncCardNodesLocked(o)
	g.pickRoutesLocked(o)
	g.updateCardParamsLocked(o)
	return o
}

func nodeInProfile(n *NodeFixture, profile string) bool {
	if len(n.Profiles) == 0 {
		return profile != "off"
	}
	for _, p := range n.Profiles {
		if p == profile {
			return true
		}
	}
	return false
}

func routeInProfile(r *RouteFixture, profile string) bool {
	for _, p := range r.Profiles {
		if p == profile {
			return true
		}
	}
	return false
}

func routeHasDevice(r *RouteFixture, device int32) bool {
	for _, d := range r.Devices {
		if d == device {
			return true
		}
	}
	return false
}

func routeDirection(mediaClass string) string {
	if mediaClass == "Audio/Sink" {
		return graph.DirectionNameOutput
	}
	return graph.DirectionNameInput
}

// syncCardNodesLocked creates and removes the nodes of a card so that they
// match its active profile.
func (g *Graph) syncCardNodesLocked(o *object) {
	c := o.card
	profile := c.f.Profiles[c.profile].Name
	for i := range c.f.Nodes {
		nf := &c.f.Nodes[i]
		n, exists := c.nodes[nf.Name]
		want := nodeInProfile(nf, profile)
		switch {
		case want && !exists:
			c.nodes[nf.Name] = g.addNodeLocked(nf, o)
		case !want && exists:
			delete(c.nodes, nf.Name)
			g.destroyNodeLocked(n)
		}
	}
}

// pickRoutesLocked selects a route for every device of the active profile,
// keeping the current one when it is still valid.
func (g *Graph) pickRoutesLocked(o *object) {
	c := o.card
	profile := c.f.Profiles[c.profile].Name
	routes := make(map[int32]int)
	for _, n := range c.nodes {
		nf := n.node
		dev := nf.device
		dir := routeDirection(n.global.Props["media.class"])
		valid := func(i int) bool {
			r := &c.f.Routes[i]
			return r.Direction == dir && routeHasDevice(r, dev) && routeInProfile(r, profile)
		}
		if ri, ok := c.activeRoute[dev]; ok && valid(ri) {
			routes[dev] = ri
			continue
		}
		best := -1
		for i := range c.f.Routes {
			if !valid(i) {
				continue
			}
			if best < 0 || betterRoute(&c.f.Routes[i], &c.f.Routes[best]) {
				best = i
			}
		}
		if best >= 0 {
			routes[dev] = best
			if c.routeProps[best].ChannelVolumes == nil {
				c.routeProps[best].ChannelVolumes = append([]float32(nil), nf.volumes...)
			}
		}
	}
	c.activeRoute = routes
	for dev, ri := range routes {
		if n := c.nodeForDevice(dev); n != nil {
			g.setNodePropsLocked(n, &c.routeProps[ri])
		}
	}
}

func betterRoute(a, b *RouteFixture) bool {
	aa, ba := a.Available != graph.AvailableNo, b.Available != graph.AvailableNo
	if aa != ba {
		return aa
	}
	return a.Priority > b.Priority
}

func (c *card) nodeForDevice(dev int32) *object {
	for _, n := range c.nodes {
		if n.node.device == dev {
			return n
		}
	}
	return nil
}

func (c *card) profileIndices(names []string) []int32 {
	var idx []int32
	for _, name := range names {
		for i, p := range c.f.Profiles {
			if p.Name == name {
				idx = append(idx, int32(i))
			}
		}
	}
	return idx
}

func (c *card) routeParam(i int) graph.RouteParam {
	r := &c.f.Routes[i]
	info := map[string]string{}
	if r.Type != "" {
		info["port.type"] = r.Type
	}
	if r.AvailabilityGroup != "" {
		info["port.availability-group"] = r.AvailabilityGroup
	}
	return graph.RouteParam{
		Index:       int32(i),
		Direction:   r.Direction,
		Name:        r.Name,
		Description: r.Description,
		Priority:    r.Priority,
		Available:   availability(r.Available),
		Info:        info,
		Devices:     r.Devices,
		Profiles:    c.profileIndices(r.Profiles),
	}
}

func availability(a string) string {
	switch a {
	case graph.AvailableNo, graph.AvailableYes:
		return a
	}
	return graph.AvailableUnknown
}

func (g *Graph) updateCardParamsLocked(o *object) {
	c := o.card
	var enum [][]byte
	for i, p := range c.f.Profiles {
		counts := map[string]int{}
		for j := range c.f.Nodes {
			nf := &c.f.Nodes[j]
			if !nodeInProfile(nf, p.Name) {
				continue
			}
			switch nf.MediaClass {
			case "Audio/Sink":
				counts["Audio/Sink"]++
			case "Audio/Duplex":
				counts["Audio/Sink"]++
				counts["Audio/Source"]++
			default:
				counts["Audio/Source"]++
			}
		}
		pp := graph.ProfileParam{
			Index:       int32(i),
			Name:        p.Name,
			Description: p.Description,
			Priority:    p.Priority,
			Available:   availability(p.Available),
		}
		for _, class := range []string{"Audio/Sink", "Audio/Source"} {
			if counts[class] > 0 {
				pp.Classes = append(pp.Classes, graph.ProfileClass{Class: class, Count: counts[class]})
			}
		}
		enum = append(enum, graph.MarshalParam(pp))
	}
	g.setParamLocked(o, graph.ParamEnumProfile, enum...)
	active := c.f.Profiles[c.profile]
	g.setParamLocked(o, graph.ParamProfile, graph.MarshalParam(graph.ProfileParam{
		Index: int32(c.profile),
		Name:  active.Name,
	}))

	enum = nil
	for i := range c.f.Routes {
		enum = append(enum, graph.MarshalParam(c.routeParam(i)))
	}
	g.setParamLocked(o, graph.ParamEnumRoute, enum...)
	devs := make([]int32, 0, len(c.activeRoute))
	for dev := range c.activeRoute {
		devs = append(devs, dev)
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i] < devs[j] })
	var routes [][]byte
	for _, dev := range devs {
		ri := c.activeRoute[dev]
		rp := c.routeParam(ri)
		rp.Device = graph.Int(dev)
		props := c.routeProps[ri]
		rp.Props = &props
		routes = append(routes, graph.MarshalParam(rp))
	}
	g.setParamLocked(o, graph.ParamRoute, routes...)

	if len(c.f.Codecs) > 0 {
		var info graph.CodecInfo
		for _, cf := range c.f.Codecs {
			info.Codecs = append(info.Codecs, graph.Codec{ID: cf.ID, Name: cf.Name, Description: cf.Description})
		}
		g.setParamLocked(o, graph.ParamPropInfo, graph.MarshalParam(info))
		g.setParamLocked(o, graph.ParamProps, graph.MarshalParam(graph.PropsParam{BluetoothCodec: c.codec}))
	}
}

// setRoutePropsLocked merges p into the props of route ri and applies them
// to the node of device dev.
func (g *Graph) setRoutePropsLocked(o *object, ri int, dev int32, p *graph.PropsParam) {
	c := o.card
	rp := &c.routeProps[ri]
	if len(p.ChannelVolumes) > 0 {
		rp.ChannelVolumes = append([]float32(nil), p.ChannelVolumes...)
	}
	if p.Mute != nil {
		rp.Mute = graph.Bool(*p.Mute)
	}
	if p.LatencyOffsetNsec != nil {
		rp.LatencyOffsetNsec = graph.Int64(*p.LatencyOffsetNsec)
	}
	if p.IEC958Codecs != nil {
		rp.IEC958Codecs = append([]string(nil), p.IEC958Codecs...)
	}
	if n := c.nodeForDevice(dev); n != nil {
		g.setNodePropsLocked(n, p)
	}
	g.updateCardParamsLocked(o)
	g.emitInfoLocked(o, graph.ChangeParams)
}

type profileRequest struct {
	Index *int32 `json:"index"`
	Name  string `json:"name"`
	Save  bool   `json:"save"`
}

func (g *Graph) cardSetParamLocked(o *object, id graph.ParamID, blob []byte) error {
	c := o.card
	switch id {
	case graph.ParamProfile:
		var req profileRequest
		if err := json.Unmarshal(blob, &req); err != nil {
			return graph.ErrInvalidParam
		}
		idx := -1
		for i, p := range c.f.Profiles {
			if (req.Index != nil && int(*req.Index) == i) || (req.Index == nil && p.Name == req.Name) {
				idx = i
			}
		}
		if idx < 0 {
			return graph.ErrInvalidParam
		}
		if idx != c.profile {
			c.profile = idx
			g.syncCardNodesLocked(o)
			g.pickRoutesLocked(o)
		}
		g.updateCardParamsLocked(o)
		g.emitInfoLocked(o, graph.ChangeParams)
		return nil

	case graph.ParamRoute:
		var req graph.RouteParam
		if err := json.Unmarshal(blob, &req); err != nil || req.Device == nil {
			return graph.ErrInvalidParam
		}
		ri, dev := int(req.Index), *req.Device
		if ri < 0 || ri >= len(c.f.Routes) {
			return graph.ErrInvalidParam
		}
		r := &c.f.Routes[ri]
		if !routeHasDevice(r, dev) || !routeInProfile(r, c.f.Profiles[c.profile].Name) {
			return graph.ErrInvalidParam
		}
		c.activeRoute[dev] = ri
		props := req.Props
		if props == nil {
			props = &c.routeProps[ri]
		}
		g.setRoutePropsLocked(o, ri, dev, props)
		return nil

	case graph.ParamProps:
		if len(c.f.Codecs) == 0 {
			return graph.ErrNotSupported
		}
		var p graph.PropsParam
		if err := json.Unmarshal(blob, &p); err != nil {
			return graph.ErrInvalidParam
		}
		for _, cf := range c.f.Codecs {
			if cf.Name == p.BluetoothCodec {
				c.codec = cf.Name
				g.updateCardParamsLocked(o)
				g.emitInfoLocked(o, graph.ChangeParams)
				return nil
			}
		}
		return graph.ErrInvalidParam
	}
	return graph.ErrNotSupported
}
