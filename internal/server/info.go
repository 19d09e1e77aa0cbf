package server

import (
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/collect"
	"github.com/jfreymuth/pulsed/internal/manager"
	"github.com/jfreymuth/pulsed/internal/module"
	"github.com/jfreymuth/pulsed/proto"
)

// Flags of sink and source info replies.
const (
	deviceHWVolumeCtrl   = 0x0001
	deviceLatency        = 0x0002
	deviceHardware       = 0x0004
	deviceNetwork        = 0x0008
	deviceHWMuteCtrl     = 0x0010
	deviceDecibelVolume  = 0x0020
	sourceDynamicLatency = 0x0040
	sinkDynamicLatency   = 0x0080
	sinkSetFormats       = 0x0100
)

const bluezDriver = "module-bluez5-device.c"

func (c *Client) lookup(op, tag uint32, r *proto.ProtocolReader) error {
	name := r.String()
	if err := r.Done(); err != nil {
		return err
	}
	sink := op == proto.OpLookupSink
	c.log.WithFields(logrus.Fields{"tag": tag, "name": name}).Info("lookup")
	o, _ := c.findDevice(collect.Invalid, name, sink)
	if o == nil {
		return proto.ErrNoSuchEntity
	}
	if sink {
		c.reply(tag, &proto.LookupSinkReply{SinkIndex: o.Index})
	} else {
		c.reply(tag, &proto.LookupSourceReply{SourceIndex: o.Index})
	}
	return nil
}

func (c *Client) getInfo(op, tag uint32, r *proto.ProtocolReader) error {
	index := r.U32()
	var name string
	switch op {
	case proto.OpGetSinkInfo, proto.OpGetSourceInfo, proto.OpGetCardInfo:
		name = r.String()
	}
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"command": commandName(op), "tag": tag, "index": index, "name": name}).Info("get info")

	if op == proto.OpGetModuleInfo && index&module.Flag != 0 {
		m := c.s.modules[index]
		if m == nil {
			return proto.ErrNoSuchEntity
		}
		c.reply(tag, c.loadedModuleInfo(m))
		return nil
	}
	if index != collect.Invalid && name != "" {
		return proto.ErrInvalidArgument
	}

	var o *manager.Object
	switch op {
	case proto.OpGetSinkInfo, proto.OpGetSourceInfo:
		o, _ = c.findDevice(index, name, op == proto.OpGetSinkInfo)
	default:
		if index == collect.Invalid && name == "" {
			return proto.ErrInvalidArgument
		}
		o = collect.Select(c.mgr, collect.ByIndex(index, "device.name", name, infoType(op)))
	}
	if o == nil {
		return proto.ErrNoSuchEntity
	}
	reply, err := c.objectInfo(op, o)
	if err != nil {
		return err
	}
	c.reply(tag, reply)
	return nil
}

// infoType returns the object filter of a single object info command.
func infoType(op uint32) func(*manager.Object) bool {
	switch op {
	case proto.OpGetSinkInfo, proto.OpGetSinkInfoList:
		return (*manager.Object).IsSink
	case proto.OpGetSourceInfo, proto.OpGetSourceInfoList:
		return (*manager.Object).IsSourceOrMonitor
	case proto.OpGetModuleInfo, proto.OpGetModuleInfoList:
		return (*manager.Object).IsModule
	case proto.OpGetClientInfo, proto.OpGetClientInfoList:
		return (*manager.Object).IsClient
	case proto.OpGetSinkInputInfo, proto.OpGetSinkInputInfoList:
		return (*manager.Object).IsSinkInput
	case proto.OpGetSourceOutputInfo, proto.OpGetSourceOutputInfoList:
		return (*manager.Object).IsSourceOutput
	case proto.OpGetCardInfo, proto.OpGetCardInfoList:
		return (*manager.Object).IsCard
	}
	return nil
}

// objectInfo builds the info reply of op for o. Objects that are not ready
// yet are reported as missing.
func (c *Client) objectInfo(op uint32, o *manager.Object) (interface{}, error) {
	switch op {
	case proto.OpGetSinkInfo, proto.OpGetSinkInfoList:
		return c.sinkInfo(o)
	case proto.OpGetSourceInfo, proto.OpGetSourceInfoList:
		return c.sourceInfo(o)
	case proto.OpGetModuleInfo, proto.OpGetModuleInfoList:
		return c.moduleInfo(o)
	case proto.OpGetClientInfo, proto.OpGetClientInfoList:
		return c.clientInfo(o)
	case proto.OpGetSinkInputInfo, proto.OpGetSinkInputInfoList:
		return c.sinkInputInfo(o)
	case proto.OpGetSourceOutputInfo, proto.OpGetSourceOutputInfoList:
		return c.sourceOutputInfo(o)
	case proto.OpGetCardInfo, proto.OpGetCardInfoList:
		return c.cardInfo(o)
	}
	return nil, proto.ErrInvalidArgument
}

func (c *Client) getInfoList(op, tag uint32, r *proto.ProtocolReader) error {
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"command": commandName(op), "tag": tag}).Info("get info list")
	m := c.s.pool.NewReply(tag)
	w := m.Writer()
	typ := infoType(op)
	c.mgr.ForEach(func(o *manager.Object) bool {
		if !typ(o) {
			return true
		}
		if reply, err := c.objectInfo(op, o); err == nil {
			w.Write(reply, c.version)
		}
		return true
	})
	if op == proto.OpGetModuleInfoList {
		for _, mod := range c.s.sortedModules() {
			w.Write(c.loadedModuleInfo(mod), c.version)
		}
	}
	c.Queue(m)
	return nil
}

func (s *Server) sortedModules() []*module.Module {
	mods := make([]*module.Module, 0, len(s.modules))
	for _, m := range s.modules {
		mods = append(mods, m)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Index < mods[j].Index })
	return mods
}

// moduleIndex returns the client index of the module that created an
// object with the given properties.
func (c *Client) moduleIndex(props graph.Props) uint32 {
	if id, ok := parseIndex(props["module.id"]); ok {
		if index := collect.IDToIndex(c.mgr, id); index != collect.Invalid {
			return index
		}
	}
	if index, ok := parseIndex(props["pulse.module.id"]); ok {
		return index
	}
	return collect.Invalid
}

func (c *Client) findCard(id uint32) *manager.Object {
	if id == collect.Invalid {
		return nil
	}
	return collect.Select(c.mgr, collect.ByID(id, (*manager.Object).IsCard))
}

func cardIndex(card *manager.Object) uint32 {
	if card == nil {
		return collect.Invalid
	}
	return card.Index
}

// deviceProps merges the properties of a device node with those of its
// card.
func deviceProps(props graph.Props, card *manager.Object) proto.PropList {
	out := proto.PropList(props.Copy())
	if card != nil {
		for k, v := range card.InfoProps() {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out
}

func deviceFlags(o *manager.Object, di *collect.DeviceInfo) uint32 {
	flags := uint32(deviceLatency | deviceDecibelVolume)
	if !o.IsVirtual() {
		flags |= deviceHardware
	}
	if o.IsNetwork() {
		flags |= deviceNetwork
	}
	if di.Volume.HWVolume {
		flags |= deviceHWVolumeCtrl
	}
	if di.Volume.HWMute {
		flags |= deviceHWMuteCtrl
	}
	return flags
}

// devicePorts returns the ports of the device in the active profile of its
// card and fills in the active port name of di.
func devicePorts(card *manager.Object, di *collect.DeviceInfo) []proto.DevicePort {
	if card == nil {
		return []proto.DevicePort{}
	}
	info := collect.GetCardInfo(card)
	ports := collect.Ports(card, &info, di)
	out := make([]proto.DevicePort, len(ports))
	for i, p := range ports {
		out[i] = proto.DevicePort{
			Name:              p.Name,
			Description:       p.Description,
			Priority:          p.Priority,
			Available:         p.Available,
			AvailabilityGroup: p.AvailabilityGroup,
			Type:              p.Type,
		}
	}
	return out
}

func deviceNames(props graph.Props) (name, desc string) {
	name = props["node.name"]
	desc = props["node.description"]
	if desc == "" {
		desc = name
	}
	if desc == "" {
		desc = "Unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return name, desc
}

func (c *Client) forceS16(ss *proto.SampleSpec) {
	if c.quirks.has(quirkForceS16Info) {
		ss.Format = proto.FormatInt16LE
	}
}

func (c *Client) sinkInfo(o *manager.Object) (*proto.GetSinkInfoReply, error) {
	props := o.InfoProps()
	if !o.IsSink() || props == nil {
		return nil, proto.ErrNoSuchEntity
	}
	di := collect.GetDeviceInfo(o, graph.DirectionOutput, false)
	if !di.Valid() {
		c.log.WithField("id", o.ID).Warn("sink not ready")
		return nil, proto.ErrNoSuchEntity
	}
	name, desc := deviceNames(props)
	monitor := name + ".monitor"
	if o.IsSource() {
		monitor = name
	}
	card := c.findCard(di.CardID)
	flags := deviceFlags(o, &di) | sinkDynamicLatency
	if di.HaveIEC958Codecs {
		flags |= sinkSetFormats
	}
	c.forceS16(&di.SampleSpec)
	ports := devicePorts(card, &di)
	return &proto.GetSinkInfoReply{
		SinkIndex:          o.Index,
		SinkName:           name,
		Device:             desc,
		SampleSpec:         di.SampleSpec,
		ChannelMap:         di.ChannelMap,
		ModuleIndex:        c.moduleIndex(props),
		ChannelVolumes:     di.Volume.ChannelVolumes(),
		Mute:               di.Volume.Mute,
		MonitorSourceIndex: o.Index,
		MonitorSourceName:  monitor,
		Driver:             serverName,
		Flags:              flags,
		Properties:         deviceProps(props, card),
		BaseVolume:         proto.LinearVolume(float64(di.Volume.Base)),
		State:              uint32(di.State),
		NumVolumeSteps:     di.Volume.Steps,
		CardIndex:          cardIndex(card),
		Ports:              ports,
		ActivePortName:     di.ActivePortName,
		Formats:            collect.FormatInfos(o),
	}, nil
}

func (c *Client) sourceInfo(o *manager.Object) (*proto.GetSourceInfoReply, error) {
	props := o.InfoProps()
	monitor := o.IsMonitor() && !o.IsSource()
	if !o.IsSourceOrMonitor() || props == nil {
		return nil, proto.ErrNoSuchEntity
	}
	di := collect.GetDeviceInfo(o, graph.DirectionInput, monitor)
	if !di.Valid() {
		c.log.WithField("id", o.ID).Warn("source not ready")
		return nil, proto.ErrNoSuchEntity
	}
	name, desc := deviceNames(props)
	card := c.findCard(di.CardID)
	reply := &proto.GetSourceInfoReply{
		SourceIndex:        o.Index,
		SourceName:         name,
		Device:             desc,
		ModuleIndex:        c.moduleIndex(props),
		ChannelMap:         di.ChannelMap,
		ChannelVolumes:     di.Volume.ChannelVolumes(),
		Mute:               di.Volume.Mute,
		MonitorSourceIndex: collect.Invalid,
		Driver:             serverName,
		Flags:              deviceFlags(o, &di) | sourceDynamicLatency,
		Properties:         deviceProps(props, card),
		BaseVolume:         proto.LinearVolume(float64(di.Volume.Base)),
		State:              uint32(di.State),
		NumVolumeSteps:     di.Volume.Steps,
		CardIndex:          cardIndex(card),
		Formats:            []proto.FormatInfo{{Encoding: proto.EncodingPCM, Properties: proto.PropList{}}},
	}
	if monitor {
		reply.SourceName = name + ".monitor"
		reply.Device = "Monitor of " + desc
		reply.MonitorSourceIndex = o.Index
		reply.MonitorSourceName = name
		reply.Properties["device.class"] = "monitor"
	}
	c.forceS16(&di.SampleSpec)
	reply.SampleSpec = di.SampleSpec
	reply.Ports = devicePorts(card, &di)
	reply.ActivePortName = di.ActivePortName
	return reply, nil
}

func (c *Client) moduleInfo(o *manager.Object) (*proto.GetModuleInfoReply, error) {
	if !o.IsModule() || o.Info == nil || o.Info.Props == nil {
		return nil, proto.ErrNoSuchEntity
	}
	return &proto.GetModuleInfoReply{
		ModuleIndex: o.Index,
		ModuleName:  o.Info.Name,
		ModuleArgs:  o.Info.Args,
		Users:       collect.Invalid,
		Properties:  proto.PropList(o.Info.Props.Copy()),
	}, nil
}

func (c *Client) loadedModuleInfo(m *module.Module) *proto.GetModuleInfoReply {
	return &proto.GetModuleInfoReply{
		ModuleIndex: m.Index,
		ModuleName:  m.Name(),
		ModuleArgs:  m.Args,
		Users:       collect.Invalid,
		Properties:  proto.PropList(m.Props.Copy()),
	}
}

func (c *Client) clientInfo(o *manager.Object) (*proto.GetClientInfoReply, error) {
	props := o.InfoProps()
	if !o.IsClient() || props == nil {
		return nil, proto.ErrNoSuchEntity
	}
	mod := uint32(collect.Invalid)
	if id, ok := parseIndex(props["module.id"]); ok {
		mod = collect.IDToIndex(c.mgr, id)
	}
	return &proto.GetClientInfoReply{
		ClientIndex: o.Index,
		Application: props["application.name"],
		ModuleIndex: mod,
		Driver:      serverName,
		Properties:  proto.PropList(props.Copy()),
	}, nil
}

// streamCommon collects what sink input and source output replies share.
type streamCommon struct {
	module uint32
	client uint32
	peer   uint32
	corked bool
	di     collect.DeviceInfo
}

func (c *Client) streamCommon(o *manager.Object, props graph.Props, dir graph.Direction, peerType func(*manager.Object) bool) (streamCommon, bool) {
	sc := streamCommon{
		module: c.moduleIndex(props),
		client: collect.Invalid,
		di:     collect.GetDeviceInfo(o, dir, false),
	}
	if !sc.di.Valid() {
		return sc, false
	}
	if !o.IsVirtual() {
		if id, ok := parseIndex(props["client.id"]); ok {
			sc.client = collect.IDToIndex(c.mgr, id)
		}
	}
	sc.peer = c.moveTargetOf(o)
	if sc.peer == collect.Invalid {
		if peer := collect.FindLinked(c.mgr, o.ID, dir); peer != nil && peerType(peer) {
			sc.peer = peer.Index
		}
	}
	if v, ok := props["pulse.corked"]; ok {
		sc.corked, _ = strconv.ParseBool(v)
	} else {
		sc.corked = sc.di.State != collect.StateRunning
	}
	return sc, true
}

func (c *Client) sinkInputInfo(o *manager.Object) (*proto.GetSinkInputInfoReply, error) {
	props := o.InfoProps()
	if !o.IsSinkInput() || props == nil {
		return nil, proto.ErrNoSuchEntity
	}
	sc, ok := c.streamCommon(o, props, graph.DirectionOutput, (*manager.Object).IsSink)
	if !ok {
		return nil, proto.ErrNoSuchEntity
	}
	return &proto.GetSinkInputInfoReply{
		SinkInputIndex: o.Index,
		MediaName:      props["media.name"],
		ModuleIndex:    sc.module,
		ClientIndex:    sc.client,
		SinkIndex:      sc.peer,
		SampleSpec:     sc.di.SampleSpec,
		ChannelMap:     sc.di.ChannelMap,
		ChannelVolumes: sc.di.Volume.ChannelVolumes(),
		ResampleMethod: serverName,
		Driver:         serverName,
		Muted:          sc.di.Volume.Mute,
		Properties:     proto.PropList(props.Copy()),
		Corked:         sc.corked,
		VolumeReadable: true,
		VolumeWritable: true,
		FormatInfo:     collect.FormatInfoFromSpec(sc.di.SampleSpec, sc.di.ChannelMap),
	}, nil
}

func (c *Client) sourceOutputInfo(o *manager.Object) (*proto.GetSourceOutputInfoReply, error) {
	props := o.InfoProps()
	if !o.IsSourceOutput() || props == nil {
		return nil, proto.ErrNoSuchEntity
	}
	sc, ok := c.streamCommon(o, props, graph.DirectionInput, (*manager.Object).IsSourceOrMonitor)
	if !ok {
		return nil, proto.ErrNoSuchEntity
	}
	return &proto.GetSourceOutputInfoReply{
		SourceOutputIndex: o.Index,
		MediaName:         props["media.name"],
		ModuleIndex:       sc.module,
		ClientIndex:       sc.client,
		SourceIndex:       sc.peer,
		SampleSpec:        sc.di.SampleSpec,
		ChannelMap:        sc.di.ChannelMap,
		ResampleMethod:    serverName,
		Driver:            serverName,
		Properties:        proto.PropList(props.Copy()),
		Corked:            sc.corked,
		ChannelVolumes:    sc.di.Volume.ChannelVolumes(),
		Muted:             sc.di.Volume.Mute,
		VolumeReadable:    true,
		VolumeWritable:    true,
		FormatInfo:        collect.FormatInfoFromSpec(sc.di.SampleSpec, sc.di.ChannelMap),
	}, nil
}

func (c *Client) cardInfo(o *manager.Object) (*proto.GetCardInfoReply, error) {
	props := o.InfoProps()
	if !o.IsCard() || props == nil {
		return nil, proto.ErrNoSuchEntity
	}
	mod := uint32(collect.Invalid)
	if id, ok := parseIndex(props["module.id"]); ok {
		mod = collect.IDToIndex(c.mgr, id)
	}
	driver := props["device.api"]
	if driver == "bluez5" {
		driver = bluezDriver
	}
	name := props["device.name"]
	if name == "" {
		name = props["api.alsa.card.name"]
	}
	if name == "" {
		name = "card_" + strconv.FormatUint(uint64(o.Index), 10)
	}

	info := collect.GetCardInfo(o)
	profiles := collect.Profiles(o, &info)
	reply := &proto.GetCardInfoReply{
		CardIndex:         o.Index,
		CardName:          name,
		ModuleIndex:       mod,
		Driver:            driver,
		Profiles:          make([]proto.CardProfile, len(profiles)),
		ActiveProfileName: info.ActiveProfileName,
		Properties:        proto.PropList(props.Copy()),
	}
	for i, p := range profiles {
		available := uint32(0)
		if p.Available != collect.AvailableNo {
			available = 1
		}
		reply.Profiles[i] = proto.CardProfile{
			Name:        p.Name,
			Description: p.Description,
			NumSinks:    p.NumSinks,
			NumSources:  p.NumSources,
			Priority:    p.Priority,
			Available:   available,
		}
	}

	ports := collect.Ports(o, &info, nil)
	reply.Ports = make([]proto.CardPort, len(ports))
	for i, p := range ports {
		port := proto.CardPort{
			Name:              p.Name,
			Description:       p.Description,
			Priority:          p.Priority,
			Available:         p.Available,
			Direction:         1,
			Properties:        proto.PropList(p.Props.Copy()),
			LatencyOffset:     c.portLatencyOffset(o, &p) / 1000,
			AvailabilityGroup: p.AvailabilityGroup,
			Type:              p.Type,
		}
		if p.Direction == graph.DirectionInput {
			port.Direction = 2
		}
		if len(p.Profiles) > len(profiles) {
			c.log.WithFields(logrus.Fields{"card": o.ID, "port": p.Name}).Error("port profiles inconsistent")
		}
		for j, idx := range p.Profiles {
			if j >= len(profiles) {
				break
			}
			pname := "off"
			for _, pi := range profiles {
				if pi.Index == idx {
					pname = pi.Name
					break
				}
			}
			port.Profiles = append(port.Profiles, proto.CardPortProfile{Name: pname})
		}
		reply.Ports[i] = port
	}
	return reply, nil
}

// portLatencyOffset returns the latency offset in nanoseconds of the first
// device node of a port.
func (c *Client) portLatencyOffset(card *manager.Object, p *collect.PortInfo) int64 {
	for _, dev := range p.Devices {
		var offset int64
		found := false
		c.mgr.ForEach(func(o *manager.Object) bool {
			if !o.IsSink() && !o.IsSourceOrMonitor() {
				return true
			}
			props := o.InfoProps()
			if props == nil {
				return true
			}
			if id, ok := parseIndex(props["device.id"]); !ok || id != card.ID {
				return true
			}
			if d, err := strconv.Atoi(props["card.profile.device"]); err != nil || int32(d) != dev {
				return true
			}
			offset, found = collect.LatencyOffset(o), true
			return false
		})
		if found {
			return offset
		}
	}
	return 0
}
