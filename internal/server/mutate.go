package server

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/collect"
	"github.com/jfreymuth/pulsed/internal/manager"
	"github.com/jfreymuth/pulsed/proto"
)

const (
	defaultSinkKey   = "default.configured.audio.sink"
	defaultSourceKey = "default.configured.audio.source"
)

// readTarget reads an object given by index or name. Exactly one of them
// must be set.
func readTarget(r *proto.ProtocolReader) (uint32, string, error) {
	index := r.U32()
	name, named := r.NullableString()
	if err := r.Err(); err != nil {
		return 0, "", err
	}
	if (index == collect.Invalid) != named {
		return 0, "", proto.ErrInvalidArgument
	}
	return index, name, nil
}

func writable(o *manager.Object) error {
	if o.Permissions&(graph.PermWrite|graph.PermExecute) != graph.PermWrite|graph.PermExecute {
		return proto.ErrAccessDenied
	}
	if o.Proxy == nil {
		return proto.ErrNoSuchEntity
	}
	return nil
}

// setNodeVolumeMute sets the volume and/or mute of a node. Monitors use the
// monitor controls of their sink.
func setNodeVolumeMute(o *manager.Object, volume []float32, mute *bool, monitor bool) error {
	if err := writable(o); err != nil {
		return err
	}
	var p graph.PropsParam
	if monitor {
		p.MonitorVolumes, p.MonitorMute = volume, mute
	} else {
		p.ChannelVolumes, p.Mute = volume, mute
	}
	return o.Proxy.SetParam(graph.ParamProps, graph.MarshalParam(&p))
}

// setCardRoute activates a route of a card for a device and optionally
// changes its properties.
func setCardRoute(card *manager.Object, route, device uint32, props *graph.PropsParam) error {
	if err := writable(card); err != nil {
		return err
	}
	return card.Proxy.SetParam(graph.ParamRoute, graph.MarshalParam(&graph.RouteParam{
		Index:  int32(route),
		Device: graph.Int(int32(device)),
		Props:  props,
		Save:   true,
	}))
}

// setDeviceProps changes the volume or mute of a sink or source, through
// the active route of its card if it has one.
func (c *Client) setDeviceProps(o *manager.Object, di *collect.DeviceInfo, monitor bool, p *graph.PropsParam) error {
	if card := c.findCard(di.CardID); card != nil && !monitor && di.ActivePort != collect.Invalid {
		return setCardRoute(card, di.ActivePort, di.Device, p)
	}
	return setNodeVolumeMute(o, p.ChannelVolumes, p.Mute, monitor)
}

func (c *Client) setDeviceVolume(op, tag uint32, r *proto.ProtocolReader) error {
	index, name, err := readTarget(r)
	if err != nil {
		return err
	}
	volume := r.ChannelVolumes()
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"command": commandName(op), "tag": tag, "index": index, "name": name}).Info("set volume")
	if !volume.Valid() {
		return proto.ErrInvalidArgument
	}
	sink := op == proto.OpSetSinkVolume
	if (sink && c.quirks.has(quirkBlockSinkVolume)) || (!sink && c.quirks.has(quirkBlockSourceVolume)) {
		return proto.ErrAccessDenied
	}
	o, monitor := c.findDevice(index, name, sink)
	if o == nil || o.InfoProps() == nil {
		return proto.ErrNoSuchEntity
	}
	di := collect.GetDeviceInfo(o, deviceDirection(sink), monitor)
	if di.HaveVolume && di.Volume.ChannelVolumes().Equal(volume) {
		return c.newOperation(tag, nil)
	}
	if err := c.setDeviceProps(o, &di, monitor, &graph.PropsParam{ChannelVolumes: volume.Linear()}); err != nil {
		return err
	}
	return c.newOperation(tag, nil)
}

func (c *Client) setDeviceMute(op, tag uint32, r *proto.ProtocolReader) error {
	index, name, err := readTarget(r)
	if err != nil {
		return err
	}
	mute := r.Bool()
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"command": commandName(op), "tag": tag, "index": index, "name": name, "mute": mute}).Info("set mute")
	sink := op == proto.OpSetSinkMute
	o, monitor := c.findDevice(index, name, sink)
	if o == nil || o.InfoProps() == nil {
		return proto.ErrNoSuchEntity
	}
	di := collect.GetDeviceInfo(o, deviceDirection(sink), monitor)
	if di.HaveVolume && di.Volume.Mute == mute {
		return c.newOperation(tag, nil)
	}
	if err := c.setDeviceProps(o, &di, monitor, &graph.PropsParam{Mute: graph.Bool(mute)}); err != nil {
		return err
	}
	return c.newOperation(tag, nil)
}

func deviceDirection(sink bool) graph.Direction {
	if sink {
		return graph.DirectionOutput
	}
	return graph.DirectionInput
}

// ownStream returns the stream of this client whose node has the given
// index.
func (c *Client) ownStream(index uint32) *clientStream {
	for _, s := range c.streams {
		if s.st != nil && s.st.Graph() != nil && collect.IDToIndex(c.mgr, s.nodeID) == index {
			return s
		}
	}
	return nil
}

func streamNodeType(op uint32) func(*manager.Object) bool {
	switch op {
	case proto.OpSetSinkInputVolume, proto.OpSetSinkInputMute, proto.OpMoveSinkInput, proto.OpKillSinkInput:
		return (*manager.Object).IsSinkInput
	}
	return (*manager.Object).IsSourceOutput
}

func (c *Client) setStreamVolume(op, tag uint32, r *proto.ProtocolReader) error {
	index := r.U32()
	volume := r.ChannelVolumes()
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"command": commandName(op), "tag": tag, "index": index}).Info("set stream volume")
	if !volume.Valid() {
		return proto.ErrInvalidArgument
	}
	if s := c.ownStream(index); s != nil {
		if s.volume.Equal(volume) {
			return c.newOperation(tag, nil)
		}
		if err := s.st.Graph().SetControl(graph.ControlChannelVolumes, volume.Linear()); err != nil {
			return err
		}
		return c.newOperation(tag, nil)
	}
	o := collect.Select(c.mgr, collect.ByIndex(index, "", "", streamNodeType(op)))
	if o == nil {
		return proto.ErrNoSuchEntity
	}
	if err := setNodeVolumeMute(o, volume.Linear(), nil, false); err != nil {
		return err
	}
	return c.newOperation(tag, nil)
}

func (c *Client) setStreamMute(op, tag uint32, r *proto.ProtocolReader) error {
	index := r.U32()
	mute := r.Bool()
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"command": commandName(op), "tag": tag, "index": index, "mute": mute}).Info("set stream mute")
	if s := c.ownStream(index); s != nil {
		if s.muted == mute {
			return c.newOperation(tag, nil)
		}
		v := float32(0)
		if mute {
			v = 1
		}
		if err := s.st.Graph().SetControl(graph.ControlMute, []float32{v}); err != nil {
			return err
		}
		return c.newOperation(tag, nil)
	}
	o := collect.Select(c.mgr, collect.ByIndex(index, "", "", streamNodeType(op)))
	if o == nil {
		return proto.ErrNoSuchEntity
	}
	if err := setNodeVolumeMute(o, nil, graph.Bool(mute), false); err != nil {
		return err
	}
	return c.newOperation(tag, nil)
}

func (c *Client) setDevicePort(op, tag uint32, r *proto.ProtocolReader) error {
	index, name, err := readTarget(r)
	if err != nil {
		return err
	}
	port := r.String()
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"command": commandName(op), "tag": tag, "index": index, "name": name, "port": port}).Info("set port")
	sink := op == proto.OpSetSinkPort
	o, _ := c.findDevice(index, name, sink)
	if o == nil {
		return proto.ErrNoSuchEntity
	}
	props := o.InfoProps()
	if props == nil {
		return proto.ErrNoSuchEntity
	}
	cardID, ok1 := parseIndex(props["device.id"])
	device, ok2 := parseIndex(props["card.profile.device"])
	if !ok1 || !ok2 {
		return proto.ErrNoSuchEntity
	}
	card := c.findCard(cardID)
	if card == nil {
		return proto.ErrNoSuchEntity
	}
	route := collect.FindPortIndex(card, deviceDirection(sink), port)
	if route < 0 {
		return proto.ErrNoSuchEntity
	}
	if err := setCardRoute(card, uint32(route), device, nil); err != nil {
		return err
	}
	return c.newOperation(tag, nil)
}

func (c *Client) setPortLatencyOffset(op, tag uint32, r *proto.ProtocolReader) error {
	index, name, err := readTarget(r)
	if err != nil {
		return err
	}
	port, havePort := r.NullableString()
	offset := r.S64()
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "index": index, "card": name, "port": port, "offset": offset}).Info("set port latency offset")
	if !havePort {
		return proto.ErrInvalidArgument
	}
	card := collect.Select(c.mgr, collect.ByIndex(index, "device.name", name, (*manager.Object).IsCard))
	if card == nil {
		return proto.ErrNoSuchEntity
	}
	nsec := offset * 1000
	info := collect.GetCardInfo(card)
	for _, p := range collect.Ports(card, &info, nil) {
		if p.Name != port {
			continue
		}
		for _, dev := range p.Devices {
			if err := setCardRoute(card, uint32(p.Index), uint32(dev), &graph.PropsParam{LatencyOffsetNsec: graph.Int64(nsec)}); err != nil {
				return err
			}
		}
		return c.newOperation(tag, nil)
	}
	return proto.ErrNoSuchEntity
}

func (c *Client) setCardProfile(op, tag uint32, r *proto.ProtocolReader) error {
	index, name, err := readTarget(r)
	if err != nil {
		return err
	}
	profile, haveProfile := r.NullableString()
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"tag": tag, "index": index, "card": name, "profile": profile}).Info("set card profile")
	if !haveProfile {
		return proto.ErrInvalidArgument
	}
	card := collect.Select(c.mgr, collect.ByIndex(index, "device.name", name, (*manager.Object).IsCard))
	if card == nil {
		return proto.ErrNoSuchEntity
	}
	idx := collect.FindProfileIndex(card, profile)
	if idx < 0 {
		return proto.ErrNoSuchEntity
	}
	if err := writable(card); err != nil {
		return err
	}
	if err := card.Proxy.SetParam(graph.ParamProfile, graph.MarshalParam(&graph.ProfileParam{
		Index: idx,
		Name:  profile,
		Save:  true,
	})); err != nil {
		return err
	}
	return c.newOperation(tag, nil)
}

func (c *Client) setDefault(op, tag uint32, r *proto.ProtocolReader) error {
	name, named := r.NullableString()
	if err := r.Done(); err != nil {
		return err
	}
	sink := op == proto.OpSetDefaultSink
	c.log.WithFields(logrus.Fields{"command": commandName(op), "tag": tag, "name": name}).Info("set default")
	key := defaultSinkKey
	if !sink {
		key = defaultSourceKey
	}
	if named {
		o, _ := c.findDevice(collect.Invalid, name, sink)
		if o == nil {
			return proto.ErrNoSuchEntity
		}
		if n := o.Props["node.name"]; n != "" {
			name = n
		} else {
			name = strings.TrimSuffix(name, ".monitor")
		}
		if err := c.mgr.SetMetadata(c.defaultMeta, graph.IDCore, key, "Spa:String:JSON", metadataValue(name)); err != nil {
			return err
		}
	} else if err := c.mgr.SetMetadata(c.defaultMeta, graph.IDCore, key, "", ""); err != nil {
		return err
	}
	// Moves issued before the metadata round trip completes use these.
	if sink {
		c.tempDefaultSink = name
	} else {
		c.tempDefaultSource = name
	}
	return c.newOperation(tag, nil)
}

func (c *Client) suspend(op, tag uint32, r *proto.ProtocolReader) error {
	index := r.U32()
	name := r.String()
	suspend := r.Bool()
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"command": commandName(op), "tag": tag, "index": index, "name": name, "suspend": suspend}).Info("suspend")
	o, _ := c.findDevice(index, name, op == proto.OpSuspendSink)
	if o == nil || o.Proxy == nil {
		return proto.ErrNoSuchEntity
	}
	if suspend {
		if err := o.Proxy.SendCommand(graph.CommandSuspend); err != nil {
			return err
		}
	}
	return c.newOperation(tag, nil)
}

func (c *Client) moveStream(op, tag uint32, r *proto.ProtocolReader) error {
	index := r.U32()
	devIndex, devName, err := readTarget(r)
	if err != nil {
		return err
	}
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"command": commandName(op), "tag": tag, "index": index, "device": devIndex, "name": devName}).Info("move stream")
	sink := op == proto.OpMoveSinkInput
	o := collect.Select(c.mgr, collect.ByIndex(index, "", "", streamNodeType(op)))
	if o == nil {
		return proto.ErrNoSuchEntity
	}
	props := o.InfoProps()
	if props == nil {
		return proto.ErrInvalidArgument
	}
	if v, _ := strconv.ParseBool(props["node.dont-reconnect"]); v {
		return proto.ErrInvalidArgument
	}
	dev, _ := c.findDevice(devIndex, devName, sink)
	if dev == nil {
		return proto.ErrNoSuchEntity
	}
	tempName := c.tempDefaultSink
	if !sink {
		tempName = c.tempDefaultSource
	}
	target, serial := "-1", "-1"
	// Moving to the default forgets the preferred device.
	if def, _ := c.findDevice(collect.Invalid, tempName, sink); def != dev {
		target = strconv.FormatUint(uint64(dev.ID), 10)
		serial = strconv.FormatUint(dev.Serial, 10)
	}
	if err := c.mgr.SetMetadata(c.defaultMeta, o.ID, "target.node", "Spa:Id", target); err != nil {
		return err
	}
	if err := c.mgr.SetMetadata(c.defaultMeta, o.ID, "target.object", "Spa:Id", serial); err != nil {
		return err
	}
	c.setMoveTarget(o, dev.Index)
	c.sendObjectEvent(o, proto.EventChange)
	c.ack(tag)
	return nil
}

func (c *Client) kill(op, tag uint32, r *proto.ProtocolReader) error {
	index := r.U32()
	if err := r.Done(); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"command": commandName(op), "tag": tag, "index": index}).Info("kill")
	typ := streamNodeType(op)
	if op == proto.OpKillClient {
		typ = (*manager.Object).IsClient
	}
	o := collect.Select(c.mgr, collect.ByIndex(index, "", "", typ))
	if o == nil {
		return proto.ErrNoSuchEntity
	}
	if err := c.core.Destroy(o.ID); err != nil {
		return err
	}
	c.ack(tag)
	return nil
}
