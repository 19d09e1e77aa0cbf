package collect

import (
	"slices"
	"strconv"

	"github.com/antonholmquist/jason"

	"github.com/jfreymuth/pulsed/graph"
	"github.com/jfreymuth/pulsed/internal/manager"
	"github.com/jfreymuth/pulsed/proto"
)

// DeviceState is the state of a sink, source or stream as sent to clients.
type DeviceState int32

const (
	StateInvalid   DeviceState = -1
	StateRunning   DeviceState = 0
	StateIdle      DeviceState = 1
	StateSuspended DeviceState = 2
	StateInit      DeviceState = -2
	StateUnlinked  DeviceState = -3
)

func nodeState(s graph.NodeState) DeviceState {
	switch s {
	case graph.NodeError:
		return StateUnlinked
	case graph.NodeCreating:
		return StateInit
	case graph.NodeSuspended:
		return StateSuspended
	case graph.NodeIdle:
		return StateIdle
	case graph.NodeRunning:
		return StateRunning
	}
	return StateInvalid
}

// VolumeInfo is the volume state of a device or stream. Volumes are linear.
type VolumeInfo struct {
	Volume   []float32
	Mute     bool
	Base     float32
	Steps    uint32
	HWVolume bool
	HWMute   bool
}

// DefaultVolumeInfo returns the volume state of an object without volume
// properties.
func DefaultVolumeInfo() VolumeInfo {
	return VolumeInfo{Base: 1, Steps: 256}
}

// ChannelVolumes returns the volume in client units.
func (v *VolumeInfo) ChannelVolumes() proto.ChannelVolumes {
	return proto.LinearChannelVolumes(v.Volume)
}

func (v *VolumeInfo) equal(o *VolumeInfo) bool {
	return slices.Equal(v.Volume, o.Volume) && v.Mute == o.Mute && v.Base == o.Base &&
		v.Steps == o.Steps && v.HWVolume == o.HWVolume && v.HWMute == o.HWMute
}

// ParseVolume applies a Props parameter to v. For monitors the monitor
// volume and mute are used.
func ParseVolume(blob []byte, v *VolumeInfo, monitor bool) error {
	o, err := jason.NewObjectFromBytes(blob)
	if err != nil {
		return err
	}
	volKey, muteKey := "channelVolumes", "mute"
	if monitor {
		volKey, muteKey = "monitorVolumes", "monitorMute"
	}
	if vs, err := o.GetFloat64Array(volKey); err == nil {
		if len(vs) > proto.ChannelsMax {
			vs = vs[:proto.ChannelsMax]
		}
		v.Volume = make([]float32, len(vs))
		for i, f := range vs {
			v.Volume[i] = float32(f)
		}
	}
	if mute, err := o.GetBoolean(muteKey); err == nil {
		v.Mute = mute
	}
	if base, err := o.GetFloat64("volumeBase"); err == nil {
		v.Base = float32(base)
	}
	if step, err := o.GetFloat64("volumeStep"); err == nil {
		v.Steps = uint32(float64(proto.VolumeNorm) * step)
	}
	return nil
}

// DeviceInfo is the state of a device or stream node as reported to
// clients. It is recomputed whenever the node changes.
type DeviceInfo struct {
	Direction graph.Direction
	CardID    uint32
	Device    uint32

	State      DeviceState
	SampleSpec proto.SampleSpec
	ChannelMap proto.ChannelMap
	Volume     VolumeInfo

	HaveVolume       bool
	HaveIEC958Codecs bool

	ActivePort uint32
	// ActivePortName is filled in by Ports.
	ActivePortName string
}

func newDeviceInfo(dir graph.Direction) DeviceInfo {
	return DeviceInfo{
		Direction:  dir,
		CardID:     Invalid,
		Device:     Invalid,
		ActivePort: Invalid,
		SampleSpec: proto.SampleSpec{Format: proto.FormatInvalid},
		Volume:     DefaultVolumeInfo(),
	}
}

// Valid reports whether the node has a usable format and volume yet.
func (d *DeviceInfo) Valid() bool {
	return d.SampleSpec.Valid() && d.ChannelMap.Valid() &&
		proto.LinearChannelVolumes(d.Volume.Volume).Valid()
}

func (d *DeviceInfo) equal(o *DeviceInfo) bool {
	return d.Direction == o.Direction && d.CardID == o.CardID && d.Device == o.Device &&
		d.State == o.State && d.SampleSpec == o.SampleSpec &&
		slices.Equal(d.ChannelMap, o.ChannelMap) && d.Volume.equal(&o.Volume) &&
		d.HaveVolume == o.HaveVolume && d.HaveIEC958Codecs == o.HaveIEC958Codecs &&
		d.ActivePort == o.ActivePort
}

// Defaults are used for devices that do not announce a fixed format.
type Defaults struct {
	SampleSpec proto.SampleSpec
	ChannelMap proto.ChannelMap
}

func collectDeviceInfo(dev, card *manager.Object, di *DeviceInfo, monitor bool, defs *Defaults) {
	if card != nil {
		for _, p := range card.ParamsByID(graph.ParamRoute) {
			o := decode(p)
			if o == nil {
				continue
			}
			idx, err1 := o.GetInt64("index")
			d, err2 := o.GetInt64("device")
			if err1 != nil || err2 != nil || uint32(d) != di.Device {
				continue
			}
			di.ActivePort = uint32(idx)
			if props, err := o.GetObject("props"); err == nil && !monitor {
				b, _ := props.Marshal()
				if ParseVolume(b, &di.Volume, false) == nil {
					di.Volume.HWVolume, di.Volume.HWMute = true, true
					di.HaveVolume = true
				}
			}
		}
	}
	var def *proto.SampleSpec
	if defs != nil {
		def = &defs.SampleSpec
	}
	for _, p := range dev.Params {
		switch p.ID {
		case graph.ParamEnumFormat:
			ParseFormat(p.Blob, true, def, &di.SampleSpec, &di.ChannelMap)
		case graph.ParamFormat:
			ParseFormat(p.Blob, true, nil, &di.SampleSpec, &di.ChannelMap)
		case graph.ParamProps:
			if !di.HaveVolume {
				if ParseVolume(p.Blob, &di.Volume, monitor) == nil {
					di.HaveVolume = true
				}
			}
			if o := decode(p); o != nil {
				_, err := o.GetValue("iec958Codecs")
				di.HaveIEC958Codecs = err == nil
			}
		}
	}
	if len(di.ChannelMap) == 0 && di.SampleSpec.Channels > 0 && defs != nil &&
		len(defs.ChannelMap) == int(di.SampleSpec.Channels) {
		di.ChannelMap = append(proto.ChannelMap(nil), defs.ChannelMap...)
	}
	di.SampleSpec.Channels = byte(len(di.ChannelMap))
	if n := len(di.ChannelMap); len(di.Volume.Volume) != n {
		vol := make([]float32, n)
		for i := range vol {
			vol[i] = 1
		}
		copy(vol, di.Volume.Volume)
		di.Volume.Volume = vol
	}
}

func dataKey(monitor bool) string {
	if monitor {
		return "device.info.monitor"
	}
	return "device.info"
}

func updateDeviceInfo(m *manager.Manager, o *manager.Object, dir graph.Direction, monitor bool, defs *Defaults, stream bool) {
	info := o.Info
	if info == nil {
		return
	}
	di := newDeviceInfo(dir)
	if s, ok := info.Props["device.id"]; ok {
		if n, err := strconv.ParseUint(s, 10, 32); err == nil {
			di.CardID = uint32(n)
		}
	}
	if s, ok := info.Props["card.profile.device"]; ok {
		if n, err := strconv.ParseUint(s, 10, 32); err == nil {
			di.Device = uint32(n)
		}
	}
	var card *manager.Object
	if di.CardID != Invalid {
		card = Select(m, ByID(di.CardID, (*manager.Object).IsCard))
	}
	collectDeviceInfo(o, card, &di, monitor, defs)

	di.State = nodeState(info.State)
	// a running device without a stream is idle for clients
	reverse := graph.DirectionInput
	if dir == graph.DirectionInput {
		reverse = graph.DirectionOutput
	}
	if !stream && di.State == StateRunning && !IsLinked(m, o.ID, reverse) {
		di.State = StateIdle
	}

	key := dataKey(monitor)
	if old, ok := o.Data(key).(*DeviceInfo); ok {
		if !old.equal(&di) {
			if monitor || dir == graph.DirectionInput {
				o.ChangeMask |= uint64(manager.FlagSource)
			} else {
				o.ChangeMask |= uint64(manager.FlagSink)
			}
		}
		*old = di
		return
	}
	o.ChangeMask = ^uint64(0)
	o.SetData(key, &di)
}

// GetDeviceInfo returns the state computed by the last UpdateObjectInfo.
func GetDeviceInfo(o *manager.Object, dir graph.Direction, monitor bool) DeviceInfo {
	if di, ok := o.Data(dataKey(monitor)).(*DeviceInfo); ok {
		return *di
	}
	return newDeviceInfo(dir)
}

// UpdateObjectInfo recomputes the client visible state of a node and
// records in o.ChangeMask which facilities changed. Objects that had no
// state yet get a full change mask.
func UpdateObjectInfo(m *manager.Manager, o *manager.Object, defs *Defaults) {
	if o.IsSink() {
		updateDeviceInfo(m, o, graph.DirectionOutput, false, defs, false)
		updateDeviceInfo(m, o, graph.DirectionOutput, true, defs, false)
	}
	if o.IsSource() {
		updateDeviceInfo(m, o, graph.DirectionInput, false, defs, false)
	}
	if o.IsSourceOutput() {
		updateDeviceInfo(m, o, graph.DirectionInput, false, defs, true)
	}
	if o.IsSinkInput() {
		updateDeviceInfo(m, o, graph.DirectionOutput, false, defs, true)
	}
}

// LatencyOffset returns the latency offset in nanoseconds of a device node
// from its Props parameter.
func LatencyOffset(o *manager.Object) int64 {
	for _, p := range o.ParamsByID(graph.ParamProps) {
		if v := decode(p); v != nil {
			if n, err := v.GetInt64("latencyOffsetNsec"); err == nil {
				return n
			}
		}
	}
	return 0
}
