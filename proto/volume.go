package proto

import "math"

type Volume uint32

const (
	VolumeMuted   Volume = 0
	VolumeNorm    Volume = 0x10000
	VolumeMax     Volume = math.MaxUint32 / 2
	VolumeInvalid Volume = math.MaxUint32
)

// LinearVolume converts a linear amplitude factor to a volume.
// The conversion uses the cubic mapping of the graph, so that
// LinearVolume(v.Linear()) == v for all valid volumes.
func LinearVolume(linear float64) Volume {
	if linear <= 0 {
		return VolumeMuted
	}
	v := math.Round(math.Cbrt(linear) * float64(VolumeNorm))
	if v > float64(VolumeMax) {
		return VolumeMax
	}
	return Volume(v)
}

// Linear returns the linear amplitude factor of the volume.
func (v Volume) Linear() float64 {
	f := float64(v) / float64(VolumeNorm)
	return f * f * f
}

// Valid reports whether v is within the valid range.
func (v Volume) Valid() bool { return v <= VolumeMax }

type ChannelVolumes []uint32

// Valid reports whether the channel count and all values are valid.
func (c ChannelVolumes) Valid() bool {
	if len(c) == 0 || len(c) > ChannelsMax {
		return false
	}
	for _, v := range c {
		if !Volume(v).Valid() {
			return false
		}
	}
	return true
}

// Equal reports whether both volumes have the same channel count and values.
func (c ChannelVolumes) Equal(o ChannelVolumes) bool {
	if len(c) != len(o) {
		return false
	}
	for i := range c {
		if c[i] != o[i] {
			return false
		}
	}
	return true
}

// Linear converts every channel to a linear factor.
func (c ChannelVolumes) Linear() []float32 {
	f := make([]float32, len(c))
	for i, v := range c {
		f[i] = float32(Volume(v).Linear())
	}
	return f
}

// LinearChannelVolumes converts linear factors to channel volumes.
func LinearChannelVolumes(f []float32) ChannelVolumes {
	c := make(ChannelVolumes, len(f))
	for i, v := range f {
		c[i] = uint32(LinearVolume(float64(v)))
	}
	return c
}

// UniformVolume returns a volume with all channels set to v.
func UniformVolume(channels int, v Volume) ChannelVolumes {
	c := make(ChannelVolumes, channels)
	for i := range c {
		c[i] = uint32(v)
	}
	return c
}
