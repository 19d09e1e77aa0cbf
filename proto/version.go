package proto

// Version is a protocol version as exchanged during authentication.
// The upper 16 bits carry feature flags.
type Version uint32

const (
	// ProtocolVersion is the version spoken by this server.
	ProtocolVersion Version = 35
	// MinimumVersion is the oldest client version that is accepted.
	MinimumVersion Version = 8

	versionMask = 0x0000FFFF
	flagMask    = 0xFFFF0000
)

func (v Version) Version() int { return int(v & versionMask) }

// Flags returns the feature flags of v.
func (v Version) Flags() uint32 { return uint32(v & flagMask) }

func (v Version) Min(u Version) Version {
	flags := v & u & flagMask
	v &= versionMask
	if v > u&versionMask {
		v = u & versionMask
	}
	return v | flags
}

// Negotiate returns the version a client announcing v will be spoken to with.
// Clients newer than 13 send feature flags in the upper bits which must be
// masked off.
func Negotiate(v Version) Version {
	if v&versionMask >= 13 {
		v &= versionMask
	}
	return v
}
