package graph

type Direction int

const (
	// DirectionOutput streams produce data for a sink.
	DirectionOutput Direction = iota
	// DirectionInput streams consume data from a source.
	DirectionInput
)

// Format is a negotiated stream format. Encoding is empty for raw audio,
// otherwise it names the compressed format carried in IEC958 frames.
type Format struct {
	Format   string
	Rate     uint32
	Channels uint32
	Position []string
	Encoding string
}

// Stream flags.
const (
	StreamAutoconnect = 1 << iota
	StreamInactive
	StreamRTProcess
	StreamDontReconnect
)

type StreamConfig struct {
	Direction Direction
	Props     Props
	// Formats lists the acceptable formats in order of preference.
	Formats []Format
	Flags   uint32
}

type StreamState int

const (
	StreamError StreamState = iota - 1
	StreamUnconnected
	StreamConnecting
	StreamPaused
	StreamStreaming
)

func (s StreamState) String() string {
	switch s {
	case StreamError:
		return "error"
	case StreamUnconnected:
		return "unconnected"
	case StreamConnecting:
		return "connecting"
	case StreamPaused:
		return "paused"
	case StreamStreaming:
		return "streaming"
	}
	return "unknown"
}

type Control int

const (
	ControlVolume Control = iota
	ControlMute
	ControlChannelVolumes
	// ControlRate is the resampling correction factor of a stream.
	ControlRate
)

// Buffer is exchanged with the graph once per cycle. Output streams fill
// Data and set Size, input streams find Size valid bytes in Data.
type Buffer struct {
	Data []byte
	Size int
	// Requested is the number of frames the graph wants, or 0 if unknown.
	Requested uint64
}

// Time describes the timing of a stream. Delay is in units of the rate.
type Time struct {
	Now       int64
	RateNum   uint32
	RateDenom uint32
	Ticks     uint64
	Delay     int64
	Queued    uint64
}

// StreamEvents receives events of a stream. Process is called on the real
// time goroutine of the graph and must not block.
type StreamEvents interface {
	StateChanged(old, state StreamState, err error)
	FormatChanged(Format)
	ControlInfo(c Control, values []float32)
	Process(b *Buffer)
	Drained()
}

// Stream is a client stream connected to the graph.
type Stream interface {
	NodeID() uint32
	SetActive(active bool) error
	// Flush discards queued data. With drain set, Drained is emitted once
	// the queued data has been played.
	Flush(drain bool) error
	SetControl(c Control, values []float32) error
	UpdateProperties(props Props) error
	Time() Time
	Disconnect() error
}
