package graph

import "encoding/json"

// Parameters travel as JSON objects. The types below are used to encode
// them; readers are expected to tolerate unknown keys and skip entries that
// do not match.

// Availability of a profile or route.
const (
	AvailableUnknown = "unknown"
	AvailableNo      = "no"
	AvailableYes     = "yes"
)

type ProfileParam struct {
	Index       int32          `json:"index"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Priority    uint32         `json:"priority,omitempty"`
	Available   string         `json:"available,omitempty"`
	Classes     []ProfileClass `json:"classes,omitempty"`
	Save        bool           `json:"save,omitempty"`
}

// ProfileClass counts the devices of a media class a profile provides. It
// is encoded as a two element array.
type ProfileClass struct {
	Class string
	Count int
}

func (c ProfileClass) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{c.Class, c.Count})
}

func (c *ProfileClass) UnmarshalJSON(b []byte) error {
	var v [2]json.RawMessage
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if err := json.Unmarshal(v[0], &c.Class); err != nil {
		return err
	}
	return json.Unmarshal(v[1], &c.Count)
}

// Route directions.
const (
	DirectionNameInput  = "Input"
	DirectionNameOutput = "Output"
)

type RouteParam struct {
	Index       int32             `json:"index"`
	Direction   string            `json:"direction"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Priority    uint32            `json:"priority,omitempty"`
	Available   string            `json:"available,omitempty"`
	Info        map[string]string `json:"info,omitempty"`
	Devices     []int32           `json:"devices,omitempty"`
	Profiles    []int32           `json:"profiles,omitempty"`
	Device      *int32            `json:"device,omitempty"`
	Props       *PropsParam       `json:"props,omitempty"`
	Save        bool              `json:"save,omitempty"`
}

type PropsParam struct {
	ChannelVolumes    []float32 `json:"channelVolumes,omitempty"`
	Mute              *bool     `json:"mute,omitempty"`
	MonitorVolumes    []float32 `json:"monitorVolumes,omitempty"`
	MonitorMute       *bool     `json:"monitorMute,omitempty"`
	VolumeBase        *float32  `json:"volumeBase,omitempty"`
	VolumeStep        *float32  `json:"volumeStep,omitempty"`
	SoftVolumes       []float32 `json:"softVolumes,omitempty"`
	IEC958Codecs      []string  `json:"iec958Codecs,omitempty"`
	LatencyOffsetNsec *int64    `json:"latencyOffsetNsec,omitempty"`
	BluetoothCodec    string    `json:"bluetoothAudioCodec,omitempty"`
}

type FormatParam struct {
	MediaType    string   `json:"mediaType"`
	MediaSubtype string   `json:"mediaSubtype"`
	Format       string   `json:"format,omitempty"`
	Rate         uint32   `json:"rate,omitempty"`
	Channels     uint32   `json:"channels,omitempty"`
	Position     []string `json:"position,omitempty"`
	IEC958Codec  string   `json:"iec958Codec,omitempty"`
}

// CodecInfo lists the transport codecs of a bluetooth device. The active
// codec is the BluetoothCodec of the device Props.
type CodecInfo struct {
	Codecs []Codec `json:"codecs"`
}

type Codec struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// MarshalParam encodes a parameter value.
func MarshalParam(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("graph: cannot encode param: " + err.Error())
	}
	return b
}

// Bool returns a pointer to b, for optional fields.
func Bool(b bool) *bool { return &b }

// Float returns a pointer to f, for optional fields.
func Float(f float32) *float32 { return &f }

// Int returns a pointer to i, for optional fields.
func Int(i int32) *int32 { return &i }

// Int64 returns a pointer to i, for optional fields.
func Int64(i int64) *int64 { return &i }
