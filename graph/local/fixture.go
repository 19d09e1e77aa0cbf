package local

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixture describes the devices of the graph.
type Fixture struct {
	Rate    uint32          `yaml:"rate"`
	Quantum uint32          `yaml:"quantum"`
	Modules []ModuleFixture `yaml:"modules"`
	Devices []DeviceFixture `yaml:"devices"`
	Nodes   []NodeFixture   `yaml:"nodes"`
}

type ModuleFixture struct {
	Name  string            `yaml:"name"`
	Args  string            `yaml:"args"`
	Props map[string]string `yaml:"props"`
}

type DeviceFixture struct {
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	Props         map[string]string `yaml:"props"`
	Profiles      []ProfileFixture  `yaml:"profiles"`
	ActiveProfile string            `yaml:"active-profile"`
	Routes        []RouteFixture    `yaml:"routes"`
	Codecs        []CodecFixture    `yaml:"codecs"`
	ActiveCodec   string            `yaml:"active-codec"`
	Nodes         []NodeFixture     `yaml:"nodes"`
}

type ProfileFixture struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Priority    uint32 `yaml:"priority"`
	Available   string `yaml:"available"`
}

type RouteFixture struct {
	Name              string   `yaml:"name"`
	Description       string   `yaml:"description"`
	Direction         string   `yaml:"direction"`
	Priority          uint32   `yaml:"priority"`
	Available         string   `yaml:"available"`
	Type              string   `yaml:"type"`
	AvailabilityGroup string   `yaml:"availability-group"`
	Devices           []int32  `yaml:"devices"`
	Profiles          []string `yaml:"profiles"`
}

type CodecFixture struct {
	ID          int    `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type NodeFixture struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	MediaClass   string            `yaml:"media-class"`
	Format       string            `yaml:"format"`
	Rate         uint32            `yaml:"rate"`
	Channels     uint32            `yaml:"channels"`
	Position     []string          `yaml:"position"`
	Volume       *float32          `yaml:"volume"`
	Mute         bool              `yaml:"mute"`
	Priority     int               `yaml:"priority"`
	Virtual      bool              `yaml:"virtual"`
	IEC958Codecs []string          `yaml:"iec958-codecs"`
	Props        map[string]string `yaml:"props"`
	// Device and Profiles place the node on a card: it exists while one of
	// Profiles is active and is the card profile device Device.
	Device   int32    `yaml:"device"`
	Profiles []string `yaml:"profiles"`
}

//go:embed default.yaml
var defaultFixture []byte

// DefaultFixture returns a graph with one analog card providing a stereo
// sink and source.
func DefaultFixture() *Fixture {
	f, err := ParseFixture(defaultFixture)
	if err != nil {
		panic(err)
	}
	return f
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := ParseFixture(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ParseFixture parses a YAML fixture and fills in defaults.
func ParseFixture(b []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	if f.Rate == 0 {
		f.Rate = 48000
	}
	if f.Quantum == 0 {
		f.Quantum = 1024
	}
	for i := range f.Devices {
		d := &f.Devices[i]
		if d.Name == "" {
			return nil, fmt.Errorf("device %d has no name", i)
		}
		if len(d.Profiles) == 0 {
			return nil, fmt.Errorf("device %s has no profiles", d.Name)
		}
		if d.ActiveProfile == "" {
			d.ActiveProfile = d.Profiles[len(d.Profiles)-1].Name
		}
		for j := range d.Nodes {
			if err := f.fixNode(&d.Nodes[j]); err != nil {
				return nil, err
			}
		}
	}
	for i := range f.Nodes {
		if err := f.fixNode(&f.Nodes[i]); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

func (f *Fixture) fixNode(n *NodeFixture) error {
	if n.Name == "" {
		return fmt.Errorf("node without name")
	}
	switch n.MediaClass {
	case "Audio/Sink", "Audio/Source", "Audio/Duplex", "Audio/Source/Virtual":
	default:
		return fmt.Errorf("node %s: unsupported media class %q", n.Name, n.MediaClass)
	}
	if n.Format == "" {
		n.Format = "S16LE"
	}
	if _, ok := frameSizes[n.Format]; !ok {
		return fmt.Errorf("node %s: unknown format %q", n.Name, n.Format)
	}
	if n.Rate == 0 {
		n.Rate = f.Rate
	}
	if n.Channels == 0 {
		n.Channels = uint32(len(n.Position))
	}
	if n.Channels == 0 {
		n.Channels = 2
	}
	if len(n.Position) == 0 {
		n.Position = defaultPosition(n.Channels)
	}
	if int(n.Channels) != len(n.Position) {
		return fmt.Errorf("node %s: %d channels but %d positions", n.Name, n.Channels, len(n.Position))
	}
	if n.Description == "" {
		n.Description = n.Name
	}
	return nil
}

func defaultPosition(channels uint32) []string {
	switch channels {
	case 1:
		return []string{"MONO"}
	case 2:
		return []string{"FL", "FR"}
	}
	pos := make([]string, channels)
	for i := range pos {
		pos[i] = fmt.Sprintf("AUX%d", i)
	}
	return pos
}

var frameSizes = map[string]int{
	"U8": 1, "ALAW": 1, "ULAW": 1,
	"S16LE": 2, "S16BE": 2,
	"S24LE": 3, "S24BE": 3,
	"F32LE": 4, "F32BE": 4, "S32LE": 4, "S32BE": 4, "S24_32LE": 4, "S24_32BE": 4,
}

func silenceByte(format string) byte {
	switch format {
	case "U8":
		return 0x80
	case "ALAW":
		return 0xd5
	case "ULAW":
		return 0xff
	}
	return 0
}
