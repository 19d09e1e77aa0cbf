// Package config loads the server configuration. Values come from, in
// order of precedence, command line flags, PULSED_ environment variables,
// an optional YAML file and the built in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/jfreymuth/pulsed/internal/stream"
	"github.com/jfreymuth/pulsed/proto"
)

// EnvPrefix is the prefix of environment variables overriding config keys.
const EnvPrefix = "PULSED"

// Address is one entry of server.address.
type Address struct {
	Address       string
	MaxClients    int
	ListenBacklog int
	// Access is the access label given to clients of this address. Empty
	// means the transport default.
	Access string
}

// Config is the typed server configuration.
type Config struct {
	Addresses  []Address
	RuntimeDir string

	Limits             stream.Limits
	DefaultSampleSpec  proto.SampleSpec
	DefaultChannelMap  proto.ChannelMap
	AllowModuleLoading bool
	// Commands are run at startup, e.g. "load-module module-always-sink".
	Commands []string

	LogLevel       string
	LogFormat      string
	MetricsAddress string
	GraphFixture   string
}

// Default values of the limits and listen addresses.
const (
	DefaultMaxClients    = 64
	DefaultListenBacklog = 32
)

// SetDefaults registers the default value of every key with v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.address", []string{"unix:native"})
	v.SetDefault("runtime-dir", defaultRuntimeDir())

	d := stream.DefaultLimits()
	v.SetDefault("pulse.min.req", d.MinReq.String())
	v.SetDefault("pulse.default.req", d.DefaultReq.String())
	v.SetDefault("pulse.min.frag", d.MinFrag.String())
	v.SetDefault("pulse.default.frag", d.DefaultFrag.String())
	v.SetDefault("pulse.default.tlength", d.DefaultTLength.String())
	v.SetDefault("pulse.min.quantum", d.MinQuantum.String())
	v.SetDefault("pulse.default.format", "F32")
	v.SetDefault("pulse.default.position", "[ FL FR ]")
	v.SetDefault("pulse.idle.timeout", 0)
	v.SetDefault("pulse.allow-module-loading", true)
	v.SetDefault("pulse.cmd", []string{
		"load-module module-always-sink",
		"load-module module-stream-restore",
		"load-module module-device-restore",
	})
	v.SetDefault("default.clock.quantum-limit", d.QuantumLimit)
	v.SetDefault("default.clock.rate", 48000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.address", "")
	v.SetDefault("graph.fixture", "")
}

func defaultRuntimeDir() string {
	if dir := os.Getenv("PULSE_RUNTIME_PATH"); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "pulse")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("pulse-%d", os.Getuid()))
}

// New returns a viper instance with defaults and environment bindings. If
// file is not empty it is read as YAML.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if file == "" {
		return v, nil
	}
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if errors.As(err, &nf) || errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", file, err)
	}
	return v, nil
}

// Load builds a Config from v.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		RuntimeDir:         v.GetString("runtime-dir"),
		AllowModuleLoading: v.GetBool("pulse.allow-module-loading"),
		Commands:           v.GetStringSlice("pulse.cmd"),
		LogLevel:           v.GetString("log.level"),
		LogFormat:          v.GetString("log.format"),
		MetricsAddress:     v.GetString("metrics.address"),
		GraphFixture:       v.GetString("graph.fixture"),
	}

	addrs, err := parseAddresses(v.Get("server.address"))
	if err != nil {
		return nil, err
	}
	c.Addresses = addrs

	props := map[string]string{}
	for _, key := range []string{
		"pulse.min.req", "pulse.default.req", "pulse.min.frag", "pulse.default.frag",
		"pulse.default.tlength", "pulse.min.quantum", "pulse.idle.timeout",
	} {
		props[key] = v.GetString(key)
	}
	c.Limits = stream.DefaultLimits().WithProps(props)
	if q := v.GetUint32("default.clock.quantum-limit"); q > 0 {
		c.Limits.QuantumLimit = q
	}

	format, ok := proto.ParseFormat(v.GetString("pulse.default.format"))
	if !ok {
		return nil, fmt.Errorf("invalid pulse.default.format %q", v.GetString("pulse.default.format"))
	}
	pos := listString(v.Get("pulse.default.position"))
	cm, ok := proto.ParseChannelMap(pos)
	if !ok {
		return nil, fmt.Errorf("invalid pulse.default.position %q", pos)
	}
	c.DefaultChannelMap = cm
	c.DefaultSampleSpec = proto.SampleSpec{
		Format:   format,
		Channels: byte(len(cm)),
		Rate:     v.GetUint32("default.clock.rate"),
	}
	if !c.DefaultSampleSpec.Valid() {
		return nil, fmt.Errorf("invalid default sample spec %v", c.DefaultSampleSpec)
	}
	return c, nil
}

// parseAddresses accepts a list of strings, a list of objects or a mix.
// A single string is treated as a list of one.
func parseAddresses(raw interface{}) ([]Address, error) {
	var items []interface{}
	switch x := raw.(type) {
	case nil:
		return []Address{{Address: "unix:native", MaxClients: DefaultMaxClients, ListenBacklog: DefaultListenBacklog}}, nil
	case string:
		items = []interface{}{x}
	case []string:
		for _, s := range x {
			items = append(items, s)
		}
	case []interface{}:
		items = x
	default:
		return nil, fmt.Errorf("invalid server.address of type %T", raw)
	}
	var addrs []Address
	for _, it := range items {
		a := Address{MaxClients: DefaultMaxClients, ListenBacklog: DefaultListenBacklog}
		switch x := it.(type) {
		case string:
			// an environment override is a single space separated string
			for _, s := range strings.Fields(x) {
				b := a
				b.Address = s
				addrs = append(addrs, b)
			}
			continue
		case map[string]interface{}:
			a.Address, _ = x["address"].(string)
			if n, ok := intValue(x["max-clients"]); ok {
				a.MaxClients = n
			}
			if n, ok := intValue(x["listen-backlog"]); ok {
				a.ListenBacklog = n
			}
			a.Access, _ = x["client.access"].(string)
		default:
			return nil, fmt.Errorf("invalid server.address entry of type %T", it)
		}
		if a.Address == "" {
			return nil, errors.New("server.address entry without address")
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// listString joins a YAML list with spaces.
func listString(v interface{}) string {
	switch x := v.(type) {
	case []interface{}:
		parts := make([]string, len(x))
		for i, p := range x {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, " ")
	case []string:
		return strings.Join(x, " ")
	}
	return fmt.Sprint(v)
}

func intValue(v interface{}) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(x)
		return n, err == nil
	}
	return 0, false
}

// ConfigureLogger applies level and format to l.
func ConfigureLogger(l *logrus.Logger, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	l.SetLevel(lvl)
	switch format {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// Watch re-applies the log level whenever the config file changes. It does
// nothing if v was not loaded from a file.
func Watch(v *viper.Viper, l *logrus.Logger) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := ConfigureLogger(l, v.GetString("log.level"), v.GetString("log.format")); err != nil {
			l.WithError(err).Warn("ignoring invalid log configuration")
			return
		}
		l.WithField("file", e.Name).Info("configuration reloaded")
	})
	v.WatchConfig()
}
