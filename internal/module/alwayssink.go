package module

import (
	"strconv"

	"github.com/jfreymuth/pulsed/internal/manager"
)

// AlwaysSink keeps a null sink named auto_null loaded while no other sink
// exists.
var AlwaysSink = &Info{
	Name:     "module-always-sink",
	LoadOnce: true,
	Properties: map[string]string{
		"module.author":      "pulsed",
		"module.description": "Always keeps at least one sink loaded even if it's a null one",
		"module.usage":       "sink_name=<name of sink>",
		"module.version":     "1.0",
	},
	Create: newAlwaysSink,
}

const autoNullArgs = `sink_properties='device.description="Dummy Output"'`

type alwaysSink struct {
	manager.NopListener
	m        *Module
	name     string
	null     *Module
	remove   func()
	checking bool
}

func newAlwaysSink(m *Module, args map[string]string) (Instance, error) {
	name := args["sink_name"]
	if name == "" {
		name = "auto_null"
	}
	return &alwaysSink{m: m, name: name}, nil
}

func (a *alwaysSink) Load() error {
	a.remove = a.m.Host.Manager().AddListener(a)
	a.m.Loaded(nil)
	return nil
}

func (a *alwaysSink) Sync()                     { a.scheduleCheck() }
func (a *alwaysSink) Added(o *manager.Object)   { a.scheduleCheck() }
func (a *alwaysSink) Removed(o *manager.Object) { a.scheduleCheck() }

// scheduleCheck runs check once after the current burst of events.
func (a *alwaysSink) scheduleCheck() {
	if a.checking {
		return
	}
	a.checking = true
	a.m.Host.Exec().Invoke(func() {
		a.checking = false
		if !a.m.Unloading() {
			a.check()
		}
	})
}

func (a *alwaysSink) isOwn(o *manager.Object) bool {
	if a.null == nil {
		return false
	}
	return o.Props["pulse.module.id"] == strconv.FormatUint(uint64(a.null.ID()), 10)
}

func (a *alwaysSink) check() {
	found := false
	a.m.Host.Manager().ForEach(func(o *manager.Object) bool {
		if o.IsSink() && !a.isOwn(o) {
			found = true
			return false
		}
		return true
	})
	switch {
	case !found && a.null == nil:
		m, err := a.m.Host.LoadModule(NullSink.Name, "sink_name="+a.name+" "+autoNullArgs)
		if err != nil {
			a.m.Log.WithError(err).Warn("cannot load null sink")
			return
		}
		a.null = m
		m.Load(func(err error) {
			if err != nil && a.null == m {
				a.null = nil
			}
		})
	case found && a.null != nil:
		m := a.null
		a.null = nil
		if err := a.m.Host.UnloadModule(m); err != nil {
			a.m.Log.WithError(err).Debug("unloading null sink")
		}
	}
}

func (a *alwaysSink) Unload() error {
	if a.remove != nil {
		a.remove()
		a.remove = nil
	}
	if a.null != nil {
		m := a.null
		a.null = nil
		return a.m.Host.UnloadModule(m)
	}
	return nil
}
