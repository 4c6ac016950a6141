// Package plugin implements the mesh's plugin lifecycle, the hook
// surface through which application code extends a registered service
// without touching the facade itself.
package plugin

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hydra-mesh/hydra/logger"
)

// Plugin is the extension contract an application registers with a
// Host. Every hook may be called serially and in registration order;
// implementations that don't care about a given hook can embed Base to
// satisfy the interface with no-ops.
type Plugin interface {
	Name() string
	SetHydra(h any) error
	SetConfig(hydraCfg any) error
	OnServiceReady() error
	UpdateConfig(serviceCfg any) error
	ConfigChanged(opts any) error
}

// Base is an embeddable no-op Plugin. Implementations embed it and
// override only the hooks they need, mirroring the teacher's
// mod.Module pattern of optional OnInit/OnStart/OnStop callbacks.
type Base struct{ PluginName string }

func (b *Base) Name() string                    { return b.PluginName }
func (b *Base) SetHydra(h any) error             { return nil }
func (b *Base) SetConfig(hydraCfg any) error     { return nil }
func (b *Base) OnServiceReady() error            { return nil }
func (b *Base) UpdateConfig(serviceCfg any) error { return nil }
func (b *Base) ConfigChanged(opts any) error     { return nil }

// Host owns the registered plugin list and drives its lifecycle.
// Every phase runs plugins strictly in registration order: a plugin may
// depend on mutations an earlier plugin made during the same phase, so
// parallelizing these calls would be a correctness bug, not an
// optimization.
type Host struct {
	log logger.ILogger

	mu           sync.Mutex
	plugins      []Plugin
	lastOptions  map[string]string
	initialized  bool
}

// New creates an empty Host.
func New(log logger.ILogger) *Host {
	return &Host{log: log, lastOptions: make(map[string]string)}
}

// Use registers plugins and immediately calls SetHydra(facade) on each,
// serially, in the order given. Matches the teacher's Service.AddModule
// shape, generalized to the facade-aware plugin contract.
func (h *Host) Use(facade any, plugins ...Plugin) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range plugins {
		if err := p.SetHydra(facade); err != nil {
			return fmt.Errorf("plugin: %s: SetHydra: %w", p.Name(), err)
		}
		h.plugins = append(h.plugins, p)
	}
	return nil
}

// Init runs the config phase: SetConfig(hydraCfg) on every plugin in
// order, then OnServiceReady() on every plugin in order, mirroring
// Service.Start's init-then-actions-registration ordering. Init may
// only be called once; subsequent calls are a no-op.
func (h *Host) Init(hydraCfg any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.initialized {
		return nil
	}
	for _, p := range h.plugins {
		if err := p.SetConfig(hydraCfg); err != nil {
			return fmt.Errorf("plugin: %s: SetConfig: %w", p.Name(), err)
		}
	}
	for _, p := range h.plugins {
		if err := p.OnServiceReady(); err != nil {
			return fmt.Errorf("plugin: %s: OnServiceReady: %w", p.Name(), err)
		}
	}
	h.initialized = true
	return nil
}

// HandleConfigUpdate runs the configUpdate event: UpdateConfig(cfg) on
// every plugin; a plugin whose JSON-serialized options differ from what
// was cached on its prior call then gets ConfigChanged(cfg) as well.
// Diffing happens per plugin against that plugin's own last-seen
// payload, never against another plugin's.
func (h *Host) HandleConfigUpdate(serviceCfg any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	encoded, err := json.Marshal(serviceCfg)
	if err != nil {
		return fmt.Errorf("plugin: marshal config: %w", err)
	}
	current := string(encoded)

	for _, p := range h.plugins {
		if err := p.UpdateConfig(serviceCfg); err != nil {
			return fmt.Errorf("plugin: %s: UpdateConfig: %w", p.Name(), err)
		}
		if h.lastOptions[p.Name()] == current {
			continue
		}
		h.lastOptions[p.Name()] = current
		if err := p.ConfigChanged(serviceCfg); err != nil {
			return fmt.Errorf("plugin: %s: ConfigChanged: %w", p.Name(), err)
		}
	}
	return nil
}

// Plugins returns the registered plugins in registration order.
func (h *Host) Plugins() []Plugin {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Plugin, len(h.plugins))
	copy(out, h.plugins)
	return out
}
