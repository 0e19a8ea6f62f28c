// Package plugin manages plugin records and their sandbox lifecycles. The
// manager owns the only registry of live sandboxes; creating and destroying
// channels through it keeps the one-sandbox-per-plugin invariant checkable.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackenstacks/ai-nexus/internal/metrics"
	"github.com/hackenstacks/ai-nexus/pkg/hooks"
	"github.com/hackenstacks/ai-nexus/pkg/sandbox"
	"github.com/hackenstacks/ai-nexus/pkg/state"
)

var (
	// ErrNotFound is returned when no plugin with the given id exists.
	ErrNotFound = errors.New("plugin not found")

	// ErrDuplicateID is returned when creating a plugin whose id is taken.
	ErrDuplicateID = errors.New("plugin id already exists")
)

// LogSink receives log output from plugin sandboxes.
type LogSink func(pluginID string, values []interface{})

// Config configures a Manager.
type Config struct {
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	HookTimeout time.Duration

	// Capability resolves mediated calls for all plugin sandboxes.
	Capability sandbox.CapabilityFunc

	// OnLog receives plugin log output; nil routes it to Logger.
	OnLog LogSink
}

// LoadResult reports the outcome of starting a batch of plugins.
type LoadResult struct {
	Started []string
	Failed  []string
	Errors  map[string]error
}

// Manager tracks plugin records and their live sandbox channels.
type Manager struct {
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	hookTimeout time.Duration
	capability  sandbox.CapabilityFunc
	onLog       LogSink

	mu       sync.Mutex
	order    []string
	records  map[string]state.Plugin
	channels map[string]*sandbox.Channel
}

// NewManager creates a plugin manager.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		logger:      cfg.Logger.With().Str("component", "plugins").Logger(),
		metrics:     cfg.Metrics,
		hookTimeout: cfg.HookTimeout,
		capability:  cfg.Capability,
		onLog:       cfg.OnLog,
		records:     make(map[string]state.Plugin),
		channels:    make(map[string]*sandbox.Channel),
	}
	if m.onLog == nil {
		m.onLog = func(pluginID string, values []interface{}) {
			m.logger.Info().Str("plugin_id", pluginID).Interface("values", values).Msg("Plugin log")
		}
	}
	return m
}

// StartAll replaces the managed set with the given records and starts a
// sandbox for every enabled one. A plugin whose code fails to evaluate
// stays enabled but inert; its error lands in the result, not in the
// return value.
func (m *Manager) StartAll(ctx context.Context, plugins []state.Plugin) *LoadResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownLocked()
	m.order = nil
	m.records = make(map[string]state.Plugin)

	result := &LoadResult{Errors: make(map[string]error)}

	for _, p := range plugins {
		if _, exists := m.records[p.ID]; exists {
			m.logger.Warn().Str("plugin_id", p.ID).Msg("Skipping duplicate plugin id")
			continue
		}
		m.order = append(m.order, p.ID)
		m.records[p.ID] = p

		if !p.Enabled {
			continue
		}
		if err := m.startLocked(ctx, p); err != nil {
			result.Failed = append(result.Failed, p.ID)
			result.Errors[p.ID] = err
			m.logger.Error().Err(err).Str("plugin_id", p.ID).Str("plugin", p.Name).Msg("Plugin failed to load")
			continue
		}
		result.Started = append(result.Started, p.ID)
	}

	m.logger.Info().
		Int("started", len(result.Started)).
		Int("failed", len(result.Failed)).
		Int("total", len(plugins)).
		Msg("Plugin startup complete")

	return result
}

// Create registers a new plugin record and, if enabled, starts its
// sandbox. A load failure leaves the record in place (enabled but inert)
// and is returned to the caller for surfacing.
func (m *Manager) Create(ctx context.Context, p state.Plugin) error {
	if err := ValidateRecord(p); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[p.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
	}

	m.order = append(m.order, p.ID)
	m.records[p.ID] = p

	if !p.Enabled {
		return nil
	}
	return m.startLocked(ctx, p)
}

// Update replaces a plugin record. A live sandbox is restarted so code and
// settings changes take effect; the old context never survives an edit.
func (m *Manager) Update(ctx context.Context, p state.Plugin) error {
	if err := ValidateRecord(p); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[p.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, p.ID)
	}

	m.stopLocked(p.ID)
	m.records[p.ID] = p

	if !p.Enabled {
		return nil
	}
	return m.startLocked(ctx, p)
}

// Delete tears down the plugin's sandbox and removes its record.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	m.stopLocked(id)
	delete(m.records, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Enable marks the plugin enabled and starts its sandbox. On load failure
// the record stays enabled but no sandbox registers.
func (m *Manager) Enable(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.records[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	p.Enabled = true
	m.records[id] = p

	if _, live := m.channels[id]; live {
		return nil
	}
	return m.startLocked(ctx, p)
}

// Disable marks the plugin disabled and deterministically terminates its
// sandbox, rejecting any pending hook invocations.
func (m *Manager) Disable(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.records[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	p.Enabled = false
	m.records[id] = p
	m.stopLocked(id)
	return nil
}

// Get returns a plugin record by id.
func (m *Manager) Get(id string) (state.Plugin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[id]
	return p, ok
}

// Plugins returns all records in insertion order, for persistence.
func (m *Manager) Plugins() []state.Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()

	plugins := make([]state.Plugin, 0, len(m.order))
	for _, id := range m.order {
		plugins = append(plugins, m.records[id])
	}
	return plugins
}

// Live reports whether the plugin currently has a live sandbox.
func (m *Manager) Live(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.channels[id]
	return ok
}

// Runtimes returns a consistent snapshot of enabled plugins with live
// sandboxes, in insertion order. Implements hooks.Source.
func (m *Manager) Runtimes() []hooks.Runtime {
	m.mu.Lock()
	defer m.mu.Unlock()

	runtimes := make([]hooks.Runtime, 0, len(m.channels))
	for _, id := range m.order {
		p := m.records[id]
		channel, live := m.channels[id]
		if !p.Enabled || !live {
			continue
		}
		runtimes = append(runtimes, hooks.Runtime{
			PluginID:   p.ID,
			PluginName: p.Name,
			Channel:    channel,
		})
	}
	return runtimes
}

// Shutdown terminates every live sandbox.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownLocked()
}

func (m *Manager) shutdownLocked() {
	for id := range m.channels {
		m.stopLocked(id)
	}
}

// startLocked allocates and loads a sandbox for p. Callers hold m.mu and
// have verified no channel is live for p.ID.
func (m *Manager) startLocked(ctx context.Context, p state.Plugin) error {
	channel := sandbox.New(sandbox.Options{
		PluginID:    p.ID,
		Logger:      m.logger,
		HookTimeout: m.hookTimeout,
		Capability:  m.capability,
		Settings:    p.Settings,
		OnLog: func(values []interface{}) {
			m.onLog(p.ID, values)
		},
	})

	if err := channel.LoadCode(ctx, p.Code); err != nil {
		channel.Terminate()
		if m.metrics != nil {
			m.metrics.SandboxLoadsTotal.WithLabelValues("failure").Inc()
		}
		return fmt.Errorf("plugin %s failed to load: %w", p.ID, err)
	}

	m.channels[p.ID] = channel
	if m.metrics != nil {
		m.metrics.SandboxLoadsTotal.WithLabelValues("success").Inc()
		m.metrics.SandboxesLive.Inc()
	}
	m.logger.Debug().Str("plugin_id", p.ID).Str("plugin", p.Name).Msg("Plugin sandbox started")
	return nil
}

// stopLocked terminates and drops the plugin's channel if one is live.
func (m *Manager) stopLocked(id string) {
	channel, live := m.channels[id]
	if !live {
		return
	}
	channel.Terminate()
	delete(m.channels, id)
	if m.metrics != nil {
		m.metrics.SandboxesLive.Dec()
		m.metrics.SandboxTerminated.Inc()
	}
	m.logger.Debug().Str("plugin_id", id).Msg("Plugin sandbox terminated")
}
