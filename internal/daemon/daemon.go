package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/hackenstacks/ai-nexus/internal/config"
	"github.com/hackenstacks/ai-nexus/internal/gateway"
	"github.com/hackenstacks/ai-nexus/internal/logger"
	"github.com/hackenstacks/ai-nexus/internal/metrics"
	"github.com/hackenstacks/ai-nexus/pkg/hooks"
	"github.com/hackenstacks/ai-nexus/pkg/plugin"
	"github.com/hackenstacks/ai-nexus/pkg/provider"
	"github.com/hackenstacks/ai-nexus/pkg/state"
	"github.com/hackenstacks/ai-nexus/pkg/storage"
	"github.com/hackenstacks/ai-nexus/pkg/vault"
)

// Daemon wires the vault, plugin runtime, hook dispatcher, and gateway
// into one long-running service.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	metrics    *metrics.Metrics
	store      *storage.Store
	vault      *vault.Vault
	broker     *provider.Broker
	pluginMgr  *plugin.Manager
	dispatcher *hooks.Dispatcher
	scheduler  *hooks.Scheduler
	watcher    *plugin.Watcher
	gateway    *gateway.Server
	lifecycle  *LifecycleManager

	// In-memory decrypted state; nil while the vault is locked.
	stateMu sync.RWMutex
	state   *state.State

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// Status describes the daemon's runtime state.
type Status struct {
	Running          bool      `json:"running"`
	StartTime        time.Time `json:"startTime"`
	Uptime           string    `json:"uptime"`
	VaultInitialized bool      `json:"vaultInitialized"`
	VaultUnlocked    bool      `json:"vaultUnlocked"`
	PluginsLive      int       `json:"pluginsLive"`
	ClientsConnected int       `json:"clientsConnected"`
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:  cfg,
		logger:  log,
		metrics: metrics.New(),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := d.initialize(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize daemon: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initialize builds core modules in dependency order.
func (d *Daemon) initialize() error {
	log := d.logger.GetZerolog()

	if err := os.MkdirAll(d.config.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.Open(filepath.Join(d.config.DataDir, "nexus.db"), d.logger.GetZerolog())
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	d.store = store
	log.Info().Msg("Storage initialized")

	v, err := vault.New(store, vault.Config{
		Iterations: d.config.Vault.PBKDF2Iterations,
		Logger:     d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}
	d.vault = v
	log.Info().Msg("Vault initialized")

	d.broker = d.buildBroker()

	d.pluginMgr = plugin.NewManager(plugin.Config{
		Logger:      d.logger.GetZerolog(),
		Metrics:     d.metrics,
		HookTimeout: time.Duration(d.config.Hooks.TimeoutSeconds) * time.Second,
		Capability:  d.broker.Resolve,
		OnLog:       d.forwardPluginLog,
	})
	log.Info().Msg("Plugin manager initialized")

	d.dispatcher = hooks.New(d.pluginMgr, hooks.Config{
		Logger:  d.logger.GetZerolog(),
		Metrics: d.metrics,
	})
	d.dispatcher.RegisterEnricher(hooks.HookBeforeImageGeneration, d.enrichImagePayload)
	log.Info().Msg("Hook dispatcher initialized")

	scheduler, err := hooks.NewScheduler(hooks.SchedulerConfig{
		Entries: scheduleEntries(d.config.Hooks.Schedules),
		Trigger: d.dispatcher.Trigger,
		Logger:  d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create hook scheduler: %w", err)
	}
	d.scheduler = scheduler

	watcher, err := plugin.NewWatcher(plugin.WatcherConfig{
		Dir:    filepath.Join(d.config.DataDir, "plugins"),
		Import: d.importDroppedPlugin,
		Logger: d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create plugin watcher: %w", err)
	}
	d.watcher = watcher

	gw, err := gateway.NewServer(gateway.Config{
		Host:         d.config.Gateway.Host,
		Port:         d.config.Gateway.Port,
		SharedSecret: d.config.Gateway.SharedSecret,
		Metrics:      d.metrics,
		Logger:       d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gateway = gw
	d.registerMethods()
	log.Info().Msg("Gateway server initialized")

	return nil
}

// buildBroker wires the first configured provider profile into the
// capability broker. A daemon without profiles still runs; mediated
// generation calls then fail with a clear error.
func (d *Daemon) buildBroker() *provider.Broker {
	var (
		text    provider.TextProvider
		image   provider.ImageProvider
		profile config.ProviderProfile
	)

	if len(d.config.Providers) > 0 {
		profile = d.config.Providers[0]
		t, i, err := provider.NewProviders(provider.Profile{
			Name:       profile.Name,
			Provider:   profile.Provider,
			APIKey:     profile.APIKey,
			BaseURL:    profile.BaseURL,
			TextModel:  profile.TextModel,
			ImageModel: profile.ImageModel,
		})
		if err != nil {
			log := d.logger.GetZerolog()
			log.Warn().Err(err).Str("profile", profile.Name).Msg("Failed to build provider, generation disabled")
		} else {
			text, image = t, i
		}
	}

	return provider.NewBroker(provider.BrokerConfig{
		Text:  text,
		Image: image,
		Defaults: provider.Defaults{
			TextModel:   profile.TextModel,
			ImageModel:  profile.ImageModel,
			ImageSize:   d.config.Generation.ImageSize,
			MaxTokens:   d.config.Generation.MaxTokens,
			Temperature: d.config.Generation.Temperature,
		},
		Logger:  d.logger.GetZerolog(),
		Metrics: d.metrics,
	})
}

// forwardPluginLog relays sandbox log output to gateway clients.
func (d *Daemon) forwardPluginLog(pluginID string, values []interface{}) {
	log := d.logger.GetZerolog()
	log.Debug().
		Str("component", "plugin").
		Str("plugin_id", pluginID).
		Interface("values", values).
		Msg("Plugin log")

	d.gateway.Broadcast("plugin.log", map[string]interface{}{
		"pluginId": pluginID,
		"values":   values,
	})
}

// scheduleEntries converts config schedules to scheduler entries.
func scheduleEntries(schedules []config.ScheduleConfig) []hooks.ScheduleEntry {
	entries := make([]hooks.ScheduleEntry, 0, len(schedules))
	for _, s := range schedules {
		entries = append(entries, hooks.ScheduleEntry{
			Cron:    s.Cron,
			Hook:    s.Hook,
			Payload: s.Payload,
		})
	}
	return entries
}

// importDroppedPlugin creates or replaces a plugin from a drop-in file.
// The record is only accepted while the vault is unlocked, since it has
// to be persisted into the encrypted blob.
func (d *Daemon) importDroppedPlugin(p state.Plugin) error {
	if !d.vault.Unlocked() {
		return fmt.Errorf("vault is locked, drop-in plugin ignored")
	}

	d.stateMu.Lock()
	existing := d.state.FindPlugin(p.ID)
	if existing != nil {
		p.Settings = existing.Settings
	}
	d.stateMu.Unlock()

	if existing != nil {
		if err := d.pluginMgr.Update(d.ctx, p); err != nil {
			return err
		}
	} else {
		if err := d.pluginMgr.Create(d.ctx, p); err != nil {
			return err
		}
	}

	d.stateMu.Lock()
	if record := d.state.FindPlugin(p.ID); record != nil {
		*record = p
	} else {
		d.state.Plugins = append(d.state.Plugins, p)
	}
	d.stateMu.Unlock()

	return d.persist()
}

// enrichImagePayload injects host context into beforeImageGeneration
// payloads: the configured default size and the character roster.
func (d *Daemon) enrichImagePayload(ctx context.Context) (map[string]interface{}, error) {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()

	extra := map[string]interface{}{
		"defaultSize": d.config.Generation.ImageSize,
	}
	if d.state != nil {
		names := make([]string, 0, len(d.state.Characters))
		for _, c := range d.state.Characters {
			names = append(names, c.Name)
		}
		extra["characterNames"] = names
	}
	return extra, nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	log := d.logger.GetZerolog()
	log.Info().Msg("Starting Nexus daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.gateway.Start(); err != nil {
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	log.Info().Msg("Gateway server started")

	if err := d.watcher.Start(); err != nil {
		return fmt.Errorf("failed to start plugin watcher: %w", err)
	}

	d.scheduler.Start()

	log.Info().Msg("Nexus daemon started")
	return nil
}

// Stop gracefully stops the daemon service
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	log := d.logger.GetZerolog()
	log.Info().Msg("Stopping Nexus daemon")

	d.cancel()

	d.scheduler.Stop()

	if err := d.watcher.Stop(); err != nil {
		log.Warn().Err(err).Msg("Failed to stop plugin watcher")
	}

	if err := d.gateway.Stop(); err != nil {
		log.Warn().Err(err).Msg("Failed to stop gateway server")
	}

	d.pluginMgr.Shutdown()

	d.vault.Lock()
	d.stateMu.Lock()
	d.state = nil
	d.stateMu.Unlock()

	if err := d.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close storage")
	}

	if err := d.lifecycle.Stop(); err != nil {
		log.Warn().Err(err).Msg("Failed to stop lifecycle manager")
	}

	log.Info().Msg("Nexus daemon stopped")
	return nil
}

// Status returns the daemon's runtime status.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	running := d.running
	startTime := d.startTime
	d.mu.RUnlock()

	initialized, _ := d.vault.Initialized()

	live := 0
	for _, rt := range d.pluginMgr.Runtimes() {
		if !rt.Channel.Terminated() {
			live++
		}
	}

	return Status{
		Running:          running,
		StartTime:        startTime,
		Uptime:           time.Since(startTime).Truncate(time.Second).String(),
		VaultInitialized: initialized,
		VaultUnlocked:    d.vault.Unlocked(),
		PluginsLive:      live,
		ClientsConnected: len(d.gateway.GetConnectedClients()),
	}
}

// Wait blocks until the daemon receives a termination signal.
func (d *Daemon) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log := d.logger.GetZerolog()
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-d.ctx.Done():
	}
}

// currentState returns the in-memory state, or nil while locked.
func (d *Daemon) currentState() *state.State {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}
