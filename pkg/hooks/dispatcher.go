// Package hooks walks every enabled plugin's sandbox for a named extension
// point, chaining the payload from one plugin to the next. The pipeline is
// best-effort: one broken plugin never blocks core application
// functionality.
package hooks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackenstacks/ai-nexus/internal/metrics"
	"github.com/hackenstacks/ai-nexus/pkg/sandbox"
)

// Hook names the application triggers at its extension points.
const (
	HookBeforeSend            = "beforeSend"
	HookAfterResponse         = "afterResponse"
	HookBeforeImageGeneration = "beforeImageGeneration"
	HookChatCreated           = "chatCreated"
	HookCharacterCreated      = "characterCreated"
)

// Runtime pairs a plugin with its live sandbox channel.
type Runtime struct {
	PluginID   string
	PluginName string
	Channel    *sandbox.Channel
}

// Source supplies the set of enabled plugins with live sandboxes, in
// stable insertion order. The dispatcher snapshots it once per trigger so
// a plugin disabled mid-chain cannot cause partial application.
type Source interface {
	Runtimes() []Runtime
}

// Enricher merges host-injected context into a payload before the plugin
// chain runs.
type Enricher func(ctx context.Context) (map[string]interface{}, error)

// Config configures a Dispatcher.
type Config struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Dispatcher triggers hook chains across plugin sandboxes.
type Dispatcher struct {
	source  Source
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	enrichers map[string]Enricher
}

// New creates a Dispatcher over the given runtime source.
func New(source Source, cfg Config) *Dispatcher {
	return &Dispatcher{
		source:    source,
		logger:    cfg.Logger.With().Str("component", "hooks").Logger(),
		metrics:   cfg.Metrics,
		enrichers: make(map[string]Enricher),
	}
}

// RegisterEnricher attaches host-side payload enrichment to a hook name.
// Registering the same hook twice replaces the prior enricher.
func (d *Dispatcher) RegisterEnricher(hookName string, enricher Enricher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enrichers[hookName] = enricher
}

// Trigger runs the hook chain and returns the final payload. Every enabled
// plugin with a live sandbox sees the payload in order; a failing plugin is
// logged and skipped, keeping the previous working payload. The only error
// Trigger returns is context cancellation.
func (d *Dispatcher) Trigger(ctx context.Context, hookName string, payload json.RawMessage) (json.RawMessage, error) {
	runtimes := d.source.Runtimes()

	current := d.enrich(ctx, hookName, payload)

	for _, rt := range runtimes {
		if err := ctx.Err(); err != nil {
			return current, err
		}

		start := time.Now()
		result, err := rt.Channel.ExecuteHook(ctx, hookName, current)
		elapsed := time.Since(start)

		if d.metrics != nil {
			d.metrics.HookExecutionsTotal.WithLabelValues(hookName, rt.PluginID).Inc()
			d.metrics.HookExecutionDuration.WithLabelValues(hookName, rt.PluginID).Observe(elapsed.Seconds())
		}

		if err != nil {
			if d.metrics != nil {
				d.metrics.HookExecutionErrorsTotal.WithLabelValues(hookName, rt.PluginID).Inc()
			}
			d.logger.Warn().
				Err(err).
				Str("hook", hookName).
				Str("plugin_id", rt.PluginID).
				Str("plugin", rt.PluginName).
				Msg("Plugin hook failed, keeping previous payload")
			continue
		}

		current = result
	}

	return current, nil
}

// enrich merges host context into an object payload. Enrichment failures
// degrade to the original payload; so does a non-object payload.
func (d *Dispatcher) enrich(ctx context.Context, hookName string, payload json.RawMessage) json.RawMessage {
	d.mu.RLock()
	enricher, ok := d.enrichers[hookName]
	d.mu.RUnlock()
	if !ok {
		return payload
	}

	extra, err := enricher(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Str("hook", hookName).Msg("Payload enrichment failed")
		return payload
	}
	if len(extra) == 0 {
		return payload
	}

	merged := make(map[string]interface{})
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &merged); err != nil {
			d.logger.Warn().Err(err).Str("hook", hookName).Msg("Cannot enrich non-object payload")
			return payload
		}
	}
	for k, v := range extra {
		merged[k] = v
	}

	enriched, err := json.Marshal(merged)
	if err != nil {
		return payload
	}
	return enriched
}
