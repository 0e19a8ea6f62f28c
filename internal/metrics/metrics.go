// Package metrics exposes Prometheus metrics for the daemon: hook pipeline
// activity, sandbox lifecycle, vault operations, provider calls, and
// gateway traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Hook pipeline metrics
	HookExecutionsTotal      *prometheus.CounterVec
	HookExecutionDuration    *prometheus.HistogramVec
	HookExecutionErrorsTotal *prometheus.CounterVec

	// Sandbox metrics
	SandboxesLive      prometheus.Gauge
	SandboxLoadsTotal  *prometheus.CounterVec
	SandboxTerminated  prometheus.Counter
	SandboxHookTimeout prometheus.Counter

	// Vault metrics
	VaultUnlocksTotal    *prometheus.CounterVec
	VaultSavesTotal      prometheus.Counter
	VaultMigrationsTotal prometheus.Counter

	// Provider metrics
	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec

	// Gateway metrics
	GatewayClientsConnected prometheus.Gauge
	GatewayRequestsTotal    *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		HookExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_hook_executions_total",
			Help: "Total number of hook executions per hook name and plugin",
		}, []string{"hook", "plugin"}),

		HookExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_hook_execution_duration_seconds",
			Help:    "Duration of hook executions",
			Buckets: prometheus.DefBuckets,
		}, []string{"hook", "plugin"}),

		HookExecutionErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_hook_execution_errors_total",
			Help: "Total number of failed hook executions per hook name and plugin",
		}, []string{"hook", "plugin"}),

		SandboxesLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_sandboxes_live",
			Help: "Number of live plugin sandboxes",
		}),

		SandboxLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_sandbox_loads_total",
			Help: "Total number of plugin code loads by result",
		}, []string{"result"}),

		SandboxTerminated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_sandbox_terminations_total",
			Help: "Total number of sandbox terminations",
		}),

		SandboxHookTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_sandbox_hook_timeouts_total",
			Help: "Total number of hook executions that hit the timeout",
		}),

		VaultUnlocksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_vault_unlocks_total",
			Help: "Total number of vault unlock attempts by result",
		}, []string{"result"}),

		VaultSavesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_vault_saves_total",
			Help: "Total number of vault state saves",
		}),

		VaultMigrationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexus_vault_migrations_total",
			Help: "Total number of completed legacy migrations",
		}),

		ProviderCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_provider_calls_total",
			Help: "Total number of generation provider calls by provider, kind, and result",
		}, []string{"provider", "kind", "result"}),

		ProviderCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_provider_call_duration_seconds",
			Help:    "Duration of generation provider calls",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider", "kind"}),

		GatewayClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nexus_gateway_clients_connected",
			Help: "Number of connected gateway clients",
		}),

		GatewayRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_gateway_requests_total",
			Help: "Total number of gateway RPC requests by method",
		}, []string{"method"}),
	}

	registry.MustRegister(
		m.HookExecutionsTotal,
		m.HookExecutionDuration,
		m.HookExecutionErrorsTotal,
		m.SandboxesLive,
		m.SandboxLoadsTotal,
		m.SandboxTerminated,
		m.SandboxHookTimeout,
		m.VaultUnlocksTotal,
		m.VaultSavesTotal,
		m.VaultMigrationsTotal,
		m.ProviderCallsTotal,
		m.ProviderCallDuration,
		m.GatewayClientsConnected,
		m.GatewayRequestsTotal,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
