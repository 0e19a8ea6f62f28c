package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ScheduleEntry binds a cron expression to a hook trigger. The payload is
// passed to the hook chain on every firing.
type ScheduleEntry struct {
	Cron    string
	Hook    string
	Payload map[string]interface{}
}

// TriggerFunc runs a hook chain. It matches Dispatcher.Trigger.
type TriggerFunc func(ctx context.Context, hookName string, payload json.RawMessage) (json.RawMessage, error)

// Scheduler fires hook chains on cron schedules. Plugins that register
// the scheduled hooks run without any client interaction.
type Scheduler struct {
	runner  *cron.Cron
	trigger TriggerFunc
	logger  zerolog.Logger
	timeout time.Duration
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Entries []ScheduleEntry
	Trigger TriggerFunc
	Logger  zerolog.Logger

	// Timeout bounds a single scheduled trigger. Zero means 1 minute.
	Timeout time.Duration
}

// NewScheduler validates every entry and registers it with the cron
// runner. Invalid expressions fail construction rather than silently
// never firing.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Trigger == nil {
		return nil, fmt.Errorf("trigger is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Minute
	}

	s := &Scheduler{
		runner:  cron.New(),
		trigger: cfg.Trigger,
		logger:  cfg.Logger.With().Str("component", "hook-scheduler").Logger(),
		timeout: cfg.Timeout,
	}

	for _, entry := range cfg.Entries {
		if entry.Hook == "" {
			return nil, fmt.Errorf("schedule requires a hook name")
		}
		if entry.Cron == "" {
			return nil, fmt.Errorf("schedule for hook %q requires a cron expression", entry.Hook)
		}

		payload, err := json.Marshal(entry.Payload)
		if err != nil {
			return nil, fmt.Errorf("invalid payload for hook %q: %w", entry.Hook, err)
		}
		if entry.Payload == nil {
			payload = json.RawMessage(`{}`)
		}

		hook := entry.Hook
		if _, err := s.runner.AddFunc(entry.Cron, func() {
			s.fire(hook, payload)
		}); err != nil {
			return nil, fmt.Errorf("invalid cron expression %q for hook %q: %w", entry.Cron, entry.Hook, err)
		}
	}

	return s, nil
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	if len(s.runner.Entries()) == 0 {
		return
	}
	s.runner.Start()
	s.logger.Info().Int("schedules", len(s.runner.Entries())).Msg("Hook scheduler started")
}

// Stop stops the runner and waits for in-flight triggers.
func (s *Scheduler) Stop() {
	ctx := s.runner.Stop()
	<-ctx.Done()
}

// Entries returns the number of registered schedules.
func (s *Scheduler) Entries() int {
	return len(s.runner.Entries())
}

func (s *Scheduler) fire(hook string, payload json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.trigger(ctx, hook, payload); err != nil {
		s.logger.Warn().Err(err).Str("hook", hook).Msg("Scheduled hook trigger failed")
		return
	}
	s.logger.Debug().Str("hook", hook).Msg("Scheduled hook fired")
}
