package hooks

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type triggerRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *triggerRecorder) trigger(ctx context.Context, hookName string, payload json.RawMessage) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, hookName)
	return payload, nil
}

func TestNewSchedulerValidation(t *testing.T) {
	rec := &triggerRecorder{}

	_, err := NewScheduler(SchedulerConfig{Logger: zerolog.Nop()})
	assert.Error(t, err)

	_, err = NewScheduler(SchedulerConfig{
		Trigger: rec.trigger,
		Logger:  zerolog.Nop(),
		Entries: []ScheduleEntry{{Cron: "* * * * *"}},
	})
	assert.ErrorContains(t, err, "hook name")

	_, err = NewScheduler(SchedulerConfig{
		Trigger: rec.trigger,
		Logger:  zerolog.Nop(),
		Entries: []ScheduleEntry{{Hook: HookBeforeSend}},
	})
	assert.ErrorContains(t, err, "cron expression")

	_, err = NewScheduler(SchedulerConfig{
		Trigger: rec.trigger,
		Logger:  zerolog.Nop(),
		Entries: []ScheduleEntry{{Hook: HookBeforeSend, Cron: "not a cron"}},
	})
	assert.ErrorContains(t, err, "invalid cron expression")
}

func TestSchedulerRegistersEntries(t *testing.T) {
	rec := &triggerRecorder{}
	s, err := NewScheduler(SchedulerConfig{
		Trigger: rec.trigger,
		Logger:  zerolog.Nop(),
		Entries: []ScheduleEntry{
			{Hook: HookBeforeSend, Cron: "0 9 * * *"},
			{Hook: "dailyDigest", Cron: "@hourly", Payload: map[string]interface{}{"source": "schedule"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Entries())
}

func TestSchedulerFire(t *testing.T) {
	rec := &triggerRecorder{}
	s, err := NewScheduler(SchedulerConfig{
		Trigger: rec.trigger,
		Logger:  zerolog.Nop(),
		Timeout: time.Second,
	})
	require.NoError(t, err)

	s.fire("maintenance", json.RawMessage(`{"kind":"tick"}`))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "maintenance", rec.calls[0])
}

func TestSchedulerStartStopEmpty(t *testing.T) {
	rec := &triggerRecorder{}
	s, err := NewScheduler(SchedulerConfig{Trigger: rec.trigger, Logger: zerolog.Nop()})
	require.NoError(t, err)

	s.Start()
	s.Stop()
}
