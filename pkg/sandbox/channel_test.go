package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T, opts Options) *Channel {
	t.Helper()
	opts.Logger = zerolog.Nop()
	c := New(opts)
	t.Cleanup(c.Terminate)
	return c
}

func loadCode(t *testing.T, c *Channel, source string) {
	t.Helper()
	require.NoError(t, c.LoadCode(context.Background(), source))
}

func TestChannel_LoadCode(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1"})
	loadCode(t, c, `nexus.hooks.register("beforeSend", p => p)`)
}

func TestChannel_LoadCode_SyntaxError(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1"})

	err := c.LoadCode(context.Background(), `function (`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin evaluation failed")
}

func TestChannel_LoadCode_TopLevelThrow(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1"})

	err := c.LoadCode(context.Background(), `throw new Error("boom at load")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom at load")
}

func TestChannel_ExecuteHook_NoHandlerPassThrough(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1"})
	loadCode(t, c, `nexus.log("loaded")`)

	payload := json.RawMessage(`{"content":"hi","nested":{"n":[1,2,3]}}`)
	result, err := c.ExecuteHook(context.Background(), "beforeSend", payload)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(result))
}

func TestChannel_ExecuteHook_TransformsPayload(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1"})
	loadCode(t, c, `
		nexus.hooks.register("beforeSend", function(payload) {
			payload.content = payload.content.toUpperCase();
			return payload;
		});
	`)

	result, err := c.ExecuteHook(context.Background(), "beforeSend", json.RawMessage(`{"content":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"HI"}`, string(result))
}

func TestChannel_UndefinedReturnKeepsPayload(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1"})
	loadCode(t, c, `
		nexus.hooks.register("beforeSend", function(payload) {
			payload.content = "mutated";
			// no return
		});
		nexus.hooks.register("explicitNull", function(payload) {
			return null;
		});
	`)

	// A handler that returns nothing keeps the input payload instead of
	// replacing it with null.
	payload := json.RawMessage(`{"content":"hi"}`)
	result, err := c.ExecuteHook(context.Background(), "beforeSend", payload)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(result))

	// An explicit null is still an explicit return.
	result, err = c.ExecuteHook(context.Background(), "explicitNull", payload)
	require.NoError(t, err)
	assert.JSONEq(t, `null`, string(result))
}

func TestChannel_LastRegistrationWins(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1"})
	loadCode(t, c, `
		nexus.hooks.register("beforeSend", p => ({tag: "first"}));
		nexus.hooks.register("beforeSend", p => ({tag: "second"}));
	`)

	result, err := c.ExecuteHook(context.Background(), "beforeSend", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"tag":"second"}`, string(result))
}

func TestChannel_RegisterNonFunctionIsNoOp(t *testing.T) {
	logs := make(chan []interface{}, 4)
	c := newTestChannel(t, Options{
		PluginID: "p1",
		OnLog:    func(values []interface{}) { logs <- values },
	})

	// Must not fail the load.
	loadCode(t, c, `nexus.hooks.register("beforeSend", 42)`)

	// The bad registration left no handler behind.
	payload := json.RawMessage(`{"content":"hi"}`)
	result, err := c.ExecuteHook(context.Background(), "beforeSend", payload)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(result))

	select {
	case values := <-logs:
		require.Len(t, values, 1)
		assert.Contains(t, values[0], "not a function")
	case <-time.After(2 * time.Second):
		t.Fatal("expected a logged warning for the bad registration")
	}
}

func TestChannel_HookThrowIsolatedToTicket(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1"})
	loadCode(t, c, `
		nexus.hooks.register("flaky", function(payload) {
			if (payload.explode) {
				throw new Error("kaboom");
			}
			return payload;
		});
	`)

	_, err := c.ExecuteHook(context.Background(), "flaky", json.RawMessage(`{"explode":true}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	// The context survived; the next ticket is unaffected.
	result, err := c.ExecuteHook(context.Background(), "flaky", json.RawMessage(`{"explode":false}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"explode":false}`, string(result))
}

func TestChannel_HookTimeout(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1", HookTimeout: 100 * time.Millisecond})
	loadCode(t, c, `nexus.hooks.register("spin", function(p) { for (;;) {} })`)

	start := time.Now()
	_, err := c.ExecuteHook(context.Background(), "spin", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrHookTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestChannel_HookTimeoutUnwedgesWorker(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1", HookTimeout: 300 * time.Millisecond})
	loadCode(t, c, `
		nexus.hooks.register("spin", function(p) { for (;;) {} });
		nexus.hooks.register("echo", function(p) { p.seen = true; return p; });
	`)

	_, err := c.ExecuteHook(context.Background(), "spin", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrHookTimeout)

	// The interrupt frees the worker: an unregistered hook still passes
	// through instead of queueing behind the spin forever.
	payload := json.RawMessage(`{"content":"hi"}`)
	result, err := c.ExecuteHook(context.Background(), "unregistered", payload)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(result))

	// And registered hooks keep running after the interrupt is cleared.
	result, err = c.ExecuteHook(context.Background(), "echo", json.RawMessage(`{"content":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"hi","seen":true}`, string(result))
}

func TestChannel_TerminateRejectsPending(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1", HookTimeout: time.Minute})
	loadCode(t, c, `nexus.hooks.register("spin", function(p) { for (;;) {} })`)

	const calls = 3
	errs := make(chan error, calls)
	var started sync.WaitGroup
	started.Add(calls)
	for i := 0; i < calls; i++ {
		go func() {
			started.Done()
			_, err := c.ExecuteHook(context.Background(), "spin", json.RawMessage(`{}`))
			errs <- err
		}()
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond) // let the first call reach the worker

	c.Terminate()

	for i := 0; i < calls; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrTerminated)
		case <-time.After(5 * time.Second):
			t.Fatal("pending hook call was not rejected by terminate")
		}
	}

	// Subsequent calls fail immediately instead of hanging.
	_, err := c.ExecuteHook(context.Background(), "spin", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrTerminated)
	assert.ErrorIs(t, c.LoadCode(context.Background(), `1`), ErrTerminated)
}

func TestChannel_TerminateIdempotent(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1"})
	c.Terminate()
	c.Terminate()
	assert.True(t, c.Terminated())
}

func TestChannel_TicketIsolation_OutOfOrderDelivery(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1"})

	// Route responses through the demux by hand: nothing guarantees the
	// context answers tickets in issuance order.
	first := make(chan workerMessage, 1)
	second := make(chan workerMessage, 1)
	c.mu.Lock()
	c.pending[101] = first
	c.pending[102] = second
	c.mu.Unlock()

	c.fromWorker <- workerMessage{Kind: KindHookResult, Ticket: 102, Result: json.RawMessage(`"late ticket"`)}
	c.fromWorker <- workerMessage{Kind: KindHookResult, Ticket: 101, Result: json.RawMessage(`"early ticket"`)}

	select {
	case msg := <-second:
		assert.Equal(t, json.RawMessage(`"late ticket"`), msg.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("ticket 102 reply was not delivered")
	}
	select {
	case msg := <-first:
		assert.Equal(t, json.RawMessage(`"early ticket"`), msg.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("ticket 101 reply was not delivered")
	}
}

func TestChannel_UnknownTicketDropped(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1"})
	loadCode(t, c, `nexus.hooks.register("echo", p => p)`)

	// A reply for a ticket nobody is waiting on is logged and dropped.
	c.fromWorker <- workerMessage{Kind: KindHookResult, Ticket: 999, Result: json.RawMessage(`{}`)}

	// The channel still works.
	result, err := c.ExecuteHook(context.Background(), "echo", json.RawMessage(`{"ok":true}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestChannel_CapabilityRoundTrip(t *testing.T) {
	var captured CapabilityRequest
	c := newTestChannel(t, Options{
		PluginID: "p1",
		Settings: map[string]interface{}{"model": "gpt-test"},
		Capability: func(ctx context.Context, req CapabilityRequest) (string, error) {
			captured = req
			return "generated: " + req.Prompt, nil
		},
	})
	loadCode(t, c, `
		nexus.hooks.register("beforeSend", function(payload) {
			payload.reply = nexus.generateText(payload.content);
			return payload;
		});
	`)

	result, err := c.ExecuteHook(context.Background(), "beforeSend", json.RawMessage(`{"content":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"hi","reply":"generated: hi"}`, string(result))

	assert.Equal(t, CapabilityGenerateText, captured.Kind)
	assert.Equal(t, "p1", captured.PluginID)
	assert.Equal(t, "hi", captured.Prompt)
	assert.Equal(t, "gpt-test", captured.Settings["model"])
}

func TestChannel_CapabilityOverrides(t *testing.T) {
	var captured CapabilityRequest
	c := newTestChannel(t, Options{
		PluginID: "p1",
		Settings: map[string]interface{}{"model": "base-model", "size": "256x256"},
		Capability: func(ctx context.Context, req CapabilityRequest) (string, error) {
			captured = req
			return "img-b64", nil
		},
	})
	loadCode(t, c, `
		nexus.hooks.register("draw", function(payload) {
			return { image: nexus.generateImage(payload.prompt, { size: "1024x1024" }) };
		});
	`)

	result, err := c.ExecuteHook(context.Background(), "draw", json.RawMessage(`{"prompt":"a cat"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"image":"img-b64"}`, string(result))

	assert.Equal(t, CapabilityGenerateImage, captured.Kind)
	assert.Equal(t, "base-model", captured.Settings["model"])
	assert.Equal(t, "1024x1024", captured.Settings["size"], "call-site settings override persisted ones")
}

func TestChannel_CapabilityErrorReachesPlugin(t *testing.T) {
	c := newTestChannel(t, Options{
		PluginID: "p1",
		Capability: func(ctx context.Context, req CapabilityRequest) (string, error) {
			return "", fmt.Errorf("provider unavailable")
		},
	})
	loadCode(t, c, `
		nexus.hooks.register("beforeSend", function(payload) {
			try {
				nexus.generateText(payload.content);
				return { caught: false };
			} catch (e) {
				return { caught: true, message: String(e) };
			}
		});
	`)

	result, err := c.ExecuteHook(context.Background(), "beforeSend", json.RawMessage(`{"content":"hi"}`))
	require.NoError(t, err)

	var parsed struct {
		Caught  bool   `json:"caught"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(result, &parsed))
	assert.True(t, parsed.Caught)
	assert.Contains(t, parsed.Message, "provider unavailable")
}

func TestChannel_CapabilityWithoutHandler(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1"})
	loadCode(t, c, `
		nexus.hooks.register("beforeSend", function(payload) {
			return { text: nexus.generateText("x") };
		});
	`)

	_, err := c.ExecuteHook(context.Background(), "beforeSend", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capability not available")
}

func TestChannel_TerminateCancelsInFlightCapability(t *testing.T) {
	cancelled := make(chan struct{})
	c := newTestChannel(t, Options{
		PluginID:    "p1",
		HookTimeout: time.Minute,
		Capability: func(ctx context.Context, req CapabilityRequest) (string, error) {
			<-ctx.Done()
			close(cancelled)
			return "", ctx.Err()
		},
	})
	loadCode(t, c, `
		nexus.hooks.register("beforeSend", function(payload) {
			return { text: nexus.generateText("x") };
		});
	`)

	errs := make(chan error, 1)
	go func() {
		_, err := c.ExecuteHook(context.Background(), "beforeSend", json.RawMessage(`{}`))
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond) // let the capability call start

	c.Terminate()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrTerminated)
	case <-time.After(5 * time.Second):
		t.Fatal("hook call with in-flight capability was not rejected")
	}
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("capability context was not cancelled by terminate")
	}
}

func TestChannel_LogForwarding(t *testing.T) {
	logs := make(chan []interface{}, 4)
	c := newTestChannel(t, Options{
		PluginID: "p1",
		OnLog:    func(values []interface{}) { logs <- values },
	})
	loadCode(t, c, `nexus.log("hello", 42, {a: true})`)

	select {
	case values := <-logs:
		require.Len(t, values, 3)
		assert.Equal(t, "hello", values[0])
		assert.Equal(t, int64(42), values[1])
	case <-time.After(2 * time.Second):
		t.Fatal("plugin log output was not forwarded")
	}
}

func TestChannel_AsyncHookSettledPromise(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1"})
	loadCode(t, c, `
		nexus.hooks.register("beforeSend", async function(payload) {
			payload.touched = true;
			return payload;
		});
	`)

	result, err := c.ExecuteHook(context.Background(), "beforeSend", json.RawMessage(`{"content":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"hi","touched":true}`, string(result))
}

func TestChannel_TicketsAreMonotonic(t *testing.T) {
	c := newTestChannel(t, Options{PluginID: "p1"})
	loadCode(t, c, `nexus.hooks.register("echo", p => p)`)

	for i := 0; i < 5; i++ {
		_, err := c.ExecuteHook(context.Background(), "echo", json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, uint64(5), c.nextTicket)
	assert.Empty(t, c.pending, "no pending entries leak after completed calls")
}
