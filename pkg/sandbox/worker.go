package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// worker owns the goja runtime. After construction the runtime is touched
// only from the worker goroutine; the host's sole cross-thread call is the
// interrupt issued by Terminate, which goja permits.
type worker struct {
	channel    *Channel
	vm         *goja.Runtime
	handlers   map[string]goja.Callable
	capability CapabilityFunc
	capCtx     context.Context
	settings   map[string]interface{}
	pluginID   string
	logger     zerolog.Logger
}

func newWorker(c *Channel, opts Options, capCtx context.Context) *worker {
	w := &worker{
		channel:    c,
		vm:         goja.New(),
		handlers:   make(map[string]goja.Callable),
		capability: opts.Capability,
		capCtx:     capCtx,
		settings:   opts.Settings,
		pluginID:   opts.PluginID,
		logger:     c.logger,
	}
	w.installBridge()
	return w
}

func (w *worker) run() {
	for {
		select {
		case <-w.channel.done:
			return
		case msg := <-w.channel.toWorker:
			switch msg.Kind {
			case KindLoadCode:
				w.handleLoad(msg)
			case KindExecuteHook:
				w.handleHook(msg)
			default:
				w.logger.Warn().Str("kind", string(msg.Kind)).Msg("Worker dropping message of unexpected kind")
			}
		}
	}
}

// handleLoad evaluates plugin source once at top level.
func (w *worker) handleLoad(msg hostMessage) {
	if _, err := w.vm.RunString(msg.Code); err != nil {
		w.send(workerMessage{Kind: KindLoadError, Error: jsErrorText(err)})
		return
	}
	w.send(workerMessage{Kind: KindLoadSuccess})
}

// handleHook runs the registered callback for a hook, or echoes the
// payload back untouched when none is registered. A callback throwing
// fails only this ticket; the worker keeps serving.
func (w *worker) handleHook(msg hostMessage) {
	callback, ok := w.handlers[msg.HookName]
	if !ok {
		w.send(workerMessage{Kind: KindHookResult, Ticket: msg.Ticket, Result: msg.Payload})
		return
	}

	arg := goja.Undefined()
	if len(msg.Payload) > 0 {
		var payload interface{}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			w.send(workerMessage{Kind: KindHookError, Ticket: msg.Ticket, Error: fmt.Sprintf("unparseable payload: %v", err)})
			return
		}
		arg = w.vm.ToValue(payload)
	}

	value, err := w.callWithTimeout(callback, arg)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if w.channel.Terminated() {
				return
			}
			// Timeout interrupt: the VM has been cleared, so later hooks
			// on this context still run. The host side has already failed
			// this ticket.
			w.logger.Warn().Str("hook", msg.HookName).Msg("Hook interrupted after timeout")
			w.send(workerMessage{Kind: KindHookError, Ticket: msg.Ticket, Error: "hook execution timed out"})
			return
		}
		w.send(workerMessage{Kind: KindHookError, Ticket: msg.Ticket, Error: jsErrorText(err)})
		return
	}

	// A callback that mutates the payload in place and returns nothing
	// keeps the input payload, same as an unregistered hook. Only an
	// explicit return replaces it.
	if value == nil || goja.IsUndefined(value) {
		w.send(workerMessage{Kind: KindHookResult, Ticket: msg.Ticket, Result: msg.Payload})
		return
	}

	exported := export(value)

	// Async callbacks are supported as long as the promise has settled by
	// the time the callback returns; capability calls block the context,
	// so a well-behaved plugin never returns a pending promise.
	if promise, ok := exported.(*goja.Promise); ok {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			resolved := promise.Result()
			if resolved == nil || goja.IsUndefined(resolved) {
				w.send(workerMessage{Kind: KindHookResult, Ticket: msg.Ticket, Result: msg.Payload})
				return
			}
			exported = export(resolved)
		case goja.PromiseStateRejected:
			w.send(workerMessage{Kind: KindHookError, Ticket: msg.Ticket, Error: promise.Result().String()})
			return
		default:
			w.send(workerMessage{Kind: KindHookError, Ticket: msg.Ticket, Error: "hook returned a pending promise"})
			return
		}
	}

	result, err := json.Marshal(exported)
	if err != nil {
		w.send(workerMessage{Kind: KindHookError, Ticket: msg.Ticket, Error: fmt.Sprintf("unserializable hook result: %v", err)})
		return
	}

	w.send(workerMessage{Kind: KindHookResult, Ticket: msg.Ticket, Result: result})
}

// callWithTimeout invokes a hook callback under the channel's hook
// timeout, interrupting the VM if the script does not return in time so a
// wedged callback cannot hold the worker goroutine forever. The interrupt
// is cleared before returning, keeping the context usable for later hooks.
func (w *worker) callWithTimeout(callback goja.Callable, arg goja.Value) (goja.Value, error) {
	fired := make(chan struct{})
	timer := time.AfterFunc(w.channel.hookTimeout, func() {
		w.vm.Interrupt(ErrHookTimeout)
		close(fired)
	})

	value, err := callback(goja.Undefined(), arg)

	if !timer.Stop() {
		// The interrupt may have armed after the callback finished on its
		// own; wait for it to be fully set, then clear it either way.
		<-fired
		if !w.channel.Terminated() {
			w.vm.ClearInterrupt()
		}
	}
	return value, err
}

// invokeCapability performs a mediated host round-trip on behalf of plugin
// code. Termination rejects the in-flight call instead of leaving it
// dangling.
func (w *worker) invokeCapability(kind CapabilityKind, prompt string, overrides map[string]interface{}) (string, error) {
	if w.capability == nil {
		return "", ErrCapabilityUnavailable
	}

	req := CapabilityRequest{
		Kind:     kind,
		PluginID: w.pluginID,
		Prompt:   prompt,
		Settings: mergeSettings(w.settings, overrides),
	}

	type outcome struct {
		result string
		err    error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		result, err := w.capability(w.capCtx, req)
		resultCh <- outcome{result, err}
	}()

	select {
	case <-w.channel.done:
		return "", ErrTerminated
	case o := <-resultCh:
		return o.result, o.err
	}
}

// send delivers a message to the host without wedging the worker if the
// channel is terminated concurrently.
func (w *worker) send(msg workerMessage) {
	select {
	case w.channel.fromWorker <- msg:
	case <-w.channel.done:
	}
}

func export(value goja.Value) interface{} {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil
	}
	return value.Export()
}

func jsErrorText(err error) string {
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return exception.Value().String()
	}
	return err.Error()
}

func mergeSettings(base, overrides map[string]interface{}) map[string]interface{} {
	if len(base) == 0 && len(overrides) == 0 {
		return nil
	}
	merged := make(map[string]interface{}, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
