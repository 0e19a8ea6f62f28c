// Package sandbox runs untrusted plugin JavaScript in an isolated goja
// context and brokers typed request/response messages between the host and
// that context. The capability bridge injected at startup is the plugin's
// entire view of the outside world.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// DefaultHookTimeout bounds a single hook execution. A hung plugin hook
// fails its own ticket instead of stalling the pipeline forever.
const DefaultHookTimeout = 30 * time.Second

// Options configures a Channel.
type Options struct {
	// PluginID tags log output and capability requests.
	PluginID string

	Logger zerolog.Logger

	// HookTimeout bounds one ExecuteHook call. Zero means
	// DefaultHookTimeout.
	HookTimeout time.Duration

	// Capability resolves mediated calls from the plugin. Nil makes
	// capability calls throw inside the plugin context.
	Capability CapabilityFunc

	// OnLog receives plugin log output. Nil routes it to Logger.
	OnLog LogFunc

	// Settings is the plugin's persisted settings snapshot, merged into
	// every capability request.
	Settings map[string]interface{}
}

// Channel owns one isolated execution context and the request/response
// protocol over it. All methods are safe for concurrent use.
type Channel struct {
	pluginID    string
	logger      zerolog.Logger
	hookTimeout time.Duration
	onLog       LogFunc

	toWorker   chan hostMessage
	fromWorker chan workerMessage

	// done is closed exactly once by Terminate and unblocks every waiter.
	done      chan struct{}
	capCancel context.CancelFunc

	vm *goja.Runtime

	mu         sync.Mutex
	terminated bool
	nextTicket uint64
	pending    map[uint64]chan workerMessage
	loadWaiter chan workerMessage
}

// New allocates a fresh isolated context with no ambient capabilities
// beyond the injected bridge, and starts its worker goroutine.
func New(opts Options) *Channel {
	logger := opts.Logger.With().
		Str("component", "sandbox").
		Str("plugin_id", opts.PluginID).
		Logger()

	hookTimeout := opts.HookTimeout
	if hookTimeout == 0 {
		hookTimeout = DefaultHookTimeout
	}

	onLog := opts.OnLog
	if onLog == nil {
		onLog = func(values []interface{}) {
			logger.Info().Interface("values", values).Msg("Plugin log")
		}
	}

	capCtx, capCancel := context.WithCancel(context.Background())

	c := &Channel{
		pluginID:    opts.PluginID,
		logger:      logger,
		hookTimeout: hookTimeout,
		onLog:       onLog,
		toWorker:    make(chan hostMessage),
		fromWorker:  make(chan workerMessage, 16),
		done:        make(chan struct{}),
		capCancel:   capCancel,
		pending:     make(map[uint64]chan workerMessage),
	}

	w := newWorker(c, opts, capCtx)
	c.vm = w.vm

	go w.run()
	go c.demux()

	return c
}

// LoadCode submits plugin source for one-time evaluation in the context.
// It returns nil once evaluation completed without a top-level error; the
// caller must not treat the sandbox as active otherwise.
func (c *Channel) LoadCode(ctx context.Context, source string) error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return ErrTerminated
	}
	if c.loadWaiter != nil {
		c.mu.Unlock()
		return ErrLoadInProgress
	}
	waiter := make(chan workerMessage, 1)
	c.loadWaiter = waiter
	c.mu.Unlock()

	clear := func() {
		c.mu.Lock()
		c.loadWaiter = nil
		c.mu.Unlock()
	}

	select {
	case c.toWorker <- hostMessage{Kind: KindLoadCode, Code: source}:
	case <-c.done:
		clear()
		return ErrTerminated
	case <-ctx.Done():
		clear()
		return ctx.Err()
	}

	select {
	case msg := <-waiter:
		clear()
		if msg.Kind == KindLoadError {
			return fmt.Errorf("plugin evaluation failed: %s", msg.Error)
		}
		return nil
	case <-c.done:
		clear()
		return ErrTerminated
	case <-ctx.Done():
		clear()
		return ctx.Err()
	}
}

// ExecuteHook invokes the named hook in the context with the given payload
// and waits for the correlated response. With no handler registered for
// hookName the original payload comes back unchanged.
func (c *Channel) ExecuteHook(ctx context.Context, hookName string, payload json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return nil, ErrTerminated
	}
	c.nextTicket++
	ticket := c.nextTicket
	waiter := make(chan workerMessage, 1)
	c.pending[ticket] = waiter
	c.mu.Unlock()

	msg := hostMessage{
		Kind:     KindExecuteHook,
		Ticket:   ticket,
		HookName: hookName,
		Payload:  payload,
	}

	// The timeout covers queueing behind a wedged worker as well as the
	// hook execution itself.
	timer := time.NewTimer(c.hookTimeout)
	defer timer.Stop()

	select {
	case c.toWorker <- msg:
	case <-timer.C:
		c.dropPending(ticket)
		return nil, ErrHookTimeout
	case <-c.done:
		c.dropPending(ticket)
		return nil, ErrTerminated
	case <-ctx.Done():
		c.dropPending(ticket)
		return nil, ctx.Err()
	}

	select {
	case reply := <-waiter:
		if reply.Kind == KindHookError {
			return nil, fmt.Errorf("hook %q failed: %s", hookName, reply.Error)
		}
		return reply.Result, nil
	case <-timer.C:
		c.dropPending(ticket)
		c.logger.Warn().
			Str("hook", hookName).
			Uint64("ticket", ticket).
			Dur("timeout", c.hookTimeout).
			Msg("Hook execution timed out")
		return nil, ErrHookTimeout
	case <-c.done:
		c.dropPending(ticket)
		return nil, ErrTerminated
	case <-ctx.Done():
		c.dropPending(ticket)
		return nil, ctx.Err()
	}
}

// Terminate destroys the isolated context and rejects every pending ticket
// with ErrTerminated, including capability round-trips still in flight.
// Terminating twice is a no-op.
func (c *Channel) Terminate() {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.terminated = true
	pendingCount := len(c.pending)
	c.mu.Unlock()

	close(c.done)
	c.capCancel()
	c.vm.Interrupt(ErrTerminated)

	c.logger.Debug().Int("pending", pendingCount).Msg("Sandbox terminated")
}

// Terminated reports whether Terminate has been called.
func (c *Channel) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// PluginID returns the plugin id this channel belongs to.
func (c *Channel) PluginID() string {
	return c.pluginID
}

// demux routes context->host messages to their waiters. Responses for
// unknown tickets and unexpected kinds are logged and dropped, never
// escalated.
func (c *Channel) demux() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.fromWorker:
			switch msg.Kind {
			case KindLog:
				c.onLog(msg.Values)
			case KindLoadSuccess, KindLoadError:
				c.mu.Lock()
				waiter := c.loadWaiter
				c.mu.Unlock()
				if waiter == nil {
					c.logger.Warn().Str("kind", string(msg.Kind)).Msg("Dropping unexpected load response")
					continue
				}
				waiter <- msg
			case KindHookResult, KindHookError:
				c.mu.Lock()
				waiter, ok := c.pending[msg.Ticket]
				if ok {
					delete(c.pending, msg.Ticket)
				}
				c.mu.Unlock()
				if !ok {
					c.logger.Warn().
						Uint64("ticket", msg.Ticket).
						Str("kind", string(msg.Kind)).
						Msg("Dropping response for unknown ticket")
					continue
				}
				waiter <- msg
			default:
				c.logger.Warn().Str("kind", string(msg.Kind)).Msg("Dropping message of unexpected kind")
			}
		}
	}
}

func (c *Channel) dropPending(ticket uint64) {
	c.mu.Lock()
	delete(c.pending, ticket)
	c.mu.Unlock()
}
