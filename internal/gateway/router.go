package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const idempotencyTTL = 5 * time.Minute

// RPCRouter dispatches JSON-RPC requests to registered handlers. Requests
// carrying an idempotency key replay the cached response instead of
// re-running the handler within the TTL window.
type RPCRouter struct {
	mu       sync.RWMutex
	handlers map[string]RequestHandler
	cache    map[string]cacheEntry
}

type cacheEntry struct {
	response RPCResponse
	expires  time.Time
}

func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		handlers: make(map[string]RequestHandler),
		cache:    make(map[string]cacheEntry),
	}
}

func (r *RPCRouter) RegisterMethod(name string, handler RequestHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
	return nil
}

func (r *RPCRouter) UnregisterMethod(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, name)
}

// HasMethod reports whether a handler is registered under name.
func (r *RPCRouter) HasMethod(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Methods lists the registered method names, unordered.
func (r *RPCRouter) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// ParseRequest decodes and validates one JSON-RPC request. Validation
// failures come back as *RPCError so the caller can answer with a proper
// error frame.
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}
	switch {
	case req.ID == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing id field"}
	case req.Method == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing method field"}
	}
	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}
	return &req, nil
}

// RouteRequest runs the handler for a request and builds its response
// frame. Handler errors that are already *RPCError pass through with
// their code; everything else becomes an internal error.
func (r *RPCRouter) RouteRequest(req *RPCRequest) *RPCResponse {
	if req == nil {
		return errorResponse("", &RPCError{Code: InvalidRequest, Message: "invalid request"})
	}

	replayKey := ""
	if req.IdempotencyKey != "" {
		replayKey = req.Method + ":" + req.IdempotencyKey
		if cached, ok := r.replay(replayKey); ok {
			cached.ID = req.ID
			return &cached
		}
	}

	r.mu.RLock()
	handler, ok := r.handlers[req.Method]
	r.mu.RUnlock()
	if !ok {
		return errorResponse(req.ID, &RPCError{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		})
	}

	var response *RPCResponse
	if result, err := handler(req.Params); err != nil {
		response = errorResponse(req.ID, errorToRPC(err))
	} else {
		response = &RPCResponse{ID: req.ID, JSONRPC: "2.0", Result: result}
	}

	if replayKey != "" {
		r.remember(replayKey, *response)
	}
	return response
}

func errorResponse(id string, rpcErr *RPCError) *RPCResponse {
	return &RPCResponse{ID: id, JSONRPC: "2.0", Error: rpcErr}
}

// errorToRPC preserves handler-supplied RPC errors and wraps the rest.
func errorToRPC(err error) *RPCError {
	if rpcErr, ok := err.(*RPCError); ok {
		clone := *rpcErr
		return &clone
	}
	return &RPCError{Code: InternalError, Message: err.Error()}
}

func (r *RPCRouter) replay(key string) (RPCResponse, bool) {
	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return RPCResponse{}, false
	}
	return cloneResponse(entry.response), true
}

// remember caches a response under its replay key and evicts expired
// entries while it holds the lock.
func (r *RPCRouter) remember(key string, response RPCResponse) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache[key] = cacheEntry{response: cloneResponse(response), expires: now.Add(idempotencyTTL)}
	for k, entry := range r.cache {
		if now.After(entry.expires) {
			delete(r.cache, k)
		}
	}
}

func cloneResponse(src RPCResponse) RPCResponse {
	cloned := RPCResponse{ID: src.ID, JSONRPC: src.JSONRPC, Result: src.Result}
	if src.Error != nil {
		clone := *src.Error
		cloned.Error = &clone
	}
	return cloned
}
