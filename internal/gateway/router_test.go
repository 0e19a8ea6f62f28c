package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	router := NewRPCRouter()

	t.Run("valid request", func(t *testing.T) {
		req, err := router.ParseRequest([]byte(`{"id":"1","method":"vault.unlock","params":{"password":"x"}}`))
		require.NoError(t, err)
		assert.Equal(t, "1", req.ID)
		assert.Equal(t, "vault.unlock", req.Method)
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, "x", req.Params["password"])
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := router.ParseRequest([]byte(`{bad`))
		var rpcErr *RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, ParseError, rpcErr.Code)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := router.ParseRequest([]byte(`{"method":"vault.unlock"}`))
		var rpcErr *RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, InvalidRequest, rpcErr.Code)
	})

	t.Run("missing method", func(t *testing.T) {
		_, err := router.ParseRequest([]byte(`{"id":"1"}`))
		var rpcErr *RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, InvalidRequest, rpcErr.Code)
	})
}

func TestRouteRequest(t *testing.T) {
	t.Run("dispatches to handler", func(t *testing.T) {
		router := NewRPCRouter()
		require.NoError(t, router.RegisterMethod("echo", func(params map[string]interface{}) (interface{}, error) {
			return params["value"], nil
		}))

		resp := router.RouteRequest(&RPCRequest{ID: "1", Method: "echo", Params: map[string]interface{}{"value": "hi"}})
		assert.Nil(t, resp.Error)
		assert.Equal(t, "hi", resp.Result)
		assert.Equal(t, "1", resp.ID)
	})

	t.Run("method not found", func(t *testing.T) {
		router := NewRPCRouter()
		resp := router.RouteRequest(&RPCRequest{ID: "1", Method: "nope"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, MethodNotFound, resp.Error.Code)
	})

	t.Run("handler error wrapped as internal", func(t *testing.T) {
		router := NewRPCRouter()
		require.NoError(t, router.RegisterMethod("boom", func(map[string]interface{}) (interface{}, error) {
			return nil, errors.New("kaput")
		}))

		resp := router.RouteRequest(&RPCRequest{ID: "1", Method: "boom"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, InternalError, resp.Error.Code)
		assert.Equal(t, "kaput", resp.Error.Message)
	})

	t.Run("handler rpc error preserved", func(t *testing.T) {
		router := NewRPCRouter()
		require.NoError(t, router.RegisterMethod("locked", func(map[string]interface{}) (interface{}, error) {
			return nil, &RPCError{Code: VaultLocked, Message: "vault is locked"}
		}))

		resp := router.RouteRequest(&RPCRequest{ID: "1", Method: "locked"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, VaultLocked, resp.Error.Code)
	})

	t.Run("nil request", func(t *testing.T) {
		router := NewRPCRouter()
		resp := router.RouteRequest(nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidRequest, resp.Error.Code)
	})
}

func TestRegisterMethod(t *testing.T) {
	router := NewRPCRouter()

	assert.Error(t, router.RegisterMethod("x", nil))

	require.NoError(t, router.RegisterMethod("x", func(map[string]interface{}) (interface{}, error) {
		return nil, nil
	}))
	assert.True(t, router.HasMethod("x"))
	assert.Contains(t, router.Methods(), "x")

	router.UnregisterMethod("x")
	assert.False(t, router.HasMethod("x"))
}

func TestIdempotency(t *testing.T) {
	router := NewRPCRouter()

	calls := 0
	require.NoError(t, router.RegisterMethod("create", func(map[string]interface{}) (interface{}, error) {
		calls++
		return calls, nil
	}))

	first := router.RouteRequest(&RPCRequest{ID: "1", Method: "create", IdempotencyKey: "k1"})
	second := router.RouteRequest(&RPCRequest{ID: "2", Method: "create", IdempotencyKey: "k1"})

	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, "2", second.ID)

	// A different key executes again.
	router.RouteRequest(&RPCRequest{ID: "3", Method: "create", IdempotencyKey: "k2"})
	assert.Equal(t, 2, calls)

	// No key never caches.
	router.RouteRequest(&RPCRequest{ID: "4", Method: "create"})
	router.RouteRequest(&RPCRequest{ID: "5", Method: "create"})
	assert.Equal(t, 4, calls)
}
