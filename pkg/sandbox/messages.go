package sandbox

import (
	"context"
	"encoding/json"
)

// Kind tags every message exchanged between the host and the isolated
// context. Hook-related kinds carry a ticket used purely for response
// correlation; tickets are never reused within a channel's lifetime.
type Kind string

const (
	KindLoadCode    Kind = "LOAD_CODE"
	KindLoadSuccess Kind = "LOAD_SUCCESS"
	KindLoadError   Kind = "LOAD_ERROR"
	KindExecuteHook Kind = "EXECUTE_HOOK"
	KindHookResult  Kind = "HOOK_RESULT"
	KindHookError   Kind = "HOOK_ERROR"
	KindLog         Kind = "LOG"
)

// hostMessage travels host -> isolated context.
type hostMessage struct {
	Kind     Kind
	Code     string
	Ticket   uint64
	HookName string
	Payload  json.RawMessage
}

// workerMessage travels isolated context -> host.
type workerMessage struct {
	Kind   Kind
	Ticket uint64
	Result json.RawMessage
	Error  string
	Values []interface{}
}

// CapabilityKind names a host-mediated capability a plugin may request.
type CapabilityKind string

const (
	CapabilityGenerateText  CapabilityKind = "generateText"
	CapabilityGenerateImage CapabilityKind = "generateImage"
)

// CapabilityRequest describes a mediated call from plugin code to
// host-privileged code. Settings combine the plugin's persisted settings
// with any call-site overrides; credentials never appear here.
type CapabilityRequest struct {
	Kind     CapabilityKind
	PluginID string
	Prompt   string
	Settings map[string]interface{}
}

// CapabilityFunc resolves a capability request using privileged host code.
// The context is cancelled when the requesting sandbox terminates.
type CapabilityFunc func(ctx context.Context, req CapabilityRequest) (string, error)

// LogFunc receives log output produced by plugin code.
type LogFunc func(values []interface{})
