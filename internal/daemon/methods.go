package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackenstacks/ai-nexus/internal/gateway"
	"github.com/hackenstacks/ai-nexus/pkg/hooks"
	"github.com/hackenstacks/ai-nexus/pkg/plugin"
	"github.com/hackenstacks/ai-nexus/pkg/sandbox"
	"github.com/hackenstacks/ai-nexus/pkg/state"
	"github.com/hackenstacks/ai-nexus/pkg/vault"
)

// registerMethods wires all RPC methods into the gateway router.
func (d *Daemon) registerMethods() {
	methods := map[string]gateway.RequestHandler{
		"system.status": d.handleSystemStatus,

		"vault.status":      d.handleVaultStatus,
		"vault.setPassword": d.handleVaultSetPassword,
		"vault.unlock":      d.handleVaultUnlock,
		"vault.lock":        d.handleVaultLock,
		"vault.save":        d.handleVaultSave,
		"vault.load":        d.handleVaultLoad,
		"vault.reset":       d.handleVaultReset,

		"plugins.list":    d.handlePluginsList,
		"plugins.create":  d.handlePluginsCreate,
		"plugins.update":  d.handlePluginsUpdate,
		"plugins.delete":  d.handlePluginsDelete,
		"plugins.enable":  d.handlePluginsEnable,
		"plugins.disable": d.handlePluginsDisable,

		"characters.create": d.handleCharactersCreate,
		"chat.send":         d.handleChatSend,
		"image.generate":    d.handleImageGenerate,
		"hooks.trigger":     d.handleHooksTrigger,
	}

	log := d.logger.GetZerolog()
	for name, handler := range methods {
		if err := d.gateway.RegisterMethod(name, handler); err != nil {
			log.Error().Err(err).Str("method", name).Msg("Failed to register RPC method")
		}
	}
}

func stringParam(params map[string]interface{}, key string) (string, error) {
	value, ok := params[key].(string)
	if !ok || value == "" {
		return "", &gateway.RPCError{
			Code:    gateway.InvalidParams,
			Message: fmt.Sprintf("missing required parameter: %s", key),
		}
	}
	return value, nil
}

func objectParam(params map[string]interface{}, key string) (json.RawMessage, error) {
	value, ok := params[key]
	if !ok {
		return nil, &gateway.RPCError{
			Code:    gateway.InvalidParams,
			Message: fmt.Sprintf("missing required parameter: %s", key),
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, &gateway.RPCError{
			Code:    gateway.InvalidParams,
			Message: fmt.Sprintf("parameter %s is not serializable", key),
		}
	}
	return data, nil
}

func (d *Daemon) requireUnlocked() error {
	if !d.vault.Unlocked() {
		return &gateway.RPCError{
			Code:    gateway.VaultLocked,
			Message: "vault is locked",
		}
	}
	return nil
}

// persist writes the in-memory state through the vault.
func (d *Daemon) persist() error {
	d.stateMu.RLock()
	st := d.state
	d.stateMu.RUnlock()

	if st == nil {
		return vault.ErrLocked
	}
	if err := d.vault.Save(st); err != nil {
		return err
	}
	d.metrics.VaultSavesTotal.Inc()
	return nil
}

func (d *Daemon) handleSystemStatus(map[string]interface{}) (interface{}, error) {
	return d.Status(), nil
}

func (d *Daemon) handleVaultStatus(map[string]interface{}) (interface{}, error) {
	initialized, err := d.vault.Initialized()
	if err != nil {
		return nil, err
	}
	hasLegacy, err := d.vault.HasLegacyData()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"initialized":   initialized,
		"unlocked":      d.vault.Unlocked(),
		"hasLegacyData": hasLegacy,
	}, nil
}

func (d *Daemon) handleVaultSetPassword(params map[string]interface{}) (interface{}, error) {
	password, err := stringParam(params, "password")
	if err != nil {
		return nil, err
	}

	if err := d.vault.SetPassword(password); err != nil {
		if errors.Is(err, vault.ErrAlreadyInitialized) {
			return nil, &gateway.RPCError{
				Code:    gateway.InvalidRequest,
				Message: "vault already initialized: use vault.unlock to change the password or vault.reset to clear data",
			}
		}
		return nil, err
	}

	d.stateMu.Lock()
	if d.state == nil {
		d.state = state.Empty()
	}
	d.stateMu.Unlock()

	if err := d.persist(); err != nil {
		return nil, err
	}

	d.gateway.Broadcast("vault.unlocked", nil)
	return map[string]interface{}{"initialized": true}, nil
}

func (d *Daemon) handleVaultUnlock(params map[string]interface{}) (interface{}, error) {
	password, err := stringParam(params, "password")
	if err != nil {
		return nil, err
	}

	migrated, err := d.vault.MigrateLegacy(password)
	if err != nil {
		if errors.Is(err, vault.ErrLegacyDecrypt) {
			d.metrics.VaultUnlocksTotal.WithLabelValues("failure").Inc()
			return nil, &gateway.RPCError{Code: gateway.InvalidParams, Message: "invalid password"}
		}
		return nil, err
	}
	if migrated {
		d.metrics.VaultMigrationsTotal.Inc()
		log := d.logger.GetZerolog()
		log.Info().Msg("Legacy data migrated to vault")
	}

	initialized, err := d.vault.Initialized()
	if err != nil {
		return nil, err
	}
	if !initialized {
		return nil, &gateway.RPCError{
			Code:    gateway.InvalidRequest,
			Message: "vault not initialized: call vault.setPassword first",
		}
	}

	ok, err := d.vault.VerifyPassword(password)
	if err != nil {
		return nil, err
	}
	if !ok {
		d.metrics.VaultUnlocksTotal.WithLabelValues("failure").Inc()
		return nil, &gateway.RPCError{Code: gateway.InvalidParams, Message: "invalid password"}
	}

	st, err := d.vault.Load()
	if err != nil {
		return nil, err
	}

	d.stateMu.Lock()
	d.state = st
	d.stateMu.Unlock()

	result := d.pluginMgr.StartAll(d.ctx, st.Plugins)
	d.metrics.VaultUnlocksTotal.WithLabelValues("success").Inc()
	d.gateway.Broadcast("vault.unlocked", nil)

	return map[string]interface{}{
		"migrated":       migrated,
		"pluginsStarted": len(result.Started),
		"pluginsFailed":  result.Failed,
	}, nil
}

func (d *Daemon) handleVaultLock(map[string]interface{}) (interface{}, error) {
	d.pluginMgr.Shutdown()
	d.vault.Lock()

	d.stateMu.Lock()
	d.state = nil
	d.stateMu.Unlock()

	d.gateway.Broadcast("vault.locked", nil)
	return map[string]interface{}{"locked": true}, nil
}

func (d *Daemon) handleVaultSave(params map[string]interface{}) (interface{}, error) {
	if err := d.requireUnlocked(); err != nil {
		return nil, err
	}

	raw, err := objectParam(params, "state")
	if err != nil {
		return nil, err
	}

	var st state.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, &gateway.RPCError{Code: gateway.InvalidParams, Message: "invalid state payload"}
	}

	d.stateMu.Lock()
	pluginsChanged := !pluginsEqual(d.state, &st)
	d.state = &st
	d.stateMu.Unlock()

	if err := d.persist(); err != nil {
		return nil, err
	}

	// Sandboxes restart only when plugin records actually changed.
	if pluginsChanged {
		result := d.pluginMgr.StartAll(d.ctx, st.Plugins)
		return map[string]interface{}{
			"saved":          true,
			"pluginsStarted": len(result.Started),
			"pluginsFailed":  result.Failed,
		}, nil
	}

	return map[string]interface{}{"saved": true}, nil
}

func pluginsEqual(a, b *state.State) bool {
	if a == nil {
		return b == nil
	}
	aJSON, _ := json.Marshal(a.Plugins)
	bJSON, _ := json.Marshal(b.Plugins)
	return string(aJSON) == string(bJSON)
}

func (d *Daemon) handleVaultLoad(map[string]interface{}) (interface{}, error) {
	if err := d.requireUnlocked(); err != nil {
		return nil, err
	}

	st := d.currentState()
	if st == nil {
		return nil, vault.ErrLocked
	}
	return st, nil
}

func (d *Daemon) handleVaultReset(map[string]interface{}) (interface{}, error) {
	d.pluginMgr.Shutdown()

	if err := d.vault.Clear(); err != nil {
		return nil, err
	}

	d.stateMu.Lock()
	d.state = nil
	d.stateMu.Unlock()

	d.gateway.Broadcast("vault.reset", nil)
	return map[string]interface{}{"reset": true}, nil
}

func (d *Daemon) handlePluginsList(map[string]interface{}) (interface{}, error) {
	if err := d.requireUnlocked(); err != nil {
		return nil, err
	}

	type pluginInfo struct {
		state.Plugin
		Live bool `json:"live"`
	}

	plugins := d.pluginMgr.Plugins()
	infos := make([]pluginInfo, 0, len(plugins))
	for _, p := range plugins {
		infos = append(infos, pluginInfo{Plugin: p, Live: d.pluginMgr.Live(p.ID)})
	}
	return infos, nil
}

// parsePluginParam validates and decodes a plugin record parameter.
func parsePluginParam(params map[string]interface{}) (state.Plugin, error) {
	raw, err := objectParam(params, "plugin")
	if err != nil {
		return state.Plugin{}, err
	}

	if err := plugin.ValidateRecordJSON(raw); err != nil {
		return state.Plugin{}, &gateway.RPCError{
			Code:    gateway.InvalidParams,
			Message: err.Error(),
		}
	}

	var p state.Plugin
	if err := json.Unmarshal(raw, &p); err != nil {
		return state.Plugin{}, &gateway.RPCError{Code: gateway.InvalidParams, Message: "invalid plugin record"}
	}
	return p, nil
}

func (d *Daemon) handlePluginsCreate(params map[string]interface{}) (interface{}, error) {
	if err := d.requireUnlocked(); err != nil {
		return nil, err
	}

	p, err := parsePluginParam(params)
	if err != nil {
		return nil, err
	}

	if err := d.pluginMgr.Create(d.ctx, p); err != nil {
		return nil, err
	}

	d.stateMu.Lock()
	d.state.Plugins = append(d.state.Plugins, p)
	d.stateMu.Unlock()

	if err := d.persist(); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": p.ID, "live": d.pluginMgr.Live(p.ID)}, nil
}

func (d *Daemon) handlePluginsUpdate(params map[string]interface{}) (interface{}, error) {
	if err := d.requireUnlocked(); err != nil {
		return nil, err
	}

	p, err := parsePluginParam(params)
	if err != nil {
		return nil, err
	}

	if err := d.pluginMgr.Update(d.ctx, p); err != nil {
		return nil, err
	}

	d.stateMu.Lock()
	if record := d.state.FindPlugin(p.ID); record != nil {
		*record = p
	}
	d.stateMu.Unlock()

	if err := d.persist(); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": p.ID, "live": d.pluginMgr.Live(p.ID)}, nil
}

func (d *Daemon) handlePluginsDelete(params map[string]interface{}) (interface{}, error) {
	if err := d.requireUnlocked(); err != nil {
		return nil, err
	}

	id, err := stringParam(params, "id")
	if err != nil {
		return nil, err
	}

	if err := d.pluginMgr.Delete(id); err != nil {
		return nil, err
	}

	d.stateMu.Lock()
	kept := d.state.Plugins[:0]
	for _, p := range d.state.Plugins {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	d.state.Plugins = kept
	d.stateMu.Unlock()

	if err := d.persist(); err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted": true}, nil
}

func (d *Daemon) setPluginEnabled(params map[string]interface{}, enabled bool) (interface{}, error) {
	if err := d.requireUnlocked(); err != nil {
		return nil, err
	}

	id, err := stringParam(params, "id")
	if err != nil {
		return nil, err
	}

	if enabled {
		err = d.pluginMgr.Enable(d.ctx, id)
	} else {
		err = d.pluginMgr.Disable(id)
	}
	if err != nil {
		return nil, err
	}

	d.stateMu.Lock()
	if record := d.state.FindPlugin(id); record != nil {
		record.Enabled = enabled
	}
	d.stateMu.Unlock()

	if err := d.persist(); err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": id, "enabled": enabled, "live": d.pluginMgr.Live(id)}, nil
}

func (d *Daemon) handlePluginsEnable(params map[string]interface{}) (interface{}, error) {
	return d.setPluginEnabled(params, true)
}

func (d *Daemon) handlePluginsDisable(params map[string]interface{}) (interface{}, error) {
	return d.setPluginEnabled(params, false)
}

func (d *Daemon) handleCharactersCreate(params map[string]interface{}) (interface{}, error) {
	if err := d.requireUnlocked(); err != nil {
		return nil, err
	}

	raw, err := objectParam(params, "character")
	if err != nil {
		return nil, err
	}

	var c state.Character
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, &gateway.RPCError{Code: gateway.InvalidParams, Message: "invalid character payload"}
	}
	if c.Name == "" {
		return nil, &gateway.RPCError{Code: gateway.InvalidParams, Message: "character name is required"}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now()

	d.stateMu.Lock()
	d.state.Characters = append(d.state.Characters, c)
	d.stateMu.Unlock()

	payload, _ := json.Marshal(map[string]interface{}{"characterId": c.ID, "name": c.Name})
	if _, err := d.dispatcher.Trigger(d.ctx, hooks.HookCharacterCreated, payload); err != nil {
		log := d.logger.GetZerolog()
		log.Warn().Err(err).Msg("characterCreated hook chain aborted")
	}

	if err := d.persist(); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *Daemon) handleChatSend(params map[string]interface{}) (interface{}, error) {
	if err := d.requireUnlocked(); err != nil {
		return nil, err
	}

	content, err := stringParam(params, "content")
	if err != nil {
		return nil, err
	}
	sessionID, _ := params["sessionId"].(string)
	characterID, _ := params["characterId"].(string)

	// Let plugins transform the outgoing message.
	outgoing, _ := json.Marshal(map[string]interface{}{
		"content":     content,
		"sessionId":   sessionID,
		"characterId": characterID,
	})
	transformed, err := d.dispatcher.Trigger(d.ctx, hooks.HookBeforeSend, outgoing)
	if err != nil {
		return nil, err
	}
	var sendPayload map[string]interface{}
	if err := json.Unmarshal(transformed, &sendPayload); err == nil {
		if v, ok := sendPayload["content"].(string); ok && v != "" {
			content = v
		}
	}

	settings := map[string]interface{}{}
	if characterID != "" {
		d.stateMu.RLock()
		if c := d.state.FindCharacter(characterID); c != nil && c.SystemPrompt != "" {
			settings["systemPrompt"] = c.SystemPrompt
		}
		d.stateMu.RUnlock()
	}

	reply, err := d.broker.Resolve(d.ctx, sandbox.CapabilityRequest{
		Kind:     sandbox.CapabilityGenerateText,
		Prompt:   content,
		Settings: settings,
	})
	if err != nil {
		return nil, err
	}

	// Let plugins transform the incoming response.
	incoming, _ := json.Marshal(map[string]interface{}{
		"content":   reply,
		"sessionId": sessionID,
	})
	transformed, err = d.dispatcher.Trigger(d.ctx, hooks.HookAfterResponse, incoming)
	if err != nil {
		return nil, err
	}
	var respPayload map[string]interface{}
	if err := json.Unmarshal(transformed, &respPayload); err == nil {
		if v, ok := respPayload["content"].(string); ok && v != "" {
			reply = v
		}
	}

	now := time.Now()
	created := false

	d.stateMu.Lock()
	session := d.state.FindSession(sessionID)
	if session == nil {
		sessionID = newSessionID(sessionID)
		d.state.ChatSessions = append(d.state.ChatSessions, state.ChatSession{
			ID:          sessionID,
			CharacterID: characterID,
			Messages:    []state.ChatMessage{},
			CreatedAt:   now,
		})
		session = d.state.FindSession(sessionID)
		created = true
	}
	session.Messages = append(session.Messages,
		state.ChatMessage{ID: uuid.NewString(), Role: "user", Content: content, Timestamp: now},
		state.ChatMessage{ID: uuid.NewString(), Role: "assistant", Content: reply, Timestamp: now},
	)
	session.UpdatedAt = now
	d.stateMu.Unlock()

	if created {
		payload, _ := json.Marshal(map[string]interface{}{"sessionId": sessionID, "characterId": characterID})
		if _, err := d.dispatcher.Trigger(d.ctx, hooks.HookChatCreated, payload); err != nil {
			log := d.logger.GetZerolog()
			log.Warn().Err(err).Msg("chatCreated hook chain aborted")
		}
	}

	if err := d.persist(); err != nil {
		return nil, err
	}

	d.gateway.Broadcast("chat.message", map[string]interface{}{
		"sessionId": sessionID,
		"content":   reply,
	})

	return map[string]interface{}{
		"sessionId": sessionID,
		"reply":     reply,
	}, nil
}

func newSessionID(requested string) string {
	if requested != "" {
		return requested
	}
	return uuid.NewString()
}

func (d *Daemon) handleImageGenerate(params map[string]interface{}) (interface{}, error) {
	if err := d.requireUnlocked(); err != nil {
		return nil, err
	}

	prompt, err := stringParam(params, "prompt")
	if err != nil {
		return nil, err
	}

	outgoing, _ := json.Marshal(map[string]interface{}{"prompt": prompt})
	transformed, err := d.dispatcher.Trigger(d.ctx, hooks.HookBeforeImageGeneration, outgoing)
	if err != nil {
		return nil, err
	}

	settings := map[string]interface{}{}
	var payload map[string]interface{}
	if err := json.Unmarshal(transformed, &payload); err == nil {
		if v, ok := payload["prompt"].(string); ok && v != "" {
			prompt = v
		}
		if v, ok := payload["size"].(string); ok && v != "" {
			settings["size"] = v
		}
	}

	image, err := d.broker.Resolve(d.ctx, sandbox.CapabilityRequest{
		Kind:     sandbox.CapabilityGenerateImage,
		Prompt:   prompt,
		Settings: settings,
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{"image": image}, nil
}

// handleHooksTrigger runs an arbitrary hook chain. Debug surface for
// plugin authors.
func (d *Daemon) handleHooksTrigger(params map[string]interface{}) (interface{}, error) {
	if err := d.requireUnlocked(); err != nil {
		return nil, err
	}

	name, err := stringParam(params, "name")
	if err != nil {
		return nil, err
	}
	raw, err := objectParam(params, "payload")
	if err != nil {
		return nil, err
	}

	result, err := d.dispatcher.Trigger(d.ctx, name, raw)
	if err != nil {
		return nil, err
	}

	var decoded interface{}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return string(result), nil
	}
	return decoded, nil
}
