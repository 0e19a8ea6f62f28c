// Package state defines the application state held inside the encrypted
// vault blob: characters, chat sessions, plugin records, and user keys.
package state

import "time"

// Character is a persisted AI character card.
type Character struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	SystemPrompt string    `json:"systemPrompt,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ChatMessage is a single turn in a chat session.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // user, assistant
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession is a persisted conversation with a character.
type ChatSession struct {
	ID          string        `json:"id"`
	CharacterID string        `json:"characterId,omitempty"`
	Title       string        `json:"title,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Plugin is a persisted plugin record. Code is user-authored JavaScript
// evaluated in an isolated context; Settings parametrize host-mediated
// capability calls and are merged host-side, never handed to the sandbox
// together with credentials.
type Plugin struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Code        string                 `json:"code"`
	Enabled     bool                   `json:"enabled"`
	Settings    map[string]interface{} `json:"settings,omitempty"`
}

// State is the full application state serialized into the vault blob.
type State struct {
	Characters   []Character       `json:"characters"`
	ChatSessions []ChatSession     `json:"chatSessions"`
	Plugins      []Plugin          `json:"plugins"`
	UserKeys     map[string]string `json:"userKeys,omitempty"`
}

// Empty returns a fresh, safe default state.
func Empty() *State {
	return &State{
		Characters:   []Character{},
		ChatSessions: []ChatSession{},
		Plugins:      []Plugin{},
	}
}

// FindPlugin returns the plugin with the given id, or nil.
func (s *State) FindPlugin(id string) *Plugin {
	for i := range s.Plugins {
		if s.Plugins[i].ID == id {
			return &s.Plugins[i]
		}
	}
	return nil
}

// FindSession returns the chat session with the given id, or nil.
func (s *State) FindSession(id string) *ChatSession {
	for i := range s.ChatSessions {
		if s.ChatSessions[i].ID == id {
			return &s.ChatSessions[i]
		}
	}
	return nil
}

// FindCharacter returns the character with the given id, or nil.
func (s *State) FindCharacter(id string) *Character {
	for i := range s.Characters {
		if s.Characters[i].ID == id {
			return &s.Characters[i]
		}
	}
	return nil
}
