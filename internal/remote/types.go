package remote

import (
	"encoding/json"
)

// Message is the envelope for every frame on the store's WebSocket protocol.
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Path    string          `json:"path,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Success *bool           `json:"success,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is an error detail in a result frame.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// authMessage is the authentication request sent after dialing.
type authMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// request frame types understood by the store.
const (
	msgAuth         = "auth"
	msgAuthRequired = "auth_required"
	msgAuthOk       = "auth_ok"
	msgAuthInvalid  = "auth_invalid"
	msgGet          = "get"
	msgSet          = "set"
	msgUpdate       = "update"
	msgWatch        = "watch"
	msgResult       = "result"
	msgEvent        = "event"
)

// getRequest reads the value at a path.
type getRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	Path string `json:"path"`
}

// setRequest replaces the value at a path.
type setRequest struct {
	ID    int    `json:"id"`
	Type  string `json:"type"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// updateRequest merges fields into the object at a path.
type updateRequest struct {
	ID     int            `json:"id"`
	Type   string         `json:"type"`
	Path   string         `json:"path"`
	Fields map[string]any `json:"fields"`
}

// watchRequest subscribes to change events under a path.
type watchRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	Path string `json:"path"`
}
