// Package storewire defines the JSON frames spoken between the realtime
// store server and its websocket clients.
package storewire

import "encoding/json"

const (
	OpSet          = "set"
	OpUpdate       = "update"
	OpGet          = "get"
	OpRemove       = "remove"
	OpSubscribe    = "subscribe"
	OpUnsubscribe  = "unsubscribe"
	OpOnDisconnect = "ondisconnect"
)

// EventSnapshot pushes the value of a subscribed path; null means absent.
const EventSnapshot = "snapshot"

type Request struct {
	ID    int64           `json:"id"`
	Op    string          `json:"op"`
	Path  string          `json:"path,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Sub   int64           `json:"sub,omitempty"`
}

type Response struct {
	ID    int64           `json:"id,omitempty"`
	Event string          `json:"event,omitempty"`
	Sub   int64           `json:"sub,omitempty"`
	OK    bool            `json:"ok,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}
