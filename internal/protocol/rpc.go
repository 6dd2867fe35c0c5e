package protocol

import "encoding/json"

// RPCMessage represents a JSON-RPC 2.0-like message exchanged over the bridge.
// It can be a notification (no ID), a request (has ID), or a response (has ID + type:"response").
type RPCMessage struct {
	ID      interface{}     `json:"id,omitempty"`      // string or number
	Type    string          `json:"type"`              // Message type (e.g. "run", "approve", "state_change")
	Payload json.RawMessage `json:"payload,omitempty"` // Typed payload
	Error   string          `json:"error,omitempty"`   // Optional error message
}

// EncodeRPC encodes any payload into a RawMessage for inclusion in an RPCMessage
func EncodeRPC(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
