package domain

import (
	"bytes"
	"encoding/json"
)

// Version is the only JSON-RPC protocol version accepted.
const Version = "2.0"

// Request is one JSON-RPC 2.0 call. A nil ID means the call is a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the caller expects no response.
func (r Request) IsNotification() bool {
	return r.ID == nil
}

// Valid checks the envelope shape. IDs must be strings, numbers or null.
func (r Request) Valid() bool {
	if r.JSONRPC != Version || r.Method == "" {
		return false
	}
	if r.ID != nil {
		switch trimmed := bytes.TrimSpace(r.ID); {
		case len(trimmed) == 0:
			return false
		case trimmed[0] == '{' || trimmed[0] == '[' || trimmed[0] == 't' || trimmed[0] == 'f':
			return false
		}
	}
	return true
}

// Response answers a Request. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RpcError       `json:"error,omitempty"`
}

// Success builds a result response.
func Success(id json.RawMessage, result json.RawMessage) Response {
	if result == nil {
		result = json.RawMessage("null")
	}
	return Response{JSONRPC: Version, ID: id, Result: result}
}

// Failure builds an error response.
func Failure(id json.RawMessage, err *RpcError) Response {
	return Response{JSONRPC: Version, ID: id, Error: err}
}

// Notification is a server-initiated message with no id.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewNotification builds a notification envelope.
func NewNotification(method string, params json.RawMessage) Notification {
	return Notification{JSONRPC: Version, Method: method, Params: params}
}

// SubscriptionMessage is the params object of every subscription notification.
type SubscriptionMessage struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// CloseNotice is the final control message of a subscription. Error is set only
// when the stream ended because the handler failed or the subscription was rejected.
type CloseNotice struct {
	Subscription string    `json:"close_stream"`
	Count        uint64    `json:"count"`
	Error        *RpcError `json:"error,omitempty"`
}
