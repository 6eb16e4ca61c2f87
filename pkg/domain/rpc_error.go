package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// JSON-RPC 2.0 reserved codes and the server-defined range used by Tendril.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603

	CodeContextDerivation    = -32001
	CodeUnauthorized         = -32002
	CodeTooManyRequests      = -32003
	CodeTooManySubscriptions = -32005
)

// RpcError is the structured error returned to clients.
type RpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewError creates an RpcError. Data is marshaled eagerly; a value that cannot be
// encoded is dropped rather than failing the response.
func NewError(code int, message string, data any) *RpcError {
	e := &RpcError{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}

func (e *RpcError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Is matches another RpcError by code, and the sentinel errors by their code class.
func (e *RpcError) Is(target error) bool {
	var other *RpcError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	switch target {
	case ErrInvalidParams:
		return e.Code == CodeInvalidParams
	case ErrMethodNotFound:
		return e.Code == CodeMethodNotFound
	case ErrContextDerivation:
		return e.Code == CodeContextDerivation
	}
	return false
}

// ParseError is returned for frames that are not valid JSON.
func ParseError() *RpcError {
	return &RpcError{Code: CodeParseError, Message: "parse error"}
}

// InvalidRequest is returned for JSON that is not a JSON-RPC 2.0 request.
func InvalidRequest() *RpcError {
	return &RpcError{Code: CodeInvalidRequest, Message: "invalid request"}
}

// MethodNotFound is returned for unknown methods and request-kind mismatches.
func MethodNotFound() *RpcError {
	return &RpcError{Code: CodeMethodNotFound, Message: "method not found"}
}

// InvalidParams wraps a decode failure. The cause is exposed as the message data.
func InvalidParams(cause error) *RpcError {
	if cause == nil {
		return &RpcError{Code: CodeInvalidParams, Message: "invalid params"}
	}
	return NewError(CodeInvalidParams, "invalid params", cause.Error())
}

// Internal is the generic error sent when a handler error is not representable.
func Internal() *RpcError {
	return &RpcError{Code: CodeInternal, Message: "internal error"}
}

// AsRpcError returns err as an RpcError if it is one, and false otherwise.
func AsRpcError(err error) (*RpcError, bool) {
	var rpcErr *RpcError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}
