package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is the fixed protocol version tag carried by every envelope.
const Version = "2.0"

// Subprotocol is the WebSocket subprotocol token identifying this wire contract.
const Subprotocol = "holon-rpc"

// Reserved wire error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
)

// Error is a structured wire error. Data is carried opaquely and never
// interpreted.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Envelope is one wire message: a request (method+params), a success response
// (result), or a failure response (error). ID is echoed verbatim between a
// request and its response.
type Envelope struct {
	Version string           `json:"jsonrpc,omitempty"`
	ID      *Value           `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  map[string]Value `json:"params,omitempty"`
	Result  map[string]Value `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
}

// NewRequest builds a request envelope.
func NewRequest(id Value, method string, params map[string]Value) *Envelope {
	if params == nil {
		params = map[string]Value{}
	}
	return &Envelope{Version: Version, ID: &id, Method: method, Params: params}
}

// NewResult builds a success response envelope.
func NewResult(id *Value, result map[string]Value) *Envelope {
	if result == nil {
		result = map[string]Value{}
	}
	return &Envelope{Version: Version, ID: id, Result: result}
}

// NewError builds a failure response envelope.
func NewError(id *Value, code int, message string) *Envelope {
	return &Envelope{Version: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

// ParseError reports a wire payload that is not a well-formed envelope object.
// Answered with CodeParseError at the server boundary.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parse error: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// InvalidRequestError reports a structurally valid envelope that violates the
// envelope rules (missing or wrong version tag, bad shape). Answered with
// CodeInvalidRequest at the server boundary. Distinct from ParseError because
// the two map to different wire codes.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string { return "invalid request: " + e.Reason }

// Encode serializes an envelope. Fields not applicable to the envelope's kind
// are omitted entirely, never emitted as null; request params default to {}.
// Key order is the deterministic sorted order of encoding/json.
func Encode(env *Envelope) ([]byte, error) {
	m := map[string]any{"jsonrpc": env.Version}
	if env.ID != nil {
		m["id"] = *env.ID
	}
	if env.Method != "" {
		params := env.Params
		if params == nil {
			params = map[string]Value{}
		}
		m["method"] = env.Method
		m["params"] = params
	}
	if env.Result != nil {
		m["result"] = env.Result
	}
	if env.Error != nil {
		m["error"] = env.Error
	}
	return json.Marshal(m)
}

// Decode parses a wire payload. Malformed input (not a JSON object, wrong
// field types) yields ParseError. A well-formed object whose version tag is
// missing or not Version yields InvalidRequestError together with the decoded
// envelope, so the caller can still answer with the request id.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ParseError{Err: err}
	}
	if env.Version != Version {
		return &env, &InvalidRequestError{Reason: fmt.Sprintf("version tag %q", env.Version)}
	}
	return &env, nil
}

// Validate enforces the envelope shape rule: exactly one of {method, result,
// error} populated, and an id that is a string or a number if present. Decode
// deliberately does not call this; responses with both error and result are
// still classifiable by the engine, with the error branch taking precedence.
func (e *Envelope) Validate() error {
	populated := 0
	if e.Method != "" {
		populated++
	}
	if e.Result != nil {
		populated++
	}
	if e.Error != nil {
		populated++
	}
	if populated != 1 {
		return &InvalidRequestError{Reason: fmt.Sprintf("%d of method/result/error populated", populated)}
	}
	if e.ID != nil {
		switch e.ID.Kind() {
		case KindString, KindNumber:
		default:
			return &InvalidRequestError{Reason: "id must be a string or a number"}
		}
	}
	return nil
}
