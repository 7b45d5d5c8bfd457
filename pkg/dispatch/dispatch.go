// Package dispatch maps holon-rpc method names to handlers and turns one
// request envelope into one response envelope.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"holoncert/pkg/rpc"
)

// Built-in method names. MethodHeartbeatAlias is the legacy spelling some
// peers still send.
const (
	MethodHeartbeat      = "heartbeat"
	MethodHeartbeatAlias = "rpc.heartbeat"
	MethodEchoPing       = "echo.v1.Echo/Ping"
)

// Identity names the serving implementation; echo reports it to the peer.
type Identity struct {
	SDK     string
	Version string
}

// Handler is a pure function of params to a result object or a wire error.
// Handlers share no mutable state across sessions.
type Handler func(ctx context.Context, params map[string]rpc.Value) (map[string]rpc.Value, *rpc.Error)

// Dispatcher holds the method mapping. Register everything at startup; the
// mapping is read-only while serving, which is what makes Handle safe for
// concurrent sessions.
type Dispatcher struct {
	identity Identity
	methods  map[string]Handler
}

// New creates a dispatcher with the built-in methods registered.
func New(identity Identity) *Dispatcher {
	d := &Dispatcher{identity: identity, methods: map[string]Handler{}}
	_ = d.Register(MethodHeartbeat, heartbeat)
	_ = d.Register(MethodHeartbeatAlias, heartbeat)
	_ = d.Register(MethodEchoPing, d.echoPing)
	return d
}

// Register associates a handler with a method name. Must complete before the
// dispatcher serves its first session.
func (d *Dispatcher) Register(name string, h Handler) error {
	if _, exists := d.methods[name]; exists {
		return errors.New("method already registered")
	}
	d.methods[name] = h
	return nil
}

// Handle executes one request envelope and produces its response envelope.
// Shape violations answer with -32600, unknown methods with -32601.
func (d *Dispatcher) Handle(ctx context.Context, env *rpc.Envelope) *rpc.Envelope {
	if err := env.Validate(); err != nil {
		return rpc.NewError(env.ID, rpc.CodeInvalidRequest, "invalid request")
	}
	if env.Method == "" {
		return rpc.NewError(env.ID, rpc.CodeInvalidRequest, "not a request")
	}
	h, ok := d.methods[env.Method]
	if !ok {
		return rpc.NewError(env.ID, rpc.CodeMethodNotFound, fmt.Sprintf("method %q not found", env.Method))
	}
	result, rpcErr := h(ctx, env.Params)
	if rpcErr != nil {
		return &rpc.Envelope{Version: rpc.Version, ID: env.ID, Error: rpcErr}
	}
	return rpc.NewResult(env.ID, result)
}

// BindParams decodes a params object into a typed struct via mapstructure
// tags, for handlers that want typed arguments instead of raw values.
func BindParams(params map[string]rpc.Value, out any) error {
	raw := make(map[string]any, len(params))
	for k, v := range params {
		raw[k] = v.Interface()
	}
	return mapstructure.Decode(raw, out)
}

func heartbeat(context.Context, map[string]rpc.Value) (map[string]rpc.Value, *rpc.Error) {
	return map[string]rpc.Value{}, nil
}

// echoPing returns the message parameter verbatim plus the serving identity.
func (d *Dispatcher) echoPing(_ context.Context, params map[string]rpc.Value) (map[string]rpc.Value, *rpc.Error) {
	return map[string]rpc.Value{
		"message": params["message"],
		"sdk":     rpc.String(d.identity.SDK),
		"version": rpc.String(d.identity.Version),
	}, nil
}
