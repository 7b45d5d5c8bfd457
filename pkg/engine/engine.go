// Package engine drives one holon-rpc conformance cycle and classifies the
// outcome against a declared Expectation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"nhooyr.io/websocket"

	"holoncert/pkg/dispatch"
	"holoncert/pkg/rpc"
	"holoncert/pkg/transport"
)

// Status is the terminal classification of a cycle.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// Check names what the cycle verified.
type Check string

const (
	CheckConnect Check = "connect"
	CheckCall    Check = "call"
)

// Expectation is the caller's declared success criteria for a single cycle.
// It is constructed and validated before any network activity and not
// mutated afterwards. An empty AcceptCodes set means no error response is
// acceptable.
type Expectation struct {
	Endpoint    string
	Method      string
	Params      map[string]rpc.Value
	AcceptCodes []int
	ConnectOnly bool
	Timeout     time.Duration
	RequestID   string // optional; a fresh UUID is generated when empty
}

// Validate enforces the Expectation invariants.
func (e *Expectation) Validate() error {
	if e.Endpoint == "" {
		return errors.New("endpoint required")
	}
	if e.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if e.ConnectOnly {
		if e.Method != "" || len(e.Params) > 0 || len(e.AcceptCodes) > 0 {
			return errors.New("connect-only excludes method, params and accepted codes")
		}
		return nil
	}
	if e.Method == "" {
		return errors.New("method required")
	}
	return nil
}

// Verdict is the terminal pass/fail classification plus diagnostics for one
// cycle. ErrorCode is the wire error code observed, if any; Reason explains a
// failure.
type Verdict struct {
	Status    Status
	Check     Check
	Method    string
	Latency   time.Duration
	ErrorCode *int
	Reason    string
}

// CorrelationError reports a response id that does not equal the request id.
// Always fatal to classification, regardless of any other field.
type CorrelationError struct {
	Want string
	Got  string
}

func (e *CorrelationError) Error() string {
	return fmt.Sprintf("response id %s does not match request id %s", e.Got, e.Want)
}

type state int

const (
	stateIdle state = iota
	stateConnecting
	stateConnectConfirmed
	stateAwaitingResponse
	stateClassifying
	stateDone
)

// Engine runs one strictly sequential request/response cycle over one
// session. The single Timeout is a wall-clock budget covering open, send and
// receive together; deadline expiry is the only form of cancellation.
type Engine struct {
	exp   Expectation
	state state
}

// New validates the Expectation and returns an engine ready to run it.
func New(exp Expectation) (*Engine, error) {
	if err := exp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid expectation: %w", err)
	}
	return &Engine{exp: exp, state: stateIdle}, nil
}

// Run performs the cycle and returns its Verdict. The session is closed
// before Run returns, win or lose.
func (g *Engine) Run(ctx context.Context) Verdict {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, g.exp.Timeout)
	defer cancel()

	g.state = stateConnecting
	sess, err := transport.Open(ctx, g.exp.Endpoint)
	if err != nil {
		return g.fail(CheckConnect, start, nil, err.Error())
	}
	defer sess.Close(websocket.StatusNormalClosure, "done")
	g.state = stateConnectConfirmed

	if g.exp.ConnectOnly {
		g.state = stateDone
		return Verdict{Status: StatusPass, Check: CheckConnect, Latency: time.Since(start)}
	}

	reqID, err := g.requestID()
	if err != nil {
		return g.fail(CheckCall, start, nil, err.Error())
	}
	payload, err := rpc.Encode(rpc.NewRequest(reqID, g.exp.Method, g.exp.Params))
	if err != nil {
		return g.fail(CheckCall, start, nil, fmt.Sprintf("encode request: %v", err))
	}
	if err := sess.Send(ctx, payload); err != nil {
		return g.fail(CheckCall, start, nil, err.Error())
	}
	g.state = stateAwaitingResponse

	data, err := sess.Receive(ctx)
	if err != nil {
		return g.fail(CheckCall, start, nil, err.Error())
	}
	g.state = stateClassifying

	return g.classify(start, reqID, data)
}

func (g *Engine) requestID() (rpc.Value, error) {
	if g.exp.RequestID != "" {
		return rpc.String(g.exp.RequestID), nil
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return rpc.Value{}, fmt.Errorf("generate request id: %w", err)
	}
	return rpc.String(uid.String()), nil
}

// classify applies the pass conditions: exact id correlation, matching
// version tag, and either an accepted error code or a correct result. A
// populated error field wins over a structurally present result field; a
// dual-populated response is never accepted as success.
func (g *Engine) classify(start time.Time, reqID rpc.Value, data []byte) Verdict {
	res, err := rpc.Decode(data)
	if err != nil {
		// ParseError and version mismatch are both fatal on the requesting side
		return g.fail(CheckCall, start, nil, err.Error())
	}

	if res.ID == nil || !res.ID.Equal(reqID) {
		got := "null"
		if res.ID != nil {
			got = res.ID.Text()
		}
		corr := &CorrelationError{Want: reqID.Text(), Got: got}
		return g.fail(CheckCall, start, nil, corr.Error())
	}

	if res.Error != nil {
		code := res.Error.Code
		if containsInt(g.exp.AcceptCodes, code) {
			g.state = stateDone
			return Verdict{
				Status:    StatusPass,
				Check:     CheckCall,
				Method:    g.exp.Method,
				Latency:   time.Since(start),
				ErrorCode: &code,
			}
		}
		reason := fmt.Sprintf("rpc error %d %s", code, res.Error.Message)
		if len(g.exp.AcceptCodes) > 0 {
			reason = fmt.Sprintf("error code %d not in accepted set %v", code, g.exp.AcceptCodes)
		}
		return g.fail(CheckCall, start, &code, reason)
	}

	if len(g.exp.AcceptCodes) > 0 {
		return g.fail(CheckCall, start, nil,
			fmt.Sprintf("expected one of error codes %v, but call succeeded", g.exp.AcceptCodes))
	}

	if res.Result == nil {
		return g.fail(CheckCall, start, nil, "response carries neither result nor error")
	}

	if g.exp.Method == dispatch.MethodEchoPing {
		sent := g.exp.Params["message"]
		if !res.Result["message"].Equal(sent) {
			return g.fail(CheckCall, start, nil,
				fmt.Sprintf("echoed message %s does not equal sent message %s",
					res.Result["message"].Text(), sent.Text()))
		}
	}

	g.state = stateDone
	return Verdict{Status: StatusPass, Check: CheckCall, Method: g.exp.Method, Latency: time.Since(start)}
}

func (g *Engine) fail(check Check, start time.Time, code *int, reason string) Verdict {
	g.state = stateDone
	return Verdict{
		Status:    StatusFail,
		Check:     check,
		Method:    g.exp.Method,
		Latency:   time.Since(start),
		ErrorCode: code,
		Reason:    reason,
	}
}

func containsInt(values []int, target int) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
