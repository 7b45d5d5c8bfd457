package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"holoncert/pkg/dispatch"
	"holoncert/pkg/engine"
	"holoncert/pkg/rpc"
)

const (
	defaultSDK       = "go-holons"
	defaultMethod    = dispatch.MethodEchoPing
	defaultMessage   = "cert"
	defaultTimeoutMS = 5000
)

// options holds the raw command line before it is turned into one validated
// Expectation. The core only ever sees the Expectation.
type options struct {
	endpoint    string
	method      string
	message     string
	paramsJSON  string
	expectError string
	timeoutMS   int
	connectOnly bool
	sdk         string
	serverSDK   string
	reportFile  string
	historyDB   string
	logLevel    string
}

func parseArgs(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("holoncert", flag.ContinueOnError)
	fs.StringVar(&opts.method, "method", defaultMethod, "method to invoke")
	fs.StringVar(&opts.message, "message", defaultMessage, "message parameter for echo")
	fs.StringVar(&opts.paramsJSON, "params-json", "", "request params as a JSON object")
	fs.StringVar(&opts.expectError, "expect-error", "", "comma-separated error codes accepted as a pass")
	fs.IntVar(&opts.timeoutMS, "timeout-ms", defaultTimeoutMS, "wall-clock budget for the whole cycle")
	fs.BoolVar(&opts.connectOnly, "connect-only", false, "only verify connect and subprotocol negotiation")
	fs.StringVar(&opts.sdk, "sdk", defaultSDK, "identity of the SDK under test")
	fs.StringVar(&opts.serverSDK, "server-sdk", defaultSDK, "identity of the serving SDK")
	fs.StringVar(&opts.reportFile, "report-file", "", "also write the verdict report to this file")
	fs.StringVar(&opts.historyDB, "history-db", "", "append the verdict to this sqlite database")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: holoncert [flags] ws://host:port/rpc")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("usage: holoncert [flags] ws://host:port/rpc")
	}
	opts.endpoint = fs.Arg(0)

	if opts.timeoutMS <= 0 {
		return nil, fmt.Errorf("-timeout-ms must be a positive integer")
	}
	return opts, nil
}

// expectation turns the parsed options into one fully-validated Expectation.
func (o *options) expectation() (engine.Expectation, error) {
	exp := engine.Expectation{
		Endpoint: o.endpoint,
		Timeout:  time.Duration(o.timeoutMS) * time.Millisecond,
	}
	if o.connectOnly {
		exp.ConnectOnly = true
		return exp, exp.Validate()
	}

	params, err := parseParams(o.paramsJSON, o.method, o.message)
	if err != nil {
		return engine.Expectation{}, err
	}
	codes, err := parseExpectedCodes(o.expectError)
	if err != nil {
		return engine.Expectation{}, err
	}

	exp.Method = o.method
	exp.Params = params
	exp.AcceptCodes = codes
	return exp, exp.Validate()
}

func parseParams(raw, method, message string) (map[string]rpc.Value, error) {
	if strings.TrimSpace(raw) == "" {
		if method == defaultMethod {
			return map[string]rpc.Value{"message": rpc.String(message)}, nil
		}
		return map[string]rpc.Value{}, nil
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("-params-json must be a valid JSON object: %w", err)
	}
	if parsed == nil {
		return nil, fmt.Errorf("-params-json must decode to a JSON object")
	}
	params := make(map[string]rpc.Value, len(parsed))
	for k, v := range parsed {
		val, err := rpc.FromGo(v)
		if err != nil {
			return nil, fmt.Errorf("-params-json field %q: %w", k, err)
		}
		params[k] = val
	}
	return params, nil
}

func parseExpectedCodes(raw string) ([]int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	tokens := strings.Split(trimmed, ",")
	codes := make([]int, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		code, err := strconv.Atoi(token)
		if err != nil {
			return nil, fmt.Errorf("invalid error code in -expect-error: %s", token)
		}
		codes = append(codes, code)
	}

	if len(codes) == 0 {
		return nil, fmt.Errorf("-expect-error requires at least one numeric code")
	}
	return codes, nil
}
