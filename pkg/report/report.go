// Package report turns a classified Verdict into the machine-readable JSON
// document consumed by harnesses driving the checker.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"holoncert/pkg/engine"
)

// Report is the rendering of one Verdict, one JSON object per cycle.
type Report struct {
	Status    string `json:"status"`
	SDK       string `json:"sdk"`
	ServerSDK string `json:"server_sdk"`
	LatencyMS int64  `json:"latency_ms"`
	Check     string `json:"check"`
	Method    string `json:"method,omitempty"`
	ErrorCode *int   `json:"error_code,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Render builds the report for a verdict under the given SDK identities.
func Render(sdk, serverSDK string, v engine.Verdict) Report {
	return Report{
		Status:    string(v.Status),
		SDK:       sdk,
		ServerSDK: serverSDK,
		LatencyMS: v.Latency.Milliseconds(),
		Check:     string(v.Check),
		Method:    v.Method,
		ErrorCode: v.ErrorCode,
		Reason:    v.Reason,
	}
}

// Reporter emits one report line per cycle to its writer, and optionally to a
// report file.
type Reporter struct {
	w         io.Writer
	fs        afero.Fs
	path      string
	sdk       string
	serverSDK string
}

type Option func(*Reporter)

// WithFile additionally writes each report to path on the given filesystem.
func WithFile(fs afero.Fs, path string) Option {
	return func(r *Reporter) {
		r.fs = fs
		r.path = path
	}
}

// New creates a reporter labelling reports with the two SDK identities.
func New(w io.Writer, sdk, serverSDK string, opts ...Option) *Reporter {
	r := &Reporter{w: w, sdk: sdk, serverSDK: serverSDK}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Emit renders and writes the verdict. The returned Report is what was
// written.
func (r *Reporter) Emit(v engine.Verdict) (Report, error) {
	rep := Render(r.sdk, r.serverSDK, v)
	data, err := json.Marshal(rep)
	if err != nil {
		return rep, fmt.Errorf("encode report: %w", err)
	}
	line := append(data, '\n')
	if _, err := r.w.Write(line); err != nil {
		return rep, fmt.Errorf("write report: %w", err)
	}
	if r.path != "" {
		if err := afero.WriteFile(r.fs, r.path, line, 0644); err != nil {
			return rep, fmt.Errorf("write report file: %w", err)
		}
	}
	return rep, nil
}
