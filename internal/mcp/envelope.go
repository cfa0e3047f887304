package mcp

import (
	"time"

	cogerrors "github.com/cogmemd/cogmemd/internal/errors"
	"github.com/cogmemd/cogmemd/pkg/version"
)

// Meta carries per-call bookkeeping every tool response envelope includes.
type Meta struct {
	Tool       string `json:"tool"`
	RequestID  string `json:"request_id"`
	StartedAt  string `json:"started_at"`
	DurationMs int64  `json:"duration_ms"`
	Version    string `json:"version"`
}

// Recovery is a machine-usable recovery suggestion attached to an error.
type Recovery struct {
	Hint     string   `json:"hint"`
	Actions  []string `json:"actions,omitempty"`
	Severity string   `json:"severity"`
}

// EnvelopeError is the error shape every failed tool call surfaces inside
// its envelope, independent of any JSON-RPC transport-level error.
type EnvelopeError struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Details  map[string]string `json:"details,omitempty"`
	Recovery *Recovery         `json:"recovery"`
}

// Envelope is the uniform response shape every cogmemd tool returns
// (spec.md §4.12): a human summary, tool-specific data, recovery hints, and
// an optional structured error.
type Envelope struct {
	Meta    Meta           `json:"meta"`
	Summary string         `json:"summary"`
	Data    any            `json:"data,omitempty"`
	Hints   []string       `json:"hints,omitempty"`
	Error   *EnvelopeError `json:"error,omitempty"`
}

// newMeta starts a Meta for tool, stamped at started.
func newMeta(tool, requestID string, started time.Time) Meta {
	return Meta{
		Tool:      tool,
		RequestID: requestID,
		StartedAt: started.Format(time.RFC3339),
		Version:   version.Version,
	}
}

func (m Meta) finish(started time.Time) Meta {
	m.DurationMs = time.Since(started).Milliseconds()
	return m
}

// errorEnvelope builds a failed Envelope from any error, translating a
// *CogError into its full taxonomy/recovery shape and falling back to
// INTERNAL for anything else.
func errorEnvelope(tool, requestID string, started time.Time, err error) Envelope {
	ce, ok := err.(*cogerrors.CogError)
	if !ok {
		ce = cogerrors.InternalError(err.Error(), err)
	}

	envErr := &EnvelopeError{
		Code:    string(ce.Code),
		Message: ce.Message,
		Details: ce.Details,
		Recovery: &Recovery{
			Hint:     ce.RecoveryHint,
			Actions:  ce.RecoveryActions,
			Severity: string(ce.Severity),
		},
	}

	return Envelope{
		Meta:    newMeta(tool, requestID, started).finish(started),
		Summary: ce.Message,
		Error:   envErr,
	}
}

// okEnvelope builds a successful Envelope.
func okEnvelope(tool, requestID string, started time.Time, summary string, data any, hints ...string) Envelope {
	return Envelope{
		Meta:    newMeta(tool, requestID, started).finish(started),
		Summary: summary,
		Data:    data,
		Hints:   hints,
	}
}
