package utils

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures for logging and isolation decisions.
type Kind string

const (
	// KindUnknown is reported for errors outside the pipeline taxonomy.
	KindUnknown Kind = ""
	// KindUpstreamFetch marks monitoring-source fetch failures; the whole
	// poll cycle is skipped and retried next interval.
	KindUpstreamFetch Kind = "upstream_fetch"
	// KindEnrichment marks AI provider failures after the single retry;
	// the incident is marked failed and becomes eligible after cooldown.
	KindEnrichment Kind = "enrichment"
	// KindSink marks acknowledgement/notification/broadcast failures;
	// isolated per sink, never fatal to the cycle.
	KindSink Kind = "sink"
	// KindAuth marks rejected dashboard or realtime connections.
	KindAuth Kind = "auth"
)

// AppError wraps an operation, failure kind, human-facing message, and cause.
type AppError struct {
	Op   string
	Kind Kind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// E constructs an AppError.
func E(op string, kind Kind, msg string, err error) error {
	return &AppError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}
