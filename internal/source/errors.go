package source

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sells-group/gasrisk-cli/internal/fetcher"
	"github.com/sells-group/gasrisk-cli/internal/model"
	"github.com/sells-group/gasrisk-cli/internal/resilience"
)

// ErrorKind classifies a source failure for the run ledger and operators.
type ErrorKind string

const (
	KindAuth         ErrorKind = "auth"
	KindRateLimit    ErrorKind = "rate_limit"
	KindNetwork      ErrorKind = "network"
	KindSchemaChange ErrorKind = "schema_change"
	KindNotFound     ErrorKind = "not_found"
	KindCancelled    ErrorKind = "cancelled"
)

// SourceError is the failure surface of a Source adapter. Schema-change
// errors mean the adapter needs a code change and are never retried;
// network and rate-limit errors mean try again later.
type SourceError struct {
	Source model.SourceID
	Kind   ErrorKind
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether this failure is worth retrying locally.
func (e *SourceError) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindRateLimit
}

// NewSourceError wraps err with a source and kind.
func NewSourceError(src model.SourceID, kind ErrorKind, err error) *SourceError {
	return &SourceError{Source: src, Kind: kind, Err: err}
}

// AsSourceError extracts a *SourceError from the chain, or nil.
func AsSourceError(err error) *SourceError {
	var se *SourceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// Classify maps a raw fetch failure onto the source error taxonomy. A
// cancelled context wins over everything; terminal HTTP statuses map to
// auth/not-found/rate-limit; transient failures map to network.
func Classify(src model.SourceID, ctxErr, err error) *SourceError {
	if se := AsSourceError(err); se != nil {
		return se
	}
	if ctxErr != nil {
		return NewSourceError(src, KindCancelled, err)
	}

	var st *fetcher.StatusError
	if errors.As(err, &st) {
		switch st.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return NewSourceError(src, KindAuth, err)
		case http.StatusNotFound:
			return NewSourceError(src, KindNotFound, err)
		case http.StatusTooManyRequests:
			return NewSourceError(src, KindRateLimit, err)
		}
	}

	var te *resilience.TransientError
	if errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests {
		return NewSourceError(src, KindRateLimit, err)
	}

	if resilience.IsTransient(err) {
		return NewSourceError(src, KindNetwork, err)
	}

	// Unclassified failures are treated as network-grade: the safe default
	// is "try again next run", not "adapter broken".
	return NewSourceError(src, KindNetwork, err)
}

// SchemaChange builds the fatal "response shape changed" error.
func SchemaChange(src model.SourceID, format string, args ...any) *SourceError {
	return NewSourceError(src, KindSchemaChange, fmt.Errorf(format, args...))
}
