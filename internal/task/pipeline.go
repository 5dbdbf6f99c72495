package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/imageworks-api/internal/domain"
)

// TerminalError marks a pipeline failure that must never be retried:
// malformed input, unsupported format, a definitive "not found" from the
// lookup service. Any pipeline error not wrapped in TerminalError is
// treated as retryable and consumes an attempt.
type TerminalError struct {
	Err error
}

// Error implements the error interface for TerminalError.
func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal failure: %v", e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TerminalError) Unwrap() error {
	return e.Err
}

// Terminal wraps err as a terminal pipeline failure. Returns nil for nil.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err is (or wraps) a terminal pipeline failure.
func IsTerminal(err error) bool {
	var terminal *TerminalError
	return errors.As(err, &terminal)
}

// Pipeline is the per-kind processing variant. It receives the claimed job,
// transforms its input, and returns the blob handle of the produced result.
// Failures are classified through Terminal: wrapped errors short-circuit to
// failed, everything else is redelivered up to the attempt ceiling.
// Version: 1.0
type Pipeline interface {
	// Kind returns the job kind this pipeline processes.
	Kind() domain.JobKind

	// Process executes the transformation for the given job and returns
	// the result blob handle.
	Process(ctx context.Context, job *domain.Job) (string, error)
}

// Registry holds the closed set of pipelines, dispatched by job kind.
type Registry struct {
	pipelines map[domain.JobKind]Pipeline
}

// NewRegistry creates a registry from the given pipelines.
// Panics on duplicate kinds: that is a wiring bug, not a runtime condition.
func NewRegistry(pipelines ...Pipeline) *Registry {
	r := &Registry{pipelines: make(map[domain.JobKind]Pipeline, len(pipelines))}
	for _, p := range pipelines {
		if _, dup := r.pipelines[p.Kind()]; dup {
			panic(fmt.Sprintf("duplicate pipeline registered for kind %q", p.Kind()))
		}
		r.pipelines[p.Kind()] = p
	}
	return r
}

// Get returns the pipeline for the given kind, or an error if none is
// registered.
func (r *Registry) Get(kind domain.JobKind) (Pipeline, error) {
	p, ok := r.pipelines[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no pipeline for kind %q", domain.ErrInvalidJobKind, kind)
	}
	return p, nil
}
