// Package summarizer defines the summarization backend capability and its
// known implementations: Anthropic and DeepSeek against their cloud APIs, a
// local OpenAI-compatible server, and a deterministic no-op formatter.
// Selection is by configuration, not plugin discovery.
package summarizer

import (
	"context"
	"fmt"
	"time"

	"github.com/Waridley/crumbeez/backend/event"
)

// EventLine is one member event of the task being summarized, pre-rendered
// by the orchestrator's digest builder.
type EventLine struct {
	SequenceID uint64
	Timestamp  time.Time
	Kind       event.Kind
	Text       string
	// Count > 1 means a collapsed run of identical low-value events.
	Count int
	// CarriedOver marks events folded in from a prior task on the key that
	// produced no summary of its own.
	CarriedOver bool
}

// Request is the bounded summarization input: a textual digest for narrative
// backends, the structured event lines for the no-op formatter, and whatever
// enrichment context the providers produced.
type Request struct {
	Key         string
	WindowStart time.Time
	WindowEnd   time.Time
	Digest      string
	Events      []EventLine
	Context     map[string]string
}

type Backend interface {
	Name() string
	Summarize(ctx context.Context, req *Request) (string, error)
}

type ErrorKind string

const (
	ErrorKindInvalidRequest    ErrorKind = "invalid_request"
	ErrorKindRateLimitExceeded ErrorKind = "rate_limit_exceeded"
	ErrorKindOverloaded        ErrorKind = "overloaded"
	ErrorKindInternal          ErrorKind = "internal"
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindCanceled          ErrorKind = "canceled"
	ErrorKindUnknown           ErrorKind = "unknown"
)

type BackendError struct {
	Backend    string
	Kind       ErrorKind
	RetryAfter time.Duration
	Err        error
}

func NewBackendError(backend string, kind ErrorKind, err error) *BackendError {
	return &BackendError{
		Backend: backend,
		Kind:    kind,
		Err:     err,
	}
}

func (be *BackendError) Retryable() bool {
	switch be.Kind {
	case ErrorKindRateLimitExceeded,
		ErrorKindOverloaded,
		ErrorKindTimeout,
		ErrorKindInternal:
		return true
	default:
		return false
	}
}

func (be *BackendError) Error() string {
	if be.Err != nil {
		return fmt.Sprintf("%s: %s: %s", be.Backend, be.Kind, be.Err.Error())
	}
	return fmt.Sprintf("%s: %s", be.Backend, be.Kind)
}

func (be *BackendError) Unwrap() error {
	return be.Err
}

const systemPrompt = `You are summarizing a developer's terminal activity.
You receive a digest of semantic events (file edits, commands, test and
build results, commits) from one pane of a terminal workspace, possibly with
repository context. Write a short narrative of what was worked on and how it
ended. Events tagged "carried over" come from an earlier slice of work that
was recorded but never summarized; fold them in. Do not invent activity that
is not in the digest.`
