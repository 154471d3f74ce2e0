// Package enrich implements the context providers consulted at
// summarization time. Provider failures are non-fatal by contract: the
// orchestrator records "context unavailable" and proceeds.
package enrich

import (
	"context"
)

// Keys names what the task being summarized touched. Any field may be
// empty; providers must cope with partial keys.
type Keys struct {
	RepoRoot   string
	Files      []string
	CommitHash string
}

// Bundle is one provider's enrichment, pre-rendered for digest inclusion.
type Bundle struct {
	Provider string
	Content  string
}

type Provider interface {
	Name() string
	Fetch(ctx context.Context, keys Keys) (*Bundle, error)
}
