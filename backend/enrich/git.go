package enrich

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/maypok86/otter"

	"github.com/Waridley/crumbeez/shared"
)

const maxDirtyPaths = 20

type repoState struct {
	head   string
	branch string
	dirty  []string
}

// GitProvider reports the repository state around the summarized activity:
// HEAD, branch and modified paths. Lookups are cached briefly per repo root
// so back-to-back summarizations don't re-walk the worktree.
type GitProvider struct {
	cache otter.Cache[string, repoState]
}

func NewGitProvider() (*GitProvider, error) {
	cache, err := otter.MustBuilder[string, repoState](64).
		WithTTL(30 * time.Second).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build git state cache: %w", err)
	}
	return &GitProvider{cache: cache}, nil
}

func (p *GitProvider) Name() string {
	return "git"
}

func (p *GitProvider) Fetch(ctx context.Context, keys Keys) (*Bundle, error) {
	if keys.RepoRoot == "" {
		return nil, shared.Errorf(shared.ErrorKindContextUnavailable, "no repository root in context keys")
	}
	if err := ctx.Err(); err != nil {
		return nil, shared.Wrap(shared.ErrorKindContextUnavailable, err, "git context fetch canceled")
	}

	state, ok := p.cache.Get(keys.RepoRoot)
	if !ok {
		var err error
		state, err = readRepoState(keys.RepoRoot)
		if err != nil {
			return nil, err
		}
		p.cache.Set(keys.RepoRoot, state)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "repo: %s\n", keys.RepoRoot)
	fmt.Fprintf(&sb, "branch: %s @ %s\n", state.branch, state.head)
	if len(state.dirty) > 0 {
		fmt.Fprintf(&sb, "modified: %s\n", strings.Join(state.dirty, ", "))
	}
	if keys.CommitHash != "" && !strings.HasPrefix(state.head, keys.CommitHash) {
		fmt.Fprintf(&sb, "recorded commit: %s\n", keys.CommitHash)
	}

	return &Bundle{Provider: p.Name(), Content: strings.TrimRight(sb.String(), "\n")}, nil
}

func readRepoState(root string) (repoState, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return repoState{}, shared.Wrap(shared.ErrorKindContextUnavailable, err, "failed to open repository at %s", root)
	}

	head, err := repo.Head()
	if err != nil {
		return repoState{}, shared.Wrap(shared.ErrorKindContextUnavailable, err, "failed to resolve HEAD at %s", root)
	}

	state := repoState{
		head:   head.Hash().String()[:12],
		branch: head.Name().Short(),
	}

	worktree, err := repo.Worktree()
	if err != nil {
		// Bare repository: head and branch are still useful context.
		return state, nil
	}
	status, err := worktree.Status()
	if err != nil {
		return state, nil
	}
	for path, fileStatus := range status {
		if fileStatus.Worktree == git.Unmodified && fileStatus.Staging == git.Unmodified {
			continue
		}
		state.dirty = append(state.dirty, path)
	}
	sort.Strings(state.dirty)
	if len(state.dirty) > maxDirtyPaths {
		state.dirty = state.dirty[:maxDirtyPaths]
	}
	return state, nil
}
