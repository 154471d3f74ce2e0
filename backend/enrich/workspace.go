package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/Waridley/crumbeez/shared"
)

const maxWorkspaceFiles = 20

// WorkspaceProvider reports current on-disk state (size, modification time)
// of the files the task touched, so the summary can distinguish files that
// still exist from ones that were edited and removed again.
type WorkspaceProvider struct {
	fs *afero.Afero
}

func NewWorkspaceProvider(fs *afero.Afero) *WorkspaceProvider {
	return &WorkspaceProvider{fs: fs}
}

func (p *WorkspaceProvider) Name() string {
	return "workspace"
}

func (p *WorkspaceProvider) Fetch(ctx context.Context, keys Keys) (*Bundle, error) {
	if len(keys.Files) == 0 {
		return nil, shared.Errorf(shared.ErrorKindContextUnavailable, "no files in context keys")
	}
	if err := ctx.Err(); err != nil {
		return nil, shared.Wrap(shared.ErrorKindContextUnavailable, err, "workspace context fetch canceled")
	}

	files := keys.Files
	if len(files) > maxWorkspaceFiles {
		files = files[:maxWorkspaceFiles]
	}

	var sb strings.Builder
	for _, path := range files {
		info, err := p.fs.Stat(path)
		if err != nil {
			fmt.Fprintf(&sb, "%s: gone\n", path)
			continue
		}
		fmt.Fprintf(&sb, "%s: %d bytes, modified %s\n",
			path, info.Size(), info.ModTime().UTC().Format(time.RFC3339))
	}

	return &Bundle{Provider: p.Name(), Content: strings.TrimRight(sb.String(), "\n")}, nil
}
