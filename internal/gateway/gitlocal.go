package gateway

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"driftd/internal/signal"
)

// LocalGitProvider serves live git payloads from a local checkout by
// shelling out to git. It only answers for the git source; drift signals
// from chat/ticket/support systems come from external providers.
type LocalGitProvider struct {
	RepoPath  string
	RepoName  string
	BaseRef   string
	ProjectID string
}

func (p *LocalGitProvider) Fetch(ctx context.Context, src signal.Source) ([]signal.RawPayload, error) {
	if src != signal.SourceGit {
		return nil, fmt.Errorf("local git provider cannot serve source %q", src)
	}

	baseRef := p.BaseRef
	if baseRef == "" {
		baseRef = "HEAD"
	}

	diffCmd := exec.CommandContext(ctx, "git", "-C", p.RepoPath, "diff", "-U0", baseRef)
	diff, err := diffCmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff failed: %w", err)
	}
	if len(strings.TrimSpace(string(diff))) == 0 {
		return nil, nil
	}

	shaCmd := exec.CommandContext(ctx, "git", "-C", p.RepoPath, "rev-parse", "HEAD")
	shaOut, err := shaCmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git rev-parse failed: %w", err)
	}

	return []signal.RawPayload{{
		Source:    signal.SourceGit,
		Timestamp: time.Now().UTC(),
		ProjectID: p.ProjectID,
		Repo:      p.RepoName,
		SHA:       strings.TrimSpace(string(shaOut)),
		Diff:      string(diff),
	}}, nil
}
