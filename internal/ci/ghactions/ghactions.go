// Package ghactions runs builds with GitHub Actions.
//
// Workflows are triggered by the push of the build commit to the build
// branch, that is done when the commit is prepared. Starting a build only
// verifies that the branch points to the commit.
// The result of a build is reported via check_suite webhook events.
package ghactions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/simplesurance/gobors/internal/githubclt"
	"github.com/simplesurance/gobors/internal/logfields"
	"github.com/simplesurance/gobors/internal/model"
)

const loggerName = "ci.ghactions"

type GithubClient interface {
	BranchHead(ctx context.Context, owner, repo, branch string) (string, error)
	WorkflowRuns(ctx context.Context, owner, repo, branch, sha string) ([]*githubclt.WorkflowRun, error)
	CancelWorkflowRun(ctx context.Context, owner, repo string, runID int64) error
}

type Provider struct {
	clt    GithubClient
	logger *zap.Logger
}

func New(clt GithubClient) *Provider {
	return &Provider{
		clt:    clt,
		logger: zap.L().Named(loggerName),
	}
}

func buildID(branch, sha string) string {
	return branch + "@" + sha
}

func parseBuildID(id string) (branch, sha string, err error) {
	idx := strings.LastIndex(id, "@")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", fmt.Errorf("build id %q is not in the format <branch>@<sha>", id)
	}

	return id[:idx], id[idx+1:], nil
}

// StartBuild returns the build id "<branch>@<sha>". It fails if branch does not
// point to sha.
func (p *Provider) StartBuild(ctx context.Context, repo model.RepoID, branch, sha, _ string) (string, error) {
	head, err := p.clt.BranchHead(ctx, repo.Owner, repo.Name, branch)
	if err != nil {
		return "", fmt.Errorf("retrieving head of branch %q failed: %w", branch, err)
	}

	if head != sha {
		return "", fmt.Errorf("branch %q points to %s instead of %s", branch, head, sha)
	}

	id := buildID(branch, sha)

	p.logger.Debug("build is running via github actions",
		append(repo.LogFields(),
			logfields.Event("ghactions_build_started"),
			logfields.BuildExternalID(id),
		)...,
	)

	return id, nil
}

// CancelBuild cancels all workflow runs of the build that did not complete yet.
func (p *Provider) CancelBuild(ctx context.Context, repo model.RepoID, id string) error {
	branch, sha, err := parseBuildID(id)
	if err != nil {
		return err
	}

	runs, err := p.clt.WorkflowRuns(ctx, repo.Owner, repo.Name, branch, sha)
	if err != nil {
		return fmt.Errorf("listing workflow runs failed: %w", err)
	}

	var errs []error
	for _, run := range runs {
		if run.Status == "completed" {
			continue
		}

		if err := p.clt.CancelWorkflowRun(ctx, repo.Owner, repo.Name, run.ID); err != nil {
			errs = append(errs, fmt.Errorf("cancelling workflow run %d (%s) failed: %w", run.ID, run.Name, err))
			continue
		}

		p.logger.Info("workflow run cancelled",
			append(repo.LogFields(),
				logfields.Event("ghactions_workflow_run_cancelled"),
				logfields.BuildExternalID(id),
				zap.Int64("workflow.run_id", run.ID),
				zap.String("workflow.name", run.Name),
			)...,
		)
	}

	return errors.Join(errs...)
}
