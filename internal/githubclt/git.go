package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/logfields"
)

// ErrNotFastForward is returned when a branch can not be fast-forwarded to a
// commit because the commit does not contain the current head of the branch.
var ErrNotFastForward = errors.New("update is not a fast-forward")

// MergeHead is the head commit of a pull request that is merged into a build
// commit.
type MergeHead struct {
	Number int
	SHA    string
}

// MergeConflictError is returned when a pull request can not be merged.
type MergeConflictError struct {
	// Index is the position of the conflicting head in the list of heads
	// passed to PrepareCommit.
	Index  int
	Number int
	Err    error
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merging pull request #%d failed: merge conflict: %s", e.Number, e.Err)
}

func (e *MergeConflictError) Unwrap() error {
	return e.Err
}

func branchRef(branch string) string {
	return "heads/" + branch
}

// BranchHead returns the SHA of the commit that branch points to.
// If the branch does not exist an error wrapping borserr.ErrNotFound is
// returned.
func (clt *Client) BranchHead(ctx context.Context, owner, repo, branch string) (string, error) {
	ref, _, err := clt.restClt.Git.GetRef(ctx, owner, repo, branchRef(branch))
	if err != nil {
		if _, ok := isHTTPStatus(err, http.StatusNotFound); ok {
			return "", fmt.Errorf("branch %q: %w", branch, borserr.ErrNotFound)
		}

		return "", clt.wrapRetryableErrors(err)
	}

	sha := ref.GetObject().GetSHA()
	if sha == "" {
		return "", fmt.Errorf("github returned an empty sha for branch %q", branch)
	}

	return sha, nil
}

// FastForward updates branch to sha. If the branch can not be fast-forwarded
// an error wrapping ErrNotFastForward is returned.
func (clt *Client) FastForward(ctx context.Context, owner, repo, branch, sha string) error {
	_, _, err := clt.restClt.Git.UpdateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String(branchRef(branch)),
		Object: &github.GitObject{SHA: github.String(sha)},
	}, false)
	if err != nil {
		if respErr, ok := isHTTPStatus(err, http.StatusUnprocessableEntity); ok {
			if strings.Contains(strings.ToLower(respErr.Message), "fast forward") {
				return fmt.Errorf("%w: %w", ErrNotFastForward, err)
			}
		}

		return clt.wrapRetryableErrors(err)
	}

	return nil
}

// SetBranch points branch to sha, the branch is created if it does not exist.
// The branch is force-updated.
func (clt *Client) SetBranch(ctx context.Context, owner, repo, branch, sha string) error {
	_, _, err := clt.restClt.Git.UpdateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String(branchRef(branch)),
		Object: &github.GitObject{SHA: github.String(sha)},
	}, true)
	if err == nil {
		return nil
	}

	respErr, ok := isHTTPStatus(err, http.StatusUnprocessableEntity)
	if !ok || !strings.Contains(strings.ToLower(respErr.Message), "does not exist") {
		return clt.wrapRetryableErrors(err)
	}

	_, _, err = clt.restClt.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.String(sha)},
	})
	if err != nil {
		return clt.wrapRetryableErrors(err)
	}

	clt.logger.Debug("branch created",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Branch(branch),
		logfields.Commit(sha),
	)

	return nil
}

// PrepareCommit merges heads in order into baseSHA and points branch to the
// resulting commit.
// The merges are done on the temporary branch "<branch>.tmp", branch is only
// updated when all heads were merged, CI jobs that run on pushes to branch
// are only triggered once.
// If a head can not be merged a *MergeConflictError is returned.
func (clt *Client) PrepareCommit(ctx context.Context, owner, repo, branch, baseSHA string, heads []MergeHead) (string, error) {
	if len(heads) == 0 {
		return "", errors.New("no heads to merge")
	}

	tmpBranch := branch + ".tmp"

	logger := clt.logger.With(
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Branch(branch),
		logfields.Commit(baseSHA),
	)

	if err := clt.SetBranch(ctx, owner, repo, tmpBranch, baseSHA); err != nil {
		return "", fmt.Errorf("resetting %q to %s failed: %w", tmpBranch, baseSHA, err)
	}

	sha := baseSHA
	for i, head := range heads {
		msg := fmt.Sprintf("Merge pull request #%d\n\ncommit: %s", head.Number, head.SHA)
		commit, _, err := clt.restClt.Repositories.Merge(ctx, owner, repo, &github.RepositoryMergeRequest{
			Base:          github.String(tmpBranch),
			Head:          github.String(head.SHA),
			CommitMessage: github.String(msg),
		})
		if err != nil {
			if _, ok := isHTTPStatus(err, http.StatusConflict); ok {
				return "", &MergeConflictError{Index: i, Number: head.Number, Err: err}
			}

			return "", clt.wrapRetryableErrors(err)
		}

		// commit is nil when the head is already part of the branch
		if commit != nil && commit.GetSHA() != "" {
			sha = commit.GetSHA()
		}

		logger.Debug("merged pull request into temporary branch",
			logfields.PullRequest(head.Number),
			zap.String("merge_commit", sha),
		)
	}

	if err := clt.SetBranch(ctx, owner, repo, branch, sha); err != nil {
		return "", fmt.Errorf("updating %q to %s failed: %w", branch, sha, err)
	}

	return sha, nil
}
