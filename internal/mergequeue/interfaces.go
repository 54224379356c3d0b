package mergequeue

import (
	"context"

	"github.com/simplesurance/gobors/internal/githubclt"
	"github.com/simplesurance/gobors/internal/model"
)

//go:generate mockgen -destination mocks/mocks.go -package mocks . GithubClient,CommitPreparer,CIProvider

// GithubClient is the GitHub API used as command sink and to query the state
// of pull requests.
type GithubClient interface {
	CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error
	PullRequestState(ctx context.Context, owner, repo string, number int) (*githubclt.PullRequestState, error)
	ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) githubclt.PRIterator
	BranchHead(ctx context.Context, owner, repo, branch string) (string, error)
	// FastForward moves branch to sha. If it is not a fast-forward
	// githubclt.ErrNotFastForward is returned.
	FastForward(ctx context.Context, owner, repo, branch, sha string) error
}

// CommitPreparer creates the commit that a build tests.
type CommitPreparer interface {
	// PrepareCommit creates a commit by merging heads in order into
	// baseSHA on branch and returns the SHA of the resulting commit.
	// If a head can not be merged a *githubclt.MergeConflictError is
	// returned.
	PrepareCommit(ctx context.Context, owner, repo, branch, baseSHA string, heads []githubclt.MergeHead) (string, error)
}

// CIProvider starts and cancels builds.
type CIProvider interface {
	// StartBuild starts a build of sha on branch and returns the ID
	// of the build at the CI provider.
	StartBuild(ctx context.Context, repo model.RepoID, branch, sha, parent string) (string, error)
	CancelBuild(ctx context.Context, repo model.RepoID, buildID string) error
}

// Store persists pull requests and builds.
type Store interface {
	// InTx runs fn in a transaction. Store operations that are called
	// with the context passed to fn are part of the transaction.
	// If fn returns an error the transaction is rolled back.
	InTx(ctx context.Context, fn func(context.Context) error) error

	// GetOrCreatePullRequest returns the stored pull request with the
	// repository and number of pr, if it does not exist pr is stored.
	GetOrCreatePullRequest(ctx context.Context, pr *model.PullRequest) (_ *model.PullRequest, created bool, _ error)
	GetPullRequest(ctx context.Context, id model.PullRequestID) (*model.PullRequest, error)
	UpdatePullRequest(ctx context.Context, pr *model.PullRequest) error
	// ListPullRequests returns the pull requests of a repository, if
	// statuses are passed, only the ones with one of the statuses.
	ListPullRequests(ctx context.Context, repo model.RepoID, statuses ...model.Status) ([]*model.PullRequest, error)
	// FindPullRequestByBuild returns the pull request that references
	// buildID as try build, together with the build.
	// The returned build is nil if the build row does not exist.
	FindPullRequestByBuild(ctx context.Context, buildID int64) (*model.PullRequest, *model.Build, error)
	// PullRequestsByBuild returns the pull requests that reference
	// buildID as merge build.
	PullRequestsByBuild(ctx context.Context, buildID int64) ([]*model.PullRequest, error)

	// CreateBuild stores b, if a build for the same repository, branch
	// and commit exists, the existing build is returned and created is
	// false.
	CreateBuild(ctx context.Context, b *model.Build) (_ *model.Build, created bool, _ error)
	GetBuild(ctx context.Context, id int64) (*model.Build, error)
	FindBuild(ctx context.Context, repo model.RepoID, branch, commitSHA string) (*model.Build, error)
	FindBuildByExternalID(ctx context.Context, repo model.RepoID, externalID string) (*model.Build, error)
	UpdateBuild(ctx context.Context, b *model.Build) error
	// ActiveBuilds returns the builds of the repository in pending or
	// running state.
	ActiveBuilds(ctx context.Context, repo model.RepoID) ([]*model.Build, error)

	GetBaseBranch(ctx context.Context, repo model.RepoID, branch string) (*model.BaseBranch, error)
	SetBaseBranchSHA(ctx context.Context, repo model.RepoID, branch, sha string) error

	CreateWorkflow(ctx context.Context, w *model.Workflow) (*model.Workflow, error)
	UpdateWorkflowStatus(ctx context.Context, buildID, runID int64, status model.WorkflowStatus) error
	WorkflowsForBuild(ctx context.Context, buildID int64) ([]*model.Workflow, error)
}
