package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/model"
)

var repo = model.RepoID{Owner: "testman", Name: "repo"}

func TestGetOrCreatePullRequest(t *testing.T) {
	ctx := context.Background()
	s := New()

	pr, created, err := s.GetOrCreatePullRequest(ctx, model.NewPullRequest(repo, 1, "main"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, pr.ID)

	pr.Title = "changed"
	again, created, err := s.GetOrCreatePullRequest(ctx, pr)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, pr.ID, again.ID)
	assert.Empty(t, again.Title, "existing record must not be overwritten")
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	pr, _, err := s.GetOrCreatePullRequest(ctx, model.NewPullRequest(repo, 1, "main"))
	require.NoError(t, err)

	pr.Status = model.StatusMerged

	stored, err := s.GetPullRequest(ctx, pr.PullRequestID())
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, stored.Status)
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	s := New()

	pr, _, err := s.GetOrCreatePullRequest(ctx, model.NewPullRequest(repo, 1, "main"))
	require.NoError(t, err)

	errAbort := errors.New("abort")

	err = s.InTx(ctx, func(ctx context.Context) error {
		pr.Status = model.StatusApproved
		require.NoError(t, s.UpdatePullRequest(ctx, pr))

		_, _, err := s.CreateBuild(ctx, &model.Build{Repo: repo, Branch: "b", CommitSHA: "c", Status: model.BuildStatusPending})
		require.NoError(t, err)

		_, _, err = s.GetOrCreatePullRequest(ctx, model.NewPullRequest(repo, 2, "main"))
		require.NoError(t, err)

		require.NoError(t, s.SetBaseBranchSHA(ctx, repo, "main", "abc"))

		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	stored, err := s.GetPullRequest(ctx, pr.PullRequestID())
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, stored.Status)

	_, err = s.FindBuild(ctx, repo, "b", "c")
	assert.ErrorIs(t, err, borserr.ErrNotFound)

	_, err = s.GetPullRequest(ctx, model.PullRequestID{Repo: repo, Number: 2})
	assert.ErrorIs(t, err, borserr.ErrNotFound)

	_, err = s.GetBaseBranch(ctx, repo, "main")
	assert.ErrorIs(t, err, borserr.ErrNotFound)
}

func TestCreateBuildIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	b1, created, err := s.CreateBuild(ctx, &model.Build{Repo: repo, Branch: "auto", CommitSHA: "c1", Status: model.BuildStatusPending})
	require.NoError(t, err)
	assert.True(t, created)

	b2, created, err := s.CreateBuild(ctx, &model.Build{Repo: repo, Branch: "auto", CommitSHA: "c1", Status: model.BuildStatusPending})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, b1.ID, b2.ID)

	active, err := s.ActiveBuilds(ctx, repo)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestFindPullRequestByBuild(t *testing.T) {
	ctx := context.Background()
	s := New()

	for i := 1; i <= 3; i++ {
		_, _, err := s.GetOrCreatePullRequest(ctx, model.NewPullRequest(repo, i, "main"))
		require.NoError(t, err)
	}

	b, _, err := s.CreateBuild(ctx, &model.Build{Repo: repo, Kind: model.BuildKindTry, Branch: "try", CommitSHA: "c", Status: model.BuildStatusRunning})
	require.NoError(t, err)

	pr, err := s.GetPullRequest(ctx, model.PullRequestID{Repo: repo, Number: 2})
	require.NoError(t, err)
	pr.TryBuildID = &b.ID
	require.NoError(t, s.UpdatePullRequest(ctx, pr))

	found, build, err := s.FindPullRequestByBuild(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, found.Number)
	require.NotNil(t, build)
	assert.Equal(t, b.ID, build.ID)

	_, _, err = s.FindPullRequestByBuild(ctx, 4711)
	assert.ErrorIs(t, err, borserr.ErrNotFound)
}

func TestWorkflows(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.CreateWorkflow(ctx, &model.Workflow{BuildID: 1, RunID: 10, Name: "ci", Status: model.WorkflowStatusPending})
	require.NoError(t, err)

	_, err = s.CreateWorkflow(ctx, &model.Workflow{BuildID: 1, RunID: 10, Name: "ci", Status: model.WorkflowStatusPending})
	assert.ErrorIs(t, err, borserr.ErrAlreadyExists)

	require.NoError(t, s.UpdateWorkflowStatus(ctx, 1, 10, model.WorkflowStatusSuccess))

	wfs, err := s.WorkflowsForBuild(ctx, 1)
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	assert.Equal(t, model.WorkflowStatusSuccess, wfs[0].Status)

	assert.ErrorIs(t, s.UpdateWorkflowStatus(ctx, 1, 11, model.WorkflowStatusSuccess), borserr.ErrNotFound)
}
