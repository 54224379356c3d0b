//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/model"
)

func setupTestDB(t *testing.T) *Store {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	ctx := context.Background()

	container, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		tcpostgres.WithDatabase("gobors"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestStoreIntegration(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	for i := 1; i <= 3; i++ {
		pr := model.NewPullRequest(repo, i, "main")
		pr.HeadSHA = "head"
		_, created, err := s.GetOrCreatePullRequest(ctx, pr)
		require.NoError(t, err)
		require.True(t, created)
	}

	_, created, err := s.GetOrCreatePullRequest(ctx, model.NewPullRequest(repo, 1, "main"))
	require.NoError(t, err)
	assert.False(t, created)

	var tryBuild *model.Build
	err = s.InTx(ctx, func(ctx context.Context) error {
		var err error
		tryBuild, _, err = s.CreateBuild(ctx, &model.Build{
			Repo:      repo,
			Kind:      model.BuildKindTry,
			Branch:    "automation/bors/try/2",
			CommitSHA: "merge",
			Parent:    "base",
			Status:    model.BuildStatusPending,
		})
		if err != nil {
			return err
		}

		pr, err := s.GetPullRequest(ctx, model.PullRequestID{Repo: repo, Number: 2})
		if err != nil {
			return err
		}

		pr.Status = model.StatusTryBuilding
		pr.TryBuildID = &tryBuild.ID
		pr.Approval = &model.Approval{Approver: "reviewer", SHA: "head"}

		return s.UpdatePullRequest(ctx, pr)
	})
	require.NoError(t, err)

	again, created, err := s.CreateBuild(ctx, &model.Build{
		Repo:      repo,
		Kind:      model.BuildKindTry,
		Branch:    "automation/bors/try/2",
		CommitSHA: "merge",
		Parent:    "base",
		Status:    model.BuildStatusPending,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, tryBuild.ID, again.ID)

	// only one of 3 rows references the build
	pr, build, err := s.FindPullRequestByBuild(ctx, tryBuild.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, pr.Number)
	require.NotNil(t, pr.Approval)
	assert.Equal(t, "reviewer", pr.Approval.Approver)
	require.NotNil(t, build)
	assert.Equal(t, tryBuild.ID, build.ID)

	_, _, err = s.FindPullRequestByBuild(ctx, tryBuild.ID+1000)
	assert.ErrorIs(t, err, borserr.ErrNotFound)

	active, err := s.ActiveBuilds(ctx, repo)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	tryBuild.Status = model.BuildStatusSuccess
	tryBuild.ExternalID = "ext-1"
	require.NoError(t, s.UpdateBuild(ctx, tryBuild))

	active, err = s.ActiveBuilds(ctx, repo)
	require.NoError(t, err)
	assert.Empty(t, active)

	byExt, err := s.FindBuildByExternalID(ctx, repo, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, tryBuild.ID, byExt.ID)

	_, err = s.CreateWorkflow(ctx, &model.Workflow{
		BuildID: tryBuild.ID, Name: "ci", RunID: 1, Type: model.WorkflowTypeGithub, Status: model.WorkflowStatusPending,
	})
	require.NoError(t, err)

	_, err = s.CreateWorkflow(ctx, &model.Workflow{
		BuildID: tryBuild.ID, Name: "ci", RunID: 1, Type: model.WorkflowTypeGithub, Status: model.WorkflowStatusPending,
	})
	assert.ErrorIs(t, err, borserr.ErrAlreadyExists)

	require.NoError(t, s.SetBaseBranchSHA(ctx, repo, "main", "abc"))
	require.NoError(t, s.SetBaseBranchSHA(ctx, repo, "main", "def"))
	bb, err := s.GetBaseBranch(ctx, repo, "main")
	require.NoError(t, err)
	assert.Equal(t, "def", bb.SHA)

	ready, err := s.ListPullRequests(ctx, repo, model.StatusOpen)
	require.NoError(t, err)
	assert.Len(t, ready, 2)
}

func TestApprovalColumnsAreSetTogether(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	const insert = `INSERT INTO pull_request
		(repository, number, base_branch, status, approved_by, approved_sha, mergeable_state, rollup)
		VALUES ($1, $2, 'main', 'approved', $3, $4, 'unknown', 'maybe')`

	_, err := s.db.ExecContext(ctx, insert, repo.String(), 1, "reviewer", nil)
	require.Error(t, err)

	_, err = s.db.ExecContext(ctx, insert, repo.String(), 2, nil, "head")
	require.Error(t, err)

	_, err = s.db.ExecContext(ctx, insert, repo.String(), 3, "reviewer", "head")
	require.NoError(t, err)

	pr, err := s.GetPullRequest(ctx, model.PullRequestID{Repo: repo, Number: 3})
	require.NoError(t, err)
	require.NotNil(t, pr.Approval)
	assert.Equal(t, "head", pr.Approval.SHA)
}
