package mergequeue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/go-github/v59/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/gobors/internal/event"
	"github.com/simplesurance/gobors/internal/githubclt"
	"github.com/simplesurance/gobors/internal/mergequeue/mocks"
	"github.com/simplesurance/gobors/internal/model"
	"github.com/simplesurance/gobors/internal/provider"
	"github.com/simplesurance/gobors/internal/provider/ci"
	"github.com/simplesurance/gobors/internal/retry"
	"github.com/simplesurance/gobors/internal/store/memory"
)

const condCheckInterval = 20 * time.Millisecond
const condWaitTimeout = 5 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type prIterator struct {
	prs []*github.PullRequest
}

func (it *prIterator) Next() (*github.PullRequest, error) {
	if len(it.prs) == 0 {
		return nil, nil
	}

	pr := it.prs[0]
	it.prs = it.prs[1:]

	return pr, nil
}

func newGithubPR(number int, headSHA, baseBranch string) *github.PullRequest {
	return &github.PullRequest{
		Number: github.Int(number),
		Title:  github.String("test pr"),
		User:   &github.User{Login: github.String("author")},
		Head:   &github.PullRequestBranch{SHA: github.String(headSHA)},
		Base:   &github.PullRequestBranch{Ref: github.String(baseBranch)},
	}
}

func newCommentEvent(number int, author, body string) *provider.Event {
	return &provider.Event{
		Provider:   provider.ProviderGithub,
		DeliveryID: "delivery",
		Type:       "issue_comment",
		Event: &github.IssueCommentEvent{
			Action: github.String("created"),
			Issue: &github.Issue{
				Number: github.Int(number),
				PullRequestLinks: &github.PullRequestLinks{
					URL: github.String("https://api.github.com/repos/testman/repo/pulls/1"),
				},
			},
			Comment: &github.IssueComment{
				Body: github.String(body),
				User: &github.User{Login: github.String(author)},
			},
			Repo: &github.Repository{
				Name:  github.String(testRepo.Name),
				Owner: &github.User{Login: github.String(testRepo.Owner)},
			},
		},
	}
}

func newCIEvent(buildID, status string) *provider.Event {
	return &provider.Event{
		Provider: provider.ProviderCI,
		Type:     "completion",
		Event: &ci.Completion{
			Repository: testRepo.String(),
			BuildID:    buildID,
			Status:     status,
		},
	}
}

type testEnv struct {
	mq       *MergeQueue
	ch       chan *provider.Event
	store    *memory.Store
	gh       *mocks.MockGithubClient
	preparer *mocks.MockCommitPreparer
	ci       *mocks.MockCIProvider
}

func newTestEnv(t *testing.T, repoCfg *RepositoryConfig) *testEnv {
	t.Helper()

	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)

	env := testEnv{
		ch:       make(chan *provider.Event),
		store:    memory.New(),
		gh:       mocks.NewMockGithubClient(mockctrl),
		preparer: mocks.NewMockCommitPreparer(mockctrl),
		ci:       mocks.NewMockCIProvider(mockctrl),
	}

	var err error
	env.mq, err = New(
		Config{
			Repositories:      []*RepositoryConfig{repoCfg},
			ReconcileInterval: time.Hour,
			CommandWorkers:    2,
		},
		env.ch,
		event.NewNormalizer(),
		env.store,
		env.gh,
		env.preparer,
		env.ci,
		WithRetryer(retry.NewRetryer(retry.WithInitialInterval(time.Millisecond))),
	)
	require.NoError(t, err)

	return &env
}

func (env *testEnv) stopOnCleanup(t *testing.T) {
	t.Cleanup(env.mq.Stop)
}

func (env *testEnv) waitForStatus(t *testing.T, number int, status model.Status) *model.PullRequest {
	t.Helper()

	var pr *model.PullRequest
	require.Eventuallyf(t, func() bool {
		var err error
		pr, err = env.store.GetPullRequest(context.Background(), model.PullRequestID{Repo: testRepo, Number: number})
		return err == nil && pr.Status == status
	}, condWaitTimeout, condCheckInterval, "pull request #%d did not become %s", number, status)

	return pr
}

func TestApprovedPullRequestIsBuiltAndMerged(t *testing.T) {
	env := newTestEnv(t, &RepositoryConfig{Repo: testRepo, Reviewers: []string{reviewer}})

	var comments atomic.Int32

	env.gh.EXPECT().
		ListPullRequests(gomock.Any(), testRepo.Owner, testRepo.Name, "open", "created", "asc").
		Return(&prIterator{prs: []*github.PullRequest{newGithubPR(1, "head1", "main")}})
	env.gh.EXPECT().
		BranchHead(gomock.Any(), testRepo.Owner, testRepo.Name, "main").
		Return("base1", nil)
	env.gh.EXPECT().
		PullRequestState(gomock.Any(), testRepo.Owner, testRepo.Name, 1).
		Return(&githubclt.PullRequestState{
			Number:     1,
			HeadSHA:    "head1",
			BaseBranch: "main",
			Open:       true,
			Mergeable:  model.MergeableStateMergeable,
		}, nil).
		MinTimes(1)
	env.gh.EXPECT().
		CreateIssueComment(gomock.Any(), testRepo.Owner, testRepo.Name, 1, gomock.Any()).
		DoAndReturn(func(context.Context, string, string, int, string) error {
			comments.Add(1)
			return nil
		}).
		AnyTimes()

	env.preparer.EXPECT().
		PrepareCommit(gomock.Any(), testRepo.Owner, testRepo.Name, DefaultAutoBranch, "base1",
			[]githubclt.MergeHead{{Number: 1, SHA: "head1"}}).
		Return("merge1", nil)
	env.ci.EXPECT().
		StartBuild(gomock.Any(), testRepo, DefaultAutoBranch, "merge1", "base1").
		Return("ext-1", nil)
	env.gh.EXPECT().
		FastForward(gomock.Any(), testRepo.Owner, testRepo.Name, "main", "merge1").
		Return(nil)

	env.mq.Start()
	t.Cleanup(env.mq.Stop)

	env.ch <- newCommentEvent(1, reviewer, "@bors r+")

	pr := env.waitForStatus(t, 1, model.StatusBuilding)
	require.NotNil(t, pr.BuildID)

	require.Eventually(t, func() bool {
		b, err := env.store.GetBuild(context.Background(), *pr.BuildID)
		return err == nil && b.Status == model.BuildStatusRunning && b.ExternalID == "ext-1"
	}, condWaitTimeout, condCheckInterval)

	env.ch <- newCIEvent("ext-1", "passed")

	env.waitForStatus(t, 1, model.StatusMerged)

	bb, err := env.store.GetBaseBranch(context.Background(), testRepo, "main")
	require.NoError(t, err)
	assert.Equal(t, "merge1", bb.SHA)

	b, err := env.store.GetBuild(context.Background(), *pr.BuildID)
	require.NoError(t, err)
	assert.Equal(t, model.BuildStatusSuccess, b.Status)

	// approved, testing, merged
	assert.Eventually(t, func() bool { return comments.Load() >= 3 }, condWaitTimeout, condCheckInterval)
}

func TestBuildStartFailureRequeuesPullRequest(t *testing.T) {
	env := newTestEnv(t, &RepositoryConfig{Repo: testRepo, Reviewers: []string{reviewer}})

	env.gh.EXPECT().
		ListPullRequests(gomock.Any(), testRepo.Owner, testRepo.Name, "open", "created", "asc").
		Return(&prIterator{prs: []*github.PullRequest{newGithubPR(1, "head1", "main")}})
	env.gh.EXPECT().
		BranchHead(gomock.Any(), testRepo.Owner, testRepo.Name, "main").
		Return("base1", nil)
	env.gh.EXPECT().
		PullRequestState(gomock.Any(), testRepo.Owner, testRepo.Name, 1).
		Return(&githubclt.PullRequestState{
			Number:     1,
			HeadSHA:    "head1",
			BaseBranch: "main",
			Open:       true,
			Mergeable:  model.MergeableStateMergeable,
		}, nil).
		AnyTimes()
	env.gh.EXPECT().
		CreateIssueComment(gomock.Any(), testRepo.Owner, testRepo.Name, 1, gomock.Any()).
		Return(nil).
		AnyTimes()

	env.preparer.EXPECT().
		PrepareCommit(gomock.Any(), testRepo.Owner, testRepo.Name, DefaultAutoBranch, "base1", gomock.Any()).
		Return("merge1", nil)

	started := make(chan struct{})
	env.ci.EXPECT().
		StartBuild(gomock.Any(), testRepo, DefaultAutoBranch, "merge1", "base1").
		DoAndReturn(func(context.Context, model.RepoID, string, string, string) (string, error) {
			close(started)
			return "", errors.New("pipeline definition is invalid")
		})

	env.mq.Start()
	t.Cleanup(env.mq.Stop)

	env.ch <- newCommentEvent(1, reviewer, "@bors r+")

	select {
	case <-started:
	case <-time.After(condWaitTimeout):
		t.Fatal("build was not started")
	}

	pr := env.waitForStatus(t, 1, model.StatusReady)
	require.NotNil(t, pr.BuildID)

	require.Eventually(t, func() bool {
		b, err := env.store.GetBuild(context.Background(), *pr.BuildID)
		return err == nil && b.Status == model.BuildStatusCancelled
	}, condWaitTimeout, condCheckInterval)

	active, err := env.store.ActiveBuilds(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestDispatchIsIdempotentPerCommit(t *testing.T) {
	env := newTestEnv(t, &RepositoryConfig{Repo: testRepo, Reviewers: []string{reviewer}})
	env.stopOnCleanup(t)
	q := env.mq.repos[testRepo]
	ctx := context.Background()

	env.gh.EXPECT().CreateIssueComment(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	pr := readyPR(1, 0)
	_, _, err := env.store.GetOrCreatePullRequest(ctx, pr)
	require.NoError(t, err)
	require.NoError(t, env.store.SetBaseBranchSHA(ctx, testRepo, "main", "base1"))

	heads := []githubclt.MergeHead{{Number: 1, SHA: pr.HeadSHA}}

	q.lock.Lock()
	res1 := q.newReservation(model.BuildKindAuto, DefaultAutoBranch, "main", "base1", heads)
	q.lock.Unlock()

	b1, err := q.attach(ctx, res1, "merge1")
	require.NoError(t, err)
	require.NotNil(t, b1)

	q.lock.Lock()
	assert.Empty(t, q.reservations)
	q.lock.Unlock()

	stored, err := env.store.GetPullRequest(ctx, pr.PullRequestID())
	require.NoError(t, err)
	assert.Equal(t, model.StatusBuilding, stored.Status)

	// a second dispatch of the same commit finds the pull request
	// Building and does not record another build
	q.lock.Lock()
	res2 := q.newReservation(model.BuildKindAuto, DefaultAutoBranch, "main", "base1", heads)
	q.lock.Unlock()

	b2, err := q.attach(ctx, res2, "merge1")
	require.Error(t, err)
	assert.Nil(t, b2)

	active, err := env.store.ActiveBuilds(ctx, testRepo)
	require.NoError(t, err)
	assert.Len(t, active, 1)

}

func TestSlotOccupancyIsRespected(t *testing.T) {
	env := newTestEnv(t, &RepositoryConfig{Repo: testRepo, Reviewers: []string{reviewer}, BuildSlots: 1})
	env.stopOnCleanup(t)
	q := env.mq.repos[testRepo]
	ctx := context.Background()

	for _, n := range []int{1, 2} {
		_, _, err := env.store.GetOrCreatePullRequest(ctx, readyPR(n, time.Duration(n)*time.Minute))
		require.NoError(t, err)
	}
	require.NoError(t, env.store.SetBaseBranchSHA(ctx, testRepo, "main", "base1"))

	res, err := q.reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, []int{1}, res.numbers())

	// the reservation occupies the only slot
	res2, err := q.reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, res2)

	q.release(res)

	res3, err := q.reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, res3)
	assert.Equal(t, []int{1}, res3.numbers())

	q.release(res3)
}

func TestConcurrentBuildsUseDistinctBranches(t *testing.T) {
	env := newTestEnv(t, &RepositoryConfig{Repo: testRepo, Reviewers: []string{reviewer}, BuildSlots: 3})
	env.stopOnCleanup(t)
	q := env.mq.repos[testRepo]
	ctx := context.Background()

	for _, n := range []int{1, 2, 3} {
		pr := readyPR(n, time.Duration(n)*time.Minute)
		pr.Rollup = model.RollupNever
		_, _, err := env.store.GetOrCreatePullRequest(ctx, pr)
		require.NoError(t, err)
	}
	require.NoError(t, env.store.SetBaseBranchSHA(ctx, testRepo, "main", "base1"))

	_, _, err := env.store.CreateBuild(ctx, &model.Build{
		Repo:      testRepo,
		Kind:      model.BuildKindAuto,
		Branch:    DefaultAutoBranch,
		CommitSHA: "running1",
		Parent:    "base1",
		Status:    model.BuildStatusRunning,
	})
	require.NoError(t, err)

	res1, err := q.reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, res1)

	res2, err := q.reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, res2)

	assert.Equal(t, DefaultAutoBranch+"-2", res1.branch)
	assert.Equal(t, DefaultAutoBranch+"-3", res2.branch)
	assert.Equal(t, []int{1}, res1.numbers())
	assert.Equal(t, []int{2}, res2.numbers())

	res3, err := q.reserve(ctx)
	require.NoError(t, err)
	assert.Nil(t, res3)

	q.release(res1)

	res4, err := q.reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, res4)
	assert.Equal(t, DefaultAutoBranch+"-2", res4.branch)

	q.release(res2)
	q.release(res4)
}

func TestApprovedPullRequestWithUnknownMergeableStateIsNotPolled(t *testing.T) {
	env := newTestEnv(t, &RepositoryConfig{Repo: testRepo, Reviewers: []string{reviewer}})
	env.stopOnCleanup(t)
	q := env.mq.repos[testRepo]
	ctx := context.Background()

	pr := openPR(1)
	pr.Status = model.StatusApproved
	pr.Approval = &model.Approval{Approver: reviewer, SHA: pr.HeadSHA}
	_, _, err := env.store.GetOrCreatePullRequest(ctx, pr)
	require.NoError(t, err)

	var calls atomic.Int32
	env.gh.EXPECT().
		PullRequestState(gomock.Any(), testRepo.Owner, testRepo.Name, 1).
		DoAndReturn(func(context.Context, string, string, int) (*githubclt.PullRequestState, error) {
			calls.Add(1)
			return &githubclt.PullRequestState{
				Number:     1,
				HeadSHA:    pr.HeadSHA,
				BaseBranch: "main",
				Open:       true,
				Mergeable:  model.MergeableStateUnknown,
			}, nil
		}).
		AnyTimes()

	q.enqueueEvents(ctx, &event.MergeableStateChanged{
		Meta:     event.Meta{Repo: testRepo, Number: 1},
		NewState: model.MergeableStateUnknown,
		HeadSHA:  pr.HeadSHA,
	})

	time.Sleep(300 * time.Millisecond)

	assert.LessOrEqual(t, calls.Load(), int32(1))

	stored := env.waitForStatus(t, 1, model.StatusApproved)
	assert.Equal(t, model.MergeableStateUnknown, stored.MergeableState)
}

func TestCheckFinishedResolvesBuildMembers(t *testing.T) {
	env := newTestEnv(t, &RepositoryConfig{Repo: testRepo, Reviewers: []string{reviewer}})
	env.stopOnCleanup(t)
	q := env.mq.repos[testRepo]
	ctx := context.Background()

	b, _, err := env.store.CreateBuild(ctx, &model.Build{
		Repo:      testRepo,
		Kind:      model.BuildKindAuto,
		Branch:    DefaultAutoBranch,
		CommitSHA: "merge1",
		Parent:    "base1",
		Status:    model.BuildStatusRunning,
	})
	require.NoError(t, err)

	for _, n := range []int{1, 2} {
		pr, _, err := env.store.GetOrCreatePullRequest(ctx, readyPR(n, time.Duration(n)*time.Minute))
		require.NoError(t, err)

		pr.Status = model.StatusBuilding
		pr.BuildID = &b.ID
		require.NoError(t, env.store.UpdatePullRequest(ctx, pr))
	}

	s := newSnapshot(testRepo, baseTime)
	require.NoError(t, q.resolve(ctx, s, &event.CheckFinished{
		Meta:    event.Meta{Repo: testRepo},
		Ref:     event.BuildRef{Branch: DefaultAutoBranch, CommitSHA: "merge1"},
		Outcome: model.BuildStatusSuccess,
	}))

	require.NotNil(t, s.builds[b.ID])
	assert.Equal(t, []int{1, 2}, numbersOf(s.members(b.ID)))
}

func TestEventsForUnmonitoredRepositoryAreIgnored(t *testing.T) {
	env := newTestEnv(t, &RepositoryConfig{Repo: testRepo, Reviewers: []string{reviewer}})

	env.stopOnCleanup(t)

	ev := newCommentEvent(1, reviewer, "@bors r+")
	ev.Event.(*github.IssueCommentEvent).Repo.Name = github.String("other")

	env.mq.processEvent(ev)

	_, err := env.store.GetPullRequest(context.Background(), model.PullRequestID{
		Repo:   model.RepoID{Owner: testRepo.Owner, Name: "other"},
		Number: 1,
	})
	assert.Error(t, err)
}

func TestDuplicateRepositoryConfigIsRejected(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	_, err := New(
		Config{Repositories: []*RepositoryConfig{{Repo: testRepo}, {Repo: testRepo}}},
		nil, event.NewNormalizer(), memory.New(), nil, nil, nil,
	)
	require.Error(t, err)
}
