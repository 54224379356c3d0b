// Package memory provides an in-memory store for pull requests and builds.
// It is used in tests and when gobors runs without a database, the state is
// lost when the process terminates.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/model"
)

type buildKey struct {
	repo      model.RepoID
	branch    string
	commitSHA string
}

type baseBranchKey struct {
	repo   model.RepoID
	branch string
}

type txKey struct{}

// tx records how to revert the writes done in a transaction.
type tx struct {
	undo []func()
}

// Store is an in-memory store.
// Transactions are serialized, writes of a transaction are reverted when it
// fails.
type Store struct {
	txLock sync.Mutex

	mu           sync.Mutex
	prs          map[model.PullRequestID]*model.PullRequest
	builds       map[int64]*model.Build
	buildKeys    map[buildKey]int64
	baseBranches map[baseBranchKey]*model.BaseBranch
	workflows    map[int64]*model.Workflow

	lastPRID       int64
	lastBuildID    int64
	lastWorkflowID int64

	now func() time.Time
}

type Option func(*Store)

// WithClock sets the function that provides the creation and update
// timestamps of records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := Store{
		prs:          map[model.PullRequestID]*model.PullRequest{},
		builds:       map[int64]*model.Build{},
		buildKeys:    map[buildKey]int64{},
		baseBranches: map[baseBranchKey]*model.BaseBranch{},
		workflows:    map[int64]*model.Workflow{},
		now:          time.Now,
	}

	for _, o := range opts {
		o(&s)
	}

	return &s
}

func (s *Store) InTx(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*tx); ok {
		return fn(ctx)
	}

	s.txLock.Lock()
	defer s.txLock.Unlock()

	t := &tx{}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		s.mu.Lock()
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		s.mu.Unlock()

		return err
	}

	return nil
}

// recordUndo registers fn to be run when the transaction in ctx is rolled
// back. s.mu must be held.
func recordUndo(ctx context.Context, fn func()) {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		t.undo = append(t.undo, fn)
	}
}

func (s *Store) GetOrCreatePullRequest(ctx context.Context, pr *model.PullRequest) (*model.PullRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := pr.PullRequestID()
	if existing, exists := s.prs[id]; exists {
		return existing.Clone(), false, nil
	}

	now := s.now()
	s.lastPRID++

	n := pr.Clone()
	n.ID = s.lastPRID
	n.CreatedAt = now
	n.UpdatedAt = now
	s.prs[id] = n

	recordUndo(ctx, func() { delete(s.prs, id) })

	return n.Clone(), true, nil
}

func (s *Store) GetPullRequest(_ context.Context, id model.PullRequestID) (*model.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr, exists := s.prs[id]
	if !exists {
		return nil, fmt.Errorf("pull request %s: %w", id, borserr.ErrNotFound)
	}

	return pr.Clone(), nil
}

func (s *Store) UpdatePullRequest(ctx context.Context, pr *model.PullRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := pr.PullRequestID()
	old, exists := s.prs[id]
	if !exists {
		return fmt.Errorf("pull request %s: %w", id, borserr.ErrNotFound)
	}

	n := pr.Clone()
	n.ID = old.ID
	n.CreatedAt = old.CreatedAt
	n.UpdatedAt = s.now()
	s.prs[id] = n

	recordUndo(ctx, func() { s.prs[id] = old })

	return nil
}

func sortPullRequests(prs []*model.PullRequest) {
	slices.SortFunc(prs, func(a, b *model.PullRequest) int {
		return a.Number - b.Number
	})
}

func (s *Store) ListPullRequests(_ context.Context, repo model.RepoID, statuses ...model.Status) ([]*model.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*model.PullRequest
	for _, pr := range s.prs {
		if pr.Repo != repo {
			continue
		}

		if len(statuses) > 0 && !slices.Contains(statuses, pr.Status) {
			continue
		}

		result = append(result, pr.Clone())
	}

	sortPullRequests(result)

	return result, nil
}

func (s *Store) FindPullRequestByBuild(_ context.Context, buildID int64) (*model.PullRequest, *model.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *model.PullRequest
	for _, pr := range s.prs {
		if pr.TryBuildID == nil || *pr.TryBuildID != buildID {
			continue
		}

		if found == nil || pr.Number < found.Number {
			found = pr
		}
	}

	if found == nil {
		return nil, nil, fmt.Errorf("pull request with try build %d: %w", buildID, borserr.ErrNotFound)
	}

	var build *model.Build
	if b, exists := s.builds[buildID]; exists {
		build = b.Clone()
	}

	return found.Clone(), build, nil
}

func (s *Store) PullRequestsByBuild(_ context.Context, buildID int64) ([]*model.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*model.PullRequest
	for _, pr := range s.prs {
		if pr.BuildID != nil && *pr.BuildID == buildID {
			result = append(result, pr.Clone())
		}
	}

	sortPullRequests(result)

	return result, nil
}

func (s *Store) CreateBuild(ctx context.Context, b *model.Build) (*model.Build, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := buildKey{repo: b.Repo, branch: b.Branch, commitSHA: b.CommitSHA}
	if id, exists := s.buildKeys[key]; exists {
		return s.builds[id].Clone(), false, nil
	}

	now := s.now()
	s.lastBuildID++

	n := b.Clone()
	n.ID = s.lastBuildID
	n.CreatedAt = now
	n.UpdatedAt = now

	s.builds[n.ID] = n
	s.buildKeys[key] = n.ID

	recordUndo(ctx, func() {
		delete(s.builds, n.ID)
		delete(s.buildKeys, key)
	})

	return n.Clone(), true, nil
}

func (s *Store) GetBuild(_ context.Context, id int64) (*model.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.builds[id]
	if !exists {
		return nil, fmt.Errorf("build %d: %w", id, borserr.ErrNotFound)
	}

	return b.Clone(), nil
}

func (s *Store) FindBuild(_ context.Context, repo model.RepoID, branch, commitSHA string) (*model.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.buildKeys[buildKey{repo: repo, branch: branch, commitSHA: commitSHA}]
	if !exists {
		return nil, fmt.Errorf("build of %s on %s: %w", commitSHA, branch, borserr.ErrNotFound)
	}

	return s.builds[id].Clone(), nil
}

func (s *Store) FindBuildByExternalID(_ context.Context, repo model.RepoID, externalID string) (*model.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *model.Build
	for _, b := range s.builds {
		if b.Repo != repo || b.ExternalID != externalID {
			continue
		}

		// the newest one wins if a provider reuses identifiers
		if found == nil || b.ID > found.ID {
			found = b
		}
	}

	if found == nil {
		return nil, fmt.Errorf("build with external id %q: %w", externalID, borserr.ErrNotFound)
	}

	return found.Clone(), nil
}

func (s *Store) UpdateBuild(ctx context.Context, b *model.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.builds[b.ID]
	if !exists {
		return fmt.Errorf("build %d: %w", b.ID, borserr.ErrNotFound)
	}

	n := b.Clone()
	n.CreatedAt = old.CreatedAt
	n.UpdatedAt = s.now()
	s.builds[b.ID] = n

	recordUndo(ctx, func() { s.builds[b.ID] = old })

	return nil
}

func (s *Store) ActiveBuilds(_ context.Context, repo model.RepoID) ([]*model.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*model.Build
	for _, b := range s.builds {
		if b.Repo == repo && !b.Status.IsTerminal() {
			result = append(result, b.Clone())
		}
	}

	slices.SortFunc(result, func(a, b *model.Build) int {
		return int(a.ID - b.ID)
	})

	return result, nil
}

func (s *Store) GetBaseBranch(_ context.Context, repo model.RepoID, branch string) (*model.BaseBranch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bb, exists := s.baseBranches[baseBranchKey{repo: repo, branch: branch}]
	if !exists {
		return nil, fmt.Errorf("base branch %s:%s: %w", repo, branch, borserr.ErrNotFound)
	}

	c := *bb
	return &c, nil
}

func (s *Store) SetBaseBranchSHA(ctx context.Context, repo model.RepoID, branch, sha string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := baseBranchKey{repo: repo, branch: branch}
	old, existed := s.baseBranches[key]

	s.baseBranches[key] = &model.BaseBranch{
		Repo:      repo,
		Name:      branch,
		SHA:       sha,
		UpdatedAt: s.now(),
	}

	recordUndo(ctx, func() {
		if existed {
			s.baseBranches[key] = old
			return
		}
		delete(s.baseBranches, key)
	})

	return nil
}

func (s *Store) CreateWorkflow(ctx context.Context, w *model.Workflow) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.workflows {
		if existing.BuildID == w.BuildID && existing.RunID == w.RunID {
			return nil, fmt.Errorf("workflow run %d of build %d: %w", w.RunID, w.BuildID, borserr.ErrAlreadyExists)
		}
	}

	s.lastWorkflowID++

	n := *w
	n.ID = s.lastWorkflowID
	n.CreatedAt = s.now()
	s.workflows[n.ID] = &n

	recordUndo(ctx, func() { delete(s.workflows, n.ID) })

	c := n
	return &c, nil
}

func (s *Store) UpdateWorkflowStatus(ctx context.Context, buildID, runID int64, status model.WorkflowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.workflows {
		if w.BuildID != buildID || w.RunID != runID {
			continue
		}

		old := *w
		w.Status = status
		recordUndo(ctx, func() { s.workflows[id] = &old })

		return nil
	}

	return fmt.Errorf("workflow run %d of build %d: %w", runID, buildID, borserr.ErrNotFound)
}

func (s *Store) WorkflowsForBuild(_ context.Context, buildID int64) ([]*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*model.Workflow
	for _, w := range s.workflows {
		if w.BuildID == buildID {
			c := *w
			result = append(result, &c)
		}
	}

	slices.SortFunc(result, func(a, b *model.Workflow) int {
		return int(a.ID - b.ID)
	})

	return result, nil
}
