package mergequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/event"
	"github.com/simplesurance/gobors/internal/logfields"
	"github.com/simplesurance/gobors/internal/mergequeue/routines"
	"github.com/simplesurance/gobors/internal/model"
	"github.com/simplesurance/gobors/internal/provider"
	"github.com/simplesurance/gobors/internal/retry"
	"github.com/simplesurance/gobors/internal/set"
)

const loggerName = "mergequeue"

const (
	DefaultAutoBranch            = "automation/bors/auto"
	DefaultTryBranchPrefix       = "automation/bors/try/"
	DefaultReconcileInterval     = time.Minute
	DefaultBuildTimeout          = time.Hour
	DefaultMergeableRefreshAfter = 2 * time.Minute
	DefaultEventRetryTimeout     = 5 * time.Minute
	DefaultCommandWorkers        = 8
	DefaultBuildSlots            = 1
	DefaultMaxBatchSize          = 8
)

var logFieldEventIgnored = logfields.Event("event_ignored")

type RepositoryConfig struct {
	Repo model.RepoID
	// Reviewers are the GitHub logins that are allowed to approve pull
	// requests and change their queue settings.
	Reviewers []string
	// BuildSlots is the number of merge builds that can run concurrently.
	BuildSlots    int
	RollupEnabled bool
	MaxBatchSize  int
}

type Config struct {
	Repositories []*RepositoryConfig
	// AutoBranch is the branch merge builds run on.
	AutoBranch string
	// TryBranchPrefix is the prefix of the branches try builds run
	// on, the pull request number is appended.
	TryBranchPrefix       string
	ReconcileInterval     time.Duration
	BuildTimeout          time.Duration
	MergeableRefreshAfter time.Duration
	// EventRetryTimeout is the maximum duration applying an event is
	// retried when the store fails.
	EventRetryTimeout time.Duration
	// CommandWorkers is the number of go-routines that execute
	// outbound commands.
	CommandWorkers int
}

func (c *Config) setDefaults() {
	if c.AutoBranch == "" {
		c.AutoBranch = DefaultAutoBranch
	}

	if c.TryBranchPrefix == "" {
		c.TryBranchPrefix = DefaultTryBranchPrefix
	}

	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = DefaultReconcileInterval
	}

	if c.BuildTimeout <= 0 {
		c.BuildTimeout = DefaultBuildTimeout
	}

	if c.MergeableRefreshAfter <= 0 {
		c.MergeableRefreshAfter = DefaultMergeableRefreshAfter
	}

	if c.EventRetryTimeout <= 0 {
		c.EventRetryTimeout = DefaultEventRetryTimeout
	}

	if c.CommandWorkers <= 0 {
		c.CommandWorkers = DefaultCommandWorkers
	}

	for _, r := range c.Repositories {
		if r.BuildSlots <= 0 {
			r.BuildSlots = DefaultBuildSlots
		}

		if r.MaxBatchSize <= 0 {
			r.MaxBatchSize = DefaultMaxBatchSize
		}
	}
}

// MergeQueue tests approved pull requests on synthetic merge commits and
// merges them when the build succeeded.
// Events of different repositories are processed concurrently, events of
// the same repository in the order they were received.
type MergeQueue struct {
	ch         <-chan *provider.Event
	normalizer *event.Normalizer
	store      Store
	gh         GithubClient
	preparer   CommitPreparer
	ci         CIProvider
	retryer    *retry.Retryer

	cfg    Config
	repos  map[model.RepoID]*repoQueue
	now    func() time.Time
	logger *zap.Logger

	cmdPool *routines.Pool

	processedEventCnt atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*MergeQueue)

func WithRetryer(r *retry.Retryer) Option {
	return func(mq *MergeQueue) {
		mq.retryer = r
	}
}

// WithClock sets the function that returns the current time.
func WithClock(now func() time.Time) Option {
	return func(mq *MergeQueue) {
		mq.now = now
	}
}

func New(
	cfg Config,
	ch <-chan *provider.Event,
	normalizer *event.Normalizer,
	store Store,
	gh GithubClient,
	preparer CommitPreparer,
	ci CIProvider,
	opts ...Option,
) (*MergeQueue, error) {
	cfg.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	mq := MergeQueue{
		ch:         ch,
		normalizer: normalizer,
		store:      store,
		gh:         gh,
		preparer:   preparer,
		ci:         ci,
		cfg:        cfg,
		repos:      make(map[model.RepoID]*repoQueue, len(cfg.Repositories)),
		now:        time.Now,
		logger:     zap.L().Named(loggerName),
		ctx:        ctx,
		cancel:     cancel,
	}

	for _, o := range opts {
		o(&mq)
	}

	if mq.retryer == nil {
		mq.retryer = retry.NewRetryer()
	}

	seen := set.Set[model.RepoID]{}
	for _, r := range cfg.Repositories {
		if seen.Contains(r.Repo) {
			cancel()
			return nil, fmt.Errorf("repository %s is configured multiple times", r.Repo)
		}

		seen.Add(r.Repo)
	}

	for _, r := range cfg.Repositories {
		mq.repos[r.Repo] = newRepoQueue(&mq, r)
	}

	mq.cmdPool = routines.NewPool(cfg.CommandWorkers)

	return &mq, nil
}

// EventLoop processes events from the event channel and runs the
// reconciliation sweep periodically.
// It returns when the channel was closed or Stop() was called.
func (mq *MergeQueue) EventLoop() {
	mq.logger.Info("merge queue event loop started")

	reconcileTicker := time.NewTicker(mq.cfg.ReconcileInterval)
	defer reconcileTicker.Stop()

	for {
		select {
		case ev, open := <-mq.ch:
			if !open {
				mq.logger.Info("merge queue event loop terminated")
				return
			}

			mq.processEvent(ev)

		case <-reconcileTicker.C:
			mq.Reconcile()

		case <-mq.ctx.Done():
			mq.logger.Info("merge queue event loop terminated")
			return
		}
	}
}

func (mq *MergeQueue) processEvent(ev *provider.Event) {
	metrics.ProviderEventsInc()
	mq.processedEventCnt.Add(1)

	logger := mq.logger.With(ev.LogFields...)
	logger.Debug("event received", logfields.Event("event_received"))

	evs, err := mq.normalizer.Normalize(ev)
	if err != nil {
		if errors.Is(err, borserr.ErrMalformedEvent) {
			metrics.MalformedEventsInc()
		}

		logger.Warn("converting event failed, event dropped",
			logfields.Event("event_malformed"),
			zap.Error(err),
		)

		return
	}

	if len(evs) == 0 {
		logger.Debug("event is not relevant for the merge queue", logFieldEventIgnored)
		return
	}

	var queues []*repoQueue
	byRepo := map[model.RepoID][]event.Event{}

	for _, e := range evs {
		q := mq.repos[e.Repository()]
		if q == nil {
			logger.Debug("event is for repository that is not monitored",
				append(e.LogFields(), logFieldEventIgnored)...,
			)
			continue
		}

		if _, exists := byRepo[q.repo]; !exists {
			queues = append(queues, q)
		}

		byRepo[q.repo] = append(byRepo[q.repo], e)
	}

	for _, q := range queues {
		q.enqueueEvents(mq.ctx, byRepo[q.repo]...)
	}
}

// Reconcile queues a reconciliation sweep for every repository.
func (mq *MergeQueue) Reconcile() {
	for _, q := range mq.repos {
		q.enqueue(func() { q.reconcile(mq.ctx) })
	}
}

// Start synchronizes the state with GitHub and starts the event loop in a
// go-routine.
func (mq *MergeQueue) Start() {
	mq.wg.Add(1)

	go func() {
		defer mq.wg.Done()

		if err := mq.InitSync(mq.ctx); err != nil {
			mq.logger.Error("initial synchronization failed",
				logfields.Event("initial_sync_failed"),
				zap.Error(err),
			)
		}

		mq.Reconcile()
		mq.EventLoop()
	}()
}

// Stop terminates the event loop and waits until queued operations
// finished. Operations that are still running are cancelled.
func (mq *MergeQueue) Stop() {
	mq.logger.Debug("merge queue terminating")

	mq.cancel()
	mq.retryer.Stop()
	mq.wg.Wait()

	for _, q := range mq.repos {
		q.worker.Wait()
	}

	mq.cmdPool.Wait()

	mq.logger.Debug("merge queue terminated")
}

func (mq *MergeQueue) repoQueue(repo model.RepoID) (*repoQueue, error) {
	q := mq.repos[repo]
	if q == nil {
		return nil, fmt.Errorf("repository %s is not monitored: %w", repo, borserr.ErrNotFound)
	}

	return q, nil
}
