package mergequeue

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/event"
	"github.com/simplesurance/gobors/internal/githubclt"
	"github.com/simplesurance/gobors/internal/logfields"
	"github.com/simplesurance/gobors/internal/mergequeue/routines"
	"github.com/simplesurance/gobors/internal/model"
	"github.com/simplesurance/gobors/internal/set"
)

var nonTerminalStatuses = []model.Status{
	model.StatusOpen,
	model.StatusApproved,
	model.StatusReady,
	model.StatusBuilding,
	model.StatusMerging,
	model.StatusTryBuilding,
}

// repoQueue processes the events of a single repository.
// Events are applied in order by a worker go-routine. All state changes
// happen while lock is held, network operations are done after it was
// released.
type repoQueue struct {
	mq      *MergeQueue
	repo    model.RepoID
	machine *machine
	sched   schedulerOpts
	sweep   sweepOpts
	logger  *zap.Logger

	// slotBranches are the branches of the build slots, index i is the
	// branch of slot i.
	slotBranches []string

	worker          *routines.Pool
	schedulePending atomic.Bool

	lock              sync.Mutex
	reservations      map[uint64]*reservation
	lastReservationID uint64
	tryPending        set.Set[int]
	mergesInFlight    set.Set[int64]
	refreshedAt       map[int]time.Time
}

func newRepoQueue(mq *MergeQueue, cfg *RepositoryConfig) *repoQueue {
	branches := slotBranches(mq.cfg.AutoBranch, cfg.BuildSlots)

	return &repoQueue{
		mq:           mq,
		repo:         cfg.Repo,
		machine:      newMachine(cfg.Reviewers, branches),
		slotBranches: branches,
		sched: schedulerOpts{
			buildSlots:    cfg.BuildSlots,
			rollupEnabled: cfg.RollupEnabled,
			maxBatchSize:  cfg.MaxBatchSize,
		},
		sweep: sweepOpts{
			buildTimeout:          mq.cfg.BuildTimeout,
			mergeableRefreshAfter: mq.cfg.MergeableRefreshAfter,
		},
		logger:         mq.logger.With(cfg.Repo.LogFields()...),
		worker:         routines.NewPool(1),
		reservations:   map[uint64]*reservation{},
		tryPending:     set.Set[int]{},
		mergesInFlight: set.Set[int64]{},
		refreshedAt:    map[int]time.Time{},
	}
}

// enqueue schedules fn for execution by the worker of the repository.
func (q *repoQueue) enqueue(fn func()) {
	if !q.worker.TryQueue(fn) {
		q.logger.Debug("repository worker terminated, operation dropped",
			logfields.Event("operation_dropped"),
		)
	}
}

func (q *repoQueue) enqueueEvents(ctx context.Context, evs ...event.Event) {
	q.enqueue(func() {
		for _, ev := range evs {
			q.handleEvent(ctx, ev)
		}
	})
}

func (q *repoQueue) handleEvent(ctx context.Context, ev event.Event) {
	logger := q.logger.With(ev.LogFields()...)

	if err := q.ensurePullRequest(ctx, logger, ev); err != nil {
		logger.Warn("retrieving pull request failed, event ignored",
			logFieldEventIgnored,
			zap.Error(err),
		)
		metrics.EventApplied(q.repo, ev.Type(), resultFailed)

		return
	}

	if wf, ok := ev.(*event.WorkflowUpdated); ok {
		q.recordWorkflow(ctx, logger, wf)
		return
	}

	err := q.transact(ctx, ev.LogFields(), func(ctx context.Context, s *snapshot) error {
		if err := q.resolve(ctx, s, ev); err != nil {
			return borserr.NewRetryableAnytimeError(err)
		}

		return q.machine.apply(s, ev)
	})
	switch {
	case err == nil:
		logger.Debug("event applied", logfields.Event("event_applied"))
		metrics.EventApplied(q.repo, ev.Type(), resultApplied)

	case errors.Is(err, borserr.ErrStateConflict):
		logger.Info("event is not applicable to the pull request state",
			logfields.Event("event_rejected"),
			zap.Error(err),
		)
		metrics.EventApplied(q.repo, ev.Type(), resultRejected)

	case errors.Is(err, borserr.ErrNotFound):
		logger.Debug("event references an unknown record",
			logFieldEventIgnored,
			zap.Error(err),
		)
		metrics.EventApplied(q.repo, ev.Type(), resultIgnored)

	default:
		logger.Error("applying event failed",
			logfields.Event("event_apply_failed"),
			zap.Error(err),
		)
		metrics.EventApplied(q.repo, ev.Type(), resultFailed)
	}
}

// ensurePullRequest creates the record of the pull request that ev refers
// to, if it does not exist.
func (q *repoQueue) ensurePullRequest(ctx context.Context, logger *zap.Logger, ev event.Event) error {
	number := ev.PullRequest()
	if number == 0 {
		return nil
	}

	_, err := q.mq.store.GetPullRequest(ctx, model.PullRequestID{Repo: q.repo, Number: number})
	if err == nil {
		return nil
	}

	if !errors.Is(err, borserr.ErrNotFound) {
		return err
	}

	var pr *model.PullRequest
	if opened, ok := ev.(*event.PullRequestOpened); ok {
		pr = model.NewPullRequest(q.repo, number, opened.BaseBranch)
		pr.Title = opened.Title
		pr.Author = opened.Author
		pr.HeadSHA = opened.HeadSHA
	} else {
		var state *githubclt.PullRequestState
		err := q.mq.retryer.Run(ctx, func(ctx context.Context) error {
			var err error
			state, err = q.mq.gh.PullRequestState(ctx, q.repo.Owner, q.repo.Name, number)
			return err
		}, ev.LogFields())
		if err != nil {
			return fmt.Errorf("retrieving pull request state failed: %w", err)
		}

		pr = pullRequestFromState(q.repo, state)
	}

	_, created, err := q.mq.store.GetOrCreatePullRequest(ctx, pr)
	if err != nil {
		return err
	}

	if created {
		logger.Info("pull request record created",
			logfields.Event("pull_request_created"),
			logfields.Status(string(pr.Status)),
		)
	}

	return nil
}

func pullRequestFromState(repo model.RepoID, state *githubclt.PullRequestState) *model.PullRequest {
	pr := model.NewPullRequest(repo, state.Number, state.BaseBranch)
	pr.Title = state.Title
	pr.Author = state.Author
	pr.HeadSHA = state.HeadSHA
	pr.MergeableState = state.Mergeable

	switch {
	case state.Merged:
		pr.Status = model.StatusMerged
	case !state.Open:
		pr.Status = model.StatusClosed
	}

	return pr
}

// load reads the state of the repository that the state machine needs.
func (q *repoQueue) load(ctx context.Context) (*snapshot, error) {
	s := newSnapshot(q.repo, q.mq.now())
	s.tryPending = maps.Clone(q.tryPending)
	s.mergesInFlight = maps.Clone(q.mergesInFlight)
	s.refreshedAt = maps.Clone(q.refreshedAt)

	prs, err := q.mq.store.ListPullRequests(ctx, q.repo, nonTerminalStatuses...)
	if err != nil {
		return nil, fmt.Errorf("listing pull requests failed: %w", err)
	}

	for _, pr := range prs {
		s.addPR(pr)
	}

	builds, err := q.mq.store.ActiveBuilds(ctx, q.repo)
	if err != nil {
		return nil, fmt.Errorf("listing active builds failed: %w", err)
	}

	for _, b := range builds {
		s.addBuild(b)
	}

	for _, pr := range prs {
		if err := q.loadPRDeps(ctx, s, pr); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// loadPRDeps adds the builds referenced by pr and the SHA of its base
// branch to s.
func (q *repoQueue) loadPRDeps(ctx context.Context, s *snapshot, pr *model.PullRequest) error {
	for _, id := range []*int64{pr.BuildID, pr.TryBuildID} {
		if id == nil || s.builds[*id] != nil {
			continue
		}

		b, err := q.mq.store.GetBuild(ctx, *id)
		if err != nil {
			if errors.Is(err, borserr.ErrNotFound) {
				continue
			}

			return err
		}

		s.addBuild(b)
	}

	return q.loadBaseSHA(ctx, s, pr.BaseBranch)
}

func (q *repoQueue) loadBaseSHA(ctx context.Context, s *snapshot, branch string) error {
	if _, exists := s.baseSHAs[branch]; exists {
		return nil
	}

	bb, err := q.mq.store.GetBaseBranch(ctx, q.repo, branch)
	if err != nil {
		if errors.Is(err, borserr.ErrNotFound) {
			s.baseSHAs[branch] = ""
			return nil
		}

		return err
	}

	s.baseSHAs[branch] = bb.SHA
	return nil
}

func (q *repoQueue) findBuild(ctx context.Context, ref *event.BuildRef) (*model.Build, error) {
	if ref.ExternalID != "" {
		b, err := q.mq.store.FindBuildByExternalID(ctx, q.repo, ref.ExternalID)
		if err == nil || !errors.Is(err, borserr.ErrNotFound) || ref.Branch == "" {
			return b, err
		}
	}

	return q.mq.store.FindBuild(ctx, q.repo, ref.Branch, ref.CommitSHA)
}

// resolve adds the records that ev references to s, when they are not part
// of the snapshot already.
func (q *repoQueue) resolve(ctx context.Context, s *snapshot, ev event.Event) error {
	if number := ev.PullRequest(); number != 0 && s.prs[number] == nil {
		pr, err := q.mq.store.GetPullRequest(ctx, model.PullRequestID{Repo: q.repo, Number: number})
		if err != nil && !errors.Is(err, borserr.ErrNotFound) {
			return err
		}

		if pr != nil {
			s.addPR(pr)
			if err := q.loadPRDeps(ctx, s, pr); err != nil {
				return err
			}
		}
	}

	switch ev := ev.(type) {
	case *event.CheckFinished:
		b, err := q.findBuild(ctx, &ev.Ref)
		if err != nil {
			if errors.Is(err, borserr.ErrNotFound) {
				return nil
			}

			return err
		}

		s.addBuild(b)

		return q.loadBuildMembers(ctx, s, b.ID)

	case *event.PushToBase:
		if err := q.loadBaseSHA(ctx, s, ev.Branch); err != nil {
			return err
		}

		for _, branch := range q.slotBranches {
			b, err := q.mq.store.FindBuild(ctx, q.repo, branch, ev.NewSHA)
			if err != nil {
				if errors.Is(err, borserr.ErrNotFound) {
					continue
				}

				return err
			}

			s.addBuild(b)
		}

	case *event.BaseChanged:
		return q.loadBaseSHA(ctx, s, ev.NewBase)

	case *event.PullRequestOpened:
		return q.loadBaseSHA(ctx, s, ev.BaseBranch)
	}

	return nil
}

// loadBuildMembers adds the pull requests that reference buildID as merge
// build to s.
func (q *repoQueue) loadBuildMembers(ctx context.Context, s *snapshot, buildID int64) error {
	prs, err := q.mq.store.PullRequestsByBuild(ctx, buildID)
	if err != nil {
		return fmt.Errorf("retrieving pull requests of build %d failed: %w", buildID, err)
	}

	for _, pr := range prs {
		if s.prs[pr.Number] == nil {
			s.addPR(pr)
		}
	}

	return nil
}

// persist stores the records that were modified in s.
func (q *repoQueue) persist(ctx context.Context, s *snapshot) error {
	for _, id := range set.Sorted(s.changedBuilds) {
		if err := q.mq.store.UpdateBuild(ctx, s.builds[id]); err != nil {
			return fmt.Errorf("updating build %d failed: %w", id, err)
		}
	}

	for _, number := range set.Sorted(s.changedPRs) {
		if err := q.mq.store.UpdatePullRequest(ctx, s.prs[number]); err != nil {
			return fmt.Errorf("updating pull request #%d failed: %w", number, err)
		}
	}

	for _, branch := range set.Sorted(s.changedBases) {
		if err := q.mq.store.SetBaseBranchSHA(ctx, q.repo, branch, s.baseSHAs[branch]); err != nil {
			return fmt.Errorf("updating sha of base branch %q failed: %w", branch, err)
		}
	}

	return nil
}

// adopt takes over the in-memory state of a persisted snapshot.
// It must be called with q.lock held.
func (q *repoQueue) adopt(s *snapshot) {
	q.tryPending = s.tryPending
	q.mergesInFlight = s.mergesInFlight
	q.refreshedAt = s.refreshedAt

	for _, cmd := range s.cmds {
		switch cmd.kind {
		case cmdMerge:
			q.mergesInFlight.Add(cmd.build.ID)
		case cmdRefreshMergeableState:
			q.refreshedAt[cmd.pr] = s.now
		case cmdTryBuild:
			q.tryPending.Add(cmd.pr)
		}
	}

	for _, id := range set.Sorted(s.changedBuilds) {
		if b := s.builds[id]; b.Status.IsTerminal() {
			metrics.BuildFinished(q.repo, b.Kind, b.Status)
		}
	}
}

// transact runs fn with a snapshot of the repository, while holding the
// repository lock and inside a store transaction. The modifications fn
// does to the snapshot are persisted, afterwards the lock is released and
// the resulting commands are executed.
// fn is retried when it fails with a borserr.RetryableError. An error
// wrapping borserr.ErrStateConflict is returned but does not roll back the
// transaction.
func (q *repoQueue) transact(ctx context.Context, logF []zap.Field, fn func(context.Context, *snapshot) error) error {
	var s *snapshot
	var applyErr error

	retryCtx, cancel := context.WithTimeout(ctx, q.mq.cfg.EventRetryTimeout)
	defer cancel()

	err := q.mq.retryer.Run(retryCtx, func(ctx context.Context) error {
		var fnFailed bool

		q.lock.Lock()
		defer q.lock.Unlock()

		err := q.mq.store.InTx(ctx, func(ctx context.Context) error {
			var err error

			s, err = q.load(ctx)
			if err != nil {
				return borserr.NewRetryableAnytimeError(err)
			}

			applyErr = fn(ctx, s)
			if applyErr != nil && !errors.Is(applyErr, borserr.ErrStateConflict) {
				fnFailed = true
				return applyErr
			}

			if err := q.persist(ctx, s); err != nil {
				return borserr.NewRetryableAnytimeError(err)
			}

			return nil
		})
		if err != nil {
			if fnFailed || borserr.IsRetryable(err) {
				return err
			}

			return borserr.NewRetryableAnytimeError(fmt.Errorf("committing transaction failed: %w", err))
		}

		q.adopt(s)
		return nil
	}, logF)
	if err != nil {
		return err
	}

	q.exec(ctx, s.cmds)

	if s.reschedule {
		q.scheduleAsync(ctx)
	}

	return applyErr
}

func (q *repoQueue) exec(ctx context.Context, cmds []*command) {
	for _, cmd := range cmds {
		if !q.mq.cmdPool.TryQueue(func() { q.execCommand(ctx, cmd) }) {
			q.logger.Info("command pool terminated, command dropped",
				logfields.Event("command_dropped"),
				zap.Stringer("command", cmd.kind),
			)
		}
	}
}

func (q *repoQueue) execCommand(ctx context.Context, cmd *command) {
	logF := append(q.repo.LogFields(), zap.Stringer("command", cmd.kind))
	if cmd.pr != 0 {
		logF = append(logF, logfields.PullRequest(cmd.pr))
	}
	if cmd.build != nil {
		logF = append(logF, cmd.build.LogFields()...)
	}

	logger := q.logger.With(logF...)

	switch cmd.kind {
	case cmdComment:
		err := q.mq.retryer.Run(ctx, func(ctx context.Context) error {
			return q.mq.gh.CreateIssueComment(ctx, q.repo.Owner, q.repo.Name, cmd.pr, cmd.text)
		}, logF)
		if err != nil {
			logger.Warn("posting comment failed",
				logfields.Event("github_comment_failed"),
				zap.Error(err),
			)
		}

	case cmdCancelBuild:
		err := q.mq.retryer.Run(ctx, func(ctx context.Context) error {
			return q.mq.ci.CancelBuild(ctx, q.repo, cmd.build.ExternalID)
		}, logF)
		if err != nil {
			logger.Warn("cancelling build at ci provider failed",
				logfields.Event("ci_cancel_build_failed"),
				zap.Error(fmt.Errorf("%w: %w", borserr.ErrProviderUnavailable, err)),
			)
			return
		}

		logger.Info("build cancelled", logfields.Event("build_cancelled"))

	case cmdMerge:
		err := q.mq.retryer.Run(ctx, func(ctx context.Context) error {
			return q.mq.gh.FastForward(ctx, q.repo.Owner, q.repo.Name, cmd.baseBranch, cmd.build.CommitSHA)
		}, logF)
		if err != nil {
			logger.Warn("merging build commit failed",
				logfields.Event("merge_failed"),
				zap.Error(err),
			)
		} else {
			logger.Info("base branch fast-forwarded to build commit",
				logfields.Event("merged"),
				logfields.BaseBranch(cmd.baseBranch),
			)
		}

		q.enqueue(func() { q.applyMergeResult(ctx, cmd.build.ID, err) })

	case cmdRefreshMergeableState:
		var state *githubclt.PullRequestState
		err := q.mq.retryer.Run(ctx, func(ctx context.Context) error {
			var err error
			state, err = q.mq.gh.PullRequestState(ctx, q.repo.Owner, q.repo.Name, cmd.pr)
			return err
		}, logF)
		if err != nil {
			logger.Warn("retrieving mergeable state failed",
				logfields.Event("github_pull_request_state_failed"),
				zap.Error(err),
			)
			return
		}

		q.enqueueEvents(ctx, stateEvents(q.repo, state)...)

	case cmdTryBuild:
		q.dispatchTry(ctx, cmd)

	default:
		logger.DPanic("unsupported command", logfields.Event("unsupported_command"))
	}
}

// stateEvents converts the state of a pull request retrieved from GitHub
// to events.
func stateEvents(repo model.RepoID, state *githubclt.PullRequestState) []event.Event {
	meta := event.Meta{Repo: repo, Number: state.Number}

	if !state.Open {
		return []event.Event{&event.PullRequestClosed{Meta: meta, Merged: state.Merged}}
	}

	return []event.Event{
		&event.HeadChanged{Meta: meta, NewSHA: state.HeadSHA},
		&event.MergeableStateChanged{Meta: meta, NewState: state.Mergeable, HeadSHA: state.HeadSHA},
	}
}

func (q *repoQueue) applyMergeResult(ctx context.Context, buildID int64, mergeErr error) {
	logF := append(q.repo.LogFields(), logfields.Build(buildID))

	err := q.transact(ctx, logF, func(_ context.Context, s *snapshot) error {
		q.machine.mergeFinished(s, buildID, mergeErr)
		return nil
	})
	if err != nil {
		q.logger.Error("recording merge result failed",
			logfields.Event("merge_result_failed"),
			logfields.Build(buildID),
			zap.Error(err),
		)
	}
}

func (q *repoQueue) recordWorkflow(ctx context.Context, logger *zap.Logger, wf *event.WorkflowUpdated) {
	err := q.mq.retryer.Run(ctx, func(ctx context.Context) error {
		return q.mq.store.InTx(ctx, func(ctx context.Context) error {
			b, err := q.findBuild(ctx, &wf.Ref)
			if err != nil {
				if errors.Is(err, borserr.ErrNotFound) {
					return err
				}

				return borserr.NewRetryableAnytimeError(err)
			}

			err = q.mq.store.UpdateWorkflowStatus(ctx, b.ID, wf.RunID, wf.Status)
			if err == nil {
				return nil
			}

			if !errors.Is(err, borserr.ErrNotFound) {
				return borserr.NewRetryableAnytimeError(err)
			}

			_, err = q.mq.store.CreateWorkflow(ctx, &model.Workflow{
				BuildID: b.ID,
				Name:    wf.Name,
				URL:     wf.URL,
				RunID:   wf.RunID,
				Type:    wf.WorkflowType,
				Status:  wf.Status,
			})
			if err != nil && !errors.Is(err, borserr.ErrAlreadyExists) {
				return borserr.NewRetryableAnytimeError(err)
			}

			return nil
		})
	}, wf.LogFields())
	switch {
	case err == nil:
		logger.Debug("workflow recorded", logfields.Event("workflow_recorded"))
		metrics.EventApplied(q.repo, wf.Type(), resultApplied)

	case errors.Is(err, borserr.ErrNotFound):
		logger.Debug("workflow is for an unknown build", logFieldEventIgnored)
		metrics.EventApplied(q.repo, wf.Type(), resultIgnored)

	default:
		logger.Warn("recording workflow failed",
			logfields.Event("workflow_record_failed"),
			zap.Error(err),
		)
		metrics.EventApplied(q.repo, wf.Type(), resultFailed)
	}
}

// reconcile runs the reconciliation sweep for the repository.
func (q *repoQueue) reconcile(ctx context.Context) {
	q.logger.Debug("running reconciliation", logfields.Event("reconciliation_started"))

	err := q.transact(ctx, q.repo.LogFields(), func(_ context.Context, s *snapshot) error {
		q.machine.sweep(s, &q.sweep)
		metrics.SetPullRequestCounts(q.repo, s.prs)
		return nil
	})
	if err != nil {
		q.logger.Error("reconciliation failed",
			logfields.Event("reconciliation_failed"),
			zap.Error(err),
		)
	}
}
