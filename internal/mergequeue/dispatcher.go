package mergequeue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/githubclt"
	"github.com/simplesurance/gobors/internal/logfields"
	"github.com/simplesurance/gobors/internal/model"
	"github.com/simplesurance/gobors/internal/set"
)

// reservation occupies a build slot while the commit of a build is
// prepared.
type reservation struct {
	id         uint64
	kind       model.BuildKind
	branch     string
	baseBranch string
	baseSHA    string
	heads      []githubclt.MergeHead
}

func (r *reservation) numbers() []int {
	result := make([]int, 0, len(r.heads))
	for _, h := range r.heads {
		result = append(result, h.Number)
	}

	return result
}

func (r *reservation) logFields() []zap.Field {
	return []zap.Field{
		zap.String("build.kind", string(r.kind)),
		logfields.Branch(r.branch),
		logfields.BaseBranch(r.baseBranch),
		zap.String("git.base_commit", r.baseSHA),
		zap.Ints("github.pull_requests", r.numbers()),
	}
}

// newReservation must be called with q.lock held.
func (q *repoQueue) newReservation(kind model.BuildKind, branch, baseBranch, baseSHA string, heads []githubclt.MergeHead) *reservation {
	q.lastReservationID++

	res := reservation{
		id:         q.lastReservationID,
		kind:       kind,
		branch:     branch,
		baseBranch: baseBranch,
		baseSHA:    baseSHA,
		heads:      heads,
	}

	q.reservations[res.id] = &res

	return &res
}

// releaseIn removes the reservation, it must be called from a transact()
// function.
func (q *repoQueue) releaseIn(s *snapshot, res *reservation) {
	delete(q.reservations, res.id)

	if res.kind == model.BuildKindTry {
		s.tryPending.Remove(res.heads[0].Number)
	}
}

func (q *repoQueue) release(res *reservation) {
	q.lock.Lock()
	defer q.lock.Unlock()

	delete(q.reservations, res.id)

	if res.kind == model.BuildKindTry {
		q.tryPending.Remove(res.heads[0].Number)
	}
}

// reservedAutoBuilds returns the number of merge build reservations and the
// pull requests that are part of them.
// It must be called with q.lock held.
func (q *repoQueue) reservedAutoBuilds() (int, map[int]struct{}) {
	var cnt int
	numbers := map[int]struct{}{}

	for _, res := range q.reservations {
		if res.kind != model.BuildKindAuto {
			continue
		}

		cnt++
		for _, h := range res.heads {
			numbers[h.Number] = struct{}{}
		}
	}

	return cnt, numbers
}

// slotBranches returns the branches of slots build slots. The first slot
// uses autoBranch, the others autoBranch with the slot number appended.
func slotBranches(autoBranch string, slots int) []string {
	result := make([]string, 0, slots)
	result = append(result, autoBranch)

	for i := 2; i <= slots; i++ {
		result = append(result, fmt.Sprintf("%s-%d", autoBranch, i))
	}

	return result
}

// occupiedSlots returns the number of occupied build slots and their
// branches. Running merge builds, builds whose commit is being merged and
// reservations occupy a slot. It must be called with q.lock held.
func (q *repoQueue) occupiedSlots(ctx context.Context) (int, set.Set[string], error) {
	ids := map[int64]struct{}{}
	branches := set.Set[string]{}

	builds, err := q.mq.store.ActiveBuilds(ctx, q.repo)
	if err != nil {
		return 0, nil, err
	}

	for _, b := range builds {
		if b.Kind == model.BuildKindAuto {
			ids[b.ID] = struct{}{}
			branches.Add(b.Branch)
		}
	}

	merging, err := q.mq.store.ListPullRequests(ctx, q.repo, model.StatusMerging)
	if err != nil {
		return 0, nil, err
	}

	for _, pr := range merging {
		if pr.BuildID == nil {
			continue
		}

		if _, exists := ids[*pr.BuildID]; exists {
			continue
		}

		b, err := q.mq.store.GetBuild(ctx, *pr.BuildID)
		if err != nil {
			if errors.Is(err, borserr.ErrNotFound) {
				continue
			}

			return 0, nil, err
		}

		ids[b.ID] = struct{}{}
		branches.Add(b.Branch)
	}

	reserved, _ := q.reservedAutoBuilds()
	for _, res := range q.reservations {
		if res.kind == model.BuildKindAuto {
			branches.Add(res.branch)
		}
	}

	return len(ids) + reserved, branches, nil
}

// freeSlotBranch returns the branch of the first build slot that is not
// occupied. If all are occupied, an empty string is returned.
func (q *repoQueue) freeSlotBranch(occupied set.Set[string]) string {
	for _, branch := range q.slotBranches {
		if !occupied.Contains(branch) {
			return branch
		}
	}

	return ""
}

func (q *repoQueue) scheduleAsync(ctx context.Context) {
	if !q.schedulePending.CompareAndSwap(false, true) {
		return
	}

	q.enqueue(func() { q.schedule(ctx) })
}

// schedule starts merge builds until all build slots are occupied or no
// pull request is Ready.
func (q *repoQueue) schedule(ctx context.Context) {
	q.schedulePending.Store(false)

	for {
		res, err := q.reserve(ctx)
		if err != nil {
			q.logger.Warn("scheduling merge build failed",
				logfields.Event("schedule_failed"),
				zap.Error(err),
			)
			return
		}

		if res == nil {
			return
		}

		q.logger.Info("pull requests selected for merge build",
			append(res.logFields(), logfields.Event("build_scheduled"))...,
		)

		if !q.mq.cmdPool.TryQueue(func() { q.dispatch(ctx, res) }) {
			q.release(res)
			return
		}
	}
}

// reserve runs the scheduler and reserves a build slot for the selected
// pull requests. If no build can be started, nil is returned.
func (q *repoQueue) reserve(ctx context.Context) (*reservation, error) {
	var res *reservation

	err := q.mq.retryer.Run(ctx, func(ctx context.Context) error {
		var candidates []*model.PullRequest
		var baseSHA, branch string

		q.lock.Lock()
		defer q.lock.Unlock()

		err := q.mq.store.InTx(ctx, func(ctx context.Context) error {
			ready, err := q.mq.store.ListPullRequests(ctx, q.repo, model.StatusReady)
			if err != nil {
				return err
			}

			active, occupied, err := q.occupiedSlots(ctx)
			if err != nil {
				return err
			}

			_, reserved := q.reservedAutoBuilds()
			unreserved := ready[:0]
			for _, pr := range ready {
				if _, exists := reserved[pr.Number]; !exists {
					unreserved = append(unreserved, pr)
				}
			}

			candidates, err = selectCandidates(unreserved, active, &q.sched)
			if err != nil || len(candidates) == 0 {
				return err
			}

			branch = q.freeSlotBranch(occupied)
			if branch == "" {
				candidates = nil
				return borserr.ErrNoCapacity
			}

			bb, err := q.mq.store.GetBaseBranch(ctx, q.repo, candidates[0].BaseBranch)
			if err != nil {
				if errors.Is(err, borserr.ErrNotFound) {
					return nil
				}

				return err
			}

			baseSHA = bb.SHA
			return nil
		})
		if err != nil {
			if errors.Is(err, borserr.ErrNoCapacity) {
				q.logger.Debug("all build slots are occupied", logfields.Event("no_capacity"))
				return nil
			}

			return borserr.NewRetryableAnytimeError(err)
		}

		if len(candidates) == 0 {
			return nil
		}

		heads := make([]githubclt.MergeHead, 0, len(candidates))
		for _, pr := range candidates {
			heads = append(heads, githubclt.MergeHead{Number: pr.Number, SHA: pr.HeadSHA})
		}

		res = q.newReservation(model.BuildKindAuto, branch, candidates[0].BaseBranch, baseSHA, heads)

		return nil
	}, q.repo.LogFields())

	return res, err
}

func (q *repoQueue) dispatchTry(ctx context.Context, cmd *command) {
	var baseSHA string

	bb, err := q.mq.store.GetBaseBranch(ctx, q.repo, cmd.baseBranch)
	if err == nil {
		baseSHA = bb.SHA
	} else if !errors.Is(err, borserr.ErrNotFound) {
		q.logger.Warn("retrieving base branch failed",
			logfields.Event("try_build_failed"),
			logfields.PullRequest(cmd.pr),
			zap.Error(err),
		)
	}

	q.lock.Lock()
	res := q.newReservation(
		model.BuildKindTry,
		tryBranch(q.mq.cfg.TryBranchPrefix, cmd.pr),
		cmd.baseBranch, baseSHA,
		[]githubclt.MergeHead{{Number: cmd.pr, SHA: cmd.headSHA}},
	)
	q.lock.Unlock()

	q.dispatch(ctx, res)
}

func tryBranch(prefix string, number int) string {
	return fmt.Sprintf("%s%d", prefix, number)
}

// dispatch creates the commit for a reservation, records the build and
// starts it at the CI provider.
func (q *repoQueue) dispatch(ctx context.Context, res *reservation) {
	defer q.release(res)

	logF := append(q.repo.LogFields(), res.logFields()...)
	logger := q.logger.With(res.logFields()...)

	if res.baseSHA == "" {
		err := q.mq.retryer.Run(ctx, func(ctx context.Context) error {
			var err error
			res.baseSHA, err = q.mq.gh.BranchHead(ctx, q.repo.Owner, q.repo.Name, res.baseBranch)
			return err
		}, logF)
		if err != nil {
			q.prepareFailed(ctx, logger, res, fmt.Errorf("retrieving head of base branch failed: %w", err))
			return
		}
	}

	var sha string
	err := q.mq.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		sha, err = q.mq.preparer.PrepareCommit(ctx, q.repo.Owner, q.repo.Name, res.branch, res.baseSHA, res.heads)
		return err
	}, logF)
	if err != nil {
		q.prepareFailed(ctx, logger, res, err)
		return
	}

	logger = logger.With(logfields.Commit(sha))

	b, err := q.attach(ctx, res, sha)
	if err != nil {
		if errors.Is(err, borserr.ErrStateConflict) {
			logger.Info("pull requests changed while the build commit was created, build discarded",
				logfields.Event("build_discarded"),
				zap.Error(err),
			)
			return
		}

		logger.Error("recording build failed",
			logfields.Event("build_record_failed"),
			zap.Error(err),
		)
		return
	}

	if b == nil {
		logger.Info("build was already started", logfields.Event("build_already_started"))
		return
	}

	metrics.BuildStarted(q.repo, b.Kind)

	var externalID string
	startErr := q.mq.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		externalID, err = q.mq.ci.StartBuild(ctx, q.repo, b.Branch, b.CommitSHA, b.Parent)
		return err
	}, append(logF, b.LogFields()...))
	if startErr != nil {
		startErr = fmt.Errorf("%w: %w", borserr.ErrProviderUnavailable, startErr)
		logger.Warn("starting build failed",
			logfields.Event("build_start_failed"),
			zap.Error(startErr),
		)
	} else {
		logger.Info("build started",
			logfields.Event("build_started"),
			logfields.Build(b.ID),
			logfields.BuildExternalID(externalID),
		)
	}

	err = q.transact(ctx, logF, func(ctx context.Context, s *snapshot) error {
		if s.builds[b.ID] == nil {
			build, err := q.mq.store.GetBuild(ctx, b.ID)
			if err != nil {
				return borserr.NewRetryableAnytimeError(err)
			}

			s.addBuild(build)
		}

		q.machine.buildStarted(s, s.builds[b.ID], externalID, startErr)
		return nil
	})
	if err != nil {
		logger.Error("recording build start failed",
			logfields.Event("build_record_failed"),
			zap.Error(err),
		)
	}
}

// attach stores the build and references it from the pull requests of the
// reservation. If the build was started already, nil is returned.
func (q *repoQueue) attach(ctx context.Context, res *reservation, sha string) (*model.Build, error) {
	var result *model.Build

	err := q.transact(ctx, res.logFields(), func(ctx context.Context, s *snapshot) error {
		result = nil
		q.releaseIn(s, res)

		if err := q.machine.validateReservation(s, res); err != nil {
			return err
		}

		b, created, err := q.mq.store.CreateBuild(ctx, &model.Build{
			Repo:      q.repo,
			Kind:      res.kind,
			Branch:    res.branch,
			CommitSHA: sha,
			Parent:    res.baseSHA,
			Status:    model.BuildStatusPending,
		})
		if err != nil {
			return borserr.NewRetryableAnytimeError(fmt.Errorf("creating build failed: %w", err))
		}

		s.addBuild(b)
		b = s.builds[b.ID]

		if err := q.machine.attachBuild(s, res, b); err != nil {
			return err
		}

		if !created {
			q.logger.Info("build for commit exists already",
				append(b.LogFields(), logfields.Event("build_exists"))...,
			)
		}

		if b.ExternalID == "" {
			result = b
		}

		return nil
	})

	return result, err
}

func (q *repoQueue) prepareFailed(ctx context.Context, logger *zap.Logger, res *reservation, prepareErr error) {
	var conflictErr *githubclt.MergeConflictError
	isConflict := errors.As(prepareErr, &conflictErr)

	if isConflict {
		logger.Info("merge conflict while creating build commit",
			logfields.Event("build_merge_conflict"),
			logfields.PullRequest(conflictErr.Number),
		)
	} else {
		logger.Warn("creating build commit failed",
			logfields.Event("build_prepare_failed"),
			zap.Error(prepareErr),
		)
	}

	if !isConflict && res.kind == model.BuildKindAuto {
		// the pull requests stay Ready, the reconciliation reschedules them
		return
	}

	err := q.transact(ctx, res.logFields(), func(_ context.Context, s *snapshot) error {
		q.releaseIn(s, res)

		if isConflict {
			q.machine.prepareConflict(s, res, conflictErr.Index)
			return nil
		}

		s.comment(res.heads[0].Number, commentTryPrepareFailed(prepareErr))
		return nil
	})
	if err != nil {
		logger.Error("recording merge conflict failed",
			logfields.Event("build_record_failed"),
			zap.Error(err),
		)
	}
}
