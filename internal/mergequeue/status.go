package mergequeue

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/model"
)

// QueueStatus is the merge queue state of a repository.
type QueueStatus struct {
	Repository model.RepoID
	BuildSlots int
	// ActiveBuilds are the merge builds that occupy build slots.
	ActiveBuilds []*model.Build
	// InProgress are the pull requests that are built or merged.
	InProgress []*model.PullRequest
	// Queued are the pull requests that wait for a build slot, in the
	// order they are scheduled.
	Queued []*model.PullRequest
	// Approved are approved pull requests that are not mergeable yet.
	Approved    []*model.PullRequest
	TryBuilding []*model.PullRequest

	CreatedAt time.Time
}

// PullRequestStatus is the merge queue state of a pull request.
type PullRequestStatus struct {
	PullRequest *model.PullRequest
	Build       *model.Build
	TryBuild    *model.Build
	// Workflows are the CI workflow runs of the merge build.
	Workflows []*model.Workflow
	// QueuePosition is the 1-based position in the queue, 0 if the pull
	// request is not queued.
	QueuePosition int
}

// QueueStatus returns the state of the queue of repo.
func (mq *MergeQueue) QueueStatus(ctx context.Context, repo model.RepoID) (*QueueStatus, error) {
	q, err := mq.repoQueue(repo)
	if err != nil {
		return nil, err
	}

	var result *QueueStatus

	q.lock.Lock()
	defer q.lock.Unlock()

	err = mq.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = q.queueStatus(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// QueueStatuses returns the state of the queues of all monitored
// repositories.
func (mq *MergeQueue) QueueStatuses(ctx context.Context) ([]*QueueStatus, error) {
	result := make([]*QueueStatus, 0, len(mq.cfg.Repositories))

	for _, r := range mq.cfg.Repositories {
		st, err := mq.QueueStatus(ctx, r.Repo)
		if err != nil {
			return nil, err
		}

		result = append(result, st)
	}

	return result, nil
}

func (q *repoQueue) queueStatus(ctx context.Context) (*QueueStatus, error) {
	result := QueueStatus{
		Repository: q.repo,
		BuildSlots: q.sched.buildSlots,
		CreatedAt:  q.mq.now(),
	}

	prs, err := q.mq.store.ListPullRequests(ctx, q.repo, nonTerminalStatuses...)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(prs, queueOrder)

	for _, pr := range prs {
		switch pr.Status {
		case model.StatusBuilding, model.StatusMerging:
			result.InProgress = append(result.InProgress, pr)
		case model.StatusReady:
			result.Queued = append(result.Queued, pr)
		case model.StatusApproved:
			result.Approved = append(result.Approved, pr)
		case model.StatusTryBuilding:
			result.TryBuilding = append(result.TryBuilding, pr)
		}
	}

	builds, err := q.mq.store.ActiveBuilds(ctx, q.repo)
	if err != nil {
		return nil, err
	}

	for _, b := range builds {
		if b.Kind == model.BuildKindAuto {
			result.ActiveBuilds = append(result.ActiveBuilds, b)
		}
	}

	return &result, nil
}

// PullRequestStatus returns the state of a pull request and its builds.
func (mq *MergeQueue) PullRequestStatus(ctx context.Context, id model.PullRequestID) (*PullRequestStatus, error) {
	q, err := mq.repoQueue(id.Repo)
	if err != nil {
		return nil, err
	}

	var result PullRequestStatus

	q.lock.Lock()
	defer q.lock.Unlock()

	err = mq.store.InTx(ctx, func(ctx context.Context) error {
		pr, err := mq.store.GetPullRequest(ctx, id)
		if err != nil {
			return err
		}

		result.PullRequest = pr

		if pr.TryBuildID != nil {
			owner, b, err := mq.store.FindPullRequestByBuild(ctx, *pr.TryBuildID)
			if err != nil && !errors.Is(err, borserr.ErrNotFound) {
				return err
			}

			if owner != nil && owner.Number == pr.Number {
				result.TryBuild = b
			}
		}

		if pr.BuildID != nil {
			b, err := mq.store.GetBuild(ctx, *pr.BuildID)
			if err != nil && !errors.Is(err, borserr.ErrNotFound) {
				return err
			}

			result.Build = b

			if b != nil {
				result.Workflows, err = mq.store.WorkflowsForBuild(ctx, b.ID)
				if err != nil {
					return err
				}
			}
		}

		if pr.Status != model.StatusReady {
			return nil
		}

		queued, err := mq.store.ListPullRequests(ctx, id.Repo, model.StatusReady)
		if err != nil {
			return err
		}

		slices.SortFunc(queued, queueOrder)

		result.QueuePosition = slices.IndexFunc(queued, func(e *model.PullRequest) bool {
			return e.Number == pr.Number
		}) + 1

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}
