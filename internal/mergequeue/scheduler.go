package mergequeue

import (
	"cmp"
	"slices"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/model"
)

type schedulerOpts struct {
	buildSlots    int
	rollupEnabled bool
	maxBatchSize  int
}

// queueOrder sorts pull requests by priority descending, then by creation
// time and number ascending.
func queueOrder(a, b *model.PullRequest) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}

	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}

	return cmp.Compare(a.Number, b.Number)
}

// selectCandidates returns the pull requests that are tested together in
// the next merge build.
// Only Ready pull requests with a valid approval are considered.
// If all build slots are occupied borserr.ErrNoCapacity is returned.
// The first pull request in queue order defines the base branch, following
// pull requests with the same base are batched into a rollup until a
// pull request that must be built on its own is reached.
func selectCandidates(prs []*model.PullRequest, occupiedSlots int, opts *schedulerOpts) ([]*model.PullRequest, error) {
	queue := make([]*model.PullRequest, 0, len(prs))
	for _, pr := range prs {
		if pr.Status == model.StatusReady && pr.ApprovalIsValid() {
			queue = append(queue, pr)
		}
	}

	if len(queue) == 0 {
		return nil, nil
	}

	if occupiedSlots >= opts.buildSlots {
		return nil, borserr.ErrNoCapacity
	}

	slices.SortStableFunc(queue, queueOrder)

	head := queue[0]
	result := []*model.PullRequest{head}

	if !opts.rollupEnabled || opts.maxBatchSize <= 1 || !batchable(head) {
		return result, nil
	}

	for _, pr := range queue[1:] {
		if len(result) >= opts.maxBatchSize {
			break
		}

		if pr.BaseBranch != head.BaseBranch {
			continue
		}

		if !batchable(pr) {
			break
		}

		result = append(result, pr)
	}

	return result, nil
}

func batchable(pr *model.PullRequest) bool {
	return pr.Rollup.CanBatch() && !pr.Isolated
}
