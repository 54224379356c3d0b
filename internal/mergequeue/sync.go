package mergequeue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/event"
	"github.com/simplesurance/gobors/internal/githubclt"
	"github.com/simplesurance/gobors/internal/logfields"
	"github.com/simplesurance/gobors/internal/model"
	"github.com/simplesurance/gobors/internal/set"
)

// InitSync does an initial synchronization of the stored pull requests with
// their state at GitHub.
// This is intended to be run before the event loop is started.
// Open pull requests are recorded or updated, stored pull requests that are
// not open anymore are closed and the SHAs of the base branches are
// refreshed.
func (mq *MergeQueue) InitSync(ctx context.Context) error {
	for _, r := range mq.cfg.Repositories {
		q := mq.repos[r.Repo]

		if err := q.sync(ctx); err != nil {
			return fmt.Errorf("syncing %s failed: %w", q.repo, err)
		}
	}

	return nil
}

func (q *repoQueue) sync(ctx context.Context) error {
	stats := syncStat{StartTime: time.Now()}

	q.logger.Info("starting synchronization", logfields.Event("initial_sync_started"))

	open := set.Set[int]{}
	bases := set.Set[string]{}

	it := q.mq.gh.ListPullRequests(ctx, q.repo.Owner, q.repo.Name, "open", "created", "asc")
	for {
		var ghPR *github.PullRequest

		err := q.mq.retryer.Run(ctx, func(context.Context) error {
			var err error
			ghPR, err = it.Next()
			return err
		}, q.repo.LogFields())
		if err != nil {
			return err
		}

		if ghPR == nil {
			break
		}

		stats.Seen++

		ev, err := q.openedEvent(ghPR)
		if err != nil {
			stats.Failures++
			q.logger.Warn("skipping pull request with incomplete information",
				logfields.PullRequest(ghPR.GetNumber()),
				logFieldEventIgnored,
				zap.Error(err),
			)
			continue
		}

		open.Add(ev.Number)
		bases.Add(ev.BaseBranch)

		_, err = q.mq.store.GetPullRequest(ctx, model.PullRequestID{Repo: q.repo, Number: ev.Number})
		if errors.Is(err, borserr.ErrNotFound) {
			stats.Created++
		}

		q.handleEvent(ctx, ev)
	}

	stored, err := q.mq.store.ListPullRequests(ctx, q.repo, nonTerminalStatuses...)
	if err != nil {
		return fmt.Errorf("listing stored pull requests failed: %w", err)
	}

	for _, pr := range stored {
		if open.Contains(pr.Number) {
			continue
		}

		// redefine variable, to make PR fields scoped to this iteration
		logger := q.logger.With(logfields.PullRequest(pr.Number))

		var state *githubclt.PullRequestState
		err := q.mq.retryer.Run(ctx, func(ctx context.Context) error {
			var err error
			state, err = q.mq.gh.PullRequestState(ctx, q.repo.Owner, q.repo.Name, pr.Number)
			return err
		}, pr.LogFields())
		if err != nil {
			stats.Failures++
			logger.Warn("retrieving pull request state failed",
				logfields.Event("github_pull_request_state_failed"),
				zap.Error(err),
			)
			continue
		}

		if !state.Open {
			stats.Closed++
			logger.Info("pull request was closed while not monitored",
				logfields.Event("queue_out_of_sync"),
			)
		}

		for _, ev := range stateEvents(q.repo, state) {
			q.handleEvent(ctx, ev)
		}
	}

	for _, branch := range set.Sorted(bases) {
		var sha string
		err := q.mq.retryer.Run(ctx, func(ctx context.Context) error {
			var err error
			sha, err = q.mq.gh.BranchHead(ctx, q.repo.Owner, q.repo.Name, branch)
			return err
		}, append(q.repo.LogFields(), logfields.BaseBranch(branch)))
		if err != nil {
			stats.Failures++
			q.logger.Warn("retrieving head of base branch failed",
				logfields.BaseBranch(branch),
				logfields.Event("github_branch_head_failed"),
				zap.Error(err),
			)
			continue
		}

		q.handleEvent(ctx, &event.PushToBase{
			Meta:   event.Meta{Repo: q.repo},
			Branch: branch,
			NewSHA: sha,
		})
	}

	stats.EndTime = time.Now()

	q.logger.Info("synchronization finished", stats.LogFields()...)

	return nil
}

func (q *repoQueue) openedEvent(pr *github.PullRequest) (*event.PullRequestOpened, error) {
	if pr.GetNumber() <= 0 {
		return nil, fmt.Errorf("invalid pr number: %d", pr.GetNumber())
	}

	if pr.GetHead().GetSHA() == "" {
		return nil, errors.New("head commit is missing")
	}

	if pr.GetBase().GetRef() == "" {
		return nil, errors.New("base branch is missing")
	}

	return &event.PullRequestOpened{
		Meta:       event.Meta{Repo: q.repo, Number: pr.GetNumber()},
		Title:      pr.GetTitle(),
		Author:     pr.GetUser().GetLogin(),
		HeadSHA:    pr.GetHead().GetSHA(),
		BaseBranch: pr.GetBase().GetRef(),
	}, nil
}
