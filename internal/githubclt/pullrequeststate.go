package githubclt

import (
	"context"
	"errors"
	"fmt"

	"github.com/shurcooL/githubv4"

	"github.com/simplesurance/gobors/internal/model"
)

// PullRequestState is the state of a pull request as reported by GitHub.
type PullRequestState struct {
	Number     int
	Title      string
	Author     string
	HeadSHA    string
	BaseBranch string
	Open       bool
	Merged     bool
	Mergeable  model.MergeableState
}

// mergeStateStatus is the GraphQL MergeStateStatus enum, githubv4 does not
// provide a type for it.
type mergeStateStatus string

const (
	mergeStateStatusBehind  mergeStateStatus = "BEHIND"
	mergeStateStatusBlocked mergeStateStatus = "BLOCKED"
	mergeStateStatusClean   mergeStateStatus = "CLEAN"
	mergeStateStatusDirty   mergeStateStatus = "DIRTY"
	mergeStateStatusUnknown mergeStateStatus = "UNKNOWN"
)

type queryPullRequest struct {
	Number           githubv4.Int
	Title            githubv4.String
	State            githubv4.PullRequestState
	Mergeable        githubv4.MergeableState
	MergeStateStatus mergeStateStatus
	HeadRefOid       githubv4.GitObjectID
	BaseRefName      githubv4.String
	Author           struct {
		Login githubv4.String
	}
}

// PullRequestState queries the current state of a pull request.
func (clt *Client) PullRequestState(ctx context.Context, owner, repo string, number int) (*PullRequestState, error) {
	var q struct {
		Repository struct {
			PullRequest queryPullRequest `graphql:"pullRequest(number: $prNumber)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}

	vars := map[string]any{
		"owner":    githubv4.String(owner),
		"repo":     githubv4.String(repo),
		"prNumber": githubv4.Int(number),
	}

	if err := clt.graphQLClt.Query(ctx, &q, vars); err != nil {
		return nil, clt.wrapGraphQLRetryableErrors(err)
	}

	pr := &q.Repository.PullRequest
	if pr.Number == 0 {
		return nil, fmt.Errorf("pull request %s/%s#%d not found", owner, repo, number)
	}

	if pr.HeadRefOid == "" {
		return nil, errors.New("got pull request with empty head commit")
	}

	return &PullRequestState{
		Number:     int(pr.Number),
		Title:      string(pr.Title),
		Author:     string(pr.Author.Login),
		HeadSHA:    string(pr.HeadRefOid),
		BaseBranch: string(pr.BaseRefName),
		Open:       pr.State == githubv4.PullRequestStateOpen,
		Merged:     pr.State == githubv4.PullRequestStateMerged,
		Mergeable:  toMergeableState(pr.Mergeable, pr.MergeStateStatus),
	}, nil
}

// toMergeableState converts the GitHub values. A pull request that is blocked
// by branch protection rules is mergeable, gobors pushes to the base branch
// itself after the build succeeded.
func toMergeableState(mergeable githubv4.MergeableState, status mergeStateStatus) model.MergeableState {
	switch status {
	case mergeStateStatusBehind:
		return model.MergeableStateBehind
	case mergeStateStatusDirty:
		return model.MergeableStateConflicting
	}

	switch mergeable {
	case githubv4.MergeableStateMergeable:
		return model.MergeableStateMergeable
	case githubv4.MergeableStateConflicting:
		return model.MergeableStateConflicting
	default:
		return model.MergeableStateUnknown
	}
}
