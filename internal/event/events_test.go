package event

import (
	"github.com/google/go-github/v59/github"
)

const (
	repo      = "repo"
	repoOwner = "testman"
)

func strPtr(in string) *string {
	return &in
}

func intPtr(in int) *int {
	return &in
}

func newRepo() *github.Repository {
	return &github.Repository{
		Name: strPtr(repo),
		Owner: &github.User{
			Login: strPtr(repoOwner),
		},
	}
}

func newBasicPullRequest(prNumber int, baseBranchName, headSHA string) *github.PullRequest {
	return &github.PullRequest{
		Number: &prNumber,
		Title:  strPtr("fix it"),
		User:   &github.User{Login: strPtr("author")},
		Base: &github.PullRequestBranch{
			Ref: &baseBranchName,
		},
		Head: &github.PullRequestBranch{
			Ref: strPtr("feature"),
			SHA: strPtr(headSHA),
		},
	}
}

func newPullRequestEvent(action string, prNumber int, baseBranchName, headSHA string) *github.PullRequestEvent {
	return &github.PullRequestEvent{
		Action:      strPtr(action),
		Number:      intPtr(prNumber),
		PullRequest: newBasicPullRequest(prNumber, baseBranchName, headSHA),
		Repo:        newRepo(),
	}
}

func newIssueCommentEvent(prNumber int, author, body string) *github.IssueCommentEvent {
	return &github.IssueCommentEvent{
		Action: strPtr("created"),
		Issue: &github.Issue{
			Number: intPtr(prNumber),
			PullRequestLinks: &github.PullRequestLinks{
				URL: strPtr("https://api.github.com/repos/testman/repo/pulls/1"),
			},
		},
		Comment: &github.IssueComment{
			Body: strPtr(body),
			User: &github.User{Login: strPtr(author)},
		},
		Repo: newRepo(),
	}
}

func newReviewEvent(prNumber int, action, state, reviewer, commitID string) *github.PullRequestReviewEvent {
	return &github.PullRequestReviewEvent{
		Action: strPtr(action),
		Review: &github.PullRequestReview{
			State:    strPtr(state),
			CommitID: strPtr(commitID),
			User:     &github.User{Login: strPtr(reviewer)},
		},
		PullRequest: newBasicPullRequest(prNumber, "main", commitID),
		Repo:        newRepo(),
		Sender:      &github.User{Login: strPtr(reviewer)},
	}
}

func newPushEvent(branch, sha string) *github.PushEvent {
	return &github.PushEvent{
		Ref:   strPtr("refs/heads/" + branch),
		After: strPtr(sha),
		Repo: &github.PushEventRepository{
			Name:  strPtr(repo),
			Owner: &github.User{Login: strPtr(repoOwner)},
		},
	}
}

func newCheckSuiteEvent(branch, sha, conclusion, app string) *github.CheckSuiteEvent {
	return &github.CheckSuiteEvent{
		Action: strPtr("completed"),
		CheckSuite: &github.CheckSuite{
			HeadBranch: strPtr(branch),
			HeadSHA:    strPtr(sha),
			Conclusion: strPtr(conclusion),
			App:        &github.App{Slug: strPtr(app)},
		},
		Repo: newRepo(),
	}
}
