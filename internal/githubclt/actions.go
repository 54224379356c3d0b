package githubclt

import (
	"context"
	"net/http"

	"github.com/google/go-github/v59/github"
)

// WorkflowRun is a GitHub Actions workflow run.
type WorkflowRun struct {
	ID         int64
	Name       string
	Status     string
	Conclusion string
	URL        string
}

// WorkflowRuns returns the GitHub Actions runs for commit sha on branch.
func (clt *Client) WorkflowRuns(ctx context.Context, owner, repo, branch, sha string) ([]*WorkflowRun, error) {
	var result []*WorkflowRun

	opts := github.ListWorkflowRunsOptions{
		Branch:      branch,
		HeadSHA:     sha,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		runs, resp, err := clt.restClt.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, &opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		for _, r := range runs.WorkflowRuns {
			result = append(result, &WorkflowRun{
				ID:         r.GetID(),
				Name:       r.GetName(),
				Status:     r.GetStatus(),
				Conclusion: r.GetConclusion(),
				URL:        r.GetHTMLURL(),
			})
		}

		if resp.NextPage == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

// CancelWorkflowRun cancels a workflow run.
// Cancelling a run that already finished succeeds.
func (clt *Client) CancelWorkflowRun(ctx context.Context, owner, repo string, runID int64) error {
	_, err := clt.restClt.Actions.CancelWorkflowRunByID(ctx, owner, repo, runID)
	if err != nil {
		if _, ok := err.(*github.AcceptedError); ok {
			return nil
		}

		if _, ok := isHTTPStatus(err, http.StatusConflict); ok {
			return nil
		}

		return clt.wrapRetryableErrors(err)
	}

	return nil
}
