package mergequeue

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/gobors/internal/githubclt"
	"github.com/simplesurance/gobors/internal/logfields"
)

// DryGithubClient is a github-client that does not do any changes on github.
// Comments and merges are simulated and always succeed, preparing a build
// commit returns the head commit of the last pull request.
// All other operations are forwarded to a wrapped GithubClient.
type DryGithubClient struct {
	clt    GithubClient
	logger *zap.Logger
}

func NewDryGithubClient(clt GithubClient, logger *zap.Logger) *DryGithubClient {
	return &DryGithubClient{
		clt:    clt,
		logger: logger.Named("dry_github_client"),
	}
}

func (c *DryGithubClient) CreateIssueComment(_ context.Context, owner, repo string, issueOrPRNr int, comment string) error {
	c.logger.Info("simulated creating of github issue comment, no comment created on github",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(issueOrPRNr),
		zap.String("comment", comment),
	)
	return nil
}

func (c *DryGithubClient) PullRequestState(ctx context.Context, owner, repo string, number int) (*githubclt.PullRequestState, error) {
	return c.clt.PullRequestState(ctx, owner, repo, number)
}

func (c *DryGithubClient) ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) githubclt.PRIterator {
	return c.clt.ListPullRequests(ctx, owner, repo, state, sort, sortDirection)
}

func (c *DryGithubClient) BranchHead(ctx context.Context, owner, repo, branch string) (string, error) {
	return c.clt.BranchHead(ctx, owner, repo, branch)
}

func (c *DryGithubClient) FastForward(_ context.Context, owner, repo, branch, sha string) error {
	c.logger.Info("simulated fast-forward of github branch, branch is unchanged",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Branch(branch),
		logfields.Commit(sha),
	)
	return nil
}

func (c *DryGithubClient) PrepareCommit(_ context.Context, owner, repo, branch, baseSHA string, heads []githubclt.MergeHead) (string, error) {
	c.logger.Info("simulated preparing of build commit, no branch changed on github",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.Branch(branch),
		logfields.Commit(baseSHA),
	)

	if len(heads) == 0 {
		return baseSHA, nil
	}

	return heads[len(heads)-1].SHA, nil
}
