package event

import (
	"fmt"
	"strings"

	"github.com/google/go-github/v59/github"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/model"
)

const zeroSHA = "0000000000000000000000000000000000000000"

func malformed(format string, a ...any) error {
	return fmt.Errorf("%w: %s", borserr.ErrMalformedEvent, fmt.Sprintf(format, a...))
}

func repoID(owner, name string) (model.RepoID, error) {
	r, err := model.NewRepoID(owner, name)
	if err != nil {
		return model.RepoID{}, fmt.Errorf("%w: %w", borserr.ErrMalformedEvent, err)
	}

	return r, nil
}

func branchRefToBranch(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}

// MergeableStateFromGithub converts the mergeable_state value of the GitHub
// REST API.
func MergeableStateFromGithub(state string) model.MergeableState {
	switch state {
	case "clean", "unstable", "has_hooks":
		return model.MergeableStateMergeable
	case "dirty":
		return model.MergeableStateConflicting
	case "behind":
		return model.MergeableStateBehind
	default:
		// "unknown", "blocked", "draft" and empty values
		return model.MergeableStateUnknown
	}
}

func (n *Normalizer) fromGithub(deliveryID string, ev any) ([]Event, error) {
	switch ev := ev.(type) {
	case *github.IssueCommentEvent:
		return n.fromIssueComment(deliveryID, ev)
	case *github.PullRequestReviewEvent:
		return fromPullRequestReview(deliveryID, ev)
	case *github.PullRequestEvent:
		return fromPullRequest(deliveryID, ev)
	case *github.PushEvent:
		return n.fromPush(deliveryID, ev)
	case *github.CheckSuiteEvent:
		return n.fromCheckSuite(deliveryID, ev)
	case *github.WorkflowRunEvent:
		return n.fromWorkflowRun(deliveryID, ev)
	case *github.StatusEvent:
		return n.fromStatus(deliveryID, ev)
	default:
		return nil, nil
	}
}

func prMeta(deliveryID string, repo *github.Repository, number int) (Meta, error) {
	r, err := repoID(repo.GetOwner().GetLogin(), repo.GetName())
	if err != nil {
		return Meta{}, err
	}

	if number <= 0 {
		return Meta{}, malformed("pull request number is %d, must be >0", number)
	}

	return Meta{Repo: r, Number: number, DeliveryID: deliveryID}, nil
}

func (n *Normalizer) fromIssueComment(deliveryID string, ev *github.IssueCommentEvent) ([]Event, error) {
	if ev.GetAction() != "created" {
		return nil, nil
	}

	if !ev.GetIssue().IsPullRequest() {
		return nil, nil
	}

	cmds, err := ParseCommands(n.commandPrefix, ev.GetComment().GetBody())
	if err != nil {
		return nil, err
	}

	if len(cmds) == 0 {
		return nil, nil
	}

	meta, err := prMeta(deliveryID, ev.GetRepo(), ev.GetIssue().GetNumber())
	if err != nil {
		return nil, err
	}

	actor := ev.GetComment().GetUser().GetLogin()
	if actor == "" {
		return nil, malformed("comment author is empty")
	}

	result := make([]Event, 0, len(cmds))
	for _, cmd := range cmds {
		result = append(result, &CommandReceived{
			Meta:    meta,
			Actor:   actor,
			Command: *cmd,
		})
	}

	return result, nil
}

func fromPullRequestReview(deliveryID string, ev *github.PullRequestReviewEvent) ([]Event, error) {
	meta, err := prMeta(deliveryID, ev.GetRepo(), ev.GetPullRequest().GetNumber())
	if err != nil {
		return nil, err
	}

	switch ev.GetAction() {
	case "submitted":
		if !strings.EqualFold(ev.GetReview().GetState(), "approved") {
			return nil, nil
		}

		sha := ev.GetReview().GetCommitID()
		if sha == "" {
			return nil, malformed("approved review has an empty commit id")
		}

		return []Event{&ApprovalGranted{
			Meta:  meta,
			Actor: ev.GetReview().GetUser().GetLogin(),
			SHA:   sha,
		}}, nil

	case "dismissed":
		return []Event{&ApprovalRevoked{
			Meta:  meta,
			Actor: ev.GetSender().GetLogin(),
		}}, nil

	default:
		return nil, nil
	}
}

func fromPullRequest(deliveryID string, ev *github.PullRequestEvent) ([]Event, error) {
	pr := ev.GetPullRequest()

	number := ev.GetNumber()
	if number == 0 {
		number = pr.GetNumber()
	}

	meta, err := prMeta(deliveryID, ev.GetRepo(), number)
	if err != nil {
		return nil, err
	}

	var result []Event

	switch ev.GetAction() {
	case "opened", "reopened":
		if pr.GetHead().GetSHA() == "" || pr.GetBase().GetRef() == "" {
			return nil, malformed("pull request head sha or base ref is empty")
		}

		return []Event{&PullRequestOpened{
			Meta:           meta,
			Title:          pr.GetTitle(),
			Author:         pr.GetUser().GetLogin(),
			HeadSHA:        pr.GetHead().GetSHA(),
			BaseBranch:     pr.GetBase().GetRef(),
			MergeableState: MergeableStateFromGithub(pr.GetMergeableState()),
		}}, nil

	case "synchronize":
		sha := pr.GetHead().GetSHA()
		if sha == "" {
			return nil, malformed("pull request head sha is empty")
		}

		result = append(result, &HeadChanged{Meta: meta, NewSHA: sha})

	case "closed":
		return []Event{&PullRequestClosed{Meta: meta, Merged: pr.GetMerged()}}, nil

	case "edited":
		if ev.GetChanges().GetBase() != nil {
			newBase := pr.GetBase().GetRef()
			if newBase == "" {
				return nil, malformed("pull request base ref is empty")
			}

			result = append(result, &BaseChanged{Meta: meta, NewBase: newBase})
		}
	}

	if state := MergeableStateFromGithub(pr.GetMergeableState()); state != model.MergeableStateUnknown {
		result = append(result, &MergeableStateChanged{
			Meta:     meta,
			NewState: state,
			HeadSHA:  pr.GetHead().GetSHA(),
		})
	}

	return result, nil
}

func (n *Normalizer) fromPush(deliveryID string, ev *github.PushEvent) ([]Event, error) {
	if !strings.HasPrefix(ev.GetRef(), "refs/heads/") {
		// tags
		return nil, nil
	}

	branch := branchRefToBranch(ev.GetRef())
	if n.IsBuildBranch(branch) {
		return nil, nil
	}

	if ev.GetDeleted() || ev.GetAfter() == "" || ev.GetAfter() == zeroSHA {
		return nil, nil
	}

	r, err := repoID(ev.GetRepo().GetOwner().GetLogin(), ev.GetRepo().GetName())
	if err != nil {
		return nil, err
	}

	return []Event{&PushToBase{
		Meta:   Meta{Repo: r, DeliveryID: deliveryID},
		Branch: branch,
		NewSHA: ev.GetAfter(),
	}}, nil
}

func conclusionToBuildStatus(conclusion string) (model.BuildStatus, error) {
	outcome, finished, err := ciStatusToBuildStatus(conclusion)
	if err != nil {
		return "", err
	}

	if !finished {
		return "", malformed("conclusion %q is not a final result", conclusion)
	}

	return outcome, nil
}

func (n *Normalizer) fromCheckSuite(deliveryID string, ev *github.CheckSuiteEvent) ([]Event, error) {
	if ev.GetAction() != "completed" {
		return nil, nil
	}

	suite := ev.GetCheckSuite()
	if !n.IsBuildBranch(suite.GetHeadBranch()) {
		return nil, nil
	}

	if n.checkSuiteApp != "" && suite.GetApp().GetSlug() != n.checkSuiteApp {
		return nil, nil
	}

	r, err := repoID(ev.GetRepo().GetOwner().GetLogin(), ev.GetRepo().GetName())
	if err != nil {
		return nil, err
	}

	if suite.GetHeadSHA() == "" {
		return nil, malformed("check suite head sha is empty")
	}

	outcome, err := conclusionToBuildStatus(suite.GetConclusion())
	if err != nil {
		return nil, err
	}

	return []Event{&CheckFinished{
		Meta: Meta{Repo: r, DeliveryID: deliveryID},
		Ref: BuildRef{
			Branch:    suite.GetHeadBranch(),
			CommitSHA: suite.GetHeadSHA(),
		},
		Outcome: outcome,
	}}, nil
}

func (n *Normalizer) fromWorkflowRun(deliveryID string, ev *github.WorkflowRunEvent) ([]Event, error) {
	run := ev.GetWorkflowRun()
	if !n.IsBuildBranch(run.GetHeadBranch()) {
		return nil, nil
	}

	r, err := repoID(ev.GetRepo().GetOwner().GetLogin(), ev.GetRepo().GetName())
	if err != nil {
		return nil, err
	}

	var status model.WorkflowStatus
	switch ev.GetAction() {
	case "requested", "in_progress":
		status = model.WorkflowStatusPending

	case "completed":
		outcome, err := conclusionToBuildStatus(run.GetConclusion())
		if err != nil {
			return nil, err
		}

		if outcome == model.BuildStatusSuccess {
			status = model.WorkflowStatusSuccess
		} else {
			status = model.WorkflowStatusFailure
		}

	default:
		return nil, nil
	}

	return []Event{&WorkflowUpdated{
		Meta: Meta{Repo: r, DeliveryID: deliveryID},
		Ref: BuildRef{
			Branch:    run.GetHeadBranch(),
			CommitSHA: run.GetHeadSHA(),
		},
		Name:         run.GetName(),
		URL:          run.GetHTMLURL(),
		RunID:        run.GetID(),
		WorkflowType: model.WorkflowTypeGithub,
		Status:       status,
	}}, nil
}

func (n *Normalizer) fromStatus(deliveryID string, ev *github.StatusEvent) ([]Event, error) {
	if n.statusContext == "" || ev.GetContext() != n.statusContext {
		return nil, nil
	}

	var branch string
	for _, b := range ev.Branches {
		if n.IsBuildBranch(b.GetName()) {
			branch = b.GetName()
			break
		}
	}

	if branch == "" {
		return nil, nil
	}

	r, err := repoID(ev.GetRepo().GetOwner().GetLogin(), ev.GetRepo().GetName())
	if err != nil {
		return nil, err
	}

	outcome, finished, err := ciStatusToBuildStatus(ev.GetState())
	if err != nil {
		return nil, err
	}

	if !finished {
		return nil, nil
	}

	return []Event{&CheckFinished{
		Meta: Meta{Repo: r, DeliveryID: deliveryID},
		Ref: BuildRef{
			Branch:    branch,
			CommitSHA: ev.GetSHA(),
		},
		Outcome: outcome,
		URL:     ev.GetTargetURL(),
	}}, nil
}
