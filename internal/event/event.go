// Package event defines the internal event vocabulary of the merge queue and
// converts GitHub webhook and CI callback payloads into it.
package event

import (
	"go.uber.org/zap"

	"github.com/simplesurance/gobors/internal/logfields"
	"github.com/simplesurance/gobors/internal/model"
)

type Type string

const (
	TypeApprovalGranted       Type = "approval_granted"
	TypeApprovalRevoked       Type = "approval_revoked"
	TypePushToBase            Type = "push_to_base"
	TypeHeadChanged           Type = "head_changed"
	TypeMergeableStateChanged Type = "mergeable_state_changed"
	TypeCheckFinished         Type = "check_finished"
	TypeCommandReceived       Type = "command_received"
	TypePullRequestOpened     Type = "pull_request_opened"
	TypePullRequestClosed     Type = "pull_request_closed"
	TypeBaseChanged           Type = "base_changed"
	TypeWorkflowUpdated       Type = "workflow_updated"
)

// Event is a normalized repository or CI event.
type Event interface {
	Type() Type
	Repository() model.RepoID
	// PullRequest returns the number of the pull request the event is
	// about, it is 0 for repository scoped events.
	PullRequest() int
	LogFields() []zap.Field
}

// Meta contains the fields that all events have in common.
type Meta struct {
	Repo       model.RepoID
	Number     int
	DeliveryID string
}

func (m *Meta) Repository() model.RepoID {
	return m.Repo
}

func (m *Meta) PullRequest() int {
	return m.Number
}

func (m *Meta) logFields(t Type) []zap.Field {
	fields := append(m.Repo.LogFields(), logfields.EventType(string(t)))

	if m.Number != 0 {
		fields = append(fields, logfields.PullRequest(m.Number))
	}

	if m.DeliveryID != "" {
		fields = append(fields, logfields.DeliveryID(m.DeliveryID))
	}

	return fields
}

// ApprovalGranted is sent when a reviewer approved a pull request.
// SHA is the approved commit, it is empty when the approval applies to the
// current head of the pull request.
type ApprovalGranted struct {
	Meta
	Actor string
	SHA   string
}

func (*ApprovalGranted) Type() Type { return TypeApprovalGranted }

func (e *ApprovalGranted) LogFields() []zap.Field {
	return append(e.logFields(e.Type()), logfields.Actor(e.Actor), logfields.Commit(e.SHA))
}

type ApprovalRevoked struct {
	Meta
	Actor string
}

func (*ApprovalRevoked) Type() Type { return TypeApprovalRevoked }

func (e *ApprovalRevoked) LogFields() []zap.Field {
	return append(e.logFields(e.Type()), logfields.Actor(e.Actor))
}

// PushToBase is sent when a branch of the repository received a new commit.
// It is repository scoped, the affected pull requests are the ones with
// Branch as base branch.
type PushToBase struct {
	Meta
	Branch string
	NewSHA string
}

func (*PushToBase) Type() Type { return TypePushToBase }

func (e *PushToBase) LogFields() []zap.Field {
	return append(e.logFields(e.Type()), logfields.BaseBranch(e.Branch), logfields.Commit(e.NewSHA))
}

// HeadChanged is sent when a new commit was pushed to the branch of a pull
// request.
type HeadChanged struct {
	Meta
	NewSHA string
}

func (*HeadChanged) Type() Type { return TypeHeadChanged }

func (e *HeadChanged) LogFields() []zap.Field {
	return append(e.logFields(e.Type()), logfields.Commit(e.NewSHA))
}

type MergeableStateChanged struct {
	Meta
	NewState model.MergeableState
	// HeadSHA is the commit the state was computed for, it is empty
	// when unknown.
	HeadSHA string
}

func (*MergeableStateChanged) Type() Type { return TypeMergeableStateChanged }

func (e *MergeableStateChanged) LogFields() []zap.Field {
	return append(e.logFields(e.Type()),
		zap.String("mergeable_state", string(e.NewState)),
		logfields.Commit(e.HeadSHA),
	)
}

// BuildRef references a build either by its branch and commit or by the
// identifier the CI provider assigned to it.
type BuildRef struct {
	Branch     string
	CommitSHA  string
	ExternalID string
}

func (r *BuildRef) LogFields() []zap.Field {
	var fields []zap.Field

	if r.Branch != "" {
		fields = append(fields, logfields.Branch(r.Branch))
	}
	if r.CommitSHA != "" {
		fields = append(fields, logfields.Commit(r.CommitSHA))
	}
	if r.ExternalID != "" {
		fields = append(fields, logfields.BuildExternalID(r.ExternalID))
	}

	return fields
}

// CheckFinished is sent when the CI finished a build.
// Outcome is always a terminal build status.
type CheckFinished struct {
	Meta
	Ref     BuildRef
	Outcome model.BuildStatus
	// URL links to the build results, it can be empty.
	URL string
}

func (*CheckFinished) Type() Type { return TypeCheckFinished }

func (e *CheckFinished) LogFields() []zap.Field {
	return append(
		append(e.logFields(e.Type()), e.Ref.LogFields()...),
		logfields.BuildStatus(string(e.Outcome)),
	)
}

type CommandReceived struct {
	Meta
	Actor   string
	Command Command
}

func (*CommandReceived) Type() Type { return TypeCommandReceived }

func (e *CommandReceived) LogFields() []zap.Field {
	return append(e.logFields(e.Type()), logfields.Actor(e.Actor), logfields.Command(e.Command.String()))
}

type PullRequestOpened struct {
	Meta
	Title          string
	Author         string
	HeadSHA        string
	BaseBranch     string
	MergeableState model.MergeableState
}

func (*PullRequestOpened) Type() Type { return TypePullRequestOpened }

func (e *PullRequestOpened) LogFields() []zap.Field {
	return append(e.logFields(e.Type()), logfields.Commit(e.HeadSHA), logfields.BaseBranch(e.BaseBranch))
}

type PullRequestClosed struct {
	Meta
	Merged bool
}

func (*PullRequestClosed) Type() Type { return TypePullRequestClosed }

func (e *PullRequestClosed) LogFields() []zap.Field {
	return append(e.logFields(e.Type()), zap.Bool("merged", e.Merged))
}

// BaseChanged is sent when the base branch of a pull request was changed.
type BaseChanged struct {
	Meta
	NewBase string
}

func (*BaseChanged) Type() Type { return TypeBaseChanged }

func (e *BaseChanged) LogFields() []zap.Field {
	return append(e.logFields(e.Type()), logfields.BaseBranch(e.NewBase))
}

// WorkflowUpdated is sent when a CI workflow run of a build started or
// finished.
type WorkflowUpdated struct {
	Meta
	Ref          BuildRef
	Name         string
	URL          string
	RunID        int64
	WorkflowType model.WorkflowType
	Status       model.WorkflowStatus
}

func (*WorkflowUpdated) Type() Type { return TypeWorkflowUpdated }

func (e *WorkflowUpdated) LogFields() []zap.Field {
	return append(
		append(e.logFields(e.Type()), e.Ref.LogFields()...),
		zap.String("workflow.name", e.Name),
		zap.Int64("workflow.run_id", e.RunID),
		zap.String("workflow.status", string(e.Status)),
	)
}
