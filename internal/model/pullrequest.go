package model

import (
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/gobors/internal/logfields"
)

const DefaultPriority = 0

// Approval pins an approval to the commit it was given for.
type Approval struct {
	Approver string
	SHA      string
}

type PullRequest struct {
	ID         int64
	Repo       RepoID
	Number     int
	Title      string
	Author     string
	HeadSHA    string
	BaseBranch string

	Status Status
	// Approval is nil when the pull request is not approved.
	Approval *Approval
	// Delegated allows the author to approve the pull request.
	Delegated      bool
	Priority       int
	MergeableState MergeableState
	Rollup         RollupMode
	// Isolated is set for members of a failed rollup, they are built
	// individually until their next build finished.
	Isolated bool

	// BuildID references the merge build the pull request is or was part of.
	BuildID *int64
	// TryBuildID references the last try build.
	TryBuildID *int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPullRequest returns an open pull request record with default values.
func NewPullRequest(repo RepoID, number int, baseBranch string) *PullRequest {
	return &PullRequest{
		Repo:           repo,
		Number:         number,
		BaseBranch:     baseBranch,
		Status:         StatusOpen,
		Priority:       DefaultPriority,
		MergeableState: MergeableStateUnknown,
		Rollup:         RollupMaybe,
	}
}

func (p *PullRequest) PullRequestID() PullRequestID {
	return PullRequestID{Repo: p.Repo, Number: p.Number}
}

// Clone returns a deep copy of p.
func (p *PullRequest) Clone() *PullRequest {
	c := *p

	if p.Approval != nil {
		a := *p.Approval
		c.Approval = &a
	}

	if p.BuildID != nil {
		id := *p.BuildID
		c.BuildID = &id
	}

	if p.TryBuildID != nil {
		id := *p.TryBuildID
		c.TryBuildID = &id
	}

	return &c
}

// ApprovalIsValid returns true if the pull request is approved for its
// current head commit.
func (p *PullRequest) ApprovalIsValid() bool {
	return p.Approval != nil && p.Approval.SHA == p.HeadSHA
}

func (p *PullRequest) LogFields() []zap.Field {
	return append(
		p.PullRequestID().LogFields(),
		logfields.Status(string(p.Status)),
		logfields.Commit(p.HeadSHA),
		logfields.BaseBranch(p.BaseBranch),
	)
}
