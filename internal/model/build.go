package model

import (
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/gobors/internal/logfields"
)

type Build struct {
	ID   int64
	Repo RepoID
	Kind BuildKind
	// Branch is the name of the synthetic branch the build runs on.
	Branch string
	// CommitSHA is the tested commit.
	CommitSHA string
	// Parent is the SHA of the base branch the commit was created on.
	Parent string
	Status BuildStatus
	// ExternalID is the identifier of the build at the CI provider, it is
	// empty until the build was started.
	ExternalID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b *Build) Clone() *Build {
	c := *b
	return &c
}

func (b *Build) LogFields() []zap.Field {
	return []zap.Field{
		logfields.Build(b.ID),
		logfields.Branch(b.Branch),
		logfields.Commit(b.CommitSHA),
		logfields.BuildStatus(string(b.Status)),
	}
}

// BaseBranch is the last known state of a branch that pull requests are
// merged into.
type BaseBranch struct {
	Repo      RepoID
	Name      string
	SHA       string
	UpdatedAt time.Time
}

// Workflow is a CI workflow run that was observed for a build.
type Workflow struct {
	ID      int64
	BuildID int64
	Name    string
	URL     string
	RunID   int64
	Type    WorkflowType
	Status  WorkflowStatus

	CreatedAt time.Time
}
