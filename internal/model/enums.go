package model

import "fmt"

// Status is the merge-queue state of a pull request.
type Status string

const (
	StatusOpen        Status = "open"
	StatusApproved    Status = "approved"
	StatusReady       Status = "ready"
	StatusBuilding    Status = "building"
	StatusMerging     Status = "merging"
	StatusMerged      Status = "merged"
	StatusTryBuilding Status = "try_building"
	StatusClosed      Status = "closed"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusOpen, StatusApproved, StatusReady, StatusBuilding,
		StatusMerging, StatusMerged, StatusTryBuilding, StatusClosed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown pull request status: %q", s)
	}
}

// HasApproval returns true for the statuses that require a valid approval.
func (s Status) HasApproval() bool {
	switch s {
	case StatusApproved, StatusReady, StatusBuilding, StatusMerging:
		return true
	case StatusOpen, StatusMerged, StatusTryBuilding, StatusClosed:
		return false
	default:
		panic(fmt.Sprintf("unhandled status %q", s))
	}
}

// IsTerminal returns true if no further transitions happen without an
// external event that reopens the cycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusMerged, StatusClosed:
		return true
	case StatusOpen, StatusApproved, StatusReady, StatusBuilding,
		StatusMerging, StatusTryBuilding:
		return false
	default:
		panic(fmt.Sprintf("unhandled status %q", s))
	}
}

// MergeableState is the repository-reported predicate whether a pull request
// can be merged cleanly into its base branch.
type MergeableState string

const (
	MergeableStateUnknown     MergeableState = "unknown"
	MergeableStateMergeable   MergeableState = "mergeable"
	MergeableStateConflicting MergeableState = "conflicting"
	MergeableStateBehind      MergeableState = "behind"
)

func ParseMergeableState(s string) (MergeableState, error) {
	switch st := MergeableState(s); st {
	case MergeableStateUnknown, MergeableStateMergeable,
		MergeableStateConflicting, MergeableStateBehind:
		return st, nil
	default:
		return "", fmt.Errorf("unknown mergeable state: %q", s)
	}
}

// RollupMode defines if a pull request can be batched with others into a
// single build.
type RollupMode string

const (
	RollupNever  RollupMode = "never"
	RollupMaybe  RollupMode = "maybe"
	RollupAlways RollupMode = "always"
)

func ParseRollupMode(s string) (RollupMode, error) {
	switch m := RollupMode(s); m {
	case RollupNever, RollupMaybe, RollupAlways:
		return m, nil
	default:
		return "", fmt.Errorf("unknown rollup mode: %q", s)
	}
}

// CanBatch returns true if a pull request with the mode may be part of a
// rollup build.
func (m RollupMode) CanBatch() bool {
	switch m {
	case RollupMaybe, RollupAlways:
		return true
	case RollupNever:
		return false
	default:
		panic(fmt.Sprintf("unhandled rollup mode %q", m))
	}
}

type BuildStatus string

const (
	BuildStatusPending   BuildStatus = "pending"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusSuccess   BuildStatus = "success"
	BuildStatusFailure   BuildStatus = "failure"
	BuildStatusCancelled BuildStatus = "cancelled"
	BuildStatusTimedOut  BuildStatus = "timeouted"
)

func ParseBuildStatus(s string) (BuildStatus, error) {
	switch st := BuildStatus(s); st {
	case BuildStatusPending, BuildStatusRunning, BuildStatusSuccess,
		BuildStatusFailure, BuildStatusCancelled, BuildStatusTimedOut:
		return st, nil
	default:
		return "", fmt.Errorf("unknown build status: %q", s)
	}
}

func (s BuildStatus) IsTerminal() bool {
	switch s {
	case BuildStatusPending, BuildStatusRunning:
		return false
	case BuildStatusSuccess, BuildStatusFailure, BuildStatusCancelled, BuildStatusTimedOut:
		return true
	default:
		panic(fmt.Sprintf("unhandled build status %q", s))
	}
}

// BuildKind distinguishes builds that lead to a merge from try builds.
type BuildKind string

const (
	BuildKindAuto BuildKind = "auto"
	BuildKindTry  BuildKind = "try"
)

func ParseBuildKind(s string) (BuildKind, error) {
	switch k := BuildKind(s); k {
	case BuildKindAuto, BuildKindTry:
		return k, nil
	default:
		return "", fmt.Errorf("unknown build kind: %q", s)
	}
}

type WorkflowType string

const (
	WorkflowTypeGithub   WorkflowType = "github"
	WorkflowTypeExternal WorkflowType = "external"
)

func ParseWorkflowType(s string) (WorkflowType, error) {
	switch t := WorkflowType(s); t {
	case WorkflowTypeGithub, WorkflowTypeExternal:
		return t, nil
	default:
		return "", fmt.Errorf("unknown workflow type: %q", s)
	}
}

type WorkflowStatus string

const (
	WorkflowStatusPending WorkflowStatus = "pending"
	WorkflowStatusSuccess WorkflowStatus = "success"
	WorkflowStatusFailure WorkflowStatus = "failure"
)

func ParseWorkflowStatus(s string) (WorkflowStatus, error) {
	switch st := WorkflowStatus(s); st {
	case WorkflowStatusPending, WorkflowStatusSuccess, WorkflowStatusFailure:
		return st, nil
	default:
		return "", fmt.Errorf("unknown workflow status: %q", s)
	}
}
