package event

import (
	"fmt"
	"strings"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/model"
	"github.com/simplesurance/gobors/internal/provider"
	"github.com/simplesurance/gobors/internal/provider/ci"
)

// DefaultBranchPrefix is the prefix of the branches that builds run on.
const DefaultBranchPrefix = "automation/bors/"

// DefaultCheckSuiteApp is the slug of the GitHub App whose check suites
// report the result of builds.
const DefaultCheckSuiteApp = "github-actions"

// Normalizer converts provider events to the internal event vocabulary.
type Normalizer struct {
	commandPrefix string
	branchPrefix  string
	checkSuiteApp string
	statusContext string
}

type NormalizerOption func(*Normalizer)

func WithCommandPrefix(prefix string) NormalizerOption {
	return func(n *Normalizer) {
		n.commandPrefix = prefix
	}
}

// WithCheckSuiteApp sets the GitHub App slug of check suites that are
// converted to CheckFinished events.
func WithCheckSuiteApp(slug string) NormalizerOption {
	return func(n *Normalizer) {
		n.checkSuiteApp = slug
	}
}

// WithStatusContext enables converting GitHub commit statuses with the
// given context on build branches to CheckFinished events.
func WithStatusContext(context string) NormalizerOption {
	return func(n *Normalizer) {
		n.statusContext = context
	}
}

func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := Normalizer{
		commandPrefix: DefaultCommandPrefix,
		branchPrefix:  DefaultBranchPrefix,
		checkSuiteApp: DefaultCheckSuiteApp,
	}

	for _, o := range opts {
		o(&n)
	}

	return &n
}

// IsBuildBranch returns true if branch is a branch that gobors runs builds on.
func (n *Normalizer) IsBuildBranch(branch string) bool {
	return strings.HasPrefix(branch, n.branchPrefix)
}

// Normalize converts ev to zero or more events.
// Events that are irrelevant for the merge queue result in an empty slice.
// If the payload is incomplete or invalid an error wrapping
// borserr.ErrMalformedEvent is returned.
func (n *Normalizer) Normalize(ev *provider.Event) ([]Event, error) {
	switch ev.Provider {
	case provider.ProviderGithub:
		return n.fromGithub(ev.DeliveryID, ev.Event)

	case provider.ProviderCI:
		completion, ok := ev.Event.(*ci.Completion)
		if !ok {
			return nil, fmt.Errorf("%w: ci event has unexpected type %T", borserr.ErrMalformedEvent, ev.Event)
		}

		return fromCI(completion)

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", borserr.ErrMalformedEvent, ev.Provider)
	}
}

func fromCI(c *ci.Completion) ([]Event, error) {
	repo, err := model.ParseRepoID(c.Repository)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", borserr.ErrMalformedEvent, err)
	}

	outcome, finished, err := ciStatusToBuildStatus(c.Status)
	if err != nil {
		return nil, err
	}

	if !finished {
		return nil, nil
	}

	return []Event{&CheckFinished{
		Meta: Meta{Repo: repo},
		Ref: BuildRef{
			Branch:     c.Branch,
			CommitSHA:  c.CommitSHA,
			ExternalID: c.BuildID,
		},
		Outcome: outcome,
		URL:     c.URL,
	}}, nil
}

// ciStatusToBuildStatus maps the status values of common CI systems to a
// BuildStatus. finished is false for statuses of running builds.
func ciStatusToBuildStatus(status string) (_ model.BuildStatus, finished bool, _ error) {
	switch strings.ToLower(status) {
	case "success", "succeeded", "passed", "fixed", "ok", "neutral", "skipped":
		return model.BuildStatusSuccess, true, nil

	case "failure", "failed", "error", "errored", "broken", "action_required", "startup_failure", "stale":
		return model.BuildStatusFailure, true, nil

	case "cancelled", "canceled", "aborted", "killed":
		return model.BuildStatusCancelled, true, nil

	case "timed_out", "timedout", "timeout", "timeouted":
		return model.BuildStatusTimedOut, true, nil

	case "pending", "queued", "running", "started", "in_progress", "requested", "waiting", "created":
		return "", false, nil

	default:
		return "", false, fmt.Errorf("%w: unsupported build status %q", borserr.ErrMalformedEvent, status)
	}
}
