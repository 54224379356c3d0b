package mergequeue

import (
	"slices"
	"time"

	"github.com/simplesurance/gobors/internal/event"
	"github.com/simplesurance/gobors/internal/model"
	"github.com/simplesurance/gobors/internal/set"
)

type commandKind int

const (
	cmdComment commandKind = iota
	cmdCancelBuild
	cmdMerge
	cmdRefreshMergeableState
	cmdTryBuild
)

func (k commandKind) String() string {
	switch k {
	case cmdComment:
		return "comment"
	case cmdCancelBuild:
		return "cancel_build"
	case cmdMerge:
		return "merge"
	case cmdRefreshMergeableState:
		return "refresh_mergeable_state"
	case cmdTryBuild:
		return "try_build"
	default:
		return "unknown"
	}
}

// command is an outbound operation decided by the state machine. Commands
// are executed after the repository lock was released.
type command struct {
	kind commandKind
	// pr is the pull request number for comments, mergeable state
	// refreshes and try builds.
	pr   int
	text string
	// build is set for cancel and merge commands.
	build *model.Build
	// baseBranch is the branch a merge fast-forwards.
	baseBranch string
	headSHA    string
}

// snapshot is the state of a repository that the state machine operates
// on. It contains all non-terminal pull requests, the builds they
// reference, the active builds and the known base branch SHAs.
// Modifications are recorded and persisted after the state machine
// returned.
type snapshot struct {
	repo model.RepoID
	now  time.Time

	prs      map[int]*model.PullRequest
	builds   map[int64]*model.Build
	baseSHAs map[string]string

	changedPRs    set.Set[int]
	changedBuilds set.Set[int64]
	changedBases  set.Set[string]

	// tryPending contains the pull requests for that a try build is
	// being prepared.
	tryPending set.Set[int]
	// mergesInFlight contains the builds whose commit is being merged.
	mergesInFlight set.Set[int64]
	// refreshedAt is when the mergeable state was requested last per
	// pull request.
	refreshedAt map[int]time.Time

	cmds       []*command
	reschedule bool
}

func newSnapshot(repo model.RepoID, now time.Time) *snapshot {
	return &snapshot{
		repo:           repo,
		now:            now,
		prs:            map[int]*model.PullRequest{},
		builds:         map[int64]*model.Build{},
		baseSHAs:       map[string]string{},
		changedPRs:     set.Set[int]{},
		changedBuilds:  set.Set[int64]{},
		changedBases:   set.Set[string]{},
		tryPending:     set.Set[int]{},
		mergesInFlight: set.Set[int64]{},
		refreshedAt:    map[int]time.Time{},
	}
}

func (s *snapshot) addPR(pr *model.PullRequest) {
	s.prs[pr.Number] = pr
}

func (s *snapshot) addBuild(b *model.Build) {
	if _, exists := s.builds[b.ID]; exists {
		return
	}

	s.builds[b.ID] = b
}

func (s *snapshot) markPR(pr *model.PullRequest) {
	s.changedPRs.Add(pr.Number)
}

func (s *snapshot) markBuild(b *model.Build) {
	s.changedBuilds.Add(b.ID)
}

func (s *snapshot) setBaseSHA(branch, sha string) {
	if s.baseSHAs[branch] == sha {
		return
	}

	s.baseSHAs[branch] = sha
	s.changedBases.Add(branch)
}

// sortedPRs returns the pull requests ordered by number.
func (s *snapshot) sortedPRs() []*model.PullRequest {
	result := make([]*model.PullRequest, 0, len(s.prs))
	for _, pr := range s.prs {
		result = append(result, pr)
	}

	slices.SortFunc(result, func(a, b *model.PullRequest) int {
		return a.Number - b.Number
	})

	return result
}

func (s *snapshot) sortedBuilds() []*model.Build {
	result := make([]*model.Build, 0, len(s.builds))
	for _, b := range s.builds {
		result = append(result, b)
	}

	slices.SortFunc(result, func(a, b *model.Build) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	return result
}

// members returns the pull requests that reference the merge build with
// the given id and are Building or Merging, ordered by number.
func (s *snapshot) members(buildID int64, statuses ...model.Status) []*model.PullRequest {
	if len(statuses) == 0 {
		statuses = []model.Status{model.StatusBuilding, model.StatusMerging}
	}

	var result []*model.PullRequest
	for _, pr := range s.sortedPRs() {
		if pr.BuildID != nil && *pr.BuildID == buildID && slices.Contains(statuses, pr.Status) {
			result = append(result, pr)
		}
	}

	return result
}

// tryOwner returns the pull request that runs the try build with the
// given id.
func (s *snapshot) tryOwner(buildID int64) *model.PullRequest {
	for _, pr := range s.sortedPRs() {
		if pr.Status == model.StatusTryBuilding && pr.TryBuildID != nil && *pr.TryBuildID == buildID {
			return pr
		}
	}

	return nil
}

func (s *snapshot) buildByRef(ref *event.BuildRef) *model.Build {
	for _, b := range s.sortedBuilds() {
		if ref.ExternalID != "" && b.ExternalID == ref.ExternalID {
			return b
		}

		if ref.Branch != "" && b.Branch == ref.Branch && b.CommitSHA == ref.CommitSHA {
			return b
		}
	}

	return nil
}

func (s *snapshot) comment(pr int, text string) {
	s.cmds = append(s.cmds, &command{kind: cmdComment, pr: pr, text: text})
}

func (s *snapshot) refresh(pr int) {
	s.cmds = append(s.cmds, &command{kind: cmdRefreshMergeableState, pr: pr})
}

func (s *snapshot) merge(b *model.Build, baseBranch string) {
	s.cmds = append(s.cmds, &command{kind: cmdMerge, build: b, baseBranch: baseBranch})
}

func (s *snapshot) tryBuild(pr *model.PullRequest) {
	s.cmds = append(s.cmds, &command{
		kind:       cmdTryBuild,
		pr:         pr.Number,
		headSHA:    pr.HeadSHA,
		baseBranch: pr.BaseBranch,
	})
}

// cancelBuild marks b as cancelled. When the build was already started at
// the CI provider, a cancel command is issued.
func (s *snapshot) cancelBuild(b *model.Build) {
	if b.Status.IsTerminal() {
		return
	}

	b.Status = model.BuildStatusCancelled
	s.markBuild(b)

	if b.ExternalID != "" {
		s.cmds = append(s.cmds, &command{kind: cmdCancelBuild, build: b})
	}
}
