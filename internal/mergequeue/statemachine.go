package mergequeue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/event"
	"github.com/simplesurance/gobors/internal/githubclt"
	"github.com/simplesurance/gobors/internal/model"
	"github.com/simplesurance/gobors/internal/set"
)

// machine applies events to a snapshot of a repository.
// It does not do any I/O, decisions that require it are recorded as
// commands in the snapshot.
type machine struct {
	reviewers set.Set[string]

	// autoBranches are the branches merge builds run on, one per build
	// slot.
	autoBranches set.Set[string]
}

func newMachine(reviewers []string, autoBranches []string) *machine {
	return &machine{
		reviewers:    set.From(reviewers),
		autoBranches: set.From(autoBranches),
	}
}

func (m *machine) isReviewer(actor string) bool {
	return m.reviewers.Contains(actor)
}

// canApprove returns true if actor is a reviewer or the author of a pull
// request that approval rights were delegated for.
func (m *machine) canApprove(pr *model.PullRequest, actor string) bool {
	return m.isReviewer(actor) || (pr.Delegated && actor != "" && actor == pr.Author)
}

func conflict(s *snapshot, pr int, msg string, format string, a ...any) error {
	if msg != "" {
		s.comment(pr, msg)
	}

	return borserr.NewStateConflictError(format, a...)
}

// apply applies ev to s. Events that are not applicable return an error
// wrapping borserr.ErrStateConflict, the actor is notified via a comment
// command.
func (m *machine) apply(s *snapshot, ev event.Event) error {
	switch ev := ev.(type) {
	case *event.PushToBase:
		m.pushToBase(s, ev.Branch, ev.NewSHA)
		return nil

	case *event.CheckFinished:
		b := s.buildByRef(&ev.Ref)
		if b == nil {
			return fmt.Errorf("build %+v: %w", ev.Ref, borserr.ErrNotFound)
		}

		m.buildFinished(s, b, ev.Outcome, ev.URL)
		return nil
	}

	pr := s.prs[ev.PullRequest()]
	if pr == nil {
		return fmt.Errorf("pull request #%d: %w", ev.PullRequest(), borserr.ErrNotFound)
	}

	switch ev := ev.(type) {
	case *event.ApprovalGranted:
		return m.approve(s, pr, ev.Actor, ev.SHA)

	case *event.ApprovalRevoked:
		return m.unapprove(s, pr, ev.Actor)

	case *event.HeadChanged:
		m.headChanged(s, pr, ev.NewSHA)
		return nil

	case *event.BaseChanged:
		m.baseChanged(s, pr, ev.NewBase)
		return nil

	case *event.MergeableStateChanged:
		m.mergeableStateChanged(s, pr, ev.NewState, ev.HeadSHA)
		return nil

	case *event.CommandReceived:
		return m.command(s, pr, ev.Actor, &ev.Command)

	case *event.PullRequestOpened:
		m.opened(s, pr, ev)
		return nil

	case *event.PullRequestClosed:
		m.closed(s, pr, ev.Merged)
		return nil

	default:
		return fmt.Errorf("unsupported event type %q", ev.Type())
	}
}

func (m *machine) approve(s *snapshot, pr *model.PullRequest, actor, sha string) error {
	if pr.Status.IsTerminal() {
		return conflict(s, pr.Number, commentNotOpen(pr.Status), "approval of %s pull request", pr.Status)
	}

	if !m.canApprove(pr, actor) {
		return conflict(s, pr.Number, commentInsufficientPrivileges(actor), "%q is not allowed to approve", actor)
	}

	if sha == "" {
		sha = pr.HeadSHA
	}

	if sha != pr.HeadSHA {
		return conflict(s, pr.Number,
			commentApprovalSHAMismatch(sha, pr.HeadSHA),
			"approved commit %s is not the head commit %s", sha, pr.HeadSHA,
		)
	}

	if pr.Status == model.StatusTryBuilding {
		return conflict(s, pr.Number, commentApprovalWhileTrying(), "approval while try build is running")
	}

	if pr.Status.HasApproval() {
		// approval for the same commit was already recorded
		return nil
	}

	pr.Approval = &model.Approval{Approver: actor, SHA: sha}
	pr.Status = model.StatusApproved
	s.markPR(pr)
	s.comment(pr.Number, commentApproved(sha, actor))

	m.evaluateMergeable(s, pr, true)

	return nil
}

// evaluateMergeable transitions an Approved pull request to Ready if it is
// mergeable. If the state is unknown, a refresh is requested.
func (m *machine) evaluateMergeable(s *snapshot, pr *model.PullRequest, notify bool) {
	if pr.Status != model.StatusApproved {
		return
	}

	switch pr.MergeableState {
	case model.MergeableStateMergeable:
		pr.Status = model.StatusReady
		s.markPR(pr)
		s.reschedule = true

	case model.MergeableStateUnknown:
		s.refresh(pr.Number)

	case model.MergeableStateConflicting, model.MergeableStateBehind:
		if notify {
			s.comment(pr.Number, commentNotMergeable(pr.MergeableState))
		}

	default:
		panic(fmt.Sprintf("unhandled mergeable state %q", pr.MergeableState))
	}
}

func (m *machine) unapprove(s *snapshot, pr *model.PullRequest, actor string) error {
	if !m.canApprove(pr, actor) {
		return conflict(s, pr.Number, commentInsufficientPrivileges(actor), "%q is not allowed to unapprove", actor)
	}

	if pr.Status == model.StatusMerging {
		return conflict(s, pr.Number, commentCannotUnapproveMerging(), "unapproval of merging pull request")
	}

	if !pr.Status.HasApproval() {
		return nil
	}

	m.revoke(s, pr)
	s.comment(pr.Number, commentUnapproved(actor))

	return nil
}

// revoke removes the approval of pr and sets it to Open.
// If pr is part of a running build, the build is cancelled and the other
// members are requeued.
func (m *machine) revoke(s *snapshot, pr *model.PullRequest) {
	wasBuilding := pr.Status == model.StatusBuilding

	pr.Approval = nil
	pr.Isolated = false
	pr.Status = model.StatusOpen
	s.markPR(pr)

	if wasBuilding && pr.BuildID != nil {
		m.abortBuild(s, *pr.BuildID, pr.Number)
	}
}

// abortBuild cancels a merge build because the member with number causer
// changed. The remaining members are set to Ready.
func (m *machine) abortBuild(s *snapshot, buildID int64, causer int) {
	if b := s.builds[buildID]; b != nil {
		s.cancelBuild(b)
	}

	for _, member := range s.members(buildID, model.StatusBuilding) {
		if member.Number == causer {
			continue
		}

		member.Status = model.StatusReady
		s.markPR(member)
		s.comment(member.Number, commentBuildCancelledBy(causer))
	}

	s.reschedule = true
}

func (m *machine) cancelTryBuild(s *snapshot, pr *model.PullRequest) {
	if pr.TryBuildID != nil {
		if b := s.builds[*pr.TryBuildID]; b != nil {
			s.cancelBuild(b)
		}
	}

	pr.Status = model.StatusOpen
	s.markPR(pr)
}

func (m *machine) headChanged(s *snapshot, pr *model.PullRequest, sha string) {
	if pr.HeadSHA == sha {
		return
	}

	pr.HeadSHA = sha
	pr.MergeableState = model.MergeableStateUnknown
	s.markPR(pr)

	switch pr.Status {
	case model.StatusTryBuilding:
		m.cancelTryBuild(s, pr)
		s.comment(pr.Number, commentTryCancelled())

	case model.StatusApproved, model.StatusReady, model.StatusBuilding:
		m.revoke(s, pr)
		s.comment(pr.Number, commentNewCommit(sha))

	case model.StatusOpen, model.StatusMerging, model.StatusMerged, model.StatusClosed:

	default:
		panic(fmt.Sprintf("unhandled status %q", pr.Status))
	}
}

func (m *machine) baseChanged(s *snapshot, pr *model.PullRequest, base string) {
	if pr.BaseBranch == base {
		return
	}

	pr.BaseBranch = base
	pr.MergeableState = model.MergeableStateUnknown
	s.markPR(pr)

	switch pr.Status {
	case model.StatusTryBuilding:
		m.cancelTryBuild(s, pr)
		s.comment(pr.Number, commentTryCancelled())

	case model.StatusApproved, model.StatusReady, model.StatusBuilding:
		m.revoke(s, pr)
		s.comment(pr.Number, commentBaseChanged(base))

	case model.StatusOpen, model.StatusMerging, model.StatusMerged, model.StatusClosed:

	default:
		panic(fmt.Sprintf("unhandled status %q", pr.Status))
	}
}

// isOwnPush returns true if sha is the commit of a successful merge build,
// the push was done by the merge queue.
func (m *machine) isOwnPush(s *snapshot, sha string) bool {
	for _, b := range s.builds {
		if b.Kind == model.BuildKindAuto && m.autoBranches.Contains(b.Branch) &&
			b.CommitSHA == sha && b.Status == model.BuildStatusSuccess {
			return true
		}
	}

	return false
}

func (m *machine) pushToBase(s *snapshot, branch, sha string) {
	own := m.isOwnPush(s, sha)
	s.setBaseSHA(branch, sha)

	for _, pr := range s.sortedPRs() {
		if pr.BaseBranch != branch || pr.Status.IsTerminal() {
			continue
		}

		if pr.MergeableState != model.MergeableStateUnknown {
			pr.MergeableState = model.MergeableStateUnknown
			s.markPR(pr)
		}

		if own {
			continue
		}

		switch pr.Status {
		case model.StatusApproved, model.StatusReady, model.StatusBuilding:
			m.revoke(s, pr)
			s.comment(pr.Number, commentBasePushed(branch, sha))
		}
	}

	if own {
		s.reschedule = true
	}
}

func (m *machine) mergeableStateChanged(s *snapshot, pr *model.PullRequest, state model.MergeableState, headSHA string) {
	if headSHA != "" && headSHA != pr.HeadSHA {
		// computed for an outdated commit
		return
	}

	if pr.MergeableState == state {
		if state == model.MergeableStateUnknown {
			// still being computed by GitHub, the sweep requests
			// it again after mergeableRefreshAfter
			return
		}

		delete(s.refreshedAt, pr.Number)
		m.evaluateMergeable(s, pr, false)
		return
	}

	delete(s.refreshedAt, pr.Number)
	pr.MergeableState = state
	s.markPR(pr)

	switch pr.Status {
	case model.StatusApproved:
		m.evaluateMergeable(s, pr, true)

	case model.StatusReady:
		if state == model.MergeableStateConflicting || state == model.MergeableStateBehind {
			pr.Status = model.StatusApproved
			s.comment(pr.Number, commentNotMergeable(state))
		}
	}
}

// buildFinished records the result of a build and transitions the pull
// requests that it was run for. Results for builds that are already in a
// terminal state are ignored.
func (m *machine) buildFinished(s *snapshot, b *model.Build, outcome model.BuildStatus, url string) {
	if b.Status.IsTerminal() {
		return
	}

	b.Status = outcome
	s.markBuild(b)

	if b.Kind == model.BuildKindTry {
		if pr := s.tryOwner(b.ID); pr != nil {
			pr.Status = model.StatusOpen
			s.markPR(pr)
			s.comment(pr.Number, commentTryFinished(b, url))
		}

		return
	}

	s.reschedule = true

	members := s.members(b.ID, model.StatusBuilding)
	if len(members) == 0 {
		return
	}

	base := members[0].BaseBranch

	if outcome == model.BuildStatusSuccess {
		if b.Parent != s.baseSHAs[base] {
			for _, pr := range members {
				pr.Status = model.StatusReady
				s.markPR(pr)
				s.comment(pr.Number, commentBaseMovedDuringBuild(base))
			}

			return
		}

		for _, pr := range members {
			pr.Status = model.StatusMerging
			pr.Isolated = false
			s.markPR(pr)
		}

		s.merge(b, base)
		return
	}

	if len(members) == 1 {
		pr := members[0]
		pr.Status = model.StatusOpen
		pr.Approval = nil
		pr.Isolated = false
		s.markPR(pr)
		s.comment(pr.Number, commentBuildFailed(b, url))

		return
	}

	// the rollup is split, every member is built on its own
	for _, pr := range members {
		pr.Status = model.StatusReady
		pr.Isolated = true
		s.markPR(pr)
		s.comment(pr.Number, commentRollupFailed(b, url))
	}
}

// mergeFinished applies the result of fast-forwarding the base branch to
// the commit of a successful build.
func (m *machine) mergeFinished(s *snapshot, buildID int64, mergeErr error) {
	s.mergesInFlight.Remove(buildID)

	b := s.builds[buildID]
	members := s.members(buildID, model.StatusMerging)
	if b == nil || len(members) == 0 {
		return
	}

	base := members[0].BaseBranch

	switch {
	case mergeErr == nil:
		for _, pr := range members {
			pr.Status = model.StatusMerged
			s.markPR(pr)
			s.comment(pr.Number, commentMerged(b, base))
		}

		s.setBaseSHA(base, b.CommitSHA)
		s.reschedule = true

	case errors.Is(mergeErr, githubclt.ErrNotFastForward):
		for _, pr := range members {
			pr.Status = model.StatusReady
			s.markPR(pr)
			s.comment(pr.Number, commentBaseMovedDuringBuild(base))
		}

		s.reschedule = true

	case borserr.IsRetryable(mergeErr),
		errors.Is(mergeErr, context.Canceled),
		errors.Is(mergeErr, context.DeadlineExceeded):
		// stays Merging, the merge is retried by the reconciliation

	default:
		for _, pr := range members {
			pr.Status = model.StatusOpen
			pr.Approval = nil
			s.markPR(pr)
			s.comment(pr.Number, commentMergeFailed(mergeErr))
		}

		s.reschedule = true
	}
}

func (m *machine) command(s *snapshot, pr *model.PullRequest, actor string, cmd *event.Command) error {
	switch cmd.Kind {
	case event.CommandApprove:
		return m.approve(s, pr, actor, cmd.SHA)

	case event.CommandUnapprove:
		return m.unapprove(s, pr, actor)

	case event.CommandTry:
		return m.try(s, pr, actor, cmd.SHA)

	case event.CommandTryCancel:
		if !m.canApprove(pr, actor) {
			return conflict(s, pr.Number, commentInsufficientPrivileges(actor), "%q is not allowed to cancel try builds", actor)
		}

		if pr.Status != model.StatusTryBuilding {
			return conflict(s, pr.Number, commentNoTryBuild(), "no try build running")
		}

		m.cancelTryBuild(s, pr)
		s.comment(pr.Number, commentTryCancelled())

		return nil

	case event.CommandPriority:
		if err := m.checkSetting(s, pr, actor); err != nil {
			return err
		}

		if pr.Priority != cmd.Priority {
			pr.Priority = cmd.Priority
			s.markPR(pr)
			s.reschedule = pr.Status == model.StatusReady
		}

		return nil

	case event.CommandRollup:
		if err := m.checkSetting(s, pr, actor); err != nil {
			return err
		}

		if pr.Rollup != cmd.Rollup {
			pr.Rollup = cmd.Rollup
			s.markPR(pr)
		}

		return nil

	case event.CommandDelegate, event.CommandUndelegate:
		if err := m.checkSetting(s, pr, actor); err != nil {
			return err
		}

		delegated := cmd.Kind == event.CommandDelegate
		if pr.Delegated == delegated {
			return nil
		}

		pr.Delegated = delegated
		s.markPR(pr)

		if delegated {
			s.comment(pr.Number, commentDelegated(pr.Author))
		} else {
			s.comment(pr.Number, commentUndelegated(pr.Author))
		}

		return nil

	case event.CommandPing:
		s.comment(pr.Number, commentPong())
		return nil

	case event.CommandInfo:
		s.comment(pr.Number, commentInfo(pr))
		return nil

	default:
		return fmt.Errorf("unsupported command %q", cmd.Kind)
	}
}

// checkSetting verifies that actor may change settings of pr.
func (m *machine) checkSetting(s *snapshot, pr *model.PullRequest, actor string) error {
	if !m.isReviewer(actor) {
		return conflict(s, pr.Number, commentInsufficientPrivileges(actor), "%q is not a reviewer", actor)
	}

	if pr.Status.IsTerminal() {
		return conflict(s, pr.Number, commentNotOpen(pr.Status), "pull request is %s", pr.Status)
	}

	return nil
}

func (m *machine) try(s *snapshot, pr *model.PullRequest, actor, sha string) error {
	if !m.canApprove(pr, actor) {
		return conflict(s, pr.Number, commentInsufficientPrivileges(actor), "%q is not allowed to start try builds", actor)
	}

	if pr.Status != model.StatusOpen && pr.Status != model.StatusTryBuilding {
		return conflict(s, pr.Number, commentNotOpen(pr.Status), "try build of %s pull request", pr.Status)
	}

	if sha != "" && sha != pr.HeadSHA {
		return conflict(s, pr.Number,
			commentApprovalSHAMismatch(sha, pr.HeadSHA),
			"try commit %s is not the head commit %s", sha, pr.HeadSHA,
		)
	}

	if s.tryPending.Contains(pr.Number) {
		return conflict(s, pr.Number, commentTryAlreadyPending(), "try build is already being prepared")
	}

	s.tryBuild(pr)

	return nil
}

func (m *machine) opened(s *snapshot, pr *model.PullRequest, ev *event.PullRequestOpened) {
	if ev.Title != "" && pr.Title != ev.Title {
		pr.Title = ev.Title
		s.markPR(pr)
	}

	if ev.Author != "" && pr.Author != ev.Author {
		pr.Author = ev.Author
		s.markPR(pr)
	}

	if pr.Status == model.StatusClosed {
		pr.Status = model.StatusOpen
		s.markPR(pr)
	}

	m.headChanged(s, pr, ev.HeadSHA)
	m.baseChanged(s, pr, ev.BaseBranch)

	if ev.MergeableState != "" && ev.MergeableState != model.MergeableStateUnknown {
		m.mergeableStateChanged(s, pr, ev.MergeableState, ev.HeadSHA)
	}
}

func (m *machine) closed(s *snapshot, pr *model.PullRequest, merged bool) {
	switch pr.Status {
	case model.StatusTryBuilding:
		m.cancelTryBuild(s, pr)

	case model.StatusBuilding:
		m.revoke(s, pr)

	case model.StatusMerged:
		return
	}

	if merged {
		pr.Status = model.StatusMerged
	} else {
		pr.Status = model.StatusClosed
		pr.Approval = nil
		pr.Isolated = false
	}

	s.markPR(pr)
}

type sweepOpts struct {
	buildTimeout          time.Duration
	mergeableRefreshAfter time.Duration
}

// sweep corrects drift: it times out stale builds, demotes pull requests
// whose build got lost, re-requests outdated mergeable states and retries
// pending merges.
func (m *machine) sweep(s *snapshot, opts *sweepOpts) {
	for _, b := range s.sortedBuilds() {
		if b.Status.IsTerminal() || s.now.Sub(b.CreatedAt) < opts.buildTimeout {
			continue
		}

		hadExternalID := b.ExternalID != ""
		m.buildFinished(s, b, model.BuildStatusTimedOut, "")
		if hadExternalID {
			s.cmds = append(s.cmds, &command{kind: cmdCancelBuild, build: b})
		}
	}

	merges := set.Set[int64]{}

	for _, pr := range s.sortedPRs() {
		switch pr.Status {
		case model.StatusBuilding:
			if b := buildOf(s, pr.BuildID); b == nil || b.Status.IsTerminal() {
				m.demoteOrphan(s, pr)
			}

		case model.StatusTryBuilding:
			if b := buildOf(s, pr.TryBuildID); b == nil || b.Status.IsTerminal() {
				pr.Status = model.StatusOpen
				s.markPR(pr)
				s.comment(pr.Number, commentOrphaned())
			}

		case model.StatusMerging:
			b := buildOf(s, pr.BuildID)
			if b == nil || b.Status != model.BuildStatusSuccess {
				m.demoteOrphan(s, pr)
				break
			}

			if !s.mergesInFlight.Contains(b.ID) && !merges.Contains(b.ID) {
				merges.Add(b.ID)
				s.merge(b, pr.BaseBranch)
			}

		case model.StatusApproved:
			if pr.MergeableState != model.MergeableStateUnknown {
				break
			}

			last := pr.UpdatedAt
			if t, ok := s.refreshedAt[pr.Number]; ok && t.After(last) {
				last = t
			}

			if s.now.Sub(last) >= opts.mergeableRefreshAfter {
				s.refresh(pr.Number)
			}
		}
	}

	s.reschedule = true
}

func (m *machine) demoteOrphan(s *snapshot, pr *model.PullRequest) {
	pr.Status = model.StatusOpen
	pr.Approval = nil
	pr.Isolated = false
	s.markPR(pr)
	s.comment(pr.Number, commentOrphaned())
}

func buildOf(s *snapshot, id *int64) *model.Build {
	if id == nil {
		return nil
	}

	return s.builds[*id]
}

// validateReservation checks that the pull requests of res did not change
// while the build commit was created.
func (m *machine) validateReservation(s *snapshot, res *reservation) error {
	for _, h := range res.heads {
		pr := s.prs[h.Number]
		if pr == nil {
			return borserr.NewStateConflictError("pull request #%d is not open anymore", h.Number)
		}

		if pr.HeadSHA != h.SHA || pr.BaseBranch != res.baseBranch {
			s.reschedule = res.kind == model.BuildKindAuto
			return borserr.NewStateConflictError("head or base of pull request #%d changed", h.Number)
		}

		switch res.kind {
		case model.BuildKindAuto:
			if pr.Status != model.StatusReady {
				s.reschedule = true
				return borserr.NewStateConflictError("pull request #%d is %s", h.Number, pr.Status)
			}

		case model.BuildKindTry:
			if pr.Status != model.StatusOpen && pr.Status != model.StatusTryBuilding {
				return borserr.NewStateConflictError("pull request #%d is %s", h.Number, pr.Status)
			}
		}
	}

	if res.kind == model.BuildKindAuto {
		if known := s.baseSHAs[res.baseBranch]; known != "" && known != res.baseSHA {
			s.reschedule = true
			return borserr.NewStateConflictError("base branch %s moved from %s to %s", res.baseBranch, res.baseSHA, known)
		}
	}

	return nil
}

// attachBuild references b from the pull requests of res.
func (m *machine) attachBuild(s *snapshot, res *reservation, b *model.Build) error {
	if b.Status.IsTerminal() {
		return borserr.NewStateConflictError("build %d of commit %s already finished", b.ID, b.CommitSHA)
	}

	if s.baseSHAs[res.baseBranch] == "" {
		s.setBaseSHA(res.baseBranch, res.baseSHA)
	}

	for _, h := range res.heads {
		pr := s.prs[h.Number]
		id := b.ID

		switch res.kind {
		case model.BuildKindAuto:
			pr.Status = model.StatusBuilding
			pr.BuildID = &id

		case model.BuildKindTry:
			if old := buildOf(s, pr.TryBuildID); old != nil && old.ID != b.ID {
				s.cancelBuild(old)
			}

			pr.Status = model.StatusTryBuilding
			pr.TryBuildID = &id
		}

		s.markPR(pr)
	}

	return nil
}

// buildStarted records the result of starting b at the CI provider.
// If starting failed, the build is cancelled and its pull requests are
// requeued.
func (m *machine) buildStarted(s *snapshot, b *model.Build, externalID string, startErr error) {
	if startErr == nil {
		if b.ExternalID == "" {
			b.ExternalID = externalID
			s.markBuild(b)
		}

		switch b.Status {
		case model.BuildStatusPending:
			b.Status = model.BuildStatusRunning
			s.markBuild(b)

			if b.Kind == model.BuildKindTry {
				if pr := s.tryOwner(b.ID); pr != nil {
					s.comment(pr.Number, commentTrying(b))
				}
				return
			}

			members := s.members(b.ID, model.StatusBuilding)
			numbers := make([]int, 0, len(members))
			for _, pr := range members {
				numbers = append(numbers, pr.Number)
			}

			for _, pr := range members {
				s.comment(pr.Number, commentTesting(b, numbers))
			}

		case model.BuildStatusCancelled:
			// cancelled while it was started
			s.cmds = append(s.cmds, &command{kind: cmdCancelBuild, build: b})
		}

		return
	}

	if b.Status != model.BuildStatusPending {
		return
	}

	b.Status = model.BuildStatusCancelled
	s.markBuild(b)

	if b.Kind == model.BuildKindTry {
		if pr := s.tryOwner(b.ID); pr != nil {
			pr.Status = model.StatusOpen
			s.markPR(pr)
			s.comment(pr.Number, commentTryStartFailed(startErr))
		}

		return
	}

	notify := !borserr.IsRetryable(startErr)
	for _, pr := range s.members(b.ID, model.StatusBuilding) {
		pr.Status = model.StatusReady
		s.markPR(pr)

		if notify {
			s.comment(pr.Number, commentStartFailed(startErr))
		}
	}
}

// prepareConflict handles a merge conflict that happened when the head of
// the pull request at index idx of res was merged.
// A conflict with the base branch requires the author to update the pull
// request. A conflict with pull requests that precede it in a rollup
// causes it to be built on its own.
func (m *machine) prepareConflict(s *snapshot, res *reservation, idx int) {
	if idx < 0 || idx >= len(res.heads) {
		return
	}

	h := res.heads[idx]
	pr := s.prs[h.Number]

	if res.kind == model.BuildKindTry {
		if pr != nil {
			s.comment(pr.Number, commentTryConflict(res.baseBranch))
		}

		return
	}

	s.reschedule = true

	if pr == nil || pr.Status != model.StatusReady || pr.HeadSHA != h.SHA {
		return
	}

	if idx > 0 {
		pr.Isolated = true
		s.markPR(pr)
		return
	}

	pr.Status = model.StatusApproved
	pr.MergeableState = model.MergeableStateConflicting
	s.markPR(pr)
	s.comment(pr.Number, commentMergeConflict(res.baseBranch))
}
