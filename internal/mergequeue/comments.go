package mergequeue

import (
	"fmt"
	"strings"

	"github.com/simplesurance/gobors/internal/model"
)

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}

	return sha
}

func commentInsufficientPrivileges(actor string) string {
	return fmt.Sprintf(":key: Insufficient privileges: @%s is not allowed to run this command.", actor)
}

func commentApproved(sha, approver string) string {
	return fmt.Sprintf(":pushpin: Commit %s has been approved by `%s`.", sha, approver)
}

func commentApprovalSHAMismatch(approvedSHA, headSHA string) string {
	return fmt.Sprintf(
		":warning: The approved commit `%s` is not the head of the pull request (`%s`), the approval was ignored.",
		shortSHA(approvedSHA), shortSHA(headSHA),
	)
}

func commentApprovalWhileTrying() string {
	return ":warning: A try build is running, cancel it with `try-cancel` before approving the pull request."
}

func commentUnapproved(actor string) string {
	return fmt.Sprintf(":broken_heart: The approval was revoked by `%s`.", actor)
}

func commentCannotUnapproveMerging() string {
	return ":no_entry_sign: The pull request is being merged, the approval can not be revoked anymore."
}

func commentNotOpen(status model.Status) string {
	return fmt.Sprintf(":no_entry_sign: The command can not be applied, the pull request is %s.", status)
}

func commentNewCommit(sha string) string {
	return fmt.Sprintf(":warning: A new commit `%s` was pushed to the branch, the PR will need to be re-approved.", sha)
}

func commentBaseChanged(base string) string {
	return fmt.Sprintf(":warning: The base branch changed to `%s`, and the PR will need to be re-approved.", base)
}

func commentBasePushed(base, sha string) string {
	return fmt.Sprintf(
		":warning: The base branch `%s` was changed to `%s` outside of the merge queue, the PR will need to be re-approved.",
		base, shortSHA(sha),
	)
}

func commentNotMergeable(state model.MergeableState) string {
	switch state {
	case model.MergeableStateConflicting:
		return ":umbrella: The pull request has merge conflicts with its base branch, it is queued when they are resolved."
	case model.MergeableStateBehind:
		return ":umbrella: The pull request is behind its base branch, it is queued when it is up to date."
	default:
		return fmt.Sprintf(":umbrella: The pull request can not be merged (%s).", state)
	}
}

func commentMergeConflict(base string) string {
	return fmt.Sprintf(":lock: Merge conflict: the pull request can not be merged into `%s` together with the pull requests before it in the queue.", base)
}

func commentBuildCancelledBy(number int) string {
	return fmt.Sprintf(":arrows_counterclockwise: The build was cancelled because #%d changed, the pull request was requeued.", number)
}

func commentTesting(b *model.Build, members []int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, ":hourglass: Testing commit %s", b.CommitSHA)
	if len(members) > 1 {
		sb.WriteString(" (rollup of ")
		for i, n := range members {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "#%d", n)
		}
		sb.WriteString(")")
	}
	fmt.Fprintf(&sb, " with merge parent %s...", b.Parent)

	return sb.String()
}

func commentTrying(b *model.Build) string {
	return fmt.Sprintf(":hourglass: Trying commit %s with merge parent %s...", b.CommitSHA, b.Parent)
}

func commentStartFailed(err error) string {
	return fmt.Sprintf(":boom: Starting the build failed, the pull request was requeued: %s", err)
}

func commentTryStartFailed(err error) string {
	return fmt.Sprintf(":boom: Starting the try build failed: %s", err)
}

func commentTryConflict(base string) string {
	return fmt.Sprintf(":lock: Merge conflict: the pull request can not be merged into `%s`, the try build was not started.", base)
}

func commentTryPrepareFailed(err error) string {
	return fmt.Sprintf(":boom: Creating the commit for the try build failed: %s", err)
}

func commentTryAlreadyPending() string {
	return ":hourglass: A try build is already being prepared."
}

func commentTryCancelled() string {
	return ":stop_sign: The try build was cancelled."
}

func commentNoTryBuild() string {
	return ":information_source: There is no try build running."
}

func withURL(msg, url string) string {
	if url == "" {
		return msg
	}

	return fmt.Sprintf("%s\nResults: %s", msg, url)
}

func commentTryFinished(b *model.Build, url string) string {
	if b.Status == model.BuildStatusSuccess {
		return withURL(fmt.Sprintf(":sunny: Try build successful, commit %s passed the tests.", b.CommitSHA), url)
	}

	return withURL(fmt.Sprintf(":broken_heart: Try build of commit %s finished with status %s.", b.CommitSHA, b.Status), url)
}

func commentBuildFailed(b *model.Build, url string) string {
	return withURL(fmt.Sprintf(
		":broken_heart: Test of commit %s finished with status %s, the approval was removed.",
		b.CommitSHA, b.Status,
	), url)
}

func commentRollupFailed(b *model.Build, url string) string {
	return withURL(fmt.Sprintf(
		":broken_heart: Test of rollup commit %s finished with status %s, the pull request is requeued to be tested individually.",
		b.CommitSHA, b.Status,
	), url)
}

func commentBaseMovedDuringBuild(base string) string {
	return fmt.Sprintf(":arrows_counterclockwise: The base branch `%s` changed while the build was running, the pull request was requeued.", base)
}

func commentMerged(b *model.Build, base string) string {
	return fmt.Sprintf(":sunny: Test successful, merged commit %s into `%s`.", b.CommitSHA, base)
}

func commentMergeFailed(err error) string {
	return fmt.Sprintf(":boom: Merging failed, the approval was removed: %s", err)
}

func commentOrphaned() string {
	return ":ghost: The build of the pull request was lost, the approval was removed."
}

func commentDelegated(author string) string {
	return fmt.Sprintf(":v: @%s can now approve this pull request.", author)
}

func commentUndelegated(author string) string {
	return fmt.Sprintf(":v: @%s can not approve this pull request anymore.", author)
}

func commentPong() string {
	return "Pong 🏓!"
}

func commentInfo(pr *model.PullRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "- **Status:** %s\n", pr.Status)
	if pr.Approval != nil {
		fmt.Fprintf(&sb, "- **Approved by:** `%s` (commit %s)\n", pr.Approval.Approver, shortSHA(pr.Approval.SHA))
	} else {
		sb.WriteString("- **Approved by:** -\n")
	}
	fmt.Fprintf(&sb, "- **Priority:** %d\n", pr.Priority)
	fmt.Fprintf(&sb, "- **Rollup:** %s\n", pr.Rollup)
	fmt.Fprintf(&sb, "- **Mergeable:** %s\n", pr.MergeableState)
	fmt.Fprintf(&sb, "- **Delegated:** %t", pr.Delegated)

	return sb.String()
}
