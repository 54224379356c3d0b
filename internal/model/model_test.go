package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnums(t *testing.T) {
	st, err := ParseStatus("try_building")
	require.NoError(t, err)
	assert.Equal(t, StatusTryBuilding, st)

	_, err = ParseStatus("abandoned")
	assert.Error(t, err)

	bs, err := ParseBuildStatus("timeouted")
	require.NoError(t, err)
	assert.True(t, bs.IsTerminal())

	_, err = ParseMergeableState("dirty")
	assert.Error(t, err)

	m, err := ParseRollupMode("never")
	require.NoError(t, err)
	assert.False(t, m.CanBatch())
}

func TestCloneIsDeep(t *testing.T) {
	buildID := int64(42)
	pr := NewPullRequest(RepoID{Owner: "o", Name: "r"}, 1, "main")
	pr.Approval = &Approval{Approver: "alice", SHA: "abc"}
	pr.BuildID = &buildID

	c := pr.Clone()
	c.Approval.SHA = "def"
	*c.BuildID = 43

	assert.Equal(t, "abc", pr.Approval.SHA)
	assert.Equal(t, int64(42), *pr.BuildID)
}

func TestApprovalIsValid(t *testing.T) {
	pr := NewPullRequest(RepoID{Owner: "o", Name: "r"}, 1, "main")
	pr.HeadSHA = "abc"
	assert.False(t, pr.ApprovalIsValid())

	pr.Approval = &Approval{Approver: "alice", SHA: "abc"}
	assert.True(t, pr.ApprovalIsValid())

	pr.HeadSHA = "def"
	assert.False(t, pr.ApprovalIsValid())
}

func TestParseRepoID(t *testing.T) {
	r, err := ParseRepoID("simplesurance/gobors")
	require.NoError(t, err)
	assert.Equal(t, RepoID{Owner: "simplesurance", Name: "gobors"}, r)

	_, err = ParseRepoID("gobors")
	assert.Error(t, err)
}
