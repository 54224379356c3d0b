package githubclt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/google/go-github/v59/github"
	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/model"
)

func newTestRESTClient(t *testing.T, h http.Handler) *Client {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	restClt := github.NewClient(srv.Client())
	u, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	restClt.BaseURL = u

	return &Client{
		restClt: restClt,
		logger:  zap.L(),
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestWrapRetryableErrorsGraphql(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	// is the same then in github.com/shurcooL/graphql/graphql.go do()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(503)
	}))

	t.Cleanup(srv.Close)

	clt := Client{
		logger:     zap.L(),
		graphQLClt: githubv4.NewEnterpriseClient(srv.URL, srv.Client()),
	}

	s, err := clt.PullRequestState(context.Background(), "test", "test", 123)
	require.Error(t, err)
	assert.Nil(t, s)

	var retryableErr *borserr.RetryableError
	assert.ErrorAs(t, err, &retryableErr)
}

func TestWrapRetryableErrorsGraphqlWithNonStatusErr(t *testing.T) {
	err := errors.New("error")
	wrappedErr := (&Client{}).wrapGraphQLRetryableErrors(err)
	assert.Equal(t, err, wrappedErr)
}

func TestPullRequestState(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"repository": map[string]any{
					"pullRequest": map[string]any{
						"number":           5,
						"title":            "fix everything",
						"state":            "OPEN",
						"mergeable":        "MERGEABLE",
						"mergeStateStatus": "BLOCKED",
						"headRefOid":       "abc",
						"baseRefName":      "main",
						"author":           map[string]any{"login": "joe"},
					},
				},
			},
		})
	}))
	t.Cleanup(srv.Close)

	clt := Client{
		logger:     zap.L(),
		graphQLClt: githubv4.NewEnterpriseClient(srv.URL, srv.Client()),
	}

	s, err := clt.PullRequestState(context.Background(), "test", "test", 5)
	require.NoError(t, err)

	assert.Equal(t, &PullRequestState{
		Number:     5,
		Title:      "fix everything",
		Author:     "joe",
		HeadSHA:    "abc",
		BaseBranch: "main",
		Open:       true,
		Mergeable:  model.MergeableStateMergeable,
	}, s)
}

func TestToMergeableState(t *testing.T) {
	tcs := []struct {
		mergeable githubv4.MergeableState
		status    mergeStateStatus
		expected  model.MergeableState
	}{
		{githubv4.MergeableStateMergeable, mergeStateStatusClean, model.MergeableStateMergeable},
		{githubv4.MergeableStateMergeable, mergeStateStatusBlocked, model.MergeableStateMergeable},
		{githubv4.MergeableStateMergeable, mergeStateStatusBehind, model.MergeableStateBehind},
		{githubv4.MergeableStateConflicting, mergeStateStatusDirty, model.MergeableStateConflicting},
		{githubv4.MergeableStateConflicting, mergeStateStatusUnknown, model.MergeableStateConflicting},
		{githubv4.MergeableStateUnknown, mergeStateStatusUnknown, model.MergeableStateUnknown},
	}

	for _, tc := range tcs {
		t.Run(string(tc.mergeable)+"_"+string(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.expected, toMergeableState(tc.mergeable, tc.status))
		})
	}
}

func TestFastForwardRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /repos/o/r/git/refs/heads/{branch...}", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, false, req["force"])

		writeJSON(t, w, http.StatusUnprocessableEntity, map[string]any{
			"message": "Update is not a fast forward",
		})
	})

	clt := newTestRESTClient(t, mux)

	err := clt.FastForward(context.Background(), "o", "r", "main", "abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFastForward)
	assert.False(t, borserr.IsRetryable(err))
}

func TestServerErrorIsRetryable(t *testing.T) {
	clt := newTestRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusBadGateway, map[string]any{"message": "bad gateway"})
	}))

	_, err := clt.BranchHead(context.Background(), "o", "r", "main")
	require.Error(t, err)
	assert.True(t, borserr.IsRetryable(err))
}

func TestBranchHeadNotFound(t *testing.T) {
	clt := newTestRESTClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]any{"message": "Not Found"})
	}))

	_, err := clt.BranchHead(context.Background(), "o", "r", "main")
	assert.ErrorIs(t, err, borserr.ErrNotFound)
}

type fakeGitServer struct {
	t *testing.T

	mu        sync.Mutex
	refs      map[string]string
	mergeSHAs []string
	conflicts map[string]bool
}

func (s *fakeGitServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("PATCH /repos/o/r/git/refs/heads/{branch...}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SHA   string `json:"sha"`
			Force bool   `json:"force"`
		}
		assert.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))

		s.mu.Lock()
		s.refs[r.PathValue("branch")] = req.SHA
		s.mu.Unlock()

		writeJSON(s.t, w, http.StatusOK, map[string]any{
			"ref":    "refs/heads/" + r.PathValue("branch"),
			"object": map[string]any{"sha": req.SHA},
		})
	})

	mux.HandleFunc("POST /repos/o/r/merges", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Base string `json:"base"`
			Head string `json:"head"`
		}
		assert.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.conflicts[req.Head] {
			writeJSON(s.t, w, http.StatusConflict, map[string]any{"message": "Merge conflict"})
			return
		}

		sha := s.mergeSHAs[0]
		s.mergeSHAs = s.mergeSHAs[1:]
		s.refs[req.Base] = sha

		writeJSON(s.t, w, http.StatusCreated, map[string]any{"sha": sha})
	})

	return mux
}

func TestPrepareCommit(t *testing.T) {
	srv := fakeGitServer{
		t:         t,
		refs:      map[string]string{},
		mergeSHAs: []string{"m1", "m2"},
	}
	clt := newTestRESTClient(t, srv.handler())

	sha, err := clt.PrepareCommit(
		context.Background(), "o", "r", "automation/bors/auto", "base",
		[]MergeHead{{Number: 1, SHA: "h1"}, {Number: 2, SHA: "h2"}},
	)
	require.NoError(t, err)

	assert.Equal(t, "m2", sha)
	assert.Equal(t, "m2", srv.refs["automation/bors/auto.tmp"])
	assert.Equal(t, "m2", srv.refs["automation/bors/auto"])
}

func TestPrepareCommitConflict(t *testing.T) {
	srv := fakeGitServer{
		t:         t,
		refs:      map[string]string{},
		mergeSHAs: []string{"m1"},
		conflicts: map[string]bool{"h2": true},
	}
	clt := newTestRESTClient(t, srv.handler())

	_, err := clt.PrepareCommit(
		context.Background(), "o", "r", "automation/bors/auto", "base",
		[]MergeHead{{Number: 1, SHA: "h1"}, {Number: 2, SHA: "h2"}, {Number: 3, SHA: "h3"}},
	)
	require.Error(t, err)

	var conflictErr *MergeConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, 1, conflictErr.Index)
	assert.Equal(t, 2, conflictErr.Number)

	_, exists := srv.refs["automation/bors/auto"]
	assert.False(t, exists, "build branch must not be updated")
}
