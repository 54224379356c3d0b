package mergequeue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/gobors/internal/model"
)

func TestHTTPQueueAndPullRequestStatus(t *testing.T) {
	env := newTestEnv(t, &RepositoryConfig{Repo: testRepo, Reviewers: []string{reviewer}, BuildSlots: 2})
	env.stopOnCleanup(t)

	ctx := context.Background()

	for _, n := range []int{1, 2} {
		_, _, err := env.store.GetOrCreatePullRequest(ctx, readyPR(n, time.Duration(n)*time.Minute))
		require.NoError(t, err)
	}

	approved := openPR(3)
	approved.Status = model.StatusApproved
	_, _, err := env.store.GetOrCreatePullRequest(ctx, approved)
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewHTTPService(env.mq).RegisterHandlers(mux, "/")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/repos/testman/repo/queue", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var queue jsonQueue
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&queue))

	assert.Equal(t, "testman/repo", queue.Repository)
	assert.Equal(t, 2, queue.BuildSlots)
	require.Len(t, queue.Queued, 2)
	assert.Equal(t, 1, queue.Queued[0].Number)
	assert.Equal(t, 1, queue.Queued[0].QueuePosition)
	assert.Equal(t, 2, queue.Queued[1].QueuePosition)
	require.Len(t, queue.Approved, 1)
	assert.Equal(t, 3, queue.Approved[0].Number)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/repos/testman/repo/pulls/2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var pr jsonPullRequest
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pr))
	assert.Equal(t, 2, pr.Number)
	assert.Equal(t, string(model.StatusReady), pr.Status)
	assert.Equal(t, 2, pr.QueuePosition)
	assert.Equal(t, reviewer, pr.ApprovedBy)
}

func TestHTTPNotFound(t *testing.T) {
	env := newTestEnv(t, &RepositoryConfig{Repo: testRepo})
	env.stopOnCleanup(t)

	mux := http.NewServeMux()
	NewHTTPService(env.mq).RegisterHandlers(mux, "/")

	for _, path := range []string{
		"/api/v1/repos/testman/other/queue",
		"/api/v1/repos/testman/repo/pulls/42",
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/repos/testman/repo/pulls/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPListPage(t *testing.T) {
	env := newTestEnv(t, &RepositoryConfig{Repo: testRepo})
	env.stopOnCleanup(t)

	_, _, err := env.store.GetOrCreatePullRequest(context.Background(), readyPR(1, 0))
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewHTTPService(env.mq).RegisterHandlers(mux, "/")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "testman/repo")
}
