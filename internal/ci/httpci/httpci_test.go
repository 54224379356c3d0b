package httpci

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/model"
)

var repo = model.RepoID{Owner: "testman", Name: "repo"}

func TestStartBuild(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var gotBody, gotPath, gotHeader, gotUser string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		gotBody = string(b)
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-Commit")
		gotUser, _, _ = r.BasicAuth()

		_, _ = w.Write([]byte(`{"build": {"number": 123}}`))
	}))
	t.Cleanup(srv.Close)

	clt, err := New(&Config{
		Start: Request{
			URL:     srv.URL + "/job/{{ .Name }}/build",
			Body:    `{"branch": "{{ .Branch }}", "sha": "{{ .SHA }}", "parent": "{{ .Parent }}"}`,
			Headers: map[string]string{"X-Commit": "{{ .SHA }}"},
		},
		User:         "ci",
		Password:     "secret",
		BuildIDQuery: ".build.number",
	})
	require.NoError(t, err)

	id, err := clt.StartBuild(context.Background(), repo, "automation/bors/auto", "abc", "base")
	require.NoError(t, err)

	assert.Equal(t, "123", id)
	assert.Equal(t, "/job/repo/build", gotPath)
	assert.Equal(t, `{"branch": "automation/bors/auto", "sha": "abc", "parent": "base"}`, gotBody)
	assert.Equal(t, "abc", gotHeader)
	assert.Equal(t, "ci", gotUser)
}

func TestStartBuildErrors(t *testing.T) {
	tcs := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{name: "server_error", status: http.StatusBadGateway, body: "", retryable: true},
		{name: "rate_limited", status: http.StatusTooManyRequests, body: "", retryable: true},
		{name: "bad_request", status: http.StatusBadRequest, body: "invalid", retryable: false},
		{name: "no_build_id", status: http.StatusOK, body: `{"other": 1}`, retryable: false},
		{name: "invalid_json", status: http.StatusOK, body: `<html>`, retryable: false},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			clt, err := New(&Config{Start: Request{URL: srv.URL}})
			require.NoError(t, err)

			_, err = clt.StartBuild(context.Background(), repo, "b", "abc", "base")
			require.Error(t, err)
			assert.Equal(t, tc.retryable, borserr.IsRetryable(err))
		})
	}
}

func TestCancelBuild(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	clt, err := New(&Config{
		Start:  Request{URL: srv.URL},
		Cancel: Request{URL: srv.URL + "/builds/{{ .BuildID }}", Method: http.MethodDelete},
	})
	require.NoError(t, err)

	require.NoError(t, clt.CancelBuild(context.Background(), repo, "77"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/builds/77", gotPath)
}

func TestCancelBuildNotConfigured(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt, err := New(&Config{Start: Request{URL: "http://localhost"}})
	require.NoError(t, err)

	assert.NoError(t, clt.CancelBuild(context.Background(), repo, "77"))
}

func TestNewInvalidTemplate(t *testing.T) {
	_, err := New(&Config{Start: Request{URL: "http://localhost/{{ .Branch"}})
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err)
}
