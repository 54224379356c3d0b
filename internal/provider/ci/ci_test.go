package ci

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/gobors/internal/provider"
)

func newCallbackReq(body, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/ci", bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	return req
}

func TestHandlerDefaultQueries(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	evChan := make(chan *provider.Event, 1)
	p, err := New(evChan, Queries{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.HTTPHandler(rec, newCallbackReq(`{"repository": "simplesurance/gobors", "build_id": 77, "status": "success"}`, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ev := <-evChan
	assert.Equal(t, provider.ProviderCI, ev.Provider)

	c, ok := ev.Event.(*Completion)
	require.True(t, ok)
	assert.Equal(t, "simplesurance/gobors", c.Repository)
	assert.Equal(t, "77", c.BuildID)
	assert.Equal(t, "success", c.Status)
	assert.Empty(t, c.Branch)
}

func TestHandlerCustomQueries(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	evChan := make(chan *provider.Event, 1)
	p, err := New(evChan, Queries{
		Repository: `.pipeline.repo`,
		BuildID:    `.pipeline.id`,
		Status:     `.pipeline.result | ascii_downcase`,
		URL:        `.pipeline.web_url`,
	}, WithToken("tok"))
	require.NoError(t, err)

	body := `{"pipeline": {"repo": "o/r", "id": "abc", "result": "FAILED", "web_url": "https://ci/abc"}}`

	rec := httptest.NewRecorder()
	p.HTTPHandler(rec, newCallbackReq(body, "wrong"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	p.HTTPHandler(rec, newCallbackReq(body, "tok"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	c := (<-evChan).Event.(*Completion)
	assert.Equal(t, "failed", c.Status)
	assert.Equal(t, "https://ci/abc", c.URL)
	assert.Equal(t, "abc", c.BuildID)
}

func TestHandlerRejectsIncompletePayload(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	evChan := make(chan *provider.Event, 1)
	p, err := New(evChan, Queries{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.HTTPHandler(rec, newCallbackReq(`{"repository": "o/r", "status": "success"}`, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	p.HTTPHandler(rec, newCallbackReq(`not json`, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, evChan)
}

func TestNewFailsOnInvalidQuery(t *testing.T) {
	_, err := New(nil, Queries{BuildID: ".["})
	assert.Error(t, err)
}
