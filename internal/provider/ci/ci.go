// Package ci provides an http handler that receives build completion
// callbacks from a CI system.
// The fields of a completion are extracted from the JSON payload via jq
// queries, this allows to consume the webhook format of most CI systems.
package ci

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/simplesurance/gobors/internal/jq"
	"github.com/simplesurance/gobors/internal/logfields"
	"github.com/simplesurance/gobors/internal/provider"
)

const loggerName = "ci_event_provider"

const (
	TokenHeader    = "X-Gobors-Token"
	maxPayloadSize = 5 * 1024 * 1024
)

// Completion is a build status update reported by the CI.
type Completion struct {
	// Repository is in the format <owner>/<name>.
	Repository string
	BuildID    string
	Branch     string
	CommitSHA  string
	// Status is the CI specific build status, e.g. "passed".
	Status string
	URL    string
}

// Queries are the jq queries to extract the Completion fields from a callback
// payload.
type Queries struct {
	Repository string
	BuildID    string
	Branch     string
	CommitSHA  string
	Status     string
	URL        string
}

// DefaultQueries are applied for empty Queries fields.
var DefaultQueries = Queries{
	Repository: ".repository",
	BuildID:    ".build_id",
	Branch:     ".branch // empty",
	CommitSHA:  ".commit_sha // empty",
	Status:     ".status",
	URL:        ".url // empty",
}

type parsedQueries struct {
	repository *jq.Query
	buildID    *jq.Query
	branch     *jq.Query
	commitSHA  *jq.Query
	status     *jq.Query
	url        *jq.Query
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseQueries(q Queries) (*parsedQueries, error) {
	var result parsedQueries
	var errs []error

	parse := func(name, query, def string) *jq.Query {
		parsed, err := jq.Parse(orDefault(query, def))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return parsed
	}

	result.repository = parse("repository", q.Repository, DefaultQueries.Repository)
	result.buildID = parse("build_id", q.BuildID, DefaultQueries.BuildID)
	result.branch = parse("branch", q.Branch, DefaultQueries.Branch)
	result.commitSHA = parse("commit_sha", q.CommitSHA, DefaultQueries.CommitSHA)
	result.status = parse("status", q.Status, DefaultQueries.Status)
	result.url = parse("url", q.URL, DefaultQueries.URL)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &result, nil
}

// Provider receives CI callbacks and forwards them as events to a channel.
type Provider struct {
	logger  *zap.Logger
	token   []byte
	queries *parsedQueries
	c       chan<- *provider.Event
}

type Option func(*Provider)

// WithToken requires that requests contain the token in the TokenHeader.
func WithToken(token string) Option {
	return func(p *Provider) {
		p.token = []byte(token)
	}
}

func New(eventChan chan<- *provider.Event, queries Queries, opts ...Option) (*Provider, error) {
	pq, err := parseQueries(queries)
	if err != nil {
		return nil, err
	}

	p := Provider{
		logger:  zap.L().Named(loggerName),
		queries: pq,
		c:       eventChan,
	}

	for _, o := range opts {
		o(&p)
	}

	return &p, nil
}

func (p *Provider) extract(ctx context.Context, payload []byte) (*Completion, error) {
	doc, err := jq.Unmarshal(payload)
	if err != nil {
		return nil, err
	}

	var result Completion
	fields := []struct {
		name  string
		query *jq.Query
		dst   *string
	}{
		{"repository", p.queries.repository, &result.Repository},
		{"build_id", p.queries.buildID, &result.BuildID},
		{"branch", p.queries.branch, &result.Branch},
		{"commit_sha", p.queries.commitSHA, &result.CommitSHA},
		{"status", p.queries.status, &result.Status},
		{"url", p.queries.url, &result.URL},
	}

	for _, f := range fields {
		v, err := f.query.Scalar(ctx, doc)
		if err != nil {
			// "// empty" queries return 0 results when the field
			// is missing
			if f.name != "repository" && f.name != "status" && f.name != "build_id" {
				continue
			}

			return nil, fmt.Errorf("extracting %s failed: %w", f.name, err)
		}

		*f.dst = v
	}

	if result.Repository == "" {
		return nil, errors.New("repository field is empty")
	}

	if result.Status == "" {
		return nil, errors.New("status field is empty")
	}

	if result.BuildID == "" && (result.Branch == "" || result.CommitSHA == "") {
		return nil, errors.New("build_id or branch and commit_sha must be set")
	}

	return &result, nil
}

func (p *Provider) HTTPHandler(resp http.ResponseWriter, req *http.Request) {
	logger := p.logger.With(logfields.EventProvider(provider.ProviderCI))

	if req.Method != http.MethodPost {
		http.Error(resp, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.token) > 0 && subtle.ConstantTimeCompare([]byte(req.Header.Get(TokenHeader)), p.token) != 1 {
		logger.Info(
			"received ci callback with invalid token",
			logfields.Event("ci_http_request_validation_failed"),
		)
		http.Error(resp, "invalid token", http.StatusUnauthorized)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(req.Body, maxPayloadSize))
	if err != nil {
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	completion, err := p.extract(req.Context(), payload)
	if err != nil {
		logger.Info(
			"received invalid ci callback, parsing failed",
			logfields.Event("ci_event_parsing_failed"),
			zap.Error(err),
			zap.ByteString("http_body", payload),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	logFields := []zap.Field{
		logfields.EventProvider(provider.ProviderCI),
		logfields.BuildExternalID(completion.BuildID),
		zap.String("ci.status", completion.Status),
	}

	ev := provider.Event{
		Provider:  provider.ProviderCI,
		Type:      "build_status",
		JSON:      payload,
		Event:     completion,
		LogFields: logFields,
	}

	select {
	case p.c <- &ev:
		logger.Debug("event forwarded to channel",
			logfields.Event("ci_event_forwarded"),
		)

	default:
		logger.Warn(
			"event lost, forwarding event to channel failed",
			zap.String("error", "could not forward event to channel, send would have blocked"),
			logfields.Event("ci_forwarding_event_failed"),
		)

		http.Error(resp, "queue full", http.StatusServiceUnavailable)
		return
	}
}
