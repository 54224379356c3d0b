// Package httpci starts and cancels builds at a CI server via configurable
// HTTP requests.
//
// URLs, bodies and header values are Go templates, the following fields
// can be referenced:
//
//	{{ .Repository }}  owner/name of the GitHub repository
//	{{ .Owner }}       repository owner
//	{{ .Name }}        repository name
//	{{ .Branch }}      branch the build runs on
//	{{ .SHA }}         commit that is built
//	{{ .Parent }}      base branch commit the built commit is based on
//	{{ .BuildID }}     the build id returned by the start request, only set
//	                   when cancelling
package httpci

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/jq"
	"github.com/simplesurance/gobors/internal/logfields"
	"github.com/simplesurance/gobors/internal/model"
)

const DefaultHTTPClientTimeout = time.Minute

// DefaultBuildIDQuery extracts the build id from the response of the start
// request.
const DefaultBuildIDQuery = ".id"

const loggerName = "ci.httpci"

const maxResponseBodySize = 1024 * 1024

// Request describes a HTTP request.
type Request struct {
	URL     string
	Method  string
	Body    string
	Headers map[string]string
}

type Config struct {
	Start Request
	// Cancel is optional, if the URL is empty cancelling builds is a
	// no-op.
	Cancel       Request
	User         string
	Password     string
	BuildIDQuery string
}

type requestTemplate struct {
	method  string
	url     *template.Template
	body    *template.Template
	headers map[string]*template.Template
}

// Client is a CI provider that triggers builds with HTTP requests.
type Client struct {
	start        *requestTemplate
	cancel       *requestTemplate
	user         string
	password     string
	buildIDQuery *jq.Query

	client *http.Client
	logger *zap.Logger
}

type templateData struct {
	Repository string
	Owner      string
	Name       string
	Branch     string
	SHA        string
	Parent     string
	BuildID    string
}

func parseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Option("missingkey=error").Parse(text)
}

func newRequestTemplate(name string, r *Request) (*requestTemplate, error) {
	var err error

	if r.URL == "" {
		return nil, errors.New("url must be set")
	}

	result := requestTemplate{
		method:  r.Method,
		headers: make(map[string]*template.Template, len(r.Headers)),
	}

	if result.method == "" {
		result.method = http.MethodPost
	}

	result.url, err = parseTemplate(name+"_url", r.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing url template failed: %w", err)
	}

	if r.Body != "" {
		result.body, err = parseTemplate(name+"_body", r.Body)
		if err != nil {
			return nil, fmt.Errorf("parsing body template failed: %w", err)
		}
	}

	for k, v := range r.Headers {
		result.headers[k], err = parseTemplate(name+"_header_"+k, v)
		if err != nil {
			return nil, fmt.Errorf("parsing template of header %q failed: %w", k, err)
		}
	}

	return &result, nil
}

func New(cfg *Config) (*Client, error) {
	start, err := newRequestTemplate("start", &cfg.Start)
	if err != nil {
		return nil, fmt.Errorf("start request: %w", err)
	}

	var cancel *requestTemplate
	if cfg.Cancel.URL != "" {
		cancel, err = newRequestTemplate("cancel", &cfg.Cancel)
		if err != nil {
			return nil, fmt.Errorf("cancel request: %w", err)
		}
	}

	q := cfg.BuildIDQuery
	if q == "" {
		q = DefaultBuildIDQuery
	}

	buildIDQuery, err := jq.Parse(q)
	if err != nil {
		return nil, fmt.Errorf("build id query: %w", err)
	}

	return &Client{
		start:        start,
		cancel:       cancel,
		user:         cfg.User,
		password:     cfg.Password,
		buildIDQuery: buildIDQuery,
		client: &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		},
		logger: zap.L().Named(loggerName),
	}, nil
}

func execTemplate(t *template.Template, data *templateData) (string, error) {
	var buf strings.Builder

	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templating %s failed: %w", t.Name(), err)
	}

	return buf.String(), nil
}

func (c *Client) newRequest(ctx context.Context, t *requestTemplate, data *templateData) (*http.Request, error) {
	url, err := execTemplate(t.url, data)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if t.body != nil {
		b, err := execTemplate(t.body, data)
		if err != nil {
			return nil, err
		}

		body = bytes.NewBufferString(b)
	}

	req, err := http.NewRequestWithContext(ctx, t.method, url, body)
	if err != nil {
		return nil, err
	}

	if c.user != "" || c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	for k, tmpl := range t.headers {
		v, err := execTemplate(tmpl, data)
		if err != nil {
			return nil, err
		}

		req.Header.Add(k, v)
	}

	return req, nil
}

// do sends the request and returns the response body.
// Network errors, 5xx and 429 responses are returned as
// borserr.RetryableError.
func (c *Client) do(req *http.Request, logger *zap.Logger) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, borserr.NewRetryableAnytimeError(err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		logger.Warn(
			"reading http response body failed",
			logfields.Event("ci_http_reading_response_body_failed"),
			zap.Int("http_response_code", resp.StatusCode),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := &ErrorHTTPRequest{Body: body, Status: resp.StatusCode}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, borserr.NewRetryableAnytimeError(reqErr)
		}

		return nil, reqErr
	}

	logger.Debug(
		fmt.Sprintf("http response: %s", string(body)),
		logfields.Event("ci_http_request_sent"),
	)

	return body, nil
}

// StartBuild sends the start request and extracts the build id from the
// response.
func (c *Client) StartBuild(ctx context.Context, repo model.RepoID, branch, sha, parent string) (string, error) {
	data := templateData{
		Repository: repo.String(),
		Owner:      repo.Owner,
		Name:       repo.Name,
		Branch:     branch,
		SHA:        sha,
		Parent:     parent,
	}

	req, err := c.newRequest(ctx, c.start, &data)
	if err != nil {
		return "", err
	}

	logger := c.logger.With(repo.LogFields()...).With(
		logfields.Branch(branch),
		logfields.Commit(sha),
		zap.String("http_url", req.URL.String()),
		zap.String("http_method", req.Method),
	)

	body, err := c.do(req, logger)
	if err != nil {
		return "", err
	}

	doc, err := jq.Unmarshal(body)
	if err != nil {
		return "", fmt.Errorf("parsing start response failed: %w", err)
	}

	buildID, err := c.buildIDQuery.Scalar(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("extracting build id from start response failed: %w", err)
	}

	if buildID == "" {
		return "", fmt.Errorf("build id query %q returned an empty value", c.buildIDQuery)
	}

	logger.Info("build started",
		logfields.Event("ci_build_started"),
		logfields.BuildExternalID(buildID),
	)

	return buildID, nil
}

// CancelBuild sends the cancel request. If no cancel request is configured
// nil is returned.
func (c *Client) CancelBuild(ctx context.Context, repo model.RepoID, buildID string) error {
	logger := c.logger.With(repo.LogFields()...).With(logfields.BuildExternalID(buildID))

	if c.cancel == nil {
		logger.Debug("cancelling builds is not configured, ignoring cancel request",
			logfields.Event("ci_build_cancel_not_configured"),
		)
		return nil
	}

	req, err := c.newRequest(ctx, c.cancel, &templateData{
		Repository: repo.String(),
		Owner:      repo.Owner,
		Name:       repo.Name,
		BuildID:    buildID,
	})
	if err != nil {
		return err
	}

	if _, err := c.do(req, logger); err != nil {
		return err
	}

	logger.Info("build cancelled", logfields.Event("ci_build_cancelled"))

	return nil
}
