package cfg

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pelletier/go-toml"
)

const (
	CIProviderHTTP          = "http"
	CIProviderGithubActions = "github_actions"
)

type Config struct {
	HTTPListenAddr            string `toml:"http_server_listen_addr"`
	HTTPSListenAddr           string `toml:"https_server_listen_addr"`
	HTTPSCertFile             string `toml:"https_ssl_cert_file"`
	HTTPSKeyFile              string `toml:"https_ssl_key_file"`
	HTTPGithubWebhookEndpoint string `toml:"github_webhook_endpoint"`
	HTTPCIWebhookEndpoint     string `toml:"ci_webhook_endpoint"`
	HTTPStatusEndpoint        string `toml:"status_endpoint"`
	HTTPMetricsEndpoint       string `toml:"metrics_endpoint"`
	GithubWebHookSecret       string `toml:"github_webhook_secret"`
	GithubAPIToken            string `toml:"github_api_token"`
	LogFormat                 string `toml:"log_format"`
	LogTimeKey                string `toml:"log_time_key"`
	LogLevel                  string `toml:"log_level"`
	// DatabaseURL is the postgres connection string, when it is empty
	// the state is only kept in memory.
	DatabaseURL           string        `toml:"database_url"`
	CommandPrefix         string        `toml:"command_prefix"`
	ReconcileInterval     time.Duration `toml:"reconcile_interval"`
	BuildTimeout          time.Duration `toml:"build_timeout"`
	MergeableRefreshAfter time.Duration `toml:"mergeable_refresh_after"`
	CommandWorkers        int           `toml:"command_workers"`
	CI                    CI            `toml:"ci"`
	Repositories          []*Repository `toml:"repository"`
}

type Request struct {
	URL     string            `toml:"url"`
	Method  string            `toml:"method"`
	Body    string            `toml:"body"`
	Headers map[string]string `toml:"headers"`
}

// CallbackQueries are jq queries that extract the build result from CI
// callback requests.
type CallbackQueries struct {
	Repository string `toml:"repository_query"`
	BuildID    string `toml:"build_id_query"`
	Branch     string `toml:"branch_query"`
	CommitSHA  string `toml:"commit_sha_query"`
	Status     string `toml:"status_query"`
	URL        string `toml:"url_query"`
}

type CI struct {
	Provider string `toml:"provider"`
	// CheckSuiteApp is the slug of the GitHub App whose check suites
	// report build results.
	CheckSuiteApp string `toml:"check_suite_app"`
	// StatusContext enables evaluating commit statuses with this context
	// as build results.
	StatusContext string          `toml:"status_context"`
	WebhookToken  string          `toml:"webhook_token"`
	Start         Request         `toml:"start"`
	Cancel        Request         `toml:"cancel"`
	User          string          `toml:"user"`
	Password      string          `toml:"password"`
	BuildIDQuery  string          `toml:"build_id_query"`
	Callback      CallbackQueries `toml:"callback"`
}

type Rollup struct {
	Enabled      bool `toml:"enabled"`
	MaxBatchSize int  `toml:"max_batch_size"`
}

type Repository struct {
	Owner          string   `toml:"owner"`
	RepositoryName string   `toml:"repository"`
	Reviewers      []string `toml:"reviewers"`
	BuildSlots     int      `toml:"build_slots"`
	Rollup         Rollup   `toml:"rollup"`
}

func (r *Repository) String() string {
	return r.Owner + "/" + r.RepositoryName
}

func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// SetDefaults sets unset fields that have a default value.
func (c *Config) SetDefaults() {
	if c.HTTPGithubWebhookEndpoint == "" {
		c.HTTPGithubWebhookEndpoint = "/listener/github"
	}

	if c.HTTPCIWebhookEndpoint == "" {
		c.HTTPCIWebhookEndpoint = "/listener/ci"
	}

	if c.HTTPStatusEndpoint == "" {
		c.HTTPStatusEndpoint = "/"
	}

	if c.HTTPMetricsEndpoint == "" {
		c.HTTPMetricsEndpoint = "/metrics"
	}

	if c.LogFormat == "" {
		c.LogFormat = "logfmt"
	}

	if c.LogTimeKey == "" {
		c.LogTimeKey = "time_iso8601"
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.CI.Provider == "" {
		c.CI.Provider = CIProviderGithubActions
	}

	for _, r := range c.Repositories {
		if r.BuildSlots == 0 {
			r.BuildSlots = 1
		}
	}
}

// Validate returns an error that describes all invalid settings.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPListenAddr == "" && c.HTTPSListenAddr == "" {
		errs = append(errs, errors.New("https_server_listen_addr or http_server_listen_addr must be set"))
	}

	if c.HTTPSListenAddr != "" && (c.HTTPSCertFile == "" || c.HTTPSKeyFile == "") {
		errs = append(errs, errors.New("https_ssl_cert_file and https_ssl_key_file must be set when https_server_listen_addr is set"))
	}

	if c.GithubAPIToken == "" {
		errs = append(errs, errors.New("github_api_token must be set"))
	}

	if c.ReconcileInterval < 0 || c.BuildTimeout < 0 || c.MergeableRefreshAfter < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}

	if c.CommandWorkers < 0 {
		errs = append(errs, errors.New("command_workers must not be negative"))
	}

	switch c.CI.Provider {
	case CIProviderGithubActions:
	case CIProviderHTTP:
		if c.CI.Start.URL == "" {
			errs = append(errs, errors.New("ci.start.url must be set for the http ci provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("ci.provider %q is unsupported, must be %q or %q",
			c.CI.Provider, CIProviderHTTP, CIProviderGithubActions))
	}

	if len(c.Repositories) == 0 {
		errs = append(errs, errors.New("no repository is configured"))
	}

	seen := make(map[string]struct{}, len(c.Repositories))
	for i, r := range c.Repositories {
		if r.Owner == "" || r.RepositoryName == "" {
			errs = append(errs, fmt.Errorf("repository #%d: owner and repository must be set", i+1))
			continue
		}

		if _, exist := seen[r.String()]; exist {
			errs = append(errs, fmt.Errorf("repository %s is configured multiple times", r))
		}
		seen[r.String()] = struct{}{}

		if len(r.Reviewers) == 0 {
			errs = append(errs, fmt.Errorf("repository %s: reviewers must not be empty", r))
		}

		if r.BuildSlots < 0 {
			errs = append(errs, fmt.Errorf("repository %s: build_slots must not be negative", r))
		}

		if r.Rollup.MaxBatchSize < 0 {
			errs = append(errs, fmt.Errorf("repository %s: rollup.max_batch_size must not be negative", r))
		}
	}

	return errors.Join(errs...)
}
