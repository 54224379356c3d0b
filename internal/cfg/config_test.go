package cfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCfg = `
http_server_listen_addr = ":8085"
github_api_token = "abc"
reconcile_interval = "30s"
build_timeout = "2h"
command_workers = 4

[ci]
provider = "http"
build_id_query = ".build.id"

[ci.start]
url = "https://ci.example.com/{{ .Repository }}/builds"
body = '{"sha": "{{ .SHA }}"}'

[ci.start.headers]
Content-Type = "application/json"

[ci.callback]
status_query = ".state"

[[repository]]
owner = "simplesurance"
repository = "gobors"
reviewers = ["alice", "bob"]
build_slots = 2

[repository.rollup]
enabled = true
max_batch_size = 4

[[repository]]
owner = "simplesurance"
repository = "other"
reviewers = ["alice"]
`

func loadTestCfg(t *testing.T) *Config {
	t.Helper()

	config, err := Load(strings.NewReader(testCfg))
	require.NoError(t, err)

	return config
}

func TestLoad(t *testing.T) {
	config := loadTestCfg(t)

	assert.Equal(t, ":8085", config.HTTPListenAddr)
	assert.Equal(t, 30*time.Second, config.ReconcileInterval)
	assert.Equal(t, 2*time.Hour, config.BuildTimeout)
	assert.Equal(t, 4, config.CommandWorkers)

	assert.Equal(t, CIProviderHTTP, config.CI.Provider)
	assert.Equal(t, ".build.id", config.CI.BuildIDQuery)
	assert.Equal(t, "https://ci.example.com/{{ .Repository }}/builds", config.CI.Start.URL)
	assert.Equal(t, map[string]string{"Content-Type": "application/json"}, config.CI.Start.Headers)
	assert.Equal(t, ".state", config.CI.Callback.Status)

	require.Len(t, config.Repositories, 2)
	assert.Equal(t, "simplesurance/gobors", config.Repositories[0].String())
	assert.Equal(t, []string{"alice", "bob"}, config.Repositories[0].Reviewers)
	assert.Equal(t, 2, config.Repositories[0].BuildSlots)
	assert.True(t, config.Repositories[0].Rollup.Enabled)
	assert.Equal(t, 4, config.Repositories[0].Rollup.MaxBatchSize)
	assert.False(t, config.Repositories[1].Rollup.Enabled)

	require.NoError(t, config.Validate())
}

func TestSetDefaults(t *testing.T) {
	config := loadTestCfg(t)
	config.SetDefaults()

	assert.Equal(t, "/listener/github", config.HTTPGithubWebhookEndpoint)
	assert.Equal(t, "/listener/ci", config.HTTPCIWebhookEndpoint)
	assert.Equal(t, "/metrics", config.HTTPMetricsEndpoint)
	assert.Equal(t, "logfmt", config.LogFormat)
	assert.Equal(t, 2, config.Repositories[0].BuildSlots)
	assert.Equal(t, 1, config.Repositories[1].BuildSlots)

	var empty Config
	empty.SetDefaults()
	assert.Equal(t, CIProviderGithubActions, empty.CI.Provider)
}

func TestValidate(t *testing.T) {
	tcs := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "no listen addr",
			modify: func(c *Config) { c.HTTPListenAddr = "" },
			errMsg: "http_server_listen_addr must be set",
		},
		{
			name: "https without cert",
			modify: func(c *Config) {
				c.HTTPSListenAddr = ":443"
			},
			errMsg: "https_ssl_cert_file",
		},
		{
			name:   "missing token",
			modify: func(c *Config) { c.GithubAPIToken = "" },
			errMsg: "github_api_token",
		},
		{
			name:   "unsupported ci provider",
			modify: func(c *Config) { c.CI.Provider = "jenkins" },
			errMsg: `ci.provider "jenkins" is unsupported`,
		},
		{
			name:   "http ci without url",
			modify: func(c *Config) { c.CI.Start.URL = "" },
			errMsg: "ci.start.url",
		},
		{
			name:   "duplicate repository",
			modify: func(c *Config) { c.Repositories[1].RepositoryName = "gobors" },
			errMsg: "simplesurance/gobors is configured multiple times",
		},
		{
			name:   "no reviewers",
			modify: func(c *Config) { c.Repositories[1].Reviewers = nil },
			errMsg: "simplesurance/other: reviewers must not be empty",
		},
		{
			name:   "no repositories",
			modify: func(c *Config) { c.Repositories = nil },
			errMsg: "no repository is configured",
		},
		{
			name:   "negative batch size",
			modify: func(c *Config) { c.Repositories[0].Rollup.MaxBatchSize = -1 },
			errMsg: "max_batch_size must not be negative",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			config := loadTestCfg(t)
			config.SetDefaults()
			tc.modify(config)

			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	config := loadTestCfg(t)

	env := map[string]string{
		EnvGithubAPIToken: "fromenv",
		EnvDatabaseURL:    "postgres://localhost/gobors",
	}

	config.ApplyEnv(func(key string) (string, bool) {
		v, exist := env[key]
		return v, exist
	})

	assert.Equal(t, "fromenv", config.GithubAPIToken)
	assert.Equal(t, "postgres://localhost/gobors", config.DatabaseURL)
	assert.Empty(t, config.GithubWebHookSecret)
}

func TestEnvLookupPrefersProcessEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(
		path,
		[]byte(EnvGithubWebhookSecret+"=filesecret\n"+EnvGithubAPIToken+"=filetoken\n"),
		0o600,
	))

	t.Setenv(EnvGithubAPIToken, "processtoken")

	lookup, err := EnvLookup(path)
	require.NoError(t, err)

	config := loadTestCfg(t)
	config.ApplyEnv(lookup)

	assert.Equal(t, "processtoken", config.GithubAPIToken)
	assert.Equal(t, "filesecret", config.GithubWebHookSecret)
}

func TestEnvLookupMissingFile(t *testing.T) {
	_, err := EnvLookup(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
