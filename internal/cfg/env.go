package cfg

import (
	"os"

	"github.com/joho/godotenv"
)

const (
	EnvGithubAPIToken      = "GOBORS_GITHUB_API_TOKEN"
	EnvGithubWebhookSecret = "GOBORS_GITHUB_WEBHOOK_SECRET"
	EnvDatabaseURL         = "GOBORS_DATABASE_URL"
	EnvCIWebhookToken      = "GOBORS_CI_WEBHOOK_TOKEN"
)

// LookupFunc has the same semantics as os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// EnvLookup returns a LookupFunc that looks keys up in the process
// environment first and then in the variables read from the dotenv file at
// path. If path is empty only the process environment is used.
func EnvLookup(path string) (LookupFunc, error) {
	if path == "" {
		return os.LookupEnv, nil
	}

	fileVars, err := godotenv.Read(path)
	if err != nil {
		return nil, err
	}

	return func(key string) (string, bool) {
		if v, exist := os.LookupEnv(key); exist {
			return v, true
		}

		v, exist := fileVars[key]
		return v, exist
	}, nil
}

// ApplyEnv overwrites secrets in the configuration with the values of
// environment variables that are set.
func (c *Config) ApplyEnv(lookup LookupFunc) {
	for key, field := range map[string]*string{
		EnvGithubAPIToken:      &c.GithubAPIToken,
		EnvGithubWebhookSecret: &c.GithubWebHookSecret,
		EnvDatabaseURL:         &c.DatabaseURL,
		EnvCIWebhookToken:      &c.CI.WebhookToken,
	} {
		if v, exist := lookup(key); exist {
			*field = v
		}
	}
}
