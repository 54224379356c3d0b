package model

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/simplesurance/gobors/internal/logfields"
)

// RepoID identifies a GitHub repository.
type RepoID struct {
	Owner string
	Name  string
}

func NewRepoID(owner, name string) (RepoID, error) {
	if owner == "" {
		return RepoID{}, errors.New("repository owner is empty")
	}

	if name == "" {
		return RepoID{}, errors.New("repository name is empty")
	}

	return RepoID{Owner: owner, Name: name}, nil
}

// ParseRepoID parses a "owner/name" string.
func ParseRepoID(s string) (RepoID, error) {
	owner, name, found := strings.Cut(s, "/")
	if !found {
		return RepoID{}, fmt.Errorf("%q is not in the format <owner>/<name>", s)
	}

	return NewRepoID(owner, name)
}

func (r RepoID) String() string {
	return r.Owner + "/" + r.Name
}

func (r RepoID) LogFields() []zap.Field {
	return []zap.Field{
		logfields.RepositoryOwner(r.Owner),
		logfields.Repository(r.Name),
	}
}

// PullRequestID identifies a pull request uniquely.
type PullRequestID struct {
	Repo   RepoID
	Number int
}

func (p PullRequestID) String() string {
	return fmt.Sprintf("%s#%d", p.Repo, p.Number)
}

func (p PullRequestID) LogFields() []zap.Field {
	return append(p.Repo.LogFields(), logfields.PullRequest(p.Number))
}
