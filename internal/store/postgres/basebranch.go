package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/model"
)

func (s *Store) GetBaseBranch(ctx context.Context, repo model.RepoID, branch string) (*model.BaseBranch, error) {
	query := `
		SELECT sha, updated_at
		FROM base_branch
		WHERE repository = $1 AND name = $2`

	bb := model.BaseBranch{Repo: repo, Name: branch}

	err := s.q(ctx).QueryRowContext(ctx, query, repo.String(), branch).Scan(&bb.SHA, &bb.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("base branch %s:%s: %w", repo, branch, borserr.ErrNotFound)
		}

		return nil, fmt.Errorf("querying base branch %s:%s failed: %w", repo, branch, err)
	}

	return &bb, nil
}

func (s *Store) SetBaseBranchSHA(ctx context.Context, repo model.RepoID, branch, sha string) error {
	query := `
		INSERT INTO base_branch (repository, name, sha)
		VALUES ($1, $2, $3)
		ON CONFLICT (repository, name) DO UPDATE SET sha = EXCLUDED.sha, updated_at = now()`

	if _, err := s.q(ctx).ExecContext(ctx, query, repo.String(), branch, sha); err != nil {
		return fmt.Errorf("storing base branch %s:%s failed: %w", repo, branch, err)
	}

	return nil
}
