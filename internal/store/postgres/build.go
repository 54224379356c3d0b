package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/model"
)

var buildColumns = []string{
	"id", "repository", "kind", "branch", "commit_sha", "parent", "status",
	"external_id", "created_at", "updated_at",
}

type buildRow struct {
	b      model.Build
	repo   string
	kind   string
	status string
}

func (r *buildRow) dest() []any {
	return []any{
		&r.b.ID, &r.repo, &r.kind, &r.b.Branch, &r.b.CommitSHA, &r.b.Parent,
		&r.status, &r.b.ExternalID, &r.b.CreatedAt, &r.b.UpdatedAt,
	}
}

func (r *buildRow) toModel() (*model.Build, error) {
	var err error
	b := r.b

	if b.Repo, err = model.ParseRepoID(r.repo); err != nil {
		return nil, err
	}

	if b.Kind, err = model.ParseBuildKind(r.kind); err != nil {
		return nil, err
	}

	if b.Status, err = model.ParseBuildStatus(r.status); err != nil {
		return nil, err
	}

	return &b, nil
}

// nullBuildRow is the build side of a LEFT JOIN.
type nullBuildRow struct {
	id         sql.NullInt64
	repo       sql.NullString
	kind       sql.NullString
	branch     sql.NullString
	commitSHA  sql.NullString
	parent     sql.NullString
	status     sql.NullString
	externalID sql.NullString
	createdAt  sql.NullTime
	updatedAt  sql.NullTime
}

func (r *nullBuildRow) dest() []any {
	return []any{
		&r.id, &r.repo, &r.kind, &r.branch, &r.commitSHA, &r.parent,
		&r.status, &r.externalID, &r.createdAt, &r.updatedAt,
	}
}

func (r *nullBuildRow) toModel() (*model.Build, error) {
	if !r.id.Valid {
		return nil, nil
	}

	row := buildRow{
		b: model.Build{
			ID:         r.id.Int64,
			Branch:     r.branch.String,
			CommitSHA:  r.commitSHA.String,
			Parent:     r.parent.String,
			ExternalID: r.externalID.String,
			CreatedAt:  r.createdAt.Time,
			UpdatedAt:  r.updatedAt.Time,
		},
		repo:   r.repo.String,
		kind:   r.kind.String,
		status: r.status.String,
	}

	return row.toModel()
}

func scanBuild(sc scanner) (*model.Build, error) {
	var row buildRow

	if err := sc.Scan(row.dest()...); err != nil {
		return nil, err
	}

	return row.toModel()
}

func (s *Store) CreateBuild(ctx context.Context, b *model.Build) (*model.Build, bool, error) {
	query := `
		INSERT INTO build (repository, kind, branch, commit_sha, parent, status, external_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (repository, branch, commit_sha) DO NOTHING
		RETURNING ` + columns(buildColumns, "")

	created, err := scanBuild(s.q(ctx).QueryRowContext(
		ctx, query,
		b.Repo.String(), string(b.Kind), b.Branch, b.CommitSHA, b.Parent, string(b.Status), b.ExternalID,
	))
	if err == nil {
		return created, true, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("inserting build failed: %w", err)
	}

	existing, err := s.FindBuild(ctx, b.Repo, b.Branch, b.CommitSHA)
	if err != nil {
		return nil, false, err
	}

	return existing, false, nil
}

func (s *Store) getBuild(ctx context.Context, notFoundMsg string, where string, args ...any) (*model.Build, error) {
	query := `SELECT ` + columns(buildColumns, "") + ` FROM build WHERE ` + where

	b, err := scanBuild(s.q(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", notFoundMsg, borserr.ErrNotFound)
		}

		return nil, fmt.Errorf("querying %s failed: %w", notFoundMsg, err)
	}

	return b, nil
}

func (s *Store) GetBuild(ctx context.Context, id int64) (*model.Build, error) {
	return s.getBuild(ctx, fmt.Sprintf("build %d", id), "id = $1", id)
}

func (s *Store) FindBuild(ctx context.Context, repo model.RepoID, branch, commitSHA string) (*model.Build, error) {
	return s.getBuild(
		ctx,
		fmt.Sprintf("build of %s on %s", commitSHA, branch),
		"repository = $1 AND branch = $2 AND commit_sha = $3",
		repo.String(), branch, commitSHA,
	)
}

func (s *Store) FindBuildByExternalID(ctx context.Context, repo model.RepoID, externalID string) (*model.Build, error) {
	return s.getBuild(
		ctx,
		fmt.Sprintf("build with external id %q", externalID),
		"repository = $1 AND external_id = $2 ORDER BY id DESC LIMIT 1",
		repo.String(), externalID,
	)
}

func (s *Store) UpdateBuild(ctx context.Context, b *model.Build) error {
	query := `
		UPDATE build SET status = $2, external_id = $3, updated_at = now()
		WHERE id = $1`

	res, err := s.q(ctx).ExecContext(ctx, query, b.ID, string(b.Status), b.ExternalID)
	if err != nil {
		return fmt.Errorf("updating build %d failed: %w", b.ID, err)
	}

	cnt, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating build %d failed: %w", b.ID, err)
	}

	if cnt == 0 {
		return fmt.Errorf("build %d: %w", b.ID, borserr.ErrNotFound)
	}

	return nil
}

func (s *Store) ActiveBuilds(ctx context.Context, repo model.RepoID) ([]*model.Build, error) {
	query := `SELECT ` + columns(buildColumns, "") + `
		FROM build
		WHERE repository = $1 AND status IN ($2, $3)
		ORDER BY id`

	rows, err := s.q(ctx).QueryContext(ctx, query, repo.String(), string(model.BuildStatusPending), string(model.BuildStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("querying active builds failed: %w", err)
	}
	defer rows.Close()

	var result []*model.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build row failed: %w", err)
		}

		result = append(result, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating build rows failed: %w", err)
	}

	return result, nil
}
