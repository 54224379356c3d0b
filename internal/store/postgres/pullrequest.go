package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/model"
)

var prColumns = []string{
	"id", "repository", "number", "title", "author", "head_sha",
	"base_branch", "status", "approved_by", "approved_sha", "delegated",
	"priority", "mergeable_state", "rollup", "isolated", "build_id",
	"try_build_id", "created_at", "updated_at",
}

func columns(cols []string, prefix string) string {
	if prefix == "" {
		return strings.Join(cols, ", ")
	}

	prefixed := make([]string, 0, len(cols))
	for _, c := range cols {
		prefixed = append(prefixed, prefix+c)
	}

	return strings.Join(prefixed, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

type prRow struct {
	pr          model.PullRequest
	repo        string
	status      string
	mergeable   string
	rollup      string
	approvedBy  sql.NullString
	approvedSHA sql.NullString
	buildID     sql.NullInt64
	tryBuildID  sql.NullInt64
}

func (r *prRow) dest() []any {
	return []any{
		&r.pr.ID, &r.repo, &r.pr.Number, &r.pr.Title, &r.pr.Author,
		&r.pr.HeadSHA, &r.pr.BaseBranch, &r.status, &r.approvedBy,
		&r.approvedSHA, &r.pr.Delegated, &r.pr.Priority, &r.mergeable,
		&r.rollup, &r.pr.Isolated, &r.buildID, &r.tryBuildID,
		&r.pr.CreatedAt, &r.pr.UpdatedAt,
	}
}

func (r *prRow) toModel() (*model.PullRequest, error) {
	var err error
	pr := r.pr

	if pr.Repo, err = model.ParseRepoID(r.repo); err != nil {
		return nil, err
	}

	if pr.Status, err = model.ParseStatus(r.status); err != nil {
		return nil, err
	}

	if pr.MergeableState, err = model.ParseMergeableState(r.mergeable); err != nil {
		return nil, err
	}

	if pr.Rollup, err = model.ParseRollupMode(r.rollup); err != nil {
		return nil, err
	}

	if r.approvedSHA.Valid {
		pr.Approval = &model.Approval{
			Approver: r.approvedBy.String,
			SHA:      r.approvedSHA.String,
		}
	}

	if r.buildID.Valid {
		id := r.buildID.Int64
		pr.BuildID = &id
	}

	if r.tryBuildID.Valid {
		id := r.tryBuildID.Int64
		pr.TryBuildID = &id
	}

	return &pr, nil
}

func scanPullRequest(sc scanner) (*model.PullRequest, error) {
	var row prRow

	if err := sc.Scan(row.dest()...); err != nil {
		return nil, err
	}

	return row.toModel()
}

func approvalArgs(pr *model.PullRequest) (by, sha sql.NullString) {
	if pr.Approval == nil {
		return by, sha
	}

	return sql.NullString{String: pr.Approval.Approver, Valid: true},
		sql.NullString{String: pr.Approval.SHA, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: *v, Valid: true}
}

func (s *Store) GetOrCreatePullRequest(ctx context.Context, pr *model.PullRequest) (*model.PullRequest, bool, error) {
	approvedBy, approvedSHA := approvalArgs(pr)

	query := `
		INSERT INTO pull_request (repository, number, title, author, head_sha, base_branch, status,
			approved_by, approved_sha, delegated, priority, mergeable_state, rollup, isolated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (repository, number) DO NOTHING
		RETURNING ` + columns(prColumns, "")

	created, err := scanPullRequest(s.q(ctx).QueryRowContext(
		ctx, query,
		pr.Repo.String(), pr.Number, pr.Title, pr.Author, pr.HeadSHA, pr.BaseBranch, string(pr.Status),
		approvedBy, approvedSHA, pr.Delegated, pr.Priority, string(pr.MergeableState), string(pr.Rollup), pr.Isolated,
	))
	if err == nil {
		return created, true, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("inserting pull request failed: %w", err)
	}

	existing, err := s.GetPullRequest(ctx, pr.PullRequestID())
	if err != nil {
		return nil, false, err
	}

	return existing, false, nil
}

func (s *Store) GetPullRequest(ctx context.Context, id model.PullRequestID) (*model.PullRequest, error) {
	query := `SELECT ` + columns(prColumns, "") + `
		FROM pull_request
		WHERE repository = $1 AND number = $2`

	pr, err := scanPullRequest(s.q(ctx).QueryRowContext(ctx, query, id.Repo.String(), id.Number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("pull request %s: %w", id, borserr.ErrNotFound)
		}

		return nil, fmt.Errorf("querying pull request %s failed: %w", id, err)
	}

	return pr, nil
}

func (s *Store) UpdatePullRequest(ctx context.Context, pr *model.PullRequest) error {
	approvedBy, approvedSHA := approvalArgs(pr)

	query := `
		UPDATE pull_request SET
			title = $3, author = $4, head_sha = $5, base_branch = $6, status = $7,
			approved_by = $8, approved_sha = $9, delegated = $10, priority = $11,
			mergeable_state = $12, rollup = $13, isolated = $14, build_id = $15,
			try_build_id = $16, updated_at = now()
		WHERE repository = $1 AND number = $2`

	res, err := s.q(ctx).ExecContext(
		ctx, query,
		pr.Repo.String(), pr.Number,
		pr.Title, pr.Author, pr.HeadSHA, pr.BaseBranch, string(pr.Status),
		approvedBy, approvedSHA, pr.Delegated, pr.Priority,
		string(pr.MergeableState), string(pr.Rollup), pr.Isolated, nullInt64(pr.BuildID),
		nullInt64(pr.TryBuildID),
	)
	if err != nil {
		return fmt.Errorf("updating pull request %s failed: %w", pr.PullRequestID(), err)
	}

	cnt, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating pull request %s failed: %w", pr.PullRequestID(), err)
	}

	if cnt == 0 {
		return fmt.Errorf("pull request %s: %w", pr.PullRequestID(), borserr.ErrNotFound)
	}

	return nil
}

func (s *Store) queryPullRequests(ctx context.Context, query string, args ...any) ([]*model.PullRequest, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pull requests failed: %w", err)
	}
	defer rows.Close()

	var result []*model.PullRequest
	for rows.Next() {
		pr, err := scanPullRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pull request row failed: %w", err)
		}

		result = append(result, pr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pull request rows failed: %w", err)
	}

	return result, nil
}

func (s *Store) ListPullRequests(ctx context.Context, repo model.RepoID, statuses ...model.Status) ([]*model.PullRequest, error) {
	args := []any{repo.String()}

	query := `SELECT ` + columns(prColumns, "") + `
		FROM pull_request
		WHERE repository = $1`

	if len(statuses) > 0 {
		placeholders := make([]string, 0, len(statuses))
		for _, st := range statuses {
			args = append(args, string(st))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}

		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}

	query += ` ORDER BY number`

	return s.queryPullRequests(ctx, query, args...)
}

// FindPullRequestByBuild returns the pull request whose try build is
// buildID. The build is joined with a LEFT JOIN, if the build row is missing
// the pull request is returned with a nil build.
func (s *Store) FindPullRequestByBuild(ctx context.Context, buildID int64) (*model.PullRequest, *model.Build, error) {
	query := `SELECT ` + columns(prColumns, "pr.") + `, ` + columns(buildColumns, "b.") + `
		FROM pull_request AS pr
		LEFT JOIN build AS b ON pr.try_build_id = b.id
		WHERE pr.try_build_id = $1
		ORDER BY pr.number
		LIMIT 1`

	var (
		pr  prRow
		bld nullBuildRow
	)

	err := s.q(ctx).QueryRowContext(ctx, query, buildID).Scan(append(pr.dest(), bld.dest()...)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("pull request with try build %d: %w", buildID, borserr.ErrNotFound)
		}

		return nil, nil, fmt.Errorf("querying pull request by build %d failed: %w", buildID, err)
	}

	result, err := pr.toModel()
	if err != nil {
		return nil, nil, err
	}

	build, err := bld.toModel()
	if err != nil {
		return nil, nil, err
	}

	return result, build, nil
}

func (s *Store) PullRequestsByBuild(ctx context.Context, buildID int64) ([]*model.PullRequest, error) {
	query := `SELECT ` + columns(prColumns, "") + `
		FROM pull_request
		WHERE build_id = $1
		ORDER BY number`

	return s.queryPullRequests(ctx, query, buildID)
}
