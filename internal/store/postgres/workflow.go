package postgres

import (
	"context"
	"fmt"

	"github.com/simplesurance/gobors/internal/borserr"
	"github.com/simplesurance/gobors/internal/model"
)

func (s *Store) CreateWorkflow(ctx context.Context, w *model.Workflow) (*model.Workflow, error) {
	query := `
		INSERT INTO workflow (build_id, name, url, run_id, type, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	result := *w

	err := s.q(ctx).QueryRowContext(
		ctx, query,
		w.BuildID, w.Name, w.URL, w.RunID, string(w.Type), string(w.Status),
	).Scan(&result.ID, &result.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("workflow run %d of build %d: %w", w.RunID, w.BuildID, borserr.ErrAlreadyExists)
		}

		return nil, fmt.Errorf("inserting workflow failed: %w", err)
	}

	return &result, nil
}

func (s *Store) UpdateWorkflowStatus(ctx context.Context, buildID, runID int64, status model.WorkflowStatus) error {
	query := `UPDATE workflow SET status = $3 WHERE build_id = $1 AND run_id = $2`

	res, err := s.q(ctx).ExecContext(ctx, query, buildID, runID, string(status))
	if err != nil {
		return fmt.Errorf("updating workflow run %d failed: %w", runID, err)
	}

	cnt, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating workflow run %d failed: %w", runID, err)
	}

	if cnt == 0 {
		return fmt.Errorf("workflow run %d of build %d: %w", runID, buildID, borserr.ErrNotFound)
	}

	return nil
}

func (s *Store) WorkflowsForBuild(ctx context.Context, buildID int64) ([]*model.Workflow, error) {
	query := `
		SELECT id, build_id, name, url, run_id, type, status, created_at
		FROM workflow
		WHERE build_id = $1
		ORDER BY id`

	rows, err := s.q(ctx).QueryContext(ctx, query, buildID)
	if err != nil {
		return nil, fmt.Errorf("querying workflows failed: %w", err)
	}
	defer rows.Close()

	var result []*model.Workflow
	for rows.Next() {
		var (
			w              model.Workflow
			wfType, status string
		)

		if err := rows.Scan(&w.ID, &w.BuildID, &w.Name, &w.URL, &w.RunID, &wfType, &status, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning workflow row failed: %w", err)
		}

		if w.Type, err = model.ParseWorkflowType(wfType); err != nil {
			return nil, err
		}

		if w.Status, err = model.ParseWorkflowStatus(status); err != nil {
			return nil, err
		}

		result = append(result, &w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workflow rows failed: %w", err)
	}

	return result, nil
}
