package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository is the Postgres-backed Repository. Terminal transitions are
// guarded in SQL (WHERE status = 'IN_PROGRESS'), so concurrent completions
// and completions of deleted tasks resolve without application locking.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const taskColumns = `id, owner_id, created_by, kind, content_type, status, notify_on_success,
	file_name, file_path, format, location, query, external_file_id,
	imported_object_ids, errors, total_skipped, created_at, updated_at, completed_at`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.CreatedBy, &t.Kind, &t.ContentType, &t.Status, &t.NotifyOnSuccess,
		&t.FileName, &t.FilePath, &t.Format, &t.Location, &t.Query, &t.ExternalFileID,
		&t.ImportedObjectIDs, &t.Errors, &t.TotalSkipped, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PGRepository) Create(ctx context.Context, t *Task) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = StatusInProgress
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, owner_id, created_by, kind, content_type, status, notify_on_success,
			file_name, file_path, format, location, query, external_file_id,
			imported_object_ids, errors, total_skipped)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at`,
		t.ID, t.OwnerID, t.CreatedBy, t.Kind, t.ContentType, t.Status, t.NotifyOnSuccess,
		t.FileName, t.FilePath, t.Format, t.Location, t.Query, t.ExternalFileID,
		t.ImportedObjectIDs, t.Errors, t.TotalSkipped,
	)
	if err := row.Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, ownerID, id uuid.UUID) (*Task, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching task %s: %w", id, err)
	}
	return t, nil
}

func (r *PGRepository) List(ctx context.Context, ownerID uuid.UUID, kind Kind) ([]*Task, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE owner_id = $1 AND kind = $2
		 ORDER BY created_at DESC`,
		ownerID, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var result []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return result, nil
}

func (r *PGRepository) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM tasks WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) MarkSuccess(ctx context.Context, id uuid.UUID, c Completion) (*Task, bool, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE tasks SET
			status = $2,
			imported_object_ids = COALESCE($3, imported_object_ids),
			errors = COALESCE($4, errors),
			total_skipped = $5,
			file_name = COALESCE(NULLIF($6, ''), file_name),
			file_path = COALESCE(NULLIF($7, ''), file_path),
			external_file_id = COALESCE($8, external_file_id),
			updated_at = now(),
			completed_at = now()
		WHERE id = $1 AND status = $9
		RETURNING `+taskColumns,
		id, StatusSuccess,
		c.ImportedObjectIDs, c.Errors, c.TotalSkipped,
		c.FileName, c.FilePath, c.ExternalFileID,
		StatusInProgress,
	)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already terminal or deleted; either way the transition is a no-op.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("completing task %s: %w", id, err)
	}
	return t, true, nil
}

func (r *PGRepository) MarkFail(ctx context.Context, id uuid.UUID, c Completion) (bool, error) {
	// A failed task never gets completed_at; only the transition to SUCCESS
	// marks a completion time.
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET
			status = $2,
			errors = COALESCE($3, errors),
			total_skipped = $4,
			updated_at = now()
		WHERE id = $1 AND status = $5`,
		id, StatusFail, c.Errors, c.TotalSkipped, StatusInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("failing task %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) SetNotifyOnSuccess(ctx context.Context, ownerID, id uuid.UUID, notify bool) (*Task, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE tasks SET notify_on_success = $3, updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING `+taskColumns,
		id, ownerID, notify,
	)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating task %s: %w", id, err)
	}
	return t, nil
}
