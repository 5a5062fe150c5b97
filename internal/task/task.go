// Package task tracks long-running import and export jobs. A task is the
// durable record a client polls while a job runs; it moves IN_PROGRESS to
// SUCCESS or FAIL exactly once, through guarded repository transitions.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task. Tasks are created IN_PROGRESS
// and finish in exactly one of the terminal states.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusFail       Status = "FAIL"
)

// Kind distinguishes import tasks from export tasks.
type Kind string

const (
	KindImport Kind = "IMPORT"
	KindExport Kind = "EXPORT"
)

// ErrNotFound is returned by reads and owner-scoped mutations when no task
// matches. Completion transitions never return it: finishing a deleted task
// is silently ignored.
var ErrNotFound = errors.New("task not found")

// Task is the durable record of one import or export job.
//
// Import tasks carry the imported object IDs, the serialized row errors and
// the skipped-row count. Export tasks carry the serialized query
// description plus the produced file's name, path or external file ID
// depending on the storage location. Errors and Query are stored serialized
// so the record never holds live objects that cannot cross the sync/async
// boundary.
type Task struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`
	// CreatedBy is the user acting for the owner who started the job; it may
	// differ from OwnerID when an account has multiple users.
	CreatedBy       uuid.UUID `json:"created_by"`
	Kind            Kind      `json:"kind"`
	ContentType     string    `json:"content_type"`
	Status          Status    `json:"status"`
	NotifyOnSuccess bool      `json:"notify_on_success"`

	FileName string `json:"file_name,omitempty"`
	FilePath string `json:"-"`
	Format   string `json:"format,omitempty"`
	Location string `json:"location,omitempty"`

	Query          json.RawMessage `json:"query,omitempty"`
	ExternalFileID *uuid.UUID      `json:"external_file_id,omitempty"`

	ImportedObjectIDs []string        `json:"imported_object_ids,omitempty"`
	Errors            json.RawMessage `json:"errors,omitempty"`
	TotalSkipped      int             `json:"total_skipped,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Completion carries the fields a terminal transition writes onto the task.
type Completion struct {
	ImportedObjectIDs []string
	Errors            json.RawMessage
	TotalSkipped      int
	FileName          string
	FilePath          string
	ExternalFileID    *uuid.UUID
}

// Repository persists tasks. All reads and owner-scoped mutations filter by
// owner ID; completion transitions are keyed by task ID alone since they
// run inside workers acting for the owner who created the task.
//
// MarkSuccess and MarkFail are guarded: they transition only tasks still
// IN_PROGRESS. The returned bool reports whether this call performed the
// transition; false with a nil error means the task was already terminal or
// has been deleted, both of which callers treat as a no-op.
type Repository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, ownerID, id uuid.UUID) (*Task, error)
	List(ctx context.Context, ownerID uuid.UUID, kind Kind) ([]*Task, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
	MarkSuccess(ctx context.Context, id uuid.UUID, c Completion) (*Task, bool, error)
	MarkFail(ctx context.Context, id uuid.UUID, c Completion) (bool, error)
	SetNotifyOnSuccess(ctx context.Context, ownerID, id uuid.UUID, notify bool) (*Task, error)
}

// Notifier receives the success side effect. It fires at most once per
// task, on the transition that newly reaches SUCCESS, and only when the
// task asked for it.
type Notifier interface {
	TaskSucceeded(ctx context.Context, t *Task)
}

// LogNotifier is the default Notifier: it records the success instead of
// delivering anything.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) TaskSucceeded(_ context.Context, t *Task) {
	n.Log.Info("task succeeded",
		"task_id", t.ID,
		"kind", string(t.Kind),
		"entity", t.ContentType,
	)
}

// Complete applies the outcome of a finished job to its task and fires the
// notifier when the task newly reached SUCCESS with notification enabled.
// Failures to persist the transition are returned; a vanished task is not a
// failure.
func Complete(ctx context.Context, repo Repository, notifier Notifier, id uuid.UUID, c Completion, failed bool) error {
	if failed {
		_, err := repo.MarkFail(ctx, id, c)
		return err
	}
	t, transitioned, err := repo.MarkSuccess(ctx, id, c)
	if err != nil {
		return err
	}
	if transitioned && t.NotifyOnSuccess && notifier != nil {
		notifier.TaskSucceeded(ctx, t)
	}
	return nil
}
