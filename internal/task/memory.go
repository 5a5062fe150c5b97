package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository with the same transition
// semantics as the Postgres-backed one. It backs tests and single-process
// deployments that do not need durable task records.
type MemoryRepository struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*Task
	now   func() time.Time
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tasks: make(map[uuid.UUID]*Task),
		now:   time.Now,
	}
}

func (r *MemoryRepository) Create(_ context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = StatusInProgress
	}
	now := r.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	clone := *t
	r.tasks[t.ID] = &clone
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, ownerID, id uuid.UUID) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (r *MemoryRepository) List(_ context.Context, ownerID uuid.UUID, kind Kind) ([]*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Task
	for _, t := range r.tasks {
		if t.OwnerID == ownerID && t.Kind == kind {
			clone := *t
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemoryRepository) Delete(_ context.Context, ownerID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(r.tasks, id)
	return nil
}

func (r *MemoryRepository) MarkSuccess(_ context.Context, id uuid.UUID, c Completion) (*Task, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || t.Status != StatusInProgress {
		return nil, false, nil
	}
	r.apply(t, c, StatusSuccess)
	clone := *t
	return &clone, true, nil
}

func (r *MemoryRepository) MarkFail(_ context.Context, id uuid.UUID, c Completion) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || t.Status != StatusInProgress {
		return false, nil
	}
	r.apply(t, c, StatusFail)
	return true, nil
}

func (r *MemoryRepository) SetNotifyOnSuccess(_ context.Context, ownerID, id uuid.UUID, notify bool) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	t.NotifyOnSuccess = notify
	t.UpdatedAt = r.now()
	clone := *t
	return &clone, nil
}

func (r *MemoryRepository) apply(t *Task, c Completion, status Status) {
	now := r.now()
	t.Status = status
	t.UpdatedAt = now
	// Only a successful completion carries a completion time; failed tasks
	// keep completed_at unset.
	if status == StatusSuccess {
		t.CompletedAt = &now
	}
	if c.ImportedObjectIDs != nil {
		t.ImportedObjectIDs = c.ImportedObjectIDs
	}
	if c.Errors != nil {
		t.Errors = c.Errors
	}
	if c.TotalSkipped != 0 {
		t.TotalSkipped = c.TotalSkipped
	}
	if c.FileName != "" {
		t.FileName = c.FileName
	}
	if c.FilePath != "" {
		t.FilePath = c.FilePath
	}
	if c.ExternalFileID != nil {
		t.ExternalFileID = c.ExternalFileID
	}
}
