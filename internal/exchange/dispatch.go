package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clustr-io/dataexchange/internal/queue"
	"github.com/clustr-io/dataexchange/internal/task"
)

// ResultStore holds rendered export bytes for memory-located exports, keyed
// by task ID, so the file can be served after the job completes.
type ResultStore interface {
	Put(id uuid.UUID, data []byte)
	Get(id uuid.UUID) ([]byte, bool)
}

// ImportDispatch is an import request plus its execution controls.
// CreatedBy identifies the acting user; empty falls back to the owner.
type ImportDispatch struct {
	ImportRequest
	OwnerID         uuid.UUID
	CreatedBy       uuid.UUID
	ForceAsync      bool
	NotifyOnSuccess bool
}

// ExportDispatch is an export request plus its execution controls.
// CreatedBy identifies the acting user; empty falls back to the owner.
type ExportDispatch struct {
	ExportRequest
	OwnerID         uuid.UUID
	CreatedBy       uuid.UUID
	ForceAsync      bool
	NotifyOnSuccess bool
}

// Dispatcher decides, per request, whether the job runs within the request
// or on the worker pool, and owns the task bookkeeping either way.
//
// Every request gets a task created IN_PROGRESS before its single job is
// enqueued. Synchronous attempts then wait on the job handle for the wait
// budget; when the budget runs out the request falls back to returning the
// in-progress task, and the already-enqueued job finishes in the
// background. The fallback never enqueues a second job.
type Dispatcher struct {
	Log      *slog.Logger
	Tasks    task.Repository
	Notifier task.Notifier
	Queue    *queue.Queue
	Importer *Importer
	Exporter *Exporter
	Results  ResultStore

	// SyncRecordCeiling is the largest record count an export may have and
	// still run synchronously.
	SyncRecordCeiling int
	// SyncImportByteCeiling is the largest file size an import may have and
	// still run synchronously.
	SyncImportByteCeiling int64
	// SyncWaitBudget bounds how long a synchronous attempt blocks.
	SyncWaitBudget time.Duration
	// MaxAttempts and RetryBackoff form the retry policy handed to the
	// queue for every job.
	MaxAttempts  int
	RetryBackoff time.Duration
}

func (d *Dispatcher) maxAttempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return 3
}

func createdBy(user, owner uuid.UUID) uuid.UUID {
	if user != uuid.Nil {
		return user
	}
	return owner
}

// DispatchImport runs one import request end to end.
//
// The returned task is always non-nil on success paths: IN_PROGRESS when
// the work continues in the background, terminal when the job finished
// within the wait budget. The result is non-nil only when the job finished
// synchronously.
func (d *Dispatcher) DispatchImport(ctx context.Context, req ImportDispatch) (*task.Task, *ImportResult, error) {
	// Buffer the upload so the job owns its input after the request body is
	// gone. The limit guard runs before the task exists.
	data, err := io.ReadAll(req.File)
	closeErr := req.File.Close()
	if err != nil {
		return nil, nil, importErrorf("reading upload: %v", err)
	}
	if closeErr != nil {
		d.Log.Warn("closing upload", "file", req.FileName, "error", closeErr)
	}
	if d.Importer.MaxFileSize > 0 && int64(len(data)) > d.Importer.MaxFileSize {
		return nil, nil, importErrorf("file size %d exceeds the limit of %d bytes", len(data), d.Importer.MaxFileSize)
	}

	if _, ok := Lookup(req.ContentType); !ok {
		return nil, nil, importErrorf("unknown entity type %q", req.ContentType)
	}

	async := req.ForceAsync || req.NotifyOnSuccess || int64(len(data)) > d.SyncImportByteCeiling

	t := &task.Task{
		OwnerID:         req.OwnerID,
		CreatedBy:       createdBy(req.CreatedBy, req.OwnerID),
		Kind:            task.KindImport,
		ContentType:     req.ContentType,
		NotifyOnSuccess: req.NotifyOnSuccess,
		FileName:        req.FileName,
	}
	if err := d.Tasks.Create(ctx, t); err != nil {
		return nil, nil, err
	}

	jobReq := req.ImportRequest
	jobReq.FileSize = int64(len(data))

	var result ImportResult
	handle, err := d.enqueue(queue.Job{
		Name:        "import " + req.ContentType,
		MaxAttempts: d.maxAttempts(),
		Backoff:     d.RetryBackoff,
		Terminal:    IsTerminal,
		Run: func(jobCtx context.Context) error {
			// Each attempt reads from the start of the buffered upload.
			jobReq.File = io.NopCloser(bytes.NewReader(data))
			res, runErr := d.Importer.Run(jobCtx, jobReq)
			if runErr != nil {
				return runErr
			}
			result = res
			return nil
		},
	}, t.ID, task.KindImport)
	if err != nil {
		return nil, nil, err
	}

	completed := make(chan struct{})
	go func() {
		d.finishImport(t.ID, handle, &result)
		close(completed)
	}()

	if async {
		return t, nil, nil
	}
	return d.awaitImport(ctx, t, handle, completed, &result)
}

// finishImport records the job outcome on the task once all attempts are
// done. It runs detached from the request so abandoned synchronous waits
// still complete their tasks.
func (d *Dispatcher) finishImport(id uuid.UUID, handle *queue.Handle, result *ImportResult) {
	<-handle.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	jobErr := handle.Err()
	completion := task.Completion{}
	failed := jobErr != nil
	if jobErr == nil {
		completion.ImportedObjectIDs = result.ObjectIDs
		completion.TotalSkipped = result.TotalSkipped
		if len(result.Errors) > 0 {
			if raw, err := json.Marshal(result.Errors); err == nil {
				completion.Errors = raw
			}
		}
		failed = result.Failed()
	} else {
		completion.Errors, _ = json.Marshal([]RowError{{Description: jobErr.Error()}})
	}

	if err := task.Complete(ctx, d.Tasks, d.Notifier, id, completion, failed); err != nil {
		d.Log.Error("recording import completion", "task_id", id, "error", err)
	}
}

func (d *Dispatcher) awaitImport(ctx context.Context, t *task.Task, handle *queue.Handle, completed <-chan struct{}, result *ImportResult) (*task.Task, *ImportResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.SyncWaitBudget)
	defer cancel()

	if err := handle.Wait(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// Budget exhausted: fall back to async, the job is already
			// running and the client polls the task.
			return t, nil, nil
		}
		return t, nil, err
	}
	// The job is done; wait for its completion to land on the task before
	// reading it back.
	<-completed
	refreshed := d.refresh(ctx, t)
	return refreshed, result, nil
}

// DispatchExport runs one export request end to end, mirroring
// DispatchImport: the output is non-nil only when the job finished within
// the wait budget.
func (d *Dispatcher) DispatchExport(ctx context.Context, req ExportDispatch) (*task.Task, *ExportOutput, error) {
	entity, ok := Lookup(req.ContentType)
	if !ok {
		return nil, nil, exportErrorf("unknown entity type %q", req.ContentType)
	}
	if entity.Queries == nil {
		return nil, nil, exportErrorf("entity %q does not support export", req.ContentType)
	}
	if err := ValidateExportFormat(req.Format); err != nil {
		return nil, nil, err
	}

	count, err := entity.Queries.Count(ctx, req.Query)
	if err != nil {
		return nil, nil, err
	}
	async := req.ForceAsync || req.NotifyOnSuccess || count > d.SyncRecordCeiling

	queryJSON, err := json.Marshal(req.Query)
	if err != nil {
		return nil, nil, exportErrorf("serializing export query: %v", err)
	}
	t := &task.Task{
		OwnerID:         req.OwnerID,
		CreatedBy:       createdBy(req.CreatedBy, req.OwnerID),
		Kind:            task.KindExport,
		ContentType:     req.ContentType,
		NotifyOnSuccess: req.NotifyOnSuccess,
		Format:          string(req.Format),
		Location:        string(req.Location),
		Query:           queryJSON,
	}
	if err := d.Tasks.Create(ctx, t); err != nil {
		return nil, nil, err
	}

	var output ExportOutput
	handle, err := d.enqueue(queue.Job{
		Name:        "export " + req.ContentType,
		MaxAttempts: d.maxAttempts(),
		Backoff:     d.RetryBackoff,
		Terminal:    IsTerminal,
		Run: func(jobCtx context.Context) error {
			out, runErr := d.Exporter.Run(jobCtx, req.ExportRequest)
			if runErr != nil {
				return runErr
			}
			output = out
			return nil
		},
	}, t.ID, task.KindExport)
	if err != nil {
		return nil, nil, err
	}

	completed := make(chan struct{})
	go func() {
		d.finishExport(t.ID, req.Location, handle, &output)
		close(completed)
	}()

	if async {
		return t, nil, nil
	}
	return d.awaitExport(ctx, t, handle, completed, &output)
}

func (d *Dispatcher) finishExport(id uuid.UUID, location StorageLocation, handle *queue.Handle, output *ExportOutput) {
	<-handle.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	jobErr := handle.Err()
	completion := task.Completion{}
	if jobErr == nil {
		completion.FileName = output.FileName
		completion.FilePath = output.Path
		completion.ExternalFileID = output.ExternalFileID
		if location != LocationDisk && location != LocationExternal && d.Results != nil {
			d.Results.Put(id, output.Data)
		}
	} else {
		completion.Errors, _ = json.Marshal([]RowError{{Description: jobErr.Error()}})
	}

	if err := task.Complete(ctx, d.Tasks, d.Notifier, id, completion, jobErr != nil); err != nil {
		d.Log.Error("recording export completion", "task_id", id, "error", err)
	}
}

func (d *Dispatcher) awaitExport(ctx context.Context, t *task.Task, handle *queue.Handle, completed <-chan struct{}, output *ExportOutput) (*task.Task, *ExportOutput, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.SyncWaitBudget)
	defer cancel()

	if err := handle.Wait(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return t, nil, nil
		}
		return t, nil, err
	}
	<-completed
	refreshed := d.refresh(ctx, t)
	return refreshed, output, nil
}

// enqueue submits the single job for a task; if the queue refuses it, the
// task is failed immediately so no record is left dangling IN_PROGRESS.
func (d *Dispatcher) enqueue(job queue.Job, id uuid.UUID, kind task.Kind) (*queue.Handle, error) {
	handle, err := d.Queue.Enqueue(job)
	if err != nil {
		raw, _ := json.Marshal([]RowError{{Description: "the system is overloaded, try again later"}})
		if _, failErr := d.Tasks.MarkFail(context.Background(), id, task.Completion{Errors: raw}); failErr != nil {
			d.Log.Error("failing unqueued task", "task_id", id, "kind", string(kind), "error", failErr)
		}
		return nil, err
	}
	return handle, nil
}

// refresh re-reads the task after a synchronous completion so the caller
// sees the terminal state; the stale in-progress copy is returned if the
// read fails or the task was deleted mid-flight.
func (d *Dispatcher) refresh(ctx context.Context, t *task.Task) *task.Task {
	refreshed, err := d.Tasks.Get(ctx, t.OwnerID, t.ID)
	if err != nil {
		return t
	}
	return refreshed
}
