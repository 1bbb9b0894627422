package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lychee-technology/formbase"
)

// Notifier receives one event per completed or failed migration record.
// Implementations must not block: delivery is fire-and-forget and a lost
// notification never fails a migration.
type Notifier interface {
	NotifyMigration(event formbase.MigrationEvent)
}

// JobStatus is the lifecycle state of a queued migration.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobHandle tracks one enqueued migration. The originating request returns
// immediately with the handle; Wait blocks until the job settles.
type JobHandle struct {
	ID    uuid.UUID
	Op    formbase.ChangeOp
	Table string

	mu        sync.Mutex
	status    JobStatus
	record    *formbase.MigrationRecord
	err       error
	cancelled bool
	done      chan struct{}
}

// Status returns the job's current state.
func (j *JobHandle) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Cancel removes a queued-but-not-started job from consideration. An
// in-flight DDL transaction is not cancellable: it commits or rolls back
// atomically. Returns true when the cancellation took effect.
func (j *JobHandle) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != JobQueued {
		return false
	}
	j.cancelled = true
	return true
}

// Wait blocks until the job settles or ctx is done.
func (j *JobHandle) Wait(ctx context.Context) (*formbase.MigrationRecord, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.record, j.err
}

func (j *JobHandle) settle(status JobStatus, record *formbase.MigrationRecord, err error) {
	j.mu.Lock()
	j.status = status
	j.record = record
	j.err = err
	j.mu.Unlock()
	close(j.done)
}

// Orchestrator serializes migrations per form: ops targeting one form's
// tables run strictly in enqueue order on a dedicated worker, while
// different forms proceed concurrently (their tables are disjoint).
// Transient DDL failures are retried with bounded exponential backoff;
// validation failures are never retried.
type Orchestrator struct {
	executor        *MigrationExecutor
	bindings        *BindingStore
	notifier        Notifier
	maxAttempts     int
	baseDelay       time.Duration
	maxDelay        time.Duration
	queueCapacity   int
	backupByDefault bool
	executedBy      string
	sleep           func(ctx context.Context, d time.Duration) error

	baseCtx context.Context
	// mu guards queues and closed. Senders hold the read side across the
	// channel send, so Close can only close a queue once no Enqueue is
	// blocked on it.
	mu     sync.RWMutex
	queues map[uuid.UUID]chan *JobHandle
	closed bool
	wg     sync.WaitGroup
}

// OrchestratorParams configure an Orchestrator.
type OrchestratorParams struct {
	Executor        *MigrationExecutor
	Bindings        *BindingStore
	Notifier        Notifier
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	QueueCapacity   int
	BackupByDefault bool
	ExecutedBy      string
}

// NewOrchestrator constructs an Orchestrator. ctx bounds all background
// work; cancelling it aborts workers after their in-flight job settles.
func NewOrchestrator(ctx context.Context, p OrchestratorParams) *Orchestrator {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.RetryBaseDelay <= 0 {
		p.RetryBaseDelay = 500 * time.Millisecond
	}
	if p.RetryMaxDelay <= 0 {
		p.RetryMaxDelay = 10 * time.Second
	}
	if p.QueueCapacity <= 0 {
		p.QueueCapacity = 64
	}
	if p.ExecutedBy == "" {
		p.ExecutedBy = "system"
	}
	return &Orchestrator{
		executor:        p.Executor,
		bindings:        p.Bindings,
		notifier:        p.Notifier,
		maxAttempts:     p.MaxAttempts,
		baseDelay:       p.RetryBaseDelay,
		maxDelay:        p.RetryMaxDelay,
		queueCapacity:   p.QueueCapacity,
		backupByDefault: p.BackupByDefault,
		executedBy:      p.ExecutedBy,
		sleep:           sleepCtx,
		baseCtx:         ctx,
		queues:          make(map[uuid.UUID]chan *JobHandle),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue submits one change operation. The target table is resolved from
// the owner's binding at enqueue time; the call returns as soon as the job
// is queued, without waiting for the DDL.
func (o *Orchestrator) Enqueue(ctx context.Context, op formbase.ChangeOp) (*JobHandle, error) {
	ownerID := op.FormID
	if op.SubFormID != nil {
		ownerID = *op.SubFormID
	}
	binding, err := o.bindings.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	job := &JobHandle{
		ID:     uuid.New(),
		Op:     op,
		Table:  binding.TableName,
		status: JobQueued,
		done:   make(chan struct{}),
	}

	o.mu.RLock()
	if o.closed {
		o.mu.RUnlock()
		return nil, errQueueClosed()
	}
	queue, ok := o.queues[op.FormID]
	if !ok {
		o.mu.RUnlock()
		queue, err = o.openQueue(op.FormID)
		if err != nil {
			return nil, err
		}
		o.mu.RLock()
		if o.closed {
			o.mu.RUnlock()
			return nil, errQueueClosed()
		}
	}

	// closed is false under the read lock, so the channel stays open for
	// the whole send even when it blocks on a full queue.
	select {
	case queue <- job:
		o.mu.RUnlock()
	case <-ctx.Done():
		o.mu.RUnlock()
		return nil, ctx.Err()
	}
	zap.S().Debugw("migration enqueued",
		"jobId", job.ID, "formId", op.FormID, "table", job.Table, "type", op.Type)
	return job, nil
}

func (o *Orchestrator) openQueue(formID uuid.UUID) (chan *JobHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, errQueueClosed()
	}
	queue, ok := o.queues[formID]
	if !ok {
		queue = make(chan *JobHandle, o.queueCapacity)
		o.queues[formID] = queue
		o.wg.Add(1)
		go o.worker(formID, queue)
	}
	return queue, nil
}

func errQueueClosed() error {
	return formbase.NewError(formbase.ErrorTypeInternal, formbase.ErrCodeQueueClosed,
		"migration queue is closed")
}

// EnqueueAll submits a planned batch in order, stopping at the first
// enqueue failure.
func (o *Orchestrator) EnqueueAll(ctx context.Context, ops []formbase.ChangeOp) ([]*JobHandle, error) {
	handles := make([]*JobHandle, 0, len(ops))
	for _, op := range ops {
		h, err := o.Enqueue(ctx, op)
		if err != nil {
			return handles, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func (o *Orchestrator) worker(formID uuid.UUID, queue chan *JobHandle) {
	defer o.wg.Done()
	for job := range queue {
		job.mu.Lock()
		if job.cancelled {
			job.status = JobCancelled
			job.err = formbase.NewError(formbase.ErrorTypeValidation, formbase.ErrCodeJobCancelled,
				"migration job cancelled before execution")
			job.mu.Unlock()
			close(job.done)
			continue
		}
		job.status = JobRunning
		job.mu.Unlock()

		record, err := o.runWithRetries(job)
		if err != nil {
			zap.S().Errorw("migration failed permanently",
				"jobId", job.ID, "formId", formID, "table", job.Table,
				"type", job.Op.Type, "error", err)
			job.settle(JobFailed, record, err)
		} else {
			job.settle(JobSucceeded, record, nil)
		}
		o.notify(record)
	}
}

func (o *Orchestrator) runWithRetries(job *JobHandle) (*formbase.MigrationRecord, error) {
	opts := ExecuteOptions{Backup: o.backupByDefault, ExecutedBy: o.executedBy}
	var (
		record *formbase.MigrationRecord
		err    error
	)
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		record, err = o.executor.Execute(o.baseCtx, job.Op, job.Table, opts)
		if err == nil {
			return record, nil
		}
		if !IsTransientError(err) || attempt == o.maxAttempts {
			return record, err
		}
		delay := o.backoffDelay(attempt)
		zap.S().Warnw("transient migration failure, retrying",
			"jobId", job.ID, "attempt", attempt, "delay", delay, "error", err)
		if sleepErr := o.sleep(o.baseCtx, delay); sleepErr != nil {
			return record, err
		}
	}
	return record, err
}

func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	delay := o.baseDelay << (attempt - 1)
	if delay > o.maxDelay {
		delay = o.maxDelay
	}
	return delay
}

func (o *Orchestrator) notify(record *formbase.MigrationRecord) {
	if o.notifier == nil || record == nil {
		return
	}
	o.notifier.NotifyMigration(formbase.MigrationEvent{
		Record:     *record,
		OccurredAt: time.Now().UTC(),
	})
}

// Preview renders the SQL, rollback SQL, and human-readable risk notes for
// a planned batch without touching the database.
func (o *Orchestrator) Preview(ops []formbase.ChangeOp, table string) (*formbase.Preview, error) {
	preview := &formbase.Preview{}
	for _, op := range ops {
		plan, err := o.executor.planStatement(op, table)
		if err != nil {
			return nil, err
		}
		if plan.ddl != "" {
			preview.SQL = append(preview.SQL, plan.ddl)
		}
		if plan.rollbackSQL != "" {
			preview.RollbackSQL = append(preview.RollbackSQL, plan.rollbackSQL)
		}
		switch op.Type {
		case formbase.MigrationDeleteField:
			preview.Risks = append(preview.Risks, fmt.Sprintf(
				"dropping column %q discards its existing data; a backup will be created automatically", op.ColumnName))
		case formbase.MigrationChangeType:
			preview.Risks = append(preview.Risks, fmt.Sprintf(
				"changing column %q from %s to %s converts existing data and may fail on unconvertible values; a backup will be created automatically",
				op.ColumnName, op.OldType, op.NewType))
		}
	}
	return preview, nil
}

// Close stops accepting jobs and waits for the per-form workers to drain.
// Taking the write lock waits out any sender blocked on a full queue, so
// every admitted job is delivered before its channel is closed.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for _, queue := range o.queues {
		close(queue)
	}
	o.mu.Unlock()
	o.wg.Wait()
}
