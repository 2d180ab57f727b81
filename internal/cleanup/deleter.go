// Package cleanup removes old pipeline executions in the background.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"golang.org/x/sync/errgroup"

	"evalgo.org/unifiedviews/internal/config"
	"evalgo.org/unifiedviews/internal/metrics"
	"evalgo.org/unifiedviews/internal/storage"
	"evalgo.org/unifiedviews/models"
)

var (
	// ErrBusy is returned by Start while a job is running.
	ErrBusy = errors.New("a cleanup job is already running")

	// ErrNotFinished is returned by Delete for executions still in progress.
	ErrNotFinished = errors.New("execution has not finished")
)

// State is the lifecycle state of a cleanup job.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

// Request selects the executions to delete: finished executions created
// before Before, optionally of one pipeline only.
type Request struct {
	Before     time.Time `json:"before"`
	PipelineID string    `json:"pipelineId,omitempty"`
}

// Status describes the last or ongoing job.
type Status struct {
	JobID     string     `json:"jobId,omitempty"`
	Actor     string     `json:"actor,omitempty"`
	Request   Request    `json:"request"`
	State     State      `json:"state"`
	Total     int        `json:"total"`
	Deleted   int        `json:"deleted"`
	Failed    int        `json:"failed"`
	Errors    []string   `json:"errors,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// Done reports whether the job has ended.
func (s Status) Done() bool {
	return s.State == StateFinished || s.State == StateFailed
}

// ProgressFunc receives a snapshot after every processed execution and once
// more when the job ends.
type ProgressFunc func(Status)

// Deleter runs one cleanup job at a time.
type Deleter struct {
	store       storage.Store
	workingDir  string
	parallelism int
	logger      *log.Logger
	metrics     *metrics.Metrics

	mu       sync.Mutex
	status   Status
	running  bool
	progress []ProgressFunc
	wg       sync.WaitGroup
}

// New creates a deleter removing working directories below files.WorkingDir.
func New(store storage.Store, files config.FilesConfig, cfg config.CleanupConfig, logger *log.Logger, m *metrics.Metrics) *Deleter {
	parallelism := cfg.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	return &Deleter{
		store:       store,
		workingDir:  files.WorkingDir,
		parallelism: parallelism,
		logger:      logger,
		metrics:     m,
		status:      Status{State: StateIdle},
	}
}

// OnProgress registers a callback for job progress.
func (d *Deleter) OnProgress(fn ProgressFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.progress = append(d.progress, fn)
}

// Status returns the state of the last or ongoing job.
func (d *Deleter) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// Start launches a job on behalf of actor and returns its initial status.
func (d *Deleter) Start(actor string, req Request) (Status, error) {
	if err := req.validate(); err != nil {
		return Status{}, err
	}
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return Status{}, ErrBusy
	}
	d.begin(actor, req)
	st := d.snapshotLocked()
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(context.Background())
	}()
	return st, nil
}

// Run executes a job synchronously and returns its final status.
func (d *Deleter) Run(ctx context.Context, actor string, req Request) (Status, error) {
	if err := req.validate(); err != nil {
		return Status{}, err
	}
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return Status{}, ErrBusy
	}
	d.begin(actor, req)
	d.mu.Unlock()

	d.run(ctx)
	return d.Status(), nil
}

// Wait blocks until the job started by Start has ended.
func (d *Deleter) Wait() {
	d.wg.Wait()
}

func (r Request) validate() error {
	if r.Before.IsZero() {
		return fmt.Errorf("cleanup request needs a cut-off date")
	}
	return nil
}

// begin resets the status for a new job. Callers hold mu.
func (d *Deleter) begin(actor string, req Request) {
	now := time.Now()
	d.running = true
	d.status = Status{
		JobID:     models.GenerateID("cleanup"),
		Actor:     actor,
		Request:   req,
		State:     StateRunning,
		StartedAt: &now,
	}
}

func (d *Deleter) snapshotLocked() Status {
	st := d.status
	st.Errors = append([]string(nil), d.status.Errors...)
	return st
}

func (d *Deleter) run(ctx context.Context) {
	d.mu.Lock()
	req, actor, jobID := d.status.Request, d.status.Actor, d.status.JobID
	d.mu.Unlock()

	d.logger.Infof("Cleanup %s started by %s: executions before %s (pipeline %q)",
		jobID, actor, req.Before.Format(time.RFC3339), req.PipelineID)

	executions, err := d.store.ListExecutions(storage.ExecutionFilter{
		PipelineID:   req.PipelineID,
		Before:       req.Before,
		FinishedOnly: true,
	})
	if err != nil {
		d.logger.Errorf("Cleanup %s: failed to list executions: %v", jobID, err)
		d.finish(StateFailed, fmt.Sprintf("failed to list executions: %v", err))
		return
	}

	d.mu.Lock()
	d.status.Total = len(executions)
	d.mu.Unlock()
	d.notify()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism)
	for _, e := range executions {
		e := e
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d.record(e.ID, d.deleteExecution(e))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Warnf("Cleanup %s interrupted: %v", jobID, err)
		d.finish(StateFailed, fmt.Sprintf("interrupted: %v", err))
		return
	}
	d.finish(StateFinished, "")
}

// Delete removes one finished execution with its working directory.
func (d *Deleter) Delete(actor, executionID string) error {
	e, err := d.store.GetExecution(executionID)
	if err != nil {
		return err
	}
	if !e.IsFinished() {
		return fmt.Errorf("%w: %s is %s", ErrNotFinished, e.ID, e.Status)
	}
	if err := d.deleteExecution(e); err != nil {
		d.metrics.ExecutionsDeleted(0, 1)
		return err
	}
	d.metrics.ExecutionsDeleted(1, 0)
	d.logger.Infof("Execution %s deleted by %s", e.ID, actor)
	return nil
}

// deleteExecution removes the working directory first so a failure leaves
// the record behind for a later attempt.
func (d *Deleter) deleteExecution(e *models.Execution) error {
	if e.WorkingDir != "" && d.workingDir != "" {
		dir, err := d.executionDir(e.WorkingDir)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove working directory: %w", err)
		}
	}
	if err := d.store.DeleteExecution(e.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// executionDir resolves a working directory below the root and refuses
// paths escaping it.
func (d *Deleter) executionDir(rel string) (string, error) {
	root, err := filepath.Abs(d.workingDir)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, rel)
	if dir == root || !strings.HasPrefix(dir, root+string(filepath.Separator)) {
		return "", fmt.Errorf("working directory %q is outside %s", rel, root)
	}
	return dir, nil
}

func (d *Deleter) record(executionID string, err error) {
	d.mu.Lock()
	if err != nil {
		d.status.Failed++
		d.status.Errors = append(d.status.Errors, fmt.Sprintf("%s: %v", executionID, err))
	} else {
		d.status.Deleted++
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Errorf("Cleanup: execution %s: %v", executionID, err)
	}
	d.notify()
}

func (d *Deleter) finish(state State, message string) {
	now := time.Now()
	d.mu.Lock()
	d.status.State = state
	d.status.EndedAt = &now
	if message != "" {
		d.status.Errors = append(d.status.Errors, message)
	}
	d.running = false
	st := d.snapshotLocked()
	d.mu.Unlock()

	d.metrics.ExecutionsDeleted(st.Deleted, st.Failed)
	d.logger.Infof("Cleanup %s by %s %s: %d of %d execution(s) deleted, %d failed",
		st.JobID, st.Actor, st.State, st.Deleted, st.Total, st.Failed)
	d.notify()
}

func (d *Deleter) notify() {
	d.mu.Lock()
	st := d.snapshotLocked()
	callbacks := append([]ProgressFunc(nil), d.progress...)
	d.mu.Unlock()
	for _, fn := range callbacks {
		fn(st)
	}
}
