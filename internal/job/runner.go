package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailprobe/mailprobe/internal/csvio"
	"github.com/mailprobe/mailprobe/internal/finder"
	"github.com/mailprobe/mailprobe/internal/metrics"
	"github.com/mailprobe/mailprobe/internal/proxy"
	"github.com/mailprobe/mailprobe/internal/verifier"
)

// Prober verifies a single address
type Prober interface {
	Verify(ctx context.Context, email string, pxy *proxy.Config) verifier.Result
}

// Searcher discovers an address for a query
type Searcher interface {
	Find(ctx context.Context, q finder.Query, pxy *proxy.Config) finder.Result
}

// RunnerConfig contains worker pool settings
type RunnerConfig struct {
	Workers    int
	RowTimeout time.Duration
}

// Runner executes bulk jobs with a bounded worker pool
type Runner struct {
	registry   *Registry
	prober     Prober
	searcher   Searcher
	workers    int
	rowTimeout time.Duration
	logger     *slog.Logger
}

// NewRunner creates a runner
func NewRunner(registry *Registry, prober Prober, searcher Searcher, cfg RunnerConfig, logger *slog.Logger) *Runner {
	return &Runner{
		registry:   registry,
		prober:     prober,
		searcher:   searcher,
		workers:    cfg.Workers,
		rowTimeout: cfg.RowTimeout,
		logger:     logger,
	}
}

// Submit registers a new job and starts processing it in the
// background. The returned job is already registered for polling.
func (r *Runner) Submit(ctx context.Context, kind csvio.Kind, set *csvio.RowSet, filename string, pxy *proxy.Config) *Job {
	j := New(uuid.New().String(), kind, filename, set)
	r.registry.Register(j)
	metrics.IncJobsActive()

	r.logger.Info("job submitted",
		"id", j.ID,
		"kind", kind,
		"rows", j.TotalRows,
		"filename", filename,
	)

	go r.run(ctx, j, pxy)
	return j
}

// run fans rows out to the worker pool and finalizes the job
func (r *Runner) run(ctx context.Context, j *Job, pxy *proxy.Config) {
	indexes := make(chan int)

	var wg sync.WaitGroup
	workers := r.workers
	if workers < 1 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexes {
				r.processRow(ctx, j, idx, pxy)
			}
		}()
	}

	canceled := false
	for i := range j.Rows {
		if ctx.Err() != nil {
			canceled = true
			break
		}
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	status := StatusCompleted
	log := ""
	if canceled {
		status = StatusError
		log = "Job aborted: server shutting down"
	}
	j.finish(status, log)

	if err := r.registry.Persist(j); err != nil {
		r.logger.Error("failed to persist job", "id", j.ID, "error", err)
		j.finish(StatusError, "Failed to persist job results")
		status = StatusError
	}

	metrics.JobCompleted(string(j.Kind), string(status))
	metrics.AddJobRows(string(j.Kind), j.TotalRows)

	r.logger.Info("job finished", "id", j.ID, "status", status, "rows", j.TotalRows)
}

// processRow runs one row with its own timeout. A panic or fault in a
// single row becomes that row's result and never fails the job.
func (r *Runner) processRow(ctx context.Context, j *Job, idx int, pxy *proxy.Config) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("row processing panic", "id", j.ID, "row", idx, "panic", rec)
			r.faultRow(j, idx, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	rowCtx, cancel := context.WithTimeout(ctx, r.rowTimeout)
	defer cancel()

	row := j.Rows[idx]

	switch j.Kind {
	case csvio.KindVerify:
		var res verifier.Result
		if row.PreInvalid != nil {
			res = verifier.Result{Email: row.Email, Status: row.PreInvalid.Status, Reason: row.PreInvalid.Reason}
		} else {
			res = r.prober.Verify(rowCtx, row.Email, pxy)
		}
		j.setVerifyResult(idx, res)

	case csvio.KindFind:
		var res finder.Result
		if row.PreInvalid != nil {
			res = finder.Result{
				Firstname: row.Query.Firstname,
				Lastname:  row.Query.Lastname,
				Domain:    row.Query.Domain,
				Reason:    row.PreInvalid.Reason,
			}
		} else {
			res = r.searcher.Find(rowCtx, row.Query, pxy)
		}
		j.setFindResult(idx, res)
	}
}

// faultRow records a row-level failure as a risky/not-found result
func (r *Runner) faultRow(j *Job, idx int, msg string) {
	row := j.Rows[idx]

	switch j.Kind {
	case csvio.KindVerify:
		j.setVerifyResult(idx, verifier.Result{
			Email:  row.Email,
			Status: verifier.StatusRisky,
			Reason: verifier.ReasonTimeout,
		})
	case csvio.KindFind:
		j.setFindResult(idx, finder.Result{
			Firstname: row.Query.Firstname,
			Lastname:  row.Query.Lastname,
			Domain:    row.Query.Domain,
			Reason:    finder.ReasonNoValidPattern,
		})
	}

	r.logger.Warn("row marked as fault", "id", j.ID, "row", idx, "detail", msg)
}
