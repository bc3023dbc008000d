// Package job runs and tracks bulk verification and discovery jobs.
package job

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mailprobe/mailprobe/internal/csvio"
	"github.com/mailprobe/mailprobe/internal/finder"
	"github.com/mailprobe/mailprobe/internal/verifier"
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Job is one bulk run over an uploaded CSV
type Job struct {
	mu sync.Mutex

	ID        string
	Kind      csvio.Kind
	Filename  string
	Status    Status
	Header    []string
	Rows      []csvio.Row
	TotalRows int

	CurrentRow int
	Log        string

	VerifyResults []verifier.Result
	FindResults   []finder.Result

	CreatedAt   time.Time
	CompletedAt time.Time
}

// Snapshot is the polling view of a job
type Snapshot struct {
	JobID      string `json:"job_id"`
	Progress   int    `json:"progress"`
	CurrentRow int    `json:"current_row"`
	TotalRows  int    `json:"total_rows"`
	Status     Status `json:"status"`
	Log        string `json:"log"`
}

// New creates a job in the processing state
func New(id string, kind csvio.Kind, filename string, set *csvio.RowSet) *Job {
	j := &Job{
		ID:        id,
		Kind:      kind,
		Filename:  filename,
		Status:    StatusProcessing,
		Header:    set.Header,
		Rows:      set.Rows,
		TotalRows: len(set.Rows),
		CreatedAt: time.Now(),
	}
	switch kind {
	case csvio.KindVerify:
		j.VerifyResults = make([]verifier.Result, len(set.Rows))
	case csvio.KindFind:
		j.FindResults = make([]finder.Result, len(set.Rows))
	}
	return j
}

// Snapshot returns the current progress view. Progress never reports
// 100 before every row is done.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	progress := 0
	if j.TotalRows > 0 {
		progress = j.CurrentRow * 100 / j.TotalRows
	}

	return Snapshot{
		JobID:      j.ID,
		Progress:   progress,
		CurrentRow: j.CurrentRow,
		TotalRows:  j.TotalRows,
		Status:     j.Status,
		Log:        j.Log,
	}
}

// setVerifyResult records the verdict for one row and advances progress
func (j *Job) setVerifyResult(index int, res verifier.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.VerifyResults[index] = res
	j.CurrentRow++
	j.Log = fmt.Sprintf("Row %d/%d: %s is %s (%s)", j.CurrentRow, j.TotalRows, res.Email, res.Status, res.Reason)
}

// setFindResult records the discovery outcome for one row
func (j *Job) setFindResult(index int, res finder.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.FindResults[index] = res
	j.CurrentRow++
	if res.FoundEmail != "" {
		j.Log = fmt.Sprintf("Row %d/%d: found %s (%s)", j.CurrentRow, j.TotalRows, res.FoundEmail, res.Reason)
	} else {
		j.Log = fmt.Sprintf("Row %d/%d: no address found for %s (%s)", j.CurrentRow, j.TotalRows, res.Domain, res.Reason)
	}
}

// finish moves the job to a terminal state
func (j *Job) finish(status Status, log string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.Status = status
	j.CompletedAt = time.Now()
	if log != "" {
		j.Log = log
	}
}

// CurrentStatus returns the job status under lock
func (j *Job) CurrentStatus() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

// WriteResults writes the filtered result CSV for a completed job
func (j *Job) WriteResults(w io.Writer, filter string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.Kind {
	case csvio.KindVerify:
		return csvio.WriteVerifyResults(w, j.Header, j.Rows, j.VerifyResults, filter)
	case csvio.KindFind:
		return csvio.WriteFindResults(w, j.Header, j.Rows, j.FindResults, filter)
	default:
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
}
