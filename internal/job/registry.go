package job

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNotFound is returned for unknown or expired job ids
var ErrNotFound = errors.New("job not found")

// Registry tracks jobs by id. Active jobs live in memory; terminal
// jobs are also persisted so they survive restarts until the retention
// window expires.
type Registry struct {
	store         *Store
	retention     time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job

	wg   sync.WaitGroup
	done chan struct{}
}

// NewRegistry creates a registry backed by a persistent store
func NewRegistry(store *Store, retention, sweepInterval time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		store:         store,
		retention:     retention,
		sweepInterval: sweepInterval,
		logger:        logger,
		jobs:          make(map[string]*Job),
		done:          make(chan struct{}),
	}
}

// Register adds a job to the registry
func (r *Registry) Register(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
}

// Get returns a job by id, falling back to the persistent store
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.RLock()
	j, ok := r.jobs[id]
	r.mu.RUnlock()

	if ok {
		return j, nil
	}

	j, err := r.store.Get(id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, ErrNotFound
	}

	r.mu.Lock()
	r.jobs[id] = j
	r.mu.Unlock()

	return j, nil
}

// Persist writes a terminal job to the store
func (r *Registry) Persist(j *Job) error {
	return r.store.Put(j)
}

// ActiveCount returns the number of jobs still processing
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, j := range r.jobs {
		if j.CurrentStatus() == StatusProcessing {
			n++
		}
	}
	return n
}

// StartSweeper starts the retention sweep goroutine
func (r *Registry) StartSweeper() {
	r.wg.Add(1)
	go r.sweepLoop()
}

// Stop stops the sweeper and waits for it to finish
func (r *Registry) Stop() {
	close(r.done)
	r.wg.Wait()
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep evicts terminal jobs older than the retention window from
// memory and disk
func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.retention)

	r.mu.Lock()
	evicted := 0
	for id, j := range r.jobs {
		j.mu.Lock()
		expired := j.Status != StatusProcessing && j.CompletedAt.Before(cutoff)
		j.mu.Unlock()
		if expired {
			delete(r.jobs, id)
			evicted++
		}
	}
	r.mu.Unlock()

	deleted, err := r.store.Sweep(cutoff)
	if err != nil {
		r.logger.Error("failed to sweep persisted jobs", "error", err)
		return
	}

	if evicted > 0 || deleted > 0 {
		r.logger.Info("swept expired jobs", "evicted", evicted, "deleted", deleted)
	}
}
