package job

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mailprobe/mailprobe/internal/csvio"
	"github.com/mailprobe/mailprobe/internal/finder"
	"github.com/mailprobe/mailprobe/internal/verifier"
)

var bucketJobs = []byte("jobs")

// Record is the persisted form of a terminal job
type Record struct {
	ID            string            `json:"id"`
	Kind          csvio.Kind        `json:"kind"`
	Filename      string            `json:"filename"`
	Status        Status            `json:"status"`
	Header        []string          `json:"header"`
	Fields        [][]string        `json:"fields"`
	TotalRows     int               `json:"total_rows"`
	CurrentRow    int               `json:"current_row"`
	Log           string            `json:"log"`
	VerifyResults []verifier.Result `json:"verify_results,omitempty"`
	FindResults   []finder.Result   `json:"find_results,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// toRecord converts a terminal job for persistence
func toRecord(j *Job) *Record {
	j.mu.Lock()
	defer j.mu.Unlock()

	fields := make([][]string, len(j.Rows))
	for i, row := range j.Rows {
		fields[i] = row.Fields
	}

	return &Record{
		ID:            j.ID,
		Kind:          j.Kind,
		Filename:      j.Filename,
		Status:        j.Status,
		Header:        j.Header,
		Fields:        fields,
		TotalRows:     j.TotalRows,
		CurrentRow:    j.CurrentRow,
		Log:           j.Log,
		VerifyResults: j.VerifyResults,
		FindResults:   j.FindResults,
		CreatedAt:     j.CreatedAt,
		CompletedAt:   j.CompletedAt,
	}
}

// toJob rebuilds an in-memory job from a persisted record
func (r *Record) toJob() *Job {
	rows := make([]csvio.Row, len(r.Fields))
	for i, f := range r.Fields {
		rows[i] = csvio.Row{Index: i, Fields: f}
	}

	return &Job{
		ID:            r.ID,
		Kind:          r.Kind,
		Filename:      r.Filename,
		Status:        r.Status,
		Header:        r.Header,
		Rows:          rows,
		TotalRows:     r.TotalRows,
		CurrentRow:    r.CurrentRow,
		Log:           r.Log,
		VerifyResults: r.VerifyResults,
		FindResults:   r.FindResults,
		CreatedAt:     r.CreatedAt,
		CompletedAt:   r.CompletedAt,
	}
}

// Store persists terminal jobs in BoltDB
type Store struct {
	db *bolt.DB
}

// NewStore opens the job database, creating the directory if needed
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketJobs); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketJobs, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Put stores a terminal job
func (s *Store) Put(j *Job) error {
	rec := toRecord(j)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Put([]byte(rec.ID), data)
	})
}

// Get loads a persisted job; a nil job means not found
func (s *Store) Get(id string) (*Job, error) {
	var rec *Record

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(id))
		if data == nil {
			return nil
		}
		rec = &Record{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if rec == nil {
		return nil, nil
	}

	return rec.toJob(), nil
}

// Delete removes a persisted job
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Delete([]byte(id))
	})
}

// Sweep deletes jobs that completed before the cutoff and returns the
// number deleted
func (s *Store) Sweep(cutoff time.Time) (int, error) {
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketJobs)
		c := bucket.Cursor()

		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				stale = append(stale, append([]byte{}, k...))
				continue
			}
			if rec.CompletedAt.Before(cutoff) {
				stale = append(stale, append([]byte{}, k...))
			}
		}

		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("failed to sweep jobs: %w", err)
	}

	return deleted, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
