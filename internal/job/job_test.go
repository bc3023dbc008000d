package job

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailprobe/mailprobe/internal/csvio"
	"github.com/mailprobe/mailprobe/internal/finder"
	"github.com/mailprobe/mailprobe/internal/proxy"
	"github.com/mailprobe/mailprobe/internal/verifier"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func verifySet(t *testing.T, emails ...string) *csvio.RowSet {
	t.Helper()
	input := "email\n" + strings.Join(emails, "\n") + "\n"
	set, err := csvio.ParseVerify(strings.NewReader(input), 1000)
	if err != nil {
		t.Fatalf("ParseVerify: %v", err)
	}
	return set
}

// fakeProber returns valid for every address, with an optional delay
// and per-address panic
type fakeProber struct {
	delay   time.Duration
	panicOn string

	mu     sync.Mutex
	probed []string
}

func (f *fakeProber) Verify(ctx context.Context, email string, pxy *proxy.Config) verifier.Result {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if email == f.panicOn {
		panic("prober exploded")
	}
	f.mu.Lock()
	f.probed = append(f.probed, email)
	f.mu.Unlock()
	return verifier.Result{Email: email, Status: verifier.StatusValid, Reason: verifier.ReasonMailboxExists}
}

type fakeSearcher struct{}

func (fakeSearcher) Find(ctx context.Context, q finder.Query, pxy *proxy.Config) finder.Result {
	return finder.Result{
		Firstname:  q.Firstname,
		Lastname:   q.Lastname,
		Domain:     q.Domain,
		FoundEmail: "found@" + q.Domain,
		Reason:     finder.ReasonPatternMatch,
	}
}

func newTestRunner(t *testing.T, prober Prober) (*Runner, *Registry) {
	t.Helper()
	registry := NewRegistry(testStore(t), time.Hour, time.Minute, testLogger())
	runner := NewRunner(registry, prober, fakeSearcher{}, RunnerConfig{
		Workers:    4,
		RowTimeout: 5 * time.Second,
	}, testLogger())
	return runner, registry
}

func waitForCompletion(t *testing.T, j *Job) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if j.CurrentStatus() != StatusProcessing {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job %s did not finish: %+v", j.ID, j.Snapshot())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunnerCompletesVerifyJob(t *testing.T) {
	prober := &fakeProber{}
	runner, registry := newTestRunner(t, prober)

	set := verifySet(t, "a@example.com", "b@example.com", "c@example.com")
	j := runner.Submit(context.Background(), csvio.KindVerify, set, "upload.csv", nil)

	waitForCompletion(t, j)

	snap := j.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed", snap.Status)
	}
	if snap.Progress != 100 {
		t.Errorf("Progress = %d, want 100", snap.Progress)
	}
	if snap.CurrentRow != 3 {
		t.Errorf("CurrentRow = %d, want 3", snap.CurrentRow)
	}

	// Results land at their row index regardless of worker order
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		if j.VerifyResults[i].Email != email {
			t.Errorf("result[%d].Email = %q, want %q", i, j.VerifyResults[i].Email, email)
		}
	}

	// The terminal job is retrievable through the registry
	got, err := registry.Get(j.ID)
	if err != nil {
		t.Fatalf("registry.Get: %v", err)
	}
	if got.ID != j.ID {
		t.Errorf("registry returned job %q, want %q", got.ID, j.ID)
	}
}

func TestRunnerCompletesFindJob(t *testing.T) {
	runner, _ := newTestRunner(t, &fakeProber{})

	input := "firstname,lastname,domain\nJohn,Doe,example.com\nJane,Roe,example.org\n"
	set, err := csvio.ParseFind(strings.NewReader(input), 1000)
	if err != nil {
		t.Fatalf("ParseFind: %v", err)
	}

	j := runner.Submit(context.Background(), csvio.KindFind, set, "people.csv", nil)
	waitForCompletion(t, j)

	if j.CurrentStatus() != StatusCompleted {
		t.Fatalf("Status = %q, want completed", j.CurrentStatus())
	}
	if j.FindResults[0].FoundEmail != "found@example.com" {
		t.Errorf("result[0] = %+v", j.FindResults[0])
	}
	if j.FindResults[1].FoundEmail != "found@example.org" {
		t.Errorf("result[1] = %+v", j.FindResults[1])
	}
}

func TestRunnerProgressIsMonotonic(t *testing.T) {
	prober := &fakeProber{delay: 5 * time.Millisecond}
	runner, _ := newTestRunner(t, prober)

	emails := make([]string, 20)
	for i := range emails {
		emails[i] = "user" + string(rune('a'+i)) + "@example.com"
	}
	set := verifySet(t, emails...)

	j := runner.Submit(context.Background(), csvio.KindVerify, set, "upload.csv", nil)

	last := -1
	for j.CurrentStatus() == StatusProcessing {
		snap := j.Snapshot()
		if snap.CurrentRow < last {
			t.Fatalf("current_row went backwards: %d -> %d", last, snap.CurrentRow)
		}
		if snap.Progress == 100 && snap.Status == StatusProcessing && snap.CurrentRow < snap.TotalRows {
			t.Fatal("progress reported 100 before all rows were done")
		}
		last = snap.CurrentRow
		time.Sleep(time.Millisecond)
	}

	waitForCompletion(t, j)
	if snap := j.Snapshot(); snap.CurrentRow != 20 {
		t.Errorf("CurrentRow = %d, want 20", snap.CurrentRow)
	}
}

func TestRunnerRowFaultDoesNotFailJob(t *testing.T) {
	prober := &fakeProber{panicOn: "boom@example.com"}
	runner, _ := newTestRunner(t, prober)

	set := verifySet(t, "a@example.com", "boom@example.com", "c@example.com")
	j := runner.Submit(context.Background(), csvio.KindVerify, set, "upload.csv", nil)

	waitForCompletion(t, j)

	if j.CurrentStatus() != StatusCompleted {
		t.Fatalf("Status = %q, want completed despite the row fault", j.CurrentStatus())
	}

	// The faulted row carries a risky verdict; its neighbors are intact
	if j.VerifyResults[1].Status != verifier.StatusRisky {
		t.Errorf("faulted row status = %q, want risky", j.VerifyResults[1].Status)
	}
	if j.VerifyResults[0].Status != verifier.StatusValid || j.VerifyResults[2].Status != verifier.StatusValid {
		t.Error("healthy rows were affected by the fault")
	}
}

func TestRunnerPreInvalidRowsSkipProbing(t *testing.T) {
	prober := &fakeProber{}
	runner, _ := newTestRunner(t, prober)

	input := "email,company\nalice@example.com,Acme\n,NoMail Inc\n"
	set, err := csvio.ParseVerify(strings.NewReader(input), 1000)
	if err != nil {
		t.Fatalf("ParseVerify: %v", err)
	}
	if len(set.Rows) != 2 || set.Rows[1].PreInvalid == nil {
		t.Fatalf("fixture rows = %+v", set.Rows)
	}

	j := runner.Submit(context.Background(), csvio.KindVerify, set, "upload.csv", nil)
	waitForCompletion(t, j)

	if j.VerifyResults[1].Reason != verifier.ReasonEmptyEmail {
		t.Errorf("pre-invalid row reason = %q, want %q", j.VerifyResults[1].Reason, verifier.ReasonEmptyEmail)
	}

	prober.mu.Lock()
	defer prober.mu.Unlock()
	if len(prober.probed) != 1 {
		t.Errorf("probed %d addresses, want 1: %v", len(prober.probed), prober.probed)
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	registry := NewRegistry(testStore(t), time.Hour, time.Minute, testLogger())

	if _, err := registry.Get("does-not-exist"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := testStore(t)

	set := verifySet(t, "a@example.com")
	j := New("job-1", csvio.KindVerify, "upload.csv", set)
	j.setVerifyResult(0, verifier.Result{Email: "a@example.com", Status: verifier.StatusValid, Reason: verifier.ReasonMailboxExists})
	j.finish(StatusCompleted, "")

	if err := store.Put(j); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get("job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if len(got.VerifyResults) != 1 || got.VerifyResults[0].Status != verifier.StatusValid {
		t.Errorf("VerifyResults = %+v", got.VerifyResults)
	}
	if got.Rows[0].Fields[0] != "a@example.com" {
		t.Errorf("Fields = %+v", got.Rows[0].Fields)
	}
}

func TestStoreSweep(t *testing.T) {
	store := testStore(t)

	old := New("old-job", csvio.KindVerify, "old.csv", verifySet(t, "a@example.com"))
	old.finish(StatusCompleted, "")
	old.CompletedAt = time.Now().Add(-2 * time.Hour)
	if err := store.Put(old); err != nil {
		t.Fatalf("Put: %v", err)
	}

	fresh := New("fresh-job", csvio.KindVerify, "fresh.csv", verifySet(t, "b@example.com"))
	fresh.finish(StatusCompleted, "")
	if err := store.Put(fresh); err != nil {
		t.Fatalf("Put: %v", err)
	}

	deleted, err := store.Sweep(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if got, _ := store.Get("old-job"); got != nil {
		t.Error("expired job should be deleted")
	}
	if got, _ := store.Get("fresh-job"); got == nil {
		t.Error("fresh job should survive the sweep")
	}
}

func TestRegistrySweepEvictsExpired(t *testing.T) {
	registry := NewRegistry(testStore(t), time.Hour, time.Minute, testLogger())

	j := New("expired", csvio.KindVerify, "upload.csv", verifySet(t, "a@example.com"))
	j.finish(StatusCompleted, "")
	j.CompletedAt = time.Now().Add(-2 * time.Hour)
	registry.Register(j)
	if err := registry.Persist(j); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	registry.sweep()

	if _, err := registry.Get("expired"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound after sweep", err)
	}
}

func TestSnapshotProgress(t *testing.T) {
	set := verifySet(t, "a@example.com", "b@example.com", "c@example.com")
	j := New("job-1", csvio.KindVerify, "upload.csv", set)

	if p := j.Snapshot().Progress; p != 0 {
		t.Errorf("initial progress = %d, want 0", p)
	}

	j.setVerifyResult(0, verifier.Result{Email: "a@example.com", Status: verifier.StatusValid, Reason: verifier.ReasonMailboxExists})
	if p := j.Snapshot().Progress; p != 33 {
		t.Errorf("progress after 1/3 = %d, want 33", p)
	}

	j.setVerifyResult(1, verifier.Result{})
	j.setVerifyResult(2, verifier.Result{})
	if p := j.Snapshot().Progress; p != 100 {
		t.Errorf("progress after 3/3 = %d, want 100", p)
	}
}
