package finder

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/mailprobe/mailprobe/internal/proxy"
	"github.com/mailprobe/mailprobe/internal/verifier"
)

// fakeProber returns canned verdicts per address and records probe
// order
type fakeProber struct {
	verdicts map[string]verifier.Result
	probed   []string
}

func (f *fakeProber) Verify(ctx context.Context, email string, pxy *proxy.Config) verifier.Result {
	f.probed = append(f.probed, email)
	if res, ok := f.verdicts[email]; ok {
		return res
	}
	return verifier.Result{Email: email, Status: verifier.StatusInvalid, Reason: verifier.ReasonMailboxNotFound}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCandidatesOrder(t *testing.T) {
	got := Candidates(Query{Firstname: "John", Lastname: "Doe", Domain: "Example.com"})

	want := []string{
		"john.doe@example.com",
		"john@example.com",
		"johndoe@example.com",
		"j.doe@example.com",
		"john.d@example.com",
		"jdoe@example.com",
		"johnd@example.com",
	}

	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCandidatesDeduplicates(t *testing.T) {
	// A single-letter first name collapses first.last and f.last
	got := Candidates(Query{Firstname: "J", Lastname: "Doe", Domain: "example.com"})

	seen := make(map[string]bool)
	for _, c := range got {
		if seen[c] {
			t.Errorf("duplicate candidate %q", c)
		}
		seen[c] = true
	}
	if len(got) > 7 {
		t.Errorf("got %d candidates, want at most 7", len(got))
	}
}

func TestFindFirstValidWins(t *testing.T) {
	prober := &fakeProber{verdicts: map[string]verifier.Result{
		"john@example.com": {Status: verifier.StatusValid, Reason: verifier.ReasonMailboxExists},
	}}
	f := New(prober, testLogger())

	res := f.Find(context.Background(), Query{Firstname: "John", Lastname: "Doe", Domain: "example.com"}, nil)

	if res.FoundEmail != "john@example.com" {
		t.Errorf("FoundEmail = %q, want john@example.com", res.FoundEmail)
	}
	if res.Reason != ReasonPatternMatch {
		t.Errorf("Reason = %q, want %q", res.Reason, ReasonPatternMatch)
	}

	// The scan stops at the first valid candidate
	if len(prober.probed) != 2 {
		t.Errorf("probed %d candidates, want 2: %v", len(prober.probed), prober.probed)
	}
}

func TestFindEarliestRiskyFallback(t *testing.T) {
	prober := &fakeProber{verdicts: map[string]verifier.Result{
		"john@example.com":  {Status: verifier.StatusRisky, Reason: verifier.ReasonCatchAllDomain},
		"jdoe@example.com":  {Status: verifier.StatusRisky, Reason: verifier.ReasonGreylisted},
		"johnd@example.com": {Status: verifier.StatusInvalid, Reason: verifier.ReasonMailboxNotFound},
	}}
	f := New(prober, testLogger())

	res := f.Find(context.Background(), Query{Firstname: "John", Lastname: "Doe", Domain: "example.com"}, nil)

	if res.FoundEmail != "john@example.com" {
		t.Errorf("FoundEmail = %q, want the earliest risky candidate", res.FoundEmail)
	}
	if res.Reason != ReasonRiskyMatch {
		t.Errorf("Reason = %q, want %q", res.Reason, ReasonRiskyMatch)
	}

	// All candidates are scanned before settling on a risky match
	if len(prober.probed) != 7 {
		t.Errorf("probed %d candidates, want 7", len(prober.probed))
	}
}

func TestFindNoValidPattern(t *testing.T) {
	prober := &fakeProber{}
	f := New(prober, testLogger())

	res := f.Find(context.Background(), Query{Firstname: "John", Lastname: "Doe", Domain: "example.com"}, nil)

	if res.FoundEmail != "" {
		t.Errorf("FoundEmail = %q, want empty", res.FoundEmail)
	}
	if res.Reason != ReasonNoValidPattern {
		t.Errorf("Reason = %q, want %q", res.Reason, ReasonNoValidPattern)
	}
}

func TestFindMissingData(t *testing.T) {
	tests := []struct {
		name string
		q    Query
	}{
		{"no firstname", Query{Lastname: "Doe", Domain: "example.com"}},
		{"no lastname", Query{Firstname: "John", Domain: "example.com"}},
		{"no domain", Query{Firstname: "John", Lastname: "Doe"}},
		{"whitespace only", Query{Firstname: "  ", Lastname: "Doe", Domain: "example.com"}},
	}

	prober := &fakeProber{}
	f := New(prober, testLogger())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Find(context.Background(), tt.q, nil)
			if res.Reason != ReasonMissingData {
				t.Errorf("Reason = %q, want %q", res.Reason, ReasonMissingData)
			}
		})
	}

	if len(prober.probed) != 0 {
		t.Errorf("incomplete queries must not probe, probed %v", prober.probed)
	}
}

func TestFindInvalidDomain(t *testing.T) {
	prober := &fakeProber{}
	f := New(prober, testLogger())

	res := f.Find(context.Background(), Query{Firstname: "John", Lastname: "Doe", Domain: "not a domain"}, nil)
	if res.Reason != ReasonInvalidDomain {
		t.Errorf("Reason = %q, want %q", res.Reason, ReasonInvalidDomain)
	}
	if len(prober.probed) != 0 {
		t.Errorf("invalid domains must not probe, probed %v", prober.probed)
	}
}
