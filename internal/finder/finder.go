// Package finder discovers a person's email address by probing common
// local-part patterns.
package finder

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mailprobe/mailprobe/internal/mailaddr"
	"github.com/mailprobe/mailprobe/internal/metrics"
	"github.com/mailprobe/mailprobe/internal/proxy"
	"github.com/mailprobe/mailprobe/internal/verifier"
)

// Outcome reason codes
const (
	ReasonPatternMatch   = "pattern_match"
	ReasonRiskyMatch     = "risky_match"
	ReasonNoValidPattern = "no_valid_pattern"
	ReasonMissingData    = "missing_data"
	ReasonInvalidDomain  = "invalid_domain"
)

// Query identifies the person and domain to search
type Query struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Domain    string `json:"domain"`
}

// Result is the outcome of a discovery run. FoundEmail is empty when
// no pattern was accepted.
type Result struct {
	Firstname  string `json:"firstname"`
	Lastname   string `json:"lastname"`
	Domain     string `json:"domain"`
	FoundEmail string `json:"found_email"`
	Reason     string `json:"reason"`
}

// Prober verifies a single candidate address
type Prober interface {
	Verify(ctx context.Context, email string, pxy *proxy.Config) verifier.Result
}

// Finder scans candidate patterns against a domain
type Finder struct {
	prober Prober
	logger *slog.Logger
}

// New creates a finder
func New(prober Prober, logger *slog.Logger) *Finder {
	return &Finder{prober: prober, logger: logger}
}

// Candidates returns the candidate addresses for a query in the fixed
// probe order. At most seven candidates are ever produced.
func Candidates(q Query) []string {
	first := strings.ToLower(strings.TrimSpace(q.Firstname))
	last := strings.ToLower(strings.TrimSpace(q.Lastname))
	domain := strings.ToLower(strings.TrimSpace(q.Domain))

	fi := initial(first)
	li := initial(last)

	locals := []string{
		first + "." + last,
		first,
		first + last,
		fi + "." + last,
		first + "." + li,
		fi + last,
		first + li,
	}

	seen := make(map[string]bool, len(locals))
	candidates := make([]string, 0, len(locals))
	for _, local := range locals {
		if seen[local] {
			continue
		}
		seen[local] = true
		candidates = append(candidates, local+"@"+domain)
	}
	return candidates
}

func initial(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}

// Find probes candidate patterns in order and returns the first valid
// match. If no candidate verifies as valid, the earliest risky
// candidate is returned as a risky_match. Probe failures on one
// candidate never abort the scan.
func (f *Finder) Find(ctx context.Context, q Query, pxy *proxy.Config) Result {
	res := Result{
		Firstname: strings.TrimSpace(q.Firstname),
		Lastname:  strings.TrimSpace(q.Lastname),
		Domain:    strings.ToLower(strings.TrimSpace(q.Domain)),
	}

	if res.Firstname == "" || res.Lastname == "" || res.Domain == "" {
		res.Reason = ReasonMissingData
		metrics.IncFinds(res.Reason)
		return res
	}
	if !mailaddr.ValidDomain(res.Domain) {
		res.Reason = ReasonInvalidDomain
		metrics.IncFinds(res.Reason)
		return res
	}

	var riskyEmail string

	for _, candidate := range Candidates(q) {
		if ctx.Err() != nil {
			break
		}

		vr := f.prober.Verify(ctx, candidate, pxy)
		f.logger.Debug("candidate probed",
			"email", candidate,
			"status", vr.Status,
			"reason", vr.Reason,
		)

		switch vr.Status {
		case verifier.StatusValid:
			res.FoundEmail = candidate
			res.Reason = ReasonPatternMatch
			metrics.IncFinds(res.Reason)
			return res
		case verifier.StatusRisky:
			if riskyEmail == "" {
				riskyEmail = candidate
			}
		}
	}

	if riskyEmail != "" {
		res.FoundEmail = riskyEmail
		res.Reason = ReasonRiskyMatch
	} else {
		res.Reason = ReasonNoValidPattern
	}
	metrics.IncFinds(res.Reason)
	return res
}
