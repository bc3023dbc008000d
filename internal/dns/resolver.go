// Package dns provides MX record resolution with caching.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNoRecords is returned when a domain has no MX records
var ErrNoRecords = errors.New("no MX records found")

// MXRecord is a mail exchanger for a domain
type MXRecord struct {
	Host     string
	Priority uint16
}

// LookupFunc resolves MX records for a domain
type LookupFunc func(ctx context.Context, domain string) ([]*net.MX, error)

type cacheEntry struct {
	records   []MXRecord
	expiresAt time.Time
}

// Resolver resolves MX records with a TTL cache
type Resolver struct {
	lookup LookupFunc
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewResolver creates a resolver backed by the system DNS resolver
func NewResolver(ttl time.Duration) *Resolver {
	return NewResolverWithLookup(net.DefaultResolver.LookupMX, ttl)
}

// NewResolverWithLookup creates a resolver with a custom lookup function
func NewResolverWithLookup(lookup LookupFunc, ttl time.Duration) *Resolver {
	return &Resolver{
		lookup: lookup,
		ttl:    ttl,
		cache:  make(map[string]cacheEntry),
	}
}

// LookupMX returns the MX records for a domain sorted by priority.
// A domain without MX records yields ErrNoRecords; no A/AAAA fallback
// is attempted.
func (r *Resolver) LookupMX(ctx context.Context, domain string) ([]MXRecord, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))

	r.mu.RLock()
	entry, ok := r.cache[domain]
	r.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		return entry.records, nil
	}

	mxs, err := r.lookup(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, ErrNoRecords
		}
		return nil, fmt.Errorf("MX lookup for %s: %w", domain, err)
	}
	if len(mxs) == 0 {
		return nil, ErrNoRecords
	}

	records := make([]MXRecord, 0, len(mxs))
	for _, mx := range mxs {
		host := strings.TrimSuffix(mx.Host, ".")
		if host == "" {
			continue
		}
		records = append(records, MXRecord{Host: host, Priority: mx.Pref})
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Priority < records[j].Priority
	})

	r.mu.Lock()
	r.cache[domain] = cacheEntry{records: records, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return records, nil
}
