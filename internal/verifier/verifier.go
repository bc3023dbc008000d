// Package verifier checks mailbox existence over SMTP.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/mailprobe/mailprobe/internal/dns"
	"github.com/mailprobe/mailprobe/internal/mailaddr"
	"github.com/mailprobe/mailprobe/internal/metrics"
	"github.com/mailprobe/mailprobe/internal/proxy"
)

// Status is the verification verdict for an address
type Status string

const (
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
	StatusRisky   Status = "risky"
)

// Reason codes explain how a verdict was reached
const (
	ReasonSyntaxError       = "syntax_error"
	ReasonEmptyEmail        = "empty_email"
	ReasonDisposableDomain  = "disposable_domain"
	ReasonRoleAccount       = "role_account"
	ReasonNoMXRecord        = "no_mx_record"
	ReasonMailboxExists     = "mailbox_exists"
	ReasonMailboxNotFound   = "mailbox_not_found"
	ReasonMailboxFull       = "mailbox_full"
	ReasonCatchAllDomain    = "catch_all_domain"
	ReasonGreylisted        = "greylisted"
	ReasonTimeout           = "timeout"
	ReasonConnectionRefused = "connection_refused"
)

// Result is the outcome of verifying one address
type Result struct {
	Email  string `json:"email"`
	Status Status `json:"status"`
	Reason string `json:"reason"`
}

// disposableDomains are throwaway mail providers rejected without
// probing
var disposableDomains = map[string]bool{
	"mailinator.com":    true,
	"10minutemail.com":  true,
	"guerrillamail.com": true,
	"tempmail.org":      true,
	"yopmail.com":       true,
	"maildrop.cc":       true,
}

// roleAccounts are shared local-parts that never identify a person
var roleAccounts = map[string]bool{
	"info":     true,
	"support":  true,
	"admin":    true,
	"sales":    true,
	"contact":  true,
	"noreply":  true,
	"no-reply": true,
}

// Config contains verifier settings
type Config struct {
	HeloDomain    string
	MailFrom      string
	Timeout       time.Duration
	CacheTTL      time.Duration
	CatchAllCheck bool
}

type catchAllEntry struct {
	catchAll  bool
	expiresAt time.Time
}

// Verifier probes mailboxes through the MX hosts of their domain
type Verifier struct {
	resolver   *dns.Resolver
	heloDomain string
	mailFrom   string
	timeout    time.Duration
	cacheTTL   time.Duration
	catchAll   bool
	smtpPort   string
	logger     *slog.Logger

	mu            sync.RWMutex
	catchAllCache map[string]catchAllEntry
}

// New creates a verifier
func New(resolver *dns.Resolver, cfg Config, logger *slog.Logger) *Verifier {
	return &Verifier{
		resolver:      resolver,
		heloDomain:    cfg.HeloDomain,
		mailFrom:      cfg.MailFrom,
		timeout:       cfg.Timeout,
		cacheTTL:      cfg.CacheTTL,
		catchAll:      cfg.CatchAllCheck,
		smtpPort:      "25",
		logger:        logger,
		catchAllCache: make(map[string]catchAllEntry),
	}
}

// Verify checks a single address. Network faults are reported in the
// Result, never as an error; every outcome is a usable verdict.
func (v *Verifier) Verify(ctx context.Context, email string, pxy *proxy.Config) Result {
	start := time.Now()
	res := v.verify(ctx, email, pxy)
	metrics.ObserveVerification(string(res.Status), res.Reason, time.Since(start))
	return res
}

func (v *Verifier) verify(ctx context.Context, email string, pxy *proxy.Config) Result {
	addr, err := mailaddr.Parse(email)
	if err != nil {
		return Result{Email: email, Status: StatusInvalid, Reason: ReasonSyntaxError}
	}

	res := Result{Email: addr.String()}

	if disposableDomains[addr.Domain] {
		res.Status = StatusInvalid
		res.Reason = ReasonDisposableDomain
		return res
	}
	if roleAccounts[addr.Local] {
		res.Status = StatusInvalid
		res.Reason = ReasonRoleAccount
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	mxs, err := v.resolver.LookupMX(ctx, addr.Domain)
	if err != nil {
		if errors.Is(err, dns.ErrNoRecords) {
			res.Status = StatusInvalid
			res.Reason = ReasonNoMXRecord
			return res
		}
		v.logger.Debug("MX lookup failed", "domain", addr.Domain, "error", err)
		res.Status = StatusRisky
		res.Reason = ReasonTimeout
		return res
	}

	mxHost := mxs[0].Host

	if v.catchAll && v.isCatchAll(ctx, mxHost, addr.Domain, pxy) {
		res.Status = StatusRisky
		res.Reason = ReasonCatchAllDomain
		return res
	}

	if err := v.probe(ctx, mxHost, addr.String(), pxy); err != nil {
		res.Status, res.Reason = classifyProbeError(err)
		return res
	}

	res.Status = StatusValid
	res.Reason = ReasonMailboxExists
	return res
}

// isCatchAll probes a random, nonexistent local-part. Acceptance means
// the server accepts any recipient and real probes prove nothing.
// Verdicts are cached per domain; probe failures are not.
func (v *Verifier) isCatchAll(ctx context.Context, mxHost, domain string, pxy *proxy.Config) bool {
	v.mu.RLock()
	entry, ok := v.catchAllCache[domain]
	v.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		return entry.catchAll
	}

	probe := "mp-" + uuid.New().String()[:12] + "@" + domain
	err := v.probe(ctx, mxHost, probe, pxy)

	var catchAll bool
	switch {
	case err == nil:
		catchAll = true
	default:
		var smtpErr *smtp.SMTPError
		if !errors.As(err, &smtpErr) || smtpErr.Code < 500 {
			// Inconclusive, do not cache
			v.logger.Debug("catch-all probe inconclusive", "domain", domain, "error", err)
			return false
		}
		catchAll = false
	}

	v.mu.Lock()
	v.catchAllCache[domain] = catchAllEntry{catchAll: catchAll, expiresAt: time.Now().Add(v.cacheTTL)}
	v.mu.Unlock()

	return catchAll
}

// probe runs HELO, MAIL FROM and RCPT TO against an MX host. A nil
// return means the recipient was accepted.
func (v *Verifier) probe(ctx context.Context, mxHost, to string, pxy *proxy.Config) error {
	conn, err := pxy.DialContext(ctx, "tcp", net.JoinHostPort(mxHost, v.smtpPort))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", mxHost, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client := smtp.NewClient(conn)
	defer client.Close()

	if err := client.Hello(v.heloDomain); err != nil {
		return fmt.Errorf("HELO: %w", err)
	}
	if err := client.Mail(v.mailFrom, nil); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to, nil); err != nil {
		return err
	}

	client.Quit()
	return nil
}

// classifyProbeError maps a probe failure to a verdict
func classifyProbeError(err error) (Status, string) {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		switch {
		case smtpErr.Code == 550 || smtpErr.Code == 551 || smtpErr.Code == 553:
			return StatusInvalid, ReasonMailboxNotFound
		case smtpErr.Code == 552:
			return StatusRisky, ReasonMailboxFull
		case smtpErr.Code == 503 || (smtpErr.Code >= 400 && smtpErr.Code < 500):
			return StatusRisky, ReasonGreylisted
		case smtpErr.Code >= 500:
			return StatusInvalid, ReasonMailboxNotFound
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusRisky, ReasonTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StatusRisky, ReasonTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return StatusRisky, ReasonConnectionRefused
	}

	// Dropped connections, resets, unexpected EOFs
	return StatusRisky, ReasonConnectionRefused
}
