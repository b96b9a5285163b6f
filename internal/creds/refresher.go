package creds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stevehaskew/live-translate/internal/duplex"
	"github.com/stevehaskew/live-translate/internal/observe"
	"github.com/stevehaskew/live-translate/internal/resilience"
)

// Default refresh parameters.
const (
	// DefaultRequestTimeout bounds a single token round-trip with the broker.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultRefreshInterval is how often the background loop proactively
	// replaces credentials. Broker tokens last an hour; refreshing every
	// twenty minutes keeps a wide margin.
	DefaultRefreshInterval = 20 * time.Minute

	// refreshRetries is the attempt budget for a reactive refresh after the
	// provider rejects the current credentials.
	refreshRetries = 3
)

// ErrSuperseded is delivered to a token request that was replaced by a newer
// one before the broker answered.
var ErrSuperseded = errors.New("creds: token request superseded")

// Transport is the slice of the duplex channel the refresher needs.
type Transport interface {
	Send(ctx context.Context, msg duplex.Message) error
	RegisterHandler(t duplex.MessageType, h duplex.Handler)
}

// RefresherConfig configures a [Refresher].
type RefresherConfig struct {
	// Transport carries generateToken requests and tokenResponse answers.
	Transport Transport

	// Store receives every accepted credential set.
	Store *Store

	// APIKey authenticates token requests with the broker.
	APIKey string

	// Region is the fallback region applied when the broker response
	// carries none.
	Region string

	// RequestTimeout bounds one token round-trip. Defaults to 10s if zero.
	RequestTimeout time.Duration

	// RefreshInterval is the proactive refresh period. Defaults to 20m if zero.
	RefreshInterval time.Duration

	// Backoff paces reactive refresh retries.
	Backoff resilience.Policy

	// OnRefresh, if non-nil, is called after every completed token request
	// with "ok", "rejected", or "timeout".
	OnRefresh func(status string)
}

// Refresher obtains credential sets from the broker and installs them in the
// store.
//
// Token responses arrive asynchronously on the duplex channel, so requests
// rendezvous through a single slot: at most one request is in flight, and a
// newer request supersedes an older one still waiting. All methods are safe
// for concurrent use.
type Refresher struct {
	transport Transport
	store     *Store
	apiKey    string
	region    string
	timeout   time.Duration
	interval  time.Duration
	backoff   resilience.Policy
	onRefresh func(status string)

	mu      sync.Mutex
	pending chan tokenResult
}

type tokenResult struct {
	resp *duplex.TokenResponse
	err  error
}

// NewRefresher creates a Refresher and registers its tokenResponse handler
// on the transport.
func NewRefresher(cfg RefresherConfig) *Refresher {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	r := &Refresher{
		transport: cfg.Transport,
		store:     cfg.Store,
		apiKey:    cfg.APIKey,
		region:    cfg.Region,
		timeout:   timeout,
		interval:  interval,
		backoff:   cfg.Backoff,
		onRefresh: cfg.OnRefresh,
	}
	r.transport.RegisterHandler(duplex.TypeTokenResponse, r.handleTokenResponse)
	return r
}

// handleTokenResponse delivers a broker answer to the waiting request, if any.
func (r *Refresher) handleTokenResponse(msg duplex.Message) {
	resp, err := duplex.ParseTokenResponse(msg.Data)

	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	if pending == nil {
		slog.Debug("unsolicited token response dropped")
		return
	}
	pending <- tokenResult{resp: resp, err: err}
}

// RequestToken performs one token round-trip: it sends a generateToken
// request and waits up to the request timeout for the broker's answer. An
// accepted answer is installed in the store before returning. A rejected
// answer returns a [TokenRejectedError] and leaves the store untouched.
func (r *Refresher) RequestToken(ctx context.Context) (Credentials, error) {
	if r.apiKey == "" {
		return Credentials{}, ErrAPIKeyRequired
	}

	ctx, span := observe.StartSpan(ctx, "creds.request_token")
	defer span.End()

	slot := make(chan tokenResult, 1)
	r.mu.Lock()
	if prev := r.pending; prev != nil {
		prev <- tokenResult{err: ErrSuperseded}
	}
	r.pending = slot
	r.mu.Unlock()

	msg := duplex.NewMessage(duplex.TypeGenerateToken, map[string]any{"apiKey": r.apiKey})
	if err := r.transport.Send(ctx, msg); err != nil {
		r.clearPending(slot)
		return Credentials{}, fmt.Errorf("creds: send token request: %w", err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case res := <-slot:
		return r.finishRequest(res)
	case <-timer.C:
		r.clearPending(slot)
		r.report("timeout")
		return Credentials{}, ErrTokenRequestTimeout
	case <-ctx.Done():
		r.clearPending(slot)
		return Credentials{}, ctx.Err()
	}
}

// clearPending removes slot from the rendezvous if it is still the waiter.
func (r *Refresher) clearPending(slot chan tokenResult) {
	r.mu.Lock()
	if r.pending == slot {
		r.pending = nil
	}
	r.mu.Unlock()
}

func (r *Refresher) finishRequest(res tokenResult) (Credentials, error) {
	if res.err != nil {
		if errors.Is(res.err, ErrSuperseded) {
			return Credentials{}, res.err
		}
		// Protocol noise, not a broker decision.
		r.report("malformed")
		return Credentials{}, fmt.Errorf("creds: parse token response: %w", res.err)
	}
	resp := res.resp
	if !resp.Accepted() {
		r.report("rejected")
		return Credentials{}, &TokenRejectedError{Reason: resp.Rejection()}
	}

	expiresAt, err := resp.ExpiresAt()
	if err != nil {
		slog.Warn("token response carries malformed expiration", "error", err)
	}
	region := resp.Region
	if region == "" {
		region = r.region
	}

	c := Credentials{
		AccessKeyID:     resp.Credentials.AccessKeyID,
		SecretAccessKey: resp.Credentials.SecretAccessKey,
		SessionToken:    resp.Credentials.SessionToken,
		ExpiresAt:       expiresAt,
		Region:          region,
	}
	r.store.Set(c)
	r.report("ok")

	slog.Info("credentials refreshed", "expires_at", expiresAt, "region", region)
	return c, nil
}

func (r *Refresher) report(status string) {
	if r.onRefresh != nil {
		r.onRefresh(status)
	}
}

// RefreshWithRetry re-authenticates after the provider rejected the current
// credentials. It retries a failed round-trip with backoff; once the budget
// is spent it returns [ErrTokenExpired] wrapping the last failure.
func (r *Refresher) RefreshWithRetry(ctx context.Context) (Credentials, error) {
	var lastErr error
	for attempt := 0; attempt < refreshRetries; attempt++ {
		if attempt > 0 {
			if err := r.backoff.Wait(ctx, attempt-1, nil); err != nil {
				return Credentials{}, err
			}
		}

		c, err := r.RequestToken(ctx)
		if err == nil {
			return c, nil
		}
		lastErr = err

		if errors.Is(err, ErrAPIKeyRequired) || ctx.Err() != nil {
			break
		}
		slog.Warn("credential refresh attempt failed",
			"attempt", attempt+1,
			"max_attempts", refreshRetries,
			"error", err,
		)
	}
	return Credentials{}, fmt.Errorf("%w: %w", ErrTokenExpired, lastErr)
}

// Run proactively refreshes credentials on a fixed interval until ctx is
// cancelled. Failures are logged and the loop keeps going; the reactive path
// in the session covers the case where a refresh was missed.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RequestToken(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("periodic credential refresh failed", "error", err)
			}
		}
	}
}
