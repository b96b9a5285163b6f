package creds

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stevehaskew/live-translate/internal/duplex"
	"github.com/stevehaskew/live-translate/internal/resilience"
)

// fakeTransport records sent envelopes and exposes the registered handlers
// so tests can inject broker responses.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []duplex.Message
	handlers map[duplex.MessageType]duplex.Handler
	sendErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[duplex.MessageType]duplex.Handler)}
}

func (f *fakeTransport) Send(_ context.Context, msg duplex.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) RegisterHandler(t duplex.MessageType, h duplex.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[t] = h
}

func (f *fakeTransport) deliver(msg duplex.Message) {
	f.mu.Lock()
	h := f.handlers[msg.Type]
	f.mu.Unlock()
	h(msg)
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func successResponse() duplex.Message {
	return duplex.NewMessage(duplex.TypeTokenResponse, map[string]any{
		"status": "success",
		"region": "eu-west-2",
		"credentials": map[string]any{
			"accessKeyId":     "ASIAFRESH",
			"secretAccessKey": "fresh-secret",
			"sessionToken":    "fresh-token",
			"expiration":      "2026-08-29T14:00:00Z",
		},
	})
}

func newTestRefresher(tr *fakeTransport, store *Store) *Refresher {
	return NewRefresher(RefresherConfig{
		Transport:      tr,
		Store:          store,
		APIKey:         "test-key",
		Region:         "us-east-1",
		RequestTimeout: 200 * time.Millisecond,
		Backoff:        resilience.Policy{Initial: time.Millisecond, Cap: 2 * time.Millisecond, MaxAttempts: 5},
	})
}

func TestRequestTokenRoundTrip(t *testing.T) {
	tr := newFakeTransport()
	store := &Store{}
	r := newTestRefresher(tr, store)

	// Answer the request as soon as the envelope goes out.
	go func() {
		deadline := time.Now().Add(time.Second)
		for tr.sentCount() == 0 {
			if time.Now().After(deadline) {
				return
			}
			time.Sleep(time.Millisecond)
		}
		tr.deliver(successResponse())
	}()

	c, err := r.RequestToken(context.Background())
	if err != nil {
		t.Fatalf("RequestToken: %v", err)
	}
	if c.AccessKeyID != "ASIAFRESH" || c.SessionToken != "fresh-token" {
		t.Errorf("credentials = %+v", c)
	}
	if c.Region != "eu-west-2" {
		t.Errorf("Region = %q, want broker region", c.Region)
	}

	tr.mu.Lock()
	req := tr.sent[0]
	tr.mu.Unlock()
	if req.Type != duplex.TypeGenerateToken {
		t.Errorf("request type = %q", req.Type)
	}
	if req.Data["apiKey"] != "test-key" {
		t.Errorf("request data = %v", req.Data)
	}

	stored, ok := store.Get()
	if !ok {
		t.Fatal("store not populated after accepted response")
	}
	if stored.AccessKeyID != "ASIAFRESH" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestRequestTokenRejectedLeavesStore(t *testing.T) {
	tr := newFakeTransport()
	store := &Store{}
	old := Credentials{AccessKeyID: "OLD", SessionToken: "old-token"}
	store.Set(old)
	r := newTestRefresher(tr, store)

	go func() {
		for tr.sentCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		tr.deliver(duplex.NewMessage(duplex.TypeTokenResponse, map[string]any{
			"status": "failure",
			"error":  "rate limited",
		}))
	}()

	_, err := r.RequestToken(context.Background())
	var rejected *TokenRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("RequestToken = %v, want *TokenRejectedError", err)
	}
	if rejected.Reason != "rate limited" {
		t.Errorf("Reason = %q", rejected.Reason)
	}

	got, _ := store.Get()
	if got != old {
		t.Errorf("store changed on rejection: %+v", got)
	}
}

func TestRequestTokenMalformedResponse(t *testing.T) {
	tr := newFakeTransport()
	store := &Store{}
	old := Credentials{AccessKeyID: "OLD", SessionToken: "old-token"}
	store.Set(old)

	statuses := make(chan string, 4)
	r := NewRefresher(RefresherConfig{
		Transport:      tr,
		Store:          store,
		APIKey:         "test-key",
		RequestTimeout: 200 * time.Millisecond,
		OnRefresh:      func(s string) { statuses <- s },
	})

	go func() {
		for tr.sentCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		// credentials must be an object; a string payload cannot parse.
		tr.deliver(duplex.NewMessage(duplex.TypeTokenResponse, map[string]any{
			"status":      "success",
			"credentials": "not-an-object",
		}))
	}()

	_, err := r.RequestToken(context.Background())
	if err == nil {
		t.Fatal("RequestToken: expected error for malformed response")
	}
	var rejected *TokenRejectedError
	if errors.As(err, &rejected) {
		t.Fatalf("RequestToken = %v, want a parse error, not a broker rejection", err)
	}

	if got := <-statuses; got != "malformed" {
		t.Errorf("status = %q, want malformed", got)
	}
	got, _ := store.Get()
	if got != old {
		t.Errorf("store changed on malformed response: %+v", got)
	}
}

func TestRequestTokenTimeout(t *testing.T) {
	tr := newFakeTransport()
	r := newTestRefresher(tr, &Store{})

	_, err := r.RequestToken(context.Background())
	if !errors.Is(err, ErrTokenRequestTimeout) {
		t.Fatalf("RequestToken = %v, want ErrTokenRequestTimeout", err)
	}
}

func TestRequestTokenNoAPIKey(t *testing.T) {
	tr := newFakeTransport()
	r := NewRefresher(RefresherConfig{Transport: tr, Store: &Store{}})

	_, err := r.RequestToken(context.Background())
	if !errors.Is(err, ErrAPIKeyRequired) {
		t.Fatalf("RequestToken = %v, want ErrAPIKeyRequired", err)
	}
	if tr.sentCount() != 0 {
		t.Error("request sent without an api key")
	}
}

func TestRequestTokenSuperseded(t *testing.T) {
	tr := newFakeTransport()
	r := newTestRefresher(tr, &Store{})

	firstErr := make(chan error, 1)
	go func() {
		_, err := r.RequestToken(context.Background())
		firstErr <- err
	}()

	for tr.sentCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	// Second request replaces the first one's rendezvous slot; the broker
	// answer then satisfies only the second.
	go func() {
		for tr.sentCount() < 2 {
			time.Sleep(time.Millisecond)
		}
		tr.deliver(successResponse())
	}()

	if _, err := r.RequestToken(context.Background()); err != nil {
		t.Fatalf("second RequestToken: %v", err)
	}

	select {
	case err := <-firstErr:
		if !errors.Is(err, ErrSuperseded) {
			t.Fatalf("first RequestToken = %v, want ErrSuperseded", err)
		}
	case <-time.After(time.Second):
		t.Fatal("first request never returned")
	}
}

func TestRequestTokenUnsolicitedResponse(t *testing.T) {
	tr := newFakeTransport()
	newTestRefresher(tr, &Store{})

	// No request in flight; the handler must drop the response without
	// panicking or populating anything.
	tr.deliver(successResponse())
}

func TestRefreshWithRetryRecovers(t *testing.T) {
	tr := newFakeTransport()
	store := &Store{}
	r := newTestRefresher(tr, store)

	// Fail the first round-trip by staying silent, then answer the second.
	go func() {
		for tr.sentCount() < 2 {
			time.Sleep(time.Millisecond)
		}
		tr.deliver(successResponse())
	}()

	c, err := r.RefreshWithRetry(context.Background())
	if err != nil {
		t.Fatalf("RefreshWithRetry: %v", err)
	}
	if c.AccessKeyID != "ASIAFRESH" {
		t.Errorf("credentials = %+v", c)
	}
}

func TestRefreshWithRetryExhausted(t *testing.T) {
	tr := newFakeTransport()
	r := newTestRefresher(tr, &Store{})

	_, err := r.RefreshWithRetry(context.Background())
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("RefreshWithRetry = %v, want ErrTokenExpired", err)
	}
	if !errors.Is(err, ErrTokenRequestTimeout) {
		t.Fatalf("RefreshWithRetry = %v, want wrapped ErrTokenRequestTimeout", err)
	}
	if got := tr.sentCount(); got != 3 {
		t.Errorf("request count = %d, want 3", got)
	}
}

func TestRefreshStatusCallback(t *testing.T) {
	tr := newFakeTransport()
	statuses := make(chan string, 4)
	r := NewRefresher(RefresherConfig{
		Transport:      tr,
		Store:          &Store{},
		APIKey:         "test-key",
		RequestTimeout: 100 * time.Millisecond,
		OnRefresh:      func(s string) { statuses <- s },
	})

	go func() {
		for tr.sentCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		tr.deliver(successResponse())
	}()
	if _, err := r.RequestToken(context.Background()); err != nil {
		t.Fatalf("RequestToken: %v", err)
	}
	if got := <-statuses; got != "ok" {
		t.Errorf("status = %q, want ok", got)
	}

	if _, err := r.RequestToken(context.Background()); err == nil {
		t.Fatal("expected timeout")
	}
	if got := <-statuses; got != "timeout" {
		t.Errorf("status = %q, want timeout", got)
	}
}
