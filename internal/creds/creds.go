// Package creds manages the short-lived cloud credentials the transcription
// stream runs on: a store holding the current set, and a refresher that
// obtains new sets from the broker over the duplex channel.
package creds

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Credentials is one short-lived credential set issued by the broker.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ExpiresAt       time.Time
	Region          string
}

// ErrNoCredentials is returned when an operation needs credentials and the
// store has never been populated.
var ErrNoCredentials = errors.New("creds: no credentials available")

// ErrTokenRequestTimeout is returned when the broker does not answer a token
// request within the request timeout.
var ErrTokenRequestTimeout = errors.New("creds: token request timed out")

// ErrTokenExpired is returned when the refresh retry budget is spent and the
// stream cannot be re-authenticated.
var ErrTokenExpired = errors.New("creds: credentials expired and refresh failed")

// ErrAPIKeyRequired is returned when a token request is attempted without an
// API key configured.
var ErrAPIKeyRequired = errors.New("creds: api key required for token requests")

// TokenRejectedError reports a broker that answered a token request with a
// non-success status.
type TokenRejectedError struct {
	Reason string
}

func (e *TokenRejectedError) Error() string {
	if e.Reason == "" {
		return "creds: token request rejected"
	}
	return fmt.Sprintf("creds: token request rejected: %s", e.Reason)
}

// Store holds the current credential set. Replacement is atomic: readers see
// either the previous complete set or the new complete set, never a mix.
// The zero value is an empty store ready for use.
type Store struct {
	mu    sync.RWMutex
	creds Credentials
	set   bool
}

// Set replaces the stored credential set.
func (s *Store) Set(c Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = c
	s.set = true
}

// Get returns the current credential set. ok is false until the first Set.
func (s *Store) Get() (c Credentials, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds, s.set
}
