// Package session drives the transcription loop: audio frames flow from the
// capture source into the provider stream, final transcripts flow back out
// to the broker over the duplex channel.
//
// The session owns stream lifecycle. When the provider rejects the current
// credentials as expired, it re-authenticates through the refresher and
// opens a fresh stream without dropping the process.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stevehaskew/live-translate/internal/creds"
	"github.com/stevehaskew/live-translate/internal/duplex"
	"github.com/stevehaskew/live-translate/internal/observe"
	"github.com/stevehaskew/live-translate/pkg/audio"
	"github.com/stevehaskew/live-translate/pkg/transcribe"
)

// timestampLayout is the wall-clock format attached to forwarded transcripts.
const timestampLayout = "15:04:05"

// finalFrameTimeout bounds the best-effort last frame sent on shutdown so a
// stalled microphone cannot delay process exit.
const finalFrameTimeout = 250 * time.Millisecond

// TokenRefresher is the slice of the credential refresher the session needs
// for reactive re-authentication.
type TokenRefresher interface {
	RefreshWithRetry(ctx context.Context) (creds.Credentials, error)
}

// Broadcaster is the slice of the duplex channel the session sends
// transcripts through.
type Broadcaster interface {
	Send(ctx context.Context, msg duplex.Message) error
	Connect(ctx context.Context) error
}

// Config configures a [Session].
type Config struct {
	// Language is the transcription language code, e.g. "en-GB".
	Language string

	// SampleRate is the capture sample rate in Hz. Defaults to
	// [audio.SampleRate] if zero.
	SampleRate int

	// APIKey is attached to forwarded transcripts so the broker can route
	// them to the right room.
	APIKey string

	// LocalCredentials makes the session bypass the broker-issued
	// credential store and run on the provider's ambient credential chain.
	LocalCredentials bool
}

// Session connects one audio source to one transcription provider and relays
// final transcripts to the broker.
type Session struct {
	cfg       Config
	source    audio.Source
	provider  transcribe.Provider
	store     *creds.Store
	refresher TokenRefresher
	broadcast Broadcaster
	metrics   *observe.Metrics
}

// New creates a Session. The refresher may be nil when cfg.LocalCredentials
// is set; otherwise it is required.
func New(cfg Config, source audio.Source, provider transcribe.Provider, store *creds.Store, refresher TokenRefresher, broadcast Broadcaster, metrics *observe.Metrics) *Session {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.SampleRate
	}
	return &Session{
		cfg:       cfg,
		source:    source,
		provider:  provider,
		store:     store,
		refresher: refresher,
		broadcast: broadcast,
		metrics:   metrics,
	}
}

// Run executes the transcription loop until ctx is cancelled or an
// unrecoverable error occurs. Credential-expiry failures are handled in
// place: the session re-authenticates and opens a fresh stream.
func (s *Session) Run(ctx context.Context) error {
	for {
		err := s.runStream(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		if creds.IsExpired(err) {
			slog.Info("credentials expired, re-authenticating")
			s.metrics.RecordProviderError(ctx, "expired_credentials")

			if s.cfg.LocalCredentials || s.refresher == nil {
				return fmt.Errorf("session: local credentials expired: %w", err)
			}
			if _, rerr := s.refresher.RefreshWithRetry(ctx); rerr != nil {
				return fmt.Errorf("session: re-authentication failed: %w", rerr)
			}
			continue
		}

		s.metrics.RecordProviderError(ctx, "stream")
		return fmt.Errorf("session: transcription stream: %w", err)
	}
}

// streamCredentials resolves the credential set for the next stream.
func (s *Session) streamCredentials() (*transcribe.Credentials, error) {
	if s.cfg.LocalCredentials {
		return nil, nil // ambient chain
	}
	c, ok := s.store.Get()
	if !ok {
		return nil, creds.ErrNoCredentials
	}
	return &transcribe.Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Region:          c.Region,
	}, nil
}

// runStream opens one provider stream and pumps it until the provider closes
// the results channel or ctx is cancelled. The returned error is the
// provider's terminal stream error, nil on clean shutdown.
func (s *Session) runStream(ctx context.Context) error {
	streamCreds, err := s.streamCredentials()
	if err != nil {
		return err
	}

	ctx, span := observe.StartSpan(ctx, "session.stream")
	defer span.End()

	stream, err := s.provider.StartStream(ctx, transcribe.StreamConfig{
		Language:    s.cfg.Language,
		SampleRate:  s.cfg.SampleRate,
		Credentials: streamCreds,
	})
	if err != nil {
		return fmt.Errorf("start stream: %w", err)
	}

	start := time.Now()
	s.metrics.RecordStreamOpened(ctx)
	defer s.metrics.RecordStreamClosed(ctx, start)

	slog.Info("transcription stream opened", "language", s.cfg.Language, "sample_rate", s.cfg.SampleRate)

	// The capture loop runs on its own goroutine so a stalled microphone
	// read cannot block result handling. It is stopped via its own derived
	// context once the results channel closes.
	captureCtx, stopCapture := context.WithCancel(ctx)
	captureDone := make(chan struct{})
	go func() {
		defer close(captureDone)
		s.captureLoop(captureCtx, ctx, stream)
	}()

	for res := range stream.Results() {
		if res.IsPartial {
			continue
		}
		if strings.TrimSpace(res.Text) == "" {
			continue
		}
		s.forward(ctx, res.Text)
	}

	stopCapture()
	<-captureDone

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// captureLoop reads frames from the source and feeds them to the stream
// until its context is cancelled. Transient read and send failures are
// logged and the loop keeps going; a microphone glitch must not end the
// session. When the whole session is shutting down (streamCtx cancelled,
// not just a stream-side stop), it attempts one last frame so the in-flight
// utterance gets its closing audio.
func (s *Session) captureLoop(ctx, streamCtx context.Context, stream transcribe.Stream) {
	defer func() {
		if err := stream.CloseSend(); err != nil {
			slog.Debug("closing audio stream", "error", err)
		}
	}()

	for {
		if ctx.Err() != nil {
			if streamCtx.Err() != nil {
				s.flushFinalFrame(stream)
			}
			return
		}

		frame, err := s.source.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("audio capture failed, retrying", "error", err)
			}
			continue
		}

		if err := stream.SendAudio(ctx, audio.EncodeLE(frame)); err != nil {
			if ctx.Err() == nil {
				slog.Warn("audio send failed, frame dropped", "error", err)
			}
			continue
		}
		s.metrics.FramesSent.Add(ctx, 1)
	}
}

// flushFinalFrame reads and sends one best-effort frame during shutdown.
// Errors are expected here (the stream may already be closing) and only
// logged at debug.
func (s *Session) flushFinalFrame(stream transcribe.Stream) {
	ctx, cancel := context.WithTimeout(context.Background(), finalFrameTimeout)
	defer cancel()

	frame, err := s.source.ReadFrame(ctx)
	if err != nil {
		return
	}
	if err := stream.SendAudio(ctx, audio.EncodeLE(frame)); err != nil {
		slog.Debug("final frame dropped", "error", err)
	}
}

// forward relays one final transcript to the broker. A send racing a broker
// reconnect gets one connect-and-retry; a transcript that still cannot be
// delivered is logged and dropped rather than blocking the stream.
func (s *Session) forward(ctx context.Context, text string) {
	msg := duplex.NewMessage(duplex.TypeNewText, map[string]any{
		"text":      text,
		"timestamp": time.Now().Format(timestampLayout),
		"apiKey":    s.cfg.APIKey,
	})

	err := s.broadcast.Send(ctx, msg)
	if errors.Is(err, duplex.ErrNotConnected) {
		if cerr := s.broadcast.Connect(ctx); cerr != nil {
			slog.Warn("transcript dropped, broker unreachable", "error", cerr)
			return
		}
		err = s.broadcast.Send(ctx, msg)
	}
	if err != nil {
		slog.Warn("transcript dropped", "error", err)
		return
	}

	s.metrics.TranscriptsForwarded.Add(ctx, 1)
	observe.Logger(ctx).Debug("transcript forwarded", "chars", len(text))
}
