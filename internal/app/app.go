// Package app wires the client subsystems into a running application: the
// duplex broker channel, the credential refresher, and the transcription
// session.
//
// The App owns the full lifecycle: New creates and wires the subsystems,
// ConnectBroker establishes the initial broker connection, Run executes the
// long-running loops, and Shutdown tears everything down.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stevehaskew/live-translate/internal/config"
	"github.com/stevehaskew/live-translate/internal/creds"
	"github.com/stevehaskew/live-translate/internal/duplex"
	"github.com/stevehaskew/live-translate/internal/observe"
	"github.com/stevehaskew/live-translate/internal/session"
	"github.com/stevehaskew/live-translate/internal/shutdown"
	"github.com/stevehaskew/live-translate/pkg/audio"
	"github.com/stevehaskew/live-translate/pkg/transcribe"
)

// gracePeriod is how long in-flight sends get to drain between the stop
// request and hard cancellation.
const gracePeriod = 500 * time.Millisecond

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	source  audio.Source
	channel *duplex.Channel
	store   *creds.Store
	refresh *creds.Refresher
	sess    *session.Session
	coord   *shutdown.Coordinator
	metrics *observe.Metrics

	mu       sync.Mutex
	language string

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a Metrics instance instead of using the package-level
// default. Tests use this to avoid cross-test pollution.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring the subsystems together. The audio source and
// transcription provider come from main, which resolves devices and cloud
// SDK configuration.
func New(cfg *config.Config, source audio.Source, provider transcribe.Provider, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		source:   source,
		coord:    shutdown.New(),
		store:    &creds.Store{},
		language: cfg.Transcribe.Language,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	channel, err := duplex.NewChannel(cfg.Server.URL,
		duplex.WithOnConnect(a.onBrokerConnect),
		duplex.WithOnReconnect(func() {
			a.metrics.Reconnects.Add(context.Background(), 1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.channel = channel
	a.registerHandlers()

	if !cfg.Credentials.UseLocal {
		a.refresh = creds.NewRefresher(creds.RefresherConfig{
			Transport:       channel,
			Store:           a.store,
			APIKey:          cfg.Credentials.APIKey,
			Region:          cfg.Credentials.Region,
			RefreshInterval: cfg.Credentials.RefreshInterval,
			OnRefresh: func(status string) {
				a.metrics.RecordTokenRefresh(context.Background(), status)
			},
		})
	}

	a.sess = session.New(session.Config{
		Language:         cfg.Transcribe.Language,
		APIKey:           cfg.Credentials.APIKey,
		LocalCredentials: cfg.Credentials.UseLocal,
	}, source, provider, a.store, a.refresh, channel, a.metrics)

	return a, nil
}

// registerHandlers installs handlers for the broker-initiated message types.
// generateToken/tokenResponse handling lives in the refresher; newText is
// client-initiated only.
func (a *App) registerHandlers() {
	a.channel.RegisterHandler(duplex.TypeConnectionStatus, func(m duplex.Message) {
		if avail, ok := m.Data["aws_available"].(bool); ok {
			slog.Info("broker connection status", "aws_available", avail)
			return
		}
		slog.Info("broker connection status", "data", m.Data)
	})
	a.channel.RegisterHandler(duplex.TypeLanguageSet, func(m duplex.Message) {
		lang, _ := m.Data["language"].(string)
		slog.Info("translation language confirmed", "language", lang)
	})
	a.channel.RegisterHandler(duplex.TypeTranslatedText, func(m duplex.Message) {
		// Translations are consumed by viewer clients; this client only
		// produces transcripts. Logged for diagnostics.
		slog.Debug("translated text received", "data", m.Data)
	})
	a.channel.RegisterHandler(duplex.TypeError, func(m duplex.Message) {
		slog.Warn("broker reported error", "data", m.Data)
	})
}

// onBrokerConnect replays session state the broker forgets across
// connections: the active transcription language.
func (a *App) onBrokerConnect() {
	a.mu.Lock()
	lang := a.language
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := duplex.NewMessage(duplex.TypeSetLanguage, map[string]any{"language": lang})
	if err := a.channel.Send(ctx, msg); err != nil {
		slog.Warn("failed to announce language to broker", "error", err)
	}
}

// ConnectBroker establishes the initial broker connection. Kept separate
// from Run so main can surface a connect failure interactively before the
// long-running loops start.
func (a *App) ConnectBroker(ctx context.Context) error {
	return a.channel.Connect(ctx)
}

// SetLanguage switches the transcription language announced to the broker.
// The new language takes effect for broker-side translation immediately;
// the transcription stream keeps its language until the next stream opens.
func (a *App) SetLanguage(ctx context.Context, lang string) error {
	a.mu.Lock()
	if a.language == lang {
		a.mu.Unlock()
		return nil
	}
	a.language = lang
	a.mu.Unlock()

	slog.Info("switching translation language", "language", lang)
	return a.channel.Send(ctx, duplex.NewMessage(duplex.TypeSetLanguage, map[string]any{"language": lang}))
}

// RequestShutdown fires the stop latch. Safe to call from any goroutine;
// Run notices and begins the graceful stop sequence.
func (a *App) RequestShutdown() {
	a.coord.Request()
}

// Run executes the long-running loops until ctx is cancelled, a shutdown is
// requested, or a subsystem fails fatally. Broker transport exhaustion is
// not fatal: transcription continues on the current credentials and the
// condition is logged for the operator.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Obtain the first credential set before the session needs it.
	if a.refresh != nil {
		if _, err := a.refresh.RefreshWithRetry(runCtx); err != nil {
			return fmt.Errorf("app: initial credentials: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-a.coord.Done():
			slog.Info("shutdown requested, draining")
			time.Sleep(gracePeriod)
			cancel()
		}
		return nil
	})

	g.Go(func() error {
		err := a.channel.Monitor(gctx)
		if errors.Is(err, duplex.ErrConnectionLost) {
			slog.Error("broker permanently unreachable; transcripts will be dropped until restart")
			return nil
		}
		return err
	})

	if a.refresh != nil {
		g.Go(func() error {
			return a.refresh.Run(gctx)
		})
	}

	g.Go(func() error {
		defer a.coord.Request() // session exit ends the process
		return a.sess.Run(gctx)
	})

	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Shutdown tears down the subsystems. Safe to call multiple times.
func (a *App) Shutdown() error {
	a.stopOnce.Do(func() {
		a.coord.Request()

		var errs []error
		if err := a.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
		if err := a.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audio source: %w", err))
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}
