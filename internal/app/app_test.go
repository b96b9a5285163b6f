package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/stevehaskew/live-translate/internal/config"
	"github.com/stevehaskew/live-translate/internal/duplex"
	"github.com/stevehaskew/live-translate/internal/observe"
	audiomock "github.com/stevehaskew/live-translate/pkg/audio/mock"
	"github.com/stevehaskew/live-translate/pkg/transcribe"
	transcribemock "github.com/stevehaskew/live-translate/pkg/transcribe/mock"
)

// brokerState records every envelope a test broker receives.
type brokerState struct {
	mu   sync.Mutex
	msgs []duplex.Message
}

func (b *brokerState) record(m duplex.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
}

// received returns the recorded envelopes of one type.
func (b *brokerState) received(t duplex.MessageType) []duplex.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []duplex.Message
	for _, m := range b.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// startTestBroker runs a WebSocket broker that records inbound envelopes and
// answers generateToken requests with a success tokenResponse.
func startTestBroker(t *testing.T) (*httptest.Server, *brokerState) {
	t.Helper()
	state := &brokerState{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m duplex.Message
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			state.record(m)

			if m.Type == duplex.TypeGenerateToken {
				resp, _ := json.Marshal(map[string]any{
					"type": "tokenResponse",
					"data": map[string]any{
						"status": "success",
						"region": "eu-west-2",
						"credentials": map[string]any{
							"accessKeyId":     "ASIABROKER",
							"secretAccessKey": "broker-secret",
							"sessionToken":    "broker-token",
							"expiration":      time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
						},
					},
				})
				if err := conn.Write(ctx, websocket.MessageText, resp); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, state
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.Server.URL = url
	cfg.Credentials.APIKey = "room-key"
	return cfg
}

func TestAppEndToEnd(t *testing.T) {
	srv, broker := startTestBroker(t)

	stream := transcribemock.NewStream()
	provider := &transcribemock.Provider{Streams: []*transcribemock.Stream{stream}}
	source := &audiomock.Source{Frames: [][]int16{{1, 2, 3}}}

	a, err := New(testConfig(srv.URL), source, provider, WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.ConnectBroker(ctx); err != nil {
		t.Fatalf("ConnectBroker: %v", err)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()

	// The broker-issued credentials must reach the provider stream.
	waitFor(t, func() bool { return provider.Calls() > 0 }, "stream to open")
	cfg := provider.StartStreamCalls[0].Cfg
	if cfg.Credentials == nil || cfg.Credentials.AccessKeyID != "ASIABROKER" {
		t.Errorf("stream credentials = %+v, want broker-issued set", cfg.Credentials)
	}

	stream.ResultsCh <- transcribe.Result{Text: "good morning", IsPartial: false}

	waitFor(t, func() bool { return len(broker.received(duplex.TypeNewText)) > 0 }, "transcript to reach broker")
	texts := broker.received(duplex.TypeNewText)
	if texts[0].Data["text"] != "good morning" {
		t.Errorf("newText data = %v", texts[0].Data)
	}
	if texts[0].Data["apiKey"] != "room-key" {
		t.Errorf("newText apiKey = %v", texts[0].Data["apiKey"])
	}

	// Language is announced on connect.
	waitFor(t, func() bool { return len(broker.received(duplex.TypeSetLanguage)) > 0 }, "language announcement")

	close(stream.ResultsCh)
	a.RequestShutdown()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after shutdown request")
	}

	if err := a.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if source.CloseCalls == 0 {
		t.Error("audio source not closed")
	}
}

func TestAppLocalCredentials(t *testing.T) {
	srv, broker := startTestBroker(t)

	stream := transcribemock.NewStream()
	close(stream.ResultsCh)
	provider := &transcribemock.Provider{Streams: []*transcribemock.Stream{stream}}

	cfg := testConfig(srv.URL)
	cfg.Credentials.UseLocal = true

	a, err := New(cfg, &audiomock.Source{}, provider, WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.ConnectBroker(ctx); err != nil {
		t.Fatalf("ConnectBroker: %v", err)
	}

	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(broker.received(duplex.TypeGenerateToken)); got != 0 {
		t.Errorf("generateToken requests = %d, want 0 in local mode", got)
	}
	if provider.Calls() != 1 {
		t.Fatalf("StartStream calls = %d, want 1", provider.Calls())
	}
	if provider.StartStreamCalls[0].Cfg.Credentials != nil {
		t.Error("local mode must use the ambient credential chain")
	}
}

func TestAppSetLanguage(t *testing.T) {
	srv, broker := startTestBroker(t)

	a, err := New(testConfig(srv.URL), &audiomock.Source{}, &transcribemock.Provider{}, WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.ConnectBroker(ctx); err != nil {
		t.Fatalf("ConnectBroker: %v", err)
	}

	waitFor(t, func() bool { return len(broker.received(duplex.TypeSetLanguage)) == 1 }, "connect announcement")

	if err := a.SetLanguage(ctx, "de-DE"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	waitFor(t, func() bool { return len(broker.received(duplex.TypeSetLanguage)) == 2 }, "language switch")

	msgs := broker.received(duplex.TypeSetLanguage)
	if msgs[1].Data["language"] != "de-DE" {
		t.Errorf("setLanguage data = %v", msgs[1].Data)
	}

	// Re-announcing the same language is a no-op.
	if err := a.SetLanguage(ctx, "de-DE"); err != nil {
		t.Fatalf("SetLanguage repeat: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := len(broker.received(duplex.TypeSetLanguage)); got != 2 {
		t.Errorf("setLanguage count = %d, want 2", got)
	}
}
