// Command live-translate captures microphone audio, streams it through AWS
// Transcribe, and relays final transcripts to a translation broker over a
// WebSocket channel.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stevehaskew/live-translate/internal/app"
	"github.com/stevehaskew/live-translate/internal/config"
	"github.com/stevehaskew/live-translate/internal/duplex"
	"github.com/stevehaskew/live-translate/internal/observe"
	audiopkg "github.com/stevehaskew/live-translate/pkg/audio"
	"github.com/stevehaskew/live-translate/pkg/audio/portaudio"
	awstranscribe "github.com/stevehaskew/live-translate/pkg/transcribe/aws"
)

// calibrationTime lets the capture device settle before frames are forwarded.
const calibrationTime = 2 * time.Second

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listDevices := flag.Bool("l", false, "list audio input devices and exit")
	device := flag.String("d", "", "audio input device (name or index); overrides config")
	verbose := flag.Bool("v", false, "verbose logging (forces debug level)")
	flag.Usage = usage
	flag.Parse()

	// .env is optional; real environment variables win either way.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "live-translate: load .env: %v\n", err)
	}

	if *listDevices {
		return printDevices()
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "live-translate: %v\n", err)
		return 1
	}
	config.ApplyEnv(cfg)
	if *device != "" {
		cfg.Audio.Device = *device
	}
	// A positional server URL overrides the config, matching the common
	// "live-translate https://relay.example" invocation.
	if flag.NArg() > 0 {
		cfg.Server.URL = flag.Arg(0)
	}
	if cfg.Server.URL == "" {
		fmt.Fprintln(os.Stderr, "live-translate: no server URL; pass one as an argument or set server.url in the config")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := cfg.Server.LogLevel.Slog()
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("live-translate starting",
		"version", version,
		"config", *configPath,
		"server", cfg.Server.URL,
		"language", cfg.Transcribe.Language,
	)

	if cfg.Credentials.APIKey == "" && !cfg.Credentials.UseLocal {
		fmt.Fprintln(os.Stderr, "WARNING: API_KEY is not set; the broker will reject token requests.")
		fmt.Fprintln(os.Stderr, "         Set it in .env or the config file, or use LT_LOCAL_TOKEN=true for local AWS credentials.")
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "live-translate",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	if cfg.Metrics.ListenAddr != "" {
		go serveMetrics(cfg.Metrics.ListenAddr)
	}

	// ── Audio capture ─────────────────────────────────────────────────────────
	deviceIndex, err := resolveDevice(cfg.Audio.Device)
	if err != nil {
		slog.Error("device resolution failed", "err", err)
		return 1
	}

	capture, err := portaudio.Open(portaudio.Config{DeviceIndex: deviceIndex})
	if err != nil {
		slog.Error("failed to open audio device", "err", err)
		return 1
	}
	defer capture.Close()

	slog.Info("calibrating audio device", "duration", calibrationTime)
	if err := capture.Calibrate(ctx, calibrationTime); err != nil {
		if ctx.Err() != nil {
			return 0
		}
		slog.Error("calibration failed", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	provider := awstranscribe.New(awstranscribe.WithRegion(cfg.Credentials.Region))

	application, err := app.New(cfg, capture, provider)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer application.Shutdown()

	printStartupSummary(cfg)

	if err := application.ConnectBroker(ctx); err != nil {
		slog.Error("broker connection failed", "err", err)
		var ce *duplex.ConnectError
		if errors.As(err, &ce) && ce.Body != "" {
			slog.Debug("broker response body", "body", ce.Body)
		}
		if !confirmContinue() {
			return 1
		}
		slog.Warn("continuing without broker; transcripts will be dropped until it comes up")
	}

	// ── Config hot-reload ─────────────────────────────────────────────────────
	if _, statErr := os.Stat(*configPath); statErr == nil {
		watcher, werr := config.NewWatcher(*configPath, func(old, new *config.Config) {
			if old.Transcribe.Language == new.Transcribe.Language {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := application.SetLanguage(cctx, new.Transcribe.Language); err != nil {
				slog.Warn("language switch failed", "err", err)
			}
		})
		if werr != nil {
			slog.Warn("config watcher disabled", "err", werr)
		} else {
			defer watcher.Stop()
		}
	}

	slog.Info("ready, speak into the microphone; press Ctrl+C to stop")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	if err := application.Shutdown(); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: live-translate [flags] [server-url]

Captures microphone audio, transcribes it with AWS Transcribe, and relays
final transcripts to the translation broker at server-url.

Flags:
`)
	flag.PrintDefaults()
}

// loadConfig reads the config file, falling back to defaults when the file
// does not exist. A missing file is normal: everything can come from flags
// and the environment.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return nil, err
}

// printDevices lists input devices for the -l flag.
func printDevices() int {
	devices, err := portaudio.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "live-translate: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Println("No audio input devices found.")
		return 0
	}
	fmt.Println("Audio input devices:")
	for _, d := range devices {
		fmt.Printf("  [%d] %s (%d channels)\n", d.Index, d.Name, d.Channels)
	}
	return 0
}

// resolveDevice maps a device name or numeric index onto a PortAudio device
// index. Empty selects the host default; an unknown name warns and falls
// back to the default rather than refusing to start.
func resolveDevice(device string) (int, error) {
	if device == "" {
		return -1, nil
	}
	if idx, err := strconv.Atoi(device); err == nil {
		return idx, nil
	}
	idx, err := portaudio.FindDeviceByName(device)
	if err != nil {
		slog.Warn("audio device not found, using system default", "device", device)
		return -1, nil
	}
	return idx, nil
}

// confirmContinue asks whether to start without a broker connection. Any
// answer other than y/yes aborts.
func confirmContinue() bool {
	fmt.Fprint(os.Stderr, "Could not reach the broker. Continue anyway? (y/n) ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// serveMetrics exposes the Prometheus scrape endpoint.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics endpoint failed", "err", err)
	}
}

// printStartupSummary mirrors the operator-facing settings at a glance.
func printStartupSummary(cfg *config.Config) {
	credMode := "broker-issued"
	if cfg.Credentials.UseLocal {
		credMode = "local chain"
	}
	device := cfg.Audio.Device
	if device == "" {
		device = "(default)"
	}

	fmt.Println("╔═══════════════════════════════════════════╗")
	fmt.Println("║       live-translate — session setup      ║")
	fmt.Println("╠═══════════════════════════════════════════╣")
	printRow("Server", cfg.Server.URL)
	printRow("Language", cfg.Transcribe.Language)
	printRow("Device", device)
	printRow("Region", cfg.Credentials.Region)
	printRow("Credentials", credMode)
	printRow("Sample rate", fmt.Sprintf("%d Hz", audiopkg.SampleRate))
	if cfg.Metrics.ListenAddr != "" {
		printRow("Metrics", cfg.Metrics.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════════╝")
}

func printRow(key, value string) {
	fmt.Println(formatRow(key, value))
}

// formatRow lays out one summary box row. The value cell is 23 columns;
// longer values are cut on a rune boundary and padding is computed from the
// rune count so multi-byte values keep the box border aligned.
func formatRow(key, value string) string {
	r := []rune(value)
	if len(r) > 23 {
		r = append(r[:22], '…')
	}
	pad := strings.Repeat(" ", 23-len(r))
	return fmt.Sprintf("║  %-14s : %s%s ║", key, string(r), pad)
}
