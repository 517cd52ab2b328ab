// Command voicepipe runs the on-device voice assistant pipeline: microphone
// frames in on stdin, spoken replies out on stdout, pipeline events and
// health over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/osone/voicepipe/internal/config"
	"github.com/osone/voicepipe/internal/events"
	"github.com/osone/voicepipe/internal/health"
	"github.com/osone/voicepipe/internal/inference"
	"github.com/osone/voicepipe/internal/inference/llamacpp"
	"github.com/osone/voicepipe/internal/observe"
	"github.com/osone/voicepipe/internal/transcript"
	"github.com/osone/voicepipe/internal/turn"
	"github.com/osone/voicepipe/pkg/audio"
	"github.com/osone/voicepipe/pkg/provider/stt/whisper"
	"github.com/osone/voicepipe/pkg/provider/tts/console"
)

// captureSampleRate is the PCM sample rate expected on stdin. Matches what
// whisper.cpp models are trained on, so no resampling happens on the hot path.
const captureSampleRate = 16000

// captureFrameMs is the stdin read granularity. 20 ms frames sit comfortably
// inside the detector's supported 10–30 ms range.
const captureFrameMs = 20

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	input := flag.String("input", "pcm16", "stdin audio format: pcm16 (raw 16 kHz mono) or opus (length-prefixed packets)")
	flag.Parse()

	if *input != "pcm16" && *input != "opus" {
		fmt.Fprintf(os.Stderr, "voicepipe: unknown -input %q; valid values: pcm16, opus\n", *input)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicepipe: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// A LevelVar so a config reload can change verbosity without restart.
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voicepipe starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"model", cfg.Models.Default,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	bus := events.NewBus()
	defer bus.Close()

	// ── Inference engine ──────────────────────────────────────────────────────
	backend := llamacpp.New(llamacpp.WithLogger(logger))
	engineOpts := []inference.EngineOption{
		inference.WithLogger(logger),
		inference.WithMetrics(metrics),
	}
	if cfg.Models.Threads > 0 {
		engineOpts = append(engineOpts, inference.WithThreads(cfg.Models.Threads))
	}
	if cfg.Models.GPULayers > 0 {
		engineOpts = append(engineOpts, inference.WithGPULayers(cfg.Models.GPULayers))
	}
	if cfg.Models.ContextSafetyMargin > 0 {
		engineOpts = append(engineOpts, inference.WithSafetyMargin(cfg.Models.ContextSafetyMargin))
	}
	engine := inference.NewEngine(backend, inference.DirLocator{Dir: cfg.Models.Dir}, engineOpts...)
	engine.SetGenerationConfig(cfg.Generation.Engine())
	if cfg.Models.SystemPrompt != "" {
		engine.SetSystemTurn(cfg.Models.SystemPrompt)
	}

	if cfg.Models.Default != "" {
		if err := engine.LoadModel(ctx, cfg.Models.Default, func(modelID string, done float64) {
			slog.Info("loading model", "model", modelID, "done", fmt.Sprintf("%.0f%%", done*100))
			bus.Publish(events.Event{Type: events.TypeModel, Detail: "loading " + modelID, Value: done})
		}); err != nil {
			slog.Error("failed to load model", "model", cfg.Models.Default, "err", err)
			return 1
		}
		bus.Publish(events.Event{Type: events.TypeModel, Detail: "loaded " + cfg.Models.Default})
	} else {
		slog.Warn("no models.default configured; turns will fail until a model is loaded")
	}

	// ── Speech recognition ────────────────────────────────────────────────────
	if cfg.STT.ModelPath == "" {
		slog.Error("stt.model_path is required")
		return 1
	}
	var whisperOpts []whisper.Option
	if cfg.STT.Language != "" {
		whisperOpts = append(whisperOpts, whisper.WithLanguage(cfg.STT.Language))
	}
	transcriber, err := whisper.New(cfg.STT.ModelPath, whisperOpts...)
	if err != nil {
		slog.Error("failed to load whisper model", "err", err)
		return 1
	}
	defer transcriber.Close()

	// ── Speech output ─────────────────────────────────────────────────────────
	sink := console.New(console.WithLogger(logger))
	defer sink.Close()

	// ── Turn controller ───────────────────────────────────────────────────────
	ctrlOpts := []turn.Option{
		turn.WithVADConfig(cfg.VAD.Detector()),
		turn.WithFilter(buildFilter(cfg)),
		turn.WithBus(bus),
		turn.WithLogger(logger),
		turn.WithMetrics(metrics),
	}
	if cfg.Turn.MaxChunkLen > 0 {
		ctrlOpts = append(ctrlOpts, turn.WithMaxChunkLen(cfg.Turn.MaxChunkLen))
	}
	if cfg.Turn.FallbackReply != "" {
		ctrlOpts = append(ctrlOpts, turn.WithFallbackReply(cfg.Turn.FallbackReply))
	}
	ctrl, err := turn.New(transcriber, engine, sink, ctrlOpts...)
	if err != nil {
		slog.Error("failed to build turn controller", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(config.Diff(old, new), new, level, engine, ctrl)
	})
	if err != nil {
		slog.Warn("config watcher unavailable; hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Event/health server ───────────────────────────────────────────────────
	var server *events.Server
	if cfg.Server.ListenAddr != "" {
		checker := health.New(
			health.Checker{Name: "model", Check: func(context.Context) error {
				if engine.ModelID() == "" {
					return errors.New("no model loaded")
				}
				return nil
			}},
			health.Checker{Name: "pipeline", Check: func(context.Context) error {
				if ctrl.State() == turn.StateIdle {
					return errors.New("pipeline not running")
				}
				return nil
			}},
		)
		server = events.NewServer(cfg.Server.ListenAddr, bus,
			events.WithLogger(logger),
			events.WithMetrics(metrics),
			events.WithHealth(checker),
		)
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ctrl.Run(gctx)
	})
	g.Go(func() error {
		return capture(gctx, os.Stdin, *input, ctrl)
	})
	g.Go(func() error {
		publishLevels(gctx, bus, ctrl)
		return nil
	})
	if server != nil {
		g.Go(func() error {
			return server.ListenAndServe()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	slog.Info("pipeline ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildFilter constructs the transcript gate from the config section. Zero
// values keep the filter defaults.
func buildFilter(cfg *config.Config) *transcript.Filter {
	var opts []transcript.Option
	if cfg.Transcript.MinConfidence > 0 {
		opts = append(opts, transcript.WithMinConfidence(cfg.Transcript.MinConfidence))
	}
	if cfg.Transcript.SimilarityThreshold > 0 {
		opts = append(opts, transcript.WithSimilarityThreshold(cfg.Transcript.SimilarityThreshold))
	}
	if len(cfg.Transcript.IgnorePhrases) > 0 {
		opts = append(opts, transcript.WithIgnorePhrases(cfg.Transcript.IgnorePhrases...))
	}
	return transcript.New(opts...)
}

// applyReload pushes hot-reloadable config changes into the running pipeline.
// Model, STT, and server changes require a restart and are ignored here.
func applyReload(d config.ConfigDiff, cfg *config.Config, level *slog.LevelVar, engine *inference.Engine, ctrl *turn.Controller) {
	if !d.Any() {
		return
	}
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VADChanged {
		if err := ctrl.Detector().UpdateConfig(cfg.VAD.Detector()); err != nil {
			slog.Warn("rejected VAD config update", "err", err)
		} else {
			slog.Info("VAD config updated")
		}
	}
	if d.GenerationChanged {
		engine.SetGenerationConfig(cfg.Generation.Engine())
		slog.Info("generation config updated")
	}
	if d.TranscriptChanged {
		ctrl.SetFilter(buildFilter(cfg))
		slog.Info("transcript filter updated")
	}
	if d.FallbackReplyChanged {
		ctrl.SetFallbackReply(d.NewFallbackReply)
	}
}

// levelInterval paces audio-level events on the bus. Coarse on purpose:
// the feed drives UI meters, not the detector.
const levelInterval = 100 * time.Millisecond

// publishLevels samples the detector's diagnostics and publishes the audio
// level until ctx is cancelled.
func publishLevels(ctx context.Context, bus *events.Bus, ctrl *turn.Controller) {
	ticker := time.NewTicker(levelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bus.Publish(events.Event{Type: events.TypeLevel, Value: ctrl.Detector().Snapshot().AudioLevel})
		}
	}
}

// capture reads audio from r until it ends or ctx is cancelled, feeding each
// frame to the controller. Frame timestamps are derived from the sample count
// so the VAD's timing is immune to read jitter.
func capture(ctx context.Context, r io.Reader, format string, ctrl *turn.Controller) error {
	if format == "opus" {
		return captureOpus(ctx, r, ctrl)
	}
	return capturePCM(ctx, r, ctrl)
}

// capturePCM reads raw 16-bit little-endian mono PCM at captureSampleRate.
func capturePCM(ctx context.Context, r io.Reader, ctrl *turn.Controller) error {
	frameBytes := captureSampleRate * captureFrameMs / 1000 * 2
	buf := make([]byte, frameBytes)
	var elapsed time.Duration

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			frame := audio.FromPCM16(buf[:n], captureSampleRate, 1, elapsed)
			elapsed += frame.Duration()
			ctrl.OnFrame(frame)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			slog.Info("audio input ended")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read audio input: %w", err)
		}
	}
}

// captureOpus reads Opus packets framed as a 2-byte big-endian length prefix
// followed by the packet, the framing used by the companion capture daemon.
func captureOpus(ctx context.Context, r io.Reader, ctrl *turn.Controller) error {
	dec, err := audio.NewOpusDecoder(captureSampleRate, 1)
	if err != nil {
		return fmt.Errorf("create opus decoder: %w", err)
	}

	header := make([]byte, 2)
	packet := make([]byte, 0, 1500)
	var elapsed time.Duration

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Info("audio input ended")
				return nil
			}
			return fmt.Errorf("read packet header: %w", err)
		}
		size := int(header[0])<<8 | int(header[1])
		if size == 0 {
			continue
		}
		if cap(packet) < size {
			packet = make([]byte, size)
		}
		packet = packet[:size]
		if _, err := io.ReadFull(r, packet); err != nil {
			return fmt.Errorf("read packet body: %w", err)
		}

		frame, err := dec.Decode(packet)
		if err != nil {
			slog.Warn("dropping undecodable packet", "size", size, "err", err)
			continue
		}
		frame.Timestamp = elapsed
		elapsed += frame.Duration()
		ctrl.OnFrame(frame)
	}
}
