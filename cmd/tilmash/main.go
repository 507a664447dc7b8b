// Command tilmash is the main entry point for the Tilmash speech-pipeline
// server: it wires the stores, the normalization engine, the session pipeline
// and the provider-comparison harness, starts the retention sweeper and the
// Prometheus metrics endpoint, and runs until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aserkali/tilmash/internal/comparison"
	"github.com/aserkali/tilmash/internal/config"
	"github.com/aserkali/tilmash/internal/dictionary"
	"github.com/aserkali/tilmash/internal/normalize"
	"github.com/aserkali/tilmash/internal/observe"
	"github.com/aserkali/tilmash/internal/pipeline"
	"github.com/aserkali/tilmash/internal/quality"
	"github.com/aserkali/tilmash/internal/retention"
	"github.com/aserkali/tilmash/internal/storage"
	"github.com/aserkali/tilmash/internal/store"
	"github.com/aserkali/tilmash/internal/store/postgres"
	"github.com/aserkali/tilmash/pkg/provider/stt"
	sttmock "github.com/aserkali/tilmash/pkg/provider/stt/mock"
	sttopenai "github.com/aserkali/tilmash/pkg/provider/stt/openai"
	"github.com/aserkali/tilmash/pkg/provider/stt/vosk"
	"github.com/aserkali/tilmash/pkg/provider/tts"
	ttsmock "github.com/aserkali/tilmash/pkg/provider/tts/mock"
	ttsopenai "github.com/aserkali/tilmash/pkg/provider/tts/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tilmash: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tilmash: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("tilmash starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "tilmash"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provs, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Stores ────────────────────────────────────────────────────────────────
	var st store.Store
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		pgStore, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to PostgreSQL", "err", err)
			return 1
		}
		defer pgStore.Close()
		st = pgStore
		slog.Info("using PostgreSQL store")
	} else {
		st = store.NewMemStore()
		slog.Warn("no postgres_dsn configured — using volatile in-memory store")
	}

	audioDir := cfg.Storage.Dir
	if audioDir == "" {
		audioDir = "data/audio"
	}
	blobs, err := storage.NewLocal(audioDir, cfg.Storage.BaseURL)
	if err != nil {
		slog.Error("failed to open audio store", "err", err, "dir", audioDir)
		return 1
	}

	// ── Services ──────────────────────────────────────────────────────────────
	cache := dictionary.NewCache(st)
	dict := dictionary.NewService(st, cache, logger)

	var normOpts []normalize.Option
	if cfg.Normalization.FuzzyThreshold > 0 {
		normOpts = append(normOpts, normalize.WithFuzzyThreshold(cfg.Normalization.FuzzyThreshold))
	}
	if cfg.Normalization.MaxDistance > 0 {
		normOpts = append(normOpts, normalize.WithMaxDistance(cfg.Normalization.MaxDistance))
	}
	if cfg.Normalization.MinUnknownLength > 0 {
		normOpts = append(normOpts, normalize.WithMinUnknownLength(cfg.Normalization.MinUnknownLength))
	}
	norm := normalize.New(cache, logger, normOpts...)

	var pipeOpts []pipeline.Option
	if cfg.Pipeline.LowConfidenceThreshold > 0 {
		pipeOpts = append(pipeOpts, pipeline.WithLowConfidenceThreshold(cfg.Pipeline.LowConfidenceThreshold))
	}
	if cfg.Pipeline.Voice != "" {
		pipeOpts = append(pipeOpts, pipeline.WithVoice(cfg.Pipeline.Voice))
	}
	if cfg.Pipeline.Speed != 0 {
		pipeOpts = append(pipeOpts, pipeline.WithSpeed(cfg.Pipeline.Speed))
	}
	if cfg.Pipeline.SecondarySTT != "" {
		pipeOpts = append(pipeOpts, pipeline.WithSecondarySTT(cfg.Pipeline.SecondarySTT))
	}
	svc := pipeline.New(st, blobs, norm, dict, provs, logger, pipeOpts...)

	harness := comparison.New(provs.AllSTT(), st, st, blobs, logger,
		comparison.WithPriority(cfg.Comparison.PrimaryPriority))

	analytics := quality.NewAnalytics(st, st, st, st, st)
	evaluator := quality.NewEvaluator(st, st, logger)

	app := &services{
		pipeline:  svc,
		harness:   harness,
		analytics: analytics,
		evaluator: evaluator,
	}

	// ── Retention sweeper ─────────────────────────────────────────────────────
	if cfg.Storage.Retention > 0 {
		interval := cfg.Storage.SweepInterval
		if interval <= 0 {
			interval = time.Hour
		}
		app.sweeper = retention.New(st, st, blobs, cfg.Storage.Retention, interval, logger)
		go app.sweeper.Run(ctx)
		slog.Info("retention sweeper started", "retention", cfg.Storage.Retention, "interval", interval)
	}

	go app.reportLoop(ctx, time.Hour, provs.STTNames())

	// ── Metrics endpoint ──────────────────────────────────────────────────────
	var metricsSrv *http.Server
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
		slog.Info("metrics endpoint listening", "addr", cfg.Server.ListenAddr)
	}

	slog.Info("tilmash ready — press Ctrl+C to shut down",
		"stt_providers", provs.STTNames(),
		"languages", []string{"ru", "kk"},
	)

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping…")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}
	slog.Info("goodbye")
	return 0
}

// services bundles the wired application services.
type services struct {
	pipeline  *pipeline.Service
	harness   *comparison.Harness
	analytics *quality.Analytics
	evaluator *quality.Evaluator
	sweeper   *retention.Sweeper
}

// reportLoop periodically logs per-provider quality aggregates over the last
// interval.
func (s *services) reportLoop(ctx context.Context, interval time.Duration, providers []string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			since := time.Now().Add(-interval)
			for _, name := range providers {
				rep, err := s.analytics.ProviderReport(ctx, name, since)
				if err != nil {
					slog.Warn("provider report failed", "provider", name, "err", err)
					continue
				}
				slog.Info("provider report",
					"provider", name,
					"sessions", rep.SessionCount,
					"turns", rep.TurnCount,
					"avg_confidence", rep.AvgConfidence,
					"correction_rate", rep.CorrectionRate,
					"comparison_runs", rep.ComparisonRuns,
				)
			}
			stats, err := s.harness.Stats(ctx, since)
			if err != nil {
				slog.Warn("comparison stats failed", "err", err)
				continue
			}
			for _, ps := range stats {
				if ps.Runs == 0 {
					continue
				}
				slog.Info("comparison stats",
					"provider", ps.Provider,
					"runs", ps.Runs,
					"avg_confidence", ps.AvgConfidence,
					"avg_processing_time", ps.AvgProcessingTime,
				)
			}
		}
	}
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if conf := optFloat(entry.Options, "confidence"); conf > 0 {
			opts = append(opts, sttopenai.WithConfidence(conf))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("vosk", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []vosk.Option
		if url := optString(entry.Options, "url_ru"); url != "" {
			opts = append(opts, vosk.WithLanguageURL("ru", url))
		}
		if url := optString(entry.Options, "url_kk"); url != "" {
			opts = append(opts, vosk.WithLanguageURL("kk", url))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, vosk.WithSampleRate(rate))
		}
		return vosk.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("mock", func(entry config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{ProviderName: entry.Name}, nil
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		if format := optString(entry.Options, "format"); format != "" {
			opts = append(opts, ttsopenai.WithFormat(format))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("mock", func(entry config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{ProviderName: entry.Name}, nil
	})
}

// buildProviders instantiates every provider named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*pipeline.ProviderSet, error) {
	provs := pipeline.NewProviderSet()

	for _, entry := range cfg.Providers.STT {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		provs.AddSTT(p)
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
	}
	for _, entry := range cfg.Providers.TTS {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		provs.AddTTS(p)
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
	}
	return provs, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// whole numbers as int.
func optInt(opts map[string]any, key string) int {
	if v, ok := opts[key].(int); ok {
		return v
	}
	return 0
}

// optFloat extracts a float value from a provider Options map, accepting the
// int YAML produces for unfractioned numbers.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
