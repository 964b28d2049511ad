// Command streamscribe streams an audio file to a transcription service and
// prints the transcript as it arrives.
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

	"github.com/MrWong99/streamscribe/internal/app"
	"github.com/MrWong99/streamscribe/internal/config"
	"github.com/MrWong99/streamscribe/internal/health"
	"github.com/MrWong99/streamscribe/internal/observe"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	syncMode := flag.Bool("sync", false, "print only the final transcript after the session ends")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <audio-file>\n", os.Args[0])
		flag.PrintDefaults()
		return 2
	}
	audioPath := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "streamscribe: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "streamscribe: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("streamscribe starting",
		"config", *configPath,
		"endpoint", cfg.Service.Endpoint,
		"audio", audioPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry providers. The Prometheus bridge keeps /metrics scrapeable.
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

	application, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	g, ctx := errgroup.WithContext(ctx)

	// Optional metrics and health listener.
	var srv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		health.New(health.Endpoint("service", cfg.Service.Endpoint)).Register(mux)

		srv = &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: observe.Middleware(observe.DefaultMetrics())(mux),
		}
		g.Go(func() error {
			slog.Info("metrics listener started", "addr", cfg.Server.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}
		}()
		return stream(ctx, application, audioPath, *syncMode)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("transcription failed", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// stream runs one transcription session and writes results to stdout.
func stream(ctx context.Context, application *app.App, audioPath string, syncMode bool) error {
	if syncMode {
		transcript, err := application.TranscribeFile(ctx, audioPath)
		if err != nil {
			return err
		}
		fmt.Println(transcript)
		return nil
	}

	future, err := application.StreamFile(ctx, audioPath, app.NewPrintHandler(os.Stdout))
	if err != nil {
		return err
	}
	return future.Wait(ctx)
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
