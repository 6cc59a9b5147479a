package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/lite-obs/certs"
	"github.com/zsiec/lite-obs/encoder"
	"github.com/zsiec/lite-obs/orchestrator"
	"github.com/zsiec/lite-obs/output"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		slog.Error("failed to generate cert", "error", err)
		os.Exit(1)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	apiAddr := envOr("API_ADDR", ":4460")
	width := envOrInt("VIDEO_WIDTH", 1280)
	height := envOrInt("VIDEO_HEIGHT", 720)
	fpsNum := envOrInt("VIDEO_FPS_NUM", 30)
	fpsDen := envOrInt("VIDEO_FPS_DEN", 1)
	sampleRate := envOrInt("AUDIO_SAMPLE_RATE", 48000)
	channels := envOrInt("AUDIO_CHANNELS", 2)
	endpoint := os.Getenv("OUTPUT_ENDPOINT")
	videoKbps := envOrInt("VIDEO_KBPS", 4000)
	audioKbps := envOrInt("AUDIO_KBPS", 160)

	o := orchestrator.New(slog.Default())
	defer o.Close()

	if err := o.ResetVideo(width, height, fpsNum, fpsDen); err != nil {
		slog.Error("reset_video failed", "error", err)
		os.Exit(1)
	}
	if err := o.ResetAudio(sampleRate, channels); err != nil {
		slog.Error("reset_audio failed", "error", err)
		os.Exit(1)
	}

	if endpoint != "" {
		cfg := orchestrator.StartOutputConfig{
			Endpoint:     endpoint,
			VideoKbps:    videoKbps,
			AudioKbps:    audioKbps,
			VideoVariant: encoder.VariantH264Software,
			Reconnect:    output.ReconnectPolicy{RetryMax: 5, RetrySec: 2},
		}
		if err := o.StartOutput(cfg); err != nil {
			slog.Error("start_output failed", "error", err)
			os.Exit(1)
		}
		slog.Info("output started", "endpoint", endpoint)
	}

	slog.Info("liteobsd starting",
		"version", version,
		"api", apiAddr,
		"video", fmt.Sprintf("%dx%d@%d/%d", width, height, fpsNum, fpsDen),
		"audio", fmt.Sprintf("%dHz/%dch", sampleRate, channels),
		"cert_hash", cert.FingerprintBase64(),
	)

	apiSrv := &http.Server{
		Addr:    apiAddr,
		Handler: statusHandler(o),
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert.TLSCert},
		},
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTPS status API listening", "addr", apiAddr)
		if err := apiSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return apiSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		<-ctx.Done()
		if o.Snapshot().OutputRunning {
			if err := o.StopOutput(0); err != nil {
				slog.Warn("stop_output during shutdown", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// statusHandler serves orchestrator.Snapshot() as JSON, the host process's
// equivalent of the teacher's stream-listing API endpoint applied to a
// single local orchestrator instead of a multi-stream registry.
func statusHandler(o *orchestrator.Orchestrator) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(o.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return mux
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
