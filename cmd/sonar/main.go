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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/sonar/internal/api"
	"github.com/zsiec/sonar/internal/certs"
	"github.com/zsiec/sonar/internal/client"
	"github.com/zsiec/sonar/internal/config"
	"github.com/zsiec/sonar/internal/metrics"
	"github.com/zsiec/sonar/internal/mixer"
	"github.com/zsiec/sonar/internal/transport"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("SONAR_CONFIG"), "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		slog.Error("invalid log level", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	cert, err := certs.Generate(certs.DefaultValidity)
	if err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)

	sessions := mixer.NewSessionManager(client.Config{
		Format: cfg.Audio.Format(),
		Policy: cfg.Jitter.Policy(),
	}, met, nil)

	serverID := uuid.New()
	mix, err := mixer.NewServer(mixer.ServerConfig{
		ID:            serverID,
		Format:        cfg.Audio.Format(),
		Workers:       cfg.Mixer.Workers,
		StatsInterval: cfg.Mixer.StatsInterval,
		MaxPacketSize: cfg.Mixer.MaxPacketSize,
		SourceZone:    cfg.Mixer.SourceZone,
		ListenerZone:  cfg.Mixer.ListenerZone,
	}, sessions, met, nil)
	if err != nil {
		return err
	}

	slog.Info("sonar starting",
		"version", version,
		"id", serverID,
		"quic", cfg.Server.QUICAddr,
		"srt", cfg.Server.SRTAddr,
		"api", cfg.Server.APIAddr,
		"frame", cfg.Audio.Format().FrameDuration(),
		"dynamic_jitter", cfg.Jitter.Dynamic,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mix.Run(ctx)
	})

	if cfg.Server.QUICAddr != "" {
		quicSrv := transport.NewQUICServer(cfg.Server.QUICAddr, cert.TLSConfig(transport.ALPN), sessions, nil)
		g.Go(func() error {
			return quicSrv.Start(ctx)
		})
	}

	if cfg.Server.SRTAddr != "" {
		srtSrv := transport.NewSRTServer(cfg.Server.SRTAddr, sessions, nil)
		g.Go(func() error {
			return srtSrv.Start(ctx)
		})
	}

	if cfg.Server.APIAddr != "" {
		apiSrv := &http.Server{
			Addr: cfg.Server.APIAddr,
			Handler: api.NewServer(api.Config{
				Sessions: sessions,
				Gatherer: reg,
				Cert:     cert,
				QUICAddr: cfg.Server.QUICAddr,
			}, nil).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			slog.Info("API server listening", "addr", cfg.Server.APIAddr)
			if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("API server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return apiSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	slog.Info("sonar stopped")
	return err
}
