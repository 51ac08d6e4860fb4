// Package server implements the eumbeacon collector CLI entry point.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"eumbeacon/internal/collector"
	"eumbeacon/internal/ingest"
	"eumbeacon/internal/listener"
	"eumbeacon/internal/metrics"
	"eumbeacon/internal/queue"
	"eumbeacon/internal/rpc"
	"eumbeacon/internal/store"
	"eumbeacon/pkg/config"
	"eumbeacon/pkg/logger"
)

// Run starts the collector (UDP listener + HTTP endpoint + RPC + expiry).
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.CheckSecret(); err != nil {
		return err
	}

	sessionTimeout, err := cfg.Server.ParseSessionTimeout()
	if err != nil {
		return fmt.Errorf("parsing session timeout: %w", err)
	}
	maxSkew, err := cfg.Server.ParseMaxClockSkew()
	if err != nil {
		return fmt.Errorf("parsing max clock skew: %w", err)
	}

	for _, dir := range []string{filepath.Dir(cfg.Server.DBPath), filepath.Dir(cfg.Server.RPCSocket)} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	db, err := store.New(cfg.Server.DBPath, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	db.RunExpiry(ctx, 5*time.Second, sessionTimeout, func(active int) {
		m.SessionsActive.Set(float64(active))
	})

	var pub ingest.Publisher
	if cfg.Redis.URL != "" {
		p, err := queue.Dial(ctx, cfg.Redis.URL, cfg.Redis.Queue)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer p.Close()
		pub = p
		log.Info().Str("queue", cfg.Redis.Queue).Msg("Publishing beacons to Redis")
	}

	pipeline := ingest.NewPipeline(db, pub, m, log)

	if err := rpc.StartServer(ctx, cfg.Server.RPCSocket, db, log); err != nil {
		return fmt.Errorf("starting RPC server: %w", err)
	}

	httpSrv := collector.New(cfg.Server.HTTPAddr, pipeline, m, reg, log)
	httpErr, err := httpSrv.Start()
	if err != nil {
		return fmt.Errorf("starting HTTP collector: %w", err)
	}

	udp := listener.New(listener.Options{
		Port:           cfg.Server.UDPPort,
		MulticastGroup: cfg.Server.MulticastGroup,
		Secret:         cfg.SharedSecret,
		SelfAgentID:    cfg.Agent.ID,
		MaxClockSkew:   maxSkew,
		RateLimit:      cfg.Server.RateLimit,
	}, pipeline, m, log)
	conn, err := udp.Listen()
	if err != nil {
		return fmt.Errorf("starting UDP listener: %w", err)
	}

	log.Info().
		Str("db_path", cfg.Server.DBPath).
		Str("rpc_socket", cfg.Server.RPCSocket).
		Str("http_addr", cfg.Server.HTTPAddr).
		Int("udp_port", cfg.Server.UDPPort).
		Dur("session_timeout", sessionTimeout).
		Msg("Starting eumbeacon collector")

	udpErr := make(chan error, 1)
	go func() {
		udpErr <- udp.Serve(ctx, conn)
	}()

	var (
		runErr      error
		udpFinished bool
	)
	select {
	case err := <-httpErr:
		runErr = fmt.Errorf("HTTP collector error: %w", err)
	case err := <-udpErr:
		udpFinished = true
		if err != nil {
			runErr = fmt.Errorf("listener error: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	// Serve returns only after in-flight packets are handled; the store
	// closes after this.
	if !udpFinished {
		if err := <-udpErr; err != nil {
			log.Warn().Err(err).Msg("Listener stopped with error")
		}
	}
	return runErr
}
