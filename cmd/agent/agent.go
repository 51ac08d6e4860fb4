// Package agent implements the eumbeacon agent CLI entry point.
package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"eumbeacon/internal/agent"
	"eumbeacon/pkg/config"
	"eumbeacon/pkg/logger"
)

// Run starts the host beacon sender.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.CheckSecret(); err != nil {
		return err
	}

	interval, err := cfg.Agent.ParseInterval()
	if err != nil {
		return fmt.Errorf("parsing interval: %w", err)
	}

	agentID := cfg.Agent.ID
	if agentID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			agentID = host
		} else {
			agentID = uuid.NewString()
		}
	}

	sender, err := agent.NewSender(agent.Options{
		AgentID:        agentID,
		Secret:         cfg.SharedSecret,
		Port:           cfg.Agent.Port,
		NetworkRange:   cfg.Agent.NetworkRange,
		MulticastGroup: cfg.Agent.MulticastGroup,
		Interface:      cfg.Agent.Interface,
		Collector:      cfg.Agent.Collector,
	}, agent.SysinfoCollector(cfg.Agent.NetworkRange), log)
	if err != nil {
		return fmt.Errorf("creating sender: %w", err)
	}
	defer sender.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("agent", agentID).
		Str("network_range", cfg.Agent.NetworkRange).
		Str("multicast_group", cfg.Agent.MulticastGroup).
		Str("collector", cfg.Agent.Collector).
		Int("port", cfg.Agent.Port).
		Msg("Starting eumbeacon agent")

	err = sender.Run(ctx, interval)
	log.Info().Msg("Shutting down")
	return err
}
