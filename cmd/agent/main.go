package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"edgefleet.c2/internal/agent"
	"edgefleet.c2/internal/core/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	server   string
	cfg      agent.Config
	logLevel string
	logFmt   string
}

// newRootCmd builds the simulator command. Every flag defaults to its
// AGENT_* environment variable so the binary also runs flag-less in containers.
func newRootCmd() *cobra.Command {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-agent"
	}

	var opts options
	cmd := &cobra.Command{
		Use:          "agent",
		Short:        "Simulated edge agent for the C2 server",
		Long:         "agent heartbeats to a C2 server over gRPC, applies the operations it is handed and acknowledges each one.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", getEnv("AGENT_SERVER", "localhost:9000"), "C2 gRPC address")
	flags.StringVar(&opts.cfg.AgentID, "agent-id", getEnv("AGENT_ID", hostname), "agent identifier")
	flags.StringVar(&opts.cfg.DeviceID, "device-id", getEnv("AGENT_DEVICE_ID", hostname), "device identifier")
	flags.StringVar(&opts.cfg.AgentClass, "class", os.Getenv("AGENT_CLASS"), "agent class")
	flags.StringVar(&opts.cfg.ManifestID, "manifest", os.Getenv("AGENT_MANIFEST"), "agent manifest identifier")
	flags.StringVar(&opts.cfg.FlowID, "flow", os.Getenv("AGENT_FLOW"), "flow the agent starts with")
	flags.DurationVar(&opts.cfg.Interval, "interval", getEnvDuration("AGENT_INTERVAL", 10*time.Second), "heartbeat interval")
	flags.StringVar(&opts.logLevel, "log-level", getEnv("LOG_LEVEL", "info"), "debug, info, warn or error")
	flags.StringVar(&opts.logFmt, "log-format", getEnv("LOG_FORMAT", "text"), "text or json")

	return cmd
}

func run(ctx context.Context, opts options) error {
	logger.Init(logger.ParseLevel(opts.logLevel), opts.logFmt)
	logger.Info("Starting simulated agent", "server", opts.server, "agent_id", opts.cfg.AgentID, "class", opts.cfg.AgentClass)

	a, err := agent.New(opts.server, opts.cfg)
	if err != nil {
		logger.Error("Failed to initialize agent", "error", err)
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
