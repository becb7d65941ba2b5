package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/swarmd/pkg/controlapi"
	"github.com/cuemby/swarmd/pkg/log"
	"github.com/cuemby/swarmd/pkg/loadbalancer"
	"github.com/cuemby/swarmd/pkg/metrics"
	"github.com/cuemby/swarmd/pkg/orchestrator"
	"github.com/cuemby/swarmd/pkg/persistence"
	"github.com/cuemby/swarmd/pkg/predictive"
	"github.com/cuemby/swarmd/pkg/topology"
	"github.com/cuemby/swarmd/pkg/types"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "swarmd",
	Short:   "swarmd - distributed agent-swarm orchestration runtime",
	Long:    `swarmd coordinates a swarm of worker agents: it assigns tasks, adapts the overlay topology, balances load, and recovers from failure.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"swarmd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the swarm coordinator",
	Long:  `Start the Coordinator: it listens for worker connections, serves the Control API, and runs the dispatch loop until terminated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		swarmID, _ := cmd.Flags().GetString("swarm-id")
		addr, _ := cmd.Flags().GetString("addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		topologyPattern, _ := cmd.Flags().GetString("topology")
		lbStrategy, _ := cmd.Flags().GetString("strategy")
		maxAgents, _ := cmd.Flags().GetInt("max-agents")

		if swarmID == "" {
			swarmID = "swarm-" + uuid.NewString()[:8]
		}

		logger := log.WithComponent("main")
		logger.Info().Str("swarm_id", swarmID).Str("addr", addr).Msg("starting swarmd")

		store, err := persistence.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		cfg := orchestrator.DefaultConfig()
		cfg.SwarmID = swarmID
		if maxAgents > 0 {
			cfg.MaxAgents = maxAgents
		}

		coord := orchestrator.New(
			cfg,
			types.TopologyPattern(topologyPattern),
			types.LBStrategy(lbStrategy),
			store,
			predictive.NewAgentScorer(),
			predictive.NewConnectionScorer(),
		)
		coord.Start()

		collector := metrics.NewCollector(coord)
		collector.Start()
		defer collector.Stop()

		server := controlapi.NewServer(addr, coord, coord.Hub())
		errCh := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
				errCh <- fmt.Errorf("control API server error: %w", err)
			}
		}()
		logger.Info().Str("addr", addr).Msg("control API listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("fatal server error")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)

		if err := coord.Shutdown(30 * time.Second); err != nil {
			return fmt.Errorf("coordinator shutdown: %w", err)
		}
		logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("swarm-id", "", "Swarm identifier (generated if empty)")
	serveCmd.Flags().String("addr", "0.0.0.0:8080", "Control API and worker protocol listen address")
	serveCmd.Flags().String("data-dir", "./swarmd-data", "Persistence data directory")
	serveCmd.Flags().String("topology", string(types.TopologyMesh), "Initial topology pattern (mesh, hierarchical, ring, star, hybrid, dynamic)")
	serveCmd.Flags().String("strategy", string(types.StrategyLeastLoaded), "Load balancer strategy")
	serveCmd.Flags().Int("max-agents", 0, "Override the default per-swarm agent cap (0 keeps the default)")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running coordinator's swarm metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		client := &statusClient{addr: addr}
		return client.printSwarm()
	},
}

func init() {
	statusCmd.Flags().String("addr", "http://127.0.0.1:8080", "Control API base address")
}
