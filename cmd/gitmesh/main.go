// gitmesh is the replica placement and storage engine for content-addressed
// repository hosting.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gitmesh/gitmesh/internal/catalog"
	"github.com/gitmesh/gitmesh/internal/config"
	"github.com/gitmesh/gitmesh/internal/objectstore"
	"github.com/gitmesh/gitmesh/internal/replication"
	"github.com/gitmesh/gitmesh/pkg/bytesize"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	cfgFile  string
	logLevel string

	// node register flags
	nodeID       string
	nodeAddress  string
	nodePort     int
	nodeCapacity string
	nodeAnchor   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gitmesh",
		Short: "Replica placement and storage engine for hosted repositories",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the health monitor and metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	rootCmd.AddCommand(serveCmd)

	checkCmd := &cobra.Command{
		Use:   "check <repo-hash>",
		Short: "Classify the replication health of a single repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(args[0])
		},
	}
	rootCmd.AddCommand(checkCmd)

	nodeCmd := &cobra.Command{
		Use:   "node",
		Short: "Manage storage nodes",
	}
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Register a storage node in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNodeRegister()
		},
	}
	registerCmd.Flags().StringVar(&nodeID, "id", "", "node id (minted if empty)")
	registerCmd.Flags().StringVar(&nodeAddress, "address", "", "reachable address")
	registerCmd.Flags().IntVar(&nodePort, "port", 7400, "reachable port")
	registerCmd.Flags().StringVar(&nodeCapacity, "capacity", "1TB", "storage capacity, e.g. 500GB")
	registerCmd.Flags().BoolVar(&nodeAnchor, "anchor", false, "mark as always-on anchor node")
	_ = registerCmd.MarkFlagRequired("address")
	nodeCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(nodeCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gitmesh %s (%s)\n", Version, Commit)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func openCatalog() (*config.Config, *catalog.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	cat, err := catalog.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cat, nil
}

func runServe() error {
	cfg, cat, err := openCatalog()
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	if _, err := objectstore.New(cfg.DataDir); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutting down...")
		cancel()
	}()

	rcfg := cfg.Replication
	placer := replication.NewService(cat, rcfg.HeartbeatTimeout, log.Logger)
	metrics := replication.InitMetrics(prometheus.DefaultRegisterer)
	monitor := replication.NewMonitor(cat, placer, replication.MonitorConfig{
		MinReplicaCount:  rcfg.MinReplicaCount,
		HeartbeatTimeout: rcfg.HeartbeatTimeout,
		Interval:         rcfg.HealthCheckInterval,
		StaleNodeWindow:  rcfg.StaleNodeWindow,
		HealBatchSize:    rcfg.HealBatchSize,
		HealStepTimeout:  rcfg.HealStepTimeout,
	}, log.Logger, metrics)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health/", func(w http.ResponseWriter, r *http.Request) {
		repoHash := r.URL.Path[len("/health/"):]
		health, err := monitor.CheckRepoHealth(r.Context(), repoHash)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(health)
	})

	srv := &http.Server{Addr: cfg.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("listen", cfg.Listen).Msg("metrics endpoint started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()

	monitor.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func runCheck(repoHash string) error {
	cfg, cat, err := openCatalog()
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	rcfg := cfg.Replication
	placer := replication.NewService(cat, rcfg.HeartbeatTimeout, log.Logger)
	monitor := replication.NewMonitor(cat, placer, replication.MonitorConfig{
		MinReplicaCount:  rcfg.MinReplicaCount,
		HeartbeatTimeout: rcfg.HeartbeatTimeout,
	}, log.Logger, nil)

	health, err := monitor.CheckRepoHealth(context.Background(), repoHash)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s (%d/%d replicas)\n", health.RepoHash, health.Status, health.ReplicaCount, health.MinReplicas)
	return nil
}

func runNodeRegister() error {
	_, cat, err := openCatalog()
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	capacity, err := bytesize.Parse(nodeCapacity)
	if err != nil {
		return fmt.Errorf("invalid capacity: %w", err)
	}

	id := nodeID
	if id == "" {
		id = catalog.NewNodeID()
	}

	node, err := cat.RegisterNode(context.Background(), id, nodeAddress, nodePort, capacity, nodeAnchor)
	if err != nil {
		return err
	}

	log.Info().
		Str("node", node.ID).
		Str("address", fmt.Sprintf("%s:%d", node.Address, node.Port)).
		Str("capacity", bytesize.Format(node.StorageCapacity)).
		Bool("anchor", node.IsAnchor).
		Msg("node registered")
	return nil
}
