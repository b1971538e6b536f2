package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/raftcore/pkg/config"
	"github.com/cuemby/raftcore/pkg/log"
	"github.com/cuemby/raftcore/pkg/membership"
	"github.com/cuemby/raftcore/pkg/metrics"
	"github.com/cuemby/raftcore/pkg/raft"
	"github.com/cuemby/raftcore/pkg/statemachine"
	"github.com/cuemby/raftcore/pkg/transport/tcp"
	"github.com/cuemby/raftcore/pkg/wal"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start this node and join (or bootstrap) a cluster",
	Long: `start runs a single raftcore node: it opens the write-ahead log,
loads cluster membership, starts the Raft consensus engine and the TCP
transport, and serves /metrics and /health on the metrics address until
interrupted.`,
	RunE: runStart,
}

// startConfig is bound to startCmd's flags in init and populated by cobra
// before RunE runs.
var startConfig = defaultConfig()

func init() {
	startConfig.BindFlags(startCmd.Flags())
	startCmd.Flags().String("peers", "", "comma-separated id=address[:standby] list forming the initial configuration (bootstrap only)")
	startCmd.Flags().String("config", "", "YAML config file overlaying the flag defaults")
	startCmd.Flags().Bool("enable-pprof", false, "expose pprof endpoints on the metrics server")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg := startConfig

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path, cfg)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	log.Init(cfg.LogConfig())

	peersFlag, _ := cmd.Flags().GetString("peers")
	initialMembers, err := parsePeers(peersFlag)
	if err != nil {
		return fmt.Errorf("parse --peers: %w", err)
	}

	fmt.Println("Starting raftnode...")
	fmt.Printf("  Node ID:      %s\n", cfg.NodeID)
	fmt.Printf("  Bind Address: %s\n", cfg.BindAddr)
	fmt.Printf("  Data Dir:     %s\n", cfg.DataDir)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	memberStore := membership.NewFileStore(cfg.MembershipPath())
	if _, ok, err := memberStore.Load(); err != nil {
		return fmt.Errorf("load membership: %w", err)
	} else if !ok {
		if len(initialMembers) == 0 {
			return fmt.Errorf("no existing membership at %s and --peers was empty: nothing to bootstrap", cfg.MembershipPath())
		}
		if err := memberStore.Save(membership.NewConfiguration(initialMembers...)); err != nil {
			return fmt.Errorf("bootstrap membership: %w", err)
		}
		fmt.Printf("✓ Bootstrapped membership with %d member(s)\n", len(initialMembers))
	}

	members := membership.NewManager(memberStore, membership.NewInMemoryStore())
	if err := members.Load(); err != nil {
		return fmt.Errorf("load membership manager: %w", err)
	}
	fmt.Println("✓ Membership loaded")

	kv, err := statemachine.NewKVStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open state machine: %w", err)
	}
	defer kv.Close()

	store, err := wal.Open(cfg.WALOptions(), raft.NewStateMachine(kv, members))
	if err != nil {
		return fmt.Errorf("open write-ahead log: %w", err)
	}
	defer store.Close()
	fmt.Println("✓ Write-ahead log opened")

	client := tcp.NewClient()
	defer client.Close()

	node := raft.NewNode(cfg.RaftOptions(), store, members, client)

	srv, err := tcp.Listen(cfg.BindAddr, node)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.BindAddr, err)
	}
	defer srv.Close()
	go func() {
		if err := srv.Serve(); err != nil {
			log.WithComponent("raftnode").Error().Err(err).Msg("transport server stopped")
		}
	}()
	fmt.Printf("✓ Transport listening on %s\n", srv.Addr())

	metrics.SetVersion(Version)
	metrics.RegisterComponent("wal", true, "open")
	metrics.RegisterComponent("transport", true, "listening")

	node.Start()
	defer node.Stop()
	fmt.Println("✓ Raft node started")

	// The collector takes over "raft" component health from here: it
	// reports replication stalls on a leader and leader-contact staleness
	// on a follower instead of a static "started" message.
	collector := raft.NewMetricsCollector(node, 0)
	collector.Start()
	defer collector.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")
	if pprofEnabled {
		// The blank net/http/pprof import registers its handlers on
		// http.DefaultServeMux; only expose them when asked to.
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
	}
	httpSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithComponent("raftnode").Error().Err(err).Msg("metrics server stopped")
		}
	}()
	fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.MetricsAddr)
	fmt.Printf("✓ Health endpoint:  http://%s/health\n", cfg.MetricsAddr)
	if pprofEnabled {
		fmt.Printf("✓ Profiling endpoints enabled at http://%s/debug/pprof/\n", cfg.MetricsAddr)
	}
	fmt.Println()
	fmt.Println("raftnode is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	fmt.Println("✓ Shutdown complete")
	return nil
}

// parsePeers parses a comma-separated list of "id=address" or
// "id=address:standby" items into membership members.
func parsePeers(spec string) ([]membership.Member, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	var members []membership.Member
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		standby := false
		if strings.HasSuffix(item, ":standby") {
			standby = true
			item = strings.TrimSuffix(item, ":standby")
		}
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid peer entry %q, want id=address", item)
		}
		members = append(members, membership.Member{ID: parts[0], Address: parts[1], Standby: standby})
	}
	return members, nil
}
