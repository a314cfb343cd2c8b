package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/steward/internal/api"
	"github.com/mattjoyce/steward/internal/auth"
	"github.com/mattjoyce/steward/internal/config"
	"github.com/mattjoyce/steward/internal/election"
	"github.com/mattjoyce/steward/internal/events"
	"github.com/mattjoyce/steward/internal/fencing"
	"github.com/mattjoyce/steward/internal/gateway"
	"github.com/mattjoyce/steward/internal/jobgraph"
	"github.com/mattjoyce/steward/internal/leader"
	"github.com/mattjoyce/steward/internal/lock"
	"github.com/mattjoyce/steward/internal/log"
	"github.com/mattjoyce/steward/internal/metrics"
	"github.com/mattjoyce/steward/internal/storage"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
)

const defaultConfigPath = "./config.yaml"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `steward - leader-elected job dispatcher

Usage:
  steward <noun> <action> [flags]

System Commands:
  system start      Start the dispatcher leader process in foreground
  system status     Ask a running instance whether it leads

Config Commands:
  config check      Validate syntax, policy and integrity
  config lock       Record the config file's BLAKE3 hash in .checksums

General:
  version           Show version information
  help              Show this help message
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: steward system <start|status> [flags]")
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Fprintln(os.Stdout, "Usage: steward system <start|status> [flags]")
		return 0
	}

	switch args[0] {
	case "start":
		return runStart(args[1:])
	case "status":
		return runSystemStatus(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", args[0])
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: steward config <check|lock> [--config PATH]")
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Fprintln(os.Stdout, "Usage: steward config <check|lock> [--config PATH]")
		return 0
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "lock":
		return runConfigLock(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

// --- ACTIONS ---

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" && len(s.Value) >= 12 {
					commit = s.Value[:12]
				}
			}
		}
	}

	if *jsonOut {
		data, _ := json.Marshal(map[string]string{"version": version, "commit": commit})
		fmt.Println(string(data))
		return 0
	}
	fmt.Printf("steward %s\ncommit: %s\n", version, commit)
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}
	fmt.Printf("Configuration OK: %s\n", cfg.SourcePath)
	fmt.Printf("  node:      %s\n", cfg.Service.NodeID)
	fmt.Printf("  election:  %s\n", cfg.Election.Mode)
	fmt.Printf("  jobgraph:  %s\n", cfg.JobGraph.Backend)
	fmt.Printf("  api:       %t\n", cfg.API.Enabled)
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path := *configPath
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "config.yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		return 1
	}
	// The hash is not checked here: replacing a stale manifest is the point.
	if _, err := config.Parse(data); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}
	checksumPath, err := config.Lock(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote %s\n", checksumPath)
	return 0
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("system status", flag.ContinueOnError)
	url := fs.String("url", "http://127.0.0.1:8080", "Base URL of a running instance")
	apiKey := fs.String("api-key", os.Getenv("STEWARD_API_KEY"), "Bearer token with leader:ro scope")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(*url, "/")+"/leader", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad URL: %v\n", err)
		return 1
	}
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Instance unreachable: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Unexpected status: %s\n", resp.Status)
		return 1
	}

	var status api.LeaderResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Fprintf(os.Stderr, "Bad response: %v\n", err)
		return 1
	}
	if status.Leader {
		fmt.Printf("%s: leader (fencing token %s)\n", status.NodeID, status.FencingToken)
	} else {
		fmt.Printf("%s: standby\n", status.NodeID)
	}
	return 0
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file or directory")
	if hasHelpFlag(args) {
		fs.SetOutput(os.Stdout)
		fs.Usage()
		return 0
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("steward starting", "version", version, "config", cfg.SourcePath, "node_id", cfg.Service.NodeID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("steward stopped with error", "error", err)
		return 1
	}
	logger.Info("steward stopped")
	return 0
}

// serve wires the components and runs them until ctx is done, a component
// fails, or the leader process reports a fatal error.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pidLockPath := filepath.Join(filepath.Dir(cfg.State.Path), cfg.Service.Name+".pid")
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		return fmt.Errorf("acquire PID lock %s (another instance may be running): %w", pidLockPath, err)
	}
	defer pidLock.Release()

	var sqlDB *sql.DB
	if cfg.JobGraph.Backend == config.BackendSQLite || cfg.Election.Mode == config.ElectionLease {
		sqlDB, err = storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			return fmt.Errorf("open database %s: %w", cfg.State.Path, err)
		}
		defer sqlDB.Close()
		logger.Info("database opened", "path", cfg.State.Path)
	}

	var store jobgraph.Store
	if cfg.JobGraph.Backend == config.BackendSQLite {
		store = jobgraph.NewSQLStore(sqlDB, cfg.Service.Name, cfg.JobGraph.LockPath)
	} else {
		store = jobgraph.NewMemoryStore()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	leaderMetrics := metrics.NewLeader(reg)
	hub := events.NewHub(256)

	factory := &gateway.DispatcherFactory{
		Hub:          hub,
		Logger:       log.WithComponent("dispatcher"),
		OnActiveJobs: leaderMetrics.ActiveJobs,
	}
	proc, err := leader.New(leader.Options{
		Store:   store,
		Factory: factory,
		Minter:  fencing.NewMinter(),
		Hub:     hub,
		Metrics: leaderMetrics,
		Logger:  log.WithComponent("leader"),
	})
	if err != nil {
		return err
	}

	var runner election.Runner
	switch cfg.Election.Mode {
	case config.ElectionLease:
		runner, err = election.NewLease(sqlDB, election.LeaseConfig{
			Name:            cfg.Election.LeaseName,
			HolderID:        cfg.Service.NodeID,
			Duration:        cfg.Election.LeaseDuration,
			RenewInterval:   cfg.Election.RenewInterval,
			AcquireInterval: cfg.Election.AcquireInterval,
		}, proc, log.WithComponent("election"))
		if err != nil {
			return err
		}
	default:
		runner = election.NewStandalone(proc, log.WithComponent("election"))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error {
		select {
		case err := <-proc.Fatal():
			return fmt.Errorf("leader process: %w", err)
		case <-gctx.Done():
			return nil
		}
	})

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			NodeID: cfg.Service.NodeID,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}, proc, hub, reg, log.WithComponent("api"))
		g.Go(func() error {
			if err := apiServer.Start(gctx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("steward running", "election", cfg.Election.Mode, "jobgraph", cfg.JobGraph.Backend)
	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := proc.Close(closeCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close leader process: %w", err))
	}
	return runErr
}
