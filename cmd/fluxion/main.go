package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/fluxion/pkg/api"
	"github.com/cuemby/fluxion/pkg/coordinator"
	"github.com/cuemby/fluxion/pkg/log"
	"github.com/cuemby/fluxion/pkg/reconciler"
	"github.com/cuemby/fluxion/pkg/scheduler"
	"github.com/cuemby/fluxion/pkg/storage"
	"github.com/cuemby/fluxion/pkg/worker"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
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
	Use:   "fluxion",
	Short: "fluxion - microservice pipeline orchestration engine",
	Long: `fluxion drives blueprint-defined task graphs to completion across a
fleet of services that speak a small execute/status/output control
interface, coordinating outstanding work through a shared Store.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fluxion version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", envOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", envBool("LOG_JSON", false), "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// envOrDefault returns the named environment variable, or def if unset.
func envOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envSeconds(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return time.Duration(f * float64(time.Second))
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the submission API, worker pool, and lease-recovery loop",
	Long: `serve starts the three long-running processes that make up a
fluxion node: the submission API (POST /workflows, GET /workflows/{id}),
a pool of workers competing for claims on the ready queue, and the
lease-recovery loop that reclaims tasks abandoned by a crashed worker.

All of this is in-process and reads its configuration from flags or the
environment variables documented alongside them.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("store-url", envOrDefault("STORE_URL", "bolt://./fluxion-data"),
		"Store connection string: bolt://path/to/dir or redis://host:port/db")
	serveCmd.Flags().String("host", envOrDefault("HOST", "0.0.0.0"), "Submission API bind host")
	serveCmd.Flags().Int("port", envInt("PORT", 8080), "Submission API bind port")
	serveCmd.Flags().Duration("worker-poll-interval", envSeconds("WORKER_POLL_INTERVAL", time.Second),
		"Empty-queue backoff and remote status poll interval")
	serveCmd.Flags().Duration("worker-claim-lease", envSeconds("WORKER_CLAIM_LEASE", 30*time.Second),
		"Claim lease duration before recover_expired may reclaim a task")
	serveCmd.Flags().Int("worker-max-attempts", envInt("WORKER_MAX_ATTEMPTS", 3),
		"Attempts permitted before a retriable failure becomes terminal")
	serveCmd.Flags().Int("worker-count", envInt("WORKER_COUNT", 3),
		"Number of worker goroutines competing for claims")
	serveCmd.Flags().Duration("reconcile-interval", envSeconds("RECONCILE_INTERVAL", 10*time.Second),
		"Lease-recovery sweep interval")
}

func runServe(cmd *cobra.Command, args []string) error {
	storeURL, _ := cmd.Flags().GetString("store-url")
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	pollInterval, _ := cmd.Flags().GetDuration("worker-poll-interval")
	claimLease, _ := cmd.Flags().GetDuration("worker-claim-lease")
	maxAttempts, _ := cmd.Flags().GetInt("worker-max-attempts")
	workerCount, _ := cmd.Flags().GetInt("worker-count")
	reconcileInterval, _ := cmd.Flags().GetDuration("reconcile-interval")

	store, closeStore, err := openStore(storeURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	sched := scheduler.New(store)
	coord := coordinator.New(store, sched)

	workers := make([]*worker.Worker, 0, workerCount)
	for i := 0; i < workerCount; i++ {
		w := worker.New(worker.Config{
			ID:           fmt.Sprintf("worker-%d", i),
			PollInterval: pollInterval,
			ClaimLease:   claimLease,
			MaxAttempts:  maxAttempts,
		}, store, sched)
		w.Start()
		workers = append(workers, w)
	}

	recon := reconciler.New(store, reconcileInterval)
	recon.Start()

	apiServer := api.NewServer(coord, store)
	addr := fmt.Sprintf("%s:%d", host, port)
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(addr); err != nil {
			errCh <- err
		}
	}()

	fmt.Printf("fluxion serving on %s (store=%s, workers=%d)\n", addr, storeURL, workerCount)
	fmt.Println("Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nsubmission API error: %v\n", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "api shutdown: %v\n", err)
	}
	for _, w := range workers {
		w.Stop()
	}
	recon.Stop()

	fmt.Println("shutdown complete")
	return nil
}

// openStore dials the Store named by a bolt:// or redis:// connection
// string. The returned closer releases any resources the Store holds.
func openStore(storeURL string) (storage.Store, func(), error) {
	scheme, rest, err := splitStoreURL(storeURL)
	if err != nil {
		return nil, nil, err
	}

	switch scheme {
	case "bolt":
		store, err := storage.NewBoltStore(rest)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt store at %s: %w", rest, err)
		}
		return store, func() { store.Close() }, nil
	case "redis":
		opts, err := redisOptionsFromURL(storeURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis store url: %w", err)
		}
		store := storage.NewRedisStore(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.EnsureConnection(ctx); err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store scheme %q (want bolt or redis)", scheme)
	}
}
