// ============================================================================
// Batchkit CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: User-facing command line interface, built on cobra.
//
// Command Structure:
//   batchkit                      # Root command
//   ├── run                       # Start the orchestrator
//   │   └── --config, -c         # Specify runtime config file
//   ├── submit                    # Submit a batch request
//   │   └── --dir, -d            # Directory of input files
//   │   └── --language           # Endpoint language tag to route with
//   ├── cancel                    # Cancel a running batch
//   │   └── --batch-id           # Batch to cancel
//   ├── status                    # View runtime configuration
//   ├── --version
//   └── --help
//
// run Command:
//   1. Load runtime config
//   2. Start the Prometheus metrics server, if enabled
//   3. Construct the Orchestrator and start it (spawns the master loop, the
//      run-summary loop, the config watcher, and optionally the debug loop)
//   4. Wait for SIGINT/SIGTERM, then RequestStop and wait for the master
//      loop to drain
//
// submit Command:
//   Builds a directory-backed BatchRequest (internal/fsbatch) and submits it
//   to a running orchestrator process is out of scope for a single-binary
//   CLI without IPC; submit here runs an embedded orchestrator for the
//   duration of one batch, which is the common single-shot usage mode.
//
// ============================================================================

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/batchkit/internal/config"
	"github.com/ChuLiYu/batchkit/internal/fsbatch"
	"github.com/ChuLiYu/batchkit/internal/logging"
	"github.com/ChuLiYu/batchkit/internal/metrics"
	"github.com/ChuLiYu/batchkit/internal/orchestrator"
	"github.com/ChuLiYu/batchkit/internal/statusprovider"
	"github.com/ChuLiYu/batchkit/pkg/types"
)

var configFile string

// BuildCLI assembles the batchkit root command and its subcommands.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "batchkit",
		Short: "Batchkit: a pull-based batch work orchestrator",
		Long: `Batchkit dispatches batches of work items across a hot-reloadable
fleet of endpoint managers, with per-item retry accounting and periodic
run-summary reporting.`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/runtime.yaml", "runtime config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildSubmitCommand())
	rootCmd.AddCommand(buildCancelCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the batchkit orchestrator and wait for batches",
		Long:  "Start the orchestrator and block until SIGINT/SIGTERM. Batches reach it only through Orchestrator.Submit in the same process; the 'submit' command runs its own embedded orchestrator instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrchestrator()
		},
	}
	return cmd
}

func runOrchestrator() error {
	cfg, err := config.LoadRuntime(configFile)
	if err != nil {
		return fmt.Errorf("load runtime config: %w", err)
	}

	log := logging.NewTextSink(0)
	sp := statusprovider.NewMemoryStatusProvider(cfg.StatusRootDir)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	orch, token := orchestrator.New(orchestrator.Options{
		StatusProvider:  sp,
		ConfigFile:      cfg.ConfigFile,
		StrictConfig:    cfg.StrictConfig,
		LogFolder:       cfg.LogFolder,
		CacheSearchDirs: cfg.CacheSearchDirs,
		Log:             log,
		MaxRetries:      cfg.MaxRetries,
		RunSummaryEvery: cfg.RunSummaryInterval,
		DebugLoopEvery:  cfg.DebugLoopInterval,
		SingletonPath:   cfg.SingletonRunSummaryPath,
		Metrics:         collector,
	})

	if err := orch.Start(); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("received shutdown signal, stopping orchestrator")
	orch.RequestStop(token)
	orch.Join()
	log.Info("orchestrator stopped")
	return nil
}

func buildSubmitCommand() *cobra.Command {
	var dir string
	var language string
	var combine bool
	var maxRetries int

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a directory of input files as a batch and run it to completion",
		Long: `Submit starts an embedded orchestrator, enqueues one batch built from
every file in --dir, waits for it to finish, and prints the final run
summary. Intended for smoke-testing an endpoint fleet config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				return fmt.Errorf("input directory is required (use --dir or -d)")
			}
			return submitBatch(dir, language, combine, maxRetries)
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory of input files to submit as one batch")
	cmd.Flags().StringVar(&language, "language", "", "language routing tag applied to every work item")
	cmd.Flags().BoolVar(&combine, "combine", false, "combine per-item results into a single output file")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "override the configured max retry count (0 keeps the config default)")
	cmd.MarkFlagRequired("dir")

	return cmd
}

func submitBatch(dir, language string, combine bool, maxRetriesOverride int) error {
	cfg, err := config.LoadRuntime(configFile)
	if err != nil {
		return fmt.Errorf("load runtime config: %w", err)
	}
	if maxRetriesOverride > 0 {
		cfg.MaxRetries = maxRetriesOverride
	}

	log := logging.NewTextSink(0)
	sp := statusprovider.NewMemoryStatusProvider(cfg.StatusRootDir)

	orch, token := orchestrator.New(orchestrator.Options{
		StatusProvider:  sp,
		ConfigFile:      cfg.ConfigFile,
		StrictConfig:    cfg.StrictConfig,
		Log:             log,
		MaxRetries:      cfg.MaxRetries,
		RunSummaryEvery: cfg.RunSummaryInterval,
	})
	if err := orch.Start(); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	batchID := time.Now().UnixNano()
	basePath := sp.BatchBasePath(batchID)
	if err := sp.RegisterBatch(batchID, basePath); err != nil {
		return fmt.Errorf("register batch: %w", err)
	}

	req := fsbatch.New(batchID, dir, nil, language, combine,
		func() types.WorkItemProcessor { return fsbatch.PassthroughProcessor{} }, nil)
	orch.Submit(req)

	for {
		status, ok := sp.Status(batchID)
		if ok && (status == types.BatchDone || status == types.BatchDeleted) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	orch.RequestStop(token)
	orch.Join()

	summary, _ := sp.RunSummary(batchID)
	fmt.Printf("batch %d finished: %+v\n", batchID, summary)
	return nil
}

func buildCancelCommand() *cobra.Command {
	var batchID int64

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Mark a batch deleted so the orchestrator stops processing it",
		Long: `Cancel calls DeleteBatch on a status store built from the runtime
config. The store is a fresh in-memory MemoryStatusProvider with no record
of batches from any other process, so this command reports the batch as
not found; marking a batch deleted for a running orchestrator requires
calling DeleteBatch on that orchestrator's own StatusProvider.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchID == 0 {
				return fmt.Errorf("--batch-id is required")
			}
			cfg, err := config.LoadRuntime(configFile)
			if err != nil {
				return fmt.Errorf("load runtime config: %w", err)
			}
			sp := statusprovider.NewMemoryStatusProvider(cfg.StatusRootDir)
			sp.Lock()
			err = sp.DeleteBatch(batchID)
			sp.Unlock()
			if err != nil {
				return fmt.Errorf("cancel batch %d: %w", batchID, err)
			}
			fmt.Printf("batch %d marked deleted\n", batchID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&batchID, "batch-id", 0, "ID of the batch to cancel")
	cmd.MarkFlagRequired("batch-id")
	return cmd
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the batchkit runtime configuration",
		Long:  "Display the runtime config currently in effect.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
	return cmd
}

func showStatus() error {
	cfg, err := config.LoadRuntime(configFile)
	if err != nil {
		return fmt.Errorf("load runtime config: %w", err)
	}

	fmt.Println("\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║               Batchkit Orchestrator Status                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Println("📋 Configuration:")
	fmt.Printf("  └─ Config File:        %s\n", configFile)
	fmt.Printf("  └─ Endpoint Fleet:     %s\n", cfg.ConfigFile)
	fmt.Printf("  └─ Max Retries:        %d\n", cfg.MaxRetries)
	fmt.Printf("  └─ Run Summary Every:  %s\n", cfg.RunSummaryInterval)
	fmt.Printf("  └─ Status Root:        %s\n", cfg.StatusRootDir)
	fmt.Println()

	fmt.Println("📡 Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Printf("  └─ Status: ✅ Enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Println("  └─ Status: ⚠️  Disabled")
	}
	fmt.Println()

	fmt.Println("═══════════════════════════════════════════════════════════")
	return nil
}
