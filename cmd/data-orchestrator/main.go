package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/dataorchestrator/pkg/log"
	"github.com/cuemby/dataorchestrator/pkg/orcherr"
	"github.com/cuemby/dataorchestrator/pkg/orchestrator"
	"github.com/cuemby/dataorchestrator/pkg/sources"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, formatCLIError(err))
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:     "data-orchestrator",
	Short:   "Data Orchestrator - refreshes a DAG of data nodes on a schedule",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"data-orchestrator version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("workdir", ".", "Data stack directory (holds orchestrator.sqlite3, sources/, models/, logs/)")
	rootCmd.PersistentFlags().String("refresh-worker-bin", "data-refresh-worker", "Path to the cmd/data-refresh-worker executable")
	rootCmd.PersistentFlags().Int("max-concurrent-refreshes", 0, "Cap on Refresh Workers launched per tick (0 = unbounded)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(nodesCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// openOrchestrator loads the data stack rooted at --workdir. The
// reference implementation's node set comes from sources.Demo; a real
// deployment forks this entrypoint to register its own Definitions in
// its place, the same way a Go service wires its own handlers into a
// shared HTTP server framework rather than discovering them at runtime.
func openOrchestrator(cmd *cobra.Command) (*orchestrator.Orchestrator, error) {
	workDir, _ := cmd.Flags().GetString("workdir")
	refreshWorkerBin, _ := cmd.Flags().GetString("refresh-worker-bin")
	maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent-refreshes")

	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve workdir: %w", err)
	}

	return orchestrator.Open(context.Background(), orchestrator.Options{
		WorkDir:                absWorkDir,
		RefreshWorkerBinary:    refreshWorkerBin,
		MaxConcurrentRefreshes: maxConcurrent,
		Definitions:            sources.Demo(),
	})
}

var tickCmd = &cobra.Command{
	Use:   "data-orchestrator-tick",
	Short: "Run one scheduling pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		loop, _ := cmd.Flags().GetBool("loop")
		interval, _ := cmd.Flags().GetDuration("interval")

		o, err := openOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer o.Close()

		ctx := context.Background()
		for {
			report, err := o.Tick(ctx)
			if err != nil {
				return err
			}
			printJSON(report)
			if !loop {
				return nil
			}
			time.Sleep(interval)
		}
	},
}

func init() {
	tickCmd.Flags().Bool("loop", false, "Keep ticking on --interval instead of running once")
	tickCmd.Flags().Duration("interval", 30*time.Second, "Tick interval when --loop is set")
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage individual data nodes",
}

var nodeUpdateCmd = &cobra.Command{
	Use:   "update NID",
	Short: "Mark a node (and everything downstream) STALE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, _ := cmd.Flags().GetString("state")
		if state != "STALE" {
			return fmt.Errorf("--state only supports STALE")
		}

		o, err := openOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer o.Close()

		if err := o.SetNodeStale(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("%s marked STALE\n", args[0])
		return nil
	},
}

func init() {
	nodeUpdateCmd.Flags().String("state", "STALE", "Target state (only STALE is supported)")
}

var nodeDeleteCmd = &cobra.Command{
	Use:   "delete NID",
	Short: "Remove a node's persisted state and task history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := openOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer o.Close()

		if err := o.DeleteNode(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("%s deleted\n", args[0])
		return nil
	},
}

var nodeRefreshCmd = &cobra.Command{
	Use:   "refresh NID",
	Short: "Force an immediate refresh, bypassing the STALE precondition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		o, err := openOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer o.Close()

		if err := o.RefreshNode(ctx, args[0], true); err != nil {
			return err
		}

		task, err := o.LastTaskForNode(ctx, args[0])
		if err != nil {
			return err
		}
		printJSON(task)
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeUpdateCmd)
	nodeCmd.AddCommand(nodeDeleteCmd)
	nodeCmd.AddCommand(nodeRefreshCmd)
}

var nodesCmd = &cobra.Command{
	Use:   "data-nodes",
	Short: "Emit the full info() snapshot of every known node",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := openOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer o.Close()

		info, err := o.Info(context.Background())
		if err != nil {
			return err
		}
		printJSON(info)
		return nil
	},
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// formatCLIError renders err as the {code, details, source} JSON payload
// spec.md §7 specifies, falling back to a plain message for errors that
// never reached pkg/orcherr (cobra's own Args validators, I/O failures).
func formatCLIError(err error) string {
	if oe, ok := orcherr.As(err); ok {
		data, marshalErr := json.Marshal(oe)
		if marshalErr == nil {
			return string(data)
		}
	}
	return fmt.Sprintf("Error: %v", err)
}

func exitCodeFor(err error) int {
	if _, ok := orcherr.As(err); ok {
		return 1
	}
	return 2
}
