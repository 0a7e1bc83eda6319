// Command data-refresh-worker is the detached subprocess
// pkg/refreshworker.Launcher execs for each node a tick decides to
// refresh. It shares no memory with the orchestrator process that
// launched it, so it reloads the data stack's node definitions from
// scratch before looking up the one node it was asked to run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/dataorchestrator/pkg/log"
	"github.com/cuemby/dataorchestrator/pkg/orchestrator"
	"github.com/cuemby/dataorchestrator/pkg/refreshworker"
	"github.com/cuemby/dataorchestrator/pkg/sources"
	"github.com/cuemby/dataorchestrator/pkg/tasks"
	"github.com/cuemby/dataorchestrator/pkg/warehouse"
)

func main() {
	workDir := flag.String("workdir", ".", "Data stack directory")
	logDir := flag.String("log-dir", "", "Directory for this task's pid/stdout/stderr files")
	nodeID := flag.String("node-id", "", "Node id to refresh")
	force := flag.Bool("force", false, "Bypass the STALE precondition")
	flag.Parse()

	log.Init(log.Config{Level: log.InfoLevel})

	if *nodeID == "" || *logDir == "" {
		fmt.Fprintln(os.Stderr, "--node-id and --log-dir are required")
		os.Exit(2)
	}

	ctx := context.Background()

	absWorkDir, err := filepath.Abs(*workDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve workdir: %v\n", err)
		os.Exit(1)
	}

	o, err := orchestrator.Open(ctx, orchestrator.Options{
		WorkDir:             absWorkDir,
		RefreshWorkerBinary: os.Args[0],
		Definitions:         sources.Demo(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "load data stack: %v\n", err)
		os.Exit(1)
	}
	defer o.Close()

	node, ok := o.Registry().Get(*nodeID)
	if !ok || node.Refresher == nil {
		fmt.Fprintf(os.Stderr, "node %s has no refresher\n", *nodeID)
		os.Exit(1)
	}

	wh, err := warehouse.Open(ctx, filepath.Join(absWorkDir, "warehouse.sqlite3"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open warehouse: %v\n", err)
		os.Exit(1)
	}
	defer wh.Close()

	worker := refreshworker.NewWorker(tasks.NewManager(o.Store()), *logDir)
	if err := worker.Run(ctx, node, wh, *force); err != nil {
		fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
		os.Exit(1)
	}
}
