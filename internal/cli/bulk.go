package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stevedore/internal/orchestrator"
	"stevedore/internal/taskqueue"
	"stevedore/internal/ui"
	"stevedore/pkg/manager"
)

var refreshShowOutdated bool

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect which managers are installed",
	Long: `Run detection for every registered manager, one authority
phase at a time, and cache the results.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBulk(cmd.Context(), "Detecting managers", (*orchestrator.Runtime).DetectAllOrdered, false)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh metadata and package lists for every manager",
	Long: `Detect every registered manager and, for the installed ones,
refresh metadata and list installed and outdated packages. Tool
runtimes go first, then language and app managers, then system
managers, so later phases see the earlier phases' final state.

Examples:
  stevedore refresh              # Refresh everything
  stevedore refresh --outdated   # Also print what can be upgraded`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBulk(cmd.Context(), "Refreshing managers", (*orchestrator.Runtime).RefreshAllOrdered, refreshShowOutdated)
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshShowOutdated, "outdated", false, "print outdated packages afterwards")
}

const progressInterval = 200 * time.Millisecond

type bulkOp func(*orchestrator.Runtime, context.Context) orchestrator.BulkResult

func runBulk(ctx context.Context, label string, op bulkOp, showOutdated bool) error {
	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	var res orchestrator.BulkResult
	status := func() string { return progressLabel(label, a.orch.Snapshots()) }
	_ = ui.WithProgress(label, progressInterval, status, func() error {
		res = op(a.orch, ctx)
		return nil
	})

	ui.HeaderMsg("Managers")
	ui.PrintBulkResult(os.Stdout, res)

	if showOutdated {
		var outdated []manager.OutdatedPackage
		for _, m := range res.Results {
			outdated = append(outdated, m.Outdated...)
		}
		ui.HeaderMsg("Outdated packages")
		ui.PrintOutdated(os.Stdout, outdated)
	}

	if ctx.Err() != nil {
		return ErrInterrupted
	}
	if failed := res.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d managers failed", len(failed), len(res.Results))
	}
	return nil
}

// progressLabel appends the managers with a running task to label.
func progressLabel(label string, snaps []taskqueue.Snapshot) string {
	var running []string
	for _, snap := range snaps {
		if snap.Status == taskqueue.StatusRunning {
			running = append(running, string(snap.Manager))
		}
	}
	if len(running) == 0 {
		return label
	}
	sort.Strings(running)
	return fmt.Sprintf("%s (%s)", label, strings.Join(running, ", "))
}
