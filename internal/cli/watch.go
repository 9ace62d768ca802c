package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"stevedore/internal/orchestrator"
	"stevedore/internal/tui"
)

var watchDetect bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run a bulk refresh inside the live task monitor",
	Long: `Start a bulk refresh (or --detect) and follow its tasks in a
full-screen monitor. Select a task and press c to cancel it
gracefully or x to abort it.

Keyboard shortcuts:
  ↑/↓ or j/k    Navigate
  tab           Switch between active and all tasks
  c / x         Cancel / abort the selected task
  ?             Help
  q             Quit`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchDetect, "detect", false, "run detection only")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Log lines on stderr would tear the full-screen view.
	if !cfg.Output.Verbose {
		logger = slog.New(slog.DiscardHandler)
	}
	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	label, op := "refreshing", (*orchestrator.Runtime).RefreshAllOrdered
	if watchDetect {
		label, op = "detecting", (*orchestrator.Runtime).DetectAllOrdered
	}

	job := func(ctx context.Context) (string, error) {
		res := op(a.orch, ctx)
		return bulkSummary(res), nil
	}
	return tui.Run(ctx, a.orch, a.cfg.General.GracePeriod.Duration, label, job)
}

// bulkSummary is the one-line outcome shown in the monitor header.
func bulkSummary(res orchestrator.BulkResult) string {
	failed := len(res.Failed())
	if failed == 0 {
		return fmt.Sprintf("%d managers done", len(res.Results))
	}
	return fmt.Sprintf("%d managers done, %d failed", len(res.Results), failed)
}
