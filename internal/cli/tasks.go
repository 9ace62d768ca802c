package cli

import (
	"os"

	"github.com/spf13/cobra"

	"stevedore/internal/store"
	"stevedore/internal/taskqueue"
	"stevedore/internal/ui"
)

var (
	tasksLimit int
	tasksPrune bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks [id]",
	Short: "Show task history",
	Long: `Show recorded tasks, most recent first, or one task by id.
--prune deletes finished records older than store.task_retention.

Examples:
  stevedore tasks            # Last 20 tasks
  stevedore tasks -l 0       # Everything
  stevedore tasks 42         # One task
  stevedore tasks --prune    # Apply the retention period`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTasks,
}

func init() {
	tasksCmd.Flags().IntVarP(&tasksLimit, "limit", "l", 20, "number of tasks to show (0 = all)")
	tasksCmd.Flags().BoolVar(&tasksPrune, "prune", false, "delete finished tasks older than the retention period")
}

func runTasks(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	if tasksPrune {
		retention := a.cfg.Store.TaskRetention.Duration
		n, err := a.tasks.PruneTasks(ctx, retention)
		if err != nil {
			return err
		}
		ui.SuccessMsg("Pruned %d task(s) older than %s", n, retention)
		return nil
	}

	if len(args) == 1 {
		id, err := taskqueue.ParseTaskID(args[0])
		if err != nil {
			return err
		}
		rec, err := a.tasks.GetTask(ctx, id)
		if err != nil {
			return err
		}
		ui.PrintTasks(os.Stdout, []store.TaskRecord{rec})
		if rec.Error != "" {
			ui.Println("")
			ui.ErrorMsg("%s", rec.Error)
		}
		return nil
	}

	records, err := a.tasks.ListTasks(ctx, tasksLimit)
	if err != nil {
		return err
	}
	ui.PrintTasks(os.Stdout, records)
	return nil
}
