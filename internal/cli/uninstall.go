package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"stevedore/internal/ui"
	"stevedore/pkg/manager"
)

var uninstallCmd = &cobra.Command{
	Use:     "uninstall [packages...]",
	Aliases: []string{"remove", "rm"},
	Short:   "Remove one or more packages",
	Long: `Remove packages with the given manager.

Examples:
  stevedore uninstall ripgrep -m cargo    # Remove a crate
  stevedore uninstall -y -m npm typescript`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUninstall,
}

func runUninstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	id, err := a.resolveManager(managerFlag)
	if err != nil {
		return err
	}

	packages := resolvePackages(args)

	ui.InfoMsg("Removing %d package(s) with %s:", len(packages), id)
	for _, pkg := range packages {
		ui.MutedMsg("  - %s", pkg)
	}

	if err := confirm("Proceed with removal?"); err != nil {
		return err
	}

	var lastErr error
	for _, pkg := range packages {
		req := manager.PackageRequest(manager.ActionUninstall, manager.PackageRef{Manager: id, Name: pkg}, "")
		if err := a.mutate(ctx, id, req); err != nil {
			if errors.Is(err, ErrInterrupted) {
				return err
			}
			lastErr = err
		}
	}
	return lastErr
}
