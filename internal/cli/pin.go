package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"stevedore/internal/ui"
	"stevedore/pkg/manager"
)

var pinVersion string

var pinCmd = &cobra.Command{
	Use:   "pin [packages...]",
	Short: "Hold packages at their current version",
	Long: `Pin packages so "stevedore upgrade" leaves them alone. Homebrew
formulae are pinned with brew itself; for other managers stevedore
records the pin. With no packages, list recorded pins.

Examples:
  stevedore pin                      # List pins
  stevedore pin -m homebrew_formula postgresql@16
  stevedore pin -m npm typescript`,
	RunE: runPin,
}

var unpinCmd = &cobra.Command{
	Use:   "unpin [packages...]",
	Short: "Release pinned packages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPinChange(cmd, args, manager.ActionUnpin)
	},
}

func init() {
	pinCmd.Flags().StringVarP(&pinVersion, "version", "V", "", "version to record with the pin")
}

func runPin(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listPins(cmd)
	}
	return runPinChange(cmd, args, manager.ActionPin)
}

func runPinChange(cmd *cobra.Command, args []string, action manager.Action) error {
	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	id, err := a.resolveManager(managerFlag)
	if err != nil {
		return err
	}

	version := ""
	if action == manager.ActionPin {
		version = pinVersion
	}

	var lastErr error
	for _, pkg := range resolvePackages(args) {
		req := manager.PackageRequest(action, manager.PackageRef{Manager: id, Name: pkg}, version)
		if err := a.mutate(ctx, id, req); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func listPins(cmd *cobra.Command) error {
	a, err := getApp(cmd.Context())
	if err != nil {
		return err
	}
	pins, err := a.local.Pins()
	if err != nil {
		return err
	}
	if len(pins) == 0 {
		ui.MutedMsg("No pinned packages")
		return nil
	}

	t := ui.NewTableWriter(os.Stdout, []string{"manager", "name", "version", "pinned"})
	for _, p := range pins {
		t.AddRow(string(p.Package.Manager), p.Package.Name, p.Version, p.PinnedAt.Local().Format(time.DateTime))
	}
	t.Render()
	return nil
}
