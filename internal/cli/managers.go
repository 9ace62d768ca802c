package cli

import (
	"os"

	"github.com/spf13/cobra"

	"stevedore/internal/ui"
	"stevedore/pkg/manager"
)

var managersAll bool

var managersCmd = &cobra.Command{
	Use:   "managers",
	Short: "List the managers stevedore can drive",
	Long: `List the managers registered on this system together with the
last detection result. Run "stevedore detect" to update detection.

Examples:
  stevedore managers         # Managers registered on this host
  stevedore managers --all   # The full catalogue`,
	Args: cobra.NoArgs,
	RunE: runManagers,
}

func init() {
	managersCmd.Flags().BoolVarP(&managersAll, "all", "a", false, "show every known manager, including other platforms")
}

func runManagers(cmd *cobra.Command, args []string) error {
	a, err := getApp(cmd.Context())
	if err != nil {
		return err
	}

	detections := make(map[manager.ID]manager.DetectionInfo)
	entries, err := a.local.Detections()
	if err != nil {
		return err
	}
	for _, e := range entries {
		detections[e.Manager] = e.Info
	}

	descs := a.registry.Descriptors()
	if managersAll {
		descs = manager.Catalog()
	}

	ui.PrintSystemInfo(os.Stdout, a.system.PrettyName, a.system.Arch, a.registry.IDs())
	ui.Println("")
	ui.PrintManagers(os.Stdout, descs, detections)
	return nil
}
