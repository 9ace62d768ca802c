package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"stevedore/internal/ui"
)

var safeModeCmd = &cobra.Command{
	Use:       "safe-mode [on|off]",
	Short:     "Show or set safe mode",
	ValidArgs: []string{"on", "off"},
	Long: `Safe mode rejects install, uninstall, upgrade, pin and unpin
before anything is queued. Reads are unaffected. The value set here
is stored and overrides general.safe_mode from the config file.`,
	Args: cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	RunE: runSafeMode,
}

func runSafeMode(cmd *cobra.Command, args []string) error {
	a, err := getApp(cmd.Context())
	if err != nil {
		return err
	}

	if len(args) == 0 {
		state := "off"
		if a.safeMode() {
			state = "on"
		}
		ui.InfoMsg("Safe mode is %s", state)
		return nil
	}

	enabled, err := parseSwitch(args[0])
	if err != nil {
		return err
	}
	if err := a.local.SetSafeMode(enabled); err != nil {
		return err
	}
	ui.SuccessMsg("Safe mode %s", args[0])
	return nil
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
