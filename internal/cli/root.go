// Package cli implements the command-line interface for stevedore.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stevedore/internal/config"
	"stevedore/internal/ui"
)

var (
	// Global flags
	cfgFile     string
	managerFlag string
	dryRun      bool
	yes         bool
	verbose     bool
	noColor     bool
	showStats   bool

	// Global state
	cfg    *config.Config
	logger *slog.Logger
	rt     *app
)

// Build metadata - set at build time via ldflags
var (
	Version   = "0.1.0-dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "stevedore",
	Short: "One front end for every package and tool manager on your machine",
	Long: `Stevedore drives Homebrew, npm, pip, cargo, rustup, mas,
softwareupdate and friends through one task queue. Work for one
manager runs in order; different managers run side by side.

Bulk operations run in authority order: tool runtimes first, then
language and app managers, then system managers.

Examples:
  stevedore refresh                      # Detect, refresh and list everything
  stevedore search ripgrep               # Search every installed manager
  stevedore install ripgrep -m cargo     # Install from a specific manager
  stevedore upgrade                      # Upgrade every outdated package
  stevedore watch                        # Live task monitor`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeApp()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return shutdownApp()
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&managerFlag, "manager", "m", "", "manager id (npm, cargo, homebrew_formula, ...)")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "show mutating commands without executing them")
	rootCmd.PersistentFlags().BoolVarP(&yes, "yes", "y", false, "assume yes to all prompts")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "print task metrics on exit")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(managersCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(outdatedCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(unpinCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(safeModeCmd)
	rootCmd.AddCommand(watchCmd)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context; a second signal kills the process.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		ui.ErrorMsg("%v", err)
		// PersistentPostRunE is skipped when RunE fails.
		if cerr := shutdownApp(); cerr != nil {
			ui.ErrorMsg("%v", cerr)
		}
	}
	return err
}

// initializeApp loads configuration and sets up output. The orchestrator
// itself is opened lazily by commands that need it.
func initializeApp() error {
	// Load configuration
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	// Apply global flag overrides
	if yes {
		cfg.General.AutoConfirm = true
	}
	if dryRun {
		cfg.General.DryRun = true
	}
	if verbose {
		cfg.Output.Verbose = true
	}
	if noColor {
		cfg.Output.Color = false
	}

	// Initialize UI
	ui.Init(cfg.ShouldUseColor(), cfg.Output.Unicode)
	logger = newLogger(cfg.Output.Verbose)
	slog.SetDefault(logger)

	return nil
}

// newLogger builds the stderr text logger.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// getApp opens the orchestrator on first use.
func getApp(ctx context.Context) (*app, error) {
	if rt != nil {
		return rt, nil
	}
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt = a
	return rt, nil
}

func shutdownApp() error {
	if rt == nil {
		return nil
	}
	a := rt
	rt = nil
	if showStats {
		a.printStats(os.Stderr)
	}
	return a.Close(context.Background())
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print stevedore version",
	Run: func(cmd *cobra.Command, args []string) {
		ui.InfoMsg("stevedore version %s", Version)
		if Commit != "unknown" {
			ui.MutedMsg("  Commit: %s", Commit)
		}
		if BuildTime != "unknown" {
			ui.MutedMsg("  Built:  %s", BuildTime)
		}
	},
}
