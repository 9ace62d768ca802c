package cli

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"stevedore/internal/ui"
	"stevedore/pkg/manager"
)

var (
	listLimit   int
	listPattern string
	listLive    bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	Long: `List installed packages from the cache written by the last
refresh, or ask the managers directly with --live.

Examples:
  stevedore list                 # Everything from the cache
  stevedore list -m npm --live   # Ask npm now
  stevedore list -p rip          # Packages whose name contains 'rip'`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var outdatedCmd = &cobra.Command{
	Use:   "outdated",
	Short: "List packages with a newer version available",
	Long: `List outdated packages from the cache written by the last
refresh, or ask the managers directly with --live.`,
	Args: cobra.NoArgs,
	RunE: runOutdated,
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "l", 0, "limit number of results")
	listCmd.Flags().StringVarP(&listPattern, "pattern", "p", "", "filter by name substring")
	listCmd.Flags().BoolVar(&listLive, "live", false, "query the managers instead of the cache")
	outdatedCmd.Flags().BoolVar(&listLive, "live", false, "query the managers instead of the cache")
}

// targetManagers returns the --manager selection, or every installed manager
// that supports action.
func (a *app) targetManagers(action manager.Action) ([]manager.ID, error) {
	if managerFlag != "" {
		id, err := a.resolveManager(managerFlag)
		if err != nil {
			return nil, err
		}
		return []manager.ID{id}, nil
	}
	return a.installedManagers(action), nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	ids, err := a.targetManagers(manager.ActionListInstalled)
	if err != nil {
		return err
	}

	var packages []manager.Package
	if listLive {
		packages, err = a.liveInstalled(ctx, ids)
		if err != nil {
			return err
		}
	} else {
		for _, id := range ids {
			entry, ok, err := a.local.Installed(id)
			if err != nil {
				return err
			}
			if ok {
				packages = append(packages, entry.Packages...)
			}
		}
	}

	packages = filterPackages(packages, listPattern, listLimit)
	ui.PrintPackages(os.Stdout, packages)
	ui.MutedMsg("\nTotal: %d packages", len(packages))
	return nil
}

func (a *app) liveInstalled(ctx context.Context, ids []manager.ID) ([]manager.Package, error) {
	var packages []manager.Package
	results, err := a.fanOut(ctx, ids, manager.ListInstalledRequest())
	for _, r := range results {
		if r.Err != nil {
			ui.WarningMsg("%v", r.Err)
			continue
		}
		packages = append(packages, r.Response.Installed...)
	}
	return packages, err
}

// filterPackages applies the name pattern and limit, sorting by source then
// name.
func filterPackages(packages []manager.Package, pattern string, limit int) []manager.Package {
	var out []manager.Package
	for _, p := range packages {
		if pattern == "" || strings.Contains(strings.ToLower(p.Name), strings.ToLower(pattern)) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func runOutdated(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	packages, err := a.outdated(ctx, listLive)
	if err != nil {
		return err
	}
	ui.PrintOutdated(os.Stdout, packages)
	return nil
}

// outdated returns outdated packages for the selected managers, from the cache
// or, when live, from the managers themselves.
func (a *app) outdated(ctx context.Context, live bool) ([]manager.OutdatedPackage, error) {
	ids, err := a.targetManagers(manager.ActionListOutdated)
	if err != nil {
		return nil, err
	}

	var packages []manager.OutdatedPackage
	if live {
		results, err := a.fanOut(ctx, ids, manager.ListOutdatedRequest())
		for _, r := range results {
			if r.Err != nil {
				ui.WarningMsg("%v", r.Err)
				continue
			}
			packages = append(packages, r.Response.Outdated...)
		}
		return packages, err
	}

	wanted := make(map[manager.ID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	entries, err := a.local.Outdated()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if wanted[e.Manager] {
			packages = append(packages, e.Packages...)
		}
	}
	return packages, nil
}
