package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"stevedore/internal/ui"
	"stevedore/pkg/manager"
)

var installVersion string

var installCmd = &cobra.Command{
	Use:   "install [packages...]",
	Short: "Install one or more packages",
	Long: `Install packages with a specific manager, or let stevedore find
one. Without --manager each name is looked up in the search cache
first, then with a live search; when several managers carry the
package you pick one.

Examples:
  stevedore install ripgrep -m cargo       # Install with cargo
  stevedore install wget                   # Find a manager that has wget
  stevedore install black -m pip -V 24.1   # Install a specific version
  stevedore install -y jq                  # No prompts`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().StringVarP(&installVersion, "version", "V", "", "version to install")
}

// installPlan is one package and the manager chosen for it.
type installPlan struct {
	Manager manager.ID
	Name    string
	Reason  string
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	packages := resolvePackages(args)

	var plan []installPlan
	var notFound []string
	if managerFlag != "" {
		id, err := a.resolveManager(managerFlag)
		if err != nil {
			return err
		}
		for _, pkg := range packages {
			plan = append(plan, installPlan{Manager: id, Name: pkg, Reason: "requested"})
		}
	} else {
		for _, pkg := range packages {
			p, err := a.findSource(ctx, pkg)
			if err != nil {
				if errors.Is(err, ErrPackageNotFound) {
					notFound = append(notFound, pkg)
					continue
				}
				return err
			}
			plan = append(plan, p)
		}
	}

	// Report not found packages
	if len(notFound) > 0 {
		ui.WarningMsg("Could not find the following packages with any manager:")
		for _, pkg := range notFound {
			ui.MutedMsg("  - %s", pkg)
		}
		if len(plan) == 0 {
			return ErrPackageNotFound
		}
	}

	// Show installation plan
	ui.InfoMsg("Installation plan:")
	for _, p := range plan {
		ui.MutedMsg("  - %s from %s (%s)", withVersion(p.Name, installVersion), p.Manager, p.Reason)
	}

	if err := confirm("Proceed with installation?"); err != nil {
		return err
	}

	var lastErr error
	for _, p := range plan {
		req := manager.PackageRequest(manager.ActionInstall, manager.PackageRef{Manager: p.Manager, Name: p.Name}, installVersion)
		if err := a.mutate(ctx, p.Manager, req); err != nil {
			if errors.Is(err, ErrInterrupted) {
				return err
			}
			lastErr = err
		}
	}
	return lastErr
}

// findSource picks the manager to install pkg from. Exact name matches from
// the search cache win; otherwise every installed manager is searched.
func (a *app) findSource(ctx context.Context, pkg string) (installPlan, error) {
	if cached, err := a.searchCached(pkg, 50); err != nil {
		a.logger.Debug("search cache unavailable", "error", err)
	} else if hits := a.registered(exactMatches(cached, pkg)); len(hits) > 0 {
		return a.choose(pkg, hits, "from search cache")
	}

	results, err := a.searchLive(ctx, pkg, 0)
	if err != nil {
		return installPlan{}, err
	}
	if hits := exactMatches(results, pkg); len(hits) > 0 {
		return a.choose(pkg, hits, "exact match")
	}
	if len(results) == 0 || cfg.General.AutoConfirm {
		return installPlan{}, ErrPackageNotFound
	}

	ui.WarningMsg("No exact match for '%s'", pkg)
	picked, err := ui.SelectResult(results, fmt.Sprintf("Install which package for '%s'?", pkg))
	if err != nil {
		return installPlan{}, err
	}
	return installPlan{Manager: picked.Source, Name: picked.Name, Reason: "selected"}, nil
}

// registered drops hits for managers that are no longer registered.
func (a *app) registered(hits []manager.SearchResult) []manager.SearchResult {
	var out []manager.SearchResult
	for _, h := range hits {
		if _, ok := a.registry.Get(h.Source); ok {
			out = append(out, h)
		}
	}
	return out
}

// choose resolves several managers carrying the same name. With prompts off
// the highest-precedence manager wins.
func (a *app) choose(pkg string, hits []manager.SearchResult, reason string) (installPlan, error) {
	rankBySource(hits)
	if len(hits) == 1 || cfg.General.AutoConfirm {
		return installPlan{Manager: hits[0].Source, Name: hits[0].Name, Reason: reason}, nil
	}
	picked, err := ui.SelectResult(hits, fmt.Sprintf("'%s' is available from %d managers", pkg, len(hits)))
	if err != nil {
		return installPlan{}, err
	}
	return installPlan{Manager: picked.Source, Name: picked.Name, Reason: "selected"}, nil
}

// rankBySource orders hits by their manager's authority tier, then id.
func rankBySource(hits []manager.SearchResult) {
	rank := func(id manager.ID) int {
		if d, ok := manager.Lookup(id); ok {
			return d.Authority.Rank()
		}
		return len(manager.Phases())
	}
	sort.SliceStable(hits, func(i, j int) bool {
		ri, rj := rank(hits[i].Source), rank(hits[j].Source)
		if ri != rj {
			return ri < rj
		}
		return hits[i].Source < hits[j].Source
	})
}

// resolvePackages resolves aliases in package names.
func resolvePackages(packages []string) []string {
	out := make([]string, len(packages))
	for i, pkg := range packages {
		out[i] = cfg.ResolveAlias(pkg)
	}
	return out
}

func withVersion(name, version string) string {
	if version == "" {
		return name
	}
	return name + "@" + version
}

// confirm asks before a mutating command unless prompts are off.
func confirm(prompt string) error {
	if cfg.General.AutoConfirm || cfg.General.DryRun {
		return nil
	}
	confirmed, err := ui.Confirm(prompt, true)
	if err != nil {
		return err
	}
	if !confirmed {
		return ErrAborted
	}
	return nil
}

// mutate runs one mutating request with a spinner and reports the change.
func (a *app) mutate(ctx context.Context, id manager.ID, req manager.Request) error {
	label := fmt.Sprintf("%s %s with %s", req.Action, withVersion(req.Package.Name, req.Version), id)

	var resp manager.Response
	err := ui.WithSpinner(label, func() error {
		var err error
		resp, err = a.runTask(ctx, id, req)
		return err
	})
	if err != nil {
		return err
	}

	if a.cfg.General.DryRun {
		ui.MutedMsg("  dry run: no changes made")
		return nil
	}
	printMutation(resp.Mutation)
	return nil
}

func printMutation(m *manager.MutationResult) {
	if m == nil {
		return
	}
	switch {
	case m.BeforeVersion != "" && m.AfterVersion != "" && m.BeforeVersion != m.AfterVersion:
		ui.MutedMsg("  %s: %s -> %s", m.Package.Name, m.BeforeVersion, m.AfterVersion)
	case m.AfterVersion != "":
		ui.MutedMsg("  %s: %s", m.Package.Name, m.AfterVersion)
	case m.BeforeVersion != "":
		ui.MutedMsg("  %s: %s removed", m.Package.Name, m.BeforeVersion)
	}
}
