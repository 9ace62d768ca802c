package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"stevedore/internal/taskqueue"
	"stevedore/internal/ui"
	"stevedore/pkg/manager"
)

var (
	upgradeVersion string
	upgradeLive    bool
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [packages...]",
	Short: "Upgrade installed packages",
	Long: `Upgrade packages. Named packages need --manager. With no names,
every outdated package that is not pinned is upgraded, from the
outdated list cached by the last refresh (or a live query with
--live). Upgrades for one manager run in order; different managers
run in parallel.

Examples:
  stevedore upgrade                     # Everything outdated
  stevedore upgrade -m npm              # Everything outdated in npm
  stevedore upgrade -m pip black -V 24.2
  stevedore upgrade -y --live           # Re-check first, no prompts`,
	RunE: runUpgrade,
}

func init() {
	upgradeCmd.Flags().StringVarP(&upgradeVersion, "version", "V", "", "target version (named packages only)")
	upgradeCmd.Flags().BoolVar(&upgradeLive, "live", false, "query outdated packages instead of using the cache")
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	var reqs []manager.Request
	if len(args) > 0 {
		id, err := a.resolveManager(managerFlag)
		if err != nil {
			return err
		}
		for _, pkg := range resolvePackages(args) {
			reqs = append(reqs, manager.PackageRequest(manager.ActionUpgrade, manager.PackageRef{Manager: id, Name: pkg}, upgradeVersion))
		}
	} else {
		outdated, err := a.outdated(ctx, upgradeLive)
		if err != nil {
			return err
		}
		pins, err := a.pinned()
		if err != nil {
			return err
		}
		reqs = upgradeRequests(outdated, pins)
	}

	if len(reqs) == 0 {
		ui.SuccessMsg("Everything is up to date")
		return nil
	}

	ui.InfoMsg("Upgrading %d package(s):", len(reqs))
	for _, r := range reqs {
		ui.MutedMsg("  - %s (%s)", withVersion(r.Package.Name, r.Version), r.Package.Manager)
	}

	if err := confirm("Proceed with upgrade?"); err != nil {
		return err
	}

	if len(reqs) == 1 {
		return a.mutate(ctx, reqs[0].Package.Manager, reqs[0])
	}
	return a.mutateAll(ctx, reqs)
}

// mutateAll submits every request up front so different managers work in
// parallel, then reports each outcome in submission order.
func (a *app) mutateAll(ctx context.Context, reqs []manager.Request) error {
	ids := make([]taskqueue.TaskID, len(reqs))
	errs := make([]error, len(reqs))
	for i, r := range reqs {
		ids[i], errs[i] = a.orch.Submit(ctx, r.Package.Manager, r)
	}

	var failed int
	for i, r := range reqs {
		label := fmt.Sprintf("%s (%s)", withVersion(r.Package.Name, r.Version), r.Package.Manager)
		if errs[i] == nil {
			var resp manager.Response
			resp, errs[i] = a.await(ctx, ids[i])
			if errors.Is(errs[i], ErrInterrupted) {
				for j := i + 1; j < len(reqs); j++ {
					if errs[j] == nil {
						a.interrupt(ids[j])
					}
				}
				return ErrInterrupted
			}
			if errs[i] == nil {
				ui.SuccessMsg("%s", label)
				printMutation(resp.Mutation)
				continue
			}
		}
		failed++
		ui.ErrorMsg("%s: %v", label, errs[i])
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d upgrades failed", failed, len(reqs))
	}
	return nil
}

// pinned returns the packages pinned through stevedore.
func (a *app) pinned() (map[manager.PackageRef]bool, error) {
	records, err := a.local.Pins()
	if err != nil {
		return nil, err
	}
	out := make(map[manager.PackageRef]bool, len(records))
	for _, r := range records {
		out[r.Package] = true
	}
	return out, nil
}

// upgradeRequests builds one upgrade per outdated package, skipping packages
// pinned by their manager or through stevedore.
func upgradeRequests(outdated []manager.OutdatedPackage, pins map[manager.PackageRef]bool) []manager.Request {
	var reqs []manager.Request
	for _, p := range outdated {
		ref := manager.PackageRef{Manager: p.Source, Name: p.Name}
		if p.Pinned || pins[ref] {
			continue
		}
		reqs = append(reqs, manager.PackageRequest(manager.ActionUpgrade, ref, p.CandidateVersion))
	}
	return reqs
}
