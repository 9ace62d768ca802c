package adapters

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"stevedore/internal/executor"
	"stevedore/pkg/manager"
)

// Cargo manages binaries installed with cargo install. Outdated detection
// needs the cargo-update subcommand.
type Cargo struct {
	base
}

// NewCargo creates the cargo adapter.
func NewCargo(runner executor.Runner, s Settings) *Cargo {
	return &Cargo{base: newBase(manager.Cargo, runner, "cargo", s)}
}

// Execute performs one request.
func (c *Cargo) Execute(ctx context.Context, req manager.Request) (manager.Response, error) {
	if !c.desc.Supports(req.Action) {
		return manager.Response{}, c.unsupported(req.Action)
	}

	switch req.Action {
	case manager.ActionDetect:
		return c.detect(ctx, "--version")
	case manager.ActionRefresh:
		// The crates.io index is fetched lazily by each command.
		return manager.Response{}, nil
	case manager.ActionSearch:
		results, err := c.search(ctx, req.Query)
		return manager.Response{Results: results}, err
	case manager.ActionListInstalled:
		pkgs, err := c.installed(ctx)
		return manager.Response{Installed: pkgs}, err
	case manager.ActionListOutdated:
		pkgs, err := c.outdated(ctx)
		return manager.Response{Outdated: pkgs}, err
	case manager.ActionInstall:
		return c.change(ctx, req, c.installed, func(ctx context.Context) error {
			return c.mutate(ctx, false, c.installArgs(req, false)...)
		})
	case manager.ActionUninstall:
		return c.change(ctx, req, c.installed, func(ctx context.Context) error {
			return c.mutate(ctx, false, "uninstall", req.Package.Name)
		})
	case manager.ActionUpgrade:
		return c.change(ctx, req, c.installed, func(ctx context.Context) error {
			return c.mutate(ctx, false, c.installArgs(req, true)...)
		})
	case manager.ActionPin, manager.ActionUnpin:
		return c.recordPin(ctx, req, c.installed)
	}
	return manager.Response{}, c.unsupported(req.Action)
}

func (c *Cargo) installArgs(req manager.Request, force bool) []string {
	args := []string{"install", req.Package.Name}
	if req.Version != "" {
		args = append(args, "--version", req.Version)
	}
	if force {
		args = append(args, "--force")
	}
	return args
}

func (c *Cargo) search(ctx context.Context, q manager.SearchQuery) ([]manager.SearchResult, error) {
	args := []string{"search", q.Text}
	if q.Limit > 0 {
		args = append(args, "--limit", strconv.Itoa(q.Limit))
	}
	out, err := c.output(ctx, args...)
	if err != nil {
		return nil, err
	}
	return limitResults(parseCargoSearch(out), q.Limit), nil
}

func (c *Cargo) installed(ctx context.Context) ([]manager.Package, error) {
	out, err := c.output(ctx, "install", "--list")
	if err != nil {
		return nil, err
	}
	return parseCargoInstallList(out), nil
}

func (c *Cargo) outdated(ctx context.Context) ([]manager.OutdatedPackage, error) {
	out, err := c.output(ctx, "install-update", "--list")
	if err != nil {
		return nil, err
	}
	return parseCargoUpdateList(out), nil
}

var cargoSearchLine = regexp.MustCompile(`^(\S+)\s*=\s*"([^"]+)"\s*(?:#\s*(.*))?$`)

func parseCargoSearch(out string) []manager.SearchResult {
	var results []manager.SearchResult
	for _, line := range lines(out) {
		m := cargoSearchLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		results = append(results, manager.SearchResult{
			Name:        m[1],
			Version:     m[2],
			Description: strings.TrimSpace(m[3]),
			Source:      manager.Cargo,
		})
	}
	return results
}

var cargoInstalledLine = regexp.MustCompile(`^(\S+) v(\S+?)(?: \(.*\))?:$`)

// parseCargoInstallList reads "name vX.Y.Z:" headers; indented binary names
// are skipped.
func parseCargoInstallList(out string) []manager.Package {
	var pkgs []manager.Package
	for _, line := range lines(out) {
		if m := cargoInstalledLine.FindStringSubmatch(line); m != nil {
			pkgs = append(pkgs, manager.Package{Name: m[1], Version: m[2], Source: manager.Cargo})
		}
	}
	return pkgs
}

// parseCargoUpdateList reads the cargo install-update table and keeps rows
// whose last column is Yes.
func parseCargoUpdateList(out string) []manager.OutdatedPackage {
	var pkgs []manager.OutdatedPackage
	for _, line := range lines(out) {
		f := strings.Fields(line)
		if len(f) != 4 || f[3] != "Yes" {
			continue
		}
		pkgs = append(pkgs, manager.OutdatedPackage{
			Name:             f[0],
			InstalledVersion: strings.TrimPrefix(f[1], "v"),
			CandidateVersion: strings.TrimPrefix(f[2], "v"),
			Source:           manager.Cargo,
		})
	}
	return pkgs
}
