package adapters

import (
	"context"
	"regexp"
	"strings"

	"stevedore/internal/executor"
	"stevedore/pkg/manager"
)

// Mas drives the Mac App Store CLI. App Store apps are addressed by numeric
// id, so package names are ids and titles travel in descriptions.
type Mas struct {
	base
}

// NewMas creates the Mac App Store adapter.
func NewMas(runner executor.Runner, s Settings) *Mas {
	return &Mas{base: newBase(manager.Mas, runner, "mas", s)}
}

// Execute performs one request.
func (m *Mas) Execute(ctx context.Context, req manager.Request) (manager.Response, error) {
	if !m.desc.Supports(req.Action) {
		return manager.Response{}, m.unsupported(req.Action)
	}

	switch req.Action {
	case manager.ActionDetect:
		return m.detect(ctx, "version")
	case manager.ActionRefresh:
		// mas outdated queries the store directly.
		return manager.Response{}, nil
	case manager.ActionSearch:
		results, err := m.search(ctx, req.Query)
		return manager.Response{Results: results}, err
	case manager.ActionListInstalled:
		pkgs, err := m.installed(ctx)
		return manager.Response{Installed: pkgs}, err
	case manager.ActionListOutdated:
		pkgs, err := m.outdated(ctx)
		return manager.Response{Outdated: pkgs}, err
	case manager.ActionInstall:
		return m.change(ctx, req, m.installed, func(ctx context.Context) error {
			return m.mutate(ctx, false, "install", req.Package.Name)
		})
	case manager.ActionUninstall:
		// Removing from /Applications needs root.
		return m.change(ctx, req, m.installed, func(ctx context.Context) error {
			return m.mutate(ctx, true, "uninstall", req.Package.Name)
		})
	case manager.ActionUpgrade:
		return m.change(ctx, req, m.installed, func(ctx context.Context) error {
			return m.mutate(ctx, false, "upgrade", req.Package.Name)
		})
	}
	return manager.Response{}, m.unsupported(req.Action)
}

func (m *Mas) search(ctx context.Context, q manager.SearchQuery) ([]manager.SearchResult, error) {
	out, err := m.output(ctx, "search", q.Text)
	if err != nil {
		if manager.IsKind(err, manager.KindProcessFailure) && strings.Contains(err.Error(), "No apps found") {
			return nil, nil
		}
		return nil, err
	}
	return limitResults(parseMasSearch(out), q.Limit), nil
}

func (m *Mas) installed(ctx context.Context) ([]manager.Package, error) {
	out, err := m.output(ctx, "list")
	if err != nil {
		return nil, err
	}
	return parseMasList(out), nil
}

func (m *Mas) outdated(ctx context.Context) ([]manager.OutdatedPackage, error) {
	out, err := m.output(ctx, "outdated")
	if err != nil {
		return nil, err
	}
	return parseMasOutdated(out), nil
}

// "497799835  Xcode  (15.1)"
var masAppLine = regexp.MustCompile(`^(\d+)\s+(.+?)\s+\(([^)]+)\)$`)

// "497799835 Xcode (15.0 -> 15.1)"
var masOutdatedLine = regexp.MustCompile(`^(\d+)\s+(.+?)\s+\((\S+) -> (\S+)\)$`)

func parseMasSearch(out string) []manager.SearchResult {
	var results []manager.SearchResult
	for _, line := range lines(out) {
		if m := masAppLine.FindStringSubmatch(line); m != nil {
			results = append(results, manager.SearchResult{
				Name:        m[1],
				Version:     m[3],
				Description: m[2],
				Source:      manager.Mas,
			})
		}
	}
	return results
}

func parseMasList(out string) []manager.Package {
	var pkgs []manager.Package
	for _, line := range lines(out) {
		if m := masAppLine.FindStringSubmatch(line); m != nil {
			pkgs = append(pkgs, manager.Package{Name: m[1], Version: m[3], Source: manager.Mas})
		}
	}
	return pkgs
}

func parseMasOutdated(out string) []manager.OutdatedPackage {
	var pkgs []manager.OutdatedPackage
	for _, line := range lines(out) {
		if m := masOutdatedLine.FindStringSubmatch(line); m != nil {
			pkgs = append(pkgs, manager.OutdatedPackage{
				Name:             m[1],
				InstalledVersion: m[3],
				CandidateVersion: m[4],
				Source:           manager.Mas,
			})
		}
	}
	return pkgs
}
