package adapters

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"stevedore/internal/executor"
	"stevedore/pkg/manager"
)

// Pip manages user-site Python packages.
type Pip struct {
	base
}

// NewPip creates the pip adapter.
func NewPip(runner executor.Runner, s Settings) *Pip {
	return &Pip{base: newBase(manager.Pip, runner, "pip3", s)}
}

// Execute performs one request.
func (p *Pip) Execute(ctx context.Context, req manager.Request) (manager.Response, error) {
	if !p.desc.Supports(req.Action) {
		return manager.Response{}, p.unsupported(req.Action)
	}

	switch req.Action {
	case manager.ActionDetect:
		return p.detect(ctx, "--version")
	case manager.ActionRefresh:
		// pip resolves against the index on every call.
		return manager.Response{}, nil
	case manager.ActionSearch:
		results, err := p.search(ctx, req.Query)
		return manager.Response{Results: results}, err
	case manager.ActionListInstalled:
		pkgs, err := p.installed(ctx)
		return manager.Response{Installed: pkgs}, err
	case manager.ActionListOutdated:
		pkgs, err := p.outdated(ctx)
		return manager.Response{Outdated: pkgs}, err
	case manager.ActionInstall:
		return p.change(ctx, req, p.installed, func(ctx context.Context) error {
			return p.mutate(ctx, false, "install", "--user", withVersion(req.Package.Name, req.Version, "=="))
		})
	case manager.ActionUninstall:
		return p.change(ctx, req, p.installed, func(ctx context.Context) error {
			return p.mutate(ctx, false, "uninstall", "-y", req.Package.Name)
		})
	case manager.ActionUpgrade:
		return p.change(ctx, req, p.installed, func(ctx context.Context) error {
			return p.mutate(ctx, false, "install", "--user", "--upgrade", withVersion(req.Package.Name, req.Version, "=="))
		})
	case manager.ActionPin, manager.ActionUnpin:
		return p.recordPin(ctx, req, p.installed)
	}
	return manager.Response{}, p.unsupported(req.Action)
}

// search looks up an exact project name; PyPI no longer serves pip search.
func (p *Pip) search(ctx context.Context, q manager.SearchQuery) ([]manager.SearchResult, error) {
	out, err := p.output(ctx, "index", "versions", q.Text)
	if err != nil {
		if manager.IsKind(err, manager.KindProcessFailure) && strings.Contains(err.Error(), "No matching distribution") {
			return nil, nil
		}
		return nil, err
	}
	return limitResults(parsePipIndex(out), q.Limit), nil
}

func (p *Pip) installed(ctx context.Context) ([]manager.Package, error) {
	out, err := p.output(ctx, "list", "--format=json")
	if err != nil {
		return nil, err
	}
	pkgs, err := parsePipList(out)
	if err != nil {
		return nil, parseFailure(p.desc.ID, "list", err)
	}
	return pkgs, nil
}

func (p *Pip) outdated(ctx context.Context) ([]manager.OutdatedPackage, error) {
	out, err := p.output(ctx, "list", "--outdated", "--format=json")
	if err != nil {
		return nil, err
	}
	pkgs, err := parsePipOutdated(out)
	if err != nil {
		return nil, parseFailure(p.desc.ID, "outdated", err)
	}
	return pkgs, nil
}

var pipIndexHeader = regexp.MustCompile(`^(\S+) \(([^)]+)\)`)

func parsePipIndex(out string) []manager.SearchResult {
	for _, line := range lines(out) {
		if m := pipIndexHeader.FindStringSubmatch(line); m != nil {
			return []manager.SearchResult{{Name: m[1], Version: m[2], Source: manager.Pip}}
		}
	}
	return nil
}

type pipListEntry struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	LatestVersion string `json:"latest_version"`
}

func parsePipList(out string) ([]manager.Package, error) {
	var entries []pipListEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		return nil, err
	}
	pkgs := make([]manager.Package, 0, len(entries))
	for _, e := range entries {
		pkgs = append(pkgs, manager.Package{Name: e.Name, Version: e.Version, Source: manager.Pip})
	}
	return pkgs, nil
}

func parsePipOutdated(out string) ([]manager.OutdatedPackage, error) {
	var entries []pipListEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		return nil, err
	}
	pkgs := make([]manager.OutdatedPackage, 0, len(entries))
	for _, e := range entries {
		pkgs = append(pkgs, manager.OutdatedPackage{
			Name:             e.Name,
			InstalledVersion: e.Version,
			CandidateVersion: e.LatestVersion,
			Source:           manager.Pip,
		})
	}
	return pkgs, nil
}
