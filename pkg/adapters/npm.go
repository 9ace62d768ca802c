package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"stevedore/internal/executor"
	"stevedore/pkg/manager"
)

// Npm manages globally installed npm packages.
type Npm struct {
	base
}

// NewNpm creates the npm adapter.
func NewNpm(runner executor.Runner, s Settings) *Npm {
	return &Npm{base: newBase(manager.Npm, runner, "npm", s)}
}

// Execute performs one request.
func (n *Npm) Execute(ctx context.Context, req manager.Request) (manager.Response, error) {
	if !n.desc.Supports(req.Action) {
		return manager.Response{}, n.unsupported(req.Action)
	}

	switch req.Action {
	case manager.ActionDetect:
		return n.detect(ctx, "--version")
	case manager.ActionRefresh:
		// npm queries the registry on every call; there is no local index.
		return manager.Response{}, nil
	case manager.ActionSearch:
		results, err := n.search(ctx, req.Query)
		return manager.Response{Results: results}, err
	case manager.ActionListInstalled:
		pkgs, err := n.installed(ctx)
		return manager.Response{Installed: pkgs}, err
	case manager.ActionListOutdated:
		pkgs, err := n.outdated(ctx)
		return manager.Response{Outdated: pkgs}, err
	case manager.ActionInstall:
		return n.change(ctx, req, n.installed, func(ctx context.Context) error {
			return n.mutate(ctx, false, "install", "-g", withVersion(req.Package.Name, req.Version, "@"))
		})
	case manager.ActionUninstall:
		return n.change(ctx, req, n.installed, func(ctx context.Context) error {
			return n.mutate(ctx, false, "uninstall", "-g", req.Package.Name)
		})
	case manager.ActionUpgrade:
		target := req.Version
		if target == "" {
			target = "latest"
		}
		return n.change(ctx, req, n.installed, func(ctx context.Context) error {
			return n.mutate(ctx, false, "install", "-g", req.Package.Name+"@"+target)
		})
	case manager.ActionPin, manager.ActionUnpin:
		return n.recordPin(ctx, req, n.installed)
	}
	return manager.Response{}, n.unsupported(req.Action)
}

func (n *Npm) search(ctx context.Context, q manager.SearchQuery) ([]manager.SearchResult, error) {
	out, err := n.output(ctx, "search", "--json", q.Text)
	if err != nil {
		return nil, err
	}
	results, err := parseNpmSearch(out)
	if err != nil {
		return nil, parseFailure(n.desc.ID, "search", err)
	}
	return limitResults(results, q.Limit), nil
}

func (n *Npm) installed(ctx context.Context) ([]manager.Package, error) {
	out, err := n.output(ctx, "ls", "-g", "--depth=0", "--json")
	if err != nil {
		return nil, err
	}
	pkgs, err := parseNpmList(out)
	if err != nil {
		return nil, parseFailure(n.desc.ID, "ls", err)
	}
	return pkgs, nil
}

func (n *Npm) outdated(ctx context.Context) ([]manager.OutdatedPackage, error) {
	out, err := n.output(ctx, "outdated", "-g", "--json")
	if err != nil {
		// npm outdated exits 1 whenever something is outdated.
		var exitErr *executor.ExitError
		if !errors.As(err, &exitErr) || exitErr.Code != 1 || strings.TrimSpace(out) == "" {
			return nil, err
		}
	}
	pkgs, err := parseNpmOutdated(out)
	if err != nil {
		return nil, parseFailure(n.desc.ID, "outdated", err)
	}
	return pkgs, nil
}

type npmSearchEntry struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

func parseNpmSearch(out string) ([]manager.SearchResult, error) {
	var entries []npmSearchEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		return nil, err
	}
	results := make([]manager.SearchResult, 0, len(entries))
	for _, e := range entries {
		results = append(results, manager.SearchResult{
			Name:        e.Name,
			Version:     e.Version,
			Description: e.Description,
			Source:      manager.Npm,
		})
	}
	return results, nil
}

type npmList struct {
	Dependencies map[string]struct {
		Version string `json:"version"`
	} `json:"dependencies"`
}

func parseNpmList(out string) ([]manager.Package, error) {
	var doc npmList
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		return nil, err
	}
	pkgs := make([]manager.Package, 0, len(doc.Dependencies))
	for name, dep := range doc.Dependencies {
		pkgs = append(pkgs, manager.Package{Name: name, Version: dep.Version, Source: manager.Npm})
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return pkgs, nil
}

type npmOutdatedEntry struct {
	Current string `json:"current"`
	Wanted  string `json:"wanted"`
	Latest  string `json:"latest"`
}

func parseNpmOutdated(out string) ([]manager.OutdatedPackage, error) {
	if strings.TrimSpace(out) == "" {
		return nil, nil
	}
	var doc map[string]npmOutdatedEntry
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		return nil, err
	}
	pkgs := make([]manager.OutdatedPackage, 0, len(doc))
	for name, e := range doc {
		pkgs = append(pkgs, manager.OutdatedPackage{
			Name:             name,
			InstalledVersion: e.Current,
			CandidateVersion: e.Latest,
			Source:           manager.Npm,
		})
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return pkgs, nil
}
