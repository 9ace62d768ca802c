package adapters

import (
	"context"
	"encoding/json"
	"strings"

	"stevedore/internal/executor"
	"stevedore/pkg/manager"
)

// Homebrew drives brew for either formulae or casks. The two are separate
// managers sharing one binary; they still serialize independently.
type Homebrew struct {
	base
	cask bool
}

// NewHomebrewFormula creates the formula adapter.
func NewHomebrewFormula(runner executor.Runner, s Settings) *Homebrew {
	return &Homebrew{base: newBase(manager.HomebrewFormula, runner, "brew", s)}
}

// NewHomebrewCask creates the cask adapter.
func NewHomebrewCask(runner executor.Runner, s Settings) *Homebrew {
	return &Homebrew{base: newBase(manager.HomebrewCask, runner, "brew", s), cask: true}
}

func (h *Homebrew) kindFlag() string {
	if h.cask {
		return "--cask"
	}
	return "--formula"
}

// Execute performs one request.
func (h *Homebrew) Execute(ctx context.Context, req manager.Request) (manager.Response, error) {
	if !h.desc.Supports(req.Action) {
		return manager.Response{}, h.unsupported(req.Action)
	}

	switch req.Action {
	case manager.ActionDetect:
		return h.detect(ctx, "--version")
	case manager.ActionRefresh:
		_, err := h.output(ctx, "update")
		return manager.Response{}, err
	case manager.ActionSearch:
		results, err := h.search(ctx, req.Query)
		return manager.Response{Results: results}, err
	case manager.ActionListInstalled:
		pkgs, err := h.installed(ctx)
		return manager.Response{Installed: pkgs}, err
	case manager.ActionListOutdated:
		pkgs, err := h.outdated(ctx)
		return manager.Response{Outdated: pkgs}, err
	case manager.ActionInstall:
		name := req.Package.Name
		if !h.cask {
			// Versioned formulae are separate formulae named name@version.
			name = withVersion(name, req.Version, "@")
		}
		return h.change(ctx, req, h.installed, func(ctx context.Context) error {
			return h.mutate(ctx, false, "install", h.kindFlag(), name)
		})
	case manager.ActionUninstall:
		return h.change(ctx, req, h.installed, func(ctx context.Context) error {
			return h.mutate(ctx, false, "uninstall", h.kindFlag(), req.Package.Name)
		})
	case manager.ActionUpgrade:
		return h.change(ctx, req, h.installed, func(ctx context.Context) error {
			return h.mutate(ctx, false, "upgrade", h.kindFlag(), req.Package.Name)
		})
	case manager.ActionPin, manager.ActionUnpin:
		verb := "pin"
		if req.Action == manager.ActionUnpin {
			verb = "unpin"
		}
		return h.change(ctx, req, h.installed, func(ctx context.Context) error {
			return h.mutate(ctx, false, verb, req.Package.Name)
		})
	}
	return manager.Response{}, h.unsupported(req.Action)
}

func (h *Homebrew) search(ctx context.Context, q manager.SearchQuery) ([]manager.SearchResult, error) {
	out, err := h.output(ctx, "search", h.kindFlag(), q.Text)
	if err != nil {
		// brew exits non-zero when nothing matches.
		if manager.IsKind(err, manager.KindProcessFailure) && strings.Contains(err.Error(), "No formulae or casks found") {
			return nil, nil
		}
		return nil, err
	}
	return limitResults(parseBrewSearch(out, h.desc.ID), q.Limit), nil
}

func (h *Homebrew) installed(ctx context.Context) ([]manager.Package, error) {
	out, err := h.output(ctx, "list", "--versions", h.kindFlag())
	if err != nil {
		return nil, err
	}
	return parseBrewList(out, h.desc.ID), nil
}

func (h *Homebrew) outdated(ctx context.Context) ([]manager.OutdatedPackage, error) {
	out, err := h.output(ctx, "outdated", "--json=v2", h.kindFlag())
	if err != nil {
		return nil, err
	}
	pkgs, err := parseBrewOutdated(out, h.cask, h.desc.ID)
	if err != nil {
		return nil, parseFailure(h.desc.ID, "outdated", err)
	}
	return pkgs, nil
}

// parseBrewSearch reads one name per line, skipping section headers.
func parseBrewSearch(out string, source manager.ID) []manager.SearchResult {
	var results []manager.SearchResult
	for _, line := range lines(out) {
		if strings.HasPrefix(line, "==>") {
			continue
		}
		for _, name := range strings.Fields(line) {
			results = append(results, manager.SearchResult{Name: name, Source: source})
		}
	}
	return results
}

// parseBrewList reads "name v1 v2 ..." lines; the last version is current.
func parseBrewList(out string, source manager.ID) []manager.Package {
	var pkgs []manager.Package
	for _, line := range lines(out) {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pkgs = append(pkgs, manager.Package{
			Name:    fields[0],
			Version: fields[len(fields)-1],
			Source:  source,
		})
	}
	return pkgs
}

type brewOutdatedEntry struct {
	Name              string   `json:"name"`
	InstalledVersions []string `json:"installed_versions"`
	CurrentVersion    string   `json:"current_version"`
	Pinned            bool     `json:"pinned"`
}

type brewOutdated struct {
	Formulae []brewOutdatedEntry `json:"formulae"`
	Casks    []brewOutdatedEntry `json:"casks"`
}

func parseBrewOutdated(out string, cask bool, source manager.ID) ([]manager.OutdatedPackage, error) {
	var doc brewOutdated
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		return nil, err
	}
	entries := doc.Formulae
	if cask {
		entries = doc.Casks
	}

	pkgs := make([]manager.OutdatedPackage, 0, len(entries))
	for _, e := range entries {
		var installed string
		if n := len(e.InstalledVersions); n > 0 {
			installed = e.InstalledVersions[n-1]
		}
		pkgs = append(pkgs, manager.OutdatedPackage{
			Name:             e.Name,
			InstalledVersion: installed,
			CandidateVersion: e.CurrentVersion,
			Source:           source,
			Pinned:           e.Pinned,
		})
	}
	return pkgs, nil
}
