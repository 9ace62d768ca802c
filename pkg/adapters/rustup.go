package adapters

import (
	"context"
	"regexp"
	"strings"

	"stevedore/internal/executor"
	"stevedore/pkg/manager"
)

// Rustup manages Rust toolchains. Package names are toolchain names such as
// stable or nightly-aarch64-apple-darwin.
type Rustup struct {
	base
}

// NewRustup creates the rustup adapter.
func NewRustup(runner executor.Runner, s Settings) *Rustup {
	return &Rustup{base: newBase(manager.Rustup, runner, "rustup", s)}
}

// Execute performs one request.
func (r *Rustup) Execute(ctx context.Context, req manager.Request) (manager.Response, error) {
	if !r.desc.Supports(req.Action) {
		return manager.Response{}, r.unsupported(req.Action)
	}

	switch req.Action {
	case manager.ActionDetect:
		return r.detect(ctx, "--version")
	case manager.ActionRefresh:
		// rustup check is the only way to contact the dist server.
		_, err := r.output(ctx, "check")
		return manager.Response{}, err
	case manager.ActionListInstalled:
		pkgs, err := r.installed(ctx)
		return manager.Response{Installed: pkgs}, err
	case manager.ActionListOutdated:
		pkgs, err := r.outdated(ctx)
		return manager.Response{Outdated: pkgs}, err
	case manager.ActionInstall:
		return r.change(ctx, req, r.installed, func(ctx context.Context) error {
			return r.mutate(ctx, false, "toolchain", "install", req.Package.Name)
		})
	case manager.ActionUninstall:
		return r.change(ctx, req, r.installed, func(ctx context.Context) error {
			return r.mutate(ctx, false, "toolchain", "uninstall", req.Package.Name)
		})
	case manager.ActionUpgrade:
		return r.change(ctx, req, r.installed, func(ctx context.Context) error {
			return r.mutate(ctx, false, "update", req.Package.Name)
		})
	}
	return manager.Response{}, r.unsupported(req.Action)
}

func (r *Rustup) installed(ctx context.Context) ([]manager.Package, error) {
	out, err := r.output(ctx, "toolchain", "list")
	if err != nil {
		return nil, err
	}
	return parseRustupToolchains(out), nil
}

func (r *Rustup) outdated(ctx context.Context) ([]manager.OutdatedPackage, error) {
	out, err := r.output(ctx, "check")
	if err != nil {
		return nil, err
	}
	return parseRustupCheck(out), nil
}

// parseRustupToolchains reads one toolchain per line, dropping the
// "(default)" and "(override)" markers.
func parseRustupToolchains(out string) []manager.Package {
	var pkgs []manager.Package
	for _, line := range lines(out) {
		if strings.HasPrefix(line, "no installed toolchains") {
			continue
		}
		name := strings.Fields(line)[0]
		pkgs = append(pkgs, manager.Package{Name: name, Source: manager.Rustup})
	}
	return pkgs
}

var rustupUpdateLine = regexp.MustCompile(`^(\S+) - Update available : (\S+).* -> (\S+)`)

// parseRustupCheck keeps toolchains with an update available. The rustup
// self line is skipped; self updates are not a toolchain upgrade.
func parseRustupCheck(out string) []manager.OutdatedPackage {
	var pkgs []manager.OutdatedPackage
	for _, line := range lines(out) {
		m := rustupUpdateLine.FindStringSubmatch(line)
		if m == nil || m[1] == "rustup" {
			continue
		}
		pkgs = append(pkgs, manager.OutdatedPackage{
			Name:             m[1],
			InstalledVersion: m[2],
			CandidateVersion: m[3],
			Source:           manager.Rustup,
		})
	}
	return pkgs
}
