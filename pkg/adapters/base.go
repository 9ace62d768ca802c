// Package adapters implements manager.Adapter for the package managers
// stevedore drives. Adapters translate requests into subprocess invocations
// and parse the output; they hold no state between calls.
package adapters

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"stevedore/internal/executor"
	"stevedore/pkg/manager"
)

// Settings overrides per-manager defaults from configuration.
type Settings struct {
	// Binary replaces the default executable name or path.
	Binary string
	// Timeout bounds every subprocess the adapter runs. Zero means no bound
	// beyond the task context.
	Timeout time.Duration
}

// base provides the plumbing shared by every adapter.
type base struct {
	desc    manager.Descriptor
	runner  executor.Runner
	binary  string
	timeout time.Duration
}

func newBase(id manager.ID, runner executor.Runner, binary string, s Settings) base {
	desc, ok := manager.Lookup(id)
	if !ok {
		panic(fmt.Sprintf("adapters: %s is not in the catalogue", id))
	}
	if s.Binary != "" {
		binary = s.Binary
	}
	return base{desc: desc, runner: runner, binary: binary, timeout: s.Timeout}
}

// Descriptor returns the catalogue entry for the adapter.
func (b *base) Descriptor() manager.Descriptor {
	return b.desc
}

// Binary returns the executable the adapter invokes.
func (b *base) Binary() string {
	return b.binary
}

func (b *base) unsupported(action manager.Action) error {
	return manager.Unsupported(b.desc.ID, action)
}

func (b *base) command(args ...string) executor.Command {
	return executor.Command{Program: b.binary, Args: args, Timeout: b.timeout}
}

// output runs a read-only command and returns its stdout.
func (b *base) output(ctx context.Context, args ...string) (string, error) {
	res, err := b.runner.Run(ctx, b.command(args...))
	return res.Stdout, err
}

// mutate runs a command that changes installed software.
func (b *base) mutate(ctx context.Context, sudo bool, args ...string) error {
	cmd := b.command(args...)
	cmd.Mutates = true
	cmd.Sudo = sudo
	_, err := b.runner.Run(ctx, cmd)
	return err
}

// detect reports whether the binary is on PATH and, if so, its version as
// printed by versionArgs.
func (b *base) detect(ctx context.Context, versionArgs ...string) (manager.Response, error) {
	path, err := b.runner.LookPath(b.binary)
	if err != nil {
		return manager.Response{Detection: &manager.DetectionInfo{Installed: false}}, nil
	}
	out, err := b.output(ctx, versionArgs...)
	if err != nil {
		return manager.Response{}, err
	}
	return manager.Response{Detection: &manager.DetectionInfo{
		Installed:      true,
		Version:        extractVersion(out),
		ExecutablePath: path,
	}}, nil
}

// change wraps a mutating run with before/after version lookups. Lookup
// failures leave the version empty; only the mutation itself can fail the
// request.
func (b *base) change(
	ctx context.Context,
	req manager.Request,
	installed func(context.Context) ([]manager.Package, error),
	run func(context.Context) error,
) (manager.Response, error) {
	before := versionOf(ctx, installed, req.Package.Name)
	if err := run(ctx); err != nil {
		return manager.Response{}, err
	}
	after := versionOf(ctx, installed, req.Package.Name)
	return manager.Response{Mutation: &manager.MutationResult{
		Package:       req.Package,
		Action:        req.Action,
		BeforeVersion: before,
		AfterVersion:  after,
	}}, nil
}

// recordPin handles pins for managers without a native pin command: the
// package must be installed and stevedore tracks the pin itself.
func (b *base) recordPin(
	ctx context.Context,
	req manager.Request,
	installed func(context.Context) ([]manager.Package, error),
) (manager.Response, error) {
	pkgs, err := installed(ctx)
	if err != nil {
		return manager.Response{}, err
	}
	for _, p := range pkgs {
		if p.Name == req.Package.Name {
			return manager.Response{Mutation: &manager.MutationResult{
				Package:       req.Package,
				Action:        req.Action,
				BeforeVersion: p.Version,
				AfterVersion:  p.Version,
			}}, nil
		}
	}
	return manager.Response{}, manager.Errorf(manager.KindInvalidInput, "%s is not installed", req.Package.Name)
}

func versionOf(ctx context.Context, installed func(context.Context) ([]manager.Package, error), name string) string {
	pkgs, err := installed(ctx)
	if err != nil {
		return ""
	}
	for _, p := range pkgs {
		if p.Name == name {
			return p.Version
		}
	}
	return ""
}

var versionPattern = regexp.MustCompile(`\d+(?:\.\d+)+(?:[-+.][0-9A-Za-z.]+)?`)

// extractVersion returns the first dotted version number in s.
func extractVersion(s string) string {
	return versionPattern.FindString(s)
}

// lines splits output into trimmed, non-empty lines.
func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func limitResults(results []manager.SearchResult, n int) []manager.SearchResult {
	if n > 0 && len(results) > n {
		return results[:n]
	}
	return results
}

// withVersion renders name@version, the form most managers accept.
func withVersion(name, version, sep string) string {
	if version == "" {
		return name
	}
	return name + sep + version
}

func parseFailure(id manager.ID, what string, err error) error {
	return manager.Wrap(manager.KindParseFailure, err, fmt.Sprintf("parse %s %s output", id, what))
}
