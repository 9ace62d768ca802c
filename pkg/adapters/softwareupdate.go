package adapters

import (
	"context"
	"regexp"
	"strings"

	"stevedore/internal/executor"
	"stevedore/pkg/manager"
)

// SoftwareUpdate drives macOS softwareupdate. Package names are update
// labels as printed by softwareupdate --list.
type SoftwareUpdate struct {
	base
}

// NewSoftwareUpdate creates the softwareupdate adapter.
func NewSoftwareUpdate(runner executor.Runner, s Settings) *SoftwareUpdate {
	return &SoftwareUpdate{base: newBase(manager.SoftwareUpdate, runner, "softwareupdate", s)}
}

// Execute performs one request.
func (u *SoftwareUpdate) Execute(ctx context.Context, req manager.Request) (manager.Response, error) {
	if !u.desc.Supports(req.Action) {
		return manager.Response{}, u.unsupported(req.Action)
	}

	switch req.Action {
	case manager.ActionDetect:
		return u.detectOS(ctx)
	case manager.ActionRefresh:
		// --list refreshes the catalog as a side effect.
		_, err := u.output(ctx, "--list")
		return manager.Response{}, err
	case manager.ActionListOutdated:
		out, err := u.output(ctx, "--list")
		if err != nil {
			return manager.Response{}, err
		}
		return manager.Response{Outdated: parseSoftwareUpdateList(out)}, nil
	case manager.ActionUpgrade:
		if err := u.mutate(ctx, true, "--install", req.Package.Name); err != nil {
			return manager.Response{}, err
		}
		return manager.Response{Mutation: &manager.MutationResult{
			Package: req.Package,
			Action:  req.Action,
		}}, nil
	}
	return manager.Response{}, u.unsupported(req.Action)
}

// detectOS reports the macOS product version; softwareupdate has no
// version flag of its own.
func (u *SoftwareUpdate) detectOS(ctx context.Context) (manager.Response, error) {
	path, err := u.runner.LookPath(u.binary)
	if err != nil {
		return manager.Response{Detection: &manager.DetectionInfo{Installed: false}}, nil
	}
	res, err := u.runner.Run(ctx, executor.Command{Program: "sw_vers", Args: []string{"-productVersion"}, Timeout: u.timeout})
	if err != nil {
		return manager.Response{}, err
	}
	return manager.Response{Detection: &manager.DetectionInfo{
		Installed:      true,
		Version:        strings.TrimSpace(res.Stdout),
		ExecutablePath: path,
	}}, nil
}

var (
	suLabelLine = regexp.MustCompile(`^\* Label: (.+)$`)
	suTitleLine = regexp.MustCompile(`Title: ([^,]+), Version: ([^,]+)`)
)

// parseSoftwareUpdateList pairs each "* Label:" line with the Title/Version
// line that follows it.
func parseSoftwareUpdateList(out string) []manager.OutdatedPackage {
	var pkgs []manager.OutdatedPackage
	var label string
	for _, line := range lines(out) {
		if m := suLabelLine.FindStringSubmatch(line); m != nil {
			label = strings.TrimSpace(m[1])
			continue
		}
		if label == "" {
			continue
		}
		if m := suTitleLine.FindStringSubmatch(line); m != nil {
			pkgs = append(pkgs, manager.OutdatedPackage{
				Name:             label,
				CandidateVersion: strings.TrimSpace(m[2]),
				Source:           manager.SoftwareUpdate,
			})
			label = ""
		}
	}
	return pkgs
}
