// Package detector identifies the host platform so only adapters that can
// run on it are registered.
package detector

import (
	"context"
	"runtime"
	"strings"

	"stevedore/internal/executor"
	"stevedore/pkg/manager"
)

// OSType represents the detected operating system type.
type OSType string

const (
	OSLinux   OSType = "linux"
	OSDarwin  OSType = "darwin"
	OSWindows OSType = "windows"
	OSUnknown OSType = "unknown"
)

// SystemInfo contains information about the detected system.
type SystemInfo struct {
	OS   OSType
	Arch string
	// GOOS is the raw runtime value, used to match manager platforms.
	GOOS       string
	PrettyName string
	// ProductVersion and BuildVersion are set on macOS only.
	ProductVersion string
	BuildVersion   string
}

// Detect inspects the current system. macOS version lookups go through
// runner; a failed lookup leaves the version fields empty.
func Detect(ctx context.Context, runner executor.Runner) *SystemInfo {
	info := &SystemInfo{
		OS:   osType(runtime.GOOS),
		Arch: runtime.GOARCH,
		GOOS: runtime.GOOS,
	}

	switch info.OS {
	case OSDarwin:
		info.PrettyName = "macOS"
		info.ProductVersion = swVers(ctx, runner, "-productVersion")
		info.BuildVersion = swVers(ctx, runner, "-buildVersion")
		if info.ProductVersion != "" {
			info.PrettyName += " " + info.ProductVersion
		}
	case OSLinux:
		info.PrettyName = "Linux"
	case OSWindows:
		info.PrettyName = "Windows"
	default:
		info.PrettyName = runtime.GOOS
	}
	return info
}

func osType(goos string) OSType {
	switch goos {
	case "linux":
		return OSLinux
	case "darwin":
		return OSDarwin
	case "windows":
		return OSWindows
	}
	return OSUnknown
}

func swVers(ctx context.Context, runner executor.Runner, flag string) string {
	res, err := runner.Run(ctx, executor.Command{Program: "sw_vers", Args: []string{flag}})
	if err != nil {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// Supports reports whether a manager can run on this system.
func (s *SystemInfo) Supports(d manager.Descriptor) bool {
	return d.RunsOn(s.GOOS)
}

// IsDarwin returns true if the system is running macOS.
func (s *SystemInfo) IsDarwin() bool {
	return s.OS == OSDarwin
}

// IsAppleSilicon reports a macOS host on arm64, where Rosetta 2 applies.
func (s *SystemInfo) IsAppleSilicon() bool {
	return s.OS == OSDarwin && s.Arch == "arm64"
}
