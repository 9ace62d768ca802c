package adapters

import (
	"stevedore/internal/executor"
	"stevedore/pkg/manager"
)

// Default returns the adapters stevedore ships that run on goos, in no
// particular order. settings may be nil.
func Default(runner executor.Runner, goos string, settings map[manager.ID]Settings) []manager.Adapter {
	all := []manager.Adapter{
		NewRustup(runner, settings[manager.Rustup]),
		NewHomebrewFormula(runner, settings[manager.HomebrewFormula]),
		NewHomebrewCask(runner, settings[manager.HomebrewCask]),
		NewMas(runner, settings[manager.Mas]),
		NewSoftwareUpdate(runner, settings[manager.SoftwareUpdate]),
		NewNpm(runner, settings[manager.Npm]),
		NewPip(runner, settings[manager.Pip]),
		NewCargo(runner, settings[manager.Cargo]),
		NewProbe(manager.DockerDesktop, runner, "docker", settings[manager.DockerDesktop]),
		NewProbe(manager.Podman, runner, "podman", settings[manager.Podman]),
		NewProbe(manager.Colima, runner, "colima", settings[manager.Colima], "version"),
		NewProbe(manager.XcodeCommandLineTools, runner, "xcode-select", settings[manager.XcodeCommandLineTools]),
	}

	out := make([]manager.Adapter, 0, len(all))
	for _, a := range all {
		if a.Descriptor().RunsOn(goos) {
			out = append(out, a)
		}
	}
	return out
}
