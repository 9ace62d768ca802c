package manager

// Known manager identifiers.
const (
	Mise                  ID = "mise"
	Asdf                  ID = "asdf"
	Rustup                ID = "rustup"
	HomebrewFormula       ID = "homebrew_formula"
	HomebrewCask          ID = "homebrew_cask"
	MacPorts              ID = "macports"
	NixDarwin             ID = "nix_darwin"
	Mas                   ID = "mas"
	SoftwareUpdate        ID = "softwareupdate"
	Npm                   ID = "npm"
	Pnpm                  ID = "pnpm"
	Yarn                  ID = "yarn"
	Pip                   ID = "pip"
	Pipx                  ID = "pipx"
	Poetry                ID = "poetry"
	RubyGems              ID = "rubygems"
	Bundler               ID = "bundler"
	Cargo                 ID = "cargo"
	CargoBinstall         ID = "cargo_binstall"
	Sparkle               ID = "sparkle"
	Setapp                ID = "setapp"
	DockerDesktop         ID = "docker_desktop"
	Podman                ID = "podman"
	Colima                ID = "colima"
	ParallelsDesktop      ID = "parallels_desktop"
	XcodeCommandLineTools ID = "xcode_command_line_tools"
	Rosetta2              ID = "rosetta2"
	FirmwareUpdates       ID = "firmware_updates"
)

var (
	capsDetectOnly = []Capability{ActionDetect}
	capsRuntime    = []Capability{
		ActionDetect, ActionRefresh, ActionListInstalled, ActionListOutdated,
		ActionInstall, ActionUninstall, ActionUpgrade,
	}
	capsPackages = []Capability{
		ActionDetect, ActionRefresh, ActionSearch, ActionListInstalled, ActionListOutdated,
		ActionInstall, ActionUninstall, ActionUpgrade,
	}
	capsPinnable = append(append([]Capability{}, capsPackages...), ActionPin, ActionUnpin)
	capsSystem   = []Capability{ActionDetect, ActionRefresh, ActionListOutdated, ActionUpgrade}

	darwinOnly = []string{"darwin"}
	unixLike   = []string{"darwin", "linux"}
)

var catalog = []Descriptor{
	{ID: Mise, DisplayName: "mise", Category: CategoryToolRuntime, Authority: AuthorityAuthoritative, Capabilities: capsRuntime, Platforms: unixLike},
	{ID: Asdf, DisplayName: "asdf", Category: CategoryToolRuntime, Authority: AuthorityAuthoritative, Capabilities: capsRuntime, Platforms: unixLike},
	{ID: Rustup, DisplayName: "rustup", Category: CategoryToolRuntime, Authority: AuthorityAuthoritative, Capabilities: capsRuntime},

	{ID: HomebrewFormula, DisplayName: "Homebrew (formulae)", Category: CategorySystemOS, Authority: AuthorityGuarded, Capabilities: capsPinnable, Platforms: unixLike},
	{ID: HomebrewCask, DisplayName: "Homebrew (casks)", Category: CategoryGUIApp, Authority: AuthorityGuarded, Capabilities: capsPackages, Platforms: darwinOnly},
	{ID: MacPorts, DisplayName: "MacPorts", Category: CategorySystemOS, Authority: AuthorityGuarded, Capabilities: capsPackages, Platforms: darwinOnly},
	{ID: NixDarwin, DisplayName: "nix-darwin", Category: CategorySystemOS, Authority: AuthorityGuarded, Capabilities: capsPackages, Platforms: darwinOnly},
	{ID: Mas, DisplayName: "Mac App Store", Category: CategoryGUIApp, Authority: AuthorityGuarded, Capabilities: capsPackages, Platforms: darwinOnly},
	{ID: SoftwareUpdate, DisplayName: "Software Update", Category: CategorySystemOS, Authority: AuthorityGuarded, Capabilities: capsSystem, Platforms: darwinOnly},

	{ID: Npm, DisplayName: "npm (global)", Category: CategoryLanguage, Authority: AuthorityStandard, Capabilities: capsPinnable},
	{ID: Pnpm, DisplayName: "pnpm (global)", Category: CategoryLanguage, Authority: AuthorityStandard, Capabilities: capsPackages},
	{ID: Yarn, DisplayName: "yarn (global)", Category: CategoryLanguage, Authority: AuthorityStandard, Capabilities: capsPackages},
	{ID: Pip, DisplayName: "pip", Category: CategoryLanguage, Authority: AuthorityStandard, Capabilities: capsPinnable},
	{ID: Pipx, DisplayName: "pipx", Category: CategoryLanguage, Authority: AuthorityStandard, Capabilities: capsPackages},
	{ID: Poetry, DisplayName: "Poetry", Category: CategoryLanguage, Authority: AuthorityStandard, Capabilities: capsPackages},
	{ID: RubyGems, DisplayName: "RubyGems", Category: CategoryLanguage, Authority: AuthorityStandard, Capabilities: capsPackages},
	{ID: Bundler, DisplayName: "Bundler", Category: CategoryLanguage, Authority: AuthorityStandard, Capabilities: capsPackages},
	{ID: Cargo, DisplayName: "cargo", Category: CategoryLanguage, Authority: AuthorityStandard, Capabilities: capsPinnable},
	{ID: CargoBinstall, DisplayName: "cargo-binstall", Category: CategoryLanguage, Authority: AuthorityStandard, Capabilities: capsPackages},
	{ID: Sparkle, DisplayName: "Sparkle updaters", Category: CategoryGUIApp, Authority: AuthorityStandard, Capabilities: []Capability{ActionDetect, ActionListInstalled, ActionListOutdated}, Platforms: darwinOnly},
	{ID: Setapp, DisplayName: "Setapp", Category: CategoryGUIApp, Authority: AuthorityStandard, Capabilities: []Capability{ActionDetect, ActionListInstalled}, Platforms: darwinOnly},

	{ID: DockerDesktop, DisplayName: "Docker Desktop", Category: CategoryContainerVM, Authority: AuthorityDetectionOnly, Capabilities: capsDetectOnly},
	{ID: Podman, DisplayName: "Podman", Category: CategoryContainerVM, Authority: AuthorityDetectionOnly, Capabilities: capsDetectOnly},
	{ID: Colima, DisplayName: "Colima", Category: CategoryContainerVM, Authority: AuthorityDetectionOnly, Capabilities: capsDetectOnly, Platforms: unixLike},
	{ID: ParallelsDesktop, DisplayName: "Parallels Desktop", Category: CategoryContainerVM, Authority: AuthorityDetectionOnly, Capabilities: capsDetectOnly, Platforms: darwinOnly},
	{ID: XcodeCommandLineTools, DisplayName: "Xcode Command Line Tools", Category: CategorySecurity, Authority: AuthorityDetectionOnly, Capabilities: capsDetectOnly, Platforms: darwinOnly},
	{ID: Rosetta2, DisplayName: "Rosetta 2", Category: CategorySecurity, Authority: AuthorityDetectionOnly, Capabilities: capsDetectOnly, Platforms: darwinOnly},
	{ID: FirmwareUpdates, DisplayName: "Firmware updates", Category: CategorySecurity, Authority: AuthorityDetectionOnly, Capabilities: capsDetectOnly, Platforms: darwinOnly},
}

// Catalog returns the descriptors of every known manager.
func Catalog() []Descriptor {
	out := make([]Descriptor, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the catalogue descriptor for id.
func Lookup(id ID) (Descriptor, bool) {
	for _, d := range catalog {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// ParseID validates a user-supplied manager name against the catalogue.
func ParseID(s string) (ID, error) {
	if _, ok := Lookup(ID(s)); ok {
		return ID(s), nil
	}
	return "", Errorf(KindInvalidInput, "unknown manager %q", s)
}
