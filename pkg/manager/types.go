// Package manager provides the core abstraction shared by every package/tool
// manager adapter: identities, capabilities, the request/response vocabulary
// and the structured error taxonomy.
package manager

import (
	"time"
)

// ID identifies one backend package manager. It is also the key the task
// queue serializes on.
type ID string

// Authority is a manager's declared precedence class. Bulk operations run one
// authority tier at a time, in Phases order.
type Authority string

const (
	// AuthorityAuthoritative covers version/runtime managers whose state other
	// managers depend on (mise, asdf, rustup).
	AuthorityAuthoritative Authority = "authoritative"
	// AuthorityStandard covers ordinary language and app package managers.
	AuthorityStandard Authority = "standard"
	// AuthorityGuarded covers system-level managers that must observe the
	// authoritative tiers' final state (homebrew, softwareupdate).
	AuthorityGuarded Authority = "guarded"
	// AuthorityDetectionOnly covers tools stevedore can only detect.
	AuthorityDetectionOnly Authority = "detection_only"
)

// Phases returns the authority tiers in bulk-operation order.
func Phases() []Authority {
	return []Authority{
		AuthorityAuthoritative,
		AuthorityStandard,
		AuthorityGuarded,
		AuthorityDetectionOnly,
	}
}

// Rank returns the position of a in Phases, or len(Phases) for an unknown tier.
func (a Authority) Rank() int {
	for i, p := range Phases() {
		if p == a {
			return i
		}
	}
	return len(Phases())
}

// Category groups managers by what they manage.
type Category string

const (
	CategoryToolRuntime Category = "tool_runtime"
	CategorySystemOS    Category = "system_os"
	CategoryLanguage    Category = "language"
	CategoryGUIApp      Category = "gui_app"
	CategoryContainerVM Category = "container_vm"
	CategorySecurity    Category = "security"
)

// Action is the verb carried by a Request.
type Action string

const (
	ActionDetect        Action = "detect"
	ActionRefresh       Action = "refresh"
	ActionSearch        Action = "search"
	ActionListInstalled Action = "list_installed"
	ActionListOutdated  Action = "list_outdated"
	ActionInstall       Action = "install"
	ActionUninstall     Action = "uninstall"
	ActionUpgrade       Action = "upgrade"
	ActionPin           Action = "pin"
	ActionUnpin         Action = "unpin"
)

// IsMutating reports whether the action changes installed software or pins.
func (a Action) IsMutating() bool {
	switch a {
	case ActionInstall, ActionUninstall, ActionUpgrade, ActionPin, ActionUnpin:
		return true
	}
	return false
}

// Capability is an action a manager declares it supports. Capabilities and
// actions share one vocabulary.
type Capability = Action

// TaskKind classifies a queued task. It is derived from the request action.
type TaskKind string

const (
	TaskDetection TaskKind = "detection"
	TaskRefresh   TaskKind = "refresh"
	TaskSearch    TaskKind = "search"
	TaskInstall   TaskKind = "install"
	TaskUninstall TaskKind = "uninstall"
	TaskUpgrade   TaskKind = "upgrade"
	TaskPin       TaskKind = "pin"
	TaskUnpin     TaskKind = "unpin"
)

// TaskKind maps the action onto the task classification. Both list actions
// are refresh work.
func (a Action) TaskKind() TaskKind {
	switch a {
	case ActionDetect:
		return TaskDetection
	case ActionRefresh, ActionListInstalled, ActionListOutdated:
		return TaskRefresh
	case ActionSearch:
		return TaskSearch
	case ActionInstall:
		return TaskInstall
	case ActionUninstall:
		return TaskUninstall
	case ActionUpgrade:
		return TaskUpgrade
	case ActionPin:
		return TaskPin
	case ActionUnpin:
		return TaskUnpin
	}
	return TaskRefresh
}

// PackageRef names a package inside one manager.
type PackageRef struct {
	Manager ID     `json:"manager"`
	Name    string `json:"name"`
}

// SearchQuery is the payload of a search request.
type SearchQuery struct {
	Text     string    `json:"text"`
	IssuedAt time.Time `json:"issued_at"`
	Limit    int       `json:"limit,omitempty"`
}

// Request is a tagged request: Action selects which payload fields apply.
type Request struct {
	Action  Action      `json:"action"`
	Query   SearchQuery `json:"query,omitempty"`
	Package PackageRef  `json:"package,omitempty"`
	// Version is the optional target version for install, upgrade and pin.
	Version string `json:"version,omitempty"`
}

// DetectRequest asks the adapter whether its tool is installed.
func DetectRequest() Request { return Request{Action: ActionDetect} }

// RefreshRequest asks the adapter to refresh its metadata.
func RefreshRequest() Request { return Request{Action: ActionRefresh} }

// ListInstalledRequest lists installed packages.
func ListInstalledRequest() Request { return Request{Action: ActionListInstalled} }

// ListOutdatedRequest lists packages with a newer candidate.
func ListOutdatedRequest() Request { return Request{Action: ActionListOutdated} }

// SearchRequest searches the manager's remote index.
func SearchRequest(text string) Request {
	return Request{Action: ActionSearch, Query: SearchQuery{Text: text, IssuedAt: time.Now()}}
}

// PackageRequest builds an install/uninstall/upgrade/pin/unpin request.
func PackageRequest(action Action, pkg PackageRef, version string) Request {
	return Request{Action: action, Package: pkg, Version: version}
}

// DetectionInfo is the result of a detect action.
type DetectionInfo struct {
	Installed      bool   `json:"installed"`
	Version        string `json:"version,omitempty"`
	ExecutablePath string `json:"executable_path,omitempty"`
}

// Package is an installed package.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Source  ID     `json:"source"`
	Pinned  bool   `json:"pinned,omitempty"`
}

// OutdatedPackage is an installed package with a newer candidate version.
type OutdatedPackage struct {
	Name             string `json:"name"`
	InstalledVersion string `json:"installed_version"`
	CandidateVersion string `json:"candidate_version"`
	Source           ID     `json:"source"`
	Pinned           bool   `json:"pinned,omitempty"`
}

// SearchResult is one hit from a manager's remote index.
type SearchResult struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Source      ID     `json:"source"`
}

// MutationResult records what an install/uninstall/upgrade/pin/unpin changed.
type MutationResult struct {
	Package       PackageRef `json:"package"`
	Action        Action     `json:"action"`
	BeforeVersion string     `json:"before_version,omitempty"`
	AfterVersion  string     `json:"after_version,omitempty"`
}

// Response is tagged the same way as Request; only the field matching Action
// is set.
type Response struct {
	Action    Action            `json:"action"`
	Detection *DetectionInfo    `json:"detection,omitempty"`
	Installed []Package         `json:"installed,omitempty"`
	Outdated  []OutdatedPackage `json:"outdated,omitempty"`
	Results   []SearchResult    `json:"results,omitempty"`
	Mutation  *MutationResult   `json:"mutation,omitempty"`
}
