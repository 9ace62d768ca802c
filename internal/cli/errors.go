package cli

import "errors"

var (
	// ErrNoManager is returned when a command needs --manager and none was given.
	ErrNoManager = errors.New("no manager specified; pass one with --manager")

	// ErrNoPackages is returned when no packages are specified.
	ErrNoPackages = errors.New("no packages specified")

	// ErrManagerDisabled is returned when the chosen manager is not registered.
	ErrManagerDisabled = errors.New("manager is not available on this system or is disabled in the config")

	// ErrPackageNotFound is returned when a package cannot be found.
	ErrPackageNotFound = errors.New("package not found")

	// ErrAborted is returned when the user aborts an operation.
	ErrAborted = errors.New("operation aborted by user")

	// ErrInterrupted is returned when a signal cancelled a running task.
	ErrInterrupted = errors.New("interrupted")

	// ErrTaskCancelled is returned when a task ended cancelled.
	ErrTaskCancelled = errors.New("task was cancelled")
)
