package executor

import "errors"

// ErrNoPrivileges is returned when a command needs elevation but the process
// is neither root nor able to use sudo.
var ErrNoPrivileges = errors.New("this operation requires root privileges, but neither running as root nor sudo is available")

// IsRoot reports whether the process runs as root/administrator.
func IsRoot() bool {
	return isRoot()
}

// HasSudo reports whether an elevation helper is available.
func HasSudo() bool {
	_, ok := elevator()
	return ok
}

// CanElevate reports whether elevated commands can run.
func CanElevate() bool {
	return isRoot() || HasSudo()
}

// CheckPrivileges returns ErrNoPrivileges if elevation is needed but
// impossible.
func CheckPrivileges(needsSudo bool) error {
	if !needsSudo {
		return nil
	}
	if !CanElevate() {
		return ErrNoPrivileges
	}
	return nil
}
