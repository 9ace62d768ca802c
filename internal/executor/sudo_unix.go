//go:build !windows

package executor

import (
	"os"
	"os/exec"
)

func isRoot() bool {
	return os.Geteuid() == 0
}

// elevator returns the sudo binary when it is on PATH.
func elevator() (string, bool) {
	if _, err := exec.LookPath("sudo"); err != nil {
		return "", false
	}
	return "sudo", true
}
