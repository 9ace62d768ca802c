//go:build windows

package executor

import (
	"os/exec"

	"golang.org/x/sys/windows"
)

// isRoot reports membership in the Administrators group.
func isRoot() bool {
	var sid *windows.SID
	err := windows.AllocateAndInitializeSid(
		&windows.SECURITY_NT_AUTHORITY,
		2,
		windows.SECURITY_BUILTIN_DOMAIN_RID,
		windows.DOMAIN_ALIAS_RID_ADMINS,
		0, 0, 0, 0, 0, 0,
		&sid)
	if err != nil {
		return false
	}
	defer windows.FreeSid(sid)

	member, err := windows.Token(0).IsMember(sid)
	if err != nil {
		return false
	}
	return member
}

// elevator prefers gsudo, which understands -n, over the Windows 11 sudo.
func elevator() (string, bool) {
	for _, name := range []string{"gsudo", "sudo"} {
		if _, err := exec.LookPath(name); err == nil {
			return name, true
		}
	}
	return "", false
}
