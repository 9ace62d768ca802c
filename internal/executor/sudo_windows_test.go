//go:build windows

package executor

import (
	"testing"
)

func TestIsRoot(t *testing.T) {
	// The result depends on the account running the tests.
	t.Logf("IsRoot() returned: %v", IsRoot())
}
