//go:build !windows

package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stevedore/pkg/manager"
)

func TestRunCapturesOutput(t *testing.T) {
	e := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := e.Run(ctx, Command{Program: "sh", Args: []string{"-c", "echo hello; echo oops >&2"}})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
}

func TestRunEnv(t *testing.T) {
	e := New()
	res, err := e.Run(context.Background(), Command{
		Program: "sh",
		Args:    []string{"-c", "echo $STEVEDORE_TEST_VAR"},
		Env:     []string{"STEVEDORE_TEST_VAR=set"},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "set" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	e := New()
	res, err := e.Run(context.Background(), Command{Program: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}})
	if !manager.IsKind(err, manager.KindProcessFailure) {
		t.Fatalf("expected process_failure, got %v", err)
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError in chain, got %T", err)
	}
	if exitErr.Code != 3 || res.ExitCode != 3 {
		t.Errorf("exit code = %d / %d, want 3", exitErr.Code, res.ExitCode)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error should carry the stderr tail: %v", err)
	}
}

func TestRunNotFound(t *testing.T) {
	e := New()
	_, err := e.Run(context.Background(), Command{Program: "stevedore-no-such-binary"})
	if !manager.IsKind(err, manager.KindProcessFailure) {
		t.Errorf("expected process_failure, got %v", err)
	}
}

func TestRunEmptyCommand(t *testing.T) {
	if _, err := New().Run(context.Background(), Command{}); !manager.IsKind(err, manager.KindInvalidInput) {
		t.Errorf("expected invalid_input, got %v", err)
	}
}

func TestRunTimeout(t *testing.T) {
	e := New()
	start := time.Now()
	_, err := e.Run(context.Background(), Command{Program: "sleep", Args: []string{"10"}, Timeout: 50 * time.Millisecond})
	if !manager.IsKind(err, manager.KindTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout did not stop the process")
	}
}

func TestRunContextCancellation(t *testing.T) {
	e := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, Command{Program: "sleep", Args: []string{"10"}})
	if !manager.IsKind(err, manager.KindCancelled) {
		t.Errorf("expected cancelled, got %v", err)
	}
}

func TestRunDryRunSkipsElevated(t *testing.T) {
	e := New(WithDryRun(true))
	if !e.DryRun() {
		t.Fatal("DryRun() should be true")
	}

	// Would fail if executed.
	res, err := e.Run(context.Background(), Command{Program: "false", Sudo: true})
	if err != nil || res.Stdout != "" {
		t.Errorf("elevated command in dry-run: %+v, %v", res, err)
	}

	res, err = e.Run(context.Background(), Command{Program: "false", Mutates: true})
	if err != nil || res.Stdout != "" {
		t.Errorf("mutating command in dry-run: %+v, %v", res, err)
	}

	// Read-only commands still run so detection works.
	res, err = e.Run(context.Background(), Command{Program: "echo", Args: []string{"hi"}})
	if err != nil || strings.TrimSpace(res.Stdout) != "hi" {
		t.Errorf("plain command in dry-run: %+v, %v", res, err)
	}
}

func TestCommandString(t *testing.T) {
	c := Command{Program: "brew", Args: []string{"upgrade", "wget"}, Sudo: true}
	if got := c.String(); got != "sudo brew upgrade wget" {
		t.Errorf("String() = %q", got)
	}
}

func TestLookPath(t *testing.T) {
	if _, err := New().LookPath("sh"); err != nil {
		t.Errorf("LookPath(sh) error: %v", err)
	}
}
