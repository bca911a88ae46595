// Package localexec runs gap handlers as local processes, restricted to an
// allowlist of programs.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fentz26/gapq/internal/connectors"
)

// ErrNotAllowed is returned for programs outside the allowlist.
var ErrNotAllowed = errors.New("command not allowed")

// LocalExec implements the Connector interface for local command execution.
type LocalExec struct {
	workDir string
	allowed map[string]bool
}

// New creates a LocalExec connector that may only start the given programs.
// Entries match either the exact command or its base name.
func New(workDir string, allowed []string) *LocalExec {
	l := &LocalExec{workDir: workDir, allowed: make(map[string]bool, len(allowed))}
	for _, a := range allowed {
		l.allowed[a] = true
	}
	return l
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks if a command is in the allowlist.
func (l *LocalExec) IsAllowed(cmd string) bool {
	if cmd == "" {
		return false
	}
	return l.allowed[cmd] || l.allowed[filepath.Base(cmd)]
}

// Execute runs the handler if it's in the allowlist. A non-zero exit is
// reported in the result, not as an error.
func (l *LocalExec) Execute(ctx context.Context, req connectors.Request) (*connectors.ExecResult, error) {
	if !l.IsAllowed(req.Command) {
		return nil, fmt.Errorf("%w: %s", ErrNotAllowed, req.Command)
	}

	execCmd := exec.CommandContext(ctx, req.Command, req.Args...)
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}
	execCmd.Env = append(os.Environ(), req.Env...)
	execCmd.Stdin = bytes.NewReader(req.Stdin)

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()

	exitCode := 0
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
		} else {
			return nil, fmt.Errorf("exec error: %w", err)
		}
	}

	return &connectors.ExecResult{
		Command:  req.Command,
		Args:     req.Args,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}
