// Package connectors defines how gapq hands a leased gap to an external handler.
package connectors

import "context"

// Request is one handler invocation.
type Request struct {
	Command string
	Args    []string
	// Stdin is written to the handler's standard input.
	Stdin []byte
	// Env is appended to the inherited environment.
	Env []string
}

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// Connector defines the interface for executing handlers.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Execute runs a handler and returns the result.
	Execute(ctx context.Context, req Request) (*ExecResult, error)

	// IsAllowed checks if a command is allowed to execute.
	IsAllowed(cmd string) bool
}
