// Package connector defines the interface for executing commands on target systems.
package connector

import (
	"context"
	"io"
)

// Result holds the output from command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the command exited with status zero.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Connector is the interface for connecting to and executing commands on targets.
//
// A Connector addresses exactly one host and is not safe for concurrent use;
// callers that need parallelism create one Connector per host.
type Connector interface {
	// Connect prepares the connector for use. It does not have to contact
	// the target.
	Connect(ctx context.Context) error

	// Execute runs a command on the target and returns the result. A
	// non-zero exit code is reported in the Result, not as an error.
	Execute(ctx context.Context, cmd string) (*Result, error)

	// ExecuteInput runs a command with in piped to its standard input.
	// Connectors that cannot stream input fail with ErrUnsupported.
	ExecuteInput(ctx context.Context, cmd string, in io.Reader) (*Result, error)

	// Upload copies the local file at localPath to remotePath on the target.
	Upload(ctx context.Context, localPath, remotePath string) error

	// Download copies remotePath on the target to the local file at localPath.
	Download(ctx context.Context, remotePath, localPath string) error

	// Close terminates the connection. It is safe to call more than once.
	Close() error

	// String returns a human-readable description of the connection.
	String() string
}
