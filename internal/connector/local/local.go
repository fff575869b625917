// Package local provides a connector for executing commands on the local machine.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"

	"github.com/eugenetaranov/boltsalt/internal/connector"
)

// Connector executes commands on the local machine.
type Connector struct {
	shell     string
	shellArgs []string
	dir       string
	env       []string
}

// Option configures the local connector.
type Option func(*Connector)

// WithShell sets the interpreter and the arguments placed before the command.
func WithShell(shell string, args ...string) Option {
	return func(c *Connector) {
		c.shell = shell
		c.shellArgs = args
	}
}

// WithDir sets the working directory for commands.
func WithDir(dir string) Option {
	return func(c *Connector) {
		c.dir = dir
	}
}

// WithEnv adds an environment variable for commands.
func WithEnv(key, value string) Option {
	return func(c *Connector) {
		c.env = append(c.env, key+"="+value)
	}
}

// New creates a new local connector running commands with /bin/sh -c.
func New(opts ...Option) *Connector {
	c := &Connector{
		shell:     "/bin/sh",
		shellArgs: []string{"-c"},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect verifies the shell can be found.
func (c *Connector) Connect(ctx context.Context) error {
	if _, err := exec.LookPath(c.shell); err != nil {
		return connector.NewError(connector.ErrConfiguration, "connect", fmt.Errorf("shell %s not found: %w", c.shell, err))
	}
	return nil
}

// Execute runs a command locally and returns the result.
func (c *Connector) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	return c.ExecuteInput(ctx, cmd, nil)
}

// ExecuteInput runs a command locally with in connected to its stdin.
func (c *Connector) ExecuteInput(ctx context.Context, cmd string, in io.Reader) (*connector.Result, error) {
	args := append(append([]string{}, c.shellArgs...), cmd)
	execCmd := exec.CommandContext(ctx, c.shell, args...)
	execCmd.Dir = c.dir
	if len(c.env) > 0 {
		execCmd.Env = append(os.Environ(), c.env...)
	}
	if in != nil {
		execCmd.Stdin = in
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()

	result := &connector.Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Command failed to start or was killed
			return nil, connector.NewError(connector.ErrTransport, "execute", fmt.Errorf("failed to execute command: %w", err))
		}
	}

	return result, nil
}

// Upload copies localPath to remotePath, creating parent directories.
func (c *Connector) Upload(ctx context.Context, localPath, remotePath string) error {
	return copyFile(ctx, localPath, remotePath)
}

// Download copies remotePath to localPath.
func (c *Connector) Download(ctx context.Context, remotePath, localPath string) error {
	return copyFile(ctx, remotePath, localPath)
}

func copyFile(ctx context.Context, src, dst string) error {
	select {
	case <-ctx.Done():
		return &connector.TransferError{Src: src, Dst: dst, Err: ctx.Err()}
	default:
	}

	in, err := os.Open(src)
	if err != nil {
		return &connector.TransferError{Src: src, Dst: dst, Err: err}
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &connector.TransferError{Src: src, Dst: dst, Err: err}
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &connector.TransferError{Src: src, Dst: dst, Err: err}
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return &connector.TransferError{Src: src, Dst: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &connector.TransferError{Src: src, Dst: dst, Err: err}
	}

	return nil
}

// Close is a no-op for local connections.
func (c *Connector) Close() error {
	return nil
}

// String returns a description of the connection.
func (c *Connector) String() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	u, err := user.Current()
	if err != nil {
		return fmt.Sprintf("local://%s", hostname)
	}
	return fmt.Sprintf("local://%s@%s", u.Username, hostname)
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
