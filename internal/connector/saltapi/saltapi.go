// Package saltapi provides a connector that runs commands and transfers
// files on Salt minions through the salt-api REST interface, instead of
// opening a shell on the host directly.
//
// Every operation is a single POST of a lowstate to the configured endpoint
// using the "local" client:
//
//	execute   cmd.exec_code_all          [shell, command]
//	upload    hashutil.base64_decodefile [base64 content, remote path]
//	download  cmd.exec_code_all          [shell, "base64 -w0 < path"]
//
// Download always substitutes the quoted remote path into its read
// command template (see WithReadCommand).
package saltapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/eugenetaranov/boltsalt/internal/connector"
	"github.com/eugenetaranov/boltsalt/internal/logging"
)

// DefaultShell is the interpreter cmd.exec_code_all runs commands with.
const DefaultShell = "bash"

// DefaultReadCommand prints a remote file as a single base64 line. The %s
// verb receives the shell-quoted path.
const DefaultReadCommand = "base64 -w0 < %s"

// Connector talks to one Salt minion through salt-api.
//
// A Connector is not safe for concurrent use. Create one per minion.
type Connector struct {
	host        string
	cfg         Config
	shell       string
	readCommand string
	httpClient  *http.Client
	logger      logging.Logger
	retryPolicy retrypolicy.RetryPolicy[any]

	sess      *session
	connected bool
}

// Option configures the salt-api connector.
type Option func(*Connector)

// WithLogger sets the logger for command and transfer tracing.
func WithLogger(l logging.Logger) Option {
	return func(c *Connector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient makes the session use client instead of building its own.
// The TLS and timeout settings of Config are not applied to it.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) {
		c.httpClient = client
	}
}

// WithShell sets the interpreter passed to cmd.exec_code_all.
func WithShell(shell string) Option {
	return func(c *Connector) {
		if shell != "" {
			c.shell = shell
		}
	}
}

// WithReadCommand sets the command template Download runs on the minion.
// It must contain exactly one %s for the quoted path and print the file
// content base64 encoded on stdout.
func WithReadCommand(tmpl string) Option {
	return func(c *Connector) {
		if tmpl != "" {
			c.readCommand = tmpl
		}
	}
}

// New creates a connector targeting the minion with ID host. The
// configuration is validated immediately; no request is made.
func New(host string, cfg Config, opts ...Option) (*Connector, error) {
	if host == "" {
		return nil, connector.Errorf(connector.ErrConfiguration, "", "target minion id is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Connector{
		host:        host,
		cfg:         cfg,
		shell:       DefaultShell,
		readCommand: DefaultReadCommand,
		logger:      logging.Discard(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if strings.Count(c.readCommand, "%s") != 1 {
		return nil, connector.Errorf(connector.ErrConfiguration, "", "read command %q must contain exactly one %%s", c.readCommand)
	}
	if cfg.Retries > 0 {
		c.retryPolicy = newRetryPolicy(cfg.Retries)
	}

	return c, nil
}

// Host returns the minion ID this connector targets.
func (c *Connector) Host() string {
	return c.host
}

// Connected reports whether a session is currently held.
func (c *Connector) Connected() bool {
	return c.connected
}

// session returns the connector's session, creating it on first use.
func (c *Connector) session() *session {
	if c.sess == nil {
		c.sess = newSession(c.cfg, c.httpClient)
		c.connected = true
	}
	return c.sess
}

// Connect creates the HTTP session. It does not contact salt-api; a bad
// endpoint or token shows up on the first operation.
func (c *Connector) Connect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return connector.NewError(connector.ErrTransport, "connect", ctx.Err())
	default:
	}

	c.session()
	return nil
}

// call posts one lowstate and returns this minion's entry of the reply.
func (c *Connector) call(ctx context.Context, op, fun string, args ...string) (json.RawMessage, error) {
	body, err := c.session().post(ctx, op, c.cfg.URL, newLowstate(c.host, fun, args...))
	if err != nil {
		return nil, err
	}

	raw, err := hostResult(body, c.host)
	if err != nil {
		return nil, connector.NewError(connector.ErrProtocol, op, err)
	}
	return raw, nil
}

// Execute runs cmd on the minion. A non-zero exit code is returned in the
// result and logged as a warning; it is not an error.
func (c *Connector) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	log := c.logger.WithField("host", c.host)
	log.Debugf("EXEC %s", cmd)

	raw, err := c.call(ctx, "execute", FunExecCode, c.shell, cmd)
	if err != nil {
		return nil, err
	}

	ret, err := decodeExecReturn(raw)
	if err != nil {
		return nil, connector.NewError(connector.ErrProtocol, "execute", err)
	}

	result := &connector.Result{
		ExitCode: *ret.Retcode,
		Stdout:   ret.Stdout,
		Stderr:   ret.Stderr,
	}

	if result.ExitCode != 0 {
		log.WithFields(logging.Fields{
			"exit_code": result.ExitCode,
			"stderr":    strings.TrimSpace(result.Stderr),
		}).Warnf("command exited non-zero: %s", cmd)
	}

	return result, nil
}

// ExecuteInput runs cmd like Execute. salt-api cannot pipe data into a
// command, so any non-nil input fails with ErrUnsupported.
func (c *Connector) ExecuteInput(ctx context.Context, cmd string, in io.Reader) (*connector.Result, error) {
	if in != nil {
		return nil, connector.NewError(connector.ErrUnsupported, "execute",
			errors.New("salt-api connections do not support piping input to commands"))
	}
	return c.Execute(ctx, cmd)
}

// Upload writes the local file at localPath to remotePath on the minion.
// The remote path is made absolute first. The whole file is sent in one
// request.
func (c *Connector) Upload(ctx context.Context, localPath, remotePath string) error {
	remotePath = NormalizePath(remotePath, "/")
	c.logger.WithField("host", c.host).Debugf("PUT %s TO %s", localPath, remotePath)

	data, err := os.ReadFile(localPath)
	if err != nil {
		return &connector.TransferError{Src: localPath, Dst: remotePath, Err: err}
	}
	content := base64.StdEncoding.EncodeToString(data)

	err = c.withRetry(ctx, "upload", func() error {
		_, err := c.session().post(ctx, "upload", c.cfg.URL, newLowstate(c.host, FunDecodeFile, content, remotePath))
		return err
	})
	if err != nil {
		return &connector.TransferError{Src: localPath, Dst: remotePath, Err: err}
	}

	return nil
}

// Download fetches remotePath from the minion into the local file at
// localPath by running the read command and decoding its output.
func (c *Connector) Download(ctx context.Context, remotePath, localPath string) error {
	remotePath = NormalizePath(remotePath, "/")
	c.logger.WithField("host", c.host).Debugf("FETCH %s TO %s", remotePath, localPath)

	cmd := fmt.Sprintf(c.readCommand, shellQuote(remotePath))

	var data []byte
	err := c.withRetry(ctx, "download", func() error {
		result, err := c.Execute(ctx, cmd)
		if err != nil {
			return err
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("read command exited with code %d: %s", result.ExitCode, readFailure(result))
		}

		data, err = base64.StdEncoding.DecodeString(strings.TrimSpace(result.Stdout))
		if err != nil {
			return fmt.Errorf("failed to decode remote content: %w", err)
		}
		return nil
	})
	if err != nil {
		return &connector.TransferError{Src: remotePath, Dst: localPath, Err: err}
	}

	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return &connector.TransferError{Src: remotePath, Dst: localPath, Err: err}
	}

	return nil
}

// Ping asks the minion to answer test.ping. Connect never does this; use
// it when an explicit liveness check is wanted.
func (c *Connector) Ping(ctx context.Context) error {
	raw, err := c.call(ctx, "ping", FunPing)
	if err != nil {
		return err
	}

	var alive bool
	if err := json.Unmarshal(raw, &alive); err != nil || !alive {
		return connector.Errorf(connector.ErrProtocol, "ping", "minion %s did not answer test.ping: %s", c.host, truncate(string(raw), 200))
	}
	return nil
}

// Close drops the session. It is safe to call repeatedly, including on a
// connector that never connected.
func (c *Connector) Close() error {
	if c.sess != nil {
		c.sess.close()
		c.sess = nil
	}
	c.connected = false
	return nil
}

// String returns a description of the connection.
func (c *Connector) String() string {
	endpoint := c.cfg.URL
	if u, err := url.Parse(c.cfg.URL); err == nil && u.Host != "" {
		endpoint = u.Host
	}
	return fmt.Sprintf("saltapi://%s@%s", c.host, endpoint)
}

// readFailure describes the output of a failed read command. Both streams
// are included when both have content.
func readFailure(r *connector.Result) string {
	stderr, stdout := strings.TrimSpace(r.Stderr), strings.TrimSpace(r.Stdout)
	switch {
	case stderr != "" && stdout != "":
		return fmt.Sprintf("%s (stdout: %s)", stderr, truncate(stdout, 200))
	case stderr != "":
		return stderr
	default:
		return stdout
	}
}

// shellQuote quotes a string for safe use in shell commands.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\"'\"'") + "'"
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
