// Package main is the entrypoint for the boltsalt CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eugenetaranov/boltsalt/internal/config"
	"github.com/eugenetaranov/boltsalt/internal/connector"
	"github.com/eugenetaranov/boltsalt/internal/connector/local"
	"github.com/eugenetaranov/boltsalt/internal/connector/saltapi"
	"github.com/eugenetaranov/boltsalt/internal/logging"
	"github.com/eugenetaranov/boltsalt/internal/output"
	"github.com/eugenetaranov/boltsalt/pkg/facts"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Connection types accepted by --connection.
const (
	connSaltAPI = "saltapi"
	connLocal   = "local"
)

// exitCodeError carries a remote exit code out of a command.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("remote command exited with code %d", e.code)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}

	noColor, _ := root.PersistentFlags().GetBool("no-color")
	errOut := output.New(stderr)
	errOut.SetColor(!noColor)
	errOut.Error("%v", err)
	if errors.Is(err, connector.ErrConfiguration) {
		return 2
	}
	return 1
}

// flags holds the global command-line flags.
type flags struct {
	configPath    string
	url           string
	token         string
	validateCerts bool
	timeout       time.Duration
	retries       int
	shell         string
	connection    string
	debug         bool
	noColor       bool
	logFormat     string
}

// app is the state shared by subcommands once flags are parsed.
type app struct {
	cfg    config.Config
	out    *output.Output
	logger *logrus.Logger
	conn   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &flags{}
	a := &app{}

	root := &cobra.Command{
		Use:   "boltsalt",
		Short: "Run commands and copy files on Salt minions through salt-api",
		Long: `boltsalt executes commands and transfers files on hosts managed by a
Salt master, using the salt-api REST interface instead of SSH.

Settings are read from ~/.boltsalt/config.yaml (or --config), then from
SALTAPI_* environment variables, then from flags.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd, f, stdout, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "Config file (default ~/.boltsalt/config.yaml)")
	pf.StringVar(&f.url, "url", "", "salt-api endpoint URL")
	pf.StringVar(&f.token, "token", "", "salt-api token sent as X-Auth-Token")
	pf.BoolVar(&f.validateCerts, "validate-certs", true, "Verify the salt-api TLS certificate")
	pf.DurationVar(&f.timeout, "timeout", saltapi.DefaultTimeout, "Timeout for each salt-api request")
	pf.IntVar(&f.retries, "retries", 0, "Retries for file transfers after transport errors")
	pf.StringVar(&f.shell, "shell", saltapi.DefaultShell, "Shell the minion runs commands with")
	pf.StringVar(&f.connection, "connection", connSaltAPI, "Connection type: saltapi or local")
	pf.BoolVarP(&f.debug, "debug", "d", false, "Enable debug output")
	pf.BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	pf.StringVar(&f.logFormat, "log-format", "", "Log format: text or json")

	root.AddCommand(
		newExecCmd(a),
		newPutCmd(a),
		newFetchCmd(a),
		newPingCmd(a),
		newFactsCmd(a),
	)

	return root
}

// setup resolves configuration: file, then environment, then changed flags.
func (a *app) setup(cmd *cobra.Command, f *flags, stdout, stderr io.Writer) error {
	path, required := f.configPath, true
	if path == "" {
		required = false
		if p, err := config.DefaultPath(); err == nil {
			path = p
		}
	}

	cfg, err := config.Load(path, required)
	if err != nil {
		return err
	}

	changed := cmd.Flags().Changed
	if changed("url") {
		cfg.URL = f.url
	}
	if changed("token") {
		cfg.Token = f.token
	}
	if changed("validate-certs") {
		cfg.ValidateCerts = f.validateCerts
	}
	if changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if changed("retries") {
		cfg.Retries = f.retries
	}
	if changed("shell") {
		cfg.Shell = f.shell
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if f.debug {
		cfg.LogLevel = "debug"
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return connector.NewError(connector.ErrConfiguration, "", err)
	}
	logger.SetOutput(stderr)

	switch f.connection {
	case connSaltAPI, connLocal:
	default:
		return connector.Errorf(connector.ErrConfiguration, "", "unknown connection type %q", f.connection)
	}

	a.cfg = cfg
	a.logger = logger
	a.conn = f.connection
	a.out = output.New(stdout)
	a.out.SetColor(!f.noColor)
	a.out.SetDebug(f.debug)

	logger.WithField("config", cfg.SaltAPI().String()).Debug("configuration loaded")
	return nil
}

// connect builds and connects the connector for minion.
func (a *app) connect(ctx context.Context, minion string) (connector.Connector, error) {
	var conn connector.Connector

	switch a.conn {
	case connLocal:
		conn = local.New()
	default:
		sc, err := saltapi.New(minion, a.cfg.SaltAPI(),
			saltapi.WithLogger(a.logger),
			saltapi.WithShell(a.cfg.Shell),
			saltapi.WithReadCommand(a.cfg.ReadCommand),
		)
		if err != nil {
			return nil, err
		}
		conn = sc
	}

	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	a.out.Debug("connected to %s", conn)
	return conn, nil
}

func newExecCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <minion> <command>...",
		Short: "Run a shell command on a minion",
		Long: `Run a shell command on a minion and print its output.

The exit code of boltsalt is the exit code of the remote command.

Examples:
  boltsalt exec web01 uptime
  boltsalt exec web01 -- systemctl status nginx`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			minion, command := args[0], strings.Join(args[1:], " ")

			conn, err := a.connect(cmd.Context(), minion)
			if err != nil {
				return err
			}
			defer conn.Close()

			result, err := conn.Execute(cmd.Context(), command)
			if err != nil {
				return err
			}

			a.out.Result(minion, command, result)
			if result.ExitCode != 0 {
				a.out.Warn("command on %s exited with code %d", minion, result.ExitCode)
				return &exitCodeError{code: result.ExitCode}
			}
			return nil
		},
	}
}

func newPutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put <minion> <local-path> <remote-path>",
		Short: "Upload a local file to a minion",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			minion, src, dst := args[0], args[1], args[2]

			conn, err := a.connect(cmd.Context(), minion)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.Upload(cmd.Context(), src, dst); err != nil {
				return err
			}
			a.out.Transfer(minion, "put", src, dst)
			return nil
		},
	}
}

func newFetchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <minion> <remote-path> <local-path>",
		Short: "Download a file from a minion",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			minion, src, dst := args[0], args[1], args[2]

			conn, err := a.connect(cmd.Context(), minion)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.Download(cmd.Context(), src, dst); err != nil {
				return err
			}
			a.out.Transfer(minion, "fetch", src, dst)
			return nil
		},
	}
}

// pinger is implemented by connectors that can check liveness.
type pinger interface {
	Ping(ctx context.Context) error
}

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping <minion>",
		Short: "Check that a minion answers test.ping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minion := args[0]

			conn, err := a.connect(cmd.Context(), minion)
			if err != nil {
				return err
			}
			defer conn.Close()

			p, ok := conn.(pinger)
			if !ok {
				return connector.Errorf(connector.ErrUnsupported, "ping", "%s connections cannot ping", a.conn)
			}
			if err := p.Ping(cmd.Context()); err != nil {
				return err
			}
			a.out.Info("%s is alive", minion)
			return nil
		},
	}
}

func newFactsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "facts <minion>",
		Short: "Show system facts gathered from a minion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minion := args[0]

			conn, err := a.connect(cmd.Context(), minion)
			if err != nil {
				return err
			}
			defer conn.Close()

			f, err := facts.Gather(cmd.Context(), conn)
			if err != nil {
				return err
			}
			a.out.Facts(minion, f)
			return nil
		},
	}
}
