// Package salttest runs an in-process salt-api endpoint for tests. It
// serves one minion whose functions are carried out on the local machine.
package salttest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/eugenetaranov/boltsalt/internal/connector/local"
	"github.com/eugenetaranov/boltsalt/internal/connector/saltapi"
)

// DefaultToken is the token a Master accepts unless WithToken is used.
const DefaultToken = "salttest-token"

// Request is one lowstate received by the Master.
type Request struct {
	Header   http.Header
	Lowstate saltapi.Lowstate
}

// Master is a fake salt-api server for a single minion.
type Master struct {
	// URL is the endpoint to configure connectors with.
	URL string

	server *httptest.Server
	token  string
	minion string

	mu        sync.Mutex
	requests  []Request
	overrides map[string]http.HandlerFunc
}

// Option configures a Master.
type Option func(*Master)

// WithToken sets the X-Auth-Token the Master accepts.
func WithToken(token string) Option {
	return func(m *Master) {
		m.token = token
	}
}

// NewMaster starts a plain HTTP master serving minion. It is shut down
// when the test ends.
func NewMaster(t testing.TB, minion string, opts ...Option) *Master {
	return start(t, minion, httptest.NewServer, opts...)
}

// NewTLSMaster starts a master behind a self-signed TLS certificate.
func NewTLSMaster(t testing.TB, minion string, opts ...Option) *Master {
	return start(t, minion, httptest.NewTLSServer, opts...)
}

func start(t testing.TB, minion string, serve func(http.Handler) *httptest.Server, opts ...Option) *Master {
	t.Helper()

	m := &Master{
		token:     DefaultToken,
		minion:    minion,
		overrides: make(map[string]http.HandlerFunc),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.server = serve(m)
	m.URL = m.server.URL
	t.Cleanup(m.server.Close)

	return m
}

// Close shuts the server down. Later requests fail to connect.
func (m *Master) Close() {
	m.server.Close()
}

// Token returns the token the Master accepts.
func (m *Master) Token() string {
	return m.token
}

// Client returns an HTTP client that trusts the master's certificate.
func (m *Master) Client() *http.Client {
	return m.server.Client()
}

// Handle replaces the master's behaviour for fun. The handler is called
// after authentication and request decoding.
func (m *Master) Handle(fun string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[fun] = h
}

// Requests returns every lowstate received so far.
func (m *Master) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls counts the requests received for fun.
func (m *Master) Calls(fun string) int {
	n := 0
	for _, r := range m.Requests() {
		if r.Lowstate.Fun == fun {
			n++
		}
	}
	return n
}

// ServeHTTP implements http.Handler.
func (m *Master) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "405 Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("X-Auth-Token") != m.token {
		http.Error(w, "401 Unauthorized", http.StatusUnauthorized)
		return
	}

	var chunks []saltapi.Lowstate
	if err := json.NewDecoder(r.Body).Decode(&chunks); err != nil || len(chunks) != 1 {
		http.Error(w, "400 Bad Request: expected one lowstate chunk", http.StatusBadRequest)
		return
	}
	low := chunks[0]

	m.mu.Lock()
	m.requests = append(m.requests, Request{Header: r.Header.Clone(), Lowstate: low})
	override := m.overrides[low.Fun]
	m.mu.Unlock()

	if override != nil {
		override(w, r)
		return
	}

	if low.Client != saltapi.ClientLocal || low.Target != m.minion {
		WriteReturn(w, map[string]any{})
		return
	}

	WriteReturn(w, map[string]any{m.minion: m.run(r.Context(), low)})
}

// run carries out one minion function and returns its result.
func (m *Master) run(ctx context.Context, low saltapi.Lowstate) any {
	switch low.Fun {
	case saltapi.FunExecCode:
		if len(low.Arg) != 2 {
			return "ERROR: cmd.exec_code_all takes lang and code"
		}
		runner := local.New(local.WithShell(low.Arg[0], "-c"))
		result, err := runner.Execute(ctx, low.Arg[1])
		if err != nil {
			return fmt.Sprintf("ERROR: %v", err)
		}
		return map[string]any{
			"pid":     os.Getpid(),
			"retcode": result.ExitCode,
			"stdout":  result.Stdout,
			"stderr":  result.Stderr,
		}

	case saltapi.FunDecodeFile:
		if len(low.Arg) != 2 {
			return "ERROR: hashutil.base64_decodefile takes instr and outfile"
		}
		data, err := base64.StdEncoding.DecodeString(low.Arg[0])
		if err != nil {
			return fmt.Sprintf("ERROR: %v", err)
		}
		if err := os.WriteFile(low.Arg[1], data, 0o644); err != nil {
			return fmt.Sprintf("ERROR: %v", err)
		}
		return true

	case saltapi.FunPing:
		return true

	default:
		return fmt.Sprintf("'%s' is not available.", low.Fun)
	}
}

// WriteReturn writes v as the single element of a salt-api return array.
func WriteReturn(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"return": []any{v}})
}
