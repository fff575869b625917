package saltapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/eugenetaranov/boltsalt/internal/connector"
)

// maxResponseSize caps how much of a salt-api reply is read. Downloads come
// back base64 encoded inside the reply, so this also bounds fetchable files.
const maxResponseSize = 256 << 20

// StatusError is returned when salt-api answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("salt-api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("salt-api returned status %d: %s", e.StatusCode, e.Body)
}

// session is the authenticated HTTP client shared by every operation of
// one connector.
type session struct {
	client  *http.Client
	header  http.Header
	owned   bool
	maxBody int64
}

// newSession builds a session for cfg. When client is nil a dedicated
// client is created with cfg's TLS and timeout settings.
func newSession(cfg Config, client *http.Client) *session {
	owned := false
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: cfg.SkipCertValidation, //nolint:gosec // operator opt-out via validate_certs
		}
		client = &http.Client{
			Transport: transport,
			Timeout:   cfg.timeout(),
		}
		owned = true
	}

	header := make(http.Header)
	header.Set("X-Auth-Token", cfg.Token)
	header.Set("Accept", "application/json")
	header.Set("Content-Type", "application/json")

	return &session{client: client, header: header, owned: owned, maxBody: maxResponseSize}
}

// post sends payload as JSON to endpoint and returns the raw response body.
// Failures are classified as connector.ErrTransport.
func (s *session) post(ctx context.Context, op, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, connector.NewError(connector.ErrProtocol, op, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, connector.NewError(connector.ErrTransport, op, err)
	}
	for k, v := range s.header {
		req.Header[k] = v
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, connector.NewError(connector.ErrTransport, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		return nil, connector.NewError(connector.ErrTransport, op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, connector.NewError(connector.ErrTransport, op, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(bytes.TrimSpace(data)), 512),
		})
	}
	if int64(len(data)) > s.maxBody {
		return nil, connector.Errorf(connector.ErrProtocol, op, "response exceeds %d bytes", s.maxBody)
	}

	return data, nil
}

func (s *session) close() {
	if s.owned {
		s.client.CloseIdleConnections()
	}
}

