package saltapi

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/boltsalt/internal/connector"
)

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.Token = "s3cret"
	return cfg
}

func tlsConfigOf(t *testing.T, s *session) *tls.Config {
	t.Helper()
	transport, ok := s.client.Transport.(*http.Transport)
	require.True(t, ok, "session should own an *http.Transport")
	return transport.TLSClientConfig
}

func TestSessionCertificateValidation(t *testing.T) {
	t.Run("validate by default", func(t *testing.T) {
		s := newSession(testConfig("https://salt.example.com"), nil)
		tlsCfg := tlsConfigOf(t, s)
		require.NotNil(t, tlsCfg)
		assert.False(t, tlsCfg.InsecureSkipVerify)
	})

	t.Run("zero value config validates", func(t *testing.T) {
		c, err := New("minion1", Config{URL: "https://salt.example.com", Token: "t"})
		require.NoError(t, err)
		require.NoError(t, c.Connect(context.Background()))
		assert.False(t, tlsConfigOf(t, c.session()).InsecureSkipVerify)
	})

	t.Run("skip validation", func(t *testing.T) {
		cfg := testConfig("https://salt.example.com")
		cfg.SkipCertValidation = true
		s := newSession(cfg, nil)
		assert.True(t, tlsConfigOf(t, s).InsecureSkipVerify)
		assert.Contains(t, cfg.String(), "validate_certs=false")
	})
}

func TestSessionTimeout(t *testing.T) {
	cfg := testConfig("http://salt")
	cfg.Timeout = 0
	assert.Equal(t, DefaultTimeout, newSession(cfg, nil).client.Timeout)

	cfg.Timeout = 5 * time.Second
	assert.Equal(t, 5*time.Second, newSession(cfg, nil).client.Timeout)
}

func TestSessionInjectedClient(t *testing.T) {
	client := &http.Client{}
	s := newSession(testConfig("http://salt"), client)
	assert.Same(t, client, s.client)
	assert.False(t, s.owned)
}

func TestSessionIsCreatedOnce(t *testing.T) {
	c, err := New("minion1", testConfig("http://salt.example.com"))
	require.NoError(t, err)
	assert.False(t, c.Connected())

	require.NoError(t, c.Connect(context.Background()))
	first := c.session()
	assert.Same(t, first, c.session())
	assert.True(t, c.Connected())

	require.NoError(t, c.Connect(context.Background()))
	assert.Same(t, first, c.session())

	require.NoError(t, c.Close())
	assert.Nil(t, c.sess)
	assert.False(t, c.Connected())
}

func TestSessionPostHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{"return":[{}]}`))
	}))
	defer srv.Close()

	s := newSession(testConfig(srv.URL), nil)
	body, err := s.post(context.Background(), "execute", srv.URL, newLowstate("m", FunPing))
	require.NoError(t, err)
	assert.JSONEq(t, `{"return":[{}]}`, string(body))

	assert.Equal(t, "s3cret", got.Get("X-Auth-Token"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "application/json", got.Get("Accept"))
}

func TestSessionPostStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "401 Unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := newSession(testConfig(srv.URL), nil)
	_, err := s.post(context.Background(), "execute", srv.URL, newLowstate("m", FunPing))
	require.Error(t, err)
	assert.ErrorIs(t, err, connector.ErrTransport)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "401 Unauthorized", se.Body)
}

func TestSessionPostResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"return":[{"m":true}]}`))
	}))
	defer srv.Close()

	s := newSession(testConfig(srv.URL), nil)
	s.maxBody = 8
	_, err := s.post(context.Background(), "download", srv.URL, newLowstate("m", FunPing))
	assert.ErrorIs(t, err, connector.ErrProtocol)
	assert.ErrorContains(t, err, "response exceeds 8 bytes")

	s.maxBody = 1024
	body, err := s.post(context.Background(), "download", srv.URL, newLowstate("m", FunPing))
	require.NoError(t, err)
	assert.JSONEq(t, `{"return":[{"m":true}]}`, string(body))
}

func TestSessionPostCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newSession(testConfig(srv.URL), nil)
	_, err := s.post(ctx, "execute", srv.URL, newLowstate("m", FunPing))
	assert.ErrorIs(t, err, connector.ErrTransport)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing url", func(c *Config) { c.URL = "" }, true},
		{"relative url", func(c *Config) { c.URL = "salt.example.com/run" }, true},
		{"ftp url", func(c *Config) { c.URL = "ftp://salt.example.com" }, true},
		{"missing token", func(c *Config) { c.Token = "" }, true},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, true},
		{"negative retries", func(c *Config) { c.Retries = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("https://salt.example.com:8000/")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, connector.ErrConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigStringRedactsToken(t *testing.T) {
	s := testConfig("https://salt.example.com").String()
	assert.NotContains(t, s, "s3cret")
	assert.Contains(t, s, "<redacted>")
	assert.Contains(t, s, "validate_certs=true")
}

func TestHostResult(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr string
	}{
		{"found", `{"return":[{"m1":{"retcode":0}}]}`, `{"retcode":0}`, ""},
		{"not json", `<html>`, "", "invalid response body"},
		{"no return", `{}`, "", "no return entries"},
		{"empty return", `{"return":[]}`, "", "no return entries"},
		{"return not a map", `{"return":["oops"]}`, "", "not a minion map"},
		{"other host", `{"return":[{"m2":true}]}`, "", `no result for minion "m1"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := hostResult([]byte(tt.body), "m1")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestDecodeExecReturn(t *testing.T) {
	ret, err := decodeExecReturn([]byte(`{"pid":12,"retcode":2,"stdout":"o","stderr":"e"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, *ret.Retcode)
	assert.Equal(t, "o", ret.Stdout)
	assert.Equal(t, "e", ret.Stderr)

	_, err = decodeExecReturn([]byte(`"Minion did not return. [No response]"`))
	assert.ErrorContains(t, err, "Minion did not return")

	_, err = decodeExecReturn([]byte(`false`))
	assert.Error(t, err)

	_, err = decodeExecReturn([]byte(`{"stdout":"no code"}`))
	assert.ErrorContains(t, err, "no retcode")
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(connector.NewError(connector.ErrTransport, "upload", errors.New("connection reset"))))
	assert.True(t, retryable(connector.NewError(connector.ErrTransport, "upload", &StatusError{StatusCode: 503})))
	assert.True(t, retryable(connector.NewError(connector.ErrTransport, "upload", &StatusError{StatusCode: 429})))
	assert.False(t, retryable(connector.NewError(connector.ErrTransport, "upload", &StatusError{StatusCode: 401})))
	assert.False(t, retryable(connector.NewError(connector.ErrProtocol, "upload", errors.New("bad json"))))
	assert.False(t, retryable(errors.New("read command exited with code 1")))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'/etc/hosts'`, shellQuote("/etc/hosts"))
	assert.Equal(t, `'/tmp/it'"'"'s'`, shellQuote("/tmp/it's"))
}
