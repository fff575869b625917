package saltapi

import (
	"fmt"
	"net/url"
	"time"

	"github.com/eugenetaranov/boltsalt/internal/connector"
)

// DefaultTimeout bounds every request to salt-api when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Config holds the salt-api connection settings. It is fixed when the
// connector is created.
type Config struct {
	// URL is the salt-api endpoint that accepts lowstate POSTs.
	URL string

	// Token is sent as X-Auth-Token on every request. Never log it.
	Token string

	// SkipCertValidation disables TLS certificate verification. The zero
	// value verifies certificates.
	SkipCertValidation bool

	// Timeout bounds each HTTP request. Zero selects DefaultTimeout.
	Timeout time.Duration

	// Retries is how many times idempotent transfers are retried after a
	// transport failure. Commands are never retried.
	Retries int
}

// DefaultConfig returns a Config with certificate validation enabled.
func DefaultConfig() Config {
	return Config{
		Timeout: DefaultTimeout,
	}
}

// Validate checks that the required settings are present and usable.
func (c Config) Validate() error {
	if c.URL == "" {
		return connector.Errorf(connector.ErrConfiguration, "", "salt-api url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return connector.NewError(connector.ErrConfiguration, "", fmt.Errorf("invalid salt-api url: %w", err))
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return connector.Errorf(connector.ErrConfiguration, "", "salt-api url must be an absolute http(s) url, got %q", c.URL)
	}
	if c.Token == "" {
		return connector.Errorf(connector.ErrConfiguration, "", "salt-api token is required")
	}
	if c.Timeout < 0 {
		return connector.Errorf(connector.ErrConfiguration, "", "timeout cannot be negative")
	}
	if c.Retries < 0 {
		return connector.Errorf(connector.ErrConfiguration, "", "retries cannot be negative")
	}
	return nil
}

func (c Config) timeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// String describes the configuration with the token redacted.
func (c Config) String() string {
	token := ""
	if c.Token != "" {
		token = "<redacted>"
	}
	return fmt.Sprintf("url=%s token=%s validate_certs=%t timeout=%s retries=%d",
		c.URL, token, !c.SkipCertValidation, c.timeout(), c.Retries)
}
