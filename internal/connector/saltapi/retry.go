package saltapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/eugenetaranov/boltsalt/internal/connector"
)

const (
	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// retryable reports whether err is a transport failure worth another
// attempt. Client errors such as a rejected token are final.
func retryable(err error) bool {
	if !errors.Is(err, connector.ErrTransport) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

func newRetryPolicy(retries int) retrypolicy.RetryPolicy[any] {
	return retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return retryable(err)
		}).
		WithMaxRetries(retries).
		WithBackoff(retryBaseDelay, retryMaxDelay).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		Build()
}

// withRetry runs fn once, plus up to c.cfg.Retries more times on
// retryable failures. Only idempotent operations go through here.
// A context that ends between attempts is reported as ErrTransport.
func (c *Connector) withRetry(ctx context.Context, op string, fn func() error) error {
	if c.cfg.Retries == 0 {
		return fn()
	}
	_, err := failsafe.With(c.retryPolicy).WithContext(ctx).Get(func() (any, error) {
		return nil, fn()
	})
	if err != nil && isContextErr(err) && !errors.Is(err, connector.ErrTransport) {
		return connector.NewError(connector.ErrTransport, op, err)
	}
	return err
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
