package httputil

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const DefaultTimeout = 30 * time.Second

const UserAgent = "solarcast/1.0 (+https://github.com/lox/solarcast)"

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: &userAgentTransport{base: http.DefaultTransport},
	}
}

// NewBreakerClient returns a client whose transport is guarded by a circuit
// breaker. Transport errors and 5xx responses count as failures; once the
// breaker opens, requests fail fast with gobreaker.ErrOpenState until the
// cool-down elapses.
func NewBreakerClient(name string, logger *zap.Logger) *http.Client {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				zap.String("client", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &http.Client{
		Timeout: DefaultTimeout,
		Transport: &breakerTransport{
			base: &userAgentTransport{base: http.DefaultTransport},
			cb:   gobreaker.NewCircuitBreaker(settings),
		},
	}
}

type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", UserAgent)
	}
	return t.base.RoundTrip(req)
}

type serverError struct {
	resp *http.Response
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server error: status %d", e.resp.StatusCode)
}

type breakerTransport struct {
	base http.RoundTripper
	cb   *gobreaker.CircuitBreaker
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	result, err := t.cb.Execute(func() (interface{}, error) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, &serverError{resp: resp}
		}
		return resp, nil
	})
	var se *serverError
	if errors.As(err, &se) {
		// The caller still sees the status and decides how to classify it.
		return se.resp, nil
	}
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}
