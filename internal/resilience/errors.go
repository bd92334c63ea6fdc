package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/domain"
)

// TransientError wraps an error that is safe to retry.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// IsTransient reports whether err is worth retrying: an explicit
// TransientError, a provider timeout or quota error, or a network-level
// timeout or reset.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, domain.ErrProviderTimeout) || errors.Is(err, domain.ErrProviderQuotaExceeded) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the status code is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// ClassifyHTTP maps a provider HTTP failure onto the failure taxonomy.
// 429 becomes ErrProviderQuotaExceeded, 408/504 become ErrProviderTimeout,
// and other transient statuses are wrapped as TransientError.
func ClassifyHTTP(service string, statusCode int, body string) error {
	switch statusCode {
	case http.StatusTooManyRequests:
		return NewTransientError(eris.Wrapf(domain.ErrProviderQuotaExceeded, "%s: status %d", service, statusCode), statusCode)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return NewTransientError(eris.Wrapf(domain.ErrProviderTimeout, "%s: status %d", service, statusCode), statusCode)
	}

	err := eris.Errorf("%s: status %d: %s", service, statusCode, truncate(body, 200))
	if IsTransientHTTPStatus(statusCode) {
		return NewTransientError(err, statusCode)
	}
	return err
}

// ClassifyTransport maps a transport error onto the failure taxonomy.
func ClassifyTransport(service string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return eris.Wrapf(domain.ErrProviderTimeout, "%s: %v", service, err)
	}
	return eris.Wrap(err, service)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
