// ABOUTME: Classifies partner-API transport and protocol failures into codes
// ABOUTME: Network sub-kinds map to api_* codes; unknown shapes map to Unknown

package errmap

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"syscall"
)

// Classify maps a failure raised while talking to a partner API onto the
// taxonomy. A nil error yields None.
func Classify(err error) Code {
	if err == nil {
		return None
	}

	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}

	// Cancellation is checked before timeouts: a stopped tick must never be
	// reported as a slow partner.
	if errors.Is(err, context.Canceled) {
		return AgentCanceled
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode)
	}

	if code, ok := classifyNetwork(err); ok {
		return code
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return DataParseError
	}

	switch {
	case errors.Is(err, ErrBusinessFailure):
		return APIBusinessFailure
	case errors.Is(err, ErrInvalidResponse):
		return APIInvalidResponse
	case errors.Is(err, ErrEmptyData):
		return DataEmpty
	case errors.Is(err, ErrValidation):
		return DataValidationError
	case errors.Is(err, ErrMisconfigured):
		return AgentMisconfigured
	}

	return Unknown
}

func classifyStatus(status int) Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return APIUnauthorized
	case status == http.StatusTooManyRequests:
		return APIRateLimited
	case status >= 500:
		return APIServerError
	default:
		return APIHTTPError
	}
}

func classifyNetwork(err error) (Code, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return APITimeout, true
	}

	root := Root(err)

	var errno syscall.Errno
	if errors.As(root, &errno) {
		switch errno {
		case syscall.ETIMEDOUT:
			return APITimeout, true
		default:
			// refused, unreachable, reset: all mean no usable connection
			return APIConnectionFailed, true
		}
	}

	if t, ok := root.(interface{ Timeout() bool }); ok && t.Timeout() {
		return APITimeout, true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return APITimeout, true
		}
		return APIConnectionFailed, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return APITimeout, true
		}
		return APIConnectionFailed, true
	}

	return None, false
}
