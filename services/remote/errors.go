package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Kind classifies a remote failure for retry purposes.
type Kind int

const (
	KindOther Kind = iota
	KindRateLimited
	KindServer
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate-limited"
	case KindServer:
		return "server"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "other"
	}
}

// Retryable reports whether a failure of this kind may succeed on retry
// without any intervention.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindServer
}

// StatusError is returned by HTTP clients when a remote service answers with
// an unexpected status.
type StatusError struct {
	Service    string
	Method     string
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s %s failed: %s - %s", e.Service, e.Method, e.URL, e.Status, e.Body)
}

// NewStatusError reads (and limits) the response body into a StatusError.
func NewStatusError(service string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	se := &StatusError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
	if resp.Request != nil {
		se.Method = resp.Request.Method
		if resp.Request.URL != nil {
			u := *resp.Request.URL
			u.RawQuery = ""
			se.URL = u.String()
		}
	}
	return se
}

// Classify maps an error to its retry kind.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindOther
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			return KindRateLimited
		case se.StatusCode == http.StatusUnauthorized:
			return KindUnauthorized
		case se.StatusCode >= 500:
			return KindServer
		default:
			return KindOther
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindServer
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return KindServer
	}
	return KindOther
}

// IsNotFound reports whether err wraps a 404 response.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// ErrUnavailable marks a call that could not be completed.
var ErrUnavailable = errors.New("remote unavailable")

// UnavailableError wraps the last failure of a call that gave up.
type UnavailableError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }
