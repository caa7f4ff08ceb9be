// ABOUTME: Coded error wrapper, protocol error types and taxonomy sentinels
// ABOUTME: Collaborators return these so classification never has to guess

package errmap

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinels for failures that carry no transport-level signal of their own.
var (
	ErrBusinessFailure = errors.New("api reported success=false")
	ErrInvalidResponse = errors.New("api response has unexpected shape")
	ErrEmptyData       = errors.New("api returned no data")
	ErrValidation      = errors.New("data failed validation")
	ErrMisconfigured   = errors.New("agent is misconfigured")
)

// Error attaches an explicit code to a cause. Classify and ClassifyDB return
// Code unchanged when an *Error is found anywhere in the chain.
type Error struct {
	Code Code
	Err  error
}

// Wrap returns err annotated with code. A nil err yields nil.
func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatusError reports a non-2xx response from a partner API.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		return fmt.Sprintf("http %s: %s", status, body)
	}
	return "http " + status
}

// Root returns the innermost cause of err by following Unwrap. Errors that
// join several causes are followed through their first cause.
func Root(err error) error {
	for err != nil {
		var next error
		switch u := err.(type) {
		case interface{ Unwrap() error }:
			next = u.Unwrap()
		case interface{ Unwrap() []error }:
			if errs := u.Unwrap(); len(errs) > 0 {
				next = errs[0]
			}
		}
		if next == nil {
			return err
		}
		err = next
	}
	return nil
}

// Detail is the (code, kind, message) triple recorded for a failure.
type Detail struct {
	Code    Code
	Kind    string
	Message string
}

// Describe builds a Detail for err using the given code. Kind is the Go type
// of the innermost cause.
func Describe(code Code, err error) Detail {
	if err == nil {
		return Detail{Code: code}
	}
	return Detail{
		Code:    code,
		Kind:    kindOf(Root(err)),
		Message: err.Error(),
	}
}

func kindOf(err error) string {
	name := fmt.Sprintf("%T", err)
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
