// Package apperr classifies failures into the small set of categories the
// HTTP layer knows how to render. Handlers and middleware return or write
// *Error values; anything else is treated as internal.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of a failure.
type Kind int

const (
	Internal Kind = iota
	BadRequest
	Unauthorized
	Forbidden
	NotFound
	Conflict
	TooManyRequests
)

// genericMessage is what callers see for internal failures.
const genericMessage = "internal server error"

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad_request"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case TooManyRequests:
		return "too_many_requests"
	default:
		return "internal"
	}
}

// Status maps a kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case TooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Message is safe to show to callers; Err is
// the underlying cause and is only ever logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E creates a classified error without a cause.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err under kind with a caller-facing message.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the kind of err. Unclassified errors are Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Response is the JSON body of every error response.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}

// ResponseFor builds the caller-facing body for err. Internal errors never
// expose their message or cause.
func ResponseFor(err error) Response {
	var ae *Error
	if !errors.As(err, &ae) || ae.Kind == Internal {
		return Response{
			StatusCode: http.StatusInternalServerError,
			Message:    genericMessage,
			Error:      http.StatusText(http.StatusInternalServerError),
		}
	}
	status := ae.Kind.Status()
	return Response{StatusCode: status, Message: ae.Message, Error: http.StatusText(status)}
}

// Write renders err as a JSON error response.
func Write(w http.ResponseWriter, err error) {
	resp := ResponseFor(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_ = json.NewEncoder(w).Encode(resp)
}
