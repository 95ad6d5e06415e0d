package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Kind classifies a failed call.
type Kind int

const (
	// KindFatal covers everything not worth retrying.
	KindFatal Kind = iota
	// KindTransient failures may succeed if repeated.
	KindTransient
	// KindNotFound means the server does not know the resource.
	KindNotFound
	// KindAuth means the bound token was rejected.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth"
	default:
		return "fatal"
	}
}

// Server codes that signal a session still warming up.
const (
	CodeClientNotAvailable = "CLIENT_NOT_AVAILABLE"
	CodeClientNotConnected = "CLIENT_NOT_CONNECTED"
	CodeListChatsError     = "LIST_CHATS_ERROR"
)

// ErrUnbound is returned when an operation needs a session but none is bound.
var ErrUnbound = errors.New("no session bound")

// Error is returned by every Client operation that fails.
type Error struct {
	Op         string
	Kind       Kind
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: http %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindTransient
}

// IsAuth reports whether err means the token was rejected.
func IsAuth(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindAuth
}

// IsNotFound reports whether err means the resource does not exist.
func IsNotFound(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindNotFound
}

// IsNetwork reports whether err happened before any response arrived.
func IsNetwork(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.StatusCode == 0 && re.Kind == KindTransient
}

type errorBody struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

// httpError builds an Error from a non-2xx response.
func httpError(op string, statusCode int, body []byte) *Error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.Message
	if msg == "" {
		msg = eb.Error
	}
	return &Error{
		Op:         op,
		Kind:       classifyStatus(statusCode, eb.Code),
		StatusCode: statusCode,
		Code:       eb.Code,
		Message:    msg,
	}
}

// serverError builds an Error from a 2xx response the server flagged as failed.
func serverError(op, code, msg string) *Error {
	return &Error{
		Op:      op,
		Kind:    classifyStatus(0, code),
		Code:    code,
		Message: msg,
	}
}

// loadError builds the Error for a bulk load the server flagged as failed.
// Such replies usually mean the session is still syncing, so they are
// retryable whatever the code.
func loadError(op, code, msg string) *Error {
	e := serverError(op, code, msg)
	e.Kind = KindTransient
	return e
}

func classifyStatus(statusCode int, code string) Kind {
	switch code {
	case CodeClientNotAvailable, CodeClientNotConnected, CodeListChatsError:
		return KindTransient
	}
	switch statusCode {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindTransient
	}
	return KindFatal
}

// transportError builds an Error from a failure before any response. parent
// is the caller's context: its cancellation is not retryable, while a
// per-request deadline is.
func transportError(parent context.Context, op string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s: %w", op, parent.Err())
	}
	kind := KindFatal
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, syscall.ECONNREFUSED):
		kind = KindTransient
	case errors.As(err, &netErr):
		kind = KindTransient
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
