package task

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrPreconditionUnmet marks a step skipped because scratch lacks a value
// it requires. It is bookkeeping, never a reported failure.
var ErrPreconditionUnmet = errors.New("task: precondition unmet")

// maxBodyContext bounds the response body kept in an UnexpectedStatusError.
const maxBodyContext = 256

// TransportError is a connection or I/O failure talking to the target.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UnexpectedStatusError is a response whose status is outside the step's
// success set.
type UnexpectedStatusError struct {
	Status   int
	Expected []int
	Body     string
}

func (e *UnexpectedStatusError) Error() string {
	msg := fmt.Sprintf("unexpected status code: %d (expected %v)", e.Status, e.Expected)
	if e.Body != "" {
		msg += ". Response: " + e.Body
	}
	return msg
}

// NewUnexpectedStatus builds an UnexpectedStatusError keeping a bounded
// prefix of the body for context.
func NewUnexpectedStatus(status int, expected []int, body []byte) *UnexpectedStatusError {
	return &UnexpectedStatusError{
		Status:   status,
		Expected: expected,
		Body:     truncate(body, maxBodyContext),
	}
}

// PayloadError is a body that could not be parsed, lacks an expected field,
// or fails a declared expectation.
type PayloadError struct {
	Field  string
	Reason string
	Err    error
}

func (e *PayloadError) Error() string {
	var sb strings.Builder
	sb.WriteString("payload error")
	if e.Field != "" {
		sb.WriteString(" at ")
		sb.WriteString(e.Field)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Reason)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies err for metric labels.
func ErrorKind(err error) string {
	var (
		transport *TransportError
		status    *UnexpectedStatusError
		payload   *PayloadError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &transport):
		return "transport"
	case errors.As(err, &status):
		return "status"
	case errors.As(err, &payload):
		return "payload"
	case errors.Is(err, ErrPreconditionUnmet):
		return "precondition"
	default:
		return "other"
	}
}

func truncate(body []byte, n int) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
