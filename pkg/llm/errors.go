package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Kind tells callers whether a failed call is worth retrying.
type Kind int

const (
	// Transient failures (timeouts, connection errors, 5xx, malformed
	// bodies) may succeed on a later attempt.
	Transient Kind = iota
	// Permanent failures (auth errors, unretryable 4xx, unrecognised
	// response shapes) will not.
	Permanent
)

func (k Kind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

// Error is returned by backends and by Client. Match the kind with
// errors.Is(err, ErrTransient) or errors.Is(err, ErrPermanent).
type Error struct {
	Kind     Kind
	Provider string
	Status   int
	Message  string
	Err      error
}

var (
	ErrTransient = &Error{Kind: Transient}
	ErrPermanent = &Error{Kind: Permanent}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Provider != "" {
		b.WriteString(" " + e.Provider)
	}
	b.WriteString(" error")
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Provider == "" && t.Status == 0 && t.Message == "" && t.Err == nil
}

// IsTransient reports whether err carries a Transient classification.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == Transient
}

func transient(provider, msg string, err error) *Error {
	return &Error{Kind: Transient, Provider: provider, Message: msg, Err: err}
}

func permanent(provider, msg string, err error) *Error {
	return &Error{Kind: Permanent, Provider: provider, Message: msg, Err: err}
}

// classifyTransport turns an error from http.Client.Do into an *Error.
// Cancellation by the caller is permanent; everything else on the wire is
// worth another attempt.
func classifyTransport(ctx context.Context, provider string, err error) *Error {
	if ctx.Err() != nil {
		return permanent(provider, "request cancelled", ctx.Err())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transient(provider, "request timed out", err)
	}
	return transient(provider, "connection failed", err)
}

// retryableCodes are upstream error types and codes that signal overload
// rather than a bad request.
var retryableCodes = map[string]bool{
	"rate_limit_exceeded": true,
	"rate_limit_error":    true,
	"server_error":        true,
	"overloaded_error":    true,
	"overloaded":          true,
	"timeout":             true,
}

// classifyStatus maps a non-2xx response to an *Error. 5xx, 408 and 429
// are transient, 401 and 403 permanent. Other statuses are decided by the
// error body.
func classifyStatus(provider string, status int, body []byte) *Error {
	msg := errorMessage(body)
	e := &Error{Kind: Permanent, Provider: provider, Status: status, Message: msg}

	switch {
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		e.Kind = Transient
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		e.Kind = Permanent
	default:
		var resp openai.ErrorResponse
		if err := json.Unmarshal(body, &resp); err == nil && resp.Error != nil {
			code, _ := resp.Error.Code.(string)
			if retryableCodes[resp.Error.Type] || retryableCodes[code] {
				e.Kind = Transient
			}
		}
	}
	return e
}

func errorMessage(body []byte) string {
	var resp openai.ErrorResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != nil && resp.Error.Message != "" {
		return resp.Error.Message
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}
