package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/orgspace/edge-gateway/internal/audit"
	"github.com/orgspace/edge-gateway/internal/dispatch"
	"github.com/rs/zerolog"
)

// Kind is the client-observable class of a failed request.
type Kind string

const (
	Unauthenticated     Kind = "unauthenticated"
	TenantNotFound      Kind = "tenant_not_found"
	BadRequest          Kind = "bad_request"
	Forbidden           Kind = "forbidden"
	UpstreamUnavailable Kind = "upstream_unavailable"
	NotFound            Kind = "not_found"
	Internal            Kind = "internal"
)

// Status is the HTTP status written for the kind.
func (k Kind) Status() int {
	switch k {
	case Unauthenticated:
		return http.StatusUnauthorized
	case TenantNotFound, NotFound:
		return http.StatusNotFound
	case BadRequest:
		return http.StatusBadRequest
	case Forbidden:
		return http.StatusForbidden
	case UpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a request failure. Message is written to the client and must be
// safe to expose; Err is only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// tenantNotFound names the slug in the response: slugs are not secret.
func tenantNotFound(slug string, err error) *Error {
	return &Error{
		Kind:    TenantNotFound,
		Message: fmt.Sprintf("tenant %q not found", slug),
		Err:     err,
	}
}

// WriteError responds to the client with the status for err's kind. Errors
// that are not an *Error are treated as internal failures.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var gerr *Error
	if !errors.As(err, &gerr) {
		gerr = newError(Internal, err)
	}

	status := gerr.Kind.Status()
	recordRejection(ctx, gerr.Kind)

	entry := audit.Log(ctx)
	if entry.Reason == "" {
		entry.Reason = string(gerr.Kind)
	}
	if err != nil {
		entry.Error = err.Error()
	}

	level := zerolog.InfoLevel
	if status >= http.StatusInternalServerError {
		level = zerolog.WarnLevel
	}
	zerolog.Ctx(ctx).WithLevel(level).
		Err(err).
		Str("kind", string(gerr.Kind)).
		Int("status", status).
		Msg("request rejected")

	message := gerr.Message
	if message == "" {
		message = http.StatusText(status)
	}

	http.Error(w, message, status)
}

// WriteUnauthenticated is the response for every token verification failure.
// The verification reason has already been logged and is not exposed.
func WriteUnauthenticated(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, newError(Unauthenticated, err))
}

// WriteDispatchError responds to a failed dispatch. Backend failures are not
// security sensitive, so their detail is returned to the client.
func WriteDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, dispatch.ErrRequestBody) {
		WriteError(w, r, &Error{
			Kind:    BadRequest,
			Message: "request body could not be read",
			Err:     err,
		})
		return
	}

	WriteError(w, r, &Error{
		Kind:    UpstreamUnavailable,
		Message: fmt.Sprintf("%s: %v", http.StatusText(http.StatusBadGateway), err),
		Err:     err,
	})
}
