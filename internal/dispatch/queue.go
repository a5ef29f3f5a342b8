package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/orgspace/edge-gateway/internal/audit"
	"github.com/orgspace/edge-gateway/internal/reqctx"
)

// ErrRequestBody is returned when the inbound body cannot be read, usually
// because it exceeds the request size limit.
var ErrRequestBody = errors.New("request body could not be read")

// Service is a queue-backed backend addressed as /tenant/{tenant}/<Name>.
type Service struct {
	Name    string
	Queue   string
	Timeout time.Duration
}

// Caller performs a request/reply exchange with a service queue.
type Caller interface {
	Call(ctx context.Context, queue string, req Request, metadata map[string]string) (Reply, error)
}

// Queue dispatches HTTP requests to services as broker messages.
type Queue struct {
	caller  Caller
	onError ErrorWriter
}

func NewQueue(caller Caller, onError ErrorWriter) *Queue {
	return &Queue{
		caller:  caller,
		onError: onError,
	}
}

// Handler returns a handler that sends each request to svc and relays the
// reply. The verified identity is sent as message metadata taken from the
// request's RequestContext; the bearer token is never forwarded.
func (q *Queue) Handler(svc Service, strip PrefixFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		audit.Log(ctx).Dispatch = "queue:" + svc.Queue

		body, err := io.ReadAll(r.Body)
		if err != nil {
			q.onError(w, r, fmt.Errorf("%w: %w", ErrRequestBody, err))
			return
		}

		path := r.URL.Path
		if strip != nil {
			path = strings.TrimPrefix(path, strip(r))
		}
		if path == "" {
			path = "/"
		}

		rc, _ := reqctx.FromContext(ctx)

		ctx, cancel := context.WithTimeout(ctx, svc.Timeout)
		defer cancel()

		reply, err := q.caller.Call(ctx, svc.Queue, Request{
			Method:  r.Method,
			Path:    path,
			Query:   r.URL.RawQuery,
			Headers: forwardedHeaders(r.Header),
			Body:    body,
		}, rc.Metadata())
		if err != nil {
			recordDispatch(ctx, strategyQueue, outcomeFailed)
			q.onError(w, r, fmt.Errorf("service %s: %w", svc.Name, err))
			return
		}

		recordDispatch(ctx, strategyQueue, outcomeOK)

		for k, v := range forwardedHeaders(reply.Headers) {
			w.Header()[k] = v
		}
		w.WriteHeader(reply.Status)

		if len(reply.Body) > 0 {
			_, _ = w.Write(reply.Body)
		}
	})
}
