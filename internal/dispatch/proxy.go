package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/orgspace/edge-gateway/internal/audit"
	"github.com/orgspace/edge-gateway/internal/reqctx"
)

// ErrorWriter responds to the client when a dispatch fails.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// PrefixFunc returns the leading part of the request path that the upstream
// does not expect. An empty string leaves the path unchanged.
type PrefixFunc func(r *http.Request) string

// StaticPrefix strips prefix from every request.
func StaticPrefix(prefix string) PrefixFunc {
	return func(*http.Request) string { return prefix }
}

// Proxy forwards requests to a single upstream HTTP service.
type Proxy struct {
	target    *url.URL
	transport http.RoundTripper
	timeout   time.Duration
	onError   ErrorWriter
}

func NewProxy(target string, transport http.RoundTripper, timeout time.Duration, onError ErrorWriter) (*Proxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy target: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy target %q: scheme and host are required", target)
	}

	return &Proxy{
		target:    u,
		transport: transport,
		timeout:   timeout,
		onError:   onError,
	}, nil
}

// Handler returns a handler forwarding to the upstream. The trust headers
// sent upstream are taken from the request's RequestContext only. When
// dropCredentials is set the bearer token is not forwarded.
func (p *Proxy) Handler(strip PrefixFunc, dropCredentials bool) http.Handler {
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if strip != nil {
				path := strings.TrimPrefix(pr.In.URL.Path, strip(pr.In))
				if path == "" {
					path = "/"
				}
				pr.Out.URL.Path = path
				pr.Out.URL.RawPath = ""
			}

			pr.SetURL(p.target)
			pr.SetXForwarded()

			reqctx.Strip(pr.Out.Header)
			if rc, ok := reqctx.FromContext(pr.In.Context()); ok {
				rc.Apply(pr.Out.Header)
			}

			if dropCredentials {
				pr.Out.Header.Del("Authorization")
			}
		},
		Transport: p.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			recordDispatch(r.Context(), strategyProxy, outcomeFailed)
			p.onError(w, r, fmt.Errorf("proxy to %s failed: %w", p.target.Host, err))
		},
		ModifyResponse: func(resp *http.Response) error {
			recordDispatch(resp.Request.Context(), strategyProxy, outcomeOK)
			return nil
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		audit.Log(r.Context()).Dispatch = "proxy:" + p.target.Host

		ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
		defer cancel()

		rp.ServeHTTP(w, r.WithContext(ctx))
	})
}
