package dispatch

import (
	"net/http"

	"github.com/orgspace/edge-gateway/internal/reqctx"
)

// Request is the message published to a service queue. It carries the HTTP
// request as received, minus credentials and trust headers; the verified
// identity travels in the message headers instead.
type Request struct {
	Method  string      `json:"method"`
	Path    string      `json:"path"`
	Query   string      `json:"query,omitempty"`
	Headers http.Header `json:"headers,omitempty"`
	Body    []byte      `json:"body,omitempty"`
}

// Reply is the message a service sends back to the gateway.
type Reply struct {
	Status  int         `json:"status"`
	Headers http.Header `json:"headers,omitempty"`
	Body    []byte      `json:"body,omitempty"`
}

// hop-by-hop and gateway-owned headers are never forwarded in a message
var excludedHeaders = []string{
	"Authorization",
	"Connection",
	"Content-Length",
	"Cookie",
	"Keep-Alive",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// forwardedHeaders copies in with canonical keys, so that decoded headers
// cannot smuggle a trust header past Del.
func forwardedHeaders(in http.Header) http.Header {
	out := http.Header{}
	for k, vs := range in {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	for _, h := range excludedHeaders {
		out.Del(h)
	}
	reqctx.Strip(out)
	return out
}
