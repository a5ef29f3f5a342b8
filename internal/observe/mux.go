package observe

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Mux instruments a gorilla router. Every matched route is tagged with its
// path template so metrics and spans do not carry raw tenant slugs.
type Mux struct {
	router  *mux.Router
	handler http.Handler
}

func NewMux(router *mux.Router) *Mux {
	router.Use(routeTag)

	return &Mux{
		router:  router,
		handler: otelhttp.NewHandler(router, "/"),
	}
}

func (mux *Mux) Handle(pattern string, handler http.Handler) {
	mux.router.Handle(pattern, handler)
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.handler.ServeHTTP(w, r)
}

// routeTag configures the "http.route" for the HTTP instrumentation.
func routeTag(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		template, ok := routeTemplate(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		otelhttp.WithRouteTag(template, next).ServeHTTP(w, r)
	})
}

func routeTemplate(r *http.Request) (string, bool) {
	route := mux.CurrentRoute(r)
	if route == nil {
		return "", false
	}

	template, err := route.GetPathTemplate()
	if err != nil {
		return "", false
	}

	// subtree matches are registered with a trailing slash; report them under
	// the same route as the exact match
	if len(template) > 1 {
		template = strings.TrimSuffix(template, "/")
	}

	return template, true
}
