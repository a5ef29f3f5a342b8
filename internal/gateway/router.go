package gateway

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/orgspace/edge-gateway/internal/audit"
	"github.com/orgspace/edge-gateway/internal/dispatch"
	"github.com/orgspace/edge-gateway/internal/jwt"
)

var errUnrouted = errors.New("no route for path")

// ProxyDispatcher forwards requests to the identity service.
type ProxyDispatcher interface {
	Handler(strip dispatch.PrefixFunc, dropCredentials bool) http.Handler
}

// QueueDispatcher sends requests to queue-backed services.
type QueueDispatcher interface {
	Handler(svc dispatch.Service, strip dispatch.PrefixFunc) http.Handler
}

// Dependencies are the stage and dispatch implementations used by the
// router.
type Dependencies struct {
	Verifier    *jwt.Verifier
	Tenants     TenantResolver
	Memberships MembershipAuthorizer
	Proxy       ProxyDispatcher
	Queue       QueueDispatcher
	Services    map[string]dispatch.Service
}

// NewRouter registers the routes in order on a new router. The common
// middleware wraps every route, including the response for unrouted paths.
func NewRouter(routes Routes, deps Dependencies, common ...alice.Constructor) (*mux.Router, error) {
	services := slices.Sorted(maps.Keys(deps.Services))
	if err := routes.Validate(services); err != nil {
		return nil, fmt.Errorf("invalid route table: %w", err)
	}

	base := alice.New(common...).Append(Sanitize)

	router := mux.NewRouter()
	router.NotFoundHandler = base.ThenFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, newError(NotFound, errUnrouted))
	})

	for _, route := range routes {
		handler, err := routeHandler(route, deps)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", route.Name, err)
		}

		chain := base.Append(tagRoute(route.Name))
		chain = chain.Append(stageConstructors(route, deps)...)
		if route.TenantScoped() && route.Strategy != StrategyDeny {
			chain = chain.Append(requireComplete)
		}

		h := chain.Then(handler)

		router.Handle(route.Pattern, h).Name(route.Name)
		if route.Subtree {
			router.PathPrefix(route.Pattern + "/").Handler(h)
		}
	}

	return router, nil
}

func tagRoute(name string) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			audit.Log(r.Context()).Route = name
			next.ServeHTTP(w, r)
		})
	}
}

func stageConstructors(route Route, deps Dependencies) []alice.Constructor {
	constructors := make([]alice.Constructor, 0, len(route.Stages))

	for _, stage := range route.Stages {
		switch stage {
		case StageVerify:
			constructors = append(constructors, Verify(deps.Verifier))
		case StageResolveTenant:
			constructors = append(constructors, ResolveTenant(deps.Tenants))
		case StageAuthorize:
			constructors = append(constructors, Authorize(deps.Memberships))
		}
	}

	return constructors
}

func routeHandler(route Route, deps Dependencies) (http.Handler, error) {
	var strip dispatch.PrefixFunc
	if route.StripPrefix {
		strip = expandedPattern(route.Pattern)
	}

	switch route.Strategy {
	case StrategyProxy:
		return deps.Proxy.Handler(strip, route.Verifies()), nil

	case StrategyQueue:
		svc, ok := deps.Services[route.Service]
		if !ok {
			return nil, fmt.Errorf("unknown service %q", route.Service)
		}
		return deps.Queue.Handler(svc, strip), nil

	case StrategyDeny:
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			WriteError(w, r, newError(NotFound, errUnrouted))
		}), nil
	}

	return nil, fmt.Errorf("unknown strategy %q", route.Strategy)
}

// expandedPattern returns the request's path prefix matched by pattern, with
// route variables replaced by their values.
func expandedPattern(pattern string) dispatch.PrefixFunc {
	return func(r *http.Request) string {
		prefix := pattern
		for name, value := range mux.Vars(r) {
			prefix = strings.ReplaceAll(prefix, "{"+name+"}", value)
		}
		return prefix
	}
}
