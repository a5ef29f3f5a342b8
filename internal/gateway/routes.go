package gateway

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Strategy is how a matched request leaves the gateway.
type Strategy string

const (
	StrategyProxy Strategy = "proxy"
	StrategyQueue Strategy = "queue"
	StrategyDeny  Strategy = "deny"
)

// TenantPrefix begins every tenant-scoped route pattern.
const TenantPrefix = "/tenant/{" + TenantVar + "}"

// Route is one entry of the ordered route table. The first route matching
// a request handles it.
type Route struct {
	Name    string
	Pattern string
	// Subtree routes also match every path below Pattern.
	Subtree  bool
	Stages   []Stage
	Strategy Strategy
	// StripPrefix removes the expanded Pattern from the forwarded path.
	StripPrefix bool
	// Service names the queue-backed service for StrategyQueue routes.
	Service string
}

// TenantScoped reports whether the route addresses a tenant.
func (r Route) TenantScoped() bool {
	return r.Pattern == TenantPrefix || strings.HasPrefix(r.Pattern, TenantPrefix+"/")
}

// Verifies reports whether the route authenticates the caller.
func (r Route) Verifies() bool {
	return slices.Contains(r.Stages, StageVerify)
}

type Routes []Route

// DefaultRoutes is the gateway's route table with a queue route for each
// service.
func DefaultRoutes(services []string) Routes {
	routes := Routes{
		{Name: "well-known", Pattern: "/.well-known", Subtree: true, Strategy: StrategyProxy},
		{Name: "oauth2", Pattern: "/oauth2", Subtree: true, Strategy: StrategyProxy},
		{Name: "login", Pattern: "/login", Subtree: true, Strategy: StrategyProxy},
		{Name: "register", Pattern: "/auth/register", Strategy: StrategyProxy},
		{Name: "token", Pattern: "/auth/token", Strategy: StrategyProxy},
		{
			Name:     "password-set",
			Pattern:  "/auth/password/set",
			Stages:   []Stage{StageVerify},
			Strategy: StrategyProxy,
		},
		{
			Name:        "identity",
			Pattern:     "/identity",
			Subtree:     true,
			Strategy:    StrategyProxy,
			StripPrefix: true,
		},
		{
			Name:        "tenant-identity",
			Pattern:     TenantPrefix + "/identity",
			Subtree:     true,
			Stages:      TenantStages,
			Strategy:    StrategyProxy,
			StripPrefix: true,
		},
	}

	for _, svc := range services {
		routes = append(routes, Route{
			Name:        "tenant-" + svc,
			Pattern:     TenantPrefix + "/" + svc,
			Subtree:     true,
			Stages:      TenantStages,
			Strategy:    StrategyQueue,
			StripPrefix: true,
			Service:     svc,
		})
	}

	return append(routes, Route{
		Name:     "tenant-unrouted",
		Pattern:  TenantPrefix,
		Subtree:  true,
		Strategy: StrategyDeny,
	})
}

// Validate checks the table before the server starts. Every configured
// service must be routed, tenant routes must run the full pipeline, every
// route must be reachable, and unrouted tenant paths must be denied.
func (routes Routes) Validate(services []string) error {
	var errs []error

	names := map[string]struct{}{}
	queued := map[string]struct{}{}
	tenantDenied := false

	for i, r := range routes {
		label := r.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Errorf("route %s: name is required", label))
		} else if _, ok := names[r.Name]; ok {
			errs = append(errs, fmt.Errorf("route %s: duplicate name", label))
		}
		names[r.Name] = struct{}{}

		if !strings.HasPrefix(r.Pattern, "/") {
			errs = append(errs, fmt.Errorf("route %s: pattern %q must begin with /", label, r.Pattern))
		}

		switch r.Strategy {
		case StrategyProxy:
		case StrategyQueue:
			if !slices.Contains(services, r.Service) {
				errs = append(errs, fmt.Errorf("route %s: unknown service %q", label, r.Service))
			}
			if !r.TenantScoped() {
				errs = append(errs, fmt.Errorf("route %s: queue routes must be tenant scoped", label))
			}
			queued[r.Service] = struct{}{}
		case StrategyDeny:
			if len(r.Stages) > 0 {
				errs = append(errs, fmt.Errorf("route %s: deny routes take no stages", label))
			}
			if r.Pattern == TenantPrefix && r.Subtree {
				tenantDenied = true
			}
		default:
			errs = append(errs, fmt.Errorf("route %s: unknown strategy %q", label, r.Strategy))
		}

		if r.Strategy != StrategyDeny {
			if err := checkStages(r); err != nil {
				errs = append(errs, fmt.Errorf("route %s: %w", label, err))
			}
		}

		for _, earlier := range routes[:i] {
			if covers(earlier, r) {
				errs = append(errs, fmt.Errorf("route %s: unreachable, shadowed by %s", label, earlier.Name))
				break
			}
		}
	}

	for _, svc := range services {
		if _, ok := queued[svc]; !ok {
			errs = append(errs, fmt.Errorf("service %q has no route", svc))
		}
	}

	if !tenantDenied {
		errs = append(errs, fmt.Errorf("no deny route for unrouted %s paths", TenantPrefix))
	}

	return errors.Join(errs...)
}

func checkStages(r Route) error {
	if r.TenantScoped() {
		if !slices.Equal(r.Stages, TenantStages) {
			return fmt.Errorf("tenant routes require stages %v, got %v", TenantStages, r.Stages)
		}
		return nil
	}

	if slices.Contains(r.Stages, StageResolveTenant) || slices.Contains(r.Stages, StageAuthorize) {
		return fmt.Errorf("stages %v require a tenant scoped pattern", r.Stages)
	}
	if len(r.Stages) > 1 || (len(r.Stages) == 1 && r.Stages[0] != StageVerify) {
		return fmt.Errorf("invalid stages %v", r.Stages)
	}

	return nil
}

// covers reports whether every path matched by b is already matched by a.
func covers(a, b Route) bool {
	as := segments(a.Pattern)
	bs := segments(b.Pattern)

	if len(bs) < len(as) {
		return false
	}
	if len(bs) > len(as) && !a.Subtree {
		return false
	}
	if len(bs) == len(as) && b.Subtree && !a.Subtree {
		return false
	}

	for i, seg := range as {
		if isVar(seg) {
			continue
		}
		if seg != bs[i] {
			return false
		}
	}

	return true
}

func segments(pattern string) []string {
	return strings.Split(strings.Trim(pattern, "/"), "/")
}

func isVar(segment string) bool {
	return strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
}
