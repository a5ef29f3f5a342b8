package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"

	"github.com/orgspace/edge-gateway/internal/audit"
	"github.com/orgspace/edge-gateway/internal/cache"
	"github.com/orgspace/edge-gateway/internal/config"
	"github.com/orgspace/edge-gateway/internal/dispatch"
	"github.com/orgspace/edge-gateway/internal/gateway"
	"github.com/orgspace/edge-gateway/internal/identity"
	"github.com/orgspace/edge-gateway/internal/jwt"
	"github.com/orgspace/edge-gateway/internal/membership"
	"github.com/orgspace/edge-gateway/internal/observe"
	"github.com/orgspace/edge-gateway/internal/tenant"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func configureServerRoutes(ctx context.Context, cfg config.Config) (http.Handler, func(), error) {
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	fail := func(err error) (http.Handler, func(), error) {
		cleanup()
		return nil, nil, err
	}

	services, err := configureServices(cfg)
	if err != nil {
		return fail(fmt.Errorf("service configuration failed: %w", err))
	}

	// signing keys hold parsed public keys and stay in process memory
	keyStore, err := cache.NewMemory[string, jwt.SigningKey]("signing-keys", cfg.Cache.MaxEntries, cfg.Authorization.KeyCacheTTL)
	if err != nil {
		return fail(fmt.Errorf("key cache configuration failed: %w", err))
	}
	closers = append(closers, keyStore.Close)

	slugs, memberships, closeCaches, err := configureCaches(ctx, cfg.Cache, cfg.Identity)
	if err != nil {
		return fail(fmt.Errorf("cache configuration failed: %w", err))
	}
	closers = append(closers, closeCaches)

	identityClient := identity.New(cfg.Identity.URL, cfg.JWKS(), cfg.Identity.Timeout, http.DefaultTransport)

	verifier := jwt.NewVerifier(
		cfg.Authorization.Issuer,
		jwt.NewKeyCache(identityClient, keyStore, cfg.Identity.Timeout),
		jwt.WithAllowedClockSkew(cfg.Authorization.AllowedClockSkew),
	)

	proxy, err := dispatch.NewProxy(cfg.Identity.URL, http.DefaultTransport, cfg.Routes.ProxyTimeout, gateway.WriteDispatchError)
	if err != nil {
		return fail(fmt.Errorf("identity proxy configuration failed: %w", err))
	}

	// the broker connects on first use, so an unavailable broker only fails
	// queue-backed requests
	broker := dispatch.NewBroker(cfg.Broker.URL)
	closers = append(closers, func() {
		if err := broker.Close(); err != nil {
			log.Warn().Err(err).Msg("broker: close failed")
		}
	})

	names := make([]string, 0, len(services))
	for _, svc := range services {
		names = append(names, svc.Name)
	}

	// The request body size is limited to prevent accidental or deliberate
	// abuse: bodies are buffered in full for queue dispatch.
	requestLimiter := maxRequestSize(cfg.Server.RequestBodyLimitBytes)
	auditor := audit.Middleware()

	router, err := gateway.NewRouter(gateway.DefaultRoutes(names), gateway.Dependencies{
		Verifier:    verifier,
		Tenants:     tenant.NewResolver(identityClient, slugs),
		Memberships: membership.NewAuthorizer(identityClient, memberships),
		Proxy:       proxy,
		Queue:       dispatch.NewQueue(broker, gateway.WriteDispatchError),
		Services:    serviceMap(services),
	}, requestLimiter, auditor)
	if err != nil {
		return fail(fmt.Errorf("route configuration failed: %w", err))
	}

	// wrap the router such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	muxWithoutTelemetry.Handle("/", observe.NewMux(router))

	// healthchecks are not included in telemetry
	muxWithoutTelemetry.Handle("GET /healthcheck", handleHealthCheck())

	return muxWithoutTelemetry, cleanup, nil
}

// configureServices combines the service names from the environment with
// the optional services file. File entries override the queue name and
// timeout derived from the broker configuration.
func configureServices(cfg config.Config) ([]dispatch.Service, error) {
	var file *config.Services
	if cfg.Routes.ServicesFile != "" {
		var err error
		file, err = config.LoadServicesFromFile(cfg.Routes.ServicesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load services file %s: %w", cfg.Routes.ServicesFile, err)
		}
	}

	names := file.Merge(cfg.Routes.Services)
	services := make([]dispatch.Service, 0, len(names))

	for _, name := range names {
		svc := dispatch.Service{
			Name:    name,
			Queue:   name,
			Timeout: cfg.Broker.RequestTimeout,
		}
		if cfg.Broker.QueuePrefix != "" {
			svc.Queue = cfg.Broker.QueuePrefix + "." + name
		}

		if entry, ok := file.Lookup(name); ok {
			if entry.Queue != "" {
				svc.Queue = entry.Queue
			}
			if entry.Timeout > 0 {
				svc.Timeout = entry.Timeout
			}
		}

		services = append(services, svc)
	}

	return services, nil
}

func serviceMap(services []dispatch.Service) map[string]dispatch.Service {
	m := make(map[string]dispatch.Service, len(services))
	for _, svc := range services {
		m[svc.Name] = svc
	}
	return m
}

// configureCaches creates the slug and membership caches on the configured
// backend.
func configureCaches(ctx context.Context, cfg config.CacheConfig, identityCfg config.IdentityConfig) (
	cache.Cache[string, string],
	cache.Cache[string, membership.Membership],
	func(),
	error,
) {
	if cfg.Backend == config.CacheBackendRedis {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPoolSize)
		if err != nil {
			return nil, nil, nil, err
		}
		closeClient := func() {
			if err := client.Close(); err != nil {
				log.Warn().Err(err).Msg("redis: close failed")
			}
		}

		slugs, err := cache.NewRedis[string]("slugs", client, identityCfg.SlugCacheTTL)
		if err != nil {
			closeClient()
			return nil, nil, nil, err
		}

		memberships, err := cache.NewRedis[membership.Membership]("memberships", client, identityCfg.MembershipCacheTTL)
		if err != nil {
			closeClient()
			return nil, nil, nil, err
		}

		return slugs, memberships, closeClient, nil
	}

	slugs, err := cache.NewMemory[string, string]("slugs", cfg.MaxEntries, identityCfg.SlugCacheTTL)
	if err != nil {
		return nil, nil, nil, err
	}

	memberships, err := cache.NewMemory[string, membership.Membership]("memberships", cfg.MaxEntries, identityCfg.MembershipCacheTTL)
	if err != nil {
		slugs.Close()
		return nil, nil, nil, err
	}

	return slugs, memberships, func() {
		slugs.Close()
		memberships.Close()
	}, nil
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HttpTransport(
		configureHttpTransport(cfg),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	// setup routing and dependencies
	handler, cleanup, err := configureServerRoutes(ctx, cfg)
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	// start the server
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        handler,
		MaxHeaderBytes: 20 << 10, // 20 KB
	}

	err = serveHTTP(cfg.Server, server,
		drainStep{name: "dependencies", close: func(context.Context) error {
			cleanup()
			return nil
		}},
		// telemetry last, so that spans and logs from draining are exported
		drainStep{name: "telemetry", close: shutdownTelemetry},
	)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHttpTransport(cfg config.Config) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.Server.OutgoingHttpMaxIdleConns
	transport.MaxConnsPerHost = cfg.Server.OutgoingHttpMaxConnsPerHost

	// upstreams must start responding within the proxy timeout
	transport.ResponseHeaderTimeout = cfg.Routes.ProxyTimeout

	return transport
}
