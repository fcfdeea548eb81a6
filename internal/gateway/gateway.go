// ABOUTME: Gateway orchestrator that runs the backend gRPC surface and the HTTP app API
// ABOUTME: Wires store, backend client, auth adapter, AI pipeline, and optional tailnet listeners

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/todovex/internal/auth"
	"github.com/2389/todovex/internal/authadapter"
	"github.com/2389/todovex/internal/backend"
	"github.com/2389/todovex/internal/config"
	"github.com/2389/todovex/internal/openai"
	"github.com/2389/todovex/internal/store"
	"github.com/2389/todovex/internal/suggest"
)

// purgeInterval is how often expired sessions are swept.
const purgeInterval = time.Hour

// Gateway orchestrates the todovex server components.
// The gRPC server exposes the backend store surface; the HTTP server carries
// the app API, which reaches the store only through that surface.
type Gateway struct {
	config      *config.Config
	store       store.Store
	backend     *backend.Server
	client      *backend.Client
	identity    *authadapter.Adapter
	api         *API
	grpcServer  *grpc.Server
	httpServer  *http.Server
	tailnet     *tailnet
	logger      *slog.Logger

	// publicURL is what browsers see; updated from the tailnet DNS name.
	publicURL string
}

// determinePublicURL resolves the browser-facing base URL from config or
// deployment mode.
func determinePublicURL(cfg *config.Config, logger *slog.Logger) string {
	if cfg.Server.BaseURL != "" {
		return strings.TrimSuffix(cfg.Server.BaseURL, "/")
	}
	if !cfg.Tailscale.Enabled {
		return "http://" + cfg.Server.HTTPAddr
	}
	if cfg.Tailscale.HTTPS || cfg.Tailscale.Funnel {
		logger.Warn("server.base_url not set - passkeys may fail. Set it to the full tailnet URL (e.g., https://todovex.your-tailnet.ts.net)")
		return "https://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Tailscale.Hostname
}

// initStore opens the SQLite store.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// createGRPCServer builds the gRPC server that carries the backend surface.
func createGRPCServer(logger *slog.Logger) *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(backend.LoggingInterceptor(logger.With("component", "backend-rpc"))),
	)
}

// dialBackend connects the app server to the backend surface. With the
// tailnet enabled and no explicit address, calls go over tsnet.
func (g *Gateway) dialBackend() (*backend.Client, error) {
	secret := g.config.Auth.AdapterSecret
	addr := g.config.Backend.Addr
	if addr != "" || !g.config.Tailscale.Enabled {
		return backend.Dial(addr, secret)
	}
	return backend.Dial(g.config.Tailscale.Hostname+tailnetGRPCPort, secret,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, target string) (net.Conn, error) {
			return g.tailnet.Dial(ctx, target)
		}),
	)
}

// newPipeline builds the OpenAI client and the suggestion pipeline on top of it.
func newPipeline(cfg *config.Config, tasks suggest.Tasks, logger *slog.Logger) (*suggest.Pipeline, *openai.Client, error) {
	ai, err := openai.New(openai.Config{
		APIKey:         cfg.AI.APIKey,
		BaseURL:        cfg.AI.BaseURL,
		EmbeddingModel: cfg.AI.EmbeddingModel,
		Dimensions:     cfg.AI.EmbeddingDimensions,
		Timeout:        cfg.AI.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, err
	}
	pipeline, err := suggest.New(suggest.Config{
		Tasks:       tasks,
		Chat:        ai,
		Embedder:    ai,
		ChatModel:   cfg.AI.ChatModel,
		AILabelID:   cfg.AI.AILabelID,
		Concurrency: cfg.AI.Concurrency,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return pipeline, ai, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	backendServer, err := backend.NewServer(s, cfg.Auth.AdapterSecret, logger.With("component", "backend"))
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	grpcServer := createGRPCServer(logger)
	backendServer.Register(grpcServer)

	gw := &Gateway{
		config:     cfg,
		store:      s,
		backend:    backendServer,
		grpcServer: grpcServer,
		logger:     logger.With("component", "gateway"),
	}
	gw.publicURL = determinePublicURL(cfg, logger)

	if err := gw.wireApp(logger); err != nil {
		if gw.client != nil {
			_ = gw.client.Close()
		}
		_ = s.Close()
		return nil, err
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	gw.api.RegisterRoutes(mux)
	logger.Info("app API enabled", "base_url", gw.publicURL, "backend_functions", len(backendServer.Functions()))

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// wireApp builds everything the HTTP API needs, all of it talking to the
// store through the backend client.
func (g *Gateway) wireApp(logger *slog.Logger) error {
	cfg := g.config

	client, err := g.dialBackend()
	if err != nil {
		return err
	}
	g.client = client

	identity, err := authadapter.New(client, logger.With("component", "authadapter"))
	if err != nil {
		return err
	}
	g.identity = identity

	tasks := backend.NewTaskClient(client)
	pipeline, ai, err := newPipeline(cfg, tasks, logger)
	if err != nil {
		return err
	}

	ceremonies, err := auth.NewCeremonySigner(cfg.Auth.AdapterSecret, ceremonyTTL)
	if err != nil {
		return err
	}
	wa, err := NewWebAuthn(g.publicURL)
	if err != nil {
		// Passkeys are optional; email sign-in still works.
		logger.Warn("passkeys disabled", "error", err)
		wa = nil
	}

	g.api, err = NewAPI(APIConfig{
		Identity: identity,
		Tasks:    tasks,
		Suggest:  pipeline,
		Embedder: ai,
		Sessions: auth.SessionConfig{
			MaxAge:    cfg.Auth.SessionMaxAge,
			UpdateAge: cfg.Auth.SessionUpdateAge,
			Secure:    strings.HasPrefix(g.publicURL, "https://"),
		},
		VerificationTTL: cfg.Auth.VerificationTokenTTL,
		SignInThrottle:  cfg.Auth.SignInThrottle,
		TokenSecret:     cfg.Auth.AdapterSecret,
		BaseURL:         g.publicURL,
		WebAuthn:        wa,
		Ceremonies:      ceremonies,
		Logger:          logger,
	})
	return err
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if !g.config.Tailscale.Enabled {
		return g.setupTCPListeners()
	}
	g.warnIgnoredAddresses()

	tn, err := startTailnet(ctx, g.config.Tailscale, g.logger.With("component", "tailnet"))
	if err != nil {
		return nil, nil, err
	}
	if g.config.Server.BaseURL == "" && tn.dnsName != "" && (g.config.Tailscale.HTTPS || g.config.Tailscale.Funnel) {
		g.logger.Info("set server.base_url to enable passkeys on the tailnet name", "suggested", "https://"+tn.dnsName)
	}

	grpcLn, httpLn, err = tn.listen()
	if err != nil {
		_ = tn.Close()
		return nil, nil, err
	}
	g.tailnet = tn
	return grpcLn, httpLn, nil
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("gRPC backend listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// purgeLoop deletes expired sessions until ctx is done.
func (g *Gateway) purgeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.purgeExpiredSessions(ctx)
		}
	}
}

func (g *Gateway) purgeExpiredSessions(ctx context.Context) {
	n, err := g.identity.PurgeExpiredSessions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			g.logger.Warn("failed to purge expired sessions", "error", err)
		}
		return
	}
	if n > 0 {
		g.logger.Info("purged expired sessions", "count", n)
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServers(grpcListener, httpListener)

	purgeCtx, stopPurge := context.WithCancel(ctx)
	go g.purgeLoop(purgeCtx, purgeInterval)

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	stopPurge()

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
// HTTP goes first so in-flight requests can still reach the backend.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.client != nil {
		errs = appendCloseError(errs, "backend client close", g.client.Close())
	}
	g.shutdownGRPCServer(ctx)

	errs = appendCloseError(errs, "tailscale shutdown", g.tailnet.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once a round trip through the backend surface
// succeeds, which proves the secret, the gRPC listener and the store.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := g.identity.GetUser(ctx, "readiness-probe"); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("backend unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
