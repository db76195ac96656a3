// Command gevd runs the GEvidence service: role registry, evidence
// registry, GEVR reward ledger, crowdfunding, off-cycle checks and
// certificate issuance behind one HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gevidence-labs/gevidence/core/pkg/api"
	"github.com/gevidence-labs/gevidence/core/pkg/audit"
	"github.com/gevidence-labs/gevidence/core/pkg/auth"
	"github.com/gevidence-labs/gevidence/core/pkg/certificate"
	"github.com/gevidence-labs/gevidence/core/pkg/config"
	"github.com/gevidence-labs/gevidence/core/pkg/crowdfund"
	"github.com/gevidence-labs/gevidence/core/pkg/domain"
	"github.com/gevidence-labs/gevidence/core/pkg/eventlog"
	"github.com/gevidence-labs/gevidence/core/pkg/observability"
	"github.com/gevidence-labs/gevidence/core/pkg/offcycle"
	"github.com/gevidence-labs/gevidence/core/pkg/registry"
	"github.com/gevidence-labs/gevidence/core/pkg/reward"
	"github.com/gevidence-labs/gevidence/core/pkg/roles"
	"github.com/gevidence-labs/gevidence/core/pkg/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gevd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return fmt.Errorf("wiring profile: %w", err)
	}
	logger.Info("profile loaded", "name", profile.Name, "path", cfg.ProfilePath)

	// Event log, optionally write-through to SQL.
	elog := eventlog.New()
	var eventStore *store.EventStore
	if cfg.DatabaseURL != "" {
		eventStore, err = store.Open(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("event store: %w", err)
		}
		defer eventStore.Close()
		elog = eventlog.New().WithSink(eventStore.Sink())
		logger.Info("event store attached", "postgres", eventStore.Postgres())
	}

	// Role registry. The first ADMIN grant in the profile seeds the
	// registry; remaining grants are applied under that admin.
	admin := initialAdmin(profile)
	roleManager := roles.NewManager(admin, elog)

	crowdPrincipal := domain.Principal(profile.Engines.Crowdfund)
	offPrincipal := domain.Principal(profile.Engines.OffCycle)
	certPrincipal := domain.Principal(profile.Engines.Certificate)
	treasury := domain.Principal(profile.Treasury)

	evidenceRegistry := registry.New(roleManager, elog)
	evidenceRegistry.BindEngines(crowdPrincipal, offPrincipal, certPrincipal)

	rewardLedger := reward.NewLedger("GEvidence Reward", "GEVR", crowdPrincipal, elog)

	campaigns := crowdfund.New(crowdfund.Config{
		Roles:              roleManager,
		Registry:           evidenceRegistry,
		Reward:             rewardLedger,
		Log:                elog,
		Engine:             crowdPrincipal,
		Treasury:           treasury,
		RewardRate:         profile.RewardRateWei(),
		MinGoalWei:         profile.MinGoal(),
		MinDurationSeconds: profile.MinDurationSeconds,
	})

	offCycle := offcycle.New(offcycle.Config{
		Roles:    roleManager,
		Registry: evidenceRegistry,
		Reward:   rewardLedger,
		Log:      elog,
		Engine:   offPrincipal,
		Treasury: treasury,
		MinStake: profile.MinStakeWei(),
	})

	certificates := certificate.NewIssuer(certificate.Config{
		Roles:     roleManager,
		Registry:  evidenceRegistry,
		Campaigns: campaigns,
		Log:       elog,
		Engine:    certPrincipal,
	})

	for _, g := range profile.Grants {
		if err := roleManager.GrantRole(admin, roles.Role(g.Role), domain.Principal(g.Principal)); err != nil {
			return fmt.Errorf("profile grant %s to %s: %w", g.Role, g.Principal, err)
		}
	}
	logger.Info("engines wired",
		"admin", admin,
		"treasury", treasury,
		"grants", len(profile.Grants))

	// Telemetry. Disabled unless an OTLP endpoint is reachable in the env.
	otel, err := observability.New(ctx, nil)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otel.Shutdown(shutdownCtx)
		}()
	}

	exporter := audit.NewExporter(elog)
	server := &api.Server{
		Roles:        roleManager,
		Registry:     evidenceRegistry,
		Reward:       rewardLedger,
		Campaigns:    campaigns,
		OffCycle:     offCycle,
		Certificates: certificates,
		Events:       elog,
		Logger:       logger,
		CallerFrom:   auth.PrincipalFrom,
		AuditPack: func(ctx context.Context, scope string, after uint64) ([]byte, string, error) {
			return exporter.GeneratePack(ctx, audit.ExportRequest{Scope: scope, After: after})
		},
	}

	handler, err := buildHandler(cfg, server, eventStore, elog, otel)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildHandler assembles the middleware chain around the API routes.
// Order, outermost first: request ID, CORS, global rate limit, auth,
// per-actor rate limit, telemetry, audit, idempotency. Telemetry sits
// inside auth so spans carry the resolved principal.
func buildHandler(cfg *config.Config, server *api.Server, eventStore *store.EventStore, elog *eventlog.Log, otel *observability.Provider) (http.Handler, error) {
	var idemStore api.IdempotencyStorer
	if eventStore != nil && eventStore.Postgres() {
		pgStore := api.NewPostgresIdempotencyStore(eventStore.DB(), 24*time.Hour)
		if err := pgStore.Migrate(); err != nil {
			return nil, fmt.Errorf("idempotency store: %w", err)
		}
		idemStore = pgStore
	} else {
		idemStore = api.NewIdempotencyStore(24 * time.Hour)
	}

	// A missing secret yields a nil verifier; the auth middleware then
	// rejects every non-public request.
	verifier := auth.NewVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	if verifier == nil {
		slog.Warn("GEV_JWT_SECRET unset, all authenticated routes will return 401")
	}

	slos := observability.NewSLOTracker()
	for _, op := range []string{"contribute", "finalize", "verify", "mint", "request_check", "resolve"} {
		slos.SetTarget(&observability.SLOTarget{
			SLOID:       "gev-" + op,
			Operation:   op,
			LatencyP99:  500 * time.Millisecond,
			SuccessRate: 0.99,
			WindowHours: 24,
		})
	}

	var handler http.Handler = server.Routes()
	handler = api.IdempotencyMiddleware(idemStore)(handler)
	handler = audit.Middleware(audit.NewChainLogger(elog))(handler)
	handler = api.TelemetryMiddleware(otel, slos, auth.PrincipalFrom)(handler)
	handler = auth.NewActorLimiter(20, 40).Middleware(handler)
	handler = auth.NewMiddleware(verifier)(handler)
	handler = api.NewGlobalRateLimiter(100, 200).Middleware(handler)
	handler = auth.CORSMiddleware(nil)(handler)
	handler = auth.RequestIDMiddleware(handler)
	return handler, nil
}

// initialAdmin picks the registry's seed admin: the first ADMIN grant in
// the profile, falling back to the treasury principal.
func initialAdmin(profile *config.WiringProfile) domain.Principal {
	for _, g := range profile.Grants {
		if g.Role == string(roles.RoleAdmin) {
			return domain.Principal(g.Principal)
		}
	}
	return domain.Principal(profile.Treasury)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
