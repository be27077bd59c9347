// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command server runs the SentinelDesk API: ticket management with
// role-based access control, an append-only audit log, and a detection
// engine that watches the audit stream for suspicious activity.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/sentineldesk/sentineldesk/internal/alerts"
	"github.com/sentineldesk/sentineldesk/internal/api"
	"github.com/sentineldesk/sentineldesk/internal/audit"
	"github.com/sentineldesk/sentineldesk/internal/auth"
	"github.com/sentineldesk/sentineldesk/internal/authz"
	"github.com/sentineldesk/sentineldesk/internal/config"
	"github.com/sentineldesk/sentineldesk/internal/database"
	"github.com/sentineldesk/sentineldesk/internal/detection"
	"github.com/sentineldesk/sentineldesk/internal/logging"
	"github.com/sentineldesk/sentineldesk/internal/supervisor"
	"github.com/sentineldesk/sentineldesk/internal/tickets"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Str("auth_mode", cfg.Auth.Mode).
		Bool("detection_enabled", cfg.Detection.Enabled).
		Msg("starting sentineldesk")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	auditStore := audit.NewDuckDBStore(db.Conn())
	ticketStore := tickets.NewDuckDBStore(db.Conn())
	alertStore := alerts.NewDuckDBStore(db.Conn())
	for _, create := range []func(context.Context) error{
		auditStore.CreateTable,
		ticketStore.CreateTable,
		alertStore.CreateTable,
	} {
		if err := create(ctx); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	// In-process audit event bus: the recorder publishes, the detection
	// subscriber consumes.
	bus := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logging.NewWatermillAdapter())
	defer bus.Close() //nolint:errcheck

	recorder := audit.NewRecorder(auditStore, bus)
	ticketService := tickets.NewService(ticketStore)
	alertManager := alerts.NewManager(alertStore, ticketService, recorder)

	authorizer, err := authz.NewAuthorizer(authz.Config{CacheTTL: time.Minute})
	if err != nil {
		return fmt.Errorf("failed to build authorizer: %w", err)
	}
	defer authorizer.Close()

	detectionConfig := detectionConfigFrom(&cfg.Detection)
	engine := detection.NewEngine(auditStore, alertStore)
	engine.SetEnabled(cfg.Detection.Enabled)
	for _, detector := range detection.DefaultDetectors(auditStore, detectionConfig) {
		engine.RegisterDetector(detector)
	}
	if cfg.Notify.WebhookEnabled {
		engine.RegisterNotifier(detection.NewWebhookNotifier(detection.WebhookConfig{
			WebhookURL:    cfg.Notify.WebhookURL,
			Headers:       cfg.Notify.WebhookHeaders,
			Enabled:       true,
			RatePerSecond: cfg.Notify.RatePerSecond,
		}))
	}
	simulator := detection.NewSimulator(recorder, engine, detectionConfig)

	verifier, err := buildVerifier(&cfg.Auth)
	if err != nil {
		return err
	}

	handler := api.NewHandler(ticketService, recorder, alertManager, authorizer, engine, simulator, cfg)
	router := api.NewRouter(handler, auth.NewMiddleware(verifier, recorder), api.NewChiMiddleware(cfg))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	treeConfig := supervisor.DefaultTreeConfig()
	treeConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeConfig)

	tree.AddDetectionService(detection.NewSubscriber(engine, bus))
	tree.AddDetectionService(detection.NewSweeper(engine, cfg.Detection.SweepInterval, cfg.Detection.SweepWindow))
	tree.AddDetectionService(audit.NewRetentionService(
		auditStore,
		time.Duration(cfg.Audit.RetentionDays)*24*time.Hour,
		cfg.Audit.CleanupInterval,
	))
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logging.Info().Msg("shutdown complete")
		return nil
	}
	return err
}

// buildVerifier selects the credential verifier for the configured auth
// mode. Config validation already constrained Mode to a known value.
func buildVerifier(cfg *config.AuthConfig) (auth.Verifier, error) {
	switch cfg.Mode {
	case "gateway":
		return auth.NewGatewayVerifier(auth.GatewayVerifierConfig{
			RolesClaim:   cfg.RolesClaim,
			GroupRoles:   cfg.GroupRoles,
			DefaultRoles: cfg.DefaultRoles,
		}), nil
	case "basic":
		if cfg.AdminUsername == "" || cfg.AdminPasswordHash == "" {
			return nil, errors.New("auth mode basic requires admin_username and admin_password_hash")
		}
		return auth.NewBasicVerifier(cfg.AdminUsername, cfg.AdminPasswordHash), nil
	case "none":
		logging.Warn().Msg("auth mode 'none' grants every request admin access; development only")
		return auth.NoneVerifier{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

func detectionConfigFrom(cfg *config.DetectionConfig) detection.Config {
	return detection.Config{
		AuthFailThreshold:   cfg.AuthFailThreshold,
		AuthFailWindow:      cfg.AuthFailWindow,
		DeniedThreshold:     cfg.DeniedThreshold,
		DeniedWindow:        cfg.DeniedWindow,
		EscalationThreshold: cfg.EscalationThreshold,
		TravelWindow:        cfg.TravelWindow,
		BusinessHoursStart:  cfg.BusinessHoursStart,
		BusinessHoursEnd:    cfg.BusinessHoursEnd,
	}
}
