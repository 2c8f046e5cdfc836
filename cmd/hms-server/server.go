package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/appointment"
	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/inventory"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/scheduler"
)

const version = "0.1.0"

type services struct {
	appointments *appointment.Service
	billing      *billing.Service
	inventory    *inventory.Service
}

func newServices(pool *pgxpool.Pool, pub events.Publisher, logger zerolog.Logger) *services {
	tx := db.NewTxRunner(pool)

	appointments := appointment.NewService(
		appointment.NewAppointmentRepoPG(pool),
		appointment.NewClinicalRecordRepoPG(pool),
		tx, pub, logger,
	)
	// Bills for completed visits are raised by the billing desk; the hook only
	// records that one is due.
	appointments.OnComplete(func(_ context.Context, a *appointment.Appointment) error {
		logger.Info().
			Str("appointment_id", a.ID.String()).
			Str("patient_id", a.PatientID).
			Msg("appointment completed, ready for billing")
		return nil
	})

	return &services{
		appointments: appointments,
		billing: billing.NewService(
			billing.NewBillRepoPG(pool),
			billing.NewPaymentRepoPG(pool),
			billing.NewExpenseRepoPG(pool),
			tx, pub, logger,
		),
		inventory: inventory.NewService(
			inventory.NewMedicineRepoPG(pool),
			inventory.NewStockRepoPG(pool),
			inventory.NewAlertRepoPG(pool),
			tx, pub, logger,
		),
	}
}

// newRouter builds the echo instance with the middleware chain, health
// endpoints and every domain route under /api/v1.
func newRouter(cfg *config.Config, logger zerolog.Logger, svcs *services, health map[string]db.Pinger, pool *pgxpool.Pool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Role"},
	}))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	if cfg.UsesJWT() {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	} else {
		e.Use(auth.DevAuthMiddleware())
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, health))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	appointment.NewHandler(svcs.appointments).RegisterRoutes(apiV1)
	billing.NewHandler(svcs.billing).RegisterRoutes(apiV1)
	inventory.NewHandler(svcs.inventory).RegisterRoutes(apiV1)

	return e
}

// newScheduler registers the periodic maintenance jobs. A zero sweep interval
// disables the overdue sweep.
func newScheduler(cfg *config.Config, logger zerolog.Logger, svcs *services) (*scheduler.Scheduler, error) {
	sched := scheduler.New(logger)
	if cfg.OverdueSweepInterval > 0 {
		err := sched.Every("bills.mark_overdue", cfg.OverdueSweepInterval, func(ctx context.Context) error {
			n, err := svcs.billing.MarkOverdue(ctx, time.Now(), auth.System)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info().Int("count", n).Msg("bills marked overdue")
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	dispatcher, health := newDispatcher(cfg, logger)
	health["postgres"] = pool

	svcs := newServices(pool, dispatcher, logger)
	e := newRouter(cfg, logger, svcs, health, pool)

	sched, err := newScheduler(cfg, logger, svcs)
	if err != nil {
		return err
	}
	sched.Start()

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		sched.Stop()
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sched.Stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("event dispatcher did not drain")
	}
	logger.Info().Msg("server stopped")
	return nil
}
