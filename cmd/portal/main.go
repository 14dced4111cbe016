// ==============================================================================
// REGISTRATION PORTAL - cmd/portal/main.go
// ==============================================================================
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"skyportal/internal/draft"
	"skyportal/internal/fileupload"
	"skyportal/internal/handler"
	"skyportal/internal/identity"
	"skyportal/internal/middleware"
	"skyportal/internal/profile"
	"skyportal/internal/registration"
	"skyportal/internal/repository/postgres"
	"skyportal/internal/scheduler"
	"skyportal/internal/virusscan"
	"skyportal/pkg/cache"
	"skyportal/pkg/config"
	"skyportal/pkg/logger"
	"skyportal/pkg/mailer"
	"skyportal/pkg/validator"
)

func main() {
	cfg := config.Load()

	log := logger.NewWithOptions("registration-portal", logger.Options{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Output: os.Stdout,
	})

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	// Connect to database
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	val := validator.New()
	checks := map[string]handler.HealthCheck{"database": db.PingContext}

	// Identity provider
	var idp identity.Provisioner
	switch cfg.Identity.Backend {
	case "rest":
		idp = identity.NewRESTClient(cfg.Identity.BaseURL, cfg.Identity.APIKey, cfg.Identity.RequestTimeout)
	default:
		idp = identity.NewDirectory(db, val)
	}

	// Document store
	storage, err := newStorage(cfg.Storage, log)
	if err != nil {
		log.Fatal("Failed to initialise document storage", map[string]interface{}{
			"backend": cfg.Storage.Backend,
			"error":   err.Error(),
		})
	}
	checks["storage"] = storage.Ping

	gateway := fileupload.NewGateway(
		storage,
		virusscan.NewSignatureScanner(cfg.Storage.ScanSignatures, log),
		fileupload.GatewayConfig{
			MaxFileSize:      cfg.Storage.MaxFileSize,
			AllowedMimeTypes: cfg.Storage.AllowedMimeTypes,
			Concurrency:      cfg.Storage.UploadConcurrency,
		},
		log,
	)

	profiles := profile.NewService(postgres.NewProfileRepository(db), val, log)

	// Journal and submit guard. Drafts live in this process only, so a
	// draft's requests must be pinned to one instance. Redis keeps outcomes
	// across restarts and guards submits during a rolling deploy.
	var (
		journal     registration.Journal = registration.NewMemoryJournal()
		guard       registration.Guard   = registration.NewMemoryGuard()
		rateCounter middleware.Counter
	)
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		}
		defer rc.Close()

		journal = registration.NewRedisJournal(rc, cfg.Registration.JournalTTL)
		guard = registration.NewRedisGuard(rc, cfg.Registration.LockTTL, log)
		rateCounter = rc
		checks["redis"] = rc.Ping
	} else {
		log.Warn("Redis disabled; submission outcomes are lost on restart", nil)
	}

	var notifier registration.Notifier
	if cfg.Email.Enabled {
		notifier = registration.NewMailNotifier(mailer.New(mailer.Config{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.SMTPFrom,
			UseTLS:   cfg.Email.SMTPUseTLS,
		}))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	orchestrator := registration.New(registration.Dependencies{
		Identity:  idp,
		Uploader:  gateway,
		Persister: profiles,
		Journal:   journal,
		Guard:     guard,
		Notifier:  notifier,
		Metrics:   registration.NewMetrics(reg),
		Logger:    log,
	}, registration.Config{
		MaxAttempts:    cfg.Identity.MaxAttempts,
		InitialBackoff: cfg.Identity.InitialBackoff,
		MaxBackoff:     cfg.Identity.MaxBackoff,
	})

	drafts := draft.NewRegistry(cfg.Registration.DraftTTL, val)

	jobs := scheduler.NewScheduler(log)
	if cfg.Registration.SweepInterval > 0 {
		jobs.Schedule(scheduler.Job{
			Name:     "draft-sweep",
			Interval: cfg.Registration.SweepInterval,
			Run: func(context.Context) error {
				if n := drafts.Sweep(); n > 0 {
					log.Info("Expired idle registration drafts", map[string]interface{}{"count": n, "live": drafts.Len()})
				}
				return nil
			},
		})
	}
	jobs.Start()
	defer jobs.Stop()

	registrations := handler.NewRegistrationHandler(
		drafts,
		orchestrator,
		idp,
		identity.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiration),
		val,
		log,
		handler.RegistrationConfig{
			MaxUploadBytes:   cfg.Storage.MaxFileSize*8 + (1 << 20),
			CompleteRedirect: cfg.Server.CompleteRedirect,
		},
	)
	system := handler.NewSystemHandler(checks, log)

	// Setup router
	r := mux.NewRouter()

	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery(log))

	r.HandleFunc("/health", system.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	availability := registrations.AvailabilityRoute()
	if rateCounter != nil {
		availability = middleware.NewRateLimiter(rateCounter, "availability", 30, time.Minute, log).Limit(availability)
	}
	r.Handle("/api/v1/identity/availability", availability).Methods(http.MethodGet)
	registrations.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		log.Info("Registration portal starting", map[string]interface{}{
			"addr":     cfg.Addr(),
			"identity": cfg.Identity.Backend,
			"storage":  storage.Name(),
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)

	// In-flight submissions finish their current step on a detached context;
	// give them time to do so.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Server stopped", nil)
}

func newStorage(cfg config.StorageConfig, log logger.Logger) (fileupload.StorageProvider, error) {
	switch cfg.Backend {
	case "gcs":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		gcs, err := fileupload.NewGCSStorageProvider(ctx, fileupload.GCSConfig{
			Bucket:          cfg.Bucket,
			Endpoint:        cfg.Endpoint,
			CredentialsFile: cfg.CredentialsFile,
			AccessToken:     cfg.AccessToken,
		}, log)
		if err != nil {
			return nil, err
		}
		return gcs, nil
	default:
		return fileupload.NewLocalStorageProvider(&fileupload.LocalStorageConfig{
			BasePath:        cfg.BasePath,
			FilePermissions: 0o640,
			DirPermissions:  0o750,
		}, log), nil
	}
}
