package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"prohappy_backend/database"
	"prohappy_backend/internal/config"
	"prohappy_backend/internal/email"
	"prohappy_backend/internal/forms"
	"prohappy_backend/internal/gate"
	"prohappy_backend/internal/handlers"
	"prohappy_backend/internal/logger"
	"prohappy_backend/internal/middleware"
	"prohappy_backend/internal/repositories"
	"prohappy_backend/internal/routes"
	"prohappy_backend/internal/services"
	"prohappy_backend/internal/storage"
	"prohappy_backend/internal/transport"
	"prohappy_backend/internal/validator"
	"prohappy_backend/internal/workers"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

// App - собранное приложение: роутер, сервисы и фоновый воркер
type App struct {
	cfg      *config.Config
	db       *gorm.DB
	services *services.ServiceContainer
	router   *gin.Engine
	worker   *workers.RedeliveryWorker
}

func Run() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init(config.EnvDevelopment)
		logger.Fatal("Failed to load configuration", "error", err)
	}
	logger.Init(cfg.Server.Env)
	logger.Info("Logger initialized", "env", cfg.Server.Env, "version", cfg.Server.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize application", "error", err)
	}
	if err := a.Serve(ctx); err != nil {
		logger.Fatal("Server error", "error", err)
	}
}

// New wires every component from cfg. The database is optional: without
// DATABASE_URL records are kept in memory.
func New(cfg *config.Config) (*App, error) {
	var db *gorm.DB
	if cfg.Database.DSN != "" {
		logger.Info("Connecting to database...")
		var err error
		db, err = database.Connect(cfg.Database.DSN, !cfg.IsProduction())
		if err != nil {
			return nil, err
		}
		if err := database.AutoMigrate(db); err != nil {
			return nil, err
		}
		logger.Info("Database connected")
	} else {
		logger.Warn("DATABASE_URL is not set, submission records are kept in memory")
	}

	container, err := initializeServices(cfg, db)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		db:       db,
		services: container,
		router:   SetupRouter(cfg, initializeHandlers(cfg, container)),
	}

	if cfg.Redelivery.Enabled {
		a.worker = workers.NewRedeliveryWorker(container.Repo, container.Recorder, workers.RedeliveryConfig{
			Schedule:        cfg.Redelivery.Schedule,
			BatchSize:       cfg.Redelivery.BatchSize,
			MaxRedeliveries: cfg.Redelivery.MaxRedeliveries,
		})
	}
	return a, nil
}

// Router exposes the configured engine, mainly for tests.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Serve runs the HTTP server and the redelivery worker until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if a.worker != nil {
		if err := a.worker.Start(ctx); err != nil {
			return err
		}
		defer a.worker.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("🚀 Server starting on %s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	a.close()
	logger.Info("Server stopped")
	return nil
}

func (a *App) close() {
	if a.services.Email != nil {
		_ = a.services.Email.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// NewTransportClient builds the webhook client from the webhook section.
func NewTransportClient(cfg *config.Config) (*transport.Client, error) {
	endpoints := make(map[forms.Kind]transport.Endpoint, 3)
	for kind, wh := range map[forms.Kind]config.WebhookConfig{
		forms.KindAssignment:        cfg.Webhooks.Assignment,
		forms.KindChangeRequest:     cfg.Webhooks.ChangeRequest,
		forms.KindWorkerDeliverable: cfg.Webhooks.WorkerDeliverable,
	} {
		enc, err := transport.ParseEncoding(wh.Encoding)
		if err != nil {
			return nil, fmt.Errorf("webhook %s: %w", kind, err)
		}
		if wh.URL == "" {
			logger.Warn("Webhook endpoint is not configured", "form_kind", kind)
		}
		endpoints[kind] = transport.Endpoint{URL: wh.URL, Encoding: enc}
	}

	return transport.New(transport.Options{
		Endpoints:  endpoints,
		Timeout:    cfg.Webhooks.Timeout,
		MaxRetries: cfg.Webhooks.MaxRetries,
		RetryDelay: cfg.Webhooks.RetryDelay,
		Backoff:    transport.Backoff(cfg.Webhooks.Backoff),
		UserAgent:  "prohappy-backend/" + cfg.Server.Version,
	}), nil
}

func initializeServices(cfg *config.Config, db *gorm.DB) (*services.ServiceContainer, error) {
	// --- Хранилище вложений ---
	storageInstance, err := storage.NewStorage(storage.Config{
		Type:      cfg.Storage.Type,
		BasePath:  cfg.Storage.BasePath,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Endpoint:  cfg.Storage.Endpoint,
		AccountID: cfg.Storage.AccountID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logger.Info("Storage initialized", "type", cfg.Storage.Type)

	// --- Email оповещения ---
	var emailProvider email.Provider
	var notifier services.Notifier
	smtpCfg := &email.SMTPConfig{
		Host:      cfg.Email.SMTPHost,
		Port:      cfg.Email.SMTPPort,
		Username:  cfg.Email.SMTPUsername,
		Password:  cfg.Email.SMTPPassword,
		FromEmail: cfg.Email.FromEmail,
		FromName:  cfg.Email.FromName,
	}
	if smtpCfg.Enabled() && cfg.Email.AlertEmail != "" {
		provider := email.NewSMTPProvider(smtpCfg)
		if err := provider.Validate(); err != nil {
			return nil, fmt.Errorf("invalid SMTP configuration: %w", err)
		}
		templates, err := email.NewTemplateManager()
		if err != nil {
			return nil, err
		}
		emailProvider = provider
		notifier = email.NewAlertNotifier(provider, templates, cfg.Email.AlertEmail)
		logger.Info("Failure alerts enabled", "to", cfg.Email.AlertEmail)
	} else {
		logger.Warn("SMTP or ALERT_EMAIL is not set, failure alerts are disabled")
	}

	// --- Код доступа ---
	gatePolicy, err := gate.NewPolicy(cfg.Gate.Policy, cfg.Gate.Codes)
	if err != nil {
		return nil, err
	}

	// --- Репозиторий ---
	var repo repositories.SubmissionRepository
	if db != nil {
		repo = repositories.NewSubmissionRepository(db)
	} else {
		repo = repositories.NewMemorySubmissionRepository()
	}

	client, err := NewTransportClient(cfg)
	if err != nil {
		return nil, err
	}

	recorder := services.NewDeliveryRecorder(repo, client, storageInstance, notifier)
	submissions := services.NewSubmissionService(services.SubmissionServiceConfig{
		GatePolicy:  gatePolicy,
		Schema:      forms.NewSchema(validator.New(), nil),
		Recorder:    recorder,
		Repo:        repo,
		Storage:     storageInstance,
		MaxFileSize: cfg.Upload.MaxSizeBytes,
		Environment: cfg.Server.Env,
		Version:     cfg.Server.Version,
	})

	return &services.ServiceContainer{
		Submissions: submissions,
		Recorder:    recorder,
		Repo:        repo,
		Email:       emailProvider,
		Storage:     storageInstance,
	}, nil
}

func initializeHandlers(cfg *config.Config, container *services.ServiceContainer) *handlers.AppHandlers {
	customValidator := validator.New()
	baseHandler := handlers.NewBaseHandler(customValidator)

	return &handlers.AppHandlers{
		FormHandler:       handlers.NewFormHandler(baseHandler, container.Submissions),
		SubmissionHandler: handlers.NewSubmissionHandler(baseHandler, container.Submissions, cfg.Server.AdminToken),
		StaticHandler:     handlers.NewStaticHandler(cfg.Server.StaticDir, cfg.Server.Version, cfg.Server.Env),
	}
}

// SetupRouter builds the gin engine with middleware and routes.
func SetupRouter(cfg *config.Config, appHandlers *handlers.AppHandlers) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Server.CORSOrigins))

	routes.RegisterRoutes(router, appHandlers)
	return router
}
