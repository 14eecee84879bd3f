package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/liamcoop/admission/booking"
	"github.com/liamcoop/admission/clinics"
	"github.com/liamcoop/admission/internal/config"
	"github.com/liamcoop/admission/internal/logger"
	"github.com/liamcoop/admission/migrations"
	"github.com/liamcoop/admission/store"
	_ "github.com/lib/pq"
)

type Server struct {
	cfg       *config.Config
	db        *sql.DB
	policies  store.PolicyStore
	inventory store.Inventory
	clinics   *clinics.Manager
	booking   *booking.Service
	router    *chi.Mux
}

// backends are the collaborator stores the server is wired to
type backends struct {
	policies  store.PolicyStore
	stages    store.StageHistory
	inventory store.Inventory
	decisions store.DecisionLog
}

func inMemoryBackends() backends {
	return backends{
		policies:  store.NewInMemoryPolicyStore(),
		stages:    store.NewInMemoryStageHistory(),
		inventory: store.NewInMemoryInventory(),
		decisions: store.NewInMemoryDecisionLog(),
	}
}

func postgresBackends(db *sql.DB) backends {
	return backends{
		policies:  store.NewPostgresPolicyStore(db),
		stages:    store.NewPostgresStageHistory(db),
		inventory: store.NewPostgresInventory(db),
		decisions: store.NewPostgresDecisionLog(db),
	}
}

// NewServer connects to the configured backends and loads every clinic
func NewServer(cfg *config.Config) (*Server, error) {
	if cfg.InMemory() {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		return newServer(cfg, nil, inMemoryBackends())
	}

	if cfg.MigrationsOnStart {
		logger.Info("running migrations")
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newServer(cfg, db, postgresBackends(db))
}

func newServer(cfg *config.Config, db *sql.DB, b backends) (*Server, error) {
	ctx := context.Background()

	manager := clinics.NewManager(b.policies)
	if err := manager.LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to load clinics: %w", err)
	}

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	if err := manager.EnsureClinic(ctx, cfg.DefaultClinic, "Default clinic", policy); err != nil {
		return nil, fmt.Errorf("failed to initialize default clinic: %w", err)
	}
	logger.Info("clinics ready", "clinics", manager.ListClinics(), "default", cfg.DefaultClinic)

	s := &Server{
		cfg:       cfg,
		db:        db,
		policies:  b.policies,
		inventory: b.inventory,
		clinics:   manager,
		booking: booking.NewService(manager, b.stages, b.inventory, b.decisions,
			booking.WithLookupTimeout(cfg.LookupTimeout),
		),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/metrics", s.handleMetrics)

	// stateless evaluation of a fully supplied request
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	r.Route("/api/v1/clinics", func(r chi.Router) {
		r.Get("/", s.handleListClinics)
		r.Post("/", s.handleCreateClinic)

		r.Route("/{clinicId}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteClinic)

			r.Get("/policy", s.handleGetPolicy)
			r.Put("/policy", s.handleUpdatePolicy)

			r.Post("/bookings/check", s.handleCheckBooking)
			r.Get("/decisions", s.handleListDecisions)

			r.Put("/inventory/{service}", s.handleSetStock)
		})
	})

	r.Route("/api/v1/stages", func(r chi.Router) {
		r.Post("/", s.handleRecordStage)
		r.Post("/{stageId}/override", s.handleOverrideStage)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}
	if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
	if err := logger.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}
}
