package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tmakela/opynab/internal/api/handlers"
	"github.com/tmakela/opynab/internal/api/middleware"
	"github.com/tmakela/opynab/internal/config"
	"github.com/tmakela/opynab/internal/importer"
	"github.com/tmakela/opynab/internal/logger"
	"github.com/tmakela/opynab/internal/opbank"
	"github.com/tmakela/opynab/internal/rules"
	"github.com/tmakela/opynab/internal/ynab"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.Load()

	var (
		port   = flag.String("port", cfg.Port, "HTTP server port")
		dbPath = flag.String("db", cfg.DatabasePath, "Path to the rules database")
	)
	flag.Parse()

	log := logger.NewWithLevel(cfg.LogLevel)

	if cfg.YNABAPIToken == "" {
		log.Warn().Msg("No YNAB API token configured - ledger endpoints will fail")
	}

	store, err := rules.NewStore(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *dbPath).Msg("Failed to open rules database")
	}

	client := ynab.NewClient(cfg.YNABAPIToken, cfg.BudgetID, log)

	parser := opbank.NewParser(log)
	engine := rules.NewEngine(log)
	pipeline := importer.NewUploadPipeline(parser, store, engine)

	// Initialize handlers
	uploadHandler := handlers.NewUploadHandler(pipeline, log)
	rulesHandler := handlers.NewRulesHandler(store, log)
	suggestionsHandler := handlers.NewSuggestionsHandler(client, store, log)
	ledgerHandler := handlers.NewLedgerHandler(client, cfg.AccountID, log)
	healthHandler := handlers.NewHealthHandler()

	// Create router
	mux := http.NewServeMux()

	mux.HandleFunc("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			uploadHandler.Upload(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/rules", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			rulesHandler.ListRules(w, r)
		case http.MethodPost:
			rulesHandler.CreateRule(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/rules/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/rules/")
		if id == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Rule ID is required")
			return
		}
		switch r.Method {
		case http.MethodPut:
			rulesHandler.UpdateRule(w, r, id)
		case http.MethodDelete:
			rulesHandler.DeleteRule(w, r, id)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/suggestions/analyze", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			suggestionsHandler.Analyze(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/suggestions/summary", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			suggestionsHandler.Summary(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/suggestions/bulk-create", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			suggestionsHandler.BulkCreate(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/transactions/import", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			ledgerHandler.ImportTransactions(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/categories", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			ledgerHandler.ListCategories(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/payees", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			ledgerHandler.ListPayees(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/health", healthHandler.Health)

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Str("db", *dbPath).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
