package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/abkawan/account-ledger/internal/api"
	"github.com/abkawan/account-ledger/internal/config"
	"github.com/abkawan/account-ledger/internal/db"
	"github.com/abkawan/account-ledger/internal/ledger"
	"github.com/abkawan/account-ledger/internal/logger"
	"github.com/abkawan/account-ledger/internal/queue"
	"github.com/abkawan/account-ledger/internal/service"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	log, err := logger.New(cfg.IsProduction(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	// Connecting to Postgres
	log.Info("connecting to PostgreSQL")
	postgres, err := db.NewPostgres(cfg.PostgresURI)
	if err != nil {
		log.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer postgres.Close()

	log.Info("creating the schema")
	if err := postgres.InitSchema(ctx); err != nil {
		log.Fatal("failed to create schema", zap.Error(err))
	}

	// Connect to MongoDB
	log.Info("connecting to MongoDB")
	mongodb, err := db.NewMongoDB(cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer mongodb.Close(ctx)

	// Connect to RabbitMQ
	log.Info("connecting to RabbitMQ")
	rabbitmq, err := queue.NewRabbitMQ(cfg.RabbitMQURI, log)
	if err != nil {
		log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitmq.Close()

	// Create services
	accountService := service.NewAccountService(postgres, rabbitmq, log.Named("accounts"),
		ledger.WithDailyLimit(cfg.DailyWithdrawalLimit),
		ledger.WithPinIterations(cfg.PinHashIterations),
	)
	if err := accountService.Load(ctx); err != nil {
		log.Fatal("failed to load accounts", zap.Error(err))
	}
	auditService := service.NewAuditService(mongodb, nil, log.Named("audit"))

	// Create router and set up routes
	router := mux.NewRouter()
	api.SetupRoutes(router, accountService, auditService, log.Named("http"))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info("starting server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
		return
	}

	log.Info("server shut down successfully")
}
