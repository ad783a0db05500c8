package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/abkawan/account-ledger/internal/config"
	"github.com/abkawan/account-ledger/internal/db"
	"github.com/abkawan/account-ledger/internal/logger"
	"github.com/abkawan/account-ledger/internal/queue"
	"github.com/abkawan/account-ledger/internal/service"
	"go.uber.org/zap"
)

// The processor drains the audit queue into the MongoDB audit log.
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

	// Connect to MongoDB
	log.Info("connecting to MongoDB")
	mongodb, err := db.NewMongoDB(cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer mongodb.Close(context.Background())

	// Connect to RabbitMQ
	log.Info("connecting to RabbitMQ")
	rabbitmq, err := queue.NewRabbitMQ(cfg.RabbitMQURI, log)
	if err != nil {
		log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitmq.Close()

	auditService := service.NewAuditService(mongodb, rabbitmq, log.Named("audit"))

	log.Info("starting audit processor")
	if err := auditService.StartProcessor(ctx); err != nil {
		log.Fatal("failed to start audit processor", zap.Error(err))
	}

	log.Info("audit processor started")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down processor")
	cancel() // Cancel context to stop processor
	log.Info("processor shut down successfully")
}
