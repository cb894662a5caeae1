package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Eco2lodgy-Company/lynx-sub000/internal/attachments"
	"github.com/Eco2lodgy-Company/lynx-sub000/internal/models"
	"github.com/Eco2lodgy-Company/lynx-sub000/internal/server"
)

func main() {
	cfg, err := models.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	blobs, err := attachments.NewBlobStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init blob store: %v", err)
	}

	var events *attachments.EventProducer
	if cfg.KafkaBroker != "" {
		events = attachments.NewEventProducer(cfg.KafkaBroker, cfg.KafkaTopic)
	}

	store, err := attachments.NewStore(ctx, cfg.DatabaseURL, blobs, events)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer store.Close()

	srv := server.NewServer(cfg, store)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	srv.Stop()
	if err := events.Close(); err != nil {
		log.Printf("failed to close event producer: %v", err)
	}
}
