package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"example.com/socialstream/cmd/server"
	"example.com/socialstream/cmd/worker"
	"example.com/socialstream/internal/blob"
	appkafka "example.com/socialstream/internal/broker"
	config "example.com/socialstream/internal/init"
	"example.com/socialstream/internal/store"
	"github.com/google/uuid"
)

func main() {
	// Initialize application configuration
	cfg := config.Init()
	mode := cfg.Mode

	// Initialize Cassandra store connection
	st, err := store.New()
	if err != nil {
		log.Fatalf("Cassandra connection failed: %v", err)
	}
	defer st.Close()

	// Configure Kafka client parameters
	kafkaCfg := appkafka.KafkaConfig{
		Brokers:      []string{cfg.KafkaBroker},
		Topic:        cfg.KafkaTopic,
		Partition:    cfg.KafkaPartition,
		GroupID:      cfg.KafkaGroupID,
		WriteTimeout: cfg.KafkaWriteTO,
		ReadTimeout:  cfg.KafkaReadTO,
	}

	// Setup OS signal handling for graceful shutdown (SIGINT, SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run application depending on selected mode
	switch mode {
	case "server":
		// The server both publishes change events and consumes them for its
		// own live subscriptions, so it needs a writer and a reader.
		kafkaWriter, err := appkafka.NewKafkaWriter(kafkaCfg)
		if err != nil {
			log.Fatalf("Kafka writer init failed: %v", err)
		}
		defer kafkaWriter.Close()

		// Live subscriptions need every event, so each server replica reads
		// under its own consumer group, separate from the worker's shared
		// archive group.
		liveCfg := kafkaCfg
		liveCfg.GroupID = cfg.KafkaGroupID + "-live-" + uuid.NewString()
		kafkaReader := appkafka.NewKafkaReader(liveCfg)
		defer kafkaReader.Close()

		uploads := blob.NewClient(cfg.BlobBaseURL)
		defer uploads.Close()

		server.Run(ctx, st, kafkaWriter, kafkaReader, uploads, cfg.ServerAddr)
	case "worker":
		// Start the worker that archives the change feed and sweeps stories
		kafkaReader := appkafka.NewKafkaReader(kafkaCfg)
		defer kafkaReader.Close()

		w := worker.New(st, kafkaReader, 0, 0, cfg.StorySweepInterval)
		w.Run(ctx)
	default:
		log.Fatalf("unknown mode: %s", mode)
	}

	log.Println("Shutdown completed")
}
