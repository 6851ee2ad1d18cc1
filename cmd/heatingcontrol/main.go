package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Cubikon/Smart-Heating-Control/internal/config"
	"github.com/Cubikon/Smart-Heating-Control/internal/control"
	"github.com/Cubikon/Smart-Heating-Control/internal/influxdb"
	"github.com/Cubikon/Smart-Heating-Control/internal/kafka"
	"github.com/Cubikon/Smart-Heating-Control/internal/logger"
	"github.com/Cubikon/Smart-Heating-Control/internal/mqtt"
	"github.com/Cubikon/Smart-Heating-Control/internal/processor"
	"github.com/Cubikon/Smart-Heating-Control/internal/scheduler"
	"github.com/Cubikon/Smart-Heating-Control/internal/store"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	st, err := openStore(cfg.Store)
	if err != nil {
		lg.Fatal("failed to open state store", "backend", cfg.Store.Backend, "error", err)
	}

	// Telemetry is best effort: without Influx the controller still runs.
	var sink scheduler.TelemetrySink
	var influxClient *influxdb.Client
	if cfg.Control.TelemetryEnabled {
		influxClient, err = influxdb.NewClient(cfg.InfluxDB, lg)
		if err != nil {
			lg.Warn("telemetry disabled, influxdb unavailable", "error", err)
		} else {
			sink = influxClient
		}
	}

	proc := processor.NewProcessor(st, sink, cfg.Processor, cfg.Topology.InfluxMeasurement, lg)

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	startIngestion(ctx, cfg, proc, lg, &wg)

	ctrl := control.NewController(cfg.Topology, cfg.Control, lg)
	sched := scheduler.New(ctrl, st, sink, cfg.Control, lg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	lg.Info("heating control running",
		"rooms", len(cfg.Topology.Rooms),
		"circuits", len(cfg.Topology.Circuits),
		"transport", cfg.Ingest.Transport,
		"store", cfg.Store.Backend,
		"telemetry", sink != nil,
	)

	<-sigChan
	lg.Info("received termination signal, shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		lg.Info("ingestion and scheduler stopped")
	case <-shutdownCtx.Done():
		lg.Warn("shutdown timed out, forcing exit")
	}

	proc.Stop()

	// Influx goes last so the final ingest counters are flushed.
	if influxClient != nil {
		lg.Info("closing influxdb client")
		influxClient.Close()
	}
	if err := st.Close(); err != nil {
		lg.Warn("error closing state store", "error", err)
	}

	lg.Info("shutdown complete", "healthy", sched.Healthy())
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	if cfg.Backend == "memory" {
		return store.NewMemory(), nil
	}
	return store.NewRedis(cfg)
}

// startIngestion launches the configured transport; each goroutine is tracked by wg.
func startIngestion(ctx context.Context, cfg *config.Config, proc *processor.Processor, lg *logger.Logger, wg *sync.WaitGroup) {
	switch cfg.Ingest.Transport {
	case "kafka":
		lg.Info("starting kafka consumers", "count", cfg.Kafka.ConsumerCount)
		for i := 0; i < cfg.Kafka.ConsumerCount; i++ {
			consumer, err := kafka.NewConsumer(fmt.Sprintf("consumer-%d", i), cfg.Kafka, proc.ProcessMessages, lg)
			if err != nil {
				lg.Fatal("failed to create consumer", "consumer", i, "error", err)
			}

			wg.Add(1)
			go func(c *kafka.Consumer, id int) {
				defer wg.Done()
				if err := c.Consume(ctx); err != nil {
					lg.Error("consumer error", "consumer", id, "error", err)
				}
				lg.Info("consumer stopped", "consumer", id)
			}(consumer, i)
		}
	case "mqtt":
		sub, err := mqtt.NewSubscriber(cfg.MQTT, proc.ProcessMessages, lg)
		if err != nil {
			lg.Fatal("failed to connect to mqtt broker", "broker", cfg.MQTT.Broker, "error", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sub.Run(ctx); err != nil {
				lg.Error("mqtt subscriber error", "error", err)
			}
		}()
	default:
		lg.Info("ingestion disabled, states must be written to the store externally")
	}
}
