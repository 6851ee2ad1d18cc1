package influxdb

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Cubikon/Smart-Heating-Control/internal/config"
	"github.com/Cubikon/Smart-Heating-Control/internal/logger"
	"github.com/Cubikon/Smart-Heating-Control/internal/models"
)

// Client represents an InfluxDB v2 telemetry sink
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	config   config.InfluxDBConfig
	log      *logger.Logger
	done     chan struct{}
}

// NewClient initializes the InfluxDB v2 client and verifies connectivity
func NewClient(cfg config.InfluxDBConfig, log *logger.Logger) (*Client, error) {
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.BatchTimeout.Milliseconds()))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		config:   cfg,
		log:      log.Component("influxdb"),
		done:     make(chan struct{}),
	}
	go c.drainErrors()

	c.log.Info("influxdb client ready", "url", cfg.URL, "bucket", cfg.Bucket)
	return c, nil
}

// WritePoints queues telemetry points. The write API batches in the
// background, so this never blocks on the network; failures are only logged.
func (c *Client) WritePoints(points []models.TelemetryPoint) {
	for _, p := range points {
		c.writeAPI.WritePoint(write.NewPoint(p.Measurement, p.Tags, p.Fields, p.Timestamp))
	}
}

func (c *Client) drainErrors() {
	errs := c.writeAPI.Errors()
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}
			c.log.Warn("telemetry write failed", "error", err)
		case <-c.done:
			return
		}
	}
}

// Close flushes pending points and closes the InfluxDB client
func (c *Client) Close() {
	c.writeAPI.Flush()
	close(c.done)
	c.client.Close()
}
