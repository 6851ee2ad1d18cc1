package processor

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Cubikon/Smart-Heating-Control/internal/config"
	"github.com/Cubikon/Smart-Heating-Control/internal/logger"
	"github.com/Cubikon/Smart-Heating-Control/internal/models"
	"github.com/Cubikon/Smart-Heating-Control/internal/store"
)

const (
	writeTimeout = 5 * time.Second
	lockStripes  = 64
)

// TelemetrySink accepts telemetry points without blocking
type TelemetrySink interface {
	WritePoints(points []models.TelemetryPoint)
}

// Processor applies incoming state updates to the state store
type Processor struct {
	store      store.Writer
	config     config.ProcessorConfig
	log        *logger.Logger
	queue      chan []models.StateUpdate
	wg         sync.WaitGroup
	mu         sync.RWMutex
	stopped    bool
	idLocks    [lockStripes]sync.Mutex
	latestMu   sync.Mutex
	latest     map[string]time.Time
	aggregator *ingestAggregator
}

// NewProcessor creates a new processor and starts its workers. sink may be nil
// when telemetry is disabled.
func NewProcessor(st store.Writer, sink TelemetrySink, cfg config.ProcessorConfig, measurement string, log *logger.Logger) *Processor {
	p := &Processor{
		store:  st,
		config: cfg,
		log:    log.Component("processor"),
		queue:  make(chan []models.StateUpdate, cfg.QueueSize),
		latest: make(map[string]time.Time),
	}

	if sink != nil {
		p.aggregator = newIngestAggregator(sink, measurement+"_ingest", cfg.FlushInterval)
	}

	p.wg.Add(cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		go p.worker(i)
	}

	return p
}

// ProcessMessages queues a batch of updates
func (p *Processor) ProcessMessages(updates []models.StateUpdate) error {
	batch := make([]models.StateUpdate, len(updates))
	copy(batch, updates)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		p.log.Warn("processor stopped, dropping updates", "count", len(updates))
		return nil
	}

	select {
	case p.queue <- batch:
		return nil
	default:
		p.log.Warn("processing queue is full, dropping updates", "count", len(updates))
		return nil
	}
}

// worker applies queued batches to the store
func (p *Processor) worker(id int) {
	defer p.wg.Done()

	for batch := range p.queue {
		for _, u := range batch {
			if err := p.apply(u); err != nil {
				p.log.Warn("error storing state update", "worker", id, "id", u.ID, "error", err)
			}
		}

		if p.aggregator != nil {
			p.aggregator.update(batch)
		}
	}
}

// apply writes u unless a newer update for the same id was seen. The check and
// the write happen under the id's lock so an older value never lands last.
func (p *Processor) apply(u models.StateUpdate) error {
	mu := &p.idLocks[xxhash.Sum64String(u.ID)%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	if p.isStale(u) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return p.store.Set(ctx, u.ID, u.Value)
}

// isStale reports whether a newer update for the same state was already seen,
// and records u as the newest otherwise.
func (p *Processor) isStale(u models.StateUpdate) bool {
	p.latestMu.Lock()
	defer p.latestMu.Unlock()
	if last, ok := p.latest[u.ID]; ok && !u.Timestamp.IsZero() && u.Timestamp.Before(last) {
		return true
	}
	if !u.Timestamp.IsZero() {
		p.latest[u.ID] = u.Timestamp
	}
	return false
}

// Stop drains the queue and stops the workers
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()

	if p.aggregator != nil {
		p.aggregator.stop()
	}
}

// ingestAggregator counts received updates per source
type ingestAggregator struct {
	sink        TelemetrySink
	measurement string
	counts      map[string]int
	mutex       sync.Mutex
	quit        chan struct{}
	done        chan struct{}
}

func newIngestAggregator(sink TelemetrySink, measurement string, interval time.Duration) *ingestAggregator {
	a := &ingestAggregator{
		sink:        sink,
		measurement: measurement,
		counts:      make(map[string]int),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	go a.periodicFlush(interval)

	return a
}

func (a *ingestAggregator) update(updates []models.StateUpdate) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, u := range updates {
		a.counts[u.Source]++
	}
}

func (a *ingestAggregator) flush() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.flushLocked()
}

func (a *ingestAggregator) flushLocked() {
	if len(a.counts) == 0 {
		return
	}

	now := time.Now()
	points := make([]models.TelemetryPoint, 0, len(a.counts))
	for source, count := range a.counts {
		points = append(points, models.TelemetryPoint{
			Measurement: a.measurement,
			Tags:        map[string]string{"source": source},
			Fields:      map[string]interface{}{"count": count},
			Timestamp:   now,
		})
	}
	a.sink.WritePoints(points)

	a.counts = make(map[string]int)
}

func (a *ingestAggregator) periodicFlush(interval time.Duration) {
	defer close(a.done)
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.quit:
			a.flush()
			return
		}
	}
}

func (a *ingestAggregator) stop() {
	close(a.quit)
	<-a.done
}
