// Package scheduler invokes the control cycle periodically and applies its
// writes to the state store.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Cubikon/Smart-Heating-Control/internal/config"
	"github.com/Cubikon/Smart-Heating-Control/internal/control"
	"github.com/Cubikon/Smart-Heating-Control/internal/logger"
	"github.com/Cubikon/Smart-Heating-Control/internal/models"
	"github.com/Cubikon/Smart-Heating-Control/internal/store"
)

const defaultPeriod = 5 * time.Minute

// Runner computes one control cycle
type Runner interface {
	RunCycle(ctx context.Context, st store.Reader, now time.Time) (*control.CycleResult, error)
}

// TelemetrySink accepts telemetry points without blocking
type TelemetrySink interface {
	WritePoints(points []models.TelemetryPoint)
}

// Scheduler runs control cycles one after another
type Scheduler struct {
	runner    Runner
	store     store.Store
	sink      TelemetrySink
	period    time.Duration
	threshold int
	log       *logger.Logger
	now       func() time.Time

	mu           sync.Mutex
	failedCycles int
	healthy      bool
}

// New creates a scheduler. sink may be nil when telemetry is disabled.
func New(runner Runner, st store.Store, sink TelemetrySink, cfg config.ControlConfig, log *logger.Logger) *Scheduler {
	period := cfg.Period
	if period <= 0 {
		period = defaultPeriod
	}
	threshold := cfg.WriteFailureThreshold
	if threshold < 1 {
		threshold = 1
	}
	return &Scheduler{
		runner:    runner,
		store:     st,
		sink:      sink,
		period:    period,
		threshold: threshold,
		log:       log.Component("scheduler"),
		now:       time.Now,
		healthy:   true,
	}
}

// Run executes a cycle immediately and then once per period until ctx is
// cancelled. Ticks that arrive while a cycle is still running are dropped.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", "period", s.period.String())
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce computes one cycle and applies its writes in order
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.runner.RunCycle(ctx, s.store, s.now())
	if err != nil {
		s.log.Warn("control cycle aborted", "error", err)
		return
	}
	log := s.log.With("cycle", res.ID)

	failed := 0
	for i, w := range res.Writes {
		if ctx.Err() != nil {
			log.Warn("cycle cancelled while writing", "written", i, "pending", len(res.Writes)-i)
			return
		}
		if err := s.store.Set(ctx, w.ID, w.Value); err != nil {
			log.Warn("state write failed", "id", w.ID, "actuator", w.Actuator, "error", err)
			if w.Actuator {
				failed++
			}
		}
	}

	if s.sink != nil && len(res.Points) > 0 {
		s.sink.WritePoints(res.Points)
	}

	s.recordWrites(log, failed)
	log.Info("control cycle applied",
		"writes", len(res.Writes),
		"failedActuatorWrites", failed,
		"healthy", s.healthy,
	)
}

func (s *Scheduler) recordWrites(log *logger.Logger, failed int) {
	if failed == 0 {
		if !s.healthy {
			log.Info("actuator writes recovered", "failedCycles", s.failedCycles)
		}
		s.failedCycles = 0
		s.healthy = true
		return
	}

	s.failedCycles++
	if s.failedCycles >= s.threshold {
		if s.healthy {
			log.Error("actuator writes keep failing", "failedCycles", s.failedCycles, "failedWrites", failed)
		}
		s.healthy = false
	}
}

// Healthy reports false once actuator writes failed in too many consecutive cycles
func (s *Scheduler) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}
