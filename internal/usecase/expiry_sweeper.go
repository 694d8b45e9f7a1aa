package usecase

import (
	"context"
	"sync/atomic"
	"time"

	"KidneyAllocation/internal/ports"
)

// ExpirySweeper closes offers whose one-hour window has lapsed on every tick
// of its driver, then persists them and tells the owning clinicians. Reads
// already expire offers on their own; the sweeper is what reports them.
type ExpirySweeper struct {
	driver     ports.Scheduler
	allocation *Allocation
	reported   atomic.Int64
}

// NewExpirySweeper binds the allocation workflow to a tick driver.
func NewExpirySweeper(driver ports.Scheduler, allocation *Allocation) *ExpirySweeper {
	return &ExpirySweeper{driver: driver, allocation: allocation}
}

// Start hands the sweep to the driver. Without a driver it does nothing.
func (s *ExpirySweeper) Start(ctx context.Context) error {
	if s.driver == nil || s.allocation == nil {
		return nil
	}
	return s.driver.Start(ctx, func(at time.Time) { s.sweep(ctx, at) })
}

// Stop halts the driver; offers left Pending are picked up by the next run.
func (s *ExpirySweeper) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}

// Reported counts the expired offers handed to clinicians so far.
func (s *ExpirySweeper) Reported() int64 {
	return s.reported.Load()
}

func (s *ExpirySweeper) sweep(ctx context.Context, at time.Time) {
	if ctx.Err() != nil {
		return
	}
	expired := s.allocation.ExpireStale(ctx, at)
	s.reported.Add(int64(len(expired)))
}
