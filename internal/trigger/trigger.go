// Package trigger is the periodic driver that promotes and closes auctions on
// schedule, independent of caller action. Each sweep walks the pending and
// live indexes in ascending id order, so repeated sweeps over the same
// registry state produce identical side effects.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"auction-ledger/internal/engine"
	"auction-ledger/internal/models"
	"auction-ledger/internal/registry"
	"auction-ledger/internal/telemetry"
)

// Trigger drives the state machine once per interval.
type Trigger struct {
	eng      *engine.Engine
	reg      *registry.Registry
	interval time.Duration
}

func New(eng *engine.Engine, reg *registry.Registry, interval time.Duration) *Trigger {
	if interval <= 0 {
		interval = time.Second
	}
	return &Trigger{eng: eng, reg: reg, interval: interval}
}

// Report summarizes one sweep. Failures carry the per-auction errors that
// were logged and skipped; they never abort the sweep.
type Report struct {
	Started  []uint64
	Stopped  []uint64
	Failures []error
}

// Run sweeps once per interval until the context is cancelled.
func (t *Trigger) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		report := t.Sweep(ctx, time.Now().UTC())
		for _, err := range report.Failures {
			log.Printf("trigger: %v", err)
		}
		if len(report.Started) > 0 || len(report.Stopped) > 0 {
			log.Printf("trigger: started=%d stopped=%d failed=%d",
				len(report.Started), len(report.Stopped), len(report.Failures))
		}
	}
}

// Sweep runs one scheduling pass at the given instant. Each promotion or
// closure is its own atomic operation; one auction failing does not block the
// rest of the cycle.
func (t *Trigger) Sweep(ctx context.Context, now time.Time) Report {
	var report Report
	telemetry.SchedulerSweeps.Inc()

	pending, err := t.reg.ListPending(ctx)
	if err != nil {
		report.Failures = append(report.Failures, fmt.Errorf("list pending: %w", err))
	}
	for _, id := range pending {
		a, err := t.reg.Get(ctx, id)
		if errors.Is(err, registry.ErrNotFound) {
			continue
		}
		if err != nil {
			report.Failures = append(report.Failures, fmt.Errorf("load auction %d: %w", id, err))
			continue
		}
		if a.StartAt == nil || now.Before(*a.StartAt) {
			continue
		}
		if a.Item == "" {
			// Scheduled but never bound; leave it for the owner.
			continue
		}
		if err := t.eng.Start(ctx, engine.System(), id, now); err != nil {
			telemetry.SchedulerFailures.Inc()
			report.Failures = append(report.Failures, fmt.Errorf("start auction %d: %w", id, err))
			continue
		}
		report.Started = append(report.Started, id)
	}

	live, err := t.reg.ListLive(ctx)
	if err != nil {
		report.Failures = append(report.Failures, fmt.Errorf("list live: %w", err))
	}
	telemetry.ActiveAuctions.Set(float64(len(live)))
	for _, id := range live {
		a, err := t.reg.Get(ctx, id)
		if errors.Is(err, registry.ErrNotFound) {
			continue
		}
		if err != nil {
			report.Failures = append(report.Failures, fmt.Errorf("load auction %d: %w", id, err))
			continue
		}
		if !closeDue(a, now) {
			continue
		}
		if err := t.eng.Stop(ctx, engine.System(), id, now); err != nil {
			telemetry.SchedulerFailures.Inc()
			report.Failures = append(report.Failures, fmt.Errorf("stop auction %d: %w", id, err))
			continue
		}
		telemetry.AuctionsSettled.Inc()
		report.Stopped = append(report.Stopped, id)
	}
	return report
}

// closeDue reports whether a live auction should be closed at now: past its
// scheduled stop, quiet for longer than its wait period, or ceiling reached.
func closeDue(a *models.Auction, now time.Time) bool {
	if a.CeilingReached {
		return true
	}
	if a.StopAt != nil && !now.Before(*a.StopAt) {
		return true
	}
	if a.WaitPeriod != nil && a.LatestBid != nil {
		deadline := a.LatestBid.At.Add(*a.WaitPeriod)
		if !now.Before(deadline) {
			return true
		}
	}
	return false
}
