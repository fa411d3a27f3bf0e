package worker

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/chaingraph/chaingraph/internal/domain/execution"
)

// OrphanSweeper periodically finalizes executions the store reports as
// orphaned (spec §4.E crash recovery / spec §4.G listOrphans): child
// executions whose parent vanished or already reached a terminal status
// before they could report their own completion back up. Root executions
// (no parent) are never listed, so a stale root attempt left by a crashed
// worker is not swept here. Orphans are marked RESTARTED rather than
// STOPPED or FAILED — status.go models RESTARTED specifically as "a
// previous attempt superseded by crash recovery," and it is one of the two
// terminal statuses (with FAILED) the status machine allows forcing from
// any non-terminal state (CanTransitionTo's crash-recovery carve-out),
// matching an orphan that could be sitting in any of
// CREATING/CREATED/RUNNING/PAUSED when its parent disappears or finishes.
// Grounded on the teacher's
// messaging.CleanupWorker ticker loop, generalized from a fixed
// interval to a cron schedule via robfig/cron/v3 so operators can run
// the sweep off-peak.
type OrphanSweeper struct {
	store  Store
	logger *slog.Logger
	cron   *cron.Cron
	spec   string
}

// NewOrphanSweeper constructs a sweeper that runs on the given cron
// schedule (e.g. "*/5 * * * *" for every five minutes).
func NewOrphanSweeper(store Store, logger *slog.Logger, schedule string) *OrphanSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = "*/5 * * * *"
	}
	return &OrphanSweeper{
		store:  store,
		logger: logger,
		cron:   cron.New(),
		spec:   schedule,
	}
}

// Start schedules the sweep and returns once it is registered; the sweep
// itself runs on cron's own goroutine until ctx is cancelled.
func (s *OrphanSweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() { s.sweepOnce(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
	return nil
}

func (s *OrphanSweeper) sweepOnce(ctx context.Context) {
	orphans, err := s.store.ListOrphans(ctx)
	if err != nil {
		s.logger.Error("list orphans", "error", err)
		return
	}
	if len(orphans) == 0 {
		return
	}
	s.logger.Info("sweeping orphaned executions", "count", len(orphans))
	for _, id := range orphans {
		s.finalizeOrphan(ctx, id)
	}
}

func (s *OrphanSweeper) finalizeOrphan(ctx context.Context, id string) {
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		s.logger.Error("load orphan", "executionId", id, "error", err)
		return
	}
	if rec.Status().IsTerminal() {
		return
	}
	if err := rec.SetStatus(execution.StatusRestarted); err != nil {
		s.logger.Error("transition orphan", "executionId", id, "error", err)
		return
	}
	if err := s.store.Save(ctx, rec); err != nil {
		s.logger.Error("save orphan", "executionId", id, "error", err)
		return
	}
	rec.ClearEvents()
}
