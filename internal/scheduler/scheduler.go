package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vvzvlad/medical-bot/internal/store"
)

// Scheduler is the periodic driver: it wakes on a fixed interval, iterates
// all users and runs each one's due-resolve → DND gate → dispatch unit under
// that user's lock. A failure in one user's unit never aborts the others.
type Scheduler struct {
	repo     store.Repo
	disp     *Dispatcher
	locks    *UserLocks
	log      *zap.Logger
	interval time.Duration
}

// New creates a scheduler. interval is the tick period (default 60s at the
// config layer).
func New(repo store.Repo, disp *Dispatcher, locks *UserLocks, log *zap.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{repo: repo, disp: disp, locks: locks, log: log, interval: interval}
}

// Run performs the one-time recovery scan, then ticks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	boot := time.Now().UTC()
	s.log.Info("recovery scan starting", zap.Time("boot", boot))
	// Recovery reuses the steady-state path: doses that came due during
	// downtime are ordinary due items, annotated as missed in the rendered
	// text only.
	s.tickAll(ctx, boot, boot)
	s.log.Info("recovery scan done")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.tickAll(ctx, time.Now().UTC(), time.Time{})
		}
	}
}

// tickAll processes every user. Per-user units run concurrently; each holds
// its user's lock for the full read-compute-write cycle and catches its own
// failures at the boundary.
func (s *Scheduler) tickAll(ctx context.Context, now time.Time, missedBefore time.Time) {
	ids, err := s.repo.ListUserIDs(ctx)
	if err != nil {
		s.log.Error("ListUserIDs failed", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(chatID int64) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("tick unit panicked",
						zap.Int64("chatID", chatID), zap.Any("panic", r))
				}
			}()
			s.processUser(ctx, chatID, now, missedBefore)
		}(id)
	}
	wg.Wait()
}

// processUser runs one user's dispatch unit. Store or transport errors are
// logged with user context and retried on the next cycle; nothing propagates.
func (s *Scheduler) processUser(ctx context.Context, chatID int64, now time.Time, missedBefore time.Time) {
	s.locks.Lock(chatID)
	defer s.locks.Unlock(chatID)

	u, err := s.repo.GetUser(ctx, chatID)
	if err != nil {
		s.log.Error("load user failed, skipping this cycle",
			zap.Error(err), zap.Int64("chatID", chatID))
		return
	}
	if err := s.disp.ProcessUser(ctx, u, now, missedBefore); err != nil {
		s.log.Error("dispatch failed, skipping this cycle",
			zap.Error(err), zap.Int64("chatID", chatID))
	}
}
