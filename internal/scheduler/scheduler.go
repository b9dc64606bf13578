// Package scheduler runs the periodic retention job in serve mode: old
// completed scans are purged from the database on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Cleaner deletes completed scans older than keepDays and reports how many
// were removed.
type Cleaner interface {
	Cleanup(ctx context.Context, keepDays int) (int, error)
}

// Scheduler wraps robfig/cron around the retention job and tracks the next
// scheduled run.
type Scheduler struct {
	mu      sync.RWMutex
	c       *cron.Cron
	entryID cron.EntryID
	expr    string
}

// New creates a stopped Scheduler. Call Start to activate it.
func New() *Scheduler {
	return &Scheduler{
		c: cron.New(),
	}
}

// ScheduleCleanup registers the retention job on the given cron expression,
// replacing a previously registered one.
func (s *Scheduler) ScheduleCleanup(expr string, cleaner Cleaner, keepDays int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID != 0 {
		s.c.Remove(s.entryID)
	}

	id, err := s.c.AddFunc(expr, func() {
		n, err := cleaner.Cleanup(context.Background(), keepDays)
		if err != nil {
			slog.Error("scheduled cleanup failed", "error", err)
			return
		}
		slog.Info("scheduled cleanup done", "removed", n, "keep_days", keepDays)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.entryID = id
	s.expr = expr
	slog.Info("scheduler: cleanup job set", "cron", expr, "keep_days", keepDays)
	return nil
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop halts the cron loop gracefully.
func (s *Scheduler) Stop() {
	s.c.Stop()
}

// NextRunAt returns the next scheduled time, or nil if no job is set.
func (s *Scheduler) NextRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entryID == 0 {
		return nil
	}
	entry := s.c.Entry(s.entryID)
	if entry.ID == 0 {
		return nil
	}
	t := entry.Next
	return &t
}

// CronExpr returns the current cron expression.
func (s *Scheduler) CronExpr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expr
}
