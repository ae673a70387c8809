// Package reminder manages the daily expense-entry reminder. The actual
// delivery channel is platform-specific; implementations plug in behind the
// Scheduler interface.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"contabile/internal/core"
)

// Scheduler owns the single daily reminder slot.
type Scheduler interface {
	// Enable (re)schedules the daily reminder at the given local time.
	Enable(ctx context.Context, hour, minute int) error
	// Disable cancels the reminder if one is scheduled.
	Disable(ctx context.Context) error
	// Status returns whether a reminder is scheduled and at what time.
	Status(ctx context.Context) (enabled bool, hour, minute int)
}

// LogScheduler records the reminder slot in memory and logs transitions. It
// stands in where no platform notifier is wired up.
type LogScheduler struct {
	mu      sync.Mutex
	enabled bool
	hour    int
	minute  int
}

func NewLogScheduler() *LogScheduler {
	return &LogScheduler{}
}

func (s *LogScheduler) Enable(ctx context.Context, hour, minute int) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("%w: reminder time %02d:%02d out of range", core.ErrValidation, hour, minute)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-enabling replaces the previous slot; there is only ever one.
	s.enabled = true
	s.hour = hour
	s.minute = minute

	slog.InfoContext(ctx, "Daily reminder scheduled", "hour", hour, "minute", minute)
	return nil
}

func (s *LogScheduler) Disable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return nil
	}
	s.enabled = false

	slog.InfoContext(ctx, "Daily reminder disabled")
	return nil
}

func (s *LogScheduler) Status(context.Context) (bool, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled, s.hour, s.minute
}
