// Package retention purges old usage logs on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the purge daily at 04:10.
const DefaultSchedule = "10 4 * * *"

// runTimeout bounds a single purge run.
const runTimeout = 10 * time.Minute

// Deleter removes every log created before a Unix timestamp.
type Deleter interface {
	DeleteBefore(ctx context.Context, ts int64) (int64, error)
}

// ResultFunc is notified after each purge run.
type ResultFunc func(deleted int64, err error)

// Purger deletes logs older than MaxAge whenever its schedule fires.
type Purger struct {
	deleter  Deleter
	maxAge   time.Duration
	schedule string
	loc      *time.Location
	onResult ResultFunc
	now      func() time.Time

	cron *cron.Cron
}

// Config configures a Purger. A nil Location means time.Local.
type Config struct {
	Schedule string
	MaxAge   time.Duration
	Location *time.Location
	OnResult ResultFunc
}

// New creates a Purger. The schedule is a standard 5-field cron expression
// evaluated in cfg.Location.
func New(deleter Deleter, cfg Config) (*Purger, error) {
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", cfg.MaxAge)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("parsing retention schedule %q: %w", cfg.Schedule, err)
	}
	return &Purger{
		deleter:  deleter,
		maxAge:   cfg.MaxAge,
		schedule: cfg.Schedule,
		loc:      cfg.Location,
		onResult: cfg.OnResult,
		now:      time.Now,
	}, nil
}

// Cutoff returns the Unix timestamp before which logs are purged at now.
func (p *Purger) Cutoff(now time.Time) int64 {
	return now.Add(-p.maxAge).Unix()
}

// RunOnce purges logs older than the max age and returns the deleted count.
func (p *Purger) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.Cutoff(p.now())
	n, err := p.deleter.DeleteBefore(ctx, cutoff)
	if p.onResult != nil {
		p.onResult(n, err)
	}
	if err != nil {
		return 0, fmt.Errorf("purging logs before %d: %w", cutoff, err)
	}
	slog.Info("retention purge complete", "cutoff", cutoff, "deleted", n)
	return n, nil
}

// Start schedules the purge and begins running it in the background. Runs
// that overlap a still-running purge are skipped.
func (p *Purger) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(p.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(p.schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		if _, err := p.RunOnce(runCtx); err != nil {
			slog.Error("retention purge failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling retention purge: %w", err)
	}

	p.cron = c
	c.Start()
	slog.Info("retention scheduled", "schedule", p.schedule, "timezone", p.loc.String(), "max_age", p.maxAge.String())
	return nil
}

// Next returns the next scheduled run after the current time, or the zero time
// when the purger has not been started.
func (p *Purger) Next() time.Time {
	if p.cron == nil {
		return time.Time{}
	}
	entries := p.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop halts the scheduler and waits for a running purge to finish or ctx to
// expire.
func (p *Purger) Stop(ctx context.Context) {
	if p.cron == nil {
		return
	}
	done := p.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
