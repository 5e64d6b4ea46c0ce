package coordinator

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jameshartig/mygas/pkg/log"
	"github.com/jameshartig/mygas/pkg/types"
)

const (
	// UpdateHourBegin and UpdateHourEnd bound the daily update window in local
	// time. The end hour is exclusive.
	UpdateHourBegin = 1
	UpdateHourEnd   = 5
)

// NextRun returns when the refresh after t should happen under opts, or the
// zero time when scheduled refreshes are disabled. rnd returns a random int
// in [0, n).
func NextRun(opts types.EntryOptions, t time.Time, rnd func(n int) int) time.Time {
	if !opts.AutoUpdate {
		return time.Time{}
	}
	if opts.ScanIntervalHours > 0 {
		return t.Add(time.Duration(opts.ScanIntervalHours) * time.Hour)
	}
	if rnd == nil {
		rnd = rand.IntN
	}
	hour := UpdateHourBegin + rnd(UpdateHourEnd-UpdateHourBegin)
	minute := rnd(60)
	second := rnd(60)
	return time.Date(t.Year(), t.Month(), t.Day()+1, hour, minute, second, 0, t.Location())
}

// schedule asks the coordinator for the next run each time cron needs one, so
// option changes apply without re-registering.
type schedule struct {
	c *Coordinator
}

func (s schedule) Next(t time.Time) time.Time {
	return NextRun(s.c.Options(), t, s.c.rand)
}

// Start schedules refreshes on the configured cron. ctx is used for every
// scheduled and debounced refresh.
func (c *Coordinator) Start(ctx context.Context) {
	c.schedMu.Lock()
	defer c.schedMu.Unlock()
	c.baseCtx = log.WithEntry(ctx, c.entryID)
	if c.cron == nil || c.scheduled {
		return
	}
	c.cronEntry = c.cron.Schedule(schedule{c: c}, cron.FuncJob(c.scheduledRefresh))
	c.scheduled = true
	next := c.cron.Entry(c.cronEntry).Next
	log.Ctx(c.baseCtx).DebugContext(c.baseCtx, "refresh scheduled", slog.Time("next", next))
}

// Stop removes the coordinator from the cron. A pending debounced refresh
// still runs.
func (c *Coordinator) Stop() {
	c.schedMu.Lock()
	defer c.schedMu.Unlock()
	if c.cron != nil && c.scheduled {
		c.cron.Remove(c.cronEntry)
	}
	c.scheduled = false
}

// NextScheduled returns the next scheduled refresh, zero if there is none.
func (c *Coordinator) NextScheduled() time.Time {
	c.schedMu.Lock()
	defer c.schedMu.Unlock()
	if c.cron == nil || !c.scheduled {
		return time.Time{}
	}
	return c.cron.Entry(c.cronEntry).Next
}

// reschedule recomputes the next run from the current options.
func (c *Coordinator) reschedule() {
	c.schedMu.Lock()
	defer c.schedMu.Unlock()
	if c.cron == nil || !c.scheduled {
		return
	}
	c.cron.Remove(c.cronEntry)
	c.cronEntry = c.cron.Schedule(schedule{c: c}, cron.FuncJob(c.scheduledRefresh))
}

func (c *Coordinator) scheduledRefresh() {
	c.schedMu.Lock()
	ctx := c.baseCtx
	c.schedMu.Unlock()

	if c.NeedsReauth() {
		log.Ctx(ctx).WarnContext(ctx, "skipping scheduled refresh until credentials are updated")
		return
	}
	// errors are recorded and logged by the cycle
	_ = c.Refresh(ctx)
}

// NewCron returns a cron that runs in the local time zone and logs through
// the logger in ctx.
func NewCron(ctx context.Context) *cron.Cron {
	l := CronLogger(log.Ctx(ctx))
	return cron.New(
		cron.WithLocation(time.Local),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l)),
	)
}

type cronLogger struct {
	l *slog.Logger
}

// CronLogger adapts l to cron.Logger. Cron's chatty info records are logged at
// debug.
func CronLogger(l *slog.Logger) cron.Logger {
	return cronLogger{l: l}
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, slog.Any("error", err))...)
}
