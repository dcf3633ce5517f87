package scheduler

import (
	"context"
	"time"

	"forexbot/internal/logger"
)

// Aligned fires a task right after every candle close. Ticks are
// aligned to UTC interval boundaries, with Offset added so the data
// source has time to publish the closed candle before we fetch it.
type Aligned struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewAligned(ctx context.Context, interval, offset time.Duration) *Aligned {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Aligned{
		Interval: interval,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks and invokes task once per interval, passing the close
// time of the candle the tick belongs to. Returns when the context is
// cancelled.
func (s *Aligned) Start(task func(closeAt time.Time)) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("scheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("scheduler: negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("scheduler: aligned start interval=%s offset=%s run_immediately=%v",
		s.Interval, s.Offset, s.RunImmediately)

	if s.RunImmediately {
		task(startAt.Truncate(s.Interval))
	}

	for {
		now := s.nowFn().UTC()
		nextClose, wakeAt, wait := s.nextTimes(now)

		logger.Debugf("scheduler: next close=%s wake=%s (in %s) uptime=%s",
			nextClose.Format(time.RFC3339), wakeAt.Format(time.RFC3339),
			wait.Truncate(time.Second), now.Sub(startAt).Truncate(time.Second))

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				logger.Infof("scheduler: aligned stop")
				return
			case <-timer.C:
			}
		} else {
			select {
			case <-s.ctx.Done():
				logger.Infof("scheduler: aligned stop")
				return
			default:
			}
		}
		task(nextClose)
	}
}

func (s *Aligned) nextTimes(now time.Time) (nextClose, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	nextClose = now.Truncate(s.Interval).Add(s.Interval)
	wakeAt = nextClose.Add(s.Offset)
	return nextClose, wakeAt, wakeAt.Sub(now)
}

// Periodic fires a task at a fixed cadence anchored at the first run,
// independent of candle boundaries. Used for housekeeping such as the
// stale-order sweep.
type Periodic struct {
	Interval time.Duration

	ctx   context.Context
	nowFn func() time.Time
}

func NewPeriodic(ctx context.Context, interval time.Duration) *Periodic {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Periodic{Interval: interval, ctx: ctx, nowFn: time.Now}
}

func (s *Periodic) Start(task func(now time.Time)) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("scheduler: invalid periodic interval=%s, exit", s.Interval)
		return
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	anchor := s.nowFn().UTC()
	nextAt := anchor.Add(s.Interval)
	for {
		now := s.nowFn().UTC()
		if wait := nextAt.Sub(now); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		} else {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
		}
		task(nextAt)
		nextAt = nextAfter(anchor, s.Interval, s.nowFn().UTC())
	}
}

// nextAfter returns the earliest anchor+k*interval strictly after now.
// Anchoring prevents drift when a task run overshoots its slot.
func nextAfter(anchor time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		return now
	}
	delta := now.Sub(anchor)
	if delta < 0 {
		return anchor
	}
	k := delta / interval
	return anchor.Add((k + 1) * interval)
}
