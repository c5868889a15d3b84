package services

import (
	"context"
	"log"
	"sync"
	"time"
)

// JobRunner schedules the recurring background jobs. Interval jobs
// re-read their interval from settings every cycle so admin changes
// apply without a restart; daily jobs fire once per day when the
// configured HH:MM is reached.
type JobRunner struct {
	settings  SettingsProvider
	now       func() time.Time
	dailyTick time.Duration
}

func NewJobRunner(settings SettingsProvider) *JobRunner {
	return &JobRunner{
		settings:  settings,
		now:       func() time.Time { return time.Now().UTC() },
		dailyTick: time.Minute,
	}
}

// RunEvery runs job immediately and then on every tick. The interval
// comes from the named setting, in minutes; a cycle still in flight
// when the next tick arrives is skipped, not stacked.
func (r *JobRunner) RunEvery(ctx context.Context, name, intervalKey string, job func(context.Context) error) {
	var running sync.Mutex

	runOnce := func() {
		if !running.TryLock() {
			log.Printf("job %s: previous run still in flight, skipping", name)
			return
		}
		defer running.Unlock()
		if err := job(ctx); err != nil {
			log.Printf("job %s: %v", name, err)
		}
	}

	interval := r.interval(ctx, name, intervalKey)
	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("job %s: stopped", name)
			return
		case <-ticker.C:
			runOnce()
			if next := r.interval(ctx, name, intervalKey); next != interval {
				interval = next
				ticker.Reset(interval)
				log.Printf("job %s: interval changed to %s", name, interval)
			}
		}
	}
}

// RunDailyAt checks every minute whether the HH:MM from the named
// setting has been reached and runs job once per day when it has.
func (r *JobRunner) RunDailyAt(ctx context.Context, name, timeKey string, job func(context.Context) error) {
	var lastFired time.Time

	ticker := time.NewTicker(r.dailyTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("job %s: stopped", name)
			return
		case <-ticker.C:
			now := r.now()
			hour, minute, err := r.settings.GetTimeOfDay(ctx, timeKey)
			if err != nil {
				log.Printf("job %s: read %s: %v", name, timeKey, err)
				continue
			}
			due := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
			if now.Before(due) {
				continue
			}
			if lastFired.Year() == now.Year() && lastFired.YearDay() == now.YearDay() {
				continue
			}
			lastFired = now
			if err := job(ctx); err != nil {
				log.Printf("job %s: %v", name, err)
			}
		}
	}
}

func (r *JobRunner) interval(ctx context.Context, name, key string) time.Duration {
	minutes, err := r.settings.GetInt(ctx, key)
	if err != nil || minutes <= 0 {
		log.Printf("job %s: read %s: %v, using 5m", name, key, err)
		return 5 * time.Minute
	}
	return time.Duration(minutes) * time.Minute
}
