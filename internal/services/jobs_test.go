package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunEveryRunsAtStartAndStopsOnCancel(t *testing.T) {
	runner := NewJobRunner(NewSettingsService(newMemSettings()))

	var runs atomic.Int32
	ran := make(chan struct{}, 1)
	job := func(ctx context.Context) error {
		runs.Add(1)
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		runner.RunEvery(ctx, "test", SettingAnomalyInterval, job)
		close(stopped)
	}()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job did not run at start")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("RunEvery did not stop on cancel")
	}
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
}

func TestRunDailyAtFiresOncePerDay(t *testing.T) {
	runner := NewJobRunner(NewSettingsService(newMemSettings()))
	runner.dailyTick = time.Millisecond

	clock := newTestClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	runner.now = clock.Now

	var runs atomic.Int32
	ran := make(chan struct{}, 1)
	job := func(ctx context.Context) error {
		runs.Add(1)
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		// Fires at 09:30 per the seeded start setting.
		runner.RunDailyAt(ctx, "test", SettingWorkLogNotificationStart, job)
		close(stopped)
	}()

	// Before the configured time nothing happens.
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatalf("runs before 09:30 = %d, want 0", runs.Load())
	}

	clock.Set(time.Date(2026, 3, 10, 9, 31, 0, 0, time.UTC))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job did not fire after the configured time")
	}

	// Later the same day it must not fire again.
	clock.Set(time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC))
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != 1 {
		t.Errorf("runs same day = %d, want 1", runs.Load())
	}

	// The next day it fires again.
	clock.Set(time.Date(2026, 3, 11, 9, 31, 0, 0, time.UTC))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job did not fire the next day")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("RunDailyAt did not stop on cancel")
	}
}
