package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/events"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/dispatch"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/settings"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func appt(start time.Time) events.AppointmentPayload {
	return events.AppointmentPayload{AppointmentID: "a-1", TenantID: "t-1", StartTime: start}
}

func TestTimedPlansConfirmationAndReminder(t *testing.T) {
	cfg := settings.Default("t-1")
	start := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)
	got := Timed(cfg, appt(start), now)
	if len(got) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(got))
	}
	if got[0].Event != settings.EventConfirmed || !got[0].RunAt.Equal(start.AddDate(0, 0, -1)) {
		t.Fatalf("unexpected confirmation job %+v", got[0])
	}
	if got[1].Event != settings.EventReminder || !got[1].RunAt.Equal(start.Add(-2*time.Hour)) {
		t.Fatalf("unexpected reminder job %+v", got[1])
	}
	if got[1].IdempotencyKey != "a-1|reminder|2026-03-05T12:00:00Z" {
		t.Fatalf("unexpected idempotency key %q", got[1].IdempotencyKey)
	}
}

func TestTimedDropsPastRunTimes(t *testing.T) {
	cfg := settings.Default("t-1")
	start := now.Add(3 * time.Hour)
	got := Timed(cfg, appt(start), now)
	if len(got) != 1 || got[0].Event != settings.EventReminder {
		t.Fatalf("expected only the reminder, got %+v", got)
	}
	if got := Timed(cfg, appt(now.Add(time.Hour)), now); len(got) != 0 {
		t.Fatalf("expected no jobs, got %+v", got)
	}
}

func TestDelayed(t *testing.T) {
	cfg := settings.Default("t-1")
	if _, ok := Delayed(cfg, appt(now.Add(48*time.Hour)), now); ok {
		t.Fatalf("no delay configured, expected immediate dispatch")
	}
	cfg.OnCreate.DelayMinutes = 15
	job, ok := Delayed(cfg, appt(now.Add(48*time.Hour)), now)
	if !ok || job.Event != settings.EventCreated || !job.RunAt.Equal(now.Add(15*time.Minute)) {
		t.Fatalf("unexpected delayed job %+v ok=%v", job, ok)
	}
}

type fakeStore struct {
	batches [][]Job
	claims  int
	deleted time.Time
	err     error
}

func (f *fakeStore) ClaimDue(_ context.Context, _ time.Time, _ int) ([]Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.claims >= len(f.batches) {
		f.claims++
		return nil, nil
	}
	b := f.batches[f.claims]
	f.claims++
	return b, nil
}

func (f *fakeStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.deleted = cutoff
	return 3, nil
}

type fakePruner struct {
	cutoff time.Time
}

func (f *fakePruner) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 7, nil
}

type fakeDispatcher struct {
	events []settings.Event
}

func (f *fakeDispatcher) Dispatch(_ context.Context, event settings.Event, _ events.AppointmentPayload) dispatch.Outcome {
	f.events = append(f.events, event)
	return dispatch.Outcome{Event: event, Status: dispatch.StatusSent}
}

func newTestWorker(store Store, pruner Pruner, d Dispatcher, batch int) *Worker {
	w := NewWorker(store, pruner, d, slog.New(slog.NewTextHandler(io.Discard, nil)), WorkerConfig{BatchSize: batch})
	w.now = func() time.Time { return now }
	return w
}

func TestRunOnceDrainsBacklog(t *testing.T) {
	future := appt(now.Add(2 * time.Hour))
	store := &fakeStore{batches: [][]Job{
		{{ID: 1, Event: settings.EventReminder, Payload: future}, {ID: 2, Event: settings.EventConfirmed, Payload: future}},
		{{ID: 3, Event: settings.EventCreated, Payload: future}},
	}}
	d := &fakeDispatcher{}
	n, err := newTestWorker(store, nil, d, 2).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 3 || len(d.events) != 3 {
		t.Fatalf("expected 3 dispatches, got n=%d events=%v", n, d.events)
	}
	if store.claims != 2 {
		t.Fatalf("expected the short second batch to stop the loop, got %d claims", store.claims)
	}
}

func TestRunOnceDropsStaleJobs(t *testing.T) {
	store := &fakeStore{batches: [][]Job{{{ID: 1, Event: settings.EventReminder, Payload: appt(now.Add(-time.Minute))}}}}
	d := &fakeDispatcher{}
	n, err := newTestWorker(store, nil, d, 10).RunOnce(context.Background())
	if err != nil || n != 0 || len(d.events) != 0 {
		t.Fatalf("stale job must not dispatch: n=%d err=%v events=%v", n, err, d.events)
	}
}

func TestRunOnceReturnsStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	if _, err := newTestWorker(store, nil, &fakeDispatcher{}, 10).RunOnce(context.Background()); err == nil {
		t.Fatalf("expected store error")
	}
}

func TestCleanupUsesRetention(t *testing.T) {
	store := &fakeStore{}
	pruner := &fakePruner{}
	if err := newTestWorker(store, pruner, &fakeDispatcher{}, 10).Cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	want := now.Add(-30 * 24 * time.Hour)
	if !store.deleted.Equal(want) || !pruner.cutoff.Equal(want) {
		t.Fatalf("unexpected cutoffs jobs=%v inbox=%v want %v", store.deleted, pruner.cutoff, want)
	}
}

func TestRunRejectsInvalidSpec(t *testing.T) {
	w := NewWorker(&fakeStore{}, nil, &fakeDispatcher{}, slog.New(slog.NewTextHandler(io.Discard, nil)), WorkerConfig{SweepSpec: "every now and then"})
	if err := w.Run(context.Background()); err == nil {
		t.Fatalf("expected invalid cron spec error")
	}
}

func TestRunStopsWithContext(t *testing.T) {
	w := newTestWorker(&fakeStore{}, nil, &fakeDispatcher{}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestReplanAfterCancellationReusesKeys(t *testing.T) {
	cfg := settings.Default("t-1")
	start := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	first := Timed(cfg, appt(start), now)
	replan := Timed(cfg, appt(start), now.Add(time.Hour))
	if len(first) != 2 || len(replan) != 2 {
		t.Fatalf("expected two jobs each time, got %d and %d", len(first), len(replan))
	}
	for i := range first {
		if first[i].IdempotencyKey != replan[i].IdempotencyKey {
			t.Fatalf("key %d changed: %q vs %q", i, first[i].IdempotencyKey, replan[i].IdempotencyKey)
		}
	}
	for _, want := range []string{"ON CONFLICT (idempotency_key) DO UPDATE", "SET status = 'pending'", "WHERE notification_jobs.status = 'cancelled'"} {
		if !strings.Contains(scheduleSQL, want) {
			t.Fatalf("schedule statement must revive cancelled rows, missing %q", want)
		}
	}
}
