package jobs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptcore/libs/db"
	"github.com/md-rashed-zaman/apptcore/libs/events"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/settings"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/storage"
)

// Runs against a disposable PostgreSQL database named by NOTIFICATION_TEST_DATABASE_URL.
func testRepository(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("NOTIFICATION_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("NOTIFICATION_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := storage.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRepository(pool)
}

func claimedFor(t *testing.T, repo *Repository, at time.Time, appointmentID string) []Job {
	t.Helper()
	claimed, err := repo.ClaimDue(context.Background(), at, 1000)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	var out []Job
	for _, j := range claimed {
		if j.AppointmentID == appointmentID {
			out = append(out, j)
		}
	}
	return out
}

func TestRepositoryReplanRevivesCancelledJobs(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()

	tenantID := uuid.NewString()
	cfg := settings.Default(tenantID)
	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Second)
	p := events.AppointmentPayload{AppointmentID: uuid.NewString(), TenantID: tenantID, StartTime: start}

	if err := repo.Schedule(ctx, Timed(cfg, p, time.Now())); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	n, err := repo.CancelPending(ctx, p.AppointmentID)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 cancelled jobs, got %d err=%v", n, err)
	}

	p.ClientName = "Ana"
	if err := repo.Schedule(ctx, Timed(cfg, p, time.Now())); err != nil {
		t.Fatalf("replan: %v", err)
	}
	got := claimedFor(t, repo, start, p.AppointmentID)
	if len(got) != 2 {
		t.Fatalf("expected the replanned confirmation and reminder, got %+v", got)
	}
	if got[0].Payload.ClientName != "Ana" {
		t.Fatalf("revived job must carry the new payload, got %+v", got[0].Payload)
	}

	if err := repo.Schedule(ctx, Timed(cfg, p, time.Now())); err != nil {
		t.Fatalf("schedule again: %v", err)
	}
	if again := claimedFor(t, repo, start, p.AppointmentID); len(again) != 0 {
		t.Fatalf("processed jobs must not be revived, got %+v", again)
	}
}

func TestRepositoryCancelOnlyNamedEvents(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()

	tenantID := uuid.NewString()
	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Second)
	p := events.AppointmentPayload{AppointmentID: uuid.NewString(), TenantID: tenantID, StartTime: start}

	if err := repo.Schedule(ctx, Timed(settings.Default(tenantID), p, time.Now())); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if n, err := repo.CancelPending(ctx, p.AppointmentID, settings.EventConfirmed); err != nil || n != 1 {
		t.Fatalf("expected 1 cancelled job, got %d err=%v", n, err)
	}
	got := claimedFor(t, repo, start, p.AppointmentID)
	if len(got) != 1 || got[0].Event != settings.EventReminder {
		t.Fatalf("expected only the reminder, got %+v", got)
	}
}
