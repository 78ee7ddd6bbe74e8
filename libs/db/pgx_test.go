package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("insert appointment: %w", &pgconn.PgError{Code: CodeExclusionViolation})
	if !HasCode(err, CodeExclusionViolation) {
		t.Fatalf("expected wrapped exclusion violation to match")
	}
	if HasCode(err, CodeUniqueViolation) {
		t.Fatalf("unexpected unique violation match")
	}
	if HasCode(errors.New("boom"), CodeExclusionViolation) {
		t.Fatalf("plain error must not match")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("load: %w", pgx.ErrNoRows)) {
		t.Fatalf("expected wrapped ErrNoRows to be not found")
	}
}

func TestReadyCheckWithoutPool(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}
