package storage

import (
	"context"
	_ "embed"

	"github.com/md-rashed-zaman/apptcore/libs/db"
)

//go:embed schema.sql
var schema string

// Migrate applies the idempotent notification schema.
func Migrate(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
