package kv_test

import (
	"context"
	"errors"
	"testing"

	"lineal/internal/db"
	"lineal/internal/kv"
	"lineal/internal/migrate"
)

func stores(t *testing.T) map[string]kv.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return map[string]kv.Store{
		"memory": kv.NewMemory(),
		"sqlite": kv.SQLite{DB: conn},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Get(ctx, "missing"); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := store.Set(ctx, "k", "v1"); err != nil {
				t.Fatal(err)
			}
			if err := store.Set(ctx, "k", "v2"); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			v, err := store.Get(ctx, "k")
			if err != nil || v != "v2" {
				t.Fatalf("get = %q, %v", v, err)
			}
			if err := store.Remove(ctx, "k"); err != nil {
				t.Fatal(err)
			}
			if _, err := store.Get(ctx, "k"); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("expected ErrNotFound after remove, got %v", err)
			}
		})
	}
}
