package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lineal/internal/domain"
	"lineal/internal/kv"
	"lineal/internal/registry"
)

func newRegistry(t *testing.T) (*registry.Registry, *kv.Memory) {
	t.Helper()
	store := kv.NewMemory()
	reg := registry.New(store, nil)
	reg.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return reg, store
}

func platform(id, number string) domain.Platform {
	return domain.Platform{ID: id, Number: number}
}

func TestSaveAndList(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	doc, err := reg.Save(ctx, platform("p1", "PLT-001"), domain.DocumentTypePDF, "data:,sig", "Plataforma_PLT-001_Firmado_2024-06-01.pdf", 2048)
	require.NoError(t, err)
	assert.Equal(t, "signed_p1_1717243200000", doc.ID)
	assert.Equal(t, "PLT-001", doc.PlatformNumber)

	docs, err := reg.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, doc.ID, docs[0].ID)
}

func TestListByPlatformFiltersExactly(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	times := []time.Time{
		time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	i := 0
	reg.Now = func() time.Time { t := times[i]; i++; return t }

	_, err := reg.Save(ctx, platform("p1", "PLT-001"), domain.DocumentTypePDF, "s", "a.pdf", 1)
	require.NoError(t, err)
	_, err = reg.Save(ctx, platform("p10", "PLT-010"), domain.DocumentTypeImage, "s", "b.png", 1)
	require.NoError(t, err)
	_, err = reg.Save(ctx, platform("p1", "PLT-001"), domain.DocumentTypeImage, "s", "c.png", 1)
	require.NoError(t, err)

	// "p1" must not match "p10"
	docs, err := reg.ListByPlatform(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	// newest first
	assert.Equal(t, "c.png", docs[0].FileName)
	assert.Equal(t, "a.pdf", docs[1].FileName)
}

func TestDeleteReportsMissing(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	doc, err := reg.Save(ctx, platform("p1", "PLT-001"), domain.DocumentTypePDF, "s", "a.pdf", 1)
	require.NoError(t, err)

	deleted, err := reg.Delete(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = reg.Delete(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCleanupOlderThanIsIdempotent(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	reg.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	_, err := reg.Save(ctx, platform("p1", "PLT-001"), domain.DocumentTypePDF, "s", "old.pdf", 1)
	require.NoError(t, err)

	reg.Now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	_, err = reg.Save(ctx, platform("p2", "PLT-002"), domain.DocumentTypePDF, "s", "fresh.pdf", 1)
	require.NoError(t, err)

	removed, err := reg.CleanupOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = reg.CleanupOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	docs, err := reg.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "fresh.pdf", docs[0].FileName)
}

func TestPersistFailureIsRecoverable(t *testing.T) {
	reg, store := newRegistry(t)
	ctx := context.Background()

	store.FailNextSet = errors.New("quota exceeded")
	_, err := reg.Save(ctx, platform("p1", "PLT-001"), domain.DocumentTypePDF, "s", "a.pdf", 1)
	require.ErrorIs(t, err, registry.ErrPersist)

	// the store is intact and a retry succeeds
	_, err = reg.Save(ctx, platform("p1", "PLT-001"), domain.DocumentTypePDF, "s", "a.pdf", 1)
	require.NoError(t, err)
	docs, err := reg.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestCorruptStoreSurfacesPersistError(t *testing.T) {
	reg, store := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, registry.StorageKey, "{not json"))
	_, err := reg.ListAll(ctx)
	require.ErrorIs(t, err, registry.ErrPersist)
}
