// Package registry keeps the append-only local record of signed export
// artifacts (PDF/image), persisted as a JSON array under one key-value
// store key.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"lineal/internal/domain"
	"lineal/internal/kv"
)

// StorageKey is the fixed key holding the serialized document collection.
const StorageKey = "lineal.signed_documents"

// ErrPersist marks recoverable persistence failures (quota, serialization).
// The caller keeps its in-memory state and decides whether to retry.
var ErrPersist = errors.New("registry persistence failed")

type Registry struct {
	Store kv.Store
	Log   *zap.Logger
	Now   func() time.Time
}

func New(store kv.Store, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{Store: store, Log: log, Now: time.Now}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// load re-reads the stored collection. Every mutation goes through load
// immediately before writing so interleaved writers do not lose updates.
// Cross-process writers are still unsynchronized; single logical writer
// is an accepted limitation.
func (r *Registry) load(ctx context.Context) ([]domain.SignedDocument, error) {
	raw, err := r.Store.Get(ctx, StorageKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrPersist, err)
	}
	var docs []domain.SignedDocument
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrPersist, err)
	}
	return docs, nil
}

func (r *Registry) store(ctx context.Context, docs []domain.SignedDocument) error {
	data, err := json.Marshal(docs)
	if err != nil {
		r.Log.Warn("signed document registry encode failed", zap.Error(err))
		return fmt.Errorf("%w: encode: %v", ErrPersist, err)
	}
	if err := r.Store.Set(ctx, StorageKey, string(data)); err != nil {
		r.Log.Warn("signed document registry write failed", zap.Error(err))
		return fmt.Errorf("%w: write: %v", ErrPersist, err)
	}
	return nil
}

// Save appends a signed document record for a platform export and returns it.
func (r *Registry) Save(ctx context.Context, p domain.Platform, documentType, signatureData, fileName string, fileSize int64) (domain.SignedDocument, error) {
	if documentType != domain.DocumentTypePDF && documentType != domain.DocumentTypeImage {
		return domain.SignedDocument{}, fmt.Errorf("unknown document type %q", documentType)
	}
	now := r.now().UTC()
	doc := domain.SignedDocument{
		ID:             fmt.Sprintf("signed_%s_%d", p.ID, now.UnixMilli()),
		PlatformID:     p.ID,
		PlatformNumber: p.Number,
		DocumentType:   documentType,
		SignatureData:  signatureData,
		CreatedAt:      now.Format(time.RFC3339),
		FileName:       fileName,
		FileSize:       fileSize,
	}
	docs, err := r.load(ctx)
	if err != nil {
		return domain.SignedDocument{}, err
	}
	docs = append(docs, doc)
	if err := r.store(ctx, docs); err != nil {
		return domain.SignedDocument{}, err
	}
	return doc, nil
}

// ListAll returns every stored record.
func (r *Registry) ListAll(ctx context.Context) ([]domain.SignedDocument, error) {
	return r.load(ctx)
}

// ListByPlatform returns the records whose platform id matches exactly,
// newest first.
func (r *Registry) ListByPlatform(ctx context.Context, platformID string) ([]domain.SignedDocument, error) {
	docs, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.SignedDocument
	for _, d := range docs {
		if d.PlatformID == platformID {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// Delete removes exactly one record by id. The bool reports whether a
// matching record existed.
func (r *Registry) Delete(ctx context.Context, documentID string) (bool, error) {
	docs, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	idx := -1
	for i, d := range docs {
		if d.ID == documentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	docs = append(docs[:idx], docs[idx+1:]...)
	if err := r.store(ctx, docs); err != nil {
		return false, err
	}
	return true, nil
}

// CleanupOlderThan removes records created before now minus the given number
// of days and returns how many were removed. Calling it twice removes zero
// the second time.
func (r *Registry) CleanupOlderThan(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, fmt.Errorf("days must be positive")
	}
	docs, err := r.load(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := r.now().UTC().AddDate(0, 0, -days)
	kept := docs[:0]
	removed := 0
	for _, d := range docs {
		created, err := time.Parse(time.RFC3339, d.CreatedAt)
		if err == nil && created.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := r.store(ctx, kept); err != nil {
		return 0, err
	}
	return removed, nil
}
