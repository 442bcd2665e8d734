package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"lineal/internal/config"
	"lineal/internal/db"
	"lineal/internal/domain"
	"lineal/internal/kv"
	"lineal/internal/ledger"
	"lineal/internal/migrate"
	"lineal/internal/registry"
	"lineal/internal/repo"
)

type testEnv struct {
	Engine ledger.Engine
	Store  *kv.Memory
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := kv.NewMemory()
	reg := registry.New(store, nil)
	eng := ledger.New(conn, config.Default("test"), reg, nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	reg.Now = eng.Now
	return testEnv{Engine: eng, Store: store, Ctx: context.Background()}
}

func createPlatform(t *testing.T, env testEnv) domain.Platform {
	t.Helper()
	p, err := env.Engine.CreatePlatform(env.Ctx, ledger.PlatformCreateOptions{
		Number:       "PLT-001",
		PlatformType: domain.PlatformTypeProvider,
		Provider:     "Aceros SA",
		Driver:       "J. Gómez",
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create platform: %v", err)
	}
	return p
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func addPiece(t *testing.T, env testEnv, platformID, length, material string) domain.Piece {
	t.Helper()
	pc, err := env.Engine.AddPiece(env.Ctx, platformID, ledger.PieceInput{Length: dec(length), Material: material}, "tester")
	if err != nil {
		t.Fatalf("add piece %s %s: %v", length, material, err)
	}
	return pc
}

func getPlatform(t *testing.T, env testEnv, id string) domain.Platform {
	t.Helper()
	p, _, err := env.Engine.Repo.GetPlatform(env.Ctx, id)
	if err != nil {
		t.Fatalf("get platform: %v", err)
	}
	return p
}

func TestAddPieceComputesLinearMeters(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)

	pc := addPiece(t, env, p.ID, "3.5", "Lámina")
	if pc.Number != 1 {
		t.Fatalf("expected number 1, got %d", pc.Number)
	}
	// default width 1.20 -> 3.5 * 1.20 = 4.20, exactly
	if !pc.LinearMeters.Equal(dec("4.2")) {
		t.Fatalf("expected linear meters 4.2, got %s", pc.LinearMeters)
	}
	got := getPlatform(t, env, p.ID)
	if !got.TotalLength.Equal(dec("3.5")) || !got.TotalLinearMeters.Equal(dec("4.2")) {
		t.Fatalf("totals = %s / %s", got.TotalLength, got.TotalLinearMeters)
	}
	if !got.NeedsSync {
		t.Fatalf("expected needs_sync after add")
	}
}

func TestTotalsAreSumOfPieces(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)

	addPiece(t, env, p.ID, "3.5", "Lámina")
	addPiece(t, env, p.ID, "2.0", "Perfil")
	pc3 := addPiece(t, env, p.ID, "1.25", "Lámina")

	pieces, err := env.Engine.Repo.ListPieces(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	sumLen, sumLM := decimal.Zero, decimal.Zero
	for _, pc := range pieces {
		sumLen = sumLen.Add(pc.Length)
		sumLM = sumLM.Add(pc.LinearMeters)
	}
	got := getPlatform(t, env, p.ID)
	if !got.TotalLength.Equal(sumLen) || !got.TotalLinearMeters.Equal(sumLM) {
		t.Fatalf("totals %s/%s do not match sums %s/%s", got.TotalLength, got.TotalLinearMeters, sumLen, sumLM)
	}

	// still holds after a delete
	if err := env.Engine.DeletePiece(env.Ctx, p.ID, pc3.ID, "tester"); err != nil {
		t.Fatalf("delete piece: %v", err)
	}
	got = getPlatform(t, env, p.ID)
	if !got.TotalLength.Equal(dec("5.5")) {
		t.Fatalf("total length after delete = %s", got.TotalLength)
	}
}

func TestDeleteKeepsPieceNumbers(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)

	pc1 := addPiece(t, env, p.ID, "1", "Lámina")
	pc2 := addPiece(t, env, p.ID, "2", "Lámina")
	if pc1.Number != 1 || pc2.Number != 2 {
		t.Fatalf("numbers %d, %d", pc1.Number, pc2.Number)
	}
	if err := env.Engine.DeletePiece(env.Ctx, p.ID, pc1.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	pieces, err := env.Engine.Repo.ListPieces(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pieces) != 1 || pieces[0].Number != 2 {
		t.Fatalf("expected remaining piece to keep number 2, got %+v", pieces)
	}
	// the next add continues past the highest number ever used
	pc3 := addPiece(t, env, p.ID, "3", "Lámina")
	if pc3.Number != 3 {
		t.Fatalf("expected number 3, got %d", pc3.Number)
	}
}

func TestWidthChangeIsNotRetroactive(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)

	before := addPiece(t, env, p.ID, "2", "Lámina")
	if _, err := env.Engine.ChangeStandardWidth(env.Ctx, p.ID, dec("1.5"), "tester"); err != nil {
		t.Fatalf("change width: %v", err)
	}
	after := addPiece(t, env, p.ID, "2", "Lámina")

	if !before.LinearMeters.Equal(dec("2.4")) {
		t.Fatalf("piece before change = %s", before.LinearMeters)
	}
	if !after.LinearMeters.Equal(dec("3")) {
		t.Fatalf("piece after change = %s", after.LinearMeters)
	}
	// stored copy of the earlier piece is untouched
	stored, err := env.Engine.Repo.GetPiece(env.Ctx, before.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.StandardWidth.Equal(dec("1.2")) {
		t.Fatalf("stored width = %s", stored.StandardWidth)
	}
}

func TestUndoOnlyRevertsLastAdd(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)

	addPiece(t, env, p.ID, "1", "Lámina")
	last := addPiece(t, env, p.ID, "2", "Perfil")

	undone, err := env.Engine.UndoLastAdd(env.Ctx, p.ID, "tester")
	if err != nil || !undone {
		t.Fatalf("undo: %v, undone=%v", err, undone)
	}
	if _, err := env.Engine.Repo.GetPiece(env.Ctx, last.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected last piece gone, err=%v", err)
	}
	// a second undo is a safe no-op
	undone, err = env.Engine.UndoLastAdd(env.Ctx, p.ID, "tester")
	if err != nil || undone {
		t.Fatalf("second undo: %v, undone=%v", err, undone)
	}
}

func TestEditInvalidatesUndo(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)

	pc := addPiece(t, env, p.ID, "2", "Lámina")
	newLen := dec("2.5")
	if _, err := env.Engine.UpdatePiece(env.Ctx, p.ID, pc.ID, ledger.PieceUpdate{Length: &newLen}, "tester"); err != nil {
		t.Fatalf("update: %v", err)
	}
	undone, err := env.Engine.UndoLastAdd(env.Ctx, p.ID, "tester")
	if err != nil || undone {
		t.Fatalf("undo after edit should be a no-op, undone=%v err=%v", undone, err)
	}
}

func TestUpdatePieceRecomputes(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)

	pc := addPiece(t, env, p.ID, "2", "Lámina")
	newLen := dec("4")
	updated, err := env.Engine.UpdatePiece(env.Ctx, p.ID, pc.ID, ledger.PieceUpdate{Length: &newLen}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if !updated.LinearMeters.Equal(dec("4.8")) {
		t.Fatalf("linear meters = %s", updated.LinearMeters)
	}
	got := getPlatform(t, env, p.ID)
	if !got.TotalLinearMeters.Equal(dec("4.8")) {
		t.Fatalf("total = %s", got.TotalLinearMeters)
	}

	// unknown piece id surfaces not-found, not a silent no-op
	if _, err := env.Engine.UpdatePiece(env.Ctx, p.ID, "nope", ledger.PieceUpdate{Length: &newLen}, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPieceValidation(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)

	cases := []ledger.PieceInput{
		{Length: dec("0"), Material: "Lámina"},
		{Length: dec("-2"), Material: "Lámina"},
		{Length: dec("1000"), Material: "Lámina"},
		{Length: dec("2"), Material: ""},
	}
	for _, in := range cases {
		if _, err := env.Engine.AddPiece(env.Ctx, p.ID, in, "tester"); !ledger.IsValidation(err) {
			t.Fatalf("input %+v: expected validation error, got %v", in, err)
		}
	}
	got := getPlatform(t, env, p.ID)
	if !got.TotalLength.IsZero() {
		t.Fatalf("rejected input mutated totals: %s", got.TotalLength)
	}
}

func TestBatchAddRejectsPerItem(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)

	res, err := env.Engine.AddPieces(env.Ctx, p.ID, []ledger.PieceInput{
		{Length: dec("1"), Material: "Lámina"},
		{Length: dec("-1"), Material: "Lámina"},
		{Length: dec("2"), Material: "Perfil"},
	}, "tester")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(res.Added) != 2 || len(res.Rejected) != 1 {
		t.Fatalf("added=%d rejected=%d", len(res.Added), len(res.Rejected))
	}
	if res.Rejected[0].Index != 1 {
		t.Fatalf("rejected index = %d", res.Rejected[0].Index)
	}
	// undo points at the last added piece of the batch
	undone, err := env.Engine.UndoLastAdd(env.Ctx, p.ID, "tester")
	if err != nil || !undone {
		t.Fatalf("undo after batch: %v", err)
	}
	pieces, _ := env.Engine.Repo.ListPieces(env.Ctx, p.ID)
	if len(pieces) != 1 || pieces[0].Material != "Lámina" {
		t.Fatalf("pieces after undo: %+v", pieces)
	}
}

func TestStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)

	// completion requires at least one piece
	if _, err := env.Engine.CompletePlatform(env.Ctx, p.ID, "tester"); !ledger.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	addPiece(t, env, p.ID, "1", "Lámina")
	completed, err := env.Engine.CompletePlatform(env.Ctx, p.ID, "tester")
	if err != nil || completed.Status != domain.StatusCompleted {
		t.Fatalf("complete: %v status=%s", err, completed.Status)
	}
	exported, err := env.Engine.MarkExported(env.Ctx, p.ID, "tester")
	if err != nil || exported.Status != domain.StatusExported {
		t.Fatalf("export: %v", err)
	}
	// exported is terminal
	if _, err := env.Engine.CompletePlatform(env.Ctx, p.ID, "tester"); err == nil {
		t.Fatalf("expected transition error from exported")
	}
	// and archival: no further piece mutations
	if _, err := env.Engine.AddPiece(env.Ctx, p.ID, ledger.PieceInput{Length: dec("1"), Material: "Lámina"}, "tester"); !ledger.IsValidation(err) {
		t.Fatalf("expected rejection on exported platform, got %v", err)
	}
}

func TestExportAllowedFromInProgress(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)
	addPiece(t, env, p.ID, "1", "Lámina")

	exported, err := env.Engine.MarkExported(env.Ctx, p.ID, "tester")
	if err != nil || exported.Status != domain.StatusExported {
		t.Fatalf("export from in_progress: %v", err)
	}
}

func TestMarkSyncedClearsFlag(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)
	addPiece(t, env, p.ID, "1", "Lámina")

	synced, err := env.Engine.MarkSynced(env.Ctx, p.ID, "tester")
	if err != nil || synced.NeedsSync {
		t.Fatalf("mark synced: %v needsSync=%v", err, synced.NeedsSync)
	}
	// any later mutation raises the flag again
	addPiece(t, env, p.ID, "2", "Lámina")
	got := getPlatform(t, env, p.ID)
	if !got.NeedsSync {
		t.Fatalf("expected needs_sync after mutation")
	}
}

func TestDeletePlatformCascades(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)
	pc := addPiece(t, env, p.ID, "1", "Lámina")

	if err := env.Engine.DeletePlatform(env.Ctx, p.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.Repo.GetPlatform(env.Ctx, p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("platform still present: %v", err)
	}
	if _, err := env.Engine.Repo.GetPiece(env.Ctx, pc.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("piece survived platform delete: %v", err)
	}
}

func TestRegisterSignedExport(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)
	addPiece(t, env, p.ID, "1", "Lámina")

	doc, err := env.Engine.RegisterSignedExport(env.Ctx, p.ID, domain.DocumentTypePDF, "data:image/png;base64,AAAA", "Plataforma_PLT-001_Firmado_2024-01-01.pdf", 1234, "tester")
	if err != nil {
		t.Fatalf("register signed export: %v", err)
	}
	if doc.PlatformNumber != "PLT-001" || doc.DocumentType != domain.DocumentTypePDF {
		t.Fatalf("doc = %+v", doc)
	}
	got := getPlatform(t, env, p.ID)
	if got.Status != domain.StatusExported {
		t.Fatalf("status = %s", got.Status)
	}
	docs, err := env.Engine.Registry.ListByPlatform(env.Ctx, p.ID)
	if err != nil || len(docs) != 1 {
		t.Fatalf("registry listing: %v, %d docs", err, len(docs))
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{PlatformID: p.ID})
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]bool{}
	for _, ev := range events {
		types[ev.Type] = true
	}
	if !types["platform.exported"] || !types["document.saved"] {
		t.Fatalf("missing export events, got %v", types)
	}
}

func TestRegistryFailureLeavesStatusUntouched(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)
	addPiece(t, env, p.ID, "1", "Lámina")

	env.Store.FailNextSet = errors.New("quota exceeded")
	_, err := env.Engine.RegisterSignedExport(env.Ctx, p.ID, domain.DocumentTypePDF, "data:,sig", "f.pdf", 1, "tester")
	if !errors.Is(err, registry.ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	got := getPlatform(t, env, p.ID)
	if got.Status != domain.StatusInProgress {
		t.Fatalf("status changed despite persist failure: %s", got.Status)
	}
}

func TestAttachEvidenceValidatesKindAndRef(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)

	if _, err := env.Engine.AttachEvidence(env.Ctx, p.ID, "video", "clip.mp4", "tester"); !ledger.IsValidation(err) {
		t.Fatalf("expected validation error for kind, got %v", err)
	}
	if _, err := env.Engine.AttachEvidence(env.Ctx, p.ID, domain.EvidenceKindPhoto, "", "tester"); !ledger.IsValidation(err) {
		t.Fatalf("expected validation error for empty ref, got %v", err)
	}
	if _, err := env.Engine.AttachEvidence(env.Ctx, "missing", domain.EvidenceKindPhoto, "photos/before.jpg", "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown platform, got %v", err)
	}
}

func TestAttachEvidenceRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)

	photo, err := env.Engine.AttachEvidence(env.Ctx, p.ID, domain.EvidenceKindPhoto, "photos/before.jpg", "tester")
	if err != nil {
		t.Fatalf("attach photo: %v", err)
	}
	doc, err := env.Engine.AttachEvidence(env.Ctx, p.ID, domain.EvidenceKindDocument, "docs/remision.pdf", "tester")
	if err != nil {
		t.Fatalf("attach document: %v", err)
	}

	items, err := env.Engine.Repo.ListEvidence(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("list evidence: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 evidence items, got %d", len(items))
	}
	kinds := map[string]string{}
	for _, ev := range items {
		kinds[ev.ID] = ev.Kind
	}
	if kinds[photo.ID] != domain.EvidenceKindPhoto || kinds[doc.ID] != domain.EvidenceKindDocument {
		t.Fatalf("evidence = %+v", items)
	}

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{PlatformID: p.ID, Type: "evidence.attached"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 evidence.attached events, got %d", len(events))
	}
}

func TestEventsAreRecorded(t *testing.T) {
	env := newTestEnv(t)
	p := createPlatform(t, env)
	addPiece(t, env, p.ID, "1", "Lámina")

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{PlatformID: p.ID})
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]bool{}
	for _, ev := range events {
		types[ev.Type] = true
	}
	if !types["platform.created"] || !types["piece.added"] {
		t.Fatalf("missing events, got %v", types)
	}
}
