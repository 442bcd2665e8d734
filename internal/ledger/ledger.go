package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lineal/internal/config"
	"lineal/internal/domain"
	"lineal/internal/events"
	"lineal/internal/registry"
	"lineal/internal/repo"
)

// ValidationError rejects an operation before any state is mutated.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string { return e.Reason }

// IsValidation reports whether err is a domain validation rejection.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Registry *registry.Registry
	Config   *config.Config
	Log      *zap.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, reg *registry.Registry, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Registry: reg,
		Config:   cfg,
		Log:      log,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// EnsureTransition validates a platform status change. Forward-only;
// export is allowed from in_progress as well as completed.
func EnsureTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.StatusInProgress:
		if newStatus == domain.StatusCompleted || newStatus == domain.StatusExported {
			return nil
		}
	case domain.StatusCompleted:
		if newStatus == domain.StatusExported {
			return nil
		}
	}
	return ValidationError{Reason: fmt.Sprintf("invalid platform status transition %s -> %s", oldStatus, newStatus)}
}

// PlatformCreateOptions are parameters for creating a platform.
type PlatformCreateOptions struct {
	ID            string
	Number        string
	PlatformType  string
	Provider      string
	Client        string
	Driver        string
	ReceptionDate string
	StandardWidth string
	ActorID       string
}

func (e Engine) CreatePlatform(ctx context.Context, opts PlatformCreateOptions) (domain.Platform, error) {
	if e.Config == nil {
		return domain.Platform{}, errors.New("config not loaded")
	}
	if opts.Number == "" {
		return domain.Platform{}, ValidationError{Reason: "number is required"}
	}
	if opts.PlatformType != domain.PlatformTypeProvider && opts.PlatformType != domain.PlatformTypeClient {
		return domain.Platform{}, ValidationError{Reason: fmt.Sprintf("platform type must be provider or client, got %q", opts.PlatformType)}
	}
	width := e.Config.DefaultStandardWidth()
	if opts.StandardWidth != "" {
		w, err := decimal.NewFromString(opts.StandardWidth)
		if err != nil {
			return domain.Platform{}, ValidationError{Reason: fmt.Sprintf("invalid standard width %q", opts.StandardWidth)}
		}
		if err := e.validateWidth(w); err != nil {
			return domain.Platform{}, err
		}
		width = w
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Platform{
		ID:                id,
		Number:            opts.Number,
		PlatformType:      opts.PlatformType,
		Provider:          opts.Provider,
		Client:            opts.Client,
		Driver:            opts.Driver,
		ReceptionDate:     opts.ReceptionDate,
		StandardWidth:     width,
		Status:            domain.StatusInProgress,
		NeedsSync:         true,
		TotalLength:       decimal.Zero,
		TotalLinearMeters: decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Platform{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPlatformTx(ctx, tx, p); err != nil {
		return domain.Platform{}, fmt.Errorf("insert platform: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "platform.created", p.ID, "platform", p.ID, opts.ActorID, events.EventPayload{
		"number": p.Number,
		"type":   p.PlatformType,
	}); err != nil {
		return domain.Platform{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Platform{}, err
	}
	return p, nil
}

// PieceInput is one measurement to capture.
type PieceInput struct {
	Length   decimal.Decimal
	Material string
}

func (e Engine) validatePieceInput(in PieceInput) error {
	if in.Length.Sign() <= 0 {
		return ValidationError{Reason: fmt.Sprintf("length must be positive, got %s", in.Length)}
	}
	if in.Length.GreaterThan(e.Config.MaxPieceLength()) {
		return ValidationError{Reason: fmt.Sprintf("length %s exceeds maximum %s", in.Length, e.Config.MaxPieceLength())}
	}
	if in.Material == "" {
		return ValidationError{Reason: "material is required"}
	}
	return nil
}

func (e Engine) validateWidth(w decimal.Decimal) error {
	if w.Sign() <= 0 {
		return ValidationError{Reason: fmt.Sprintf("standard width must be positive, got %s", w)}
	}
	if w.GreaterThan(e.Config.MaxStandardWidth()) {
		return ValidationError{Reason: fmt.Sprintf("standard width %s exceeds maximum %s", w, e.Config.MaxStandardWidth())}
	}
	return nil
}

// mutablePlatformTx loads a platform and rejects piece mutations on
// exported platforms, which are archival.
func (e Engine) mutablePlatformTx(ctx context.Context, tx *sql.Tx, platformID string) (domain.Platform, domain.LastAction, error) {
	p, la, err := e.Repo.GetPlatformTx(ctx, tx, platformID)
	if err != nil {
		return p, la, err
	}
	if p.Status == domain.StatusExported {
		return p, la, ValidationError{Reason: "platform already exported"}
	}
	return p, la, nil
}

// recomputeTotalsTx rewrites the platform row with totals derived from the
// current pieces. Totals are never carried over from the previous row state.
func (e Engine) recomputeTotalsTx(ctx context.Context, tx *sql.Tx, p domain.Platform, la domain.LastAction) error {
	pieces, err := e.Repo.ListPiecesTx(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	totalLength := decimal.Zero
	totalLM := decimal.Zero
	for _, pc := range pieces {
		totalLength = totalLength.Add(pc.Length)
		totalLM = totalLM.Add(pc.LinearMeters)
	}
	p.TotalLength = totalLength
	p.TotalLinearMeters = totalLM
	p.NeedsSync = true
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	return e.Repo.UpdatePlatformTx(ctx, tx, p, la)
}

// AddPiece validates and appends one measured piece. The piece number
// continues the historical sequence and the add is recorded for undo.
func (e Engine) AddPiece(ctx context.Context, platformID string, in PieceInput, actorID string) (domain.Piece, error) {
	if e.Config == nil {
		return domain.Piece{}, errors.New("config not loaded")
	}
	if err := e.validatePieceInput(in); err != nil {
		return domain.Piece{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Piece{}, err
	}
	defer tx.Rollback()

	p, _, err := e.mutablePlatformTx(ctx, tx, platformID)
	if err != nil {
		return domain.Piece{}, err
	}
	pc, err := e.insertPieceTx(ctx, tx, p, in)
	if err != nil {
		return domain.Piece{}, err
	}
	la := domain.LastAction{Type: domain.LastActionAdd, PieceID: pc.ID}
	if err := e.recomputeTotalsTx(ctx, tx, p, la); err != nil {
		return domain.Piece{}, err
	}
	if err := e.Events.Append(ctx, tx, "piece.added", p.ID, "piece", pc.ID, actorID, events.EventPayload{
		"number":        pc.Number,
		"length":        pc.Length,
		"material":      pc.Material,
		"linear_meters": pc.LinearMeters,
	}); err != nil {
		return domain.Piece{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Piece{}, err
	}
	return pc, nil
}

func (e Engine) insertPieceTx(ctx context.Context, tx *sql.Tx, p domain.Platform, in PieceInput) (domain.Piece, error) {
	maxNumber, err := e.Repo.MaxPieceNumberTx(ctx, tx, p.ID)
	if err != nil {
		return domain.Piece{}, err
	}
	pc := domain.Piece{
		ID:            uuid.New().String(),
		PlatformID:    p.ID,
		Number:        maxNumber + 1,
		Length:        in.Length,
		Material:      in.Material,
		StandardWidth: p.StandardWidth,
		LinearMeters:  in.Length.Mul(p.StandardWidth),
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertPieceTx(ctx, tx, pc); err != nil {
		return domain.Piece{}, fmt.Errorf("insert piece: %w", err)
	}
	return pc, nil
}

// RejectedPiece reports one batch entry that failed validation.
type RejectedPiece struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// BatchResult reports the outcome of a multi-piece insert.
type BatchResult struct {
	Added    []domain.Piece  `json:"added"`
	Rejected []RejectedPiece `json:"rejected,omitempty"`
}

// AddPieces captures several pieces at once. Each entry is validated
// independently: invalid entries are rejected and reported, valid entries
// commit together. Invalid input never enters the store silently.
func (e Engine) AddPieces(ctx context.Context, platformID string, inputs []PieceInput, actorID string) (BatchResult, error) {
	if e.Config == nil {
		return BatchResult{}, errors.New("config not loaded")
	}
	if len(inputs) == 0 {
		return BatchResult{}, ValidationError{Reason: "no pieces given"}
	}
	var res BatchResult
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	p, la, err := e.mutablePlatformTx(ctx, tx, platformID)
	if err != nil {
		return res, err
	}
	for i, in := range inputs {
		if err := e.validatePieceInput(in); err != nil {
			res.Rejected = append(res.Rejected, RejectedPiece{Index: i, Reason: err.Error()})
			continue
		}
		pc, err := e.insertPieceTx(ctx, tx, p, in)
		if err != nil {
			return BatchResult{}, err
		}
		res.Added = append(res.Added, pc)
	}
	if len(res.Added) == 0 {
		// nothing accepted, leave the platform untouched
		return res, nil
	}
	la = domain.LastAction{Type: domain.LastActionAdd, PieceID: res.Added[len(res.Added)-1].ID}
	if err := e.recomputeTotalsTx(ctx, tx, p, la); err != nil {
		return BatchResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "piece.batch_added", p.ID, "platform", p.ID, actorID, events.EventPayload{
		"added":    len(res.Added),
		"rejected": len(res.Rejected),
	}); err != nil {
		return BatchResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return BatchResult{}, err
	}
	return res, nil
}

// PieceUpdate is a partial edit; nil fields are left untouched.
type PieceUpdate struct {
	Length        *decimal.Decimal
	Material      *string
	StandardWidth *decimal.Decimal
}

// UpdatePiece applies a partial edit and recomputes linear meters when
// length or width changed. The undo record is invalidated: only the last
// add can be undone and an edit is a different action.
func (e Engine) UpdatePiece(ctx context.Context, platformID, pieceID string, upd PieceUpdate, actorID string) (domain.Piece, error) {
	if e.Config == nil {
		return domain.Piece{}, errors.New("config not loaded")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Piece{}, err
	}
	defer tx.Rollback()

	p, _, err := e.mutablePlatformTx(ctx, tx, platformID)
	if err != nil {
		return domain.Piece{}, err
	}
	pc, err := e.Repo.GetPieceTx(ctx, tx, pieceID)
	if err != nil {
		return domain.Piece{}, err
	}
	if pc.PlatformID != platformID {
		return domain.Piece{}, repo.ErrNotFound
	}
	if upd.Length != nil {
		if err := e.validatePieceInput(PieceInput{Length: *upd.Length, Material: pc.Material}); err != nil {
			return domain.Piece{}, err
		}
		pc.Length = *upd.Length
	}
	if upd.Material != nil {
		if *upd.Material == "" {
			return domain.Piece{}, ValidationError{Reason: "material is required"}
		}
		pc.Material = *upd.Material
	}
	if upd.StandardWidth != nil {
		if err := e.validateWidth(*upd.StandardWidth); err != nil {
			return domain.Piece{}, err
		}
		pc.StandardWidth = *upd.StandardWidth
	}
	pc.LinearMeters = pc.Length.Mul(pc.StandardWidth)
	if err := e.Repo.UpdatePieceTx(ctx, tx, pc); err != nil {
		return domain.Piece{}, err
	}
	if err := e.recomputeTotalsTx(ctx, tx, p, domain.LastAction{Type: domain.LastActionNone}); err != nil {
		return domain.Piece{}, err
	}
	if err := e.Events.Append(ctx, tx, "piece.updated", p.ID, "piece", pc.ID, actorID, events.EventPayload{
		"number":        pc.Number,
		"length":        pc.Length,
		"linear_meters": pc.LinearMeters,
	}); err != nil {
		return domain.Piece{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Piece{}, err
	}
	return pc, nil
}

// DeletePiece removes a piece. Remaining piece numbers are untouched:
// numbers are historical sequence markers, not positions. The undo record
// is invalidated.
func (e Engine) DeletePiece(ctx context.Context, platformID, pieceID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, _, err := e.mutablePlatformTx(ctx, tx, platformID)
	if err != nil {
		return err
	}
	pc, err := e.Repo.GetPieceTx(ctx, tx, pieceID)
	if err != nil {
		return err
	}
	if pc.PlatformID != platformID {
		return repo.ErrNotFound
	}
	if err := e.Repo.DeletePieceTx(ctx, tx, pieceID); err != nil {
		return err
	}
	if err := e.recomputeTotalsTx(ctx, tx, p, domain.LastAction{Type: domain.LastActionNone}); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "piece.deleted", p.ID, "piece", pieceID, actorID, events.EventPayload{
		"number": pc.Number,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// UndoLastAdd reverts the most recent add when it is still the last
// recorded action. It reports false, nil when nothing is undoable: the
// control should be disabled then, but calling it must stay safe.
func (e Engine) UndoLastAdd(ctx context.Context, platformID, actorID string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	p, la, err := e.mutablePlatformTx(ctx, tx, platformID)
	if err != nil {
		return false, err
	}
	if la.Type != domain.LastActionAdd || la.PieceID == "" {
		return false, nil
	}
	if err := e.Repo.DeletePieceTx(ctx, tx, la.PieceID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return false, err
	}
	if err := e.recomputeTotalsTx(ctx, tx, p, domain.LastAction{Type: domain.LastActionNone}); err != nil {
		return false, err
	}
	if err := e.Events.Append(ctx, tx, "piece.undone", p.ID, "piece", la.PieceID, actorID, events.EventPayload{}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ChangeStandardWidth updates the platform default width for pieces added
// afterward. Existing pieces keep the width they were captured with; no
// recalculation happens here.
func (e Engine) ChangeStandardWidth(ctx context.Context, platformID string, newWidth decimal.Decimal, actorID string) (domain.Platform, error) {
	if err := e.validateWidth(newWidth); err != nil {
		return domain.Platform{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Platform{}, err
	}
	defer tx.Rollback()

	p, la, err := e.mutablePlatformTx(ctx, tx, platformID)
	if err != nil {
		return domain.Platform{}, err
	}
	old := p.StandardWidth
	p.StandardWidth = newWidth
	p.NeedsSync = true
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdatePlatformTx(ctx, tx, p, la); err != nil {
		return domain.Platform{}, err
	}
	if err := e.Events.Append(ctx, tx, "platform.width_changed", p.ID, "platform", p.ID, actorID, events.EventPayload{
		"from": old,
		"to":   newWidth,
	}); err != nil {
		return domain.Platform{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Platform{}, err
	}
	return p, nil
}

// CompletePlatform finalizes capture. A platform without pieces cannot be
// completed.
func (e Engine) CompletePlatform(ctx context.Context, platformID, actorID string) (domain.Platform, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Platform{}, err
	}
	defer tx.Rollback()

	p, la, err := e.Repo.GetPlatformTx(ctx, tx, platformID)
	if err != nil {
		return domain.Platform{}, err
	}
	if err := EnsureTransition(p.Status, domain.StatusCompleted); err != nil {
		return domain.Platform{}, err
	}
	pieces, err := e.Repo.ListPiecesTx(ctx, tx, platformID)
	if err != nil {
		return domain.Platform{}, err
	}
	if len(pieces) == 0 {
		return domain.Platform{}, ValidationError{Reason: "platform has no pieces"}
	}
	p.Status = domain.StatusCompleted
	p.NeedsSync = true
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdatePlatformTx(ctx, tx, p, la); err != nil {
		return domain.Platform{}, err
	}
	if err := e.Events.Append(ctx, tx, "platform.completed", p.ID, "platform", p.ID, actorID, events.EventPayload{
		"pieces":              len(pieces),
		"total_linear_meters": p.TotalLinearMeters,
	}); err != nil {
		return domain.Platform{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Platform{}, err
	}
	return p, nil
}

// MarkExported flags a platform as exported. Allowed from in_progress as
// well as completed; export does not require prior completion.
func (e Engine) MarkExported(ctx context.Context, platformID, actorID string) (domain.Platform, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Platform{}, err
	}
	defer tx.Rollback()

	p, la, err := e.Repo.GetPlatformTx(ctx, tx, platformID)
	if err != nil {
		return domain.Platform{}, err
	}
	if err := EnsureTransition(p.Status, domain.StatusExported); err != nil {
		return domain.Platform{}, err
	}
	p.Status = domain.StatusExported
	p.NeedsSync = true
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdatePlatformTx(ctx, tx, p, la); err != nil {
		return domain.Platform{}, err
	}
	if err := e.Events.Append(ctx, tx, "platform.exported", p.ID, "platform", p.ID, actorID, events.EventPayload{}); err != nil {
		return domain.Platform{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Platform{}, err
	}
	return p, nil
}

// MarkSynced clears needs_sync once the external sync process confirmed
// the backend holds this platform's state.
func (e Engine) MarkSynced(ctx context.Context, platformID, actorID string) (domain.Platform, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Platform{}, err
	}
	defer tx.Rollback()

	p, la, err := e.Repo.GetPlatformTx(ctx, tx, platformID)
	if err != nil {
		return domain.Platform{}, err
	}
	p.NeedsSync = false
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdatePlatformTx(ctx, tx, p, la); err != nil {
		return domain.Platform{}, err
	}
	if err := e.Events.Append(ctx, tx, "platform.synced", p.ID, "platform", p.ID, actorID, events.EventPayload{}); err != nil {
		return domain.Platform{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Platform{}, err
	}
	return p, nil
}

// DeletePlatform removes the platform and every piece it owns. Immediate
// and total; confirmation is the caller's concern.
func (e Engine) DeletePlatform(ctx context.Context, platformID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, _, err := e.Repo.GetPlatformTx(ctx, tx, platformID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeletePlatformTx(ctx, tx, platformID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "platform.deleted", p.ID, "platform", p.ID, actorID, events.EventPayload{
		"number": p.Number,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// AttachEvidence stores a reference to an externally managed media item.
func (e Engine) AttachEvidence(ctx context.Context, platformID, kind, ref, actorID string) (domain.Evidence, error) {
	if kind != domain.EvidenceKindPhoto && kind != domain.EvidenceKindDocument {
		return domain.Evidence{}, ValidationError{Reason: fmt.Sprintf("evidence kind must be photo or document, got %q", kind)}
	}
	if ref == "" {
		return domain.Evidence{}, ValidationError{Reason: "evidence ref is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Evidence{}, err
	}
	defer tx.Rollback()

	p, _, err := e.Repo.GetPlatformTx(ctx, tx, platformID)
	if err != nil {
		return domain.Evidence{}, err
	}
	ev := domain.Evidence{
		ID:         uuid.New().String(),
		PlatformID: p.ID,
		Kind:       kind,
		Ref:        ref,
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertEvidenceTx(ctx, tx, ev); err != nil {
		return domain.Evidence{}, err
	}
	if err := e.Events.Append(ctx, tx, "evidence.attached", p.ID, "evidence", ev.ID, actorID, events.EventPayload{
		"kind": kind,
	}); err != nil {
		return domain.Evidence{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Evidence{}, err
	}
	return ev, nil
}

// RegisterSignedExport records a completed signed export: the document is
// appended to the registry, then the status change and its events commit
// in a single transaction. A registry persistence failure aborts before
// the status change so the caller can retry. The registry lives outside
// the database, so the document write itself cannot join the transaction.
func (e Engine) RegisterSignedExport(ctx context.Context, platformID, documentType, signatureData, fileName string, fileSize int64, actorID string) (domain.SignedDocument, error) {
	if e.Registry == nil {
		return domain.SignedDocument{}, errors.New("registry not configured")
	}
	p, _, err := e.Repo.GetPlatform(ctx, platformID)
	if err != nil {
		return domain.SignedDocument{}, err
	}
	if err := EnsureTransition(p.Status, domain.StatusExported); err != nil {
		return domain.SignedDocument{}, err
	}
	doc, err := e.Registry.Save(ctx, p, documentType, signatureData, fileName, fileSize)
	if err != nil {
		return domain.SignedDocument{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return doc, err
	}
	defer tx.Rollback()

	p, la, err := e.Repo.GetPlatformTx(ctx, tx, platformID)
	if err != nil {
		return doc, err
	}
	if err := EnsureTransition(p.Status, domain.StatusExported); err != nil {
		return doc, err
	}
	p.Status = domain.StatusExported
	p.NeedsSync = true
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdatePlatformTx(ctx, tx, p, la); err != nil {
		return doc, err
	}
	if err := e.Events.Append(ctx, tx, "platform.exported", p.ID, "platform", p.ID, actorID, events.EventPayload{}); err != nil {
		return doc, err
	}
	if err := e.Events.Append(ctx, tx, "document.saved", p.ID, "document", doc.ID, actorID, events.EventPayload{
		"document_type": documentType,
		"file_name":     fileName,
	}); err != nil {
		return doc, err
	}
	return doc, tx.Commit()
}
