package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lineal/internal/config"
	"lineal/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const platformColumns = `id,number,platform_type,provider,client,driver,reception_date,standard_width,status,needs_sync,total_length,total_linear_meters,last_action_type,last_action_piece_id,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPlatform(row scanner) (domain.Platform, domain.LastAction, error) {
	var p domain.Platform
	var la domain.LastAction
	var provider, client, driver, receptionDate, lastPieceID sql.NullString
	var width, totalLength, totalLM string
	var needsSync int
	err := row.Scan(&p.ID, &p.Number, &p.PlatformType, &provider, &client, &driver, &receptionDate,
		&width, &p.Status, &needsSync, &totalLength, &totalLM, &la.Type, &lastPieceID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, la, ErrNotFound
	}
	if err != nil {
		return p, la, err
	}
	p.Provider = provider.String
	p.Client = client.String
	p.Driver = driver.String
	p.ReceptionDate = receptionDate.String
	p.NeedsSync = needsSync != 0
	if lastPieceID.Valid {
		la.PieceID = lastPieceID.String
	}
	if p.StandardWidth, err = decimal.NewFromString(width); err != nil {
		return p, la, fmt.Errorf("platform %s standard_width: %w", p.ID, err)
	}
	if p.TotalLength, err = decimal.NewFromString(totalLength); err != nil {
		return p, la, fmt.Errorf("platform %s total_length: %w", p.ID, err)
	}
	if p.TotalLinearMeters, err = decimal.NewFromString(totalLM); err != nil {
		return p, la, fmt.Errorf("platform %s total_linear_meters: %w", p.ID, err)
	}
	return p, la, nil
}

func (r Repo) InsertPlatformTx(ctx context.Context, tx *sql.Tx, p domain.Platform) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO platforms(`+platformColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Number, p.PlatformType, nullable(p.Provider), nullable(p.Client), nullable(p.Driver), nullable(p.ReceptionDate),
		p.StandardWidth.String(), p.Status, boolInt(p.NeedsSync), p.TotalLength.String(), p.TotalLinearMeters.String(),
		domain.LastActionNone, nil, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetPlatform(ctx context.Context, id string) (domain.Platform, domain.LastAction, error) {
	return scanPlatform(r.DB.QueryRowContext(ctx, `SELECT `+platformColumns+` FROM platforms WHERE id=?`, id))
}

func (r Repo) GetPlatformTx(ctx context.Context, tx *sql.Tx, id string) (domain.Platform, domain.LastAction, error) {
	return scanPlatform(tx.QueryRowContext(ctx, `SELECT `+platformColumns+` FROM platforms WHERE id=?`, id))
}

type PlatformFilters struct {
	Status       string
	PlatformType string
	NeedsSync    *bool
	Limit        int
}

func (r Repo) ListPlatforms(ctx context.Context, f PlatformFilters) ([]domain.Platform, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.PlatformType != "" {
		clauses = append(clauses, "platform_type=?")
		args = append(args, f.PlatformType)
	}
	if f.NeedsSync != nil {
		clauses = append(clauses, "needs_sync=?")
		args = append(args, boolInt(*f.NeedsSync))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + platformColumns + ` FROM platforms ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Platform
	for rows.Next() {
		p, _, err := scanPlatform(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdatePlatformTx rewrites the mutable platform columns, including the
// derived totals and the undo record, in one statement.
func (r Repo) UpdatePlatformTx(ctx context.Context, tx *sql.Tx, p domain.Platform, la domain.LastAction) error {
	res, err := tx.ExecContext(ctx, `UPDATE platforms SET number=?, provider=?, client=?, driver=?, reception_date=?,
standard_width=?, status=?, needs_sync=?, total_length=?, total_linear_meters=?,
last_action_type=?, last_action_piece_id=?, updated_at=? WHERE id=?`,
		p.Number, nullable(p.Provider), nullable(p.Client), nullable(p.Driver), nullable(p.ReceptionDate),
		p.StandardWidth.String(), p.Status, boolInt(p.NeedsSync), p.TotalLength.String(), p.TotalLinearMeters.String(),
		la.Type, nullable(la.PieceID), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeletePlatformTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM platforms WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountPlatformsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM platforms GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// --- pieces ---

const pieceColumns = `id,platform_id,number,length,material,standard_width,linear_meters,created_at`

func scanPiece(row scanner) (domain.Piece, error) {
	var pc domain.Piece
	var length, width, lm string
	err := row.Scan(&pc.ID, &pc.PlatformID, &pc.Number, &length, &pc.Material, &width, &lm, &pc.CreatedAt)
	if err == sql.ErrNoRows {
		return pc, ErrNotFound
	}
	if err != nil {
		return pc, err
	}
	if pc.Length, err = decimal.NewFromString(length); err != nil {
		return pc, fmt.Errorf("piece %s length: %w", pc.ID, err)
	}
	if pc.StandardWidth, err = decimal.NewFromString(width); err != nil {
		return pc, fmt.Errorf("piece %s standard_width: %w", pc.ID, err)
	}
	if pc.LinearMeters, err = decimal.NewFromString(lm); err != nil {
		return pc, fmt.Errorf("piece %s linear_meters: %w", pc.ID, err)
	}
	return pc, nil
}

func (r Repo) InsertPieceTx(ctx context.Context, tx *sql.Tx, pc domain.Piece) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pieces(`+pieceColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		pc.ID, pc.PlatformID, pc.Number, pc.Length.String(), pc.Material, pc.StandardWidth.String(), pc.LinearMeters.String(), pc.CreatedAt)
	return err
}

func (r Repo) UpdatePieceTx(ctx context.Context, tx *sql.Tx, pc domain.Piece) error {
	res, err := tx.ExecContext(ctx, `UPDATE pieces SET length=?, material=?, standard_width=?, linear_meters=? WHERE id=?`,
		pc.Length.String(), pc.Material, pc.StandardWidth.String(), pc.LinearMeters.String(), pc.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeletePieceTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM pieces WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetPiece(ctx context.Context, id string) (domain.Piece, error) {
	return scanPiece(r.DB.QueryRowContext(ctx, `SELECT `+pieceColumns+` FROM pieces WHERE id=?`, id))
}

func (r Repo) GetPieceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Piece, error) {
	return scanPiece(tx.QueryRowContext(ctx, `SELECT `+pieceColumns+` FROM pieces WHERE id=?`, id))
}

func (r Repo) ListPieces(ctx context.Context, platformID string) ([]domain.Piece, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+pieceColumns+` FROM pieces WHERE platform_id=? ORDER BY number ASC`, platformID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPieces(rows)
}

func (r Repo) ListPiecesTx(ctx context.Context, tx *sql.Tx, platformID string) ([]domain.Piece, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+pieceColumns+` FROM pieces WHERE platform_id=? ORDER BY number ASC`, platformID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPieces(rows)
}

func collectPieces(rows *sql.Rows) ([]domain.Piece, error) {
	var res []domain.Piece
	for rows.Next() {
		pc, err := scanPiece(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, pc)
	}
	return res, rows.Err()
}

// MaxPieceNumberTx returns the highest number ever assigned on a platform.
// Numbers are historical sequence markers, so new pieces continue past
// deleted ones instead of reusing a count.
func (r Repo) MaxPieceNumberTx(ctx context.Context, tx *sql.Tx, platformID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(number),0) FROM pieces WHERE platform_id=?`, platformID).Scan(&n)
	return n, err
}

// --- evidence ---

func (r Repo) InsertEvidenceTx(ctx context.Context, tx *sql.Tx, ev domain.Evidence) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO evidence(id,platform_id,kind,ref,created_at) VALUES (?,?,?,?,?)`,
		ev.ID, ev.PlatformID, ev.Kind, ev.Ref, ev.CreatedAt)
	return err
}

func (r Repo) ListEvidence(ctx context.Context, platformID string) ([]domain.Evidence, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,platform_id,kind,ref,created_at FROM evidence WHERE platform_id=? ORDER BY created_at DESC, id DESC`, platformID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Evidence
	for rows.Next() {
		var ev domain.Evidence
		if err := rows.Scan(&ev.ID, &ev.PlatformID, &ev.Kind, &ev.Ref, &ev.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

// --- workspace config ---

func (r Repo) UpsertWorkspaceConfig(ctx context.Context, name string, cfg *config.Config) error {
	return upsertWorkspaceConfig(ctx, r.DB, nil, name, cfg)
}

func (r Repo) UpsertWorkspaceConfigTx(ctx context.Context, tx *sql.Tx, name string, cfg *config.Config) error {
	return upsertWorkspaceConfig(ctx, nil, tx, name, cfg)
}

func upsertWorkspaceConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, name string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Workspace.Name = name
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO workspace_configs(name,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(name) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, name, string(payload), now, now)
	return err
}

func (r Repo) GetWorkspaceConfig(ctx context.Context, name string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM workspace_configs WHERE name=?`, name).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Workspace.Name == "" {
		cfg.Workspace.Name = name
	}
	return &cfg, cfg.Validate()
}

// --- events ---

type EventFilters struct {
	PlatformID string
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.PlatformID != "" {
		clauses = append(clauses, "platform_id=?")
		args = append(args, f.PlatformID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,platform_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var platformID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &platformID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.PlatformID = platformID.String
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
