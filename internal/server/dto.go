package server

import (
	"encoding/json"

	"lineal/internal/domain"
	"lineal/internal/ledger"
)

// Request payloads

type CreatePlatformRequest struct {
	ID            *string `json:"id,omitempty"`
	Number        string  `json:"number"`
	PlatformType  string  `json:"platform_type" enum:"provider,client"`
	Provider      *string `json:"provider,omitempty"`
	Client        *string `json:"client,omitempty"`
	Driver        *string `json:"driver,omitempty"`
	ReceptionDate *string `json:"reception_date,omitempty" format:"date"`
	StandardWidth *string `json:"standard_width,omitempty"`
}

type AddPieceRequest struct {
	Length   string `json:"length"`
	Material string `json:"material"`
}

type AddPiecesRequest struct {
	Pieces    []AddPieceRequest `json:"pieces,omitempty"`
	Dictation *string           `json:"dictation,omitempty"`
}

type UpdatePieceRequest struct {
	Length        *string `json:"length,omitempty"`
	Material      *string `json:"material,omitempty"`
	StandardWidth *string `json:"standard_width,omitempty"`
}

type ChangeWidthRequest struct {
	StandardWidth string `json:"standard_width"`
}

type RegisterSignedExportRequest struct {
	DocumentType  string `json:"document_type" enum:"pdf,image"`
	SignatureData string `json:"signature_data"`
	FileName      *string `json:"file_name,omitempty"`
	FileSize      *int64  `json:"file_size,omitempty"`
}

type AttachEvidenceRequest struct {
	Kind string `json:"kind" enum:"photo,document"`
	Ref  string `json:"ref"`
}

type CleanupDocumentsRequest struct {
	Days int `json:"days" minimum:"0"`
}

// Response payloads

type PlatformResponse struct {
	ID                string   `json:"id"`
	Number            string   `json:"number"`
	PlatformType      string   `json:"platform_type" enum:"provider,client"`
	Provider          string   `json:"provider,omitempty"`
	Client            string   `json:"client,omitempty"`
	Driver            string   `json:"driver,omitempty"`
	ReceptionDate     string   `json:"reception_date,omitempty"`
	StandardWidth     string   `json:"standard_width"`
	TotalLength       string   `json:"total_length"`
	TotalLinearMeters string   `json:"total_linear_meters"`
	Status            string   `json:"status" enum:"in_progress,completed,exported"`
	NeedsSync         bool     `json:"needs_sync"`
	Materials         []string `json:"materials,omitempty"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
	UpdatedAt         string   `json:"updated_at" format:"date-time"`
}

type PieceResponse struct {
	ID            string `json:"id"`
	PlatformID    string `json:"platform_id"`
	Number        int    `json:"number"`
	Length        string `json:"length"`
	Material      string `json:"material"`
	StandardWidth string `json:"standard_width"`
	LinearMeters  string `json:"linear_meters"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type BatchResponse struct {
	Added    []PieceResponse        `json:"added"`
	Rejected []ledger.RejectedPiece `json:"rejected,omitempty"`
}

type UndoResponse struct {
	Undone bool `json:"undone"`
}

type DocumentResponse struct {
	ID             string `json:"id"`
	PlatformID     string `json:"platform_id"`
	PlatformNumber string `json:"platform_number"`
	DocumentType   string `json:"document_type" enum:"pdf,image"`
	CreatedAt      string `json:"created_at" format:"date-time"`
	FileName       string `json:"file_name"`
	FileSize       int64  `json:"file_size"`
}

type CleanupResponse struct {
	Removed int `json:"removed"`
}

type DeleteDocumentResponse struct {
	Deleted bool `json:"deleted"`
}

type EvidenceResponse struct {
	ID         string `json:"id"`
	PlatformID string `json:"platform_id"`
	Kind       string `json:"kind" enum:"photo,document"`
	Ref        string `json:"ref"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	Type       string         `json:"type"`
	PlatformID string         `json:"platform_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	TS         string         `json:"ts" format:"date-time"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Mappers

func platformResponse(p domain.Platform, pieces []domain.Piece) PlatformResponse {
	return PlatformResponse{
		ID:                p.ID,
		Number:            p.Number,
		PlatformType:      p.PlatformType,
		Provider:          p.Provider,
		Client:            p.Client,
		Driver:            p.Driver,
		ReceptionDate:     p.ReceptionDate,
		StandardWidth:     p.StandardWidth.String(),
		TotalLength:       p.TotalLength.String(),
		TotalLinearMeters: p.TotalLinearMeters.String(),
		Status:            p.Status,
		NeedsSync:         p.NeedsSync,
		Materials:         domain.MaterialTypes(pieces),
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func pieceResponse(pc domain.Piece) PieceResponse {
	return PieceResponse{
		ID:            pc.ID,
		PlatformID:    pc.PlatformID,
		Number:        pc.Number,
		Length:        pc.Length.String(),
		Material:      pc.Material,
		StandardWidth: pc.StandardWidth.String(),
		LinearMeters:  pc.LinearMeters.String(),
		CreatedAt:     pc.CreatedAt,
	}
}

func mapPieces(pieces []domain.Piece) []PieceResponse {
	out := make([]PieceResponse, 0, len(pieces))
	for _, pc := range pieces {
		out = append(out, pieceResponse(pc))
	}
	return out
}

func documentResponse(d domain.SignedDocument) DocumentResponse {
	return DocumentResponse{
		ID:             d.ID,
		PlatformID:     d.PlatformID,
		PlatformNumber: d.PlatformNumber,
		DocumentType:   d.DocumentType,
		CreatedAt:      d.CreatedAt,
		FileName:       d.FileName,
		FileSize:       d.FileSize,
	}
}

func mapDocuments(docs []domain.SignedDocument) []DocumentResponse {
	out := make([]DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentResponse(d))
	}
	return out
}

func evidenceResponse(ev domain.Evidence) EvidenceResponse {
	return EvidenceResponse{
		ID:         ev.ID,
		PlatformID: ev.PlatformID,
		Kind:       ev.Kind,
		Ref:        ev.Ref,
		CreatedAt:  ev.CreatedAt,
	}
}

func eventResponse(ev domain.Event) EventResponse {
	var payload map[string]any
	if ev.Payload != "" {
		_ = json.Unmarshal([]byte(ev.Payload), &payload)
	}
	return EventResponse{
		Payload:    payload,
		ID:         ev.ID,
		Type:       ev.Type,
		PlatformID: ev.PlatformID,
		EntityKind: ev.EntityKind,
		EntityID:   ev.EntityID,
		ActorID:    ev.ActorID,
		TS:         ev.TS,
	}
}
