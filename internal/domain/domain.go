package domain

import "github.com/shopspring/decimal"

// Platform statuses move forward only: in_progress -> completed -> exported.
// Export is also allowed straight from in_progress; see ledger.EnsureTransition.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusExported   = "exported"
)

const (
	PlatformTypeProvider = "provider"
	PlatformTypeClient   = "client"
)

type Platform struct {
	ID            string `json:"id"`
	Number        string `json:"number"`
	PlatformType  string `json:"platform_type" enum:"provider,client"`
	Provider      string `json:"provider,omitempty"`
	Client        string `json:"client,omitempty"`
	Driver        string `json:"driver,omitempty"`
	ReceptionDate string `json:"reception_date,omitempty" format:"date"`

	StandardWidth     decimal.Decimal `json:"standard_width"`
	Status            string          `json:"status" enum:"in_progress,completed,exported"`
	NeedsSync         bool            `json:"needs_sync"`
	TotalLength       decimal.Decimal `json:"total_length"`
	TotalLinearMeters decimal.Decimal `json:"total_linear_meters"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// MaterialTypes returns the distinct material labels across pieces,
// in first-seen order.
func MaterialTypes(pieces []Piece) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range pieces {
		if p.Material == "" || seen[p.Material] {
			continue
		}
		seen[p.Material] = true
		out = append(out, p.Material)
	}
	return out
}

type Piece struct {
	ID            string          `json:"id"`
	PlatformID    string          `json:"platform_id"`
	Number        int             `json:"number"`
	Length        decimal.Decimal `json:"length"`
	Material      string          `json:"material"`
	StandardWidth decimal.Decimal `json:"standard_width"`
	LinearMeters  decimal.Decimal `json:"linear_meters"`
	CreatedAt     string          `json:"created_at" format:"date-time"`
}

const (
	DocumentTypePDF   = "pdf"
	DocumentTypeImage = "image"
)

type SignedDocument struct {
	ID             string `json:"id"`
	PlatformID     string `json:"platformId"`
	PlatformNumber string `json:"platformNumber"`
	DocumentType   string `json:"documentType" enum:"pdf,image"`
	SignatureData  string `json:"signatureData"`
	CreatedAt      string `json:"createdAt" format:"date-time"`
	FileName       string `json:"fileName"`
	FileSize       int64  `json:"fileSize"`
}

const (
	EvidenceKindPhoto    = "photo"
	EvidenceKindDocument = "document"
)

type Evidence struct {
	ID         string `json:"id"`
	PlatformID string `json:"platform_id"`
	Kind       string `json:"kind" enum:"photo,document"`
	Ref        string `json:"ref"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Undo log variants. At most one record exists per platform and only the
// last add can be undone.
const (
	LastActionNone = "none"
	LastActionAdd  = "add"
)

type LastAction struct {
	Type    string `json:"type" enum:"none,add"`
	PieceID string `json:"piece_id,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	PlatformID string `json:"platform_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
