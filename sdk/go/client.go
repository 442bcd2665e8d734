package linealsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Lineal HTTP API client.
type Client struct {
	BaseURL    string
	Actor      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Platform represents the API platform model.
type Platform struct {
	ID                string `json:"id"`
	Number            string `json:"number"`
	PlatformType      string `json:"platform_type"`
	Provider          string `json:"provider,omitempty"`
	Client            string `json:"client,omitempty"`
	Driver            string `json:"driver,omitempty"`
	ReceptionDate     string `json:"reception_date,omitempty"`
	StandardWidth     string `json:"standard_width"`
	TotalLength       string `json:"total_length"`
	TotalLinearMeters string `json:"total_linear_meters"`
	Status            string `json:"status"`
	NeedsSync         bool   `json:"needs_sync"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

// Piece represents one measured piece.
type Piece struct {
	ID            string `json:"id"`
	PlatformID    string `json:"platform_id"`
	Number        int    `json:"number"`
	Length        string `json:"length"`
	Material      string `json:"material"`
	StandardWidth string `json:"standard_width"`
	LinearMeters  string `json:"linear_meters"`
	CreatedAt     string `json:"created_at"`
}

// BatchResult reports a bulk add outcome.
type BatchResult struct {
	Added    []Piece `json:"added"`
	Rejected []struct {
		Index  int    `json:"index"`
		Reason string `json:"reason"`
	} `json:"rejected,omitempty"`
}

// SignedDocument represents a registered signed export.
type SignedDocument struct {
	ID             string `json:"id"`
	PlatformID     string `json:"platform_id"`
	PlatformNumber string `json:"platform_number"`
	DocumentType   string `json:"document_type"`
	CreatedAt      string `json:"created_at"`
	FileName       string `json:"file_name"`
	FileSize       int64  `json:"file_size"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreatePlatform creates a platform.
func (c *Client) CreatePlatform(ctx context.Context, number, platformType string) (Platform, error) {
	body := map[string]any{
		"number":        number,
		"platform_type": platformType,
	}
	var resp Platform
	err := c.do(ctx, http.MethodPost, "v0/platforms", body, &resp)
	return resp, err
}

// GetPlatform fetches one platform.
func (c *Client) GetPlatform(ctx context.Context, id string) (Platform, error) {
	var resp Platform
	err := c.do(ctx, http.MethodGet, c.platformPath(id, ""), nil, &resp)
	return resp, err
}

// AddPiece adds one measured piece.
func (c *Client) AddPiece(ctx context.Context, platformID, length, material string) (Piece, error) {
	body := map[string]any{
		"length":   length,
		"material": material,
	}
	var resp Piece
	err := c.do(ctx, http.MethodPost, c.platformPath(platformID, "pieces"), body, &resp)
	return resp, err
}

// AddDictated adds pieces parsed from dictated text.
func (c *Client) AddDictated(ctx context.Context, platformID, text string) (BatchResult, error) {
	body := map[string]any{"dictation": text}
	var resp BatchResult
	err := c.do(ctx, http.MethodPost, c.platformPath(platformID, "pieces/batch"), body, &resp)
	return resp, err
}

// UndoLastAdd reverts the most recent add when possible.
func (c *Client) UndoLastAdd(ctx context.Context, platformID string) (bool, error) {
	var resp struct {
		Undone bool `json:"undone"`
	}
	err := c.do(ctx, http.MethodPost, c.platformPath(platformID, "undo"), nil, &resp)
	return resp.Undone, err
}

// CompletePlatform finalizes capture.
func (c *Client) CompletePlatform(ctx context.Context, platformID string) (Platform, error) {
	var resp Platform
	err := c.do(ctx, http.MethodPost, c.platformPath(platformID, "complete"), nil, &resp)
	return resp, err
}

// MarkSynced clears the needs_sync flag.
func (c *Client) MarkSynced(ctx context.Context, platformID string) (Platform, error) {
	var resp Platform
	err := c.do(ctx, http.MethodPost, c.platformPath(platformID, "synced"), nil, &resp)
	return resp, err
}

// ExportCSV downloads the CSV rendition of a platform.
func (c *Client) ExportCSV(ctx context.Context, platformID string) (string, error) {
	var buf bytes.Buffer
	err := c.doRaw(ctx, http.MethodGet, c.platformPath(platformID, "export/csv"), &buf)
	return buf.String(), err
}

// RegisterSignedExport records a signed export artifact.
func (c *Client) RegisterSignedExport(ctx context.Context, platformID, documentType, signatureData, fileName string, fileSize int64) (SignedDocument, error) {
	body := map[string]any{
		"document_type":  documentType,
		"signature_data": signatureData,
		"file_name":      fileName,
		"file_size":      fileSize,
	}
	var resp SignedDocument
	err := c.do(ctx, http.MethodPost, c.platformPath(platformID, "export/signed"), body, &resp)
	return resp, err
}

// Documents lists registered signed documents, optionally by platform.
func (c *Client) Documents(ctx context.Context, platformID string) ([]SignedDocument, error) {
	endpoint := "v0/documents"
	if platformID != "" {
		endpoint = c.platformPath(platformID, "documents")
	}
	var resp []SignedDocument
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Actor != "" {
		req.Header.Set("X-Actor", c.Actor)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, endpoint string, out io.Writer) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	if c.Actor != "" {
		req.Header.Set("X-Actor", c.Actor)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	_, err = io.Copy(out, resp.Body)
	return err
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) platformPath(platformID, p string) string {
	base := fmt.Sprintf("v0/platforms/%s", url.PathEscape(platformID))
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}
