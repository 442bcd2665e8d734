package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"lineal/internal/config"
	"lineal/internal/db"
	"lineal/internal/kv"
	"lineal/internal/ledger"
	"lineal/internal/migrate"
	"lineal/internal/registry"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := registry.New(kv.NewMemory(), nil)
	e := ledger.New(conn, config.Default("test"), reg, nil)
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createTestPlatform(t *testing.T, srv *testServer) PlatformResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/platforms", map[string]any{
		"number":        "PLT-001",
		"platform_type": "provider",
		"provider":      "Aceros SA",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create platform: status %d body %s", res.StatusCode, data)
	}
	var p PlatformResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("decode platform: %v", err)
	}
	return p
}

func TestPlatformCaptureFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	p := createTestPlatform(t, srv)
	if p.Status != "in_progress" || !p.NeedsSync {
		t.Fatalf("fresh platform = %+v", p)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/platforms/"+p.ID+"/pieces", map[string]any{
		"length":   "3.5",
		"material": "Lámina",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add piece: status %d body %s", res.StatusCode, data)
	}
	var pc PieceResponse
	if err := json.Unmarshal(data, &pc); err != nil {
		t.Fatal(err)
	}
	if pc.Number != 1 || pc.LinearMeters != "4.2" {
		t.Fatalf("piece = %+v", pc)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/platforms/"+p.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get platform: %d %s", res.StatusCode, data)
	}
	var got PlatformResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.TotalLinearMeters != "4.2" {
		t.Fatalf("total = %s", got.TotalLinearMeters)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/platforms/"+p.ID+"/complete", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, data)
	}
}

func TestAddPieceValidationEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createTestPlatform(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/platforms/"+p.ID+"/pieces", map[string]any{
		"length":   "-1",
		"material": "Lámina",
	})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
}

func TestBatchWithDictation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createTestPlatform(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/platforms/"+p.ID+"/pieces/batch", map[string]any{
		"dictation": "3.5 Lámina\n2,75 Perfil\nnonsense",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("batch: %d %s", res.StatusCode, data)
	}
	var out BatchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Added) != 2 || len(out.Rejected) != 1 {
		t.Fatalf("added=%d rejected=%d", len(out.Added), len(out.Rejected))
	}
}

func TestListPlatformsFilterNeedsSync(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createTestPlatform(t, srv)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/platforms", map[string]any{
		"number":        "PLT-002",
		"platform_type": "provider",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create second platform: %d %s", res.StatusCode, data)
	}
	var second PlatformResponse
	if err := json.Unmarshal(data, &second); err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/platforms/"+second.ID+"/synced", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mark synced: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/platforms?needs_sync=true", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list pending: %d %s", res.StatusCode, data)
	}
	var pending []PlatformResponse
	if err := json.Unmarshal(data, &pending); err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Number != "PLT-001" {
		t.Fatalf("pending = %+v", pending)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/platforms?needs_sync=false", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list synced: %d %s", res.StatusCode, data)
	}
	var synced []PlatformResponse
	if err := json.Unmarshal(data, &synced); err != nil {
		t.Fatal(err)
	}
	if len(synced) != 1 || synced[0].ID != second.ID {
		t.Fatalf("synced = %+v", synced)
	}
}

func TestBatchRejectionIndexes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createTestPlatform(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/platforms/"+p.ID+"/pieces/batch", map[string]any{
		"pieces": []map[string]any{
			{"length": "abc", "material": "Lámina"},
			{"length": "-1", "material": "Lámina"},
			{"length": "2", "material": "Lámina"},
		},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("batch: %d %s", res.StatusCode, data)
	}
	var out BatchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Added) != 1 || len(out.Rejected) != 2 {
		t.Fatalf("added=%d rejected=%d", len(out.Added), len(out.Rejected))
	}
	if out.Rejected[0].Index != 0 || out.Rejected[1].Index != 1 {
		t.Fatalf("rejected = %+v", out.Rejected)
	}

	// Dictated lines are indexed after the listed pieces.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/platforms/"+p.ID+"/pieces/batch", map[string]any{
		"pieces": []map[string]any{
			{"length": "1.5", "material": "Perfil"},
		},
		"dictation": "nonsense\n3 Tubo",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("mixed batch: %d %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Added) != 2 || len(out.Rejected) != 1 {
		t.Fatalf("added=%d rejected=%d", len(out.Added), len(out.Rejected))
	}
	if out.Rejected[0].Index != 1 {
		t.Fatalf("rejected = %+v", out.Rejected)
	}
}

func TestUndoEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createTestPlatform(t, srv)

	_, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/platforms/"+p.ID+"/pieces", map[string]any{
		"length": "1", "material": "Lámina",
	})
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/platforms/"+p.ID+"/undo", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("undo: %d %s", res.StatusCode, data)
	}
	var out UndoResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Undone {
		t.Fatalf("expected undone")
	}
	// nothing left to undo
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/platforms/"+p.ID+"/undo", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second undo: %d %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Undone {
		t.Fatalf("second undo should be a no-op")
	}
}

func TestExportCSVEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createTestPlatform(t, srv)
	_, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/platforms/"+p.ID+"/pieces", map[string]any{
		"length": "3.5", "material": "Lámina",
	})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/platforms/"+p.ID+"/export/csv", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export: %d %s", res.StatusCode, data)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %q", ct)
	}
	if cd := res.Header.Get("Content-Disposition"); !strings.Contains(cd, "Plataforma_PLT-001_") {
		t.Fatalf("content disposition = %q", cd)
	}
	text := string(data)
	if !strings.HasPrefix(text, "No.,Material,Longitud (m),Ancho (m),Metros Lineales\n") {
		t.Fatalf("csv header missing: %q", text)
	}
}

func TestSignedExportFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createTestPlatform(t, srv)
	_, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/platforms/"+p.ID+"/pieces", map[string]any{
		"length": "1", "material": "Lámina",
	})

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/platforms/"+p.ID+"/export/signed", map[string]any{
		"document_type":  "pdf",
		"signature_data": "data:image/png;base64,AAAA",
		"file_name":      "Plataforma_PLT-001_Firmado_2024-01-01.pdf",
		"file_size":      2048,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("signed export: %d %s", res.StatusCode, data)
	}
	var doc DocumentResponse
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.PlatformNumber != "PLT-001" {
		t.Fatalf("doc = %+v", doc)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/platforms/"+p.ID+"/documents", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list documents: %d %s", res.StatusCode, data)
	}
	var docs []DocumentResponse
	if err := json.Unmarshal(data, &docs); err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != doc.ID {
		t.Fatalf("docs = %+v", docs)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/platforms/"+p.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get platform: %d %s", res.StatusCode, data)
	}
	var got PlatformResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "exported" {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/platforms/missing", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, data)
	}
}
