package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lineal/internal/export"
	"lineal/internal/ledger"
	"lineal/internal/registry"
	"lineal/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   ledger.Engine
	BasePath string
	Log      *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"length must be positive, got -1"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type actorKey struct{}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Lineal API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(log))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := r.Header.Get("X-Actor")
			if actor == "" {
				actor = "api"
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	})
	hcfg := huma.DefaultConfig("Lineal API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerPlatforms(group, cfg.Engine)
	registerPieces(group, cfg.Engine)
	registerExports(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerEvidence(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}

func actorID(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return "api"
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if ledger.IsValidation(err) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, registry.ErrPersist) {
		return newAPIError(http.StatusServiceUnavailable, "persist_failed", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusServiceUnavailable:
		return "persist_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func parseMeasure(field, raw string) (decimal.Decimal, huma.StatusError) {
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
	if err != nil {
		return decimal.Decimal{}, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid %s %q", field, raw), nil)
	}
	return d, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Lineal API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e ledger.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Workspace status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		counts, err := e.Repo.CountPlatformsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		pending, err := e.Repo.ListPlatforms(ctx, repo.PlatformFilters{NeedsSync: boolPtr(true)})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"platform_counts": counts,
			"pending_sync":    len(pending),
		}}, nil
	})
}

func boolPtr(b bool) *bool { return &b }

func registerPlatforms(api huma.API, e ledger.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-platform",
		Method:        http.MethodPost,
		Path:          "/platforms",
		Summary:       "Create platform",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreatePlatformRequest `json:"body"`
	}) (*struct {
		Body PlatformResponse `json:"body"`
	}, error) {
		if input.Body.Number == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "number is required", nil)
		}
		opts := ledger.PlatformCreateOptions{
			Number:       input.Body.Number,
			PlatformType: input.Body.PlatformType,
			ActorID:      actorID(ctx),
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Provider != nil {
			opts.Provider = *input.Body.Provider
		}
		if input.Body.Client != nil {
			opts.Client = *input.Body.Client
		}
		if input.Body.Driver != nil {
			opts.Driver = *input.Body.Driver
		}
		if input.Body.ReceptionDate != nil {
			opts.ReceptionDate = *input.Body.ReceptionDate
		}
		if input.Body.StandardWidth != nil {
			opts.StandardWidth = *input.Body.StandardWidth
		}
		p, err := e.CreatePlatform(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlatformResponse `json:"body"`
		}{Body: platformResponse(p, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-platforms",
		Method:      http.MethodGet,
		Path:        "/platforms",
		Summary:     "List platforms",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status       string `query:"status" enum:"in_progress,completed,exported" required:"false"`
		PlatformType string `query:"platform_type" enum:"provider,client" required:"false"`
		NeedsSync    string `query:"needs_sync" enum:"true,false" required:"false"`
		Limit        int    `query:"limit" required:"false"`
	}) (*struct {
		Body []PlatformResponse `json:"body"`
	}, error) {
		var needsSync *bool
		if input.NeedsSync != "" {
			v := input.NeedsSync == "true"
			needsSync = &v
		}
		items, err := e.Repo.ListPlatforms(ctx, repo.PlatformFilters{
			Status:       input.Status,
			PlatformType: input.PlatformType,
			NeedsSync:    needsSync,
			Limit:        input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]PlatformResponse, 0, len(items))
		for _, p := range items {
			out = append(out, platformResponse(p, nil))
		}
		return &struct {
			Body []PlatformResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-platform",
		Method:      http.MethodGet,
		Path:        "/platforms/{platform_id}",
		Summary:     "Get platform",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlatformID string `path:"platform_id"`
	}) (*struct {
		Body PlatformResponse `json:"body"`
	}, error) {
		p, _, err := e.Repo.GetPlatform(ctx, input.PlatformID)
		if err != nil {
			return nil, handleError(err)
		}
		pieces, err := e.Repo.ListPieces(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlatformResponse `json:"body"`
		}{Body: platformResponse(p, pieces)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-platform",
		Method:      http.MethodDelete,
		Path:        "/platforms/{platform_id}",
		Summary:     "Delete platform and its pieces",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlatformID string `path:"platform_id"`
	}) (*struct{}, error) {
		if err := e.DeletePlatform(ctx, input.PlatformID, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-platform",
		Method:      http.MethodPost,
		Path:        "/platforms/{platform_id}/complete",
		Summary:     "Complete platform",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PlatformID string `path:"platform_id"`
	}) (*struct {
		Body PlatformResponse `json:"body"`
	}, error) {
		p, err := e.CompletePlatform(ctx, input.PlatformID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlatformResponse `json:"body"`
		}{Body: platformResponse(p, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-platform-width",
		Method:      http.MethodPost,
		Path:        "/platforms/{platform_id}/width",
		Summary:     "Change standard width for future pieces",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PlatformID string             `path:"platform_id"`
		Body       ChangeWidthRequest `json:"body"`
	}) (*struct {
		Body PlatformResponse `json:"body"`
	}, error) {
		w, aerr := parseMeasure("standard_width", input.Body.StandardWidth)
		if aerr != nil {
			return nil, aerr
		}
		p, err := e.ChangeStandardWidth(ctx, input.PlatformID, w, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlatformResponse `json:"body"`
		}{Body: platformResponse(p, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-platform-synced",
		Method:      http.MethodPost,
		Path:        "/platforms/{platform_id}/synced",
		Summary:     "Clear the needs_sync flag",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlatformID string `path:"platform_id"`
	}) (*struct {
		Body PlatformResponse `json:"body"`
	}, error) {
		p, err := e.MarkSynced(ctx, input.PlatformID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlatformResponse `json:"body"`
		}{Body: platformResponse(p, nil)}, nil
	})
}

func registerPieces(api huma.API, e ledger.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-piece",
		Method:        http.MethodPost,
		Path:          "/platforms/{platform_id}/pieces",
		Summary:       "Add one measured piece",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PlatformID string          `path:"platform_id"`
		Body       AddPieceRequest `json:"body"`
	}) (*struct {
		Body PieceResponse `json:"body"`
	}, error) {
		length, aerr := parseMeasure("length", input.Body.Length)
		if aerr != nil {
			return nil, aerr
		}
		pc, err := e.AddPiece(ctx, input.PlatformID, ledger.PieceInput{
			Length:   length,
			Material: input.Body.Material,
		}, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PieceResponse `json:"body"`
		}{Body: pieceResponse(pc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-pieces",
		Method:        http.MethodPost,
		Path:          "/platforms/{platform_id}/pieces/batch",
		Summary:       "Add pieces in bulk, from a list or dictated text",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PlatformID string           `path:"platform_id"`
		Body       AddPiecesRequest `json:"body"`
	}) (*struct {
		Body BatchResponse `json:"body"`
	}, error) {
		// Rejections are reported against the position in the request:
		// listed pieces first, then dictated lines in order.
		var inputs []ledger.PieceInput
		var origin []int
		var rejected []ledger.RejectedPiece
		for i, p := range input.Body.Pieces {
			length, aerr := parseMeasure("length", p.Length)
			if aerr != nil {
				rejected = append(rejected, ledger.RejectedPiece{Index: i, Reason: fmt.Sprintf("invalid length %q", p.Length)})
				continue
			}
			inputs = append(inputs, ledger.PieceInput{Length: length, Material: p.Material})
			origin = append(origin, i)
		}
		if input.Body.Dictation != nil {
			base := len(input.Body.Pieces)
			parsed, parseRejected := ledger.ParseDictation(*input.Body.Dictation)
			badLine := make(map[int]bool, len(parseRejected))
			for _, r := range parseRejected {
				badLine[r.Index] = true
				rejected = append(rejected, ledger.RejectedPiece{Index: base + r.Index, Reason: r.Reason})
			}
			line := 0
			for _, in := range parsed {
				for badLine[line] {
					line++
				}
				inputs = append(inputs, in)
				origin = append(origin, base+line)
				line++
			}
		}
		if len(inputs) == 0 && len(rejected) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "pieces or dictation required", nil)
		}
		var res ledger.BatchResult
		if len(inputs) > 0 {
			var err error
			res, err = e.AddPieces(ctx, input.PlatformID, inputs, actorID(ctx))
			if err != nil {
				return nil, handleError(err)
			}
		}
		for _, r := range res.Rejected {
			rejected = append(rejected, ledger.RejectedPiece{Index: origin[r.Index], Reason: r.Reason})
		}
		sort.Slice(rejected, func(i, j int) bool { return rejected[i].Index < rejected[j].Index })
		return &struct {
			Body BatchResponse `json:"body"`
		}{Body: BatchResponse{
			Added:    mapPieces(res.Added),
			Rejected: rejected,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pieces",
		Method:      http.MethodGet,
		Path:        "/platforms/{platform_id}/pieces",
		Summary:     "List pieces",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlatformID string `path:"platform_id"`
	}) (*struct {
		Body []PieceResponse `json:"body"`
	}, error) {
		if _, _, err := e.Repo.GetPlatform(ctx, input.PlatformID); err != nil {
			return nil, handleError(err)
		}
		pieces, err := e.Repo.ListPieces(ctx, input.PlatformID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PieceResponse `json:"body"`
		}{Body: mapPieces(pieces)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-piece",
		Method:      http.MethodPatch,
		Path:        "/platforms/{platform_id}/pieces/{piece_id}",
		Summary:     "Edit a piece",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PlatformID string             `path:"platform_id"`
		PieceID    string             `path:"piece_id"`
		Body       UpdatePieceRequest `json:"body"`
	}) (*struct {
		Body PieceResponse `json:"body"`
	}, error) {
		var upd ledger.PieceUpdate
		if input.Body.Length != nil {
			length, aerr := parseMeasure("length", *input.Body.Length)
			if aerr != nil {
				return nil, aerr
			}
			upd.Length = &length
		}
		if input.Body.StandardWidth != nil {
			w, aerr := parseMeasure("standard_width", *input.Body.StandardWidth)
			if aerr != nil {
				return nil, aerr
			}
			upd.StandardWidth = &w
		}
		upd.Material = input.Body.Material
		pc, err := e.UpdatePiece(ctx, input.PlatformID, input.PieceID, upd, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PieceResponse `json:"body"`
		}{Body: pieceResponse(pc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-piece",
		Method:      http.MethodDelete,
		Path:        "/platforms/{platform_id}/pieces/{piece_id}",
		Summary:     "Delete a piece",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PlatformID string `path:"platform_id"`
		PieceID    string `path:"piece_id"`
	}) (*struct{}, error) {
		if err := e.DeletePiece(ctx, input.PlatformID, input.PieceID, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "undo-last-add",
		Method:      http.MethodPost,
		Path:        "/platforms/{platform_id}/undo",
		Summary:     "Undo the most recent piece add",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlatformID string `path:"platform_id"`
	}) (*struct {
		Body UndoResponse `json:"body"`
	}, error) {
		undone, err := e.UndoLastAdd(ctx, input.PlatformID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UndoResponse `json:"body"`
		}{Body: UndoResponse{Undone: undone}}, nil
	})
}

type fileOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func registerExports(api huma.API, e ledger.Engine) {
	snapshot := func(ctx context.Context, platformID string) (export.Snapshot, error) {
		p, _, err := e.Repo.GetPlatform(ctx, platformID)
		if err != nil {
			return export.Snapshot{}, err
		}
		pieces, err := e.Repo.ListPieces(ctx, platformID)
		if err != nil {
			return export.Snapshot{}, err
		}
		return export.Snapshot{Platform: p, Pieces: pieces}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "export-csv",
		Method:      http.MethodGet,
		Path:        "/platforms/{platform_id}/export/csv",
		Summary:     "Download the platform as CSV",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlatformID string `path:"platform_id"`
	}) (*fileOutput, error) {
		s, err := snapshot(ctx, input.PlatformID)
		if err != nil {
			return nil, handleError(err)
		}
		text, err := export.CSV(s)
		if err != nil {
			return nil, handleError(err)
		}
		name := export.FileName(s.Platform.Number, false, e.Now(), "csv")
		return &fileOutput{
			ContentType:        "text/csv; charset=utf-8",
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", name),
			Body:               []byte(text),
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-print",
		Method:      http.MethodGet,
		Path:        "/platforms/{platform_id}/export/print",
		Summary:     "Print-ready HTML view",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlatformID string `path:"platform_id"`
	}) (*fileOutput, error) {
		s, err := snapshot(ctx, input.PlatformID)
		if err != nil {
			return nil, handleError(err)
		}
		html, err := export.PrintHTML(s, "")
		if err != nil {
			return nil, handleError(err)
		}
		return &fileOutput{
			ContentType: "text/html; charset=utf-8",
			Body:        []byte(html),
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-signed-export",
		Method:        http.MethodPost,
		Path:          "/platforms/{platform_id}/export/signed",
		Summary:       "Record a signed export and mark the platform exported",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		PlatformID string                      `path:"platform_id"`
		Body       RegisterSignedExportRequest `json:"body"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		if input.Body.SignatureData == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "signature_data is required", nil)
		}
		fileName := ""
		if input.Body.FileName != nil {
			fileName = *input.Body.FileName
		}
		var fileSize int64
		if input.Body.FileSize != nil {
			fileSize = *input.Body.FileSize
		}
		doc, err := e.RegisterSignedExport(ctx, input.PlatformID, input.Body.DocumentType, input.Body.SignatureData, fileName, fileSize, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(doc)}, nil
	})
}

func registerDocuments(api huma.API, e ledger.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/documents",
		Summary:     "List signed documents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []DocumentResponse `json:"body"`
	}, error) {
		docs, err := e.Registry.ListAll(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DocumentResponse `json:"body"`
		}{Body: mapDocuments(docs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-platform-documents",
		Method:      http.MethodGet,
		Path:        "/platforms/{platform_id}/documents",
		Summary:     "List signed documents for one platform",
	}, func(ctx context.Context, input *struct {
		PlatformID string `path:"platform_id"`
	}) (*struct {
		Body []DocumentResponse `json:"body"`
	}, error) {
		docs, err := e.Registry.ListByPlatform(ctx, input.PlatformID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DocumentResponse `json:"body"`
		}{Body: mapDocuments(docs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-document",
		Method:      http.MethodDelete,
		Path:        "/documents/{document_id}",
		Summary:     "Delete one signed document record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct {
		Body DeleteDocumentResponse `json:"body"`
	}, error) {
		deleted, err := e.Registry.Delete(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		if !deleted {
			return nil, newAPIError(http.StatusNotFound, "not_found", "document not found", nil)
		}
		return &struct {
			Body DeleteDocumentResponse `json:"body"`
		}{Body: DeleteDocumentResponse{Deleted: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cleanup-documents",
		Method:      http.MethodPost,
		Path:        "/documents/cleanup",
		Summary:     "Remove signed documents older than N days",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CleanupDocumentsRequest `json:"body"`
	}) (*struct {
		Body CleanupResponse `json:"body"`
	}, error) {
		removed, err := e.Registry.CleanupOlderThan(ctx, input.Body.Days)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CleanupResponse `json:"body"`
		}{Body: CleanupResponse{Removed: removed}}, nil
	})
}

func registerEvidence(api huma.API, e ledger.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "attach-evidence",
		Method:        http.MethodPost,
		Path:          "/platforms/{platform_id}/evidence",
		Summary:       "Attach an evidence reference",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		PlatformID string                `path:"platform_id"`
		Body       AttachEvidenceRequest `json:"body"`
	}) (*struct {
		Body EvidenceResponse `json:"body"`
	}, error) {
		ev, err := e.AttachEvidence(ctx, input.PlatformID, input.Body.Kind, input.Body.Ref, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EvidenceResponse `json:"body"`
		}{Body: evidenceResponse(ev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-evidence",
		Method:      http.MethodGet,
		Path:        "/platforms/{platform_id}/evidence",
		Summary:     "List evidence references",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlatformID string `path:"platform_id"`
	}) (*struct {
		Body []EvidenceResponse `json:"body"`
	}, error) {
		if _, _, err := e.Repo.GetPlatform(ctx, input.PlatformID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListEvidence(ctx, input.PlatformID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EvidenceResponse, 0, len(items))
		for _, ev := range items {
			out = append(out, evidenceResponse(ev))
		}
		return &struct {
			Body []EvidenceResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, e ledger.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest ledger events",
	}, func(ctx context.Context, input *struct {
		PlatformID string `query:"platform_id" required:"false"`
		Type       string `query:"type" required:"false"`
		EntityKind string `query:"entity_kind" required:"false"`
		EntityID   string `query:"entity_id" required:"false"`
		Limit      int    `query:"limit" required:"false"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			PlatformID: input.PlatformID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			out = append(out, eventResponse(ev))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}
