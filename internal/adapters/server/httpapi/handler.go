// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/hylla/blockenv/internal/adapters/server/common"
	"github.com/hylla/blockenv/internal/app"
	"github.com/hylla/blockenv/internal/domain"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 4 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	env common.EnvironmentService
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// CreateLayoutRequest is the body of POST `/layouts`.
type CreateLayoutRequest struct {
	OrganisationID string `json:"organisation_id"`
}

// SaveEnvironmentRequest is the body of POST `/layouts/{id}/environment`.
type SaveEnvironmentRequest struct {
	OrganisationID string            `json:"organisation_id"`
	Version        int64             `json:"version"`
	Operations     domain.Operations `json:"operations"`
}

// NewHandler constructs one HTTP API adapter over env.
func NewHandler(env common.EnvironmentService) *Handler {
	return &Handler{env: env}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.env == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "environment service is not configured",
		})
		return
	}
	ctx, err := common.WithActor(r.Context(), common.ActorTuple{
		ActorID:   r.Header.Get(common.HeaderActorID),
		ActorType: r.Header.Get(common.HeaderActorType),
		Roles:     r.Header.Get(common.HeaderRoles),
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	r = r.WithContext(ctx)

	segments := strings.Split(normalizePath(r.URL.Path), "/")
	switch {
	case len(segments) == 1 && segments[0] == "layouts":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleCreateLayout(w, r)
	case len(segments) == 2 && segments[0] == "layouts" && segments[1] != "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleGetLayout(w, r, segments[1])
	case len(segments) == 3 && segments[0] == "layouts" && segments[1] != "":
		h.routeLayout(w, r, segments[1], segments[2])
	case len(segments) == 2 && segments[0] == "blocks" && segments[1] != "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleGetBlock(w, r, segments[1])
	case len(segments) == 3 && segments[0] == "blocks" && segments[1] != "":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.routeBlock(w, r, segments[1], segments[2])
	default:
		writeNotFound(w)
	}
}

// routeLayout dispatches `/layouts/{id}/{action}`.
func (h *Handler) routeLayout(w http.ResponseWriter, r *http.Request, layoutID, action string) {
	switch action {
	case "environment":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w, http.MethodPost)
			return
		}
		h.handleSaveEnvironment(w, r, layoutID)
	case "tree":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleLayoutTree(w, r, layoutID)
	case "activity":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleListActivity(w, r, layoutID)
	default:
		writeNotFound(w)
	}
}

// routeBlock dispatches GET `/blocks/{id}/{action}`.
func (h *Handler) routeBlock(w http.ResponseWriter, r *http.Request, blockID, action string) {
	switch action {
	case "children":
		edges, err := h.env.ListChildren(r.Context(), blockID)
		if err != nil {
			writeErrorFrom(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"children": edges})
	case "references":
		refs, err := h.env.ResolveReferences(r.Context(), blockID)
		if err != nil {
			writeErrorFrom(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"references": refs})
	case "cascade":
		plan, err := h.env.PreviewCascade(r.Context(), blockID)
		if err != nil {
			writeErrorFrom(w, err)
			return
		}
		writeJSON(w, http.StatusOK, common.NewCascadeView(plan))
	default:
		writeNotFound(w)
	}
}

// handleCreateLayout serves POST `/layouts`.
func (h *Handler) handleCreateLayout(w http.ResponseWriter, r *http.Request) {
	var req CreateLayoutRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	if strings.TrimSpace(req.OrganisationID) == "" {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: "organisation_id is required",
		})
		return
	}
	layout, err := h.env.CreateLayout(r.Context(), req.OrganisationID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, common.NewLayoutView(layout))
}

// handleGetLayout serves GET `/layouts/{id}`.
func (h *Handler) handleGetLayout(w http.ResponseWriter, r *http.Request, layoutID string) {
	layout, err := h.env.GetLayout(r.Context(), layoutID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, common.NewLayoutView(layout))
}

// handleSaveEnvironment serves POST `/layouts/{id}/environment`. A stale
// version answers 409 with the save result as the body.
func (h *Handler) handleSaveEnvironment(w http.ResponseWriter, r *http.Request, layoutID string) {
	var body SaveEnvironmentRequest
	if err := decodeJSONBody(r.Context(), w, r, &body); err != nil {
		writeErrorFrom(w, err)
		return
	}
	result, err := h.env.Save(r.Context(), app.SaveRequest{
		LayoutID:       layoutID,
		OrganisationID: body.OrganisationID,
		Version:        body.Version,
		Operations:     body.Operations,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	if result.Conflict {
		writeJSON(w, http.StatusConflict, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleLayoutTree serves GET `/layouts/{id}/tree`.
func (h *Handler) handleLayoutTree(w http.ResponseWriter, r *http.Request, layoutID string) {
	nodes, err := h.env.LayoutTree(r.Context(), layoutID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	views, err := common.NewTreeView(nodes)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": views})
}

// handleListActivity serves GET `/layouts/{id}/activity`.
func (h *Handler) handleListActivity(w http.ResponseWriter, r *http.Request, layoutID string) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, APIError{
				Code:    "invalid_request",
				Message: "limit must be a non-negative integer",
			})
			return
		}
		limit = parsed
	}
	rows, err := h.env.ListActivity(r.Context(), layoutID, limit)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": common.NewActivityViews(rows)})
}

// handleGetBlock serves GET `/blocks/{id}`.
func (h *Handler) handleGetBlock(w http.ResponseWriter, r *http.Request, blockID string) {
	block, err := h.env.GetBlock(r.Context(), blockID)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	view, err := common.NewBlockView(block)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// normalizePath canonicalizes one request path for route matching.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return path
}

// writeErrorFrom maps application errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	class := common.ClassifyError(err)
	apiErr := APIError{Code: class.Code, Message: "unknown error"}
	if err != nil {
		apiErr.Message = err.Error()
	}
	var schemaErr app.SchemaValidationError
	if errors.As(err, &schemaErr) {
		issues := make([]map[string]string, 0, len(schemaErr.Issues))
		for _, issue := range schemaErr.Issues {
			issues = append(issues, map[string]string{"path": issue.Path, "message": issue.Message})
		}
		apiErr.Context = map[string]any{"type_key": schemaErr.TypeKey, "issues": issues}
	}
	if class.Status == http.StatusInternalServerError {
		log.Error("api request failed", "err", err)
	}
	writeJSONError(w, class.Status, apiErr)
}

// writeNotFound writes the structured unknown-endpoint response.
func writeNotFound(w http.ResponseWriter) {
	writeJSONError(w, http.StatusNotFound, APIError{
		Code:    "not_found",
		Message: "endpoint not found",
	})
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn("encode api response", "err", err)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(app.ErrInvalidRequest, err))
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", app.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
