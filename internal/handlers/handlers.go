package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"workledger/go-backend/internal/database"
	"workledger/go-backend/internal/models"
	"workledger/go-backend/internal/services"
)

// Handler holds the wired services behind the HTTP surface. The
// controllers stay thin: decode, call the service, map the error.
type Handler struct {
	worklog        *services.WorkLogService
	settings       *services.SettingsService
	store          *database.Store
	metrics        *services.Metrics
	adminTokenHash string
}

func New(worklog *services.WorkLogService, settings *services.SettingsService, store *database.Store, metrics *services.Metrics, adminTokenHash string) *Handler {
	return &Handler{
		worklog:        worklog,
		settings:       settings,
		store:          store,
		metrics:        metrics,
		adminTokenHash: adminTokenHash,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

// writeError maps the service error taxonomy onto status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case models.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case models.IsConflict(err):
		http.Error(w, err.Error(), http.StatusConflict)
	case models.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		log.Printf("internal error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func userIDFromHeader(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		http.Error(w, "X-User-ID header required", http.StatusBadRequest)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// checkAdminToken compares the X-Admin-Token header against the
// configured bcrypt hash.
func (h *Handler) checkAdminToken(w http.ResponseWriter, r *http.Request) bool {
	if h.adminTokenHash == "" {
		http.Error(w, "Admin endpoints disabled", http.StatusForbidden)
		return false
	}
	token := r.Header.Get("X-Admin-Token")
	if err := bcrypt.CompareHashAndPassword([]byte(h.adminTokenHash), []byte(token)); err != nil {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeParams(w http.ResponseWriter, r *http.Request) (*models.WorkflowParams, bool) {
	if r.ContentLength == 0 {
		return nil, true
	}
	var params models.WorkflowParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return nil, false
	}
	return &params, true
}

type segmentVerb func(ctx context.Context, userID uuid.UUID, params *models.WorkflowParams) (*models.TimeSegment, error)

func (h *Handler) runVerb(w http.ResponseWriter, r *http.Request, verb segmentVerb) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID, ok := userIDFromHeader(w, r)
	if !ok {
		return
	}
	params, ok := decodeParams(w, r)
	if !ok {
		return
	}
	seg, err := verb(r.Context(), userID, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func (h *Handler) StartWork(w http.ResponseWriter, r *http.Request) {
	h.runVerb(w, r, h.worklog.StartWork)
}

func (h *Handler) EndWork(w http.ResponseWriter, r *http.Request) {
	h.runVerb(w, r, h.worklog.EndWork)
}

func (h *Handler) StartBreak(w http.ResponseWriter, r *http.Request) {
	h.runVerb(w, r, h.worklog.StartBreak)
}

func (h *Handler) ResumeWork(w http.ResponseWriter, r *http.Request) {
	h.runVerb(w, r, h.worklog.ResumeWork)
}

func (h *Handler) EditWorklog(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	userID, ok := userIDFromHeader(w, r)
	if !ok {
		return
	}
	var params models.WorkflowParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	seg, err := h.worklog.EditWorklog(r.Context(), userID, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func (h *Handler) ActiveSegment(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := userIDFromHeader(w, r)
	if !ok {
		return
	}
	segType, err := h.worklog.ActiveSegmentType(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*models.SegmentType{"type": segType})
}

func (h *Handler) WidgetSync(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := userIDFromHeader(w, r)
	if !ok {
		return
	}
	sync, err := h.worklog.WidgetSync(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sync)
}

func (h *Handler) ResolveActionRequest(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if !h.checkAdminToken(w, r) {
		return
	}
	var req struct {
		SegmentID int64                `json:"segment_id"`
		Action    models.ResolveAction `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.worklog.ResolveActionRequest(r.Context(), req.SegmentID, req.Action); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (h *Handler) GetNotices(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := userIDFromHeader(w, r)
	if !ok {
		return
	}
	includeRead := r.URL.Query().Get("include_read") == "true"
	notices, err := h.store.NoticesForUser(r.Context(), userID, includeRead)
	if err != nil {
		writeError(w, err)
		return
	}
	if notices == nil {
		notices = []models.Notice{}
	}
	writeJSON(w, http.StatusOK, notices)
}

func (h *Handler) MarkNoticesRead(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if _, ok := userIDFromHeader(w, r); !ok {
		return
	}
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.store.MarkNoticesRead(r.Context(), req.IDs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if !h.checkAdminToken(w, r) {
		return
	}
	all, err := h.settings.All(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *Handler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if !h.checkAdminToken(w, r) {
		return
	}
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.settings.Update(r.Context(), req.Key, req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}
