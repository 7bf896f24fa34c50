package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/StevenWanglolz/Occult-Magick/internal/charging"
	"github.com/StevenWanglolz/Occult-Magick/internal/servitor"
)

// Handler provides HTTP handlers for the servitor endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new lifecycle handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes returns a chi.Router with all servitor routes mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/", h.HandleCreate)
	r.Get("/", h.HandleList)
	r.Get("/{name}", h.HandleGet)
	r.Delete("/{name}", h.HandleDelete)
	r.Get("/{name}/sigil", h.HandleSigil)
	r.Post("/{name}/charge", h.HandleCharge)
	r.Post("/{name}/boost", h.HandleBoost)
	r.Post("/{name}/feed", h.HandleFeed)
	r.Post("/{name}/activate", h.HandleActivate)
	r.Post("/{name}/deactivate", h.HandleDeactivate)
	r.Post("/{name}/dismiss", h.HandleDismiss)
	r.Get("/{name}/ritual", h.HandleRitual)
	r.Post("/{name}/tasks", h.HandleAddTask)
	r.Post("/{name}/tasks/execute", h.HandleExecuteAll)
	r.Post("/{name}/tasks/{task}/execute", h.HandleExecuteTask)
	r.Get("/{name}/health", h.HandleHealth)
	r.Get("/{name}/session", h.HandleSession)
	r.Post("/{name}/session", h.HandleStartSession)
	r.Delete("/{name}/session", h.HandleStopSession)
	return r
}

// HandleCreate handles POST /api/servitors.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	rec, err := h.svc.Create(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// HandleList handles GET /api/servitors. With ?index=true only the
// lightweight listing index is returned.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := servitor.Status(r.URL.Query().Get("status"))

	if r.URL.Query().Get("index") == "true" {
		entries, err := h.svc.ListIndex(r.Context(), status)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, indexResponse{Data: entries})
		return
	}

	records, err := h.svc.List(r.Context(), status)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Data: records})
}

// HandleGet handles GET /api/servitors/{name}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleDelete handles DELETE /api/servitors/{name}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSigil handles GET /api/servitors/{name}/sigil, serving the
// rendered sigil image.
func (h *Handler) HandleSigil(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if rec.SigilPath == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "servitor has no sigil")
		return
	}
	http.ServeFile(w, r, rec.SigilPath)
}

type chargeRequest struct {
	Amount float64 `json:"amount"`
	Method string  `json:"method,omitempty"`
}

// HandleCharge handles POST /api/servitors/{name}/charge.
func (h *Handler) HandleCharge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	rec, err := h.svc.Charge(r.Context(), chi.URLParam(r, "name"), req.Amount, req.Method)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type boostRequest struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason,omitempty"`
}

// HandleBoost handles POST /api/servitors/{name}/boost.
func (h *Handler) HandleBoost(w http.ResponseWriter, r *http.Request) {
	var req boostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	rec, err := h.svc.Boost(r.Context(), chi.URLParam(r, "name"), req.Amount, req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type feedRequest struct {
	Amount float64 `json:"amount,omitempty"`
}

// HandleFeed handles POST /api/servitors/{name}/feed.
func (h *Handler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	var req feedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	rec, err := h.svc.Feed(r.Context(), chi.URLParam(r, "name"), req.Amount)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleActivate handles POST /api/servitors/{name}/activate.
func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Activate(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleDeactivate handles POST /api/servitors/{name}/deactivate.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Deactivate(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type dismissRequest struct {
	Reason string `json:"reason,omitempty"`
}

// HandleDismiss handles POST /api/servitors/{name}/dismiss.
func (h *Handler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	var req dismissRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
			return
		}
	}

	rec, err := h.svc.Dismiss(r.Context(), chi.URLParam(r, "name"), req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleRitual handles GET /api/servitors/{name}/ritual, returning the
// dismissal ritual text for display before confirmation.
func (h *Handler) HandleRitual(w http.ResponseWriter, r *http.Request) {
	text, err := h.svc.Ritual(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ritualResponse{Ritual: text})
}

// HandleAddTask handles POST /api/servitors/{name}/tasks.
func (h *Handler) HandleAddTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	rec, err := h.svc.AddTask(r.Context(), chi.URLParam(r, "name"), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// HandleExecuteAll handles POST /api/servitors/{name}/tasks/execute.
func (h *Handler) HandleExecuteAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.ExecuteAll(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsResponse{Results: results})
}

// HandleExecuteTask handles POST /api/servitors/{name}/tasks/{task}/execute.
func (h *Handler) HandleExecuteTask(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ExecuteTask(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "task"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleHealth handles GET /api/servitors/{name}/health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.svc.Health(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// HandleReminders handles GET /api/maintenance/reminders. Mounted outside
// the servitor subtree.
func (h *Handler) HandleReminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := h.svc.Reminders(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, remindersResponse{Reminders: reminders})
}

type sessionRequest struct {
	Method          string  `json:"method,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

type sessionResponse struct {
	ID          string    `json:"id"`
	Servitor    string    `json:"servitor"`
	Method      string    `json:"method"`
	Started     time.Time `json:"started"`
	ChargeLevel float64   `json:"charge_level"`
}

func toSessionResponse(sess *charging.Session) sessionResponse {
	return sessionResponse{
		ID:          sess.ID.String(),
		Servitor:    sess.Servitor.Name,
		Method:      sess.Method,
		Started:     sess.Started,
		ChargeLevel: sess.Servitor.Level(),
	}
}

// HandleStartSession handles POST /api/servitors/{name}/session.
func (h *Handler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
			return
		}
	}
	if req.DurationSeconds < 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "duration_seconds must be non-negative")
		return
	}

	// The session must outlive the request; detach from the request
	// context so the worker is not cancelled when the response is sent.
	duration := time.Duration(req.DurationSeconds * float64(time.Second))
	sess, err := h.svc.StartSession(context.WithoutCancel(r.Context()), chi.URLParam(r, "name"), req.Method, duration, nil)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// HandleSession handles GET /api/servitors/{name}/session.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sess := h.svc.Session(chi.URLParam(r, "name"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no active charging session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// HandleStopSession handles DELETE /api/servitors/{name}/session.
func (h *Handler) HandleStopSession(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.StopSession(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- response types ---

type listResponse struct {
	Data []*servitor.Servitor `json:"data"`
}

type indexResponse struct {
	Data any `json:"data"`
}

type resultsResponse struct {
	Results any `json:"results"`
}

type remindersResponse struct {
	Reminders any `json:"reminders"`
}

type ritualResponse struct {
	Ritual string `json:"ritual"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, servitor.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "servitor not found")
	case errors.Is(err, servitor.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "task not found")
	case errors.Is(err, charging.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no active charging session")
	case errors.Is(err, servitor.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "CONFLICT", "servitor already exists")
	case errors.Is(err, charging.ErrSessionActive):
		writeError(w, http.StatusConflict, "CONFLICT", "charging session already active")
	case errors.Is(err, servitor.ErrDismissed):
		writeError(w, http.StatusConflict, "CONFLICT", "servitor has been dismissed")
	case errors.Is(err, servitor.ErrInsufficientCharge):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, servitor.ErrValidation):
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	default:
		slog.Error("lifecycle handler error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
