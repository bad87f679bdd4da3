package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/circuitbreaker"
	"github.com/lalithlochan/medreminder/internal/confirm"
	"github.com/lalithlochan/medreminder/internal/medication"
	"github.com/lalithlochan/medreminder/internal/reminder"
	"github.com/lalithlochan/medreminder/internal/schedule"
	"github.com/lalithlochan/medreminder/internal/store"
	"github.com/lalithlochan/medreminder/internal/trigger"
)

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Ticker runs one reminder tick.
type Ticker interface {
	Tick(ctx context.Context) (trigger.Result, error)
}

// Deps are the collaborators the dashboard API needs.
type Deps struct {
	Pending       store.PendingStore
	Overrides     store.OverrideStore
	Subscriptions store.SubscriptionStore
	Resolver      *schedule.Resolver
	Confirm       *confirm.Resolver
	Ticker        Ticker
	Breakers      []*circuitbreaker.CircuitBreaker
	// VAPIDPublicKey is handed to the dashboard to subscribe for push.
	VAPIDPublicKey string
	Now            func() time.Time
}

// Handler serves the dashboard API and the trigger endpoints.
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handler{deps: deps, logger: logger}
}

// PendingResponse lists the pending set.
type PendingResponse struct {
	Reminders []reminder.Reminder `json:"reminders"`
	Count     int                 `json:"count"`
}

// ListPending handles GET /v1/reminders/pending
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.deps.Pending.GetPending(r.Context())
	if err != nil {
		h.storeError(w, "get pending", err)
		return
	}
	writeJSON(w, http.StatusOK, PendingResponse{Reminders: pending, Count: len(pending)})
}

// ClearPending handles DELETE /v1/reminders/pending
func (h *Handler) ClearPending(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Pending.ClearPending(r.Context()); err != nil {
		h.storeError(w, "clear pending", err)
		return
	}
	h.logger.Info("pending set cleared from dashboard")
	w.WriteHeader(http.StatusNoContent)
}

// ConfirmReminder handles POST /v1/reminders/{id}/confirm
func (h *Handler) ConfirmReminder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.writeResult(w, h.deps.Confirm.ConfirmByID(r.Context(), id))
}

// ConfirmEarlyRequest names the slot being taken ahead of time.
type ConfirmEarlyRequest struct {
	Slot medication.Slot `json:"slot"`
}

// ConfirmEarly handles POST /v1/medications/{id}/confirm-early
func (h *Handler) ConfirmEarly(w http.ResponseWriter, r *http.Request) {
	var req ConfirmEarlyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Slot == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Missing slot", "slot is required")
		return
	}
	h.writeResult(w, h.deps.Confirm.ConfirmEarly(r.Context(), chi.URLParam(r, "id"), req.Slot))
}

// writeResult maps a confirmation outcome to a status code. Misses are
// reported with the result body so the dashboard can explain them.
func (h *Handler) writeResult(w http.ResponseWriter, res confirm.Result) {
	status := http.StatusOK
	switch res.Reason {
	case "":
	case confirm.ReasonNotFound, confirm.ReasonNothingPending, confirm.ReasonUnknownMed:
		status = http.StatusNotFound
	case confirm.ReasonUnknownSlot:
		status = http.StatusBadRequest
	case confirm.ReasonStoreUnavailable:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
	}

	if !res.Confirmed && res.Reason == confirm.ReasonNotFound {
		writeJSON(w, status, struct {
			confirm.Result
			Message string `json:"message"`
		}{res, "Already handled or unknown reminder."})
		return
	}
	writeJSON(w, status, res)
}

// MedicationView is a catalog entry with its effective schedule for today.
type MedicationView struct {
	medication.Medication
	Overridden    bool              `json:"overridden"`
	DueSlotsToday []medication.Slot `json:"due_slots_today"`
}

// MedicationsResponse lists the catalog.
type MedicationsResponse struct {
	Date        string           `json:"date"`
	DayNumber   int              `json:"day_number"`
	Medications []MedicationView `json:"medications"`
}

// ListMedications handles GET /v1/medications
func (h *Handler) ListMedications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res := h.deps.Resolver
	today := res.LocalDate(h.deps.Now())

	views := make([]MedicationView, 0, len(res.Catalog().Medications))
	for _, med := range res.Catalog().Medications {
		eff, overridden := res.Resolve(ctx, med)
		due := res.SlotsOn(eff, today)
		if due == nil {
			due = []medication.Slot{}
		}
		views = append(views, MedicationView{
			Medication:    eff,
			Overridden:    overridden,
			DueSlotsToday: due,
		})
	}

	writeJSON(w, http.StatusOK, MedicationsResponse{
		Date:        today.String(),
		DayNumber:   res.DayNumber(today),
		Medications: views,
	})
}

// HistoryResponse lists a day's confirmations.
type HistoryResponse struct {
	Date          string                     `json:"date"`
	Confirmations []store.ConfirmationRecord `json:"confirmations"`
}

// ListConfirmations handles GET /v1/confirmations?date=YYYY-MM-DD. The date
// defaults to today.
func (h *Handler) ListConfirmations(w http.ResponseWriter, r *http.Request) {
	date := h.deps.Resolver.LocalDate(h.deps.Now())
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := medication.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid date", "date must be YYYY-MM-DD")
			return
		}
		date = d
	}

	history, err := h.deps.Pending.GetConfirmationHistory(r.Context(), date)
	if err != nil {
		h.storeError(w, "get confirmation history", err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Date: date.String(), Confirmations: history})
}

// DedupePending handles POST /v1/pending/dedupe
func (h *Handler) DedupePending(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Pending.DedupePending(r.Context())
	if err != nil {
		h.storeError(w, "dedupe pending", err)
		return
	}
	h.logger.Info("pending set deduplicated",
		zap.Int("before", res.Before),
		zap.Int("after", res.After),
	)
	writeJSON(w, http.StatusOK, res)
}

// ListOverrides handles GET /v1/overrides
func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.deps.Overrides.ListOverrides(r.Context())
	if err != nil {
		h.storeError(w, "list overrides", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"overrides": overrides})
}

// GetOverride handles GET /v1/overrides/{id}
func (h *Handler) GetOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	o, err := h.deps.Overrides.GetOverride(r.Context(), id)
	if err != nil {
		h.storeError(w, "get override", err)
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "not_found", "Override not found", "medication "+id+" uses its catalog schedule")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// PutOverride handles PUT /v1/overrides/{id}. The override replaces any
// existing one for the medication.
func (h *Handler) PutOverride(w http.ResponseWriter, r *http.Request) {
	var o medication.Override
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	o.MedicationID = chi.URLParam(r, "id")
	o.UpdatedAt = h.deps.Now().UTC()

	if err := h.deps.Resolver.Catalog().ValidateOverride(o); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_override", "Invalid override", err.Error())
		return
	}

	if err := h.deps.Overrides.PutOverride(r.Context(), o); err != nil {
		h.storeError(w, "put override", err)
		return
	}
	h.deps.Resolver.Overrides().Invalidate(o.MedicationID)

	h.logger.Info("schedule override updated", zap.String("medication_id", o.MedicationID))
	writeJSON(w, http.StatusOK, o)
}

// DeleteOverride handles DELETE /v1/overrides/{id}
func (h *Handler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Overrides.DeleteOverride(r.Context(), id); err != nil {
		h.storeError(w, "delete override", err)
		return
	}
	h.deps.Resolver.Overrides().Invalidate(id)

	h.logger.Info("schedule override removed", zap.String("medication_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// SubscriptionRequest is the browser's PushSubscription JSON.
type SubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// SaveSubscription handles POST /v1/push/subscriptions
func (h *Handler) SaveSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "endpoint, keys.p256dh and keys.auth are required")
		return
	}

	sub := store.PushSubscription{
		Endpoint:  req.Endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		CreatedAt: h.deps.Now().UTC(),
	}
	if err := h.deps.Subscriptions.SaveSubscription(r.Context(), sub); err != nil {
		h.storeError(w, "save subscription", err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// DeleteSubscription handles DELETE /v1/push/subscriptions
func (h *Handler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Missing endpoint", "endpoint is required")
		return
	}
	if err := h.deps.Subscriptions.DeleteSubscription(r.Context(), req.Endpoint); err != nil {
		h.storeError(w, "delete subscription", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PushKey handles GET /v1/push/key
func (h *Handler) PushKey(w http.ResponseWriter, r *http.Request) {
	if h.deps.VAPIDPublicKey == "" {
		writeError(w, http.StatusNotFound, "not_configured", "Web push disabled", "no VAPID key pair is configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.deps.VAPIDPublicKey})
}

// Tick handles POST /v1/trigger and GET|POST /cron/tick
func (h *Handler) Tick(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Ticker.Tick(r.Context())
	if err != nil {
		h.logger.Error("tick failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, struct {
			trigger.Result
			Error string `json:"error"`
		}{res, err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ChannelStatus handles GET /v1/channels
func (h *Handler) ChannelStatus(w http.ResponseWriter, r *http.Request) {
	stats := make([]circuitbreaker.Stats, 0, len(h.deps.Breakers))
	for _, b := range h.deps.Breakers {
		stats = append(stats, b.Stats())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"channels": stats})
}

func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("store operation failed", zap.String("operation", op), zap.Error(err))
	if errors.Is(err, store.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Store unavailable", "the reminder store is temporarily unreachable")
		return
	}
	writeError(w, http.StatusInternalServerError, "store_error", "Failed to "+op, "")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
