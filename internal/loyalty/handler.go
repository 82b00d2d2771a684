// internal/loyalty/handler.go
package loyalty

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"loyalnexus/internal/notify"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the engine endpoints used by the administration panel.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/scan", h.HandleScan)
	r.Post("/redeem", h.HandleRedeem)
	r.Get("/customer-status", h.HandleCustomerStatus)
	r.Get("/businesses/{businessID}/rewards", h.HandleListRewards)
	r.Get("/businesses/{businessID}/alerts", h.HandleListAlerts)
	r.Post("/businesses/{businessID}/alerts/{alertID}/ack", h.HandleAcknowledgeAlert)
}

func (h *Handler) HandleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.SubmitScan(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BusinessID   uuid.UUID `json:"businessId"`
		RewardID     uuid.UUID `json:"rewardId"`
		OwnerActorID uuid.UUID `json:"ownerActorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.Redeem(r.Context(), req.BusinessID, req.RewardID, req.OwnerActorID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleCustomerStatus(w http.ResponseWriter, r *http.Request) {
	businessID, err := uuid.Parse(r.URL.Query().Get("businessId"))
	if err != nil {
		http.Error(w, "invalid businessId", http.StatusBadRequest)
		return
	}
	customerID, err := uuid.Parse(r.URL.Query().Get("customerId"))
	if err != nil {
		http.Error(w, "invalid customerId", http.StatusBadRequest)
		return
	}

	status, err := h.service.CustomerStatus(r.Context(), businessID, customerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleListRewards(w http.ResponseWriter, r *http.Request) {
	businessID, ok := pathUUID(w, r, "businessID")
	if !ok {
		return
	}

	var state RewardState
	if raw := r.URL.Query().Get("state"); raw != "" {
		parsed, err := ParseRewardState(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		state = parsed
	}

	rewards, err := h.service.ListRewards(r.Context(), businessID, state)
	if err != nil {
		writeError(w, err)
		return
	}
	if rewards == nil {
		rewards = []Reward{}
	}

	writeJSON(w, http.StatusOK, rewards)
}

func (h *Handler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	businessID, ok := pathUUID(w, r, "businessID")
	if !ok {
		return
	}

	all := false
	if raw := r.URL.Query().Get("all"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "invalid all", http.StatusBadRequest)
			return
		}
		all = parsed
	}

	alerts, err := h.service.ListAlerts(r.Context(), businessID, all)
	if err != nil {
		writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []notify.Alert{}
	}

	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) HandleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	businessID, ok := pathUUID(w, r, "businessID")
	if !ok {
		return
	}
	alertID, ok := pathUUID(w, r, "alertID")
	if !ok {
		return
	}

	if err := h.service.AcknowledgeAlert(r.Context(), businessID, alertID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		http.Error(w, "invalid "+param, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidScan):
		status = http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, ErrTransientIO):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
