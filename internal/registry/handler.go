// internal/registry/handler.go
package registry

import (
	"encoding/json"
	"errors"
	"net/http"

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

// Routes mounts the registry endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/businesses", h.HandleRegisterBusiness)
	r.Get("/businesses/{businessID}", h.HandleGetBusiness)
	r.Post("/businesses/{businessID}/owner", h.HandleCheckOwner)
	r.Put("/businesses/{businessID}/notifications", h.HandleUpdateNotifications)
	r.Post("/businesses/{businessID}/customers", h.HandleEnrollCustomer)
	r.Get("/businesses/{businessID}/customers", h.HandleFindCustomer)
	r.Get("/businesses/{businessID}/customers/{customerID}", h.HandleGetCustomer)
	r.Post("/login", h.HandleLogin)
}

func (h *Handler) HandleRegisterBusiness(w http.ResponseWriter, r *http.Request) {
	var req RegisterBusinessInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	business, err := h.service.RegisterBusiness(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, NewOwnerView(business))
}

func (h *Handler) HandleGetBusiness(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "businessID")
	if !ok {
		return
	}

	business, err := h.service.GetBusiness(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, business)
}

// HandleCheckOwner answers 204 when the posted actor owns the business and
// 403 otherwise. The owner id itself is never echoed.
func (h *Handler) HandleCheckOwner(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "businessID")
	if !ok {
		return
	}

	var req struct {
		ActorID uuid.UUID `json:"actorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	owner, err := h.service.IsOwner(r.Context(), id, req.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !owner {
		writeError(w, ErrNotOwner)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleUpdateNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "businessID")
	if !ok {
		return
	}

	var req struct {
		OwnerID       uuid.UUID            `json:"ownerId"`
		Notifications []notify.Destination `json:"notifications"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	business, err := h.service.UpdateNotifications(r.Context(), id, req.OwnerID, req.Notifications)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, business)
}

func (h *Handler) HandleEnrollCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "businessID")
	if !ok {
		return
	}

	var req EnrollCustomerInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	customer, err := h.service.EnrollCustomer(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, customer)
}

func (h *Handler) HandleFindCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "businessID")
	if !ok {
		return
	}

	email := r.URL.Query().Get("email")
	if email == "" {
		http.Error(w, "missing email", http.StatusBadRequest)
		return
	}

	customer, err := h.service.GetCustomerByEmail(r.Context(), id, email)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, customer)
}

func (h *Handler) HandleGetCustomer(w http.ResponseWriter, r *http.Request) {
	businessID, ok := pathUUID(w, r, "businessID")
	if !ok {
		return
	}
	customerID, ok := pathUUID(w, r, "customerID")
	if !ok {
		return
	}

	customer, err := h.service.GetCustomer(r.Context(), businessID, customerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, customer)
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	business, err := h.service.AuthenticateOwner(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	// Session issuance belongs to the panel's auth layer.
	writeJSON(w, http.StatusOK, NewOwnerView(business))
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
	case errors.Is(err, ErrBusinessNotFound), errors.Is(err, ErrCustomerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, ErrEmailTaken):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		status = http.StatusTooManyRequests
	}
	http.Error(w, err.Error(), status)
}
