package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rms/restaurant-service/internal/store"
)

type Handler struct {
	store store.RestaurantStore
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresAt string    `json:"expires_at"`
	Staff     staffInfo `json:"staff"`
}

type staffInfo struct {
	ServerID int    `json:"server_id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type createReservationRequest struct {
	TableID    int    `json:"table_id"`
	ReservedAt string `json:"reserved_at"`
	PartySize  int    `json:"party_size"`
}

type placeOrderRequest struct {
	ReservationID int64 `json:"reservation_id"`
	DishID        int   `json:"dish_id"`
	Quantity      int   `json:"quantity"`
}

type assignServerRequest struct {
	TableID  int `json:"table_id"`
	ServerID int `json:"server_id"`
}

type availabilityResponse struct {
	ReservedAt string `json:"reserved_at"`
	PartySize  int    `json:"party_size"`
	TableIDs   []int  `json:"table_ids"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(store store.RestaurantStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/me", h.handleMe)
	mux.HandleFunc("/api/tables/available", h.handleAvailability)
	mux.HandleFunc("/api/reservations", h.handleReservations)
	mux.HandleFunc("/api/reservations/", h.handleReservationActions)
	mux.HandleFunc("/api/dishes", h.handleDishes)
	mux.HandleFunc("/api/orders", h.handleOrders)
	mux.HandleFunc("/api/assignments", h.handleAssignments)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	result, err := h.store.Login(r.Context(), store.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		if errors.Is(err, store.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		SessionID: result.Session.SessionID,
		ExpiresAt: result.Session.ExpiresAt.Format(time.RFC3339),
		Staff: staffInfo{
			ServerID: result.Staff.ServerID,
			Name:     result.Staff.Name,
			Role:     result.Staff.Role,
		},
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	writeJSON(w, http.StatusOK, staffInfo{
		ServerID: session.ServerID,
		Name:     session.Name,
		Role:     session.Role,
	})
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireCapability(w, r, store.CapQueryAvailability) {
		return
	}

	at, ok := parseTimestamp(w, r.URL.Query().Get("at"))
	if !ok {
		return
	}
	partySize, err := strconv.Atoi(r.URL.Query().Get("party_size"))
	if err != nil || partySize <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "party_size must be a positive integer")
		return
	}

	tableIDs, err := h.store.ListAvailableTables(r.Context(), at, partySize)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if tableIDs == nil {
		tableIDs = []int{}
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		ReservedAt: at.Format(time.RFC3339),
		PartySize:  partySize,
		TableIDs:   tableIDs,
	})
}

func (h *Handler) handleReservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireCapability(w, r, store.CapCreateReservation) {
		return
	}

	var req createReservationRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.TableID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "table_id must be a positive integer")
		return
	}
	if req.PartySize <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "party_size must be a positive integer")
		return
	}
	reservedAt, ok := parseTimestamp(w, req.ReservedAt)
	if !ok {
		return
	}

	reservation, err := h.store.CreateReservation(r.Context(), store.CreateReservationInput{
		TableID:    req.TableID,
		ReservedAt: reservedAt,
		PartySize:  req.PartySize,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, reservation)
}

func (h *Handler) handleReservationActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/reservations/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	reservationID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || reservationID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "reservation id must be a positive integer")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetReservation(w, r, reservationID)
	case len(parts) == 2 && parts[1] == "bill" && r.Method == http.MethodPost:
		h.handleFinalizeBill(w, r, reservationID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetReservation(w http.ResponseWriter, r *http.Request, reservationID int64) {
	if !requireCapability(w, r, store.CapViewReservation) {
		return
	}

	reservation, lines, err := h.store.GetReservation(r.Context(), reservationID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reservation": reservation,
		"order_lines": lines,
	})
}

func (h *Handler) handleFinalizeBill(w http.ResponseWriter, r *http.Request, reservationID int64) {
	if !requireCapability(w, r, store.CapFinalizeBill) {
		return
	}

	reservation, err := h.store.FinalizeBill(r.Context(), reservationID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleDishes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireCapability(w, r, store.CapListDishes) {
		return
	}

	dishes, err := h.store.ListDishes(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, dishes)
}

func (h *Handler) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !requireCapability(w, r, store.CapPlaceOrder) {
		return
	}

	var req placeOrderRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.ReservationID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "reservation_id must be a positive integer")
		return
	}
	if req.DishID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "dish_id must be a positive integer")
		return
	}
	if req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "quantity must be a positive integer")
		return
	}

	line, err := h.store.PlaceOrder(r.Context(), store.PlaceOrderInput{
		ReservationID: req.ReservationID,
		DishID:        req.DishID,
		Quantity:      req.Quantity,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (h *Handler) handleAssignments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireCapability(w, r, store.CapListAssignments) {
			return
		}
		assignments, err := h.store.ListAssignments(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, assignments)
	case http.MethodPut:
		if !requireCapability(w, r, store.CapAssignServer) {
			return
		}
		var req assignServerRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		if req.TableID <= 0 || req.ServerID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "table_id and server_id must be positive integers")
			return
		}
		assignment, err := h.store.AssignServer(r.Context(), store.AssignServerInput{
			TableID:  req.TableID,
			ServerID: req.ServerID,
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, assignment)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func parseTimestamp(w http.ResponseWriter, value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "timestamp is required (RFC 3339)")
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "timestamp must be RFC 3339")
		return time.Time{}, false
	}
	return at.UTC(), true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTableUnavailable):
		return http.StatusConflict, "table_unavailable", "table is not available for that time and party size"
	case errors.Is(err, store.ErrReservationClosed):
		return http.StatusConflict, "reservation_closed", "reservation has been billed and accepts no further orders"
	case errors.Is(err, store.ErrInsufficientInventory):
		return http.StatusConflict, "insufficient_inventory", "not enough of that dish available"
	case errors.Is(err, store.ErrAlreadyBilled):
		return http.StatusConflict, "already_billed", "reservation has already been billed"
	case errors.Is(err, store.ErrReservationNotFound):
		return http.StatusNotFound, "reservation_not_found", "reservation not found"
	case errors.Is(err, store.ErrDishNotFound):
		return http.StatusNotFound, "dish_not_found", "dish not found"
	case errors.Is(err, store.ErrTableNotFound):
		return http.StatusNotFound, "table_not_found", "table not found"
	case errors.Is(err, store.ErrStaffNotFound):
		return http.StatusNotFound, "staff_not_found", "staff member not found"
	default:
		// Store failures are reported generically; the detail stays in the log.
		log.Printf("store error: %v", err)
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
