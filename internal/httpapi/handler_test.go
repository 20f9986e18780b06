package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rms/restaurant-service/internal/models"
	"rms/restaurant-service/internal/store"
)

type fakeStore struct {
	availabilityFn func(ctx context.Context, at time.Time, partySize int) ([]int, error)
	createFn       func(ctx context.Context, input store.CreateReservationInput) (models.Reservation, error)
	getFn          func(ctx context.Context, reservationID int64) (models.Reservation, []models.OrderLine, error)
	dishesFn       func(ctx context.Context) ([]models.Dish, error)
	orderFn        func(ctx context.Context, input store.PlaceOrderInput) (models.OrderLine, error)
	assignmentsFn  func(ctx context.Context) ([]models.Assignment, error)
	assignFn       func(ctx context.Context, input store.AssignServerInput) (models.Assignment, error)
	billFn         func(ctx context.Context, reservationID int64) (models.Reservation, error)
	loginFn        func(ctx context.Context, input store.LoginInput) (store.LoginResult, error)
	sessionFn      func(ctx context.Context, sessionID string) (store.Session, error)
	outboxFn       func(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error)
}

func (f fakeStore) ListAvailableTables(ctx context.Context, at time.Time, partySize int) ([]int, error) {
	if f.availabilityFn == nil {
		return nil, nil
	}
	return f.availabilityFn(ctx, at, partySize)
}

func (f fakeStore) CreateReservation(ctx context.Context, input store.CreateReservationInput) (models.Reservation, error) {
	if f.createFn == nil {
		return models.Reservation{}, nil
	}
	return f.createFn(ctx, input)
}

func (f fakeStore) GetReservation(ctx context.Context, reservationID int64) (models.Reservation, []models.OrderLine, error) {
	if f.getFn == nil {
		return models.Reservation{}, nil, store.ErrReservationNotFound
	}
	return f.getFn(ctx, reservationID)
}

func (f fakeStore) ListDishes(ctx context.Context) ([]models.Dish, error) {
	if f.dishesFn == nil {
		return nil, nil
	}
	return f.dishesFn(ctx)
}

func (f fakeStore) PlaceOrder(ctx context.Context, input store.PlaceOrderInput) (models.OrderLine, error) {
	if f.orderFn == nil {
		return models.OrderLine{}, nil
	}
	return f.orderFn(ctx, input)
}

func (f fakeStore) ListAssignments(ctx context.Context) ([]models.Assignment, error) {
	if f.assignmentsFn == nil {
		return nil, nil
	}
	return f.assignmentsFn(ctx)
}

func (f fakeStore) AssignServer(ctx context.Context, input store.AssignServerInput) (models.Assignment, error) {
	if f.assignFn == nil {
		return models.Assignment{}, nil
	}
	return f.assignFn(ctx, input)
}

func (f fakeStore) FinalizeBill(ctx context.Context, reservationID int64) (models.Reservation, error) {
	if f.billFn == nil {
		return models.Reservation{}, nil
	}
	return f.billFn(ctx, reservationID)
}

func (f fakeStore) Login(ctx context.Context, input store.LoginInput) (store.LoginResult, error) {
	if f.loginFn == nil {
		return store.LoginResult{}, store.ErrInvalidCredentials
	}
	return f.loginFn(ctx, input)
}

func (f fakeStore) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	if f.sessionFn == nil {
		return store.Session{}, store.ErrSessionNotFound
	}
	return f.sessionFn(ctx, sessionID)
}

func (f fakeStore) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if f.outboxFn == nil {
		return nil, nil
	}
	return f.outboxFn(ctx, after, limit)
}

func withRole(st fakeStore, role string) fakeStore {
	st.sessionFn = func(ctx context.Context, sessionID string) (store.Session, error) {
		return store.Session{SessionID: sessionID, ServerID: 1, Name: "Alex", Role: role}, nil
	}
	return st
}

func serve(st fakeStore, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	AuthMiddleware(st, NewHandler(st).Routes()).ServeHTTP(resp, req)
	return resp
}

func authedRequest(method, target string, body []byte) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer session-1")
	return req
}

func TestAvailabilitySuccess(t *testing.T) {
	st := withRole(fakeStore{
		availabilityFn: func(ctx context.Context, at time.Time, partySize int) ([]int, error) {
			if partySize != 4 {
				t.Fatalf("expected party size 4, got %d", partySize)
			}
			return []int{5, 7}, nil
		},
	}, models.RoleServer)

	req := authedRequest(http.MethodGet, "/api/tables/available?at=2024-06-01T19:00:00Z&party_size=4", nil)
	resp := serve(st, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var payload availabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.TableIDs) != 2 || payload.TableIDs[0] != 5 {
		t.Fatalf("unexpected tables: %+v", payload.TableIDs)
	}
}

func TestAvailabilityMalformedTimestamp(t *testing.T) {
	st := withRole(fakeStore{
		availabilityFn: func(ctx context.Context, at time.Time, partySize int) ([]int, error) {
			t.Fatalf("store must not be called on validation failure")
			return nil, nil
		},
	}, models.RoleServer)

	req := authedRequest(http.MethodGet, "/api/tables/available?at=yesterday&party_size=4", nil)
	resp := serve(st, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCreateReservationSuccess(t *testing.T) {
	st := withRole(fakeStore{
		createFn: func(ctx context.Context, input store.CreateReservationInput) (models.Reservation, error) {
			return models.Reservation{
				ReservationID: 1,
				TableID:       input.TableID,
				ReservedAt:    input.ReservedAt,
				PartySize:     input.PartySize,
			}, nil
		},
	}, models.RoleServer)

	body, _ := json.Marshal(map[string]any{
		"table_id":    5,
		"reserved_at": "2024-06-01T19:00:00Z",
		"party_size":  4,
	})
	resp := serve(st, authedRequest(http.MethodPost, "/api/reservations", body))

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}
	var reservation models.Reservation
	if err := json.NewDecoder(resp.Body).Decode(&reservation); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if reservation.ReservationID != 1 || reservation.BilledAmount != 0 {
		t.Fatalf("unexpected reservation: %+v", reservation)
	}
}

func TestCreateReservationUnavailable(t *testing.T) {
	st := withRole(fakeStore{
		createFn: func(ctx context.Context, input store.CreateReservationInput) (models.Reservation, error) {
			return models.Reservation{}, store.ErrTableUnavailable
		},
	}, models.RoleServer)

	body, _ := json.Marshal(map[string]any{
		"table_id":    5,
		"reserved_at": "2024-06-01T19:00:00Z",
		"party_size":  4,
	})
	resp := serve(st, authedRequest(http.MethodPost, "/api/reservations", body))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "table_unavailable" {
		t.Fatalf("unexpected error code %q", payload.Error.Code)
	}
}

func TestPlaceOrderInsufficientInventory(t *testing.T) {
	st := withRole(fakeStore{
		orderFn: func(ctx context.Context, input store.PlaceOrderInput) (models.OrderLine, error) {
			return models.OrderLine{}, store.ErrInsufficientInventory
		},
	}, models.RoleServer)

	body, _ := json.Marshal(map[string]any{"reservation_id": 1, "dish_id": 10, "quantity": 3})
	resp := serve(st, authedRequest(http.MethodPost, "/api/orders", body))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestPlaceOrderClosedReservation(t *testing.T) {
	st := withRole(fakeStore{
		orderFn: func(ctx context.Context, input store.PlaceOrderInput) (models.OrderLine, error) {
			return models.OrderLine{}, store.ErrReservationClosed
		},
	}, models.RoleServer)

	body, _ := json.Marshal(map[string]any{"reservation_id": 1, "dish_id": 10, "quantity": 1})
	resp := serve(st, authedRequest(http.MethodPost, "/api/orders", body))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "reservation_closed" {
		t.Fatalf("unexpected error code %q", payload.Error.Code)
	}
}

func TestPlaceOrderNegativeQuantity(t *testing.T) {
	st := withRole(fakeStore{
		orderFn: func(ctx context.Context, input store.PlaceOrderInput) (models.OrderLine, error) {
			t.Fatalf("store must not be called on validation failure")
			return models.OrderLine{}, nil
		},
	}, models.RoleServer)

	body, _ := json.Marshal(map[string]any{"reservation_id": 1, "dish_id": 10, "quantity": -2})
	resp := serve(st, authedRequest(http.MethodPost, "/api/orders", body))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestBillingRequiresManager(t *testing.T) {
	st := withRole(fakeStore{
		billFn: func(ctx context.Context, reservationID int64) (models.Reservation, error) {
			t.Fatalf("store must not be called without the capability")
			return models.Reservation{}, nil
		},
	}, models.RoleServer)

	resp := serve(st, authedRequest(http.MethodPost, "/api/reservations/1/bill", []byte("{}")))

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestBillingAlreadyBilled(t *testing.T) {
	st := withRole(fakeStore{
		billFn: func(ctx context.Context, reservationID int64) (models.Reservation, error) {
			return models.Reservation{}, store.ErrAlreadyBilled
		},
	}, models.RoleManager)

	resp := serve(st, authedRequest(http.MethodPost, "/api/reservations/1/bill", []byte("{}")))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "already_billed" {
		t.Fatalf("unexpected error code %q", payload.Error.Code)
	}
}

func TestBillingSuccess(t *testing.T) {
	st := withRole(fakeStore{
		billFn: func(ctx context.Context, reservationID int64) (models.Reservation, error) {
			return models.Reservation{ReservationID: reservationID, TableID: 5, PartySize: 4, BilledAmount: 37.50}, nil
		},
	}, models.RoleManager)

	resp := serve(st, authedRequest(http.MethodPost, "/api/reservations/1/bill", []byte("{}")))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var reservation models.Reservation
	if err := json.NewDecoder(resp.Body).Decode(&reservation); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if reservation.BilledAmount != 37.50 {
		t.Fatalf("expected billed amount 37.50, got %v", reservation.BilledAmount)
	}
}

func TestAssignmentsRequireManager(t *testing.T) {
	st := withRole(fakeStore{}, models.RoleServer)

	resp := serve(st, authedRequest(http.MethodGet, "/api/assignments", nil))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 on list, got %d", resp.Code)
	}

	body, _ := json.Marshal(map[string]any{"table_id": 5, "server_id": 2})
	resp = serve(st, authedRequest(http.MethodPut, "/api/assignments", body))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 on assign, got %d", resp.Code)
	}
}

func TestAssignServerSuccess(t *testing.T) {
	st := withRole(fakeStore{
		assignFn: func(ctx context.Context, input store.AssignServerInput) (models.Assignment, error) {
			return models.Assignment{TableID: input.TableID, ServerID: input.ServerID, AssignedAt: time.Now().UTC()}, nil
		},
	}, models.RoleManager)

	body, _ := json.Marshal(map[string]any{"table_id": 5, "server_id": 2})
	resp := serve(st, authedRequest(http.MethodPut, "/api/assignments", body))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestMissingSession(t *testing.T) {
	st := fakeStore{}

	req := httptest.NewRequest(http.MethodGet, "/api/dishes", nil)
	resp := serve(st, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestLoginSuccess(t *testing.T) {
	st := fakeStore{
		loginFn: func(ctx context.Context, input store.LoginInput) (store.LoginResult, error) {
			return store.LoginResult{
				Staff:   models.Staff{ServerID: 1, Email: input.Email, Name: "Alex", Role: models.RoleManager},
				Session: models.Session{SessionID: "sess-1", ServerID: 1, ExpiresAt: time.Now().UTC().Add(time.Hour)},
			}, nil
		},
	}

	body, _ := json.Marshal(map[string]string{"email": "alex@example.com", "password": "secret"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	resp := serve(st, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var payload loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.SessionID != "sess-1" || payload.Staff.Role != models.RoleManager {
		t.Fatalf("unexpected login response: %+v", payload)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	st := fakeStore{
		loginFn: func(ctx context.Context, input store.LoginInput) (store.LoginResult, error) {
			return store.LoginResult{}, store.ErrInvalidCredentials
		},
	}

	body, _ := json.Marshal(map[string]string{"email": "alex@example.com", "password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	resp := serve(st, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestStoreFailureIsGeneric(t *testing.T) {
	st := withRole(fakeStore{
		dishesFn: func(ctx context.Context) ([]models.Dish, error) {
			return nil, context.DeadlineExceeded
		},
	}, models.RoleServer)

	resp := serve(st, authedRequest(http.MethodGet, "/api/dishes", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", resp.Code)
	}
	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Message != "internal server error" {
		t.Fatalf("store error text must not leak, got %q", payload.Error.Message)
	}
}
