package store

import (
	"context"
	"encoding/json"
	"time"

	"rms/restaurant-service/internal/models"
)

type CreateReservationInput struct {
	TableID    int
	ReservedAt time.Time
	PartySize  int
}

type PlaceOrderInput struct {
	ReservationID int64
	DishID        int
	Quantity      int
}

type AssignServerInput struct {
	TableID    int
	ServerID   int
	AssignedAt time.Time
}

type LoginInput struct {
	Email    string
	Password string
}

type LoginResult struct {
	Staff   models.Staff
	Session models.Session
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Session is the authenticated view the API layer works with: the stored
// session joined with the staff member it belongs to.
type Session struct {
	SessionID string
	ServerID  int
	Name      string
	Role      string
	ExpiresAt time.Time
}

// RestaurantStore is the transactional core. Every mutating operation runs
// inside its own transaction and either commits fully or rolls back fully;
// there is no partial-success state visible to other callers and no
// automatic retry after a conflict.
type RestaurantStore interface {
	ListAvailableTables(ctx context.Context, at time.Time, partySize int) ([]int, error)
	CreateReservation(ctx context.Context, input CreateReservationInput) (models.Reservation, error)
	GetReservation(ctx context.Context, reservationID int64) (models.Reservation, []models.OrderLine, error)
	ListDishes(ctx context.Context) ([]models.Dish, error)
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (models.OrderLine, error)
	ListAssignments(ctx context.Context) ([]models.Assignment, error)
	AssignServer(ctx context.Context, input AssignServerInput) (models.Assignment, error)
	FinalizeBill(ctx context.Context, reservationID int64) (models.Reservation, error)
	Login(ctx context.Context, input LoginInput) (LoginResult, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]OutboxEvent, error)
}
