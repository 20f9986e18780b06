package models

import "time"

type Table struct {
	TableID  int `json:"table_id"`
	Capacity int `json:"capacity"`
}

type Reservation struct {
	ReservationID int64     `json:"reservation_id"`
	TableID       int       `json:"table_id"`
	ReservedAt    time.Time `json:"reserved_at"`
	PartySize     int       `json:"party_size"`
	// BilledAmount stays 0 until the bill is finalized, then never changes.
	BilledAmount float64 `json:"billed_amount"`
}

type Dish struct {
	DishID            int     `json:"dish_id"`
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	UnitPrice         float64 `json:"unit_price"`
	AvailableQuantity int     `json:"available_quantity"`
}

type OrderLine struct {
	ReservationID int64 `json:"reservation_id"`
	DishID        int   `json:"dish_id"`
	Quantity      int   `json:"quantity"`
}

type Assignment struct {
	TableID    int       `json:"table_id"`
	AssignedAt time.Time `json:"assigned_at"`
	ServerID   int       `json:"server_id"`
}

type Staff struct {
	ServerID int    `json:"server_id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

const (
	RoleServer  = "server"
	RoleManager = "manager"
)

type Session struct {
	SessionID string    `json:"session_id"`
	ServerID  int       `json:"server_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
