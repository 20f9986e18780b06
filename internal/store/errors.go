package store

import "errors"

var (
	ErrTableNotFound         = errors.New("table not found")
	ErrTableUnavailable      = errors.New("table unavailable")
	ErrReservationNotFound   = errors.New("reservation not found")
	ErrReservationClosed     = errors.New("reservation closed")
	ErrDishNotFound          = errors.New("dish not found")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrAlreadyBilled         = errors.New("already billed")
	ErrStaffNotFound         = errors.New("staff member not found")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrSessionNotFound       = errors.New("session not found")
)
