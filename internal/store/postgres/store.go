package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"rms/restaurant-service/internal/models"
	"rms/restaurant-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// reservationWindow is the buffer around a reservation time during which the
// table is considered occupied: meal duration plus turnover.
const reservationWindow = 2 * time.Hour

type Store struct {
	pool       *pgxpool.Pool
	sessionTTL time.Duration
}

type Options struct {
	SessionTTL time.Duration
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	ttl := options.SessionTTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Store{pool: pool, sessionTTL: ttl}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) ListAvailableTables(ctx context.Context, at time.Time, partySize int) ([]int, error) {
	return listAvailableTables(ctx, s.pool, at, partySize)
}

func listAvailableTables(ctx context.Context, q querier, at time.Time, partySize int) ([]int, error) {
	rows, err := q.Query(ctx, `
		SELECT table_id FROM tables
		WHERE capacity >= $1
		AND table_id NOT IN (
			SELECT table_id FROM reservations
			WHERE reserved_at BETWEEN $2 AND $3
		)
		ORDER BY table_id
	`, partySize, at.Add(-reservationWindow), at.Add(reservationWindow))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tableIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tableIDs = append(tableIDs, id)
	}
	return tableIDs, rows.Err()
}

// CreateReservation re-checks availability and inserts in the same
// transaction, but holds no lock between the two. Two staff members can both
// see a table as free and both book it; with a small staff that window is
// accepted in exchange for not blocking readers. Callers must not treat the
// availability check as a guarantee.
func (s *Store) CreateReservation(ctx context.Context, input store.CreateReservationInput) (models.Reservation, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Reservation{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	available, err := listAvailableTables(ctx, tx, input.ReservedAt, input.PartySize)
	if err != nil {
		return models.Reservation{}, err
	}
	if !containsInt(available, input.TableID) {
		err = store.ErrTableUnavailable
		return models.Reservation{}, err
	}

	reservation := models.Reservation{
		TableID:    input.TableID,
		ReservedAt: input.ReservedAt,
		PartySize:  input.PartySize,
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO reservations (table_id, reserved_at, party_size, billed_amount)
		VALUES ($1, $2, $3, 0)
		RETURNING reservation_id
	`, input.TableID, input.ReservedAt, input.PartySize)
	if err = row.Scan(&reservation.ReservationID); err != nil {
		return models.Reservation{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "reservation.created", reservation); err != nil {
		return models.Reservation{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Reservation{}, err
	}
	return reservation, nil
}

func (s *Store) GetReservation(ctx context.Context, reservationID int64) (models.Reservation, []models.OrderLine, error) {
	var reservation models.Reservation
	row := s.pool.QueryRow(ctx, `
		SELECT reservation_id, table_id, reserved_at, party_size, billed_amount
		FROM reservations
		WHERE reservation_id = $1
	`, reservationID)
	if err := row.Scan(&reservation.ReservationID, &reservation.TableID, &reservation.ReservedAt, &reservation.PartySize, &reservation.BilledAmount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Reservation{}, nil, store.ErrReservationNotFound
		}
		return models.Reservation{}, nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT reservation_id, dish_id, quantity
		FROM order_lines
		WHERE reservation_id = $1
		ORDER BY dish_id
	`, reservationID)
	if err != nil {
		return models.Reservation{}, nil, err
	}
	defer rows.Close()

	var lines []models.OrderLine
	for rows.Next() {
		var line models.OrderLine
		if err := rows.Scan(&line.ReservationID, &line.DishID, &line.Quantity); err != nil {
			return models.Reservation{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return models.Reservation{}, nil, err
	}
	return reservation, lines, nil
}

func (s *Store) ListDishes(ctx context.Context) ([]models.Dish, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT dish_id, name, category, unit_price, available_quantity
		FROM dishes
		WHERE available_quantity > 0
		ORDER BY dish_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dishes []models.Dish
	for rows.Next() {
		var dish models.Dish
		if err := rows.Scan(&dish.DishID, &dish.Name, &dish.Category, &dish.UnitPrice, &dish.AvailableQuantity); err != nil {
			return nil, err
		}
		dishes = append(dishes, dish)
	}
	return dishes, rows.Err()
}

// PlaceOrder serializes concurrent orders for the same dish through a row
// lock on the dish. An order line has no key of its own beyond the
// (reservation, dish) pair being written, so conflict detection after the
// fact is not possible; without the lock two orders could both pass the
// inventory check and drive the quantity negative.
func (s *Store) PlaceOrder(ctx context.Context, input store.PlaceOrderInput) (models.OrderLine, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.OrderLine{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var billedAmount float64
	row := tx.QueryRow(ctx, `
		SELECT billed_amount FROM reservations WHERE reservation_id = $1
	`, input.ReservationID)
	if err = row.Scan(&billedAmount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrReservationNotFound
		}
		return models.OrderLine{}, err
	}
	if billedAmount != 0 {
		err = store.ErrReservationClosed
		return models.OrderLine{}, err
	}

	// Blocks until any in-flight order or billing for this dish releases it.
	var availableQuantity int
	row = tx.QueryRow(ctx, `
		SELECT available_quantity FROM dishes WHERE dish_id = $1 FOR UPDATE
	`, input.DishID)
	if err = row.Scan(&availableQuantity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrDishNotFound
		}
		return models.OrderLine{}, err
	}
	if availableQuantity < input.Quantity {
		err = store.ErrInsufficientInventory
		return models.OrderLine{}, err
	}

	// Repeat orders of the same dish accumulate into the existing line.
	line := models.OrderLine{ReservationID: input.ReservationID, DishID: input.DishID}
	row = tx.QueryRow(ctx, `
		INSERT INTO order_lines (reservation_id, dish_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (reservation_id, dish_id)
		DO UPDATE SET quantity = order_lines.quantity + EXCLUDED.quantity
		RETURNING quantity
	`, input.ReservationID, input.DishID, input.Quantity)
	if err = row.Scan(&line.Quantity); err != nil {
		return models.OrderLine{}, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE dishes SET available_quantity = available_quantity - $1 WHERE dish_id = $2
	`, input.Quantity, input.DishID); err != nil {
		return models.OrderLine{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "order.placed", map[string]any{
		"reservation_id": input.ReservationID,
		"dish_id":        input.DishID,
		"quantity":       input.Quantity,
		"line_quantity":  line.Quantity,
	}); err != nil {
		return models.OrderLine{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.OrderLine{}, err
	}
	return line, nil
}

func (s *Store) ListAssignments(ctx context.Context) ([]models.Assignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT table_id, assigned_at, server_id FROM assignments ORDER BY table_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []models.Assignment
	for rows.Next() {
		var assignment models.Assignment
		if err := rows.Scan(&assignment.TableID, &assignment.AssignedAt, &assignment.ServerID); err != nil {
			return nil, err
		}
		assignments = append(assignments, assignment)
	}
	return assignments, rows.Err()
}

// AssignServer is a check-then-write with no lock in between: a concurrent
// manager's assignment for the same table simply overwrites this one, last
// committed write wins. Managers are assumed to be even fewer than servers.
func (s *Store) AssignServer(ctx context.Context, input store.AssignServerInput) (models.Assignment, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Assignment{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = ensureExists(ctx, tx, `SELECT 1 FROM servers WHERE server_id = $1`, input.ServerID, store.ErrStaffNotFound); err != nil {
		return models.Assignment{}, err
	}
	if err = ensureExists(ctx, tx, `SELECT 1 FROM tables WHERE table_id = $1`, input.TableID, store.ErrTableNotFound); err != nil {
		return models.Assignment{}, err
	}

	assignedAt := input.AssignedAt
	if assignedAt.IsZero() {
		assignedAt = time.Now().UTC()
	}

	var existing int
	row := tx.QueryRow(ctx, `SELECT table_id FROM assignments WHERE table_id = $1`, input.TableID)
	switch err = row.Scan(&existing); {
	case err == nil:
		_, err = tx.Exec(ctx, `
			UPDATE assignments SET server_id = $1, assigned_at = $2 WHERE table_id = $3
		`, input.ServerID, assignedAt, input.TableID)
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx, `
			INSERT INTO assignments (table_id, assigned_at, server_id) VALUES ($1, $2, $3)
		`, input.TableID, assignedAt, input.ServerID)
	}
	if err != nil {
		return models.Assignment{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Assignment{}, err
	}
	return models.Assignment{TableID: input.TableID, AssignedAt: assignedAt, ServerID: input.ServerID}, nil
}

// FinalizeBill takes an exclusive lock on the whole order_lines table before
// aggregating: the sum cannot be scoped to one reservation's rows with a
// filtered row lock, so while billing runs no order placement can commit for
// any reservation. The reservation row lock keeps a second billing attempt
// (or any other reservation-row write) out until commit.
func (s *Store) FinalizeBill(ctx context.Context, reservationID int64) (models.Reservation, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Reservation{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `LOCK TABLE order_lines IN EXCLUSIVE MODE`); err != nil {
		return models.Reservation{}, err
	}

	var reservation models.Reservation
	row := tx.QueryRow(ctx, `
		SELECT reservation_id, table_id, reserved_at, party_size, billed_amount
		FROM reservations
		WHERE reservation_id = $1
		FOR UPDATE
	`, reservationID)
	if err = row.Scan(&reservation.ReservationID, &reservation.TableID, &reservation.ReservedAt, &reservation.PartySize, &reservation.BilledAmount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrReservationNotFound
		}
		return models.Reservation{}, err
	}
	if reservation.BilledAmount != 0 {
		// Already finalized. The amount is immutable; a repeat call is
		// reported distinctly but changes nothing.
		err = store.ErrAlreadyBilled
		return models.Reservation{}, err
	}

	var total float64
	row = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(d.unit_price * ol.quantity), 0)
		FROM order_lines ol
		JOIN dishes d ON d.dish_id = ol.dish_id
		WHERE ol.reservation_id = $1
	`, reservationID)
	if err = row.Scan(&total); err != nil {
		return models.Reservation{}, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE reservations SET billed_amount = $1 WHERE reservation_id = $2
	`, total, reservationID); err != nil {
		return models.Reservation{}, err
	}
	reservation.BilledAmount = total

	if err = insertOutboxEvent(ctx, tx, "bill.finalized", reservation); err != nil {
		return models.Reservation{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Reservation{}, err
	}
	return reservation, nil
}

func (s *Store) Login(ctx context.Context, input store.LoginInput) (store.LoginResult, error) {
	var staff models.Staff
	var passwordHash string
	row := s.pool.QueryRow(ctx, `
		SELECT server_id, email, password_hash, name, role
		FROM servers
		WHERE lower(email) = lower($1)
	`, input.Email)
	if err := row.Scan(&staff.ServerID, &staff.Email, &passwordHash, &staff.Name, &staff.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.LoginResult{}, store.ErrInvalidCredentials
		}
		return store.LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(input.Password)); err != nil {
		return store.LoginResult{}, store.ErrInvalidCredentials
	}

	session := models.Session{
		SessionID: uuid.NewString(),
		ServerID:  staff.ServerID,
		ExpiresAt: time.Now().UTC().Add(s.sessionTTL),
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, server_id, expires_at) VALUES ($1, $2, $3)
	`, session.SessionID, session.ServerID, session.ExpiresAt); err != nil {
		return store.LoginResult{}, err
	}

	return store.LoginResult{Staff: staff, Session: session}, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.pool.QueryRow(ctx, `
		SELECT se.session_id, se.server_id, sv.name, sv.role, se.expires_at
		FROM sessions se
		JOIN servers sv ON sv.server_id = se.server_id
		WHERE se.session_id = $1 AND se.expires_at > now()
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.ServerID, &session.Name, &session.Role, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	return session, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, payload_json, created_at
		FROM outbox_events
		WHERE created_at > $1
		ORDER BY created_at ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, now())
	`, uuid.NewString(), eventType, body)
	return err
}

func ensureExists(ctx context.Context, tx pgx.Tx, query string, id int, notFound error) error {
	var one int
	if err := tx.QueryRow(ctx, query, id).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound
		}
		return err
	}
	return nil
}

func containsInt(values []int, value int) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}
