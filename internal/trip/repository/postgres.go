package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/example/spaceryder/internal/trip/domain"
)

// EventsTopic is the NATS subject trip events are published on.
const EventsTopic = "trip.events"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresRepository stores trips, spaceships and airports in Postgres.
// Trip events are written to the outbox table inside the same transaction as
// the change that produced them.
type PostgresRepository struct {
	db *sql.DB
	q  execer
}

// NewPostgresRepository wraps an open database handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, q: db}
}

const tripColumns = `id, departure_location_code, destination_location_code, departure_at, arrival_at, spaceship_id, status`

func scanTrip(row interface{ Scan(...any) error }) (domain.Trip, error) {
	var (
		t      domain.Trip
		status string
	)
	if err := row.Scan(&t.ID, &t.DepartureLocationCode, &t.DestinationLocationCode, &t.DepartureAt, &t.ArrivalAt, &t.SpaceshipID, &status); err != nil {
		return domain.Trip{}, err
	}
	t.Status = domain.TripStatus(status)
	t.DepartureAt = t.DepartureAt.UTC()
	t.ArrivalAt = t.ArrivalAt.UTC()
	return t, nil
}

func (p *PostgresRepository) CreateTrip(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	_, err := p.q.ExecContext(ctx, `INSERT INTO trips (`+tripColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		trip.ID, trip.DepartureLocationCode, trip.DestinationLocationCode, trip.DepartureAt, trip.ArrivalAt, trip.SpaceshipID, string(trip.Status))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("insert trip: %w", err)
	}
	return trip, nil
}

// TransitionTrip is a compare-and-set on the trip status. Two transitions
// racing on one trip serialise on the row lock and the loser matches no row.
func (p *PostgresRepository) TransitionTrip(ctx context.Context, id uuid.UUID, from, to domain.TripStatus) (domain.Trip, error) {
	trip, err := scanTrip(p.q.QueryRowContext(ctx,
		`UPDATE trips SET status = $3, updated_at = now() WHERE id = $1 AND status = $2 RETURNING `+tripColumns,
		id, string(from), string(to)))
	if err == nil {
		return trip, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Trip{}, fmt.Errorf("update trip status: %w", err)
	}
	current, err := p.GetTripByID(ctx, id)
	if err != nil {
		return domain.Trip{}, err
	}
	return domain.Trip{}, fmt.Errorf("%w: trip %s is %s, not %s", domain.ErrInvalidTransition, id, current.Status, from)
}

func (p *PostgresRepository) GetTripByID(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	trip, err := scanTrip(p.q.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trip{}, domain.ErrTripNotFound
	}
	if err != nil {
		return domain.Trip{}, fmt.Errorf("select trip: %w", err)
	}
	return trip, nil
}

func (p *PostgresRepository) PageTrips(ctx context.Context, q domain.TripQuery) ([]domain.Trip, int, error) {
	var (
		where []string
		args  []any
	)
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if q.DepartureLocationCode != "" {
		args = append(args, q.DepartureLocationCode)
		where = append(where, fmt.Sprintf("departure_location_code = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := p.q.QueryRowContext(ctx, `SELECT count(*) FROM trips`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count trips: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = domain.MaxLimit
	}
	args = append(args, limit, q.Offset)
	query := fmt.Sprintf(`SELECT %s FROM trips%s ORDER BY departure_at DESC, id LIMIT $%d OFFSET $%d`, tripColumns, clause, len(args)-1, len(args))
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select trips: %w", err)
	}
	defer rows.Close()
	trips := []domain.Trip{}
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, trip)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate trips: %w", err)
	}
	return trips, total, nil
}

// CreateTripEvent writes the event to the outbox table.
func (p *PostgresRepository) CreateTripEvent(ctx context.Context, event domain.TripEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.q.ExecContext(ctx, `INSERT INTO outbox (topic, trip_id, event_type, payload) VALUES ($1, $2, $3, $4)`,
		EventsTopic, event.TripID, string(event.Type), payload); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

func (p *PostgresRepository) FindByLocation(ctx context.Context, code string) ([]domain.Spaceship, error) {
	rows, err := p.q.QueryContext(ctx, `SELECT id, code, name, location_code FROM spaceships WHERE location_code = $1 ORDER BY seq`, code)
	if err != nil {
		return nil, fmt.Errorf("select spaceships: %w", err)
	}
	defer rows.Close()
	var ships []domain.Spaceship
	for rows.Next() {
		var s domain.Spaceship
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Location); err != nil {
			return nil, fmt.Errorf("scan spaceship: %w", err)
		}
		ships = append(ships, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spaceships: %w", err)
	}
	return ships, nil
}

func (p *PostgresRepository) UpdateLocation(ctx context.Context, id uuid.UUID, code string) error {
	res, err := p.q.ExecContext(ctx, `UPDATE spaceships SET location_code = $2 WHERE id = $1`, id, code)
	if err != nil {
		return fmt.Errorf("update spaceship: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSpaceshipNotFound, id)
	}
	return nil
}

// Relocate is a compare-and-set on the spaceship's current location.
func (p *PostgresRepository) Relocate(ctx context.Context, id uuid.UUID, from, to string) error {
	res, err := p.q.ExecContext(ctx, `UPDATE spaceships SET location_code = $3 WHERE id = $1 AND location_code = $2`, id, from, to)
	if err != nil {
		return fmt.Errorf("relocate spaceship: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("relocate spaceship: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrVehicleMoved, id)
	}
	return nil
}

// ResolveAirport implements domain.AirportDirectory.
func (p *PostgresRepository) ResolveAirport(ctx context.Context, code string) (domain.Airport, bool, error) {
	a := domain.Airport{Code: code}
	err := p.q.QueryRowContext(ctx, `SELECT lat, lng FROM airports WHERE code = $1`, code).Scan(&a.Location.Lat, &a.Location.Lng)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Airport{}, false, nil
	}
	if err != nil {
		return domain.Airport{}, false, fmt.Errorf("select airport: %w", err)
	}
	return a, true, nil
}

// ListAirports implements domain.AirportLister.
func (p *PostgresRepository) ListAirports(ctx context.Context) ([]domain.Airport, error) {
	rows, err := p.q.QueryContext(ctx, `SELECT code, lat, lng FROM airports ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("select airports: %w", err)
	}
	defer rows.Close()
	airports := []domain.Airport{}
	for rows.Next() {
		var a domain.Airport
		if err := rows.Scan(&a.Code, &a.Location.Lat, &a.Location.Lng); err != nil {
			return nil, fmt.Errorf("scan airport: %w", err)
		}
		airports = append(airports, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate airports: %w", err)
	}
	return airports, nil
}

// SeedFleet inserts airports and spaceships missing from the database.
// Existing rows are left untouched so relocations survive restarts.
func (p *PostgresRepository) SeedFleet(ctx context.Context, fleet Fleet) error {
	return p.InTx(ctx, func(r domain.Repository) error {
		tx := r.(*PostgresRepository)
		for _, a := range fleet.Airports {
			if _, err := tx.q.ExecContext(ctx, `INSERT INTO airports (code, lat, lng) VALUES ($1, $2, $3) ON CONFLICT (code) DO NOTHING`,
				a.Code, a.Location.Lat, a.Location.Lng); err != nil {
				return fmt.Errorf("seed airport %s: %w", a.Code, err)
			}
		}
		for _, s := range fleet.Spaceships {
			if _, err := tx.q.ExecContext(ctx, `INSERT INTO spaceships (id, code, name, location_code) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
				s.ID, s.Code, s.Name, s.Location); err != nil {
				return fmt.Errorf("seed spaceship %s: %w", s.Code, err)
			}
		}
		return nil
	})
}

// InTx runs fn inside a database transaction. Nested calls reuse the
// enclosing transaction.
func (p *PostgresRepository) InTx(ctx context.Context, fn func(domain.Repository) error) error {
	if _, nested := p.q.(*sql.Tx); nested {
		return fn(p)
	}
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresRepository{db: p.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
