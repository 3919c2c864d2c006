// Package directory provides read-only access to routes, drivers, vehicles
// and localities. The lifecycle engine only validates references against it;
// managing these records belongs to the administration surface.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// ErrNotFound indicates the referenced record does not exist.
var ErrNotFound = errors.New("directory record not found")

// Route is a named delivery route with its origin depot label.
type Route struct {
	ID     int64  `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Origin string `json:"origin" db:"origin"`
}

// Driver is a fleet driver.
type Driver struct {
	ID     int64  `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Active bool   `json:"active" db:"active"`
}

// Vehicle is a fleet vehicle.
type Vehicle struct {
	ID     int64  `json:"id" db:"id"`
	Plate  string `json:"plate" db:"plate"`
	Active bool   `json:"active" db:"active"`
}

// Locality is a destination locality.
type Locality struct {
	ID     int64  `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Region string `json:"region" db:"region"`
}

// Service reads the directory tables.
type Service struct {
	pool     *pgxpool.Pool
	collator *collate.Collator
}

// NewService creates a directory service. Locality matching uses Spanish
// collation rules, ignoring case and diacritics, because the locality data
// set carries both accented and unaccented spellings of the same names.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{
		pool:     pool,
		collator: collate.New(language.Spanish, collate.IgnoreCase, collate.IgnoreDiacritics),
	}
}

// GetRoute returns the route or ErrNotFound.
func (s *Service) GetRoute(ctx context.Context, id int64) (*Route, error) {
	var r Route
	err := s.pool.QueryRow(ctx, `SELECT id, name, origin FROM routes WHERE id = $1`, id).
		Scan(&r.ID, &r.Name, &r.Origin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: route %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RouteLabel returns the origin label of the route, used to stamp shipment
// history when a sheet departs.
func (s *Service) RouteLabel(ctx context.Context, routeID int64) (string, error) {
	route, err := s.GetRoute(ctx, routeID)
	if err != nil {
		return "", err
	}
	if route.Origin != "" {
		return route.Origin, nil
	}
	return route.Name, nil
}

// DriverExists checks the driver reference.
func (s *Service) DriverExists(ctx context.Context, driverID int64) error {
	var active bool
	err := s.pool.QueryRow(ctx, `SELECT active FROM drivers WHERE id = $1`, driverID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: driver %d", ErrNotFound, driverID)
	}
	if err != nil {
		return err
	}
	if !active {
		return fmt.Errorf("%w: driver %d is inactive", ErrNotFound, driverID)
	}
	return nil
}

// VehicleExists checks the vehicle reference.
func (s *Service) VehicleExists(ctx context.Context, vehicleID int64) error {
	var active bool
	err := s.pool.QueryRow(ctx, `SELECT active FROM vehicles WHERE id = $1`, vehicleID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: vehicle %d", ErrNotFound, vehicleID)
	}
	if err != nil {
		return err
	}
	if !active {
		return fmt.Errorf("%w: vehicle %d is inactive", ErrNotFound, vehicleID)
	}
	return nil
}

// LocalityExists checks the destination locality reference.
func (s *Service) LocalityExists(ctx context.Context, localityID int64) error {
	_, err := s.GetLocality(ctx, localityID)
	return err
}

// GetLocality returns the locality or ErrNotFound.
func (s *Service) GetLocality(ctx context.Context, id int64) (*Locality, error) {
	var l Locality
	err := s.pool.QueryRow(ctx, `SELECT id, name, region FROM localities WHERE id = $1`, id).
		Scan(&l.ID, &l.Name, &l.Region)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: locality %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// SearchLocalities returns localities whose name matches the query under the
// collation rules. The candidate set is narrowed in SQL and the final match
// decided in-process, since the collation semantics are not expressible in
// the database.
func (s *Service) SearchLocalities(ctx context.Context, query string) ([]Locality, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, region FROM localities ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Locality
	for rows.Next() {
		var l Locality
		if err := rows.Scan(&l.ID, &l.Name, &l.Region); err != nil {
			return nil, err
		}
		if query == "" || s.matches(l.Name, query) {
			out = append(out, l)
		}
	}
	return out, rows.Err()
}

// matches reports whether a locality name equals the query under the
// collation rules.
func (s *Service) matches(name, query string) bool {
	return s.collator.CompareString(name, query) == 0
}
