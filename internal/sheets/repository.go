package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sda-logistics/fleetsheet/internal/shipments"
)

// Repository defines the interface for delivery sheet persistence.
type Repository interface {
	// Read operations
	GetByID(ctx context.Context, id int64) (*Sheet, error)
	List(ctx context.Context, req ListRequest) ([]Sheet, int, error)
	FindActiveForDriverOnDate(ctx context.Context, driverID int64, date time.Time) (*Sheet, error)
	FindExpired(ctx context.Context, before time.Time) ([]Sheet, error)
	AssignedNumbers(ctx context.Context) ([]string, error)
	ActiveHolderOf(ctx context.Context, shipmentID int64) (*int64, error)

	// Write operations (transactional)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional write operations. Confirmation and
// closure each run as a single transaction over these.
type TxRepository interface {
	Insert(ctx context.Context, sheet Sheet) (int64, error)
	GetForUpdate(ctx context.Context, id int64) (*Sheet, error)
	Update(ctx context.Context, id int64, updates map[string]interface{}) error
	ReplaceShipments(ctx context.Context, sheetID int64, shipmentIDs []int64) error
	AppendMovement(ctx context.Context, m Movement) error

	// ShipmentStatuses reports the current status of each given shipment,
	// read inside the transaction. Missing ids are absent from the map.
	ShipmentStatuses(ctx context.Context, shipmentIDs []int64) (map[int64]shipments.Status, error)

	// Sequence operations; see NumberAllocator.
	NextSequenceValue(ctx context.Context) (int64, error)
	SeedSequence(ctx context.Context, atLeast int64) error

	// Assignment operations; see Guard.
	ActiveHolder(ctx context.Context, shipmentID, excludeSheetID int64) (*int64, error)
	InsertAssignments(ctx context.Context, sheetID int64, shipmentIDs []int64) error
	ReleaseAssignments(ctx context.Context, sheetID int64) error

	// ForceReschedule moves every in-transit shipment of the sheet to
	// rescheduled, appends their history entries and unlinks them from the
	// sheet. Returns the affected shipment ids.
	ForceReschedule(ctx context.Context, sheetID int64, location, reason string) ([]int64, error)
}

// repository implements Repository using pgxpool.
type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrTransient, err)
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit tx: %v", ErrTransient, err)
	}
	return nil
}

const sheetColumns = `id, sheet_number, route_id, driver_id, vehicle_id, operating_date,
       status, notes, auto_closed, confirmed_at, closed_at, created_at, updated_at`

func scanSheet(row pgx.Row) (*Sheet, error) {
	var s Sheet
	err := row.Scan(
		&s.ID, &s.Number, &s.RouteID, &s.DriverID, &s.VehicleID, &s.OperatingDate,
		&s.Status, &s.Notes, &s.AutoClosed, &s.ConfirmedAt, &s.ClosedAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadShipmentIDs(ctx context.Context, q rowQuerier, sheetID int64) ([]int64, error) {
	rows, err := q.Query(ctx, `
		SELECT shipment_id FROM sheet_shipments
		WHERE sheet_id = $1
		ORDER BY position, shipment_id
	`, sheetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadMovements(ctx context.Context, q rowQuerier, sheetID int64) ([]Movement, error) {
	rows, err := q.Query(ctx, `
		SELECT id, sheet_id, actor, action, occurred_at
		FROM sheet_movements
		WHERE sheet_id = $1
		ORDER BY occurred_at, id
	`, sheetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.SheetID, &m.Actor, &m.Action, &m.At); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetByID retrieves a sheet with its shipment list and movement log.
func (r *repository) GetByID(ctx context.Context, id int64) (*Sheet, error) {
	sheet, err := scanSheet(r.pool.QueryRow(ctx, `SELECT `+sheetColumns+` FROM delivery_sheets WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if sheet.ShipmentIDs, err = loadShipmentIDs(ctx, r.pool, id); err != nil {
		return nil, err
	}
	if sheet.Movements, err = loadMovements(ctx, r.pool, id); err != nil {
		return nil, err
	}
	return sheet, nil
}

// List returns a filtered, paginated slice of sheets plus the total count.
func (r *repository) List(ctx context.Context, req ListRequest) ([]Sheet, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	argPos := 1

	add := func(cond string, val interface{}) {
		conditions = append(conditions, fmt.Sprintf(cond, argPos))
		args = append(args, val)
		argPos++
	}

	if req.Status != nil {
		add("status = $%d", *req.Status)
	}
	if req.Number != nil && *req.Number != "" {
		add("sheet_number = $%d", *req.Number)
	}
	if req.DriverID != nil {
		add("driver_id = $%d", *req.DriverID)
	}
	if req.RouteID != nil {
		add("route_id = $%d", *req.RouteID)
	}
	if req.DateFrom != nil {
		add("operating_date >= $%d", *req.DateFrom)
	}
	if req.DateTo != nil {
		add("operating_date <= $%d", *req.DateTo)
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM delivery_sheets WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + sheetColumns + ` FROM delivery_sheets WHERE ` + where +
		fmt.Sprintf(` ORDER BY operating_date DESC, id DESC LIMIT $%d OFFSET $%d`, argPos, argPos+1)
	args = append(args, limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Sheet
	for rows.Next() {
		sheet, err := scanSheet(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *sheet)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range out {
		if out[i].ShipmentIDs, err = loadShipmentIDs(ctx, r.pool, out[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

// FindActiveForDriverOnDate returns the driver's active sheet for the given
// operating date, or ErrNotFound.
func (r *repository) FindActiveForDriverOnDate(ctx context.Context, driverID int64, date time.Time) (*Sheet, error) {
	sheet, err := scanSheet(r.pool.QueryRow(ctx, `
		SELECT `+sheetColumns+` FROM delivery_sheets
		WHERE driver_id = $1 AND operating_date = $2 AND status = $3
		ORDER BY id DESC
		LIMIT 1
	`, driverID, date, StatusActive))
	if err != nil {
		return nil, err
	}
	if sheet.ShipmentIDs, err = loadShipmentIDs(ctx, r.pool, sheet.ID); err != nil {
		return nil, err
	}
	return sheet, nil
}

// FindExpired lists active sheets whose operating date lies strictly before
// the given day.
func (r *repository) FindExpired(ctx context.Context, before time.Time) ([]Sheet, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sheetColumns+` FROM delivery_sheets
		WHERE status = $1 AND operating_date < $2
		ORDER BY operating_date, id
	`, StatusActive, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sheet
	for rows.Next() {
		sheet, err := scanSheet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sheet)
	}
	return out, rows.Err()
}

// AssignedNumbers returns every sheet number ever assigned. Used once at
// startup to seed the sequence from legacy data.
func (r *repository) AssignedNumbers(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT sheet_number FROM delivery_sheets WHERE sheet_number IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// ActiveHolderOf returns the id of the active sheet holding the shipment, if
// any. Pool-level variant used to enrich race-lost conflicts after rollback.
func (r *repository) ActiveHolderOf(ctx context.Context, shipmentID int64) (*int64, error) {
	var holder int64
	err := r.pool.QueryRow(ctx, `
		SELECT sheet_id FROM sheet_assignments
		WHERE shipment_id = $1 AND released_at IS NULL
	`, shipmentID).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &holder, nil
}
