package sheets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sda-logistics/fleetsheet/internal/shipments"
)

// txRepository implements TxRepository.
type txRepository struct {
	tx pgx.Tx
}

// Insert creates the sheet row.
func (t *txRepository) Insert(ctx context.Context, sheet Sheet) (int64, error) {
	query := `
		INSERT INTO delivery_sheets (
			sheet_number, route_id, driver_id, vehicle_id, operating_date,
			status, notes, auto_closed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, NOW(), NOW())
		RETURNING id
	`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		sheet.Number, sheet.RouteID, sheet.DriverID, sheet.VehicleID,
		sheet.OperatingDate, sheet.Status, sheet.Notes,
	).Scan(&id)
	return id, err
}

// GetForUpdate locks and returns the sheet row with its shipment list.
func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (*Sheet, error) {
	sheet, err := scanSheet(t.tx.QueryRow(ctx, `SELECT `+sheetColumns+` FROM delivery_sheets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if sheet.ShipmentIDs, err = loadShipmentIDs(ctx, t.tx, id); err != nil {
		return nil, err
	}
	return sheet, nil
}

// Update patches sheet columns.
func (t *txRepository) Update(ctx context.Context, id int64, updates map[string]interface{}) error {
	setClauses := []string{"updated_at = NOW()"}
	args := []interface{}{}
	argPos := 1
	for col, val := range updates {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, argPos))
		args = append(args, val)
		argPos++
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE delivery_sheets SET %s WHERE id = $%d`, strings.Join(setClauses, ", "), argPos)
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceShipments rewrites the ordered shipment list of a sheet.
func (t *txRepository) ReplaceShipments(ctx context.Context, sheetID int64, shipmentIDs []int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM sheet_shipments WHERE sheet_id = $1`, sheetID); err != nil {
		return err
	}
	for i, shipmentID := range shipmentIDs {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO sheet_shipments (sheet_id, shipment_id, position)
			VALUES ($1, $2, $3)
		`, sheetID, shipmentID, i); err != nil {
			return err
		}
	}
	return nil
}

// AppendMovement appends one movement-log row. Movement rows are never updated.
func (t *txRepository) AppendMovement(ctx context.Context, m Movement) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sheet_movements (sheet_id, actor, action, occurred_at)
		VALUES ($1, $2, $3, NOW())
	`, m.SheetID, m.Actor, m.Action)
	return err
}

// ShipmentStatuses reads the current status of each shipment inside the
// transaction.
func (t *txRepository) ShipmentStatuses(ctx context.Context, shipmentIDs []int64) (map[int64]shipments.Status, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, status FROM shipments WHERE id = ANY($1)`, shipmentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]shipments.Status, len(shipmentIDs))
	for rows.Next() {
		var (
			id     int64
			status shipments.Status
		)
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		out[id] = status
	}
	return out, rows.Err()
}

// NextSequenceValue atomically advances the single-row sheet sequence. The
// row lock taken here serializes concurrent confirmations.
func (t *txRepository) NextSequenceValue(ctx context.Context) (int64, error) {
	var value int64
	err := t.tx.QueryRow(ctx, `
		UPDATE sheet_sequence SET value = value + 1 WHERE id = 1
		RETURNING value
	`).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.New("sheet sequence row missing; run sequence seeding")
	}
	return value, err
}

// SeedSequence creates the sequence row or raises it to at least the given
// value. Never lowers it.
func (t *txRepository) SeedSequence(ctx context.Context, atLeast int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sheet_sequence (id, value) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET value = GREATEST(sheet_sequence.value, EXCLUDED.value)
	`, atLeast)
	return err
}

// ActiveHolder returns the id of another active sheet holding the shipment.
func (t *txRepository) ActiveHolder(ctx context.Context, shipmentID, excludeSheetID int64) (*int64, error) {
	var holder int64
	err := t.tx.QueryRow(ctx, `
		SELECT sheet_id FROM sheet_assignments
		WHERE shipment_id = $1 AND released_at IS NULL AND sheet_id <> $2
	`, shipmentID, excludeSheetID).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &holder, nil
}

// InsertAssignments writes one live assignment row per shipment. The partial
// unique index on (shipment_id) WHERE released_at IS NULL turns a concurrent
// double booking into a unique violation, surfaced as a ConflictError.
func (t *txRepository) InsertAssignments(ctx context.Context, sheetID int64, shipmentIDs []int64) error {
	for _, shipmentID := range shipmentIDs {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO sheet_assignments (sheet_id, shipment_id, assigned_at)
			VALUES ($1, $2, NOW())
		`, sheetID, shipmentID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return &ConflictError{ShipmentID: conflictShipmentID(pgErr, shipmentID)}
			}
			return err
		}
	}
	return nil
}

// conflictShipmentID extracts the offending shipment id from the unique
// violation detail, falling back to the id being inserted.
func conflictShipmentID(pgErr *pgconn.PgError, fallback int64) int64 {
	// Detail looks like: Key (shipment_id)=(42) already exists.
	detail := pgErr.Detail
	start := strings.Index(detail, ")=(")
	if start < 0 {
		return fallback
	}
	rest := detail[start+3:]
	end := strings.Index(rest, ")")
	if end < 0 {
		return fallback
	}
	id, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil {
		return fallback
	}
	return id
}

// ReleaseAssignments marks every live assignment of the sheet as released.
func (t *txRepository) ReleaseAssignments(ctx context.Context, sheetID int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE sheet_assignments SET released_at = NOW()
		WHERE sheet_id = $1 AND released_at IS NULL
	`, sheetID)
	return err
}

// ForceReschedule reverts the sheet's in-transit shipments to rescheduled in
// one statement, then appends their history rows and unlinks them.
func (t *txRepository) ForceReschedule(ctx context.Context, sheetID int64, location, reason string) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `
		UPDATE shipments
		SET status = $1, sheet_id = NULL, attempts = attempts + 1,
		    failure_reason = $2, updated_at = NOW()
		WHERE sheet_id = $3 AND status = $4
		RETURNING id
	`, shipments.StatusRescheduled, reason, sheetID, shipments.StatusInTransit)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO shipment_status_events (shipment_id, status, location, reason, occurred_at)
			VALUES ($1, $2, $3, $4, NOW())
		`, id, shipments.StatusRescheduled, location, reason); err != nil {
			return nil, err
		}
	}
	return ids, nil
}
