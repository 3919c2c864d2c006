package shipments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines the interface for shipment persistence.
type Repository interface {
	// Read operations
	GetByID(ctx context.Context, id int64) (*Shipment, error)
	GetByTrackingCode(ctx context.Context, code string) (*Shipment, error)
	FindActiveBySheet(ctx context.Context, sheetID int64) ([]Shipment, error)
	List(ctx context.Context, req ListRequest) ([]Shipment, int, error)

	// Write operations (transactional)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional write operations.
type TxRepository interface {
	Insert(ctx context.Context, sh Shipment) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status Status, updates map[string]interface{}) error
	AppendEvent(ctx context.Context, ev StatusEvent) error
}

// repository implements Repository using pgxpool.
type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// txRepository implements TxRepository.
type txRepository struct {
	tx pgx.Tx
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

const shipmentColumns = `id, tracking_code, sender_id, recipient_id, locality_id,
       weight_kg, length_cm, width_cm, height_cm, piece_count,
       status, sheet_id, attempts, failure_reason,
       receiver_name, receiver_doc, signature_ref, created_at, updated_at`

func scanShipment(row pgx.Row) (*Shipment, error) {
	var sh Shipment
	err := row.Scan(
		&sh.ID, &sh.TrackingCode, &sh.SenderID, &sh.RecipientID, &sh.LocalityID,
		&sh.Package.WeightKg, &sh.Package.LengthCm, &sh.Package.WidthCm,
		&sh.Package.HeightCm, &sh.Package.PieceCount,
		&sh.Status, &sh.SheetID, &sh.Attempts, &sh.FailureReason,
		&sh.ReceiverName, &sh.ReceiverDoc, &sh.SignatureRef, &sh.CreatedAt, &sh.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sh, nil
}

// GetByID retrieves a shipment with its status history.
func (r *repository) GetByID(ctx context.Context, id int64) (*Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE id = $1`
	sh, err := scanShipment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	history, err := r.getHistory(ctx, sh.ID)
	if err != nil {
		return nil, err
	}
	sh.History = history
	return sh, nil
}

// GetByTrackingCode retrieves a shipment by its public tracking code.
func (r *repository) GetByTrackingCode(ctx context.Context, code string) (*Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE tracking_code = $1`
	sh, err := scanShipment(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		return nil, err
	}
	history, err := r.getHistory(ctx, sh.ID)
	if err != nil {
		return nil, err
	}
	sh.History = history
	return sh, nil
}

func (r *repository) getHistory(ctx context.Context, shipmentID int64) ([]StatusEvent, error) {
	query := `
		SELECT id, shipment_id, status, location, reason, occurred_at
		FROM shipment_status_events
		WHERE shipment_id = $1
		ORDER BY occurred_at, id
	`
	rows, err := r.pool.Query(ctx, query, shipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StatusEvent
	for rows.Next() {
		var ev StatusEvent
		if err := rows.Scan(&ev.ID, &ev.ShipmentID, &ev.Status, &ev.Location, &ev.Reason, &ev.At); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// FindActiveBySheet lists shipments linked to the given sheet that are still
// in transit.
func (r *repository) FindActiveBySheet(ctx context.Context, sheetID int64) ([]Shipment, error) {
	query := `SELECT ` + shipmentColumns + `
		FROM shipments
		WHERE sheet_id = $1 AND status = $2
		ORDER BY id`
	rows, err := r.pool.Query(ctx, query, sheetID, StatusInTransit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sh)
	}
	return out, rows.Err()
}

// List returns a filtered, paginated slice of shipments plus the total count.
func (r *repository) List(ctx context.Context, req ListRequest) ([]Shipment, int, error) {
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
	if req.LocalityID != nil {
		add("locality_id = $%d", *req.LocalityID)
	}
	if req.SheetID != nil {
		add("sheet_id = $%d", *req.SheetID)
	}
	if req.DateFrom != nil {
		add("created_at >= $%d", *req.DateFrom)
	}
	if req.DateTo != nil {
		add("created_at < $%d", *req.DateTo)
	}
	if req.Search != nil && *req.Search != "" {
		add("tracking_code ILIKE $%d", "%"+*req.Search+"%")
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM shipments WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE ` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, argPos, argPos+1)
	args = append(args, limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *sh)
	}
	return out, total, rows.Err()
}

// Insert creates the shipment row.
func (t *txRepository) Insert(ctx context.Context, sh Shipment) (int64, error) {
	query := `
		INSERT INTO shipments (
			tracking_code, sender_id, recipient_id, locality_id,
			weight_kg, length_cm, width_cm, height_cm, piece_count,
			status, attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, NOW(), NOW())
		RETURNING id
	`
	var id int64
	err := t.tx.QueryRow(ctx, query,
		sh.TrackingCode, sh.SenderID, sh.RecipientID, sh.LocalityID,
		sh.Package.WeightKg, sh.Package.LengthCm, sh.Package.WidthCm,
		sh.Package.HeightCm, sh.Package.PieceCount, sh.Status,
	).Scan(&id)
	return id, err
}

// UpdateStatus sets the current status plus any extra columns.
func (t *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, updates map[string]interface{}) error {
	setClauses := []string{"status = $1", "updated_at = NOW()"}
	args := []interface{}{status}
	argPos := 2
	for col, val := range updates {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, argPos))
		args = append(args, val)
		argPos++
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE shipments SET %s WHERE id = $%d`, strings.Join(setClauses, ", "), argPos)
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvent appends one history row. History rows are never updated.
func (t *txRepository) AppendEvent(ctx context.Context, ev StatusEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO shipment_status_events (shipment_id, status, location, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.ShipmentID, ev.Status, ev.Location, ev.Reason, at)
	return err
}
