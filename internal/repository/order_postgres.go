package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"fulfillsync/internal/model"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

// PostgresOrderRepository implements OrderRepository using PostgreSQL
// via the pgx stdlib driver.
type PostgresOrderRepository struct {
	db *sql.DB
}

// NewPostgresOrderRepository opens a PostgreSQL connection and ensures
// the schema exists.
func NewPostgresOrderRepository(dsn string) (*PostgresOrderRepository, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := createPostgresTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[PostgresOrderRepository] Initialized")
	return &PostgresOrderRepository{db: db}, nil
}

func createPostgresTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		pack_id TEXT NOT NULL DEFAULT '',
		buyer_nickname TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		date_created TIMESTAMPTZ NOT NULL,
		asignado_flag BOOLEAN NOT NULL DEFAULT FALSE,
		deposito_asignado TEXT NOT NULL DEFAULT '',
		fecha_asignacion TIMESTAMPTZ,
		movimiento_realizado BOOLEAN NOT NULL DEFAULT FALSE,
		numero_movimiento TEXT NOT NULL DEFAULT '',
		observacion_movimiento TEXT NOT NULL DEFAULT '',
		fecha_actualizacion TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, asignado_flag);
	CREATE INDEX IF NOT EXISTS idx_orders_actualizacion ON orders(fecha_actualizacion);

	CREATE TABLE IF NOT EXISTS order_items (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders(id),
		item_id TEXT NOT NULL DEFAULT '',
		variation_id TEXT NOT NULL DEFAULT '',
		seller_code TEXT NOT NULL DEFAULT '',
		barcode TEXT NOT NULL DEFAULT '',
		size TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '',
		quantity INT NOT NULL,
		resolved_sku TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_items_order ON order_items(order_id);
	`
	_, err := db.Exec(query)
	return err
}

// Upsert inserts a new order with its items or refreshes a known one.
func (r *PostgresOrderRepository) Upsert(ctx context.Context, order *model.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var orderID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (external_id, pack_id, buyer_nickname, status, note, date_created, fecha_actualizacion)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_id) DO UPDATE SET
			pack_id = EXCLUDED.pack_id,
			buyer_nickname = EXCLUDED.buyer_nickname,
			status = EXCLUDED.status,
			note = EXCLUDED.note,
			fecha_actualizacion = EXCLUDED.fecha_actualizacion
		RETURNING id`,
		order.ExternalID, order.PackID, order.BuyerNickname,
		string(order.Status), order.Note, order.DateCreated.UTC(), now).Scan(&orderID)
	if err != nil {
		return fmt.Errorf("failed to upsert order %s: %w", order.ExternalID, err)
	}

	var itemCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_items WHERE order_id = $1`, orderID).Scan(&itemCount); err != nil {
		return fmt.Errorf("failed to count items for %s: %w", order.ExternalID, err)
	}

	if itemCount == 0 {
		for _, item := range order.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, item_id, variation_id, seller_code, barcode, size, color, quantity, resolved_sku)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				orderID, item.ItemID, item.VariationID, item.SellerCode,
				item.Barcode, item.Size, item.Color, item.Quantity, item.ResolvedSKU); err != nil {
				return fmt.Errorf("failed to insert item for %s: %w", order.ExternalID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

const pgOrderColumns = `id, external_id, pack_id, buyer_nickname, status, note, date_created,
	asignado_flag, deposito_asignado, fecha_asignacion,
	movimiento_realizado, numero_movimiento, observacion_movimiento, fecha_actualizacion`

func scanPGOrder(row interface{ Scan(...interface{}) error }) (*model.Order, error) {
	var o model.Order
	var status string
	var assignedAt sql.NullTime

	err := row.Scan(&o.ID, &o.ExternalID, &o.PackID, &o.BuyerNickname, &status, &o.Note, &o.DateCreated,
		&o.Assigned, &o.AssignedDeposit, &assignedAt,
		&o.MovementDone, &o.MovementNumber, &o.MovementNote, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.Status = model.Status(status)
	if assignedAt.Valid {
		t := assignedAt.Time
		o.AssignedAt = &t
	}
	return &o, nil
}

func (r *PostgresOrderRepository) loadItems(ctx context.Context, order *model.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, item_id, variation_id, seller_code, barcode, size, color, quantity, resolved_sku
		FROM order_items WHERE order_id = $1 ORDER BY id`, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load items for %s: %w", order.ExternalID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ItemID, &item.VariationID,
			&item.SellerCode, &item.Barcode, &item.Size, &item.Color, &item.Quantity, &item.ResolvedSKU); err != nil {
			return fmt.Errorf("failed to scan item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	return rows.Err()
}

// GetByExternalID retrieves an order with its items.
func (r *PostgresOrderRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+pgOrderColumns+` FROM orders WHERE external_id = $1`, externalID)
	order, err := scanPGOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order %s: %w", externalID, err)
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *PostgresOrderRepository) listOrders(ctx context.Context, where string, args ...interface{}) ([]*model.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pgOrderColumns+` FROM orders WHERE `+where+` ORDER BY date_created ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		order, err := scanPGOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, order := range orders {
		if err := r.loadItems(ctx, order); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// ListPendingAssignment returns unassigned ready_to_print orders, oldest first.
func (r *PostgresOrderRepository) ListPendingAssignment(ctx context.Context) ([]*model.Order, error) {
	return r.listOrders(ctx, `status = $1 AND asignado_flag = FALSE`, string(model.StatusReadyToPrint))
}

// ListAssignedWithoutMovement returns assigned orders missing a movement number.
func (r *PostgresOrderRepository) ListAssignedWithoutMovement(ctx context.Context) ([]*model.Order, error) {
	return r.listOrders(ctx, `asignado_flag = TRUE AND movimiento_realizado = FALSE AND numero_movimiento = ''`)
}

// OldestEligible returns the oldest ready_to_print order still missing
// its assignment or movement, or nil when none exists.
func (r *PostgresOrderRepository) OldestEligible(ctx context.Context) (*model.Order, error) {
	orders, err := r.listOrders(ctx,
		`status = $1 AND (asignado_flag = FALSE OR numero_movimiento = '')`, string(model.StatusReadyToPrint))
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return orders[0], nil
}

// ListKnownIDs returns all external order ids.
func (r *PostgresOrderRepository) ListKnownIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT external_id FROM orders`)
	if err != nil {
		return nil, fmt.Errorf("failed to list order ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkAssigned commits an assignment with a conditional update.
func (r *PostgresOrderRepository) MarkAssigned(ctx context.Context, externalID, deposit string) (bool, error) {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET asignado_flag = TRUE, deposito_asignado = $1, fecha_asignacion = $2, fecha_actualizacion = $3
		WHERE external_id = $4 AND asignado_flag = FALSE`,
		deposit, now, now, externalID)
	if err != nil {
		return false, fmt.Errorf("failed to mark order %s assigned: %w", externalID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ClaimMovement takes the movement claim via conditional update.
func (r *PostgresOrderRepository) ClaimMovement(ctx context.Context, externalID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET movimiento_realizado = TRUE, fecha_actualizacion = $1
		WHERE external_id = $2 AND asignado_flag = TRUE AND movimiento_realizado = FALSE AND numero_movimiento = ''`,
		time.Now().UTC(), externalID)
	if err != nil {
		return false, fmt.Errorf("failed to claim movement for %s: %w", externalID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// RecordMovementSuccess stores the movement number; an existing number
// is never overwritten.
func (r *PostgresOrderRepository) RecordMovementSuccess(ctx context.Context, externalID, number, observation string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET movimiento_realizado = TRUE, numero_movimiento = $1, observacion_movimiento = $2, fecha_actualizacion = $3
		WHERE external_id = $4 AND numero_movimiento = ''`,
		number, observation, time.Now().UTC(), externalID)
	if err != nil {
		return fmt.Errorf("failed to record movement for %s: %w", externalID, err)
	}
	return nil
}

// RecordMovementFailure releases the movement claim and stores the
// failure observation.
func (r *PostgresOrderRepository) RecordMovementFailure(ctx context.Context, externalID, observation string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET movimiento_realizado = FALSE, observacion_movimiento = $1, fecha_actualizacion = $2
		WHERE external_id = $3 AND numero_movimiento = ''`,
		observation, time.Now().UTC(), externalID)
	if err != nil {
		return fmt.Errorf("failed to record movement failure for %s: %w", externalID, err)
	}
	return nil
}

// UpdateStatus writes a new status.
func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, externalID string, status model.Status) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, fecha_actualizacion = $2 WHERE external_id = $3`,
		string(status), time.Now().UTC(), externalID)
	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", externalID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetItemResolvedSKU persists a lazily resolved canonical SKU.
func (r *PostgresOrderRepository) SetItemResolvedSKU(ctx context.Context, itemRowID int64, sku string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE order_items SET resolved_sku = $1 WHERE id = $2`, sku, itemRowID)
	if err != nil {
		return fmt.Errorf("failed to set resolved sku for item %d: %w", itemRowID, err)
	}
	return nil
}

// ResetAssignment clears assignment/claim fields for maintenance.
func (r *PostgresOrderRepository) ResetAssignment(ctx context.Context, externalID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET asignado_flag = FALSE, deposito_asignado = '', fecha_asignacion = NULL,
			movimiento_realizado = FALSE, observacion_movimiento = '', fecha_actualizacion = $1
		WHERE external_id = $2 AND numero_movimiento = ''`,
		time.Now().UTC(), externalID)
	if err != nil {
		return false, fmt.Errorf("failed to reset assignment for %s: %w", externalID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Ping verifies the connection.
func (r *PostgresOrderRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *PostgresOrderRepository) Close() error {
	return r.db.Close()
}

// Ensure PostgresOrderRepository implements OrderRepository
var _ OrderRepository = (*PostgresOrderRepository)(nil)
