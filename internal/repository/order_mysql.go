package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"fulfillsync/internal/model"
)

// MySQLOrderRepository implements OrderRepository using MySQL. This is
// the production backend; concurrency control is the database's row
// locking plus the conditional-update claims.
type MySQLOrderRepository struct {
	db *sql.DB
}

// NewMySQLOrderRepository creates a new MySQL order repository on an
// already-opened connection pool.
func NewMySQLOrderRepository(db *sql.DB) (*MySQLOrderRepository, error) {
	if err := createMySQLTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[MySQLOrderRepository] Initialized")
	return &MySQLOrderRepository{db: db}, nil
}

func createMySQLTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGINT PRIMARY KEY AUTO_INCREMENT,
			external_id VARCHAR(64) NOT NULL UNIQUE,
			pack_id VARCHAR(64) NOT NULL DEFAULT '',
			buyer_nickname VARCHAR(128) NOT NULL DEFAULT '',
			status VARCHAR(32) NOT NULL,
			note TEXT,
			date_created DATETIME NOT NULL,
			asignado_flag TINYINT(1) NOT NULL DEFAULT 0,
			deposito_asignado VARCHAR(64) NOT NULL DEFAULT '',
			fecha_asignacion DATETIME NULL,
			movimiento_realizado TINYINT(1) NOT NULL DEFAULT 0,
			numero_movimiento VARCHAR(64) NOT NULL DEFAULT '',
			observacion_movimiento TEXT,
			fecha_actualizacion DATETIME NOT NULL,
			INDEX idx_orders_status (status, asignado_flag),
			INDEX idx_orders_actualizacion (fecha_actualizacion)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id BIGINT PRIMARY KEY AUTO_INCREMENT,
			order_id BIGINT NOT NULL,
			item_id VARCHAR(64) NOT NULL DEFAULT '',
			variation_id VARCHAR(64) NOT NULL DEFAULT '',
			seller_code VARCHAR(128) NOT NULL DEFAULT '',
			barcode VARCHAR(128) NOT NULL DEFAULT '',
			size VARCHAR(32) NOT NULL DEFAULT '',
			color VARCHAR(64) NOT NULL DEFAULT '',
			quantity INT NOT NULL,
			resolved_sku VARCHAR(128) NOT NULL DEFAULT '',
			INDEX idx_items_order (order_id),
			CONSTRAINT fk_items_order FOREIGN KEY (order_id) REFERENCES orders(id)
		) ENGINE=InnoDB`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// Upsert inserts a new order with its items or refreshes a known one.
func (r *MySQLOrderRepository) Upsert(ctx context.Context, order *model.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := `
		INSERT INTO orders (external_id, pack_id, buyer_nickname, status, note, date_created, observacion_movimiento, fecha_actualizacion)
		VALUES (?, ?, ?, ?, ?, ?, '', ?)
		ON DUPLICATE KEY UPDATE
			pack_id = VALUES(pack_id),
			buyer_nickname = VALUES(buyer_nickname),
			status = VALUES(status),
			note = VALUES(note),
			fecha_actualizacion = VALUES(fecha_actualizacion)`

	if _, err := tx.ExecContext(ctx, query,
		order.ExternalID, order.PackID, order.BuyerNickname,
		string(order.Status), order.Note, order.DateCreated.UTC(), now); err != nil {
		return fmt.Errorf("failed to upsert order %s: %w", order.ExternalID, err)
	}

	var orderID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE external_id = ?`, order.ExternalID).Scan(&orderID); err != nil {
		return fmt.Errorf("failed to read back order %s: %w", order.ExternalID, err)
	}

	var itemCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_items WHERE order_id = ?`, orderID).Scan(&itemCount); err != nil {
		return fmt.Errorf("failed to count items for %s: %w", order.ExternalID, err)
	}

	if itemCount == 0 {
		for _, item := range order.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, item_id, variation_id, seller_code, barcode, size, color, quantity, resolved_sku)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

const mysqlOrderColumns = `id, external_id, pack_id, buyer_nickname, status, COALESCE(note, ''), date_created,
	asignado_flag, deposito_asignado, fecha_asignacion,
	movimiento_realizado, numero_movimiento, COALESCE(observacion_movimiento, ''), fecha_actualizacion`

func scanMySQLOrder(row interface{ Scan(...interface{}) error }) (*model.Order, error) {
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

func (r *MySQLOrderRepository) loadItems(ctx context.Context, order *model.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, item_id, variation_id, seller_code, barcode, size, color, quantity, resolved_sku
		FROM order_items WHERE order_id = ? ORDER BY id`, order.ID)
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
func (r *MySQLOrderRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+mysqlOrderColumns+` FROM orders WHERE external_id = ?`, externalID)
	order, err := scanMySQLOrder(row)
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

func (r *MySQLOrderRepository) listOrders(ctx context.Context, where string, args ...interface{}) ([]*model.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+mysqlOrderColumns+` FROM orders WHERE `+where+` ORDER BY date_created ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		order, err := scanMySQLOrder(rows)
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
func (r *MySQLOrderRepository) ListPendingAssignment(ctx context.Context) ([]*model.Order, error) {
	return r.listOrders(ctx, `status = ? AND asignado_flag = 0`, string(model.StatusReadyToPrint))
}

// ListAssignedWithoutMovement returns assigned orders missing a movement number.
func (r *MySQLOrderRepository) ListAssignedWithoutMovement(ctx context.Context) ([]*model.Order, error) {
	return r.listOrders(ctx, `asignado_flag = 1 AND movimiento_realizado = 0 AND numero_movimiento = ''`)
}

// OldestEligible returns the oldest ready_to_print order still missing
// its assignment or movement, or nil when none exists.
func (r *MySQLOrderRepository) OldestEligible(ctx context.Context) (*model.Order, error) {
	orders, err := r.listOrders(ctx,
		`status = ? AND (asignado_flag = 0 OR numero_movimiento = '')`, string(model.StatusReadyToPrint))
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return orders[0], nil
}

// ListKnownIDs returns all external order ids.
func (r *MySQLOrderRepository) ListKnownIDs(ctx context.Context) ([]string, error) {
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
func (r *MySQLOrderRepository) MarkAssigned(ctx context.Context, externalID, deposit string) (bool, error) {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET asignado_flag = 1, deposito_asignado = ?, fecha_asignacion = ?, fecha_actualizacion = ?
		WHERE external_id = ? AND asignado_flag = 0`,
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
func (r *MySQLOrderRepository) ClaimMovement(ctx context.Context, externalID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET movimiento_realizado = 1, fecha_actualizacion = ?
		WHERE external_id = ? AND asignado_flag = 1 AND movimiento_realizado = 0 AND numero_movimiento = ''`,
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
func (r *MySQLOrderRepository) RecordMovementSuccess(ctx context.Context, externalID, number, observation string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET movimiento_realizado = 1, numero_movimiento = ?, observacion_movimiento = ?, fecha_actualizacion = ?
		WHERE external_id = ? AND numero_movimiento = ''`,
		number, observation, time.Now().UTC(), externalID)
	if err != nil {
		return fmt.Errorf("failed to record movement for %s: %w", externalID, err)
	}
	return nil
}

// RecordMovementFailure releases the movement claim and stores the
// failure observation.
func (r *MySQLOrderRepository) RecordMovementFailure(ctx context.Context, externalID, observation string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET movimiento_realizado = 0, observacion_movimiento = ?, fecha_actualizacion = ?
		WHERE external_id = ? AND numero_movimiento = ''`,
		observation, time.Now().UTC(), externalID)
	if err != nil {
		return fmt.Errorf("failed to record movement failure for %s: %w", externalID, err)
	}
	return nil
}

// UpdateStatus writes a new status.
func (r *MySQLOrderRepository) UpdateStatus(ctx context.Context, externalID string, status model.Status) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, fecha_actualizacion = ? WHERE external_id = ?`,
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
func (r *MySQLOrderRepository) SetItemResolvedSKU(ctx context.Context, itemRowID int64, sku string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE order_items SET resolved_sku = ? WHERE id = ?`, sku, itemRowID)
	if err != nil {
		return fmt.Errorf("failed to set resolved sku for item %d: %w", itemRowID, err)
	}
	return nil
}

// ResetAssignment clears assignment/claim fields for maintenance.
func (r *MySQLOrderRepository) ResetAssignment(ctx context.Context, externalID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET asignado_flag = 0, deposito_asignado = '', fecha_asignacion = NULL,
			movimiento_realizado = 0, observacion_movimiento = '', fecha_actualizacion = ?
		WHERE external_id = ? AND numero_movimiento = ''`,
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
func (r *MySQLOrderRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *MySQLOrderRepository) Close() error {
	return r.db.Close()
}

// Ensure MySQLOrderRepository implements OrderRepository
var _ OrderRepository = (*MySQLOrderRepository)(nil)
