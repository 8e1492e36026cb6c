package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"fulfillsync/internal/model"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteOrderRepository implements OrderRepository using SQLite.
// Thread-safe with WAL mode; suited to single-site installs and tests.
type SQLiteOrderRepository struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteOrderRepository creates a new SQLite order repository.
// dbPath is the path to the SQLite database file (e.g., "./data/orders.db")
func NewSQLiteOrderRepository(dbPath string) (*SQLiteOrderRepository, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports 1 writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createSQLiteTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[SQLiteOrderRepository] Initialized with database: %s", dbPath)
	return &SQLiteOrderRepository{db: db}, nil
}

func createSQLiteTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL UNIQUE,
		pack_id TEXT DEFAULT '',
		buyer_nickname TEXT DEFAULT '',
		status TEXT NOT NULL,
		note TEXT DEFAULT '',
		date_created DATETIME NOT NULL,
		asignado_flag INTEGER NOT NULL DEFAULT 0,
		deposito_asignado TEXT DEFAULT '',
		fecha_asignacion DATETIME,
		movimiento_realizado INTEGER NOT NULL DEFAULT 0,
		numero_movimiento TEXT DEFAULT '',
		observacion_movimiento TEXT DEFAULT '',
		fecha_actualizacion DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, asignado_flag);
	CREATE INDEX IF NOT EXISTS idx_orders_actualizacion ON orders(fecha_actualizacion);

	CREATE TABLE IF NOT EXISTS order_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL REFERENCES orders(id),
		item_id TEXT DEFAULT '',
		variation_id TEXT DEFAULT '',
		seller_code TEXT DEFAULT '',
		barcode TEXT DEFAULT '',
		size TEXT DEFAULT '',
		color TEXT DEFAULT '',
		quantity INTEGER NOT NULL,
		resolved_sku TEXT DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_items_order ON order_items(order_id);
	`
	_, err := db.Exec(query)
	return err
}

// Upsert inserts a new order with its items or refreshes a known one.
// Assignment and movement columns are untouched on conflict; items are
// written only the first time the order is seen.
func (r *SQLiteOrderRepository) Upsert(ctx context.Context, order *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := `
		INSERT INTO orders (external_id, pack_id, buyer_nickname, status, note, date_created, fecha_actualizacion)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			pack_id = excluded.pack_id,
			buyer_nickname = excluded.buyer_nickname,
			status = excluded.status,
			note = excluded.note,
			fecha_actualizacion = excluded.fecha_actualizacion`

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

const sqliteOrderColumns = `id, external_id, pack_id, buyer_nickname, status, note, date_created,
	asignado_flag, deposito_asignado, fecha_asignacion,
	movimiento_realizado, numero_movimiento, observacion_movimiento, fecha_actualizacion`

func scanSQLiteOrder(row interface{ Scan(...interface{}) error }) (*model.Order, error) {
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

func (r *SQLiteOrderRepository) loadItems(ctx context.Context, order *model.Order) error {
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
func (r *SQLiteOrderRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteOrderColumns+` FROM orders WHERE external_id = ?`, externalID)
	order, err := scanSQLiteOrder(row)
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

func (r *SQLiteOrderRepository) listOrders(ctx context.Context, where string, args ...interface{}) ([]*model.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteOrderColumns+` FROM orders WHERE `+where+` ORDER BY date_created ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		order, err := scanSQLiteOrder(rows)
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
func (r *SQLiteOrderRepository) ListPendingAssignment(ctx context.Context) ([]*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listOrders(ctx, `status = ? AND asignado_flag = 0`, string(model.StatusReadyToPrint))
}

// ListAssignedWithoutMovement returns assigned orders missing a movement number.
func (r *SQLiteOrderRepository) ListAssignedWithoutMovement(ctx context.Context) ([]*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listOrders(ctx, `asignado_flag = 1 AND movimiento_realizado = 0 AND numero_movimiento = ''`)
}

// OldestEligible returns the oldest ready_to_print order still missing
// its assignment or movement, or nil when none exists.
func (r *SQLiteOrderRepository) OldestEligible(ctx context.Context) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

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
func (r *SQLiteOrderRepository) ListKnownIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

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

// MarkAssigned commits an assignment with a conditional update; only
// one concurrent caller observes an affected row.
func (r *SQLiteOrderRepository) MarkAssigned(ctx context.Context, externalID, deposit string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

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
func (r *SQLiteOrderRepository) ClaimMovement(ctx context.Context, externalID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

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
func (r *SQLiteOrderRepository) RecordMovementSuccess(ctx context.Context, externalID, number, observation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

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
func (r *SQLiteOrderRepository) RecordMovementFailure(ctx context.Context, externalID, observation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

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
func (r *SQLiteOrderRepository) UpdateStatus(ctx context.Context, externalID string, status model.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

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
func (r *SQLiteOrderRepository) SetItemResolvedSKU(ctx context.Context, itemRowID int64, sku string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `UPDATE order_items SET resolved_sku = ? WHERE id = ?`, sku, itemRowID)
	if err != nil {
		return fmt.Errorf("failed to set resolved sku for item %d: %w", itemRowID, err)
	}
	return nil
}

// ResetAssignment clears assignment/claim fields for maintenance.
// Blocked when a movement number exists.
func (r *SQLiteOrderRepository) ResetAssignment(ctx context.Context, externalID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

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
func (r *SQLiteOrderRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLiteOrderRepository) Close() error {
	return r.db.Close()
}

// Ensure SQLiteOrderRepository implements OrderRepository
var _ OrderRepository = (*SQLiteOrderRepository)(nil)
