package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dosetrack/dosetrack/internal/model"
)

// InventoryRepo provides data access to the inventory_items table.
// Items may be free-standing or linked to a schedule; linked items
// are kept in sync with the schedule's quantity in both directions
// (engine decrements flow in via ScheduleRepo, manual edits flow out
// to the schedule here).
type InventoryRepo struct {
	db *sql.DB
}

// NewInventoryRepo returns a new InventoryRepo bound to the given database.
func NewInventoryRepo(db *sql.DB) *InventoryRepo { return &InventoryRepo{db: db} }

const inventoryColumns = `id, user_id, schedule_id, medicine_name, medicine_type, quantity, unit,
	expiry_date, purchase_date, price, supplier, notes, is_active, created_at, updated_at`

// InventoryFilter narrows List results. Zero values mean "no filter".
type InventoryFilter struct {
	IsActive     *bool
	MedicineType string
	LowStock     bool      // quantity <= DefaultLowStockThreshold
	Expired      bool      // expiry_date before AsOf
	ExpiringIn   int       // days; > 0 selects items expiring within the window
	AsOf         time.Time // reference date for expiry filters
}

// Create inserts a manually managed inventory item and returns its ID.
func (r *InventoryRepo) Create(ctx context.Context, item *model.InventoryItem) (uint64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO inventory_items (user_id, schedule_id, medicine_name, medicine_type, quantity, unit,
			expiry_date, purchase_date, price, supplier, notes, is_active)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		item.UserID, item.ScheduleID, item.MedicineName, string(item.MedicineType),
		item.Quantity, item.Unit, nullDateArg(item.ExpiryDate), nullDateArg(item.PurchaseDate),
		nullDecimalArg(item.Price), item.Supplier, item.Notes, item.IsActive)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	item.ID = uint64(id)
	return item.ID, nil
}

// List returns the user's inventory items matching the filter,
// newest first.
func (r *InventoryRepo) List(ctx context.Context, userID uint64, f InventoryFilter) ([]model.InventoryItem, error) {
	q := "SELECT " + inventoryColumns + " FROM inventory_items WHERE user_id = ?"
	args := []interface{}{userID}
	if f.IsActive != nil {
		q += " AND is_active = ?"
		args = append(args, *f.IsActive)
	}
	if f.MedicineType != "" {
		q += " AND medicine_type = ?"
		args = append(args, f.MedicineType)
	}
	if f.LowStock {
		q += " AND quantity <= ?"
		args = append(args, model.DefaultLowStockThreshold)
	}
	asOf := f.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	if f.Expired {
		q += " AND expiry_date IS NOT NULL AND expiry_date < ?"
		args = append(args, asOf.Format("2006-01-02"))
	}
	if f.ExpiringIn > 0 {
		q += " AND expiry_date IS NOT NULL AND expiry_date >= ? AND expiry_date <= ?"
		args = append(args, asOf.Format("2006-01-02"),
			asOf.AddDate(0, 0, f.ExpiringIn).Format("2006-01-02"))
	}
	q += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.InventoryItem
	for rows.Next() {
		item, scanErr := scanInventory(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetByID fetches one item scoped to the owning user.
func (r *InventoryRepo) GetByID(ctx context.Context, userID, id uint64) (model.InventoryItem, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+inventoryColumns+" FROM inventory_items WHERE id = ? AND user_id = ? LIMIT 1", id, userID)
	item, err := scanInventory(row)
	if err == sql.ErrNoRows {
		return model.InventoryItem{}, ErrNotFound
	}
	return item, err
}

// Update rewrites the mutable fields of an item. When the item is
// linked to a schedule, the new quantity is mirrored into the
// schedule (which re-applies its stock rules) in the same
// transaction. The link itself is resolved here, under the tx,
// because callers edit from a request payload that never carries it.
func (r *InventoryRepo) Update(ctx context.Context, item *model.InventoryItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var scheduleID sql.NullInt64
	err = tx.QueryRowContext(ctx,
		"SELECT schedule_id FROM inventory_items WHERE id=? AND user_id=? FOR UPDATE",
		item.ID, item.UserID).Scan(&scheduleID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE inventory_items SET medicine_name=?, medicine_type=?, quantity=?, unit=?,
			expiry_date=?, purchase_date=?, price=?, supplier=?, notes=?, is_active=?
		 WHERE id=? AND user_id=?`,
		item.MedicineName, string(item.MedicineType), item.Quantity, item.Unit,
		nullDateArg(item.ExpiryDate), nullDateArg(item.PurchaseDate),
		nullDecimalArg(item.Price), item.Supplier, item.Notes, item.IsActive,
		item.ID, item.UserID); err != nil {
		return err
	}

	if scheduleID.Valid {
		if err := mirrorQuantityToScheduleTx(ctx, tx, uint64(scheduleID.Int64), item.Quantity); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Delete removes an item. Items linked to an active schedule are
// protected: callers must deactivate the schedule first (ErrConflict).
func (r *InventoryRepo) Delete(ctx context.Context, userID, id uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		scheduleID sql.NullInt64
	)
	err = tx.QueryRowContext(ctx,
		"SELECT schedule_id FROM inventory_items WHERE id=? AND user_id=? LIMIT 1", id, userID).
		Scan(&scheduleID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if scheduleID.Valid {
		var active bool
		err = tx.QueryRowContext(ctx,
			"SELECT is_active FROM schedules WHERE id=? LIMIT 1", scheduleID.Int64).Scan(&active)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == nil && active {
			return ErrConflict
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM inventory_items WHERE id=? AND user_id=?", id, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// Adjust applies a signed delta to an item's quantity. The row is
// locked for the duration so concurrent adjustments serialize; a
// delta that would take the stock below zero is rejected with
// ErrNegativeStock and no mutation. The note, when present, is
// appended to the item's notes with a timestamp, and the new
// quantity is mirrored into any linked schedule.
func (r *InventoryRepo) Adjust(ctx context.Context, userID, id uint64, delta decimal.Decimal, note string, now time.Time) (model.InventoryItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.InventoryItem{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		"SELECT "+inventoryColumns+" FROM inventory_items WHERE id=? AND user_id=? FOR UPDATE", id, userID)
	item, err := scanInventory(row)
	if err == sql.ErrNoRows {
		return model.InventoryItem{}, ErrNotFound
	}
	if err != nil {
		return model.InventoryItem{}, err
	}

	next, ok := model.AdjustedQuantity(item.Quantity, delta)
	if !ok {
		return model.InventoryItem{}, ErrNegativeStock
	}
	item.Quantity = next

	if note != "" {
		line := fmt.Sprintf("[%s] Adjusted by %s: %s", now.UTC().Format(time.RFC3339), delta.String(), note)
		if item.Notes != nil && *item.Notes != "" {
			line = *item.Notes + "\n" + line
		}
		item.Notes = &line
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE inventory_items SET quantity=?, notes=? WHERE id=?",
		item.Quantity, item.Notes, item.ID); err != nil {
		return model.InventoryItem{}, err
	}

	if item.ScheduleID != nil {
		if err := mirrorQuantityToScheduleTx(ctx, tx, *item.ScheduleID, item.Quantity); err != nil {
			return model.InventoryItem{}, err
		}
	}
	return item, tx.Commit()
}

// mirrorQuantityToScheduleTx pushes an inventory quantity into the
// linked schedule and re-applies the schedule stock rules in SQL:
// empty schedules deactivate, a top-up above the threshold re-arms
// the refill latch.
func mirrorQuantityToScheduleTx(ctx context.Context, tx *sql.Tx, scheduleID uint64, quantity decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE schedules SET quantity = ?,
			is_active = IF(? <= 0, 0, is_active),
			refill_sent = IF(refill_threshold IS NOT NULL AND ? > refill_threshold, 0, refill_sent)
		 WHERE id = ?`,
		quantity, quantity, quantity, scheduleID)
	return err
}

func scanInventory(row rowScanner) (model.InventoryItem, error) {
	var (
		item       model.InventoryItem
		scheduleID sql.NullInt64
		expiry     sql.NullTime
		purchase   sql.NullTime
		price      decimal.NullDecimal
		supplier   sql.NullString
		notes      sql.NullString
	)
	err := row.Scan(&item.ID, &item.UserID, &scheduleID, &item.MedicineName, &item.MedicineType,
		&item.Quantity, &item.Unit, &expiry, &purchase, &price, &supplier, &notes,
		&item.IsActive, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return model.InventoryItem{}, err
	}
	if scheduleID.Valid {
		sid := uint64(scheduleID.Int64)
		item.ScheduleID = &sid
	}
	if expiry.Valid {
		t := expiry.Time
		item.ExpiryDate = &t
	}
	if purchase.Valid {
		t := purchase.Time
		item.PurchaseDate = &t
	}
	item.Price = price
	if supplier.Valid {
		s := supplier.String
		item.Supplier = &s
	}
	if notes.Valid {
		n := notes.String
		item.Notes = &n
	}
	return item, nil
}

func nullDateArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}
