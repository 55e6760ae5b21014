package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryItem is one stock record owned by a user.  It mirrors the
// `inventory_items` table.  An item can exist on its own (manually
// created) or be linked to a schedule, in which case the evaluation
// engine mirrors the schedule's quantity into it after every dose
// dispatch and every manual quantity update.
//
// Fields:
//  ID           – primary key identifier.
//  UserID       – owning user.
//  ScheduleID   – linked schedule for auto-management (nullable).
//  MedicineName – medicine display name.
//  MedicineType – one of tablet/capsule/injection/syrup.
//  Quantity     – current stock, never negative.
//  Unit         – unit of measurement (tablets, ml, units, ...).
//  ExpiryDate   – expiry date (nullable; absent means never expires).
//  PurchaseDate – purchase date (nullable).
//  Price        – purchase price (nullable).
//  Supplier     – supplier name (nullable).
//  Notes        – free-text notes; adjustment audit lines are appended here.
//  IsActive     – whether the item is shown in active listings.
//  CreatedAt    – creation timestamp.
//  UpdatedAt    – last update timestamp.
type InventoryItem struct {
	ID           uint64              // inventory_items.id
	UserID       uint64              // inventory_items.user_id
	ScheduleID   *uint64             // inventory_items.schedule_id (nullable)
	MedicineName string              // inventory_items.medicine_name
	MedicineType MedicineType        // inventory_items.medicine_type
	Quantity     decimal.Decimal     // inventory_items.quantity
	Unit         string              // inventory_items.unit
	ExpiryDate   *time.Time          // inventory_items.expiry_date (nullable)
	PurchaseDate *time.Time          // inventory_items.purchase_date (nullable)
	Price        decimal.NullDecimal // inventory_items.price (nullable)
	Supplier     *string             // inventory_items.supplier (nullable)
	Notes        *string             // inventory_items.notes (nullable)
	IsActive     bool                // inventory_items.is_active
	CreatedAt    time.Time           // inventory_items.created_at
	UpdatedAt    time.Time           // inventory_items.updated_at
}

// DefaultLowStockThreshold is the stock level at or below which an
// item is reported as low on the inventory surfaces.
var DefaultLowStockThreshold = decimal.NewFromInt(10)

// IsLowStock reports whether the item's quantity is at or below the
// given threshold.
func (i *InventoryItem) IsLowStock(threshold decimal.Decimal) bool {
	return i.Quantity.LessThanOrEqual(threshold)
}

// IsExpired reports whether the item's expiry date has passed as of
// the given instant.  Items without an expiry date never expire.
func (i *InventoryItem) IsExpired(asOf time.Time) bool {
	if i.ExpiryDate == nil {
		return false
	}
	y, m, d := asOf.UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return i.ExpiryDate.Before(today)
}
