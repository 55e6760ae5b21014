package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestIsLowStock(t *testing.T) {
	it := InventoryItem{Quantity: dec("10")}
	if !it.IsLowStock(DefaultLowStockThreshold) {
		t.Fatal("expected low stock at exactly the threshold")
	}
	it.Quantity = dec("10.5")
	if it.IsLowStock(DefaultLowStockThreshold) {
		t.Fatal("expected not low stock above the threshold")
	}
	it.Quantity = decimal.Zero
	if !it.IsLowStock(DefaultLowStockThreshold) {
		t.Fatal("expected empty item to be low stock")
	}
}

func TestIsExpired(t *testing.T) {
	asOf := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

	it := InventoryItem{}
	if it.IsExpired(asOf) {
		t.Fatal("item without expiry date must never expire")
	}

	yesterday := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	it.ExpiryDate = &yesterday
	if !it.IsExpired(asOf) {
		t.Fatal("expected item expired yesterday to be expired")
	}

	// Expiring today still counts as usable.
	today := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	it.ExpiryDate = &today
	if it.IsExpired(asOf) {
		t.Fatal("item expiring today must not yet be expired")
	}

	tomorrow := time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC)
	it.ExpiryDate = &tomorrow
	if it.IsExpired(asOf) {
		t.Fatal("item expiring tomorrow must not be expired")
	}
}

func TestDefaultUnit(t *testing.T) {
	cases := []struct {
		mt   MedicineType
		want string
	}{
		{MedicineTablet, "tablets"},
		{MedicineCapsule, "tablets"},
		{MedicineSyrup, "ml"},
		{MedicineInjection, "ml"},
	}
	for _, tc := range cases {
		if got := tc.mt.DefaultUnit(); got != tc.want {
			t.Fatalf("DefaultUnit(%s) = %q, want %q", tc.mt, got, tc.want)
		}
	}
}
