package handler

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestInventoryValidateDefaultsUnit(t *testing.T) {
	req := inventoryReq{MedicineName: "Metformin", MedicineType: "tablet", Quantity: dec("30")}
	item, msg := req.validate(7)
	if msg != "" {
		t.Fatalf("unexpected rejection: %s", msg)
	}
	if item.Unit != "tablets" {
		t.Fatalf("unit = %q, want default tablets", item.Unit)
	}
	if !item.IsActive {
		t.Fatal("new item must start active")
	}

	req.MedicineType = "syrup"
	item, msg = req.validate(7)
	if msg != "" {
		t.Fatalf("unexpected rejection: %s", msg)
	}
	if item.Unit != "ml" {
		t.Fatalf("unit = %q, want default ml for syrup", item.Unit)
	}
}

func TestInventoryValidateOptionalFields(t *testing.T) {
	req := inventoryReq{
		MedicineName: "Metformin",
		MedicineType: "tablet",
		Quantity:     dec("30"),
		Unit:         "boxes",
		ExpiryDate:   "2025-12-31",
		Price:        decPtr("4.99"),
		Supplier:     "City Pharmacy",
	}
	item, msg := req.validate(7)
	if msg != "" {
		t.Fatalf("unexpected rejection: %s", msg)
	}
	if item.Unit != "boxes" {
		t.Fatalf("unit = %q", item.Unit)
	}
	if item.ExpiryDate == nil || item.ExpiryDate.Format("2006-01-02") != "2025-12-31" {
		t.Fatalf("expiry = %v", item.ExpiryDate)
	}
	if !item.Price.Valid || !item.Price.Decimal.Equal(dec("4.99")) {
		t.Fatalf("price = %+v", item.Price)
	}
	if item.Supplier == nil || *item.Supplier != "City Pharmacy" {
		t.Fatalf("supplier = %v", item.Supplier)
	}
}

func TestInventoryValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		req  inventoryReq
	}{
		{"empty name", inventoryReq{MedicineType: "tablet", Quantity: dec("1")}},
		{"bad type", inventoryReq{MedicineName: "X", MedicineType: "powder", Quantity: dec("1")}},
		{"negative quantity", inventoryReq{MedicineName: "X", MedicineType: "tablet", Quantity: dec("-1")}},
		{"bad expiry", inventoryReq{MedicineName: "X", MedicineType: "tablet", Quantity: dec("1"), ExpiryDate: "soon"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, msg := tc.req.validate(7); msg == "" {
				t.Fatal("expected rejection")
			}
		})
	}
}

func TestInventoryValidateZeroQuantityAllowed(t *testing.T) {
	req := inventoryReq{MedicineName: "X", MedicineType: "tablet", Quantity: decimal.Zero}
	if _, msg := req.validate(7); msg != "" {
		t.Fatalf("zero stock is a valid item, got rejection: %s", msg)
	}
}
