package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/dosetrack/dosetrack/internal/model"
	"github.com/dosetrack/dosetrack/internal/repository"
)

// InventoryHandler bundles dependencies for the inventory surface.
type InventoryHandler struct {
	Items *repository.InventoryRepo
}

func NewInventoryHandler(i *repository.InventoryRepo) *InventoryHandler {
	return &InventoryHandler{Items: i}
}

// ----- DTOs -----

type inventoryReq struct {
	MedicineName string           `json:"medicine_name"`
	MedicineType string           `json:"medicine_type"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Unit         string           `json:"unit"`
	ExpiryDate   string           `json:"expiry_date"`
	PurchaseDate string           `json:"purchase_date"`
	Price        *decimal.Decimal `json:"price"`
	Supplier     string           `json:"supplier"`
	Notes        string           `json:"notes"`
}

type adjustReq struct {
	Delta decimal.Decimal `json:"delta"`
	Note  string          `json:"note"`
}

type inventoryResp struct {
	ID           uint64           `json:"id"`
	ScheduleID   *uint64          `json:"schedule_id,omitempty"`
	MedicineName string           `json:"medicine_name"`
	MedicineType string           `json:"medicine_type"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Unit         string           `json:"unit"`
	ExpiryDate   *string          `json:"expiry_date,omitempty"`
	PurchaseDate *string          `json:"purchase_date,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Supplier     *string          `json:"supplier,omitempty"`
	Notes        *string          `json:"notes,omitempty"`
	IsActive     bool             `json:"is_active"`
	LowStock     bool             `json:"low_stock"`
	Expired      bool             `json:"expired"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func toInventoryResp(it model.InventoryItem, now time.Time) inventoryResp {
	resp := inventoryResp{
		ID:           it.ID,
		ScheduleID:   it.ScheduleID,
		MedicineName: it.MedicineName,
		MedicineType: string(it.MedicineType),
		Quantity:     it.Quantity,
		Unit:         it.Unit,
		Supplier:     it.Supplier,
		Notes:        it.Notes,
		IsActive:     it.IsActive,
		LowStock:     it.IsLowStock(model.DefaultLowStockThreshold),
		Expired:      it.IsExpired(now),
		CreatedAt:    it.CreatedAt,
		UpdatedAt:    it.UpdatedAt,
	}
	if it.ExpiryDate != nil {
		d := it.ExpiryDate.Format("2006-01-02")
		resp.ExpiryDate = &d
	}
	if it.PurchaseDate != nil {
		d := it.PurchaseDate.Format("2006-01-02")
		resp.PurchaseDate = &d
	}
	if it.Price.Valid {
		p := it.Price.Decimal
		resp.Price = &p
	}
	return resp
}

// validate builds the model from the payload. Create and Update share
// the same rules; linked-schedule fields are never writable here.
func (req *inventoryReq) validate(userID uint64) (model.InventoryItem, string) {
	name := strings.TrimSpace(req.MedicineName)
	if name == "" {
		return model.InventoryItem{}, "medicine_name required"
	}
	mt := model.MedicineType(strings.ToLower(strings.TrimSpace(req.MedicineType)))
	if !model.ValidMedicineType(mt) {
		return model.InventoryItem{}, "medicine_type must be one of tablet, capsule, injection, syrup"
	}
	if req.Quantity.IsNegative() {
		return model.InventoryItem{}, "quantity must not be negative"
	}
	unit := strings.TrimSpace(req.Unit)
	if unit == "" {
		unit = mt.DefaultUnit()
	}
	item := model.InventoryItem{
		UserID:       userID,
		MedicineName: name,
		MedicineType: mt,
		Quantity:     req.Quantity,
		Unit:         unit,
		IsActive:     true,
	}
	if req.ExpiryDate != "" {
		d, err := parseDate(req.ExpiryDate)
		if err != nil {
			return model.InventoryItem{}, "expiry_date must be YYYY-MM-DD"
		}
		item.ExpiryDate = &d
	}
	if req.PurchaseDate != "" {
		d, err := parseDate(req.PurchaseDate)
		if err != nil {
			return model.InventoryItem{}, "purchase_date must be YYYY-MM-DD"
		}
		item.PurchaseDate = &d
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return model.InventoryItem{}, "price must not be negative"
		}
		item.Price = decimal.NullDecimal{Decimal: *req.Price, Valid: true}
	}
	if s := strings.TrimSpace(req.Supplier); s != "" {
		item.Supplier = &s
	}
	if n := strings.TrimSpace(req.Notes); n != "" {
		item.Notes = &n
	}
	return item, ""
}

// Create adds a manually managed inventory item (not linked to any
// schedule; schedule-linked items are created with their schedule).
func (h *InventoryHandler) Create(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req inventoryReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	item, msg := req.validate(uid)
	if msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	id, err := h.Items.Create(ctx, &item)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create item failed"})
	}
	out, err := h.Items.GetByID(ctx, uid, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load item failed"})
	}
	return c.JSON(http.StatusCreated, toInventoryResp(out, time.Now().UTC()))
}

// List returns the user's inventory. Query filters: is_active,
// medicine_type, low_stock=true, expired=true, expiring_in=N (days).
func (h *InventoryHandler) List(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	f := repository.InventoryFilter{AsOf: time.Now().UTC()}
	switch c.QueryParam("is_active") {
	case "true", "1":
		v := true
		f.IsActive = &v
	case "false", "0":
		v := false
		f.IsActive = &v
	}
	mt := strings.ToLower(strings.TrimSpace(c.QueryParam("medicine_type")))
	if mt != "" && !model.ValidMedicineType(model.MedicineType(mt)) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown medicine_type"})
	}
	f.MedicineType = mt
	f.LowStock = c.QueryParam("low_stock") == "true"
	f.Expired = c.QueryParam("expired") == "true"
	if v := c.QueryParam("expiring_in"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "expiring_in must be a positive number of days"})
		}
		f.ExpiringIn = n
	}

	return h.listWith(c, uid, f)
}

// LowStock lists items at or below the default low-stock threshold.
func (h *InventoryHandler) LowStock(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return h.listWith(c, uid, repository.InventoryFilter{LowStock: true, AsOf: time.Now().UTC()})
}

// Expired lists items whose expiry date has passed.
func (h *InventoryHandler) Expired(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return h.listWith(c, uid, repository.InventoryFilter{Expired: true, AsOf: time.Now().UTC()})
}

// ExpiringSoon lists items expiring within ?days (default 30).
func (h *InventoryHandler) ExpiringSoon(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	days := 30
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "days must be a positive number"})
		}
		days = n
	}
	return h.listWith(c, uid, repository.InventoryFilter{ExpiringIn: days, AsOf: time.Now().UTC()})
}

func (h *InventoryHandler) listWith(c echo.Context, uid uint64, f repository.InventoryFilter) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	items, err := h.Items.List(ctx, uid, f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	now := time.Now().UTC()
	out := make([]inventoryResp, 0, len(items))
	for _, it := range items {
		out = append(out, toInventoryResp(it, now))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out, "count": len(out)})
}

// Get returns one inventory item.
func (h *InventoryHandler) Get(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	out, err := h.Items.GetByID(ctx, uid, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "item not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, toInventoryResp(out, time.Now().UTC()))
}

// Update rewrites the item's editable fields. A quantity change on a
// schedule-linked item mirrors into the schedule, stock rules applied.
func (h *InventoryHandler) Update(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req inventoryReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	item, msg := req.validate(uid)
	if msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}
	item.ID = id

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	if err := h.Items.Update(ctx, &item); err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "item not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	out, err := h.Items.GetByID(ctx, uid, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load item failed"})
	}
	return c.JSON(http.StatusOK, toInventoryResp(out, time.Now().UTC()))
}

// Delete removes an item. Items linked to an active schedule are
// protected; deactivate or delete the schedule first.
func (h *InventoryHandler) Delete(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	if err := h.Items.Delete(ctx, uid, id); err != nil {
		switch err {
		case repository.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"error": "item not found"})
		case repository.ErrConflict:
			return c.JSON(http.StatusConflict, echo.Map{"error": "item is linked to an active schedule"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "item deleted"})
}

// Adjust applies a signed delta to the stock. An underflow is rejected
// without mutation.
func (h *InventoryHandler) Adjust(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req adjustReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Delta.IsZero() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "delta must not be zero"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	out, err := h.Items.Adjust(ctx, uid, id, req.Delta, strings.TrimSpace(req.Note), time.Now().UTC())
	if err != nil {
		switch err {
		case repository.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"error": "item not found"})
		case repository.ErrNegativeStock:
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "adjustment would drive stock negative"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "adjust failed"})
		}
	}
	return c.JSON(http.StatusOK, toInventoryResp(out, time.Now().UTC()))
}
