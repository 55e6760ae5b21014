package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/dosetrack/dosetrack/internal/model"
	"github.com/dosetrack/dosetrack/internal/repository"
)

// ScheduleHandler bundles dependencies for the schedule CRUD surface.
// The user repo is needed to resolve the owner's timezone for the
// next-dose hint on listings.
type ScheduleHandler struct {
	Schedules *repository.ScheduleRepo
	Users     *repository.UserRepo
}

func NewScheduleHandler(s *repository.ScheduleRepo, u *repository.UserRepo) *ScheduleHandler {
	return &ScheduleHandler{Schedules: s, Users: u}
}

// ----- DTOs -----

type slotReq struct {
	DoseNumber int             `json:"dose_number"`
	Amount     decimal.Decimal `json:"amount"`
	Time       string          `json:"time"`
}

type scheduleReq struct {
	MedicineName    string           `json:"medicine_name"`
	MedicineType    string           `json:"medicine_type"`
	DailyDoseCount  int              `json:"daily_dose_count"`
	Channels        []string         `json:"channels"`
	StartDate       string           `json:"start_date"`
	Quantity        decimal.Decimal  `json:"quantity"`
	RefillEnabled   bool             `json:"refill_enabled"`
	RefillThreshold *decimal.Decimal `json:"refill_threshold"`
	Slots           []slotReq        `json:"slots"`
}

type quantityReq struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type slotResp struct {
	ID         uint64          `json:"id"`
	DoseNumber int             `json:"dose_number"`
	Amount     decimal.Decimal `json:"amount"`
	Time       string          `json:"time"`
}

type scheduleResp struct {
	ID              uint64           `json:"id"`
	MedicineName    string           `json:"medicine_name"`
	MedicineType    string           `json:"medicine_type"`
	DailyDoseCount  int              `json:"daily_dose_count"`
	Channels        []model.Channel  `json:"channels"`
	StartDate       string           `json:"start_date"`
	Quantity        decimal.Decimal  `json:"quantity"`
	InitialQuantity decimal.Decimal  `json:"initial_quantity"`
	RefillEnabled   bool             `json:"refill_enabled"`
	RefillThreshold *decimal.Decimal `json:"refill_threshold,omitempty"`
	RefillSent      bool             `json:"refill_sent"`
	IsActive        bool             `json:"is_active"`
	NextDoseTime    string           `json:"next_dose_time,omitempty"`
	Slots           []slotResp       `json:"slots"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func toScheduleResp(sw repository.ScheduleWithSlots) scheduleResp {
	s := sw.Schedule
	resp := scheduleResp{
		ID:              s.ID,
		MedicineName:    s.MedicineName,
		MedicineType:    string(s.MedicineType),
		DailyDoseCount:  s.DailyDoseCount,
		Channels:        s.Channels,
		StartDate:       s.StartDate.Format("2006-01-02"),
		Quantity:        s.Quantity,
		InitialQuantity: s.InitialQuantity,
		RefillEnabled:   s.RefillEnabled,
		RefillSent:      s.RefillSent,
		IsActive:        s.IsActive,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.RefillThreshold.Valid {
		t := s.RefillThreshold.Decimal
		resp.RefillThreshold = &t
	}
	resp.Slots = make([]slotResp, 0, len(sw.Slots))
	for _, sl := range sw.Slots {
		resp.Slots = append(resp.Slots, slotResp{
			ID: sl.ID, DoseNumber: sl.DoseNumber, Amount: sl.Amount, Time: sl.TimeOfDay,
		})
	}
	return resp
}

// validate checks the payload and builds the model pair. It returns a
// user-facing message on rejection; nothing is mutated before every
// check passes.
func (req *scheduleReq) validate(userID uint64) (model.Schedule, []model.DoseSlot, string) {
	name := strings.TrimSpace(req.MedicineName)
	if name == "" {
		return model.Schedule{}, nil, "medicine_name required"
	}
	mt := model.MedicineType(strings.ToLower(strings.TrimSpace(req.MedicineType)))
	if !model.ValidMedicineType(mt) {
		return model.Schedule{}, nil, "medicine_type must be one of tablet, capsule, injection, syrup"
	}
	if len(req.Slots) == 0 {
		return model.Schedule{}, nil, "at least one dose slot required"
	}
	if len(req.Slots) > 10 {
		return model.Schedule{}, nil, "at most 10 dose slots allowed"
	}
	count := req.DailyDoseCount
	if count == 0 {
		count = len(req.Slots)
	}
	if count != len(req.Slots) {
		return model.Schedule{}, nil, "daily_dose_count must match the number of slots"
	}
	if len(req.Channels) == 0 {
		return model.Schedule{}, nil, "at least one notification channel required"
	}
	channels := make([]model.Channel, 0, len(req.Channels))
	seen := map[model.Channel]bool{}
	for _, raw := range req.Channels {
		ch := model.Channel(strings.ToLower(strings.TrimSpace(raw)))
		if !model.ValidChannel(ch) {
			return model.Schedule{}, nil, fmt.Sprintf("unknown channel %q", raw)
		}
		if !seen[ch] {
			seen[ch] = true
			channels = append(channels, ch)
		}
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		return model.Schedule{}, nil, "start_date must be YYYY-MM-DD"
	}
	if req.Quantity.IsNegative() {
		return model.Schedule{}, nil, "quantity must not be negative"
	}
	var threshold decimal.NullDecimal
	if req.RefillThreshold != nil {
		if req.RefillThreshold.IsNegative() {
			return model.Schedule{}, nil, "refill_threshold must not be negative"
		}
		threshold = decimal.NullDecimal{Decimal: *req.RefillThreshold, Valid: true}
	}
	if req.RefillEnabled && !threshold.Valid {
		return model.Schedule{}, nil, "refill_threshold required when refill_enabled"
	}

	slots := make([]model.DoseSlot, 0, len(req.Slots))
	seenNum := map[int]bool{}
	for i, sl := range req.Slots {
		num := sl.DoseNumber
		if num == 0 {
			num = i + 1
		}
		if num < 1 || num > count || seenNum[num] {
			return model.Schedule{}, nil, "dose_number values must be unique and within 1..daily_dose_count"
		}
		seenNum[num] = true
		if !sl.Amount.IsPositive() {
			return model.Schedule{}, nil, "slot amount must be positive"
		}
		h, m, s, err := model.ParseClock(strings.TrimSpace(sl.Time))
		if err != nil {
			return model.Schedule{}, nil, fmt.Sprintf("slot %d: %v", num, err)
		}
		slots = append(slots, model.DoseSlot{
			DoseNumber: num,
			Amount:     sl.Amount,
			TimeOfDay:  fmt.Sprintf("%02d:%02d:%02d", h, m, s),
		})
	}

	sched := model.Schedule{
		UserID:          userID,
		MedicineName:    name,
		MedicineType:    mt,
		DailyDoseCount:  count,
		Channels:        channels,
		StartDate:       start,
		Quantity:        req.Quantity,
		InitialQuantity: req.Quantity,
		RefillEnabled:   req.RefillEnabled,
		RefillThreshold: threshold,
		IsActive:        req.Quantity.IsPositive(),
	}
	return sched, slots, ""
}

// checkSMSChannel rejects sms in the channel list when the owner has
// no phone number on file; a schedule whose sms sends can only ever
// fail is a misconfiguration worth catching at write time.
func (h *ScheduleHandler) checkSMSChannel(ctx context.Context, uid uint64, channels []model.Channel) string {
	for _, ch := range channels {
		if ch != model.ChannelSMS {
			continue
		}
		u, err := h.Users.GetByID(ctx, uid)
		if err != nil {
			return ""
		}
		if u.PhoneNumber == nil || *u.PhoneNumber == "" {
			return "sms channel requires a phone number on your profile"
		}
		return ""
	}
	return ""
}

// Create makes a schedule with its slots and the auto-linked
// inventory item.
func (h *ScheduleHandler) Create(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req scheduleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	sched, slots, msg := req.validate(uid)
	if msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	if msg := h.checkSMSChannel(ctx, uid, sched.Channels); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}

	id, err := h.Schedules.Create(ctx, &sched, slots)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create schedule failed"})
	}
	out, err := h.Schedules.GetByID(ctx, uid, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load schedule failed"})
	}
	return c.JSON(http.StatusCreated, toScheduleResp(out))
}

// List returns the user's schedules, optionally filtered by is_active
// and medicine_type query params.
func (h *ScheduleHandler) List(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var isActive *bool
	switch c.QueryParam("is_active") {
	case "true", "1":
		v := true
		isActive = &v
	case "false", "0":
		v := false
		isActive = &v
	}
	mt := strings.ToLower(strings.TrimSpace(c.QueryParam("medicine_type")))
	if mt != "" && !model.ValidMedicineType(model.MedicineType(mt)) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown medicine_type"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	list, err := h.Schedules.ListByUser(ctx, uid, isActive, mt)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	// The next-dose hint is wall-clock in the owner's zone, matching
	// the clocks the slots were written against.
	localNow := time.Now().UTC()
	if u, err := h.Users.GetByID(ctx, uid); err == nil {
		localNow = localNow.In(u.Location())
	}

	out := make([]scheduleResp, 0, len(list))
	for _, sw := range list {
		resp := toScheduleResp(sw)
		if sw.Schedule.IsActive {
			resp.NextDoseTime = nextDoseClock(sw.Slots, localNow)
		}
		out = append(out, resp)
	}
	return c.JSON(http.StatusOK, echo.Map{"schedules": out, "count": len(out)})
}

// nextDoseClock returns the wall-clock time ("HH:MM") of the next slot
// at or after now's local clock, wrapping to the earliest slot when the
// day's doses are all behind.
func nextDoseClock(slots []model.DoseSlot, localNow time.Time) string {
	nowMin := localNow.Hour()*60 + localNow.Minute()
	next, earliest := -1, -1
	for i := range slots {
		h, m, _, err := slots[i].Clock()
		if err != nil {
			continue
		}
		mins := h*60 + m
		if earliest < 0 || mins < earliest {
			earliest = mins
		}
		if mins >= nowMin && (next < 0 || mins < next) {
			next = mins
		}
	}
	if next < 0 {
		next = earliest
	}
	if next < 0 {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", next/60, next%60)
}

// Get returns one schedule with its slots.
func (h *ScheduleHandler) Get(c echo.Context) error {
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

	out, err := h.Schedules.GetByID(ctx, uid, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "schedule not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, toScheduleResp(out))
}

// Update replaces the schedule and its slots wholesale. The initial
// quantity snapshot is not touched; only creation sets it.
func (h *ScheduleHandler) Update(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req scheduleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	sched, slots, msg := req.validate(uid)
	if msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}
	sched.ID = id

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	if msg := h.checkSMSChannel(ctx, uid, sched.Channels); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}

	if err := h.Schedules.Update(ctx, &sched, slots); err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "schedule not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	out, err := h.Schedules.GetByID(ctx, uid, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load schedule failed"})
	}
	return c.JSON(http.StatusOK, toScheduleResp(out))
}

// Delete removes the schedule, its slots and the linked inventory item.
func (h *ScheduleHandler) Delete(c echo.Context) error {
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

	if err := h.Schedules.Delete(ctx, uid, id); err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "schedule not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "schedule deleted"})
}

// Activate re-enables evaluation. Rejected while the stock is empty;
// top up first.
func (h *ScheduleHandler) Activate(c echo.Context) error {
	return h.setActive(c, true)
}

// Deactivate pauses evaluation without touching stock.
func (h *ScheduleHandler) Deactivate(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *ScheduleHandler) setActive(c echo.Context, active bool) error {
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

	if err := h.Schedules.SetActive(ctx, uid, id, active); err != nil {
		switch err {
		case repository.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"error": "schedule not found"})
		case repository.ErrConflict:
			return c.JSON(http.StatusConflict, echo.Map{"error": "cannot activate schedule with empty stock"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
		}
	}
	out, err := h.Schedules.GetByID(ctx, uid, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load schedule failed"})
	}
	return c.JSON(http.StatusOK, toScheduleResp(out))
}

// UpdateQuantity sets the live stock level (manual top-up or
// correction). Stock rules run on the new value, so a top-up above
// the threshold re-arms the refill latch and an update to zero
// deactivates the schedule.
func (h *ScheduleHandler) UpdateQuantity(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req quantityReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Quantity.IsNegative() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "quantity must not be negative"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	s, err := h.Schedules.UpdateQuantity(ctx, uid, id, req.Quantity)
	if err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "schedule not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":          s.ID,
		"quantity":    s.Quantity,
		"refill_sent": s.RefillSent,
		"is_active":   s.IsActive,
	})
}
