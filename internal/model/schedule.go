package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MedicineType enumerates the supported medicine forms.
type MedicineType string

const (
	MedicineTablet    MedicineType = "tablet"
	MedicineCapsule   MedicineType = "capsule"
	MedicineInjection MedicineType = "injection"
	MedicineSyrup     MedicineType = "syrup"
)

// ValidMedicineType reports whether t is one of the known forms.
func ValidMedicineType(t MedicineType) bool {
	switch t {
	case MedicineTablet, MedicineCapsule, MedicineInjection, MedicineSyrup:
		return true
	}
	return false
}

// DefaultUnit returns the inventory unit auto-created alongside a
// schedule for the given medicine form.
func (t MedicineType) DefaultUnit() string {
	switch t {
	case MedicineTablet, MedicineCapsule:
		return "tablets"
	default:
		return "ml"
	}
}

// Schedule is a medication plan owned by one user.  It mirrors the
// `schedules` table.  Quantity is the live stock counter decremented
// by the evaluation engine; InitialQuantity is an immutable snapshot
// taken at creation and is the sole input to the dashboard
// projection, so the two may legitimately diverge after manual
// adjustments.
//
// RefillSent is the one-shot latch for low-stock alerts: it is set
// after a refill dispatch and only cleared again when the quantity
// rises back above the threshold (see ApplyStockRules).
//
// Fields:
//  ID              – primary key identifier.
//  UserID          – owning user.
//  MedicineName    – medicine display name.
//  MedicineType    – one of tablet/capsule/injection/syrup.
//  DailyDoseCount  – declared number of dose slots (1-10).
//  Channels        – non-empty set of notification channels.
//  StartDate       – first day the plan applies (date only, user-local).
//  Quantity        – current stock (decimal).
//  InitialQuantity – stock snapshot at creation (immutable).
//  RefillEnabled   – whether low-stock alerts are wanted.
//  RefillThreshold – stock level that arms a refill alert (nullable).
//  RefillSent      – one-shot latch for the current low-stock episode.
//  IsActive        – whether the evaluation engine considers this plan.
//  CreatedAt       – creation timestamp.
//  UpdatedAt       – last update timestamp.
type Schedule struct {
	ID              uint64               // schedules.id
	UserID          uint64               // schedules.user_id
	MedicineName    string               // schedules.medicine_name
	MedicineType    MedicineType         // schedules.medicine_type
	DailyDoseCount  int                  // schedules.daily_dose_count
	Channels        []Channel            // schedules.channels (JSON)
	StartDate       time.Time            // schedules.start_date (date only)
	Quantity        decimal.Decimal      // schedules.quantity
	InitialQuantity decimal.Decimal      // schedules.initial_quantity
	RefillEnabled   bool                 // schedules.refill_enabled
	RefillThreshold decimal.NullDecimal  // schedules.refill_threshold (nullable)
	RefillSent      bool                 // schedules.refill_sent
	IsActive        bool                 // schedules.is_active
	CreatedAt       time.Time            // schedules.created_at
	UpdatedAt       time.Time            // schedules.updated_at
}

// ApplyStockRules enforces the two write-path invariants on the
// in-memory struct before it is persisted:
//
//  quantity <= 0            => is_active = false
//  quantity >  threshold    => refill_sent = false
//
// The second rule is what re-arms the refill latch after a manual
// top-up so the next dip below the threshold alerts again.
func (s *Schedule) ApplyStockRules() {
	if s.RefillThreshold.Valid && s.Quantity.GreaterThan(s.RefillThreshold.Decimal) {
		s.RefillSent = false
	}
	if s.Quantity.LessThanOrEqual(decimal.Zero) {
		s.IsActive = false
	}
}

// RefillDue reports whether a refill alert should be triggered for
// the current stock level: refill alerts enabled, latch not yet
// set, a threshold configured and stock at or below it.
func (s *Schedule) RefillDue() bool {
	return s.RefillEnabled &&
		!s.RefillSent &&
		s.RefillThreshold.Valid &&
		s.Quantity.LessThanOrEqual(s.RefillThreshold.Decimal)
}

// DailyAmount sums the dose amounts of the given slots.  Used by the
// dashboard projection to compute per-day consumption.
func DailyAmount(slots []DoseSlot) decimal.Decimal {
	total := decimal.Zero
	for _, slot := range slots {
		total = total.Add(slot.Amount)
	}
	return total
}

// DoseSlot is one scheduled time-of-day within a schedule.  It
// mirrors the `dose_slots` table.  TimeOfDay carries no date
// component; the slot recurs daily at that wall-clock time in the
// owning user's timezone.
//
// Fields:
//  ID         – primary key identifier.
//  ScheduleID – owning schedule.
//  DoseNumber – ordinal within the schedule (unique per schedule).
//  Amount     – amount taken per dose, strictly positive.
//  TimeOfDay  – "HH:MM:SS" wall-clock time.
//  CreatedAt  – creation timestamp.
//  UpdatedAt  – last update timestamp.
type DoseSlot struct {
	ID         uint64          // dose_slots.id
	ScheduleID uint64          // dose_slots.schedule_id
	DoseNumber int             // dose_slots.dose_number
	Amount     decimal.Decimal // dose_slots.amount
	TimeOfDay  string          // dose_slots.time_of_day ("15:04:05")
	CreatedAt  time.Time       // dose_slots.created_at
	UpdatedAt  time.Time       // dose_slots.updated_at
}

// Clock parses the slot's TimeOfDay into hour, minute and second
// components.  Accepts "HH:MM" and "HH:MM:SS".
func (d *DoseSlot) Clock() (hour, minute, second int, err error) {
	return ParseClock(d.TimeOfDay)
}

// ParseClock parses a wall-clock string of the form "HH:MM" or
// "HH:MM:SS" and validates the component ranges.
func ParseClock(s string) (hour, minute, second int, err error) {
	switch len(s) {
	case 5:
		_, err = fmt.Sscanf(s, "%02d:%02d", &hour, &minute)
	case 8:
		_, err = fmt.Sscanf(s, "%02d:%02d:%02d", &hour, &minute, &second)
	default:
		return 0, 0, 0, fmt.Errorf("invalid time of day %q", s)
	}
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid time of day %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return 0, 0, 0, fmt.Errorf("time of day %q out of range", s)
	}
	return hour, minute, second, nil
}

// AdjustedQuantity applies a signed delta to a stock level and
// reports whether the result is acceptable.  A result below zero is
// rejected without mutation; callers translate ok=false into
// ErrNegativeStock.
func AdjustedQuantity(current, delta decimal.Decimal) (decimal.Decimal, bool) {
	next := current.Add(delta)
	if next.IsNegative() {
		return current, false
	}
	return next, true
}
