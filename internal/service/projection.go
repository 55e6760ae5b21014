// Package service holds the read-side projection calculator and the
// refill queue publisher.
package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dosetrack/dosetrack/internal/model"
	"github.com/dosetrack/dosetrack/internal/repository"
)

// ProjectionHorizonDays bounds how far ahead the dashboard projects.
const ProjectionHorizonDays = 15

// ProjectedDose is one forecast dose entry on the dashboard.
type ProjectedDose struct {
	ScheduleID         uint64          `json:"schedule_id"`
	MedicineName       string          `json:"medicine_name"`
	MedicineType       string          `json:"medicine_type"`
	Amount             decimal.Decimal `json:"amount"`
	ProjectedRemaining decimal.Decimal `json:"projected_remaining"`
}

// TimeGroup collects the doses projected for one time of day.
type TimeGroup struct {
	Time  string          `json:"time"`
	Doses []ProjectedDose `json:"doses"`
}

// Dashboard is the full projection for one target date.
type Dashboard struct {
	Date       string      `json:"date"`
	DayName    string      `json:"day_name"`
	RangeStart string      `json:"range_start"`
	RangeEnd   string      `json:"range_end"`
	Groups     []TimeGroup `json:"groups"`
	TotalDoses int         `json:"total_doses"`
}

// ParseProjectionDate validates a dashboard target date. An empty value
// means today. Dates outside [today, today+15] are rejected; the
// projection model degrades quickly past that horizon and the past is
// the notification log's job, not a forecast.
func ParseProjectionDate(raw string, today time.Time) (time.Time, error) {
	today = midnightUTC(today)
	if raw == "" {
		return today, nil
	}
	d, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", raw)
	}
	max := today.AddDate(0, 0, ProjectionHorizonDays)
	if d.Before(today) || d.After(max) {
		return time.Time{}, fmt.Errorf("date must be between %s and %s",
			today.Format("2006-01-02"), max.Format("2006-01-02"))
	}
	return d, nil
}

// BuildDashboard computes the projection for target from the given
// schedules. It is a pure simulation over initial_quantity and elapsed
// days; live stock and manual adjustments deliberately play no part,
// so the forecast can disagree with the inventory ledger.
func BuildDashboard(schedules []repository.ScheduleWithSlots, target, today time.Time) Dashboard {
	target = midnightUTC(target)
	today = midnightUTC(today)

	byTime := make(map[string][]ProjectedDose)
	total := 0
	for i := range schedules {
		s := &schedules[i].Schedule
		slots := schedules[i].Slots
		if len(slots) == 0 {
			continue
		}
		days := daysBetween(midnightUTC(s.StartDate), target)
		if days < 0 {
			continue
		}
		consumed := model.DailyAmount(slots).Mul(decimal.NewFromInt(int64(days)))
		remaining := s.InitialQuantity.Sub(consumed)
		if !remaining.GreaterThan(decimal.Zero) {
			continue
		}
		for _, slot := range slots {
			key := clockKey(slot.TimeOfDay)
			byTime[key] = append(byTime[key], ProjectedDose{
				ScheduleID:         s.ID,
				MedicineName:       s.MedicineName,
				MedicineType:       string(s.MedicineType),
				Amount:             slot.Amount,
				ProjectedRemaining: remaining,
			})
			total++
		}
	}

	keys := make([]string, 0, len(byTime))
	for k := range byTime {
		keys = append(keys, k)
	}
	// Zero-padded HH:MM sorts correctly as text.
	sort.Strings(keys)

	groups := make([]TimeGroup, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, TimeGroup{Time: k, Doses: byTime[k]})
	}

	return Dashboard{
		Date:       target.Format("2006-01-02"),
		DayName:    target.Weekday().String(),
		RangeStart: today.Format("2006-01-02"),
		RangeEnd:   today.AddDate(0, 0, ProjectionHorizonDays).Format("2006-01-02"),
		Groups:     groups,
		TotalDoses: total,
	}
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}

func clockKey(timeOfDay string) string {
	h, m, _, err := model.ParseClock(timeOfDay)
	if err != nil {
		return timeOfDay
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}
