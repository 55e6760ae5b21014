package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dosetrack/dosetrack/internal/model"
	"github.com/dosetrack/dosetrack/internal/repository"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func scheduleWithSlots(id uint64, name, initial string, start time.Time, amounts map[string]string) repository.ScheduleWithSlots {
	s := model.Schedule{
		ID:              id,
		UserID:          1,
		MedicineName:    name,
		MedicineType:    model.MedicineTablet,
		StartDate:       start,
		InitialQuantity: dec(initial),
		IsActive:        true,
	}
	var slots []model.DoseSlot
	n := 1
	for tod, amt := range amounts {
		slots = append(slots, model.DoseSlot{
			ScheduleID: id, DoseNumber: n, Amount: dec(amt), TimeOfDay: tod,
		})
		n++
	}
	return repository.ScheduleWithSlots{Schedule: s, Slots: slots}
}

func TestBuildDashboardProjectedRemaining(t *testing.T) {
	// 100 units, 10/day from 2024-01-01. Four elapsed days at
	// 2024-01-05 leave 100 - 40 = 60; the target day itself is not
	// counted as consumed.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	scheds := []repository.ScheduleWithSlots{
		scheduleWithSlots(1, "Metformin", "100", start, map[string]string{
			"08:00:00": "5",
			"20:00:00": "5",
		}),
	}
	today := start
	target := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	d := BuildDashboard(scheds, target, today)
	if d.TotalDoses != 2 {
		t.Fatalf("TotalDoses = %d, want 2", d.TotalDoses)
	}
	for _, g := range d.Groups {
		for _, dose := range g.Doses {
			if !dose.ProjectedRemaining.Equal(dec("60")) {
				t.Fatalf("projected remaining = %s, want 60", dose.ProjectedRemaining)
			}
		}
	}
}

func TestBuildDashboardExcludesDepleted(t *testing.T) {
	// By 2024-01-11 ten full days are elapsed: 100 - 100 = 0, and a
	// zero projection is excluded, not shown.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	scheds := []repository.ScheduleWithSlots{
		scheduleWithSlots(1, "Metformin", "100", start, map[string]string{
			"08:00:00": "10",
		}),
	}
	target := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)

	d := BuildDashboard(scheds, target, start)
	if d.TotalDoses != 0 || len(d.Groups) != 0 {
		t.Fatalf("depleted schedule must be excluded, got %+v", d.Groups)
	}

	// One day earlier, 10 remain and the dose still shows.
	target = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	d = BuildDashboard(scheds, target, start)
	if d.TotalDoses != 1 {
		t.Fatalf("TotalDoses = %d on the last projected day, want 1", d.TotalDoses)
	}
	if !d.Groups[0].Doses[0].ProjectedRemaining.Equal(dec("10")) {
		t.Fatalf("remaining = %s, want 10", d.Groups[0].Doses[0].ProjectedRemaining)
	}
}

func TestBuildDashboardSkipsNotYetStarted(t *testing.T) {
	start := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	scheds := []repository.ScheduleWithSlots{
		scheduleWithSlots(1, "Metformin", "100", start, map[string]string{"08:00:00": "5"}),
	}
	target := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	d := BuildDashboard(scheds, target, target)
	if d.TotalDoses != 0 {
		t.Fatal("schedule starting after the target date must not project")
	}
}

func TestBuildDashboardGroupsSortedByTime(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	scheds := []repository.ScheduleWithSlots{
		scheduleWithSlots(1, "Metformin", "100", start, map[string]string{
			"20:00:00": "1",
			"08:00:00": "1",
			"12:30:00": "1",
		}),
		scheduleWithSlots(2, "Amoxicillin", "50", start, map[string]string{
			"08:00:00": "2",
		}),
	}
	target := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	d := BuildDashboard(scheds, target, start)
	want := []string{"08:00", "12:30", "20:00"}
	if len(d.Groups) != len(want) {
		t.Fatalf("groups = %d, want %d", len(d.Groups), len(want))
	}
	for i, g := range d.Groups {
		if g.Time != want[i] {
			t.Fatalf("group %d time = %q, want %q", i, g.Time, want[i])
		}
	}
	// Both schedules share the 08:00 group.
	if len(d.Groups[0].Doses) != 2 {
		t.Fatalf("08:00 group has %d doses, want 2", len(d.Groups[0].Doses))
	}
	if d.TotalDoses != 4 {
		t.Fatalf("TotalDoses = %d, want 4", d.TotalDoses)
	}
}

func TestBuildDashboardMetadata(t *testing.T) {
	today := time.Date(2024, 6, 1, 15, 42, 0, 0, time.UTC)
	target := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	d := BuildDashboard(nil, target, today)
	if d.Date != "2024-06-03" {
		t.Fatalf("Date = %q", d.Date)
	}
	if d.DayName != "Monday" {
		t.Fatalf("DayName = %q, want Monday", d.DayName)
	}
	if d.RangeStart != "2024-06-01" || d.RangeEnd != "2024-06-16" {
		t.Fatalf("range = %q..%q, want 2024-06-01..2024-06-16", d.RangeStart, d.RangeEnd)
	}
}

func TestParseProjectionDate(t *testing.T) {
	today := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

	d, err := ParseProjectionDate("", today)
	if err != nil {
		t.Fatalf("empty date: %v", err)
	}
	if d.Format("2006-01-02") != "2024-06-01" {
		t.Fatalf("empty date resolved to %s, want today", d.Format("2006-01-02"))
	}

	if _, err := ParseProjectionDate("2024-06-16", today); err != nil {
		t.Fatal("day 15 of the horizon must be accepted")
	}
	if _, err := ParseProjectionDate("2024-06-17", today); err == nil {
		t.Fatal("expected error beyond the 15-day horizon")
	}
	if _, err := ParseProjectionDate("2024-05-31", today); err == nil {
		t.Fatal("expected error for a past date")
	}
	if _, err := ParseProjectionDate("junk", today); err == nil {
		t.Fatal("expected error for a malformed date")
	}
}
