package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dosetrack/dosetrack/internal/repository"
	"github.com/dosetrack/dosetrack/internal/service"
)

// DashboardHandler serves the projected dose view.
type DashboardHandler struct {
	Schedules *repository.ScheduleRepo
}

func NewDashboardHandler(s *repository.ScheduleRepo) *DashboardHandler {
	return &DashboardHandler{Schedules: s}
}

// Dashboard returns the dose projection for ?date=YYYY-MM-DD (default
// today), constrained to the next 15 days. The projection simulates
// consumption from each schedule's immutable initial quantity; it
// reads nothing live and writes nothing.
func (h *DashboardHandler) Dashboard(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	today := time.Now().UTC()
	target, err := service.ParseProjectionDate(c.QueryParam("date"), today)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	schedules, err := h.Schedules.ListStartedBy(ctx, uid, target)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, service.BuildDashboard(schedules, target, today))
}
