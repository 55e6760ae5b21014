package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dosetrack/dosetrack/internal/model"
	"github.com/dosetrack/dosetrack/internal/repository"
)

// NotificationHandler serves the read-only notification log surface.
// Log rows are append-only; there is deliberately no write endpoint.
type NotificationHandler struct {
	Logs *repository.NotificationRepo
}

func NewNotificationHandler(l *repository.NotificationRepo) *NotificationHandler {
	return &NotificationHandler{Logs: l}
}

type notificationResp struct {
	ID           uint64     `json:"id"`
	ScheduleID   *uint64    `json:"schedule_id,omitempty"`
	Kind         string     `json:"kind"`
	Channel      string     `json:"channel"`
	Status       string     `json:"status"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func toNotificationResp(n model.NotificationLog) notificationResp {
	return notificationResp{
		ID:           n.ID,
		ScheduleID:   n.ScheduleID,
		Kind:         string(n.Kind),
		Channel:      string(n.Channel),
		Status:       string(n.Status),
		SentAt:       n.SentAt,
		ErrorMessage: n.ErrorMessage,
		CreatedAt:    n.CreatedAt,
	}
}

// List returns the user's notification history, newest first. Query
// filters: kind, channel, status, start_date, end_date, page,
// page_size.
func (h *NotificationHandler) List(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	f := repository.NotificationFilter{}
	if v := strings.ToLower(c.QueryParam("kind")); v != "" {
		if v != string(model.KindDose) && v != string(model.KindRefill) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "kind must be dose or refill"})
		}
		f.Kind = v
	}
	if v := strings.ToLower(c.QueryParam("channel")); v != "" {
		if !model.ValidChannel(model.Channel(v)) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown channel"})
		}
		f.Channel = v
	}
	if v := strings.ToLower(c.QueryParam("status")); v != "" {
		switch model.NotificationStatus(v) {
		case model.StatusPending, model.StatusSent, model.StatusFailed:
			f.Status = v
		default:
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "status must be pending, sent or failed"})
		}
	}
	if v := c.QueryParam("start_date"); v != "" {
		d, err := parseDate(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "start_date must be YYYY-MM-DD"})
		}
		f.StartDate = d
	}
	if v := c.QueryParam("end_date"); v != "" {
		d, err := parseDate(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "end_date must be YYYY-MM-DD"})
		}
		// End of day, inclusive.
		f.EndDate = d.AddDate(0, 0, 1).Add(-time.Second)
	}
	if v := c.QueryParam("page"); v != "" {
		f.Page, _ = strconv.Atoi(v)
	}
	if v := c.QueryParam("page_size"); v != "" {
		f.PageSize, _ = strconv.Atoi(v)
	}

	return h.listWith(c, uid, f)
}

// Recent returns the last 7 days of history, newest first.
func (h *NotificationHandler) Recent(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return h.listWith(c, uid, repository.NotificationFilter{
		StartDate: time.Now().UTC().AddDate(0, 0, -7),
	})
}

// Failed returns failed deliveries, newest first.
func (h *NotificationHandler) Failed(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return h.listWith(c, uid, repository.NotificationFilter{
		Status: string(model.StatusFailed),
	})
}

func (h *NotificationHandler) listWith(c echo.Context, uid uint64, f repository.NotificationFilter) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	logs, total, err := h.Logs.List(ctx, uid, f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	out := make([]notificationResp, 0, len(logs))
	for _, n := range logs {
		out = append(out, toNotificationResp(n))
	}
	return c.JSON(http.StatusOK, echo.Map{"notifications": out, "total": total})
}

// Get returns one log entry.
func (h *NotificationHandler) Get(c echo.Context) error {
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

	n, err := h.Logs.GetByID(ctx, uid, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "notification not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, toNotificationResp(n))
}

// Stats returns aggregate counts by status, kind and channel, plus
// today and last-7-days totals.
func (h *NotificationHandler) Stats(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	stats, err := h.Logs.Stats(ctx, uid, time.Now().UTC())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, stats)
}
