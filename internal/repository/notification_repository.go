package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/dosetrack/dosetrack/internal/model"
)

// NotificationRepo provides read access, the idempotency lookup and
// retention maintenance for the append-only notification_logs table.
// Writes happen through ScheduleRepo's dispatch commits so that log
// rows and stock decrements share a transaction.
type NotificationRepo struct {
	db *sql.DB
}

// NewNotificationRepo returns a new NotificationRepo bound to the given database.
func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

const notificationColumns = "id, user_id, schedule_id, kind, channel, status, sent_at, error_message, created_at"

// NotificationFilter narrows List results. Zero values mean "no filter".
type NotificationFilter struct {
	Kind      string
	Channel   string
	Status    string
	StartDate time.Time
	EndDate   time.Time
	Page      int
	PageSize  int
}

// NotificationStats aggregates log counts for the stats surface.
type NotificationStats struct {
	Total     int64            `json:"total_notifications"`
	ByStatus  map[string]int64 `json:"by_status"`
	ByKind    map[string]int64 `json:"by_kind"`
	ByChannel map[string]int64 `json:"by_channel"`
	Today     int64            `json:"today"`
	Last7Days int64            `json:"last_7_days"`
}

// ExistsRecentDoseEntry reports whether any dose-kind log row exists
// for the (user, schedule) pair created at or after since. This is
// the idempotency oracle: a hit means a previous or concurrent tick
// already handled the due dose.
func (r *NotificationRepo) ExistsRecentDoseEntry(ctx context.Context, userID, scheduleID uint64, since time.Time) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM notification_logs
		 WHERE user_id = ? AND schedule_id = ? AND kind = ? AND created_at >= ?
		 LIMIT 1`,
		userID, scheduleID, string(model.KindDose), since.UTC()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns one page of the user's log rows matching the filter,
// newest first, along with the total match count.
func (r *NotificationRepo) List(ctx context.Context, userID uint64, f NotificationFilter) ([]model.NotificationLog, int64, error) {
	where := " FROM notification_logs WHERE user_id = ?"
	args := []interface{}{userID}
	if f.Kind != "" {
		where += " AND kind = ?"
		args = append(args, f.Kind)
	}
	if f.Channel != "" {
		where += " AND channel = ?"
		args = append(args, f.Channel)
	}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.StartDate.IsZero() {
		where += " AND created_at >= ?"
		args = append(args, f.StartDate.UTC())
	}
	if !f.EndDate.IsZero() {
		where += " AND created_at < ?"
		args = append(args, f.EndDate.UTC())
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*)"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	q := "SELECT " + notificationColumns + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var logs []model.NotificationLog
	for rows.Next() {
		entry, scanErr := scanNotification(rows)
		if scanErr != nil {
			return nil, 0, scanErr
		}
		logs = append(logs, entry)
	}
	return logs, total, rows.Err()
}

// GetByID fetches one log row scoped to the owning user.
func (r *NotificationRepo) GetByID(ctx context.Context, userID, id uint64) (model.NotificationLog, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+notificationColumns+" FROM notification_logs WHERE id = ? AND user_id = ? LIMIT 1", id, userID)
	entry, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return model.NotificationLog{}, ErrNotFound
	}
	return entry, err
}

// Stats aggregates the user's log counts by status, kind and channel
// plus the today / last-7-days buckets, everything relative to the
// provided instant.
func (r *NotificationRepo) Stats(ctx context.Context, userID uint64, now time.Time) (NotificationStats, error) {
	stats := NotificationStats{
		ByStatus:  map[string]int64{},
		ByKind:    map[string]int64{},
		ByChannel: map[string]int64{},
	}

	if err := r.groupCount(ctx, userID, "status", stats.ByStatus); err != nil {
		return stats, err
	}
	if err := r.groupCount(ctx, userID, "kind", stats.ByKind); err != nil {
		return stats, err
	}
	if err := r.groupCount(ctx, userID, "channel", stats.ByChannel); err != nil {
		return stats, err
	}
	for _, n := range stats.ByStatus {
		stats.Total += n
	}

	nowUTC := now.UTC()
	dayStart := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notification_logs WHERE user_id = ? AND created_at >= ?",
		userID, dayStart).Scan(&stats.Today); err != nil {
		return stats, err
	}
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notification_logs WHERE user_id = ? AND created_at >= ?",
		userID, nowUTC.AddDate(0, 0, -7)).Scan(&stats.Last7Days); err != nil {
		return stats, err
	}
	return stats, nil
}

// PurgeOlderThan deletes log rows created before the cutoff. Invoked
// by the maintenance loop; the default retention horizon is 90 days.
func (r *NotificationRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM notification_logs WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *NotificationRepo) groupCount(ctx context.Context, userID uint64, column string, dst map[string]int64) error {
	// column is one of the fixed identifiers above, never user input.
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM notification_logs WHERE user_id = ? GROUP BY "+column, userID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		dst[key] = n
	}
	return rows.Err()
}

func scanNotification(row rowScanner) (model.NotificationLog, error) {
	var (
		entry      model.NotificationLog
		scheduleID sql.NullInt64
		sentAt     sql.NullTime
		errMsg     sql.NullString
	)
	err := row.Scan(&entry.ID, &entry.UserID, &scheduleID, &entry.Kind, &entry.Channel,
		&entry.Status, &sentAt, &errMsg, &entry.CreatedAt)
	if err != nil {
		return model.NotificationLog{}, err
	}
	if scheduleID.Valid {
		sid := uint64(scheduleID.Int64)
		entry.ScheduleID = &sid
	}
	if sentAt.Valid {
		t := sentAt.Time
		entry.SentAt = &t
	}
	if errMsg.Valid {
		m := errMsg.String
		entry.ErrorMessage = &m
	}
	return entry, nil
}
