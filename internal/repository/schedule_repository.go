package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dosetrack/dosetrack/internal/model"
)

// ScheduleRepo provides CRUD and engine-facing operations for
// schedules and their dose slots. Dose slots are owned exclusively by
// their schedule: they are replaced wholesale on update and removed
// by cascade on delete. All timestamps are stored in UTC; the
// start_date column is a plain DATE.
type ScheduleRepo struct {
	db *sql.DB
}

// NewScheduleRepo returns a new ScheduleRepo bound to the given database.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo { return &ScheduleRepo{db: db} }

const scheduleColumns = `id, user_id, medicine_name, medicine_type, daily_dose_count, channels,
	start_date, quantity, initial_quantity, refill_enabled, refill_threshold, refill_sent,
	is_active, created_at, updated_at`

const slotColumns = "id, schedule_id, dose_number, amount, time_of_day, created_at, updated_at"

// ScheduleWithSlots pairs a schedule with its dose slots for read
// surfaces that need both (listing, dashboard projection).
type ScheduleWithSlots struct {
	Schedule model.Schedule
	Slots    []model.DoseSlot
}

// DueCandidate is one schedule selected by the evaluation engine's
// coarse filter, joined with its owning user and dose slots. The
// fine-grained timezone due check happens in the engine.
type DueCandidate struct {
	Schedule model.Schedule
	User     model.User
	Slots    []model.DoseSlot
}

// ChannelOutcome is the per-channel result of one dispatch, written
// as one notification log row.
type ChannelOutcome struct {
	Channel model.Channel
	Err     string // empty means sent
}

// DoseCommit carries everything CommitDoseDispatch persists in one
// transaction: the audit rows for each attempted channel and the
// stock decrement for the dispatched slot.
type DoseCommit struct {
	UserID     uint64
	ScheduleID uint64
	SlotAmount decimal.Decimal
	Outcomes   []ChannelOutcome
	Now        time.Time
}

// Create inserts a schedule, its dose slots and the auto-created
// linked inventory item in one transaction and returns the schedule ID.
// The caller must have validated the payload; InitialQuantity is
// snapshotted from Quantity here.
func (r *ScheduleRepo) Create(ctx context.Context, s *model.Schedule, slots []model.DoseSlot) (uint64, error) {
	channels, err := marshalChannels(s.Channels)
	if err != nil {
		return 0, err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	s.InitialQuantity = s.Quantity
	s.IsActive = true
	s.ApplyStockRules()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO schedules (user_id, medicine_name, medicine_type, daily_dose_count, channels,
			start_date, quantity, initial_quantity, refill_enabled, refill_threshold, refill_sent, is_active)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.UserID, s.MedicineName, string(s.MedicineType), s.DailyDoseCount, channels,
		s.StartDate.Format("2006-01-02"), s.Quantity, s.InitialQuantity,
		s.RefillEnabled, nullDecimalArg(s.RefillThreshold), s.RefillSent, s.IsActive)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.ID = uint64(id)

	if err := insertSlotsTx(ctx, tx, s.ID, slots); err != nil {
		return 0, err
	}

	// Auto-create the linked inventory item mirroring the starting stock.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO inventory_items (user_id, schedule_id, medicine_name, medicine_type, quantity, unit)
		 VALUES (?,?,?,?,?,?)`,
		s.UserID, s.ID, s.MedicineName, string(s.MedicineType), s.Quantity, s.MedicineType.DefaultUnit())
	if err != nil {
		return 0, err
	}

	return s.ID, tx.Commit()
}

// ListByUser returns the user's schedules with slots, optionally
// filtered by active flag and medicine type.
func (r *ScheduleRepo) ListByUser(ctx context.Context, userID uint64, isActive *bool, medicineType string) ([]ScheduleWithSlots, error) {
	q := "SELECT " + scheduleColumns + " FROM schedules WHERE user_id = ?"
	args := []interface{}{userID}
	if isActive != nil {
		q += " AND is_active = ?"
		args = append(args, *isActive)
	}
	if medicineType != "" {
		q += " AND medicine_type = ?"
		args = append(args, medicineType)
	}
	q += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []model.Schedule
	for rows.Next() {
		s, scanErr := scanSchedule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r.attachSlots(ctx, schedules)
}

// ListStartedBy returns the user's schedules (with slots) whose
// start_date is on or before the given date. Used by the dashboard
// projection, which filters further on projected remaining stock.
func (r *ScheduleRepo) ListStartedBy(ctx context.Context, userID uint64, date time.Time) ([]ScheduleWithSlots, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE user_id = ? AND start_date <= ? ORDER BY created_at DESC",
		userID, date.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []model.Schedule
	for rows.Next() {
		s, scanErr := scanSchedule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r.attachSlots(ctx, schedules)
}

// GetByID fetches one schedule with slots, scoped to the owning user.
func (r *ScheduleRepo) GetByID(ctx context.Context, userID, id uint64) (ScheduleWithSlots, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE id = ? AND user_id = ? LIMIT 1", id, userID)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return ScheduleWithSlots{}, ErrNotFound
	}
	if err != nil {
		return ScheduleWithSlots{}, err
	}
	withSlots, err := r.attachSlots(ctx, []model.Schedule{s})
	if err != nil {
		return ScheduleWithSlots{}, err
	}
	return withSlots[0], nil
}

// Update rewrites the mutable schedule fields and, when newSlots is
// non-nil, replaces the dose slots wholesale. The linked inventory
// item (if any) is kept in sync with name, type and quantity. Stock
// rules are applied before persisting.
func (r *ScheduleRepo) Update(ctx context.Context, s *model.Schedule, newSlots []model.DoseSlot) error {
	channels, err := marshalChannels(s.Channels)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	s.ApplyStockRules()

	res, err := tx.ExecContext(ctx,
		`UPDATE schedules SET medicine_name=?, medicine_type=?, daily_dose_count=?, channels=?,
			start_date=?, quantity=?, refill_enabled=?, refill_threshold=?, refill_sent=?, is_active=?
		 WHERE id=? AND user_id=?`,
		s.MedicineName, string(s.MedicineType), s.DailyDoseCount, channels,
		s.StartDate.Format("2006-01-02"), s.Quantity,
		s.RefillEnabled, nullDecimalArg(s.RefillThreshold), s.RefillSent, s.IsActive,
		s.ID, s.UserID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Could be a no-op update; confirm the row is really absent.
		var exists uint64
		scanErr := tx.QueryRowContext(ctx,
			"SELECT id FROM schedules WHERE id=? AND user_id=?", s.ID, s.UserID).Scan(&exists)
		if scanErr == sql.ErrNoRows {
			return ErrNotFound
		}
		if scanErr != nil {
			return scanErr
		}
	}

	if newSlots != nil {
		if _, err := tx.ExecContext(ctx, "DELETE FROM dose_slots WHERE schedule_id=?", s.ID); err != nil {
			return err
		}
		if err := insertSlotsTx(ctx, tx, s.ID, newSlots); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE inventory_items SET medicine_name=?, medicine_type=?, quantity=? WHERE schedule_id=?",
		s.MedicineName, string(s.MedicineType), s.Quantity, s.ID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Delete removes a schedule, its dose slots (FK cascade) and any
// linked inventory items. Deleting the inventory rows here is the
// chosen cascade policy: a schedule's auto-created stock record has
// no meaning once the plan is gone.
func (r *ScheduleRepo) Delete(ctx context.Context, userID, id uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM inventory_items WHERE schedule_id=? AND user_id=?", id, userID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM schedules WHERE id=? AND user_id=?", id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// SetActive flips the active flag. Activation with zero stock is the
// handler's responsibility to reject; the write-path invariant here
// still refuses to activate an empty schedule.
func (r *ScheduleRepo) SetActive(ctx context.Context, userID, id uint64, active bool) error {
	var q string
	if active {
		q = "UPDATE schedules SET is_active=1 WHERE id=? AND user_id=? AND quantity > 0"
	} else {
		q = "UPDATE schedules SET is_active=0 WHERE id=? AND user_id=?"
	}
	res, err := r.db.ExecContext(ctx, q, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists uint64
		scanErr := r.db.QueryRowContext(ctx,
			"SELECT id FROM schedules WHERE id=? AND user_id=?", id, userID).Scan(&exists)
		if scanErr == sql.ErrNoRows {
			return ErrNotFound
		}
		if scanErr != nil {
			return scanErr
		}
		if active {
			return ErrConflict // present but empty; cannot activate
		}
	}
	return nil
}

// UpdateQuantity sets the live stock level (manual top-up or
// correction), applies stock rules and mirrors the value into the
// linked inventory item in the same transaction.
func (r *ScheduleRepo) UpdateQuantity(ctx context.Context, userID, id uint64, quantity decimal.Decimal) (model.Schedule, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Schedule{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE id=? AND user_id=? FOR UPDATE", id, userID)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return model.Schedule{}, ErrNotFound
	}
	if err != nil {
		return model.Schedule{}, err
	}

	s.Quantity = quantity
	s.ApplyStockRules()

	if _, err := tx.ExecContext(ctx,
		"UPDATE schedules SET quantity=?, refill_sent=?, is_active=? WHERE id=?",
		s.Quantity, s.RefillSent, s.IsActive, s.ID); err != nil {
		return model.Schedule{}, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE inventory_items SET quantity=? WHERE schedule_id=?", s.Quantity, s.ID); err != nil {
		return model.Schedule{}, err
	}
	return s, tx.Commit()
}

// DueCandidates selects schedules eligible for dose evaluation at
// the given UTC instant: active, stocked and already started by the
// UTC calendar date. Per-user timezone correctness is applied by the
// engine afterwards.
func (r *ScheduleRepo) DueCandidates(ctx context.Context, nowUTC time.Time) ([]DueCandidate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.id, s.user_id, s.medicine_name, s.medicine_type, s.daily_dose_count, s.channels,
			s.start_date, s.quantity, s.initial_quantity, s.refill_enabled, s.refill_threshold,
			s.refill_sent, s.is_active, s.created_at, s.updated_at,
			u.id, u.email, u.password_hash, u.name, u.timezone, u.phone_number, u.device_token,
			u.is_active, u.created_at, u.updated_at
		 FROM schedules s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.is_active = 1 AND s.quantity > 0 AND s.start_date <= ? AND u.is_active = 1`,
		nowUTC.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []DueCandidate
	for rows.Next() {
		var (
			c       DueCandidate
			chans   string
			thresh  decimal.NullDecimal
			phone   sql.NullString
			token   sql.NullString
		)
		err := rows.Scan(
			&c.Schedule.ID, &c.Schedule.UserID, &c.Schedule.MedicineName, &c.Schedule.MedicineType,
			&c.Schedule.DailyDoseCount, &chans, &c.Schedule.StartDate, &c.Schedule.Quantity,
			&c.Schedule.InitialQuantity, &c.Schedule.RefillEnabled, &thresh,
			&c.Schedule.RefillSent, &c.Schedule.IsActive, &c.Schedule.CreatedAt, &c.Schedule.UpdatedAt,
			&c.User.ID, &c.User.Email, &c.User.PasswordHash, &c.User.Name, &c.User.Timezone,
			&phone, &token, &c.User.IsActive, &c.User.CreatedAt, &c.User.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		c.Schedule.RefillThreshold = thresh
		if c.Schedule.Channels, err = unmarshalChannels(chans); err != nil {
			return nil, err
		}
		if phone.Valid {
			p := phone.String
			c.User.PhoneNumber = &p
		}
		if token.Valid {
			t := token.String
			c.User.DeviceToken = &t
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		return candidates, nil
	}
	ids := make([]uint64, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Schedule.ID)
	}
	bySchedule, err := r.slotsForSchedules(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		candidates[i].Slots = bySchedule[candidates[i].Schedule.ID]
	}
	return candidates, nil
}

// CommitDoseDispatch persists the outcome of one due dose in a
// single transaction: one notification log row per attempted
// channel, the stock decrement, stock-rule enforcement and the
// inventory mirror. Log rows are written before the decrement so a
// crash between the two leaves an audit trail that the idempotency
// guard recognizes on the next tick. Returns the post-decrement
// quantity and whether the schedule is still active.
func (r *ScheduleRepo) CommitDoseDispatch(ctx context.Context, commit DoseCommit) (decimal.Decimal, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, false, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertOutcomesTx(ctx, tx, commit.UserID, commit.ScheduleID, model.KindDose, commit.Outcomes, commit.Now); err != nil {
		return decimal.Zero, false, err
	}

	row := tx.QueryRowContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE id=? FOR UPDATE", commit.ScheduleID)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	s.Quantity = s.Quantity.Sub(commit.SlotAmount)
	s.ApplyStockRules()

	if _, err := tx.ExecContext(ctx,
		"UPDATE schedules SET quantity=?, refill_sent=?, is_active=? WHERE id=?",
		s.Quantity, s.RefillSent, s.IsActive, s.ID); err != nil {
		return decimal.Zero, false, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE inventory_items SET quantity=? WHERE schedule_id=?", s.Quantity, s.ID); err != nil {
		return decimal.Zero, false, err
	}
	return s.Quantity, s.IsActive, tx.Commit()
}

// ScheduleForRefill loads one schedule joined with its user for the
// refill dispatch sub-routine, regardless of ownership scoping.
func (r *ScheduleRepo) ScheduleForRefill(ctx context.Context, id uint64) (model.Schedule, model.User, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE id=? LIMIT 1", id)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return model.Schedule{}, model.User{}, ErrNotFound
	}
	if err != nil {
		return model.Schedule{}, model.User{}, err
	}
	users := NewUserRepo(r.db)
	u, err := users.GetByID(ctx, s.UserID)
	if err == sql.ErrNoRows {
		return model.Schedule{}, model.User{}, ErrNotFound
	}
	if err != nil {
		return model.Schedule{}, model.User{}, err
	}
	return s, u, nil
}

// MarkRefillSent latches the refill flag. Set unconditionally after a
// refill dispatch regardless of per-channel outcomes, so one
// low-stock episode produces at most one alert.
func (r *ScheduleRepo) MarkRefillSent(ctx context.Context, id uint64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE schedules SET refill_sent=1 WHERE id=?", id)
	return err
}

// RecordRefillOutcomes writes one refill-kind log row per attempted
// channel.
func (r *ScheduleRepo) RecordRefillOutcomes(ctx context.Context, userID, scheduleID uint64, outcomes []ChannelOutcome, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertOutcomesTx(ctx, tx, userID, scheduleID, model.KindRefill, outcomes, now); err != nil {
		return err
	}
	return tx.Commit()
}

// DeactivateEmpty flips is_active off for every stocked-out schedule
// still marked active. A repair sweep; the write-path invariant makes
// this a no-op in the common case.
func (r *ScheduleRepo) DeactivateEmpty(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE schedules SET is_active=0 WHERE is_active=1 AND quantity <= 0")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- helpers ----

func (r *ScheduleRepo) attachSlots(ctx context.Context, schedules []model.Schedule) ([]ScheduleWithSlots, error) {
	out := make([]ScheduleWithSlots, 0, len(schedules))
	if len(schedules) == 0 {
		return out, nil
	}
	ids := make([]uint64, 0, len(schedules))
	for _, s := range schedules {
		ids = append(ids, s.ID)
	}
	bySchedule, err := r.slotsForSchedules(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, s := range schedules {
		out = append(out, ScheduleWithSlots{Schedule: s, Slots: bySchedule[s.ID]})
	}
	return out, nil
}

func (r *ScheduleRepo) slotsForSchedules(ctx context.Context, ids []uint64) (map[uint64][]model.DoseSlot, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+slotColumns+" FROM dose_slots WHERE schedule_id IN ("+placeholders+") ORDER BY schedule_id, dose_number",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bySchedule := make(map[uint64][]model.DoseSlot, len(ids))
	for rows.Next() {
		var slot model.DoseSlot
		if err := rows.Scan(&slot.ID, &slot.ScheduleID, &slot.DoseNumber, &slot.Amount,
			&slot.TimeOfDay, &slot.CreatedAt, &slot.UpdatedAt); err != nil {
			return nil, err
		}
		bySchedule[slot.ScheduleID] = append(bySchedule[slot.ScheduleID], slot)
	}
	return bySchedule, rows.Err()
}

func insertSlotsTx(ctx context.Context, tx *sql.Tx, scheduleID uint64, slots []model.DoseSlot) error {
	if len(slots) == 0 {
		return nil
	}
	query := "INSERT INTO dose_slots (schedule_id, dose_number, amount, time_of_day) VALUES "
	args := make([]interface{}, 0, len(slots)*4)
	for i, slot := range slots {
		if i > 0 {
			query += ","
		}
		query += "(?,?,?,?)"
		args = append(args, scheduleID, slot.DoseNumber, slot.Amount, slot.TimeOfDay)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func insertOutcomesTx(ctx context.Context, tx *sql.Tx, userID, scheduleID uint64, kind model.NotificationKind, outcomes []ChannelOutcome, now time.Time) error {
	if len(outcomes) == 0 {
		return nil
	}
	query := "INSERT INTO notification_logs (user_id, schedule_id, kind, channel, status, sent_at, error_message) VALUES "
	args := make([]interface{}, 0, len(outcomes)*7)
	for i, o := range outcomes {
		if i > 0 {
			query += ","
		}
		query += "(?,?,?,?,?,?,?)"
		status := string(model.StatusSent)
		var sentAt interface{} = now.UTC()
		var errMsg interface{}
		if o.Err != "" {
			status = string(model.StatusFailed)
			sentAt = nil
			errMsg = o.Err
		}
		args = append(args, userID, scheduleID, string(kind), string(o.Channel), status, sentAt, errMsg)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (model.Schedule, error) {
	var (
		s      model.Schedule
		chans  string
		thresh decimal.NullDecimal
	)
	err := row.Scan(&s.ID, &s.UserID, &s.MedicineName, &s.MedicineType, &s.DailyDoseCount, &chans,
		&s.StartDate, &s.Quantity, &s.InitialQuantity, &s.RefillEnabled, &thresh, &s.RefillSent,
		&s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return model.Schedule{}, err
	}
	s.RefillThreshold = thresh
	if s.Channels, err = unmarshalChannels(chans); err != nil {
		return model.Schedule{}, err
	}
	return s, nil
}

func marshalChannels(channels []model.Channel) (string, error) {
	if len(channels) == 0 {
		return "", fmt.Errorf("at least one notification channel required")
	}
	b, err := json.Marshal(channels)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalChannels(raw string) ([]model.Channel, error) {
	var channels []model.Channel
	if err := json.Unmarshal([]byte(raw), &channels); err != nil {
		return nil, fmt.Errorf("corrupt channels column: %w", err)
	}
	return channels, nil
}

func nullDecimalArg(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal
}
