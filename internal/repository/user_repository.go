package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/dosetrack/dosetrack/internal/model"
	"github.com/dosetrack/dosetrack/internal/utils"
)

// UserRepo provides data access to the users table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id, email, password_hash, name, timezone, phone_number, device_token, is_active, created_at, updated_at"

// Create inserts a user and returns its ID. The timezone must already
// be validated by the caller (time.LoadLocation succeeds).
func (r *UserRepo) Create(ctx context.Context, email, password, name, timezone string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	if timezone == "" {
		timezone = "UTC"
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, name, timezone) VALUES (?,?,?,?)",
		email, hash, name, timezone)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// UpdateProfile updates the mutable profile fields. Passing nil for
// phoneNumber or deviceToken clears the stored value.
func (r *UserRepo) UpdateProfile(ctx context.Context, id uint64, name, timezone string, phoneNumber, deviceToken *string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET name=?, timezone=?, phone_number=?, device_token=? WHERE id=?",
		name, timezone, phoneNumber, deviceToken, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		// Row may exist with identical values; confirm presence.
		var exists uint64
		if scanErr := r.DB.QueryRowContext(ctx, "SELECT id FROM users WHERE id=?", id).Scan(&exists); scanErr == sql.ErrNoRows {
			return ErrNotFound
		}
	}
	return err
}

// SetPhoneNumber stores the user's phone number. Used when a schedule
// selecting the sms channel supplies one inline.
func (r *UserRepo) SetPhoneNumber(ctx context.Context, id uint64, phoneNumber string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET phone_number=? WHERE id=?", phoneNumber, id)
	return err
}

// SetDeviceToken stores the FCM device token captured at login.
func (r *UserRepo) SetDeviceToken(ctx context.Context, id uint64, deviceToken string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET device_token=? WHERE id=?", deviceToken, id)
	return err
}

// UpdatePassword replaces the stored bcrypt hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, password string, cost int) error {
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=? WHERE id=?", hash, id)
	return err
}

func (r *UserRepo) scanOne(row *sql.Row) (model.User, error) {
	var (
		u     model.User
		phone sql.NullString
		token sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Timezone,
		&phone, &token, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	if phone.Valid {
		p := phone.String
		u.PhoneNumber = &p
	}
	if token.Valid {
		t := token.String
		u.DeviceToken = &t
	}
	return u, nil
}
