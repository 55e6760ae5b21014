package database

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are ordered so that foreign key targets exist before
// their referents. Quantities are DECIMAL(10,2) throughout; fractional
// doses (half a tablet, 2.5 ml) are first-class values, never floats.
// notification_logs is append-only history: its schedule reference
// detaches on schedule deletion instead of cascading rows away.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
			id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			email         VARCHAR(255)          NOT NULL,
			password_hash VARCHAR(255)          NOT NULL,
			name          VARCHAR(120)          NOT NULL DEFAULT '',
			timezone      VARCHAR(64)           NOT NULL DEFAULT 'UTC',
			phone_number  VARCHAR(32)           NULL,
			device_token  VARCHAR(512)          NULL,
			is_active     TINYINT(1)            NOT NULL DEFAULT 1,
			created_at    DATETIME              NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME              NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			UNIQUE KEY uq_users_email (email)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS refresh_tokens (
			id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			user_id    BIGINT UNSIGNED NOT NULL,
			token_hash CHAR(64)        NOT NULL,
			expires_at DATETIME        NOT NULL,
			revoked_at DATETIME        NULL,
			created_at DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			UNIQUE KEY uq_refresh_tokens_hash (token_hash),
			KEY idx_refresh_tokens_user (user_id),
			CONSTRAINT fk_refresh_tokens_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS schedules (
			id               BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			user_id          BIGINT UNSIGNED NOT NULL,
			medicine_name    VARCHAR(200)    NOT NULL,
			medicine_type    VARCHAR(20)     NOT NULL,
			daily_dose_count INT             NOT NULL,
			channels         VARCHAR(255)    NOT NULL,
			start_date       DATE            NOT NULL,
			quantity         DECIMAL(10,2)   NOT NULL DEFAULT 0,
			initial_quantity DECIMAL(10,2)   NOT NULL DEFAULT 0,
			refill_enabled   TINYINT(1)      NOT NULL DEFAULT 0,
			refill_threshold DECIMAL(10,2)   NULL,
			refill_sent      TINYINT(1)      NOT NULL DEFAULT 0,
			is_active        TINYINT(1)      NOT NULL DEFAULT 1,
			created_at       DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at       DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			KEY idx_schedules_user (user_id),
			KEY idx_schedules_due (is_active, quantity, start_date),
			CONSTRAINT fk_schedules_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS dose_slots (
			id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			schedule_id BIGINT UNSIGNED NOT NULL,
			dose_number INT             NOT NULL,
			amount      DECIMAL(10,2)   NOT NULL,
			time_of_day TIME            NOT NULL,
			created_at  DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			UNIQUE KEY uq_dose_slots_schedule_num (schedule_id, dose_number),
			CONSTRAINT fk_dose_slots_schedule FOREIGN KEY (schedule_id) REFERENCES schedules (id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS inventory_items (
			id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			user_id       BIGINT UNSIGNED NOT NULL,
			schedule_id   BIGINT UNSIGNED NULL,
			medicine_name VARCHAR(200)    NOT NULL,
			medicine_type VARCHAR(20)     NOT NULL,
			quantity      DECIMAL(10,2)   NOT NULL DEFAULT 0,
			unit          VARCHAR(20)     NOT NULL,
			expiry_date   DATE            NULL,
			purchase_date DATE            NULL,
			price         DECIMAL(10,2)   NULL,
			supplier      VARCHAR(200)    NULL,
			notes         TEXT            NULL,
			is_active     TINYINT(1)      NOT NULL DEFAULT 1,
			created_at    DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			KEY idx_inventory_user (user_id),
			KEY idx_inventory_schedule (schedule_id),
			CONSTRAINT fk_inventory_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE,
			CONSTRAINT fk_inventory_schedule FOREIGN KEY (schedule_id) REFERENCES schedules (id) ON DELETE SET NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS notification_logs (
			id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			user_id       BIGINT UNSIGNED NOT NULL,
			schedule_id   BIGINT UNSIGNED NULL,
			kind          VARCHAR(10)     NOT NULL,
			channel       VARCHAR(10)     NOT NULL,
			status        VARCHAR(10)     NOT NULL,
			sent_at       DATETIME        NULL,
			error_message TEXT            NULL,
			created_at    DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			KEY idx_notification_logs_user (user_id, created_at),
			KEY idx_notification_logs_guard (user_id, schedule_id, kind, created_at),
			CONSTRAINT fk_notification_logs_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE,
			CONSTRAINT fk_notification_logs_schedule FOREIGN KEY (schedule_id) REFERENCES schedules (id) ON DELETE SET NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
