package model

import "time"

// NotificationLog is one row of the append-only dispatch audit
// trail, mirroring the `notification_logs` table.  Rows are
// immutable once written.  Besides serving as history for the user,
// recent dose-kind rows are the idempotency oracle that stops two
// overlapping evaluation ticks from dispatching the same due dose
// twice.
//
// Fields:
//  ID           – primary key identifier.
//  UserID       – user the notification was addressed to.
//  ScheduleID   – related schedule, if any (nullable).
//  Kind         – dose or refill.
//  Channel      – email, sms or push.
//  Status       – pending, sent or failed.
//  SentAt       – delivery timestamp, set iff status is sent.
//  ErrorMessage – failure detail, set iff status is failed.
//  CreatedAt    – creation timestamp; basis of the idempotency lookback.
type NotificationLog struct {
	ID           uint64             // notification_logs.id
	UserID       uint64             // notification_logs.user_id
	ScheduleID   *uint64            // notification_logs.schedule_id (nullable)
	Kind         NotificationKind   // notification_logs.kind
	Channel      Channel            // notification_logs.channel
	Status       NotificationStatus // notification_logs.status
	SentAt       *time.Time         // notification_logs.sent_at (nullable)
	ErrorMessage *string            // notification_logs.error_message (nullable)
	CreatedAt    time.Time          // notification_logs.created_at
}
