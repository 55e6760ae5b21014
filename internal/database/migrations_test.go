package database

import (
	"strings"
	"testing"
)

func tableDDL(t *testing.T, name string) string {
	t.Helper()
	for _, stmt := range migrations {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS "+name+" ") {
			return stmt
		}
	}
	t.Fatalf("no migration creates table %q", name)
	return ""
}

// Notification logs are the audit trail and the dispatch guard's source
// of truth. Deleting a schedule must detach its log rows, never remove
// them, so the schedule reference has to stay nullable.
func TestNotificationLogsSurviveScheduleDeletion(t *testing.T) {
	ddl := tableDDL(t, "notification_logs")

	if !strings.Contains(ddl, "schedule_id   BIGINT UNSIGNED NULL") {
		t.Fatal("notification_logs.schedule_id must be nullable")
	}
	if !strings.Contains(ddl, "FOREIGN KEY (schedule_id) REFERENCES schedules (id) ON DELETE SET NULL") {
		t.Fatal("notification_logs schedule FK must detach, not cascade")
	}
}

func TestInventoryDetachesFromDeletedSchedule(t *testing.T) {
	ddl := tableDDL(t, "inventory_items")
	if !strings.Contains(ddl, "FOREIGN KEY (schedule_id) REFERENCES schedules (id) ON DELETE SET NULL") {
		t.Fatal("inventory schedule FK must detach, not cascade")
	}
}
