package notify

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dosetrack/dosetrack/internal/model"
)

// DoseMessage builds the reminder for one dose slot. The slot time is
// rendered in the user's local clock since that is the wall time the
// schedule was written against.
func DoseMessage(user *model.User, s *model.Schedule, slot *model.DoseSlot) Message {
	clock := localClock(slot)
	short := fmt.Sprintf("Medicine Reminder: Take %s %s at %s",
		slot.Amount.String(), s.MedicineName, clock)
	body := fmt.Sprintf(`Hello %s,

This is a reminder to take your medicine:

Medicine: %s
Type: %s
Amount: %s
Time: %s

Remaining Quantity: %s

Best regards,
DoseTrack`,
		user.DisplayName(), s.MedicineName, s.MedicineType,
		slot.Amount.String(), clock, s.Quantity.String())

	return Message{
		Kind:    model.KindDose,
		Subject: "Medicine Reminder: " + s.MedicineName,
		Body:    body,
		Short:   short,
		Data: map[string]string{
			"type":          "dose_reminder",
			"schedule_id":   strconv.FormatUint(s.ID, 10),
			"medicine_name": s.MedicineName,
			"dose_amount":   slot.Amount.String(),
			"dose_time":     slot.TimeOfDay,
		},
	}
}

// RefillMessage builds the low-stock alert for a schedule whose
// quantity dropped to or below its refill threshold.
func RefillMessage(user *model.User, s *model.Schedule) Message {
	threshold := ""
	if s.RefillThreshold.Valid {
		threshold = s.RefillThreshold.Decimal.String()
	}
	short := fmt.Sprintf("Refill Alert: Your %s stock is low (%s remaining). Please refill soon.",
		s.MedicineName, s.Quantity.String())
	body := fmt.Sprintf(`Hello %s,

Your medicine stock is running low!

Medicine: %s
Current Quantity: %s
Refill Threshold: %s

Please refill your medicine soon to avoid running out.

Best regards,
DoseTrack`,
		user.DisplayName(), s.MedicineName, s.Quantity.String(), threshold)

	return Message{
		Kind:    model.KindRefill,
		Subject: "Refill Reminder: " + s.MedicineName,
		Body:    body,
		Short:   short,
		Data: map[string]string{
			"type":             "refill_reminder",
			"schedule_id":      strconv.FormatUint(s.ID, 10),
			"medicine_name":    s.MedicineName,
			"current_quantity": s.Quantity.String(),
			"threshold":        threshold,
		},
	}
}

// localClock renders a slot's time of day as "03:04 PM". The stored
// value is already user-local wall time, so no zone conversion happens.
func localClock(slot *model.DoseSlot) string {
	h, m, _, err := slot.Clock()
	if err != nil {
		return slot.TimeOfDay
	}
	t := time.Date(2000, 1, 1, h, m, 0, 0, time.UTC)
	return t.Format("03:04 PM")
}
