// Package queue defines message payloads exchanged over the message
// broker and the background consumer that dispatches them.
package queue

// RefillDueQueue is the durable queue carrying refill hand-offs from
// the evaluation engine to the consumer.
const RefillDueQueue = "refill.due"

// RefillDueEvent is published when a schedule's stock crosses its
// refill threshold. EventID makes redeliveries traceable in logs; the
// consumer re-validates against current state, so processing the same
// event twice is harmless.
type RefillDueEvent struct {
	EventID     string `json:"event_id"`
	UserID      uint64 `json:"user_id"`
	ScheduleID  uint64 `json:"schedule_id"`
	TriggeredAt string `json:"triggered_at"`
}
