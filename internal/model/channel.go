package model

// Channel identifies a notification delivery channel. The set is
// closed: adding a channel means adding a new constant and a new
// sender implementation in the notify package, not a new subclass.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// ValidChannel reports whether c is one of the known channels.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// NotificationKind distinguishes the two reminder flavours written
// to the notification log.
type NotificationKind string

const (
	KindDose   NotificationKind = "dose"
	KindRefill NotificationKind = "refill"
)

// NotificationStatus is the delivery outcome recorded per channel.
type NotificationStatus string

const (
	StatusPending NotificationStatus = "pending"
	StatusSent    NotificationStatus = "sent"
	StatusFailed  NotificationStatus = "failed"
)
