// Package notify delivers reminders over the user's chosen channels.
// Each channel is a Sender; the Dispatcher fans a message out to the
// requested channels and reports the per-channel outcome. A failed or
// unconfigured channel never aborts the other channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dosetrack/dosetrack/internal/model"
)

var (
	// ErrNotConfigured means the channel's credentials are absent from
	// the environment. Recorded in the log like any other send failure.
	ErrNotConfigured = errors.New("notify: channel not configured")
	// ErrNoPhoneNumber means the user never registered a phone number.
	ErrNoPhoneNumber = errors.New("notify: user has no phone number")
	// ErrNoDeviceToken means the user never registered a device token.
	ErrNoDeviceToken = errors.New("notify: user has no device token")
)

// Message is a channel-agnostic reminder. Senders pick the fields they
// need: email uses Subject and Body, sms sends Short, push sends Subject
// as title with Short as body plus Data for the client app.
type Message struct {
	Kind    model.NotificationKind
	Subject string
	Body    string
	Short   string
	Data    map[string]string
}

// Sender delivers a Message to one user over one channel.
type Sender interface {
	Channel() model.Channel
	Send(ctx context.Context, user *model.User, msg Message) error
}

// Result is the outcome of one channel attempt. Err is nil on success.
type Result struct {
	Channel model.Channel
	Err     error
}

// Dispatcher fans a message out to a set of channels sequentially.
// Channel order follows the schedule's channel list, and each attempt
// gets its own timeout so one stuck provider cannot eat the whole tick.
type Dispatcher struct {
	senders map[model.Channel]Sender
	timeout time.Duration
	log     *zap.Logger
}

// NewDispatcher wires the given senders. A nil logger is replaced with
// a no-op one.
func NewDispatcher(log *zap.Logger, timeout time.Duration, senders ...Sender) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	m := make(map[model.Channel]Sender, len(senders))
	for _, s := range senders {
		m[s.Channel()] = s
	}
	return &Dispatcher{senders: m, timeout: timeout, log: log}
}

// Dispatch attempts delivery on every requested channel and returns one
// Result per channel, in request order. It never returns early: a
// failure on one channel is recorded and the next channel still runs.
func (d *Dispatcher) Dispatch(ctx context.Context, user *model.User, channels []model.Channel, msg Message) []Result {
	results := make([]Result, 0, len(channels))
	for _, ch := range channels {
		sender, ok := d.senders[ch]
		if !ok {
			results = append(results, Result{Channel: ch, Err: fmt.Errorf("notify: unknown channel %q", ch)})
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sender.Send(sendCtx, user, msg)
		cancel()

		if err != nil {
			d.log.Warn("notification send failed",
				zap.Uint64("user_id", user.ID),
				zap.String("channel", string(ch)),
				zap.String("kind", string(msg.Kind)),
				zap.Error(err))
		} else {
			d.log.Info("notification sent",
				zap.Uint64("user_id", user.ID),
				zap.String("channel", string(ch)),
				zap.String("kind", string(msg.Kind)))
		}
		results = append(results, Result{Channel: ch, Err: err})
	}
	return results
}
