package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/dosetrack/dosetrack/internal/model"
)

// EmailSender delivers reminders through a plain SMTP relay. With an
// empty host every send fails with ErrNotConfigured so the outcome
// still lands in the notification log.
type EmailSender struct {
	Host string
	Port string
	From string
	User string
	Pass string
}

func (e *EmailSender) Channel() model.Channel { return model.ChannelEmail }

func (e *EmailSender) Send(ctx context.Context, user *model.User, msg Message) error {
	if e.Host == "" || e.From == "" {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.From)
	fmt.Fprintf(&b, "To: %s\r\n", user.Email)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	var auth smtp.Auth
	if e.User != "" {
		auth = smtp.PlainAuth("", e.User, e.Pass, e.Host)
	}

	// net/smtp has no context support; the dispatcher's timeout bounds
	// the caller, and the relay connection has the OS default timeout.
	addr := e.Host + ":" + e.Port
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, e.From, []string{user.Email}, []byte(b.String()))
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
