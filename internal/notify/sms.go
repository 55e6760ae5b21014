package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dosetrack/dosetrack/internal/model"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// SMSSender delivers reminders through the Twilio Messages REST API.
type SMSSender struct {
	AccountSID string
	AuthToken  string
	From       string
	HTTPClient *http.Client
	// BaseURL overrides the Twilio endpoint in tests.
	BaseURL string
}

func (s *SMSSender) Channel() model.Channel { return model.ChannelSMS }

func (s *SMSSender) Send(ctx context.Context, user *model.User, msg Message) error {
	if s.AccountSID == "" || s.AuthToken == "" || s.From == "" {
		return ErrNotConfigured
	}
	if user.PhoneNumber == nil || *user.PhoneNumber == "" {
		return ErrNoPhoneNumber
	}

	base := s.BaseURL
	if base == "" {
		base = twilioAPIBase
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", base, s.AccountSID)

	form := url.Values{}
	form.Set("To", *user.PhoneNumber)
	form.Set("From", s.From)
	form.Set("Body", msg.Short)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.AccountSID, s.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("twilio: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
