package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dosetrack/dosetrack/internal/model"
)

const fcmEndpoint = "https://fcm.googleapis.com/fcm/send"

// PushSender delivers reminders through Firebase Cloud Messaging's
// HTTP API. The Data payload rides along so the mobile client can
// deep-link to the schedule.
type PushSender struct {
	ServerKey  string
	HTTPClient *http.Client
	// Endpoint overrides the FCM URL in tests.
	Endpoint string
}

func (p *PushSender) Channel() model.Channel { return model.ChannelPush }

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmRequest struct {
	To           string            `json:"to"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		Error string `json:"error"`
	} `json:"results"`
}

func (p *PushSender) Send(ctx context.Context, user *model.User, msg Message) error {
	if p.ServerKey == "" {
		return ErrNotConfigured
	}
	if user.DeviceToken == nil || *user.DeviceToken == "" {
		return ErrNoDeviceToken
	}

	payload, err := json.Marshal(fcmRequest{
		To:           *user.DeviceToken,
		Notification: fcmNotification{Title: msg.Subject, Body: msg.Short},
		Data:         msg.Data,
	})
	if err != nil {
		return err
	}

	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = fcmEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "key="+p.ServerKey)
	req.Header.Set("Content-Type", "application/json")

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fcm: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// A 200 with an unreadable body still means the gateway took it.
		return nil
	}
	if out.Failure > 0 {
		reason := "unknown"
		if len(out.Results) > 0 && out.Results[0].Error != "" {
			reason = out.Results[0].Error
		}
		return fmt.Errorf("fcm: delivery rejected: %s", reason)
	}
	return nil
}
