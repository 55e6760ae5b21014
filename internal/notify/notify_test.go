package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dosetrack/dosetrack/internal/model"
)

type stubSender struct {
	ch    model.Channel
	err   error
	calls int
}

func (s *stubSender) Channel() model.Channel { return s.ch }

func (s *stubSender) Send(context.Context, *model.User, Message) error {
	s.calls++
	return s.err
}

func str(s string) *string { return &s }

func testUser() *model.User {
	return &model.User{ID: 7, Email: "pat@example.com", Name: "Pat", Timezone: "UTC", IsActive: true}
}

func TestDispatchIsolatesChannelFailures(t *testing.T) {
	email := &stubSender{ch: model.ChannelEmail, err: errors.New("smtp refused")}
	sms := &stubSender{ch: model.ChannelSMS}
	d := NewDispatcher(nil, 0, email, sms)

	results := d.Dispatch(context.Background(), testUser(),
		[]model.Channel{model.ChannelEmail, model.ChannelSMS}, Message{Kind: model.KindDose})

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Channel != model.ChannelEmail || results[0].Err == nil {
		t.Fatalf("expected email failure first, got %+v", results[0])
	}
	if results[1].Channel != model.ChannelSMS || results[1].Err != nil {
		t.Fatalf("expected sms success second, got %+v", results[1])
	}
	if sms.calls != 1 {
		t.Fatal("a failing channel must not stop the next one")
	}
}

func TestDispatchUnknownChannel(t *testing.T) {
	d := NewDispatcher(nil, 0, &stubSender{ch: model.ChannelEmail})
	results := d.Dispatch(context.Background(), testUser(),
		[]model.Channel{model.ChannelPush}, Message{Kind: model.KindDose})
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("expected an error result for an unwired channel, got %+v", results)
	}
}

func TestEmailSenderUnconfigured(t *testing.T) {
	e := &EmailSender{}
	err := e.Send(context.Background(), testUser(), Message{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSMSSenderMissingPhone(t *testing.T) {
	s := &SMSSender{AccountSID: "AC123", AuthToken: "tok", From: "+15550100"}
	err := s.Send(context.Background(), testUser(), Message{Short: "hi"})
	if !errors.Is(err, ErrNoPhoneNumber) {
		t.Fatalf("expected ErrNoPhoneNumber, got %v", err)
	}
}

func TestSMSSenderPostsForm(t *testing.T) {
	var gotPath, gotTo, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotPath = r.URL.Path
		gotTo = r.PostFormValue("To")
		gotBody = r.PostFormValue("Body")
		if _, _, ok := r.BasicAuth(); !ok {
			t.Error("expected basic auth on the twilio request")
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := &SMSSender{AccountSID: "AC123", AuthToken: "tok", From: "+15550100", BaseURL: srv.URL}
	u := testUser()
	u.PhoneNumber = str("+15550123")

	if err := s.Send(context.Background(), u, Message{Short: "Medicine Reminder"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/Accounts/AC123/Messages.json" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotTo != "+15550123" || gotBody != "Medicine Reminder" {
		t.Fatalf("form = To %q Body %q", gotTo, gotBody)
	}
}

func TestSMSSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"invalid number"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s := &SMSSender{AccountSID: "AC123", AuthToken: "tok", From: "+15550100", BaseURL: srv.URL}
	u := testUser()
	u.PhoneNumber = str("+15550123")

	err := s.Send(context.Background(), u, Message{Short: "hi"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected a status 400 error, got %v", err)
	}
}

func TestPushSenderMissingToken(t *testing.T) {
	p := &PushSender{ServerKey: "key"}
	err := p.Send(context.Background(), testUser(), Message{})
	if !errors.Is(err, ErrNoDeviceToken) {
		t.Fatalf("expected ErrNoDeviceToken, got %v", err)
	}
}

func TestPushSenderDeliveryRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":0,"failure":1,"results":[{"error":"NotRegistered"}]}`))
	}))
	defer srv.Close()

	p := &PushSender{ServerKey: "key", Endpoint: srv.URL}
	u := testUser()
	u.DeviceToken = str("device-token")

	err := p.Send(context.Background(), u, Message{Subject: "Reminder", Short: "hi"})
	if err == nil || !strings.Contains(err.Error(), "NotRegistered") {
		t.Fatalf("expected a NotRegistered rejection, got %v", err)
	}
}

func TestPushSenderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "key=key" {
			t.Errorf("authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"success":1,"failure":0}`))
	}))
	defer srv.Close()

	p := &PushSender{ServerKey: "key", Endpoint: srv.URL}
	u := testUser()
	u.DeviceToken = str("device-token")

	if err := p.Send(context.Background(), u, Message{Subject: "Reminder", Short: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestDoseMessageText(t *testing.T) {
	u := testUser()
	s := &model.Schedule{
		ID: 3, MedicineName: "Metformin", MedicineType: model.MedicineTablet,
		Quantity: decimal.NewFromInt(29),
	}
	slot := &model.DoseSlot{Amount: decimal.NewFromInt(2), TimeOfDay: "15:04:00"}

	msg := DoseMessage(u, s, slot)
	if msg.Kind != model.KindDose {
		t.Fatalf("kind = %q", msg.Kind)
	}
	if msg.Subject != "Medicine Reminder: Metformin" {
		t.Fatalf("subject = %q", msg.Subject)
	}
	if msg.Short != "Medicine Reminder: Take 2 Metformin at 03:04 PM" {
		t.Fatalf("short = %q", msg.Short)
	}
	if !strings.Contains(msg.Body, "Hello Pat,") || !strings.Contains(msg.Body, "Remaining Quantity: 29") {
		t.Fatalf("body = %q", msg.Body)
	}
	if msg.Data["schedule_id"] != "3" || msg.Data["type"] != "dose_reminder" {
		t.Fatalf("data = %v", msg.Data)
	}
}

func TestRefillMessageText(t *testing.T) {
	u := testUser()
	s := &model.Schedule{
		ID: 3, MedicineName: "Metformin",
		Quantity:        decimal.NewFromInt(8),
		RefillThreshold: decimal.NullDecimal{Decimal: decimal.NewFromInt(10), Valid: true},
	}

	msg := RefillMessage(u, s)
	if msg.Kind != model.KindRefill {
		t.Fatalf("kind = %q", msg.Kind)
	}
	if msg.Short != "Refill Alert: Your Metformin stock is low (8 remaining). Please refill soon." {
		t.Fatalf("short = %q", msg.Short)
	}
	if !strings.Contains(msg.Body, "Refill Threshold: 10") {
		t.Fatalf("body = %q", msg.Body)
	}
	if msg.Data["current_quantity"] != "8" || msg.Data["threshold"] != "10" {
		t.Fatalf("data = %v", msg.Data)
	}
}
