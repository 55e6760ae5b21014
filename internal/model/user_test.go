package model

import (
	"testing"
	"time"
)

func TestLocationFallsBackToUTC(t *testing.T) {
	u := User{Timezone: "Not/AZone"}
	if got := u.Location(); got != time.UTC {
		t.Fatalf("invalid zone resolved to %v, want UTC", got)
	}
	u.Timezone = ""
	if got := u.Location(); got != time.UTC {
		t.Fatalf("empty zone resolved to %v, want UTC", got)
	}
	u.Timezone = "Asia/Kolkata"
	if got := u.Location().String(); got != "Asia/Kolkata" {
		t.Fatalf("zone = %q", got)
	}
}

func TestDisplayName(t *testing.T) {
	u := User{Email: "pat@example.com"}
	if got := u.DisplayName(); got != "pat@example.com" {
		t.Fatalf("DisplayName = %q, want email fallback", got)
	}
	u.Name = "Pat"
	if got := u.DisplayName(); got != "Pat" {
		t.Fatalf("DisplayName = %q, want Pat", got)
	}
}
