package email

import (
	"testing"
	"time"
)

func TestFindCode(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"subject line", "Your Axiom security code is 483920", "483920"},
		{"code alone", "194857", "194857"},
		{"body with noise", "Hello,\r\n\r\nYour code: 550123\r\n\r\nThanks", "550123"},
		{"soft line break", "Your code is 48=\r\n3920, valid 10 minutes", "483920"},
		{"first of several", "code 111111 then 222222", "111111"},
		{"too short", "code 12345 only", ""},
		{"embedded in longer digits", "order 1234567 shipped", ""},
		{"empty", "", ""},
		{"no digits", "no code here", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := findCode(tc.text); got != tc.want {
				t.Fatalf("findCode(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestNewFetcherDefaults(t *testing.T) {
	f := NewFetcher("u@inbox.lv", "pw")
	if f.addr != "mail.inbox.lv:993" {
		t.Fatalf("addr = %q", f.addr)
	}
	if f.lookback != 10*time.Minute {
		t.Fatalf("lookback = %v", f.lookback)
	}
}

func TestNewFetcherOptions(t *testing.T) {
	f := NewFetcher("u@inbox.lv", "pw",
		WithIMAPAddr("imap.example.com:993"),
		WithLookback(time.Hour),
	)
	if f.addr != "imap.example.com:993" {
		t.Fatalf("addr = %q", f.addr)
	}
	if f.lookback != time.Hour {
		t.Fatalf("lookback = %v", f.lookback)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("INBOX_LV_EMAIL", "u@inbox.lv")
	t.Setenv("INBOX_LV_PASSWORD", "pw")

	f, ok := FromEnv()
	if !ok {
		t.Fatal("FromEnv reported no credentials")
	}
	if f.email != "u@inbox.lv" || f.password != "pw" {
		t.Fatalf("credentials = %q/%q", f.email, f.password)
	}

	t.Setenv("INBOX_LV_PASSWORD", "")
	if _, ok := FromEnv(); ok {
		t.Fatal("FromEnv succeeded with a missing password")
	}
}
