package util

import (
	"testing"
	"time"
)

func TestFormatTimeSince(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	testCases := []struct {
		since    time.Duration
		expected string
	}{
		{0, "Now"},
		{time.Second, "1 second ago"},
		{30 * time.Second, "30 seconds ago"},
		{time.Minute + 5*time.Second, "1 minute, 5 seconds ago"},
		{2*time.Minute + 10*time.Second, "2 minutes, 10 seconds ago"},
		{10 * time.Minute, "10 minutes ago"},
		{time.Hour + 20*time.Minute, "1 hour, 20 minutes ago"},
		{2*time.Hour + 5*time.Minute, "2 hours, 5 minutes ago"},
		{5 * time.Hour, "5 hours ago"},
		{24*time.Hour + 3*time.Hour, "1 day, 3 hours ago"},
		{2*24*time.Hour + 1*time.Hour, "2 days, 1 hours ago"},
		{10 * 24 * time.Hour, "10 days ago"},
		{-time.Minute, "In the future?"},
	}
	for _, tc := range testCases {
		if got := formatTimeSince(now, now.Add(-tc.since)); got != tc.expected {
			t.Errorf("formatTimeSince(-%s) = %q; want %q", tc.since, got, tc.expected)
		}
	}
}

func TestFormatDatetime(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	sameDay := formatDatetime(now, now.Add(-2*time.Hour))
	if sameDay != "10:00 UTC" {
		t.Errorf("formatDatetime same-day = %q; want %q", sameDay, "10:00 UTC")
	}

	older := formatDatetime(now, now.Add(-3*24*time.Hour))
	if older != "2024-06-12 12:00 UTC" {
		t.Errorf("formatDatetime older = %q; want %q", older, "2024-06-12 12:00 UTC")
	}
}

func TestFormatLastCheck(t *testing.T) {
	got := FormatLastCheck(time.Now().UTC().Add(-10 * time.Minute))
	if got == "" {
		t.Fatal("FormatLastCheck returned empty string")
	}
}
