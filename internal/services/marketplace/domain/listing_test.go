package domain

import "testing"

func TestParseStatusAcceptsKnownTokens(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"pending", "requested", "accepted"} {
		status, err := ParseStatus(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if status.String() != raw {
			t.Fatalf("round trip %q -> %q", raw, status)
		}
	}
}

func TestParseStatusRejectsUnknownTokens(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "Pending", "done", "cancelled"} {
		if _, err := ParseStatus(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
