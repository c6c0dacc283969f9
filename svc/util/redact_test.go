package util

import (
	"strings"
	"testing"
)

func TestRedactContent(t *testing.T) {
	if got := RedactContent(""); got != "" {
		t.Errorf("RedactContent(\"\") = %q", got)
	}
	if got := RedactContent("short paste"); got != "[REDACTED]" {
		t.Errorf("short content not fully redacted: %q", got)
	}
	long := strings.Repeat("secret body ", 10)
	got := RedactContent(long)
	if !strings.Contains(got, "[REDACTED]") {
		t.Errorf("long content missing redaction marker: %q", got)
	}
	if strings.Contains(got, "secret body secret body") {
		t.Errorf("too much content survives redaction: %q", got)
	}
}

func TestRedactSecret(t *testing.T) {
	in := "dial failed: redis://u:pw@host?password=hunter2&token=abc123"
	got := RedactSecret(in)
	if strings.Contains(got, "hunter2") || strings.Contains(got, "abc123") {
		t.Errorf("secrets survive redaction: %q", got)
	}
	if !strings.Contains(got, "password=[REDACTED]") {
		t.Errorf("marker missing: %q", got)
	}
}

func TestRedactIP(t *testing.T) {
	if got := RedactIP("203.0.113.77:8080"); got != "203.0.113.0" {
		t.Errorf("RedactIP v4 = %q", got)
	}
	if got := RedactIP("203.0.113.77"); got != "203.0.113.0" {
		t.Errorf("RedactIP bare v4 = %q", got)
	}
	got := RedactIP("2001:db8::dead:beef")
	if strings.Contains(got, "dead") || strings.Contains(got, "beef") {
		t.Errorf("v6 host bits survive: %q", got)
	}
	if got := RedactIP("garbage"); !strings.HasPrefix(got, "hash:") {
		t.Errorf("unparseable address not hashed: %q", got)
	}
}
