package mailer

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRenderTextMessage(t *testing.T) {
	m := Message{
		From:    "payments@leaguehub.test",
		To:      []string{"ops@leaguehub.test", "oncall@leaguehub.test"},
		Subject: "Integrity incident: amount_mismatch",
		Body:    "line one\nline two",
		Headers: map[string]string{"X-Incident-ID": "inc-1\r\nBcc: evil@x"},
	}

	raw, err := m.render("leaguehub.test", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("render() error = %v", err)
	}

	for _, want := range []string{
		"From: payments@leaguehub.test\r\n",
		"To: ops@leaguehub.test, oncall@leaguehub.test\r\n",
		"Content-Type: text/plain; charset=UTF-8\r\n",
		"\r\n\r\nline one\r\nline two\r\n",
	} {
		if !strings.Contains(raw, want) {
			t.Fatalf("message missing %q:\n%s", want, raw)
		}
	}
	if strings.Contains(raw, "\r\nBcc:") {
		t.Fatalf("header injection not neutralised:\n%s", raw)
	}
}

func TestRenderRequiresFields(t *testing.T) {
	tests := []Message{
		{To: []string{"a@b"}, Subject: "s"},
		{From: "a@b", Subject: "s"},
		{From: "a@b", To: []string{"a@b"}},
	}
	for _, m := range tests {
		if _, err := m.render("x", time.Now()); err == nil {
			t.Fatalf("render(%+v) accepted an incomplete message", m)
		}
	}
}

func TestMockRecords(t *testing.T) {
	var m Mock
	if err := m.Send(context.Background(), Message{From: "a@b", To: []string{"c@d"}, Subject: "s"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(m.Sent()) != 1 {
		t.Fatalf("sent = %d, want 1", len(m.Sent()))
	}
}
