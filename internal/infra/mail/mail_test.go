package mail

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/arklim/storefront-signup/internal/core/port"
)

func TestSMTPNotifierRendersOTP(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: 25, From: "noreply@shop.test"})

	var sent rendered
	n.send = func(_ context.Context, msg rendered) error {
		sent = msg
		return nil
	}

	err := n.SendOTP(context.Background(), port.OTPMessage{
		Email:     "a@x.com",
		Name:      "Ann",
		Code:      "123456",
		ExpiresAt: time.Date(2025, 10, 12, 10, 10, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("SendOTP: %v", err)
	}

	if sent.To != "a@x.com" || sent.Subject != "Your verification code" {
		t.Fatalf("unexpected envelope: %+v", sent)
	}
	if !strings.Contains(sent.Body, "123456") || !strings.Contains(sent.Body, "Hello Ann") {
		t.Fatalf("body missing code or name: %q", sent.Body)
	}
}

func TestSMTPNotifierResendSubject(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: 25})

	var sent rendered
	n.send = func(_ context.Context, msg rendered) error {
		sent = msg
		return nil
	}

	_ = n.SendOTP(context.Background(), port.OTPMessage{Email: "a@x.com", Code: "654321", Resend: true})
	if sent.Subject != "Your new verification code" {
		t.Fatalf("unexpected subject %q", sent.Subject)
	}
}

func TestSMTPNotifierSkipsOperatorWithoutRecipient(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "localhost", Port: 25})

	called := false
	n.send = func(context.Context, rendered) error {
		called = true
		return nil
	}

	if err := n.SendOperatorNotice(context.Background(), port.OperatorMessage{UserEmail: "a@x.com"}); err != nil {
		t.Fatalf("SendOperatorNotice: %v", err)
	}
	if called {
		t.Fatal("expected no delivery without operator address")
	}
}

func TestComposeHeaders(t *testing.T) {
	raw := string(compose("from@x.com", rendered{To: "to@x.com", Subject: "Hi", Body: "a\nb"}, time.Unix(0, 0)))

	for _, want := range []string{"From: from@x.com\r\n", "To: to@x.com\r\n", "Subject: Hi\r\n", "\r\n\r\na\r\nb"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("composed message missing %q:\n%s", want, raw)
		}
	}
}

func TestLoggingNotifierMasksEmail(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLoggingNotifier(zap.New(core), false)

	_ = n.SendOTP(context.Background(), port.OTPMessage{Email: "john.doe@example.com", Code: "123456"})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["email"] != "joh***@example.com" {
		t.Fatalf("email not masked: %v", fields["email"])
	}
	if _, ok := fields["dev_code"]; ok {
		t.Fatal("code must not be logged when exposure is disabled")
	}
}
