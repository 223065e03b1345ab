package smtp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/smsrelay/smsrelay/internal/relay"
)

func nopLogger() *zap.Logger { return zap.NewNop() }

func smtpErr(code int, msg string) error {
	return fmt.Errorf("send: %w", &gosmtp.SMTPError{Code: code, Message: msg})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want relay.ErrorKind
	}{
		{"bad credentials", smtpErr(535, "authentication credentials invalid"), relay.KindAuthenticationFailed},
		{"auth required", smtpErr(530, "authentication required"), relay.KindAuthenticationFailed},
		{"auth mechanism weak", smtpErr(534, "stronger authentication required"), relay.KindAuthenticationFailed},
		{"mailbox unavailable", smtpErr(550, "no such user"), relay.KindInvalidRecipient},
		{"user not local", smtpErr(551, "user not local"), relay.KindInvalidRecipient},
		{"mailbox name not allowed", smtpErr(553, "mailbox name not allowed"), relay.KindInvalidRecipient},
		{"transient server error", smtpErr(451, "local error in processing"), relay.KindSMTPError},
		{"storage exceeded", smtpErr(552, "message size exceeds limit"), relay.KindSMTPError},
		{"dial refused", fmt.Errorf("dial: %w", &net.OpError{Op: "dial", Err: errors.New("connection refused")}), relay.KindNetworkError},
		{"timeout", fmt.Errorf("helo: %w", context.DeadlineExceeded), relay.KindNetworkError},
		{"starttls unsupported", errStartTLSUnsupported, relay.KindNetworkError},
		{"unrecognized", errors.New("weird"), relay.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			var se *relay.SendError
			if !errors.As(err, &se) {
				t.Fatalf("classify returned %T, want *relay.SendError", err)
			}
			if se.Kind != tt.want {
				t.Errorf("kind = %s, want %s", se.Kind, tt.want)
			}
		})
	}
}

func TestClassify_NilPassesThrough(t *testing.T) {
	if classify(nil) != nil {
		t.Fatal("nil error must classify to nil")
	}
}

func TestShouldFallback(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"auth rejection reached the server", smtpErr(535, "bad credentials"), false},
		{"recipient rejection reached the server", smtpErr(550, "no such user"), false},
		{"garbled greeting", smtpErr(421, "service not available"), true},
		{"starttls unsupported", errStartTLSUnsupported, true},
		{"dial failure", errors.New("dial: connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldFallback(tt.err); got != tt.want {
				t.Errorf("shouldFallback(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBuildMessage(t *testing.T) {
	email := &relay.OutboundEmail{
		FromDisplay: "pixel-7",
		FromAddress: "relay@example.com",
		ToAddress:   "inbox@example.com",
		Subject:     "+15550001111 => pixel-7 at (2025-06-01 09:30:00)",
		HTMLBody:    "<html><body>hi</body></html>",
	}
	now := time.Date(2025, 6, 1, 9, 30, 5, 0, time.UTC)

	msg := string(buildMessage(email, now))
	headers, body, found := strings.Cut(msg, "\r\n\r\n")
	if !found {
		t.Fatal("message must separate headers from body with a blank line")
	}

	for _, want := range []string{
		"From: pixel-7 <relay@example.com>",
		"To: <inbox@example.com>",
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
		"Date: Sun, 01 Jun 2025 09:30:05 +0000",
	} {
		if !strings.Contains(headers, want) {
			t.Errorf("headers missing %q\n%s", want, headers)
		}
	}
	if !strings.Contains(headers, "Message-ID: <") {
		t.Error("headers missing Message-ID")
	}
	if !strings.Contains(headers, "Subject: ") {
		t.Error("headers missing Subject")
	}
	if !strings.Contains(body, "<html><body>hi</body></html>") {
		t.Error("body missing HTML content")
	}
}

func TestBuildMessage_EncodesNonASCIISubject(t *testing.T) {
	email := &relay.OutboundEmail{
		FromAddress: "relay@example.com",
		ToAddress:   "inbox@example.com",
		Subject:     "Überweisung erhalten",
		HTMLBody:    "x",
	}

	msg := string(buildMessage(email, time.Now()))
	if strings.Contains(msg, "Subject: Überweisung") {
		t.Error("non-ASCII subject must be Q-encoded")
	}
	if !strings.Contains(msg, "=?UTF-8?q?") && !strings.Contains(msg, "=?utf-8?q?") {
		t.Errorf("expected encoded-word subject, got:\n%s", msg)
	}
}

func TestNewTransport_DefaultTimeout(t *testing.T) {
	tr := NewTransport(Config{Host: "mail.example.com", Port: 587}, nopLogger())
	if tr.cfg.Timeout != 30*time.Second {
		t.Errorf("default timeout = %s, want 30s", tr.cfg.Timeout)
	}
}

func TestTransport_Addr(t *testing.T) {
	tr := NewTransport(Config{Host: "mail.example.com", Port: 465}, nopLogger())
	if got := tr.addr(); got != "mail.example.com:465" {
		t.Errorf("addr() = %q", got)
	}
}
