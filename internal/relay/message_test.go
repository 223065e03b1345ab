package relay

import (
	"testing"
	"time"
)

func TestInboundMessage_Valid(t *testing.T) {
	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		msg  InboundMessage
		want bool
	}{
		{"complete", InboundMessage{"+15550001111", "hello", at}, true},
		{"blank sender", InboundMessage{"   ", "hello", at}, false},
		{"blank body", InboundMessage{"+15550001111", "\t", at}, false},
		{"zero time", InboundMessage{"+15550001111", "hello", time.Time{}}, false},
		{"epoch time", InboundMessage{"+15550001111", "hello", time.Unix(0, 0)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInboundMessage_FormattedTime(t *testing.T) {
	msg := InboundMessage{ReceivedAt: time.Date(2025, 6, 1, 9, 5, 3, 0, time.UTC)}
	if got := msg.FormattedTime(); got != "2025-06-01 09:05:03" {
		t.Errorf("FormattedTime() = %q", got)
	}
}

func TestFilterRule_Matches(t *testing.T) {
	tests := []struct {
		name   string
		rule   FilterRule
		sender string
		body   string
		want   bool
	}{
		{"both empty matches everything", FilterRule{}, "+15550001111", "anything", true},
		{"whitespace rule matches everything", FilterRule{SenderContains: "  "}, "x", "y", true},
		{"sender substring match", FilterRule{SenderContains: "555"}, "+15550001111", "x", true},
		{"sender case insensitive", FilterRule{SenderContains: "BANK"}, "MyBank Alerts", "x", true},
		{"sender mismatch", FilterRule{SenderContains: "777"}, "+15550001111", "x", false},
		{"body substring match", FilterRule{BodyContains: "otp"}, "x", "Your OTP is 42", true},
		{"body mismatch", FilterRule{BodyContains: "otp"}, "x", "lunch at noon?", false},
		{"both set both match", FilterRule{SenderContains: "bank", BodyContains: "code"}, "BankCorp", "your code is 1", true},
		{"both set sender fails", FilterRule{SenderContains: "bank", BodyContains: "code"}, "spam", "your code is 1", false},
		{"both set body fails", FilterRule{SenderContains: "bank", BodyContains: "code"}, "BankCorp", "hello", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Matches(tt.sender, tt.body); got != tt.want {
				t.Errorf("Matches(%q, %q) = %v, want %v", tt.sender, tt.body, got, tt.want)
			}
		})
	}
}

func TestFilterRule_Active(t *testing.T) {
	if (FilterRule{}).Active() {
		t.Error("empty rule should be inactive")
	}
	if (FilterRule{SenderContains: " "}).Active() {
		t.Error("whitespace rule should be inactive")
	}
	if !(FilterRule{BodyContains: "otp"}).Active() {
		t.Error("rule with body condition should be active")
	}
}
