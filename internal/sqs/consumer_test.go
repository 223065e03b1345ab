package sqs

import (
	"strings"
	"testing"
	"time"
)

func TestParseEvent(t *testing.T) {
	t.Run("valid event", func(t *testing.T) {
		msg, err := parseEvent(`{"sender":"+15550001111","body":"your code is 123456","received_at":1748770200}`)
		if err != nil {
			t.Fatalf("parseEvent() error: %v", err)
		}
		if msg.Sender != "+15550001111" || msg.Body != "your code is 123456" {
			t.Errorf("unexpected message %+v", msg)
		}
		if !msg.ReceivedAt.Equal(time.Unix(1748770200, 0)) {
			t.Errorf("received at = %s", msg.ReceivedAt)
		}
	})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{not json`, "decode event"},
		{"blank sender", `{"sender":"","body":"x","received_at":1748770200}`, "invalid event"},
		{"blank body", `{"sender":"+1555","body":"  ","received_at":1748770200}`, "invalid event"},
		{"missing timestamp", `{"sender":"+1555","body":"x"}`, "invalid event"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseEvent(tt.body)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
