package relay

import (
	"strings"
	"time"
)

// TimestampLayout is the human-readable timestamp format used in subjects
// and rendered bodies.
const TimestampLayout = "2006-01-02 15:04:05"

// InboundMessage is a received SMS event. Immutable once captured.
type InboundMessage struct {
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Valid reports whether the message is well-formed enough to forward.
func (m InboundMessage) Valid() bool {
	return strings.TrimSpace(m.Sender) != "" &&
		strings.TrimSpace(m.Body) != "" &&
		!m.ReceivedAt.IsZero() && m.ReceivedAt.Unix() > 0
}

// FormattedTime renders the receipt time for display.
func (m InboundMessage) FormattedTime() string {
	return m.ReceivedAt.Format(TimestampLayout)
}

// OutboundEmail is a fully composed email ready for the transport.
type OutboundEmail struct {
	FromDisplay string // optional display name on the From header
	FromAddress string
	ToAddress   string
	Subject     string
	HTMLBody    string
}

// FilterRule gates which messages are forwarded. Both fields optional;
// blank means unset. With both unset every message matches.
type FilterRule struct {
	SenderContains string `json:"sender_contains"`
	BodyContains   string `json:"body_contains"`
}

// Matches applies case-insensitive substring containment, AND-combined when
// both sub-conditions are present.
func (r FilterRule) Matches(sender, body string) bool {
	senderFilter := strings.TrimSpace(r.SenderContains)
	bodyFilter := strings.TrimSpace(r.BodyContains)

	if senderFilter == "" && bodyFilter == "" {
		return true
	}

	senderOK := senderFilter == "" ||
		strings.Contains(strings.ToLower(sender), strings.ToLower(senderFilter))
	bodyOK := bodyFilter == "" ||
		strings.Contains(strings.ToLower(body), strings.ToLower(bodyFilter))

	return senderOK && bodyOK
}

// Active reports whether any sub-condition is set.
func (r FilterRule) Active() bool {
	return strings.TrimSpace(r.SenderContains) != "" || strings.TrimSpace(r.BodyContains) != ""
}
