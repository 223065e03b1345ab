package smtp

import (
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smsrelay/smsrelay/internal/relay"
)

// buildMessage renders the RFC 5322 message for one outbound email.
// Subject and display name are Q-encoded so non-ASCII sender ids and
// aliases survive transit.
func buildMessage(email *relay.OutboundEmail, now time.Time) []byte {
	var b strings.Builder

	from := mail.Address{Name: email.FromDisplay, Address: email.FromAddress}
	to := mail.Address{Address: email.ToAddress}

	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", to.String())
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", email.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@smsrelay>\r\n", uuid.NewString())
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(email.HTMLBody)
	b.WriteString("\r\n")

	return []byte(b.String())
}
