package relay

import "strings"

// Render produces the HTML email body for a forwarded SMS. Pure and
// deterministic; sender, body and subject are escaped, the timestamp and
// alias are produced by us and trusted.
func Render(sender, body, formattedTimestamp, subject, deviceAlias string) string {
	var b strings.Builder

	b.WriteString(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<style>
  body { font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; background-color: #f5f5f5; padding: 20px; margin: 0; line-height: 1.6; }
  .card { max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 8px; box-shadow: 0 2px 8px rgba(0,0,0,0.1); overflow: hidden; }
  .header { background-color: #3b5bdb; padding: 20px 24px; color: #ffffff; }
  .content { padding: 24px; }
  .row { margin-bottom: 12px; font-size: 14px; }
  .label { font-weight: 600; color: #3b5bdb; margin-right: 8px; }
  .value { color: #333333; }
  .divider { border: none; border-top: 1px solid #e6e6e6; margin: 20px 0; }
  .message { white-space: pre-wrap; word-break: break-word; color: #1a1a1a; font-size: 15px; }
  .footer { margin-top: 20px; padding-top: 16px; border-top: 1px solid #e6e6e6; text-align: center; font-size: 12px; color: #999999; }
</style>
</head>
<body>
<div class="card">
  <div class="header"><h2 style="margin: 0; font-size: 20px;">New SMS received</h2></div>
  <div class="content">
    <div class="row"><span class="label">From:</span><span class="value">`)
	b.WriteString(EscapeHTML(sender))
	b.WriteString(`</span></div>
    <div class="row"><span class="label">Subject:</span><span class="value">`)
	b.WriteString(EscapeHTML(subject))
	b.WriteString(`</span></div>
    <div class="row"><span class="label">Received:</span><span class="value">`)
	b.WriteString(formattedTimestamp)
	b.WriteString(`</span></div>
    <hr class="divider">
    <div class="message">`)
	b.WriteString(EscapeHTML(body))
	b.WriteString(`</div>
    <div class="footer">Forwarded by `)
	b.WriteString(EscapeHTML(deviceAlias))
	b.WriteString(`</div>
  </div>
</div>
</body>
</html>`)

	return b.String()
}

// EscapeHTML neutralizes markup in user-controlled text and converts
// newlines to line breaks.
func EscapeHTML(text string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#39;",
	)
	escaped := r.Replace(text)
	escaped = strings.ReplaceAll(escaped, "\r\n", "<br>")
	escaped = strings.ReplaceAll(escaped, "\n", "<br>")
	return escaped
}
