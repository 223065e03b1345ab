package relay

import (
	"strings"
	"testing"
)

func TestEscapeHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"ampersand", "a&b", "a&amp;b"},
		{"angle brackets", "<script>", "&lt;script&gt;"},
		{"quotes", `say "hi" it's`, "say &quot;hi&quot; it&#39;s"},
		{"newline to br", "line1\nline2", "line1<br>line2"},
		{"crlf to br", "line1\r\nline2", "line1<br>line2"},
		{"ampersand before tag", "&<", "&amp;&lt;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EscapeHTML(tt.in); got != tt.want {
				t.Errorf("EscapeHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRender_EscapesUntrustedFields(t *testing.T) {
	html := Render(`<b>sender</b>`, `body & "stuff"`, "2025-06-01 09:00:00", `subj<i>`, `alias'`)

	for _, raw := range []string{`<b>sender</b>`, `body & "stuff"`, `subj<i>`, `alias'`} {
		if strings.Contains(html, raw) {
			t.Errorf("rendered HTML contains unescaped input %q", raw)
		}
	}
	for _, escaped := range []string{"&lt;b&gt;sender&lt;/b&gt;", "body &amp; &quot;stuff&quot;", "subj&lt;i&gt;", "alias&#39;"} {
		if !strings.Contains(html, escaped) {
			t.Errorf("rendered HTML missing escaped form %q", escaped)
		}
	}
}

func TestRender_IsDeterministic(t *testing.T) {
	a := Render("s", "b", "2025-06-01 09:00:00", "subj", "alias")
	b := Render("s", "b", "2025-06-01 09:00:00", "subj", "alias")
	if a != b {
		t.Fatal("same inputs must render identical HTML")
	}
}

func TestRender_MultilineBody(t *testing.T) {
	html := Render("s", "first\nsecond", "2025-06-01 09:00:00", "subj", "alias")
	if !strings.Contains(html, "first<br>second") {
		t.Error("body newlines should render as <br>")
	}
}

func TestRender_ContainsTimestampVerbatim(t *testing.T) {
	html := Render("s", "b", "2025-06-01 09:00:00", "subj", "alias")
	if !strings.Contains(html, "2025-06-01 09:00:00") {
		t.Error("formatted timestamp should appear in the body")
	}
}
