package monitor

import (
	"encoding/json"
	"html"
	"strings"

	"loggram/internal/logstore"
)

var levelMarkers = map[logstore.Level]string{
	logstore.LevelError:   "🔴",
	logstore.LevelWarning: "🟡",
	logstore.LevelInfo:    "🔵",
	logstore.LevelDebug:   "🟣",
	logstore.LevelSuccess: "🟢",
}

// renderEntry formats one log entry as a Telegram HTML message. All
// user-supplied text is escaped.
func renderEntry(project string, e logstore.Entry) string {
	marker, ok := levelMarkers[e.Level]
	if !ok {
		marker = "📝"
	}

	var b strings.Builder
	b.WriteString(marker + " <b>" + html.EscapeString(project) + "</b> · " + html.EscapeString(string(e.Level)) + "\n")
	b.WriteString("🕐 " + e.Timestamp.Local().Format("2006-01-02 15:04:05") + "\n")

	if len(e.Tags) > 0 {
		parts := make([]string, 0, len(e.Tags))
		for _, t := range e.Tags {
			if t = strings.TrimSpace(t); t != "" {
				parts = append(parts, "#"+html.EscapeString(t))
			}
		}
		if len(parts) > 0 {
			b.WriteString("🏷 " + strings.Join(parts, " ") + "\n")
		}
	}

	b.WriteString("\n<pre>" + html.EscapeString(e.Message) + "</pre>")

	if len(e.Extra) > 0 {
		if pretty, err := json.MarshalIndent(e.Extra, "", "  "); err == nil {
			b.WriteString("\n<pre>" + html.EscapeString(string(pretty)) + "</pre>")
		}
	}
	return b.String()
}
