// Package templates renders the HTML pages served by the web package.
package templates

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/daviddyess/iptoasn/internal/core"
	"github.com/daviddyess/iptoasn/internal/history"
)

// StatusData is everything the status page shows.
type StatusData struct {
	Version string
	Status  core.Status
	Events  []history.Event
	Now     time.Time
}

const statusCSS = `body{font-family:system-ui,sans-serif;margin:2rem;color:#1f2937}
table{border-collapse:collapse;margin-bottom:1.5rem}
td,th{padding:.3rem .8rem;border-bottom:1px solid #e5e7eb;text-align:left}
.failed{color:#b91c1c}.stale{color:#b45309}.updated{color:#15803d}
code{background:#f3f4f6;padding:0 .25rem}`

// StatusPage renders the dataset and updater status with recent refresh
// history.
func StatusPage(d StatusData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		esc := templ.EscapeString[string]

		b.WriteString("<!DOCTYPE html><html lang=\"en\"><head><meta charset=\"utf-8\">")
		b.WriteString("<title>iptoasn status</title><style>" + statusCSS + "</style></head><body>")
		fmt.Fprintf(&b, "<h1>iptoasn <small>%s</small></h1>", esc(d.Version))

		st := d.Status
		b.WriteString("<h2>Dataset</h2><table>")
		row(&b, "Records", fmt.Sprintf("%d", st.RecordCount))
		row(&b, "Generation", fmt.Sprintf("%d", st.Generation))
		row(&b, "Last update", lastUpdate(st.LastUpdateTimestamp, d.Now))
		row(&b, "Source", st.Source)
		row(&b, "Format", st.Format)
		row(&b, "ETag", st.ETag)
		row(&b, "Skipped rows", fmt.Sprintf("%d", st.Skipped))
		b.WriteString("</table>")

		b.WriteString("<h2>Updater</h2><table>")
		row(&b, "State", st.Updater.State.String())
		row(&b, "Interval", st.Updater.Interval)
		if st.Updater.LastCheck != nil {
			row(&b, "Last check", st.Updater.LastCheck.UTC().Format(time.RFC3339))
		}
		row(&b, "Last outcome", string(st.Updater.LastOutcome))
		if st.Updater.LastError != "" {
			row(&b, "Last error", st.Updater.LastError)
		}
		b.WriteString("</table>")

		b.WriteString("<h2>Recent checks</h2>")
		if len(d.Events) == 0 {
			b.WriteString("<p>No checks recorded yet.</p>")
		} else {
			b.WriteString("<table><tr><th>Started</th><th>Trigger</th><th>Outcome</th><th>Records</th><th>Duration</th><th>Detail</th></tr>")
			for _, e := range d.Events {
				detail := e.Error
				if detail == "" {
					detail = e.Warning
				}
				fmt.Fprintf(&b, "<tr class=\"%s\"><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%s</td><td>%s</td></tr>",
					esc(e.Outcome),
					esc(e.StartedAt.UTC().Format(time.RFC3339)),
					esc(e.Trigger),
					esc(e.Outcome),
					e.RecordCount,
					esc(e.Duration.Round(time.Millisecond).String()),
					esc(detail),
				)
			}
			b.WriteString("</table>")
		}

		b.WriteString("<p>Try <code>GET /api/lookup/8.8.8.8</code></p></body></html>")
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func row(b *strings.Builder, label, value string) {
	if value == "" {
		value = "-"
	}
	fmt.Fprintf(b, "<tr><th>%s</th><td>%s</td></tr>", templ.EscapeString(label), templ.EscapeString(value))
}

func lastUpdate(ts *int64, now time.Time) string {
	if ts == nil {
		return "never"
	}
	t := time.Unix(*ts, 0).UTC()
	return fmt.Sprintf("%s (%s ago)", t.Format(time.RFC3339), now.Sub(t).Round(time.Second))
}
