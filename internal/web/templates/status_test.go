package templates

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/daviddyess/iptoasn/internal/core"
	"github.com/daviddyess/iptoasn/internal/history"
	"github.com/daviddyess/iptoasn/internal/updater"
)

func TestStatusPage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	loaded := now.Add(-90 * time.Second).Unix()

	tests := []struct {
		name    string
		data    StatusData
		want    []string
		notWant []string
	}{
		{
			name: "loaded with history",
			data: StatusData{
				Version: "iptoasn v1.0.0 (abc123)",
				Status: core.Status{
					DatabaseStats: core.DatabaseStats{RecordCount: 3, LastUpdateTimestamp: &loaded},
					Generation:    2,
					Source:        "https://example.com/ip2asn.tsv.gz",
					Format:        "tsv",
					Updater:       updater.Status{State: updater.Scheduled, Interval: "1h0m0s"},
				},
				Events: []history.Event{{
					Trigger:     "scheduled",
					Outcome:     "failed",
					StartedAt:   now,
					Duration:    1500 * time.Millisecond,
					RecordCount: 3,
					Error:       `SRC002: <script>alert("x")</script>`,
				}},
				Now: now,
			},
			want: []string{
				"iptoasn v1.0.0 (abc123)",
				"<td>3</td>",
				"(1m30s ago)",
				"<td>scheduled</td>",
				"<td>1h0m0s</td>",
				`<tr class="failed">`,
				"&lt;script&gt;",
			},
			notWant: []string{"<script>", "No checks recorded yet."},
		},
		{
			name: "before first load",
			data: StatusData{Version: "dev", Now: now},
			want: []string{
				"<td>never</td>",
				"<td>idle</td>",
				"No checks recorded yet.",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b strings.Builder
			if err := StatusPage(tt.data).Render(context.Background(), &b); err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			page := b.String()
			for _, want := range tt.want {
				if !strings.Contains(page, want) {
					t.Errorf("page missing %q", want)
				}
			}
			for _, bad := range tt.notWant {
				if strings.Contains(page, bad) {
					t.Errorf("page contains %q", bad)
				}
			}
		})
	}
}
