package history

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestMemory_RecentNewestFirst(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := m.Record(ctx, Event{Trigger: fmt.Sprintf("t%d", i)}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := m.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	want := []string{"t5", "t4", "t3"}
	if len(got) != len(want) {
		t.Fatalf("len(Recent) = %d, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.Trigger != want[i] {
			t.Errorf("Recent[%d].Trigger = %q, want %q", i, e.Trigger, want[i])
		}
		if e.ID == "" {
			t.Errorf("Recent[%d] has no ID", i)
		}
	}
}

func TestMemory_Limit(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		m.Record(ctx, Event{Trigger: fmt.Sprintf("t%d", i)})
	}

	tests := []struct {
		limit int
		want  int
	}{
		{1, 1},
		{4, 4},
		{50, 4},
		{0, 4}, // default limit
	}
	for _, tt := range tests {
		got, _ := m.Recent(ctx, tt.limit)
		if len(got) != tt.want {
			t.Errorf("Recent(%d) returned %d events, want %d", tt.limit, len(got), tt.want)
		}
	}
}

func TestMemory_Empty(t *testing.T) {
	got, err := NewMemory(0).Recent(context.Background(), 5)
	if err != nil || len(got) != 0 {
		t.Errorf("Recent() = %v, %v; want empty", got, err)
	}
}

// TestPostgres runs against a real database when HISTORY_TEST_DATABASE_URL
// is set.
func TestPostgres(t *testing.T) {
	url := os.Getenv("HISTORY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("HISTORY_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	p, err := OpenPostgres(ctx, url, 2)
	if err != nil {
		t.Fatalf("OpenPostgres() error = %v", err)
	}
	defer p.Close()
	if _, err := p.pool.Exec(ctx, "TRUNCATE refresh_history"); err != nil {
		t.Fatal(err)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		err := p.Record(ctx, Event{
			ID:          NewID(),
			Trigger:     "forced",
			Outcome:     "updated",
			StartedAt:   base.Add(time.Duration(i) * time.Second),
			Duration:    1500 * time.Millisecond,
			RecordCount: 100 + i,
			ETag:        fmt.Sprintf(`"v%d"`, i),
		})
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := p.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(Recent) = %d, want 2 after trimming", len(got))
	}
	if got[0].RecordCount != 102 || got[0].ETag != `"v2"` || got[0].Duration != 1500*time.Millisecond {
		t.Errorf("newest event = %+v", got[0])
	}
	if got[0].Error != "" {
		t.Errorf("Error = %q, want empty", got[0].Error)
	}
}
