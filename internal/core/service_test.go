package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/daviddyess/iptoasn/internal/history"
	"github.com/daviddyess/iptoasn/internal/updater"
)

const testTable = "# ip2asn combined\n" +
	"1.0.0.0\t1.0.0.255\t13335\tUS\tCLOUDFLARENET\n" +
	"8.8.8.0\t8.8.8.255\t15169\tUS\tGOOGLE\n" +
	"192.0.2.0\t192.0.2.255\t0\tNone\tNot routed\n" +
	"2001:4860::\t2001:4860:ffff:ffff:ffff:ffff:ffff:ffff\t15169\tUS\tGOOGLE\n"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tableServer serves body with a fixed ETag and honors If-None-Match.
type tableServer struct {
	*httptest.Server
	status    atomic.Int32
	downloads atomic.Int32
}

func newTableServer(t *testing.T, body string) *tableServer {
	t.Helper()
	ts := &tableServer{}
	ts.status.Store(http.StatusOK)
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := int(ts.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		ts.downloads.Add(1)
		w.Header().Set("ETag", `"v1"`)
		io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestService(t *testing.T, source string) *Service {
	t.Helper()
	svc, err := NewService(Options{
		Source:   source,
		CacheDir: t.TempDir(),
		History:  history.NewMemory(10),
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

func TestService_LookupExample(t *testing.T) {
	ts := newTableServer(t, testTable)
	svc := newTestService(t, ts.URL+"/ip2asn-combined.tsv")

	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got, err := svc.Lookup("8.8.8.8")
	if err != nil {
		t.Fatalf("Lookup(8.8.8.8) error = %v", err)
	}
	if !got.Announced {
		t.Fatal("Lookup(8.8.8.8) announced = false, want true")
	}
	if got.ASNumber == nil || *got.ASNumber != 15169 {
		t.Errorf("ASNumber = %v, want 15169", got.ASNumber)
	}
	if got.FirstIP == nil || *got.FirstIP != "8.8.8.0" {
		t.Errorf("FirstIP = %v, want 8.8.8.0", got.FirstIP)
	}
	if got.LastIP == nil || *got.LastIP != "8.8.8.255" {
		t.Errorf("LastIP = %v, want 8.8.8.255", got.LastIP)
	}
	if got.ASCountryCode == nil || *got.ASCountryCode != "US" {
		t.Errorf("ASCountryCode = %v, want US", got.ASCountryCode)
	}
	if got.ASDescription == nil || *got.ASDescription != "GOOGLE" {
		t.Errorf("ASDescription = %v, want GOOGLE", got.ASDescription)
	}

	v6, err := svc.Lookup("2001:4860:4860::8888")
	if err != nil {
		t.Fatalf("Lookup(v6) error = %v", err)
	}
	if !v6.Announced || *v6.ASNumber != 15169 {
		t.Errorf("Lookup(v6) = %+v, want AS15169", v6)
	}

	for _, ip := range []string{"192.0.2.1", "203.0.113.9"} {
		res, err := svc.Lookup(ip)
		if err != nil {
			t.Fatalf("Lookup(%s) error = %v", ip, err)
		}
		if res.Announced || res.ASNumber != nil || res.FirstIP != nil {
			t.Errorf("Lookup(%s) = %+v, want unannounced with no optional fields", ip, res)
		}
	}
}

func TestAsnResult_JSON(t *testing.T) {
	ts := newTableServer(t, testTable)
	svc := newTestService(t, ts.URL)
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		ip   string
		want string
	}{
		{
			ip:   "192.0.2.1",
			want: `{"ip":"192.0.2.1","announced":false}`,
		},
		{
			ip:   "1.0.0.1",
			want: `{"ip":"1.0.0.1","announced":true,"first_ip":"1.0.0.0","last_ip":"1.0.0.255","as_number":13335,"as_country_code":"US","as_description":"CLOUDFLARENET"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			res, err := svc.Lookup(tt.ip)
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			b, err := json.Marshal(res)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(b) != tt.want {
				t.Errorf("json = %s, want %s", b, tt.want)
			}
		})
	}
}

func TestService_InvalidInput(t *testing.T) {
	ts := newTableServer(t, testTable)
	svc := newTestService(t, ts.URL)
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	refs := svc.store.Current().Refs()
	for _, ip := range []string{"not-an-ip", "", "8.8.8", "::g"} {
		_, err := svc.Lookup(ip)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Lookup(%q) error = %v, want ErrInvalidInput", ip, err)
		}
		if code := MapError(err).Code; code != "LKP001" {
			t.Errorf("MapError(Lookup(%q)) code = %q, want LKP001", ip, code)
		}
	}
	if got := svc.store.Current().Refs(); got != refs {
		t.Errorf("refs = %d after invalid lookups, want %d", got, refs)
	}
}

func TestService_Stats(t *testing.T) {
	ts := newTableServer(t, testTable)
	svc := newTestService(t, ts.URL)

	before := svc.Stats()
	if before.RecordCount != 0 || before.LastUpdateTimestamp != nil {
		t.Errorf("Stats() before Load = %+v, want zero", before)
	}
	res, err := svc.Lookup("8.8.8.8")
	if err != nil || res.Announced {
		t.Errorf("Lookup() before Load = %+v, %v, want unannounced", res, err)
	}

	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	after := svc.Stats()
	if after.RecordCount != 4 {
		t.Errorf("RecordCount = %d, want 4", after.RecordCount)
	}
	if after.LastUpdateTimestamp == nil || *after.LastUpdateTimestamp <= 0 {
		t.Errorf("LastUpdateTimestamp = %v, want set", after.LastUpdateTimestamp)
	}
}

func TestService_ForceUpdateNotModified(t *testing.T) {
	ts := newTableServer(t, testTable)
	svc := newTestService(t, ts.URL)
	ctx := context.Background()

	if err := svc.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	snap := svc.store.Current()
	before := svc.Stats()

	updated, err := svc.ForceUpdate(ctx)
	if err != nil {
		t.Fatalf("ForceUpdate() error = %v", err)
	}
	if updated {
		t.Error("ForceUpdate() = true on 304, want false")
	}
	if svc.store.Current() != snap {
		t.Error("snapshot replaced on 304")
	}
	after := svc.Stats()
	if after.RecordCount != before.RecordCount || *after.LastUpdateTimestamp != *before.LastUpdateTimestamp {
		t.Errorf("Stats() = %+v, want %+v", after, before)
	}
	if n := ts.downloads.Load(); n != 1 {
		t.Errorf("downloads = %d, want 1", n)
	}

	events, err := svc.History(ctx, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(History) = %d, want 2", len(events))
	}
	if events[0].Trigger != "forced" || events[0].Outcome != "not_modified" {
		t.Errorf("newest event = %s/%s, want forced/not_modified", events[0].Trigger, events[0].Outcome)
	}
	if events[1].Trigger != "load" || events[1].Outcome != "updated" {
		t.Errorf("oldest event = %s/%s, want load/updated", events[1].Trigger, events[1].Outcome)
	}
	if events[1].RecordCount != 4 || events[1].ID == "" {
		t.Errorf("load event = %+v, want 4 records and an ID", events[1])
	}
}

func TestService_ForceUpdateFailureKeepsData(t *testing.T) {
	ts := newTableServer(t, testTable)
	svc := newTestService(t, ts.URL)
	ctx := context.Background()

	if err := svc.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	ts.status.Store(http.StatusBadGateway)

	updated, err := svc.ForceUpdate(ctx)
	if err != nil {
		t.Fatalf("ForceUpdate() error = %v, want stale fallback", err)
	}
	if updated {
		t.Error("ForceUpdate() = true with the source down, want false")
	}
	res, err := svc.Lookup("8.8.8.8")
	if err != nil || !res.Announced {
		t.Errorf("Lookup() after failed refresh = %+v, %v, want announced", res, err)
	}

	st := svc.Status()
	if st.Updater.LastOutcome != updater.OutcomeStale {
		t.Errorf("LastOutcome = %q, want %q", st.Updater.LastOutcome, updater.OutcomeStale)
	}
}

func TestService_LoadFailure(t *testing.T) {
	ts := newTableServer(t, testTable)
	ts.status.Store(http.StatusInternalServerError)
	svc := newTestService(t, ts.URL)
	ctx := context.Background()

	err := svc.Load(ctx)
	if !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("Load() error = %v, want ErrNetworkFailure", err)
	}
	if code := MapError(err).Code; code != "SRC002" {
		t.Errorf("MapError(Load()) code = %q, want SRC002", code)
	}

	events, err := svc.History(ctx, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(events) != 1 || events[0].Outcome != "failed" {
		t.Fatalf("History() = %+v, want one failed event", events)
	}
	if !strings.HasPrefix(events[0].Error, "SRC002: ") {
		t.Errorf("event error = %q, want SRC002 prefix", events[0].Error)
	}
}

func TestService_LocalSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ip2asn.tsv")
	if err := os.WriteFile(path, []byte(testTable), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := newTestService(t, "file://"+path)

	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	res, err := svc.Lookup("1.0.0.1")
	if err != nil || !res.Announced || *res.ASNumber != 13335 {
		t.Errorf("Lookup(1.0.0.1) = %+v, %v, want AS13335", res, err)
	}
}

func TestNewService_InvalidSource(t *testing.T) {
	_, err := NewService(Options{
		Source:   "ftp://example.com/table.tsv",
		CacheDir: t.TempDir(),
		Logger:   quietLogger(),
	})
	if !errors.Is(err, ErrInvalidSource) {
		t.Errorf("NewService() error = %v, want ErrInvalidSource", err)
	}
}

func TestService_AutoUpdate(t *testing.T) {
	ts := newTableServer(t, testTable)
	svc := newTestService(t, ts.URL)

	if err := svc.StartAutoUpdate(0); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("StartAutoUpdate(0) error = %v, want ErrInvalidInterval", err)
	}
	if got := svc.Status().Updater.State; got != updater.Idle {
		t.Errorf("State = %v, want idle", got)
	}

	if err := svc.StartAutoUpdate(60); err != nil {
		t.Fatalf("StartAutoUpdate(60) error = %v", err)
	}
	if err := svc.StartAutoUpdate(30); err != nil {
		t.Fatalf("StartAutoUpdate(30) error = %v", err)
	}
	st := svc.Status().Updater
	if st.State != updater.Scheduled || st.Interval != "30m0s" {
		t.Errorf("Updater = %+v, want scheduled every 30m0s", st)
	}

	svc.StopAutoUpdate()
	svc.StopAutoUpdate()
	if got := svc.Status().Updater.State; got != updater.Stopped {
		t.Errorf("State = %v, want stopped", got)
	}
}
