package dnsapi

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/daviddyess/iptoasn/internal/core"
)

const testTable = "8.8.8.0\t8.8.8.255\t15169\tUS\tGOOGLE\n" +
	"2001:4860::\t2001:4860:ffff:ffff:ffff:ffff:ffff:ffff\t15169\tUS\tGOOGLE\n"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ip2asn.tsv")
	if err := os.WriteFile(path, []byte(testTable), 0o644); err != nil {
		t.Fatal(err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := core.NewService(core.Options{Source: path, CacheDir: t.TempDir(), Logger: log})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })

	return NewServer(svc, Config{Zone: "origin.asn.local", TTL: 60, Logger: log})
}

func query(name string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	return m
}

func TestAnswer(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name      string
		qname     string
		qtype     uint16
		wantRcode int
		wantTXT   string
	}{
		{
			name:      "ipv4",
			qname:     "8.8.8.8.origin.asn.local.",
			qtype:     dns.TypeTXT,
			wantRcode: dns.RcodeSuccess,
			wantTXT:   "15169 | 8.8.8.0-8.8.8.255 | US | GOOGLE",
		},
		{
			name:      "ipv6 nibbles",
			qname:     "8.8.8.8.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.6.8.4.1.0.0.2.origin.asn.local.",
			qtype:     dns.TypeTXT,
			wantRcode: dns.RcodeSuccess,
			wantTXT:   "15169 | 2001:4860::-2001:4860:ffff:ffff:ffff:ffff:ffff:ffff | US | GOOGLE",
		},
		{
			name:      "case insensitive zone",
			qname:     "8.8.8.8.ORIGIN.asn.Local.",
			qtype:     dns.TypeTXT,
			wantRcode: dns.RcodeSuccess,
			wantTXT:   "15169 | 8.8.8.0-8.8.8.255 | US | GOOGLE",
		},
		{
			name:      "unannounced",
			qname:     "1.2.0.192.origin.asn.local.",
			qtype:     dns.TypeTXT,
			wantRcode: dns.RcodeNameError,
		},
		{
			name:      "octet out of range",
			qname:     "300.8.8.8.origin.asn.local.",
			qtype:     dns.TypeTXT,
			wantRcode: dns.RcodeNameError,
		},
		{
			name:      "wrong label count",
			qname:     "8.8.8.origin.asn.local.",
			qtype:     dns.TypeTXT,
			wantRcode: dns.RcodeNameError,
		},
		{
			name:      "outside zone",
			qname:     "8.8.8.8.example.com.",
			qtype:     dns.TypeTXT,
			wantRcode: dns.RcodeRefused,
		},
		{
			name:      "other type is nodata",
			qname:     "8.8.8.8.origin.asn.local.",
			qtype:     dns.TypeA,
			wantRcode: dns.RcodeSuccess,
		},
		{
			name:      "zone apex",
			qname:     "origin.asn.local.",
			qtype:     dns.TypeTXT,
			wantRcode: dns.RcodeSuccess,
			wantTXT:   "records=2 updated=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.answer(query(tt.qname, tt.qtype))
			if resp.Rcode != tt.wantRcode {
				t.Fatalf("rcode = %s, want %s", dns.RcodeToString[resp.Rcode], dns.RcodeToString[tt.wantRcode])
			}
			if !resp.Authoritative {
				t.Error("response not authoritative")
			}
			if tt.wantTXT == "" {
				if len(resp.Answer) != 0 {
					t.Errorf("answer = %v, want empty", resp.Answer)
				}
				return
			}
			if len(resp.Answer) != 1 {
				t.Fatalf("len(answer) = %d, want 1", len(resp.Answer))
			}
			rr, ok := resp.Answer[0].(*dns.TXT)
			if !ok {
				t.Fatalf("answer type = %T, want *dns.TXT", resp.Answer[0])
			}
			if rr.Hdr.Ttl != 60 {
				t.Errorf("ttl = %d, want 60", rr.Hdr.Ttl)
			}
			got := strings.Join(rr.Txt, "")
			if !strings.HasPrefix(got, tt.wantTXT) {
				t.Errorf("txt = %q, want prefix %q", got, tt.wantTXT)
			}
		})
	}
}

func TestAnswer_MultipleQuestions(t *testing.T) {
	s := newTestServer(t)

	m := query("8.8.8.8.origin.asn.local.", dns.TypeTXT)
	m.Question = append(m.Question, m.Question[0])
	if resp := s.answer(m); resp.Rcode != dns.RcodeFormatError {
		t.Errorf("rcode = %s, want FORMERR", dns.RcodeToString[resp.Rcode])
	}
}

func TestReverseName(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"4.3.2.1", "1.2.3.4", true},
		{"1.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.8.b.d.0.1.0.0.2", "2001:db8::1", true},
		{"a.b.c.d", "", false},
		{"-1.0.0.1", "", false},
		{"1.2.3.4.5", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := reverseName(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("reverseName(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSplitTXT(t *testing.T) {
	long := strings.Repeat("x", 600)
	parts := splitTXT(long)
	if len(parts) != 3 {
		t.Fatalf("len(parts) = %d, want 3", len(parts))
	}
	for i, p := range parts {
		if len(p) > maxTXTString {
			t.Errorf("parts[%d] has %d bytes, want <= %d", i, len(p), maxTXTString)
		}
	}
	if strings.Join(parts, "") != long {
		t.Error("parts do not rejoin to the input")
	}
}

func TestShutdown_DuringStartup(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Shutdown lands before, during or after the listeners bind; Start must
	// return in every case.
	for i := 0; i < 20; i++ {
		s := NewServer(nil, Config{Addr: "127.0.0.1:0", Zone: "origin.asn.local", Logger: log})

		errc := make(chan error, 1)
		go func() { errc <- s.Start() }()
		if i%2 == 1 {
			time.Sleep(time.Millisecond)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("run %d: Shutdown() error = %v", i, err)
		}
		cancel()

		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("run %d: Start() error = %v", i, err)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("run %d: Start did not return after Shutdown", i)
		}
	}
}

func TestStart_AfterShutdown(t *testing.T) {
	s := NewServer(nil, Config{Addr: "127.0.0.1:0", Zone: "origin.asn.local"})
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Errorf("Start() after Shutdown = %v, want nil", err)
	}
}
