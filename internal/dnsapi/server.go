// Package dnsapi answers IP to ASN lookups over DNS TXT records.
//
// A query for the reversed address under the configured zone, such as
//
//	8.8.8.8.origin.asn.local. TXT
//	8.8.8.8.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.6.8.4.1.0.0.2.origin.asn.local. TXT
//
// is answered with one string in the form
//
//	"15169 | 8.8.8.0-8.8.8.255 | US | GOOGLE"
//
// Unannounced addresses return NXDOMAIN. The zone apex answers with the
// dataset record count and publish time.
package dnsapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"github.com/daviddyess/iptoasn/internal/core"
)

// maxTXTString is the longest character-string a TXT record can carry.
const maxTXTString = 255

// Config configures a Server.
type Config struct {
	Addr   string
	Zone   string
	TTL    int
	Logger *slog.Logger
}

// Server is the DNS frontend for a core.Service.
type Server struct {
	service *core.Service
	addr    string
	zone    string
	ttl     uint32
	log     *slog.Logger

	mu        sync.Mutex
	listeners []*listener
	closed    bool
}

// listener is one dns.Server with its lifecycle signals. started closes
// once the socket is bound; done closes when ListenAndServe returns.
type listener struct {
	srv     *dns.Server
	started chan struct{}
	done    chan struct{}
}

func newListener(addr, network string, h dns.Handler) *listener {
	l := &listener{
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	l.srv = &dns.Server{
		Addr:              addr,
		Net:               network,
		Handler:           h,
		NotifyStartedFunc: func() { close(l.started) },
	}
	return l
}

// NewServer creates a DNS frontend answering for cfg.Zone.
func NewServer(service *core.Service, cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		service: service,
		addr:    cfg.Addr,
		zone:    dns.CanonicalName(cfg.Zone),
		ttl:     uint32(cfg.TTL),
		log:     log.With("component", "dns"),
	}
}

// ServeDNS implements dns.Handler.
func (s *Server) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	resp := s.answer(req)
	if err := w.WriteMsg(resp); err != nil {
		s.log.Debug("write dns response", "error", err, "remote", w.RemoteAddr())
	}
}

// Start listens on UDP and TCP and blocks until both listeners stop. It
// returns nil after Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.listeners = []*listener{
		newListener(s.addr, "udp", s),
		newListener(s.addr, "tcp", s),
	}
	listeners := s.listeners
	s.mu.Unlock()

	s.log.Info("dns server listening", "addr", s.addr, "zone", s.zone)

	var g errgroup.Group
	for _, l := range listeners {
		g.Go(func() error {
			defer close(l.done)
			if err := l.srv.ListenAndServe(); err != nil {
				return fmt.Errorf("dns %s: %w", l.srv.Net, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Shutdown stops both listeners. A listener that is still binding is
// stopped once it has started. A Server cannot be restarted.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	listeners := s.listeners
	s.listeners = nil
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, l := range listeners {
		select {
		case <-l.started:
		case <-l.done:
			// Failed to bind; nothing to stop.
			continue
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("dns %s: %w", l.srv.Net, ctx.Err()))
			continue
		}
		if err := l.srv.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("dns %s: %w", l.srv.Net, err))
		}
	}
	return errors.Join(errs...)
}

// answer builds the response for one query message.
func (s *Server) answer(req *dns.Msg) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = true

	if req.Opcode != dns.OpcodeQuery {
		resp.SetRcode(req, dns.RcodeNotImplemented)
		return resp
	}
	if len(req.Question) != 1 {
		resp.SetRcode(req, dns.RcodeFormatError)
		return resp
	}

	q := req.Question[0]
	name := dns.CanonicalName(q.Name)
	if q.Qclass != dns.ClassINET || !dns.IsSubDomain(s.zone, name) {
		resp.SetRcode(req, dns.RcodeRefused)
		return resp
	}

	var txt []string
	if name == s.zone {
		txt = []string{s.statsText()}
	} else {
		ip, ok := reverseName(strings.TrimSuffix(name, "."+s.zone))
		if !ok {
			resp.SetRcode(req, dns.RcodeNameError)
			return resp
		}
		res, err := s.service.Lookup(ip)
		if err != nil || !res.Announced {
			resp.SetRcode(req, dns.RcodeNameError)
			return resp
		}
		txt = splitTXT(formatResult(res))
	}

	// The name exists; other types get an empty NOERROR answer.
	if q.Qtype != dns.TypeTXT && q.Qtype != dns.TypeANY {
		return resp
	}
	resp.Answer = append(resp.Answer, &dns.TXT{
		Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: s.ttl},
		Txt: txt,
	})
	return resp
}

func (s *Server) statsText() string {
	st := s.service.Stats()
	updated := "never"
	if st.LastUpdateTimestamp != nil {
		updated = time.Unix(*st.LastUpdateTimestamp, 0).UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("records=%d updated=%s", st.RecordCount, updated)
}

// reverseName turns the labels in front of the zone back into an address.
// Four decimal labels are IPv4; thirty-two hex nibbles are IPv6.
func reverseName(prefix string) (string, bool) {
	labels := dns.SplitDomainName(prefix)
	switch len(labels) {
	case 4:
		octets := make([]string, 4)
		for i, l := range labels {
			if _, err := strconv.ParseUint(l, 10, 8); err != nil {
				return "", false
			}
			octets[3-i] = l
		}
		addr, err := netip.ParseAddr(strings.Join(octets, "."))
		if err != nil {
			return "", false
		}
		return addr.String(), true
	case 32:
		var b strings.Builder
		for i := 31; i >= 0; i-- {
			l := labels[i]
			if len(l) != 1 || !isHex(l[0]) {
				return "", false
			}
			b.WriteString(l)
			if i%4 == 0 && i > 0 {
				b.WriteByte(':')
			}
		}
		addr, err := netip.ParseAddr(b.String())
		if err != nil {
			return "", false
		}
		return addr.String(), true
	default:
		return "", false
	}
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func formatResult(r core.AsnResult) string {
	return fmt.Sprintf("%d | %s-%s | %s | %s",
		*r.ASNumber, *r.FirstIP, *r.LastIP, *r.ASCountryCode, *r.ASDescription)
}

// splitTXT breaks s into character-strings of at most maxTXTString bytes.
func splitTXT(s string) []string {
	var out []string
	for len(s) > maxTXTString {
		out = append(out, s[:maxTXTString])
		s = s[maxTXTString:]
	}
	return append(out, s)
}
