package middleware

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// TrustedRealIP rewrites r.RemoteAddr from X-Real-IP or X-Forwarded-For,
// but only when the connection comes from a trusted proxy. Entries may be
// CIDRs or single addresses. With no trusted proxies the headers are never
// read, so clients cannot spoof their address past the rate limiter.
func TrustedRealIP(trusted []string) func(http.Handler) http.Handler {
	set := trustedSet(trusted)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if remote, ok := RemoteAddr(r.RemoteAddr); ok && set.Contains(remote) {
				if client, ok := forwardedClient(r.Header); ok {
					r.RemoteAddr = client.String()
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// trustedSet builds the trusted proxy set, skipping invalid entries.
func trustedSet(entries []string) *netipx.IPSet {
	var b netipx.IPSetBuilder
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if p, err := netip.ParsePrefix(entry); err == nil {
			b.AddPrefix(p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil {
			b.Add(a.Unmap())
			continue
		}
		slog.Warn("realip: invalid trusted proxy, skipping", "entry", entry)
	}

	set, err := b.IPSet()
	if err != nil {
		slog.Warn("realip: building trusted proxy set", "error", err)
		return &netipx.IPSet{}
	}
	return set
}

// forwardedClient returns the original client from X-Real-IP, or from the
// first X-Forwarded-For hop.
func forwardedClient(h http.Header) (netip.Addr, bool) {
	if rip := strings.TrimSpace(h.Get("X-Real-IP")); rip != "" {
		a, err := netip.ParseAddr(rip)
		return a.Unmap(), err == nil
	}
	xff := h.Get("X-Forwarded-For")
	if xff == "" {
		return netip.Addr{}, false
	}
	first, _, _ := strings.Cut(xff, ",")
	a, err := netip.ParseAddr(strings.TrimSpace(first))
	return a.Unmap(), err == nil
}

// RemoteAddr parses a host:port or bare address as written to
// http.Request.RemoteAddr.
func RemoteAddr(addr string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap.Addr().Unmap(), true
	}
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}
