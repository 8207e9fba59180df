package web

import (
	"net/http"

	"github.com/daviddyess/iptoasn/internal/web/middleware"
)

// clientIP returns the caller's address without the port. TrustedRealIP has
// already replaced RemoteAddr when the request came through a known proxy.
func clientIP(r *http.Request) string {
	if a, ok := middleware.RemoteAddr(r.RemoteAddr); ok {
		return a.String()
	}
	return r.RemoteAddr
}
