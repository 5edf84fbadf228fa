package opshttp

import (
	"net"
	"net/http"
	"net/netip"

	"github.com/briefvault/briefvault-api/internal/log"
)

// requireNonPublicNetwork rejects requests whose peer address is not
// loopback, RFC 1918 private, or link-local. The admin port should never be
// internet-reachable, but a misconfigured security group shouldn't expose
// pprof and metrics either.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		addr, err := netip.ParseAddr(host)
		if err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		// IPv4-mapped IPv6 addresses classify wrong unless unmapped.
		addr = addr.Unmap()

		if !addr.IsLoopback() && !addr.IsPrivate() && !addr.IsLinkLocalUnicast() {
			L.Warn(r.Context(), "rejected admin request from public network",
				"peer", r.RemoteAddr,
				"path", r.URL.Path,
			)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
