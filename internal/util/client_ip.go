package util

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the caller IP used as the rate-limit key. Forwarded
// headers are only honored when trustForwarded is set (service behind a
// reverse proxy); otherwise the direct peer address wins.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
			// First hop is the original client.
			if ip := parseIP(strings.SplitN(forwarded, ",", 2)[0]); ip != nil {
				return ip.String()
			}
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func parseIP(raw string) net.IP {
	return net.ParseIP(strings.TrimSpace(raw))
}
