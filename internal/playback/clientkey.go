package playback

import (
	"net"
	"net/http"
	"strings"
)

// ClientKeyFunc derives the identity playback positions are stored under.
//
// Keying on the network address alone is weak: every client behind one NAT or
// proxy shares a key. Deployments that can issue a client token should use
// HeaderKey (or a cookie-based func) instead.
type ClientKeyFunc func(r *http.Request) string

// RemoteAddrKey keys on the host part of r.RemoteAddr.
func RemoteAddrKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HeaderKey keys on an opaque client id header, using fallback when absent.
func HeaderKey(header string, fallback ClientKeyFunc) ClientKeyFunc {
	if fallback == nil {
		fallback = RemoteAddrKey
	}
	return func(r *http.Request) string {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return "hdr:" + v
		}
		return fallback(r)
	}
}
