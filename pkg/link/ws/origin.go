package ws

import (
	"net/http"
	"net/url"
	"strings"
)

// SameOrigin accepts requests without an Origin header and requests whose
// Origin host matches the Host header.
func SameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return r.Host != "" && u.Host == r.Host
}

// AllowOrigins returns a CheckOrigin func accepting same-origin requests and
// the listed hosts. A host matches with or without port; "*" accepts any
// origin.
func AllowOrigins(hosts ...string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		allowed[strings.ToLower(strings.TrimSpace(h))] = true
	}
	return func(r *http.Request) bool {
		if allowed["*"] || SameOrigin(r) {
			return true
		}
		u, err := url.Parse(r.Header.Get("Origin"))
		if err != nil {
			return false
		}
		return allowed[strings.ToLower(u.Host)] || allowed[strings.ToLower(u.Hostname())]
	}
}
