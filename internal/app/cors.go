package app

import (
	"net/url"
	"strings"

	"github.com/gin-contrib/cors"
)

// corsConfig allows every origin in development. Otherwise only the
// configured origins pass; "*.example.com" and "host:*" patterns match.
func corsConfig(origins []string, production bool) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}
	if !production && len(origins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
		return cfg
	}
	cfg.AllowOriginFunc = func(origin string) bool {
		host := extractOriginHost(origin)
		for _, pattern := range origins {
			if origin == pattern || matchOriginPattern(extractOriginHost(pattern), host) {
				return true
			}
		}
		return false
	}
	return cfg
}

// extractOriginHost returns the "host[:port]" portion of an origin URL.
func extractOriginHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return u.Host
}

// matchOriginPattern reports whether host matches the given wildcard pattern.
func matchOriginPattern(pattern, host string) bool {
	if pattern == host {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	if strings.HasSuffix(pattern, ":*") {
		return strings.HasPrefix(host, pattern[:len(pattern)-1])
	}
	return false
}
