package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowHeaders  = "Authorization, Content-Type, X-Api-Key, X-Request-Id"
	corsAllowMethods  = "GET, POST, PATCH, DELETE, OPTIONS"
	corsExposeHeaders = "Retry-After, X-Request-Id"
)

// originPolicy matches request origins against CORS_ALLOWED_ORIGINS entries.
// Entries are exact origins, "*", or a leading-wildcard host such as
// "https://*.parlae.app" that matches any subdomain but not the apex.
type originPolicy struct {
	any       bool
	exact     map[string]struct{}
	wildcards []wildcardOrigin
}

type wildcardOrigin struct {
	prefix string // "https://"
	suffix string // ".parlae.app"
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{exact: map[string]struct{}{}}
	for _, raw := range origins {
		origin := normalizeOrigin(raw)
		switch {
		case origin == "":
		case origin == "*":
			p.any = true
		case strings.Contains(origin, "://*."):
			scheme, domain, _ := strings.Cut(origin, "://*")
			p.wildcards = append(p.wildcards, wildcardOrigin{prefix: scheme + "://", suffix: domain})
		default:
			p.exact[origin] = struct{}{}
		}
	}
	return p
}

func (p originPolicy) allows(origin string) bool {
	if p.any {
		return true
	}
	if _, ok := p.exact[origin]; ok {
		return true
	}
	for _, w := range p.wildcards {
		host, ok := strings.CutPrefix(origin, w.prefix)
		if ok && strings.HasSuffix(host, w.suffix) && len(host) > len(w.suffix) {
			return true
		}
	}
	return false
}

func normalizeOrigin(origin string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(origin)), "/")
}

// CORS lets the admin UI and browser-based tool clients call the API.
// Preflights from unlisted origins are refused with 403 instead of reaching the router.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newOriginPolicy(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Add("Vary", "Origin")

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if !policy.allows(normalizeOrigin(origin)) {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			if preflight {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
