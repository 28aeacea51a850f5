package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// corsMethods covers every verb the discount API serves: validation and
// recording are POST, admin management adds GET, PATCH and DELETE.
const corsMethods = "GET, POST, PATCH, DELETE, OPTIONS"

// CORSConfig configures the CORS middleware. The storefront origins and the
// headers the API reads (Content-Type plus the admin key header) come from
// app config.
type CORSConfig struct {
	// AllowOrigins lists the origins permitted to call the API cross-origin.
	// Empty, or containing "*", allows every origin.
	AllowOrigins []string

	// AllowHeaders lists the request headers clients may send. When empty the
	// preflight echoes whatever the browser asked for.
	AllowHeaders []string

	// AllowCredentials permits cookies and authorization headers. It forces
	// origin echo-back, since the wildcard origin may not be combined with
	// credentials.
	AllowCredentials bool

	// MaxAge is how long, in seconds, browsers may cache a preflight result.
	MaxAge int
}

// CORS returns a middleware answering preflights and stamping CORS headers
// on actual responses. Origin matching is case-insensitive; responses vary on
// Origin so shared caches never leak one origin's grant to another.
func CORS(cfg CORSConfig) Middleware {
	origins := make(map[string]string, len(cfg.AllowOrigins))
	wildcard := len(cfg.AllowOrigins) == 0
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			wildcard = true
		}
		origins[strings.ToLower(o)] = o
	}
	if cfg.AllowCredentials {
		wildcard = false
	}

	headers := strings.Join(cfg.AllowHeaders, ", ")

	resolve := func(origin string) string {
		if wildcard {
			return "*"
		}
		return origins[strings.ToLower(origin)]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				if !wildcard {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				writePreflight(w, r, resolve(origin), headers, cfg)
				return
			}

			if !wildcard {
				w.Header().Add("Vary", "Origin")
			}
			if allowed := resolve(origin); allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				if cfg.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writePreflight(w http.ResponseWriter, r *http.Request, allowed, headers string, cfg CORSConfig) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")

	// Disallowed origin: answer the preflight but grant nothing.
	if allowed == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.Set("Access-Control-Allow-Origin", allowed)
	h.Set("Access-Control-Allow-Methods", corsMethods)
	if headers != "" {
		h.Set("Access-Control-Allow-Headers", headers)
	} else if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
		h.Set("Access-Control-Allow-Headers", req)
	}
	if cfg.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if cfg.MaxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
	}
	w.WriteHeader(http.StatusNoContent)
}
