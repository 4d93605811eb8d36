package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	// AllowOrigins holds exact origins ("https://shop.grup.dev") or
	// subdomain wildcards ("https://*.grup.dev"). Empty or "*" allows any
	// origin.
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type originMatcher struct {
	any      bool
	exact    map[string]string
	suffixes []wildcard
}

type wildcard struct {
	scheme string
	suffix string
}

func newOriginMatcher(origins []string, credentials bool) originMatcher {
	m := originMatcher{any: len(origins) == 0, exact: make(map[string]string)}
	for _, o := range origins {
		switch {
		case o == "*":
			m.any = true
		case strings.Contains(o, "://*."):
			scheme, host, _ := strings.Cut(o, "://*")
			m.suffixes = append(m.suffixes, wildcard{scheme: strings.ToLower(scheme) + "://", suffix: strings.ToLower(host)})
		default:
			m.exact[strings.ToLower(o)] = o
		}
	}
	// A credentialed response may not use "*"; every origin is echoed instead.
	if credentials && m.any {
		m.any = false
		m.suffixes = append(m.suffixes, wildcard{})
	}
	return m
}

// match returns the Access-Control-Allow-Origin value for origin, or "".
func (m originMatcher) match(origin string) string {
	if m.any {
		return "*"
	}
	lower := strings.ToLower(origin)
	if o, ok := m.exact[lower]; ok {
		return o
	}
	for _, w := range m.suffixes {
		if strings.HasPrefix(lower, w.scheme) && strings.HasSuffix(lower, w.suffix) {
			return origin
		}
	}
	return ""
}

// CORS answers preflight requests and decorates actual requests from allowed
// origins. Preflights from unknown origins get a bare 204.
func CORS(cfg CORSConfig) Middleware {
	origins := newOriginMatcher(cfg.AllowOrigins, cfg.AllowCredentials)

	methods := strings.Join(cfg.AllowMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PUT, DELETE, OPTIONS"
	}
	headers := strings.Join(cfg.AllowHeaders, ", ")
	expose := strings.Join(cfg.ExposeHeaders, ", ")
	var maxAge string
	if cfg.MaxAge > 0 {
		maxAge = strconv.Itoa(int(cfg.MaxAge.Seconds()))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if !origins.any {
				h.Add("Vary", "Origin")
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allow := origins.match(origin)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				if allow != "" {
					h.Set("Access-Control-Allow-Origin", allow)
					h.Set("Access-Control-Allow-Methods", methods)
					switch {
					case headers != "":
						h.Set("Access-Control-Allow-Headers", headers)
					case r.Header.Get("Access-Control-Request-Headers") != "":
						h.Set("Access-Control-Allow-Headers", r.Header.Get("Access-Control-Request-Headers"))
					}
					if cfg.AllowCredentials {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
					if maxAge != "" {
						h.Set("Access-Control-Max-Age", maxAge)
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allow != "" {
				h.Set("Access-Control-Allow-Origin", allow)
				if cfg.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if expose != "" {
					h.Set("Access-Control-Expose-Headers", expose)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
