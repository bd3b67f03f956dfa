package i18n

import (
	"net/http"
	"strings"
)

// LocaleCookie holds the user's explicit language choice.
const LocaleCookie = "i18n:locale"

// Middleware selects the request language from the locale cookie, then the
// Accept-Language header, then the configured default, and stores it in the context.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tag := Match(cookieValue(r, LocaleCookie), r.Header.Get("Accept-Language"))
			w.Header().Set("Content-Language", tag.String())
			next.ServeHTTP(w, r.WithContext(WithLang(r.Context(), tag)))
		})
	}
}

// cookieValue reads a cookie by name from the raw header. net/http drops cookies whose
// names contain ':' so the locale cookie cannot be read with r.Cookie.
func cookieValue(r *http.Request, name string) string {
	for _, line := range r.Header.Values("Cookie") {
		for _, part := range strings.Split(line, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
			if ok && k == name {
				return strings.Trim(v, `"`)
			}
		}
	}
	return ""
}
