package i18n

import "net/http"

// Middleware stores a printer matching Accept-Language in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := NewPrinter(MatchLanguage(r.Header.Get("Accept-Language")))
		next.ServeHTTP(w, r.WithContext(WithPrinter(r.Context(), p)))
	})
}
