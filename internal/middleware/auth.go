package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// CookieName is the session cookie set by the login handler.
const CookieName = "authenticated"

// adminPrefixes are the paths that require the password cookie.
var adminPrefixes = []string{
	"/logs/",
	"/api/params",
	"/api/control",
	"/admin",
}

// SessionToken derives the cookie value from the admin password. Changing
// the password invalidates every issued cookie.
func SessionToken(password string) string {
	mac := hmac.New(sha256.New, []byte(password))
	mac.Write([]byte("booth-admin-session"))
	return hex.EncodeToString(mac.Sum(nil))
}

// AuthMiddleware checks the session cookie on admin routes. The booth
// itself (preview, capture, status, outputs) stays public.
func AuthMiddleware(password string, next http.Handler) http.Handler {
	token := []byte(SessionToken(password))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requiresAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(CookieName)
		if err != nil || !hmac.Equal([]byte(cookie.Value), token) {
			// API and websocket clients get 401, browsers go to the login page
			if strings.HasPrefix(r.URL.Path, "/api/") ||
				r.Header.Get("X-Requested-With") == "XMLHttpRequest" ||
				r.Header.Get("Content-Type") == "application/json" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requiresAuth(path string) bool {
	for _, prefix := range adminPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
