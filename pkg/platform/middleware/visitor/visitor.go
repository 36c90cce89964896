// Package visitor identifies the browsing context a request belongs to
// through a long-lived first-party cookie.
package visitor

import (
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/thupa-pro/lipo-sub001/pkg/requestcontext"
)

// CookieSuffix is appended to the namespace to form the cookie name.
const CookieSuffix = "_visitor"

// cookieMaxAge outlives the consent retention window so a returning
// visitor keeps its id after the decision expires.
const cookieMaxAge = 400 * 24 * time.Hour

var validVisitorID = regexp.MustCompile(`^[a-zA-Z0-9-]{8,64}$`)

// CookieName returns the visitor cookie name for a namespace.
func CookieName(namespace string) string {
	return namespace + CookieSuffix
}

// Middleware reads the visitor cookie, issuing a fresh id when it is
// missing or malformed, and stores the id on the request context.
func Middleware(namespace string, secure bool) func(http.Handler) http.Handler {
	name := CookieName(namespace)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(name); err == nil && validVisitorID.MatchString(c.Value) {
				id = c.Value
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     name,
					Value:    id,
					Path:     "/",
					MaxAge:   int(cookieMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithVisitorID(r.Context(), id)))
		})
	}
}
