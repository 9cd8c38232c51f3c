// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// QueryParam carries the token for clients that cannot set headers, such as
// a browser EventSource or WebSocket.
const QueryParam = "access_token"

// BearerToken returns middleware that validates the Authorization header
// contains a Bearer token matching the expected value. Without an
// Authorization header the access_token query parameter is checked instead
// and removed before the request is passed on. Comparison uses constant-time
// equality.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			var got []byte
			switch {
			case auth == "" && r.URL.Query().Has(QueryParam):
				got = []byte(r.URL.Query().Get(QueryParam))
				r = stripQueryToken(r)
			case strings.HasPrefix(auth, "Bearer "):
				got = []byte(auth[len("Bearer "):])
			default:
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare(got, expected) != 1 {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// stripQueryToken keeps the token out of downstream access logs.
func stripQueryToken(r *http.Request) *http.Request {
	q := r.URL.Query()
	q.Del(QueryParam)

	r2 := r.Clone(r.Context())
	r2.URL.RawQuery = q.Encode()
	r2.RequestURI = r2.URL.RequestURI()
	return r2
}
