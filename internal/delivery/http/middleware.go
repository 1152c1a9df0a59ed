package httpd

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey int

const userKey ctxKey = iota

// UserHeader carries the caller's user id, set by the authenticating proxy
// in front of this service.
const UserHeader = "X-User-ID"

func Identity(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(UserHeader))
		if uid == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing user identity"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, uid)))
	}
	return http.HandlerFunc(fn)
}

func userID(ctx context.Context) string {
	uid, _ := ctx.Value(userKey).(string)
	return uid
}
