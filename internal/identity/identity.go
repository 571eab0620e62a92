// Package identity resolves the authenticated user for each request.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	// UserHeaderName carries the user id asserted by the upstream auth gateway.
	// The gateway must overwrite any client-supplied value.
	UserHeaderName   = "X-Brokernomex-User-ID"
	AnonCookieName   = "brokernomex_anon_id"
	anonCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	userIDKey contextKey = iota
)

var (
	userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
)

// UserIDFromContext extracts the user ID from the request context.
// An empty string means no authenticated user.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

// userIDFromRequest trusts only the gateway header. Bearer tokens are not
// verified here, so they never identify a user.
func userIDFromRequest(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(UserHeaderName))
	if !isValidUserID(id) {
		return ""
	}
	return id
}

// Middleware attaches the caller's user id to the request context.
// Requests without a valid id continue without one, which handlers treat as
// no authenticated user. When allowAnonymous is set, such requests get a
// per-device anonymous id kept in a cookie instead.
func Middleware(allowAnonymous, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := userIDFromRequest(r)
			if userID == "" && allowAnonymous {
				anonID, err := getOrCreateAnonID(w, r, isDev)
				if err != nil {
					http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
					return
				}
				userID = anonID
			}

			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
