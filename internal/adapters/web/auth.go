package web

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SchedulerScope is the scope claim a trigger token must carry.
const SchedulerScope = "reorder:run"

type schedulerClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// IssueSchedulerToken signs an HS256 bearer token for the cron scheduler.
func IssueSchedulerToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("scheduler secret is empty")
	}
	now := time.Now()
	claims := &schedulerClaims{
		Scope: SchedulerScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// RequireSchedulerToken checks the Authorization bearer token on trigger endpoints.
// With no secret configured the check is off and every request passes.
func (h *Handler) RequireSchedulerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.jwtSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeError(w, r, "bearer token required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}

		claims := &schedulerClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(h.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, r, "invalid or expired token", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		if claims.Scope != SchedulerScope {
			writeError(w, r, "token lacks scope "+SchedulerScope, "FORBIDDEN", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
