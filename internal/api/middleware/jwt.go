package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// adminContextKey is the context key for the authenticated admin bearer
// token subject.
type adminContextKey string

const adminIDKey adminContextKey = "admin_bearer_id"

// adminTokenTTL is the lifetime of an admin bearer token (7 days).
const adminTokenTTL = 7 * 24 * time.Hour

// AdminClaims holds the JWT claims for non-interactive admin API callers
// (dialer scripts, ops tooling) that can't carry the cookie-based session
// the web login flow uses.
type AdminClaims struct {
	AdminID  int64  `json:"admin_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// GenerateAdminToken creates a signed bearer token for an admin user.
func GenerateAdminToken(secret []byte, adminID int64, username string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(adminTokenTTL)

	claims := AdminClaims{
		AdminID:  adminID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "callengine",
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// RequireAdminAuth returns middleware that validates an admin bearer token
// on the Authorization header, for callers that can't use the cookie
// session (RequireAuth). On success it stores the admin ID in the request
// context.
func RequireAdminAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJWTError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeJWTError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			tokenString := parts[1]

			claims := &AdminClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				slog.Debug("admin bearer auth: invalid jwt", "error", err)
				writeJWTError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			if claims.AdminID == 0 {
				writeJWTError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			ctx := context.WithValue(r.Context(), adminIDKey, claims.AdminID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminIDFromContext retrieves the authenticated admin ID set by
// RequireAdminAuth. Returns 0 if not set.
func AdminIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(adminIDKey).(int64)
	return id
}

// jwtEnvelope matches the api package's envelope format for error responses.
type jwtEnvelope struct {
	Error string `json:"error,omitempty"`
}

// writeJWTError writes a JSON error matching the API envelope format.
func writeJWTError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(jwtEnvelope{Error: msg}) //nolint:errcheck
}
