package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/kiranshivaraju/phototune/internal/api/response"
	"github.com/kiranshivaraju/phototune/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix starts every raw API key; anything else is treated as a session JWT.
	APIKeyPrefix = "pt_"
	// KeyPrefixLen is the length of the stored, indexed part of a raw key.
	KeyPrefixLen = 8
)

// Auth resolves the caller's user id from a session JWT or an API key.
type Auth struct {
	keys store.KeyStore
	jwt  *jwtauth.JWTAuth
}

// NewAuth creates a new Auth middleware. jwtSecret verifies HS256 session tokens
// issued by the identity provider.
func NewAuth(keys store.KeyStore, jwtSecret string) *Auth {
	return &Auth{
		keys: keys,
		jwt:  jwtauth.New("HS256", []byte(jwtSecret), nil),
	}
}

// Authenticate validates the Bearer credential and sets user_id, the auth
// method and, for API keys, key_prefix and scopes in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		var (
			ctx context.Context
			ok  bool
		)
		if strings.HasPrefix(raw, APIKeyPrefix) {
			ctx, ok = a.authenticateKey(w, r, raw)
		} else {
			ctx, ok = a.authenticateSession(w, r, raw)
		}
		if !ok {
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) authenticateSession(w http.ResponseWriter, r *http.Request, raw string) (context.Context, bool) {
	token, err := jwtauth.VerifyToken(a.jwt, raw)
	if err != nil {
		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "Invalid or expired session token", nil)
		return nil, false
	}

	claims, err := token.AsMap(r.Context())
	if err != nil {
		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "Invalid session token", nil)
		return nil, false
	}
	sub, err := jwt.MapClaims(claims).GetSubject()
	if err != nil || sub == "" {
		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "Session token has no subject", nil)
		return nil, false
	}

	ctx := SetUserID(r.Context(), sub)
	ctx = setAuthMethod(ctx, AuthMethodSession)
	return ctx, true
}

func (a *Auth) authenticateKey(w http.ResponseWriter, r *http.Request, rawKey string) (context.Context, bool) {
	if len(rawKey) < KeyPrefixLen {
		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "Invalid API key format", nil)
		return nil, false
	}

	prefix := rawKey[:KeyPrefixLen]

	keys, err := a.keys.GetAPIKeyByPrefix(r.Context(), prefix)
	if err != nil {
		slog.Error("looking up api key", "error", err)
		response.Error(w, http.StatusInternalServerError,
			"INTERNAL_ERROR", "Failed to validate API key", nil)
		return nil, false
	}

	// Find matching key by bcrypt comparison
	for _, key := range keys {
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) != nil {
			continue
		}
		ctx := SetUserID(r.Context(), key.UserID)
		ctx = setAuthMethod(ctx, AuthMethodAPIKey)
		ctx = setKeyPrefix(ctx, prefix)
		ctx = setScopes(ctx, key.Scopes)

		// Update last_used_at async
		go a.keys.UpdateAPIKeyLastUsed(context.Background(), key.ID)
		return ctx, true
	}

	response.Error(w, http.StatusUnauthorized,
		"INVALID_TOKEN", "Invalid API key", nil)
	return nil, false
}

// RequireScope returns middleware that checks whether the caller may use scope.
// Session callers hold every scope; API keys hold only the scopes they were issued.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetAuthMethod(r) == AuthMethodSession {
				next.ServeHTTP(w, r)
				return
			}
			for _, s := range getScopes(r) {
				if s == scope {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

// RequireSession rejects API-key callers. Key management needs a signed-in user.
func (a *Auth) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetAuthMethod(r) != AuthMethodSession {
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "This action requires a signed-in session", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
