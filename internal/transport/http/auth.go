package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"lms-activity-service/internal/domain"
)

var errUnauthenticated = errors.New("unauthenticated")

type ctxKey int

const sessionCtxKey ctxKey = iota

// Authenticator resolves the caller's SessionContext.
// With a secret it verifies HS256 bearer tokens carrying "id", "role" and optional "name" claims.
// Without one it trusts X-Subject-ID / X-Role headers (or subjectId / role query params).
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Identify extracts the caller from a request.
func (a *Authenticator) Identify(r *http.Request) (domain.SessionContext, error) {
	if len(a.secret) == 0 {
		return a.fromHeaders(r), nil
	}

	raw := bearerToken(r)
	if raw == "" {
		return domain.SessionContext{}, errUnauthenticated
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.SessionContext{}, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}

	sc := domain.SessionContext{
		SubjectID:   claimString(claims, "id"),
		DisplayName: claimString(claims, "name"),
		Role:        domain.Role(claimString(claims, "role")),
	}
	return sc, nil
}

// Middleware rejects unauthenticated requests and stores the SessionContext on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, err := a.Identify(r)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sc)))
	})
}

func (a *Authenticator) fromHeaders(r *http.Request) domain.SessionContext {
	q := r.URL.Query()
	sc := domain.SessionContext{
		SubjectID:   r.Header.Get("X-Subject-ID"),
		DisplayName: r.Header.Get("X-Display-Name"),
		Role:        domain.Role(r.Header.Get("X-Role")),
	}
	if sc.SubjectID == "" {
		sc.SubjectID = q.Get("subjectId")
	}
	if sc.DisplayName == "" {
		sc.DisplayName = q.Get("name")
	}
	if sc.Role == "" {
		sc.Role = domain.Role(q.Get("role"))
	}
	return sc
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	// browsers cannot set headers on websocket upgrades
	return r.URL.Query().Get("token")
}

func claimString(claims jwt.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func withSession(ctx context.Context, sc domain.SessionContext) context.Context {
	return context.WithValue(ctx, sessionCtxKey, sc)
}

// SessionFrom returns the caller stored by Middleware.
func SessionFrom(ctx context.Context) domain.SessionContext {
	sc, _ := ctx.Value(sessionCtxKey).(domain.SessionContext)
	return sc
}
