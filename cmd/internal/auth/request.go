package auth

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// AccessTokenQueryParam carries the token for browser WebSocket handshakes,
// which cannot set an Authorization header.
const AccessTokenQueryParam = "access_token"

type ctxKey struct{}

// WithClaims returns a context carrying c.
func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// ClaimsFrom returns the claims stored by Middleware, if any.
func ClaimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(Claims)
	return c, ok && c.UserID != ""
}

// CurrentUserID returns the authenticated profile id of the request context, or "".
func CurrentUserID(ctx context.Context) string {
	c, _ := ClaimsFrom(ctx)
	return c.UserID
}

// BearerToken extracts "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

// TokenFromRequest prefers the Authorization header and falls back to the access_token query parameter.
func TokenFromRequest(r *http.Request) string {
	if tok := BearerToken(r); tok != "" {
		return tok
	}
	return strings.TrimSpace(r.URL.Query().Get(AccessTokenQueryParam))
}

// Authenticator resolves request identity through a TokenManager.
type Authenticator struct {
	tokens TokenManager
	now    func() time.Time
}

func NewAuthenticator(tokens TokenManager) *Authenticator {
	return &Authenticator{tokens: tokens, now: func() time.Time { return time.Now().UTC() }}
}

// Authenticate verifies the request token. It returns ErrMissingToken or ErrInvalidToken.
func (a *Authenticator) Authenticate(r *http.Request) (Claims, error) {
	tok := TokenFromRequest(r)
	if tok == "" {
		return Claims{}, ErrMissingToken
	}
	return a.tokens.Verify(tok, a.now())
}

// Middleware rejects unauthenticated requests with 401 and stores Claims on the request context.
// onReject writes the response; nil falls back to a plain-text 401.
func (a *Authenticator) Middleware(onReject func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	if onReject == nil {
		onReject = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := a.Authenticate(r)
			if err != nil {
				onReject(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), c)))
		})
	}
}
