package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// CookieName is the cookie carrying the signed identity token.
const CookieName = "user_id"

const identityTTL = 365 * 24 * time.Hour

type ctxKey struct{}

// UserID returns the identity attached by Identity, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithUserID attaches id to ctx.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityConfig controls the identity cookie.
type IdentityConfig struct {
	Secret []byte
	Secure bool
}

// Identity gives every client a stable user id. The id travels as the
// subject of an HS256 token in the user_id cookie; a missing, expired or
// forged token gets a fresh id and a new cookie.
func Identity(cfg IdentityConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := readIdentity(r, cfg.Secret)
			if err != nil {
				if !errors.Is(err, http.ErrNoCookie) {
					logger.DebugContext(r.Context(), "identity cookie rejected", slog.String("error", err.Error()))
				}
				id = uuid.NewString()
				token, err := SignIdentity(cfg.Secret, id, time.Now())
				if err != nil {
					logger.ErrorContext(r.Context(), "sign identity failed", slog.String("error", err.Error()))
					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     CookieName,
					Value:    token,
					Path:     "/",
					MaxAge:   int(identityTTL / time.Second),
					HttpOnly: true,
					Secure:   cfg.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
		})
	}
}

// SignIdentity returns the cookie value naming id.
func SignIdentity(secret []byte, id string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(identityTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func readIdentity(r *http.Request, secret []byte) (string, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return "", err
	}
	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(c.Value, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return "", fmt.Errorf("subject: %w", err)
	}
	return claims.Subject, nil
}
