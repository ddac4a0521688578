package control

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/netflix-shuffle/internal/config"
)

// minSecretLen is the shortest HMAC secret accepted for signing.
const minSecretLen = 16

var errWeakSecret = fmt.Errorf("control secret must be at least %d bytes", minSecretLen)

// IssueToken signs an HS256 bearer token for subject, valid for cfg.TTL.
func IssueToken(cfg config.JWTConfig, subject string, now time.Time) (string, error) {
	if len(cfg.Secret) < minSecretLen {
		return "", errWeakSecret
	}
	claims := jwt.RegisteredClaims{
		Issuer:   cfg.Issuer,
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if cfg.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(cfg.TTL))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

// VerifyToken parses tokenStr, accepting only HS256 tokens from cfg.Issuer.
func VerifyToken(cfg config.JWTConfig, tokenStr string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// requireToken rejects requests without a valid bearer token.
func requireToken(cfg config.JWTConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="netflix-shuffle"`)
				respondWithError(w, logger, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := VerifyToken(cfg, strings.TrimSpace(raw))
			if err != nil {
				logger.Debug("Rejected control token.", zap.Error(err))
				respondWithError(w, logger, http.StatusUnauthorized, "invalid bearer token")
				return
			}
			logger.Debug("Authorized control request.", zap.String("subject", claims.Subject))
			next.ServeHTTP(w, r)
		})
	}
}
