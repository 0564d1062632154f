package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
)

// DefaultRolesClaim is the claim read for roles when none is configured.
const DefaultRolesClaim = "roles"

// ErrSigningKeyMissing is returned when no verification key is configured.
var ErrSigningKeyMissing = errors.New("jwt signing key missing")

// JWTConfig holds token signing and verification settings.
type JWTConfig struct {
	// SigningKey signs tokens issued by GenerateToken and verifies incoming ones.
	SigningKey []byte
	// VerificationKeys are older keys still accepted during rotation.
	VerificationKeys [][]byte
	Issuer           string
	// RolesClaim names the claim holding the caller's roles.
	RolesClaim string
	ExpiresIn  time.Duration
}

func (cfg JWTConfig) rolesClaim() string {
	if strings.TrimSpace(cfg.RolesClaim) == "" {
		return DefaultRolesClaim
	}
	return cfg.RolesClaim
}

// GenerateToken creates a signed HS256 token for actor.
func GenerateToken(cfg JWTConfig, actor domain.Actor) (string, time.Time, error) {
	now := time.Now()
	expiresIn := cfg.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	expiresAt := now.Add(expiresIn)

	claims := jwt.MapClaims{
		"sub":            actor.UserID,
		"iat":            now.Unix(),
		"nbf":            now.Unix(),
		"exp":            expiresAt.Unix(),
		cfg.rolesClaim(): actor.Roles,
	}
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}
	if actor.Name != "" {
		claims["name"] = actor.Name
	}
	if actor.Email != "" {
		claims["email"] = actor.Email
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// ValidateToken verifies tokenString against the signing key and every
// verification key, then maps its claims to an Actor.
func (cfg JWTConfig) ValidateToken(tokenString string) (domain.Actor, error) {
	keys := jwt.VerificationKeySet{}
	for _, k := range append([][]byte{cfg.SigningKey}, cfg.VerificationKeys...) {
		if len(k) > 0 {
			keys.Keys = append(keys.Keys, k)
		}
	}
	if len(keys.Keys) == 0 {
		return domain.Actor{}, fmt.Errorf("%w: %w", jwt.ErrTokenUnverifiable, ErrSigningKeyMissing)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return keys, nil
	}, opts...)
	if err != nil {
		return domain.Actor{}, err
	}
	if !token.Valid {
		return domain.Actor{}, jwt.ErrTokenUnverifiable
	}

	sub, _ := claims.GetSubject()
	if strings.TrimSpace(sub) == "" {
		return domain.Actor{}, fmt.Errorf("%w: missing sub", jwt.ErrTokenInvalidClaims)
	}
	actor := domain.Actor{
		UserID: sub,
		Name:   stringClaim(claims, "name"),
		Email:  stringClaim(claims, "email"),
		Roles:  rolesFromClaim(claims[cfg.rolesClaim()]),
	}
	return actor, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// rolesFromClaim accepts a JSON array of strings or a single space or comma
// separated string.
func rolesFromClaim(v interface{}) []string {
	switch roles := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(roles))
		for _, r := range roles {
			if s, ok := r.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return roles
	case string:
		return strings.FieldsFunc(roles, func(r rune) bool { return r == ',' || r == ' ' })
	}
	return nil
}

// authenticate validates the Bearer token and stores the caller on the
// request context. It aborts c and reports false on failure.
func authenticate(c *gin.Context, cfg JWTConfig) bool {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		Abort(c, apperrors.Unauthorized(apperrors.CodeUnauthorized, "missing authorization header"))
		return false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		Abort(c, apperrors.Unauthorized(apperrors.CodeUnauthorized, "invalid authorization header format"))
		return false
	}

	actor, err := cfg.ValidateToken(strings.TrimSpace(parts[1]))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			Abort(c, apperrors.Wrap(err, apperrors.CodeTokenExpired, "token expired", http.StatusUnauthorized))
			return false
		}
		Abort(c, apperrors.Wrap(err, apperrors.CodeTokenInvalid, "invalid token", http.StatusUnauthorized))
		return false
	}

	c.Request = c.Request.WithContext(WithActor(c.Request.Context(), actor))
	return true
}
