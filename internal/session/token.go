package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dealroom/internal/models"
	"dealroom/internal/observability"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned for tokens that fail signature, expiry or
	// claim checks.
	ErrInvalidToken = errors.New("session: invalid token")
	// ErrTokenRevoked is returned for tokens whose session was logged out.
	ErrTokenRevoked = fmt.Errorf("%w: revoked", ErrInvalidToken)
)

// Claims carries the session identity inside a JWT. The subject holds the
// user id.
type Claims struct {
	Name   string      `json:"name"`
	Avatar string      `json:"avatar,omitempty"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenProvider issues and verifies HS256 session tokens.
type TokenProvider struct {
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
	revoked Revocations
}

func NewTokenProvider(secret string, ttl time.Duration) *TokenProvider {
	return &TokenProvider{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithRevocations makes Authenticate reject tokens passed to Revoke.
func (p *TokenProvider) WithRevocations(r Revocations) *TokenProvider {
	p.revoked = r
	return p
}

// Issue signs a token for user.
func (p *TokenProvider) Issue(user models.User) (string, error) {
	now := p.now()
	claims := Claims{
		Name:   user.Name,
		Avatar: user.Avatar,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// Verify parses tokenString and returns the identity it carries. It does
// not consult revocations; use Authenticate for requests.
func (p *TokenProvider) Verify(tokenString string) (models.User, error) {
	claims, err := p.parse(tokenString)
	if err != nil {
		return models.User{}, err
	}
	return claims.user(), nil
}

// Authenticate is Verify plus the revocation check. A failing revocation
// store lets the token through.
func (p *TokenProvider) Authenticate(ctx context.Context, tokenString string) (models.User, error) {
	claims, err := p.parse(tokenString)
	if err != nil {
		return models.User{}, err
	}
	if p.revoked != nil && claims.ID != "" {
		revoked, err := p.revoked.Revoked(ctx, claims.ID)
		if err != nil {
			observability.GlobalLogger.WarnContext(ctx, "token revocation check failed", slog.String("error", err.Error()))
		} else if revoked {
			return models.User{}, ErrTokenRevoked
		}
	}
	return claims.user(), nil
}

// Revoke rejects tokenString from now until it expires. Tokens that no
// longer verify need no revocation.
func (p *TokenProvider) Revoke(ctx context.Context, tokenString string) error {
	if p.revoked == nil {
		return nil
	}
	claims, err := p.parse(tokenString)
	if err != nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	return p.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

func (p *TokenProvider) parse(tokenString string) (Claims, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil || !token.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !claims.Role.Valid() {
		return Claims{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}

func (c Claims) user() models.User {
	return models.User{ID: c.Subject, Name: c.Name, Avatar: c.Avatar, Role: c.Role}
}

// ForToken returns an AuthProvider resolving the identity inside token.
// An empty token means nobody is signed in.
func (p *TokenProvider) ForToken(token string) AuthProvider {
	return tokenAuth{provider: p, token: token}
}

type tokenAuth struct {
	provider *TokenProvider
	token    string
}

func (a tokenAuth) CurrentUser(ctx context.Context) (*models.User, error) {
	if a.token == "" {
		return nil, nil
	}
	u, err := a.provider.Authenticate(ctx, a.token)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
