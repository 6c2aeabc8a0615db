package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"realtime-ws/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "realtime-ws"

// Claims is the data carried inside an access token.
type Claims struct {
	IdentityID string `json:"id"`
	Role       string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IdentityLookup resolves a verified id to the stored identity.
type IdentityLookup interface {
	GetIdentity(ctx context.Context, id string) (domain.Identity, error)
}

// Verifier turns an opaque credential into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// JWTVerifier validates HS256 tokens and loads the identity they name.
type JWTVerifier struct {
	secret     []byte
	identities IdentityLookup
}

func NewJWTVerifier(secret string, identities IdentityLookup) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), identities: identities}
}

func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (domain.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return domain.Identity{}, fmt.Errorf("%w: invalid token", domain.ErrAuth)
	}
	if claims.IdentityID == "" {
		return domain.Identity{}, fmt.Errorf("%w: invalid token", domain.ErrAuth)
	}

	identity, err := v.identities.GetIdentity(ctx, claims.IdentityID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, fmt.Errorf("%w: user not found", domain.ErrAuth)
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: identity lookup failed: %v", domain.ErrAuth, err)
	}
	return identity, nil
}

// GenerateToken signs an access token for identityID valid for ttl.
func GenerateToken(secret, identityID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		IdentityID: identityID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
