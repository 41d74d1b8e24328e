// Package auth signs and verifies bearer tokens and manages user accounts.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MagnunAVF/shortlinks/internal"
	"github.com/MagnunAVF/shortlinks/internal/idgen"
)

// Claims carries the caller identity. UserID is the base58 form of the
// numeric id.
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs an HS256 token for user that expires after the issuer's TTL.
func (i *Issuer) Issue(user *internal.User) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: idgen.EncodeID(user.ID),
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the caller behind the token.
// Every failure wraps internal.ErrUnauthorized.
func (i *Issuer) Verify(raw string) (internal.Caller, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return internal.Caller{}, fmt.Errorf("%w: %w", internal.ErrUnauthorized, err)
	}
	if !token.Valid {
		return internal.Caller{}, fmt.Errorf("%w: invalid token", internal.ErrUnauthorized)
	}

	id, err := idgen.DecodeID(claims.UserID)
	if err != nil {
		return internal.Caller{}, fmt.Errorf("%w: bad subject: %w", internal.ErrUnauthorized, err)
	}
	if claims.Role != internal.RoleUser && claims.Role != internal.RoleAdmin {
		return internal.Caller{}, fmt.Errorf("%w: %w", internal.ErrUnauthorized, errUnknownRole)
	}
	return internal.Caller{UserID: id, Role: claims.Role}, nil
}

var errUnknownRole = errors.New("unknown role")
