package imago

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sre-norns/imago/pkg/wyrd"
)

const tokenIssuer = "imago"

// RunClaims authorize a worker to report results of a single batch
type RunClaims struct {
	Version wyrd.Version `json:"ver"`

	jwt.RegisteredClaims
}

type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

func NewTokenIssuer(secret []byte) *TokenIssuer {
	return &TokenIssuer{
		secret: secret,
		now:    time.Now,
	}
}

// Issue a token for the batch that expires after ttl
func (t *TokenIssuer) Issue(batch wyrd.VersionedResourceId, ttl time.Duration) (ApiToken, error) {
	now := t.now()
	claims := RunClaims{
		Version: batch.Version,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   batch.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	return ApiToken(signed), err
}

// Verify checks that token is valid and was issued for the given batch
func (t *TokenIssuer) Verify(token ApiToken, batchID wyrd.ResourceID) (RunClaims, error) {
	var claims RunClaims
	_, err := jwt.ParseWithClaims(string(token), &claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return claims, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject != batchID.String() {
		return claims, fmt.Errorf("%w: issued for batch %q, not %v", ErrInvalidToken, claims.Subject, batchID)
	}

	return claims, nil
}

// NewRandomSecret generates a signing secret for deployments that configure none
func NewRandomSecret() []byte {
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)
	return secret
}
