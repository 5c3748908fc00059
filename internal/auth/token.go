package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/lockbox/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const sessionIssuer = "lockbox"

// sessionClaims is the JWT body handed to clients. The jti carries the session
// secret; the server keeps only its hash.
type sessionClaims struct {
	jwt.RegisteredClaims
}

// SessionTokenCodec signs and parses session tokens with HS256
type SessionTokenCodec struct {
	secret []byte
}

// NewSessionTokenCodec creates a codec using the given signing secret
func NewSessionTokenCodec(secret string) *SessionTokenCodec {
	return &SessionTokenCodec{secret: []byte(secret)}
}

// Encode signs claims into a token string.
// The token carries no expiry; the session store is the authority on lifetime.
func (c *SessionTokenCodec) Encode(claims models.SessionClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   sessionIssuer,
			Subject:  claims.AccountID,
			ID:       claims.Secret,
			IssuedAt: jwt.NewNumericDate(claims.IssuedAt),
		},
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and returns the claims.
// Any parse or signature failure is reported as models.ErrSessionInvalid.
func (c *SessionTokenCodec) Decode(tokenString string) (models.SessionClaims, error) {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithIssuer(sessionIssuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return models.SessionClaims{}, errors.Join(models.ErrSessionInvalid, err)
	}
	if !token.Valid || claims.Subject == "" || claims.ID == "" {
		return models.SessionClaims{}, models.ErrSessionInvalid
	}

	var issuedAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}

	return models.SessionClaims{
		AccountID: claims.Subject,
		Secret:    claims.ID,
		IssuedAt:  issuedAt,
	}, nil
}
