// Package identity extracts the end user id from backend-issued bearer
// tokens. It is used to tag logs only; it makes no authorization decisions.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned when the request carries no bearer token.
	ErrNoToken = errors.New("no bearer token")

	// ErrDisabled is returned by a nil Verifier.
	ErrDisabled = errors.New("identity verification disabled")
)

// Options configures a Verifier.
type Options struct {
	// HMAC secret the backend signs user tokens with
	Secret string

	// Optional expected claims
	Issuer   string
	Audience string

	Leeway time.Duration
}

// Verifier validates HS256 user tokens.
type Verifier struct {
	parser *jwt.Parser
	key    []byte
}

// NewVerifier creates a Verifier.
func NewVerifier(opts Options) (*Verifier, error) {
	if opts.Secret == "" {
		return nil, fmt.Errorf("JWT secret cannot be empty")
	}
	if opts.Leeway <= 0 {
		opts.Leeway = 5 * time.Second
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithLeeway(opts.Leeway),
		jwt.WithExpirationRequired(),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}

	return &Verifier{
		parser: jwt.NewParser(parserOpts...),
		key:    []byte(opts.Secret),
	}, nil
}

// Subject validates the token in an Authorization header value ("Bearer
// <jwt>" or the bare token) and returns its sub claim.
func (v *Verifier) Subject(authorization string) (string, error) {
	if v == nil {
		return "", ErrDisabled
	}

	token := BearerToken(authorization)
	if token == "" {
		return "", ErrNoToken
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("JWT validation failed: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("invalid JWT token")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token missing subject claim")
	}
	return claims.Subject, nil
}

// BearerToken strips the Bearer scheme from an Authorization header value.
func BearerToken(authorization string) string {
	authorization = strings.TrimSpace(authorization)
	if len(authorization) > 7 && strings.EqualFold(authorization[:7], "bearer ") {
		return strings.TrimSpace(authorization[7:])
	}
	return authorization
}
