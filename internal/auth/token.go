package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for any token that fails verification.
var ErrUnauthorized = errors.New("unauthorized")

// Claims carries the identity fields the service reads from a bearer token.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the verified caller behind a bearer token.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

type VerifierConfig struct {
	// Secret enables HS256 verification with a shared key.
	Secret string
	// JWKSURL enables asymmetric verification against a remote key set.
	JWKSURL string
	// Issuer, when set, must match the token's iss claim.
	Issuer string
}

// Verifier validates bearer tokens issued by the external auth provider.
type Verifier struct {
	secret []byte
	issuer string
	jwks   keyfunc.Keyfunc
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	v := &Verifier{issuer: cfg.Issuer}
	if cfg.Secret != "" {
		v.secret = []byte(cfg.Secret)
	}
	if cfg.JWKSURL != "" {
		jwks, err := keyfunc.NewDefault([]string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("fetch JWKS from %s: %w", cfg.JWKSURL, err)
		}
		v.jwks = jwks
	}
	if v.secret == nil && v.jwks == nil {
		return nil, errors.New("token verifier needs a secret or a JWKS URL")
	}
	return v, nil
}

// Verify parses tokenStr and returns the identity it asserts.
func (v *Verifier) Verify(ctx context.Context, tokenStr string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, v.keyfunc(ctx), opts...)
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}
	if claims.Subject == "" {
		return nil, ErrUnauthorized
	}

	return &Identity{
		Subject: claims.Subject,
		Email:   strings.ToLower(strings.TrimSpace(claims.Email)),
		Name:    claims.Name,
	}, nil
}

func (v *Verifier) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if v.secret == nil {
				return nil, ErrUnauthorized
			}
			return v.secret, nil
		default:
			if v.jwks == nil {
				return nil, ErrUnauthorized
			}
			return v.jwks.KeyfuncCtx(ctx)(t)
		}
	}
}

// IssueToken signs an HS256 token for subject. Used by the CLI to mint
// development tokens and by tests.
func IssueToken(secret, subject, email, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
