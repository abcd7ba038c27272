package identity

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/brandbridge/brandbridge/internal/pkg/config"
)

// ErrInvalidCredential is returned for any credential that does not verify.
var ErrInvalidCredential = errors.New("invalid credential")

// Identity is what a verified credential tells us about the caller.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
}

// Verifier validates bearer credentials issued by the identity provider.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

type claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// JWTVerifier accepts HS256 tokens signed with a shared secret and, when a
// public key is configured, RS256 tokens signed by the provider.
type JWTVerifier struct {
	secret    []byte
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

func NewJWTVerifier(cfg config.AuthConfig) (*JWTVerifier, error) {
	v := &JWTVerifier{}
	methods := []string{}
	if cfg.HMACSecret != "" {
		v.secret = []byte(cfg.HMACSecret)
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if len(cfg.PublicKeyPEM) > 0 {
		key, err := jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse identity provider public key: %w", err)
		}
		v.publicKey = key
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if len(methods) == 0 {
		return nil, errors.New("no verification key configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	v.parser = jwt.NewParser(opts...)
	return v, nil
}

func (v *JWTVerifier) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if v.secret == nil {
			return nil, errors.New("hmac tokens not accepted")
		}
		return v.secret, nil
	case *jwt.SigningMethodRSA:
		if v.publicKey == nil {
			return nil, errors.New("rsa tokens not accepted")
		}
		return v.publicKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
}

func (v *JWTVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrInvalidCredential
	}

	var c claims
	token, err := v.parser.ParseWithClaims(credential, &c, v.keyFunc)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if strings.TrimSpace(c.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	return &Identity{
		Subject:       c.Subject,
		Email:         strings.TrimSpace(c.Email),
		EmailVerified: c.EmailVerified,
	}, nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
