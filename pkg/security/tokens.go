package security

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/sha3"
)

const (
	// Token parameters
	tokenIssuer    = "votebridge"
	adminRole      = "admin"
	minSecretBytes = 16
)

var (
	ErrSecretTooShort = errors.New("token secret too short")
	ErrInvalidToken   = errors.New("invalid token")
)

// AdminClaims are carried by admin bearer tokens
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Token represents an issued admin token
type Token struct {
	Value     string    `json:"token"`
	Subject   string    `json:"subject"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TokenManager issues and verifies HS256 admin tokens
type TokenManager struct {
	secret []byte
	expiry time.Duration
}

// NewTokenManager creates a token manager. expiry is the lifetime used when
// Issue is given none.
func NewTokenManager(secret string, expiry time.Duration) (*TokenManager, error) {
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrSecretTooShort, minSecretBytes)
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &TokenManager{
		secret: []byte(secret),
		expiry: expiry,
	}, nil
}

// Issue signs an admin token for subject
func (tm *TokenManager) Issue(subject string, ttl time.Duration) (*Token, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject cannot be empty")
	}
	if ttl <= 0 {
		ttl = tm.expiry
	}

	now := time.Now().UTC().Truncate(time.Second)
	claims := AdminClaims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	return &Token{
		Value:     signed,
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Verify parses a token and checks signature, expiry, issuer and role
func (tm *TokenManager) Verify(tokenString string) (*AdminClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if !claims.VerifyIssuer(tokenIssuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if claims.Role != adminRole {
		return nil, fmt.Errorf("%w: role %q is not allowed", ErrInvalidToken, claims.Role)
	}

	return claims, nil
}

// Fingerprint returns a short keccak digest of a secret, safe to log
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil)[:6])
}
