package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ErrInvalidStagedToken is returned for tokens that fail signature, expiry or claim checks.
var ErrInvalidStagedToken = errors.New("auth: invalid staged order token")

const stagedTokenIssuer = "merx"

// StagedClaims binds a staged order to the session that created it.
type StagedClaims struct {
	Session string `json:"sid"`
	jwt.RegisteredClaims
}

// StagedTokenSigner issues HS256 tokens that let a payment return URL find its session
// when the browser does not send the session cookie back (cross-site redirects).
type StagedTokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStagedTokenSigner builds a signer. The secret must not be empty.
func NewStagedTokenSigner(secret string, ttl time.Duration) (*StagedTokenSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: staged token secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StagedTokenSigner{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Sign returns a token carrying sessionToken and stagedID.
func (s *StagedTokenSigner) Sign(sessionToken, stagedID string) (string, error) {
	now := s.now()
	claims := StagedClaims{
		Session: sessionToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stagedTokenIssuer,
			Subject:   stagedID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign staged token: %w", err)
	}
	return signed, nil
}

// Parse validates raw and returns the session token and staged order id it carries.
func (s *StagedTokenSigner) Parse(raw string) (sessionToken, stagedID string, err error) {
	claims := &StagedClaims{}
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidStagedToken, err)
	}
	if claims.Issuer != stagedTokenIssuer || claims.Subject == "" || claims.Session == "" {
		return "", "", ErrInvalidStagedToken
	}
	return claims.Session, claims.Subject, nil
}
