package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Identity is the set of claims carried in a signed access token.
type Identity struct {
	UserID      string
	Username    string
	Email       string
	DisplayName string
}

type claims struct {
	Username    string `json:"username,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 access tokens.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewManager creates a token manager. TTL defaults to 24h.
func NewManager(secret, issuer string, ttl time.Duration) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token manager requires a signing secret")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = "docchat"
	}
	return &Manager{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// TTL returns the configured token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token carrying the identity claims.
func (m *Manager) Issue(id Identity) (string, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return "", errors.New("identity requires a user id")
	}
	now := time.Now().UTC()
	c := claims{
		Username:    id.Username,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the identity it carries.
func (m *Manager) Verify(raw string) (Identity, error) {
	c := claims{}
	parsed, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrInvalidToken
	}
	if !parsed.Valid || strings.TrimSpace(c.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		UserID:      c.Subject,
		Username:    c.Username,
		Email:       c.Email,
		DisplayName: c.DisplayName,
	}, nil
}
