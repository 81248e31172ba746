// ABOUTME: Derives the chat user's identity from the bearer token the server issued
// ABOUTME: Optionally verifies HS256 signatures; otherwise reads claims without verifying

package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Identity is the chat user a token was issued to.
type Identity struct {
	UserID    int64
	Username  string
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the token has expired at now. Tokens without an
// expiry never expire.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Parser extracts identities from tokens. With a secret it verifies HS256
// signatures; without one the server remains the only judge of validity and
// claims are read as-is.
type Parser struct {
	secret []byte
	now    func() time.Time
}

// NewParser creates a parser. Pass nil secret to skip signature checks.
func NewParser(secret []byte) *Parser {
	return &Parser{secret: secret, now: time.Now}
}

// Identity parses token, which may carry a "Bearer " prefix.
func (p *Parser) Identity(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	claims, err := p.claims(token)
	if err != nil {
		return Identity{}, err
	}

	id := Identity{Token: token}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	if id.Expired(p.now()) {
		return Identity{}, ErrExpiredToken
	}

	sub, _ := claims.GetSubject()
	id.UserID, err = userID(claims, sub)
	if err != nil {
		return Identity{}, err
	}
	id.Username = username(claims, sub)
	return id, nil
}

func (p *Parser) claims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}

	if len(p.secret) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return claims, nil
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// userID reads a numeric sub, falling back to userId or user_id claims.
func userID(claims jwt.MapClaims, sub string) (int64, error) {
	if n, err := strconv.ParseInt(sub, 10, 64); err == nil && n > 0 {
		return n, nil
	}
	for _, key := range []string{"userId", "user_id"} {
		switch v := claims[key].(type) {
		case float64:
			if v > 0 && v == float64(int64(v)) {
				return int64(v), nil
			}
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				return n, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: user id", ErrMissingClaim)
}

func username(claims jwt.MapClaims, sub string) string {
	for _, key := range []string{"username", "preferred_username", "nickname"} {
		if s, ok := claims[key].(string); ok && s != "" {
			return s
		}
	}
	if _, err := strconv.ParseInt(sub, 10, 64); err != nil {
		return sub
	}
	return ""
}

// Generate signs an HS256 token for a user. It is meant for local servers
// and tests; the parser must have a secret.
func (p *Parser) Generate(userID int64, username string, expiresIn time.Duration) (string, error) {
	if len(p.secret) == 0 {
		return "", errors.New("generating token: no secret configured")
	}
	now := p.now()
	claims := jwt.MapClaims{
		"sub":      strconv.FormatInt(userID, 10),
		"username": username,
		"iat":      now.Unix(),
		"exp":      now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}
