package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/polyagent/polyagent/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("auth secret is empty")
)

// IssueToken mints a short-lived HS256 token for the given user. The relay
// verifies it on every request.
func IssueToken(userID domain.UserID, secret []byte, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	if userID == "" {
		return "", errors.New("user ID cannot be empty")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": string(userID),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyToken checks the signature and expiry and returns the user the
// token was issued to.
func VerifyToken(tokenString string, secret []byte) (domain.UserID, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", ErrInvalidToken
	}
	return domain.UserID(sub), nil
}

// StaticTokenSource satisfies the completion client's token requirement
// with a pre-issued token. Suitable for CLI sessions where the token is
// minted once at startup.
type StaticTokenSource struct {
	token string
}

func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", domain.ErrAuthRequired
	}
	return s.token, nil
}

// IssuingTokenSource mints a fresh token on every request.
type IssuingTokenSource struct {
	userID domain.UserID
	secret []byte
	ttl    time.Duration
}

func NewIssuingTokenSource(userID domain.UserID, secret []byte, ttl time.Duration) *IssuingTokenSource {
	return &IssuingTokenSource{userID: userID, secret: secret, ttl: ttl}
}

func (s *IssuingTokenSource) Token(ctx context.Context) (string, error) {
	return IssueToken(s.userID, s.secret, s.ttl)
}
