package devserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned by TokenService.ParseAccess for a missing,
// expired, or otherwise invalid access token, and by RotateRefresh for
// an unknown or expired refresh token.
var ErrInvalidToken = errors.New("devserver: invalid token")

// accessClaims mirrors the teacher's auth.Claims (RegisteredClaims plus
// a bare UserID).
type accessClaims struct {
	jwt.RegisteredClaims
	UserID string
}

// TokenService issues and validates access tokens and rotates refresh
// tokens, adapted from the teacher's auth.GenerateToken/
// GetUserIDFromToken plus its users.Service refresh-token flow.
type TokenService struct {
	secret               []byte
	accessTokenValidity  time.Duration
	refreshTokenValidity time.Duration
	refreshTokens        RefreshTokenStore
}

// NewTokenService builds a TokenService signing with secret.
func NewTokenService(secret string, accessValidity, refreshValidity time.Duration, refreshTokens RefreshTokenStore) *TokenService {
	return &TokenService{
		secret:               []byte(secret),
		accessTokenValidity:  accessValidity,
		refreshTokenValidity: refreshValidity,
		refreshTokens:        refreshTokens,
	}
}

// IssueAccess mints a short-lived HS256 bearer token for userID.
func (s *TokenService) IssueAccess(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.accessTokenValidity)),
		},
		UserID: userID,
	})
	return token.SignedString(s.secret)
}

// ParseAccess validates tokenString and returns the user ID it carries.
func (s *TokenService) ParseAccess(tokenString string) (string, error) {
	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}

// IssuePair mints a fresh access token and a fresh opaque refresh token
// for userID, persisting the refresh token via RefreshTokenStore.
func (s *TokenService) IssuePair(ctx context.Context, userID string) (access, refresh string, err error) {
	access, err = s.IssueAccess(userID)
	if err != nil {
		return "", "", err
	}
	refresh, err = newOpaqueToken()
	if err != nil {
		return "", "", err
	}
	if err := s.refreshTokens.Create(ctx, userID, refresh, s.refreshTokenValidity); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// RotateRefresh redeems refreshToken for a brand new access/refresh
// pair, deleting the redeemed token so it cannot be replayed — the
// rotation half of §6.3's refresh-token requirement that bare JWT
// issuance alone doesn't cover.
func (s *TokenService) RotateRefresh(ctx context.Context, refreshToken string) (access, newRefresh string, err error) {
	rec, err := s.refreshTokens.Find(ctx, refreshToken)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	if time.Now().After(rec.Expires) {
		_ = s.refreshTokens.Delete(ctx, refreshToken)
		return "", "", ErrInvalidToken
	}
	if err := s.refreshTokens.Delete(ctx, refreshToken); err != nil {
		return "", "", err
	}
	return s.IssuePair(ctx, rec.UserID)
}

func newOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
