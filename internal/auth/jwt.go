// Waypoint Hub - OwnTracks Presence and Region Synchronization Hub
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypointhub

// Package auth secures the admin surface: operator login with bcrypt
// password verification and HS256 JWT session tokens. The webhook
// endpoint is not guarded here; mobile clients authenticate upstream
// (reverse proxy) and correlate via headers.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/waypointhub/internal/config"
)

// ErrInvalidCredentials covers both unknown operator and bad password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims are the JWT claims carried by an admin session token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTManager creates and validates admin session tokens.
type JWTManager struct {
	secret       []byte
	timeout      time.Duration
	username     string
	passwordHash string
}

// NewJWTManager builds a manager from security configuration.
// The JWT secret must be at least 32 characters.
func NewJWTManager(cfg *config.SecurityConfig) (*JWTManager, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	return &JWTManager{
		secret:       []byte(cfg.JWTSecret),
		timeout:      timeout,
		username:     cfg.AdminUsername,
		passwordHash: cfg.AdminPasswordHash,
	}, nil
}

// Login verifies operator credentials and returns a session token.
func (m *JWTManager) Login(username, password string) (string, error) {
	if username != m.username || m.passwordHash == "" {
		// Burn a bcrypt comparison anyway so unknown-user and
		// bad-password take the same time.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0123456789012345678901"), []byte(password))
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.passwordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return m.GenerateToken(username)
}

// GenerateToken creates a signed session token for an authenticated
// operator.
func (m *JWTManager) GenerateToken(username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.timeout)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a session token, rejecting any
// signing algorithm other than HS256.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// HashPassword produces a bcrypt hash for storing in configuration.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
