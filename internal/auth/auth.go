// Package auth guards the dashboard endpoints with a single admin password and a
// signed session cookie.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	CookieName = "beacon_session"
	issuer     = "beacon-analytics"
	subject    = "admin"
)

type Config struct {
	// PasswordHash is a bcrypt hash. Empty disables authentication.
	PasswordHash string
	Secret       []byte
	SessionTTL   time.Duration
	SecureCookie bool
}

type Claims struct {
	jwt.RegisteredClaims
}

type Authenticator struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg Config, logger *zap.Logger) *Authenticator {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (a *Authenticator) Enabled() bool {
	return a.cfg.PasswordHash != ""
}

func (a *Authenticator) SessionTTL() time.Duration {
	return a.cfg.SessionTTL
}

// Login checks password against the configured hash and issues a session token.
func (a *Authenticator) Login(password string) (string, error) {
	if !a.Enabled() {
		return "", ErrDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.cfg.PasswordHash), []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			a.logger.Error("Stored password hash is unusable", zap.Error(err))
		}
		return "", ErrInvalidCredentials
	}
	return a.GenerateToken()
}

func (a *Authenticator) GenerateToken() (string, error) {
	now := a.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.SessionTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.cfg.Secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithSubject(subject),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
