package service

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

const SessionCookie = "auth_token"

type AuthService struct {
	logger     *zap.Logger
	totpSecret string
	sessionTTL time.Duration

	mu       sync.Mutex
	sessions map[string]time.Time
	Now      func() time.Time
}

func NewAuthService(logger *zap.Logger, totpSecret string, sessionTTL time.Duration) *AuthService {
	return &AuthService{
		logger:     logger,
		totpSecret: totpSecret,
		sessionTTL: sessionTTL,
		sessions:   make(map[string]time.Time),
		Now:        time.Now,
	}
}

// Enabled reports whether a TOTP secret is configured. Without one the admin
// API is open, which is only meant for local development.
func (a *AuthService) Enabled() bool {
	return a.totpSecret != ""
}

// GenerateSecret creates a new TOTP key and returns its secret and otpauth URL.
func GenerateSecret(issuer, accountName string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

func (a *AuthService) ValidateToken(token string) bool {
	valid := totp.Validate(token, a.totpSecret)
	if valid {
		a.logger.Info("TOTP token validation successful")
	} else {
		a.logger.Warn("TOTP token validation failed")
	}
	return valid
}

// Login exchanges a valid TOTP code for a session token.
func (a *AuthService) Login(code string) (string, bool) {
	if !a.Enabled() || !a.ValidateToken(code) {
		return "", false
	}
	return a.CreateSession(), true
}

func (a *AuthService) CreateSession() string {
	token := uuid.NewString()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[token] = a.Now().Add(a.sessionTTL)
	a.pruneLocked()
	return token
}

func (a *AuthService) isValidSession(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	exp, ok := a.sessions[token]
	if !ok {
		return false
	}
	if !a.Now().Before(exp) {
		delete(a.sessions, token)
		return false
	}
	return true
}

func (a *AuthService) pruneLocked() {
	now := a.Now()
	for token, exp := range a.sessions {
		if !now.Before(exp) {
			delete(a.sessions, token)
		}
	}
}

func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		token, err := c.Cookie(SessionCookie)
		if err != nil || token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}

		if token == "" || !a.isValidSession(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authentication required",
			})
			return
		}

		c.Next()
	}
}
