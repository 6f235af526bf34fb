package service

import (
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
)

type PrincipalKind string

const (
	PrincipalAccessToken PrincipalKind = "access"
	PrincipalAPIToken    PrincipalKind = "api"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID        uint
	Kind          PrincipalKind
	JTI           string
	SessionID     string
	TokenID       uint
	TokenName     string
	Username      string
	Email         string
	EmailVerified bool
	AccountType   string
	ExpiresAt     time.Time
}

func principalFromAccessClaims(userID uint, claims *security.AccessClaims) *Principal {
	p := &Principal{
		UserID:        userID,
		Kind:          PrincipalAccessToken,
		JTI:           claims.ID,
		SessionID:     claims.SessionID,
		Username:      claims.Username,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		AccountType:   claims.AccountType,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p
}
