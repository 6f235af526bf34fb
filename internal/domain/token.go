package domain

import "time"

type TokenType string

const (
	TokenTypeAccess            TokenType = "access"
	TokenTypeRefresh           TokenType = "refresh"
	TokenTypePasswordReset     TokenType = "password_reset"
	TokenTypeEmailVerification TokenType = "email_verification"
	TokenTypeAPI               TokenType = "api"
	TokenTypePendingTwoFactor  TokenType = "pending_2fa_setup"
)

func (t TokenType) Valid() bool {
	switch t {
	case TokenTypeAccess, TokenTypeRefresh, TokenTypePasswordReset, TokenTypeEmailVerification, TokenTypeAPI, TokenTypePendingTwoFactor:
		return true
	}
	return false
}

// SingleUse reports whether tokens of this type are accepted once and then
// consumed rather than rotated.
func (t TokenType) SingleUse() bool {
	return t == TokenTypePasswordReset || t == TokenTypeEmailVerification || t == TokenTypePendingTwoFactor
}

type TokenStatus string

const (
	TokenStatusActive      TokenStatus = "active"
	TokenStatusExpired     TokenStatus = "expired"
	TokenStatusRevoked     TokenStatus = "revoked"
	TokenStatusBlacklisted TokenStatus = "blacklisted"
)

const (
	ReasonRotated        = "rotated"
	ReasonReuseDetected  = "reuse_detected"
	ReasonConsumed       = "consumed"
	ReasonLogout         = "logout"
	ReasonLogoutAll      = "logout_all"
	ReasonPasswordReset  = "password_reset"
	ReasonPasswordChange = "password_change"
	ReasonUserRevoked    = "user_revoked"
	ReasonSuperseded     = "superseded"
	ReasonAdminRevoked   = "admin_revoked"
	ReasonSwept          = "expired"
)

// Token is one ledger row. The raw token string is never persisted; rows are
// addressed by TokenHash. Rows are not deleted, only status-transitioned.
type Token struct {
	ID                 uint        `gorm:"primaryKey" json:"id"`
	UserID             uint        `gorm:"index;not null" json:"user_id"`
	TokenHash          string      `gorm:"size:128;uniqueIndex;not null" json:"-"`
	JTI                *string     `gorm:"size:64;uniqueIndex" json:"-"`
	Type               TokenType   `gorm:"size:32;index;not null" json:"type"`
	Status             TokenStatus `gorm:"size:16;index;not null;default:active" json:"status"`
	Name               string      `gorm:"size:128" json:"name,omitempty"`
	FamilyID           *string     `gorm:"size:64;index" json:"-"`
	ParentJTI          *string     `gorm:"size:64;index" json:"-"`
	ExpiresAt          *time.Time  `gorm:"index" json:"expires_at,omitempty"`
	UsageCount         int64       `gorm:"not null;default:0" json:"usage_count"`
	UsageLimit         *int64      `json:"usage_limit,omitempty"`
	LastUsedAt         *time.Time  `json:"last_used_at,omitempty"`
	UsedAt             *time.Time  `json:"used_at,omitempty"`
	IPAddress          string      `gorm:"size:64" json:"ip_address"`
	UserAgent          string      `gorm:"size:512" json:"user_agent"`
	Payload            string      `gorm:"size:256" json:"-"`
	DeactivatedAt      *time.Time  `gorm:"index" json:"deactivated_at,omitempty"`
	DeactivationReason *string     `gorm:"size:64" json:"deactivation_reason,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// IsActive reports whether the row still authorises use at now.
func (t *Token) IsActive(now time.Time) bool {
	if t == nil || t.Status != TokenStatusActive {
		return false
	}
	return t.ExpiresAt == nil || t.ExpiresAt.After(now)
}

func (t *Token) UsageExhausted() bool {
	return t != nil && t.UsageLimit != nil && t.UsageCount >= *t.UsageLimit
}

// ClientMetadata is the request context captured alongside ledger rows and
// security log entries.
type ClientMetadata struct {
	IP        string
	UserAgent string
}
