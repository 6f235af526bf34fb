package domain

import "time"

type SecurityEvent string

const (
	SecurityEventRegister              SecurityEvent = "register"
	SecurityEventLogin                 SecurityEvent = "login"
	SecurityEventLoginFailed           SecurityEvent = "login_failed"
	SecurityEventLogout                SecurityEvent = "logout"
	SecurityEventLogoutAll             SecurityEvent = "logout_all"
	SecurityEventRefresh               SecurityEvent = "token_refresh"
	SecurityEventRefreshReuse          SecurityEvent = "refresh_reuse_detected"
	SecurityEventAccountLocked         SecurityEvent = "account_locked"
	SecurityEventPasswordResetRequest  SecurityEvent = "password_reset_requested"
	SecurityEventPasswordReset         SecurityEvent = "password_reset"
	SecurityEventPasswordChange        SecurityEvent = "password_change"
	SecurityEventEmailVerifyRequest    SecurityEvent = "email_verification_requested"
	SecurityEventEmailVerified         SecurityEvent = "email_verified"
	SecurityEventTwoFactorSetup        SecurityEvent = "two_factor_setup"
	SecurityEventTwoFactorEnabled      SecurityEvent = "two_factor_enabled"
	SecurityEventTwoFactorDisabled     SecurityEvent = "two_factor_disabled"
	SecurityEventBackupCodesRegenerate SecurityEvent = "backup_codes_regenerated"
	SecurityEventBackupCodeUsed        SecurityEvent = "backup_code_used"
	SecurityEventAPITokenCreated       SecurityEvent = "api_token_created"
	SecurityEventAPITokenRevoked       SecurityEvent = "api_token_revoked"
	SecurityEventSessionRevoked        SecurityEvent = "session_revoked"
	SecurityEventOAuthLogin            SecurityEvent = "oauth_login"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// SecurityLog is append-only.
type SecurityLog struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	UserID    *uint         `gorm:"index" json:"user_id,omitempty"`
	Event     SecurityEvent `gorm:"size:48;index;not null" json:"event"`
	Outcome   string        `gorm:"size:16;not null" json:"outcome"`
	Reason    string        `gorm:"size:128" json:"reason,omitempty"`
	IPAddress string        `gorm:"size:64" json:"ip_address"`
	UserAgent string        `gorm:"size:512" json:"user_agent"`
	CreatedAt time.Time     `gorm:"index" json:"created_at"`
}
