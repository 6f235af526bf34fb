package domain

import "time"

// Credential is the one-to-one security record of a user. It is created with
// the user and never deleted on its own.
type Credential struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UserID             uint       `gorm:"uniqueIndex;not null" json:"user_id"`
	PasswordHash       string     `gorm:"size:1024;not null" json:"-"`
	FailedAttempts     int        `gorm:"not null;default:0" json:"failed_attempts"`
	LockedUntil        *time.Time `json:"locked_until,omitempty"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
	PasswordChangedAt  *time.Time `json:"password_changed_at,omitempty"`
	EmailVerified      bool       `gorm:"not null;default:false" json:"email_verified"`
	EmailVerifiedAt    *time.Time `json:"email_verified_at,omitempty"`
	TwoFactorEnabled   bool       `gorm:"not null;default:false" json:"two_factor_enabled"`
	TwoFactorSecret    string     `gorm:"size:128" json:"-"`
	TwoFactorEnabledAt *time.Time `json:"two_factor_enabled_at,omitempty"`
	TOTPLastStep       int64      `gorm:"column:totp_last_step;not null;default:0" json:"-"`
	BackupCodes        []string   `gorm:"serializer:json;type:text" json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (c *Credential) IsLocked(now time.Time) bool {
	return c != nil && c.LockedUntil != nil && c.LockedUntil.After(now)
}

// HasPassword is false for accounts created through an external identity
// provider that never set a local password.
func (c *Credential) HasPassword() bool {
	return c != nil && c.PasswordHash != ""
}
