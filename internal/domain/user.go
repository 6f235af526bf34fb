package domain

import "time"

type AccountType string

const (
	AccountTypeStandard AccountType = "standard"
	AccountTypeCreator  AccountType = "creator"
	AccountTypeAdmin    AccountType = "admin"
	AccountTypeOAuth    AccountType = "oauth"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeStandard, AccountTypeCreator, AccountTypeAdmin, AccountTypeOAuth:
		return true
	}
	return false
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

type User struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	Username    string      `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Email       string      `gorm:"size:320;uniqueIndex;not null" json:"email"`
	DisplayName string      `gorm:"size:128" json:"display_name"`
	AccountType AccountType `gorm:"size:32;not null;default:standard" json:"account_type"`
	Status      string      `gorm:"size:16;not null;default:active;index" json:"status"`
	Credential  *Credential `gorm:"foreignKey:UserID" json:"-"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (u *User) IsActive() bool {
	return u != nil && u.Status == UserStatusActive
}
