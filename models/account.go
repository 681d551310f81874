package models

import (
	"time"

	"gorm.io/gorm"
)

// Account types
const (
	AccountTypeGoogle = "google"
	AccountTypeZoho   = "zoho"
)

// EmailAccount represents a sending mailbox with its own daily quota.
// Credentials are encrypted in the application layer and decrypted on demand.
type EmailAccount struct {
	gorm.Model
	Email       string `gorm:"not null;uniqueIndex" json:"email"` // stored lowercased
	DisplayName string `json:"display_name"`
	AccountType string `gorm:"not null" json:"account_type"` // google, zoho

	// ========= Credentials (encrypted) =========
	SMTPPasswordEncrypted string `gorm:"type:text" json:"-"`
	OAuthTokensEncrypted  string `gorm:"type:text" json:"-"`
	ZohoProServers        bool   `gorm:"default:false" json:"zoho_pro_servers"`

	// ========= Usage =========
	DailyLimit   int        `gorm:"default:50" json:"daily_limit"`
	SentToday    int        `gorm:"default:0" json:"sent_today"`
	LimitResetAt *time.Time `json:"limit_reset_at"` // rolling 24h window
	// No column default: GORM omits zero-valued fields that carry one, so a
	// default would overwrite false on insert.
	IsActive bool `json:"is_active"`
}

// Sanitize clears credential fields before returning an account over the API
func (a *EmailAccount) Sanitize() {
	a.SMTPPasswordEncrypted = ""
	a.OAuthTokensEncrypted = ""
}
