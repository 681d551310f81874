package models

import (
	"gorm.io/gorm"
)

// Campaign statuses
const (
	CampaignStatusDraft    = "draft"
	CampaignStatusActive   = "active"
	CampaignStatusPaused   = "paused"
	CampaignStatusFinished = "finished"
)

// Campaign represents an outbound email campaign
type Campaign struct {
	gorm.Model
	Name   string `gorm:"not null" json:"name"`
	Status string `gorm:"default:'draft';index" json:"status"` // draft, active, paused, finished

	// Scheduling
	DailyLimit        int    `gorm:"default:50" json:"daily_limit"`
	StartTime         string `json:"start_time"`                                 // optional HH:mm, MSK
	WorkingHoursStart string `gorm:"default:'09:00'" json:"working_hours_start"` // HH:mm, MSK
	WorkingHoursEnd   string `gorm:"default:'18:00'" json:"working_hours_end"`   // may wrap past midnight

	// Relations
	Sequence         *Sequence         `gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE" json:"sequence,omitempty"`
	CampaignAccounts []CampaignAccount `gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE" json:"campaign_accounts,omitempty"`
	Leads            []Lead            `gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE" json:"leads,omitempty"`
}

// Sequence holds the ordered follow-up steps and throttle range of a campaign
type Sequence struct {
	gorm.Model
	CampaignID uint `gorm:"not null;uniqueIndex" json:"campaign_id"`

	ThrottleMinMinutes int `gorm:"default:2" json:"throttle_min_minutes"`
	ThrottleMaxMinutes int `gorm:"default:5" json:"throttle_max_minutes"`

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:SequenceID;constraint:OnDelete:CASCADE" json:"steps,omitempty"`
}

// SequenceStep is one templated email in a sequence. StepOrder is 0-based and dense;
// DelayAfterPreviousDays is ignored for step 0.
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	StepOrder              int    `gorm:"not null" json:"step_order"`
	SubjectTemplate        string `gorm:"not null" json:"subject_template"`
	BodyTemplate           string `gorm:"type:text;not null" json:"body_template"`
	DelayAfterPreviousDays int    `gorm:"default:0" json:"delay_after_previous_days"`
}

// CampaignAccount joins campaigns to the email accounts they may send from
type CampaignAccount struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index:idx_campaign_account,unique" json:"campaign_id"`
	AccountID  uint `gorm:"not null;index:idx_campaign_account,unique" json:"account_id"`

	// Relations
	Account EmailAccount `gorm:"foreignKey:AccountID" json:"account"`
}
