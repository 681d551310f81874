package models

import (
	"time"

	"gorm.io/gorm"
)

// Reply types produced by the classifier
const (
	ReplyTypeHuman     = "human"
	ReplyTypeBounce    = "bounce"
	ReplyTypeAutoReply = "auto_reply"
)

// SentEmail is one actually-sent step message. At most one row exists per
// (lead, step). Immutable once created except for the reply fields, which the
// reply sweep keeps pointed at the newest lead-originated reply.
type SentEmail struct {
	gorm.Model
	LeadID     uint `gorm:"not null;index:idx_sent_lead_step,unique" json:"lead_id"`
	StepOrder  int  `gorm:"not null;index:idx_sent_lead_step,unique" json:"step_order"`
	AccountID  uint `gorm:"not null;index" json:"account_id"`
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`

	Subject     string `json:"subject"`
	BodyPreview string `json:"body_preview"`

	// Transport identifiers for threading and reply lookup
	MessageID string `gorm:"index" json:"message_id"` // RFC Message-ID or provider message id
	ThreadID  string `gorm:"index" json:"thread_id"`  // provider thread id (Gmail)

	SentAt time.Time `gorm:"not null;index" json:"sent_at"`

	// Reply state, derived from the newest lead-originated ReplyMessage
	Status    string     `gorm:"default:'sent';index" json:"status"`
	ReplyBody string     `gorm:"type:text" json:"reply_body"`
	ReplyAt   *time.Time `json:"reply_at"`
	ReplyType string     `json:"reply_type"`

	// Relations
	Lead     Lead         `gorm:"foreignKey:LeadID" json:"lead"`
	Account  EmailAccount `gorm:"foreignKey:AccountID" json:"account"`
	Campaign Campaign     `gorm:"foreignKey:CampaignID" json:"campaign"`
}

// ReplyMessage is one distinct message observed in the thread of a SentEmail.
// ExternalID dedupes messages across sweep runs; FromUs marks our own messages
// (recorded without body or classification).
type ReplyMessage struct {
	gorm.Model
	SentEmailID uint   `gorm:"not null;index" json:"sent_email_id"`
	ExternalID  string `gorm:"not null;uniqueIndex" json:"external_id"`

	ReplyAt   time.Time `gorm:"not null" json:"reply_at"`
	ReplyBody string    `gorm:"type:text" json:"reply_body"`
	ReplyType string    `json:"reply_type"` // empty when FromUs
	FromUs    bool      `gorm:"default:false" json:"from_us"`
}
