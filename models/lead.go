package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead statuses. Replied, bounce and auto_reply are terminal: no further sends.
const (
	LeadStatusPending   = "pending"
	LeadStatusSent      = "sent"
	LeadStatusReplied   = "replied"
	LeadStatusBounce    = "bounce"
	LeadStatusAutoReply = "auto_reply"
)

// Lead is a single target recipient within one campaign
type Lead struct {
	gorm.Model
	CampaignID uint   `gorm:"not null;index:idx_lead_campaign_email,unique" json:"campaign_id"`
	Email      string `gorm:"not null;index:idx_lead_campaign_email,unique;index" json:"email"`

	// Opaque personalization payload supplied at import time
	Data map[string]string `gorm:"type:jsonb;serializer:json" json:"data"`

	Status            string     `gorm:"default:'pending';index" json:"status"`
	CurrentStep       int        `gorm:"default:0" json:"current_step"` // index of next step to send
	AssignedAccountID *uint      `gorm:"index" json:"assigned_account_id"`
	NextSendAt        *time.Time `gorm:"index" json:"next_send_at"`
	OrderIndex        int        `gorm:"default:0" json:"order_index"` // stable processing order
}

// Terminal reports whether the lead may receive further sends based on status alone.
// Sequence exhaustion (currentStep >= step count) is checked by the caller.
func (l *Lead) Terminal() bool {
	return l.Status == LeadStatusReplied || l.Status == LeadStatusBounce || l.Status == LeadStatusAutoReply
}

// StatusForReplyType maps a classified reply to the lead status it drives
func StatusForReplyType(replyType string) string {
	if replyType == ReplyTypeHuman {
		return LeadStatusReplied
	}
	return replyType
}
