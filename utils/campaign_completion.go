package utils

import (
	"fmt"
	"math"

	"coldpilot/models"

	"gorm.io/gorm"
)

// CampaignCompletion computes how far a campaign has progressed and drives the
// active<->finished status transitions.
type CampaignCompletion struct {
	DB *gorm.DB
}

func NewCampaignCompletion(db *gorm.DB) *CampaignCompletion {
	return &CampaignCompletion{DB: db}
}

type CompletionResult struct {
	CompletionPercent int  `json:"completion_percent"`
	LeadsTotal        int  `json:"leads_total"`
	LeadsDone         int  `json:"leads_done"`
	TotalSteps        int  `json:"total_steps"`
	IsFinished        bool `json:"is_finished"`
}

// Compute returns the campaign's completion. A lead is done when its status is
// terminal (replied, bounce, auto_reply) or it has walked every step. An empty
// campaign or a campaign with no steps is trivially finished.
func (cc *CampaignCompletion) Compute(campaignID uint) (*CompletionResult, error) {
	var campaign models.Campaign
	err := cc.DB.Preload("Sequence.Steps").First(&campaign, campaignID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}

	totalSteps := 0
	if campaign.Sequence != nil {
		totalSteps = len(campaign.Sequence.Steps)
	}

	var leadsTotal int64
	if err := cc.DB.Model(&models.Lead{}).Where("campaign_id = ?", campaign.ID).
		Count(&leadsTotal).Error; err != nil {
		return nil, fmt.Errorf("count leads: %w", err)
	}

	if leadsTotal == 0 || totalSteps == 0 {
		percent := 0
		done := 0
		if leadsTotal > 0 {
			percent = 100
			done = int(leadsTotal)
		}
		return &CompletionResult{
			CompletionPercent: percent,
			LeadsTotal:        int(leadsTotal),
			LeadsDone:         done,
			TotalSteps:        totalSteps,
			IsFinished:        true,
		}, nil
	}

	var leadsDone int64
	err = cc.DB.Model(&models.Lead{}).
		Where("campaign_id = ? AND (status IN ? OR current_step >= ?)",
			campaign.ID,
			[]string{models.LeadStatusReplied, models.LeadStatusBounce, models.LeadStatusAutoReply},
			totalSteps).
		Count(&leadsDone).Error
	if err != nil {
		return nil, fmt.Errorf("count done leads: %w", err)
	}

	return &CompletionResult{
		CompletionPercent: int(math.Round(float64(leadsDone) / float64(leadsTotal) * 100)),
		LeadsTotal:        int(leadsTotal),
		LeadsDone:         int(leadsDone),
		TotalSteps:        totalSteps,
		IsFinished:        leadsDone == leadsTotal,
	}, nil
}

// UpdateStatusFromCompletion moves an active campaign to finished when every
// lead is done, and a finished campaign back to active when new leads or steps
// reopened it. Paused campaigns are never touched, the user controls them.
func (cc *CampaignCompletion) UpdateStatusFromCompletion(campaignID uint) error {
	result, err := cc.Compute(campaignID)
	if err != nil || result == nil {
		return err
	}

	var campaign models.Campaign
	if err := cc.DB.Select("id", "status").First(&campaign, campaignID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return fmt.Errorf("load campaign status: %w", err)
	}

	if result.IsFinished && campaign.Status == models.CampaignStatusActive {
		if err := cc.DB.Model(&models.Campaign{}).Where("id = ?", campaignID).
			Update("status", models.CampaignStatusFinished).Error; err != nil {
			return fmt.Errorf("finish campaign: %w", err)
		}
		LogEvent("campaign_finished", map[string]interface{}{"campaign_id": campaignID})
	} else if !result.IsFinished && campaign.Status == models.CampaignStatusFinished {
		if err := cc.DB.Model(&models.Campaign{}).Where("id = ?", campaignID).
			Update("status", models.CampaignStatusActive).Error; err != nil {
			return fmt.Errorf("reopen campaign: %w", err)
		}
		LogEvent("campaign_reopened", map[string]interface{}{"campaign_id": campaignID})
	}
	return nil
}
