package controller

import (
	"log"
	"strings"

	"coldpilot/models"
	"coldpilot/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CampaignController struct {
	DB         *gorm.DB
	Logger     *log.Logger
	Assigner   *utils.CampaignAssigner
	Completion *utils.CampaignCompletion
}

func NewCampaignController(db *gorm.DB, logger *log.Logger, assigner *utils.CampaignAssigner, completion *utils.CampaignCompletion) *CampaignController {
	return &CampaignController{
		DB:         db,
		Logger:     logger,
		Assigner:   assigner,
		Completion: completion,
	}
}

type campaignStepInput struct {
	SubjectTemplate        string `json:"subject_template"`
	BodyTemplate           string `json:"body_template"`
	DelayAfterPreviousDays int    `json:"delay_after_previous_days"`
}

type campaignInput struct {
	Name               string              `json:"name"`
	DailyLimit         int                 `json:"daily_limit"`
	StartTime          string              `json:"start_time"`
	WorkingHoursStart  string              `json:"working_hours_start"`
	WorkingHoursEnd    string              `json:"working_hours_end"`
	ThrottleMinMinutes int                 `json:"throttle_min_minutes"`
	ThrottleMaxMinutes int                 `json:"throttle_max_minutes"`
	Steps              []campaignStepInput `json:"steps"`
	AccountIDs         []uint              `json:"account_ids"`
}

func (in *campaignInput) applyDefaults() {
	if in.DailyLimit == 0 {
		in.DailyLimit = 50
	}
	if in.WorkingHoursStart == "" {
		in.WorkingHoursStart = "09:00"
	}
	if in.WorkingHoursEnd == "" {
		in.WorkingHoursEnd = "18:00"
	}
	if in.ThrottleMinMinutes == 0 {
		in.ThrottleMinMinutes = 2
	}
	if in.ThrottleMaxMinutes == 0 {
		in.ThrottleMaxMinutes = 5
	}
}

func (in *campaignInput) validate() error {
	delays := make([]int, 0, len(in.Steps))
	for _, s := range in.Steps {
		delays = append(delays, s.DelayAfterPreviousDays)
	}
	return utils.ValidateCampaignSettings(utils.CampaignSettings{
		StartTime:          in.StartTime,
		WorkingHoursStart:  in.WorkingHoursStart,
		WorkingHoursEnd:    in.WorkingHoursEnd,
		DailyLimit:         in.DailyLimit,
		ThrottleMinMinutes: in.ThrottleMinMinutes,
		ThrottleMaxMinutes: in.ThrottleMaxMinutes,
		StepDelays:         delays,
	})
}

// CreateCampaign creates a draft campaign with its sequence and account pool
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	var input campaignInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if strings.TrimSpace(input.Name) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Campaign name is required",
		})
	}
	input.applyDefaults()
	if err := input.validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	for i, step := range input.Steps {
		if strings.TrimSpace(step.SubjectTemplate) == "" || strings.TrimSpace(step.BodyTemplate) == "" {
			cc.Logger.Printf("Campaign create rejected: step %d has empty template", i)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Every step needs a subject and body template",
			})
		}
	}

	campaign := models.Campaign{
		Name:              input.Name,
		Status:            models.CampaignStatusDraft,
		DailyLimit:        input.DailyLimit,
		StartTime:         input.StartTime,
		WorkingHoursStart: input.WorkingHoursStart,
		WorkingHoursEnd:   input.WorkingHoursEnd,
	}

	err := cc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&campaign).Error; err != nil {
			return err
		}
		sequence := models.Sequence{
			CampaignID:         campaign.ID,
			ThrottleMinMinutes: input.ThrottleMinMinutes,
			ThrottleMaxMinutes: input.ThrottleMaxMinutes,
		}
		if err := tx.Create(&sequence).Error; err != nil {
			return err
		}
		for i, step := range input.Steps {
			if err := tx.Create(&models.SequenceStep{
				SequenceID:             sequence.ID,
				StepOrder:              i,
				SubjectTemplate:        step.SubjectTemplate,
				BodyTemplate:           step.BodyTemplate,
				DelayAfterPreviousDays: step.DelayAfterPreviousDays,
			}).Error; err != nil {
				return err
			}
		}
		for _, accountID := range input.AccountIDs {
			if err := tx.Create(&models.CampaignAccount{
				CampaignID: campaign.ID,
				AccountID:  accountID,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		cc.Logger.Printf("Failed to create campaign: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create campaign",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Campaign created successfully",
		"campaign": campaign,
	})
}

// GetCampaigns returns all campaigns with their completion figures
func (cc *CampaignController) GetCampaigns(c *fiber.Ctx) error {
	var campaigns []models.Campaign
	if err := cc.DB.Order("created_at desc").Find(&campaigns).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch campaigns",
		})
	}

	out := make([]fiber.Map, 0, len(campaigns))
	for i := range campaigns {
		entry := fiber.Map{"campaign": campaigns[i]}
		if result, err := cc.Completion.Compute(campaigns[i].ID); err == nil && result != nil {
			entry["completion"] = result
		}
		out = append(out, entry)
	}

	return c.JSON(out)
}

// GetCampaign returns one campaign with sequence, accounts and completion
func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	campaignID := c.Params("id")

	var campaign models.Campaign
	err := cc.DB.
		Preload("Sequence.Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order asc")
		}).
		Preload("CampaignAccounts.Account").
		First(&campaign, campaignID).Error
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}
	for i := range campaign.CampaignAccounts {
		campaign.CampaignAccounts[i].Account.Sanitize()
	}

	completion, err := cc.Completion.Compute(campaign.ID)
	if err != nil {
		cc.Logger.Printf("Completion compute failed for campaign %d: %v", campaign.ID, err)
	}

	return c.JSON(fiber.Map{
		"campaign":   campaign,
		"completion": completion,
	})
}

// UpdateCampaign updates settings and replaces the sequence. Active campaigns
// get their remaining leads replanned in the background.
func (cc *CampaignController) UpdateCampaign(c *fiber.Ctx) error {
	campaignID := c.Params("id")

	var campaign models.Campaign
	if err := cc.DB.Preload("Sequence").First(&campaign, campaignID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	var input campaignInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	input.applyDefaults()
	if err := input.validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	err := cc.DB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"daily_limit":         input.DailyLimit,
			"start_time":          input.StartTime,
			"working_hours_start": input.WorkingHoursStart,
			"working_hours_end":   input.WorkingHoursEnd,
		}
		if strings.TrimSpace(input.Name) != "" {
			updates["name"] = input.Name
		}
		if err := tx.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		if campaign.Sequence == nil {
			return nil
		}
		if err := tx.Model(&models.Sequence{}).Where("id = ?", campaign.Sequence.ID).
			Updates(map[string]interface{}{
				"throttle_min_minutes": input.ThrottleMinMinutes,
				"throttle_max_minutes": input.ThrottleMaxMinutes,
			}).Error; err != nil {
			return err
		}
		if len(input.Steps) == 0 {
			return nil
		}
		if err := tx.Where("sequence_id = ?", campaign.Sequence.ID).
			Delete(&models.SequenceStep{}).Error; err != nil {
			return err
		}
		for i, step := range input.Steps {
			if err := tx.Create(&models.SequenceStep{
				SequenceID:             campaign.Sequence.ID,
				StepOrder:              i,
				SubjectTemplate:        step.SubjectTemplate,
				BodyTemplate:           step.BodyTemplate,
				DelayAfterPreviousDays: step.DelayAfterPreviousDays,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		cc.Logger.Printf("Failed to update campaign %d: %v", campaign.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update campaign",
		})
	}

	if campaign.Status == models.CampaignStatusActive {
		go cc.Assigner.AssignLeads(campaign.ID)
	}

	return c.JSON(fiber.Map{
		"message": "Campaign updated successfully",
	})
}

// StartCampaign activates a campaign and plans its unassigned leads
func (cc *CampaignController) StartCampaign(c *fiber.Ctx) error {
	campaignID := c.Params("id")

	var campaign models.Campaign
	err := cc.DB.Preload("Sequence.Steps").Preload("CampaignAccounts").
		First(&campaign, campaignID).Error
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}
	if campaign.Status == models.CampaignStatusActive {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Campaign is already running",
		})
	}
	if campaign.Sequence == nil || len(campaign.Sequence.Steps) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Campaign has no sequence steps",
		})
	}
	if len(campaign.CampaignAccounts) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Campaign has no sending accounts",
		})
	}

	if err := cc.DB.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
		Update("status", models.CampaignStatusActive).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start campaign",
		})
	}

	go cc.Assigner.AssignLeads(campaign.ID)

	utils.LogEvent("campaign_started", map[string]interface{}{"campaign_id": campaign.ID})
	return c.JSON(fiber.Map{
		"message": "Campaign started successfully",
	})
}

// PauseCampaign halts sending without touching lead schedules
func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	campaignID := c.Params("id")

	var campaign models.Campaign
	if err := cc.DB.First(&campaign, campaignID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}
	if campaign.Status != models.CampaignStatusActive {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Campaign is not running",
		})
	}

	if err := cc.DB.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
		Update("status", models.CampaignStatusPaused).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to pause campaign",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Campaign paused successfully",
	})
}

// ResumeCampaign reactivates a paused campaign and replans pending leads
func (cc *CampaignController) ResumeCampaign(c *fiber.Ctx) error {
	campaignID := c.Params("id")

	var campaign models.Campaign
	if err := cc.DB.First(&campaign, campaignID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}
	if campaign.Status != models.CampaignStatusPaused {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Campaign is not paused",
		})
	}

	if err := cc.DB.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
		Update("status", models.CampaignStatusActive).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resume campaign",
		})
	}

	go cc.Assigner.AssignLeads(campaign.ID)

	return c.JSON(fiber.Map{
		"message": "Campaign resumed successfully",
	})
}

// DeleteCampaign removes a campaign and everything attached to it
func (cc *CampaignController) DeleteCampaign(c *fiber.Ctx) error {
	campaignID := c.Params("id")

	var campaign models.Campaign
	if err := cc.DB.Preload("Sequence").First(&campaign, campaignID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	err := cc.DB.Transaction(func(tx *gorm.DB) error {
		var sentIDs []uint
		if err := tx.Model(&models.SentEmail{}).Where("campaign_id = ?", campaign.ID).
			Pluck("id", &sentIDs).Error; err != nil {
			return err
		}
		if len(sentIDs) > 0 {
			if err := tx.Where("sent_email_id IN ?", sentIDs).
				Delete(&models.ReplyMessage{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("campaign_id = ?", campaign.ID).Delete(&models.SentEmail{}).Error; err != nil {
			return err
		}
		if err := tx.Where("campaign_id = ?", campaign.ID).Delete(&models.Lead{}).Error; err != nil {
			return err
		}
		if err := tx.Where("campaign_id = ?", campaign.ID).Delete(&models.CampaignAccount{}).Error; err != nil {
			return err
		}
		if campaign.Sequence != nil {
			if err := tx.Where("sequence_id = ?", campaign.Sequence.ID).
				Delete(&models.SequenceStep{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.Sequence{}, campaign.Sequence.ID).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Campaign{}, campaign.ID).Error
	})
	if err != nil {
		cc.Logger.Printf("Failed to delete campaign %d: %v", campaign.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete campaign",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Campaign deleted successfully",
	})
}

// GetCampaignStats returns completion plus a lead status breakdown
func (cc *CampaignController) GetCampaignStats(c *fiber.Ctx) error {
	campaignID := c.Params("id")

	var campaign models.Campaign
	if err := cc.DB.First(&campaign, campaignID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	completion, err := cc.Completion.Compute(campaign.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute completion",
		})
	}

	statusCounts := map[string]int64{}
	for _, status := range []string{
		models.LeadStatusPending, models.LeadStatusSent,
		models.LeadStatusReplied, models.LeadStatusBounce, models.LeadStatusAutoReply,
	} {
		var n int64
		cc.DB.Model(&models.Lead{}).
			Where("campaign_id = ? AND status = ?", campaign.ID, status).
			Count(&n)
		statusCounts[status] = n
	}

	var emailsSent int64
	cc.DB.Model(&models.SentEmail{}).Where("campaign_id = ?", campaign.ID).Count(&emailsSent)

	return c.JSON(fiber.Map{
		"status":      campaign.Status,
		"completion":  completion,
		"lead_status": statusCounts,
		"emails_sent": emailsSent,
	})
}
