package controller

import (
	"log"
	"strings"

	"coldpilot/models"
	"coldpilot/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type LeadController struct {
	DB         *gorm.DB
	Logger     *log.Logger
	Assigner   *utils.CampaignAssigner
	Completion *utils.CampaignCompletion
}

func NewLeadController(db *gorm.DB, logger *log.Logger, assigner *utils.CampaignAssigner, completion *utils.CampaignCompletion) *LeadController {
	return &LeadController{
		DB:         db,
		Logger:     logger,
		Assigner:   assigner,
		Completion: completion,
	}
}

// ImportLeads adds leads to a campaign. Invalid addresses and duplicates are
// skipped and counted, never fatal. Emails already used by another campaign
// are skipped too, so one mailbox is never worked by two campaigns at once.
func (lc *LeadController) ImportLeads(c *fiber.Ctx) error {
	campaignID := c.Params("id")

	var campaign models.Campaign
	if err := lc.DB.First(&campaign, campaignID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	var input struct {
		Leads []struct {
			Email string            `json:"email"`
			Data  map[string]string `json:"data"`
		} `json:"leads"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if len(input.Leads) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No leads provided",
		})
	}

	var maxOrder int
	lc.DB.Model(&models.Lead{}).Where("campaign_id = ?", campaign.ID).
		Select("COALESCE(MAX(order_index), -1)").Scan(&maxOrder)

	imported := 0
	skippedInvalid := 0
	skippedDuplicate := 0
	seen := make(map[string]bool, len(input.Leads))

	err := lc.DB.Transaction(func(tx *gorm.DB) error {
		for _, entry := range input.Leads {
			email := strings.ToLower(strings.TrimSpace(entry.Email))
			if email == "" || checkmail.ValidateFormat(email) != nil {
				skippedInvalid++
				continue
			}
			if seen[email] {
				skippedDuplicate++
				continue
			}
			seen[email] = true

			var existing int64
			if err := tx.Model(&models.Lead{}).Where("email = ?", email).
				Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				skippedDuplicate++
				continue
			}

			maxOrder++
			lead := models.Lead{
				CampaignID: campaign.ID,
				Email:      email,
				Data:       entry.Data,
				Status:     models.LeadStatusPending,
				OrderIndex: maxOrder,
			}
			if err := tx.Create(&lead).Error; err != nil {
				return err
			}
			imported++
		}
		return nil
	})
	if err != nil {
		lc.Logger.Printf("Lead import failed for campaign %d: %v", campaign.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to import leads",
		})
	}

	// New leads need schedules, and may reopen a finished campaign
	if imported > 0 {
		if campaign.Status == models.CampaignStatusActive {
			go lc.Assigner.AssignLeads(campaign.ID)
		}
		go func(id uint) {
			if err := lc.Completion.UpdateStatusFromCompletion(id); err != nil {
				utils.LogError("completion_check", err, map[string]interface{}{"campaign_id": id})
			}
		}(campaign.ID)
	}

	lc.Logger.Printf("Imported %d leads into campaign %d (%d invalid, %d duplicate)",
		imported, campaign.ID, skippedInvalid, skippedDuplicate)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"imported":          imported,
		"skipped_invalid":   skippedInvalid,
		"skipped_duplicate": skippedDuplicate,
	})
}

// GetLeads lists a campaign's leads, optionally filtered by status
func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	campaignID := c.Params("id")

	var campaign models.Campaign
	if err := lc.DB.First(&campaign, campaignID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	query := lc.DB.Where("campaign_id = ?", campaign.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var leads []models.Lead
	if err := query.Order("order_index asc").Find(&leads).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch leads",
		})
	}

	return c.JSON(leads)
}

// DeleteLead removes a lead and its send history
func (lc *LeadController) DeleteLead(c *fiber.Ctx) error {
	leadID := c.Params("leadId")

	var lead models.Lead
	if err := lc.DB.First(&lead, leadID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}

	err := lc.DB.Transaction(func(tx *gorm.DB) error {
		var sentIDs []uint
		if err := tx.Model(&models.SentEmail{}).Where("lead_id = ?", lead.ID).
			Pluck("id", &sentIDs).Error; err != nil {
			return err
		}
		if len(sentIDs) > 0 {
			if err := tx.Where("sent_email_id IN ?", sentIDs).
				Delete(&models.ReplyMessage{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("lead_id = ?", lead.ID).Delete(&models.SentEmail{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Lead{}, lead.ID).Error
	})
	if err != nil {
		lc.Logger.Printf("Failed to delete lead %d: %v", lead.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete lead",
		})
	}

	go func(id uint) {
		if err := lc.Completion.UpdateStatusFromCompletion(id); err != nil {
			utils.LogError("completion_check", err, map[string]interface{}{"campaign_id": id})
		}
	}(lead.CampaignID)

	return c.JSON(fiber.Map{
		"message": "Lead deleted successfully",
	})
}
