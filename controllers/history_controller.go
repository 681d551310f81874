package controller

import (
	"log"
	"strconv"

	"coldpilot/models"
	"coldpilot/worker"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const maxHistoryPageSize = 1000

type HistoryController struct {
	DB      *gorm.DB
	Logger  *log.Logger
	Checker *worker.ReplyChecker
}

func NewHistoryController(db *gorm.DB, logger *log.Logger, checker *worker.ReplyChecker) *HistoryController {
	return &HistoryController{
		DB:      db,
		Logger:  logger,
		Checker: checker,
	}
}

// GetSentEmails lists send history, filterable by campaign, lead, account and
// status
func (hc *HistoryController) GetSentEmails(c *fiber.Ctx) error {
	query := hc.DB.Model(&models.SentEmail{}).Preload("Lead")

	if campaignID := c.Query("campaign_id"); campaignID != "" {
		query = query.Where("campaign_id = ?", campaignID)
	}
	if leadID := c.Query("lead_id"); leadID != "" {
		query = query.Where("lead_id = ?", leadID)
	}
	if accountID := c.Query("account_id"); accountID != "" {
		query = query.Where("account_id = ?", accountID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	limit := maxHistoryPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive number",
			})
		}
		if n < limit {
			limit = n
		}
	}

	var sent []models.SentEmail
	if err := query.Order("sent_at desc").Limit(limit).Find(&sent).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch send history",
		})
	}

	return c.JSON(sent)
}

// GetReplies lists the raw thread messages recorded for one sent email
func (hc *HistoryController) GetReplies(c *fiber.Ctx) error {
	sentEmailID := c.Params("id")

	var sent models.SentEmail
	if err := hc.DB.First(&sent, sentEmailID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sent email not found",
		})
	}

	var replies []models.ReplyMessage
	if err := hc.DB.Where("sent_email_id = ?", sent.ID).
		Order("reply_at asc").Find(&replies).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch replies",
		})
	}

	return c.JSON(replies)
}

// RefreshReply re-checks one sent email's thread on demand
func (hc *HistoryController) RefreshReply(c *fiber.Ctx) error {
	raw := c.Params("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid sent email id",
		})
	}

	if err := hc.Checker.RefreshOne(uint(id)); err != nil {
		hc.Logger.Printf("Manual reply refresh failed for sent email %d: %v", id, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Reply refresh failed",
		})
	}

	var sent models.SentEmail
	if err := hc.DB.First(&sent, uint(id)).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sent email not found",
		})
	}

	return c.JSON(fiber.Map{
		"message":    "Reply check complete",
		"sent_email": sent,
	})
}
