package worker

import (
	"fmt"
	"log"
	"strings"

	"coldpilot/models"
	"coldpilot/transport"
	"coldpilot/utils"

	"gorm.io/gorm"
)

// ReplyChecker scans provider mailboxes for messages tied to our sent emails,
// classifies them, and drives lead status from the newest lead-originated
// reply. Used by the periodic reply worker and by the manual refresh endpoint.
type ReplyChecker struct {
	DB         *gorm.DB
	Transports transport.Registry
	Completion *utils.CampaignCompletion
	Logger     *log.Logger
}

func NewReplyChecker(db *gorm.DB, transports transport.Registry, completion *utils.CampaignCompletion, logger *log.Logger) *ReplyChecker {
	return &ReplyChecker{
		DB:         db,
		Transports: transports,
		Completion: completion,
		Logger:     logger,
	}
}

// SweepAccounts checks every active account's outstanding sent emails
func (rc *ReplyChecker) SweepAccounts() {
	var accounts []models.EmailAccount
	if err := rc.DB.Where("is_active = ?", true).Find(&accounts).Error; err != nil {
		utils.LogError("reply_sweep", err, nil)
		return
	}

	for i := range accounts {
		if err := rc.sweepAccount(&accounts[i]); err != nil {
			utils.LogError("reply_sweep", err, map[string]interface{}{
				"account_id": accounts[i].ID,
			})
		}
	}
}

func (rc *ReplyChecker) sweepAccount(account *models.EmailAccount) error {
	mailer, err := rc.Transports.For(account)
	if err != nil {
		return err
	}

	// Only awaiting-reply emails that carry a transport handle are worth a fetch
	var sent []models.SentEmail
	err = rc.DB.Where(
		"account_id = ? AND status = ? AND (message_id != '' OR thread_id != '')",
		account.ID, models.LeadStatusSent).
		Find(&sent).Error
	if err != nil {
		return fmt.Errorf("load sent emails: %w", err)
	}

	for i := range sent {
		if err := rc.processSentEmail(account, mailer, &sent[i]); err != nil {
			rc.Logger.Printf("Reply check failed for sent email %d: %v", sent[i].ID, err)
		}
	}
	return nil
}

// processSentEmail records any new thread messages and applies the newest
// lead-originated reply. Last reply wins: only the single most recent reply
// drives status.
func (rc *ReplyChecker) processSentEmail(account *models.EmailAccount, mailer transport.Mailer, sent *models.SentEmail) error {
	messages, err := mailer.FetchThreadMessages(account, sent, sent.SentAt)
	if err != nil {
		return fmt.Errorf("fetch thread messages: %w", err)
	}

	for _, msg := range messages {
		if err := rc.recordMessage(account, sent, msg); err != nil {
			return err
		}
	}

	latest, err := rc.latestLeadReply(sent.ID)
	if err != nil || latest == nil {
		return err
	}
	if rc.replyStateCurrent(sent, latest) {
		return nil
	}
	return rc.applyReplyUpdate(sent, latest)
}

// recordMessage upserts one observed thread message, deduped by external id.
// Our own messages are recorded bodyless and unclassified; they only mark
// that we already replied in this thread.
func (rc *ReplyChecker) recordMessage(account *models.EmailAccount, sent *models.SentEmail, msg transport.InboundMessage) error {
	var existing int64
	rc.DB.Model(&models.ReplyMessage{}).
		Where("external_id = ?", msg.ExternalID).
		Count(&existing)
	if existing > 0 {
		return nil
	}

	record := models.ReplyMessage{
		SentEmailID: sent.ID,
		ExternalID:  msg.ExternalID,
		ReplyAt:     msg.Timestamp,
	}
	if strings.Contains(strings.ToLower(msg.From), strings.ToLower(account.Email)) {
		record.FromUs = true
	} else {
		record.ReplyBody = msg.Body
		record.ReplyType = utils.DetectReplyType(msg.Body, msg.Subject, sent.SentAt, msg.Timestamp)
	}

	if err := rc.DB.Create(&record).Error; err != nil {
		return fmt.Errorf("record reply message: %w", err)
	}
	return nil
}

func (rc *ReplyChecker) latestLeadReply(sentEmailID uint) (*models.ReplyMessage, error) {
	var latest models.ReplyMessage
	err := rc.DB.Where("sent_email_id = ? AND from_us = ?", sentEmailID, false).
		Order("reply_at desc").
		First(&latest).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest reply: %w", err)
	}
	return &latest, nil
}

func (rc *ReplyChecker) replyStateCurrent(sent *models.SentEmail, latest *models.ReplyMessage) bool {
	return sent.ReplyType == latest.ReplyType &&
		sent.ReplyBody == latest.ReplyBody &&
		sent.ReplyAt != nil && sent.ReplyAt.Equal(latest.ReplyAt)
}

// applyReplyUpdate moves SentEmail and Lead together in one transaction, then
// kicks a completion re-check in the background
func (rc *ReplyChecker) applyReplyUpdate(sent *models.SentEmail, latest *models.ReplyMessage) error {
	status := models.StatusForReplyType(latest.ReplyType)

	err := rc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.SentEmail{}).Where("id = ?", sent.ID).
			Updates(map[string]interface{}{
				"status":     status,
				"reply_body": latest.ReplyBody,
				"reply_at":   latest.ReplyAt,
				"reply_type": latest.ReplyType,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Lead{}).Where("id = ?", sent.LeadID).
			Update("status", status).Error
	})
	if err != nil {
		return fmt.Errorf("apply reply update: %w", err)
	}

	utils.LogEvent("reply_detected", map[string]interface{}{
		"lead_id":     sent.LeadID,
		"reply_type":  latest.ReplyType,
		"campaign_id": sent.CampaignID,
	})

	go func(campaignID uint) {
		if err := rc.Completion.UpdateStatusFromCompletion(campaignID); err != nil {
			utils.LogError("completion_check", err, map[string]interface{}{"campaign_id": campaignID})
		}
	}(sent.CampaignID)

	return nil
}

// RefreshOne re-checks a single sent email on demand. If its status is already
// terminal but no reply body was captured, only the body is backfilled. The
// status may have been corrected by hand and must not be re-derived.
func (rc *ReplyChecker) RefreshOne(sentEmailID uint) error {
	var sent models.SentEmail
	if err := rc.DB.First(&sent, sentEmailID).Error; err != nil {
		return fmt.Errorf("load sent email: %w", err)
	}
	var account models.EmailAccount
	if err := rc.DB.First(&account, sent.AccountID).Error; err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	mailer, err := rc.Transports.For(&account)
	if err != nil {
		return err
	}

	messages, err := mailer.FetchThreadMessages(&account, &sent, sent.SentAt)
	if err != nil {
		return fmt.Errorf("fetch thread messages: %w", err)
	}
	for _, msg := range messages {
		if err := rc.recordMessage(&account, &sent, msg); err != nil {
			return err
		}
	}

	latest, err := rc.latestLeadReply(sent.ID)
	if err != nil || latest == nil {
		return err
	}

	if terminalStatus(sent.Status) {
		if sent.ReplyBody == "" {
			return rc.DB.Model(&models.SentEmail{}).Where("id = ?", sent.ID).
				Updates(map[string]interface{}{
					"reply_body": latest.ReplyBody,
					"reply_at":   latest.ReplyAt,
				}).Error
		}
		return nil
	}

	if rc.replyStateCurrent(&sent, latest) {
		return nil
	}
	return rc.applyReplyUpdate(&sent, latest)
}

func terminalStatus(status string) bool {
	return status == models.LeadStatusReplied ||
		status == models.LeadStatusBounce ||
		status == models.LeadStatusAutoReply
}
