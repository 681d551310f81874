package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"coldpilot/models"
	"coldpilot/transport"
	"coldpilot/utils"

	"gorm.io/gorm"
)

// Leads whose nextSendAt falls within this grace window count as due, so a
// lead scheduled moments after the tick started is not pushed a full tick out.
const dueGraceWindow = 60 * time.Second

const rollingDay = 24 * time.Hour

// SendCycleWorker walks active campaigns on a fixed tick and sends at most one
// due lead per account per tick, so throughput scales with account count. Ticks
// never overlap: a tick that outlives the interval makes the next fire skip.
type SendCycleWorker struct {
	DB         *gorm.DB
	Transports transport.Registry
	Completion *utils.CampaignCompletion
	Logger     *log.Logger
	Interval   time.Duration

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup

	// test seams
	now   func() time.Time
	sleep func(time.Duration)
}

func NewSendCycleWorker(db *gorm.DB, transports transport.Registry, completion *utils.CampaignCompletion, logger *log.Logger, interval time.Duration) *SendCycleWorker {
	return &SendCycleWorker{
		DB:         db,
		Transports: transports,
		Completion: completion,
		Logger:     logger,
		Interval:   interval,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

func (w *SendCycleWorker) Start(ctx context.Context) {
	w.Logger.Println("Send cycle worker started")

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Println("Send cycle worker shutting down...")
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// Wait blocks until an in-flight tick completes or the context expires
func (w *SendCycleWorker) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.Logger.Println("Send cycle worker: grace period expired with tick in flight")
	}
}

// tick dispatches one cycle unless the previous one is still running
func (w *SendCycleWorker) tick() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer func() {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			w.wg.Done()
		}()
		w.RunSendCycle()
	}()
}

// RunSendCycle processes every active campaign once. All failures are absorbed
// and logged; a failed send leaves the lead untouched for the next tick.
func (w *SendCycleWorker) RunSendCycle() {
	var campaigns []models.Campaign
	err := w.DB.Where("status = ?", models.CampaignStatusActive).
		Preload("Sequence.Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order asc")
		}).
		Preload("CampaignAccounts").
		Find(&campaigns).Error
	if err != nil {
		utils.LogError("send_cycle", err, nil)
		return
	}

	now := w.now()
	for i := range campaigns {
		w.runCampaign(&campaigns[i], now)
	}
}

func (w *SendCycleWorker) runCampaign(campaign *models.Campaign, now time.Time) {
	if campaign.Sequence == nil || len(campaign.Sequence.Steps) == 0 {
		w.Logger.Printf("Campaign %d skipped: no sequence steps", campaign.ID)
		return
	}
	steps := campaign.Sequence.Steps

	workingStart := campaign.WorkingHoursStart
	workingEnd := campaign.WorkingHoursEnd
	if workingStart == "" {
		workingStart = "09:00"
	}
	if workingEnd == "" {
		workingEnd = "18:00"
	}
	if !utils.IsWithinWorkingHours(workingStart, workingEnd, now) {
		w.Logger.Printf("Campaign %d skipped: outside working hours %s-%s MSK",
			campaign.ID, workingStart, workingEnd)
		return
	}

	var campaignSentToday int64
	err := w.DB.Model(&models.SentEmail{}).
		Where("campaign_id = ? AND sent_at >= ?", campaign.ID, now.Add(-rollingDay)).
		Count(&campaignSentToday).Error
	if err != nil {
		utils.LogError("send_cycle", err, map[string]interface{}{"campaign_id": campaign.ID})
		return
	}
	if campaignSentToday >= int64(campaign.DailyLimit) {
		w.Logger.Printf("Campaign %d daily limit reached, pausing", campaign.ID)
		w.pauseCampaign(campaign.ID)
		return
	}

	accounts := w.activeAccounts(campaign)
	if len(accounts) == 0 {
		w.Logger.Printf("Campaign %d skipped: no active accounts", campaign.ID)
		return
	}

	anyAvailable := false
	for i := range accounts {
		w.maybeResetAccountLimit(&accounts[i], now)
		if accounts[i].SentToday < accounts[i].DailyLimit {
			anyAvailable = true
		}
	}
	if !anyAvailable {
		w.Logger.Printf("Campaign %d: all accounts at limit, pausing", campaign.ID)
		w.pauseCampaign(campaign.ID)
		return
	}

	sentThisRun := 0
	for i := range accounts {
		if campaignSentToday >= int64(campaign.DailyLimit) {
			break
		}
		if w.processAccount(campaign, steps, &accounts[i], now) {
			campaignSentToday++
			sentThisRun++
		}
	}
	if sentThisRun == 0 {
		w.Logger.Printf("Campaign %d: no leads ready", campaign.ID)
	}
}

// processAccount sends at most one due lead from the account. Returns true
// when a message went out.
func (w *SendCycleWorker) processAccount(campaign *models.Campaign, steps []models.SequenceStep, account *models.EmailAccount, now time.Time) bool {
	w.maybeResetAccountLimit(account, now)
	if err := w.DB.First(account, account.ID).Error; err != nil {
		return false
	}
	if account.SentToday >= account.DailyLimit {
		return false
	}

	var lead models.Lead
	err := w.DB.Where(
		"campaign_id = ? AND assigned_account_id = ? AND status IN ? AND next_send_at IS NOT NULL AND next_send_at <= ?",
		campaign.ID, account.ID,
		[]string{models.LeadStatusPending, models.LeadStatusSent},
		now.Add(dueGraceWindow)).
		Order("next_send_at asc").
		First(&lead).Error
	if err != nil {
		return false
	}

	stepIndex := lead.CurrentStep
	if stepIndex < 0 || stepIndex >= len(steps) {
		return false
	}

	// Idempotency safety net: never double-send a step
	var alreadySent int64
	w.DB.Model(&models.SentEmail{}).
		Where("lead_id = ? AND step_order = ?", lead.ID, stepIndex).
		Count(&alreadySent)
	if alreadySent > 0 {
		return false
	}

	step := steps[stepIndex]
	subject := utils.Personalize(step.SubjectTemplate, lead.Data)
	body := utils.Personalize(step.BodyTemplate, lead.Data)

	mailer, err := w.Transports.For(account)
	if err != nil {
		utils.LogError("send_cycle", err, map[string]interface{}{"account_id": account.ID})
		return false
	}

	var opts *transport.SendOptions
	if stepIndex > 0 {
		var prevSent models.SentEmail
		err := w.DB.Where("lead_id = ? AND step_order = ?", lead.ID, stepIndex-1).
			First(&prevSent).Error
		if err == nil {
			opts, err = mailer.ThreadingOptions(account, &prevSent)
			if err != nil {
				w.Logger.Printf("Threading lookup failed for lead %d: %v", lead.ID, err)
				opts = nil
			}
		}
	}

	w.Logger.Printf("Attempting send: lead %d to %s via account %d (campaign %d, step %d)",
		lead.ID, lead.Email, account.ID, campaign.ID, stepIndex)

	result, err := mailer.Send(account, lead.Email, subject, body, opts)
	if err != nil {
		// Lead stays untouched and retries on a future tick
		utils.LogError("send_failed", err, map[string]interface{}{
			"lead_id":     lead.ID,
			"to":          lead.Email,
			"account_id":  account.ID,
			"campaign_id": campaign.ID,
			"step":        stepIndex,
		})
		return false
	}

	limitResetAt := now.Add(rollingDay)
	if account.LimitResetAt != nil {
		limitResetAt = *account.LimitResetAt
	}

	var nextSendAt *time.Time
	if stepIndex+1 < len(steps) {
		t := now.Add(time.Duration(steps[stepIndex+1].DelayAfterPreviousDays) * 24 * time.Hour)
		nextSendAt = &t
	}

	err = w.DB.Transaction(func(tx *gorm.DB) error {
		sent := models.SentEmail{
			LeadID:      lead.ID,
			AccountID:   account.ID,
			CampaignID:  campaign.ID,
			StepOrder:   stepIndex,
			Subject:     subject,
			BodyPreview: utils.BodyPreview(body, 200),
			MessageID:   result.MessageID,
			ThreadID:    result.ThreadID,
			SentAt:      now,
			Status:      models.LeadStatusSent,
		}
		if err := tx.Create(&sent).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Lead{}).Where("id = ?", lead.ID).
			Updates(map[string]interface{}{
				"current_step": stepIndex + 1,
				"status":       models.LeadStatusSent,
				"next_send_at": nextSendAt,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&models.EmailAccount{}).Where("id = ?", account.ID).
			Updates(map[string]interface{}{
				"sent_today":     gorm.Expr("sent_today + ?", 1),
				"limit_reset_at": limitResetAt,
			}).Error
	})
	if err != nil {
		utils.LogError("send_record", err, map[string]interface{}{
			"lead_id": lead.ID, "step": stepIndex,
		})
		return false
	}

	throttleMin := campaign.Sequence.ThrottleMinMinutes
	throttleMax := campaign.Sequence.ThrottleMaxMinutes
	if throttleMin < 1 {
		throttleMin = 2
	}
	if throttleMax < 1 {
		throttleMax = 5
	}
	throttle := time.Duration(utils.HumanLikeThrottleSeconds(throttleMin, throttleMax)) * time.Second

	w.rescheduleNextLead(campaign.ID, account.ID, lead.ID, now.Add(throttle))

	w.Logger.Printf("Sent email: lead %d to %s (step %d)", lead.ID, lead.Email, stepIndex)

	// Real delay between sends: the throttle gap is honored even under
	// scheduler jitter, not just written into the schedule.
	w.sleep(throttle)

	go func(campaignID uint) {
		if err := w.Completion.UpdateStatusFromCompletion(campaignID); err != nil {
			utils.LogError("completion_check", err, map[string]interface{}{"campaign_id": campaignID})
		}
	}(campaign.ID)

	return true
}

// rescheduleNextLead pushes the account's next queued lead out to proposed
// when it is currently scheduled sooner. Never pulls a later time earlier.
func (w *SendCycleWorker) rescheduleNextLead(campaignID, accountID, sentLeadID uint, proposed time.Time) {
	var next models.Lead
	err := w.DB.Where(
		"campaign_id = ? AND assigned_account_id = ? AND status IN ? AND next_send_at IS NOT NULL AND id != ?",
		campaignID, accountID,
		[]string{models.LeadStatusPending, models.LeadStatusSent},
		sentLeadID).
		Order("next_send_at asc").
		First(&next).Error
	if err != nil {
		return
	}
	if next.NextSendAt != nil && proposed.After(*next.NextSendAt) {
		if err := w.DB.Model(&models.Lead{}).Where("id = ?", next.ID).
			Update("next_send_at", proposed).Error; err != nil {
			utils.LogError("reschedule", err, map[string]interface{}{"lead_id": next.ID})
		}
	}
}

// maybeResetAccountLimit rolls the per-account counter when its 24h window
// has elapsed
func (w *SendCycleWorker) maybeResetAccountLimit(account *models.EmailAccount, now time.Time) {
	if account.LimitResetAt == nil || now.Before(*account.LimitResetAt) {
		return
	}
	reset := now.Add(rollingDay)
	err := w.DB.Model(&models.EmailAccount{}).Where("id = ?", account.ID).
		Updates(map[string]interface{}{
			"sent_today":     0,
			"limit_reset_at": reset,
		}).Error
	if err != nil {
		utils.LogError("limit_reset", err, map[string]interface{}{"account_id": account.ID})
		return
	}
	account.SentToday = 0
	account.LimitResetAt = &reset
}

func (w *SendCycleWorker) activeAccounts(campaign *models.Campaign) []models.EmailAccount {
	ids := make([]uint, 0, len(campaign.CampaignAccounts))
	for _, link := range campaign.CampaignAccounts {
		ids = append(ids, link.AccountID)
	}
	if len(ids) == 0 {
		return nil
	}
	var accounts []models.EmailAccount
	if err := w.DB.Where("id IN ? AND is_active = ?", ids, true).Find(&accounts).Error; err != nil {
		utils.LogError("send_cycle", err, map[string]interface{}{"campaign_id": campaign.ID})
		return nil
	}
	return accounts
}

func (w *SendCycleWorker) pauseCampaign(campaignID uint) {
	if err := w.DB.Model(&models.Campaign{}).Where("id = ?", campaignID).
		Update("status", models.CampaignStatusPaused).Error; err != nil {
		utils.LogError("pause_campaign", err, map[string]interface{}{"campaign_id": campaignID})
	}
}
