package utils

import (
	"fmt"
	"sync"
	"time"

	"coldpilot/models"

	"gorm.io/gorm"
)

// CampaignAssigner distributes unassigned pending leads across a campaign's
// active accounts and schedules their first send. At most one assignment pass
// runs per campaign at a time; a call arriving mid-pass requests a rerun after
// the current pass completes, so late-added leads are always picked up.
type CampaignAssigner struct {
	DB *gorm.DB

	mu      sync.Mutex
	pending map[uint]*assignState
}

type assignState struct {
	rerun bool
}

func NewCampaignAssigner(db *gorm.DB) *CampaignAssigner {
	return &CampaignAssigner{
		DB:      db,
		pending: make(map[uint]*assignState),
	}
}

// AssignLeads runs an assignment pass for the campaign. Idempotent: leads that
// already carry an account are untouched. Failures are absorbed and logged.
func (ca *CampaignAssigner) AssignLeads(campaignID uint) {
	ca.mu.Lock()
	if st, ok := ca.pending[campaignID]; ok {
		st.rerun = true
		ca.mu.Unlock()
		return
	}
	st := &assignState{}
	ca.pending[campaignID] = st
	ca.mu.Unlock()

	for {
		if err := ca.assignAndSchedule(campaignID, time.Now()); err != nil {
			LogError("lead_assignment", err, map[string]interface{}{
				"campaign_id": campaignID,
			})
		}

		ca.mu.Lock()
		if st.rerun {
			st.rerun = false
			ca.mu.Unlock()
			continue
		}
		delete(ca.pending, campaignID)
		ca.mu.Unlock()
		return
	}
}

func (ca *CampaignAssigner) assignAndSchedule(campaignID uint, now time.Time) error {
	var campaign models.Campaign
	err := ca.DB.Preload("Sequence.Steps").Preload("CampaignAccounts").
		First(&campaign, campaignID).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if campaign.Status != models.CampaignStatusActive {
		return nil
	}
	if campaign.Sequence == nil || len(campaign.Sequence.Steps) == 0 {
		return nil
	}

	accountIDs := ca.activeAccountIDs(campaign.CampaignAccounts)
	if len(accountIDs) == 0 {
		return nil
	}

	var unassigned []models.Lead
	err = ca.DB.Where("campaign_id = ? AND assigned_account_id IS NULL AND status = ?",
		campaign.ID, models.LeadStatusPending).
		Order("order_index asc, created_at asc").
		Find(&unassigned).Error
	if err != nil {
		return fmt.Errorf("load unassigned leads: %w", err)
	}
	if len(unassigned) == 0 {
		return nil
	}

	baseDate := now
	if campaign.StartTime != "" {
		baseDate = NextMSKOccurrence(campaign.StartTime, now)
	}

	throttleMin := campaign.Sequence.ThrottleMinMinutes
	throttleMax := campaign.Sequence.ThrottleMaxMinutes
	if throttleMin < 1 {
		throttleMin = 2
	}
	if throttleMax < 1 {
		throttleMax = 5
	}

	// Round-robin across accounts; each account's queue is staggered by
	// human-like gaps from the shared base date.
	offsetByAccount := make(map[uint]time.Duration)
	for i, lead := range unassigned {
		accountID := accountIDs[i%len(accountIDs)]

		offset := offsetByAccount[accountID]
		nextSendAt := baseDate.Add(offset)
		offsetByAccount[accountID] = offset + time.Duration(HumanLikeThrottleSeconds(throttleMin, throttleMax))*time.Second

		err := ca.DB.Model(&models.Lead{}).Where("id = ?", lead.ID).
			Updates(map[string]interface{}{
				"assigned_account_id": accountID,
				"next_send_at":        nextSendAt,
			}).Error
		if err != nil {
			return fmt.Errorf("assign lead %d: %w", lead.ID, err)
		}
	}

	LogEvent("leads_assigned", map[string]interface{}{
		"campaign_id": campaign.ID,
		"count":       len(unassigned),
	})
	return nil
}

// activeAccountIDs resolves the campaign's pool to active accounts, preserving
// pool order so assignment stays deterministic.
func (ca *CampaignAssigner) activeAccountIDs(pool []models.CampaignAccount) []uint {
	ids := make([]uint, 0, len(pool))
	for _, link := range pool {
		ids = append(ids, link.AccountID)
	}
	if len(ids) == 0 {
		return nil
	}

	var active []models.EmailAccount
	if err := ca.DB.Where("id IN ? AND is_active = ?", ids, true).Find(&active).Error; err != nil {
		return nil
	}
	activeSet := make(map[uint]bool, len(active))
	for _, a := range active {
		activeSet[a.ID] = true
	}

	out := make([]uint, 0, len(active))
	for _, id := range ids {
		if activeSet[id] {
			out = append(out, id)
		}
	}
	return out
}
