package worker

import (
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"coldpilot/config"
	"coldpilot/models"
	"coldpilot/transport"
	"coldpilot/utils"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, config.MigrateDB(db))
	return db
}

// 15:00 MSK, inside the default 09:00-18:00 window
var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeSend struct {
	to      string
	subject string
	body    string
	opts    *transport.SendOptions
}

type fakeMailer struct {
	sent    []fakeSend
	fail    bool
	inbound []transport.InboundMessage
}

func (f *fakeMailer) Send(account *models.EmailAccount, to, subject, body string, opts *transport.SendOptions) (*transport.SendResult, error) {
	if f.fail {
		return nil, errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, fakeSend{to: to, subject: subject, body: body, opts: opts})
	n := len(f.sent)
	return &transport.SendResult{
		MessageID: fmt.Sprintf("<msg-%d@test>", n),
		ThreadID:  fmt.Sprintf("thread-%d", n),
	}, nil
}

func (f *fakeMailer) FetchThreadMessages(account *models.EmailAccount, sent *models.SentEmail, since time.Time) ([]transport.InboundMessage, error) {
	out := make([]transport.InboundMessage, 0, len(f.inbound))
	for _, m := range f.inbound {
		if m.Timestamp.After(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMailer) ThreadingOptions(account *models.EmailAccount, prevSent *models.SentEmail) (*transport.SendOptions, error) {
	return &transport.SendOptions{
		ThreadID:   prevSent.ThreadID,
		InReplyTo:  prevSent.MessageID,
		References: prevSent.MessageID,
	}, nil
}

func newTestWorker(db *gorm.DB, mailer *fakeMailer) *SendCycleWorker {
	w := NewSendCycleWorker(
		db,
		transport.Registry{models.AccountTypeZoho: mailer},
		utils.NewCampaignCompletion(db),
		log.New(io.Discard, "", 0),
		time.Second,
	)
	w.now = func() time.Time { return testNow }
	w.sleep = func(time.Duration) {}
	return w
}

func seedCampaign(t *testing.T, db *gorm.DB, stepCount int) *models.Campaign {
	t.Helper()
	campaign := models.Campaign{
		Name:       "test",
		Status:     models.CampaignStatusActive,
		DailyLimit: 50,
	}
	require.NoError(t, db.Create(&campaign).Error)

	sequence := models.Sequence{
		CampaignID:         campaign.ID,
		ThrottleMinMinutes: 2,
		ThrottleMaxMinutes: 5,
	}
	require.NoError(t, db.Create(&sequence).Error)
	for i := 0; i < stepCount; i++ {
		require.NoError(t, db.Create(&models.SequenceStep{
			SequenceID:             sequence.ID,
			StepOrder:              i,
			SubjectTemplate:        fmt.Sprintf("Step %d for {{Name}}", i),
			BodyTemplate:           "Hi {{Name}}",
			DelayAfterPreviousDays: 2,
		}).Error)
	}
	return &campaign
}

func seedAccount(t *testing.T, db *gorm.DB, email string) *models.EmailAccount {
	t.Helper()
	account := models.EmailAccount{
		Email:       email,
		AccountType: models.AccountTypeZoho,
		DailyLimit:  50,
		IsActive:    true,
	}
	require.NoError(t, db.Create(&account).Error)
	return &account
}

func attachAccount(t *testing.T, db *gorm.DB, campaignID, accountID uint) {
	t.Helper()
	require.NoError(t, db.Create(&models.CampaignAccount{
		CampaignID: campaignID,
		AccountID:  accountID,
	}).Error)
}

func seedDueLead(t *testing.T, db *gorm.DB, campaignID, accountID uint, email string) *models.Lead {
	t.Helper()
	due := testNow.Add(-time.Minute)
	lead := models.Lead{
		CampaignID:        campaignID,
		Email:             email,
		Data:              map[string]string{"Name": "John"},
		Status:            models.LeadStatusPending,
		AssignedAccountID: &accountID,
		NextSendAt:        &due,
	}
	require.NoError(t, db.Create(&lead).Error)
	return &lead
}

func TestSendCycleSendsOneLeadPerAccount(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	campaign := seedCampaign(t, db, 2)
	account := seedAccount(t, db, "sender@example.com")
	attachAccount(t, db, campaign.ID, account.ID)

	lead := seedDueLead(t, db, campaign.ID, account.ID, "first@example.com")
	seedDueLead(t, db, campaign.ID, account.ID, "second@example.com")

	newTestWorker(db, mailer).RunSendCycle()

	// One account, one tick: exactly one send
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "first@example.com", mailer.sent[0].to)
	assert.Equal(t, "Step 0 for John", mailer.sent[0].subject)
	assert.Equal(t, "Hi John", mailer.sent[0].body)

	var sent models.SentEmail
	require.NoError(t, db.Where("lead_id = ?", lead.ID).First(&sent).Error)
	assert.Equal(t, 0, sent.StepOrder)
	assert.Equal(t, models.LeadStatusSent, sent.Status)
	assert.Equal(t, "<msg-1@test>", sent.MessageID)

	var reloaded models.Lead
	require.NoError(t, db.First(&reloaded, lead.ID).Error)
	assert.Equal(t, 1, reloaded.CurrentStep)
	assert.Equal(t, models.LeadStatusSent, reloaded.Status)
	require.NotNil(t, reloaded.NextSendAt)
	assert.True(t, reloaded.NextSendAt.Equal(testNow.Add(48*time.Hour)))

	var reloadedAccount models.EmailAccount
	require.NoError(t, db.First(&reloadedAccount, account.ID).Error)
	assert.Equal(t, 1, reloadedAccount.SentToday)
}

func TestSendCycleNeverDoubleSendsAStep(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	campaign := seedCampaign(t, db, 2)
	account := seedAccount(t, db, "sender@example.com")
	attachAccount(t, db, campaign.ID, account.ID)
	lead := seedDueLead(t, db, campaign.ID, account.ID, "first@example.com")

	require.NoError(t, db.Create(&models.SentEmail{
		LeadID:     lead.ID,
		StepOrder:  0,
		AccountID:  account.ID,
		CampaignID: campaign.ID,
		SentAt:     testNow.Add(-time.Hour),
		Status:     models.LeadStatusSent,
	}).Error)

	newTestWorker(db, mailer).RunSendCycle()

	assert.Empty(t, mailer.sent)
	var count int64
	db.Model(&models.SentEmail{}).Where("lead_id = ? AND step_order = ?", lead.ID, 0).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSendCycleRespectsWorkingHours(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	campaign := seedCampaign(t, db, 1)
	// 15:00 MSK falls outside a 09:00-10:00 window
	require.NoError(t, db.Model(campaign).Updates(map[string]interface{}{
		"working_hours_start": "09:00",
		"working_hours_end":   "10:00",
	}).Error)
	account := seedAccount(t, db, "sender@example.com")
	attachAccount(t, db, campaign.ID, account.ID)
	seedDueLead(t, db, campaign.ID, account.ID, "first@example.com")

	newTestWorker(db, mailer).RunSendCycle()

	assert.Empty(t, mailer.sent)
}

func TestSendCyclePausesAtCampaignDailyLimit(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	campaign := seedCampaign(t, db, 1)
	require.NoError(t, db.Model(campaign).Update("daily_limit", 1).Error)
	account := seedAccount(t, db, "sender@example.com")
	attachAccount(t, db, campaign.ID, account.ID)
	lead := seedDueLead(t, db, campaign.ID, account.ID, "first@example.com")

	require.NoError(t, db.Create(&models.SentEmail{
		LeadID:     lead.ID + 1000,
		StepOrder:  0,
		AccountID:  account.ID,
		CampaignID: campaign.ID,
		SentAt:     testNow.Add(-2 * time.Hour),
		Status:     models.LeadStatusSent,
	}).Error)

	newTestWorker(db, mailer).RunSendCycle()

	assert.Empty(t, mailer.sent)
	var reloaded models.Campaign
	require.NoError(t, db.First(&reloaded, campaign.ID).Error)
	assert.Equal(t, models.CampaignStatusPaused, reloaded.Status)
}

func TestSendCyclePausesWhenAllAccountsAtLimit(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	campaign := seedCampaign(t, db, 1)
	account := seedAccount(t, db, "sender@example.com")
	reset := testNow.Add(12 * time.Hour)
	require.NoError(t, db.Model(account).Updates(map[string]interface{}{
		"sent_today":     50,
		"limit_reset_at": reset,
	}).Error)
	attachAccount(t, db, campaign.ID, account.ID)
	seedDueLead(t, db, campaign.ID, account.ID, "first@example.com")

	newTestWorker(db, mailer).RunSendCycle()

	assert.Empty(t, mailer.sent)
	var reloaded models.Campaign
	require.NoError(t, db.First(&reloaded, campaign.ID).Error)
	assert.Equal(t, models.CampaignStatusPaused, reloaded.Status)
}

func TestSendCycleResetsAccountLimitAfterWindow(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	campaign := seedCampaign(t, db, 1)
	account := seedAccount(t, db, "sender@example.com")
	expired := testNow.Add(-time.Hour)
	require.NoError(t, db.Model(account).Updates(map[string]interface{}{
		"sent_today":     50,
		"limit_reset_at": expired,
	}).Error)
	attachAccount(t, db, campaign.ID, account.ID)
	seedDueLead(t, db, campaign.ID, account.ID, "first@example.com")

	newTestWorker(db, mailer).RunSendCycle()

	require.Len(t, mailer.sent, 1)
	var reloaded models.EmailAccount
	require.NoError(t, db.First(&reloaded, account.ID).Error)
	assert.Equal(t, 1, reloaded.SentToday)
}

func TestSendCycleFailedSendLeavesLeadUntouched(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{fail: true}
	campaign := seedCampaign(t, db, 1)
	account := seedAccount(t, db, "sender@example.com")
	attachAccount(t, db, campaign.ID, account.ID)
	lead := seedDueLead(t, db, campaign.ID, account.ID, "first@example.com")

	newTestWorker(db, mailer).RunSendCycle()

	var count int64
	db.Model(&models.SentEmail{}).Count(&count)
	assert.Equal(t, int64(0), count)

	var reloaded models.Lead
	require.NoError(t, db.First(&reloaded, lead.ID).Error)
	assert.Equal(t, models.LeadStatusPending, reloaded.Status)
	assert.Equal(t, 0, reloaded.CurrentStep)
	require.NotNil(t, reloaded.NextSendAt)
	assert.True(t, reloaded.NextSendAt.Equal(*lead.NextSendAt), "failed send must not move the schedule")
}

func TestSendCycleThreadsFollowUps(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	campaign := seedCampaign(t, db, 2)
	account := seedAccount(t, db, "sender@example.com")
	attachAccount(t, db, campaign.ID, account.ID)
	lead := seedDueLead(t, db, campaign.ID, account.ID, "first@example.com")
	require.NoError(t, db.Model(lead).Updates(map[string]interface{}{
		"current_step": 1,
		"status":       models.LeadStatusSent,
	}).Error)

	require.NoError(t, db.Create(&models.SentEmail{
		LeadID:     lead.ID,
		StepOrder:  0,
		AccountID:  account.ID,
		CampaignID: campaign.ID,
		MessageID:  "<step0@test>",
		ThreadID:   "thread-0",
		SentAt:     testNow.Add(-72 * time.Hour),
		Status:     models.LeadStatusSent,
	}).Error)

	newTestWorker(db, mailer).RunSendCycle()

	require.Len(t, mailer.sent, 1)
	require.NotNil(t, mailer.sent[0].opts)
	assert.Equal(t, "<step0@test>", mailer.sent[0].opts.InReplyTo)
	assert.Equal(t, "thread-0", mailer.sent[0].opts.ThreadID)
}

func seedScheduledLead(t *testing.T, db *gorm.DB, campaignID, accountID uint, email string, at time.Time) *models.Lead {
	t.Helper()
	lead := models.Lead{
		CampaignID:        campaignID,
		Email:             email,
		Data:              map[string]string{"Name": "John"},
		Status:            models.LeadStatusPending,
		AssignedAccountID: &accountID,
		NextSendAt:        &at,
	}
	require.NoError(t, db.Create(&lead).Error)
	return &lead
}

func TestSendCycleReschedulesSoonPendingLeadForward(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	campaign := seedCampaign(t, db, 2)
	account := seedAccount(t, db, "sender@example.com")
	attachAccount(t, db, campaign.ID, account.ID)
	seedDueLead(t, db, campaign.ID, account.ID, "due@example.com")
	soon := seedScheduledLead(t, db, campaign.ID, account.ID, "soon@example.com", testNow.Add(90*time.Second))
	far := seedScheduledLead(t, db, campaign.ID, account.ID, "far@example.com", testNow.Add(2*time.Hour))

	newTestWorker(db, mailer).RunSendCycle()

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "due@example.com", mailer.sent[0].to)

	// The soonest queued lead moves past the post-send throttle gap, which is
	// at least the 2 minute sequence minimum.
	var reloadedSoon models.Lead
	require.NoError(t, db.First(&reloadedSoon, soon.ID).Error)
	require.NotNil(t, reloadedSoon.NextSendAt)
	assert.True(t, reloadedSoon.NextSendAt.After(testNow.Add(119*time.Second)),
		"next queued lead must be pushed past the throttle gap")

	var reloadedFar models.Lead
	require.NoError(t, db.First(&reloadedFar, far.ID).Error)
	require.NotNil(t, reloadedFar.NextSendAt)
	assert.True(t, reloadedFar.NextSendAt.Equal(testNow.Add(2*time.Hour)),
		"leads beyond the soonest stay where they are")
}

func TestSendCycleNeverPullsScheduledLeadEarlier(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	campaign := seedCampaign(t, db, 2)
	account := seedAccount(t, db, "sender@example.com")
	attachAccount(t, db, campaign.ID, account.ID)
	seedDueLead(t, db, campaign.ID, account.ID, "due@example.com")
	future := seedScheduledLead(t, db, campaign.ID, account.ID, "future@example.com", testNow.Add(2*time.Hour))

	newTestWorker(db, mailer).RunSendCycle()

	require.Len(t, mailer.sent, 1)

	// Already past now+throttle, so the schedule is left alone.
	var reloaded models.Lead
	require.NoError(t, db.First(&reloaded, future.ID).Error)
	require.NotNil(t, reloaded.NextSendAt)
	assert.True(t, reloaded.NextSendAt.Equal(testNow.Add(2*time.Hour)),
		"a later-scheduled lead is never pulled earlier")
}

func TestSendCycleIgnoresTerminalLeads(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	campaign := seedCampaign(t, db, 2)
	account := seedAccount(t, db, "sender@example.com")
	attachAccount(t, db, campaign.ID, account.ID)
	lead := seedDueLead(t, db, campaign.ID, account.ID, "first@example.com")
	require.NoError(t, db.Model(lead).Update("status", models.LeadStatusReplied).Error)

	newTestWorker(db, mailer).RunSendCycle()

	assert.Empty(t, mailer.sent)
}
