package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() CampaignSettings {
	return CampaignSettings{
		StartTime:          "10:00",
		WorkingHoursStart:  "09:00",
		WorkingHoursEnd:    "18:00",
		DailyLimit:         50,
		ThrottleMinMinutes: 2,
		ThrottleMaxMinutes: 5,
		StepDelays:         []int{0, 2, 3},
	}
}

func TestValidateCampaignSettingsOK(t *testing.T) {
	require.NoError(t, ValidateCampaignSettings(validSettings()))

	// StartTime is optional
	s := validSettings()
	s.StartTime = ""
	require.NoError(t, ValidateCampaignSettings(s))
}

func TestValidateCampaignSettingsBadTime(t *testing.T) {
	s := validSettings()
	s.WorkingHoursStart = "25:00"
	assert.Error(t, ValidateCampaignSettings(s))

	s = validSettings()
	s.StartTime = "9am"
	assert.Error(t, ValidateCampaignSettings(s))
}

func TestValidateCampaignSettingsLimits(t *testing.T) {
	s := validSettings()
	s.DailyLimit = 0
	assert.Error(t, ValidateCampaignSettings(s))

	s = validSettings()
	s.ThrottleMinMinutes = 0
	assert.Error(t, ValidateCampaignSettings(s))

	s = validSettings()
	s.ThrottleMinMinutes = 6
	assert.Error(t, ValidateCampaignSettings(s), "min above max must fail")

	s = validSettings()
	s.StepDelays = []int{0, -1}
	assert.Error(t, ValidateCampaignSettings(s))
}

func TestValidateStruct(t *testing.T) {
	type payload struct {
		Email string `validate:"required,email"`
		Kind  string `validate:"required,oneof=google zoho"`
	}

	require.NoError(t, ValidateStruct(payload{Email: "a@b.co", Kind: "zoho"}))
	assert.Error(t, ValidateStruct(payload{Email: "not-an-email", Kind: "zoho"}))
	assert.Error(t, ValidateStruct(payload{Email: "a@b.co", Kind: "yahoo"}))
}
