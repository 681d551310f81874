package utils

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct validates a request payload against its struct tags
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var errors []string
	for _, err := range err.(validator.ValidationErrors) {
		field := strings.ToLower(err.Field())
		tag := err.Tag()
		param := err.Param()

		switch tag {
		case "required":
			errors = append(errors, field+" is required")
		case "min":
			errors = append(errors, field+" must be at least "+param)
		case "max":
			errors = append(errors, field+" must be at most "+param)
		case "email":
			errors = append(errors, field+" must be a valid email")
		case "oneof":
			errors = append(errors, field+" must be one of: "+param)
		default:
			errors = append(errors, field+" is invalid")
		}
	}

	return fmt.Errorf(strings.Join(errors, ", "))
}

// ValidateTimeField checks an HH:mm time string. Empty strings pass since the
// field is optional.
func ValidateTimeField(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	if _, _, err := ParseHHMM(value); err != nil {
		return fmt.Errorf("%s: invalid format, use HH:mm (e.g. 09:00)", fieldName)
	}
	return nil
}

// CampaignSettings carries the user-editable scheduling fields for validation
type CampaignSettings struct {
	StartTime          string
	WorkingHoursStart  string
	WorkingHoursEnd    string
	DailyLimit         int
	ThrottleMinMinutes int
	ThrottleMaxMinutes int
	StepDelays         []int
}

// ValidateCampaignSettings enforces the scheduling invariants: well-formed
// HH:mm fields, dailyLimit >= 1, 1 <= throttle min <= max, step delays >= 0.
func ValidateCampaignSettings(s CampaignSettings) error {
	if err := ValidateTimeField(s.StartTime, "start_time"); err != nil {
		return err
	}
	if err := ValidateTimeField(s.WorkingHoursStart, "working_hours_start"); err != nil {
		return err
	}
	if err := ValidateTimeField(s.WorkingHoursEnd, "working_hours_end"); err != nil {
		return err
	}
	if s.DailyLimit < 1 {
		return fmt.Errorf("daily limit must be at least 1")
	}
	if s.ThrottleMinMinutes < 1 {
		return fmt.Errorf("throttle min must be at least 1 minute")
	}
	if s.ThrottleMaxMinutes < 1 {
		return fmt.Errorf("throttle max must be at least 1 minute")
	}
	if s.ThrottleMinMinutes > s.ThrottleMaxMinutes {
		return fmt.Errorf("throttle min cannot be greater than throttle max")
	}
	for i, d := range s.StepDelays {
		if d < 0 {
			return fmt.Errorf("follow-up %d: delay must be 0 or more days", i)
		}
	}
	return nil
}
