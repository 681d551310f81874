package controller

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"coldpilot/models"
	"coldpilot/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

type AccountController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewAccountController(db *gorm.DB, logger *log.Logger) *AccountController {
	return &AccountController{DB: db, Logger: logger}
}

type accountInput struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name"`
	AccountType string `json:"account_type" validate:"required,oneof=google zoho"`
	DailyLimit  int    `json:"daily_limit"`

	// zoho
	SMTPPassword   string `json:"smtp_password"`
	ZohoProServers bool   `json:"zoho_pro_servers"`

	// google
	OAuthRefreshToken string `json:"oauth_refresh_token"`
	OAuthAccessToken  string `json:"oauth_access_token"`
}

// CreateAccount registers a sending mailbox. Credentials are encrypted before
// they touch the database.
func (ac *AccountController) CreateAccount(c *fiber.Ctx) error {
	var input accountInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if checkmail.ValidateFormat(email) != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid email address",
		})
	}

	account := models.EmailAccount{
		Email:          email,
		DisplayName:    input.DisplayName,
		AccountType:    input.AccountType,
		DailyLimit:     input.DailyLimit,
		ZohoProServers: input.ZohoProServers,
		IsActive:       true,
	}
	if account.DailyLimit == 0 {
		account.DailyLimit = 50
	}

	if err := ac.applyCredentials(&account, &input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := ac.DB.Create(&account).Error; err != nil {
		ac.Logger.Printf("Failed to create account %s: %v", email, err)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Account already exists or could not be created",
		})
	}

	account.Sanitize()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Account created successfully",
		"account": account,
	})
}

// applyCredentials encrypts and stores whichever credential set the account
// type requires
func (ac *AccountController) applyCredentials(account *models.EmailAccount, input *accountInput) error {
	switch account.AccountType {
	case models.AccountTypeZoho:
		if input.SMTPPassword == "" {
			return fiber.NewError(fiber.StatusBadRequest, "smtp_password is required for zoho accounts")
		}
		encrypted, err := utils.Encrypt(input.SMTPPassword)
		if err != nil {
			return err
		}
		account.SMTPPasswordEncrypted = encrypted
	case models.AccountTypeGoogle:
		if input.OAuthRefreshToken == "" {
			return fiber.NewError(fiber.StatusBadRequest, "oauth_refresh_token is required for google accounts")
		}
		token := oauth2.Token{
			AccessToken:  input.OAuthAccessToken,
			RefreshToken: input.OAuthRefreshToken,
			TokenType:    "Bearer",
			Expiry:       time.Now(),
		}
		raw, err := json.Marshal(&token)
		if err != nil {
			return err
		}
		encrypted, err := utils.Encrypt(string(raw))
		if err != nil {
			return err
		}
		account.OAuthTokensEncrypted = encrypted
	}
	return nil
}

// GetAccounts lists all accounts without credential fields
func (ac *AccountController) GetAccounts(c *fiber.Ctx) error {
	var accounts []models.EmailAccount
	if err := ac.DB.Order("created_at desc").Find(&accounts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch accounts",
		})
	}
	for i := range accounts {
		accounts[i].Sanitize()
	}
	return c.JSON(accounts)
}

// UpdateAccount changes settings and optionally rotates credentials
func (ac *AccountController) UpdateAccount(c *fiber.Ctx) error {
	accountID := c.Params("id")

	var account models.EmailAccount
	if err := ac.DB.First(&account, accountID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Account not found",
		})
	}

	var input struct {
		DisplayName    *string `json:"display_name"`
		DailyLimit     *int    `json:"daily_limit"`
		IsActive       *bool   `json:"is_active"`
		SMTPPassword   string  `json:"smtp_password"`
		ZohoProServers *bool   `json:"zoho_pro_servers"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	updates := map[string]interface{}{}
	if input.DisplayName != nil {
		updates["display_name"] = *input.DisplayName
	}
	if input.DailyLimit != nil {
		if *input.DailyLimit < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "daily_limit must be at least 1",
			})
		}
		updates["daily_limit"] = *input.DailyLimit
	}
	if input.IsActive != nil {
		updates["is_active"] = *input.IsActive
	}
	if input.ZohoProServers != nil {
		updates["zoho_pro_servers"] = *input.ZohoProServers
	}
	if input.SMTPPassword != "" {
		encrypted, err := utils.Encrypt(input.SMTPPassword)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to encrypt credentials",
			})
		}
		updates["smtp_password_encrypted"] = encrypted
	}
	if len(updates) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Nothing to update",
		})
	}

	if err := ac.DB.Model(&models.EmailAccount{}).Where("id = ?", account.ID).
		Updates(updates).Error; err != nil {
		ac.Logger.Printf("Failed to update account %d: %v", account.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update account",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Account updated successfully",
	})
}

// DeleteAccount removes an account and detaches it from campaigns. Leads it
// was assigned to fall back to unassigned and get replanned on demand.
func (ac *AccountController) DeleteAccount(c *fiber.Ctx) error {
	accountID := c.Params("id")

	var account models.EmailAccount
	if err := ac.DB.First(&account, accountID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Account not found",
		})
	}

	err := ac.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", account.ID).
			Delete(&models.CampaignAccount{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Lead{}).
			Where("assigned_account_id = ? AND status IN ?",
				account.ID, []string{models.LeadStatusPending, models.LeadStatusSent}).
			Updates(map[string]interface{}{
				"assigned_account_id": nil,
				"next_send_at":        nil,
			}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.EmailAccount{}, account.ID).Error
	})
	if err != nil {
		ac.Logger.Printf("Failed to delete account %d: %v", account.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete account",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Account deleted successfully",
	})
}
