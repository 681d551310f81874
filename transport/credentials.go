package transport

import (
	"encoding/json"
	"fmt"

	"coldpilot/models"
	"coldpilot/utils"

	"golang.org/x/oauth2"
)

// CredentialStore decrypts account secrets on demand. The engine never holds
// plaintext credentials beyond a single transport call.
type CredentialStore interface {
	SMTPPassword(account *models.EmailAccount) (string, error)
	OAuthToken(account *models.EmailAccount) (*oauth2.Token, error)
}

// EncryptedCredentialStore reads the encrypted columns on EmailAccount
type EncryptedCredentialStore struct{}

func (EncryptedCredentialStore) SMTPPassword(account *models.EmailAccount) (string, error) {
	if account.SMTPPasswordEncrypted == "" {
		return "", fmt.Errorf("no SMTP password for account %s", account.Email)
	}
	password, err := utils.Decrypt(account.SMTPPasswordEncrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt SMTP password for %s: %w", account.Email, err)
	}
	return password, nil
}

func (EncryptedCredentialStore) OAuthToken(account *models.EmailAccount) (*oauth2.Token, error) {
	if account.OAuthTokensEncrypted == "" {
		return nil, fmt.Errorf("no OAuth tokens for account %s", account.Email)
	}
	raw, err := utils.Decrypt(account.OAuthTokensEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt OAuth tokens for %s: %w", account.Email, err)
	}
	var token oauth2.Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, fmt.Errorf("parse OAuth tokens for %s: %w", account.Email, err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token for account %s", account.Email)
	}
	return &token, nil
}
