package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// APIKeyPrefix marks plaintext keys issued by this service.
const APIKeyPrefix = "dojo_"

// apiKeySecretLen is the hex length of the random part of a key.
const apiKeySecretLen = 64

// APIKey is a company-scoped credential. Only the hash is persisted.
type APIKey struct {
	ID        string
	CompanyID string
	Name      string
	KeyHash   string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// NewAPIKey creates a new APIKey instance
func NewAPIKey(id, companyID, name, keyHash string, createdAt time.Time) *APIKey {
	return &APIKey{
		ID:        id,
		CompanyID: companyID,
		Name:      name,
		KeyHash:   keyHash,
		CreatedAt: createdAt,
	}
}

// IsRevoked returns true if the API key has been revoked
func (a *APIKey) IsRevoked() bool {
	return a.RevokedAt != nil
}

// ValidateAPIKey validates an APIKey instance
func ValidateAPIKey(a *APIKey) error {
	switch {
	case a == nil:
		return fmt.Errorf("api key cannot be nil")
	case a.ID == "":
		return fmt.Errorf("api key ID is required")
	case a.CompanyID == "":
		return fmt.Errorf("api key CompanyID is required")
	case a.Name == "":
		return fmt.Errorf("api key Name is required")
	case a.KeyHash == "":
		return fmt.Errorf("api key KeyHash is required")
	}
	return nil
}

// IsWellFormedAPIKey reports whether token has the dojo_<64 hex> shape.
// It does not say anything about whether the key exists.
func IsWellFormedAPIKey(token string) bool {
	secret, ok := strings.CutPrefix(token, APIKeyPrefix)
	if !ok || len(secret) != apiKeySecretLen {
		return false
	}
	_, err := hex.DecodeString(secret)
	return err == nil
}
