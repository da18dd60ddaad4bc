package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
)

type CompanyRepository interface {
	Create(ctx context.Context, c *domain.Company) error
	GetByID(ctx context.Context, id string) (*domain.Company, error)
	GetByName(ctx context.Context, name string) (*domain.Company, error)
	List(ctx context.Context) ([]*domain.Company, error)
}

type APIKeyRepository interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	GetByCompanyID(ctx context.Context, companyID string) ([]*domain.APIKey, error)
	Revoke(ctx context.Context, id string) error
}

// AuthService issues companies and API keys and resolves a bearer token
// to its company.
type AuthService struct {
	companyRepo CompanyRepository
	keyRepo     APIKeyRepository
	uuidGen     UUIDGenerator
}

func NewAuthService(companyRepo CompanyRepository, keyRepo APIKeyRepository, uuidGen UUIDGenerator) *AuthService {
	if uuidGen == nil {
		uuidGen = &DefaultUUIDGenerator{}
	}
	return &AuthService{
		companyRepo: companyRepo,
		keyRepo:     keyRepo,
		uuidGen:     uuidGen,
	}
}

func (s *AuthService) CreateCompany(ctx context.Context, name string) (*domain.Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "company name is required")
	}

	company := domain.NewCompany(s.uuidGen.NewString(), name, time.Now().UTC())
	if err := domain.ValidateCompany(company); err != nil {
		return nil, err
	}

	if err := s.companyRepo.Create(ctx, company); err != nil {
		return nil, err
	}

	return company, nil
}

func (s *AuthService) GetCompanyByName(ctx context.Context, name string) (*domain.Company, error) {
	return s.companyRepo.GetByName(ctx, name)
}

func (s *AuthService) ListCompanies(ctx context.Context) ([]*domain.Company, error) {
	return s.companyRepo.List(ctx)
}

// CreateAPIKey generates a new token for companyID. The token is returned
// once; only its hash is stored.
func (s *AuthService) CreateAPIKey(ctx context.Context, companyID, name string) (string, error) {
	token, err := generateAPIToken()
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate API key", err)
	}
	if err := s.CreateAPIKeyWithToken(ctx, companyID, name, token); err != nil {
		return "", err
	}
	return token, nil
}

// CreateAPIKeyWithToken registers a caller-supplied token, used to
// bootstrap a known key at first start.
func (s *AuthService) CreateAPIKeyWithToken(ctx context.Context, companyID, name, token string) error {
	if companyID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "company ID is required")
	}
	if name == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "API key name is required")
	}
	if !domain.IsWellFormedAPIKey(token) {
		return domain.NewDomainError(domain.ErrCodeValidation, "invalid API key format (expected "+domain.APIKeyPrefix+"<64 hex chars>)")
	}

	if _, err := s.companyRepo.GetByID(ctx, companyID); err != nil {
		return err
	}

	key := domain.NewAPIKey(s.uuidGen.NewString(), companyID, name, hashToken(token), time.Now().UTC())
	if err := domain.ValidateAPIKey(key); err != nil {
		return err
	}

	return s.keyRepo.Create(ctx, key)
}

// ValidateAPIKey returns the company the token belongs to.
func (s *AuthService) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	if !domain.IsWellFormedAPIKey(token) {
		return "", domain.ErrInvalidAPIKey
	}

	key, err := s.keyRepo.GetByHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrAPIKeyNotFound) {
			return "", domain.ErrInvalidAPIKey
		}
		return "", err
	}

	if key.IsRevoked() {
		return "", domain.ErrAPIKeyRevoked
	}

	return key.CompanyID, nil
}

func (s *AuthService) RevokeAPIKey(ctx context.Context, keyID string) error {
	if keyID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "API key ID is required")
	}

	return s.keyRepo.Revoke(ctx, keyID)
}

func (s *AuthService) ListAPIKeys(ctx context.Context, companyID string) ([]*domain.APIKey, error) {
	if companyID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "company ID is required")
	}

	return s.keyRepo.GetByCompanyID(ctx, companyID)
}

func generateAPIToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return domain.APIKeyPrefix + hex.EncodeToString(bytes), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
