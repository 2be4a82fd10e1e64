package accounts

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
)

// Service manages the chart of accounts. Balances are never written here.
type Service struct {
	repo   Repository
	cache  *cache.Versioned
	logger *slog.Logger
}

// NewService builds the account service. cache may be nil.
func NewService(repo Repository, cache *cache.Versioned, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// List returns the company's accounts ordered by code, served from cache when warm.
func (s *Service) List(ctx context.Context, scope shared.Scope) ([]Account, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	key, err := s.cache.BuildKey(ctx, scope.CompanyID, "list")
	if err != nil {
		s.logger.Warn("account cache unavailable", slog.Any("error", err))
		return s.repo.List(ctx, scope.CompanyID)
	}
	var out []Account
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.repo.List(ctx, scope.CompanyID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get loads one account of the caller's company.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (Account, error) {
	if err := scope.Validate(); err != nil {
		return Account{}, err
	}
	return s.repo.Get(ctx, scope.CompanyID, id)
}

// Create adds an account. The parent, when set, must belong to the same company.
func (s *Service) Create(ctx context.Context, scope shared.Scope, input CreateInput) (Account, error) {
	if err := scope.Validate(); err != nil {
		return Account{}, err
	}
	input.Code = strings.TrimSpace(input.Code)
	input.Name = strings.TrimSpace(input.Name)
	if input.Code == "" || input.Name == "" {
		return Account{}, shared.Invalid("code and name required")
	}
	if !input.Type.Valid() {
		return Account{}, shared.Invalid("unknown account type " + string(input.Type))
	}
	normal := input.NormalBalance
	if normal == "" {
		normal = NormalBalanceFor(input.Type)
	}
	if normal != NormalDebit && normal != NormalCredit {
		return Account{}, shared.Invalid("unknown normal balance " + string(normal))
	}
	if input.ParentID != nil {
		if _, err := s.repo.Get(ctx, scope.CompanyID, *input.ParentID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return Account{}, shared.Invalid("parent account not found")
			}
			return Account{}, err
		}
	}
	account, err := s.repo.Insert(ctx, Account{
		CompanyID:     scope.CompanyID,
		Code:          input.Code,
		Name:          input.Name,
		Type:          input.Type,
		NormalBalance: normal,
		ParentID:      input.ParentID,
		IsActive:      true,
	})
	if err != nil {
		return Account{}, err
	}
	s.Invalidate(ctx, scope.CompanyID)
	return account, nil
}

// Reparent moves an account under parentID, rejecting cycles and cross-company parents.
func (s *Service) Reparent(ctx context.Context, scope shared.Scope, id int64, parentID *int64) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if _, err := s.repo.Get(ctx, scope.CompanyID, id); err != nil {
		return err
	}
	seen := map[int64]bool{id: true}
	for next := parentID; next != nil; {
		if seen[*next] {
			return shared.Invalid("account hierarchy would contain a cycle")
		}
		seen[*next] = true
		parent, err := s.repo.Get(ctx, scope.CompanyID, *next)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.Invalid("parent account not found")
			}
			return err
		}
		next = parent.ParentID
	}
	if err := s.repo.UpdateParent(ctx, scope.CompanyID, id, parentID); err != nil {
		return err
	}
	s.Invalidate(ctx, scope.CompanyID)
	return nil
}

// CompanyIDs lists every tenant that owns accounts.
func (s *Service) CompanyIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListCompanyIDs(ctx)
}

// Invalidate drops cached account views for the company.
func (s *Service) Invalidate(ctx context.Context, companyID int64) {
	if err := s.cache.Bump(ctx, companyID); err != nil {
		s.logger.Warn("bump account cache", slog.Int64("company_id", companyID), slog.Any("error", err))
	}
}
