package contractor

import (
	"context"
	"fmt"
	"strings"

	"repairflow/apperr"
	"repairflow/auth"
)

// Store abstracts repository operations for the service.
type Store interface {
	GetByID(ctx context.Context, userID int64) (Profile, error)
	Upsert(ctx context.Context, p Profile) (Profile, error)
	ListEligible(ctx context.Context, filters Filters) ([]Profile, error)
}

// Service exposes business-level contractor operations.
type Service struct {
	repo Store
}

// NewService builds a Service using the provided repository.
func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

// SaveProfile writes the acting contractor's own profile.
func (s *Service) SaveProfile(ctx context.Context, actor auth.Actor, p Profile) (Profile, error) {
	if err := auth.Authorize(actor, auth.ActionProfileEditSelf); err != nil {
		return Profile{}, err
	}
	if p.ExperienceYears < 0 {
		return Profile{}, fmt.Errorf("contractor: experience_years must not be negative: %w", apperr.ErrPreconditionFailed)
	}
	p.UserID = actor.ID
	p.FullName = strings.TrimSpace(p.FullName)
	p.Phone = strings.TrimSpace(p.Phone)
	p.City = strings.TrimSpace(p.City)
	p.Specialization = strings.TrimSpace(p.Specialization)
	return s.repo.Upsert(ctx, p)
}

// Get returns a profile to its owner or to staff allowed to review contractors.
func (s *Service) Get(ctx context.Context, actor auth.Actor, userID int64) (Profile, error) {
	if !actor.Can(auth.ActionContractorViewAny) {
		if !actor.Can(auth.ActionProfileEditSelf) || actor.ID != userID {
			return Profile{}, fmt.Errorf("contractor: view profile %d: %w", userID, apperr.ErrAuthorizationDenied)
		}
	}
	return s.repo.GetByID(ctx, userID)
}

// ListEligible returns the verified candidate pool for assignment.
func (s *Service) ListEligible(ctx context.Context, actor auth.Actor, filters Filters) ([]Profile, error) {
	if err := auth.Authorize(actor, auth.ActionContractorViewAny); err != nil {
		return nil, err
	}
	return s.repo.ListEligible(ctx, filters)
}
