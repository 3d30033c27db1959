package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/homeglow/server/internal/module/credits"
	"go.uber.org/zap"
)

const grantSource = "checkout"

// Granter credits purchased bundles.
type Granter interface {
	Grant(ctx context.Context, req credits.GrantRequest) (balance int, applied bool, err error)
}

// Service sells plans and fulfils paid checkouts.
type Service struct {
	repo     Repository
	checkout Checkout
	granter  Granter
	logger   *zap.Logger
}

// NewService creates a new billing service.
func NewService(repo Repository, checkout Checkout, granter Granter, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		checkout: checkout,
		granter:  granter,
		logger:   logger,
	}
}

// SeedCatalog writes the static plan catalog.
func (s *Service) SeedCatalog(ctx context.Context) error {
	return s.repo.UpsertPlans(ctx, Catalog())
}

// ListPlans returns the plans on sale.
func (s *Service) ListPlans(ctx context.Context) ([]*Plan, error) {
	return s.repo.ListActivePlans(ctx)
}

// StartCheckout begins a purchase of planID for the user.
func (s *Service) StartCheckout(ctx context.Context, userID uuid.UUID, email, planID string) (*CheckoutSession, error) {
	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, ErrPlanInactive
	}

	cs, err := s.checkout.CreateSession(ctx, &CheckoutRequest{
		UserID: userID,
		Email:  email,
		Plan:   plan,
	})
	if err != nil {
		if !errors.Is(err, ErrCheckoutFailed) {
			err = fmt.Errorf("%w: %w", ErrCheckoutFailed, err)
		}
		return nil, err
	}

	s.logger.Info("checkout started",
		zap.String("user_id", userID.String()),
		zap.String("plan_id", plan.ID),
		zap.String("provider", s.checkout.Name()),
		zap.String("session_id", cs.ID),
	)
	return cs, nil
}

// FulfillCheckout grants the credits of a paid checkout. Redelivered
// sessions are granted once.
func (s *Service) FulfillCheckout(ctx context.Context, done *CompletedCheckout) error {
	plan, err := s.repo.GetPlan(ctx, done.PlanID)
	if err != nil {
		return err
	}

	balance, applied, err := s.granter.Grant(ctx, credits.GrantRequest{
		UserID:    done.UserID,
		Amount:    plan.Credits,
		Source:    grantSource,
		SourceRef: done.SessionID,
		Pro:       plan.Pro,
	})
	if err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}

	if !applied {
		s.logger.Info("checkout already fulfilled", zap.String("session_id", done.SessionID))
		return nil
	}
	s.logger.Info("checkout fulfilled",
		zap.String("user_id", done.UserID.String()),
		zap.String("plan_id", plan.ID),
		zap.String("session_id", done.SessionID),
		zap.Int("balance", balance),
	)
	return nil
}
