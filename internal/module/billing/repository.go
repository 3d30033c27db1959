package billing

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the interface for plan data access.
type Repository interface {
	ListActivePlans(ctx context.Context) ([]*Plan, error)
	GetPlan(ctx context.Context, id string) (*Plan, error)
	UpsertPlans(ctx context.Context, plans []*Plan) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new billing repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) ListActivePlans(ctx context.Context) ([]*Plan, error) {
	var plans []*Plan
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("display_order ASC").
		Find(&plans).Error
	if err != nil {
		return nil, fmt.Errorf("list active plans: %w", err)
	}
	return plans, nil
}

func (r *repository) GetPlan(ctx context.Context, id string) (*Plan, error) {
	var plan Plan
	if err := r.db.WithContext(ctx).First(&plan, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return &plan, nil
}

// UpsertPlans writes the catalog, overwriting rows with the same id.
func (r *repository) UpsertPlans(ctx context.Context, plans []*Plan) error {
	if len(plans) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "price_minor", "currency", "price_display", "credits",
				"pro", "features", "active", "display_order", "updated_at",
			}),
		}).
		Create(&plans).Error
	if err != nil {
		return fmt.Errorf("upsert plans: %w", err)
	}
	return nil
}
