// Package billing sells credit bundles through a checkout provider and grants
// the purchased credits once payment completes.
package billing

import (
	"time"

	"github.com/lib/pq"
)

// Plan is a purchasable credit bundle.
type Plan struct {
	ID           string         `json:"id" gorm:"primaryKey"`
	Name         string         `json:"name" gorm:"not null"`
	PriceMinor   int64          `json:"price_minor" gorm:"not null"` // pence
	Currency     string         `json:"currency" gorm:"not null;default:gbp"`
	PriceDisplay string         `json:"price"`
	Credits      int            `json:"credits" gorm:"not null"`
	Pro          bool           `json:"pro" gorm:"default:false"`
	Features     pq.StringArray `json:"features" gorm:"type:text[]"`
	Active       bool           `json:"active" gorm:"default:true"`
	DisplayOrder int            `json:"display_order" gorm:"default:0"`
	CreatedAt    time.Time      `json:"-"`
	UpdatedAt    time.Time      `json:"-"`
}

// TableName returns the database table name.
func (Plan) TableName() string {
	return "plans"
}

// Catalog returns the plans offered for sale.
func Catalog() []*Plan {
	return []*Plan{
		{
			ID:           "price_pay_as_you_go",
			Name:         "Single Enhance",
			PriceMinor:   150,
			Currency:     "gbp",
			PriceDisplay: "£1.50",
			Credits:      1,
			Features:     pq.StringArray{"Standard Enhancement", "No Watermark (After Pay)"},
			Active:       true,
			DisplayOrder: 1,
		},
		{
			ID:           "price_agent_bundle",
			Name:         "Agent Bundle",
			PriceMinor:   1200,
			Currency:     "gbp",
			PriceDisplay: "£12.00",
			Credits:      10,
			Features:     pq.StringArray{"10 Enhancements", "Priority Processing", "Bulk Discount"},
			Active:       true,
			DisplayOrder: 2,
		},
		{
			ID:           "price_pro_bundle",
			Name:         "Pro Bundle",
			PriceMinor:   5000,
			Currency:     "gbp",
			PriceDisplay: "£50.00",
			Credits:      50,
			Pro:          true,
			Features:     pq.StringArray{"50 Enhancements", "Magic Edit Access", "24/7 Support"},
			Active:       true,
			DisplayOrder: 3,
		},
	}
}

// Models returns the models migrated by this module.
func Models() []any {
	return []any{&Plan{}}
}
