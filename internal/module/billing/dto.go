package billing

// CheckoutRequestBody starts a checkout.
type CheckoutRequestBody struct {
	PlanID string `json:"plan_id" binding:"required"`
}

// PlansResponse lists the plan catalog.
type PlansResponse struct {
	Plans []*Plan `json:"plans"`
}
