package billing

import "errors"

// Billing module errors.
var (
	ErrPlanNotFound     = errors.New("plan not found")
	ErrPlanInactive     = errors.New("plan is not available")
	ErrCheckoutFailed   = errors.New("checkout could not be started")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidEvent     = errors.New("invalid webhook event")
)
