package credits

// BalanceResponse is returned by GET /credits.
type BalanceResponse struct {
	CreditsRemaining int  `json:"credits_remaining"`
	IsPro            bool `json:"is_pro"`
}
