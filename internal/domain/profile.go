package domain

import "time"

// AccountProfile is a read-only snapshot of an account's recent activity,
// owned by the history store. A zero-count profile means a brand new account;
// feature extraction must treat it as neutral rather than failing.
type AccountProfile struct {
	AccountID string `json:"accountId"`

	// TxCount is the number of transactions inside the retention window.
	TxCount int `json:"txCount"`

	// Rolling statistics over window amounts, in major currency units.
	MeanAmount   float64 `json:"meanAmount"`
	StddevAmount float64 `json:"stddevAmount"`

	// LastSeen is the timestamp of the most recent windowed transaction.
	// Zero when the account has no history.
	LastSeen time.Time `json:"lastSeen"`

	// LastCountry is the merchant country of the most recent transaction.
	LastCountry string `json:"lastCountry,omitempty"`

	// Merchants holds the merchant ids seen inside the window.
	Merchants map[string]struct{} `json:"-"`
}

// Empty reports whether the account has no windowed history.
func (p *AccountProfile) Empty() bool {
	return p == nil || p.TxCount == 0
}

// HasMerchant reports whether the merchant was seen inside the window.
func (p *AccountProfile) HasMerchant(merchantID string) bool {
	if p == nil || p.Merchants == nil {
		return false
	}
	_, ok := p.Merchants[merchantID]
	return ok
}
