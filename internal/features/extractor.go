// Package features derives the fixed-shape feature vector consumed by the
// rule engine and the model ensemble.
package features

import (
	"math"

	"github.com/opensource-finance/merlin/internal/domain"
)

// hoursSinceLastCap bounds the recency feature so dormant accounts do not
// produce unbounded values.
const hoursSinceLastCap = 24 * 30

// euCountries per EU membership as of 2026.
var euCountries = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true,
	"CZ": true, "DK": true, "EE": true, "FI": true, "FR": true,
	"DE": true, "GR": true, "HU": true, "IE": true, "IT": true,
	"LV": true, "LT": true, "LU": true, "MT": true, "NL": true,
	"PL": true, "PT": true, "RO": true, "SK": true, "SI": true,
	"ES": true, "SE": true,
}

// channelRisk encodes relative fraud exposure per channel.
var channelRisk = map[domain.Channel]float64{
	domain.ChannelCard:     0.3,
	domain.ChannelTransfer: 0.2,
	domain.ChannelATM:      0.4,
	domain.ChannelOnline:   0.7,
	domain.ChannelMobile:   0.5,
}

// categoryRisk encodes relative fraud exposure per merchant category.
// Unlisted categories get the neutral default.
var categoryRisk = map[string]float64{
	"gambling":       0.9,
	"crypto":         0.9,
	"money_transfer": 0.8,
	"electronics":    0.6,
	"jewelry":        0.6,
	"travel":         0.5,
	"fuel":           0.3,
	"groceries":      0.1,
	"utilities":      0.1,
}

const defaultCategoryRisk = 0.4

// Extractor derives feature vectors. Pure: identical transaction, profile
// and config always produce an identical vector.
type Extractor struct{}

// NewExtractor creates a feature extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract derives the feature vector for a transaction given its account
// profile and the active engine configuration. countInWindow is the velocity
// count including this transaction.
func (e *Extractor) Extract(tx *domain.Transaction, profile *domain.AccountProfile, cfg *domain.EngineConfig, countInWindow int) *domain.FeatureVector {
	home := tx.HomeCountry
	if home == "" {
		home = cfg.HomeCountry
	}

	fv := &domain.FeatureVector{
		LogAmount:     math.Log1p(tx.Amount()),
		Foreign:       tx.MerchantCountry != "" && tx.MerchantCountry != home,
		OffHours:      cfg.OffHours(tx.Timestamp.Hour()),
		CountInWindow: countInWindow,
		NewMerchant:   !profile.HasMerchant(tx.MerchantID),
		Hour:          tx.Timestamp.Hour(),
		Weekday:       int(tx.Timestamp.Weekday()),
		ChannelRisk:   channelRisk[tx.Channel],
		CountryRisk:   countryRisk(tx.MerchantCountry, home),
		CategoryRisk:  lookupCategoryRisk(tx.MerchantCategory),
	}

	if !profile.Empty() {
		if profile.StddevAmount > 0 {
			fv.AmountDeviation = math.Abs(tx.Amount()-profile.MeanAmount) / profile.StddevAmount
		}
		if !profile.LastSeen.IsZero() && tx.Timestamp.After(profile.LastSeen) {
			hours := tx.Timestamp.Sub(profile.LastSeen).Hours()
			fv.HoursSinceLast = math.Min(hours, hoursSinceLastCap)
		}
	}
	return fv
}

// countryRisk tiers the merchant country: home 0, EU 0.3, elsewhere 0.8.
func countryRisk(country, home string) float64 {
	switch {
	case country == "" || country == home:
		return 0
	case euCountries[country]:
		return 0.3
	default:
		return 0.8
	}
}

func lookupCategoryRisk(category string) float64 {
	if r, ok := categoryRisk[category]; ok {
		return r
	}
	return defaultCategoryRisk
}
