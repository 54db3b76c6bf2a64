package domain

// FeatureDim is the fixed length of the numeric vector fed to the ensemble.
const FeatureDim = 12

// FeatureVector is the fixed-shape feature set derived from one transaction
// plus its account profile. Ephemeral: it exists only for the duration of a
// single scoring call and is never persisted.
type FeatureVector struct {
	// AmountDeviation is |amount - mean| / stddev over the account window,
	// 0 for an empty profile. Scale-free by construction.
	AmountDeviation float64 `json:"amountDeviation"`

	// LogAmount is log1p of the amount in major units.
	LogAmount float64 `json:"logAmount"`

	// Foreign is true when merchant country differs from home country.
	Foreign bool `json:"foreign"`

	// OffHours is true when the transaction hour falls in the night window.
	OffHours bool `json:"offHours"`

	// HoursSinceLast is the time since the previous transaction, in hours,
	// capped. Neutral (0) for an empty profile.
	HoursSinceLast float64 `json:"hoursSinceLast"`

	// CountInWindow is the transaction count in the velocity window,
	// including the one being scored.
	CountInWindow int `json:"countInWindow"`

	// NewMerchant is true when the merchant was never seen for the account.
	NewMerchant bool `json:"newMerchant"`

	Hour    int `json:"hour"`
	Weekday int `json:"weekday"`

	// Risk encodings in [0,1].
	ChannelRisk  float64 `json:"channelRisk"`
	CountryRisk  float64 `json:"countryRisk"`
	CategoryRisk float64 `json:"categoryRisk"`
}

// Vector returns the numeric representation in a stable order. The order is
// part of the model contract: trained model snapshots assume it.
func (f *FeatureVector) Vector() []float64 {
	return []float64{
		f.AmountDeviation,
		f.LogAmount,
		boolFeature(f.Foreign),
		boolFeature(f.OffHours),
		f.HoursSinceLast,
		float64(f.CountInWindow),
		boolFeature(f.NewMerchant),
		float64(f.Hour),
		float64(f.Weekday),
		f.ChannelRisk,
		f.CountryRisk,
		f.CategoryRisk,
	}
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
