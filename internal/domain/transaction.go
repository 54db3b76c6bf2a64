package domain

import (
	"fmt"
	"strings"
	"time"
)

// Channel identifies how a transaction entered the bank.
type Channel string

const (
	ChannelCard     Channel = "card"
	ChannelTransfer Channel = "transfer"
	ChannelATM      Channel = "atm"
	ChannelOnline   Channel = "online"
	ChannelMobile   Channel = "mobile"
)

// ValidChannels lists the accepted transaction channels.
var ValidChannels = map[Channel]bool{
	ChannelCard:     true,
	ChannelTransfer: true,
	ChannelATM:      true,
	ChannelOnline:   true,
	ChannelMobile:   true,
}

// Transaction represents a single bank transaction submitted for scoring.
// Immutable once scored.
type Transaction struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`

	// AmountMinor is the amount in minor currency units (cents).
	AmountMinor int64  `json:"amountMinor"`
	Currency    string `json:"currency"`

	// Merchant details
	MerchantID       string `json:"merchantId"`
	MerchantName     string `json:"merchantName,omitempty"`
	MerchantCategory string `json:"merchantCategory,omitempty"`
	MerchantCountry  string `json:"merchantCountry"`

	Channel Channel `json:"channel"`

	// HomeCountry is the account's home country, supplied by the ingesting
	// collaborator. Defaults from engine configuration when empty.
	HomeCountry string `json:"homeCountry,omitempty"`

	// Temporal (UTC)
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional device/location metadata
	DeviceID  string `json:"deviceId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	City      string `json:"city,omitempty"`
}

// Amount returns the transaction amount in major currency units.
func (t *Transaction) Amount() float64 {
	return float64(t.AmountMinor) / 100
}

// Validate checks the transaction is well-formed before scoring.
// Malformed transactions are rejected whole, never partially processed.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidTransaction)
	}
	if t.AccountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidTransaction)
	}
	if t.AmountMinor <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransaction)
	}
	if len(t.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidTransaction)
	}
	if t.MerchantID == "" {
		return fmt.Errorf("%w: merchant id is required", ErrInvalidTransaction)
	}
	if !ValidChannels[t.Channel] {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidTransaction, t.Channel)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidTransaction)
	}
	return nil
}

// ScoreRequest is the API request payload for transaction scoring.
type ScoreRequest struct {
	AccountID        string  `json:"accountId"`
	Amount           Amount  `json:"amount"`
	MerchantID       string  `json:"merchantId"`
	MerchantName     string  `json:"merchantName,omitempty"`
	MerchantCategory string  `json:"merchantCategory,omitempty"`
	MerchantCountry  string  `json:"merchantCountry"`
	Channel          Channel `json:"channel"`
	HomeCountry      string  `json:"homeCountry,omitempty"`
	Timestamp        string  `json:"timestamp,omitempty"` // RFC 3339; defaults to now
	DeviceID         string  `json:"deviceId,omitempty"`
	IPAddress        string  `json:"ipAddress,omitempty"`
	City             string  `json:"city,omitempty"`
}

// Amount represents a monetary value in minor units.
type Amount struct {
	Minor    int64  `json:"minor"`
	Currency string `json:"currency"`
}

// ToTransaction converts a request to a Transaction domain object.
func (r *ScoreRequest) ToTransaction(id string) (*Transaction, error) {
	now := time.Now().UTC()
	ts := now
	if r.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp: %v", ErrInvalidTransaction, err)
		}
		ts = parsed.UTC()
	}
	return &Transaction{
		ID:               id,
		AccountID:        r.AccountID,
		AmountMinor:      r.Amount.Minor,
		Currency:         strings.ToUpper(r.Amount.Currency),
		MerchantID:       r.MerchantID,
		MerchantName:     r.MerchantName,
		MerchantCategory: r.MerchantCategory,
		MerchantCountry:  strings.ToUpper(r.MerchantCountry),
		Channel:          r.Channel,
		HomeCountry:      strings.ToUpper(r.HomeCountry),
		Timestamp:        ts,
		CreatedAt:        now,
		DeviceID:         r.DeviceID,
		IPAddress:        r.IPAddress,
		City:             r.City,
	}, nil
}
