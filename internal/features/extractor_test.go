package features

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
)

func testTx() *domain.Transaction {
	return &domain.Transaction{
		ID:               "tx-001",
		AccountID:        "acct-001",
		AmountMinor:      15000, // 150.00
		Currency:         "EUR",
		MerchantID:       "m-1",
		MerchantCategory: "electronics",
		MerchantCountry:  "IE",
		Channel:          domain.ChannelCard,
		HomeCountry:      "IE",
		Timestamp:        time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
	}
}

func testProfile() *domain.AccountProfile {
	return &domain.AccountProfile{
		AccountID:    "acct-001",
		TxCount:      10,
		MeanAmount:   100,
		StddevAmount: 25,
		LastSeen:     time.Date(2026, 3, 14, 13, 0, 0, 0, time.UTC),
		Merchants:    map[string]struct{}{"m-1": {}},
	}
}

func TestExtractKnownAccount(t *testing.T) {
	e := NewExtractor()
	cfg := domain.DefaultEngineConfig()

	fv := e.Extract(testTx(), testProfile(), cfg, 1)

	if math.Abs(fv.AmountDeviation-2) > 1e-9 {
		t.Errorf("expected deviation 2, got %v", fv.AmountDeviation)
	}
	if math.Abs(fv.LogAmount-math.Log1p(150)) > 1e-9 {
		t.Errorf("unexpected log amount %v", fv.LogAmount)
	}
	if fv.Foreign {
		t.Error("home-country transaction marked foreign")
	}
	if fv.OffHours {
		t.Error("15:00 marked off-hours")
	}
	if fv.NewMerchant {
		t.Error("known merchant marked new")
	}
	if math.Abs(fv.HoursSinceLast-2) > 1e-9 {
		t.Errorf("expected 2 hours since last, got %v", fv.HoursSinceLast)
	}
	if fv.Hour != 15 || fv.Weekday != int(time.Saturday) {
		t.Errorf("unexpected temporal features: hour %d weekday %d", fv.Hour, fv.Weekday)
	}
	if fv.CountryRisk != 0 {
		t.Errorf("expected home country risk 0, got %v", fv.CountryRisk)
	}
}

func TestExtractEmptyProfileIsNeutral(t *testing.T) {
	e := NewExtractor()
	cfg := domain.DefaultEngineConfig()

	fv := e.Extract(testTx(), &domain.AccountProfile{AccountID: "acct-001"}, cfg, 1)

	if fv.AmountDeviation != 0 {
		t.Errorf("expected neutral deviation, got %v", fv.AmountDeviation)
	}
	if fv.HoursSinceLast != 0 {
		t.Errorf("expected neutral recency, got %v", fv.HoursSinceLast)
	}
	if !fv.NewMerchant {
		t.Error("expected new merchant for empty profile")
	}
}

func TestExtractForeignAndOffHours(t *testing.T) {
	e := NewExtractor()
	cfg := domain.DefaultEngineConfig()

	tx := testTx()
	tx.MerchantCountry = "US"
	tx.Timestamp = time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)

	fv := e.Extract(tx, testProfile(), cfg, 1)
	if !fv.Foreign {
		t.Error("US merchant from IE account not marked foreign")
	}
	if !fv.OffHours {
		t.Error("23:30 not marked off-hours")
	}
	if fv.CountryRisk != 0.8 {
		t.Errorf("expected non-EU risk 0.8, got %v", fv.CountryRisk)
	}

	tx.MerchantCountry = "FR"
	fv = e.Extract(tx, testProfile(), cfg, 1)
	if fv.CountryRisk != 0.3 {
		t.Errorf("expected EU risk 0.3, got %v", fv.CountryRisk)
	}
}

func TestExtractHomeCountryFallback(t *testing.T) {
	e := NewExtractor()
	cfg := domain.DefaultEngineConfig() // home IE

	tx := testTx()
	tx.HomeCountry = ""
	tx.MerchantCountry = "IE"

	fv := e.Extract(tx, testProfile(), cfg, 1)
	if fv.Foreign {
		t.Error("config home country fallback not applied")
	}
}

func TestExtractDeterministic(t *testing.T) {
	e := NewExtractor()
	cfg := domain.DefaultEngineConfig()

	a := e.Extract(testTx(), testProfile(), cfg, 2)
	b := e.Extract(testTx(), testProfile(), cfg, 2)
	if !reflect.DeepEqual(a, b) {
		t.Error("identical inputs produced different vectors")
	}
}

func TestVectorShape(t *testing.T) {
	e := NewExtractor()
	fv := e.Extract(testTx(), testProfile(), domain.DefaultEngineConfig(), 1)
	if len(fv.Vector()) != domain.FeatureDim {
		t.Errorf("vector length %d, want %d", len(fv.Vector()), domain.FeatureDim)
	}
}
