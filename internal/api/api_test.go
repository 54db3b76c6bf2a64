package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
	"github.com/opensource-finance/merlin/internal/engine"
)

// createTestServer creates a server backed by an in-process engine.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	eng, err := engine.New(domain.DefaultEngineConfig(), engine.Options{})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}

	return NewServer(cfg, eng, nil, nil, "test-v1")
}

func scoreBody(amountMinor int64, country string) []byte {
	req := domain.ScoreRequest{
		AccountID:       "acct-001",
		Amount:          domain.Amount{Minor: amountMinor, Currency: "EUR"},
		MerchantID:      "merch-001",
		MerchantCountry: country,
		Channel:         domain.ChannelCard,
		Timestamp:       time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
	body, _ := json.Marshal(req)
	return body
}

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("BenignTransaction", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/score", bytes.NewBuffer(scoreBody(2500, "IE")))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var a domain.RiskAssessment
		if err := json.Unmarshal(rr.Body.Bytes(), &a); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if a.ID == "" {
			t.Error("expected assessment id in response")
		}
		if a.TxID == "" {
			t.Error("expected txId in response")
		}
		if a.Decision != domain.DecisionAllow {
			t.Errorf("expected ALLOW for benign transaction, got %s", a.Decision)
		}
		if !a.Ensemble.Degraded {
			t.Error("expected degraded ensemble without a trained model")
		}
	})

	t.Run("RiskyTransactionFlagged", func(t *testing.T) {
		// High amount abroad: high_amount (3.0) + foreign (2.0) = 5.0 raw
		req := httptest.NewRequest(http.MethodPost, "/api/v1/score", bytes.NewBuffer(scoreBody(900000, "US")))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var a domain.RiskAssessment
		json.Unmarshal(rr.Body.Bytes(), &a)

		if a.Decision == domain.DecisionAllow {
			t.Errorf("expected FLAG or BLOCK for risky transaction, got %s", a.Decision)
		}
		if len(a.Reasons) == 0 {
			t.Error("expected triggered reasons in response")
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/score", bytes.NewBufferString("{not json"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		body, _ := json.Marshal(domain.ScoreRequest{
			AccountID: "acct-001",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/score", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for missing fields, got %d", rr.Code)
		}
	})

	t.Run("BadTimestamp", func(t *testing.T) {
		body, _ := json.Marshal(domain.ScoreRequest{
			AccountID:       "acct-001",
			Amount:          domain.Amount{Minor: 2500, Currency: "EUR"},
			MerchantID:      "merch-001",
			MerchantCountry: "IE",
			Channel:         domain.ChannelCard,
			Timestamp:       "yesterday",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/score", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for bad timestamp, got %d", rr.Code)
		}
	})
}

func TestAlertEndpoints(t *testing.T) {
	server := createTestServer(t)

	// Score enough rapid foreign high-amount transactions to raise an alert.
	var alertTxID string
	for i := 0; i < 5; i++ {
		req := domain.ScoreRequest{
			AccountID:       "acct-alert",
			Amount:          domain.Amount{Minor: 900000, Currency: "EUR"},
			MerchantID:      fmt.Sprintf("merch-%03d", i),
			MerchantCountry: "US",
			Channel:         domain.ChannelOnline,
			Timestamp:       time.Date(2026, 3, 10, 23, 30, i, 0, time.UTC).Format(time.RFC3339),
		}
		body, _ := json.Marshal(req)

		r := httptest.NewRequest(http.MethodPost, "/api/v1/score", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, r)

		if rr.Code != http.StatusOK {
			t.Fatalf("score %d failed: %d %s", i, rr.Code, rr.Body.String())
		}

		var a domain.RiskAssessment
		json.Unmarshal(rr.Body.Bytes(), &a)
		if a.NeedsAlert() {
			alertTxID = a.TxID
		}
	}

	if alertTxID == "" {
		t.Fatal("expected at least one flagged transaction")
	}

	var alertID string

	t.Run("ListNewAlerts", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts?status=NEW", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Alerts []*domain.Alert `json:"alerts"`
			Count  int             `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count == 0 {
			t.Fatal("expected at least one NEW alert")
		}
		alertID = resp.Alerts[0].ID
	})

	t.Run("GetAlertByTransaction", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/"+alertTxID+"/alert", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var alert domain.Alert
		json.Unmarshal(rr.Body.Bytes(), &alert)
		if alert.TxID != alertTxID {
			t.Errorf("expected txId %s, got %s", alertTxID, alert.TxID)
		}
	})

	t.Run("TransitionAlert", func(t *testing.T) {
		body, _ := json.Marshal(domain.TransitionRequest{
			Action: domain.ActionAssign,
			Actor:  "analyst-1",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/"+alertID+"/transition", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var alert domain.Alert
		json.Unmarshal(rr.Body.Bytes(), &alert)
		if alert.Status != domain.AlertUnderInvestigation {
			t.Errorf("expected status %s, got %s", domain.AlertUnderInvestigation, alert.Status)
		}
	})

	t.Run("InvalidTransitionConflicts", func(t *testing.T) {
		// Alert is UNDER_INVESTIGATION; a reopen is not valid from there.
		body, _ := json.Marshal(domain.TransitionRequest{
			Action: domain.ActionReopen,
			Actor:  "analyst-1",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/"+alertID+"/transition", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("UnknownAlert", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/no-such-alert", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestConfigEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("GetConfig", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var cfg domain.EngineConfig
		if err := json.Unmarshal(rr.Body.Bytes(), &cfg); err != nil {
			t.Fatalf("failed to parse config: %v", err)
		}
		if len(cfg.Rules) != 5 {
			t.Errorf("expected 5 default rules, got %d", len(cfg.Rules))
		}
	})

	t.Run("UpdateConfig", func(t *testing.T) {
		cfg := domain.DefaultEngineConfig()
		cfg.Version = "v2"
		cfg.FlagThreshold = 2.5

		body, _ := json.Marshal(cfg)
		req := httptest.NewRequest(http.MethodPut, "/api/v1/config", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		// Applied config is now served
		getReq := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
		getRR := httptest.NewRecorder()
		server.Router().ServeHTTP(getRR, getReq)

		var active domain.EngineConfig
		json.Unmarshal(getRR.Body.Bytes(), &active)
		if active.Version != "v2" {
			t.Errorf("expected active version v2, got %s", active.Version)
		}
	})

	t.Run("InvalidConfigRejectedWhole", func(t *testing.T) {
		cfg := domain.DefaultEngineConfig()
		cfg.Version = "v3"
		cfg.FlagThreshold = 9
		cfg.BlockThreshold = 5 // flag above block is invalid

		body, _ := json.Marshal(cfg)
		req := httptest.NewRequest(http.MethodPut, "/api/v1/config", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
		}

		// Previous config stays active
		getReq := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
		getRR := httptest.NewRecorder()
		server.Router().ServeHTTP(getRR, getReq)

		var active domain.EngineConfig
		json.Unmarshal(getRR.Body.Bytes(), &active)
		if active.Version == "v3" {
			t.Error("invalid config must not become active")
		}
	})
}

func TestModelEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("NoActiveModel", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/models/active", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 without trained model, got %d", rr.Code)
		}
	})

	t.Run("TrainRejectsTooFewSamples", func(t *testing.T) {
		body, _ := json.Marshal(TrainRequest{Version: "m1"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/models/train", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422 for empty training set, got %d", rr.Code)
		}
	})

	t.Run("TrainAndGet", func(t *testing.T) {
		var samples []struct {
			Features []float64 `json:"features"`
			Fraud    bool      `json:"fraud"`
		}
		for i := 0; i < 30; i++ {
			features := make([]float64, domain.FeatureDim)
			fraud := i%3 == 0
			for j := range features {
				features[j] = float64(i%7) / 7
				if fraud {
					features[j] += 3
				}
			}
			samples = append(samples, struct {
				Features []float64 `json:"features"`
				Fraud    bool      `json:"fraud"`
			}{features, fraud})
		}

		body, _ := json.Marshal(map[string]interface{}{
			"version": "m1",
			"samples": samples,
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/models/train", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		getReq := httptest.NewRequest(http.MethodGet, "/api/v1/models/active", nil)
		getRR := httptest.NewRecorder()
		server.Router().ServeHTTP(getRR, getReq)

		if getRR.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", getRR.Code)
		}

		var resp map[string]interface{}
		json.Unmarshal(getRR.Body.Bytes(), &resp)
		if resp["version"] != "m1" {
			t.Errorf("expected active model m1, got %v", resp["version"])
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %s", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("RequestIDHeader", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID response header")
		}
	})
}
