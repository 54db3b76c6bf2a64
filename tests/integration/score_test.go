//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Merlin fraud
// decision engine.
//
// These tests verify the COMPLETE scoring pipeline:
//
//	Transaction → Features → Rules + Ensemble → Risk Score → Decision → Alert
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. TRANSACTION: A single account purchase/transfer submitted for scoring.
//
// 2. RULE: A fraud signal with a weight. Default rules:
//   - high-amount (3.0):        amount strictly above €5,000
//   - foreign-transaction (2.0): merchant country differs from home country
//   - off-hours (1.5):          local hour in the 22:00-06:00 night window
//   - velocity (2.5):           more than 3 transactions in 10 minutes
//   - new-merchant (1.0):       account has never used this merchant
//
// 3. SCORE: Weighted rule score combined with the model ensemble, normalized
//    to [0, 10].
//
// 4. DECISION: ALLOW (score < 3), FLAG (3 <= score < 7), BLOCK (score >= 7).
//    Boundary values land in the higher bucket.
//
// 5. ALERT: FLAG and BLOCK decisions raise a case for human review, one per
//    transaction, moving NEW → UNDER_INVESTIGATION → {CONFIRMED,
//    FALSE_POSITIVE} → CLOSED, with a reopen path inside a time window.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("MERLIN_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching Merlin's API contract)
// ============================================================================

// ScoreRequest is the transaction sent to POST /api/v1/score
type ScoreRequest struct {
	AccountID       string `json:"accountId"`
	Amount          Amount `json:"amount"`
	MerchantID      string `json:"merchantId"`
	MerchantCountry string `json:"merchantCountry"`
	Channel         string `json:"channel"`
	HomeCountry     string `json:"homeCountry,omitempty"`
	Timestamp       string `json:"timestamp,omitempty"`
}

type Amount struct {
	Minor    int64  `json:"minor"`
	Currency string `json:"currency"`
}

// ScoreResponse is what POST /api/v1/score returns
type ScoreResponse struct {
	ID       string   `json:"id"`
	TxID     string   `json:"txId"`
	Score    float64  `json:"score"`    // 0.0 to 10.0
	Decision string   `json:"decision"` // ALLOW, FLAG, or BLOCK
	Severity string   `json:"severity"`
	Reasons  []string `json:"reasons"`
	Ensemble struct {
		Anomaly          float64 `json:"anomaly"`
		FraudProbability float64 `json:"fraudProbability"`
		Degraded         bool    `json:"degraded"`
	} `json:"ensemble"`
	ConfigVersion string `json:"configVersion"`
	TraceID       string `json:"traceId"`
	ProcessMs     int64  `json:"processMs"`
}

// Alert mirrors the alert payload returned by the workflow endpoints.
type Alert struct {
	ID        string `json:"id"`
	TxID      string `json:"txId"`
	AccountID string `json:"accountId"`
	Status    string `json:"status"`
	Severity  string `json:"severity"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func score(t *testing.T, config TestConfig, req ScoreRequest) ScoreResponse {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+"/api/v1/score", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var result ScoreResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}

	return result
}

func postJSON(t *testing.T, config TestConfig, path string, payload any) *http.Response {
	t.Helper()

	body, _ := json.Marshal(payload)
	httpReq, _ := http.NewRequest("POST", config.BaseURL+path, bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

// daytimeTS returns an RFC 3339 timestamp in business hours, offset by n
// seconds so tests control velocity windows.
func daytimeTS(n int) string {
	return time.Date(2026, 3, 10, 14, 0, n, 0, time.UTC).Format(time.RFC3339)
}

// ============================================================================
// SCENARIO 1: Normal Transaction (ALLOW)
// ============================================================================

func TestNormalTransaction_Allowed(t *testing.T) {
	/*
	   SCENARIO: A regular €25 card purchase at home, during business hours.

	   EXPECTED BEHAVIOR:
	   - high-amount: €25 < €5,000 → not triggered
	   - foreign-transaction: IE merchant, IE home → not triggered
	   - off-hours: 14:00 is not in the night window → not triggered
	   - velocity: first transaction → not triggered
	   - new-merchant (1.0) may fire for a fresh account, but alone it stays
	     well below the flag threshold.

	   FINAL DECISION: ALLOW
	*/
	config := getTestConfig()

	req := ScoreRequest{
		AccountID:       "acct-it-normal",
		Amount:          Amount{Minor: 2500, Currency: "EUR"},
		MerchantID:      "merch-it-grocery",
		MerchantCountry: "IE",
		Channel:         "card",
		Timestamp:       daytimeTS(0),
	}

	result := score(t, config, req)

	if result.Decision != "ALLOW" {
		t.Errorf("Expected ALLOW, got %s (score %.2f, reasons %v)",
			result.Decision, result.Score, result.Reasons)
	}

	if result.Score >= 3 {
		t.Errorf("Expected score below flag threshold, got %.2f", result.Score)
	}

	t.Logf("✓ Normal transaction allowed: decision=%s, score=%.2f", result.Decision, result.Score)
}

// ============================================================================
// SCENARIO 2: High Amount Boundary
// ============================================================================

func TestExactHighAmountThreshold_NotTriggered(t *testing.T) {
	/*
	   SCENARIO: Transaction of exactly €5,000.

	   EXPECTED BEHAVIOR:
	   - high-amount fires on amounts STRICTLY ABOVE €5,000, so exactly
	     €5,000 does not trigger it.

	   WHY THIS TEST:
	   Boundary conditions catch off-by-one errors in threshold logic.
	*/
	config := getTestConfig()

	exactly := score(t, config, ScoreRequest{
		AccountID:       "acct-it-boundary",
		Amount:          Amount{Minor: 500000, Currency: "EUR"}, // exactly €5,000
		MerchantID:      "merch-it-boundary",
		MerchantCountry: "IE",
		Channel:         "transfer",
		Timestamp:       daytimeTS(0),
	})

	for _, r := range exactly.Reasons {
		if r == "Unusually high transaction amount" {
			t.Errorf("high-amount must not fire at exactly €5,000, reasons: %v", exactly.Reasons)
		}
	}

	justAbove := score(t, config, ScoreRequest{
		AccountID:       "acct-it-boundary2",
		Amount:          Amount{Minor: 500001, Currency: "EUR"}, // €5,000.01
		MerchantID:      "merch-it-boundary",
		MerchantCountry: "IE",
		Channel:         "transfer",
		Timestamp:       daytimeTS(0),
	})

	if justAbove.Score <= exactly.Score {
		t.Errorf("Expected €5,000.01 to score above €5,000 exactly: %.2f vs %.2f",
			justAbove.Score, exactly.Score)
	}

	t.Logf("✓ Boundary test: €5,000 score=%.2f, €5,000.01 score=%.2f",
		exactly.Score, justAbove.Score)
}

// ============================================================================
// SCENARIO 3: Compound Risk (BLOCK)
// ============================================================================

func TestCompoundRisk_Blocked(t *testing.T) {
	/*
	   SCENARIO: A large foreign online purchase at 23:30 from a merchant the
	   account has never used.

	   EXPECTED BEHAVIOR:
	   - high-amount (3.0), foreign-transaction (2.0), off-hours (1.5) and
	     new-merchant (1.0) all fire. The combined weight saturates the rule
	     score and the final score lands at or above the block threshold.

	   FINAL DECISION: BLOCK
	*/
	config := getTestConfig()

	req := ScoreRequest{
		AccountID:       "acct-it-compound",
		Amount:          Amount{Minor: 900000, Currency: "EUR"}, // €9,000
		MerchantID:      "merch-it-offshore",
		MerchantCountry: "US",
		Channel:         "online",
		Timestamp:       time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC).Format(time.RFC3339),
	}

	result := score(t, config, req)

	if result.Decision != "BLOCK" {
		t.Errorf("Expected BLOCK for compound risk, got %s (score %.2f, reasons %v)",
			result.Decision, result.Score, result.Reasons)
	}

	if len(result.Reasons) < 3 {
		t.Errorf("Expected at least 3 triggered reasons, got %v", result.Reasons)
	}

	t.Logf("✓ Compound risk blocked: decision=%s, score=%.2f, reasons=%v",
		result.Decision, result.Score, result.Reasons)
}

// ============================================================================
// SCENARIO 4: Velocity
// ============================================================================

func TestVelocity_RapidFireTransactions(t *testing.T) {
	/*
	   SCENARIO: Five small purchases from the same account within one minute.

	   EXPECTED BEHAVIOR:
	   - velocity (2.5) fires once the count inside the 10-minute window
	     exceeds 3, so the later transactions score higher than the first.
	*/
	config := getTestConfig()
	account := fmt.Sprintf("acct-it-velocity-%d", time.Now().UnixNano())

	var first, last ScoreResponse
	for i := 0; i < 5; i++ {
		result := score(t, config, ScoreRequest{
			AccountID:       account,
			Amount:          Amount{Minor: 1500, Currency: "EUR"},
			MerchantID:      "merch-it-kiosk",
			MerchantCountry: "IE",
			Channel:         "card",
			Timestamp:       daytimeTS(i * 10),
		})
		if i == 0 {
			first = result
		}
		last = result
	}

	if last.Score <= first.Score {
		t.Errorf("Expected velocity to raise the score: first=%.2f last=%.2f",
			first.Score, last.Score)
	}

	hasVelocityReason := false
	for _, r := range last.Reasons {
		if r == "Multiple rapid transactions" {
			hasVelocityReason = true
		}
	}
	if !hasVelocityReason {
		t.Errorf("Expected velocity reason on the 5th transaction, got %v", last.Reasons)
	}

	t.Logf("✓ Velocity detected: first=%.2f, fifth=%.2f, reasons=%v",
		first.Score, last.Score, last.Reasons)
}

// ============================================================================
// SCENARIO 5: Alert Workflow
// ============================================================================

func TestAlertWorkflow_EndToEnd(t *testing.T) {
	/*
	   SCENARIO: A blocked transaction raises an alert; an analyst works it
	   through the full lifecycle.

	   NEW → UNDER_INVESTIGATION → CONFIRMED → CLOSED
	*/
	config := getTestConfig()

	result := score(t, config, ScoreRequest{
		AccountID:       fmt.Sprintf("acct-it-alert-%d", time.Now().UnixNano()),
		Amount:          Amount{Minor: 900000, Currency: "EUR"},
		MerchantID:      "merch-it-alert",
		MerchantCountry: "RU",
		Channel:         "online",
		Timestamp:       time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC).Format(time.RFC3339),
	})

	if result.Decision == "ALLOW" {
		t.Fatalf("Expected FLAG or BLOCK, got ALLOW (score %.2f)", result.Score)
	}

	// Fetch the alert raised for the transaction
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(config.BaseURL + "/api/v1/transactions/" + result.TxID + "/alert")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected alert for blocked transaction, got %d", resp.StatusCode)
	}

	var alert Alert
	json.NewDecoder(resp.Body).Decode(&alert)
	if alert.Status != "NEW" {
		t.Fatalf("Expected NEW alert, got %s", alert.Status)
	}

	// Walk the lifecycle
	steps := []struct {
		action string
		notes  string
		want   string
	}{
		{"assign", "", "UNDER_INVESTIGATION"},
		{"confirm", "verified with cardholder", "CONFIRMED"},
		{"close", "", "CLOSED"},
	}

	for _, step := range steps {
		tr := postJSON(t, config, "/api/v1/alerts/"+alert.ID+"/transition", map[string]string{
			"action": step.action,
			"actor":  "analyst-integration",
			"notes":  step.notes,
		})
		body, _ := io.ReadAll(tr.Body)
		tr.Body.Close()

		if tr.StatusCode != http.StatusOK {
			t.Fatalf("Transition %s failed: %d %s", step.action, tr.StatusCode, string(body))
		}

		var updated Alert
		json.Unmarshal(body, &updated)
		if updated.Status != step.want {
			t.Fatalf("After %s expected %s, got %s", step.action, step.want, updated.Status)
		}
	}

	// An invalid transition must conflict and leave the alert unchanged
	tr := postJSON(t, config, "/api/v1/alerts/"+alert.ID+"/transition", map[string]string{
		"action": "confirm",
		"actor":  "analyst-integration",
	})
	tr.Body.Close()
	if tr.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for confirm on CLOSED alert, got %d", tr.StatusCode)
	}

	t.Logf("✓ Alert workflow complete: alert=%s", alert.ID)
}

// ============================================================================
// SCENARIO 6: Input Validation
// ============================================================================

func TestZeroAmount_Error(t *testing.T) {
	/*
	   SCENARIO: Request with zero amount.

	   EXPECTED: HTTP 400 Bad Request, transaction rejected whole.
	*/
	config := getTestConfig()

	resp := postJSON(t, config, "/api/v1/score", ScoreRequest{
		AccountID:       "acct-it-invalid",
		Amount:          Amount{Minor: 0, Currency: "EUR"},
		MerchantID:      "merch-it-invalid",
		MerchantCountry: "IE",
		Channel:         "card",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero amount, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: zero amount → HTTP %d", resp.StatusCode)
}

func TestUnknownChannel_Error(t *testing.T) {
	config := getTestConfig()

	resp := postJSON(t, config, "/api/v1/score", ScoreRequest{
		AccountID:       "acct-it-invalid",
		Amount:          Amount{Minor: 1000, Currency: "EUR"},
		MerchantID:      "merch-it-invalid",
		MerchantCountry: "IE",
		Channel:         "carrier-pigeon",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown channel, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: unknown channel → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 7: Response Metadata Verification
// ============================================================================

func TestResponseMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify the assessment includes all required metadata.

	   This ensures the API contract is stable for clients.
	*/
	config := getTestConfig()

	result := score(t, config, ScoreRequest{
		AccountID:       "acct-it-metadata",
		Amount:          Amount{Minor: 100, Currency: "EUR"},
		MerchantID:      "merch-it-metadata",
		MerchantCountry: "IE",
		Channel:         "card",
		Timestamp:       daytimeTS(0),
	})

	if result.ID == "" {
		t.Error("Missing assessment id")
	}

	if result.TxID == "" {
		t.Error("Missing txId")
	}

	switch result.Decision {
	case "ALLOW", "FLAG", "BLOCK":
	default:
		t.Errorf("Invalid decision: %s", result.Decision)
	}

	if result.Score < 0 || result.Score > 10 {
		t.Errorf("Score out of range: %.2f (expected 0-10)", result.Score)
	}

	if result.ConfigVersion == "" {
		t.Error("Missing configVersion")
	}

	// Note: ProcessMs can be 0 for very fast operations (sub-millisecond)
	if result.ProcessMs < 0 {
		t.Error("Invalid processMs (negative)")
	}

	t.Logf("✓ Metadata complete: id=%s, txId=%s, configVersion=%s, processMs=%d",
		result.ID[:8], result.TxID[:8], result.ConfigVersion, result.ProcessMs)
}
