package domain

import (
	"fmt"
	"time"
)

// AlertStatus enumerates the investigation workflow states.
type AlertStatus string

const (
	AlertNew                AlertStatus = "NEW"
	AlertUnderInvestigation AlertStatus = "UNDER_INVESTIGATION"
	AlertConfirmed          AlertStatus = "CONFIRMED"
	AlertFalsePositive      AlertStatus = "FALSE_POSITIVE"
	AlertClosed             AlertStatus = "CLOSED"
	AlertReopened           AlertStatus = "REOPENED"
)

// AlertAction enumerates the workflow transitions an investigator can take.
type AlertAction string

const (
	// ActionAssign moves New or Reopened into UnderInvestigation.
	ActionAssign AlertAction = "assign"

	// ActionConfirm resolves an investigation as confirmed fraud.
	ActionConfirm AlertAction = "confirm"

	// ActionDismiss resolves an investigation as a false positive.
	ActionDismiss AlertAction = "dismiss"

	// ActionClose finalizes a resolved alert.
	ActionClose AlertAction = "close"

	// ActionReopen reopens a closed alert inside the appeal window.
	ActionReopen AlertAction = "reopen"
)

// alertTransitions is the complete state graph. Anything absent is invalid.
var alertTransitions = map[AlertStatus]map[AlertAction]AlertStatus{
	AlertNew: {
		ActionAssign: AlertUnderInvestigation,
	},
	AlertUnderInvestigation: {
		ActionConfirm: AlertConfirmed,
		ActionDismiss: AlertFalsePositive,
	},
	AlertConfirmed: {
		ActionClose: AlertClosed,
	},
	AlertFalsePositive: {
		ActionClose: AlertClosed,
	},
	AlertClosed: {
		ActionReopen: AlertReopened,
	},
	AlertReopened: {
		ActionAssign: AlertUnderInvestigation,
	},
}

// NextStatus resolves a workflow action against the state graph. Returns
// ErrInvalidStateTransition for any move outside the graph.
func NextStatus(from AlertStatus, action AlertAction) (AlertStatus, error) {
	if next, ok := alertTransitions[from][action]; ok {
		return next, nil
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, action)
}

// Alert is an investigation case opened when a risk assessment crosses the
// flag threshold. Exactly one alert exists per transaction; alerts are never
// deleted (retention is an external data-lifecycle concern).
type Alert struct {
	ID        string `json:"id"`
	TxID      string `json:"txId"`
	AccountID string `json:"accountId"`

	// Assessment is an immutable snapshot of the scoring result that
	// triggered the alert.
	Assessment RiskAssessment `json:"assessment"`

	Status   AlertStatus `json:"status"`
	Severity Severity    `json:"severity"`

	// Assignee is the investigator handling the case. Empty until assigned.
	Assignee string `json:"assignee,omitempty"`

	ResolutionNotes string `json:"resolutionNotes,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

// TransitionRequest is the API payload for advancing an alert.
type TransitionRequest struct {
	Action AlertAction `json:"action"`
	Actor  string      `json:"actor"`
	Notes  string      `json:"notes,omitempty"`
}
