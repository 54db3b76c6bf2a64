// Package alerts manages investigation cases raised by flagged and blocked
// transactions, including the full investigation workflow.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/merlin/internal/domain"
)

// Manager owns the alert lifecycle. Creation is idempotent per transaction:
// scoring retries never open duplicate cases. Persistence and notification
// happen off the caller's path.
type Manager struct {
	mu   sync.Mutex
	byID map[string]*domain.Alert
	byTx map[string]string // txID -> alertID

	repo   domain.Repository
	bus    domain.EventBus
	logger *slog.Logger

	// reopenWindow returns the currently configured reopen window; the
	// provider reads the active engine config so hot reloads apply.
	reopenWindow func() time.Duration

	now func() time.Time
}

// NewManager creates an alert manager. repo and bus may be nil in tests.
func NewManager(repo domain.Repository, bus domain.EventBus, logger *slog.Logger, reopenWindow func() time.Duration) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		byID:         make(map[string]*domain.Alert),
		byTx:         make(map[string]string),
		repo:         repo,
		bus:          bus,
		logger:       logger,
		reopenWindow: reopenWindow,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateFromAssessment opens a New alert for a flagged or blocked
// transaction. Returns the existing alert with created=false when one already
// exists for the transaction.
func (m *Manager) CreateFromAssessment(ctx context.Context, a *domain.RiskAssessment) (*domain.Alert, bool) {
	m.mu.Lock()
	if id, ok := m.byTx[a.TxID]; ok {
		existing := cloneAlert(m.byID[id])
		m.mu.Unlock()
		return existing, false
	}

	now := m.now()
	alert := &domain.Alert{
		ID:         uuid.New().String(),
		TxID:       a.TxID,
		AccountID:  a.AccountID,
		Assessment: *a,
		Status:     domain.AlertNew,
		Severity:   a.Severity,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.byID[alert.ID] = alert
	m.byTx[alert.TxID] = alert.ID
	snapshot := cloneAlert(alert)
	m.mu.Unlock()

	m.persistAsync(ctx, snapshot, domain.TopicAlertCreated)
	return snapshot, true
}

// Get returns a copy of the alert, or ErrNotFound.
func (m *Manager) Get(id string) (*domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: alert %s", domain.ErrNotFound, id)
	}
	return cloneAlert(alert), nil
}

// GetByTransaction returns the alert opened for a transaction, or
// ErrNotFound.
func (m *Manager) GetByTransaction(txID string) (*domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byTx[txID]
	if !ok {
		return nil, fmt.Errorf("%w: no alert for transaction %s", domain.ErrNotFound, txID)
	}
	return cloneAlert(m.byID[id]), nil
}

// ListByStatus returns up to limit alerts in the given status, newest first.
func (m *Manager) ListByStatus(status domain.AlertStatus, limit int) []*domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Alert
	for _, alert := range m.byID {
		if alert.Status == status {
			out = append(out, cloneAlert(alert))
		}
	}
	sortByCreatedDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Transition applies a workflow action. On any error the alert is left
// exactly as it was.
func (m *Manager) Transition(ctx context.Context, id string, req *domain.TransitionRequest) (*domain.Alert, error) {
	m.mu.Lock()
	alert, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: alert %s", domain.ErrNotFound, id)
	}

	next, err := domain.NextStatus(alert.Status, req.Action)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	// Resolving a case records why, and reopening records the new grounds.
	switch req.Action {
	case domain.ActionConfirm, domain.ActionDismiss, domain.ActionReopen:
		if req.Notes == "" {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s requires notes", domain.ErrInvalidStateTransition, req.Action)
		}
	}

	now := m.now()
	if req.Action == domain.ActionReopen {
		window := m.reopenWindow()
		if alert.ClosedAt == nil || now.Sub(*alert.ClosedAt) > window {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: reopen window of %s elapsed", domain.ErrInvalidStateTransition, window)
		}
	}

	alert.Status = next
	alert.UpdatedAt = now
	switch req.Action {
	case domain.ActionAssign:
		alert.Assignee = req.Actor
	case domain.ActionConfirm, domain.ActionDismiss:
		alert.ResolutionNotes = req.Notes
	case domain.ActionClose:
		closed := now
		alert.ClosedAt = &closed
		if req.Notes != "" {
			alert.ResolutionNotes = req.Notes
		}
	case domain.ActionReopen:
		alert.ClosedAt = nil
		alert.ResolutionNotes = req.Notes
	}
	snapshot := cloneAlert(alert)
	m.mu.Unlock()

	m.persistAsync(ctx, snapshot, domain.TopicAlertUpdated)
	return snapshot, nil
}

// Load primes the in-memory index from persisted alerts, typically at
// startup.
func (m *Manager) Load(alerts []*domain.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range alerts {
		m.byID[a.ID] = cloneAlert(a)
		m.byTx[a.TxID] = a.ID
	}
}

// persistAsync saves and publishes off the caller's path. The scoring
// pipeline never waits on the database or the bus.
func (m *Manager) persistAsync(ctx context.Context, alert *domain.Alert, topic string) {
	bg := context.WithoutCancel(ctx)
	go func() {
		if m.repo != nil {
			if err := m.repo.SaveAlert(bg, alert); err != nil {
				m.logger.Error("failed to persist alert",
					"alert_id", alert.ID, "error", err)
			}
		}
		if m.bus != nil {
			payload, err := json.Marshal(alert)
			if err == nil {
				err = m.bus.Publish(bg, topic, payload)
			}
			if err != nil {
				m.logger.Error("failed to publish alert event",
					"alert_id", alert.ID, "topic", topic, "error", err)
			}
		}
	}()
}

func cloneAlert(a *domain.Alert) *domain.Alert {
	c := *a
	if a.ClosedAt != nil {
		closed := *a.ClosedAt
		c.ClosedAt = &closed
	}
	return &c
}

func sortByCreatedDesc(alerts []*domain.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
}
