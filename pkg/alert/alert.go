package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/ytradar/pkg/quality"
)

// maxIssues bounds the failing checks listed in chat messages.
const maxIssues = 5

// Notification is the data sent to alert destinations.
type Notification struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	RunID     string    `json:"run_id,omitempty"`
	Score     int       `json:"score"`
	MinScore  int       `json:"min_score"`
	Issues    []string  `json:"issues"`
	CreatedAt time.Time `json:"created_at"`
}

// QualityNotification builds the message for a report that scored below
// minScore.
func QualityNotification(rep *quality.Report, minScore int, runID string) *Notification {
	issues := rep.Issues()
	if issues == nil {
		issues = []string{}
	}
	return &Notification{
		Title:     fmt.Sprintf("Data quality score %d", rep.Score),
		Body:      fmt.Sprintf("Quality score %d is below the alert threshold of %d.", rep.Score, minScore),
		RunID:     runID,
		Score:     rep.Score,
		MinScore:  minScore,
		Issues:    issues,
		CreatedAt: time.Now().UTC(),
	}
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers. Every notifier
// is attempted; failures are joined.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func topIssues(n *Notification) []string {
	if len(n.Issues) <= maxIssues {
		return n.Issues
	}
	return n.Issues[:maxIssues]
}
