package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"donation-workflow-api/workflow"

	"go.uber.org/zap"
)

// StatusChangedEvent is emitted once per committed transition.
type StatusChangedEvent struct {
	CaseID        string          `json:"case_id"`
	SubjectRole   workflow.Role   `json:"subject_role"`
	SubjectUserID string          `json:"subject_user_id"`
	ContactEmail  string          `json:"-"`
	From          workflow.Status `json:"from"`
	To            workflow.Status `json:"to"`
	ActorID       string          `json:"actor_id"`
	ActorRole     workflow.Role   `json:"actor_role"`
	Decision      string          `json:"decision"`
	Override      bool            `json:"override"`
	Comment       string          `json:"comment,omitempty"`
	At            time.Time       `json:"at"`
}

func (e StatusChangedEvent) payload() ([]byte, error) {
	return json.Marshal(e)
}

// Notifier delivers status change events. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event StatusChangedEvent) error
}

// FanoutNotifier forwards every event to all sinks and joins their errors.
type FanoutNotifier struct {
	sinks   []Notifier
	logger  *zap.Logger
	metrics *Metrics
}

func NewFanoutNotifier(logger *zap.Logger, metrics *Metrics, sinks ...Notifier) *FanoutNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	var active []Notifier
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	return &FanoutNotifier{sinks: active, logger: logger, metrics: metrics}
}

func (f *FanoutNotifier) Name() string { return "fanout" }

// Sinks lists the names of the configured sinks.
func (f *FanoutNotifier) Sinks() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return names
}

func (f *FanoutNotifier) Notify(ctx context.Context, event StatusChangedEvent) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Notify(ctx, event); err != nil {
			f.metrics.observeNotifyFailure(s.Name())
			f.logger.Warn("status notification failed",
				zap.String("sink", s.Name()),
				zap.String("case_id", event.CaseID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
