package engine

import (
	"context"
	"encoding/json"

	"github.com/opensource-finance/harrier/internal/domain"
)

// publishAlerts emits one event per alert after the chunk has committed.
// Delivery is best effort; a bus failure never fails the run.
func (o *Orchestrator) publishAlerts(ctx context.Context, alerts []*domain.Alert) {
	if o.bus == nil {
		return
	}
	for _, alert := range alerts {
		payload, err := json.Marshal(alert)
		if err != nil {
			continue
		}
		if err := o.bus.Publish(ctx, domain.TopicAlertCreated, payload); err != nil {
			o.logger.Warn("failed to publish alert event",
				"alert_id", alert.ID,
				"error", err,
			)
		}
	}
}

type runCompletedEvent struct {
	CorrelationID string  `json:"correlationId"`
	Processed     int     `json:"processed"`
	AlertsCreated int     `json:"alertsCreated"`
	Chunks        int     `json:"chunks"`
	DurationSecs  float64 `json:"durationSeconds"`
}

func (o *Orchestrator) publishRunCompleted(ctx context.Context, result *RunResult) {
	if o.bus == nil {
		return
	}
	payload, err := json.Marshal(runCompletedEvent{
		CorrelationID: result.CorrelationID,
		Processed:     result.Processed,
		AlertsCreated: result.AlertsCreated,
		Chunks:        result.Chunks,
		DurationSecs:  roundSeconds(result.Duration),
	})
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, domain.TopicRunCompleted, payload); err != nil {
		o.logger.Warn("failed to publish run event", "error", err)
	}
}
