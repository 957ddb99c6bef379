package usecase

import (
	"context"
	"fmt"

	"TrapFlow/internal/domain/models"
	"TrapFlow/pkg/queue"
)

// PendingAlertJob drains alerts persisted at the previous shutdown back into
// the dispatcher. Registered on the Redis queue consumer at startup.
type PendingAlertJob struct {
	dispatcher *AlertDispatcher
}

func NewPendingAlertJob(d *AlertDispatcher) *PendingAlertJob {
	return &PendingAlertJob{dispatcher: d}
}

func (j *PendingAlertJob) Name() string { return "pending-alert-redelivery" }

func (j *PendingAlertJob) Type() string { return PendingAlertType }

func (j *PendingAlertJob) Handle(_ context.Context, payload interface{}) error {
	e, err := queue.ParsePayload[models.TrapEvent](payload)
	if err != nil {
		return fmt.Errorf("pending alert payload: %w", err)
	}
	j.dispatcher.Submit(e)
	return nil
}
