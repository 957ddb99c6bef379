package queue

import "context"

// Job handles one message type pulled off the pending queue. The alert
// redelivery job is the only implementation in this service.
type Job interface {
	// Name returns the unique identifier of the job.
	Name() string

	// Type returns the type of message that the job handles.
	Type() string

	// Handle processes the job with the given payload.
	Handle(ctx context.Context, payload interface{}) error
}
