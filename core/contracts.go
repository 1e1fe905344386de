package core

import (
	"context"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// WebhookRequest is the transport-neutral shape of an inbound webhook:
// raw body plus headers. Header names are matched case-insensitively.
type WebhookRequest struct {
	Provider string
	Headers  map[string]string
	Body     []byte
	Metadata map[string]any
}

type WebhookResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// TransformContext carries the provider-side lookup material a mapping call
// may need: status label tables, workspace members for user resolution, and
// whatever extra the adapter wants to thread through custom transforms.
type TransformContext struct {
	SourceProvider string
	TargetProvider string
	Statuses       map[string]string
	Members        []User
	Metadata       map[string]any
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Reason     string
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
}

// JobEnqueuer pushes maintenance work onto whatever queue backs the
// deployment. Implementations live in adapters/gojob.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// HeaderValue returns the trimmed value for key, matching case-insensitively.
func HeaderValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
