package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	JobIDRefresh      = "connectors.refresh"
	ScriptPathRefresh = "connectors.refresh"

	ParamUserEmail = "user_email"
	ParamProvider  = "provider"
	ParamExpiresAt = "expires_at"

	metricJobEvents   = "connectors.job.events"
	metricJobDuration = "connectors.job.duration_ms"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		BaseDelay:       5 * time.Second,
		MaxDelay:        5 * time.Minute,
		DeadLetterOnMax: true,
	}
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// Backoff doubles BaseDelay per attempt, capped by MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// RefreshMessage builds the go-job message that refreshes one credential.
// The idempotency key includes the expiry so a sweep that runs twice before
// the refresh lands enqueues the credential once.
func RefreshMessage(record core.TokenRecord) (*job.ExecutionMessage, error) {
	key := core.NewCredentialKey(record.UserEmail, record.Provider)
	if err := key.Validate(); err != nil {
		return nil, core.NewBadInputError(err.Error())
	}
	expiresAt := record.ExpiresAt.UTC()
	return &job.ExecutionMessage{
		JobID:      JobIDRefresh,
		ScriptPath: ScriptPathRefresh,
		Parameters: map[string]any{
			ParamUserEmail: key.UserEmail,
			ParamProvider:  key.Provider,
			ParamExpiresAt: expiresAt.Format(time.RFC3339),
		},
		IdempotencyKey: fmt.Sprintf("%s::%s::%d", JobIDRefresh, key.String(), expiresAt.Unix()),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}, nil
}

// RefreshTarget reads the credential key back out of a refresh message.
func RefreshTarget(msg *job.ExecutionMessage) (core.CredentialKey, error) {
	if msg == nil {
		return core.CredentialKey{}, core.NewBadInputError("execution message is required")
	}
	if jobID := strings.TrimSpace(msg.JobID); jobID != JobIDRefresh {
		return core.CredentialKey{}, core.NewBadInputError(fmt.Sprintf("unexpected job id %q", jobID))
	}
	key := core.NewCredentialKey(stringParam(msg.Parameters, ParamUserEmail), stringParam(msg.Parameters, ParamProvider))
	if err := key.Validate(); err != nil {
		return core.CredentialKey{}, core.NewBadInputError(err.Error())
	}
	return key, nil
}

// WorkerHookAdapter reports go-job worker lifecycle events through glog and
// the metrics recorder.
type WorkerHookAdapter struct {
	logger  glog.Logger
	metrics core.MetricsRecorder
}

func NewWorkerHookAdapter(logger glog.Logger, metrics core.MetricsRecorder) *WorkerHookAdapter {
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return &WorkerHookAdapter{logger: glog.Ensure(logger), metrics: metrics}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	a.observe(ctx, "start", event)
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	a.observe(ctx, "success", event)
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	a.observe(ctx, "failure", event)
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	a.observe(ctx, "retry", event)
}

func (a *WorkerHookAdapter) observe(ctx context.Context, phase string, event worker.Event) {
	if a == nil {
		return
	}
	fields := eventFields(event)
	tags := map[string]string{"phase": phase, "job_id": stringField(fields, "job_id")}
	a.metrics.IncCounter(ctx, metricJobEvents, 1, tags)
	if event.Duration > 0 {
		a.metrics.ObserveHistogram(ctx, metricJobDuration, float64(event.Duration.Milliseconds()), tags)
	}

	args := make([]any, 0, len(fields)*2+2)
	args = append(args, "phase", phase)
	for _, key := range []string{"job_id", "idempotency_key", "provider", "user_email", "attempt", "delay_ms", "duration_ms", "error"} {
		if value, ok := fields[key]; ok {
			args = append(args, key, value)
		}
	}
	logger := glog.Ensure(a.logger.WithContext(ctx))
	switch phase {
	case "failure":
		logger.Error("connectors job failed", args...)
	case "retry":
		logger.Warn("connectors job retry", args...)
	default:
		logger.Debug("connectors job "+phase, args...)
	}
}

func eventFields(event worker.Event) map[string]any {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	fields := map[string]any{"attempt": event.Attempt}
	if message != nil {
		fields["job_id"] = strings.TrimSpace(message.JobID)
		if key := strings.TrimSpace(message.IdempotencyKey); key != "" {
			fields["idempotency_key"] = key
		}
		if provider := stringParam(message.Parameters, ParamProvider); provider != "" {
			fields["provider"] = provider
		}
		if user := stringParam(message.Parameters, ParamUserEmail); user != "" {
			fields["user_email"] = user
		}
	}
	if event.Delay > 0 {
		fields["delay_ms"] = event.Delay.Milliseconds()
	}
	if event.Duration > 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	return fields
}

func stringParam(params map[string]any, key string) string {
	if len(params) == 0 {
		return ""
	}
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	if typed, ok := value.(string); ok {
		return strings.TrimSpace(typed)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func stringField(fields map[string]any, key string) string {
	value, _ := fields[key].(string)
	return value
}

var _ worker.Hook = (*WorkerHookAdapter)(nil)
