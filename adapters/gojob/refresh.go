package gojob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-connectors/core"

	"github.com/goliatone/go-job/queue"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	defaultRefreshLookahead = 15 * time.Minute
	defaultSweepBatchSize   = 100
)

// Refresher is satisfied by *core.Service.
type Refresher interface {
	Refresh(ctx context.Context, provider string, userEmail string) (core.ProviderStatus, error)
}

type SchedulerOption func(*RefreshScheduler)

// WithLookahead sets how far ahead of expiry a credential is picked up.
func WithLookahead(lookahead time.Duration) SchedulerOption {
	return func(s *RefreshScheduler) {
		if lookahead > 0 {
			s.lookahead = lookahead
		}
	}
}

func WithBatchSize(size int) SchedulerOption {
	return func(s *RefreshScheduler) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

func WithSchedulerClock(clock core.Clock) SchedulerOption {
	return func(s *RefreshScheduler) {
		if clock != nil {
			s.now = clock
		}
	}
}

func WithSchedulerLogger(logger glog.Logger) SchedulerOption {
	return func(s *RefreshScheduler) {
		s.logger = glog.Ensure(logger)
	}
}

// RefreshScheduler enqueues a refresh job for every credential that carries a
// refresh token and expires inside the lookahead window.
type RefreshScheduler struct {
	lister    core.ExpiringCredentialLister
	enqueuer  queue.Enqueuer
	lookahead time.Duration
	batchSize int
	now       core.Clock
	logger    glog.Logger
}

func NewRefreshScheduler(lister core.ExpiringCredentialLister, enqueuer queue.Enqueuer, opts ...SchedulerOption) (*RefreshScheduler, error) {
	if lister == nil {
		return nil, fmt.Errorf("gojob: expiring credential lister is required")
	}
	if enqueuer == nil {
		return nil, fmt.Errorf("gojob: enqueuer is required")
	}
	scheduler := &RefreshScheduler{
		lister:    lister,
		enqueuer:  enqueuer,
		lookahead: defaultRefreshLookahead,
		batchSize: defaultSweepBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(scheduler)
		}
	}
	return scheduler, nil
}

// Sweep enqueues one batch and returns how many jobs were accepted. A failed
// enqueue does not stop the batch; the failures are joined into the error.
func (s *RefreshScheduler) Sweep(ctx context.Context) (int, error) {
	if s == nil || s.lister == nil || s.enqueuer == nil {
		return 0, fmt.Errorf("gojob: refresh scheduler is not configured")
	}
	before := s.now().Add(s.lookahead)
	records, err := s.lister.ListExpiring(ctx, before, s.batchSize)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	var errs []error
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		msg, err := RefreshMessage(record)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.enqueuer.Enqueue(ctx, msg); err != nil {
			s.logger.Warn("refresh enqueue failed",
				"provider", record.Provider,
				"user_email", record.UserEmail,
				"error", err.Error(),
			)
			errs = append(errs, fmt.Errorf("gojob: enqueue %s: %w", msg.IdempotencyKey, err))
			continue
		}
		enqueued++
	}
	s.logger.Debug("refresh sweep complete", "candidates", len(records), "enqueued", enqueued)
	return enqueued, errors.Join(errs...)
}

type WorkerOption func(*RefreshWorker)

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *RefreshWorker) {
		w.policy = policy
	}
}

func WithWorkerLogger(logger glog.Logger) WorkerOption {
	return func(w *RefreshWorker) {
		w.logger = glog.Ensure(logger)
	}
}

// RefreshWorker consumes refresh jobs. Outcomes the queue cannot fix by
// retrying are acked; remote and storage failures are nacked with backoff.
type RefreshWorker struct {
	refresher Refresher
	policy    RetryPolicy
	logger    glog.Logger

	mu       sync.Mutex
	attempts map[string]int
}

func NewRefreshWorker(refresher Refresher, opts ...WorkerOption) (*RefreshWorker, error) {
	if refresher == nil {
		return nil, fmt.Errorf("gojob: refresher is required")
	}
	w := &RefreshWorker{
		refresher: refresher,
		policy:    DefaultRetryPolicy(),
		logger:    glog.Nop(),
		attempts:  map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// ProcessNext dequeues one delivery and processes it.
func (w *RefreshWorker) ProcessNext(ctx context.Context, dequeuer queue.Dequeuer) error {
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is required")
	}
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	return w.Process(ctx, delivery)
}

// Process refreshes the credential named by the delivery and settles it.
// The returned error is the settle error, not the refresh outcome.
func (w *RefreshWorker) Process(ctx context.Context, delivery queue.Delivery) error {
	if w == nil || w.refresher == nil {
		return fmt.Errorf("gojob: refresh worker is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	key, err := RefreshTarget(msg)
	if err != nil {
		w.logger.Error("refresh job rejected", "error", err.Error())
		return delivery.Nack(ctx, w.policy.NormalizeAttempt(queue.NackOptions{
			DeadLetter: true,
			Reason:     core.ErrorCode(err),
		}, 0))
	}

	attempt := w.nextAttempt(msg.IdempotencyKey)
	_, err = w.refresher.Refresh(ctx, key.Provider, key.UserEmail)
	if err == nil {
		w.forget(msg.IdempotencyKey)
		return delivery.Ack(ctx)
	}

	code := core.ErrorCode(err)
	if !retryable(code) {
		w.forget(msg.IdempotencyKey)
		w.logger.Info("refresh job dropped",
			"provider", key.Provider,
			"user_email", key.UserEmail,
			"error_code", code,
		)
		return delivery.Ack(ctx)
	}

	opts := w.policy.NormalizeAttempt(queue.NackOptions{
		Delay:   w.policy.Backoff(attempt),
		Requeue: true,
		Reason:  code,
	}, attempt)
	if !opts.Requeue {
		w.forget(msg.IdempotencyKey)
	}
	w.logger.Warn("refresh job failed",
		"provider", key.Provider,
		"user_email", key.UserEmail,
		"attempt", attempt,
		"requeue", opts.Requeue,
		"error", err.Error(),
	)
	return delivery.Nack(ctx, opts)
}

func (w *RefreshWorker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *RefreshWorker) forget(key string) {
	w.mu.Lock()
	delete(w.attempts, key)
	w.mu.Unlock()
}

// retryable reports whether another delivery could change the outcome.
func retryable(code string) bool {
	switch code {
	case core.ErrorRefreshFailed, core.ErrorRemoteTimeout, core.ErrorStorageUnavailable, core.ErrorInternal:
		return true
	default:
		return false
	}
}
