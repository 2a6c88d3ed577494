package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/delivery-simulator/internal/domain"
	"github.com/kursadbilgin/delivery-simulator/internal/observability"
	"github.com/kursadbilgin/delivery-simulator/internal/provider"
	"github.com/kursadbilgin/delivery-simulator/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	defaultWebhookRetryCount = 3
	defaultWebhookTimeout    = 30 * time.Second
	baseNotifyBackoff        = time.Second
	maxNotifyBackoffExponent = 16
)

// Notifier receives deliveries whose status just changed. Implementations
// must return immediately.
type Notifier interface {
	NotifyAsync(d domain.Delivery)
}

// DispatcherConfig controls webhook delivery.
type DispatcherConfig struct {
	Enabled        bool
	RetryCount     int
	AttemptTimeout time.Duration
}

// NotificationDispatcher posts status changes to the delivery's callback URL
// with bounded retries. Failures never reach the caller.
type NotificationDispatcher struct {
	provider       provider.Provider
	rateLimiter    ratelimit.RateLimiter
	logger         *zap.Logger
	metrics        *observability.Metrics
	enabled        bool
	retryCount     int
	attemptTimeout time.Duration
	backoffUnit    time.Duration
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ Notifier = (*NotificationDispatcher)(nil)

func NewNotificationDispatcher(
	provider provider.Provider,
	rateLimiter ratelimit.RateLimiter,
	cfg DispatcherConfig,
	logger *zap.Logger,
) (*NotificationDispatcher, error) {
	if provider == nil {
		return nil, fmt.Errorf("notification provider is required")
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = defaultWebhookRetryCount
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultWebhookTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &NotificationDispatcher{
		provider:       provider,
		rateLimiter:    rateLimiter,
		logger:         logger,
		enabled:        cfg.Enabled,
		retryCount:     cfg.RetryCount,
		attemptTimeout: cfg.AttemptTimeout,
		backoffUnit:    baseNotifyBackoff,
		now:            time.Now,
		sleep:          sleepWithContext,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

func (n *NotificationDispatcher) SetMetrics(metrics *observability.Metrics) {
	if n == nil {
		return
	}
	n.metrics = metrics
}

// NotifyAsync runs Notify on its own goroutine. Calls after Close are
// dropped.
func (n *NotificationDispatcher) NotifyAsync(d domain.Delivery) {
	if !n.shouldNotify(d) {
		return
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		n.logger.Debug("dispatcher closed, dropping notification", observability.DeliveryFields(d)...)
		return
	}
	n.wg.Add(1)
	n.mu.Unlock()

	snapshot := d.Clone()
	go func() {
		defer n.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				n.logger.Error("notification panicked",
					append(observability.DeliveryFields(snapshot), zap.Any("panic", r))...,
				)
			}
		}()
		n.Notify(n.ctx, snapshot)
	}()
}

// Notify posts d to its callback URL, retrying up to retryCount times with
// exponential backoff. It returns when the webhook succeeded, retries ran
// out, or ctx was cancelled.
func (n *NotificationDispatcher) Notify(ctx context.Context, d domain.Delivery) {
	if !n.shouldNotify(d) {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger := n.logger.With(observability.DeliveryFields(d)...)
	callbackURL := strings.TrimSpace(*d.CallbackURL)
	event := provider.NewDeliveryEvent(d, n.now())
	maxAttempts := n.retryCount + 1

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			logger.Debug("notification cancelled", zap.Int("attempt", attempt))
			return
		}

		err := n.attempt(ctx, callbackURL, event)
		if err == nil {
			n.metrics.IncNotificationSent()
			logger.Debug("notification delivered",
				zap.String("callbackUrl", callbackURL),
				zap.Int("attempt", attempt),
			)
			return
		}
		if ctx.Err() != nil {
			logger.Debug("notification cancelled", zap.Int("attempt", attempt))
			return
		}

		lastErr = err
		logger.Warn("notification attempt failed",
			zap.String("callbackUrl", callbackURL),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", maxAttempts),
			zap.Bool("timeout", isTimeout(err)),
			zap.Error(err),
		)

		if attempt == maxAttempts {
			break
		}
		if err := n.sleep(ctx, n.backoff(attempt)); err != nil {
			logger.Debug("notification cancelled during backoff", zap.Int("attempt", attempt))
			return
		}
	}

	n.metrics.IncNotificationFailed("retry_exhausted")
	logger.Error("notification dropped after exhausting retries",
		zap.String("callbackUrl", callbackURL),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
}

// Close stops accepting notifications and waits for in-flight ones. When ctx
// expires first, in-flight notifications are cancelled and Close returns
// ctx's error once they have stopped.
func (n *NotificationDispatcher) Close(ctx context.Context) error {
	if n == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-done
		return ctx.Err()
	}
}

func (n *NotificationDispatcher) attempt(ctx context.Context, callbackURL string, event provider.DeliveryEvent) error {
	attemptCtx, cancel := context.WithTimeout(ctx, n.attemptTimeout)
	defer cancel()

	if n.rateLimiter != nil {
		if err := n.rateLimiter.Wait(attemptCtx, ratelimit.KeyForURL(callbackURL)); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	start := n.now()
	_, err := n.provider.Send(attemptCtx, callbackURL, event)
	n.metrics.ObserveNotificationAttempt(err == nil, n.now().Sub(start))
	return err
}

// backoff returns 2^attempt backoff units, capped at the attempt timeout.
func (n *NotificationDispatcher) backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxNotifyBackoffExponent {
		attempt = maxNotifyBackoffExponent
	}

	delay := n.backoffUnit * time.Duration(1<<attempt)
	if delay > n.attemptTimeout {
		return n.attemptTimeout
	}
	return delay
}

func isTimeout(err error) bool {
	var providerErr *provider.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (n *NotificationDispatcher) shouldNotify(d domain.Delivery) bool {
	if n == nil || !n.enabled {
		return false
	}
	return d.CallbackURL != nil && strings.TrimSpace(*d.CallbackURL) != ""
}
