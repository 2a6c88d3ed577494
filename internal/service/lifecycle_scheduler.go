package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/delivery-simulator/internal/domain"
	"github.com/kursadbilgin/delivery-simulator/internal/observability"
	"github.com/kursadbilgin/delivery-simulator/internal/repository"
	"github.com/kursadbilgin/delivery-simulator/internal/simrand"
	"go.uber.org/zap"
)

const (
	defaultSchedulerPollInterval = 5 * time.Second
	defaultSchedulerErrorBackoff = 10 * time.Second
	defaultTransitionDelay       = 30 * time.Second

	ReasonForcedFailure  = "Forced failure requested"
	ReasonTransitFailure = "Delivery failed during transit"
)

// SchedulerConfig controls lifecycle progression.
type SchedulerConfig struct {
	TransitionDelay   time.Duration
	FailurePercentage int
	PollInterval      time.Duration
	ErrorBackoff      time.Duration
}

// LifecycleScheduler advances non-terminal deliveries one step per pass:
// Created -> PickedUp -> OnTheWay -> Delivered, with forced and random
// failures along the way.
type LifecycleScheduler struct {
	deliveries        repository.DeliveryRepository
	notifier          Notifier
	random            simrand.Source
	logger            *zap.Logger
	metrics           *observability.Metrics
	transitionDelay   time.Duration
	failurePercentage int
	interval          time.Duration
	errorBackoff      time.Duration
	now               func() time.Time
	sleep             func(ctx context.Context, d time.Duration) error
}

func NewLifecycleScheduler(
	deliveries repository.DeliveryRepository,
	notifier Notifier,
	random simrand.Source,
	cfg SchedulerConfig,
	logger *zap.Logger,
) (*LifecycleScheduler, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if random == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if cfg.TransitionDelay < 0 {
		cfg.TransitionDelay = defaultTransitionDelay
	}
	if cfg.FailurePercentage < 0 || cfg.FailurePercentage > 100 {
		return nil, fmt.Errorf("failure percentage must be within [0,100], got %d", cfg.FailurePercentage)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultSchedulerPollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultSchedulerErrorBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LifecycleScheduler{
		deliveries:        deliveries,
		notifier:          notifier,
		random:            random,
		logger:            logger,
		transitionDelay:   cfg.TransitionDelay,
		failurePercentage: cfg.FailurePercentage,
		interval:          cfg.PollInterval,
		errorBackoff:      cfg.ErrorBackoff,
		now:               time.Now,
		sleep:             sleepWithContext,
	}, nil
}

func (s *LifecycleScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs passes until ctx is cancelled. A failed pass is logged and
// followed by the error backoff instead of the poll interval.
func (s *LifecycleScheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.logger.Info("lifecycle scheduler started",
		zap.Duration("pollInterval", s.interval),
		zap.Duration("transitionDelay", s.transitionDelay),
		zap.Int("failurePercentage", s.failurePercentage),
	)

	for {
		wait := s.interval
		if err := s.runPass(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Error("lifecycle scheduler pass failed",
				zap.Error(err),
				zap.Duration("backoff", s.errorBackoff),
			)
			wait = s.errorBackoff
		}

		if err := s.sleep(ctx, wait); err != nil {
			break
		}
	}

	s.logger.Info("lifecycle scheduler stopped")
	return nil
}

// runPass evaluates every non-terminal delivery once. A panic anywhere in the
// pass is reported as an error so the loop survives it.
func (s *LifecycleScheduler) runPass(ctx context.Context) (err error) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler pass panicked: %v", r)
		}
		s.metrics.ObserveSchedulerPass(s.now().Sub(start), err)
	}()

	pending := s.deliveries.ListNonTerminal()
	s.metrics.SetDeliveriesInflight(len(pending))

	now := s.now()
	for i := range pending {
		if ctx.Err() != nil {
			return nil
		}
		s.advance(pending[i], now)
	}

	return nil
}

// advance applies at most one transition to d. The write only lands when d
// is unchanged since it was listed; otherwise the record is left for the next
// pass.
func (s *LifecycleScheduler) advance(d domain.Delivery, now time.Time) {
	next, reason, ok := s.nextStatus(d, now)
	if !ok {
		return
	}

	from := d.Status
	if err := d.Transition(next, now, reason); err != nil {
		s.logger.Warn("skipping invalid lifecycle transition",
			append(observability.DeliveryFields(d), zap.Error(err))...,
		)
		return
	}

	if !s.deliveries.CompareAndSwap(&d) {
		s.logger.Info("delivery changed during scheduler pass, skipping",
			zap.String("deliveryId", d.ID),
			zap.String("from", from.String()),
			zap.String("to", next.String()),
		)
		return
	}

	s.metrics.IncTransition(from.String(), next.String())
	s.logger.Info("delivery status advanced",
		append(observability.DeliveryFields(d), zap.String("from", from.String()))...,
	)

	if s.notifier != nil {
		s.notifier.NotifyAsync(d)
	}
}

// nextStatus decides the transition for d at now. Forced failure wins over
// everything, the transit failure draw happens once per pass while OnTheWay,
// and otherwise the record moves forward once it has sat in its status for
// the transition delay.
func (s *LifecycleScheduler) nextStatus(d domain.Delivery, now time.Time) (domain.Status, string, bool) {
	elapsed := now.Sub(d.StatusSince())
	due := elapsed >= s.transitionDelay

	switch d.Status {
	case domain.StatusCreated:
		if d.ForceFailure {
			return domain.StatusFailed, ReasonForcedFailure, true
		}
		if due {
			return domain.StatusPickedUp, "", true
		}
	case domain.StatusPickedUp:
		if due {
			return domain.StatusOnTheWay, "", true
		}
	case domain.StatusOnTheWay:
		if simrand.Percent(s.random, s.failurePercentage) {
			return domain.StatusFailed, ReasonTransitFailure, true
		}
		if due {
			return domain.StatusDelivered, "", true
		}
	}

	return "", "", false
}
