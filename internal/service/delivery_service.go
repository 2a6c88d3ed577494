package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/delivery-simulator/internal/domain"
	"github.com/kursadbilgin/delivery-simulator/internal/observability"
	"github.com/kursadbilgin/delivery-simulator/internal/repository"
	"github.com/kursadbilgin/delivery-simulator/internal/simrand"
	"go.uber.org/zap"
)

const (
	DefaultCancelReason = "Cancelled by client"

	maxCancelAttempts = 3
	defaultListLimit  = 100
	maxListLimit      = 1000
)

type CreateDeliveryInput struct {
	OrderID         string
	PickupAddress   string
	DeliveryAddress string
	IdempotencyKey  *string
	CallbackURL     *string
	ForceFailure    bool
}

type ListParams struct {
	Status *domain.Status
	Limit  int
}

// LatencyRange bounds the artificial delay added to gateway calls. A zero
// range disables it.
type LatencyRange struct {
	Min time.Duration
	Max time.Duration
}

// DeliveryService is the provider-facing gateway: it creates, looks up,
// lists and cancels deliveries.
type DeliveryService struct {
	deliveries repository.DeliveryRepository
	notifier   Notifier
	random     simrand.Source
	latency    LatencyRange
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	newID      func() string
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewDeliveryService(
	deliveries repository.DeliveryRepository,
	notifier Notifier,
	random simrand.Source,
	latency LatencyRange,
	logger *zap.Logger,
) (*DeliveryService, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if random == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if latency.Min < 0 || latency.Max < latency.Min {
		return nil, fmt.Errorf("invalid simulated latency range [%s, %s]", latency.Min, latency.Max)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryService{
		deliveries: deliveries,
		notifier:   notifier,
		random:     random,
		latency:    latency,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
		sleep:      sleepWithContext,
	}, nil
}

func (s *DeliveryService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Create registers a new delivery in status Created. When the input carries
// an idempotency key that was seen before, the existing delivery is returned
// with created=false and nothing is written.
func (s *DeliveryService) Create(ctx context.Context, input CreateDeliveryInput) (domain.Delivery, bool, error) {
	if err := s.simulateLatency(ctx); err != nil {
		return domain.Delivery{}, false, err
	}

	logger := observability.WithContextLogger(s.logger, ctx)
	idempotencyKey := normalizeOptionalString(input.IdempotencyKey)

	if idempotencyKey != nil {
		if existing, ok := s.deliveries.GetByIdempotencyKey(*idempotencyKey); ok {
			s.metrics.IncDeliveryCreated(true)
			logger.Info("idempotent create replayed", observability.DeliveryFields(existing)...)
			return existing, false, nil
		}
	}

	delivery := &domain.Delivery{
		ID:              s.newID(),
		OrderID:         strings.TrimSpace(input.OrderID),
		PickupAddress:   strings.TrimSpace(input.PickupAddress),
		DeliveryAddress: strings.TrimSpace(input.DeliveryAddress),
		Status:          domain.StatusCreated,
		IdempotencyKey:  idempotencyKey,
		CallbackURL:     normalizeOptionalString(input.CallbackURL),
		ForceFailure:    input.ForceFailure,
		Driver:          newDriver(s.random),
		CreatedAt:       s.now().UTC(),
	}

	if err := delivery.Validate(); err != nil {
		return domain.Delivery{}, false, err
	}

	if !s.deliveries.Insert(delivery) {
		// A concurrent request with the same key won the insert.
		if idempotencyKey != nil {
			if existing, ok := s.deliveries.GetByIdempotencyKey(*idempotencyKey); ok {
				s.metrics.IncDeliveryCreated(true)
				logger.Info("idempotent create replayed", observability.DeliveryFields(existing)...)
				return existing, false, nil
			}
		}
		return domain.Delivery{}, false, fmt.Errorf("%w: failed to store delivery %s", domain.ErrConflict, delivery.ID)
	}

	s.metrics.IncDeliveryCreated(false)
	logger.Info("delivery created",
		append(observability.DeliveryFields(*delivery),
			zap.Bool("forceFailure", delivery.ForceFailure),
			zap.Bool("hasCallback", delivery.CallbackURL != nil),
		)...,
	)

	return delivery.Clone(), true, nil
}

func (s *DeliveryService) GetByID(ctx context.Context, id string) (domain.Delivery, error) {
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return domain.Delivery{}, fmt.Errorf("%w: id is required", domain.ErrValidation)
	}

	if err := s.simulateLatency(ctx); err != nil {
		return domain.Delivery{}, err
	}

	delivery, ok := s.deliveries.GetByID(trimmedID)
	if !ok {
		return domain.Delivery{}, fmt.Errorf("%w: delivery %s", domain.ErrNotFound, trimmedID)
	}
	return delivery, nil
}

// Cancel moves a non-terminal delivery to Cancelled and notifies its
// callback. Writes race with the lifecycle scheduler, so a lost
// compare-and-swap re-reads the record and tries again.
func (s *DeliveryService) Cancel(ctx context.Context, id string, reason string) (domain.Delivery, error) {
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return domain.Delivery{}, fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultCancelReason
	}

	logger := observability.WithContextLogger(s.logger, ctx)

	for attempt := 1; attempt <= maxCancelAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Delivery{}, err
		}

		current, ok := s.deliveries.GetByID(trimmedID)
		if !ok {
			return domain.Delivery{}, fmt.Errorf("%w: delivery %s", domain.ErrNotFound, trimmedID)
		}
		if current.Status.IsTerminal() {
			return domain.Delivery{}, fmt.Errorf("%w: delivery %s is already %s", domain.ErrInvalidState, trimmedID, current.Status)
		}

		from := current.Status
		if err := current.Transition(domain.StatusCancelled, s.now(), reason); err != nil {
			return domain.Delivery{}, err
		}

		if !s.deliveries.CompareAndSwap(&current) {
			logger.Debug("delivery changed during cancel, retrying",
				zap.String("deliveryId", trimmedID),
				zap.Int("attempt", attempt),
			)
			continue
		}

		s.metrics.IncTransition(from.String(), domain.StatusCancelled.String())
		logger.Info("delivery cancelled",
			append(observability.DeliveryFields(current), zap.String("from", from.String()))...,
		)
		if s.notifier != nil {
			s.notifier.NotifyAsync(current)
		}
		return current, nil
	}

	return domain.Delivery{}, fmt.Errorf("%w: delivery %s kept changing during cancel", domain.ErrConflict, trimmedID)
}

// List returns deliveries newest first, optionally filtered by status.
func (s *DeliveryService) List(ctx context.Context, params ListParams) ([]domain.Delivery, error) {
	if params.Status != nil && !params.Status.IsValid() {
		return nil, fmt.Errorf("%w: invalid status filter %q", domain.ErrValidation, *params.Status)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	all := s.deliveries.ListAll()
	deliveries := make([]domain.Delivery, 0, len(all))
	for _, d := range all {
		if params.Status != nil && d.Status != *params.Status {
			continue
		}
		deliveries = append(deliveries, d)
	}

	sort.Slice(deliveries, func(i, j int) bool {
		if deliveries[i].CreatedAt.Equal(deliveries[j].CreatedAt) {
			return deliveries[i].ID < deliveries[j].ID
		}
		return deliveries[i].CreatedAt.After(deliveries[j].CreatedAt)
	})

	if len(deliveries) > limit {
		deliveries = deliveries[:limit]
	}
	return deliveries, nil
}

func (s *DeliveryService) simulateLatency(ctx context.Context) error {
	delay := simrand.Between(s.random, s.latency.Min, s.latency.Max)
	if delay <= 0 {
		return ctx.Err()
	}
	return s.sleep(ctx, delay)
}

func normalizeOptionalString(value *string) *string {
	if value == nil {
		return nil
	}

	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
