package service

import (
	"context"
	"sync"

	"github.com/kursadbilgin/delivery-simulator/internal/domain"
	"github.com/kursadbilgin/delivery-simulator/internal/provider"
	"github.com/kursadbilgin/delivery-simulator/internal/ratelimit"
	"github.com/kursadbilgin/delivery-simulator/internal/repository"
)

type fakeProvider struct {
	sendFn func(ctx context.Context, callbackURL string, event provider.DeliveryEvent) (*provider.ProviderResponse, error)
}

func (f *fakeProvider) Send(ctx context.Context, callbackURL string, event provider.DeliveryEvent) (*provider.ProviderResponse, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, callbackURL, event)
	}
	return &provider.ProviderResponse{StatusCode: 200}, nil
}

var _ provider.Provider = (*fakeProvider)(nil)

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key string) (bool, error)
	waitFn  func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

// recordingNotifier collects every delivery handed to NotifyAsync.
type recordingNotifier struct {
	mu       sync.Mutex
	received []domain.Delivery
}

func (r *recordingNotifier) NotifyAsync(d domain.Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, d.Clone())
}

func (r *recordingNotifier) statuses() []domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Status, 0, len(r.received))
	for _, d := range r.received {
		out = append(out, d.Status)
	}
	return out
}

var _ Notifier = (*recordingNotifier)(nil)

type fakeDeliveryRepo struct {
	repository.DeliveryRepository

	listNonTerminalFn func() []domain.Delivery
	compareAndSwapFn  func(d *domain.Delivery) bool
}

func (f *fakeDeliveryRepo) ListNonTerminal() []domain.Delivery {
	if f.listNonTerminalFn != nil {
		return f.listNonTerminalFn()
	}
	return nil
}

func (f *fakeDeliveryRepo) CompareAndSwap(d *domain.Delivery) bool {
	if f.compareAndSwapFn != nil {
		return f.compareAndSwapFn(d)
	}
	return true
}
