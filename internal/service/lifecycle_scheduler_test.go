package service

import (
	"context"
	"testing"
	"time"

	"github.com/kursadbilgin/delivery-simulator/internal/domain"
	"github.com/kursadbilgin/delivery-simulator/internal/repository"
	"github.com/kursadbilgin/delivery-simulator/internal/simrand"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var schedulerTestStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newSchedulerTestDelivery(id string) *domain.Delivery {
	callbackURL := "https://hooks.example.com/" + id
	return &domain.Delivery{
		ID:              id,
		OrderID:         "order-" + id,
		PickupAddress:   "Kadikoy",
		DeliveryAddress: "Besiktas",
		Status:          domain.StatusCreated,
		CallbackURL:     &callbackURL,
		CreatedAt:       schedulerTestStart,
		Driver:          &domain.Driver{Name: "Can Demir", Phone: "+90 532 111 22 33", VehicleID: "06 KL 555"},
	}
}

type schedulerFixture struct {
	scheduler *LifecycleScheduler
	repo      *repository.MemoryDeliveryRepo
	notifier  *recordingNotifier
	now       time.Time
}

func newSchedulerFixture(t *testing.T, cfg SchedulerConfig, random simrand.Source) *schedulerFixture {
	t.Helper()

	f := &schedulerFixture{
		repo:     repository.NewMemoryDeliveryRepo(),
		notifier: &recordingNotifier{},
		now:      schedulerTestStart,
	}
	scheduler, err := NewLifecycleScheduler(f.repo, f.notifier, random, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLifecycleScheduler() error = %v", err)
	}
	scheduler.now = func() time.Time { return f.now }
	f.scheduler = scheduler
	return f
}

func (f *schedulerFixture) passAt(t *testing.T, at time.Time) {
	t.Helper()

	f.now = at
	if err := f.scheduler.runPass(context.Background()); err != nil {
		t.Fatalf("runPass() error = %v", err)
	}
}

func (f *schedulerFixture) mustGet(t *testing.T, id string) domain.Delivery {
	t.Helper()

	d, ok := f.repo.GetByID(id)
	if !ok {
		t.Fatalf("GetByID(%q) not found", id)
	}
	return d
}

func TestNewLifecycleSchedulerValidation(t *testing.T) {
	t.Parallel()

	repo := repository.NewMemoryDeliveryRepo()

	if _, err := NewLifecycleScheduler(nil, nil, simrand.Fixed(0), SchedulerConfig{}, nil); err == nil {
		t.Fatal("NewLifecycleScheduler(nil repo) error = nil, want error")
	}
	if _, err := NewLifecycleScheduler(repo, nil, nil, SchedulerConfig{}, nil); err == nil {
		t.Fatal("NewLifecycleScheduler(nil random) error = nil, want error")
	}
	if _, err := NewLifecycleScheduler(repo, nil, simrand.Fixed(0), SchedulerConfig{FailurePercentage: 101}, nil); err == nil {
		t.Fatal("NewLifecycleScheduler(101%) error = nil, want error")
	}

	scheduler, err := NewLifecycleScheduler(repo, nil, simrand.Fixed(0), SchedulerConfig{}, nil)
	if err != nil {
		t.Fatalf("NewLifecycleScheduler() error = %v", err)
	}
	if scheduler.interval != defaultSchedulerPollInterval {
		t.Fatalf("interval = %s, want %s", scheduler.interval, defaultSchedulerPollInterval)
	}
	if scheduler.errorBackoff != defaultSchedulerErrorBackoff {
		t.Fatalf("errorBackoff = %s, want %s", scheduler.errorBackoff, defaultSchedulerErrorBackoff)
	}
}

func TestLifecycleSchedulerHappyPath(t *testing.T) {
	t.Parallel()

	f := newSchedulerFixture(t, SchedulerConfig{TransitionDelay: time.Second}, simrand.Fixed(99))
	if !f.repo.Insert(newSchedulerTestDelivery("d-1")) {
		t.Fatal("Insert() = false, want true")
	}

	f.passAt(t, schedulerTestStart.Add(500*time.Millisecond))
	if got := f.mustGet(t, "d-1").Status; got != domain.StatusCreated {
		t.Fatalf("status before delay = %s, want Created", got)
	}

	f.passAt(t, schedulerTestStart.Add(1*time.Second))
	f.passAt(t, schedulerTestStart.Add(2*time.Second))
	f.passAt(t, schedulerTestStart.Add(3*time.Second))

	d := f.mustGet(t, "d-1")
	if d.Status != domain.StatusDelivered {
		t.Fatalf("status = %s, want Delivered", d.Status)
	}
	if d.PickedUpAt == nil || d.OnTheWayAt == nil || d.DeliveredAt == nil {
		t.Fatalf("timestamps not set: %+v", d)
	}
	if !d.CreatedAt.Before(*d.PickedUpAt) || !d.PickedUpAt.Before(*d.OnTheWayAt) || !d.OnTheWayAt.Before(*d.DeliveredAt) {
		t.Fatalf("timestamps out of order: created=%s picked=%s onTheWay=%s delivered=%s",
			d.CreatedAt, d.PickedUpAt, d.OnTheWayAt, d.DeliveredAt)
	}
	if d.FailureReason != nil {
		t.Fatalf("failure reason = %q, want nil", *d.FailureReason)
	}
	if d.Driver == nil || d.Driver.Name != "Can Demir" {
		t.Fatalf("driver = %+v, want unchanged", d.Driver)
	}

	want := []domain.Status{domain.StatusPickedUp, domain.StatusOnTheWay, domain.StatusDelivered}
	got := f.notifier.statuses()
	if len(got) != len(want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("notification[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	f.passAt(t, schedulerTestStart.Add(time.Hour))
	if len(f.notifier.statuses()) != len(want) {
		t.Fatal("terminal delivery should not be touched again")
	}
}

func TestLifecycleSchedulerAppliesOneTransitionPerPass(t *testing.T) {
	t.Parallel()

	f := newSchedulerFixture(t, SchedulerConfig{TransitionDelay: time.Second}, simrand.Fixed(99))
	if !f.repo.Insert(newSchedulerTestDelivery("d-1")) {
		t.Fatal("Insert() = false, want true")
	}

	f.passAt(t, schedulerTestStart.Add(time.Hour))

	if got := f.mustGet(t, "d-1").Status; got != domain.StatusPickedUp {
		t.Fatalf("status = %s, want PickedUp", got)
	}
}

func TestLifecycleSchedulerForcedFailureTakesPrecedence(t *testing.T) {
	t.Parallel()

	f := newSchedulerFixture(t, SchedulerConfig{TransitionDelay: 0}, simrand.Fixed(99))
	d := newSchedulerTestDelivery("d-1")
	d.ForceFailure = true
	if !f.repo.Insert(d) {
		t.Fatal("Insert() = false, want true")
	}

	f.passAt(t, schedulerTestStart.Add(time.Minute))

	got := f.mustGet(t, "d-1")
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want Failed", got.Status)
	}
	if got.FailureReason == nil || *got.FailureReason != ReasonForcedFailure {
		t.Fatalf("failure reason = %v, want %q", got.FailureReason, ReasonForcedFailure)
	}
	if got.PickedUpAt != nil {
		t.Fatalf("PickedUpAt = %s, want nil", got.PickedUpAt)
	}
	if got.FailedAt == nil {
		t.Fatal("FailedAt = nil, want set")
	}
}

func TestLifecycleSchedulerRandomFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		percentage int
		random     simrand.Source
		wantStatus domain.Status
	}{
		{name: "always fails", percentage: 100, random: simrand.Fixed(99), wantStatus: domain.StatusFailed},
		{name: "draw under threshold", percentage: 10, random: simrand.Fixed(9), wantStatus: domain.StatusFailed},
		{name: "draw at threshold", percentage: 10, random: simrand.Fixed(10), wantStatus: domain.StatusOnTheWay},
		{name: "never fails", percentage: 0, random: simrand.Fixed(0), wantStatus: domain.StatusOnTheWay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newSchedulerFixture(t, SchedulerConfig{
				TransitionDelay:   time.Minute,
				FailurePercentage: tt.percentage,
			}, tt.random)

			d := newSchedulerTestDelivery("d-1")
			pickedUpAt := schedulerTestStart.Add(time.Minute)
			onTheWayAt := schedulerTestStart.Add(2 * time.Minute)
			d.Status = domain.StatusOnTheWay
			d.PickedUpAt = &pickedUpAt
			d.OnTheWayAt = &onTheWayAt
			if !f.repo.Insert(d) {
				t.Fatal("Insert() = false, want true")
			}

			f.passAt(t, onTheWayAt.Add(time.Second))

			got := f.mustGet(t, "d-1")
			if got.Status != tt.wantStatus {
				t.Fatalf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if tt.wantStatus == domain.StatusFailed {
				if got.FailureReason == nil || *got.FailureReason != ReasonTransitFailure {
					t.Fatalf("failure reason = %v, want %q", got.FailureReason, ReasonTransitFailure)
				}
				if got.DeliveredAt != nil {
					t.Fatal("DeliveredAt set on failed delivery")
				}
			}
		})
	}
}

func TestLifecycleSchedulerSkipsRecordChangedDuringPass(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	store := repository.NewMemoryDeliveryRepo()
	if !store.Insert(newSchedulerTestDelivery("d-1")) {
		t.Fatal("Insert() = false, want true")
	}

	repo := &fakeDeliveryRepo{
		DeliveryRepository: store,
		compareAndSwapFn:   store.CompareAndSwap,
	}
	repo.listNonTerminalFn = func() []domain.Delivery {
		listed := store.ListNonTerminal()

		current, _ := store.GetByID("d-1")
		if err := current.Transition(domain.StatusCancelled, schedulerTestStart.Add(time.Second), "Cancelled by client"); err != nil {
			t.Fatalf("Transition() error = %v", err)
		}
		if !store.Update(&current) {
			t.Fatal("Update() = false, want true")
		}
		return listed
	}

	notifier := &recordingNotifier{}
	scheduler, err := NewLifecycleScheduler(repo, notifier, simrand.Fixed(99), SchedulerConfig{TransitionDelay: 0}, zap.New(core))
	if err != nil {
		t.Fatalf("NewLifecycleScheduler() error = %v", err)
	}
	scheduler.now = func() time.Time { return schedulerTestStart.Add(time.Minute) }

	if err := scheduler.runPass(context.Background()); err != nil {
		t.Fatalf("runPass() error = %v", err)
	}

	got, _ := store.GetByID("d-1")
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want Cancelled", got.Status)
	}
	if got.PickedUpAt != nil {
		t.Fatal("stale scheduler write landed")
	}
	if len(notifier.statuses()) != 0 {
		t.Fatalf("notifications = %v, want none", notifier.statuses())
	}
	if recorded.FilterMessage("delivery changed during scheduler pass, skipping").Len() != 1 {
		t.Fatal("expected skip log")
	}
}

func TestLifecycleSchedulerPanicBecomesPassError(t *testing.T) {
	t.Parallel()

	repo := &fakeDeliveryRepo{
		listNonTerminalFn: func() []domain.Delivery {
			panic("corrupt store")
		},
	}
	scheduler, err := NewLifecycleScheduler(repo, nil, simrand.Fixed(0), SchedulerConfig{}, nil)
	if err != nil {
		t.Fatalf("NewLifecycleScheduler() error = %v", err)
	}

	if err := scheduler.runPass(context.Background()); err == nil {
		t.Fatal("runPass() error = nil, want error")
	}
}

func TestLifecycleSchedulerStartBacksOffAfterFailedPass(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	calls := 0
	repo := &fakeDeliveryRepo{
		listNonTerminalFn: func() []domain.Delivery {
			calls++
			if calls == 1 {
				panic("corrupt store")
			}
			return nil
		},
	}
	scheduler, err := NewLifecycleScheduler(repo, nil, simrand.Fixed(0), SchedulerConfig{
		PollInterval: 2 * time.Second,
		ErrorBackoff: 7 * time.Second,
	}, zap.New(core))
	if err != nil {
		t.Fatalf("NewLifecycleScheduler() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits []time.Duration
	scheduler.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if len(waits) != 2 {
		t.Fatalf("waits = %v, want 2 entries", waits)
	}
	if waits[0] != 7*time.Second || waits[1] != 2*time.Second {
		t.Fatalf("waits = %v, want [7s 2s]", waits)
	}
	if recorded.FilterMessage("lifecycle scheduler pass failed").Len() != 1 {
		t.Fatal("expected one pass failure log")
	}
}

func TestLifecycleSchedulerStartDrivesDeliveryToCompletion(t *testing.T) {
	t.Parallel()

	repo := repository.NewMemoryDeliveryRepo()
	d := newSchedulerTestDelivery("d-1")
	d.CreatedAt = time.Now().UTC()
	if !repo.Insert(d) {
		t.Fatal("Insert() = false, want true")
	}

	notifier := &recordingNotifier{}
	scheduler, err := NewLifecycleScheduler(repo, notifier, simrand.New(1), SchedulerConfig{
		TransitionDelay: 0,
		PollInterval:    5 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewLifecycleScheduler() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := repo.GetByID("d-1")
		if got.Status == domain.StatusDelivered {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("status = %s, want Delivered before deadline", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}
