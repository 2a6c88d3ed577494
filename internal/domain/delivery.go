package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Driver is the courier assigned to a delivery at creation time.
type Driver struct {
	Name      string
	Phone     string
	VehicleID string
}

// Delivery is the core entity tracking one delivery request.
type Delivery struct {
	ID              string
	OrderID         string
	PickupAddress   string
	DeliveryAddress string
	Status          Status
	IdempotencyKey  *string
	CallbackURL     *string
	ForceFailure    bool
	Driver          *Driver
	FailureReason   *string
	CreatedAt       time.Time
	PickedUpAt      *time.Time
	OnTheWayAt      *time.Time
	DeliveredAt     *time.Time
	FailedAt        *time.Time
	CancelledAt     *time.Time
	// Version is owned by the store and bumped on every write.
	Version int64
}

func (d *Delivery) Validate() error {
	if strings.TrimSpace(d.OrderID) == "" {
		return fmt.Errorf("%w: orderId is required", ErrValidation)
	}
	if strings.TrimSpace(d.PickupAddress) == "" {
		return fmt.Errorf("%w: pickupAddress is required", ErrValidation)
	}
	if strings.TrimSpace(d.DeliveryAddress) == "" {
		return fmt.Errorf("%w: deliveryAddress is required", ErrValidation)
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, d.Status)
	}
	if d.CallbackURL != nil {
		parsed, err := url.ParseRequestURI(*d.CallbackURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("%w: callbackUrl must be an absolute http(s) URL", ErrValidation)
		}
	}
	return nil
}

// StatusSince returns the time the current status was entered.
func (d *Delivery) StatusSince() time.Time {
	var ts *time.Time
	switch d.Status {
	case StatusPickedUp:
		ts = d.PickedUpAt
	case StatusOnTheWay:
		ts = d.OnTheWayAt
	case StatusDelivered:
		ts = d.DeliveredAt
	case StatusFailed:
		ts = d.FailedAt
	case StatusCancelled:
		ts = d.CancelledAt
	}
	if ts != nil {
		return *ts
	}
	return d.CreatedAt
}

// Transition moves the delivery to next, stamping the matching timestamp.
// reason is recorded for Failed and Cancelled.
func (d *Delivery) Transition(next Status, at time.Time, reason string) error {
	if !d.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: cannot move delivery from %s to %s", ErrInvalidState, d.Status, next)
	}

	stamp := at.UTC()
	switch next {
	case StatusPickedUp:
		d.PickedUpAt = &stamp
	case StatusOnTheWay:
		d.OnTheWayAt = &stamp
	case StatusDelivered:
		d.DeliveredAt = &stamp
	case StatusFailed:
		d.FailedAt = &stamp
		d.FailureReason = &reason
	case StatusCancelled:
		d.CancelledAt = &stamp
		d.FailureReason = &reason
	}
	d.Status = next
	return nil
}

// Clone returns a deep copy so callers never share pointer fields with the
// store.
func (d Delivery) Clone() Delivery {
	out := d
	out.IdempotencyKey = cloneString(d.IdempotencyKey)
	out.CallbackURL = cloneString(d.CallbackURL)
	out.FailureReason = cloneString(d.FailureReason)
	out.PickedUpAt = cloneTime(d.PickedUpAt)
	out.OnTheWayAt = cloneTime(d.OnTheWayAt)
	out.DeliveredAt = cloneTime(d.DeliveredAt)
	out.FailedAt = cloneTime(d.FailedAt)
	out.CancelledAt = cloneTime(d.CancelledAt)
	if d.Driver != nil {
		driver := *d.Driver
		out.Driver = &driver
	}
	return out
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
