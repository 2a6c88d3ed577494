package provider

import (
	"context"
	"time"

	"github.com/kursadbilgin/delivery-simulator/internal/domain"
)

// Provider is the outbound status notification port.
type Provider interface {
	Send(ctx context.Context, callbackURL string, event DeliveryEvent) (*ProviderResponse, error)
}

// ProviderResponse stores callback response metadata for logging.
type ProviderResponse struct {
	StatusCode int
	Body       string
}

// DeliveryEvent is the JSON body posted to a delivery's callback URL.
type DeliveryEvent struct {
	DeliveryID    string       `json:"deliveryId"`
	OrderID       string       `json:"orderId"`
	Status        string       `json:"status"`
	Timestamp     time.Time    `json:"timestamp"`
	FailureReason *string      `json:"failureReason,omitempty"`
	Driver        *DriverEvent `json:"driver,omitempty"`
}

type DriverEvent struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	VehicleID string `json:"vehicleId"`
}

// NewDeliveryEvent snapshots d into a notification payload stamped with at.
// The failure reason is only carried for Failed and Cancelled deliveries.
func NewDeliveryEvent(d domain.Delivery, at time.Time) DeliveryEvent {
	event := DeliveryEvent{
		DeliveryID: d.ID,
		OrderID:    d.OrderID,
		Status:     d.Status.String(),
		Timestamp:  at.UTC(),
	}

	if (d.Status == domain.StatusFailed || d.Status == domain.StatusCancelled) && d.FailureReason != nil {
		reason := *d.FailureReason
		event.FailureReason = &reason
	}
	if d.Driver != nil {
		event.Driver = &DriverEvent{
			Name:      d.Driver.Name,
			Phone:     d.Driver.Phone,
			VehicleID: d.Driver.VehicleID,
		}
	}

	return event
}
