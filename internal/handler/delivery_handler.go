package handler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/delivery-simulator/internal/domain"
	"github.com/kursadbilgin/delivery-simulator/internal/service"
)

const (
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"
)

type DeliveryService interface {
	Create(ctx context.Context, input service.CreateDeliveryInput) (domain.Delivery, bool, error)
	GetByID(ctx context.Context, id string) (domain.Delivery, error)
	Cancel(ctx context.Context, id string, reason string) (domain.Delivery, error)
	List(ctx context.Context, params service.ListParams) ([]domain.Delivery, error)
}

type DeliveryHandler struct {
	service  DeliveryService
	validate *validator.Validate
}

func NewDeliveryHandler(service DeliveryService) (*DeliveryHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("delivery service is required")
	}
	return &DeliveryHandler{service: service, validate: newValidator()}, nil
}

func RegisterDeliveryRoutes(router fiber.Router, service DeliveryService) error {
	h, err := NewDeliveryHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/deliveries", h.CreateDelivery)
	v1.Get("/deliveries", h.ListDeliveries)
	v1.Get("/deliveries/:id", h.GetDelivery)
	v1.Post("/deliveries/:id/cancel", h.CancelDelivery)

	return nil
}

type createDeliveryRequest struct {
	OrderID         string  `json:"orderId" validate:"required,max=128"`
	PickupAddress   string  `json:"pickupAddress" validate:"required,max=512"`
	DeliveryAddress string  `json:"deliveryAddress" validate:"required,max=512"`
	IdempotencyKey  *string `json:"idempotencyKey" validate:"omitempty,max=255"`
	CallbackURL     *string `json:"callbackUrl" validate:"omitempty,http_url"`
	ForceFailure    bool    `json:"forceFailure"`
}

type cancelDeliveryRequest struct {
	Reason string `json:"reason" validate:"max=512"`
}

type driverResponse struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	VehicleID string `json:"vehicleId"`
}

type deliveryResponse struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"orderId"`
	PickupAddress   string          `json:"pickupAddress"`
	DeliveryAddress string          `json:"deliveryAddress"`
	Status          string          `json:"status"`
	IdempotencyKey  *string         `json:"idempotencyKey,omitempty"`
	CallbackURL     *string         `json:"callbackUrl,omitempty"`
	ForceFailure    bool            `json:"forceFailure"`
	Driver          *driverResponse `json:"driver,omitempty"`
	FailureReason   *string         `json:"failureReason,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	PickedUpAt      *time.Time      `json:"pickedUpAt,omitempty"`
	OnTheWayAt      *time.Time      `json:"onTheWayAt,omitempty"`
	DeliveredAt     *time.Time      `json:"deliveredAt,omitempty"`
	FailedAt        *time.Time      `json:"failedAt,omitempty"`
	CancelledAt     *time.Time      `json:"cancelledAt,omitempty"`
}

type listDeliveriesResponse struct {
	Data []deliveryResponse `json:"data"`
	Meta listMeta           `json:"meta"`
}

type listMeta struct {
	Count int `json:"count"`
}

// CreateDelivery answers 201 for a new delivery and 200 with the
// Idempotent-Replayed header when the idempotency key was already used.
func (h *DeliveryHandler) CreateDelivery(c *fiber.Ctx) error {
	var req createDeliveryRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	// The header wins over the body field.
	if key := strings.TrimSpace(c.Get(HeaderIdempotencyKey)); key != "" {
		req.IdempotencyKey = &key
	}

	if err := h.validate.Struct(req); err != nil {
		return toHTTPError(validationError(err))
	}

	delivery, created, err := h.service.Create(c.UserContext(), service.CreateDeliveryInput{
		OrderID:         req.OrderID,
		PickupAddress:   req.PickupAddress,
		DeliveryAddress: req.DeliveryAddress,
		IdempotencyKey:  req.IdempotencyKey,
		CallbackURL:     req.CallbackURL,
		ForceFailure:    req.ForceFailure,
	})
	if err != nil {
		return toHTTPError(err)
	}

	status := fiber.StatusCreated
	if !created {
		c.Set(HeaderIdempotentReplayed, "true")
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(toDeliveryResponse(delivery))
}

func (h *DeliveryHandler) GetDelivery(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	delivery, err := h.service.GetByID(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDeliveryResponse(delivery))
}

func (h *DeliveryHandler) CancelDelivery(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var req cancelDeliveryRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := h.validate.Struct(req); err != nil {
			return toHTTPError(validationError(err))
		}
	}

	delivery, err := h.service.Cancel(c.UserContext(), id, req.Reason)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDeliveryResponse(delivery))
}

func (h *DeliveryHandler) ListDeliveries(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	deliveries, err := h.service.List(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		data = append(data, toDeliveryResponse(d))
	}

	return c.Status(fiber.StatusOK).JSON(listDeliveriesResponse{
		Data: data,
		Meta: listMeta{Count: len(data)},
	})
}

func parseListParams(c *fiber.Ctx) (service.ListParams, error) {
	params := service.ListParams{
		Limit: c.QueryInt("limit", 0),
	}
	if params.Limit < 0 {
		return service.ListParams{}, fmt.Errorf("%w: limit must be >= 0", domain.ErrValidation)
	}

	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := domain.ParseStatusFromString(raw)
		if err != nil {
			return service.ListParams{}, err
		}
		params.Status = &status
	}

	return params, nil
}

func toDeliveryResponse(d domain.Delivery) deliveryResponse {
	resp := deliveryResponse{
		ID:              d.ID,
		OrderID:         d.OrderID,
		PickupAddress:   d.PickupAddress,
		DeliveryAddress: d.DeliveryAddress,
		Status:          d.Status.String(),
		IdempotencyKey:  d.IdempotencyKey,
		CallbackURL:     d.CallbackURL,
		ForceFailure:    d.ForceFailure,
		FailureReason:   d.FailureReason,
		CreatedAt:       d.CreatedAt,
		PickedUpAt:      d.PickedUpAt,
		OnTheWayAt:      d.OnTheWayAt,
		DeliveredAt:     d.DeliveredAt,
		FailedAt:        d.FailedAt,
		CancelledAt:     d.CancelledAt,
	}
	if d.Driver != nil {
		resp.Driver = &driverResponse{
			Name:      d.Driver.Name,
			Phone:     d.Driver.Phone,
			VehicleID: d.Driver.VehicleID,
		}
	}
	return resp
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", domain.ErrValidation, fe.Field())
	case "max":
		return fmt.Errorf("%w: %s must be at most %s characters", domain.ErrValidation, fe.Field(), fe.Param())
	case "http_url":
		return fmt.Errorf("%w: %s must be an absolute http(s) URL", domain.ErrValidation, fe.Field())
	default:
		return fmt.Errorf("%w: %s failed %s validation", domain.ErrValidation, fe.Field(), fe.Tag())
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
