package domain

import (
	"fmt"
	"strings"
)

// Status represents the lifecycle state of a delivery.
type Status string

const (
	StatusCreated   Status = "Created"
	StatusPickedUp  Status = "PickedUp"
	StatusOnTheWay  Status = "OnTheWay"
	StatusDelivered Status = "Delivered"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

var allStatuses = []Status{
	StatusCreated,
	StatusPickedUp,
	StatusOnTheWay,
	StatusDelivered,
	StatusFailed,
	StatusCancelled,
}

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusCreated, StatusPickedUp, StatusOnTheWay, StatusDelivered, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Rank orders statuses along the forward path. Terminal states share the
// highest rank.
func (s Status) Rank() int {
	switch s {
	case StatusCreated:
		return 0
	case StatusPickedUp:
		return 1
	case StatusOnTheWay:
		return 2
	case StatusDelivered, StatusFailed, StatusCancelled:
		return 3
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next is a legal step of
// the lifecycle.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusCreated:
		return next == StatusPickedUp || next == StatusFailed || next == StatusCancelled
	case StatusPickedUp:
		return next == StatusOnTheWay || next == StatusCancelled
	case StatusOnTheWay:
		return next == StatusDelivered || next == StatusFailed || next == StatusCancelled
	}
	return false
}

// ParseStatusFromString matches status names case-insensitively and returns
// the canonical casing.
func ParseStatusFromString(s string) (Status, error) {
	normalized := strings.TrimSpace(s)
	for _, st := range allStatuses {
		if strings.EqualFold(normalized, st.String()) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
}
