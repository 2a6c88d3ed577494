package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ProviderError describes a failed callback attempt. The dispatcher retries
// every failure the same way; StatusCode is zero when no response arrived.
type ProviderError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("callback error")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": status=%d", e.StatusCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Timeout reports whether the attempt ran out of time before a response.
func (e *ProviderError) Timeout() bool {
	if e == nil || e.Cause == nil {
		return false
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(e.Cause, &timeoutErr) && timeoutErr.Timeout() {
		return true
	}
	return errors.Is(e.Cause, context.DeadlineExceeded)
}
