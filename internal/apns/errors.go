package apns

import (
	"fmt"
	"net/http"
	"time"
)

// Reasons returned in the APNs error body that the pipeline acts on.
const (
	ReasonBadDeviceToken        = "BadDeviceToken"
	ReasonUnregistered          = "Unregistered"
	ReasonExpiredProviderToken  = "ExpiredProviderToken"
	ReasonInvalidProviderToken  = "InvalidProviderToken"
	ReasonMissingProviderToken  = "MissingProviderToken"
	ReasonTooManyProviderTokens = "TooManyProviderTokenUpdates"
	ReasonTooManyRequests       = "TooManyRequests"
	ReasonPayloadTooLarge       = "PayloadTooLarge"
	ReasonBadTopic              = "BadTopic"
)

// Error is a non-200 response from APNs.
type Error struct {
	Status     int
	Reason     string
	APNsID     string
	RetryAfter time.Duration
	Timestamp  time.Time
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("apns: status %d", e.Status)
	}
	return fmt.Sprintf("apns: status %d: %s", e.Status, e.Reason)
}

func (e *Error) IsAuth() bool {
	if e.Status == http.StatusUnauthorized {
		return true
	}
	if e.Status != http.StatusForbidden {
		return false
	}
	switch e.Reason {
	case ReasonExpiredProviderToken, ReasonInvalidProviderToken, ReasonMissingProviderToken:
		return true
	}
	return false
}

// IsGone reports that the device token will never accept pushes again.
func (e *Error) IsGone() bool {
	return e.Status == http.StatusGone || e.Reason == ReasonBadDeviceToken || e.Reason == ReasonUnregistered
}

func (e *Error) IsRateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}
