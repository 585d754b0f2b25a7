package push

import (
	"context"
	"errors"
	"net/http"
	"time"

	"timersync/backend/internal/apns"
	"timersync/backend/internal/ratelimit"
)

type FailureKind string

const (
	KindTransient   FailureKind = "transient"
	KindAuth        FailureKind = "auth"
	KindRateLimited FailureKind = "rate_limited"
	KindValidation  FailureKind = "validation"
	KindGone        FailureKind = "gone"
)

type Failure struct {
	Kind       FailureKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (f Failure) Terminal() bool {
	return f.Kind == KindValidation || f.Kind == KindGone
}

// Classify maps a send error onto the failure taxonomy.
func Classify(err error) Failure {
	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		return Failure{Kind: KindRateLimited, RetryAfter: exceeded.RetryAfter, Err: err}
	}

	var apnsErr *apns.Error
	if !errors.As(err, &apnsErr) {
		return Failure{Kind: KindTransient, Err: err}
	}

	f := Failure{StatusCode: apnsErr.Status, Err: err}
	switch {
	case apnsErr.IsGone():
		f.Kind = KindGone
	case apnsErr.IsAuth():
		f.Kind = KindAuth
	case apnsErr.IsRateLimited():
		f.Kind = KindRateLimited
		f.RetryAfter = apnsErr.RetryAfter
	case apnsErr.Status >= http.StatusInternalServerError:
		f.Kind = KindTransient
	case apnsErr.Status == http.StatusRequestEntityTooLarge, apnsErr.Status == http.StatusBadRequest:
		f.Kind = KindValidation
	case apnsErr.Status == http.StatusForbidden, apnsErr.Status == http.StatusNotFound:
		f.Kind = KindValidation
	default:
		f.Kind = KindTransient
	}
	return f
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
