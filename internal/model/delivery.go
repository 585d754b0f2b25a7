package model

import "time"

type UpdateType string

const (
	UpdatePeriodic       UpdateType = "periodic"
	UpdateStateChange    UpdateType = "state_change"
	UpdateIntervalChange UpdateType = "interval_change"
	UpdateCompletion     UpdateType = "completion"
)

func IsValidUpdateType(t UpdateType) bool {
	switch t {
	case UpdatePeriodic, UpdateStateChange, UpdateIntervalChange, UpdateCompletion:
		return true
	}
	return false
}

const (
	DeliveryPending         = "pending"
	DeliverySent            = "sent"
	DeliveryAcknowledged    = "acknowledged"
	DeliveryFailedRetryable = "failed_retryable"
	DeliveryFailedTerminal  = "failed_terminal"
)

// DeliveryRecord is the server-side bookkeeping for one outbound status
// surface update.
type DeliveryRecord struct {
	ID             string     `json:"id"`
	ActivityID     string     `json:"activityId"`
	SessionID      string     `json:"sessionId,omitempty"`
	UpdateType     UpdateType `json:"updateType"`
	Payload        []byte     `json:"-"`
	Status         string     `json:"status"`
	AttemptCount   int        `json:"attemptCount"`
	LastError      string     `json:"lastError,omitempty"`
	LastStatusCode int        `json:"lastStatusCode,omitempty"`
	APNsID         string     `json:"apnsId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
}

func (r DeliveryRecord) IsFinished() bool {
	return r.Status == DeliveryAcknowledged || r.Status == DeliveryFailedTerminal
}

const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"
)

// ActivityToken binds a status surface to the push token the device issued for it.
type ActivityToken struct {
	ActivityID  string    `json:"activityId"`
	UserID      string    `json:"userId"`
	PushToken   string    `json:"-"`
	Topic       string    `json:"topic,omitempty"`
	Environment string    `json:"environment"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
