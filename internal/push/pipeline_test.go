package push

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"timersync/backend/internal/apns"
	"timersync/backend/internal/model"
	"timersync/backend/internal/ratelimit"
)

type scriptedSender struct {
	mu        sync.Mutex
	responses []error
	calls     int
	last      apns.Notification
}

func (s *scriptedSender) Send(ctx context.Context, n apns.Notification) (apns.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = n
	var err error
	if s.calls < len(s.responses) {
		err = s.responses[s.calls]
	}
	s.calls++
	if err != nil {
		return apns.Response{}, err
	}
	return apns.Response{StatusCode: http.StatusOK, APNsID: "apns-1"}, nil
}

type memoryDeliveries struct {
	mu       sync.Mutex
	statuses []string
	record   model.DeliveryRecord
}

func (m *memoryDeliveries) CreateDelivery(ctx context.Context, record *model.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, record.Status)
	m.record = *record
	return nil
}

func (m *memoryDeliveries) UpdateDelivery(ctx context.Context, record *model.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, record.Status)
	m.record = *record
	return nil
}

type recordingTokens struct{ deactivated []string }

func (r *recordingTokens) DeactivateToken(ctx context.Context, activityID string) error {
	r.deactivated = append(r.deactivated, activityID)
	return nil
}

type pipelineFixture struct {
	sender     *scriptedSender
	deliveries *memoryDeliveries
	tokens     *recordingTokens
	sleeps     []time.Duration
	pipeline   *Pipeline
}

func newPipelineFixture(responses []error, opts ...PipelineOption) *pipelineFixture {
	f := &pipelineFixture{
		sender:     &scriptedSender{responses: responses},
		deliveries: &memoryDeliveries{},
		tokens:     &recordingTokens{},
	}
	opts = append([]PipelineOption{
		WithClock(func() time.Time { return t0 }),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		}),
	}, opts...)
	f.pipeline = NewPipeline(f.sender, f.deliveries, f.tokens, Config{MaxAttempts: 4}, opts...)
	return f
}

func request(updateType model.UpdateType) Request {
	return Request{
		Token:     model.ActivityToken{ActivityID: "act-1", PushToken: "device", Active: true},
		SessionID: "s-1",
		Update:    Update{Type: updateType, State: BuildContentState(countdown(), t0)},
	}
}

func TestDeliverSuccess(t *testing.T) {
	f := newPipelineFixture(nil)

	record, err := f.pipeline.Deliver(context.Background(), request(model.UpdateStateChange))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if record.Status != model.DeliveryAcknowledged || record.AttemptCount != 1 || record.APNsID != "apns-1" {
		t.Fatalf("unexpected record %+v", record)
	}
	if f.sender.last.Priority != PriorityHigh {
		t.Fatalf("expected high priority, got %d", f.sender.last.Priority)
	}
	want := []string{model.DeliveryPending, model.DeliverySent, model.DeliveryAcknowledged}
	if len(f.deliveries.statuses) != len(want) {
		t.Fatalf("unexpected transitions %v", f.deliveries.statuses)
	}
	for i := range want {
		if f.deliveries.statuses[i] != want[i] {
			t.Fatalf("unexpected transitions %v", f.deliveries.statuses)
		}
	}
}

func TestDeliverRetriesTransientWithBackoff(t *testing.T) {
	f := newPipelineFixture([]error{
		errors.New("connection reset"),
		&apns.Error{Status: http.StatusServiceUnavailable},
	})

	record, err := f.pipeline.Deliver(context.Background(), request(model.UpdatePeriodic))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if record.AttemptCount != 3 || record.Status != model.DeliveryAcknowledged {
		t.Fatalf("unexpected record %+v", record)
	}
	if len(f.sleeps) != 2 || f.sleeps[0] != time.Second || f.sleeps[1] != 2*time.Second {
		t.Fatalf("unexpected backoff %v", f.sleeps)
	}
}

func TestDeliverGivesUpAfterBudget(t *testing.T) {
	failures := make([]error, 10)
	for i := range failures {
		failures[i] = errors.New("timeout")
	}
	f := newPipelineFixture(failures)

	record, err := f.pipeline.Deliver(context.Background(), request(model.UpdatePeriodic))
	if err == nil {
		t.Fatal("expected error")
	}
	if record.Status != model.DeliveryFailedTerminal || record.AttemptCount != 4 {
		t.Fatalf("unexpected record %+v", record)
	}
	if f.sender.calls != 4 {
		t.Fatalf("expected 4 sends, got %d", f.sender.calls)
	}
}

func TestDeliverAuthRetriesOnce(t *testing.T) {
	authErr := &apns.Error{Status: http.StatusForbidden, Reason: apns.ReasonExpiredProviderToken}

	f := newPipelineFixture([]error{authErr})
	if record, err := f.pipeline.Deliver(context.Background(), request(model.UpdateStateChange)); err != nil || record.AttemptCount != 2 {
		t.Fatalf("expected recovery on second attempt, got %+v %v", record, err)
	}
	if len(f.sleeps) != 0 {
		t.Fatal("auth retry should not back off")
	}

	f = newPipelineFixture([]error{authErr, authErr})
	record, err := f.pipeline.Deliver(context.Background(), request(model.UpdateStateChange))
	if err == nil || record.Status != model.DeliveryFailedTerminal || f.sender.calls != 2 {
		t.Fatalf("expected terminal failure after second auth error, got %+v %v", record, err)
	}
}

func TestDeliverRateLimitedWaitsAdvertisedWindow(t *testing.T) {
	f := newPipelineFixture([]error{&apns.Error{Status: http.StatusTooManyRequests, RetryAfter: 12 * time.Second}})

	if _, err := f.pipeline.Deliver(context.Background(), request(model.UpdatePeriodic)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(f.sleeps) != 1 || f.sleeps[0] != 12*time.Second {
		t.Fatalf("expected advertised wait, got %v", f.sleeps)
	}
}

func TestDeliverRateLimitedDoesNotWaitAfterLastAttempt(t *testing.T) {
	limited := &apns.Error{Status: http.StatusTooManyRequests, RetryAfter: time.Hour}
	f := newPipelineFixture([]error{limited, limited, limited, limited})

	record, err := f.pipeline.Deliver(context.Background(), request(model.UpdatePeriodic))
	if err == nil || record.Status != model.DeliveryFailedTerminal {
		t.Fatalf("expected terminal failure, got %+v %v", record, err)
	}
	if f.sender.calls != 4 {
		t.Fatalf("expected 4 sends, got %d", f.sender.calls)
	}
	if len(f.sleeps) != 3 {
		t.Fatalf("expected a wait between attempts only, got %v", f.sleeps)
	}
}

func TestDeliverValidationIsTerminal(t *testing.T) {
	f := newPipelineFixture([]error{&apns.Error{Status: http.StatusRequestEntityTooLarge, Reason: apns.ReasonPayloadTooLarge}})

	record, err := f.pipeline.Deliver(context.Background(), request(model.UpdateStateChange))
	if err == nil || record.Status != model.DeliveryFailedTerminal || f.sender.calls != 1 {
		t.Fatalf("expected one terminal attempt, got %+v %v", record, err)
	}
	if len(f.tokens.deactivated) != 0 {
		t.Fatal("validation failures must not deactivate tokens")
	}
}

func TestDeliverGoneDeactivatesToken(t *testing.T) {
	f := newPipelineFixture([]error{&apns.Error{Status: http.StatusGone, Reason: apns.ReasonUnregistered}})

	record, _ := f.pipeline.Deliver(context.Background(), request(model.UpdateStateChange))
	if record.Status != model.DeliveryFailedTerminal {
		t.Fatalf("unexpected status %s", record.Status)
	}
	if len(f.tokens.deactivated) != 1 || f.tokens.deactivated[0] != "act-1" {
		t.Fatalf("expected token deactivation, got %v", f.tokens.deactivated)
	}
}

func TestDeliverRespectsLocalLimiter(t *testing.T) {
	now := t0
	limiter := ratelimit.NewLimiter(time.Minute, 1, func() time.Time { return now })
	_ = limiter.CheckAndConsume()

	f := newPipelineFixture(nil, WithLimiter(limiter))
	f.pipeline.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		now = now.Add(d)
		return nil
	}

	record, err := f.pipeline.Deliver(context.Background(), request(model.UpdatePeriodic))
	if err != nil || record.Status != model.DeliveryAcknowledged {
		t.Fatalf("expected delivery after waiting, got %+v %v", record, err)
	}
	if len(f.sleeps) != 1 || f.sleeps[0] != time.Minute {
		t.Fatalf("expected one window wait, got %v", f.sleeps)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		kind FailureKind
	}{
		{errors.New("dial tcp: refused"), KindTransient},
		{context.DeadlineExceeded, KindTransient},
		{&ratelimit.ExceededError{RetryAfter: time.Second}, KindRateLimited},
		{&apns.Error{Status: 500}, KindTransient},
		{&apns.Error{Status: 401}, KindAuth},
		{&apns.Error{Status: 403, Reason: apns.ReasonInvalidProviderToken}, KindAuth},
		{&apns.Error{Status: 400, Reason: apns.ReasonBadDeviceToken}, KindGone},
		{&apns.Error{Status: 400, Reason: apns.ReasonBadTopic}, KindValidation},
		{&apns.Error{Status: 410, Reason: apns.ReasonUnregistered}, KindGone},
		{&apns.Error{Status: 413}, KindValidation},
		{&apns.Error{Status: 429}, KindRateLimited},
	}
	for _, tc := range tests {
		if got := Classify(tc.err).Kind; got != tc.kind {
			t.Errorf("Classify(%v) = %s, want %s", tc.err, got, tc.kind)
		}
	}
}
