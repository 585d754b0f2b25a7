package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"timersync/backend/internal/apns"
	"timersync/backend/internal/model"
	"timersync/backend/internal/ratelimit"
)

type Sender interface {
	Send(ctx context.Context, n apns.Notification) (apns.Response, error)
}

// DeliveryStore persists delivery records as they move through the pipeline.
type DeliveryStore interface {
	CreateDelivery(ctx context.Context, record *model.DeliveryRecord) error
	UpdateDelivery(ctx context.Context, record *model.DeliveryRecord) error
}

type TokenStore interface {
	DeactivateToken(ctx context.Context, activityID string) error
}

type Config struct {
	AttemptTimeout time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

type Pipeline struct {
	sender     Sender
	deliveries DeliveryStore
	tokens     TokenStore
	limiter    *ratelimit.Limiter
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

type PipelineOption func(*Pipeline)

func WithLimiter(limiter *ratelimit.Limiter) PipelineOption {
	return func(p *Pipeline) { p.limiter = limiter }
}

func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) PipelineOption {
	return func(p *Pipeline) { p.sleep = sleep }
}

func NewPipeline(sender Sender, deliveries DeliveryStore, tokens TokenStore, cfg Config, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		sender:     sender,
		deliveries: deliveries,
		tokens:     tokens,
		cfg:        cfg.withDefaults(),
		logger:     slog.Default(),
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type Request struct {
	Token     model.ActivityToken
	SessionID string
	Update    Update
}

// Deliver runs one update through Pending, Sent and Acknowledged, retrying
// retryable failures with backoff until the attempt budget is spent.
func (p *Pipeline) Deliver(ctx context.Context, req Request) (*model.DeliveryRecord, error) {
	now := p.now().UTC()
	payload, err := BuildNotification(req.Update, now)
	if err != nil {
		return nil, err
	}

	record := &model.DeliveryRecord{
		ID:         uuid.NewString(),
		ActivityID: req.Token.ActivityID,
		SessionID:  req.SessionID,
		UpdateType: req.Update.Type,
		Payload:    payload,
		Status:     model.DeliveryPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.deliveries.CreateDelivery(ctx, record); err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}

	log := p.logger.With("deliveryId", record.ID, "activityId", record.ActivityID, "updateType", record.UpdateType)
	notification := apns.Notification{
		DeviceToken: req.Token.PushToken,
		Topic:       req.Token.Topic,
		Priority:    PriorityFor(req.Update.Type),
		Payload:     payload,
	}

	authRetried := false
	for record.AttemptCount < p.cfg.MaxAttempts {
		if p.limiter != nil {
			if err := p.limiter.CheckAndConsume(); err != nil {
				failure := Classify(err)
				p.markRetryable(ctx, record, failure)
				log.Info("local rate limit reached, deferring", "wait", failure.RetryAfter)
				if err := p.sleep(ctx, failure.RetryAfter); err != nil {
					return p.finishTerminal(ctx, record, err)
				}
				continue
			}
		}

		record.AttemptCount++
		record.Status = model.DeliverySent
		p.save(ctx, record)

		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		resp, err := p.sender.Send(attemptCtx, notification)
		cancel()

		if err == nil {
			record.Status = model.DeliveryAcknowledged
			record.LastStatusCode = resp.StatusCode
			record.APNsID = resp.APNsID
			record.LastError = ""
			p.finish(ctx, record)
			log.Info("push delivered", "attempts", record.AttemptCount, "apnsId", resp.APNsID)
			return record, nil
		}
		if ctx.Err() != nil {
			return p.finishTerminal(ctx, record, ctx.Err())
		}

		failure := Classify(err)
		record.LastStatusCode = failure.StatusCode

		switch failure.Kind {
		case KindGone:
			log.Warn("push token no longer valid", "status", failure.StatusCode, "error", err)
			if p.tokens != nil {
				if deactivateErr := p.tokens.DeactivateToken(ctx, record.ActivityID); deactivateErr != nil {
					log.Error("deactivate token", "error", deactivateErr)
				}
			}
			return p.finishTerminal(ctx, record, err)

		case KindValidation:
			log.Error("push payload rejected",
				"status", failure.StatusCode,
				"error", err,
				"payloadBytes", len(payload),
				"contentStateKeys", payloadShape(payload),
			)
			return p.finishTerminal(ctx, record, err)

		case KindAuth:
			if authRetried {
				log.Error("provider token rejected twice", "status", failure.StatusCode)
				return p.finishTerminal(ctx, record, err)
			}
			authRetried = true
			p.markRetryable(ctx, record, failure)
			log.Warn("provider token rejected, retrying with a fresh token", "status", failure.StatusCode)
			continue

		case KindRateLimited:
			wait := failure.RetryAfter
			if wait <= 0 {
				wait = p.backoff(record.AttemptCount)
			}
			p.markRetryable(ctx, record, failure)
			log.Warn("push rate limited upstream", "attempt", record.AttemptCount, "wait", wait)
			if record.AttemptCount < p.cfg.MaxAttempts {
				if err := p.sleep(ctx, wait); err != nil {
					return p.finishTerminal(ctx, record, err)
				}
			}

		default:
			p.markRetryable(ctx, record, failure)
			log.Warn("push attempt failed", "attempt", record.AttemptCount, "timeout", isTimeout(err), "error", err)
			if record.AttemptCount < p.cfg.MaxAttempts {
				if err := p.sleep(ctx, p.backoff(record.AttemptCount)); err != nil {
					return p.finishTerminal(ctx, record, err)
				}
			}
		}
	}

	log.Error("push attempts exhausted", "attempts", record.AttemptCount, "lastError", record.LastError)
	return p.finishTerminal(ctx, record, fmt.Errorf("max attempts (%d) exceeded: %s", p.cfg.MaxAttempts, record.LastError))
}

// backoff doubles from the base delay: 1s, 2s, 4s with the defaults.
func (p *Pipeline) backoff(attempt int) time.Duration {
	delay := p.cfg.BaseBackoff << (attempt - 1)
	if delay <= 0 || delay > p.cfg.MaxBackoff {
		return p.cfg.MaxBackoff
	}
	return delay
}

func (p *Pipeline) markRetryable(ctx context.Context, record *model.DeliveryRecord, f Failure) {
	record.Status = model.DeliveryFailedRetryable
	if f.Err != nil {
		record.LastError = f.Err.Error()
	}
	p.save(ctx, record)
}

func (p *Pipeline) finishTerminal(ctx context.Context, record *model.DeliveryRecord, err error) (*model.DeliveryRecord, error) {
	record.Status = model.DeliveryFailedTerminal
	if err != nil {
		record.LastError = err.Error()
	}
	p.finish(ctx, record)
	return record, err
}

func (p *Pipeline) finish(ctx context.Context, record *model.DeliveryRecord) {
	finished := p.now().UTC()
	record.FinishedAt = &finished
	p.save(ctx, record)
}

func (p *Pipeline) save(ctx context.Context, record *model.DeliveryRecord) {
	record.UpdatedAt = p.now().UTC()
	saveCtx := ctx
	if ctx.Err() != nil {
		saveCtx = context.WithoutCancel(ctx)
	}
	if err := p.deliveries.UpdateDelivery(saveCtx, record); err != nil {
		p.logger.Error("persist delivery", "deliveryId", record.ID, "error", err)
	}
}

// payloadShape lists content-state keys without their values.
func payloadShape(payload []byte) []string {
	var envelope struct {
		APS struct {
			ContentState map[string]json.RawMessage `json:"content-state"`
		} `json:"aps"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil
	}
	keys := make([]string, 0, len(envelope.APS.ContentState))
	for k := range envelope.APS.ContentState {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
