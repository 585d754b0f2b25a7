package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	apperrors "timersync/backend/internal/errors"
	"timersync/backend/internal/model"
	"timersync/backend/internal/push"
	"timersync/backend/internal/repository"
)

const queueFullRetryAfter = 5 * time.Second

type ActivityService struct {
	tokens     *repository.TokenRepository
	deliveries *repository.DeliveryRepository
	timers     *repository.TimerRepository
	notifier   *Notifier
	logger     *slog.Logger
}

type RegisterTokenInput struct {
	PushToken   string
	Topic       string
	Environment string
}

func NewActivityService(
	tokens *repository.TokenRepository,
	deliveries *repository.DeliveryRepository,
	timers *repository.TimerRepository,
	notifier *Notifier,
	logger *slog.Logger,
) *ActivityService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityService{
		tokens:     tokens,
		deliveries: deliveries,
		timers:     timers,
		notifier:   notifier,
		logger:     logger,
	}
}

func (s *ActivityService) RegisterToken(ctx context.Context, userID, activityID string, input RegisterTokenInput) (*model.ActivityToken, *apperrors.APIError) {
	activityID = strings.TrimSpace(activityID)
	pushToken := strings.TrimSpace(input.PushToken)
	if activityID == "" {
		return nil, apperrors.BadRequest("invalid_activity", "activity id is required")
	}
	if pushToken == "" {
		return nil, apperrors.BadRequest("invalid_push_token", "pushToken is required")
	}
	environment := input.Environment
	if environment == "" {
		environment = model.EnvironmentProduction
	}
	if environment != model.EnvironmentProduction && environment != model.EnvironmentDevelopment {
		return nil, apperrors.BadRequest("invalid_environment", "environment must be production or development")
	}

	if _, apiErr := s.ownedToken(ctx, userID, activityID, true); apiErr != nil {
		return nil, apiErr
	}

	now := time.Now().UTC()
	token := model.ActivityToken{
		ActivityID:  activityID,
		UserID:      userID,
		PushToken:   pushToken,
		Topic:       input.Topic,
		Environment: environment,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.tokens.Upsert(ctx, &token); err != nil {
		return nil, apperrors.Internal("failed to store push token")
	}
	return &token, nil
}

func (s *ActivityService) DeleteToken(ctx context.Context, userID, activityID string) *apperrors.APIError {
	err := s.tokens.Delete(ctx, userID, activityID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("token_not_found", "push token not found")
	}
	if err != nil {
		return apperrors.Internal("failed to delete push token")
	}
	return nil
}

// Push queues an update for the latest session bound to the activity.
func (s *ActivityService) Push(ctx context.Context, userID, activityID, updateType string) *apperrors.APIError {
	kind := model.UpdateType(updateType)
	if updateType == "" {
		kind = model.UpdateStateChange
	}
	if !model.IsValidUpdateType(kind) {
		return apperrors.BadRequest("invalid_update_type", "updateType must be one of periodic, state_change, interval_change, completion")
	}
	if !s.notifier.Enabled() {
		return apperrors.Unavailable("push_disabled", "push delivery is not configured")
	}

	token, apiErr := s.ownedToken(ctx, userID, activityID, false)
	if apiErr != nil {
		return apiErr
	}
	if !token.Active {
		return apperrors.Conflict("token_inactive", "push token is no longer valid", nil)
	}

	session, err := s.timers.GetLatestByActivity(ctx, userID, activityID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("session_not_found", "no session for this activity")
	}
	if err != nil {
		return apperrors.Internal("failed to get session")
	}

	err = s.notifier.Notify(ctx, *session, kind)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, push.ErrQueueFull), errors.Is(err, push.ErrDispatcherClosed):
		apiErr := apperrors.Unavailable("push_queue_full", "push queue is full, retry later")
		apiErr.RetryAfter = queueFullRetryAfter
		return apiErr
	case errors.Is(err, errNoToken):
		return apperrors.Conflict("token_inactive", "push token is no longer valid", nil)
	default:
		s.logger.Error("enqueue manual push", "activityId", activityID, "error", err)
		return apperrors.Internal("failed to queue push")
	}
}

func (s *ActivityService) ListDeliveries(ctx context.Context, userID, activityID string, limit int) ([]model.DeliveryRecord, *apperrors.APIError) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if _, apiErr := s.ownedToken(ctx, userID, activityID, false); apiErr != nil {
		return nil, apiErr
	}
	records, err := s.deliveries.ListByActivity(ctx, activityID, limit)
	if err != nil {
		return nil, apperrors.Internal("failed to list deliveries")
	}
	return records, nil
}

// PruneDeliveries drops finished delivery records older than retention.
func (s *ActivityService) PruneDeliveries(ctx context.Context, retention time.Duration) error {
	removed, err := s.deliveries.PruneFinished(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.Info("pruned delivery records", "removed", removed)
	}
	return nil
}

// ownedToken loads the token of an activity. With allowMissing a missing token
// is not an error and the result is nil.
func (s *ActivityService) ownedToken(ctx context.Context, userID, activityID string, allowMissing bool) (*model.ActivityToken, *apperrors.APIError) {
	token, err := s.tokens.Get(ctx, activityID)
	if errors.Is(err, repository.ErrNotFound) {
		if allowMissing {
			return nil, nil
		}
		return nil, apperrors.NotFound("token_not_found", "push token not found")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to get push token")
	}
	if token.UserID != userID {
		return nil, apperrors.Forbidden("activity belongs to another user")
	}
	return token, nil
}
