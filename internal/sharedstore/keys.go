package sharedstore

// Keys of the shared container. Nothing outside this package reads or writes
// them directly.
const (
	keyPendingNavigation = "pendingTimerNavigation"

	keyWidgetAction     = "widgetTimerAction"
	keyWidgetTimerType  = "widgetTimerType"
	keyWidgetActionTime = "widgetActionTime"
	keyWidgetActivityID = "widgetActivityId"
	keyWidgetSessionID  = "widgetSessionId"

	keyLastAction     = "lastTimerAction"
	keyLastActionTime = "lastActionTime"
	keyLastActivityID = "lastActivityId"
	keyLastTimerType  = "lastTimerType"

	keyTimerIsCompleted  = "timerIsCompleted"
	keyTimerCompletedAt  = "timerCompletedAt"
	keyTimerElapsedTime  = "timerElapsedTime"
	keyPendingCompletion = "pendingTimerCompletion"

	keyTimerSession      = "timerSession"
	keyAppliedActionTime = "appliedActionTime"
)

var pendingKeys = []string{
	keyWidgetAction,
	keyWidgetTimerType,
	keyWidgetActionTime,
	keyWidgetActivityID,
	keyWidgetSessionID,
}

var completionKeys = []string{
	keyTimerIsCompleted,
	keyTimerCompletedAt,
	keyTimerElapsedTime,
}
