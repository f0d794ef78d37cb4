package completion

// Order notes written by the completion workflow.
const (
	noteOnHold      = "The payment could not be activated with the provider. Completion is scheduled to be retried later."
	noteFailed      = "The payment could not be activated with the provider. Completion was rescheduled %d times and will not be scheduled again."
	noteRescheduled = "The payment could not be activated after a scheduled recheck. Completion is scheduled to be retried later."
	noteScheduled   = "Scheduled completion of the order."
	noteCompleted   = "Payment activated by the provider, order completed."
)
