package audit

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionOperationEnqueued     = "operation.enqueued"
	ActionOperationAdmitted     = "operation.admitted"
	ActionOperationCompleted    = "operation.completed"
	ActionOperationFailed       = "operation.failed"
	ActionOperationRetrying     = "operation.retrying"
	ActionOperationDeadLettered = "operation.dead_lettered"
	ActionOperationRejected     = "operation.rejected"
	ActionBreakerStateChanged   = "breaker.state_changed"
	ActionShutdown              = "governor.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryOperation = "governor.operation"
	CategoryBreaker   = "governor.breaker"
	CategorySystem    = "governor.system"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceOperation = "operation"
	ResourceBreaker   = "breaker"
	ResourceEngine    = "engine"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionOperationEnqueued,
		ActionOperationAdmitted,
		ActionOperationCompleted,
		ActionOperationFailed,
		ActionOperationRetrying,
		ActionOperationDeadLettered,
		ActionOperationRejected,
		ActionBreakerStateChanged,
		ActionShutdown,
	}
}
