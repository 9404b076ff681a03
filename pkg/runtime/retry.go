package runtime

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/storage"
)

// Retry delay strategies
const (
	DelayFixed       = "fixed"
	DelayLinear      = "linear"
	DelayExponential = "exponential"
)

// RetryPolicy controls whether and when a failed execution is re-run
type RetryPolicy struct {
	// Enabled gates retrying entirely
	Enabled bool `json:"enabled"`

	// MaxRetries bounds the retry attempt count
	MaxRetries int `json:"maxRetries"`

	// DelayType is fixed, linear or exponential
	DelayType string `json:"delayType"`

	// DelayMinutes is the base delay
	DelayMinutes int `json:"delayMinutes"`
}

// DefaultRetryPolicy returns the policy used when an execution context
// carries none.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Enabled:      true,
		MaxRetries:   3,
		DelayType:    DelayExponential,
		DelayMinutes: 5,
	}
}

// PolicyFromContext reads a retry policy out of an execution context,
// falling back to the default for the map as a whole and for each
// missing field.
func PolicyFromContext(execCtx map[string]interface{}) RetryPolicy {
	policy := DefaultRetryPolicy()
	raw, ok := execCtx[KeyRetryPolicy].(map[string]interface{})
	if !ok {
		return policy
	}
	if enabled, ok := raw["enabled"].(bool); ok {
		policy.Enabled = enabled
	}
	if max, ok := numberValue(raw["maxRetries"]); ok {
		policy.MaxRetries = int(max)
	}
	if delayType, ok := raw["delayType"].(string); ok && delayType != "" {
		policy.DelayType = delayType
	}
	if minutes, ok := numberValue(raw["delayMinutes"]); ok {
		policy.DelayMinutes = int(minutes)
	}
	return policy
}

// Backoff computes the delay before the given retry attempt.
func Backoff(delayType string, delayMinutes, attempt int) time.Duration {
	base := time.Duration(delayMinutes) * time.Minute
	switch delayType {
	case DelayFixed:
		return base
	case DelayLinear:
		return base * time.Duration(attempt+1)
	default:
		// exponential
		return base * time.Duration(1<<uint(attempt))
	}
}

// nonRetryableKeywords classify an error message as permanent. The
// match is a heuristic used when the failure carries no structured
// error kind; unclassified errors default to retryable.
var nonRetryableKeywords = []string{
	"authentication",
	"authorization",
	"forbidden",
	"unauthorized",
	"validation",
	"configuration",
	"invalid",
	"malformed",
	"not found",
	"missing required",
}

// isNonRetryableMessage reports whether the error message matches the
// permanent-failure keyword set.
func isNonRetryableMessage(message string) bool {
	lowered := strings.ToLower(message)
	for _, keyword := range nonRetryableKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

// RetryExecutor re-runs an execution that was transitioned back to
// RUNNING by the retry manager. Implemented by the flow engine.
type RetryExecutor interface {
	ResumeExecution(execution *models.FlowExecution) error
}

// RetryManager decides retry eligibility, computes backoff and
// transitions failed executions back to runnable. It runs as an
// independent decision loop next to the scheduler.
type RetryManager struct {
	executions storage.ExecutionStore
	contexts   *ContextManager
	notifier   Notifier
	executor   RetryExecutor

	pollInterval time.Duration
	timers       *cron.Cron

	// now is swapped in tests
	now func() time.Time
}

// NewRetryManager creates a new retry manager
func NewRetryManager(executions storage.ExecutionStore, contexts *ContextManager, notifier Notifier, executor RetryExecutor, pollInterval time.Duration) *RetryManager {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &RetryManager{
		executions:   executions,
		contexts:     contexts,
		notifier:     notifier,
		executor:     executor,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// Start begins the retry decision loop.
func (r *RetryManager) Start() {
	r.timers = cron.New()
	r.timers.Schedule(cron.Every(r.pollInterval), cron.FuncJob(r.Sweep))
	r.timers.Start()
}

// Stop halts the decision loop, waiting briefly for an in-flight sweep.
func (r *RetryManager) Stop() {
	if r.timers == nil {
		return
	}
	ctx := r.timers.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("retry manager: timed out waiting for in-flight sweep")
	}
}

// ShouldRetry reports whether a failed execution is eligible to be
// scheduled for another attempt right now.
func (r *RetryManager) ShouldRetry(execution *models.FlowExecution) bool {
	if execution.Status != models.ExecutionFailed {
		return false
	}

	policy := PolicyFromContext(execution.Context)
	if !policy.Enabled {
		return false
	}
	if execution.RetryAttempt >= policy.MaxRetries {
		return false
	}
	if r.now().Before(r.NextRetryAt(execution, policy)) {
		return false
	}

	// A structured kind attached at the point of failure wins over the
	// keyword heuristic.
	switch execution.ErrorKind {
	case models.ErrorKindPermanent:
		return false
	case models.ErrorKindTransient:
		return true
	}
	return !isNonRetryableMessage(execution.ErrorMessage)
}

// NextRetryAt computes when the execution becomes eligible for its next
// attempt.
func (r *RetryManager) NextRetryAt(execution *models.FlowExecution, policy RetryPolicy) time.Time {
	return execution.CompletedAt.Add(Backoff(policy.DelayType, policy.DelayMinutes, execution.RetryAttempt))
}

// ScheduleRetry moves a failed execution into RETRY_PENDING, increments
// its attempt count and clears the prior error fields.
func (r *RetryManager) ScheduleRetry(execution *models.FlowExecution) error {
	if execution.Status != models.ExecutionFailed {
		return fmt.Errorf("cannot schedule retry for execution %s in status %s", execution.ID, execution.Status)
	}

	policy := PolicyFromContext(execution.Context)
	execution.ScheduledFor = r.NextRetryAt(execution, policy)
	execution.RetryAttempt++
	execution.Status = models.ExecutionRetryPending
	execution.ErrorMessage = ""
	execution.ErrorDetails = ""
	execution.ErrorKind = models.ErrorKindUnknown

	if err := r.executions.SaveExecution(execution); err != nil {
		return fmt.Errorf("failed to persist retry schedule: %w", err)
	}
	r.notifier.NotifyExecution(execution, EventExecutionRetry)
	return nil
}

// ExecuteRetry transitions a RETRY_PENDING execution back to RUNNING,
// resetting its timestamps and re-establishing its correlation context.
func (r *RetryManager) ExecuteRetry(execution *models.FlowExecution) error {
	if execution.Status != models.ExecutionRetryPending {
		return fmt.Errorf("cannot execute retry for execution %s in status %s", execution.ID, execution.Status)
	}

	execution.Status = models.ExecutionRunning
	execution.StartedAt = r.now()
	execution.CompletedAt = time.Time{}
	execution.ScheduledFor = time.Time{}
	execution.ErrorMessage = ""
	execution.ErrorDetails = ""
	execution.TriggerType = models.TriggerRetry

	if execution.Context == nil {
		execution.Context = make(map[string]interface{})
	}
	cc := r.contexts.RestoreCorrelationContext(execution.Context)
	cc.Apply(execution.Context)
	execution.CorrelationID = cc.CorrelationID

	if err := r.executions.SaveExecution(execution); err != nil {
		return fmt.Errorf("failed to persist retry transition: %w", err)
	}
	return nil
}

// CancelScheduledRetry moves a RETRY_PENDING execution to CANCELLED.
func (r *RetryManager) CancelScheduledRetry(execution *models.FlowExecution, reason string) error {
	if execution.Status != models.ExecutionRetryPending {
		return fmt.Errorf("cannot cancel retry for execution %s in status %s", execution.ID, execution.Status)
	}

	execution.Status = models.ExecutionCancelled
	execution.CompletedAt = r.now()
	execution.ErrorMessage = reason

	if err := r.executions.SaveExecution(execution); err != nil {
		return fmt.Errorf("failed to persist retry cancellation: %w", err)
	}
	r.notifier.NotifyExecution(execution, EventExecutionFailed)
	return nil
}

// Sweep runs one pass of the decision loop: due RETRY_PENDING
// executions are re-run, and eligible FAILED executions are scheduled.
// The pending set is read before any scheduling so an execution moved
// to RETRY_PENDING in this pass stays observable there until the next
// poll.
func (r *RetryManager) Sweep() {
	pending, err := r.executions.ListExecutionsByStatus(models.ExecutionRetryPending)
	if err != nil {
		log.Printf("retry manager: failed to list pending retries: %v", err)
		pending = nil
	}

	failed, err := r.executions.ListExecutionsByStatus(models.ExecutionFailed)
	if err != nil {
		log.Printf("retry manager: failed to list failed executions: %v", err)
	} else {
		for _, execution := range failed {
			if !r.ShouldRetry(execution) {
				continue
			}
			if err := r.ScheduleRetry(execution); err != nil {
				log.Printf("retry manager: %v", err)
			}
		}
	}

	for _, execution := range pending {
		if r.now().Before(execution.ScheduledFor) {
			continue
		}
		if err := r.ExecuteRetry(execution); err != nil {
			log.Printf("retry manager: %v", err)
			continue
		}
		if r.executor == nil {
			continue
		}
		if err := r.executor.ResumeExecution(execution); err != nil {
			// The engine records the failure on the execution itself;
			// the next sweep re-evaluates eligibility.
			log.Printf("retry manager: retry of execution %s failed: %v", execution.ID, err)
		}
	}
}
