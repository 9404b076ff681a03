package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/storage"
)

func newTestRetryManager(t *testing.T) (*RetryManager, storage.ExecutionStore) {
	t.Helper()
	provider := storage.NewMemoryProvider()
	require.NoError(t, provider.Initialize())
	executions := provider.GetExecutionStore()
	manager := NewRetryManager(executions, NewContextManager(), NoopNotifier{}, nil, time.Minute)
	return manager, executions
}

func failedExecution(completedAt time.Time) *models.FlowExecution {
	return &models.FlowExecution{
		ID:           "exec-1",
		FlowID:       "flow-1",
		DeploymentID: "dep-1",
		Status:       models.ExecutionFailed,
		StartedAt:    completedAt.Add(-time.Minute),
		CompletedAt:  completedAt,
		ErrorMessage: "connection reset by peer",
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		name      string
		delayType string
		minutes   int
		attempt   int
		want      time.Duration
	}{
		{name: "fixed first attempt", delayType: DelayFixed, minutes: 5, attempt: 0, want: 5 * time.Minute},
		{name: "fixed third attempt", delayType: DelayFixed, minutes: 5, attempt: 2, want: 5 * time.Minute},
		{name: "linear first attempt", delayType: DelayLinear, minutes: 5, attempt: 0, want: 5 * time.Minute},
		{name: "linear second attempt", delayType: DelayLinear, minutes: 5, attempt: 1, want: 10 * time.Minute},
		{name: "linear third attempt", delayType: DelayLinear, minutes: 5, attempt: 2, want: 15 * time.Minute},
		{name: "exponential first attempt", delayType: DelayExponential, minutes: 5, attempt: 0, want: 5 * time.Minute},
		{name: "exponential second attempt", delayType: DelayExponential, minutes: 5, attempt: 1, want: 10 * time.Minute},
		{name: "exponential third attempt", delayType: DelayExponential, minutes: 5, attempt: 2, want: 20 * time.Minute},
		{name: "unknown type defaults to exponential", delayType: "surprise", minutes: 5, attempt: 1, want: 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(tt.delayType, tt.minutes, tt.attempt))
		})
	}
}

func TestPolicyFromContext(t *testing.T) {
	t.Run("missing policy yields the default", func(t *testing.T) {
		policy := PolicyFromContext(map[string]interface{}{})
		assert.Equal(t, DefaultRetryPolicy(), policy)
	})

	t.Run("partial policy keeps defaults for missing fields", func(t *testing.T) {
		policy := PolicyFromContext(map[string]interface{}{
			KeyRetryPolicy: map[string]interface{}{
				"maxRetries": float64(5),
			},
		})
		assert.Equal(t, 5, policy.MaxRetries)
		assert.Equal(t, DelayExponential, policy.DelayType)
		assert.Equal(t, 5, policy.DelayMinutes)
		assert.True(t, policy.Enabled)
	})

	t.Run("full policy overrides everything", func(t *testing.T) {
		policy := PolicyFromContext(map[string]interface{}{
			KeyRetryPolicy: map[string]interface{}{
				"enabled":      false,
				"maxRetries":   1,
				"delayType":    DelayFixed,
				"delayMinutes": 30,
			},
		})
		assert.False(t, policy.Enabled)
		assert.Equal(t, 1, policy.MaxRetries)
		assert.Equal(t, DelayFixed, policy.DelayType)
		assert.Equal(t, 30, policy.DelayMinutes)
	})
}

func TestShouldRetry(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("eligible after the backoff elapses", func(t *testing.T) {
		manager, _ := newTestRetryManager(t)
		manager.now = func() time.Time { return base.Add(6 * time.Minute) }

		assert.True(t, manager.ShouldRetry(failedExecution(base)))
	})

	t.Run("not eligible before the backoff elapses", func(t *testing.T) {
		manager, _ := newTestRetryManager(t)
		manager.now = func() time.Time { return base.Add(4 * time.Minute) }

		assert.False(t, manager.ShouldRetry(failedExecution(base)))
	})

	t.Run("only FAILED executions retry", func(t *testing.T) {
		manager, _ := newTestRetryManager(t)
		manager.now = func() time.Time { return base.Add(time.Hour) }

		execution := failedExecution(base)
		execution.Status = models.ExecutionCompleted
		assert.False(t, manager.ShouldRetry(execution))

		execution.Status = models.ExecutionCancelled
		assert.False(t, manager.ShouldRetry(execution))
	})

	t.Run("disabled policy never retries", func(t *testing.T) {
		manager, _ := newTestRetryManager(t)
		manager.now = func() time.Time { return base.Add(time.Hour) }

		execution := failedExecution(base)
		execution.Context = map[string]interface{}{
			KeyRetryPolicy: map[string]interface{}{"enabled": false},
		}
		assert.False(t, manager.ShouldRetry(execution))
	})

	t.Run("attempts are capped", func(t *testing.T) {
		manager, _ := newTestRetryManager(t)
		manager.now = func() time.Time { return base.Add(24 * time.Hour) }

		execution := failedExecution(base)
		execution.RetryAttempt = 3
		assert.False(t, manager.ShouldRetry(execution))
	})

	t.Run("permanent keyword failures never retry", func(t *testing.T) {
		manager, _ := newTestRetryManager(t)
		manager.now = func() time.Time { return base.Add(time.Hour) }

		for _, message := range []string{
			"unauthorized: token rejected",
			"Authentication handshake failed",
			"adapter configuration missing host",
			"validation error on field",
			"file not found on remote",
		} {
			execution := failedExecution(base)
			execution.ErrorMessage = message
			assert.False(t, manager.ShouldRetry(execution), "message %q must not retry", message)
		}
	})

	t.Run("structured kind wins over the keyword heuristic", func(t *testing.T) {
		manager, _ := newTestRetryManager(t)
		manager.now = func() time.Time { return base.Add(time.Hour) }

		// The message looks permanent but the failure was classified transient
		execution := failedExecution(base)
		execution.ErrorMessage = "unauthorized: token rejected"
		execution.ErrorKind = models.ErrorKindTransient
		assert.True(t, manager.ShouldRetry(execution))

		// The message looks transient but the failure was classified permanent
		execution = failedExecution(base)
		execution.ErrorMessage = "connection reset by peer"
		execution.ErrorKind = models.ErrorKindPermanent
		assert.False(t, manager.ShouldRetry(execution))
	})
}

func TestScheduleRetry(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("moves the execution to RETRY_PENDING", func(t *testing.T) {
		manager, executions := newTestRetryManager(t)
		execution := failedExecution(base)
		require.NoError(t, executions.SaveExecution(execution))

		require.NoError(t, manager.ScheduleRetry(execution))

		saved, err := executions.GetExecution("exec-1")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionRetryPending, saved.Status)
		assert.Equal(t, 1, saved.RetryAttempt)
		assert.Equal(t, base.Add(5*time.Minute), saved.ScheduledFor)
		assert.Empty(t, saved.ErrorMessage)
	})

	t.Run("second schedule uses the longer backoff", func(t *testing.T) {
		manager, executions := newTestRetryManager(t)
		execution := failedExecution(base)
		execution.RetryAttempt = 1
		require.NoError(t, executions.SaveExecution(execution))

		require.NoError(t, manager.ScheduleRetry(execution))
		assert.Equal(t, base.Add(10*time.Minute), execution.ScheduledFor)
		assert.Equal(t, 2, execution.RetryAttempt)
	})

	t.Run("rejects non-failed executions", func(t *testing.T) {
		manager, _ := newTestRetryManager(t)
		execution := failedExecution(base)
		execution.Status = models.ExecutionRunning
		assert.Error(t, manager.ScheduleRetry(execution))
	})
}

func TestExecuteRetry(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("transitions RETRY_PENDING back to RUNNING", func(t *testing.T) {
		manager, executions := newTestRetryManager(t)
		manager.now = func() time.Time { return base.Add(10 * time.Minute) }

		execution := failedExecution(base)
		execution.Status = models.ExecutionRetryPending
		execution.ScheduledFor = base.Add(5 * time.Minute)
		execution.Context = map[string]interface{}{
			KeyCorrelationID: "corr-1",
		}
		require.NoError(t, executions.SaveExecution(execution))

		require.NoError(t, manager.ExecuteRetry(execution))

		assert.Equal(t, models.ExecutionRunning, execution.Status)
		assert.Equal(t, models.TriggerRetry, execution.TriggerType)
		assert.Equal(t, base.Add(10*time.Minute), execution.StartedAt)
		assert.True(t, execution.CompletedAt.IsZero())
		assert.True(t, execution.ScheduledFor.IsZero())
		assert.Equal(t, "corr-1", execution.CorrelationID)
		assert.Equal(t, "corr-1", execution.Context[KeyCorrelationID])
	})

	t.Run("generates missing correlation identifiers", func(t *testing.T) {
		manager, executions := newTestRetryManager(t)
		execution := failedExecution(base)
		execution.Status = models.ExecutionRetryPending
		require.NoError(t, executions.SaveExecution(execution))

		require.NoError(t, manager.ExecuteRetry(execution))
		assert.NotEmpty(t, execution.CorrelationID)
		assert.NotEmpty(t, execution.Context[KeyMessageID])
	})

	t.Run("rejects executions not pending retry", func(t *testing.T) {
		manager, _ := newTestRetryManager(t)
		execution := failedExecution(base)
		assert.Error(t, manager.ExecuteRetry(execution))
	})
}

func TestCancelScheduledRetry(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	manager, executions := newTestRetryManager(t)
	manager.now = func() time.Time { return base }

	execution := failedExecution(base)
	execution.Status = models.ExecutionRetryPending
	require.NoError(t, executions.SaveExecution(execution))

	require.NoError(t, manager.CancelScheduledRetry(execution, "flow undeployed"))

	assert.Equal(t, models.ExecutionCancelled, execution.Status)
	assert.Equal(t, "flow undeployed", execution.ErrorMessage)
	assert.True(t, execution.IsTerminal())
}

// recordingExecutor captures executions handed back for re-running
type recordingExecutor struct {
	resumed []string
}

func (r *recordingExecutor) ResumeExecution(execution *models.FlowExecution) error {
	r.resumed = append(r.resumed, execution.ID)
	return nil
}

func TestSweep(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("schedules eligible failures and runs due retries", func(t *testing.T) {
		provider := storage.NewMemoryProvider()
		require.NoError(t, provider.Initialize())
		executions := provider.GetExecutionStore()
		executor := &recordingExecutor{}
		manager := NewRetryManager(executions, NewContextManager(), NoopNotifier{}, executor, time.Minute)
		manager.now = func() time.Time { return base.Add(6 * time.Minute) }

		failed := failedExecution(base)
		require.NoError(t, executions.SaveExecution(failed))

		due := &models.FlowExecution{
			ID:           "exec-due",
			FlowID:       "flow-1",
			DeploymentID: "dep-1",
			Status:       models.ExecutionRetryPending,
			StartedAt:    base,
			ScheduledFor: base.Add(5 * time.Minute),
		}
		require.NoError(t, executions.SaveExecution(due))

		notYet := &models.FlowExecution{
			ID:           "exec-later",
			FlowID:       "flow-1",
			DeploymentID: "dep-1",
			Status:       models.ExecutionRetryPending,
			StartedAt:    base,
			ScheduledFor: base.Add(30 * time.Minute),
		}
		require.NoError(t, executions.SaveExecution(notYet))

		manager.Sweep()

		scheduled, err := executions.GetExecution("exec-1")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionRetryPending, scheduled.Status)

		assert.Equal(t, []string{"exec-due"}, executor.resumed)

		waiting, err := executions.GetExecution("exec-later")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionRetryPending, waiting.Status)
	})

	t.Run("a freshly scheduled retry waits for the next pass", func(t *testing.T) {
		provider := storage.NewMemoryProvider()
		require.NoError(t, provider.Initialize())
		executions := provider.GetExecutionStore()
		executor := &recordingExecutor{}
		manager := NewRetryManager(executions, NewContextManager(), NoopNotifier{}, executor, time.Minute)
		manager.now = func() time.Time { return base.Add(6 * time.Minute) }

		require.NoError(t, executions.SaveExecution(failedExecution(base)))

		// First pass only moves the failure to RETRY_PENDING
		manager.Sweep()
		assert.Empty(t, executor.resumed)

		scheduled, err := executions.GetExecution("exec-1")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionRetryPending, scheduled.Status)

		// Second pass picks it up as a due retry
		manager.Sweep()
		assert.Equal(t, []string{"exec-1"}, executor.resumed)
	})

	t.Run("ineligible failures are left alone", func(t *testing.T) {
		provider := storage.NewMemoryProvider()
		require.NoError(t, provider.Initialize())
		executions := provider.GetExecutionStore()
		manager := NewRetryManager(executions, NewContextManager(), NoopNotifier{}, &recordingExecutor{}, time.Minute)
		manager.now = func() time.Time { return base.Add(6 * time.Minute) }

		permanent := failedExecution(base)
		permanent.ID = "exec-permanent"
		permanent.ErrorMessage = "invalid credentials"
		require.NoError(t, executions.SaveExecution(permanent))

		manager.Sweep()

		saved, err := executions.GetExecution("exec-permanent")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionFailed, saved.Status)
	})
}
