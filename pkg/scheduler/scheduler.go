package scheduler

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/runtime"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/storage"
)

// FlowTrigger is the flow-execution entry point the scheduler hands
// triggered work to. Implemented by runtime.FlowEngine.
type FlowTrigger interface {
	ExecuteDeployedFlow(deployment *models.Deployment, trigger map[string]interface{}, triggerType models.TriggerType, actingUser string) (*models.FlowExecution, error)
}

// StatsRecorder records tick-level errors onto a deployment's rolling
// counters. Implemented by runtime.ResultAggregator.
type StatsRecorder interface {
	RecordDeploymentError(deploymentID, message string)
}

// Options tune the scheduler pools and sweep cadence
type Options struct {
	// WorkerCount sizes the execution pool tick work is handed to
	// (default 10)
	WorkerCount int

	// MaintenanceInterval is the cadence of the reconciliation sweep
	// (default 5 minutes)
	MaintenanceInterval time.Duration
}

// pendingTrackingTTL bounds how long a temporary in-flight tracking
// entry survives if the trigger path died before swapping it for a
// real execution id.
const pendingTrackingTTL = 10 * time.Minute

// pendingPrefix marks temporary tracking ids for in-flight triggers
const pendingPrefix = "pending-"

// scheduledTask is one live per-deployment timer registration.
// Cancellation is non-interrupting: it only prevents future fires.
type scheduledTask struct {
	deploymentID string
	entryID      cron.EntryID
	cancelled    atomic.Bool
}

// runningTracker tracks the executions currently counted against one
// deployment's concurrency limit. Each deployment has its own lock so
// unrelated deployments never contend.
type runningTracker struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// Scheduler owns per-deployment timers, enforces one live task per
// deployment and per-deployment concurrency limits, polls sender
// adapters and triggers flow executions.
type Scheduler struct {
	deployments    storage.DeploymentStore
	adapters       storage.AdapterStore
	executions     storage.ExecutionStore
	adapterService runtime.AdapterService
	stats          StatsRecorder
	engine         FlowTrigger

	workerCount         int
	maintenanceInterval time.Duration

	timers     *cron.Cron
	tasks      sync.Map // deployment id -> *scheduledTask
	startLocks sync.Map // deployment id -> *sync.Mutex
	running    sync.Map // deployment id -> *runningTracker

	taskCh   chan func()
	workerWG sync.WaitGroup

	stopMu  sync.RWMutex
	stopped bool

	// now is swapped in tests
	now func() time.Time
}

// NewScheduler creates a scheduler. Start must be called before any
// deployment is scheduled.
func NewScheduler(deployments storage.DeploymentStore, adapters storage.AdapterStore, executions storage.ExecutionStore, adapterService runtime.AdapterService, stats StatsRecorder, engine FlowTrigger, opts Options) *Scheduler {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 10
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = 5 * time.Minute
	}
	return &Scheduler{
		deployments:         deployments,
		adapters:            adapters,
		executions:          executions,
		adapterService:      adapterService,
		stats:               stats,
		engine:              engine,
		workerCount:         opts.WorkerCount,
		maintenanceInterval: opts.MaintenanceInterval,
		now:                 time.Now,
	}
}

// Start launches the timer pool and the execution workers, registers
// the maintenance sweep and schedules every executable deployment.
func (s *Scheduler) Start() error {
	s.taskCh = make(chan func(), s.workerCount*4)
	for i := 0; i < s.workerCount; i++ {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			for task := range s.taskCh {
				task()
			}
		}()
	}

	s.timers = cron.New()
	s.timers.Schedule(cron.Every(s.maintenanceInterval), cron.FuncJob(s.MaintenanceSweep))
	s.timers.Start()

	deployments, err := s.deployments.ListExecutableDeployments()
	if err != nil {
		return fmt.Errorf("failed to list deployments at startup: %w", err)
	}
	for _, deployment := range deployments {
		if err := s.StartSenderAdapter(deployment); err != nil {
			log.Printf("scheduler: deployment %s not scheduled at startup: %v", deployment.ID, err)
		}
	}
	return nil
}

// Stop cancels every registered task and releases the timer pool,
// waiting briefly for in-flight work to finish. Already-dispatched
// ticks run to completion.
func (s *Scheduler) Stop() {
	s.tasks.Range(func(_, value interface{}) bool {
		value.(*scheduledTask).cancelled.Store(true)
		return true
	})

	if s.timers != nil {
		ctx := s.timers.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("scheduler: timed out waiting for timer pool")
		}
	}

	s.stopMu.Lock()
	s.stopped = true
	close(s.taskCh)
	s.stopMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Printf("scheduler: timed out waiting for execution workers")
	}
}

// submit hands tick work to the execution pool so a slow adapter call
// never blocks the timers or the next tick.
func (s *Scheduler) submit(task func()) {
	s.stopMu.RLock()
	defer s.stopMu.RUnlock()
	if s.stopped {
		return
	}
	s.taskCh <- task
}

// startLock returns the per-deployment mutex guarding the
// check-then-register scheduling sequence.
func (s *Scheduler) startLock(deploymentID string) *sync.Mutex {
	lock, _ := s.startLocks.LoadOrStore(deploymentID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// tracker returns the per-deployment running-execution tracker
func (s *Scheduler) tracker(deploymentID string) *runningTracker {
	tracker, _ := s.running.LoadOrStore(deploymentID, &runningTracker{entries: make(map[string]time.Time)})
	return tracker.(*runningTracker)
}

// StartSenderAdapter registers the scheduled task for a deployment's
// sender adapter. A second call while a non-cancelled task is live is a
// no-op. The adapter must be active and STARTED, and its configuration
// is read fresh on every call, never from a cached snapshot.
func (s *Scheduler) StartSenderAdapter(deployment *models.Deployment) error {
	lock := s.startLock(deployment.ID)
	lock.Lock()
	defer lock.Unlock()

	if value, ok := s.tasks.Load(deployment.ID); ok && !value.(*scheduledTask).cancelled.Load() {
		return nil
	}

	adapter, err := s.adapters.GetAdapter(deployment.SenderAdapterID)
	if err != nil {
		return fmt.Errorf("failed to load sender adapter %s: %w", deployment.SenderAdapterID, err)
	}
	if !adapter.Schedulable() {
		return fmt.Errorf("sender adapter %s is not active and started", adapter.ID)
	}

	cfg, err := ParseSchedulerConfig(adapter.Configuration)
	if err != nil {
		return err
	}

	task, err := s.scheduleWithSchedulerConfig(deployment.ID, cfg)
	if err != nil {
		return err
	}
	s.tasks.Store(deployment.ID, task)

	// The adapter may have been stopped while we were scheduling.
	fresh, err := s.adapters.GetAdapter(deployment.SenderAdapterID)
	if err != nil || !fresh.Schedulable() {
		task.cancelled.Store(true)
		s.timers.Remove(task.entryID)
		s.tasks.Delete(deployment.ID)
		return fmt.Errorf("sender adapter %s stopped during scheduling", deployment.SenderAdapterID)
	}
	return nil
}

// scheduleWithSchedulerConfig builds the repeating or time-gated timer
// entry for a deployment. OnTime schedules a minute-granularity check
// that fires only at the configured time; Every schedules a fixed-rate
// timer gated by the configured time range. The actual tick work is
// handed to the execution pool.
func (s *Scheduler) scheduleWithSchedulerConfig(deploymentID string, cfg *SchedulerConfig) (*scheduledTask, error) {
	task := &scheduledTask{deploymentID: deploymentID}

	switch cfg.ScheduleMode {
	case ScheduleModeOnTime:
		task.entryID = s.timers.Schedule(cron.Every(time.Minute), cron.FuncJob(func() {
			if task.cancelled.Load() {
				return
			}
			if !cfg.ShouldExecuteAtTime(s.now()) {
				return
			}
			s.submit(func() { s.tickDeployment(deploymentID) })
		}))
	case ScheduleModeEvery:
		interval, err := ParseEveryInterval(cfg.EveryInterval)
		if err != nil {
			return nil, err
		}
		task.entryID = s.timers.Schedule(cron.Every(interval), cron.FuncJob(func() {
			if task.cancelled.Load() {
				return
			}
			if !cfg.ShouldExecuteInTimeRange(s.now()) {
				return
			}
			s.submit(func() { s.tickDeployment(deploymentID) })
		}))
	default:
		return nil, fmt.Errorf("%w: unknown scheduleMode %q", ErrSchedulerConfig, cfg.ScheduleMode)
	}
	return task, nil
}

// tickDeployment reloads the deployment and adapter fresh and runs one
// scheduled tick. Per-tick errors are recorded on the deployment and
// never stop the schedule.
func (s *Scheduler) tickDeployment(deploymentID string) {
	deployment, err := s.deployments.GetDeployment(deploymentID)
	if err != nil {
		log.Printf("scheduler: tick for unknown deployment %s: %v", deploymentID, err)
		return
	}
	if !deployment.Executable() {
		return
	}
	adapter, err := s.adapters.GetAdapter(deployment.SenderAdapterID)
	if err != nil {
		s.stats.RecordDeploymentError(deploymentID, fmt.Sprintf("sender adapter unavailable: %v", err))
		return
	}
	if !adapter.Schedulable() {
		return
	}
	if _, err := s.ExecuteSenderAdapterTick(deployment, adapter); err != nil {
		log.Printf("scheduler: tick failed for deployment %s: %v", deploymentID, err)
	}
}

// ExecuteSenderAdapterTick runs one tick: when the deployment is below
// its concurrency limit, the sender adapter is polled, and a flow
// execution is triggered if it reports data. At or above the limit the
// tick is dropped entirely, never queued; the next tick re-evaluates.
func (s *Scheduler) ExecuteSenderAdapterTick(deployment *models.Deployment, adapter *models.Adapter) (*models.FlowExecution, error) {
	return s.executeTick(deployment, adapter, models.TriggerScheduled, deployment.DeployedBy)
}

// executeTick is the shared tick body for scheduled and manual triggers
func (s *Scheduler) executeTick(deployment *models.Deployment, adapter *models.Adapter, triggerType models.TriggerType, actingUser string) (*models.FlowExecution, error) {
	if s.RunningCount(deployment.ID) >= deployment.EffectiveMaxConcurrent() {
		// Concurrency gate, not a queue: the tick is dropped.
		return nil, nil
	}

	tickCtx := map[string]interface{}{
		runtime.KeyDeploymentID: deployment.ID,
		"adapterId":             adapter.ID,
	}
	result, err := s.adapterService.ExecuteAdapter(adapter, tickCtx, nil)
	if err != nil {
		s.stats.RecordDeploymentError(deployment.ID, err.Error())
		return nil, fmt.Errorf("sender adapter %s failed: %w", adapter.ID, err)
	}
	if !runtime.HasData(result) {
		return nil, nil
	}
	return s.TriggerFlowExecution(deployment, result, triggerType, actingUser)
}

// TriggerFlowExecution starts a flow execution for a tick that found
// data. A temporary tracking id holds the deployment's concurrency slot
// for the in-flight attempt and is swapped for the real execution id
// once one exists.
func (s *Scheduler) TriggerFlowExecution(deployment *models.Deployment, adapterResult map[string]interface{}, triggerType models.TriggerType, actingUser string) (*models.FlowExecution, error) {
	trackingID := pendingPrefix + uuid.New().String()
	s.trackRunning(deployment.ID, trackingID)

	deployment.LastExecutionAt = s.now()
	if err := s.deployments.SaveDeployment(deployment); err != nil {
		log.Printf("scheduler: failed to persist lastExecutionAt for deployment %s: %v", deployment.ID, err)
	}

	trigger := map[string]interface{}{
		runtime.KeyTriggerData: adapterResult,
	}
	execution, err := s.engine.ExecuteDeployedFlow(deployment, trigger, triggerType, actingUser)
	s.untrackRunning(deployment.ID, trackingID)
	if err != nil {
		if execution == nil {
			// The engine never created a record; the failure only
			// exists on the deployment's rolling counters.
			s.stats.RecordDeploymentError(deployment.ID, err.Error())
			return nil, err
		}
		return execution, err
	}

	// Swap the temporary id for the real one; reconciliation retires it
	// as soon as the store stops reporting the execution as running.
	s.trackRunning(deployment.ID, execution.ID)
	return execution, nil
}

// trackRunning counts an execution against a deployment's limit
func (s *Scheduler) trackRunning(deploymentID, executionID string) {
	tracker := s.tracker(deploymentID)
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	tracker.entries[executionID] = s.now()
}

// untrackRunning releases a tracked execution
func (s *Scheduler) untrackRunning(deploymentID, executionID string) {
	tracker := s.tracker(deploymentID)
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	delete(tracker.entries, executionID)
}

// RunningCount returns the number of executions currently counted
// against a deployment's limit. Every read reconciles the tracking
// against the store's "still running" query: entries the store no
// longer reports are pruned, executions the store knows about that we
// lost are adopted, and stale in-flight placeholders expire.
func (s *Scheduler) RunningCount(deploymentID string) int {
	tracker := s.tracker(deploymentID)

	actual, err := s.executions.ListRunningExecutions(deploymentID)
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	if err != nil {
		log.Printf("scheduler: failed to reconcile running executions for deployment %s: %v", deploymentID, err)
		return len(tracker.entries)
	}

	actualIDs := make(map[string]bool, len(actual))
	for _, execution := range actual {
		actualIDs[execution.ID] = true
	}

	for id, added := range tracker.entries {
		if strings.HasPrefix(id, pendingPrefix) {
			if s.now().Sub(added) > pendingTrackingTTL {
				delete(tracker.entries, id)
			}
			continue
		}
		if !actualIDs[id] {
			delete(tracker.entries, id)
		}
	}
	for id := range actualIDs {
		if _, tracked := tracker.entries[id]; !tracked {
			tracker.entries[id] = s.now()
		}
	}
	return len(tracker.entries)
}

// MaintenanceSweep reconciles every deployment's running-execution
// tracking, drops trackers whose deployment no longer exists and
// re-schedules executable deployments found unscheduled.
func (s *Scheduler) MaintenanceSweep() {
	s.running.Range(func(key, _ interface{}) bool {
		deploymentID := key.(string)
		if _, err := s.deployments.GetDeployment(deploymentID); errors.Is(err, storage.ErrDeploymentNotFound) {
			s.running.Delete(deploymentID)
			return true
		}
		s.RunningCount(deploymentID)
		return true
	})

	deployments, err := s.deployments.ListExecutableDeployments()
	if err != nil {
		log.Printf("scheduler: maintenance sweep failed to list deployments: %v", err)
		return
	}
	for _, deployment := range deployments {
		value, ok := s.tasks.Load(deployment.ID)
		if ok && !value.(*scheduledTask).cancelled.Load() {
			continue
		}
		if err := s.StartSenderAdapter(deployment); err != nil {
			log.Printf("scheduler: maintenance sweep could not schedule deployment %s: %v", deployment.ID, err)
		}
	}
}

// OnFlowUndeployed stops both adapters, cancels the scheduled task and
// clears the running-execution tracking for a deployment. The cancel is
// non-interrupting: an in-flight tick runs to completion.
func (s *Scheduler) OnFlowUndeployed(deploymentID string) error {
	deployment, err := s.deployments.GetDeployment(deploymentID)
	if err != nil {
		return fmt.Errorf("failed to load deployment %s: %w", deploymentID, err)
	}

	for _, adapterID := range []string{deployment.SenderAdapterID, deployment.ReceiverAdapterID} {
		if adapterID == "" {
			continue
		}
		adapter, err := s.adapters.GetAdapter(adapterID)
		if err != nil {
			log.Printf("scheduler: undeploy of %s could not load adapter %s: %v", deploymentID, adapterID, err)
			continue
		}
		adapter.Status = models.AdapterStopped
		if err := s.adapters.SaveAdapter(adapter); err != nil {
			log.Printf("scheduler: undeploy of %s could not stop adapter %s: %v", deploymentID, adapterID, err)
		}
	}

	if value, ok := s.tasks.LoadAndDelete(deploymentID); ok {
		task := value.(*scheduledTask)
		task.cancelled.Store(true)
		s.timers.Remove(task.entryID)
	}
	s.running.Delete(deploymentID)
	return nil
}

// TriggerDeployedFlow runs the tick/trigger logic synchronously for an
// on-demand operator run, outside the timers.
func (s *Scheduler) TriggerDeployedFlow(deploymentID string) (*models.FlowExecution, error) {
	deployment, err := s.deployments.GetDeployment(deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load deployment %s: %w", deploymentID, err)
	}
	if !deployment.Executable() {
		return nil, fmt.Errorf("deployment %s is not executable", deploymentID)
	}
	adapter, err := s.adapters.GetAdapter(deployment.SenderAdapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sender adapter %s: %w", deployment.SenderAdapterID, err)
	}
	return s.executeTick(deployment, adapter, models.TriggerManual, deployment.DeployedBy)
}

// ManuallyTriggerAdapterExecution runs the tick/trigger logic for the
// deployment using the given sender adapter, with the requesting user
// as the acting identity.
func (s *Scheduler) ManuallyTriggerAdapterExecution(adapterID, userID string) (*models.FlowExecution, error) {
	adapter, err := s.adapters.GetAdapter(adapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load adapter %s: %w", adapterID, err)
	}

	deployments, err := s.deployments.ListDeployments()
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	for _, deployment := range deployments {
		if deployment.SenderAdapterID == adapterID && deployment.Executable() {
			return s.executeTick(deployment, adapter, models.TriggerManual, userID)
		}
	}
	return nil, fmt.Errorf("no deployment uses sender adapter %s", adapterID)
}
