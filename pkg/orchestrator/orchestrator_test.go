package orchestrator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/swarmd/pkg/coordserver"
	"github.com/cuemby/swarmd/pkg/persistence"
	"github.com/cuemby/swarmd/pkg/swarmerr"
	"github.com/cuemby/swarmd/pkg/types"
)

// memStore is a minimal in-process persistence.Store stub for tests that
// never exercise the bbolt-backed implementation.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (s *memStore) Put(key, namespace, category string, value []byte, tags []string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[namespace+"/"+key] = value
	return nil
}

func (s *memStore) Get(key, namespace string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[namespace+"/"+key]
	if !ok {
		return nil, swarmerr.ErrNotFound
	}
	return v, nil
}

func (s *memStore) Query(opts persistence.QueryOptions) ([]persistence.Record, error) { return nil, nil }

func (s *memStore) Delete(key, namespace string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[namespace+"/"+key]
	delete(s.data, namespace+"/"+key)
	return ok, nil
}

func (s *memStore) Close() error { return nil }

func newTestCoordinator() *Coordinator {
	cfg := DefaultConfig()
	cfg.SwarmID = "test-swarm"
	cfg.SpawnTimeout = 2 * time.Second
	return New(cfg, types.TopologyMesh, types.StrategyLeastLoaded, newMemStore(), nil, nil)
}

// registerAgent bypasses the websocket transport and calls HandleRegister
// directly, as the hub would after a successful handshake.
func registerAgent(t *testing.T, c *Coordinator, agentID string, caps []string) {
	t.Helper()
	_, err := c.HandleRegister(agentID, "test-swarm", "worker", caps)
	require.NoError(t, err)
}

func TestSpawnAgentCompletesOnRegister(t *testing.T) {
	c := newTestCoordinator()

	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		id, err := c.SpawnAgent(AgentSpec{Kind: "worker", Capabilities: []string{"compute"}})
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- id
	}()

	// Wait for the pending spawn to register, then register it.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.pendingSpawns) == 1
	}, time.Second, time.Millisecond)

	c.mu.Lock()
	var agentID string
	for id := range c.pendingSpawns {
		agentID = id
	}
	c.mu.Unlock()

	registerAgent(t, c, agentID, []string{"compute"})

	select {
	case id := <-resultCh:
		assert.Equal(t, agentID, id)
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("spawn did not complete")
	}

	view, err := c.GetAgent(agentID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentIdle, view.State)
}

func TestSpawnAgentTimesOutWithoutRegistration(t *testing.T) {
	c := newTestCoordinator()
	c.cfg.SpawnTimeout = 20 * time.Millisecond

	_, err := c.SpawnAgent(AgentSpec{Kind: "worker"})
	assert.ErrorIs(t, err, swarmerr.ErrSpawn)
}

func TestSpawnAgentRejectsAtCapacity(t *testing.T) {
	c := newTestCoordinator()
	c.cfg.MaxAgents = 0

	_, err := c.SpawnAgent(AgentSpec{Kind: "worker"})
	assert.ErrorIs(t, err, swarmerr.ErrCapacity)
}

func TestHandleRegisterAdmitsExternallyManagedAgent(t *testing.T) {
	c := newTestCoordinator()
	registerAgent(t, c, "external-1", []string{"gpu"})

	view, err := c.GetAgent("external-1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentIdle, view.State)
	assert.Contains(t, view.Capabilities, "gpu")
}

func TestSubmitTaskRejectsUnknownDependency(t *testing.T) {
	c := newTestCoordinator()

	_, err := c.SubmitTask(TaskSpec{ID: "a", Dependencies: []string{}})
	require.NoError(t, err)

	_, err = c.SubmitTask(TaskSpec{ID: "b", Dependencies: []string{"a"}})
	require.NoError(t, err)

	// A task can only depend on tasks that already exist, so a dependency
	// on an unknown task ID is rejected at submission with ErrNotFound.
	_, err = c.SubmitTask(TaskSpec{ID: "c", Dependencies: []string{"does-not-exist"}})
	assert.ErrorIs(t, err, swarmerr.ErrNotFound)
}

func TestSubmitTaskBlocksOnIncompleteDependency(t *testing.T) {
	c := newTestCoordinator()

	_, err := c.SubmitTask(TaskSpec{ID: "parent"})
	require.NoError(t, err)
	_, err = c.SubmitTask(TaskSpec{ID: "child", Dependencies: []string{"parent"}})
	require.NoError(t, err)

	child, err := c.GetTask("child")
	require.NoError(t, err)
	assert.Equal(t, types.TaskBlocked, child.Status)

	parent, err := c.GetTask("parent")
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, parent.Status)
}

func TestDispatchAssignsQueuedTaskToEligibleAgent(t *testing.T) {
	c := newTestCoordinator()
	registerAgent(t, c, "agent-1", []string{"compute"})

	_, err := c.SubmitTask(TaskSpec{ID: "t1", RequiredCapabilities: []string{"compute"}})
	require.NoError(t, err)

	c.runDispatchCycle(time.Now())

	task, err := c.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskAssigned, task.Status)
	require.NotNil(t, task.Assignment)
	assert.Equal(t, "agent-1", task.Assignment.AgentID)

	agent, err := c.GetAgent("agent-1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentBusy, agent.State)
}

func TestHandleHeartbeatMovesAssignedTaskToInProgress(t *testing.T) {
	c := newTestCoordinator()
	registerAgent(t, c, "agent-1", []string{"compute"})

	_, err := c.SubmitTask(TaskSpec{ID: "t1", RequiredCapabilities: []string{"compute"}})
	require.NoError(t, err)

	c.runDispatchCycle(time.Now())
	task, err := c.GetTask("t1")
	require.NoError(t, err)
	require.Equal(t, types.TaskAssigned, task.Status)

	c.HandleHeartbeat("agent-1", coordserver.HeartbeatPayload{CurrentLoad: 0.5, TaskCount: 1})

	task, err = c.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskInProgress, task.Status)
}

func TestDispatchSkipsTaskWithoutMatchingCapability(t *testing.T) {
	c := newTestCoordinator()
	registerAgent(t, c, "agent-1", []string{"compute"})

	_, err := c.SubmitTask(TaskSpec{ID: "t1", RequiredCapabilities: []string{"gpu"}})
	require.NoError(t, err)

	c.runDispatchCycle(time.Now())

	task, err := c.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, task.Status)
}

func TestAgingPromotesStarvedTaskPriority(t *testing.T) {
	c := newTestCoordinator()
	c.cfg.AgingInterval = time.Second

	_, err := c.SubmitTask(TaskSpec{ID: "t1", Priority: types.PriorityLow})
	require.NoError(t, err)

	c.mu.Lock()
	c.tasks["t1"].EnqueuedAt = time.Now().Add(-2 * time.Second)
	c.mu.Unlock()

	c.runDispatchCycle(time.Now())

	task, err := c.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.PriorityMedium, task.Priority)
}

func TestHandleTaskResultCompletesTaskAndPromotesDependent(t *testing.T) {
	c := newTestCoordinator()
	registerAgent(t, c, "agent-1", nil)

	_, err := c.SubmitTask(TaskSpec{ID: "parent"})
	require.NoError(t, err)
	_, err = c.SubmitTask(TaskSpec{ID: "child", Dependencies: []string{"parent"}})
	require.NoError(t, err)

	c.runDispatchCycle(time.Now())
	c.HandleTaskResult("agent-1", coordserver.TaskResultPayload{TaskID: "parent", ExecutionMs: 50})

	parent, err := c.GetTask("parent")
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, parent.Status)

	child, err := c.GetTask("child")
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, child.Status)

	agent, err := c.GetAgent("agent-1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentIdle, agent.State)
	assert.Equal(t, 1, agent.Metrics.Completed)
}

func TestHandleTaskErrorSchedulesRetryThenFailsTerminal(t *testing.T) {
	c := newTestCoordinator()
	registerAgent(t, c, "agent-1", nil)

	_, err := c.SubmitTask(TaskSpec{ID: "t1", MaxRetries: 1})
	require.NoError(t, err)

	c.runDispatchCycle(time.Now())
	c.HandleTaskError("agent-1", coordserver.TaskErrorPayload{TaskID: "t1", ErrorMessage: "boom", Retryable: true})

	task, err := c.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, task.Status)
	assert.Equal(t, 1, task.RetryCount)
	assert.False(t, task.RetryNotBefore().IsZero())

	// Retry backoff elapsed: the dispatch cycle requeues then re-assigns.
	future := time.Now().Add(time.Hour)
	c.runDispatchCycle(future)
	c.runDispatchCycle(future)

	task, err = c.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskAssigned, task.Status)

	c.HandleTaskError("agent-1", coordserver.TaskErrorPayload{TaskID: "t1", ErrorMessage: "boom again", Retryable: true})

	task, err = c.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, task.Status)
	require.NotNil(t, task.Error)
}

func TestTaskTimeoutScanRetriesThenFailsTerminal(t *testing.T) {
	c := newTestCoordinator()
	registerAgent(t, c, "agent-1", nil)

	_, err := c.SubmitTask(TaskSpec{ID: "t1", MaxRetries: 1, Timeout: time.Millisecond})
	require.NoError(t, err)
	c.runDispatchCycle(time.Now())

	task, err := c.GetTask("t1")
	require.NoError(t, err)
	require.Equal(t, types.TaskAssigned, task.Status)

	// First overdue scan: retry budget remains, so it goes back to Pending
	// with a backoff deadline instead of failing outright.
	c.mu.Lock()
	c.tasks["t1"].Assignment.AssignedAt = time.Now().Add(-time.Hour)
	c.mu.Unlock()
	c.taskTimeoutScan()
	task, err = c.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, task.Status)
	assert.Equal(t, 1, task.RetryCount)
	assert.False(t, task.RetryNotBefore().IsZero())

	agent, err := c.GetAgent("agent-1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentIdle, agent.State)

	// Elapse the backoff, reassign, then time it out again with no budget
	// left: this time it fails terminally.
	future := time.Now().Add(time.Hour)
	c.runDispatchCycle(future)
	task, err = c.GetTask("t1")
	require.NoError(t, err)
	require.Equal(t, types.TaskAssigned, task.Status)

	c.mu.Lock()
	c.tasks["t1"].Assignment.AssignedAt = time.Now().Add(-time.Hour)
	c.mu.Unlock()

	c.taskTimeoutScan()
	task, err = c.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, task.Status)
	require.NotNil(t, task.Error)
	assert.Equal(t, types.FailureTaskTimeout, task.Error.Kind)
}

func TestTerminateAgentReassignsItsTasks(t *testing.T) {
	c := newTestCoordinator()
	registerAgent(t, c, "agent-1", nil)

	_, err := c.SubmitTask(TaskSpec{ID: "t1"})
	require.NoError(t, err)
	c.runDispatchCycle(time.Now())

	require.NoError(t, c.TerminateAgent("agent-1"))

	task, err := c.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, task.Status)
	assert.Nil(t, task.Assignment)

	agent, err := c.GetAgent("agent-1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentTerminated, agent.State)

	err = c.TerminateAgent("agent-1")
	assert.ErrorIs(t, err, swarmerr.ErrNotFound)
}

func TestCancelTaskReleasesAssignment(t *testing.T) {
	c := newTestCoordinator()
	registerAgent(t, c, "agent-1", nil)

	_, err := c.SubmitTask(TaskSpec{ID: "t1", RequiredResources: map[types.ResourceKind]float64{}})
	require.NoError(t, err)
	c.runDispatchCycle(time.Now())

	require.NoError(t, c.CancelTask("t1"))

	task, err := c.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskCancelled, task.Status)
	assert.Nil(t, task.Assignment)

	agent, err := c.GetAgent("agent-1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentIdle, agent.State)

	// A late task_result from the worker must not resurrect the cancelled
	// task: the cleared assignment fails HandleTaskResult's guard.
	c.HandleTaskResult("agent-1", coordserver.TaskResultPayload{TaskID: "t1", ExecutionMs: 10})
	task, err = c.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskCancelled, task.Status)

	err = c.CancelTask("t1")
	assert.ErrorIs(t, err, swarmerr.ErrProtocol)
}

func TestCheckpointRoundTrip(t *testing.T) {
	c := newTestCoordinator()
	_, err := c.SubmitTask(TaskSpec{ID: "t1"})
	require.NoError(t, err)

	c.checkpoint()

	c2 := newTestCoordinator()
	c2.store = c.store
	c2.restoreCheckpoint()

	task, err := c2.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, task.Status)
}

func TestShutdownIsIdempotentAndFailsInFlightTasks(t *testing.T) {
	c := newTestCoordinator()
	c.broker.Start()
	c.wg.Add(1)
	go c.dispatchLoop()

	registerAgent(t, c, "agent-1", nil)
	_, err := c.SubmitTask(TaskSpec{ID: "t1"})
	require.NoError(t, err)

	require.NoError(t, c.Shutdown(10*time.Millisecond))
	require.NoError(t, c.Shutdown(10*time.Millisecond))

	task, err := c.GetTask("t1")
	require.NoError(t, err)
	assert.True(t, task.Status.IsTerminal())
}
