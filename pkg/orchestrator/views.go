package orchestrator

import (
	"time"

	"github.com/cuemby/swarmd/pkg/types"
)

// AgentSpec is the input to SpawnAgent.
type AgentSpec struct {
	Kind         string
	Capabilities []string
	Resources    map[types.ResourceKind]float64
}

// TaskSpec is the input to SubmitTask.
type TaskSpec struct {
	ID                   string
	Kind                 string
	Description          string
	Priority             types.Priority
	EstimatedDuration    time.Duration
	Timeout              time.Duration
	Dependencies         []string
	RequiredCapabilities []string
	RequiredResources    map[types.ResourceKind]float64
	MaxRetries           int
}

// AgentView is a read-only projection of an Agent for the Control API.
type AgentView struct {
	ID           string
	Kind         string
	Capabilities []string
	Resources    map[types.ResourceKind]types.ResourcePool
	State        types.AgentState
	Health       types.AgentHealth
	Metrics      types.AgentMetrics
	Weight       float64
	TaskCount    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func newAgentView(a *types.Agent) AgentView {
	caps := make([]string, 0, len(a.Capabilities))
	for c := range a.Capabilities {
		caps = append(caps, c)
	}
	resources := make(map[types.ResourceKind]types.ResourcePool, len(a.Resources))
	for k, p := range a.Resources {
		resources[k] = *p
	}
	return AgentView{
		ID:           a.ID,
		Kind:         a.Kind,
		Capabilities: caps,
		Resources:    resources,
		State:        a.State,
		Health:       a.Health,
		Metrics:      a.Metrics,
		Weight:       a.Weight,
		TaskCount:    a.TaskCount,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

// TaskView is a read-only projection of a Task for the Control API.
type TaskView struct {
	ID          string
	Kind        string
	Description string
	Priority    types.Priority
	Status      types.TaskStatus
	Assignment  *types.Assignment
	Result      *types.TaskResult
	Error       *types.TaskError
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func newTaskView(t *types.Task) TaskView {
	return TaskView{
		ID:          t.ID,
		Kind:        t.Kind,
		Description: t.Description,
		Priority:    t.Priority,
		Status:      t.Status,
		Assignment:  t.Assignment,
		Result:      t.Result,
		Error:       t.Error,
		RetryCount:  t.RetryCount,
		MaxRetries:  t.MaxRetries,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// MetricsView summarizes the swarm's current state for the Control API and
// the Prometheus collector.
type MetricsView struct {
	AgentCount      int
	AgentsByState   map[types.AgentState]int
	TaskCount       int
	TasksByStatus   map[types.TaskStatus]int
	TopologyDensity float64
	SafeMode        bool
	CircuitStates   map[string]types.CircuitState
}

// TaskFilter narrows ListTasks by status; a nil/empty filter matches
// every task.
type TaskFilter struct {
	Status *types.TaskStatus
}

// AgentFilter narrows ListAgents by state; a nil filter matches every
// agent.
type AgentFilter struct {
	State *types.AgentState
}
