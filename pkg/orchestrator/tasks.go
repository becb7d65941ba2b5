package orchestrator

import (
	"fmt"
	"time"

	"github.com/cuemby/swarmd/pkg/events"
	"github.com/cuemby/swarmd/pkg/loadbalancer"
	"github.com/cuemby/swarmd/pkg/swarmerr"
	"github.com/cuemby/swarmd/pkg/types"
)

// SubmitTask validates spec, checks for a dependency cycle, and enqueues
// the task as Queued (or Blocked, if a dependency is not yet Completed).
// A Blocked task is promoted to Queued when its last dependency completes.
func (c *Coordinator) SubmitTask(spec TaskSpec) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if spec.ID == "" {
		return "", fmt.Errorf("task id required: %w", swarmerr.ErrProtocol)
	}
	if _, exists := c.tasks[spec.ID]; exists {
		return "", fmt.Errorf("task %s: %w", spec.ID, swarmerr.ErrDuplicate)
	}
	for _, dep := range spec.Dependencies {
		if _, ok := c.tasks[dep]; !ok {
			return "", fmt.Errorf("dependency %s: %w", dep, swarmerr.ErrNotFound)
		}
	}
	if c.dependencyCycleLocked(spec.ID, spec.Dependencies) {
		return "", fmt.Errorf("task %s: %w", spec.ID, swarmerr.ErrCycle)
	}

	now := time.Now()
	maxRetries := spec.MaxRetries
	if maxRetries == 0 {
		maxRetries = c.cfg.DefaultMaxRetries
	}
	timeout := spec.Timeout
	if timeout == 0 {
		timeout = c.cfg.DefaultTaskTimeout
	}

	task := &types.Task{
		ID:                   spec.ID,
		Kind:                 spec.Kind,
		Description:          spec.Description,
		Priority:             spec.Priority,
		EstimatedDuration:    spec.EstimatedDuration,
		Timeout:              timeout,
		Dependencies:         toSet(spec.Dependencies),
		RequiredCapabilities: toSet(spec.RequiredCapabilities),
		RequiredResources:    spec.RequiredResources,
		MaxRetries:           maxRetries,
		Status:               types.TaskPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	c.promoteIfEligibleLocked(task, now)
	c.tasks[task.ID] = task

	c.publish(events.EventTaskSubmitted, "", task.ID, "task submitted")
	return task.ID, nil
}

// dependencyCycleLocked reports whether adding a task named id with the
// given dependency set would create a cycle in the dependency graph.
func (c *Coordinator) dependencyCycleLocked(id string, deps []string) bool {
	visited := make(map[string]struct{})
	var visit func(current string) bool
	visit = func(current string) bool {
		if current == id {
			return true
		}
		if _, seen := visited[current]; seen {
			return false
		}
		visited[current] = struct{}{}
		t, ok := c.tasks[current]
		if !ok {
			return false
		}
		for dep := range t.Dependencies {
			if visit(dep) {
				return true
			}
		}
		return false
	}
	for _, dep := range deps {
		if visit(dep) {
			return true
		}
	}
	return false
}

// promoteIfEligibleLocked moves task from Pending to Queued once every
// dependency is Completed, or to Blocked if any dependency is not yet
// Completed. A task with no dependencies is immediately Queued.
func (c *Coordinator) promoteIfEligibleLocked(task *types.Task, now time.Time) {
	if task.Status != types.TaskPending && task.Status != types.TaskBlocked {
		return
	}
	for dep := range task.Dependencies {
		d, ok := c.tasks[dep]
		if !ok || d.Status != types.TaskCompleted {
			task.Status = types.TaskBlocked
			task.UpdatedAt = now
			return
		}
	}
	task.Status = types.TaskQueued
	task.EnqueuedAt = now
	task.UpdatedAt = now
}

// promoteDependentsLocked re-evaluates every task blocked on completedID,
// queuing the ones whose remaining dependencies are all satisfied.
func (c *Coordinator) promoteDependentsLocked(completedID string, now time.Time) {
	for _, t := range c.tasks {
		if t.Status != types.TaskBlocked {
			continue
		}
		if _, dependsOnIt := t.Dependencies[completedID]; !dependsOnIt {
			continue
		}
		c.promoteIfEligibleLocked(t, now)
	}
}

// CancelTask cancels a task that has not yet reached a terminal state,
// releasing any held assignment. The worker holding an Assigned/InProgress
// task is not told to stop: the task_assignment frame already told it what
// to run, there is no outbound "abandon this" frame, and an in-flight
// result/error the worker sends afterward lands on a Cancelled task that
// no longer has an assignment (HandleTaskResult/HandleTaskError guard on
// Assignment, so the late report is silently dropped).
func (c *Coordinator) CancelTask(taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, swarmerr.ErrNotFound)
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("task %s already terminal: %w", taskID, swarmerr.ErrProtocol)
	}

	if t.Assignment != nil {
		if agent, ok := c.agents[t.Assignment.AgentID]; ok {
			c.releaseAssignmentLocked(t, agent)
			if agent.State == types.AgentBusy && agent.TaskCount == 0 {
				agent.State = types.AgentIdle
			}
		}
		t.Assignment = nil
	}
	t.Status = types.TaskCancelled
	t.UpdatedAt = time.Now()
	c.publish(events.EventTaskCancelled, "", taskID, "task cancelled")
	return nil
}

// GetTask returns a read-only view of taskID.
func (c *Coordinator) GetTask(taskID string) (TaskView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[taskID]
	if !ok {
		return TaskView{}, fmt.Errorf("task %s: %w", taskID, swarmerr.ErrNotFound)
	}
	return newTaskView(t), nil
}

// ListTaskViews returns every task matching filter, as read-only views.
func (c *Coordinator) ListTaskViews(filter TaskFilter) []TaskView {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TaskView, 0, len(c.tasks))
	for _, t := range c.tasks {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, newTaskView(t))
	}
	return out
}

// releaseAssignmentLocked undoes the resource and load-balancer bookkeeping
// for an assigned task being pulled off agent, for any reason short of
// the agent itself reporting a result. Callers hold c.mu.
func (c *Coordinator) releaseAssignmentLocked(t *types.Task, agent *types.Agent) {
	loadbalancer.Deallocate(agent, t.RequiredResources)
}
