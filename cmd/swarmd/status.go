package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/swarmd/pkg/orchestrator"
)

// statusClient is a minimal REST client for the status subcommand; it talks
// directly to the Control API's /swarm endpoint rather than pulling in a
// full SDK.
type statusClient struct {
	addr string
	http http.Client
}

func (c *statusClient) printSwarm() error {
	c.http.Timeout = 5 * time.Second

	resp, err := c.http.Get(c.addr + "/swarm")
	if err != nil {
		return fmt.Errorf("failed to reach coordinator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coordinator returned %s", resp.Status)
	}

	var view orchestrator.MetricsView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Agents: %d\n", view.AgentCount)
	for state, n := range view.AgentsByState {
		fmt.Printf("  %-12s %d\n", state, n)
	}
	fmt.Printf("Tasks: %d\n", view.TaskCount)
	for status, n := range view.TasksByStatus {
		fmt.Printf("  %-12s %d\n", status, n)
	}
	fmt.Printf("Topology density: %.3f\n", view.TopologyDensity)
	fmt.Printf("Safe mode: %v\n", view.SafeMode)
	if len(view.CircuitStates) > 0 {
		fmt.Println("Circuit breakers:")
		for agentID, state := range view.CircuitStates {
			fmt.Printf("  %-36s %s\n", agentID, state)
		}
	}
	return nil
}
