// Package swarmerr defines the sentinel errors shared across the
// coordinator's subsystems. Callers wrap these with fmt.Errorf("...: %w")
// to add context and use errors.Is to classify a failure.
package swarmerr

import "errors"

var (
	// ErrNotFound means the named entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate means an identity collision occurred.
	ErrDuplicate = errors.New("duplicate")

	// ErrCapacity means the per-swarm agent cap has been reached.
	ErrCapacity = errors.New("capacity exceeded")

	// ErrIneligible means no agent is eligible to take a task.
	ErrIneligible = errors.New("no eligible agent")

	// ErrSpawn means a worker failed to register before its spawn deadline.
	ErrSpawn = errors.New("spawn failed")

	// ErrCycle means a dependency cycle was detected.
	ErrCycle = errors.New("dependency cycle")

	// ErrProtocol means a worker sent a malformed message.
	ErrProtocol = errors.New("protocol error")

	// ErrUnreachable means a message cannot be delivered and cannot be
	// queued for later delivery.
	ErrUnreachable = errors.New("unreachable")

	// ErrTimeout means an operation exceeded its deadline.
	ErrTimeout = errors.New("timeout")
)
