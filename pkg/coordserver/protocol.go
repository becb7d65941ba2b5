package coordserver

import "encoding/json"

// FrameType discriminates a Frame's payload.
type FrameType string

// Inbound frame types (worker -> coordinator).
const (
	FrameRegister     FrameType = "register"
	FrameHeartbeat    FrameType = "heartbeat"
	FrameTaskResult   FrameType = "task_result"
	FrameTaskError    FrameType = "task_error"
	FrameStatusUpdate FrameType = "status_update"
	FramePeerMessage  FrameType = "peer_message"
)

// Outbound frame types (coordinator -> worker).
const (
	FrameWelcome        FrameType = "welcome"
	FrameTaskAssignment FrameType = "task_assignment"
	FrameTopologyUpdate FrameType = "topology_update"
	FramePause          FrameType = "pause"
	FrameResume         FrameType = "resume"
	FrameShutdown       FrameType = "shutdown"
)

// Frame is the single message envelope exchanged over the worker
// connection. Payload is deferred decoding so the hub can route on Type
// before a subsystem-specific struct is known.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RegisterPayload is the handshake a worker must send within the register
// deadline, naming the identity it is connecting metadata-wise requires.
type RegisterPayload struct {
	AgentID      string   `json:"agent_id"`
	SwarmID      string   `json:"swarm_id"`
	Kind         string   `json:"kind"`
	Capabilities []string `json:"capabilities"`
}

// HeartbeatPayload carries liveness and rolling performance metrics.
type HeartbeatPayload struct {
	CurrentLoad float64 `json:"current_load"`
	TaskCount   int     `json:"task_count"`
}

// TaskResultPayload is a successful task outcome.
type TaskResultPayload struct {
	TaskID        string `json:"task_id"`
	Result        []byte `json:"result"`
	ExecutionMs   int64  `json:"execution_ms"`
}

// TaskErrorPayload is a failed task outcome.
type TaskErrorPayload struct {
	TaskID       string `json:"task_id"`
	ErrorMessage string `json:"error_message"`
	Retryable    bool   `json:"retryable"`
}

// StatusUpdatePayload is an unprompted agent state report.
type StatusUpdatePayload struct {
	State string `json:"state"`
}

// PeerMessagePayload is forwarded to its target agent as-is.
type PeerMessagePayload struct {
	FromAgentID string          `json:"from_agent_id"`
	ToAgentID   string          `json:"to_agent_id"`
	Body        json.RawMessage `json:"body"`
}

// WelcomePayload echoes the identity the worker connected with plus the
// swarm's active topology pattern.
type WelcomePayload struct {
	SwarmID  string `json:"swarm_id"`
	AgentID  string `json:"agent_id"`
	Topology string `json:"topology"`
}

// TaskAssignmentPayload carries the task plus the peer set the topology
// graph assigns it at dispatch time.
type TaskAssignmentPayload struct {
	TaskID             string   `json:"task_id"`
	Kind               string   `json:"kind"`
	Description        string   `json:"description"`
	Payload            []byte   `json:"payload,omitempty"`
	TimeoutMs          int64    `json:"timeout_ms"`
	PeerAgentIDs       []string `json:"peer_agent_ids"`
	CoordinationEndpoint string `json:"coordination_endpoint"`
}

// TopologyUpdatePayload notifies a worker of its current peer set.
type TopologyUpdatePayload struct {
	Pattern      string   `json:"pattern"`
	PeerAgentIDs []string `json:"peer_agent_ids"`
}

// ShutdownPayload carries the grace period a worker should honor before
// its connection is forcibly closed.
type ShutdownPayload struct {
	GraceMs int64 `json:"grace_ms"`
}
