// Package coordserver is the coordination server: it accepts persistent
// bidirectional worker connections, enforces the worker protocol's
// handshake and message schema, and bridges inbound/outbound messages
// between a connected agent and the orchestrator.
package coordserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuemby/swarmd/pkg/log"
	"github.com/cuemby/swarmd/pkg/swarmerr"
)

// DefaultRegisterDeadline is how long a newly accepted connection has to
// send its register frame before it is dropped.
const DefaultRegisterDeadline = 30 * time.Second

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

// InboundHandler receives worker protocol messages routed by the Hub. An
// orchestrator implements this to react to registrations, heartbeats, and
// task outcomes without depending on the transport.
type InboundHandler interface {
	HandleRegister(agentID, swarmID, kind string, capabilities []string) (topology string, err error)
	HandleHeartbeat(agentID string, p HeartbeatPayload)
	HandleTaskResult(agentID string, p TaskResultPayload)
	HandleTaskError(agentID string, p TaskErrorPayload)
	HandleStatusUpdate(agentID string, p StatusUpdatePayload)
	HandlePeerMessage(agentID string, p PeerMessagePayload)
	HandleDisconnect(agentID string)
}

// connection is one live worker socket, resolved to an agent ID after a
// successful handshake.
type connection struct {
	agentID   string
	swarmID   string
	conn      *websocket.Conn
	queue     *outboundQueue
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *connection) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Hub manages worker connections and their per-agent outbound queues.
// Queues outlive the underlying socket so a reconnecting agent drains
// whatever accumulated while it was disconnected.
type Hub struct {
	handler          InboundHandler
	registerDeadline time.Duration
	queueCapacity    int

	mu    sync.RWMutex
	conns map[string]*connection // agentID -> live connection
	queue map[string]*outboundQueue

	upgrader websocket.Upgrader
}

// NewHub constructs a Hub. A registerDeadline <= 0 uses
// DefaultRegisterDeadline; a queueCapacity <= 0 uses DefaultQueueCapacity.
func NewHub(handler InboundHandler, registerDeadline time.Duration, queueCapacity int) *Hub {
	if registerDeadline <= 0 {
		registerDeadline = DefaultRegisterDeadline
	}
	return &Hub{
		handler:          handler,
		registerDeadline: registerDeadline,
		queueCapacity:    queueCapacity,
		conns:            make(map[string]*connection),
		queue:            make(map[string]*outboundQueue),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) queueFor(agentID string) *outboundQueue {
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.queue[agentID]
	if !ok {
		q = newOutboundQueue(h.queueCapacity)
		h.queue[agentID] = q
	}
	return q
}

// Send enqueues frame for agentID, whether or not it is currently
// connected. Per §4.2, a task-critical frame that cannot be queued makes
// the agent unreachable.
func (h *Hub) Send(agentID string, frame *Frame) error {
	return h.queueFor(agentID).push(frame)
}

// IsConnected reports whether agentID has a live socket right now.
func (h *Hub) IsConnected(agentID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[agentID]
	return ok
}

// ServeHTTP upgrades the request to a websocket and runs the connection's
// handshake, read, and write loops until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("coordserver").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := &connection{conn: ws, closed: make(chan struct{})}

	agentID, swarmID, topology, err := h.handshake(conn)
	if err != nil {
		log.WithComponent("coordserver").Warn().Err(err).Msg("handshake failed, dropping connection")
		ws.Close()
		return
	}

	conn.agentID = agentID
	conn.swarmID = swarmID
	conn.queue = h.queueFor(agentID)

	h.mu.Lock()
	if existing, ok := h.conns[agentID]; ok {
		// Reconnection with the same AgentId: replace the stale socket,
		// preserve the queue, keep any unacknowledged assignments as-is.
		existing.markClosed()
		existing.conn.Close()
	}
	h.conns[agentID] = conn
	h.mu.Unlock()

	welcome, _ := json.Marshal(WelcomePayload{SwarmID: swarmID, AgentID: agentID, Topology: topology})
	_ = conn.queue.push(&Frame{Type: FrameWelcome, Payload: welcome})

	go h.writePump(conn)
	h.readPump(conn)
}

// handshake blocks until a register frame arrives or the deadline
// elapses, returning the identity the worker supplied.
func (h *Hub) handshake(conn *connection) (agentID, swarmID, topology string, err error) {
	conn.conn.SetReadDeadline(time.Now().Add(h.registerDeadline))

	_, data, err := conn.conn.ReadMessage()
	if err != nil {
		return "", "", "", fmt.Errorf("read register frame: %w", err)
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", "", "", fmt.Errorf("decode frame: %w", swarmerr.ErrProtocol)
	}
	if frame.Type != FrameRegister {
		return "", "", "", fmt.Errorf("expected register, got %s: %w", frame.Type, swarmerr.ErrProtocol)
	}

	var reg RegisterPayload
	if err := json.Unmarshal(frame.Payload, &reg); err != nil {
		return "", "", "", fmt.Errorf("decode register payload: %w", swarmerr.ErrProtocol)
	}
	if reg.AgentID == "" || reg.SwarmID == "" {
		return "", "", "", fmt.Errorf("register missing agent_id/swarm_id: %w", swarmerr.ErrProtocol)
	}

	topology, err = h.handler.HandleRegister(reg.AgentID, reg.SwarmID, reg.Kind, reg.Capabilities)
	if err != nil {
		return "", "", "", err
	}

	return reg.AgentID, reg.SwarmID, topology, nil
}

func (h *Hub) readPump(conn *connection) {
	defer h.handleDisconnect(conn)

	conn.conn.SetReadLimit(1 << 20)
	conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		conn.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	logger := log.WithAgentID(conn.agentID)

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			logger.Debug().Err(err).Msg("worker connection closed")
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn().Err(err).Msg("malformed frame, ignoring")
			continue
		}

		h.dispatchInbound(conn, &frame)
	}
}

func (h *Hub) dispatchInbound(conn *connection, frame *Frame) {
	switch frame.Type {
	case FrameHeartbeat:
		var p HeartbeatPayload
		if json.Unmarshal(frame.Payload, &p) == nil {
			h.handler.HandleHeartbeat(conn.agentID, p)
		}
	case FrameTaskResult:
		var p TaskResultPayload
		if json.Unmarshal(frame.Payload, &p) == nil {
			h.handler.HandleTaskResult(conn.agentID, p)
		}
	case FrameTaskError:
		var p TaskErrorPayload
		if json.Unmarshal(frame.Payload, &p) == nil {
			h.handler.HandleTaskError(conn.agentID, p)
		}
	case FrameStatusUpdate:
		var p StatusUpdatePayload
		if json.Unmarshal(frame.Payload, &p) == nil {
			h.handler.HandleStatusUpdate(conn.agentID, p)
		}
	case FramePeerMessage:
		var p PeerMessagePayload
		if json.Unmarshal(frame.Payload, &p) == nil {
			h.handler.HandlePeerMessage(conn.agentID, p)
		}
	default:
		log.WithAgentID(conn.agentID).Warn().Str("type", string(frame.Type)).Msg("unexpected inbound frame type")
	}
}

func (h *Hub) writePump(conn *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-conn.closed:
			return
		case <-conn.queue.wake:
			for {
				frame, ok := conn.queue.pop()
				if !ok {
					break
				}
				if err := h.writeFrame(conn, frame); err != nil {
					return
				}
			}
		case <-ticker.C:
			conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) writeFrame(conn *connection, frame *Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) handleDisconnect(conn *connection) {
	h.mu.Lock()
	if current, ok := h.conns[conn.agentID]; ok && current == conn {
		delete(h.conns, conn.agentID)
	}
	h.mu.Unlock()

	conn.markClosed()
	conn.conn.Close()
	h.handler.HandleDisconnect(conn.agentID)
}
