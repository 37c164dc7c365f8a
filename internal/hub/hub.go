package hub

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"roboclass/internal/clock"
	"roboclass/pkg/interfaces"
	"roboclass/pkg/types"
)

// Config controls the stalled robot sweep.
type Config struct {
	StallCheckInterval time.Duration
	StallTimeout       time.Duration
}

// DefaultConfig checks every two minutes for robots silent for two minutes.
func DefaultConfig() Config {
	return Config{
		StallCheckInterval: 2 * time.Minute,
		StallTimeout:       2 * time.Minute,
	}
}

// Stats is a point-in-time summary of the directory.
type Stats struct {
	Clients      int   `json:"clients"`
	Users        int   `json:"users"`
	Robots       int   `json:"robots"`
	Monitors     int   `json:"monitors"`
	LastClientID int64 `json:"lastClientId"`
}

// Hub is the in-memory directory of live connections.
// ARCHITECTURAL DISCOVERY: One RWMutex guards clients and monitors together so
// a monitor's replay and later deltas cannot interleave out of order. Sends
// made under the lock only enqueue, so a slow peer never holds it.
type Hub struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.RWMutex
	clients  map[int64]interfaces.Connection
	monitors map[interfaces.Connection]struct{}
	watched  map[interfaces.Connection]struct{}
	lastID   int64

	running bool
	stop    chan struct{}
	stopped chan struct{}
}

// New creates an empty hub.
func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Hub {
	if cfg.StallCheckInterval <= 0 || cfg.StallTimeout <= 0 {
		def := DefaultConfig()
		if cfg.StallCheckInterval <= 0 {
			cfg.StallCheckInterval = def.StallCheckInterval
		}
		if cfg.StallTimeout <= 0 {
			cfg.StallTimeout = def.StallTimeout
		}
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Hub{
		cfg:      cfg,
		clock:    clk,
		logger:   logger.With("component", "hub"),
		clients:  make(map[int64]interfaces.Connection),
		monitors: make(map[interfaces.Connection]struct{}),
		watched:  make(map[interfaces.Connection]struct{}),
	}
}

// AddClient assigns the next id, starting at 1. Ids are never reused.
func (h *Hub) AddClient(conn interfaces.Connection) int64 {
	h.mu.Lock()
	h.lastID++
	id := h.lastID
	conn.SetID(id)
	conn.SetHub(h)
	h.clients[id] = conn
	h.broadcastLocked(ClientAddedMessage(conn))
	h.mu.Unlock()

	h.logger.Debug("Client added", "client", id, "type", conn.Type())
	conn.OnClosed(h.closed)
	return id
}

func (h *Hub) closed(conn interfaces.Connection) {
	h.RemoveMonitor(conn)
	h.RemoveClient(conn)
}

// RemoveClient drops conn and announces the removal to monitors. Removing a
// client that is not present does nothing.
func (h *Hub) RemoveClient(conn interfaces.Connection) {
	id := conn.ID()

	h.mu.Lock()
	existing, ok := h.clients[id]
	if !ok || existing != conn {
		h.mu.Unlock()
		return
	}
	delete(h.clients, id)
	conn.SetHub(nil)

	msg := types.NewMessage(types.MessageTypeClientRemoved)
	msg.Values.Set("ClientId", strconv.FormatInt(id, 10))
	h.broadcastLocked(msg)
	h.mu.Unlock()

	h.logger.Debug("Client removed", "client", id)
}

func (h *Hub) GetClient(id int64) interfaces.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conn, ok := h.clients[id]; ok {
		return conn
	}
	return nil
}

// GetClients returns a snapshot of the clients of type t, ordered by id.
func (h *Hub) GetClients(t types.ClientType) []interfaces.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshotLocked(func(c interfaces.Connection) bool { return c.Type() == t })
}

// GetAllClients returns a snapshot of every client, ordered by id.
func (h *Hub) GetAllClients() []interfaces.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshotLocked(nil)
}

func (h *Hub) snapshotLocked(match func(interfaces.Connection) bool) []interfaces.Connection {
	ids := make([]int64, 0, len(h.clients))
	for id, conn := range h.clients {
		if match == nil || match(conn) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	result := make([]interfaces.Connection, len(ids))
	for i, id := range ids {
		result[i] = h.clients[id]
	}
	return result
}

// AddMonitor subscribes conn to topology changes and replays the current
// clients to it as ClientAdded messages.
func (h *Hub) AddMonitor(conn interfaces.Connection) {
	h.mu.Lock()
	if _, ok := h.monitors[conn]; ok {
		h.mu.Unlock()
		return
	}
	h.monitors[conn] = struct{}{}
	_, watched := h.watched[conn]
	h.watched[conn] = struct{}{}
	for _, existing := range h.snapshotLocked(nil) {
		h.send(conn, ClientAddedMessage(existing))
	}
	h.mu.Unlock()

	h.logger.Info("Monitor added", "client", conn.ID())
	if !watched {
		conn.OnClosed(func(interfaces.Connection) { h.monitorClosed(conn) })
	}
}

// RemoveMonitor stops broadcasts to conn. Its close hook stays registered so
// monitoring can be restarted without adding another.
func (h *Hub) RemoveMonitor(conn interfaces.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.monitors, conn)
}

func (h *Hub) monitorClosed(conn interfaces.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.monitors, conn)
	delete(h.watched, conn)
}

func (h *Hub) GetMonitors() []interfaces.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]interfaces.Connection, 0, len(h.monitors))
	for conn := range h.monitors {
		result = append(result, conn)
	}
	return result
}

// SendToAll delivers msg to every client of type t, or every client for
// ClientUnknown.
func (h *Hub) SendToAll(msg *types.Message, t types.ClientType) {
	var recipients []interfaces.Connection
	if t == types.ClientUnknown {
		recipients = h.GetAllClients()
	} else {
		recipients = h.GetClients(t)
	}
	for _, conn := range recipients {
		h.send(conn, msg)
	}
}

func (h *Hub) SendToMonitors(msg *types.Message) {
	for _, conn := range h.GetMonitors() {
		h.send(conn, msg)
	}
}

func (h *Hub) broadcastLocked(msg *types.Message) {
	for conn := range h.monitors {
		h.send(conn, msg)
	}
}

// send is best effort: a closed or failing recipient never affects the others.
func (h *Hub) send(conn interfaces.Connection, msg *types.Message) {
	if err := conn.SendMessage(msg.Clone()); err != nil {
		h.logger.Debug("Unable to deliver message", "client", conn.ID(), "type", msg.Type, "error", err)
	}
}

// Stats summarises the directory.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := Stats{
		Clients:      len(h.clients),
		Monitors:     len(h.monitors),
		LastClientID: h.lastID,
	}
	for _, conn := range h.clients {
		switch conn.Type() {
		case types.ClientUser:
			stats.Users++
		case types.ClientRobot:
			stats.Robots++
		}
	}
	return stats
}

// Start runs the stalled robot sweep until Stop or ctx is done.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.stop = make(chan struct{})
	h.stopped = make(chan struct{})
	stop, stopped := h.stop, h.stopped
	h.mu.Unlock()

	h.logger.Info("Starting stalled robot check", "interval", h.cfg.StallCheckInterval)
	go h.run(ctx, stop, stopped)
	return nil
}

// Stop ends the sweep and waits for it to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.stop)
	stopped := h.stopped
	h.mu.Unlock()

	<-stopped
	return nil
}

func (h *Hub) run(ctx context.Context, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	defer h.logger.Info("Stopped stalled robot check")

	ticker := time.NewTicker(h.cfg.StallCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.CheckStalledRobots()
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CheckStalledRobots sends StopProgram to every busy robot that has not
// reported for StallTimeout and returns how many were stopped.
func (h *Hub) CheckStalledRobots() int {
	deadline := h.clock.Now().Add(-h.cfg.StallTimeout)
	stopped := 0
	for _, conn := range h.GetClients(types.ClientRobot) {
		details := conn.RobotDetails()
		if details == nil || conn.Status().IsAvailable || !details.LastUpdateTime.Before(deadline) {
			continue
		}
		name := "unknown"
		if robot := conn.Robot(); robot != nil {
			name = robot.Name
		}
		h.logger.Info("Robot appears to be stalled: sending stop message", "client", conn.ID(), "robot", name)
		h.send(conn, types.NewMessage(types.MessageTypeStopProgram))
		stopped++
	}
	return stopped
}

// ClientAddedMessage describes conn for monitors.
func ClientAddedMessage(conn interfaces.Connection) *types.Message {
	msg := types.NewMessage(types.MessageTypeClientAdded)
	msg.Values.Set("ClientId", strconv.FormatInt(conn.ID(), 10))

	switch conn.Type() {
	case types.ClientRobot:
		msg.Values.Set("Type", "robot")
		subType, name := "Unknown", "Unknown"
		if robot := conn.Robot(); robot != nil {
			subType, name = orUnknown(robot.SubType), orUnknown(robot.DisplayName)
		}
		msg.Values.Set("SubType", subType)
		msg.Values.Set("Name", name)
		msg.Values.Set("state", orUnknown(conn.Status().Message))
	default:
		msg.Values.Set("Type", "user")
		subType, name, student := "Unknown", "Unknown", "no"
		if user := conn.User(); user != nil {
			subType, name = orUnknown(user.SubType), orUnknown(user.Name)
			if user.IsStudent() {
				student = "yes"
			}
		}
		msg.Values.Set("SubType", subType)
		msg.Values.Set("Name", name)
		msg.Values.Set("IsStudent", student)
	}
	return msg
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
