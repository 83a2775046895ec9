package websocket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sadewadee/phpembed/internal/protocol"
	"github.com/sadewadee/phpembed/internal/worker"
)

// ErrTooManyConnections is returned when the connection limit is reached.
var ErrTooManyConnections = errors.New("websocket: too many connections")

// Executor runs jobs on the PHP engine.
type Executor interface {
	Exec(ctx context.Context, job worker.Job) (*worker.Result, error)
}

// Client represents a single WebSocket connection.
type Client struct {
	ID          string
	Conn        *websocket.Conn
	RemoteAddr  string
	ConnectedAt time.Time
	mu          sync.Mutex
}

// Send writes f to the client as one binary message.
func (c *Client) Send(f *protocol.Frame) error {
	msg, err := protocol.AppendFrame(nil, f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.BinaryMessage, msg)
}

// Manager tracks connections and executes the frames they send.
type Manager struct {
	clients  map[string]*Client
	mu       sync.RWMutex
	exec     Executor
	timeout  time.Duration
	maxConns int
	logger   *slog.Logger

	frames   atomic.Int64
	failures atomic.Int64
}

// NewManager creates a connection manager executing frames on exec. Each
// job is bounded by timeout when it is positive; maxConns of 0 means no
// limit.
func NewManager(exec Executor, maxConns int, timeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		clients:  make(map[string]*Client),
		exec:     exec,
		timeout:  timeout,
		maxConns: maxConns,
		logger:   logger,
	}
}

// Full reports whether the connection limit is reached.
func (m *Manager) Full() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxConns > 0 && len(m.clients) >= m.maxConns
}

// AddConnection registers a new WebSocket connection.
func (m *Manager) AddConnection(conn *websocket.Conn, remoteAddr string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxConns > 0 && len(m.clients) >= m.maxConns {
		return nil, ErrTooManyConnections
	}

	client := &Client{
		ID:          uuid.NewString(),
		Conn:        conn,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
	}
	m.clients[client.ID] = client
	return client, nil
}

// RemoveConnection unregisters a WebSocket connection.
func (m *Manager) RemoveConnection(id string) {
	m.mu.Lock()
	delete(m.clients, id)
	m.mu.Unlock()
}

// CloseAll sends a close message to every client and closes the
// connections.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for id, c := range m.clients {
		clients = append(clients, c)
		delete(m.clients, id)
	}
	m.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range clients {
		if c.Conn == nil {
			continue
		}
		c.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.Conn.Close()
	}
}

// HandleMessage decodes one binary message and returns the frame to send
// back, or nil when there is nothing to answer.
func (m *Manager) HandleMessage(ctx context.Context, client *Client, message []byte) *protocol.Frame {
	f, err := protocol.ReadFrame(bytes.NewReader(message))
	if err != nil {
		m.failures.Add(1)
		m.logger.Warn("invalid frame", "conn_id", client.ID, "error", err)
		return protocol.NewErrorFrame(0, err.Error())
	}
	return m.Dispatch(ctx, f)
}

// Dispatch executes a decoded frame and builds the reply.
func (m *Manager) Dispatch(ctx context.Context, f *protocol.Frame) *protocol.Frame {
	if f.Type == protocol.TypePing {
		if protocol.IsPing(f) {
			return protocol.NewPongFrame()
		}
		return nil
	}
	m.frames.Add(1)

	job, err := jobFor(f)
	if err != nil {
		m.failures.Add(1)
		return protocol.NewErrorFrame(f.StreamID, err.Error())
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	res, err := m.exec.Exec(ctx, job)
	if err != nil {
		m.failures.Add(1)
		m.logger.Warn("job failed", "type", protocol.TypeName(f.Type), "stream", f.StreamID, "error", err)
		return protocol.NewErrorFrame(f.StreamID, err.Error())
	}

	var output []byte
	if f.Flags&protocol.FlagNoOutput == 0 {
		output = res.Output
	}
	reply, err := protocol.EncodeResult(f.StreamID, &protocol.ResultHeader{
		Type:      res.Type,
		Value:     res.Value,
		Dump:      res.Dump,
		Exception: res.Exception,
	}, output)
	if err != nil {
		m.failures.Add(1)
		return protocol.NewErrorFrame(f.StreamID, err.Error())
	}
	return reply
}

func jobFor(f *protocol.Frame) (worker.Job, error) {
	switch f.Type {
	case protocol.TypeEval:
		h, err := protocol.DecodeEval(f)
		if err != nil {
			return worker.Job{}, err
		}
		return worker.EvalJob(h.Expr, h.ClearGlobals), nil
	case protocol.TypeCall:
		h, err := protocol.DecodeCall(f)
		if err != nil {
			return worker.Job{}, err
		}
		return worker.CallJob(h.Function, h.Args...), nil
	case protocol.TypeRun:
		h, err := protocol.DecodeRun(f)
		if err != nil {
			return worker.Job{}, err
		}
		return worker.RunJob(h.Path, h.ResetGlobals), nil
	}
	return worker.Job{}, fmt.Errorf("unsupported frame type %s", protocol.TypeName(f.Type))
}

// Stats returns current WebSocket statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		Connections: len(m.clients),
		Frames:      m.frames.Load(),
		Errors:      m.failures.Load(),
	}
}

// ManagerStats holds WebSocket manager metrics.
type ManagerStats struct {
	Connections int   `json:"connections"`
	Frames      int64 `json:"frames"`
	Errors      int64 `json:"errors"`
}
