package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ssrf-beamline/fpsioc/internal/config"
	"github.com/ssrf-beamline/fpsioc/internal/param"
)

// Event types.
const (
	EventReady     = "ready"
	EventParam     = "param"
	EventHeartbeat = "heartbeat"
)

// Event is one telemetry event in SSE form.
type Event struct {
	ID   int64                  `json:"id,omitempty"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
	Port string                 `json:"port,omitempty"`

	at time.Time
}

// SnapshotFunc returns the payload of the ready event sent to a new client.
type SnapshotFunc func() interface{}

// ErrStopped is returned by Subscribe after Stop.
var ErrStopped = errors.New("telemetry hub stopped")

// Client is one SSE connection. An empty Port receives every port.
type Client struct {
	ID      string
	Writer  http.ResponseWriter
	Request *http.Request
	Context context.Context
	Cancel  context.CancelFunc
	LastID  int64
	Port    string
	// Events is never closed; publishers may still hold the client after
	// it is unregistered.
	Events chan Event
	mu     sync.Mutex // guards Writer
}

// Hub fans parameter updates out to SSE clients and keeps a bounded
// per-port history for Last-Event-ID resume.
//
// Lock order: h.mu, then EventBuffer.mu, then Client.mu.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	buffers map[string]*EventBuffer

	// one counter for all ports so a resumed unfiltered stream has a
	// single ordering
	lastID atomic.Int64
	drops  atomic.Int64

	config   config.TelemetryConfig
	snapshot SnapshotFunc
	logger   *slog.Logger

	heartbeatTicker *time.Ticker
	stopHeartbeat   chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// EventBuffer is a bounded, time-limited history of one port's events.
type EventBuffer struct {
	mu        sync.RWMutex
	events    []Event
	capacity  int
	retention time.Duration
}

// NewHub creates a hub. snapshot may be nil.
func NewHub(cfg config.TelemetryConfig, snapshot SnapshotFunc, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:  make(map[string]*Client),
		buffers:  make(map[string]*EventBuffer),
		config:   cfg,
		snapshot: snapshot,
		logger:   logger.With("component", "telemetry"),
		done:     make(chan struct{}),
	}
}

// Subscribe serves one SSE client until ctx is done or the hub stops.
// The port query parameter restricts the stream to one port.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	select {
	case <-h.done:
		return ErrStopped
	default:
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control, Last-Event-ID")

	clientCtx, cancel := context.WithCancel(ctx)

	lastEventID := int64(0)
	if s := r.Header.Get("Last-Event-ID"); s != "" {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			lastEventID = id
		}
	}

	client := &Client{
		ID:      uuid.NewString(),
		Writer:  w,
		Request: r,
		Context: clientCtx,
		Cancel:  cancel,
		LastID:  lastEventID,
		Port:    r.URL.Query().Get("port"),
		Events:  make(chan Event, 100),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	if h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()

	h.logger.Debug("telemetry client connected", "client", client.ID, "port", client.Port, "lastEventId", lastEventID)

	if err := h.sendReadyEvent(client); err != nil {
		h.unregisterClient(client.ID)
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	var replayed int64
	if lastEventID > 0 {
		var err error
		if replayed, err = h.replayEvents(client, lastEventID); err != nil {
			h.unregisterClient(client.ID)
			return fmt.Errorf("failed to replay events: %w", err)
		}
	}

	h.handleClient(client, replayed)
	return nil
}

// Publish assigns an ID, buffers port events and queues the event to
// every matching client. Slow clients lose the event rather than block
// the publisher.
func (h *Hub) Publish(event Event) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if event.ID == 0 {
		event.ID = h.lastID.Add(1)
	}
	event.at = time.Now()

	if event.Port != "" {
		h.bufferEvent(event)
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.Port == "" || event.Port == "" || c.Port == event.Port {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.Context.Err() != nil {
			continue
		}
		select {
		case c.Events <- event:
		default:
			h.drops.Add(1)
		}
	}
	return nil
}

// PublishUpdate publishes one parameter update of port. Its signature
// matches the driver manager's update callback.
func (h *Hub) PublishUpdate(port string, u param.Update) {
	event := Event{
		Type: EventParam,
		Port: port,
		Data: map[string]interface{}{
			"port":  port,
			"addr":  u.Addr,
			"index": u.Index,
			"name":  u.Name,
			"value": u.Value(),
			"ts":    u.Time.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := h.Publish(event); err != nil {
		h.logger.Warn("failed to publish update", "port", port, "param", u.Name, "error", err)
	}
}

// Dropped returns how many events were not delivered to slow clients.
func (h *Hub) Dropped() int64 {
	return h.drops.Load()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) sendReadyEvent(client *Client) error {
	data := map[string]interface{}{"lastEventId": h.lastID.Load()}
	if h.snapshot != nil {
		data["snapshot"] = h.snapshot()
	}
	return h.sendEventToClient(client, Event{Type: EventReady, Data: data})
}

// replayEvents sends the buffered events newer than lastEventID, in ID
// order, and returns the highest ID sent.
func (h *Hub) replayEvents(client *Client, lastEventID int64) (int64, error) {
	h.mu.RLock()
	var buffers []*EventBuffer
	for port, b := range h.buffers {
		if client.Port == "" || client.Port == port {
			buffers = append(buffers, b)
		}
	}
	h.mu.RUnlock()

	var events []Event
	for _, b := range buffers {
		events = append(events, b.GetEventsAfter(lastEventID)...)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })

	var last int64
	for _, e := range events {
		if err := h.sendEventToClient(client, e); err != nil {
			return last, err
		}
		last = e.ID
	}
	return last, nil
}

func (h *Hub) sendEventToClient(client *Client, event Event) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if event.ID > 0 {
		if _, err := fmt.Fprintf(client.Writer, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(client.Writer, "event: %s\n", event.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(client.Writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	if flusher, ok := client.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// handleClient drains the client queue. Events already sent by the
// replay (ID at or below replayed) are skipped.
func (h *Hub) handleClient(client *Client, replayed int64) {
	defer func() {
		h.unregisterClient(client.ID)
		h.logger.Debug("telemetry client disconnected", "client", client.ID)
	}()

	for {
		select {
		case <-client.Context.Done():
			return
		case <-h.done:
			return
		case event := <-client.Events:
			if event.ID <= replayed {
				continue
			}
			if err := h.sendEventToClient(client, event); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return
	}
	client.Cancel()
	delete(h.clients, clientID)

	if len(h.clients) == 0 && h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
}

// bufferEvent appends event to its port's history. Buffers are never
// removed, so a reference stays valid after h.mu is released.
func (h *Hub) bufferEvent(event Event) {
	h.mu.Lock()
	buffer, ok := h.buffers[event.Port]
	if !ok {
		buffer = NewEventBuffer(h.config.BufferSize, h.config.BufferRetention)
		h.buffers[event.Port] = buffer
	}
	h.mu.Unlock()

	buffer.AddEvent(event)
}

// startHeartbeat must be called with h.mu held and no ticker running.
func (h *Hub) startHeartbeat() {
	interval := h.config.HeartbeatInterval
	if interval <= 0 {
		return
	}
	interval += h.config.HeartbeatJitter / 2

	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	h.heartbeatTicker = ticker
	h.stopHeartbeat = stop

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				h.sendHeartbeat()
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

func (h *Hub) sendHeartbeat() {
	_ = h.Publish(Event{
		Type: EventHeartbeat,
		Data: map[string]interface{}{
			"ts": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// Stop disconnects every client and stops the heartbeat. Safe to call
// more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, c := range h.clients {
			c.Cancel()
		}
		if h.heartbeatTicker != nil {
			h.heartbeatTicker.Stop()
			h.heartbeatTicker = nil
			close(h.stopHeartbeat)
			h.stopHeartbeat = nil
		}
		h.mu.Unlock()

		done := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			h.logger.Warn("telemetry heartbeat did not stop in time")
		}
	})
}

// NewEventBuffer creates a buffer holding at most capacity events. A
// positive retention also drops events older than that.
func NewEventBuffer(capacity int, retention time.Duration) *EventBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventBuffer{
		events:    make([]Event, 0, capacity),
		capacity:  capacity,
		retention: retention,
	}
}

// AddEvent appends event, evicting the oldest entries beyond capacity or
// retention.
func (b *EventBuffer) AddEvent(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if event.at.IsZero() {
		event.at = time.Now()
	}
	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		b.events = b.events[len(b.events)-b.capacity:]
	}
	b.expire(event.at)
}

func (b *EventBuffer) expire(now time.Time) {
	if b.retention <= 0 {
		return
	}
	cutoff := now.Add(-b.retention)
	i := 0
	for i < len(b.events) && b.events[i].at.Before(cutoff) {
		i++
	}
	b.events = b.events[i:]
}

// GetEventsAfter returns the buffered events with an ID above lastID.
func (b *EventBuffer) GetEventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, e := range b.events {
		if e.ID > lastID {
			result = append(result, e)
		}
	}
	return result
}

// GetCapacity returns the buffer capacity.
func (b *EventBuffer) GetCapacity() int {
	return b.capacity
}

// GetSize returns the number of buffered events.
func (b *EventBuffer) GetSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
