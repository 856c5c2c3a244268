package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/adslot/internal/events"
	"github.com/coachpo/adslot/internal/telemetry"
)

const (
	defaultWriteTimeout = 5 * time.Second
	bridgeReadLimit     = 1 << 20
	clientQueueSize     = 64
)

// Frame types sent to controllers.
const (
	FrameEvent = "event"
	FrameAck   = "ack"
	FrameError = "error"
)

// Frame is one message written to a connected controller.
type Frame struct {
	Channel string        `json:"channel"`
	Type    string        `json:"type"`
	Command Kind          `json:"command,omitempty"`
	SlotID  string        `json:"slotId,omitempty"`
	Event   *events.Event `json:"event,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Bridge serves a Channel over websocket connections and streams orchestrator events back.
type Bridge struct {
	channel        *Channel
	logger         *log.Logger
	writeTimeout   time.Duration
	originPatterns []string

	mu      sync.Mutex
	clients map[*peer]struct{}
	closed  bool

	connections metric.Int64UpDownCounter
	dropped     metric.Int64Counter
}

type peer struct {
	conn   *websocket.Conn
	origin string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (p *peer) stop() {
	p.once.Do(func() { close(p.done) })
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithBridgeLogger sets the bridge logger.
func WithBridgeLogger(logger *log.Logger) BridgeOption {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithOriginPatterns restricts the origins allowed to open a control connection.
func WithOriginPatterns(patterns ...string) BridgeOption {
	return func(b *Bridge) { b.originPatterns = append([]string(nil), patterns...) }
}

// NewBridge builds a websocket bridge over channel.
func NewBridge(channel *Channel, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		channel:      channel,
		logger:       log.New(io.Discard, "", 0),
		writeTimeout: defaultWriteTimeout,
		clients:      make(map[*peer]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	meter := otel.Meter("messaging")
	b.connections, _ = meter.Int64UpDownCounter("messaging.bridge.connections",
		metric.WithDescription("Open control connections"),
		metric.WithUnit("{connection}"))
	b.dropped, _ = meter.Int64Counter("messaging.bridge.frames.dropped",
		metric.WithDescription("Frames dropped because a controller was too slow"),
		metric.WithUnit("{frame}"))
	return b
}

// ServeHTTP upgrades the request and pumps messages until the connection closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.originPatterns})
	if err != nil {
		b.logger.Printf("control accept: %v", err)
		return
	}
	conn.SetReadLimit(bridgeReadLimit)

	p := &peer{
		conn:   conn,
		origin: r.Header.Get("Origin"),
		send:   make(chan []byte, clientQueueSize),
		done:   make(chan struct{}),
	}
	if !b.register(p) {
		_ = conn.Close(websocket.StatusGoingAway, "bridge closed")
		return
	}
	defer b.unregister(p)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		b.writeLoop(ctx, p)
	}()

	err = b.readLoop(ctx, p)
	cancel()
	<-writerDone

	status := websocket.CloseStatus(err)
	if err != nil && status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
		b.logger.Printf("control connection: %v", err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (b *Bridge) readLoop(ctx context.Context, p *peer) error {
	for {
		typ, data, err := p.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		cmd, _ := DecodeCommand(data)
		dispatched, err := b.channel.Deliver(p.origin, data)
		switch {
		case err != nil:
			b.enqueue(p, Frame{Channel: b.channel.Name(), Type: FrameError, Command: cmd.Kind, SlotID: cmd.SlotID, Error: err.Error()})
		case dispatched:
			b.enqueue(p, Frame{Channel: b.channel.Name(), Type: FrameAck, Command: cmd.Kind, SlotID: cmd.SlotID})
		}
	}
}

func (b *Bridge) writeLoop(ctx context.Context, p *peer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case data := <-p.send:
			writeCtx, cancel := context.WithTimeout(ctx, b.writeTimeout)
			err := p.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				b.logger.Printf("control write: %v", err)
				return
			}
		}
	}
}

// Broadcast sends evt to every connected controller. Slow controllers drop frames.
func (b *Bridge) Broadcast(evt events.Event) {
	data, err := json.Marshal(Frame{Channel: b.channel.Name(), Type: FrameEvent, Event: &evt})
	if err != nil {
		b.logger.Printf("encode event frame: %v", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for p := range b.clients {
		b.push(p, data)
	}
}

func (b *Bridge) enqueue(p *peer, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		b.logger.Printf("encode frame: %v", err)
		return
	}
	b.push(p, data)
}

func (b *Bridge) push(p *peer, data []byte) {
	select {
	case p.send <- data:
	default:
		if b.dropped != nil {
			b.dropped.Add(context.Background(), 1,
				metric.WithAttributes(telemetry.ConnectionAttributes(telemetry.Environment(), "slow")...))
		}
	}
}

// Clients returns the number of connected controllers.
func (b *Bridge) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every controller and rejects new connections.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	peers := make([]*peer, 0, len(b.clients))
	for p := range b.clients {
		peers = append(peers, p)
	}
	b.mu.Unlock()
	for _, p := range peers {
		p.stop()
		_ = p.conn.Close(websocket.StatusGoingAway, "shutting down")
	}
}

func (b *Bridge) register(p *peer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.clients[p] = struct{}{}
	b.count(1, "connected")
	return true
}

func (b *Bridge) unregister(p *peer) {
	p.stop()
	b.mu.Lock()
	if _, ok := b.clients[p]; ok {
		delete(b.clients, p)
		b.count(-1, "disconnected")
	}
	b.mu.Unlock()
}

func (b *Bridge) count(delta int64, state string) {
	if b.connections == nil {
		return
	}
	b.connections.Add(context.Background(), delta,
		metric.WithAttributes(telemetry.ConnectionAttributes(telemetry.Environment(), state)...))
}

// String describes the bridge for logs.
func (b *Bridge) String() string {
	return fmt.Sprintf("bridge(channel=%s clients=%d)", b.channel.Name(), b.Clients())
}
