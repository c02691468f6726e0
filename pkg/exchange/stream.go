package exchange

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/nadotrader/pkg/crypto"
)

const (
	streamReadLimit  = 1 << 20
	streamPingPeriod = 30 * time.Second
	streamPongWait   = 60 * time.Second
)

// Stream consumes the gateway's websocket feed of order lifecycle events
// for one subaccount. Events are delivered in arrival order, which is not
// the logical order; consumers reconcile by digest.
type Stream struct {
	url  string
	sub  crypto.Subaccount
	log  *zap.Logger
	conn *websocket.Conn

	events chan StreamEvent

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewStream(url string, sub crypto.Subaccount, log *zap.Logger) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stream{
		url:    url,
		sub:    sub,
		log:    log,
		events: make(chan StreamEvent, 256),
		done:   make(chan struct{}),
	}
}

// Start dials the feed, subscribes to the subaccount's order events, and
// begins the read loop.
func (s *Stream) Start() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial stream: %w", err)
	}
	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	subMsg := map[string]any{
		"method": "subscribe",
		"stream": "order_events",
		"params": map[string]string{"subaccount": s.sub.Hex()},
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	s.conn = conn
	go s.readLoop()
	go s.pingLoop()
	return nil
}

// Events is the stream of decoded events. The channel closes only after the
// read loop has delivered everything received before teardown: buffered
// events are drained, not lost, on shutdown.
func (s *Stream) Events() <-chan StreamEvent {
	return s.events
}

// Close tears the connection down. Safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	if s.conn != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return s.conn.Close()
	}
	return nil
}

// readLoop is the only writer to the events channel; it closes the channel
// on exit, after every received message has been forwarded.
func (s *Stream) readLoop() {
	defer close(s.events)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Warn("stream read failed", zap.Error(err))
			}
			return
		}

		var ev StreamEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			s.log.Warn("stream message ignored", zap.Error(err))
			continue
		}
		if ev.Type == "" || ev.Digest == "" {
			continue // heartbeats, subscription acks
		}

		select {
		case s.events <- ev:
		case <-s.done:
			// Consumer gone; deliver what we can without blocking forever.
			select {
			case s.events <- ev:
			default:
				s.log.Warn("dropping event during shutdown", zap.String("digest", ev.Digest))
			}
		}
	}
}

func (s *Stream) pingLoop() {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
