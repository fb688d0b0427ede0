package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
)

// ErrAuthRejected marks a websocket dial refused for credential reasons.
var ErrAuthRejected = errors.New("push channel rejected token")

// Stream is the push channel: a persistent websocket delivering ticks.
// It implements repository.MarketStream. Reconnection policy lives in the
// feed manager; the stream only reports errors.
type Stream struct {
	url              string
	pingInterval     time.Duration
	handshakeTimeout time.Duration
	readLimit        time.Duration

	mu        sync.RWMutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
}

type StreamOption func(*Stream)

func WithPingInterval(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

func WithHandshakeTimeout(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

// WithReadLimit bounds how long a single read may block. The deadline is
// refreshed on every frame and on pongs, so a healthy-but-quiet socket
// survives while a dead one surfaces as an error.
func WithReadLimit(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.readLimit = d
		}
	}
}

func NewStream(url string, opts ...StreamOption) *Stream {
	s := &Stream{
		url:              url,
		pingInterval:     15 * time.Second,
		handshakeTimeout: 10 * time.Second,
		readLimit:        90 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials the push endpoint with the given token.
func (s *Stream) Connect(ctx context.Context, token string) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.handshakeTimeout}
	u := fmt.Sprintf("%s?token=%s", s.url, token)
	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			if ClassifyDial(resp.StatusCode) == repository.OutcomeAuthFailure {
				return fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
			}
			return fmt.Errorf("push connect: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("push connect: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readLimit))
	})

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	return nil
}

// ClassifyDial maps a websocket handshake status to the outcome taxonomy.
func ClassifyDial(status int) repository.Outcome {
	return Classify(status)
}

type subscribeMsg struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// Subscribe registers the tracked symbols on the open channel.
func (s *Stream) Subscribe(ctx context.Context, symbols []string) error {
	if !s.IsConnected() {
		return repository.ErrConnectionLost
	}
	for _, sym := range symbols {
		b, err := json.Marshal(subscribeMsg{Type: "subscribe", Symbol: sym})
		if err != nil {
			return err
		}
		if err := s.write(websocket.TextMessage, b); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	return nil
}

type wsTick struct {
	Symbol       string  `json:"s"`
	Price        float64 `json:"p"`
	Volume       float64 `json:"v"`
	OpenInterest float64 `json:"oi"`
	Timestamp    int64   `json:"t"` // ms
}

type wsFrame struct {
	Type string   `json:"type"`
	Data []wsTick `json:"data"`
}

// Read streams ticks and errors until the connection drops or ctx ends.
// The read never blocks indefinitely: each wait is bounded by the read limit.
func (s *Stream) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, 1024)
	errs := make(chan error, 1)

	go s.pingLoop(ctx)

	go func() {
		defer close(ticks)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				errs <- repository.ErrConnectionLost
				return
			}

			_ = conn.SetReadDeadline(time.Now().Add(s.readLimit))
			_, b, err := conn.ReadMessage()
			if err != nil {
				errs <- fmt.Errorf("%w: %v", repository.ErrConnectionLost, err)
				return
			}

			var frame wsFrame
			if err := json.Unmarshal(b, &frame); err != nil {
				// non-tick frames (acks, heartbeats) are skipped
				continue
			}
			if frame.Type != "tick" {
				continue
			}
			for _, d := range frame.Data {
				t := &models.Tick{
					Symbol:       d.Symbol,
					Price:        d.Price,
					Volume:       d.Volume,
					OpenInterest: d.OpenInterest,
					Timestamp:    d.Timestamp,
					Source:       models.SourceLive,
				}
				select {
				case ticks <- t:
				default:
					// drop on backpressure
				}
			}
		}
	}()

	return ticks, errs
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.IsConnected() {
				return
			}
			_ = s.write(websocket.PingMessage, nil)
		}
	}
}

func (s *Stream) write(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return repository.ErrConnectionLost
	}
	return conn.WriteMessage(msgType, data)
}

// Close shuts the connection.
func (s *Stream) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (s *Stream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}
