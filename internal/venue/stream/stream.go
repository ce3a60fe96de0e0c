// Package stream consumes venue execution reports over a websocket and
// converts them into order updates.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/types"
	"github.com/tathienbao/quant-exec/internal/venue"
	"golang.org/x/time/rate"
)

// Config holds stream configuration.
type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	ReconnectsPerMin int
	Buffer           int
}

// DefaultConfig returns default stream config.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		BaseDelay:        time.Second,
		MaxDelay:         60 * time.Second,
		ReconnectsPerMin: 10,
		Buffer:           1024,
	}
}

// executionReport is the wire shape of a venue order event.
type executionReport struct {
	Event         string `json:"e"`
	EventTime     int64  `json:"E"`
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	OrderID       any    `json:"i"`
	Status        string `json:"X"`
	CumQty        string `json:"z"`
	LastQty       string `json:"l"`
	LastPrice     string `json:"L"`
}

// ReconnectHook is called after each successful reconnect.
type ReconnectHook func(symbol string)

// Stream is a reconnecting websocket reader of execution reports.
type Stream struct {
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter
	dialer  websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	state  atomic.Int32
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onReconnect ReconnectHook
	updates     chan types.OrderUpdate
	reconnects  atomic.Int64
}

// New creates a stream. Call Start to begin reading.
func New(cfg Config, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.ReconnectsPerMin <= 0 {
		cfg.ReconnectsPerMin = def.ReconnectsPerMin
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}

	s := &Stream{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.ReconnectsPerMin)), 1),
		dialer:  websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		updates: make(chan types.OrderUpdate, cfg.Buffer),
	}
	s.state.Store(int32(venue.StateDisconnected))
	return s
}

// OnReconnect registers a hook fired after every reconnect (not the first
// connect). The runtime uses it to trigger reconciliation.
func (s *Stream) OnReconnect(h ReconnectHook) {
	s.onReconnect = h
}

// Updates returns the order update channel. It is closed after Stop.
func (s *Stream) Updates() <-chan types.OrderUpdate {
	return s.updates
}

// State returns the connection state.
func (s *Stream) State() venue.ConnectionState {
	return venue.ConnectionState(s.state.Load())
}

// Reconnects returns the number of reconnects so far.
func (s *Stream) Reconnects() int64 {
	return s.reconnects.Load()
}

// Start launches the connection loop.
func (s *Stream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.connectionLoop(ctx)
}

// Stop closes the connection and waits for the loop to exit.
func (s *Stream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConnection()
	s.wg.Wait()
	close(s.updates)
}

func (s *Stream) connectionLoop(ctx context.Context) {
	defer s.wg.Done()

	attempt := 0
	connectedBefore := false
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		s.state.Store(int32(venue.StateConnecting))
		if err := s.connect(ctx); err != nil {
			s.state.Store(int32(venue.StateError))
			delay := Backoff(attempt, s.cfg.BaseDelay, s.cfg.MaxDelay)
			s.logger.Warn("stream connect failed", "url", s.cfg.URL, "attempt", attempt, "retry_in", delay, "err", err)
			attempt++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		attempt = 0
		s.state.Store(int32(venue.StateConnected))
		if connectedBefore {
			s.reconnects.Add(1)
			if s.onReconnect != nil {
				s.onReconnect(s.cfg.URL)
			}
		}
		connectedBefore = true

		s.readLoop(ctx)
		s.state.Store(int32(venue.StateDisconnected))
	}
}

func (s *Stream) connect(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.logger.Info("stream connected", "url", s.cfg.URL)
	return nil
}

func (s *Stream) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Stream) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("stream read failed", "err", err)
			}
			s.closeConnection()
			return
		}

		upd, ok, err := Decode(msg)
		if err != nil {
			s.logger.Warn("stream message dropped", "err", err)
			continue
		}
		if !ok {
			continue
		}

		select {
		case s.updates <- upd:
		case <-ctx.Done():
			return
		}
	}
}

// Decode converts one execution report into an order update. ok is false for
// messages that are not execution reports.
func Decode(msg []byte) (types.OrderUpdate, bool, error) {
	var r executionReport
	if err := json.Unmarshal(msg, &r); err != nil {
		return types.OrderUpdate{}, false, fmt.Errorf("decode execution report: %w", err)
	}
	if r.Event != "executionReport" {
		return types.OrderUpdate{}, false, nil
	}
	if r.ClientOrderID == "" {
		return types.OrderUpdate{}, false, fmt.Errorf("execution report without client order id")
	}

	status, ok := types.ParseOrderStatus(r.Status)
	if !ok {
		return types.OrderUpdate{}, false, fmt.Errorf("unknown order status %q", r.Status)
	}

	upd := types.OrderUpdate{
		ClientOrderID: r.ClientOrderID,
		Status:        status,
		FilledQty:     parseDecimal(r.CumQty),
		LastFilledQty: parseDecimal(r.LastQty),
		LastPrice:     parseDecimal(r.LastPrice),
		EventTime:     time.UnixMilli(r.EventTime),
	}
	if r.EventTime == 0 {
		upd.EventTime = time.Now()
	}
	switch id := r.OrderID.(type) {
	case string:
		upd.ExchangeID = id
	case float64:
		upd.ExchangeID = decimal.NewFromFloat(id).String()
	}
	return upd, true, nil
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Backoff returns base * 2^attempt capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
