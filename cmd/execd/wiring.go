package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/alerting"
	"github.com/tathienbao/quant-exec/internal/persistence"
	"github.com/tathienbao/quant-exec/internal/types"
	"github.com/tathienbao/quant-exec/internal/venue"
	"github.com/tathienbao/quant-exec/internal/venue/paper"
	"github.com/tathienbao/quant-exec/internal/venue/stream"
)

// streamVenue places orders on the paper venue and takes connection state
// from the user-data stream. Updates from both are merged.
type streamVenue struct {
	*paper.Venue
	stream    *stream.Stream
	updates   chan types.OrderUpdate
	closeOnce sync.Once
}

func newStreamVenue(p *paper.Venue, s *stream.Stream) *streamVenue {
	v := &streamVenue{
		Venue:   p,
		stream:  s,
		updates: make(chan types.OrderUpdate, 256),
	}

	var wg sync.WaitGroup
	forward := func(in <-chan types.OrderUpdate) {
		defer wg.Done()
		for u := range in {
			v.updates <- u
		}
	}
	wg.Add(2)
	go forward(p.Updates())
	go forward(s.Updates())
	go func() {
		wg.Wait()
		close(v.updates)
	}()
	return v
}

func (v *streamVenue) Updates() <-chan types.OrderUpdate {
	return v.updates
}

func (v *streamVenue) State() venue.ConnectionState {
	return v.stream.State()
}

func (v *streamVenue) Close() error {
	v.closeOnce.Do(func() {
		v.stream.Stop()
		_ = v.Venue.Close()
	})
	return nil
}

// sessionCounts are the position events seen since startup.
type sessionCounts struct {
	Opened      int `json:"opened"`
	Closed      int `json:"closed"`
	Corrections int `json:"oco_corrections"`
	Adopted     int `json:"adopted"`
}

// session counts position events for the shutdown summary and forwards
// them to the alert notifier.
type session struct {
	*alerting.Notifier
	repo persistence.Repository

	mu     sync.Mutex
	tally  sessionCounts
	closed []string
}

func newSession(n *alerting.Notifier, repo persistence.Repository) *session {
	return &session{Notifier: n, repo: repo}
}

func (s *session) PositionOpened(p types.Position) {
	s.mu.Lock()
	s.tally.Opened++
	s.mu.Unlock()
	if s.Notifier != nil {
		s.Notifier.PositionOpened(p)
	}
}

func (s *session) PositionClosed(p types.Position) {
	s.mu.Lock()
	s.tally.Closed++
	s.closed = append(s.closed, p.ID)
	s.mu.Unlock()
	if s.Notifier != nil {
		s.Notifier.PositionClosed(p)
	}
}

func (s *session) OCOCorrected(positionID, clientOrderID, reason string) {
	s.mu.Lock()
	s.tally.Corrections++
	s.mu.Unlock()
	if s.Notifier != nil {
		s.Notifier.OCOCorrected(positionID, clientOrderID, reason)
	}
}

func (s *session) OrderAdopted(snap types.ExternalOrderSnapshot) {
	s.mu.Lock()
	s.tally.Adopted++
	s.mu.Unlock()
	if s.Notifier != nil {
		s.Notifier.OrderAdopted(snap)
	}
}

func (s *session) PartialFill(p types.Position, o types.ManagedOrder, delta, price decimal.Decimal) {
	if s.Notifier != nil {
		s.Notifier.PartialFill(p, o, delta, price)
	}
}

func (s *session) ProtectiveFilled(p types.Position, o types.ManagedOrder, price, pnl decimal.Decimal) {
	if s.Notifier != nil {
		s.Notifier.ProtectiveFilled(p, o, price, pnl)
	}
}

func (s *session) PositionError(p types.Position, o types.ManagedOrder) {
	if s.Notifier != nil {
		s.Notifier.PositionError(p, o)
	}
}

func (s *session) counts() sessionCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tally
}

// summary collects the realized trades of every position closed this session.
func (s *session) summary(ctx context.Context, start, end time.Time, open int) (alerting.SessionSummary, error) {
	s.mu.Lock()
	closed := append([]string(nil), s.closed...)
	c := s.tally
	s.mu.Unlock()

	var trades []types.Trade
	for _, id := range closed {
		t, err := s.repo.Trades(ctx, id)
		if err != nil {
			return alerting.SessionSummary{}, fmt.Errorf("trades for %s: %w", id, err)
		}
		trades = append(trades, t...)
	}
	return alerting.NewSessionSummary(start, end, trades, alerting.SessionCounters{
		Opened:      c.Opened,
		Closed:      c.Closed,
		Open:        open,
		Corrections: c.Corrections,
		Adopted:     c.Adopted,
	}), nil
}
