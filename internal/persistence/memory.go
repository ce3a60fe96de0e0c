package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tathienbao/quant-exec/internal/tca"
	"github.com/tathienbao/quant-exec/internal/types"
)

// MemoryStore keeps positions, protective orders, trades and TCA fills in
// memory. Records are stored and returned by value.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]types.Position
	orders    map[string]types.ManagedOrder
	byClient  map[string]string // client order id -> order id
	trades    []types.Trade
	fills     []tca.Sample
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]types.Position),
		orders:    make(map[string]types.ManagedOrder),
		byClient:  make(map[string]string),
	}
}

// SavePosition inserts or replaces a position.
func (s *MemoryStore) SavePosition(_ context.Context, p types.Position) error {
	if p.ID == "" {
		return fmt.Errorf("%w: position id required", types.ErrInvalidRequest)
	}
	s.mu.Lock()
	s.positions[p.ID] = p
	s.mu.Unlock()
	return nil
}

// GetPosition returns a position by id.
func (s *MemoryStore) GetPosition(_ context.Context, id string) (types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return types.Position{}, fmt.Errorf("%w: %s", types.ErrPositionNotFound, id)
	}
	return p, nil
}

// ListOpenPositions returns OPEN positions ordered by open time.
func (s *MemoryStore) ListOpenPositions(_ context.Context) ([]types.Position, error) {
	s.mu.RLock()
	out := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Status == types.PositionOpen {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// SaveOrder inserts or replaces a managed order. A client order id already
// owned by a different order is rejected with ErrDuplicateOrder.
func (s *MemoryStore) SaveOrder(_ context.Context, o types.ManagedOrder) error {
	if o.ID == "" || o.ClientOrderID == "" {
		return fmt.Errorf("%w: order and client order id required", types.ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.byClient[o.ClientOrderID]; ok && owner != o.ID {
		return fmt.Errorf("%w: %s", types.ErrDuplicateOrder, o.ClientOrderID)
	}
	if prev, ok := s.orders[o.ID]; ok && prev.ClientOrderID != o.ClientOrderID {
		delete(s.byClient, prev.ClientOrderID)
	}
	s.orders[o.ID] = o
	s.byClient[o.ClientOrderID] = o.ID
	return nil
}

// GetOrder returns a managed order by id.
func (s *MemoryStore) GetOrder(_ context.Context, id string) (types.ManagedOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return types.ManagedOrder{}, fmt.Errorf("%w: %s", types.ErrOrderNotFound, id)
	}
	return o, nil
}

// GetOrderByClientID returns a managed order by client order id.
func (s *MemoryStore) GetOrderByClientID(_ context.Context, clientOrderID string) (types.ManagedOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byClient[clientOrderID]
	if !ok {
		return types.ManagedOrder{}, fmt.Errorf("%w: %s", types.ErrOrderNotFound, clientOrderID)
	}
	return s.orders[id], nil
}

// FindOrder returns the order of the given type for a position.
func (s *MemoryStore) FindOrder(_ context.Context, positionID string, typ types.ManagedOrderType) (types.ManagedOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.PositionID == positionID && o.Type == typ {
			return o, nil
		}
	}
	return types.ManagedOrder{}, fmt.Errorf("%w: %s for position %s", types.ErrOrderNotFound, typ, positionID)
}

// ListOrders returns every order of a position, oldest first.
func (s *MemoryStore) ListOrders(_ context.Context, positionID string) ([]types.ManagedOrder, error) {
	s.mu.RLock()
	var out []types.ManagedOrder
	for _, o := range s.orders {
		if o.PositionID == positionID {
			out = append(out, o)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Type < out[j].Type
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SaveTrade appends a trade.
func (s *MemoryStore) SaveTrade(_ context.Context, t types.Trade) error {
	s.mu.Lock()
	s.trades = append(s.trades, t)
	s.mu.Unlock()
	return nil
}

// Trades returns the trades recorded for a position.
func (s *MemoryStore) Trades(_ context.Context, positionID string) ([]types.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Trade
	for _, t := range s.trades {
		if t.PositionID == positionID {
			out = append(out, t)
		}
	}
	return out, nil
}

// SaveFill records a TCA sample.
func (s *MemoryStore) SaveFill(_ context.Context, sample tca.Sample) error {
	s.mu.Lock()
	s.fills = append(s.fills, sample)
	s.mu.Unlock()
	return nil
}

// FillsBetween returns TCA samples for symbol and order type executed in
// [from, to].
func (s *MemoryStore) FillsBetween(_ context.Context, symbol string, orderType types.OrderType, from, to time.Time) ([]tca.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tca.Sample
	for _, f := range s.fills {
		if f.Symbol == symbol && f.OrderType == orderType && !f.ExecutedAt.Before(from) && !f.ExecutedAt.After(to) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
