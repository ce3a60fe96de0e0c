// Package persistence provides state persistence for positions, protective
// orders, trades and TCA fills.
package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tathienbao/quant-exec/internal/tca"
	"github.com/tathienbao/quant-exec/internal/types"
)

// Repository is the full persistence surface shared by every backend.
type Repository interface {
	// Position operations
	SavePosition(ctx context.Context, p types.Position) error
	GetPosition(ctx context.Context, id string) (types.Position, error)
	ListOpenPositions(ctx context.Context) ([]types.Position, error)

	// Managed order operations
	SaveOrder(ctx context.Context, o types.ManagedOrder) error
	GetOrder(ctx context.Context, id string) (types.ManagedOrder, error)
	GetOrderByClientID(ctx context.Context, clientOrderID string) (types.ManagedOrder, error)
	FindOrder(ctx context.Context, positionID string, typ types.ManagedOrderType) (types.ManagedOrder, error)
	ListOrders(ctx context.Context, positionID string) ([]types.ManagedOrder, error)

	// Trade operations
	SaveTrade(ctx context.Context, t types.Trade) error
	Trades(ctx context.Context, positionID string) ([]types.Trade, error)

	// TCA operations
	SaveFill(ctx context.Context, s tca.Sample) error
	FillsBetween(ctx context.Context, symbol string, orderType types.OrderType, from, to time.Time) ([]tca.Sample, error)

	// Lifecycle
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Open returns the repository for backend. An empty backend selects memory.
func Open(backend, path string) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		return NewSQLiteRepository(path)
	case BackendBolt:
		return NewBoltRepository(path)
	default:
		return nil, fmt.Errorf("%w: persistence type %q", types.ErrInvalidConfig, backend)
	}
}

var (
	_ Repository = (*MemoryStore)(nil)
	_ Repository = (*SQLiteRepository)(nil)
	_ Repository = (*BoltRepository)(nil)
)
