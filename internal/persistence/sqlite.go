package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/tca"
	"github.com/tathienbao/quant-exec/internal/types"
)

// SQLiteRepository persists positions, managed orders, trades and TCA fills
// in SQLite. Decimals are stored as TEXT.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) and migrates a database.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			entry_price TEXT NOT NULL,
			qty_initial TEXT NOT NULL,
			qty_remaining TEXT NOT NULL,
			stop_loss TEXT NOT NULL,
			take_profit TEXT NOT NULL,
			trailing_enabled INTEGER NOT NULL DEFAULT 0,
			trailing_offset TEXT NOT NULL DEFAULT '0',
			breakeven_trigger TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME,
			last_update DATETIME NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,

		`CREATE TABLE IF NOT EXISTS managed_orders (
			id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			client_order_id TEXT UNIQUE NOT NULL,
			type INTEGER NOT NULL,
			side INTEGER NOT NULL,
			price TEXT NOT NULL,
			stop_price TEXT NOT NULL DEFAULT '0',
			quantity TEXT NOT NULL,
			filled_qty TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL,
			exchange_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_managed_orders_position ON managed_orders(position_id)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			price TEXT NOT NULL,
			realized_pl TEXT NOT NULL,
			executed_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_position ON trades(position_id)`,

		`CREATE TABLE IF NOT EXISTS tca_fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_order_id TEXT NOT NULL,
			exchange_id TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			order_type INTEGER NOT NULL,
			reference TEXT NOT NULL,
			fill TEXT NOT NULL,
			quantity TEXT NOT NULL,
			slippage_bps REAL,
			queue_time_ms INTEGER NOT NULL DEFAULT 0,
			executed_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tca_fills_lookup ON tca_fills(symbol, order_type, executed_at)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SavePosition inserts or replaces a position.
func (r *SQLiteRepository) SavePosition(ctx context.Context, p types.Position) error {
	query := `INSERT OR REPLACE INTO positions
		(id, symbol, side, entry_price, qty_initial, qty_remaining, stop_loss, take_profit,
		 trailing_enabled, trailing_offset, breakeven_trigger, status, opened_at, closed_at, last_update, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Symbol,
		int(p.Side),
		p.EntryPrice.String(),
		p.QtyInitial.String(),
		p.QtyRemaining.String(),
		p.StopLoss.String(),
		p.TakeProfit.String(),
		boolToInt(p.Trailing.Enabled),
		p.Trailing.Offset.String(),
		p.Trailing.BreakevenTrigger.String(),
		p.Status.String(),
		p.OpenedAt,
		nullTime(p.ClosedAt),
		p.LastUpdate,
		p.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}

	return nil
}

const positionColumns = `id, symbol, side, entry_price, qty_initial, qty_remaining, stop_loss, take_profit,
	trailing_enabled, trailing_offset, breakeven_trigger, status, opened_at, closed_at, last_update, correlation_id`

// GetPosition returns a position by id.
func (r *SQLiteRepository) GetPosition(ctx context.Context, id string) (types.Position, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Position{}, fmt.Errorf("%w: %s", types.ErrPositionNotFound, id)
	}
	return p, err
}

// ListOpenPositions returns OPEN positions ordered by open time.
func (r *SQLiteRepository) ListOpenPositions(ctx context.Context) ([]types.Position, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status = ? ORDER BY opened_at`,
		types.PositionOpen.String())
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var positions []types.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(s scanner) (types.Position, error) {
	var (
		p                                                  types.Position
		side, trailing                                     int
		entry, initial, remaining, stop, target, off, trig string
		status                                             string
		closedAt                                           sql.NullTime
	)
	err := s.Scan(&p.ID, &p.Symbol, &side, &entry, &initial, &remaining, &stop, &target,
		&trailing, &off, &trig, &status, &p.OpenedAt, &closedAt, &p.LastUpdate, &p.CorrelationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("scan position: %w", err)
	}

	p.Side = types.Side(side)
	p.EntryPrice, _ = decimal.NewFromString(entry)
	p.QtyInitial, _ = decimal.NewFromString(initial)
	p.QtyRemaining, _ = decimal.NewFromString(remaining)
	p.StopLoss, _ = decimal.NewFromString(stop)
	p.TakeProfit, _ = decimal.NewFromString(target)
	p.Trailing.Enabled = trailing != 0
	p.Trailing.Offset, _ = decimal.NewFromString(off)
	p.Trailing.BreakevenTrigger, _ = decimal.NewFromString(trig)
	p.Status, _ = types.ParsePositionStatus(status)
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	return p, nil
}

// SaveOrder inserts or updates a managed order by id. The client order id
// is UNIQUE; a clash with another order returns types.ErrDuplicateOrder.
func (r *SQLiteRepository) SaveOrder(ctx context.Context, o types.ManagedOrder) error {
	if o.ID == "" || o.ClientOrderID == "" {
		return fmt.Errorf("%w: order and client order id required", types.ErrInvalidRequest)
	}

	query := `INSERT INTO managed_orders
		(id, position_id, client_order_id, type, side, price, stop_price, quantity, filled_qty, status, exchange_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_order_id = excluded.client_order_id,
			price = excluded.price,
			stop_price = excluded.stop_price,
			quantity = excluded.quantity,
			filled_qty = excluded.filled_qty,
			status = excluded.status,
			exchange_id = excluded.exchange_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		o.ID,
		o.PositionID,
		o.ClientOrderID,
		int(o.Type),
		int(o.Side),
		o.Price.String(),
		o.StopPrice.String(),
		o.Quantity.String(),
		o.FilledQty.String(),
		o.Status.String(),
		o.ExchangeID,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: %s", types.ErrDuplicateOrder, o.ClientOrderID)
		}
		return fmt.Errorf("save order: %w", err)
	}

	return nil
}

const orderColumns = `id, position_id, client_order_id, type, side, price, stop_price, quantity, filled_qty, status, exchange_id, created_at, updated_at`

// GetOrder returns a managed order by id.
func (r *SQLiteRepository) GetOrder(ctx context.Context, id string) (types.ManagedOrder, error) {
	return r.queryOrder(ctx, `SELECT `+orderColumns+` FROM managed_orders WHERE id = ?`, id)
}

// GetOrderByClientID returns a managed order by client order id.
func (r *SQLiteRepository) GetOrderByClientID(ctx context.Context, clientOrderID string) (types.ManagedOrder, error) {
	return r.queryOrder(ctx, `SELECT `+orderColumns+` FROM managed_orders WHERE client_order_id = ?`, clientOrderID)
}

// FindOrder returns the order of the given type for a position.
func (r *SQLiteRepository) FindOrder(ctx context.Context, positionID string, typ types.ManagedOrderType) (types.ManagedOrder, error) {
	return r.queryOrder(ctx,
		`SELECT `+orderColumns+` FROM managed_orders WHERE position_id = ? AND type = ? ORDER BY created_at DESC LIMIT 1`,
		positionID, int(typ))
}

func (r *SQLiteRepository) queryOrder(ctx context.Context, query string, args ...any) (types.ManagedOrder, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return types.ManagedOrder{}, fmt.Errorf("%w: %v", types.ErrOrderNotFound, args)
	}
	return o, err
}

// ListOrders returns every order of a position, oldest first.
func (r *SQLiteRepository) ListOrders(ctx context.Context, positionID string) ([]types.ManagedOrder, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM managed_orders WHERE position_id = ? ORDER BY created_at, type`, positionID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orders []types.ManagedOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	return orders, rows.Err()
}

func scanOrder(s scanner) (types.ManagedOrder, error) {
	var (
		o                                  types.ManagedOrder
		typ, side                          int
		price, stopPrice, qty, filled, sts string
	)
	err := s.Scan(&o.ID, &o.PositionID, &o.ClientOrderID, &typ, &side, &price, &stopPrice, &qty, &filled,
		&sts, &o.ExchangeID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, err
		}
		return o, fmt.Errorf("scan order: %w", err)
	}

	o.Type = types.ManagedOrderType(typ)
	o.Side = types.Side(side)
	o.Price, _ = decimal.NewFromString(price)
	o.StopPrice, _ = decimal.NewFromString(stopPrice)
	o.Quantity, _ = decimal.NewFromString(qty)
	o.FilledQty, _ = decimal.NewFromString(filled)
	o.Status, _ = types.ParseOrderStatus(sts)
	return o, nil
}

// SaveTrade records a protective fill.
func (r *SQLiteRepository) SaveTrade(ctx context.Context, t types.Trade) error {
	query := `INSERT INTO trades
		(id, position_id, order_id, symbol, side, quantity, price, realized_pl, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.PositionID,
		t.OrderID,
		t.Symbol,
		int(t.Side),
		t.Quantity.String(),
		t.Price.String(),
		t.RealizedPL.String(),
		t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	return nil
}

// Trades returns the trades recorded for a position, oldest first.
func (r *SQLiteRepository) Trades(ctx context.Context, positionID string) ([]types.Trade, error) {
	query := `SELECT id, position_id, order_id, symbol, side, quantity, price, realized_pl, executed_at
		FROM trades WHERE position_id = ? ORDER BY executed_at`

	rows, err := r.db.QueryContext(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var trades []types.Trade
	for rows.Next() {
		var t types.Trade
		var side int
		var qty, price, pl string

		if err := rows.Scan(&t.ID, &t.PositionID, &t.OrderID, &t.Symbol, &side, &qty, &price, &pl, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		t.Side = types.Side(side)
		t.Quantity, _ = decimal.NewFromString(qty)
		t.Price, _ = decimal.NewFromString(price)
		t.RealizedPL, _ = decimal.NewFromString(pl)
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// SaveFill records a TCA sample.
func (r *SQLiteRepository) SaveFill(ctx context.Context, s tca.Sample) error {
	query := `INSERT INTO tca_fills
		(client_order_id, exchange_id, symbol, side, order_type, reference, fill, quantity, slippage_bps, queue_time_ms, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		s.ClientOrderID,
		s.ExchangeID,
		s.Symbol,
		int(s.Side),
		int(s.OrderType),
		s.Reference.String(),
		s.Fill.String(),
		s.Quantity.String(),
		sql.NullFloat64{Float64: s.SlippageBps, Valid: !math.IsNaN(s.SlippageBps)},
		s.QueueTime.Milliseconds(),
		s.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}

	return nil
}

// FillsBetween returns TCA samples for symbol and order type executed in
// [from, to], oldest first.
func (r *SQLiteRepository) FillsBetween(ctx context.Context, symbol string, orderType types.OrderType, from, to time.Time) ([]tca.Sample, error) {
	query := `SELECT client_order_id, exchange_id, symbol, side, order_type, reference, fill, quantity, slippage_bps, queue_time_ms, executed_at
		FROM tca_fills WHERE symbol = ? AND order_type = ? AND executed_at BETWEEN ? AND ? ORDER BY executed_at`

	rows, err := r.db.QueryContext(ctx, query, symbol, int(orderType), from, to)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var samples []tca.Sample
	for rows.Next() {
		var s tca.Sample
		var side, typ int
		var queueMs int64
		var ref, fill, qty string
		var slippage sql.NullFloat64

		if err := rows.Scan(&s.ClientOrderID, &s.ExchangeID, &s.Symbol, &side, &typ, &ref, &fill, &qty,
			&slippage, &queueMs, &s.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		s.Side = types.Side(side)
		s.OrderType = types.OrderType(typ)
		s.Reference, _ = decimal.NewFromString(ref)
		s.Fill, _ = decimal.NewFromString(fill)
		s.Quantity, _ = decimal.NewFromString(qty)
		s.QueueTime = time.Duration(queueMs) * time.Millisecond
		s.SlippageBps = math.NaN()
		if slippage.Valid {
			s.SlippageBps = slippage.Float64
		}
		samples = append(samples, s)
	}

	return samples, rows.Err()
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
