// Package tca implements transaction cost analysis: it pairs submissions
// with fills, keeps a bounded history of slippage samples and serves
// expected-slippage estimates to the execution policy.
package tca

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/types"
)

// Config holds TCA configuration.
type Config struct {
	Enabled         bool
	HistorySize     int
	Retention       time.Duration
	HighSlippageBps float64 // MARKET above this recommends LIMIT
	LowSlippageBps  float64 // LIMIT below this recommends MARKET
	LookbackStore   time.Duration
}

// DefaultConfig returns default TCA config.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		HistorySize:     5000,
		Retention:       7 * 24 * time.Hour,
		HighSlippageBps: 8,
		LowSlippageBps:  4,
		LookbackStore:   12 * time.Hour,
	}
}

// Sample is one matched submission and fill.
type Sample struct {
	ClientOrderID string
	ExchangeID    string
	Symbol        string
	Side          types.Side
	OrderType     types.OrderType
	Reference     decimal.Decimal
	Fill          decimal.Decimal
	Quantity      decimal.Decimal
	SlippageBps   float64
	QueueTime     time.Duration
	ExecutedAt    time.Time
}

// Store persists samples and serves them back when memory has none.
type Store interface {
	SaveFill(ctx context.Context, s Sample) error
	FillsBetween(ctx context.Context, symbol string, orderType types.OrderType, from, to time.Time) ([]Sample, error)
}

// HourlyStats summarizes samples in a window.
type HourlyStats struct {
	Samples       int
	AverageBps    float64
	AverageQueue  time.Duration
	HourlyAverage map[int]float64 // UTC hour -> mean bps
}

type pending struct {
	symbol    string
	side      types.Side
	orderType types.OrderType
	reference decimal.Decimal
	at        time.Time
}

// Service is the slippage oracle. Safe for concurrent use.
type Service struct {
	cfg    Config
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]pending
	samples []Sample
}

// NewService creates a TCA service. store may be nil.
func NewService(cfg Config, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]pending),
	}
}

// RecordSubmission remembers the reference price of an outgoing order.
func (s *Service) RecordSubmission(clientOrderID, symbol string, side types.Side, orderType types.OrderType, reference decimal.Decimal, at time.Time) {
	if !s.cfg.Enabled || clientOrderID == "" {
		return
	}
	if at.IsZero() {
		at = s.now()
	}
	s.mu.Lock()
	s.pending[clientOrderID] = pending{symbol: symbol, side: side, orderType: orderType, reference: reference, at: at}
	s.mu.Unlock()
}

// RecordFill matches a fill to its submission and stores the sample.
// It returns false when no submission was recorded for clientOrderID.
func (s *Service) RecordFill(ctx context.Context, clientOrderID, exchangeID string, price, qty decimal.Decimal, at time.Time) (Sample, bool) {
	if !s.cfg.Enabled || clientOrderID == "" {
		return Sample{}, false
	}
	if at.IsZero() {
		at = s.now()
	}

	s.mu.Lock()
	p, ok := s.pending[clientOrderID]
	delete(s.pending, clientOrderID)
	s.mu.Unlock()
	if !ok || !price.IsPositive() {
		return Sample{}, false
	}

	sample := Sample{
		ClientOrderID: clientOrderID,
		ExchangeID:    exchangeID,
		Symbol:        p.symbol,
		Side:          p.side,
		OrderType:     p.orderType,
		Reference:     p.reference,
		Fill:          price,
		Quantity:      qty,
		SlippageBps:   SlippageBps(p.side, p.reference, price),
		QueueTime:     at.Sub(p.at),
		ExecutedAt:    at,
	}
	s.append(sample)

	if s.store != nil {
		if err := s.store.SaveFill(ctx, sample); err != nil {
			s.logger.Warn("tca fill not persisted", "client_order_id", clientOrderID, "err", err)
		}
	}
	return sample, true
}

// Discard forgets a submission that will never fill.
func (s *Service) Discard(clientOrderID string) {
	s.mu.Lock()
	delete(s.pending, clientOrderID)
	s.mu.Unlock()
}

func (s *Service) append(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, sample)
	if over := len(s.samples) - s.cfg.HistorySize; over > 0 {
		s.samples = s.samples[over:]
	}

	cutoff := sample.ExecutedAt.Add(-s.cfg.Retention)
	i := 0
	for i < len(s.samples) && s.samples[i].ExecutedAt.Before(cutoff) {
		i++
	}
	s.samples = s.samples[i:]
}

// ExpectedSlippageBps returns the mean slippage for symbol and order type
// in the UTC hour of asOf, falling back to stored fills and then to the
// symbol-wide mean. NaN means unknown.
func (s *Service) ExpectedSlippageBps(symbol string, orderType types.OrderType, asOf time.Time) float64 {
	if !s.cfg.Enabled {
		return math.NaN()
	}
	hour := asOf.UTC().Hour()

	var sum float64
	var n int
	s.mu.Lock()
	for _, smp := range s.samples {
		if smp.Symbol == symbol && smp.OrderType == orderType && smp.ExecutedAt.UTC().Hour() == hour && !math.IsNaN(smp.SlippageBps) {
			sum += smp.SlippageBps
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		return sum / float64(n)
	}

	if s.store != nil {
		if v, ok := s.fromStore(symbol, orderType, hour, asOf); ok {
			return v
		}
	}
	return s.symbolAverage(symbol)
}

func (s *Service) fromStore(symbol string, orderType types.OrderType, hour int, asOf time.Time) (float64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	fills, err := s.store.FillsBetween(ctx, symbol, orderType, asOf.Add(-s.cfg.LookbackStore), asOf)
	if err != nil {
		s.logger.Warn("tca store lookup failed", "symbol", symbol, "err", err)
		return 0, false
	}
	var sum float64
	var n int
	for _, f := range fills {
		if f.ExecutedAt.UTC().Hour() == hour && !math.IsNaN(f.SlippageBps) {
			sum += f.SlippageBps
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (s *Service) symbolAverage(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	var n int
	for _, smp := range s.samples {
		if smp.Symbol == symbol && !math.IsNaN(smp.SlippageBps) {
			sum += smp.SlippageBps
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// RecommendOrderType suggests switching between MARKET and LIMIT based on
// expected slippage for the baseline type.
func (s *Service) RecommendOrderType(symbol string, baseline types.OrderType, asOf time.Time) types.OrderType {
	expected := s.ExpectedSlippageBps(symbol, baseline, asOf)
	if math.IsNaN(expected) {
		return baseline
	}
	if expected > s.cfg.HighSlippageBps && baseline == types.OrderTypeMarket {
		return types.OrderTypeLimit
	}
	if expected < s.cfg.LowSlippageBps && baseline == types.OrderTypeLimit {
		return types.OrderTypeMarket
	}
	return baseline
}

// Aggregate summarizes samples for symbol (all symbols when empty) in
// [from, to]. Zero bounds are open.
func (s *Service) Aggregate(symbol string, from, to time.Time) HourlyStats {
	s.mu.Lock()
	var filtered []Sample
	for _, smp := range s.samples {
		if symbol != "" && smp.Symbol != symbol {
			continue
		}
		if !from.IsZero() && smp.ExecutedAt.Before(from) {
			continue
		}
		if !to.IsZero() && smp.ExecutedAt.After(to) {
			continue
		}
		filtered = append(filtered, smp)
	}
	s.mu.Unlock()

	stats := HourlyStats{
		Samples:       len(filtered),
		AverageBps:    math.NaN(),
		HourlyAverage: make(map[int]float64),
	}
	if len(filtered) == 0 {
		return stats
	}

	sums := make(map[int]float64)
	counts := make(map[int]int)
	var total float64
	var queue time.Duration
	for _, smp := range filtered {
		h := smp.ExecutedAt.UTC().Hour()
		sums[h] += smp.SlippageBps
		counts[h]++
		total += smp.SlippageBps
		queue += smp.QueueTime
	}
	for h, sum := range sums {
		stats.HourlyAverage[h] = sum / float64(counts[h])
	}
	stats.AverageBps = total / float64(len(filtered))
	stats.AverageQueue = queue / time.Duration(len(filtered))
	return stats
}

// SlippageBps returns direction-adjusted slippage: positive is adverse
// (paid more on BUY, received less on SELL). NaN if reference is not positive.
func SlippageBps(side types.Side, reference, fill decimal.Decimal) float64 {
	if !reference.IsPositive() {
		return math.NaN()
	}
	diff := fill.Sub(reference)
	if side == types.SideSell {
		diff = diff.Neg()
	}
	return diff.Div(reference).Mul(decimal.NewFromInt(10000)).InexactFloat64()
}
