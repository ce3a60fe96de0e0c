package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tathienbao/quant-exec/internal/tca"
	"github.com/tathienbao/quant-exec/internal/types"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketPositions   = "positions"
	bucketOrders      = "managed_orders"
	bucketClientIndex = "client_order_index"
	bucketTrades      = "trades"
	bucketFills       = "tca_fills"
)

// BoltRepository stores records as JSON in a bbolt file. Client order ids
// are indexed in their own bucket to enforce uniqueness.
type BoltRepository struct {
	db *bolt.DB
}

// NewBoltRepository opens (creating if needed) a bbolt database.
func NewBoltRepository(path string) (*BoltRepository, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	r := &BoltRepository{db: db}
	if err := r.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *BoltRepository) ensureBuckets() error {
	return r.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketPositions, bucketOrders, bucketClientIndex, bucketTrades, bucketFills} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the database.
func (r *BoltRepository) Close() error {
	return r.db.Close()
}

func put(tx *bolt.Tx, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
}

// SavePosition inserts or replaces a position.
func (r *BoltRepository) SavePosition(_ context.Context, p types.Position) error {
	if p.ID == "" {
		return fmt.Errorf("%w: position id required", types.ErrInvalidRequest)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketPositions, p.ID, p)
	})
}

// GetPosition returns a position by id.
func (r *BoltRepository) GetPosition(_ context.Context, id string) (types.Position, error) {
	var p types.Position
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketPositions)).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", types.ErrPositionNotFound, id)
		}
		return json.Unmarshal(v, &p)
	})
	return p, err
}

// ListOpenPositions returns OPEN positions ordered by open time.
func (r *BoltRepository) ListOpenPositions(_ context.Context) ([]types.Position, error) {
	var out []types.Position
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketPositions)).ForEach(func(_, v []byte) error {
			var p types.Position
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.Status == types.PositionOpen {
				out = append(out, p)
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, err
}

// SaveOrder inserts or replaces a managed order, maintaining the client
// order id index.
func (r *BoltRepository) SaveOrder(_ context.Context, o types.ManagedOrder) error {
	if o.ID == "" || o.ClientOrderID == "" {
		return fmt.Errorf("%w: order and client order id required", types.ErrInvalidRequest)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket([]byte(bucketClientIndex))
		if owner := index.Get([]byte(o.ClientOrderID)); owner != nil && string(owner) != o.ID {
			return fmt.Errorf("%w: %s", types.ErrDuplicateOrder, o.ClientOrderID)
		}

		if prev := tx.Bucket([]byte(bucketOrders)).Get([]byte(o.ID)); prev != nil {
			var old types.ManagedOrder
			if err := json.Unmarshal(prev, &old); err != nil {
				return err
			}
			if old.ClientOrderID != o.ClientOrderID {
				if err := index.Delete([]byte(old.ClientOrderID)); err != nil {
					return err
				}
			}
		}

		if err := index.Put([]byte(o.ClientOrderID), []byte(o.ID)); err != nil {
			return err
		}
		return put(tx, bucketOrders, o.ID, o)
	})
}

func getOrder(tx *bolt.Tx, id string) (types.ManagedOrder, error) {
	var o types.ManagedOrder
	v := tx.Bucket([]byte(bucketOrders)).Get([]byte(id))
	if v == nil {
		return o, fmt.Errorf("%w: %s", types.ErrOrderNotFound, id)
	}
	err := json.Unmarshal(v, &o)
	return o, err
}

// GetOrder returns a managed order by id.
func (r *BoltRepository) GetOrder(_ context.Context, id string) (types.ManagedOrder, error) {
	var o types.ManagedOrder
	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		o, err = getOrder(tx, id)
		return err
	})
	return o, err
}

// GetOrderByClientID returns a managed order by client order id.
func (r *BoltRepository) GetOrderByClientID(_ context.Context, clientOrderID string) (types.ManagedOrder, error) {
	var o types.ManagedOrder
	err := r.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket([]byte(bucketClientIndex)).Get([]byte(clientOrderID))
		if id == nil {
			return fmt.Errorf("%w: %s", types.ErrOrderNotFound, clientOrderID)
		}
		var err error
		o, err = getOrder(tx, string(id))
		return err
	})
	return o, err
}

func (r *BoltRepository) scanOrders(match func(types.ManagedOrder) bool) ([]types.ManagedOrder, error) {
	var out []types.ManagedOrder
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketOrders)).ForEach(func(_, v []byte) error {
			var o types.ManagedOrder
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if match(o) {
				out = append(out, o)
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Type < out[j].Type
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

// FindOrder returns the order of the given type for a position.
func (r *BoltRepository) FindOrder(_ context.Context, positionID string, typ types.ManagedOrderType) (types.ManagedOrder, error) {
	orders, err := r.scanOrders(func(o types.ManagedOrder) bool {
		return o.PositionID == positionID && o.Type == typ
	})
	if err != nil {
		return types.ManagedOrder{}, err
	}
	if len(orders) == 0 {
		return types.ManagedOrder{}, fmt.Errorf("%w: %s for position %s", types.ErrOrderNotFound, typ, positionID)
	}
	return orders[len(orders)-1], nil
}

// ListOrders returns every order of a position, oldest first.
func (r *BoltRepository) ListOrders(_ context.Context, positionID string) ([]types.ManagedOrder, error) {
	return r.scanOrders(func(o types.ManagedOrder) bool { return o.PositionID == positionID })
}

// SaveTrade records a protective fill.
func (r *BoltRepository) SaveTrade(_ context.Context, t types.Trade) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketTrades, t.ID, t)
	})
}

// Trades returns the trades recorded for a position, oldest first.
func (r *BoltRepository) Trades(_ context.Context, positionID string) ([]types.Trade, error) {
	var out []types.Trade
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketTrades)).ForEach(func(_, v []byte) error {
			var t types.Trade
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.PositionID == positionID {
				out = append(out, t)
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out, err
}

// fillKey orders fills by execution time within the bucket.
func fillKey(s tca.Sample) string {
	return fmt.Sprintf("%020d-%s", s.ExecutedAt.UnixNano(), s.ClientOrderID)
}

// fillRecord carries an unknown (NaN) slippage as null.
type fillRecord struct {
	tca.Sample
	SlippageBps *float64
}

// SaveFill records a TCA sample.
func (r *BoltRepository) SaveFill(_ context.Context, s tca.Sample) error {
	rec := fillRecord{Sample: s}
	if !math.IsNaN(s.SlippageBps) {
		rec.SlippageBps = &s.SlippageBps
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketFills, fillKey(s), rec)
	})
}

// FillsBetween returns TCA samples for symbol and order type executed in
// [from, to], oldest first.
func (r *BoltRepository) FillsBetween(_ context.Context, symbol string, orderType types.OrderType, from, to time.Time) ([]tca.Sample, error) {
	var out []tca.Sample
	minKey := []byte(fmt.Sprintf("%020d", from.UnixNano()))
	maxKey := []byte(fmt.Sprintf("%020d~", to.UnixNano()))

	err := r.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketFills)).Cursor()
		for k, v := c.Seek(minKey); k != nil && string(k) <= string(maxKey); k, v = c.Next() {
			var rec fillRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			s := rec.Sample
			s.SlippageBps = math.NaN()
			if rec.SlippageBps != nil {
				s.SlippageBps = *rec.SlippageBps
			}
			if s.Symbol == symbol && s.OrderType == orderType {
				out = append(out, s)
			}
		}
		return nil
	})
	return out, err
}
