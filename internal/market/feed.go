// Package market turns bar feeds into execution snapshots and the ATR
// input of the stop engine.
package market

import (
	"context"

	"github.com/tathienbao/quant-exec/internal/types"
)

// Feed is a source of bars.
type Feed interface {
	// Subscribe returns a channel of bars for symbol. The channel is
	// closed when ctx is cancelled or the feed ends.
	Subscribe(ctx context.Context, symbol string) (<-chan types.MarketEvent, error)

	// Close shuts down the feed and releases resources.
	Close() error

	// Name returns the feed identifier (e.g. "csv", "memory").
	Name() string
}

// Observer combines a feed with a tracker.
type Observer struct {
	feed    Feed
	tracker *Tracker
}

// NewObserver creates an observer over feed. Bars are folded into tracker
// before they are forwarded.
func NewObserver(feed Feed, tracker *Tracker) *Observer {
	return &Observer{
		feed:    feed,
		tracker: tracker,
	}
}

// Subscribe starts observing symbol.
func (o *Observer) Subscribe(ctx context.Context, symbol string) (<-chan types.MarketEvent, error) {
	raw, err := o.feed.Subscribe(ctx, symbol)
	if err != nil {
		return nil, err
	}

	out := make(chan types.MarketEvent, 100)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-raw:
				if !ok {
					return
				}
				o.tracker.OnBar(event)
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Tracker returns the tracker the observer feeds.
func (o *Observer) Tracker() *Tracker {
	return o.tracker
}

// Close shuts down the feed.
func (o *Observer) Close() error {
	return o.feed.Close()
}
