package market

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/types"
)

// CSVFeed replays bars from a CSV file.
type CSVFeed struct {
	filePath string
	symbol   string

	mu     sync.Mutex
	events []types.MarketEvent
	loaded bool
}

// NewCSVFeed creates a feed over filePath. Rows are
// timestamp,open,high,low,close[,volume[,bid,ask]] with an optional header.
func NewCSVFeed(filePath, symbol string) *CSVFeed {
	return &CSVFeed{
		filePath: filePath,
		symbol:   symbol,
	}
}

// Subscribe replays the file's bars. The channel closes after the last bar.
func (f *CSVFeed) Subscribe(ctx context.Context, symbol string) (<-chan types.MarketEvent, error) {
	events, err := f.load()
	if err != nil {
		return nil, err
	}
	return replay(ctx, events, symbol), nil
}

// Close releases the loaded bars.
func (f *CSVFeed) Close() error {
	f.mu.Lock()
	f.events = nil
	f.loaded = false
	f.mu.Unlock()
	return nil
}

// Name returns the feed identifier.
func (f *CSVFeed) Name() string {
	return "csv"
}

// Events loads and returns every bar in the file.
func (f *CSVFeed) Events() ([]types.MarketEvent, error) {
	return f.load()
}

func (f *CSVFeed) load() ([]types.MarketEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loaded {
		return f.events, nil
	}

	file, err := os.Open(f.filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	events, err := ParseCSV(file, f.symbol)
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	f.events = events
	f.loaded = true
	return events, nil
}

// ParseCSV parses bars from r. Rows that do not parse are skipped.
func ParseCSV(r io.Reader, symbol string) ([]types.MarketEvent, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var events []types.MarketEvent
	lineNum := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		lineNum++

		if lineNum == 1 && isHeader(record) {
			continue
		}
		if len(record) < 5 {
			continue
		}

		event, err := parseRecord(record, symbol)
		if err != nil {
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

func parseRecord(record []string, symbol string) (types.MarketEvent, error) {
	event := types.MarketEvent{Symbol: symbol}

	ts, err := parseTimestamp(record[0])
	if err != nil {
		return event, fmt.Errorf("parse timestamp: %w", err)
	}
	event.Timestamp = ts

	fields := []*decimal.Decimal{&event.Open, &event.High, &event.Low, &event.Close}
	for i, dst := range fields {
		v, err := decimal.NewFromString(record[i+1])
		if err != nil {
			return event, fmt.Errorf("parse column %d: %w", i+1, err)
		}
		*dst = v
	}

	// Optional columns
	optional := []*decimal.Decimal{&event.Volume, &event.BidPrice, &event.AskPrice}
	for i, dst := range optional {
		if len(record) <= i+5 {
			break
		}
		if v, err := decimal.NewFromString(record[i+5]); err == nil {
			*dst = v
		}
	}

	return event, nil
}

// parseTimestamp accepts Unix seconds and common layouts, in UTC.
func parseTimestamp(s string) (time.Time, error) {
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unknown timestamp format: %s", s)
}

func isHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	switch strings.ToLower(record[0]) {
	case "timestamp", "time", "date", "datetime":
		return true
	}
	return false
}

// MemoryFeed replays bars from a slice.
type MemoryFeed struct {
	mu     sync.Mutex
	events []types.MarketEvent
}

// NewMemoryFeed creates a feed from pre-loaded events.
func NewMemoryFeed(events []types.MarketEvent) *MemoryFeed {
	return &MemoryFeed{events: events}
}

// Subscribe replays the events for symbol.
func (f *MemoryFeed) Subscribe(ctx context.Context, symbol string) (<-chan types.MarketEvent, error) {
	f.mu.Lock()
	events := append([]types.MarketEvent(nil), f.events...)
	f.mu.Unlock()
	return replay(ctx, events, symbol), nil
}

// Close is a no-op for memory feed.
func (f *MemoryFeed) Close() error {
	return nil
}

// Name returns the feed identifier.
func (f *MemoryFeed) Name() string {
	return "memory"
}

// AddEvent appends an event for later subscriptions.
func (f *MemoryFeed) AddEvent(event types.MarketEvent) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func replay(ctx context.Context, events []types.MarketEvent, symbol string) <-chan types.MarketEvent {
	ch := make(chan types.MarketEvent, 100)

	go func() {
		defer close(ch)
		for _, event := range events {
			if !strings.EqualFold(event.Symbol, symbol) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case ch <- event:
			}
		}
	}()

	return ch
}
