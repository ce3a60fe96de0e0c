package main

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/persistence"
	"github.com/tathienbao/quant-exec/internal/types"
	"github.com/tathienbao/quant-exec/internal/venue"
	"github.com/tathienbao/quant-exec/internal/venue/paper"
	"github.com/tathienbao/quant-exec/internal/venue/stream"
)

func TestSession_Summary(t *testing.T) {
	repo := persistence.NewMemoryStore()
	ctx := context.Background()
	s := newSession(nil, repo)

	trades := []types.Trade{
		{ID: "t1", PositionID: "p1", RealizedPL: decimal.RequireFromString("12.5")},
		{ID: "t2", PositionID: "p2", RealizedPL: decimal.RequireFromString("-4")},
		{ID: "t3", PositionID: "p3", RealizedPL: decimal.RequireFromString("100")},
	}
	for _, tr := range trades {
		if err := repo.SaveTrade(ctx, tr); err != nil {
			t.Fatalf("SaveTrade() error = %v", err)
		}
	}

	for _, id := range []string{"p1", "p2", "p3"} {
		s.PositionOpened(types.Position{ID: id})
	}
	s.PositionClosed(types.Position{ID: "p1"})
	s.PositionClosed(types.Position{ID: "p2"})
	s.OCOCorrected("p1", "tp-1", "late fill")
	s.OrderAdopted(types.ExternalOrderSnapshot{})

	c := s.counts()
	if c.Opened != 3 || c.Closed != 2 || c.Corrections != 1 || c.Adopted != 1 {
		t.Errorf("counts() = %+v", c)
	}

	start := time.Now().Add(-time.Hour)
	summary, err := s.summary(ctx, start, time.Now(), 1)
	if err != nil {
		t.Fatalf("summary() error = %v", err)
	}
	if summary.TotalTrades != 2 {
		t.Errorf("TotalTrades = %d, want 2", summary.TotalTrades)
	}
	if !summary.RealizedPL.Equal(decimal.RequireFromString("8.5")) {
		t.Errorf("RealizedPL = %s, want 8.5", summary.RealizedPL)
	}
	if summary.OpenPositions != 1 {
		t.Errorf("OpenPositions = %d, want 1", summary.OpenPositions)
	}
	if summary.WinningTrades != 1 || summary.LosingTrades != 1 {
		t.Errorf("wins/losses = %d/%d, want 1/1", summary.WinningTrades, summary.LosingTrades)
	}
}

func TestStreamVenue(t *testing.T) {
	p := paper.New(paper.DefaultConfig(), nil)
	s := stream.New(stream.DefaultConfig(), nil)
	v := newStreamVenue(p, s)

	// Not started: state comes from the stream, not the paper venue.
	if got := v.State(); got != venue.StateDisconnected {
		t.Errorf("State() = %s, want %s", got, venue.StateDisconnected)
	}

	if err := v.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	select {
	case _, ok := <-v.Updates():
		if ok {
			t.Error("Updates() should be closed after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Updates() not closed after Close")
	}
}
