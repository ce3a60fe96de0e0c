// Package ui renders execution results, stop plans and positions for the
// command line.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/execution"
	"github.com/tathienbao/quant-exec/internal/stops"
	"github.com/tathienbao/quant-exec/internal/tca"
	"github.com/tathienbao/quant-exec/internal/types"
	"golang.org/x/term"
)

// ANSI escape codes
const (
	ClearLine   = "\033[2K"
	MoveToStart = "\r"
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorDim    = "\033[2m"
	ColorBold   = "\033[1m"
)

// Printer writes reports, colored when the output is a terminal.
type Printer struct {
	w     io.Writer
	color bool
	width int
}

// NewPrinter creates a printer on w. Color and width are taken from the
// terminal when w is one.
func NewPrinter(w io.Writer) *Printer {
	p := &Printer{w: w, width: 80}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.color = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			p.width = width
		}
	}
	return p
}

func (p *Printer) paint(color, s string) string {
	if !p.color {
		return s
	}
	return color + s + ColorReset
}

func (p *Printer) header(title string) {
	rule := max(10, min(p.width, 60)-len(title)-5)
	fmt.Fprintf(p.w, "\n%s %s\n", p.paint(ColorBold, "=== "+title), strings.Repeat("=", rule))
}

func (p *Printer) row(label string, value any) {
	fmt.Fprintf(p.w, "%-18s%v\n", label+":", value)
}

// Execution prints the outcome of one execution.
func (p *Printer) Execution(req execution.Request, res *execution.Result, err error) {
	p.header("EXECUTION")
	p.row("Symbol", req.Symbol)
	p.row("Side", req.Side)
	p.row("Requested", req.Quantity)
	if res == nil {
		p.row("Result", p.paint(ColorRed, fmt.Sprintf("rejected: %v", err)))
		return
	}

	p.row("Plan", p.paint(ColorCyan, res.Plan.Name()))
	if res.Override != "" && res.Override != "NONE" {
		p.row("Override", p.paint(ColorYellow, res.Override))
	}
	p.row("Executed", res.ExecutedQty)
	p.row("Average price", res.AveragePrice)
	if req.ReferencePrice.IsPositive() && res.ExecutedQty.IsPositive() {
		p.row("Slippage", fmt.Sprintf("%.2f bps", tca.SlippageBps(req.Side, req.ReferencePrice, res.AveragePrice)))
	}
	if remaining := res.Remaining(req.Quantity); remaining.IsPositive() {
		p.row("Unfilled", p.paint(ColorYellow, remaining.String()))
	}
	if err != nil {
		p.row("Error", p.paint(ColorRed, err.Error()))
	}

	if len(res.Orders) == 0 {
		return
	}
	fmt.Fprintln(p.w)
	fmt.Fprintf(p.w, "%s\n", p.paint(ColorDim, fmt.Sprintf("%-28s %-7s %-9s %14s %14s", "CLIENT ORDER", "TYPE", "STATUS", "EXECUTED", "PRICE")))
	for _, o := range res.Orders {
		line := fmt.Sprintf("%-28s %-7s %-9s %14s %14s", o.ClientOrderID, o.Type, o.Status, o.ExecutedQty, o.FillPrice)
		if o.Err != nil {
			line = p.paint(ColorRed, line+"  "+o.Err.Error())
		}
		fmt.Fprintln(p.w, line)
	}
}

// StopPlan prints the protective levels of a plan.
func (p *Printer) StopPlan(symbol string, side types.Side, entry decimal.Decimal, plan stops.Plan) {
	p.header("STOP PLAN")
	p.row("Symbol", symbol)
	p.row("Side", side)
	p.row("Mode", plan.Params.Mode)
	p.row("Entry", entry)
	p.row("Stop loss", p.paint(ColorRed, plan.StopLoss.String()))
	p.row("Take profit", p.paint(ColorGreen, plan.TakeProfit.String()))
	if plan.TrailingOffset.IsPositive() {
		p.row("Trailing offset", plan.TrailingOffset)
	} else {
		p.row("Trailing", "disabled")
	}
	if plan.BreakevenTrigger.IsPositive() {
		p.row("Breakeven at", plan.BreakevenTrigger)
	} else {
		p.row("Breakeven", "disabled")
	}
	risk := entry.Sub(plan.StopLoss).Abs()
	if risk.IsPositive() {
		reward := plan.TakeProfit.Sub(entry).Abs()
		p.row("Reward/risk", reward.Div(risk).StringFixed(2))
	}
}

// Position prints a position and its protective orders.
func (p *Printer) Position(pos types.Position, orders []types.ManagedOrder) {
	p.header("POSITION")
	p.row("ID", pos.ID)
	p.row("Symbol", pos.Symbol)
	p.row("Side", pos.Side)
	status := pos.Status.String()
	switch pos.Status {
	case types.PositionOpen:
		status = p.paint(ColorGreen, status)
	case types.PositionError:
		status = p.paint(ColorRed, status)
	}
	p.row("Status", status)
	p.row("Entry", pos.EntryPrice)
	p.row("Quantity", fmt.Sprintf("%s of %s", pos.QtyRemaining, pos.QtyInitial))
	p.row("Stop loss", pos.StopLoss)
	p.row("Take profit", pos.TakeProfit)

	for _, o := range orders {
		fmt.Fprintf(p.w, "  %-12s %-28s %-9s %s @ %s\n", o.Type, o.ClientOrderID, o.Status, o.Quantity, o.Price)
	}
}

// StatusLine redraws a single status line in place.
func (p *Printer) StatusLine(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !p.color {
		fmt.Fprintln(p.w, msg)
		return
	}
	if len(msg) > p.width {
		msg = msg[:p.width]
	}
	fmt.Fprint(p.w, ClearLine+MoveToStart+msg)
}
