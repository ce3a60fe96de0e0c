// Package main is the entry point for the execution service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/anomaly"
	"github.com/tathienbao/quant-exec/internal/config"
	"github.com/tathienbao/quant-exec/internal/engine"
	"github.com/tathienbao/quant-exec/internal/execution"
	"github.com/tathienbao/quant-exec/internal/logging"
	"github.com/tathienbao/quant-exec/internal/persistence"
	"github.com/tathienbao/quant-exec/internal/position"
	"github.com/tathienbao/quant-exec/internal/stops"
	"github.com/tathienbao/quant-exec/internal/tca"
	"github.com/tathienbao/quant-exec/internal/types"
	"github.com/tathienbao/quant-exec/internal/ui"
	"github.com/tathienbao/quant-exec/internal/venue/paper"
)

// Version information (set by build flags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Parse command
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "execute":
		cmdExecute(os.Args[2:])
	case "stops":
		cmdStops(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`execd - order execution and position protection service

Usage:
  execd <command> [options]

Commands:
  run        Start the execution service
  execute    Work one order against the paper venue and print the result
  stops      Print the protective levels for an entry
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  execd run --config config.yaml
  execd run --config config.yaml --bars data/BTCUSDT_1m.csv --symbol BTCUSDT
  execd execute --side buy --qty 0.5 --price 64000 --spread-bps 3 --bar-volume 40
  execd stops --symbol BTCUSDT --side sell --entry 64000 --atr 120
  execd validate --config config.yaml

Use "execd <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("execd version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

// loadConfig loads path, or the built-in defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromBytes(nil)
	}
	return config.Load(path)
}

// setupLogging installs the configured logger as the default. verbose
// forces debug level.
func setupLogging(cfg *config.Config, verbose bool) (*slog.Logger, io.Closer) {
	logCfg := cfg.ToLoggingConfig()
	if verbose {
		logCfg.Level = "debug"
	}
	logger, closer := logging.New(logCfg)
	slog.SetDefault(logger)
	return logger, closer
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Venue: %s\n", cfg.Venue.Type)
	fmt.Printf("  Symbols: %s\n", strings.Join(cfg.Market.Symbols, ", "))
	fmt.Printf("  Default order type: %s\n", cfg.Execution.DefaultOrderType)
	fmt.Printf("  OCO emulation: %t\n", cfg.ToPositionConfig().ClientEmulation)
	persist := "memory"
	if cfg.Persistence.Enabled {
		persist = cfg.Persistence.Type + " (" + cfg.Persistence.Path + ")"
	}
	fmt.Printf("  Persistence: %s\n", persist)
	fmt.Printf("  Reconcile every: %s\n", cfg.ReconcileInterval())
}

func cmdStops(args []string) {
	fs := flag.NewFlagSet("stops", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (defaults when empty)")
	symbol := fs.String("symbol", "BTCUSDT", "Symbol")
	sideName := fs.String("side", "buy", "Entry side: buy, sell")
	entryStr := fs.String("entry", "", "Entry price (required)")
	atrStr := fs.String("atr", "0", "ATR for ATR mode")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	side, ok := types.ParseSide(*sideName)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown side %q\n", *sideName)
		os.Exit(1)
	}
	entry, err := decimal.NewFromString(*entryStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: --entry must be a number")
		fs.Usage()
		os.Exit(1)
	}
	atr, err := decimal.NewFromString(*atrStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: --atr must be a number")
		os.Exit(1)
	}

	plan, err := stops.NewEngine(cfg.ToStopConfig()).Plan(*symbol, side, entry, atr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	ui.NewPrinter(os.Stdout).StopPlan(strings.ToUpper(*symbol), side, entry, plan)
}

func cmdExecute(args []string) {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (defaults when empty)")
	symbol := fs.String("symbol", "BTCUSDT", "Symbol")
	sideName := fs.String("side", "buy", "Side: buy, sell")
	qtyStr := fs.String("qty", "", "Quantity (required)")
	priceStr := fs.String("price", "", "Reference price (required)")
	spreadBps := fs.Float64("spread-bps", 0, "Current spread in bps")
	barVolStr := fs.String("bar-volume", "0", "Current bar volume")
	urgencyName := fs.String("urgency", "medium", "Urgency: low, medium, high")
	maxSlip := fs.Float64("max-slippage-bps", 10, "Slippage tolerance in bps")
	deadline := fs.Duration("deadline", 5*time.Minute, "Time allowed for the order")
	dryRun := fs.Bool("dry-run", false, "Plan and fill synthetically without the venue")
	protect := fs.Bool("protect", false, "Open a protected position for the filled quantity")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	cfg.Logging.Format = "text"
	logger, closer := setupLogging(cfg, *verbose)
	defer closer.Close()

	side, ok := types.ParseSide(*sideName)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown side %q\n", *sideName)
		os.Exit(1)
	}
	urgency, ok := types.ParseUrgency(*urgencyName)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown urgency %q\n", *urgencyName)
		os.Exit(1)
	}
	qty, err := decimal.NewFromString(*qtyStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: --qty must be a number")
		fs.Usage()
		os.Exit(1)
	}
	price, err := decimal.NewFromString(*priceStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: --price must be a number")
		fs.Usage()
		os.Exit(1)
	}
	barVolume, err := decimal.NewFromString(*barVolStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: --bar-volume must be a number")
		os.Exit(1)
	}

	sym := strings.ToUpper(*symbol)
	now := time.Now()
	req, err := execution.NewRequest(execution.Request{
		Symbol:            sym,
		Side:              side,
		Quantity:          qty,
		ReferencePrice:    price,
		Rules:             cfg.TradingRules(sym),
		Urgency:           urgency,
		MaxSlippageBps:    *maxSlip,
		Deadline:          now.Add(*deadline),
		DryRun:            *dryRun,
		SpreadBps:         *spreadBps,
		BaseClientOrderID: fmt.Sprintf("cli-%d", now.UnixNano()),
	}, now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	snap := execution.Snapshot{
		MidPrice:       price,
		SpreadBps:      *spreadBps,
		BarVolume:      barVolume,
		QuoteBarVolume: barVolume.Mul(price),
	}

	venue := paper.New(cfg.ToPaperConfig(), logger)
	defer venue.Close()
	venue.SetPrice(sym, price)

	repo := persistence.NewMemoryStore()
	oracle := tca.NewService(cfg.ToTCAConfig(), repo, logger)
	detector := anomaly.NewDetector(cfg.ToAnomalyConfig(), nil, nil, logger)
	executor := execution.NewEngine(cfg.ToExecutionConfig(), execution.Deps{
		Client:  venue,
		Oracle:  oracle,
		Auditor: oracle,
		Monitor: detector,
	}, logger)

	ctx, cancel := context.WithDeadline(context.Background(), req.Deadline)
	defer cancel()

	printer := ui.NewPrinter(os.Stdout)
	if !*protect {
		res, err := executor.Execute(ctx, req, snap)
		printer.Execution(req, res, err)
		if res == nil {
			os.Exit(1)
		}
		return
	}

	manager := position.NewManager(cfg.ToPositionConfig(), position.Deps{
		Store: repo,
		Venue: venue,
	}, logger)
	eng := engine.NewEngine(engine.Config{Version: Version}, engine.Deps{
		Venue:     venue,
		Executor:  executor,
		Positions: manager,
		Stops:     stops.NewEngine(cfg.ToStopConfig()),
	}, logger)

	pos, res, err := eng.Enter(ctx, engine.EntryRequest{Request: req, Snapshot: snap})
	printer.Execution(req, res, err)
	if pos.ID == "" {
		os.Exit(1)
	}
	orders, _ := manager.Orders(ctx, pos.ID)
	printer.Position(pos, orders)
}
