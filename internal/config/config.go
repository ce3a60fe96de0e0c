// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/quant-exec/internal/alerting"
	"github.com/tathienbao/quant-exec/internal/anomaly"
	"github.com/tathienbao/quant-exec/internal/execution"
	"github.com/tathienbao/quant-exec/internal/logging"
	"github.com/tathienbao/quant-exec/internal/metrics"
	"github.com/tathienbao/quant-exec/internal/position"
	"github.com/tathienbao/quant-exec/internal/stops"
	"github.com/tathienbao/quant-exec/internal/tca"
	"github.com/tathienbao/quant-exec/internal/types"
	"github.com/tathienbao/quant-exec/internal/venue/paper"
	"github.com/tathienbao/quant-exec/internal/venue/stream"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Execution   ExecutionConfig   `yaml:"execution"`
	Stops       StopsConfig       `yaml:"stops"`
	OCO         OCOConfig         `yaml:"oco"`
	Positions   PositionsConfig   `yaml:"positions"`
	Anomaly     AnomalyConfig     `yaml:"anomaly"`
	TCA         TCAConfig         `yaml:"tca"`
	Venue       VenueConfig       `yaml:"venue"`
	Market      MarketConfig      `yaml:"market"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
}

// ExecutionConfig holds order execution settings.
type ExecutionConfig struct {
	DefaultOrderType string      `yaml:"default_order_type"` // MARKET | LIMIT
	Limit            LimitConfig `yaml:"limit"`
	Twap             TwapConfig  `yaml:"twap"`
	Pov              PovConfig   `yaml:"pov"`
}

// LimitConfig holds limit order settings.
type LimitConfig struct {
	TTLMs              int     `yaml:"ttl_ms"`
	BufferBps          float64 `yaml:"buffer_bps"`
	MaxRetries         int     `yaml:"max_retries"`
	SpreadThresholdBps float64 `yaml:"spread_threshold_bps"`
}

// TwapConfig holds time-sliced execution settings.
type TwapConfig struct {
	Slices    int `yaml:"slices"`
	WindowSec int `yaml:"window_sec"`
}

// PovConfig holds participation execution settings.
type PovConfig struct {
	TargetPct           float64 `yaml:"target_pct"`
	ReassessIntervalSec int     `yaml:"reassess_interval_sec"`
	DefaultSliceQty     float64 `yaml:"default_slice_qty"`
}

// StopParams holds stop settings. Percentages are in percent units.
// Pointer fields are optional and inherit the global value when nil.
type StopParams struct {
	Mode                *string  `yaml:"mode"`
	SLPct               *float64 `yaml:"sl_pct"`
	TPPct               *float64 `yaml:"tp_pct"`
	SLAtrMult           *float64 `yaml:"sl_atr_mult"`
	TPAtrMult           *float64 `yaml:"tp_atr_mult"`
	TrailingEnabled     *bool    `yaml:"trailing_enabled"`
	TrailingPct         *float64 `yaml:"trailing_pct"`
	TrailingAtrMult     *float64 `yaml:"trailing_atr_mult"`
	BreakevenEnabled    *bool    `yaml:"breakeven_enabled"`
	BreakevenTriggerPct *float64 `yaml:"breakeven_trigger_pct"`
}

// StopsConfig holds the global stop settings and per-symbol overrides.
type StopsConfig struct {
	StopParams `yaml:",inline"`
	Symbols    map[string]StopParams `yaml:"symbols"`
}

// OCOConfig holds one-cancels-other settings.
type OCOConfig struct {
	ClientEmulationEnabled *bool `yaml:"client_emulation_enabled"`
	CancelGraceMs          *int  `yaml:"cancel_grace_ms"` // 0 disables correction counting; unset keeps the default
}

// PositionsConfig holds position manager settings.
type PositionsConfig struct {
	LockTimeoutMs         int     `yaml:"lock_timeout_ms"`
	MinExecutableFraction float64 `yaml:"min_executable_fraction"`
}

// AnomalyConfig holds anomaly detector settings.
type AnomalyConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Window      int               `yaml:"window"`
	MinSamples  int               `yaml:"min_samples"`
	CoolDownSec int               `yaml:"cooldown_sec"`
	RobustMAD   bool              `yaml:"robust_mad"`
	WarnZ       float64           `yaml:"warn_z"`
	MitigateZ   float64           `yaml:"mitigate_z"`
	HighZ       float64           `yaml:"high_z"`
	SevereZ     float64           `yaml:"severe_z"`
	Actions     map[string]string `yaml:"actions"` // severity -> action
}

// TCAConfig holds transaction cost analysis settings.
type TCAConfig struct {
	Enabled         bool    `yaml:"enabled"`
	HistorySize     int     `yaml:"history_size"`
	RetentionHours  int     `yaml:"retention_hours"`
	HighSlippageBps float64 `yaml:"high_slippage_bps"`
	LowSlippageBps  float64 `yaml:"low_slippage_bps"`
	LookbackHours   int     `yaml:"lookback_hours"`
}

// VenueConfig holds venue settings.
type VenueConfig struct {
	Type               string  `yaml:"type"` // paper | stream
	SlippageBps        float64 `yaml:"slippage_bps"`
	LimitFillRatio     float64 `yaml:"limit_fill_ratio"`
	NativeOCO          bool    `yaml:"native_oco"`
	RateLimitPerSecond int     `yaml:"rate_limit_per_second"`
	StreamURL          string  `yaml:"stream_url"`
	ReconnectsPerMin   int     `yaml:"reconnects_per_min"`
}

// MarketConfig holds market data settings.
type MarketConfig struct {
	Symbols     []string `yaml:"symbols"`
	ATRPeriod   int      `yaml:"atr_period"`
	VolLookback int      `yaml:"vol_lookback"`
	TickSize    float64  `yaml:"tick_size"`
	StepSize    float64  `yaml:"step_size"`
	MinQty      float64  `yaml:"min_qty"`
	MinNotional float64  `yaml:"min_notional"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // sqlite | bolt
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
	Events   []string        `yaml:"events"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type        string `yaml:"type"` // console | telegram
	BotToken    string `yaml:"bot_token"`
	ChatID      string `yaml:"chat_id"`
	MinSeverity string `yaml:"min_severity"` // info | warning | high | critical
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   *bool  `yaml:"compress"`
}

// ReconcileConfig holds reconciliation settings.
type ReconcileConfig struct {
	IntervalSec int `yaml:"interval_sec"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec               int  `yaml:"timeout_sec"`
	ClosePositionsOnShutdown bool `yaml:"close_positions_on_shutdown"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate fills defaults and validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Execution
	if c.Execution.DefaultOrderType == "" {
		c.Execution.DefaultOrderType = "LIMIT"
	}
	if _, ok := types.ParseOrderType(c.Execution.DefaultOrderType); !ok {
		errs = append(errs, fmt.Sprintf("execution.default_order_type %q must be MARKET or LIMIT", c.Execution.DefaultOrderType))
	}
	if c.Execution.Limit.TTLMs <= 0 {
		c.Execution.Limit.TTLMs = 4000
	}
	if c.Execution.Limit.BufferBps < 0 {
		errs = append(errs, "execution.limit.buffer_bps must not be negative")
	}
	if c.Execution.Limit.MaxRetries < 0 {
		errs = append(errs, "execution.limit.max_retries must not be negative")
	}
	if c.Execution.Limit.SpreadThresholdBps <= 0 {
		c.Execution.Limit.SpreadThresholdBps = 5
	}
	if c.Execution.Twap.Slices <= 0 {
		c.Execution.Twap.Slices = 5
	}
	if c.Execution.Twap.WindowSec <= 0 {
		c.Execution.Twap.WindowSec = 20
	}
	if c.Execution.Pov.TargetPct == 0 {
		c.Execution.Pov.TargetPct = 0.10
	}
	if c.Execution.Pov.TargetPct < 0 || c.Execution.Pov.TargetPct > 1 {
		errs = append(errs, "execution.pov.target_pct must be between 0 and 1")
	}
	if c.Execution.Pov.ReassessIntervalSec <= 0 {
		c.Execution.Pov.ReassessIntervalSec = 60
	}
	if c.Execution.Pov.DefaultSliceQty < 0 {
		errs = append(errs, "execution.pov.default_slice_qty must not be negative")
	}

	// Stops
	if c.Stops.Mode != nil {
		if _, err := stops.ParseMode(*c.Stops.Mode); err != nil {
			errs = append(errs, fmt.Sprintf("stops.mode %q must be PERCENT or ATR", *c.Stops.Mode))
		}
	}
	if err := c.Stops.StopParams.toOverride().Apply(stops.DefaultParams()).Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	for symbol, p := range c.Stops.Symbols {
		if p.Mode != nil {
			if _, err := stops.ParseMode(*p.Mode); err != nil {
				errs = append(errs, fmt.Sprintf("stops.symbols.%s.mode %q must be PERCENT or ATR", symbol, *p.Mode))
				continue
			}
		}
		if err := p.toOverride().Apply(stops.DefaultParams()).Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("stops.symbols.%s: %v", symbol, err))
		}
	}

	// OCO and positions
	if c.OCO.CancelGraceMs != nil && *c.OCO.CancelGraceMs < 0 {
		errs = append(errs, "oco.cancel_grace_ms must not be negative")
	}
	if c.Positions.LockTimeoutMs <= 0 {
		c.Positions.LockTimeoutMs = 3000
	}
	if c.Positions.MinExecutableFraction < 0 || c.Positions.MinExecutableFraction >= 1 {
		errs = append(errs, "positions.min_executable_fraction must be between 0 and 1")
	}

	// Anomaly
	if c.Anomaly.Window < 0 || c.Anomaly.MinSamples < 0 {
		errs = append(errs, "anomaly.window and anomaly.min_samples must not be negative")
	}
	if c.Anomaly.WarnZ != 0 && c.Anomaly.MitigateZ != 0 && c.Anomaly.WarnZ >= c.Anomaly.MitigateZ {
		errs = append(errs, "anomaly.warn_z must be below anomaly.mitigate_z")
	}
	for sev, action := range c.Anomaly.Actions {
		if _, ok := parseSeverity(sev); !ok {
			errs = append(errs, fmt.Sprintf("anomaly.actions: unknown severity %q", sev))
		}
		if _, ok := anomaly.ParseAction(action); !ok {
			errs = append(errs, fmt.Sprintf("anomaly.actions.%s: unknown action %q", sev, action))
		}
	}

	// TCA
	if c.TCA.HighSlippageBps != 0 && c.TCA.LowSlippageBps != 0 && c.TCA.LowSlippageBps > c.TCA.HighSlippageBps {
		errs = append(errs, "tca.low_slippage_bps must not exceed tca.high_slippage_bps")
	}

	// Venue
	if c.Venue.Type == "" {
		c.Venue.Type = "paper"
	}
	switch c.Venue.Type {
	case "paper":
	case "stream":
		if c.Venue.StreamURL == "" {
			errs = append(errs, "venue.stream_url is required for stream")
		}
	default:
		errs = append(errs, "venue.type must be 'paper' or 'stream'")
	}
	if c.Venue.SlippageBps < 0 {
		errs = append(errs, "venue.slippage_bps must not be negative")
	}
	if c.Venue.LimitFillRatio < 0 || c.Venue.LimitFillRatio > 1 {
		errs = append(errs, "venue.limit_fill_ratio must be between 0 and 1")
	}
	if c.Venue.RateLimitPerSecond < 0 {
		errs = append(errs, "venue.rate_limit_per_second must not be negative")
	}

	// Market
	if c.Market.ATRPeriod <= 0 {
		c.Market.ATRPeriod = 14
	}
	if c.Market.VolLookback <= 0 {
		c.Market.VolLookback = 20
	}

	// Persistence
	if c.Persistence.Enabled {
		if c.Persistence.Type != "sqlite" && c.Persistence.Type != "bolt" {
			errs = append(errs, "persistence.type must be 'sqlite' or 'bolt'")
		}
		if c.Persistence.Path == "" {
			errs = append(errs, "persistence.path is required")
		}
	}

	// Alerting
	for i, ch := range c.Alerting.Channels {
		switch ch.Type {
		case "console":
		case "telegram":
			if ch.BotToken == "" || ch.ChatID == "" {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram requires bot_token and chat_id", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("alerting.channels[%d]: unknown type %q", i, ch.Type))
		}
		if _, ok := alerting.ParseSeverity(ch.MinSeverity); !ok {
			errs = append(errs, fmt.Sprintf("alerting.channels[%d]: unknown min_severity %q", i, ch.MinSeverity))
		}
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		c.Metrics.Port = 9102
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	// Logging
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, "logging.format must be 'json' or 'text'")
	}

	// Reconcile and shutdown
	if c.Reconcile.IntervalSec <= 0 {
		c.Reconcile.IntervalSec = 30
	}
	if c.Shutdown.TimeoutSec <= 0 {
		c.Shutdown.TimeoutSec = 30
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

func parseSeverity(s string) (anomaly.Severity, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WARN":
		return anomaly.SeverityWarn, true
	case "MEDIUM":
		return anomaly.SeverityMedium, true
	case "HIGH":
		return anomaly.SeverityHigh, true
	case "SEVERE":
		return anomaly.SeveritySevere, true
	default:
		return anomaly.SeverityNone, false
	}
}

func ms(v int) time.Duration  { return time.Duration(v) * time.Millisecond }
func sec(v int) time.Duration { return time.Duration(v) * time.Second }

// ToExecutionConfig converts to execution.Config.
func (c *Config) ToExecutionConfig() execution.Config {
	orderType, _ := types.ParseOrderType(c.Execution.DefaultOrderType)
	return execution.Config{
		DefaultOrderType: orderType,
		Limit: execution.LimitConfig{
			TTL:                ms(c.Execution.Limit.TTLMs),
			BufferBps:          c.Execution.Limit.BufferBps,
			MaxRetries:         c.Execution.Limit.MaxRetries,
			SpreadThresholdBps: c.Execution.Limit.SpreadThresholdBps,
		},
		Twap: execution.TwapConfig{
			Slices: c.Execution.Twap.Slices,
			Window: sec(c.Execution.Twap.WindowSec),
		},
		Pov: execution.PovConfig{
			TargetPct:        c.Execution.Pov.TargetPct,
			ReassessInterval: sec(c.Execution.Pov.ReassessIntervalSec),
			DefaultSliceQty:  decimal.NewFromFloat(c.Execution.Pov.DefaultSliceQty),
		},
	}
}

func decPtr(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

func (p StopParams) toOverride() stops.Override {
	o := stops.Override{
		SLPct:               decPtr(p.SLPct),
		TPPct:               decPtr(p.TPPct),
		SLAtrMult:           decPtr(p.SLAtrMult),
		TPAtrMult:           decPtr(p.TPAtrMult),
		TrailingEnabled:     p.TrailingEnabled,
		TrailingPct:         decPtr(p.TrailingPct),
		TrailingAtrMult:     decPtr(p.TrailingAtrMult),
		BreakevenEnabled:    p.BreakevenEnabled,
		BreakevenTriggerPct: decPtr(p.BreakevenTriggerPct),
	}
	if p.Mode != nil {
		if mode, err := stops.ParseMode(*p.Mode); err == nil {
			o.Mode = &mode
		}
	}
	return o
}

// ToStopConfig converts to stops.Config. Symbols are upper-cased.
func (c *Config) ToStopConfig() stops.Config {
	cfg := stops.Config{
		Defaults: c.Stops.StopParams.toOverride().Apply(stops.DefaultParams()),
		Symbols:  make(map[string]stops.Override, len(c.Stops.Symbols)),
	}
	for symbol, p := range c.Stops.Symbols {
		cfg.Symbols[strings.ToUpper(symbol)] = p.toOverride()
	}
	return cfg
}

// ToPositionConfig converts to position.Config.
func (c *Config) ToPositionConfig() position.Config {
	cfg := position.DefaultConfig()
	cfg.LockTimeout = ms(c.Positions.LockTimeoutMs)
	if c.OCO.CancelGraceMs != nil {
		cfg.CancelGrace = ms(*c.OCO.CancelGraceMs)
	}
	if c.OCO.ClientEmulationEnabled != nil {
		cfg.ClientEmulation = *c.OCO.ClientEmulationEnabled
	}
	if c.Positions.MinExecutableFraction > 0 {
		cfg.MinExecutableFraction = decimal.NewFromFloat(c.Positions.MinExecutableFraction)
	}
	return cfg
}

// ToAnomalyConfig converts to anomaly.Config. Zero values keep defaults.
func (c *Config) ToAnomalyConfig() anomaly.Config {
	cfg := anomaly.DefaultConfig()
	cfg.Enabled = c.Anomaly.Enabled
	cfg.RobustMAD = c.Anomaly.RobustMAD
	if c.Anomaly.Window > 0 {
		cfg.Window = c.Anomaly.Window
	}
	if c.Anomaly.MinSamples > 0 {
		cfg.MinSamples = c.Anomaly.MinSamples
	}
	if c.Anomaly.CoolDownSec > 0 {
		cfg.CoolDown = sec(c.Anomaly.CoolDownSec)
	}
	if c.Anomaly.WarnZ > 0 {
		cfg.WarnZ = c.Anomaly.WarnZ
	}
	if c.Anomaly.MitigateZ > 0 {
		cfg.MitigateZ = c.Anomaly.MitigateZ
	}
	cfg.HighZ = c.Anomaly.HighZ
	cfg.SevereZ = c.Anomaly.SevereZ
	for sev, action := range c.Anomaly.Actions {
		s, ok := parseSeverity(sev)
		a, ok2 := anomaly.ParseAction(action)
		if ok && ok2 {
			cfg.Actions[s] = a
		}
	}
	return cfg
}

// ToTCAConfig converts to tca.Config. Zero values keep defaults.
func (c *Config) ToTCAConfig() tca.Config {
	cfg := tca.DefaultConfig()
	cfg.Enabled = c.TCA.Enabled
	if c.TCA.HistorySize > 0 {
		cfg.HistorySize = c.TCA.HistorySize
	}
	if c.TCA.RetentionHours > 0 {
		cfg.Retention = time.Duration(c.TCA.RetentionHours) * time.Hour
	}
	if c.TCA.HighSlippageBps > 0 {
		cfg.HighSlippageBps = c.TCA.HighSlippageBps
	}
	if c.TCA.LowSlippageBps > 0 {
		cfg.LowSlippageBps = c.TCA.LowSlippageBps
	}
	if c.TCA.LookbackHours > 0 {
		cfg.LookbackStore = time.Duration(c.TCA.LookbackHours) * time.Hour
	}
	return cfg
}

// ToPaperConfig converts to paper.Config.
func (c *Config) ToPaperConfig() paper.Config {
	cfg := paper.DefaultConfig()
	cfg.SlippageBps = c.Venue.SlippageBps
	cfg.NativeOCO = c.Venue.NativeOCO
	if c.Venue.LimitFillRatio > 0 {
		cfg.LimitFillRatio = decimal.NewFromFloat(c.Venue.LimitFillRatio)
	}
	if c.Venue.RateLimitPerSecond > 0 {
		cfg.RateLimitPerSecond = c.Venue.RateLimitPerSecond
	}
	return cfg
}

// ToStreamConfig converts to stream.Config.
func (c *Config) ToStreamConfig() stream.Config {
	cfg := stream.DefaultConfig()
	cfg.URL = c.Venue.StreamURL
	if c.Venue.ReconnectsPerMin > 0 {
		cfg.ReconnectsPerMin = c.Venue.ReconnectsPerMin
	}
	return cfg
}

// ToLoggingConfig converts to logging.Config.
func (c *Config) ToLoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.Format = c.Logging.Format
	cfg.File = c.Logging.File
	if c.Logging.MaxSizeMB > 0 {
		cfg.MaxSizeMB = c.Logging.MaxSizeMB
	}
	if c.Logging.MaxBackups > 0 {
		cfg.MaxBackups = c.Logging.MaxBackups
	}
	if c.Logging.MaxAgeDays > 0 {
		cfg.MaxAgeDays = c.Logging.MaxAgeDays
	}
	if c.Logging.Compress != nil {
		cfg.Compress = *c.Logging.Compress
	}
	return cfg
}

// ToServerConfig converts to metrics.ServerConfig.
func (c *Config) ToServerConfig() metrics.ServerConfig {
	cfg := metrics.DefaultServerConfig()
	if c.Metrics.Port > 0 {
		cfg.Port = c.Metrics.Port
	}
	cfg.MetricsPath = c.Metrics.Path
	return cfg
}

// TradingRules returns the configured venue constraints for symbol.
func (c *Config) TradingRules(symbol string) types.TradingRules {
	return types.TradingRules{
		Symbol:      symbol,
		TickSize:    decimal.NewFromFloat(c.Market.TickSize),
		StepSize:    decimal.NewFromFloat(c.Market.StepSize),
		MinQty:      decimal.NewFromFloat(c.Market.MinQty),
		MinNotional: decimal.NewFromFloat(c.Market.MinNotional),
	}
}

// ReconcileInterval returns the reconciliation interval.
func (c *Config) ReconcileInterval() time.Duration {
	return sec(c.Reconcile.IntervalSec)
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return sec(c.Shutdown.TimeoutSec)
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	// If no events specified, all are enabled
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}
