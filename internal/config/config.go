package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	// Endpoints and secrets
	RPCURL           string `toml:"rpc_url"`
	BundleURL        string `toml:"bundle_url"`
	PrimaryVenueURL  string `toml:"primary_venue_url"`
	PrimaryBundleURL string `toml:"primary_bundle_url"`
	QuoteURL         string `toml:"quote_url"`
	SwapURL          string `toml:"swap_url"`
	VenueAPIKey      string `toml:"venue_api_key"`
	PriceURL         string `toml:"price_url"`
	SignalFeedURL    string `toml:"signal_feed_url"`
	WebhookURL       string `toml:"webhook_url"`
	BotName          string `toml:"bot_name"`
	APIKey           string `toml:"api_key"`
	CORSAllowOrigin  string `toml:"cors_allow_origin"`
	APIPort          int    `toml:"api_port"`
	LogLevel         string `toml:"log_level"`

	// Files
	KeysFile      string `toml:"keys_file"`
	PositionsFile string `toml:"positions_file"`
	JournalFile   string `toml:"journal_file"`
	StrategyFile  string `toml:"strategy_file"`

	// Database
	DBEnabled  bool   `toml:"db_enabled"`
	DBHost     string `toml:"db_host"`
	DBPort     int    `toml:"db_port"`
	DBName     string `toml:"db_name"`
	DBUser     string `toml:"db_user"`
	DBPassword string `toml:"db_password"`

	// Redis (empty address disables)
	RedisAddr       string `toml:"redis_addr"`
	RedisPassword   string `toml:"redis_password"`
	RedisDB         int    `toml:"redis_db"`
	RedisTLSEnabled bool   `toml:"redis_tls_enabled"`
	RedisPrefix     string `toml:"redis_prefix"`

	// S3 journal archive (empty bucket disables)
	S3Endpoint           string `toml:"s3_endpoint"`
	S3Region             string `toml:"s3_region"`
	S3Bucket             string `toml:"s3_bucket"`
	S3AccessKey          string `toml:"s3_access_key"`
	S3SecretKey          string `toml:"s3_secret_key"`
	S3UseSSL             bool   `toml:"s3_use_ssl"`
	S3ForcePathStyle     bool   `toml:"s3_force_path_style"`
	S3Prefix             string `toml:"s3_prefix"`
	ArchiveIntervalHours int    `toml:"archive_interval_hours"`

	// Paper Trading
	PaperTradingEnabled  bool    `toml:"paper_trading_enabled"`
	PaperInitialSOL      float64 `toml:"paper_initial_sol"`
	PaperSlippagePercent float64 `toml:"paper_slippage_percent"`

	// Trading
	TradeAmount           float64   `toml:"trade_amount"`
	InitialBagAmount      float64   `toml:"initial_bag_amount"`
	TradeCooldownSeconds  int       `toml:"trade_cooldown_seconds"`
	FeeBuffer             float64   `toml:"fee_buffer"`
	SlippageBps           int       `toml:"slippage_bps"`
	ExitSlippageBps       int       `toml:"exit_slippage_bps"`
	MaxAttempts           int       `toml:"max_attempts"`
	PriorityFeeLadder     []float64 `toml:"priority_fee_ladder"`
	ConfirmTimeoutSeconds int       `toml:"confirm_timeout_seconds"`
	BroadcastRate         float64   `toml:"broadcast_rate"`
	ApprovedAssets        []string  `toml:"approved_assets"`
	Blacklist             []string  `toml:"blacklist"`
	TokenDecimals         int       `toml:"token_decimals"`

	// Exits
	TakeProfitPct              float64 `toml:"take_profit_pct"`
	StopLossPct                float64 `toml:"stop_loss_pct"`
	MaxHoldMinutes             int     `toml:"max_hold_minutes"`
	ExitEveryTicks             int     `toml:"exit_every_ticks"`
	TickIntervalSeconds        int     `toml:"tick_interval_seconds"`
	SellCooldownBaseSeconds    int     `toml:"sell_cooldown_base_seconds"`
	SellCooldownPenaltySeconds int     `toml:"sell_cooldown_penalty_seconds"`
	SellCooldownCapSeconds     int     `toml:"sell_cooldown_cap_seconds"`
	StaleFailures              int     `toml:"stale_failures"`
	HoldOnlyAsset              string  `toml:"hold_only_asset"`

	// Snipes
	SnipeEnabled            bool    `toml:"snipe_enabled"`
	SnipeAmount             float64 `toml:"snipe_amount"`
	SnipeMaxOpenPositions   int     `toml:"snipe_max_open_positions"`
	SnipeMinFundedAgents    int     `toml:"snipe_min_funded_agents"`
	SnipeMinIntervalSeconds int     `toml:"snipe_min_interval_seconds"`
	SnipeMaxDailyTrades     int     `toml:"snipe_max_daily_trades"`
	SnipeWinRateFloor       float64 `toml:"snipe_win_rate_floor"`
	SnipeWinRateWindow      int     `toml:"snipe_win_rate_window"`
	SnipeWinRateMinSamples  int     `toml:"snipe_win_rate_min_samples"`
	SnipeFreshnessSeconds   int     `toml:"snipe_freshness_seconds"`
	SnipePriorityFee        float64 `toml:"snipe_priority_fee"`
	BundleSize              int     `toml:"bundle_size"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		RPCURL:          "https://api.mainnet-beta.solana.com",
		QuoteURL:        "https://lite-api.jup.ag/swap/v1/quote",
		SwapURL:         "https://lite-api.jup.ag/swap/v1/swap",
		BotName:         "TrahnSwarm",
		CORSAllowOrigin: "*",
		APIPort:         3001,
		LogLevel:        "info",

		KeysFile:      "keys.json",
		PositionsFile: "data/positions.json",
		JournalFile:   "data/journal.jsonl",

		DBHost: "localhost",
		DBPort: 5432,
		DBName: "trahn_swarm",

		RedisPrefix: "swarm",

		S3Region:             "us-east-1",
		S3UseSSL:             true,
		S3Prefix:             "journal",
		ArchiveIntervalHours: 24,

		PaperTradingEnabled:  true,
		PaperInitialSOL:      1.0,
		PaperSlippagePercent: 2,

		TradeAmount:           0.03,
		InitialBagAmount:      0.02,
		TradeCooldownSeconds:  120,
		FeeBuffer:             0.01,
		SlippageBps:           1500,
		ExitSlippageBps:       2500,
		MaxAttempts:           5,
		PriorityFeeLadder:     []float64{0.0001, 0.0005, 0.001, 0.003, 0.005},
		ConfirmTimeoutSeconds: 45,
		BroadcastRate:         5,
		TokenDecimals:         6,

		TakeProfitPct:              50,
		StopLossPct:                30,
		MaxHoldMinutes:             60,
		ExitEveryTicks:             8,
		TickIntervalSeconds:        15,
		SellCooldownBaseSeconds:    30,
		SellCooldownPenaltySeconds: 30,
		SellCooldownCapSeconds:     600,
		StaleFailures:              5,

		SnipeAmount:             0.01,
		SnipeMaxOpenPositions:   40,
		SnipeMinFundedAgents:    3,
		SnipeMinIntervalSeconds: 60,
		SnipeMaxDailyTrades:     200,
		SnipeWinRateFloor:       0.2,
		SnipeWinRateWindow:      10,
		SnipeWinRateMinSamples:  5,
		SnipeFreshnessSeconds:   120,
		SnipePriorityFee:        0.001,
		BundleSize:              5,
	}
}

// Load layers .env, the optional TOML file at path, and the process
// environment on top of Defaults. The result is not validated.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.RPCURL = envStr("RPC_URL", c.RPCURL)
	c.BundleURL = envStr("BUNDLE_URL", c.BundleURL)
	c.PrimaryVenueURL = envStr("PRIMARY_VENUE_URL", c.PrimaryVenueURL)
	c.PrimaryBundleURL = envStr("PRIMARY_BUNDLE_URL", c.PrimaryBundleURL)
	c.QuoteURL = envStr("QUOTE_URL", c.QuoteURL)
	c.SwapURL = envStr("SWAP_URL", c.SwapURL)
	c.VenueAPIKey = envStr("VENUE_API_KEY", c.VenueAPIKey)
	c.PriceURL = envStr("PRICE_URL", c.PriceURL)
	c.SignalFeedURL = envStr("SIGNAL_FEED_URL", c.SignalFeedURL)
	c.WebhookURL = envStr("WEBHOOK_URL", c.WebhookURL)
	c.BotName = envStr("BOT_NAME", c.BotName)
	c.APIKey = envStr("API_KEY", c.APIKey)
	c.CORSAllowOrigin = envStr("CORS_ALLOW_ORIGIN", c.CORSAllowOrigin)
	c.APIPort = envInt("API_PORT", c.APIPort)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)

	c.KeysFile = envStr("KEYS_FILE", c.KeysFile)
	c.PositionsFile = envStr("POSITIONS_FILE", c.PositionsFile)
	c.JournalFile = envStr("JOURNAL_FILE", c.JournalFile)
	c.StrategyFile = envStr("STRATEGY_FILE", c.StrategyFile)

	c.DBEnabled = envBool("DB_ENABLED", c.DBEnabled)
	c.DBHost = envStr("DB_HOST", c.DBHost)
	c.DBPort = envInt("DB_PORT", c.DBPort)
	c.DBName = envStr("DB_NAME", c.DBName)
	c.DBUser = envStr("DB_USER", c.DBUser)
	c.DBPassword = envStr("DB_PASSWORD", c.DBPassword)

	c.RedisAddr = envStr("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = envStr("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = envInt("REDIS_DB", c.RedisDB)
	c.RedisTLSEnabled = envBool("REDIS_TLS_ENABLED", c.RedisTLSEnabled)
	c.RedisPrefix = envStr("REDIS_PREFIX", c.RedisPrefix)

	c.S3Endpoint = envStr("S3_ENDPOINT", c.S3Endpoint)
	c.S3Region = envStr("S3_REGION", c.S3Region)
	c.S3Bucket = envStr("S3_BUCKET", c.S3Bucket)
	c.S3AccessKey = envStr("S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = envStr("S3_SECRET_KEY", c.S3SecretKey)
	c.S3UseSSL = envBool("S3_USE_SSL", c.S3UseSSL)
	c.S3ForcePathStyle = envBool("S3_FORCE_PATH_STYLE", c.S3ForcePathStyle)
	c.S3Prefix = envStr("S3_PREFIX", c.S3Prefix)
	c.ArchiveIntervalHours = envInt("ARCHIVE_INTERVAL_HOURS", c.ArchiveIntervalHours)

	c.PaperTradingEnabled = envBool("PAPER_TRADING_ENABLED", c.PaperTradingEnabled)
	c.PaperInitialSOL = envFloat("PAPER_INITIAL_SOL", c.PaperInitialSOL)
	c.PaperSlippagePercent = envFloat("PAPER_SLIPPAGE_PERCENT", c.PaperSlippagePercent)

	c.TradeAmount = envFloat("TRADE_AMOUNT", c.TradeAmount)
	c.InitialBagAmount = envFloat("INITIAL_BAG_AMOUNT", c.InitialBagAmount)
	c.TradeCooldownSeconds = envInt("TRADE_COOLDOWN_SECONDS", c.TradeCooldownSeconds)
	c.FeeBuffer = envFloat("FEE_BUFFER", c.FeeBuffer)
	c.SlippageBps = envInt("SLIPPAGE_BPS", c.SlippageBps)
	c.ExitSlippageBps = envInt("EXIT_SLIPPAGE_BPS", c.ExitSlippageBps)
	c.MaxAttempts = envInt("MAX_ATTEMPTS", c.MaxAttempts)
	c.PriorityFeeLadder = envFloatList("PRIORITY_FEE_LADDER", c.PriorityFeeLadder)
	c.ConfirmTimeoutSeconds = envInt("CONFIRM_TIMEOUT_SECONDS", c.ConfirmTimeoutSeconds)
	c.BroadcastRate = envFloat("BROADCAST_RATE", c.BroadcastRate)
	c.ApprovedAssets = envList("APPROVED_ASSETS", c.ApprovedAssets)
	c.Blacklist = envList("BLACKLIST", c.Blacklist)
	c.TokenDecimals = envInt("TOKEN_DECIMALS", c.TokenDecimals)

	c.TakeProfitPct = envFloat("TAKE_PROFIT_PCT", c.TakeProfitPct)
	c.StopLossPct = envFloat("STOP_LOSS_PCT", c.StopLossPct)
	c.MaxHoldMinutes = envInt("MAX_HOLD_MINUTES", c.MaxHoldMinutes)
	c.ExitEveryTicks = envInt("EXIT_EVERY_TICKS", c.ExitEveryTicks)
	c.TickIntervalSeconds = envInt("TICK_INTERVAL_SECONDS", c.TickIntervalSeconds)
	c.SellCooldownBaseSeconds = envInt("SELL_COOLDOWN_BASE_SECONDS", c.SellCooldownBaseSeconds)
	c.SellCooldownPenaltySeconds = envInt("SELL_COOLDOWN_PENALTY_SECONDS", c.SellCooldownPenaltySeconds)
	c.SellCooldownCapSeconds = envInt("SELL_COOLDOWN_CAP_SECONDS", c.SellCooldownCapSeconds)
	c.StaleFailures = envInt("STALE_FAILURES", c.StaleFailures)
	c.HoldOnlyAsset = envStr("HOLD_ONLY_ASSET", c.HoldOnlyAsset)

	c.SnipeEnabled = envBool("SNIPE_ENABLED", c.SnipeEnabled)
	c.SnipeAmount = envFloat("SNIPE_AMOUNT", c.SnipeAmount)
	c.SnipeMaxOpenPositions = envInt("SNIPE_MAX_OPEN_POSITIONS", c.SnipeMaxOpenPositions)
	c.SnipeMinFundedAgents = envInt("SNIPE_MIN_FUNDED_AGENTS", c.SnipeMinFundedAgents)
	c.SnipeMinIntervalSeconds = envInt("SNIPE_MIN_INTERVAL_SECONDS", c.SnipeMinIntervalSeconds)
	c.SnipeMaxDailyTrades = envInt("SNIPE_MAX_DAILY_TRADES", c.SnipeMaxDailyTrades)
	c.SnipeWinRateFloor = envFloat("SNIPE_WIN_RATE_FLOOR", c.SnipeWinRateFloor)
	c.SnipeWinRateWindow = envInt("SNIPE_WIN_RATE_WINDOW", c.SnipeWinRateWindow)
	c.SnipeWinRateMinSamples = envInt("SNIPE_WIN_RATE_MIN_SAMPLES", c.SnipeWinRateMinSamples)
	c.SnipeFreshnessSeconds = envInt("SNIPE_FRESHNESS_SECONDS", c.SnipeFreshnessSeconds)
	c.SnipePriorityFee = envFloat("SNIPE_PRIORITY_FEE", c.SnipePriorityFee)
	c.BundleSize = envInt("BUNDLE_SIZE", c.BundleSize)
}

func (c *Config) Validate() error {
	var errs []error

	if c.KeysFile == "" {
		errs = append(errs, errors.New("KEYS_FILE is required"))
	}
	if !c.PaperTradingEnabled && c.RPCURL == "" {
		errs = append(errs, errors.New("RPC_URL is required for live trading"))
	}
	if !c.PaperTradingEnabled && c.PrimaryVenueURL == "" && (c.QuoteURL == "" || c.SwapURL == "") {
		errs = append(errs, errors.New("live trading needs PRIMARY_VENUE_URL or QUOTE_URL+SWAP_URL"))
	}
	if c.TradeAmount <= 0 {
		errs = append(errs, errors.New("TRADE_AMOUNT must be positive"))
	}
	if c.FeeBuffer < 0 {
		errs = append(errs, errors.New("FEE_BUFFER must not be negative"))
	}
	if c.SlippageBps <= 0 || c.SlippageBps > 10000 || c.ExitSlippageBps <= 0 || c.ExitSlippageBps > 10000 {
		errs = append(errs, errors.New("SLIPPAGE_BPS and EXIT_SLIPPAGE_BPS must be in (0, 10000]"))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, errors.New("MAX_ATTEMPTS must be positive"))
	}
	if c.TickIntervalSeconds <= 0 {
		errs = append(errs, errors.New("TICK_INTERVAL_SECONDS must be positive"))
	}
	if c.StopLossPct < 0 || c.TakeProfitPct < 0 {
		errs = append(errs, errors.New("TAKE_PROFIT_PCT and STOP_LOSS_PCT are magnitudes and must not be negative"))
	}
	if c.SnipeEnabled && c.SnipeAmount <= 0 {
		errs = append(errs, errors.New("SNIPE_AMOUNT must be positive when SNIPE_ENABLED"))
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		errs = append(errs, errors.New("S3_REGION is required when S3_BUCKET is set"))
	}

	if c.StopLossPct == 0 && c.TakeProfitPct == 0 {
		fmt.Println("[WARN] STOP_LOSS_PCT and TAKE_PROFIT_PCT are both 0: positions only exit on timeout or strategy")
	}
	if c.SnipeEnabled && c.SnipeMaxOpenPositions == 0 && c.SnipeMaxDailyTrades == 0 {
		fmt.Println("[WARN] snipes enabled with no open-position or daily trade cap")
	}
	if c.APIKey == "" {
		fmt.Println("[WARN] API_KEY not set: REST API has no authentication")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) Print() {
	fmt.Println("=== Trahn Swarm Configuration ===")

	if c.PaperTradingEnabled {
		fmt.Println("════════════════════════════════════════")
		fmt.Println("  PAPER TRADING MODE ENABLED")
		fmt.Println("  No real transactions will execute")
		fmt.Println("════════════════════════════════════════")
		fmt.Printf("Paper Initial SOL/agent: %.4f\n", c.PaperInitialSOL)
		fmt.Printf("Paper Slippage: 0-%.1f%%\n", c.PaperSlippagePercent)
	} else {
		fmt.Println("  LIVE TRADING MODE")
		fmt.Printf("RPC: %s\n", c.RPCURL)
	}

	fmt.Println("--------------------------------------")
	fmt.Println("Trading:")
	fmt.Printf("  Trade Amount: %.4f SOL (initial bag %.4f)\n", c.TradeAmount, c.InitialBagAmount)
	fmt.Printf("  Slippage: %d bps (exit %d bps)\n", c.SlippageBps, c.ExitSlippageBps)
	fmt.Printf("  Attempts: %d, fee ladder %v\n", c.MaxAttempts, c.PriorityFeeLadder)
	fmt.Printf("  Tick: every %ds, exits every %d ticks\n", c.TickIntervalSeconds, c.ExitEveryTicks)
	fmt.Printf("  Approved Assets: %d, Blacklist: %d\n", len(c.ApprovedAssets), len(c.Blacklist))
	fmt.Println("--------------------------------------")
	fmt.Println("Exits:")
	fmt.Printf("  Take Profit: +%.0f%% | Stop Loss: -%.0f%% | Max Hold: %dm\n", c.TakeProfitPct, c.StopLossPct, c.MaxHoldMinutes)
	if c.HoldOnlyAsset != "" {
		fmt.Printf("  Hold Only: %s\n", truncAddr(c.HoldOnlyAsset))
	}
	fmt.Println("--------------------------------------")
	fmt.Printf("Snipes: %s\n", boolLabel(c.SnipeEnabled, fmt.Sprintf("%.4f SOL, bundles of %d", c.SnipeAmount, c.BundleSize), "disabled"))
	fmt.Printf("Database: %s\n", boolLabel(c.DBEnabled, fmt.Sprintf("%s:%d/%s", c.DBHost, c.DBPort, c.DBName), "disabled"))
	fmt.Printf("Redis: %s\n", boolLabel(c.RedisAddr != "", c.RedisAddr, "disabled"))
	fmt.Printf("Archive: %s\n", boolLabel(c.S3Bucket != "", "s3://"+c.S3Bucket+"/"+c.S3Prefix, "disabled"))
	fmt.Printf("Strategy: %s\n", boolLabel(c.StrategyFile != "", c.StrategyFile, "built-in rules"))
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

// envList splits a comma-separated value, dropping blanks.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envFloatList(key string, fallback []float64) []float64 {
	parts := envList(key, nil)
	if len(parts) == 0 {
		return fallback
	}
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return fallback
		}
		out = append(out, f)
	}
	return out
}

func truncAddr(addr string) string {
	if len(addr) > 10 {
		return addr[:10]
	}
	return addr
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
