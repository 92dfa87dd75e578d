package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StrategyMultiplicative = "multiplicative"
	StrategyAdditive       = "additive"

	// minRecentHistory is the additive strategy's volatility window.
	minRecentHistory = 2
)

var (
	errInvalidBounds   = errors.New("value floor must be positive and below the ceiling")
	errInvalidStrategy = errors.New("unknown valuation strategy")
	errInvalidRetries  = errors.New("retry counts must not be negative")
	errInvalidBaseline = errors.New("default baseline must lie within the value bounds")
	errInvalidHistory  = errors.New("recent history must cover the two-episode damping window")
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`
	HealthPort  int    `env:"HEALTH_PORT" envDefault:"8080"`

	// Database pool
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS" envDefault:"10"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS" envDefault:"1"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBHealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`

	// Oracle
	LLMAPIKey              string  `env:"LLM_API_KEY"`
	LLMModel               string  `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMBaseURL             string  `env:"LLM_BASE_URL"`
	LLMRequestsPerSecond   float64 `env:"LLM_RPS" envDefault:"1"`
	LLMTemperature         float32 `env:"LLM_TEMPERATURE" envDefault:"0.3"`
	CandidateFilterEnabled bool    `env:"CANDIDATE_FILTER_ENABLED" envDefault:"true"`

	// Valuation
	ValuationStrategy string  `env:"VALUATION_STRATEGY" envDefault:"multiplicative"`
	ValueFloor        float64 `env:"VALUE_FLOOR" envDefault:"10"`
	ValueCeiling      float64 `env:"VALUE_CEILING" envDefault:"10000"`
	DefaultBaseline   float64 `env:"DEFAULT_BASELINE" envDefault:"100"`
	TopN              int     `env:"TOP_N" envDefault:"10"`
	RecentHistory     int     `env:"RECENT_HISTORY" envDefault:"3"`

	// Processing
	StrictOrder          bool          `env:"STRICT_ORDER" envDefault:"true"`
	MinContentLength     int           `env:"MIN_CONTENT_LENGTH" envDefault:"50"`
	MinCandidates        int           `env:"MIN_CANDIDATES" envDefault:"1"`
	RetrievalMaxRetries  int           `env:"RETRIEVAL_MAX_RETRIES" envDefault:"3"`
	OracleMaxRetries     int           `env:"ORACLE_MAX_RETRIES" envDefault:"3"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"1s"`
	RetryMaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"30s"`
	PrefetchDepth        int           `env:"PREFETCH_DEPTH" envDefault:"2"`
	FollowPollInterval   time.Duration `env:"FOLLOW_POLL_INTERVAL" envDefault:"1h"`
	AuditInterval        time.Duration `env:"AUDIT_INTERVAL" envDefault:"24h"`

	// Content
	ContentBaseURL  string        `env:"CONTENT_BASE_URL" envDefault:"https://onepiece.fandom.com/wiki/Chapter_"`
	WebFetchRPS     float64       `env:"WEB_FETCH_RPS" envDefault:"1"`
	WebFetchTimeout time.Duration `env:"WEB_FETCH_TIMEOUT" envDefault:"30s"`

	// Notifications
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `env:"TELEGRAM_CHAT_ID"`
}

func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	applyAliases(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	if c.ValueFloor <= 0 || c.ValueCeiling <= c.ValueFloor {
		return fmt.Errorf("%w: floor=%v ceiling=%v", errInvalidBounds, c.ValueFloor, c.ValueCeiling)
	}

	if c.DefaultBaseline < c.ValueFloor || c.DefaultBaseline > c.ValueCeiling {
		return fmt.Errorf("%w: baseline=%v", errInvalidBaseline, c.DefaultBaseline)
	}

	switch c.ValuationStrategy {
	case StrategyMultiplicative, StrategyAdditive:
	default:
		return fmt.Errorf("%w: %q", errInvalidStrategy, c.ValuationStrategy)
	}

	if c.RetrievalMaxRetries < 0 || c.OracleMaxRetries < 0 {
		return errInvalidRetries
	}

	if c.RecentHistory < minRecentHistory {
		return fmt.Errorf("%w: %d < %d", errInvalidHistory, c.RecentHistory, minRecentHistory)
	}

	return nil
}

// applyAliases accepts the variable names used by earlier deployments.
func applyAliases(cfg *Config) {
	if !hasEnv("LLM_API_KEY") {
		setStringFromEnv("OPENAI_API_KEY", &cfg.LLMAPIKey)
	}

	if !hasEnv("VALUE_FLOOR") {
		setFloatFromEnv("STOCK_FLOOR", &cfg.ValueFloor)
	}

	if !hasEnv("ORACLE_MAX_RETRIES") {
		setIntFromEnv("LLM_MAX_RETRIES", &cfg.OracleMaxRetries)
	}

	if !hasEnv("TELEGRAM_BOT_TOKEN") {
		setStringFromEnv("BOT_TOKEN", &cfg.TelegramBotToken)
	}
}

func hasEnv(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

func setStringFromEnv(key string, target *string) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}

	val = strings.TrimSpace(val)
	if val == "" {
		return
	}

	*target = val
}

func setIntFromEnv(key string, target *int) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return
	}

	*target = parsed
}

func setFloatFromEnv(key string, target *float64) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}

	parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return
	}

	*target = parsed
}
