package config

import "time"

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	PostgresDSN       string
	MaxConnections    int32
	MinConnections    int32
	MaxConnIdleTime   time.Duration
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
}

// RetryConfig holds bounded backoff settings.
type RetryConfig struct {
	RetrievalMaxRetries int
	OracleMaxRetries    int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
}

// TelegramConfig holds operator notification settings.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

// Enabled reports whether notifications can be sent.
func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != 0
}

// DatabaseCfg returns the database configuration extracted from Config.
func (c *Config) DatabaseCfg() DatabaseConfig {
	return DatabaseConfig{
		PostgresDSN:       c.PostgresDSN,
		MaxConnections:    c.DBMaxConnections,
		MinConnections:    c.DBMinConnections,
		MaxConnIdleTime:   c.DBMaxConnIdleTime,
		MaxConnLifetime:   c.DBMaxConnLifetime,
		HealthCheckPeriod: c.DBHealthCheckPeriod,
	}
}

// RetryCfg returns the retry configuration.
func (c *Config) RetryCfg() RetryConfig {
	return RetryConfig{
		RetrievalMaxRetries: c.RetrievalMaxRetries,
		OracleMaxRetries:    c.OracleMaxRetries,
		InitialInterval:     c.RetryInitialInterval,
		MaxInterval:         c.RetryMaxInterval,
	}
}

// TelegramCfg returns the notification configuration.
func (c *Config) TelegramCfg() TelegramConfig {
	return TelegramConfig{
		Token:  c.TelegramBotToken,
		ChatID: c.TelegramChatID,
	}
}

// OracleEnabled reports whether an LLM backend is configured.
func (c *Config) OracleEnabled() bool {
	return c.LLMAPIKey != ""
}
