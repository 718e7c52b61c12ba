package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
	Chain        ChainConfig        `mapstructure:"chain"`
	Verification VerificationConfig `mapstructure:"verification"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// RedisConfig включает распределённый pending-set, если URL задан.
type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	PendingTTL time.Duration `mapstructure:"pending_ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type ChainConfig struct {
	Network      string  `mapstructure:"network"`
	RPCURL       string  `mapstructure:"rpc_url"`
	WSURL        string  `mapstructure:"ws_url"`
	RPS          float64 `mapstructure:"rps"`
	Burst        int     `mapstructure:"burst"`
	DialAttempts uint64  `mapstructure:"dial_attempts"`
}

type VerificationConfig struct {
	MaxWait           time.Duration `mapstructure:"max_wait"`
	GracePeriod       time.Duration `mapstructure:"grace_period"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	Confirmations     uint64        `mapstructure:"confirmations"`
	TimeDiffThreshold time.Duration `mapstructure:"time_diff_threshold"`
	Tolerance         string        `mapstructure:"tolerance"`
	TokenDecimals     int32         `mapstructure:"token_decimals"`
	ConfigCacheTTL    time.Duration `mapstructure:"config_cache_ttl"`
	StageTimeout      time.Duration `mapstructure:"stage_timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.migrations_dir", "migrations")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "payments")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "payment.verification.completed")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pending_ttl", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("chain.network", "polygon")
	v.SetDefault("chain.rpc_url", "http://127.0.0.1:8545")
	v.SetDefault("chain.ws_url", "")
	v.SetDefault("chain.rps", 20.0)
	v.SetDefault("chain.burst", 5)
	v.SetDefault("chain.dial_attempts", 5)

	v.SetDefault("verification.max_wait", 120*time.Second)
	v.SetDefault("verification.grace_period", time.Second)
	v.SetDefault("verification.poll_interval", 2*time.Second)
	v.SetDefault("verification.confirmations", 1)
	v.SetDefault("verification.time_diff_threshold", 30*time.Minute)
	v.SetDefault("verification.tolerance", "0.01")
	v.SetDefault("verification.token_decimals", 6)
	v.SetDefault("verification.config_cache_ttl", 30*time.Second)
	v.SetDefault("verification.stage_timeout", 30*time.Second)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load собирает конфигурацию из значений по умолчанию, переменных окружения
// (SERVER_PORT, CHAIN_RPC_URL, ...) и необязательного файла CONFIG_FILE.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("config_file", "CONFIG_FILE"); err != nil {
		return nil, fmt.Errorf("failed to bind CONFIG_FILE: %w", err)
	}
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("CHAIN_RPC_URL is required")
	}
	if c.Verification.MaxWait <= 0 {
		return fmt.Errorf("verification max wait must be positive, got %s", c.Verification.MaxWait)
	}
	if c.Verification.PollInterval <= 0 {
		return fmt.Errorf("verification poll interval must be positive, got %s", c.Verification.PollInterval)
	}
	if c.Verification.TimeDiffThreshold <= 0 {
		return fmt.Errorf("verification time diff threshold must be positive, got %s", c.Verification.TimeDiffThreshold)
	}
	if c.Verification.StageTimeout <= 0 {
		return fmt.Errorf("verification stage timeout must be positive, got %s", c.Verification.StageTimeout)
	}
	if c.Verification.Confirmations == 0 {
		return fmt.Errorf("verification confirmations must be at least 1")
	}
	if c.Verification.TokenDecimals < 0 || c.Verification.TokenDecimals > 36 {
		return fmt.Errorf("invalid token decimals: %d", c.Verification.TokenDecimals)
	}
	tolerance, err := decimal.NewFromString(c.Verification.Tolerance)
	if err != nil {
		return fmt.Errorf("invalid verification tolerance %q: %w", c.Verification.Tolerance, err)
	}
	if tolerance.IsNegative() {
		return fmt.Errorf("verification tolerance must not be negative, got %s", tolerance)
	}
	return nil
}

func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// ToleranceDecimal возвращает допуск суммы; значение уже проверено в validate.
func (c *Config) ToleranceDecimal() decimal.Decimal {
	return decimal.RequireFromString(c.Verification.Tolerance)
}
