package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации сервиса согласований.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Approvals ApprovalsConfig `mapstructure:"approvals"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCConfig — порт health-сервиса для оркестратора
type GRPCConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и Cache). Пустой addr отключает Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// ApprovalsConfig — настройки workflow согласования заказов.
type ApprovalsConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	HighValueThreshold string   `mapstructure:"high_value_threshold"` // десятичная строка, как в UI настроек
	SeniorApprovers    []string `mapstructure:"senior_approvers"`     // usernames
	SendEmail          bool     `mapstructure:"send_email"`
	TeamsWebhookURL    string   `mapstructure:"teams_webhook_url"`
	URLPrefix          string   `mapstructure:"url_prefix"`
	BaseURL            string   `mapstructure:"base_url"` // для ссылок в уведомлениях
	Ledger             string   `mapstructure:"ledger"`   // postgres | memory

	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	NotifyTimeout  time.Duration `mapstructure:"notify_timeout"`
	StatusCacheTTL time.Duration `mapstructure:"status_cache_ttl"`

	// Настройки Circuit Breaker для Teams webhook
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	WebhookRPS    float64       `mapstructure:"webhook_rps"`
}

// Threshold возвращает порог high-value. Битое значение трактуется как дефолт 10000.
func (a ApprovalsConfig) Threshold() decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(a.HighValueThreshold))
	if err != nil {
		return decimal.NewFromInt(DefaultHighValueThreshold)
	}
	return d
}

const DefaultHighValueThreshold = 10000

// Бэкенды леджера. memory — без долговременного хранения, для стендов.
const (
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"
)

// AuditConfig — буферизация журнала решений
type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: APPROVALS_HIGH_VALUE_THRESHOLD=5000 перекроет approvals.high_value_threshold
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Список senior-согласующих в ENV приходит строкой через запятую
	cfg.Approvals.SeniorApprovers = SplitList(strings.Join(cfg.Approvals.SeniorApprovers, ","))

	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("grpc.port", 50052)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.private_key_path", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("approvals.enabled", true)
	v.SetDefault("approvals.high_value_threshold", "10000")
	v.SetDefault("approvals.senior_approvers", []string{})
	v.SetDefault("approvals.send_email", true)
	v.SetDefault("approvals.teams_webhook_url", "")
	v.SetDefault("approvals.base_url", "")
	v.SetDefault("approvals.url_prefix", "/plugin/approvals")
	v.SetDefault("approvals.ledger", LedgerPostgres)
	v.SetDefault("approvals.write_timeout", 5*time.Second)
	v.SetDefault("approvals.notify_timeout", 10*time.Second)
	v.SetDefault("approvals.status_cache_ttl", 5*time.Second)
	v.SetDefault("approvals.cb_max_requests", 3)
	v.SetDefault("approvals.cb_interval", 5*time.Second)
	v.SetDefault("approvals.cb_timeout", 30*time.Second)
	v.SetDefault("approvals.webhook_rps", 5)
	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 1*time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// SplitList разбирает "alice, bob,,carol" в ["alice" "bob" "carol"]
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadKeyResource берет PEM из ENV или читает файл по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
