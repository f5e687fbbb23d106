// Package config 配置
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/apd"
	"github.com/exchange/emulator/pkg/decimal"
	envconfig "github.com/exchange/emulator/pkg/config"
	"github.com/robfig/cron/v3"
)

// Config 服务配置
type Config struct {
	// 服务
	ServiceName string
	AppEnv      string
	HTTPPort    int
	LogLevel    string
	APIToken    string
	AdminToken  string
	WorkerID    int64

	// 标的
	InstrumentID string
	Ticker       string
	FIGI         string
	Lot          int64
	Currency     string
	PriceScale   int32

	// 受管账户
	AccountID            string
	InitialBalance       *apd.Decimal
	MarginMultiplierBuy  *apd.Decimal
	MarginMultiplierSell *apd.Decimal
	AvgPriceScale        int32

	// 订单簿
	BookDepth          int
	NotifyDepth        int
	InitialBid         string
	InitialAsk         string
	InitialQuoteQty    int64
	MarketMakerAccount string
	AdminAccount       string
	// FallbackPrice 订单簿为空时的估值价
	FallbackPrice *apd.Decimal

	// Redis
	RedisEnabled        bool
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	EventStream         string
	StreamMaxLen        int64
	PrivateEventChannel string

	// Kafka
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	SinkBuffer int

	// Tracing
	TracingEnabled  bool
	JaegerEndpoint  string
	TraceSampleRate float64

	// 定时任务，空为关闭
	ReportSchedule      string
	BookRefreshSchedule string

	WSAllowedOrigins []string
	ShutdownTimeout  time.Duration
}

// Load 加载配置
func Load() *Config {
	return &Config{
		ServiceName: envconfig.GetEnv("SERVICE_NAME", "exchange-emulator"),
		AppEnv:      envconfig.GetEnv("APP_ENV", "dev"),
		HTTPPort:    envconfig.GetEnvInt("HTTP_PORT", 8090),
		LogLevel:    envconfig.GetEnv("LOG_LEVEL", "info"),
		APIToken:    envconfig.GetEnv("API_TOKEN", envconfig.DevAPIToken()),
		AdminToken:  envconfig.GetEnv("ADMIN_TOKEN", envconfig.DevAPIToken()),
		WorkerID:    envconfig.GetEnvInt64("WORKER_ID", 1),

		InstrumentID: envconfig.GetEnv("INSTRUMENT_UID", "e6123145-9665-43e0-8413-cd61b8aa9b13"),
		Ticker:       envconfig.GetEnv("INSTRUMENT_TICKER", "SBER"),
		FIGI:         envconfig.GetEnv("INSTRUMENT_FIGI", "BBG004730N88"),
		Lot:          envconfig.GetEnvInt64("INSTRUMENT_LOT", 1),
		Currency:     envconfig.GetEnv("INSTRUMENT_CURRENCY", "rub"),
		PriceScale:   int32(envconfig.GetEnvInt("PRICE_SCALE", 2)),

		AccountID:            envconfig.GetEnv("ACCOUNT_ID", "emulator-account"),
		InitialBalance:       getEnvDecimal("ACCOUNT_INITIAL_BALANCE", "100000"),
		MarginMultiplierBuy:  getEnvDecimal("MARGIN_MULTIPLIER_BUY", "1"),
		MarginMultiplierSell: getEnvDecimal("MARGIN_MULTIPLIER_SELL", "1"),
		AvgPriceScale:        int32(envconfig.GetEnvInt("AVG_PRICE_SCALE", 9)),

		BookDepth:          envconfig.GetEnvInt("BOOK_DEPTH", 20),
		NotifyDepth:        envconfig.GetEnvInt("BOOK_NOTIFY_DEPTH", 50),
		InitialBid:         envconfig.GetEnv("INITIAL_BID", ""),
		InitialAsk:         envconfig.GetEnv("INITIAL_ASK", ""),
		InitialQuoteQty:    envconfig.GetEnvInt64("INITIAL_QUOTE_QTY", 1000),
		MarketMakerAccount: envconfig.GetEnv("MARKET_MAKER_ACCOUNT", "market-maker-init"),
		AdminAccount:       envconfig.GetEnv("ADMIN_ACCOUNT", "admin-market-maker"),
		FallbackPrice:      getEnvDecimal("FALLBACK_PRICE", "10"),

		RedisEnabled:        envconfig.GetEnvBool("REDIS_ENABLED", false),
		RedisAddr:           envconfig.GetEnv("REDIS_ADDR", "localhost:6380"),
		RedisPassword:       envconfig.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:             envconfig.GetEnvInt("REDIS_DB", 0),
		EventStream:         envconfig.GetEnv("EVENT_STREAM", "emulator:events"),
		StreamMaxLen:        envconfig.GetEnvInt64("EVENT_STREAM_MAXLEN", 100000),
		PrivateEventChannel: envconfig.GetEnv("PRIVATE_EVENT_CHANNEL", "private:account:{accountId}:events"),

		KafkaEnabled: envconfig.GetEnvBool("KAFKA_ENABLED", false),
		KafkaBrokers: envconfig.GetEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:   envconfig.GetEnv("KAFKA_TOPIC", "emulator.events"),

		SinkBuffer: envconfig.GetEnvInt("SINK_BUFFER", 4096),

		TracingEnabled:  envconfig.GetEnvBool("TRACING_ENABLED", false),
		JaegerEndpoint:  envconfig.GetEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		TraceSampleRate: envconfig.GetEnvFloat64("TRACE_SAMPLE_RATE", 0.1),

		ReportSchedule:      getEnvSchedule("REPORT_SCHEDULE", "@every 15s"),
		BookRefreshSchedule: getEnvSchedule("BOOK_REFRESH_SCHEDULE", "@every 5s"),
		WSAllowedOrigins:    envconfig.GetEnvSlice("WS_ALLOWED_ORIGINS", nil),
		ShutdownTimeout:     envconfig.GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// getEnvSchedule 取值 off 时关闭该任务
func getEnvSchedule(key, defaultValue string) string {
	if v := envconfig.GetEnv(key, defaultValue); !strings.EqualFold(v, "off") {
		return v
	}
	return ""
}

func getEnvDecimal(key, defaultValue string) *apd.Decimal {
	if d, err := decimal.Parse(envconfig.GetEnv(key, defaultValue)); err == nil {
		return d
	}
	return decimal.MustParse(defaultValue)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.InstrumentID == "" {
		return fmt.Errorf("INSTRUMENT_UID is required")
	}
	if c.AccountID == "" {
		return fmt.Errorf("ACCOUNT_ID is required")
	}
	if c.PriceScale < 0 || c.PriceScale > 9 {
		return fmt.Errorf("PRICE_SCALE must be between 0 and 9, got %d", c.PriceScale)
	}
	if c.Lot <= 0 {
		return fmt.Errorf("INSTRUMENT_LOT must be positive")
	}
	if c.Ticker == "" || c.Currency == "" {
		return fmt.Errorf("INSTRUMENT_TICKER and INSTRUMENT_CURRENCY are required")
	}
	if c.InitialQuoteQty <= 0 {
		return fmt.Errorf("INITIAL_QUOTE_QTY must be positive")
	}
	if c.MarginMultiplierBuy.Sign() < 0 || c.MarginMultiplierSell.Sign() < 0 {
		return fmt.Errorf("margin multipliers must not be negative")
	}
	if c.WorkerID < 0 || c.WorkerID > 1023 {
		return fmt.Errorf("WORKER_ID must be between 0 and 1023")
	}
	if _, _, err := c.InitialQuotes(); err != nil {
		return err
	}
	if c.RedisEnabled && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required when REDIS_ENABLED=true")
	}
	if c.RedisEnabled && !strings.Contains(c.PrivateEventChannel, "{accountId}") {
		return fmt.Errorf("PRIVATE_EVENT_CHANNEL must contain {accountId}")
	}
	if c.KafkaEnabled && (len(c.KafkaBrokers) == 0 || c.KafkaTopic == "") {
		return fmt.Errorf("KAFKA_BROKERS and KAFKA_TOPIC are required when KAFKA_ENABLED=true")
	}
	for name, spec := range map[string]string{"REPORT_SCHEDULE": c.ReportSchedule, "BOOK_REFRESH_SCHEDULE": c.BookRefreshSchedule} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.APIToken == "" || c.AdminToken == "" {
		return fmt.Errorf("API_TOKEN and ADMIN_TOKEN are required")
	}
	if c.AppEnv != "dev" {
		for name, token := range map[string]string{"API_TOKEN": c.APIToken, "ADMIN_TOKEN": c.AdminToken} {
			if envconfig.IsInsecureDevSecret(token) {
				return fmt.Errorf("%s must not be a dev placeholder (APP_ENV=%s)", name, c.AppEnv)
			}
			if len(token) < envconfig.MinSecretLength {
				return fmt.Errorf("%s must be at least %d characters (APP_ENV=%s)", name, envconfig.MinSecretLength, c.AppEnv)
			}
		}
	}
	return nil
}

// InitialQuotes 初始做市报价（tick），未配置为 0
func (c *Config) InitialQuotes() (bid, ask int64, err error) {
	if bid, err = parseQuote("INITIAL_BID", c.InitialBid, c.PriceScale); err != nil {
		return 0, 0, err
	}
	if ask, err = parseQuote("INITIAL_ASK", c.InitialAsk, c.PriceScale); err != nil {
		return 0, 0, err
	}
	if bid > 0 && ask > 0 && bid >= ask {
		return 0, 0, fmt.Errorf("INITIAL_BID must be below INITIAL_ASK")
	}
	return bid, ask, nil
}

func parseQuote(name, raw string, scale int32) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	ticks, err := decimal.ParseTicks(raw, scale)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid price %q: %w", name, raw, err)
	}
	if ticks <= 0 {
		return 0, fmt.Errorf("%s: price %q must be positive", name, raw)
	}
	return ticks, nil
}

// PrivateChannel 账户私有事件频道
func (c *Config) PrivateChannel(accountID string) string {
	return strings.ReplaceAll(c.PrivateEventChannel, "{accountId}", accountID)
}
