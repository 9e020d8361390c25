// Package config предоставляет структуры и функцию для парсинга и загрузки конфига.
// Биллинговое расписание (цены, смещения повторных списаний, пороги
// предупреждений) — явное неизменяемое значение, передаваемое в конструкторы,
// а не глобальное состояние: тесты подставляют свои расписания.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек.
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RabbitConnection        string `yaml:"rabbit_connection"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	Gateway                 `yaml:"gateway"`
	Billing                 `yaml:"billing"`
}

// HTTPServer структура для настройки сервера.
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"5s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// JWTToken структура для работы с jwt-токеном.
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// Gateway — параметры внешнего платёжного шлюза. Шлюз для движка непрозрачен:
// синхронный ответ совещательный, источник истины — webhook.
type Gateway struct {
	ShopID        string `yaml:"shop_id"`
	SecretKey     string `yaml:"secret_key"`
	APIURL        string `yaml:"api_url" env-default:"https://gateway.example.com/v3"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// AddonTier — уровень подписки на дополнение с месячной ценой и квотой генераций.
type AddonTier struct {
	Level        int    `yaml:"level"`
	Name         string `yaml:"name"`
	MonthlyPrice int64  `yaml:"monthly_price"`              // Минорные единицы
	AIlimit      int    `yaml:"ai_generation_limit"`        // 0 = безлимит
}

// Billing — неизменяемое биллинговое расписание.
type Billing struct {
	Currency           string        `yaml:"currency" env-default:"USD"`
	AddonTiers         []AddonTier   `yaml:"addon_tiers"`
	TierPrices         []int64       `yaml:"tier_prices"`          // Разовые цены уровней 1..3, минорные единицы
	RetryOffsetsDays   []int         `yaml:"retry_offsets_days"`   // От исходного сбоя, не от предыдущей попытки
	WarningThresholds  []int         `yaml:"warning_thresholds"`   // Проценты квоты для advisory-флагов
	IncompleteWindow   time.Duration `yaml:"incomplete_window" env-default:"23h"`
	CapabilityCacheTTL time.Duration `yaml:"capability_cache_ttl" env-default:"5s"`
	SchedulerInterval  time.Duration `yaml:"scheduler_interval" env-default:"5m"`
}

// DefaultBilling возвращает расписание по умолчанию; тесты и конфиг могут
// заменить его целиком.
func DefaultBilling() Billing {
	return Billing{
		Currency: "USD",
		AddonTiers: []AddonTier{
			{Level: 1, Name: "Starter", MonthlyPrice: 1900, AIlimit: 50},
			{Level: 2, Name: "Professional", MonthlyPrice: 4900, AIlimit: 200},
			{Level: 3, Name: "Elite", MonthlyPrice: 9900, AIlimit: 0},
		},
		TierPrices:         []int64{4900, 9900, 19900},
		RetryOffsetsDays:   []int{3, 7, 14},
		WarningThresholds:  []int{80, 90, 95},
		IncompleteWindow:   23 * time.Hour,
		CapabilityCacheTTL: 5 * time.Second,
		SchedulerInterval:  5 * time.Minute,
	}
}

// AddonTierByLevel возвращает уровень дополнения по номеру.
func (b Billing) AddonTierByLevel(level int) (AddonTier, bool) {
	for _, t := range b.AddonTiers {
		if t.Level == level {
			return t, true
		}
	}
	return AddonTier{}, false
}

// AddonLimit возвращает месячную квоту генераций уровня, nil = безлимит.
func (b Billing) AddonLimit(level int) *int {
	t, ok := b.AddonTierByLevel(level)
	if !ok || t.AIlimit == 0 {
		return nil
	}
	limit := t.AIlimit
	return &limit
}

// TierPrice возвращает разовую цену тарифного уровня в минорных единицах.
func (b Billing) TierPrice(level int) (int64, bool) {
	if level < 1 || level > len(b.TierPrices) {
		return 0, false
	}
	return b.TierPrices[level-1], true
}

// MustLoad функция для загрузки конфига, путь берётся из CONFIG_PATH.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	if len(cfg.Billing.AddonTiers) == 0 {
		cfg.Billing = mergeBillingDefaults(cfg.Billing)
	}
	return &cfg
}

// mergeBillingDefaults дополняет неполное биллинговое расписание значениями
// по умолчанию, сохраняя явно заданные длительности.
func mergeBillingDefaults(b Billing) Billing {
	def := DefaultBilling()
	def.IncompleteWindow = b.IncompleteWindow
	def.CapabilityCacheTTL = b.CapabilityCacheTTL
	def.SchedulerInterval = b.SchedulerInterval
	if b.Currency != "" {
		def.Currency = b.Currency
	}
	return def
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"StorageConnectionString: %s\n"+
			"RabbitConnection: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"Billing:\n"+
			"  Currency: %s\n"+
			"  RetryOffsetsDays: %v\n"+
			"  IncompleteWindow: %s\n"+
			"  CapabilityCacheTTL: %s\n",
		c.Env,
		c.StorageConnectionString,
		c.RabbitConnection,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.Billing.Currency,
		c.Billing.RetryOffsetsDays,
		c.Billing.IncompleteWindow,
		c.Billing.CapabilityCacheTTL,
	)
}
