// Package config предоставляет структуры и функции для парсинга и загрузки конфига
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	Stripe                  Stripe  `yaml:"stripe"`
	Webhook                 Webhook `yaml:"webhook"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	RateLimit   float64       `yaml:"rate_limit" env-default:"2"`
	RateBurst   int           `yaml:"rate_burst" env-default:"5"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
	StatusTTL    time.Duration `yaml:"status_ttl" env-default:"5m"`
}

// RabbitMQ настройки брокера для уведомлений о смене тарифа
type RabbitMQ struct {
	URL        string        `yaml:"url" env:"RABBITMQ_URL"`
	Retries    int           `yaml:"retries" env-default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
	Exchange   string        `yaml:"exchange" env-default:"billing"`
	Queue      string        `yaml:"queue" env-default:"plan_changed"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

// Stripe настройки платёжного провайдера
type Stripe struct {
	SecretKey       string        `yaml:"secret_key" env:"STRIPE_SECRET_KEY"`
	WebhookSecret   string        `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
	APIURL          string        `yaml:"api_url" env:"STRIPE_API_URL"`
	Timeout         time.Duration `yaml:"timeout" env-default:"30s"`
	SuccessURL      string        `yaml:"success_url"`
	CancelURL       string        `yaml:"cancel_url"`
	PortalReturnURL string        `yaml:"portal_return_url"`
	Prices          Prices        `yaml:"prices"`
}

// Prices идентификаторы цен провайдера для платных тарифов
type Prices struct {
	Starter string `yaml:"starter" env:"STRIPE_PRICE_STARTER"`
	Pro     string `yaml:"pro" env:"STRIPE_PRICE_PRO"`
	Agency  string `yaml:"agency" env:"STRIPE_PRICE_AGENCY"`
}

// Webhook настройки обработки входящих событий
type Webhook struct {
	EventTTL time.Duration `yaml:"event_ttl" env-default:"72h"`
}

// Load читает конфиг из файла path с переопределением через переменные окружения.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("file: %s - does not exist", path)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad функция для загрузки конфига по пути из CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

func (c *Config) validate() error {
	if c.Stripe.SecretKey == "" {
		return errors.New("stripe.secret_key is required")
	}
	if c.Stripe.WebhookSecret == "" {
		return errors.New("stripe.webhook_secret is required")
	}
	p := c.Stripe.Prices
	if p.Starter == "" || p.Pro == "" || p.Agency == "" {
		return errors.New("stripe.prices must define starter, pro and agency")
	}
	if p.Starter == p.Pro || p.Starter == p.Agency || p.Pro == p.Agency {
		return errors.New("stripe.prices must be distinct")
	}
	return nil
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"StorageConnectionString: %s\n"+
			"MigrationsPath: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"  StatusTTL: %s\n"+
			"RabbitMQ:\n"+
			"  Exchange: %s\n"+
			"  Queue: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"JWTToken:\n"+
			"  JWTSecretKey: %s\n"+
			"  TokenTTL: %s\n"+
			"Stripe:\n"+
			"  SecretKey: %s\n"+
			"  WebhookSecret: %s\n"+
			"  APIURL: %s\n"+
			"  Prices: starter=%s pro=%s agency=%s\n"+
			"Webhook:\n"+
			"  EventTTL: %s\n",
		c.Env,
		mask(c.StorageConnectionString),
		c.MigrationsPath,
		c.AddressRedis,
		c.DB,
		c.StatusTTL,
		c.Exchange,
		c.Queue,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		mask(c.JWTSecretKey),
		c.TokenTTL,
		mask(c.Stripe.SecretKey),
		mask(c.Stripe.WebhookSecret),
		c.Stripe.APIURL,
		c.Stripe.Prices.Starter,
		c.Stripe.Prices.Pro,
		c.Stripe.Prices.Agency,
		c.Webhook.EventTTL,
	)
}
