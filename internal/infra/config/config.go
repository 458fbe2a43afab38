package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Directory struct {
		BaseURL string  `envconfig:"DIRECTORY_BASE_URL"`
		Token   string  `envconfig:"DIRECTORY_TOKEN"`
		RPS     float64 `envconfig:"DIRECTORY_RPS" default:"2"`
		Burst   int     `envconfig:"DIRECTORY_BURST" default:"10"`
	} `envconfig:""`

	Fetch struct {
		PageBudget  int           `envconfig:"FETCH_PAGE_BUDGET" default:"15"`
		ProgressTTL time.Duration `envconfig:"FETCH_PROGRESS_TTL" default:"1h"`
	} `envconfig:""`

	Retention struct {
		Snapshot time.Duration `envconfig:"SNAPSHOT_TTL" default:"72h"`
		Event    time.Duration `envconfig:"EVENT_TTL" default:"2160h"` // 90 дней
	} `envconfig:""`

	Scheduler struct {
		Interval      time.Duration `envconfig:"ENQUEUE_INTERVAL" default:"1h"`
		SweepEvery    time.Duration `envconfig:"SWEEP_INTERVAL" default:"6h"`
		PageSize      int           `envconfig:"ENQUEUE_PAGE_SIZE" default:"100"`
		FanoutWorkers int           `envconfig:"ENQUEUE_WORKERS" default:"8"`
	} `envconfig:""`

	Queues struct {
		Fetch string `envconfig:"FETCH_QUEUE" default:"fetch_jobs"`
		Diff  string `envconfig:"DIFF_QUEUE" default:"diff_jobs"`
	} `envconfig:""`

	Bus struct {
		Exchange    string `envconfig:"BUS_EXCHANGE" default:"follower.events"`
		NotifyQueue string `envconfig:"BUS_NOTIFY_QUEUE" default:"notify_events"`
		SignupQueue string `envconfig:"BUS_SIGNUP_QUEUE" default:"signup_events"`
	} `envconfig:""`

	Notify struct {
		Username string `envconfig:"NOTIFY_USERNAME" default:"Follower Radar"`
		IconURL  string `envconfig:"NOTIFY_ICON_URL"`
	} `envconfig:""`

	JWTSecret string `envconfig:"JWT_SECRET"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
