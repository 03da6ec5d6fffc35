package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`

	// External collaborators. Empty URLs disable the collaborator and
	// select the degraded in-process fallback.
	TTSURL        string        `env:"TTS_URL"`
	TTSTimeout    time.Duration `env:"TTS_TIMEOUT" envDefault:"30s"`
	AlignURL      string        `env:"ALIGN_URL"`
	AlignModel    string        `env:"ALIGN_MODEL" envDefault:"whisper-1"`
	AlignTimeout  time.Duration `env:"ALIGN_TIMEOUT" envDefault:"60s"`
	RenderURL     string        `env:"RENDER_URL"`
	RenderTimeout time.Duration `env:"RENDER_TIMEOUT" envDefault:"120s"`
	RenderModel   string        `env:"RENDER_MODEL" envDefault:"wav2lip"`

	// Job pipeline.
	Workers    int    `env:"WORKERS" envDefault:"4"`
	ScratchDir string `env:"SCRATCH_DIR" envDefault:"./scratch"`
	OutputFPS  int    `env:"OUTPUT_FPS" envDefault:"30"`

	// Live sessions.
	LiveMaxSessions int `env:"LIVE_MAX_SESSIONS" envDefault:"32"`

	// Artifact storage. S3 settings are optional; with a bucket set the
	// store tiers local writes into S3 in the background.
	ArtifactDir     string `env:"ARTIFACT_DIR" envDefault:"./artifacts"`
	S3Bucket        string `env:"S3_BUCKET"`
	S3Region        string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint      string `env:"S3_ENDPOINT"`
	S3AccessKey     string `env:"S3_ACCESS_KEY"`
	S3SecretKey     string `env:"S3_SECRET_KEY"`
	S3PathStyle     bool   `env:"S3_PATH_STYLE" envDefault:"false"`
	ArtifactMaxDays int    `env:"ARTIFACT_MAX_DAYS" envDefault:"14"`

	// Reference assets (faces, voices).
	AssetDir string `env:"ASSET_DIR" envDefault:"./assets"`

	// Optional MQTT lifecycle event publishing.
	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTTopic     string `env:"MQTT_TOPIC" envDefault:"neura/jobs"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"neura"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	CORSOrigins  []string `env:"CORS_ORIGINS" envSeparator:","`
	RateLimitRPS float64  `env:"RATE_LIMIT_RPS" envDefault:"0"`
	RateBurst    int      `env:"RATE_BURST" envDefault:"20"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	ScratchDir  string
	ArtifactDir string
	AssetDir    string
	Workers     int
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.ScratchDir != "" {
		cfg.ScratchDir = overrides.ScratchDir
	}
	if overrides.ArtifactDir != "" {
		cfg.ArtifactDir = overrides.ArtifactDir
	}
	if overrides.AssetDir != "" {
		cfg.AssetDir = overrides.AssetDir
	}
	if overrides.Workers > 0 {
		cfg.Workers = overrides.Workers
	}

	return cfg, nil
}
