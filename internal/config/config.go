package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	AudioDir string `env:"AUDIO_DIR" envDefault:"./audio"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Dropbox app credentials. Empty values leave the webhook in a
	// "not configured" state: the challenge handshake reports an error
	// and no provider calls are made.
	DropboxAppKey      string        `env:"DROPBOX_APP_KEY"`
	DropboxAppSecret   string        `env:"DROPBOX_APP_SECRET"`
	DropboxRedirectURL string        `env:"DROPBOX_REDIRECT_URL"`
	DropboxTimeout     time.Duration `env:"DROPBOX_TIMEOUT" envDefault:"60s"`
	WatchFolder        string        `env:"WATCH_FOLDER" envDefault:""`

	// AI services: Whisper-compatible STT, chat-completions analysis,
	// embeddings. One API key covers all three when they share a host.
	OpenAIKey      string        `env:"OPENAI_API_KEY"`
	WhisperURL     string        `env:"WHISPER_URL" envDefault:"https://api.openai.com/v1/audio/transcriptions"`
	WhisperModel   string        `env:"WHISPER_MODEL" envDefault:"whisper-1"`
	WhisperTimeout time.Duration `env:"WHISPER_TIMEOUT" envDefault:"120s"`

	AnalysisURL     string        `env:"ANALYSIS_URL" envDefault:"https://api.openai.com/v1/chat/completions"`
	AnalysisModel   string        `env:"ANALYSIS_MODEL" envDefault:"gpt-4o-mini"`
	AnalysisTimeout time.Duration `env:"ANALYSIS_TIMEOUT" envDefault:"90s"`

	EmbeddingURL     string        `env:"EMBEDDING_URL" envDefault:"https://api.openai.com/v1/embeddings"`
	EmbeddingModel   string        `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDim     int           `env:"EMBEDDING_DIM" envDefault:"1536"`
	EmbeddingTimeout time.Duration `env:"EMBEDDING_TIMEOUT" envDefault:"30s"`

	PipelineWorkers   int           `env:"PIPELINE_WORKERS" envDefault:"2"`
	PipelineQueueSize int           `env:"PIPELINE_QUEUE_SIZE" envDefault:"256"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"15m"`

	S3 S3Config `envPrefix:"S3_"`
}

// S3Config configures the optional S3 blob backend. When unset, audio
// lands on the local filesystem under AudioDir.
type S3Config struct {
	Endpoint      string        `env:"ENDPOINT"`
	Region        string        `env:"REGION" envDefault:"us-east-1"`
	Bucket        string        `env:"BUCKET"`
	AccessKey     string        `env:"ACCESS_KEY"`
	SecretKey     string        `env:"SECRET_KEY"`
	Prefix        string        `env:"PREFIX"`
	PresignExpiry time.Duration `env:"PRESIGN_EXPIRY" envDefault:"1h"`
}

// Enabled reports whether S3 storage is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// DropboxConfigured reports whether the Dropbox app secrets are present.
func (c *Config) DropboxConfigured() bool {
	return c.DropboxAppKey != "" && c.DropboxAppSecret != ""
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	AudioDir    string
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
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}

	return cfg, nil
}
