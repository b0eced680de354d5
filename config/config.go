package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      App      `mapstructure:"app"`
	Server   Server   `mapstructure:"server"`
	Store    Store    `mapstructure:"store"`
	MinIO    MinIO    `mapstructure:"minio"`
	Queue    RabbitMQ `mapstructure:"rabbitmq"`
	OpenAI   OpenAI   `mapstructure:"openai"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	Auth     Auth     `mapstructure:"auth"`
	Identity Identity `mapstructure:"identity"`
	Trello   Trello   `mapstructure:"trello"`
	Slack    Slack    `mapstructure:"slack"`
}

type App struct {
	Environment string `mapstructure:"environment"`
	Workspace   string `mapstructure:"workspace"`
}

type Server struct {
	HttpPort        string        `mapstructure:"port"`
	Workers         int           `mapstructure:"workers"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Store struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Debug  bool   `mapstructure:"debug"`
}

type MinIO struct {
	URL             string        `mapstructure:"url"`
	AccessID        string        `mapstructure:"access_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	Bucket          string        `mapstructure:"bucket"`
	Secure          bool          `mapstructure:"secure"`
	PresignExpiry   time.Duration `mapstructure:"presign_expiry"`
}

type RabbitMQ struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Pass         string `mapstructure:"pass"`
	ExchangeName string `mapstructure:"exchange_name"`
	Kind         string `mapstructure:"kind"`
	ShareQueue   string `mapstructure:"share_queue"`
	MaxRetries   int    `mapstructure:"max_retries"`
}

type OpenAI struct {
	APIKey             string `mapstructure:"api_key"`
	BaseURL            string `mapstructure:"base_url"`
	TranscriptionModel string `mapstructure:"transcription_model"`
	AnalysisModel      string `mapstructure:"analysis_model"`
}

type Pipeline struct {
	DecisionTimeout      time.Duration `mapstructure:"decision_timeout"`
	TranscriptionTimeout time.Duration `mapstructure:"transcription_timeout"`
	AnalysisTimeout      time.Duration `mapstructure:"analysis_timeout"`
	ExtractAudio         bool          `mapstructure:"extract_audio"`
	FFmpegPath           string        `mapstructure:"ffmpeg_path"`
	MaxUploadBytes       int64         `mapstructure:"max_upload_bytes"`
}

type Auth struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type Identity struct {
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
}

type Trello struct {
	APIKey  string `mapstructure:"api_key"`
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

type Slack struct {
	Token            string `mapstructure:"token"`
	APIURL           string `mapstructure:"api_url"`
	AutoShareChannel string `mapstructure:"auto_share_channel"`
}

var defaults = map[string]any{
	"app.environment":                "develop",
	"app.workspace":                  ".",
	"server.port":                    "8080",
	"server.workers":                 4,
	"server.shutdown_timeout":        "15s",
	"store.driver":                   "sqlite",
	"store.dsn":                      "",
	"store.debug":                    false,
	"minio.url":                      "localhost:9000",
	"minio.access_id":                "",
	"minio.secret_access_key":        "",
	"minio.bucket":                   "iris-media",
	"minio.secure":                   false,
	"minio.presign_expiry":           "1h",
	"rabbitmq.enabled":               false,
	"rabbitmq.host":                  "localhost",
	"rabbitmq.port":                  5672,
	"rabbitmq.user":                  "guest",
	"rabbitmq.pass":                  "guest",
	"rabbitmq.exchange_name":         "meeting_events",
	"rabbitmq.kind":                  "topic",
	"rabbitmq.share_queue":           "meeting_share",
	"rabbitmq.max_retries":           3,
	"openai.api_key":                 "",
	"openai.base_url":                "https://api.openai.com/v1",
	"openai.transcription_model":     "whisper-1",
	"openai.analysis_model":          "gpt-4o-mini",
	"pipeline.decision_timeout":      "30m",
	"pipeline.transcription_timeout": "10m",
	"pipeline.analysis_timeout":      "5m",
	"pipeline.extract_audio":         false,
	"pipeline.ffmpeg_path":           "ffmpeg",
	"pipeline.max_upload_bytes":      int64(25 << 20),
	"auth.jwt_secret":                "",
	"identity.name":                  "Local User",
	"identity.email":                 "local@localhost",
	"trello.api_key":                 "",
	"trello.token":                   "",
	"trello.base_url":                "https://api.trello.com/1",
	"slack.token":                    "",
	"slack.api_url":                  "",
	"slack.auto_share_channel":       "",
}

// Load reads config.yaml from path when present; IRIS_-prefixed environment variables override
// any key (minio.bucket -> IRIS_MINIO_BUCKET).
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("IRIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
