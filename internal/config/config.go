package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, overridable via DOCCHAT_CONFIG.
var ConfigPath = func() string {
	if v := os.Getenv("DOCCHAT_CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}()

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	TokenSecret   string `yaml:"tokenSecret"`
	TokenIssuer   string `yaml:"tokenIssuer"`
	TokenTTLHours int    `yaml:"tokenTTLHours"`

	MaxUploadBytes    int64    `yaml:"maxUploadBytes"`
	AllowedExtensions []string `yaml:"allowedExtensions"`

	ProcessorConcurrency   int `yaml:"processorConcurrency"`
	ProcessorTimeoutSecond int `yaml:"processorTimeoutSeconds"`

	AIProvider           string `yaml:"aiProvider"`
	AIAPIKey             string `yaml:"aiApiKey"`
	AIBaseURL            string `yaml:"aiBaseURL"`
	AIModel              string `yaml:"aiModel"`
	AnswerTimeoutSeconds int    `yaml:"answerTimeoutSeconds"`

	RegisterRateLimit         int `yaml:"registerRateLimit"`
	RegisterRateWindowSeconds int `yaml:"registerRateWindowSeconds"`
	LoginRateLimit            int `yaml:"loginRateLimit"`
	LoginRateWindowSeconds    int `yaml:"loginRateWindowSeconds"`

	TrustedProxies []string `yaml:"trustedProxies"`
	AllowOrigin    string   `yaml:"allowOrigin"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("DOCCHAT_TOKEN_SECRET"); v != "" {
		cfg.TokenSecret = v
	}
	if v := os.Getenv("DOCCHAT_AI_PROVIDER"); v != "" {
		cfg.AIProvider = v
	}
	if v := os.Getenv("DOCCHAT_AI_API_KEY"); v != "" {
		cfg.AIAPIKey = v
	}
	if v := os.Getenv("DOCCHAT_AI_BASE_URL"); v != "" {
		cfg.AIBaseURL = v
	}
	if v := os.Getenv("DOCCHAT_AI_MODEL"); v != "" {
		cfg.AIModel = v
	}
	if v := os.Getenv("DOCCHAT_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("DOCCHAT_ALLOWED_EXTENSIONS"); v != "" {
		cfg.AllowedExtensions = splitCSV(v)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" {
		return errors.New("config: minioAccessKey is required (set in config.yaml)")
	}
	if cfg.MinioSecretKey == "" {
		return errors.New("config: minioSecretKey is required (set in config.yaml)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	if cfg.TokenSecret == "" {
		return errors.New("config: tokenSecret is required (set in config.yaml or DOCCHAT_TOKEN_SECRET)")
	}
	if cfg.TokenTTLHours < 0 {
		return errors.New("config: tokenTTLHours must not be negative")
	}
	switch cfg.AIProvider {
	case "", "gemini":
		// Gemini authenticates with a query-string key on every call.
		if cfg.AIAPIKey == "" {
			return errors.New("config: aiApiKey is required (set in config.yaml or DOCCHAT_AI_API_KEY)")
		}
	case "openai":
		// OpenAI-compatible endpoints for local models run without a key.
	default:
		return fmt.Errorf("config: unknown aiProvider %q (want gemini or openai)", cfg.AIProvider)
	}
	if cfg.ProcessorConcurrency < 0 {
		return errors.New("config: processorConcurrency must not be negative")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must not be negative")
	}
	if cfg.RegisterRateLimit > 0 && cfg.RegisterRateWindowSeconds <= 0 {
		return errors.New("config: registerRateWindowSeconds is required when registerRateLimit is set")
	}
	if cfg.LoginRateLimit > 0 && cfg.LoginRateWindowSeconds <= 0 {
		return errors.New("config: loginRateWindowSeconds is required when loginRateLimit is set")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
