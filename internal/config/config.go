// Package config provides configuration types and loading for conduit.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Bus, Store, Model, Tools, Service, API, Log.
type Config struct {
	Bus     BusConfig     `json:"bus"`
	Store   StoreConfig   `json:"store"`
	Model   ModelConfig   `json:"model"`
	Tools   ToolsConfig   `json:"tools"`
	Service ServiceConfig `json:"service"`
	API     APIConfig     `json:"api"`
	Log     LogConfig     `json:"log"`
}

// ---------------------------------------------------------------------------
// Bus – publish/subscribe transport
// ---------------------------------------------------------------------------

// BusConfig selects and configures the message bus binding.
type BusConfig struct {
	Driver          string   `json:"driver" envconfig:"DRIVER"`
	Prefix          string   `json:"prefix" envconfig:"PREFIX"`
	RequestChannel  string   `json:"requestChannel,omitempty" envconfig:"REQUEST_CHANNEL"`
	ResponseChannel string   `json:"responseChannel,omitempty" envconfig:"RESPONSE_CHANNEL"`
	StatusChannel   string   `json:"statusChannel,omitempty" envconfig:"STATUS_CHANNEL"`
	ActivityChannel string   `json:"activityChannel,omitempty" envconfig:"ACTIVITY_CHANNEL"`
	KafkaBrokers    []string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	KafkaGroupID    string   `json:"kafkaGroupId" envconfig:"KAFKA_GROUP_ID"`

	RedisAddr     string `json:"redisAddr" envconfig:"REDIS_ADDR"`
	RedisPassword string `json:"redisPassword,omitempty" envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `json:"redisDb" envconfig:"REDIS_DB"`
}

// ---------------------------------------------------------------------------
// Store – sessions, conversations, status mirror, activity log
// ---------------------------------------------------------------------------

// StoreConfig selects and configures the key-value store binding.
type StoreConfig struct {
	Driver         string `json:"driver" envconfig:"DRIVER"`
	Path           string `json:"path" envconfig:"DB_PATH"`
	RedisAddr      string `json:"redisAddr" envconfig:"REDIS_ADDR"`
	RedisPassword  string `json:"redisPassword,omitempty" envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `json:"redisDb" envconfig:"REDIS_DB"`
	StatusKey      string `json:"statusKey" envconfig:"STATUS_KEY"`
	ActivityStream string `json:"activityStream" envconfig:"ACTIVITY_STREAM"`
	ActivityMaxLen int64  `json:"activityMaxLen" envconfig:"ACTIVITY_MAX_LEN"`
}

// ---------------------------------------------------------------------------
// Model – inference backend
// ---------------------------------------------------------------------------

// ModelConfig groups the inference provider and tool-loop settings.
type ModelConfig struct {
	Provider     string        `json:"provider" envconfig:"PROVIDER"`
	Name         string        `json:"name" envconfig:"MODEL"`
	APIKey       string        `json:"apiKey,omitempty" envconfig:"API_KEY"`
	BaseURL      string        `json:"baseUrl,omitempty" envconfig:"BASE_URL"`
	Timeout      time.Duration `json:"timeout" envconfig:"TIMEOUT"`
	MaxRounds    int           `json:"maxRounds" envconfig:"MAX_ROUNDS"`
	SystemPrompt string        `json:"systemPrompt" envconfig:"SYSTEM_PROMPT"`
}

// ---------------------------------------------------------------------------
// Tools
// ---------------------------------------------------------------------------

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	FileRoot     string `json:"fileRoot,omitempty" envconfig:"FILE_ROOT"`
	PreviewChars int    `json:"previewChars" envconfig:"PREVIEW_CHARS"`
}

// ---------------------------------------------------------------------------
// Service – request processing and lifecycle
// ---------------------------------------------------------------------------

// ServiceConfig configures the relay service itself.
type ServiceConfig struct {
	Name              string        `json:"name" envconfig:"INSTANCE"`
	MaxConcurrent     int           `json:"maxConcurrent" envconfig:"MAX_CONCURRENT"`
	HistoryTurns      int           `json:"historyTurns" envconfig:"HISTORY_TURNS"`
	HeartbeatInterval time.Duration `json:"heartbeatInterval" envconfig:"HEARTBEAT_INTERVAL"`
	ShutdownTimeout   time.Duration `json:"shutdownTimeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// APIConfig configures the optional admin HTTP API.
type APIConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Addr    string `json:"addr" envconfig:"ADDR"`
}

// LogConfig configures the default slog handler.
type LogConfig struct {
	Level  string `json:"level" envconfig:"LEVEL"`
	Format string `json:"format" envconfig:"FORMAT"`
}

// DefaultSystemPrompt is used when model.systemPrompt is empty.
const DefaultSystemPrompt = "You are a helpful assistant reachable over a message bus. " +
	"When tools are available, use them to inspect files, check the host system, " +
	"calculate exact results, or look up the user's earlier conversations, then answer concisely."

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			Driver:       "memory",
			Prefix:       "conduit",
			KafkaBrokers: []string{"localhost:9092"},
			KafkaGroupID: "conduit",
			RedisAddr:    "localhost:6379",
		},
		Store: StoreConfig{
			Driver:         "memory",
			Path:           "~/.conduit/conduit.db",
			RedisAddr:      "localhost:6379",
			StatusKey:      "conduit:status",
			ActivityStream: "activity_log",
			ActivityMaxLen: 1000,
		},
		Model: ModelConfig{
			Provider:     "openai",
			Name:         "gpt-4o-mini",
			Timeout:      120 * time.Second,
			MaxRounds:    10,
			SystemPrompt: DefaultSystemPrompt,
		},
		Tools: ToolsConfig{
			PreviewChars: 200,
		},
		Service: ServiceConfig{
			Name:            "conduit",
			HistoryTurns:    3,
			ShutdownTimeout: 30 * time.Second,
		},
		API: APIConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8089", // Secure default
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
