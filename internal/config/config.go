package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultServerAddress      = ":3001"
	DefaultMaxMessageLength   = 5000
	DefaultMaxHistoryMessages = 50
	DefaultMaxTokens          = 500
	DefaultProvider           = "groq"
	DefaultModel              = "llama-3.1-8b-instant"
	DefaultRequestTimeout     = 30 // seconds
	DefaultTurnLockWait       = 10 // seconds
	DefaultMaxOpenConns       = 20
	DefaultMaxIdleConns       = 5
	DefaultConnIdleTimeout    = 30 // seconds
	DefaultOpTimeout          = 5  // seconds
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	LLM         LLMConfig                 `json:"llm"`
}

type BasicConfig struct {
	ServerAddress      string   `json:"server_address"`
	DatabaseType       string   `json:"database_type"`
	MaxMessageLength   int      `json:"max_message_length"`
	MaxHistoryMessages int      `json:"max_history_messages"`
	TurnLockWait       int      `json:"turn_lock_wait"` // seconds
	AllowedOrigins     []string `json:"allowed_origins"`
	LogLevel           string   `json:"log_level"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`

	MaxOpenConns    int `json:"max_open_conns"`
	MaxIdleConns    int `json:"max_idle_conns"`
	ConnIdleTimeout int `json:"conn_idle_timeout"` // seconds
	OpTimeout       int `json:"op_timeout"`        // seconds, bounds pool wait plus statement
}

// RedisConfig is optional; an empty Host disables redis.
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type LLMConfig struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	APIKey         string `json:"api_key"`
	MaxTokens      int    `json:"max_tokens"`
	RequestTimeout int    `json:"request_timeout"` // seconds
	KnowledgeFile  string `json:"knowledge_file"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error; environment overrides and defaults
// are applied either way.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := &Config{}
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	for name, db := range cfg.Databases {
		if isSQLite(name) && db.DSN != "" && !isMemoryDSN(db.DSN) && !filepath.IsAbs(db.DSN) && !strings.HasPrefix(db.DSN, "file:") {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}
	if kf := cfg.LLM.KnowledgeFile; kf != "" && !filepath.IsAbs(kf) {
		cfg.LLM.KnowledgeFile = filepath.Join(filepath.Dir(absPath), kf)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.BasicConfig.ServerAddress, "SERVER_ADDRESS")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("SERVER_ADDRESS") == "" {
		c.BasicConfig.ServerAddress = ":" + port
	}
	setString(&c.BasicConfig.DatabaseType, "SUPPORTCHAT_DB")
	setInt(&c.BasicConfig.MaxMessageLength, "MAX_MESSAGE_LENGTH")
	setInt(&c.BasicConfig.MaxHistoryMessages, "MAX_CONVERSATION_MESSAGES")
	setString(&c.BasicConfig.LogLevel, "LOG_LEVEL")
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.BasicConfig.AllowedOrigins = splitList(origins)
	}

	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.APIKey, "GROQ_API_KEY")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	setString(&c.LLM.Model, "GROQ_MODEL")
	setString(&c.LLM.Model, "LLM_MODEL")
	setInt(&c.LLM.MaxTokens, "MAX_TOKENS")
	setInt(&c.LLM.RequestTimeout, "LLM_REQUEST_TIMEOUT")
	setString(&c.LLM.KnowledgeFile, "KNOWLEDGE_FILE")

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		if c.Databases == nil {
			c.Databases = make(map[string]DatabaseConfig)
		}
		if c.BasicConfig.DatabaseType == "" {
			c.BasicConfig.DatabaseType = "postgres"
		}
		db := c.Databases[c.BasicConfig.DatabaseType]
		db.DSN = dsn
		c.Databases[c.BasicConfig.DatabaseType] = db
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		host, port, ok := strings.Cut(addr, ":")
		c.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
	}
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = DefaultServerAddress
	}
	if b.DatabaseType == "" {
		b.DatabaseType = "sqlite3"
	}
	if b.MaxMessageLength <= 0 {
		b.MaxMessageLength = DefaultMaxMessageLength
	}
	if b.MaxHistoryMessages <= 0 {
		b.MaxHistoryMessages = DefaultMaxHistoryMessages
	}
	if b.TurnLockWait <= 0 {
		b.TurnLockWait = DefaultTurnLockWait
	}
	if len(b.AllowedOrigins) == 0 {
		b.AllowedOrigins = []string{"*"}
	}
	if b.LogLevel == "" {
		b.LogLevel = "info"
	}

	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "supportchat.db"}
	}
	for name, db := range c.Databases {
		if db.MaxOpenConns <= 0 {
			db.MaxOpenConns = DefaultMaxOpenConns
		}
		if db.MaxIdleConns <= 0 {
			db.MaxIdleConns = DefaultMaxIdleConns
		}
		if db.ConnIdleTimeout <= 0 {
			db.ConnIdleTimeout = DefaultConnIdleTimeout
		}
		if db.OpTimeout <= 0 {
			db.OpTimeout = DefaultOpTimeout
		}
		c.Databases[name] = db
	}

	l := &c.LLM
	if l.Provider == "" {
		l.Provider = DefaultProvider
	}
	if prov, ok := c.Providers[l.Provider]; ok {
		if l.Model == "" {
			l.Model = prov.Model
		}
		if l.APIKey == "" {
			l.APIKey = prov.APIKey
		}
	}
	if l.Model == "" {
		l.Model = DefaultModel
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = DefaultMaxTokens
	}
	if l.RequestTimeout <= 0 {
		l.RequestTimeout = DefaultRequestTimeout
	}
}

// Provider returns the provider section for the configured LLM provider.
func (c *Config) Provider() ProviderConfig {
	return c.Providers[c.LLM.Provider]
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isSQLite(name string) bool {
	n := strings.ToLower(name)
	return n == "sqlite" || n == "sqlite3"
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}
