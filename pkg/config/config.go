package config

import (
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Neo4j      Neo4jConfig
	Summarizer SummarizerConfig
	Emergency  EmergencyConfig
	Search     SearchConfig
	RateLimit  RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

// SummarizerConfig controls the summary composer. ExtraAllergens and friends
// extend the built-in vocabulary without code changes.
type SummarizerConfig struct {
	RuleBased        bool
	ExtraAllergens   []string
	ExtraMedications []string
	ExtraConditions  []string
	RegenWorkers     int
}

type EmergencyConfig struct {
	ResponseBudgetSec int
	AuditTimeoutMs    int
	HistoryLimit      int
}

type SearchConfig struct {
	TopK        int
	ChunkSize   int
	CacheTTLSec int
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type SecurityConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	return LoadFrom(viper.New(), "")
}

// LoadFrom reads configuration into v. An explicit file path takes precedence
// over the default search locations.
func LoadFrom(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/medivault")
	}

	v.SetEnvPrefix("MEDIVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "failed to read config file")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal config")
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 10485760)

	v.SetDefault("sqlite.path", "./data/medivault.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("summarizer.ruleBased", true)
	v.SetDefault("summarizer.regenWorkers", 4)

	v.SetDefault("emergency.responseBudgetSec", 15)
	v.SetDefault("emergency.auditTimeoutMs", 500)
	v.SetDefault("emergency.historyLimit", 20)

	v.SetDefault("search.topK", 5)
	v.SetDefault("search.chunkSize", 2000)
	v.SetDefault("search.cacheTTLSec", 300)

	v.SetDefault("rateLimit.requestsPerMinute", 120)
	v.SetDefault("rateLimit.burst", 20)

	v.SetDefault("security.isDevelopment", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
