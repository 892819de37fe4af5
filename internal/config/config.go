package config

import (
	"bytes"
	"fmt"
	"net"
	neturl "net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 2380
	defaultEnv        = "development"
	defaultDBHost     = "127.0.0.1"
	defaultDBPort     = 3306
	defaultDBUser     = "root"
	defaultDBPassword = "password"
	defaultDBName     = "echocast"
	defaultDBCharset  = "utf8mb4"
	defaultDBLoc      = "Local"
	defaultRedisHost  = "localhost"
	defaultRedisPort  = 6379
)

// Load reads and validates the YAML config file.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}
	cfg.normalize()

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d in %q, expected 1-65535", cfg.Port, path)
	}
	if cfg.Pipeline.QueueMax < 1 {
		return nil, fmt.Errorf("invalid pipeline.queue_max %d in %q, expected >= 1", cfg.Pipeline.QueueMax, path)
	}
	if cfg.Pipeline.Dedup.WordSimilarity <= 0 || cfg.Pipeline.Dedup.WordSimilarity > 1 {
		return nil, fmt.Errorf("invalid pipeline.dedup.word_similarity %v in %q, expected (0,1]", cfg.Pipeline.Dedup.WordSimilarity, path)
	}
	if cfg.Pipeline.Dedup.KeywordSimilarity <= 0 || cfg.Pipeline.Dedup.KeywordSimilarity > 1 {
		return nil, fmt.Errorf("invalid pipeline.dedup.keyword_similarity %v in %q, expected (0,1]", cfg.Pipeline.Dedup.KeywordSimilarity, path)
	}

	return &cfg, nil
}

// Default returns the baseline configuration before YAML overrides.
func Default() AppConfig {
	return AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseConfig{
			Host:     defaultDBHost,
			Port:     defaultDBPort,
			User:     defaultDBUser,
			Password: defaultDBPassword,
			Name:     defaultDBName,
			Charset:  defaultDBCharset,
			Loc:      defaultDBLoc,
		},
		Redis: RedisConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
		},
		Pipeline: DefaultPipelineConfig(),
		Health:   DefaultHealthConfig(),
	}
}

func (c *AppConfig) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env == "" {
		c.Env = defaultEnv
	}
	c.JWTSecret = strings.TrimSpace(c.JWTSecret)
	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, origin := range c.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.AllowedOrigins = origins

	if c.Pipeline.QueueMax == 0 {
		c.Pipeline.QueueMax = DefaultPipelineConfig().QueueMax
	}
	if c.Pipeline.MaxRetries == 0 {
		c.Pipeline.MaxRetries = DefaultPipelineConfig().MaxRetries
	}
	if c.Pipeline.RequestsPerMinute == 0 {
		c.Pipeline.RequestsPerMinute = DefaultPipelineConfig().RequestsPerMinute
	}
	if c.Pipeline.Preset == "" {
		c.Pipeline.Preset = DefaultPipelineConfig().Preset
	}
	if c.Pipeline.Dedup.CacheSize == 0 {
		c.Pipeline.Dedup.CacheSize = DefaultPipelineConfig().Dedup.CacheSize
	}
	if c.Pipeline.Dedup.WordSimilarity == 0 {
		c.Pipeline.Dedup.WordSimilarity = DefaultPipelineConfig().Dedup.WordSimilarity
	}
	if c.Pipeline.Dedup.KeywordSimilarity == 0 {
		c.Pipeline.Dedup.KeywordSimilarity = DefaultPipelineConfig().Dedup.KeywordSimilarity
	}
	if len(c.Pipeline.Dedup.MajorEventClusters) == 0 {
		c.Pipeline.Dedup.MajorEventClusters = DefaultPipelineConfig().Dedup.MajorEventClusters
	}
	if c.Pipeline.Threads.SimilarityThreshold == 0 {
		c.Pipeline.Threads.SimilarityThreshold = DefaultPipelineConfig().Threads.SimilarityThreshold
	}
	if c.Pipeline.Threads.ProximityHours == 0 {
		c.Pipeline.Threads.ProximityHours = DefaultPipelineConfig().Threads.ProximityHours
	}

	defaults := DefaultHealthConfig()
	if c.Health.IntervalSeconds == 0 {
		c.Health.IntervalSeconds = defaults.IntervalSeconds
	}
	if c.Health.QueueMax == 0 {
		// pipeline.queue_max caps a single session's queue; the monitor
		// watches the backlog summed across all sessions, so the same
		// number is exceeded only when several sessions back up at once.
		c.Health.QueueMax = c.Pipeline.QueueMax
	}
	if c.Health.StuckAfterSeconds == 0 {
		c.Health.StuckAfterSeconds = defaults.StuckAfterSeconds
	}
	if c.Health.ErrorThreshold == 0 {
		c.Health.ErrorThreshold = defaults.ErrorThreshold
	}
	if c.Health.MemoryMaxPercent == 0 {
		c.Health.MemoryMaxPercent = defaults.MemoryMaxPercent
	}
	if c.Health.MemoryBudgetMB == 0 {
		c.Health.MemoryBudgetMB = defaults.MemoryBudgetMB
	}
}

// IsDev reports whether the server runs in development mode.
func (c *AppConfig) IsDev() bool {
	return strings.EqualFold(c.Env, defaultEnv)
}

// DSNValue builds the MySQL DSN from the database block.
func (c DatabaseConfig) DSNValue() string {
	if v := strings.TrimSpace(c.DSN); v != "" {
		return v
	}

	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = defaultDBHost
	}
	port := c.Port
	if port == 0 {
		port = defaultDBPort
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = defaultDBName
	}
	charset := strings.TrimSpace(c.Charset)
	if charset == "" {
		charset = defaultDBCharset
	}
	loc := strings.TrimSpace(c.Loc)
	if loc == "" {
		loc = defaultDBLoc
	}

	params := neturl.Values{}
	params.Set("charset", charset)
	params.Set("parseTime", "true")
	params.Set("loc", loc)

	auth := ""
	if c.User != "" || c.Password != "" {
		auth = c.User
		if c.Password != "" {
			auth += ":" + c.Password
		}
		auth += "@"
	}

	return fmt.Sprintf("%stcp(%s)/%s?%s", auth, net.JoinHostPort(host, strconv.Itoa(port)), name, params.Encode())
}

// URLValue builds the redis URL from the redis block.
func (c RedisConfig) URLValue() string {
	if v := strings.TrimSpace(c.URL); v != "" {
		if strings.HasPrefix(v, "redis://") || strings.HasPrefix(v, "rediss://") {
			return v
		}
		return "redis://" + v
	}

	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = defaultRedisHost
	}
	port := c.Port
	if port == 0 {
		port = defaultRedisPort
	}

	scheme := "redis"
	if c.TLS {
		scheme = "rediss"
	}
	u := &neturl.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + strconv.Itoa(c.DB),
	}
	if c.Username != "" {
		if c.Password != "" {
			u.User = neturl.UserPassword(c.Username, c.Password)
		} else {
			u.User = neturl.User(c.Username)
		}
	} else if c.Password != "" {
		u.User = neturl.UserPassword("", c.Password)
	}
	return u.String()
}
