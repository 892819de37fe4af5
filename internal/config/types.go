package config

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int            `yaml:"port"`
	Env            string         `yaml:"env"` // "development" | "production"
	Database       DatabaseConfig `yaml:"database"`
	Redis          RedisConfig    `yaml:"redis"`
	AllowedOrigins []string       `yaml:"allowed_origins"`
	JWTSecret      string         `yaml:"jwt_secret"`
	Paths          PathsConfig    `yaml:"paths"`
	AI             AIConfig       `yaml:"ai"`
	Pipeline       PipelineConfig `yaml:"pipeline"`
	Health         HealthConfig   `yaml:"health"`
	Archive        ArchiveConfig  `yaml:"archive"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Charset  string `yaml:"charset"`
	Loc      string `yaml:"loc"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
}

type PathsConfig struct {
	Logs string `yaml:"logs"`
}

// AIConfig selects streaming-generation providers.
type AIConfig struct {
	Providers      []AIProvider       `yaml:"providers"`
	NarrationModel *AIModelAssignment `yaml:"narration_model,omitempty"`
	AnalysisModel  *AIModelAssignment `yaml:"analysis_model,omitempty"`
}

type AIModelAssignment struct {
	ProviderID string `yaml:"provider_id"`
	Model      string `yaml:"model"`
}

type AIProvider struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Type         string `yaml:"type"` // OpenAI | OpenAI-Compatible | Anthropic | Mock
	APIKey       string `yaml:"api_key"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	DefaultModel string `yaml:"default_model"`
	Enabled      bool   `yaml:"enabled"`
}

// PipelineConfig tunes the narration pipeline.
type PipelineConfig struct {
	Preset            string        `yaml:"preset"` // fast | normal | professional | slow | deliberate
	QueueMax          int           `yaml:"queue_max"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Dedup             DedupConfig   `yaml:"dedup"`
	Threads           ThreadsConfig `yaml:"threads"`
}

type DedupConfig struct {
	CacheSize          int        `yaml:"cache_size"`
	WordSimilarity     float64    `yaml:"word_similarity"`
	KeywordSimilarity  float64    `yaml:"keyword_similarity"`
	MajorEventClusters [][]string `yaml:"major_event_clusters"`
}

type ThreadsConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	ProximityHours      int     `yaml:"proximity_hours"`
}

// HealthConfig tunes the health monitor thresholds.
type HealthConfig struct {
	IntervalSeconds   int     `yaml:"interval_seconds"`
	QueueMax          int     `yaml:"queue_max"`
	StuckAfterSeconds int     `yaml:"stuck_after_seconds"`
	ErrorThreshold    int     `yaml:"error_threshold"`
	MemoryMaxPercent  float64 `yaml:"memory_max_percent"`
	MemoryBudgetMB    int     `yaml:"memory_budget_mb"`
}

// ArchiveConfig enables session transcript archival to S3.
type ArchiveConfig struct {
	Enable          bool   `yaml:"enable"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
}

// DefaultPipelineConfig carries the tuned defaults for dedup thresholds,
// retry policy, and the curated major-event keyword clusters.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Preset:            "normal",
		QueueMax:          50,
		MaxRetries:        3,
		RequestsPerMinute: 20,
		Dedup: DedupConfig{
			CacheSize:         50,
			WordSimilarity:    0.7,
			KeywordSimilarity: 0.6,
			MajorEventClusters: [][]string{
				{"nepal", "facebook", "twitter", "youtube", "social", "media", "banned", "blocks", "bans"},
				{"earthquake", "magnitude", "tsunami", "struck", "epicenter"},
				{"election", "votes", "ballot", "polls", "declared", "winner"},
				{"shooting", "gunman", "victims", "police", "suspect"},
				{"crash", "market", "stocks", "plunge", "selloff"},
			},
		},
		Threads: ThreadsConfig{
			SimilarityThreshold: 0.35,
			ProximityHours:      48,
		},
	}
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		IntervalSeconds:   15,
		StuckAfterSeconds: 120,
		ErrorThreshold:    5,
		MemoryMaxPercent:  85,
		MemoryBudgetMB:    512,
	}
}
