package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Kernel configuration with environment overrides
// =============================================================================

// Config is a plain struct, not a singleton: kernelapp.New takes one
// explicitly so a process can run several independently-configured
// kernels (property tests spin up more than one).
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tiers     TiersConfig     `yaml:"tiers"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Learning  LearningConfig  `yaml:"learning"`
	LOD       LODConfig       `yaml:"lod"`
	Budget    BudgetConfig    `yaml:"budget"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	LLM       LLMConfig       `yaml:"llm"`
	CloudTask CloudTaskConfig `yaml:"cloud_tasks"`
	SPIFFE    SPIFFEConfig    `yaml:"spiffe"`
	Introspect IntrospectConfig `yaml:"introspect"`
}

type ServerConfig struct {
	Env             string `yaml:"env"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
}

// TiersConfig holds the per-tier timeout and worker-pool sizing.
type TiersConfig struct {
	ReflexTimeoutMs int `yaml:"reflex_timeout_ms"`
	MicroTimeoutMs  int `yaml:"micro_timeout_ms"`
	MacroTimeoutMs  int `yaml:"macro_timeout_ms"`
	MetaTimeoutMs   int `yaml:"meta_timeout_ms"`
	ReflexWorkers   int `yaml:"reflex_workers"`
	MicroWorkers    int `yaml:"micro_workers"`
	MacroWorkers    int `yaml:"macro_workers"`
	MetaWorkers     int `yaml:"meta_workers"`
	QueueCap        int `yaml:"queue_cap"`
}

// BreakerConfig mirrors internal/breaker.Config's tunables.
type BreakerConfig struct {
	FailThreshold int `yaml:"fail_threshold"`
	ResetSeconds  int `yaml:"reset_seconds"`
}

// LearningConfig mirrors internal/learning.QTable's tunables.
type LearningConfig struct {
	Alpha         float64 `yaml:"alpha"`
	EWCThreshold  int     `yaml:"ewc_threshold"`
	FlushBatch    int     `yaml:"flush_batch"`
}

// LODConfig mirrors internal/lod.Controller's tunables.
type LODConfig struct {
	HysteresisTicks int `yaml:"hysteresis_ticks"`
}

// BudgetConfig bounds one kernel session's spend.
type BudgetConfig struct {
	SessionUSD float64 `yaml:"session_usd"`
}

// StorageConfig points the collab layer at its Supabase-backed store.
type StorageConfig struct {
	SupabaseURL        string `yaml:"supabase_url"`
	SupabaseServiceKey string `yaml:"supabase_service_key"`
}

// RedisConfig backs the Q-table's distributed cache.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
	Enabled bool   `yaml:"enabled"`
}

// LLMConfig points the MACRO and META LLM judges at an external LLM
// runner over gRPC.
type LLMConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	Enabled  bool   `yaml:"enabled"`
}

// CloudTaskConfig dispatches deferred ACT_REQUESTED work.
type CloudTaskConfig struct {
	ProjectID  string `yaml:"project_id"`
	LocationID string `yaml:"location_id"`
	QueueID    string `yaml:"queue_id"`
	Enabled    bool   `yaml:"enabled"`
}

// SPIFFEConfig identifies this kernel instance to its peers.
type SPIFFEConfig struct {
	TrustDomain string `yaml:"trust_domain"`
	SocketPath  string `yaml:"socket_path"`
	Enabled     bool   `yaml:"enabled"`
}

// IntrospectConfig sizes the read-only HTTP/metrics surface.
type IntrospectConfig struct {
	Port string `yaml:"port"`
}

// LoadConfig loads a Config from a YAML file, then applies environment
// overrides and defaults. Missing file is not an error: callers get a
// zero-valued Config with defaults applied.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		if decErr := yaml.NewDecoder(f).Decode(cfg); decErr != nil {
			return nil, decErr
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Env = getEnv("KERNEL_ENV", c.Server.Env)

	if v := getEnvInt("KERNEL_REFLEX_TIMEOUT_MS", 0); v > 0 {
		c.Tiers.ReflexTimeoutMs = v
	}
	if v := getEnvInt("KERNEL_MICRO_TIMEOUT_MS", 0); v > 0 {
		c.Tiers.MicroTimeoutMs = v
	}
	if v := getEnvInt("KERNEL_MACRO_TIMEOUT_MS", 0); v > 0 {
		c.Tiers.MacroTimeoutMs = v
	}
	if v := getEnvInt("KERNEL_META_TIMEOUT_MS", 0); v > 0 {
		c.Tiers.MetaTimeoutMs = v
	}
	if v := getEnvInt("KERNEL_QUEUE_CAP", 0); v > 0 {
		c.Tiers.QueueCap = v
	}

	if v := getEnvInt("KERNEL_BREAKER_FAIL_THRESHOLD", 0); v > 0 {
		c.Breaker.FailThreshold = v
	}
	if v := getEnvInt("KERNEL_BREAKER_RESET_SECONDS", 0); v > 0 {
		c.Breaker.ResetSeconds = v
	}

	if v := getEnvFloat("KERNEL_LEARNING_ALPHA", 0); v > 0 {
		c.Learning.Alpha = v
	}
	if v := getEnvInt("KERNEL_LEARNING_FLUSH_BATCH", 0); v > 0 {
		c.Learning.FlushBatch = v
	}

	if v := getEnvInt("KERNEL_LOD_HYSTERESIS_TICKS", 0); v > 0 {
		c.LOD.HysteresisTicks = v
	}

	if v := getEnvFloat("KERNEL_BUDGET_SESSION_USD", 0); v > 0 {
		c.Budget.SessionUSD = v
	}

	c.Storage.SupabaseURL = getEnv("SUPABASE_URL", c.Storage.SupabaseURL)
	c.Storage.SupabaseServiceKey = getEnv("SUPABASE_SERVICE_KEY", c.Storage.SupabaseServiceKey)

	c.Redis.Addr = getEnv("KERNEL_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Enabled = getEnvBool("KERNEL_REDIS_ENABLED", c.Redis.Enabled)

	c.LLM.GRPCAddr = getEnv("KERNEL_LLM_GRPC_ADDR", c.LLM.GRPCAddr)
	c.LLM.Enabled = getEnvBool("KERNEL_LLM_ENABLED", c.LLM.Enabled)

	if projectID := getEnv("GCP_PROJECT_ID", ""); projectID != "" {
		c.CloudTask.ProjectID = projectID
	}
	c.CloudTask.LocationID = getEnv("KERNEL_CLOUD_TASKS_LOCATION", c.CloudTask.LocationID)
	c.CloudTask.QueueID = getEnv("KERNEL_CLOUD_TASKS_QUEUE", c.CloudTask.QueueID)
	c.CloudTask.Enabled = getEnvBool("KERNEL_CLOUD_TASKS_ENABLED", c.CloudTask.Enabled)

	c.SPIFFE.TrustDomain = getEnv("KERNEL_SPIFFE_TRUST_DOMAIN", c.SPIFFE.TrustDomain)
	c.SPIFFE.SocketPath = getEnv("KERNEL_SPIFFE_SOCKET", c.SPIFFE.SocketPath)
	c.SPIFFE.Enabled = getEnvBool("KERNEL_SPIFFE_ENABLED", c.SPIFFE.Enabled)

	c.Introspect.Port = getEnv("KERNEL_INTROSPECT_PORT", c.Introspect.Port)
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if c.Tiers.ReflexTimeoutMs == 0 {
		c.Tiers.ReflexTimeoutMs = 5000
	}
	if c.Tiers.MicroTimeoutMs == 0 {
		c.Tiers.MicroTimeoutMs = 15000
	}
	if c.Tiers.MacroTimeoutMs == 0 {
		c.Tiers.MacroTimeoutMs = 30000
	}
	if c.Tiers.MetaTimeoutMs == 0 {
		c.Tiers.MetaTimeoutMs = 60000
	}
	if c.Tiers.ReflexWorkers == 0 {
		c.Tiers.ReflexWorkers = 5
	}
	if c.Tiers.MicroWorkers == 0 {
		c.Tiers.MicroWorkers = 3
	}
	if c.Tiers.MacroWorkers == 0 {
		c.Tiers.MacroWorkers = 2
	}
	if c.Tiers.MetaWorkers == 0 {
		c.Tiers.MetaWorkers = 1
	}
	if c.Tiers.QueueCap == 0 {
		c.Tiers.QueueCap = 144
	}
	if c.Breaker.FailThreshold == 0 {
		c.Breaker.FailThreshold = 5
	}
	if c.Breaker.ResetSeconds == 0 {
		c.Breaker.ResetSeconds = 30
	}
	if c.Learning.Alpha == 0 {
		c.Learning.Alpha = 0.038
	}
	if c.Learning.EWCThreshold == 0 {
		c.Learning.EWCThreshold = 21
	}
	if c.Learning.FlushBatch == 0 {
		c.Learning.FlushBatch = 21
	}
	if c.LOD.HysteresisTicks == 0 {
		c.LOD.HysteresisTicks = 3
	}
	if c.Budget.SessionUSD == 0 {
		c.Budget.SessionUSD = 5.0
	}
	if c.CloudTask.LocationID == "" {
		c.CloudTask.LocationID = "us-central1"
	}
	if c.CloudTask.QueueID == "" {
		c.CloudTask.QueueID = "kernel-actions"
	}
	if c.SPIFFE.TrustDomain == "" {
		c.SPIFFE.TrustDomain = "spiffe://kernel-local"
	}
	if c.Introspect.Port == "" {
		c.Introspect.Port = "9090"
	}
}

// =============================================================================
// Helper functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
