package config

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vanshika/upiscope/internal/domain"
	"github.com/vanshika/upiscope/internal/flow"
	"github.com/vanshika/upiscope/internal/generator"
	"github.com/vanshika/upiscope/internal/scoring"
)

// FileEnv names the environment variable pointing at an optional YAML file.
const FileEnv = "UPISCOPE_CONFIG"

// Config aggregates application configuration values.
type Config struct {
	HTTP       HTTPConfig
	Graph      GraphConfig
	Logging    LoggingConfig
	Redis      RedisConfig
	NSQ        NSQConfig
	Generation GenerationConfig
	Scoring    ScoringConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MetricsEnabled    bool
	AllowedOriginsCSV string
}

// GraphConfig describes connectivity to the Neo4j payment graph. An empty
// URI disables the graph sink.
type GraphConfig struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

// RedisConfig points at the history index. An empty Addr disables it.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// NSQConfig points at nsqd. An empty Address disables publishing and
// consuming.
type NSQConfig struct {
	Address string
	Topic   string
	Channel string
}

// GenerationConfig drives dataset builds.
type GenerationConfig struct {
	Seed            int64
	Start           time.Time
	End             time.Time
	CountPerProfile int
	AnomalyRate     float64
	Workers         int
	OutputDir       string
	Profiles        []domain.Profile
	Archetypes      map[string]int
	Patterns        []string
	AmountCeiling   float64
	FailRate        float64
	MinLatency      time.Duration
	MaxLatency      time.Duration
}

// ScoringConfig exposes the tunable part of the anomaly policy.
type ScoringConfig struct {
	Threshold        float64
	AmountDeviationK float64
	MinHistory       int
	VelocityCount    int
	VelocityWindow   time.Duration
	DuplicateWindow  time.Duration
	Lookback         time.Duration
	Weights          map[string]float64
}

const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 8080
	defaultReadTimeout      = 10 * time.Second
	defaultWriteTimeout     = 15 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultLoggingLevel     = "info"
	defaultLoggingFormat    = "text"
	defaultGraphMaxSessions = 10
	defaultRedisPrefix      = "upiscope"
	defaultNSQTopic         = "upi_transactions"
	defaultNSQChannel       = "upiscope"
	defaultCountPerProfile  = 200
	defaultAnomalyRate      = 0.05
	defaultWorkers          = 4
	defaultOutputDir        = "data"
	defaultWindowStart      = "2025-01-01T00:00:00Z"
	defaultWindowEnd        = "2025-01-31T00:00:00Z"
)

// New returns a viper instance carrying every default and reading
// environment overrides such as SERVER_PORT or GENERATION_SEED.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	gen := generator.DefaultConfig()
	fl := flow.DefaultConfig()
	sc := scoring.DefaultConfig()

	v.SetDefault("server.host", defaultHost)
	v.SetDefault("server.port", defaultPort)
	v.SetDefault("server.read_timeout", defaultReadTimeout)
	v.SetDefault("server.write_timeout", defaultWriteTimeout)
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.metrics_enabled", false)
	v.SetDefault("server.allowed_origins", "")

	v.SetDefault("log.level", defaultLoggingLevel)
	v.SetDefault("log.format", defaultLoggingFormat)
	v.SetDefault("log.include_caller", false)

	v.SetDefault("graph.uri", "")
	v.SetDefault("graph.database", "")
	v.SetDefault("graph.username", "")
	v.SetDefault("graph.password", "")
	v.SetDefault("graph.max_connections", defaultGraphMaxSessions)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", defaultRedisPrefix)
	v.SetDefault("redis.ttl", sc.Lookback)

	v.SetDefault("nsq.address", "")
	v.SetDefault("nsq.topic", defaultNSQTopic)
	v.SetDefault("nsq.channel", defaultNSQChannel)

	v.SetDefault("generation.seed", 42)
	v.SetDefault("generation.start", defaultWindowStart)
	v.SetDefault("generation.end", defaultWindowEnd)
	v.SetDefault("generation.count_per_profile", defaultCountPerProfile)
	v.SetDefault("generation.anomaly_rate", defaultAnomalyRate)
	v.SetDefault("generation.workers", defaultWorkers)
	v.SetDefault("generation.output_dir", defaultOutputDir)
	v.SetDefault("generation.archetypes", map[string]int{
		domain.ArchetypeStudent:  4,
		domain.ArchetypeRetail:   4,
		domain.ArchetypeMerchant: 2,
	})
	v.SetDefault("generation.patterns", gen.Patterns)
	v.SetDefault("generation.amount_ceiling", gen.AmountCeiling)
	v.SetDefault("generation.fail_rate", fl.FailRate)
	v.SetDefault("generation.min_latency", fl.MinLatency)
	v.SetDefault("generation.max_latency", fl.MaxLatency)

	v.SetDefault("scoring.threshold", sc.Threshold)
	v.SetDefault("scoring.amount_deviation_k", sc.AmountDeviationK)
	v.SetDefault("scoring.min_history", sc.MinHistory)
	v.SetDefault("scoring.velocity_count", sc.VelocityCount)
	v.SetDefault("scoring.velocity_window", sc.VelocityWindow)
	v.SetDefault("scoring.duplicate_window", sc.DuplicateWindow)
	v.SetDefault("scoring.lookback", sc.Lookback)
	v.SetDefault("scoring.weights", sc.Weights)

	return v
}

// Load reads configuration from the environment, merging the YAML file named
// by UPISCOPE_CONFIG when set.
func Load() (Config, error) {
	v := New()
	if path := v.GetString(FileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes a populated viper instance into a validated Config.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Host:              v.GetString("server.host"),
			Port:              v.GetInt("server.port"),
			ReadTimeout:       v.GetDuration("server.read_timeout"),
			WriteTimeout:      v.GetDuration("server.write_timeout"),
			IdleTimeout:       v.GetDuration("server.idle_timeout"),
			ShutdownTimeout:   v.GetDuration("server.shutdown_timeout"),
			MetricsEnabled:    v.GetBool("server.metrics_enabled"),
			AllowedOriginsCSV: v.GetString("server.allowed_origins"),
		},
		Logging: LoggingConfig{
			Level:         v.GetString("log.level"),
			Format:        v.GetString("log.format"),
			IncludeCaller: v.GetBool("log.include_caller"),
		},
		Graph: GraphConfig{
			URI:            v.GetString("graph.uri"),
			Database:       v.GetString("graph.database"),
			Username:       v.GetString("graph.username"),
			Password:       v.GetString("graph.password"),
			MaxConnections: v.GetInt("graph.max_connections"),
		},
		Redis: RedisConfig{
			Addr:      v.GetString("redis.addr"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.prefix"),
			TTL:       v.GetDuration("redis.ttl"),
		},
		NSQ: NSQConfig{
			Address: v.GetString("nsq.address"),
			Topic:   v.GetString("nsq.topic"),
			Channel: v.GetString("nsq.channel"),
		},
		Generation: GenerationConfig{
			Seed:            v.GetInt64("generation.seed"),
			CountPerProfile: v.GetInt("generation.count_per_profile"),
			AnomalyRate:     v.GetFloat64("generation.anomaly_rate"),
			Workers:         v.GetInt("generation.workers"),
			OutputDir:       v.GetString("generation.output_dir"),
			Patterns:        splitList(strings.Join(v.GetStringSlice("generation.patterns"), ",")),
			AmountCeiling:   v.GetFloat64("generation.amount_ceiling"),
			FailRate:        v.GetFloat64("generation.fail_rate"),
			MinLatency:      v.GetDuration("generation.min_latency"),
			MaxLatency:      v.GetDuration("generation.max_latency"),
		},
		Scoring: ScoringConfig{
			Threshold:        v.GetFloat64("scoring.threshold"),
			AmountDeviationK: v.GetFloat64("scoring.amount_deviation_k"),
			MinHistory:       v.GetInt("scoring.min_history"),
			VelocityCount:    v.GetInt("scoring.velocity_count"),
			VelocityWindow:   v.GetDuration("scoring.velocity_window"),
			DuplicateWindow:  v.GetDuration("scoring.duplicate_window"),
			Lookback:         v.GetDuration("scoring.lookback"),
		},
	}

	var err error
	if cfg.Generation.Start, cfg.Generation.End, err = parseWindow(v.GetString("generation.start"), v.GetString("generation.end")); err != nil {
		return Config{}, err
	}
	if err := v.UnmarshalKey("generation.profiles", &cfg.Generation.Profiles); err != nil {
		return Config{}, fmt.Errorf("decode generation.profiles: %w", err)
	}
	if err := v.UnmarshalKey("generation.archetypes", &cfg.Generation.Archetypes); err != nil {
		return Config{}, fmt.Errorf("decode generation.archetypes: %w", err)
	}
	if err := v.UnmarshalKey("scoring.weights", &cfg.Scoring.Weights); err != nil {
		return Config{}, fmt.Errorf("decode scoring.weights: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no component could run with.
func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.HTTP.Port)
	}
	if c.Generation.Workers <= 0 {
		return domain.ConfigError("generation.workers", "must be positive, got %d", c.Generation.Workers)
	}
	if c.Generation.CountPerProfile < 0 {
		return domain.ConfigError("generation.count_per_profile", "must be non-negative, got %d", c.Generation.CountPerProfile)
	}
	if err := domain.ValidateProbability("generation.anomaly_rate", c.Generation.AnomalyRate); err != nil {
		return err
	}
	if len(c.Generation.Profiles) == 0 && archetypeTotal(c.Generation.Archetypes) == 0 {
		return &domain.ValidationError{Kind: domain.ErrEmptyProfileSet, Field: "generation.profiles", Reason: "no profiles listed and no archetype counts"}
	}
	if err := c.TimeRange().Validate(); err != nil {
		return err
	}
	if err := c.GeneratorConfig().Validate(); err != nil {
		return err
	}
	if err := c.FlowConfig().Validate(); err != nil {
		return err
	}
	return c.ScoringConfig().Validate()
}

// TimeRange returns the generation window.
func (c Config) TimeRange() domain.TimeRange {
	return domain.TimeRange{Start: c.Generation.Start, End: c.Generation.End}
}

// GeneratorConfig overlays the configured knobs on the generator defaults.
func (c Config) GeneratorConfig() generator.Config {
	out := generator.DefaultConfig()
	if len(c.Generation.Patterns) > 0 {
		out.Patterns = append([]string(nil), c.Generation.Patterns...)
	}
	if c.Generation.AmountCeiling > 0 {
		out.AmountCeiling = c.Generation.AmountCeiling
	}
	return out
}

// FlowConfig overlays the configured knobs on the simulator defaults.
func (c Config) FlowConfig() flow.Config {
	out := flow.DefaultConfig()
	out.FailRate = c.Generation.FailRate
	out.MinLatency = c.Generation.MinLatency
	out.MaxLatency = c.Generation.MaxLatency
	return out
}

// ScoringConfig overlays the configured knobs on the default policy.
func (c Config) ScoringConfig() scoring.Config {
	out := scoring.DefaultConfig()
	out.Threshold = c.Scoring.Threshold
	out.AmountDeviationK = c.Scoring.AmountDeviationK
	out.MinHistory = c.Scoring.MinHistory
	out.VelocityCount = c.Scoring.VelocityCount
	out.VelocityWindow = c.Scoring.VelocityWindow
	out.DuplicateWindow = c.Scoring.DuplicateWindow
	out.Lookback = c.Scoring.Lookback
	if len(c.Scoring.Weights) > 0 {
		out.Weights = make(map[string]float64, len(c.Scoring.Weights))
		for k, w := range c.Scoring.Weights {
			out.Weights[k] = w
		}
	}
	return out
}

// ResolveProfiles returns the listed profiles, or samples them from the
// archetype counts in a fixed archetype order so a seed reproduces them.
func (c Config) ResolveProfiles() ([]domain.Profile, error) {
	if len(c.Generation.Profiles) > 0 {
		out := make([]domain.Profile, len(c.Generation.Profiles))
		for i, p := range c.Generation.Profiles {
			out[i] = p.Clone()
		}
		return out, nil
	}

	for archetype := range c.Generation.Archetypes {
		if _, ok := generator.Templates()[archetype]; !ok {
			return nil, domain.ConfigError("generation.archetypes", "unknown archetype %q", archetype)
		}
	}

	rng := rand.New(rand.NewSource(c.Generation.Seed))
	var out []domain.Profile
	for _, archetype := range []string{domain.ArchetypeStudent, domain.ArchetypeRetail, domain.ArchetypeMerchant} {
		n := c.Generation.Archetypes[archetype]
		if n <= 0 {
			continue
		}
		sampled, err := generator.SampleProfiles(rng, archetype, n, len(out)+1)
		if err != nil {
			return nil, err
		}
		out = append(out, sampled...)
	}
	if len(out) == 0 {
		return nil, &domain.ValidationError{Kind: domain.ErrEmptyProfileSet, Field: "generation.archetypes", Reason: "archetype counts sum to zero"}
	}
	return out, nil
}

// AllowedOrigins splits the CSV origin list.
func (c HTTPConfig) AllowedOrigins() []string {
	return splitList(c.AllowedOriginsCSV)
}

// parseWindow requires both bounds so a seed always names one dataset.
func parseWindow(start, end string) (time.Time, time.Time, error) {
	if strings.TrimSpace(start) == "" {
		return time.Time{}, time.Time{}, domain.ConfigError("generation.start", "is required")
	}
	if strings.TrimSpace(end) == "" {
		return time.Time{}, time.Time{}, domain.ConfigError("generation.end", "is required")
	}
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return time.Time{}, time.Time{}, domain.ConfigError("generation.start", "invalid timestamp %q: %v", start, err)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return time.Time{}, time.Time{}, domain.ConfigError("generation.end", "invalid timestamp %q: %v", end, err)
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, domain.ConfigError("generation", "end %s is before start %s", e.Format(time.RFC3339), s.Format(time.RFC3339))
	}
	return s.UTC(), e.UTC(), nil
}

func splitList(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func archetypeTotal(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
