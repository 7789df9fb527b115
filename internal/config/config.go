package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable and config file key.
// EMBER_RANK_HEAT_WEIGHT maps to rank.heat.weight.
const EnvPrefix = "EMBER_"

// Config holds all ember configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Heat     HeatConfig
	Rank     RankConfig
	Bands    BandsConfig
	Cold     ColdConfig
	Decay    DecayConfig
	Query    QueryConfig
	Embedder EmbedderConfig
	Log      LogConfig
}

type ServerConfig struct {
	Bind string `validate:"required"`
	Port int    `validate:"min=1,max=65535"`
}

type DatabaseConfig struct {
	Path string // empty resolves to store.DefaultDBPath()
}

// HeatConfig holds the heat range and the decay and boost constants.
type HeatConfig struct {
	Floor        float64 `validate:"gte=0"`
	Ceiling      float64 `validate:"gt=0"`
	Neutral      float64 `validate:"gt=0"`
	DecayRate    float64 `validate:"gt=0,lte=1"`
	AccessBoost  float64 `validate:"gte=0"`
	MentionBoost float64 `validate:"gte=0"`
}

type RankConfig struct {
	SimilarityWeight float64 `validate:"gte=0"`
	HeatWeight       float64 `validate:"gte=0"`
	Overfetch        int     `validate:"min=1,max=20"`
	BoostOnSearch    bool
}

// BandsConfig holds the lower bounds of the hot and warm bands.
type BandsConfig struct {
	Hot  float64
	Warm float64
}

type ColdConfig struct {
	MinAgeDays float64 `validate:"gte=0"`
}

type DecayConfig struct {
	Enabled  bool
	Interval time.Duration `validate:"min=1m"`
}

type QueryConfig struct {
	Timeout      time.Duration `validate:"gte=0"`
	DefaultLimit int           `validate:"min=1"`
	MaxLimit     int           `validate:"min=1"`
}

type EmbedderConfig struct {
	Provider   string `validate:"oneof=auto ollama tfidf"`
	OllamaURL  string `validate:"omitempty,url"`
	Model      string `validate:"required_if=Provider ollama"`
	Dimensions int    `validate:"gte=0"`
	MaxTerms   int    `validate:"min=1"`
	CacheSize  int64  `validate:"gte=0"` // query embeddings kept; 0 disables the cache
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=text json"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Heat: HeatConfig{
			Floor:        0.05,
			Ceiling:      2.0,
			Neutral:      1.0,
			DecayRate:    0.97,
			AccessBoost:  0.15,
			MentionBoost: 0.10,
		},
		Rank: RankConfig{
			SimilarityWeight: 0.7,
			HeatWeight:       0.3,
			Overfetch:        3,
			BoostOnSearch:    true,
		},
		Bands: BandsConfig{Hot: 1.0, Warm: 0.5},
		Cold:  ColdConfig{MinAgeDays: 7},
		Decay: DecayConfig{
			Enabled:  true,
			Interval: 24 * time.Hour,
		},
		Query: QueryConfig{
			Timeout:      5 * time.Second,
			DefaultLimit: 10,
			MaxLimit:     100,
		},
		Embedder: EmbedderConfig{
			Provider:   "auto",
			OllamaURL:  "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			MaxTerms:   512,
			CacheSize:  1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Load returns the defaults overridden by the dotenv file at path (when
// path is non-empty) and then by EMBER_* environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		fk := koanf.New(".")
		if err := fk.Load(file.Provider(path), dotenv.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
		for key, val := range fk.All() {
			if !strings.HasPrefix(key, EnvPrefix) {
				continue
			}
			if err := k.Set(envKey(key), val); err != nil {
				return nil, fmt.Errorf("config file key %s: %w", key, err)
			}
		}
	}

	// Environment variables override the file.
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := Default()
	l := loader{k: k}

	l.str("server.bind", &cfg.Server.Bind)
	l.int("server.port", &cfg.Server.Port)
	l.str("database.path", &cfg.Database.Path)

	l.float("heat.floor", &cfg.Heat.Floor)
	l.float("heat.ceiling", &cfg.Heat.Ceiling)
	l.float("heat.neutral", &cfg.Heat.Neutral)
	l.float("heat.decay.rate", &cfg.Heat.DecayRate)
	l.float("heat.access.boost", &cfg.Heat.AccessBoost)
	l.float("heat.mention.boost", &cfg.Heat.MentionBoost)

	l.float("rank.similarity.weight", &cfg.Rank.SimilarityWeight)
	l.float("rank.heat.weight", &cfg.Rank.HeatWeight)
	l.int("rank.overfetch", &cfg.Rank.Overfetch)
	l.bool("rank.boost.on.search", &cfg.Rank.BoostOnSearch)

	l.float("bands.hot", &cfg.Bands.Hot)
	l.float("bands.warm", &cfg.Bands.Warm)
	l.float("cold.min.age.days", &cfg.Cold.MinAgeDays)

	l.bool("decay.enabled", &cfg.Decay.Enabled)
	l.duration("decay.interval", &cfg.Decay.Interval)

	l.duration("query.timeout", &cfg.Query.Timeout)
	l.int("query.default.limit", &cfg.Query.DefaultLimit)
	l.int("query.max.limit", &cfg.Query.MaxLimit)

	l.str("embedder.provider", &cfg.Embedder.Provider)
	l.str("embedder.ollama.url", &cfg.Embedder.OllamaURL)
	l.str("embedder.model", &cfg.Embedder.Model)
	l.int("embedder.dimensions", &cfg.Embedder.Dimensions)
	l.int("embedder.max.terms", &cfg.Embedder.MaxTerms)
	l.int64("embedder.cache.size", &cfg.Embedder.CacheSize)

	l.str("log.level", &cfg.Log.Level)
	l.str("log.format", &cfg.Log.Format)

	if l.err != nil {
		return nil, l.err
	}
	return &cfg, nil
}

// envKey maps EMBER_HEAT_DECAY_RATE to heat.decay.rate.
func envKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "_", "."))
}

// loader copies keys that are present onto their config fields, keeping
// the first parse error.
type loader struct {
	k   *koanf.Koanf
	err error
}

func (l *loader) str(key string, dst *string) {
	if l.k.Exists(key) {
		*dst = strings.TrimSpace(l.k.String(key))
	}
}

func (l *loader) int(key string, dst *int) {
	if l.k.Exists(key) {
		*dst = l.k.Int(key)
	}
}

func (l *loader) int64(key string, dst *int64) {
	if l.k.Exists(key) {
		*dst = l.k.Int64(key)
	}
}

func (l *loader) float(key string, dst *float64) {
	if l.k.Exists(key) {
		*dst = l.k.Float64(key)
	}
}

func (l *loader) bool(key string, dst *bool) {
	if l.k.Exists(key) {
		*dst = l.k.Bool(key)
	}
}

func (l *loader) duration(key string, dst *time.Duration) {
	if !l.k.Exists(key) {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(l.k.String(key)))
	if err != nil && l.err == nil {
		l.err = fmt.Errorf("parsing %s: %w", key, err)
		return
	}
	*dst = d
}
