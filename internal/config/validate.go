package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lazypower/ember/internal/engine"
	"github.com/lazypower/ember/internal/heat"
)

var validate = validator.New()

// Validate checks the config for problems that would make ember misbehave.
// It collects every problem into a single error.
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config validation: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, fieldMessage(fe))
		}
	}

	if err := c.Policy().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Weights().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Bands.Warm > c.Bands.Hot {
		errs = append(errs, fmt.Sprintf("bands.warm (%g) must not exceed bands.hot (%g)", c.Bands.Warm, c.Bands.Hot))
	}
	if c.Query.MaxLimit < c.Query.DefaultLimit {
		errs = append(errs, fmt.Sprintf("query.max.limit (%d) must be >= query.default.limit (%d)", c.Query.MaxLimit, c.Query.DefaultLimit))
	}
	if c.Embedder.Provider == "ollama" && c.Embedder.OllamaURL == "" {
		errs = append(errs, "embedder.ollama.url is required when embedder.provider is ollama")
	}

	if c.Query.Timeout == 0 {
		slog.Warn("query.timeout is 0, query calls run without a deadline")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}

// fieldMessage renders Config.Heat.DecayRate failing gt=0 as
// "Heat.DecayRate: failed gt=0 (got 0)".
func fieldMessage(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	return fmt.Sprintf("%s: failed %s (got %v)", field, rule, fe.Value())
}

// Policy returns the heat policy described by the config.
func (c *Config) Policy() heat.Policy {
	return heat.Policy{
		Floor:        c.Heat.Floor,
		Ceiling:      c.Heat.Ceiling,
		Neutral:      c.Heat.Neutral,
		DecayRate:    c.Heat.DecayRate,
		AccessBoost:  c.Heat.AccessBoost,
		MentionBoost: c.Heat.MentionBoost,
	}
}

// Weights returns the ranking weights described by the config.
func (c *Config) Weights() engine.Weights {
	return engine.Weights{Similarity: c.Rank.SimilarityWeight, Heat: c.Rank.HeatWeight}
}

// EngineOptions converts the config into engine tuning.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Policy:         c.Policy(),
		Weights:        c.Weights(),
		Bands:          heat.Bands{Hot: c.Bands.Hot, Warm: c.Bands.Warm},
		Overfetch:      c.Rank.Overfetch,
		BoostOnSearch:  c.Rank.BoostOnSearch,
		DefaultLimit:   c.Query.DefaultLimit,
		MaxLimit:       c.Query.MaxLimit,
		ColdMinAgeDays: c.Cold.MinAgeDays,
		Timeout:        c.Query.Timeout,
		DecayInterval:  c.Decay.Interval,
	}
}
