package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate performs ordered, fail-fast validation of a Bootstrap, mirroring
// the teacher's Validator.ValidateAll ordering (infra before domain config).
func (b *Bootstrap) Validate() error {
	if err := validateDatabase(b.Database); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	if err := validateRedis(b.Redis); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}
	if err := validateProvider(b.Provider); err != nil {
		return fmt.Errorf("provider config: %w", err)
	}
	if err := validatePipeline(b.Pipeline); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}
	return nil
}

var validate = validator.New()

type dbValidation struct {
	Host     string `validate:"required"`
	Port     int    `validate:"required,gt=0,lte=65535"`
	User     string `validate:"required"`
	Database string `validate:"required"`
}

func validateDatabase(d DatabaseConfig) error {
	return validate.Struct(dbValidation{Host: d.Host, Port: d.Port, User: d.User, Database: d.Database})
}

type redisValidation struct {
	Addr string `validate:"required,hostname_port"`
}

func validateRedis(r RedisConfig) error {
	return validate.Struct(redisValidation{Addr: r.Addr})
}

func validateProvider(p ProviderConfig) error {
	if p.AnthropicAPIKey == "" && p.GeminiAPIKey == "" {
		return fmt.Errorf("at least one of HADRON_ANTHROPIC_API_KEY or HADRON_GEMINI_API_KEY must be set")
	}
	if len(p.FallbackChain) == 0 {
		return fmt.Errorf("provider fallback chain must not be empty")
	}
	return nil
}

type pipelineValidation struct {
	MaxVerificationLoops int `validate:"gte=1,lte=20"`
	MaxReviewDevLoops    int `validate:"gte=1,lte=20"`
	MaxTDDIterations     int `validate:"gte=1,lte=20"`
}

func validatePipeline(p PipelineConfig) error {
	return validate.Struct(pipelineValidation{
		MaxVerificationLoops: p.MaxVerificationLoops,
		MaxReviewDevLoops:    p.MaxReviewDevLoops,
		MaxTDDIterations:     p.MaxTDDIterations,
	})
}
