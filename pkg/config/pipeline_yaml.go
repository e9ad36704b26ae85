package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// pipelineYAML is the optional <config-dir>/pipeline.yaml document overriding
// loop budgets and the provider fallback chain, grounded on the teacher's own
// YAML chain-config file (pkg/config/chain.go) but scoped to this module's
// much smaller surface: loop budgets and provider fallback order, rather than
// a full multi-stage agent chain definition.
type pipelineYAML struct {
	MaxVerificationLoops *int     `yaml:"max_verification_loops,omitempty"`
	MaxReviewDevLoops    *int     `yaml:"max_review_dev_loops,omitempty"`
	MaxTDDIterations     *int     `yaml:"max_tdd_iterations,omitempty"`
	ProviderFallback     []string `yaml:"provider_fallback_chain,omitempty"`
}

// applyPipelineYAML reads <configDir>/pipeline.yaml, if present, overlaying
// its values onto b.Pipeline/b.Provider.FallbackChain. A missing file is a
// warning, not a fatal error, matching Load's treatment of a missing .env.
func applyPipelineYAML(configDir string, b *Bootstrap) (string, error) {
	path := configDir + "/pipeline.yaml"
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fmt.Sprintf("could not load %s: %v", path, err), nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	var doc pipelineYAML
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}

	if doc.MaxVerificationLoops != nil {
		b.Pipeline.MaxVerificationLoops = *doc.MaxVerificationLoops
	}
	if doc.MaxReviewDevLoops != nil {
		b.Pipeline.MaxReviewDevLoops = *doc.MaxReviewDevLoops
	}
	if doc.MaxTDDIterations != nil {
		b.Pipeline.MaxTDDIterations = *doc.MaxTDDIterations
	}
	if len(doc.ProviderFallback) > 0 {
		b.Provider.FallbackChain = doc.ProviderFallback
	}
	return "", nil
}
