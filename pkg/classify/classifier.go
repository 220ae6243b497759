package classify

import (
	"context"
	"fmt"

	"postvault/pkg/config"
	"postvault/pkg/logger"
)

// Classifier names as stored in verdicts
const (
	MultiClassName = "multiclass_llm"
	RecipeName     = "recipe_llm"
)

// Result is one classifier verdict for one piece of text
type Result struct {
	// Label is the winning class name
	Label string

	// Confidence is the model's certainty in [0, 1]
	Confidence float64

	// Details carries classifier-specific extras such as reasoning
	Details map[string]interface{}
}

// Classifier labels a single piece of text
type Classifier interface {
	// Name identifies the classifier in stored verdicts
	Name() string

	// Predict labels one text
	Predict(ctx context.Context, text string) (Result, error)
}

// New builds the configured classifier. Both the short names used in
// configuration and the stored verdict names are accepted.
func New(cfg config.ClassifierConfig, log logger.Logger) (Classifier, error) {
	provider := NewProvider(cfg, log)

	switch cfg.Name {
	case "recipe", RecipeName:
		return NewRecipe(provider, log), nil
	case "multiclass", MultiClassName:
		return NewMultiClass(provider, cfg.Classes, log)
	default:
		return nil, fmt.Errorf("unknown classifier %q", cfg.Name)
	}
}

// clampConfidence forces a model-reported confidence into [0, 1]
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
