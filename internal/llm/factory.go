package llm

import (
	"fmt"
	"os"
	"time"

	"clubtreasurer/internal/config"
)

// Pair is the classifier and extractor used by a conversation engine.
type Pair struct {
	Classifier Classifier
	Extractor  Extractor
	Name       string
}

// New builds the classifier and extractor named by cfg. The openai provider
// reads OPENAI_API_KEY from the environment.
func New(cfg config.LLMConfig) (Pair, error) {
	switch cfg.Provider {
	case "offline":
		return Pair{Classifier: OfflineClassifier{}, Extractor: OfflineExtractor{}, Name: "offline"}, nil
	case "openai", "":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return Pair{}, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
		}
		p := NewOpenAIProvider(apiKey, cfg.Model, cfg.BaseURL)
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		return Pair{
			Classifier: &ModelClassifier{Provider: p, Model: cfg.Model, Timeout: timeout},
			Extractor:  &ModelExtractor{Provider: p, Model: cfg.Model, Timeout: timeout},
			Name:       p.Name(),
		}, nil
	default:
		return Pair{}, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
