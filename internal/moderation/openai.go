package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is the moderation model used when none is configured.
const DefaultModel = "omni-moderation-latest"

// OpenAIClassifier implements Classifier with the OpenAI moderations API.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

var _ Classifier = (*OpenAIClassifier)(nil)

// NewOpenAIClassifier wraps an existing client.
func NewOpenAIClassifier(client *openai.Client, model string) *OpenAIClassifier {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIClassifier{client: client, model: model}
}

// Classify returns the verdict for the first moderation result.
func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	resp, err := c.client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: c.model,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("moderations: %w", err)
	}
	if len(resp.Results) == 0 {
		return Verdict{}, errors.New("moderations: empty result")
	}
	result := resp.Results[0]
	categories, err := trueCategories(result.Categories)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{Flagged: result.Flagged, Categories: categories}, nil
}

// trueCategories lists the API category names that are set.
func trueCategories(categories openai.ResultCategories) ([]string, error) {
	raw, err := json.Marshal(categories)
	if err != nil {
		return nil, fmt.Errorf("encode categories: %w", err)
	}
	var flags map[string]bool
	if err := json.Unmarshal(raw, &flags); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	var out []string
	for name, set := range flags {
		if set {
			out = append(out, name)
		}
	}
	return out, nil
}
