package revlens

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog/log"
)

// sentimentClassification is the structured output contract for the sentiment
// collaborator. Confidence is the model's own calibration of the label.
type sentimentClassification struct {
	Label      string  `json:"label" jsonschema:"enum=NEGATIVE,enum=NEUTRAL,enum=POSITIVE,description=Overall sentiment of the review"`
	Confidence float64 `json:"confidence" jsonschema:"description=Confidence in the label between 0 and 1"`
}

const sentimentSystemPrompt = "You are a product-review sentiment classifier. " +
	"Classify the overall sentiment of the review as NEGATIVE, NEUTRAL, or POSITIVE " +
	"and report your confidence between 0 and 1. Judge the reviewer's experience with " +
	"the product itself, not shipping or marketplace issues, unless those dominate the review."

func newOpenAIClient() openai.Client {
	return openai.NewClient(option.WithAPIKey(Config.OpenAIAPIKey))
}

// sentimentSchema reflects the structured-output schema once per process.
func sentimentSchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schemaObj := reflector.Reflect(&sentimentClassification{})
	if schemaObj.Type == "" {
		schemaObj.Type = "object"
	}

	schemaBytes, err := json.Marshal(schemaObj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	return schema, nil
}

// classifySentiment asks the chat model for a structured sentiment verdict.
func classifySentiment(ctx context.Context, client openai.Client, model, text string) (SentimentResult, error) {
	schema, err := sentimentSchema()
	if err != nil {
		return SentimentResult{}, err
	}

	completion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(sentimentSystemPrompt),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "sentiment_classification",
					Schema: schema,
				},
			},
		},
	})
	if err != nil {
		return SentimentResult{}, fmt.Errorf("failed to call OpenAI API: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return SentimentResult{}, fmt.Errorf("no content in response")
	}

	var parsed sentimentClassification
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &parsed); err != nil {
		return SentimentResult{}, fmt.Errorf("failed to parse structured response: %w", err)
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return SentimentResult{}, fmt.Errorf("confidence %f out of range", parsed.Confidence)
	}

	return SentimentResult{Label: canonicalLabel(parsed.Label), Confidence: parsed.Confidence}, nil
}

// classifySentimentWithRetry retries classification on transient response
// failures with linear backoff.
func classifySentimentWithRetry(ctx context.Context, client openai.Client, model, text string) (SentimentResult, error) {
	maxRetries := 3
	baseDelay := 2 * time.Second

	for attempt := range maxRetries {
		result, err := classifySentiment(ctx, client, model, text)
		if err != nil {
			if strings.Contains(err.Error(), "failed to parse structured response") ||
				strings.Contains(err.Error(), "no content in response") ||
				strings.Contains(err.Error(), "out of range") {

				if attempt == maxRetries-1 {
					return SentimentResult{}, fmt.Errorf("failed to classify sentiment after %d retries: %w", maxRetries, err)
				}

				delay := baseDelay * time.Duration(attempt+1)
				log.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("transient sentiment failure, retrying")
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return SentimentResult{}, ctx.Err()
				}
				continue
			}
			return SentimentResult{}, err
		}
		return result, nil
	}

	return SentimentResult{}, fmt.Errorf("unexpected error in retry loop")
}

// generateEmbedding fetches one embedding vector for the review text.
func generateEmbedding(ctx context.Context, client openai.Client, model, text string) ([]float64, error) {
	embedding, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model:          openai.EmbeddingModel(model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call OpenAI API: %w", err)
	}
	if len(embedding.Data) == 0 {
		return nil, fmt.Errorf("no embedding data in response")
	}
	return embedding.Data[0].Embedding, nil
}
