package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const selectorSystemPrompt = "You are a video editor's assistant. You are shown " +
	"candidate scene frames extracted from raw footage, each with a stable id and " +
	"its duration. Judge every frame against the editing brief and return a " +
	"structured verdict per frame. Only output JSON."

// SceneCandidate is one frame offered to the model.
type SceneCandidate struct {
	ID        string
	Duration  float64
	ImagePath string
}

// SelectionParams is the project configuration embedded into the prompt.
type SelectionParams struct {
	TargetDuration float64
	Keyword        string
	MinRelevance   float64
	NarrationStyle string
}

// SceneJudgment is the model's verdict for one selected frame.
type SceneJudgment struct {
	FrameID     string
	Sequence    int
	Description string
	Narrations  []string
	Keywords    []string
	Relevance   float64
}

// chatCompleter abstracts the chat-completion call for testability.
type chatCompleter interface {
	Complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error)
}

type openAIChat struct {
	client openai.Client
}

func (c *openAIChat) Complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		// Some gateways reject json_schema response formats; fall back to
		// json_object and rely on strict parsing downstream.
		if shouldFallbackJSONMode(err) {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
			}
			resp, err = c.client.Chat.Completions.New(ctx, params)
		}
	}
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func shouldFallbackJSONMode(err error) bool {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "json_schema") || strings.Contains(msg, "response_format") {
		return true
	}
	return strings.Contains(msg, "unsupported") && strings.Contains(msg, "schema")
}

// SceneSelectorService asks the chat model to pick a relevant, ordered
// subset of candidate frames and write narration for each.
type SceneSelectorService struct {
	chat   chatCompleter
	model  string
	logger zerolog.Logger
}

// NewSceneSelectorService creates a selector backed by the OpenAI chat API.
func NewSceneSelectorService(apiKey, baseURL, model string, logger zerolog.Logger) *SceneSelectorService {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &SceneSelectorService{
		chat:   &openAIChat{client: openai.NewClient(opts...)},
		model:  model,
		logger: logger.With().Str("component", "scene_selector").Logger(),
	}
}

// Select sends one completion request covering all candidates and returns
// the selected frames ordered by the model-supplied sequence number. A
// malformed or schema-violating response yields an empty selection, never
// a partial one.
func (s *SceneSelectorService) Select(ctx context.Context, candidates []SceneCandidate, params SelectionParams) ([]SceneJudgment, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	messages, err := s.buildMessages(candidates, params)
	if err != nil {
		return nil, err
	}

	raw, err := s.chat.Complete(ctx, openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       s.model,
		Temperature: openai.Float(0.2),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "scene_selection_result",
					Strict: openai.Bool(true),
					Schema: selectionResponseSchema(),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scene selection request failed: %w", err)
	}

	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.ID] = true
	}

	judgments, parseErr := parseSelectionResponse(raw, known)
	if parseErr != nil {
		s.logger.Warn().Err(parseErr).Msg("discarding unusable selection response")
		return []SceneJudgment{}, nil
	}

	s.logger.Info().
		Int("candidates", len(candidates)).
		Int("selected", len(judgments)).
		Msg("scene selection complete")
	return judgments, nil
}

func (s *SceneSelectorService) buildMessages(candidates []SceneCandidate, params SelectionParams) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(candidates)+3)
	messages = append(messages, openai.SystemMessage(selectorSystemPrompt))

	paramBlock := fmt.Sprintf(
		"Editing brief:\n"+
			"target_duration_seconds = %.1f\n"+
			"keyword = %q\n"+
			"min_relevance = %.2f\n"+
			"narration_style = %q\n\n"+
			"Pick the frames that best match the keyword, sum close to the target "+
			"duration, and discard anything below the minimum relevance.",
		params.TargetDuration, params.Keyword, params.MinRelevance, params.NarrationStyle)
	messages = append(messages, openai.UserMessage(paramBlock))

	for _, c := range candidates {
		dataURL, err := encodeImageDataURL(c.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read frame image %s: %w", c.ImagePath, err)
		}
		messages = append(messages, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(fmt.Sprintf("frame id=%s duration=%.2fs", c.ID, c.Duration)),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
		}))
	}

	messages = append(messages, openai.UserMessage(
		"For every frame return: id, selected (bool); and for selected frames: "+
			"sequence (1-based final order, you may reorder freely), description, "+
			"narrations (one or more spoken lines in the requested style), keywords, "+
			"and relevance (0..1). Do not invent ids and do not omit any id.\n\n"+
			`Output format: {"frames":[{"id":"...","selected":true,"sequence":1,`+
			`"description":"...","narrations":["..."],"keywords":["..."],"relevance":0.0}]}`))

	return messages, nil
}

func encodeImageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// selectionFrame mirrors the structured response schema.
type selectionFrame struct {
	ID          string   `json:"id"`
	Selected    bool     `json:"selected"`
	Sequence    int      `json:"sequence"`
	Description string   `json:"description"`
	Narrations  []string `json:"narrations"`
	Keywords    []string `json:"keywords"`
	Relevance   float64  `json:"relevance"`
}

type selectionResponse struct {
	Frames []selectionFrame `json:"frames"`
}

// parseSelectionResponse validates and orders the model output. The result
// is always a duplicate-free subset of the known candidate ids, sorted by
// the model-supplied sequence; any violation rejects the whole response.
func parseSelectionResponse(raw string, known map[string]bool) ([]SceneJudgment, error) {
	if !gjson.Valid(raw) || !gjson.Get(raw, "frames").IsArray() {
		return nil, errors.New("response is not a frames object")
	}

	var parsed selectionResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	seen := make(map[string]bool, len(parsed.Frames))
	seenSeq := make(map[int]bool)
	var judgments []SceneJudgment

	for _, f := range parsed.Frames {
		if !known[f.ID] {
			return nil, fmt.Errorf("unknown frame id %q", f.ID)
		}
		if seen[f.ID] {
			return nil, fmt.Errorf("duplicate frame id %q", f.ID)
		}
		seen[f.ID] = true

		if !f.Selected {
			continue
		}
		if f.Sequence <= 0 {
			return nil, fmt.Errorf("selected frame %q has invalid sequence %d", f.ID, f.Sequence)
		}
		if seenSeq[f.Sequence] {
			return nil, fmt.Errorf("duplicate sequence %d", f.Sequence)
		}
		seenSeq[f.Sequence] = true
		if len(f.Narrations) == 0 {
			return nil, fmt.Errorf("selected frame %q has no narration", f.ID)
		}

		judgments = append(judgments, SceneJudgment{
			FrameID:     f.ID,
			Sequence:    f.Sequence,
			Description: f.Description,
			Narrations:  f.Narrations,
			Keywords:    f.Keywords,
			Relevance:   f.Relevance,
		})
	}

	sort.Slice(judgments, func(i, j int) bool {
		return judgments[i].Sequence < judgments[j].Sequence
	})
	return judgments, nil
}

func selectionResponseSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"frames"},
		"properties": map[string]interface{}{
			"frames": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"id", "selected", "sequence", "description", "narrations", "keywords", "relevance"},
					"properties": map[string]interface{}{
						"id":          map[string]interface{}{"type": "string"},
						"selected":    map[string]interface{}{"type": "boolean"},
						"sequence":    map[string]interface{}{"type": "integer"},
						"description": map[string]interface{}{"type": "string"},
						"narrations": map[string]interface{}{
							"type":  "array",
							"items": map[string]interface{}{"type": "string"},
						},
						"keywords": map[string]interface{}{
							"type":  "array",
							"items": map[string]interface{}{"type": "string"},
						},
						"relevance": map[string]interface{}{"type": "number"},
					},
				},
			},
		},
	}
}
