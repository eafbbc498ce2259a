// Package openai provides an LLMClient implementation using OpenAI.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
	"github.com/ersonp/continuity/internal/infrastructure/config"
)

const extractionPrompt = `You are a continuity editor reading a chapter of a novel. Extract the story facts and timeline events the text establishes.

Return ONLY a JSON object of the form {"facts": [...], "events": [...]}.

Each fact has:
- subject: the character, place, object or concept the fact is about
- attribute: the property, in snake_case (eye_color, hometown, is_alive, knows_secret)
- value: the value the text gives the attribute
- category: one of character_trait, character_knowledge, character_status, timeline, location, object, world_rule, relationship, plot_thread
- importance: minor, significant or critical
- excerpt: the exact words of the text that establish the fact

Plot threads use attribute "status" with value "open" when a thread is raised and "resolved" when it is closed.

Each event has:
- description: what happens
- story_time: when it happens in the story, as written ("the next morning", "midnight")
- day_number: the story day as an integer, only when the text makes it certain
- characters: names of the characters involved
- locations: names of the places involved
- importance: minor, significant or critical
- excerpt: the exact words of the text that describe the event

Copy excerpts verbatim. Use the names in "Known facts" for subjects that already exist.`

const judgePrompt = `A novel established a fact and a later passage gives the same attribute a different value.

Established: %s %s = %q (chapter %s)
Later: %s %s = %q (chapter %s, "%s")

Decide whether the later value contradicts the established one, or whether both can be true (a synonym, a more precise value, a change the story explains).

Return ONLY a JSON object: {"contradicts": true|false, "reason": "one sentence"}`

const defaultModel = "gpt-4o-mini"

// Client implements the LLMClient interface using OpenAI.
type Client struct {
	client *openai.Client
	model  string
}

var _ ports.LLMClient = (*Client)(nil)

// NewClient creates a new OpenAI LLM client.
func NewClient(cfg config.LLMConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := defaultModel
	if cfg.Model != "" {
		model = cfg.Model
	}

	return &Client{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// ExtractRecords extracts raw fact and event records from text.
func (c *Client) ExtractRecords(ctx context.Context, text string, factContext []entities.StoryFact) (*ports.RawExtraction, error) {
	content, err := c.complete(ctx, extractionPrompt, userMessage(text, factContext))
	if err != nil {
		return nil, err
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("parsing extraction JSON: %w (response: %s)", err, truncate(content, 200))
	}
	return raw.toPorts(), nil
}

// JudgeContradiction asks the model whether candidate contradicts existing.
func (c *Client) JudgeContradiction(ctx context.Context, existing entities.StoryFact, candidate entities.CandidateFact) (ports.Judgement, error) {
	prompt := fmt.Sprintf(judgePrompt,
		existing.Subject, existing.Attribute, existing.Value, existing.EstablishedIn.ChapterID,
		candidate.Subject, candidate.Attribute, candidate.Value, candidate.Source.ChapterID, candidate.Source.Excerpt,
	)

	content, err := c.complete(ctx, "", prompt)
	if err != nil {
		return ports.Judgement{}, err
	}

	var verdict ports.Judgement
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return ports.Judgement{}, fmt.Errorf("parsing judgement JSON: %w (response: %s)", err, truncate(content, 200))
	}
	return verdict, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("calling OpenAI: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}

	return cleanJSONResponse(resp.Choices[0].Message.Content), nil
}

// userMessage renders the chapter text with the known facts the model may refer to.
func userMessage(text string, factContext []entities.StoryFact) string {
	if len(factContext) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString("Known facts:\n")
	for i := range factContext {
		f := &factContext[i]
		fmt.Fprintf(&b, "- %s %s = %s (%s)\n", f.Subject, f.Attribute, f.Value, f.Category)
	}
	b.WriteString("\nText:\n")
	b.WriteString(text)
	return b.String()
}

// rawExtraction mirrors ports.RawExtraction with loosely typed scalar
// fields, since models sometimes return numbers or booleans for values.
type rawExtraction struct {
	Facts  []rawFact  `json:"facts"`
	Events []rawEvent `json:"events"`
}

type rawFact struct {
	Subject    string `json:"subject"`
	Attribute  string `json:"attribute"`
	Value      any    `json:"value"`
	Category   string `json:"category"`
	Importance string `json:"importance"`
	Excerpt    string `json:"excerpt"`
}

type rawEvent struct {
	Description string   `json:"description"`
	StoryTime   any      `json:"story_time"`
	DayNumber   any      `json:"day_number"`
	Characters  []string `json:"characters"`
	Locations   []string `json:"locations"`
	Importance  string   `json:"importance"`
	Excerpt     string   `json:"excerpt"`
}

func (r rawExtraction) toPorts() *ports.RawExtraction {
	out := &ports.RawExtraction{
		Facts:  make([]ports.RawFact, 0, len(r.Facts)),
		Events: make([]ports.RawEvent, 0, len(r.Events)),
	}
	for _, f := range r.Facts {
		out.Facts = append(out.Facts, ports.RawFact{
			Subject:    f.Subject,
			Attribute:  f.Attribute,
			Value:      valueToString(f.Value),
			Category:   strings.ToLower(strings.TrimSpace(f.Category)),
			Importance: strings.ToLower(strings.TrimSpace(f.Importance)),
			Excerpt:    f.Excerpt,
		})
	}
	for _, e := range r.Events {
		out.Events = append(out.Events, ports.RawEvent{
			Description: e.Description,
			StoryTime:   valueToString(e.StoryTime),
			DayNumber:   dayNumber(e.DayNumber),
			Characters:  e.Characters,
			Locations:   e.Locations,
			Importance:  strings.ToLower(strings.TrimSpace(e.Importance)),
			Excerpt:     e.Excerpt,
		})
	}
	return out
}

// valueToString converts a JSON scalar to string (handles numbers from LLM).
func valueToString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int(v)) {
			return strconv.Itoa(int(v))
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// dayNumber accepts integers and numeric strings; anything else is unknown.
func dayNumber(v any) *int {
	var n int
	switch v := v.(type) {
	case float64:
		if v != float64(int(v)) {
			return nil
		}
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	return &n
}

// cleanJSONResponse removes markdown code blocks if present.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimSuffix(content, "```")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}

	return strings.TrimSpace(content)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
