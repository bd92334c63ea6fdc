// Package evidence asks a language model to pick the search result that is
// the business's own website. It is consulted only when heuristic scoring
// leaves weak signals without a winner.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
)

// Facts are the known attributes of the business being verified
type Facts struct {
	Name     string
	Phone    string
	Address  string
	Locality string
	Category string
}

// Verdict is the oracle's answer
type Verdict struct {
	BestURL    string   `json:"best_url"`
	Confidence float64  `json:"confidence"`
	Signals    []string `json:"signals"`
	Rationale  string   `json:"rationale"`
}

// Scorer judges search results against business facts
type Scorer interface {
	Score(ctx context.Context, facts Facts, results []domain.SearchResult) (*Verdict, error)
}

const verdictSchema = `{
	"type": "object",
	"required": ["best_url", "confidence", "rationale"],
	"properties": {
		"best_url": {"type": ["string", "null"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"signals": {"type": "array", "items": {"type": "string"}},
		"rationale": {"type": "string", "maxLength": 2000}
	}
}`

const systemPrompt = `You decide whether a local business has its own website.
You receive the business facts and numbered web search results.
Answer with a single JSON object and nothing else:
{"best_url": string or null, "confidence": number between 0 and 1, "signals": [strings], "rationale": string}
best_url must be copied exactly from one of the results, or null when none is the business's own site.
signals lists what the chosen result matches: "phone_match", "address_match", "name_locality_match".
Only report phone_match or address_match when the result shows the business's phone number or street address.
Directory, review, social media and aggregator pages are never the business's own site.`

// Anthropic implements Scorer with the Messages API
type Anthropic struct {
	client    sdk.Client
	model     string
	maxTokens int64
	schema    *gojsonschema.Schema
	log       *zap.Logger
}

// NewAnthropic creates an oracle backed by the Anthropic SDK
func NewAnthropic(apiKey, model string, maxTokens int, opts ...option.RequestOption) (*Anthropic, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(verdictSchema))
	if err != nil {
		return nil, eris.Wrap(err, "evidence: compile verdict schema")
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}

	return &Anthropic{
		client:    sdk.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
		model:     model,
		maxTokens: int64(maxTokens),
		schema:    schema,
		log:       zap.L().With(zap.String("component", "evidence")),
	}, nil
}

// Score asks the model for a verdict and validates its shape
func (a *Anthropic) Score(ctx context.Context, facts Facts, results []domain.SearchResult) (*Verdict, error) {
	msg, err := a.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: a.maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(buildPrompt(facts, results)))},
	})
	if err != nil {
		return nil, eris.Wrap(err, "evidence: create message")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	a.log.Debug("oracle answered",
		zap.String("business", facts.Name),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)

	return a.parse(text.String(), results)
}

func (a *Anthropic) parse(text string, results []domain.SearchResult) (*Verdict, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, eris.New("evidence: no JSON object in answer")
	}

	res, err := a.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, eris.Wrap(err, "evidence: validate verdict")
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, eris.Errorf("evidence: invalid verdict: %s", strings.Join(msgs, "; "))
	}

	var v struct {
		BestURL    *string  `json:"best_url"`
		Confidence float64  `json:"confidence"`
		Signals    []string `json:"signals"`
		Rationale  string   `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, eris.Wrap(err, "evidence: decode verdict")
	}

	verdict := &Verdict{Confidence: v.Confidence, Signals: v.Signals, Rationale: v.Rationale}
	if v.BestURL != nil {
		verdict.BestURL = *v.BestURL
	}

	// the answer must name one of the results we showed
	if verdict.BestURL != "" && !containsURL(results, verdict.BestURL) {
		verdict.BestURL = ""
		verdict.Confidence = 0
	}

	return verdict, nil
}

func buildPrompt(facts Facts, results []domain.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business: %s\n", facts.Name)
	if facts.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", facts.Category)
	}
	if facts.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", facts.Phone)
	}
	if facts.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", facts.Address)
	}
	if facts.Locality != "" {
		fmt.Fprintf(&b, "Locality: %s\n", facts.Locality)
	}

	b.WriteString("\nSearch results:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}

// extractJSON returns the outermost {...} span of s
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func containsURL(results []domain.SearchResult, u string) bool {
	for _, r := range results {
		if r.URL == u {
			return true
		}
	}
	return false
}
