// Package agent implements the production workers behind the research
// pipeline: a per-section researcher and a report assembler, both backed by
// a chat-completion model.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/scout/pkg/config"
	scouterrors "github.com/odvcencio/scout/pkg/errors"
	"github.com/odvcencio/scout/pkg/logging"
	"github.com/odvcencio/scout/pkg/model"
	"github.com/odvcencio/scout/pkg/research"
)

const (
	maxSources      = 5
	maxContentWords = 250
)

// ChatCompleter is the slice of the model client the agents use.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
}

// SectionResearcher produces the content for one report section. It demands
// a strict JSON-only output contract from the model and validates the shape
// before handing it back to the pipeline.
type SectionResearcher struct {
	client ChatCompleter
	cfg    config.ModelConfig
	logger *logging.Logger
}

// NewSectionResearcher creates the production SectionWorker.
func NewSectionResearcher(client ChatCompleter, cfg config.ModelConfig, logger *logging.Logger) *SectionResearcher {
	return &SectionResearcher{client: client, cfg: cfg, logger: logger}
}

// Produce implements research.SectionWorker.
func (r *SectionResearcher) Produce(ctx context.Context, in research.SectionInput) (research.SectionOutput, error) {
	resp, err := r.client.ChatCompletion(ctx, model.ChatRequest{
		Model: r.cfg.Model,
		Messages: []model.Message{
			{Role: "system", Content: sectionInstructions(in.Section, in.Guidance)},
			{Role: "user", Content: fmt.Sprintf("Research the section %q for a report on %q.", in.Section, in.Topic)},
		},
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	})
	if err != nil {
		return research.SectionOutput{}, classifyModelError(err)
	}

	out, err := parseSectionOutput(resp.Content())
	if err != nil {
		r.logger.Warn(logging.CategoryResearch, "section_output_invalid", err.Error(), map[string]any{
			"section": in.Section,
		})
		return research.SectionOutput{}, err
	}

	r.logger.Debug(logging.CategoryResearch, "section_produced", "", map[string]any{
		"section": in.Section,
		"sources": len(out.Sources),
	})
	return out, nil
}

// sectionInstructions is the system prompt enforcing the JSON output
// contract for one section.
func sectionInstructions(section, guidance string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are a specialized research agent responsible ONLY for the section %q.\n", section)
	if guidance != "" {
		fmt.Fprintf(&sb, "Guidelines from the user: %s\n", guidance)
	}
	fmt.Fprintf(&sb, `
CRITICAL OUTPUT FORMAT REQUIREMENTS:
You MUST return ONLY valid JSON in this EXACT format:
{"content": "your markdown content here", "sources": ["url1", "url2", "url3"]}

RESEARCH PROCESS:
1. Draw on %d high-quality, credible sources relevant to %q.
2. Synthesize comprehensive, well-structured content for the section.
3. Write the content in Markdown, not exceeding %d words.
4. Cite every fact with [1], [2], ... matching the order of the "sources" list.

CONTENT QUALITY REQUIREMENTS:
- Clear, concise, professional language with proper Markdown formatting.
- Specific facts, figures, and examples backed by cited sources.
- Prefer authoritative sources (.edu, .gov, established research institutions).

OUTPUT CONSTRAINTS:
- Return ONLY the JSON object - no additional text outside the JSON.
- The JSON MUST be valid and parseable, with proper escaping inside "content".
`, maxSources, section, maxContentWords)

	return sb.String()
}

// parseSectionOutput decodes and validates the model's JSON reply. Models
// occasionally wrap JSON in a code fence; that wrapping is tolerated.
func parseSectionOutput(raw string) (research.SectionOutput, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return research.SectionOutput{}, scouterrors.New(scouterrors.ErrCodeWorkerOutputInvalid, "model reply contains no JSON object")
	}

	var out research.SectionOutput
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return research.SectionOutput{}, scouterrors.Wrap(err, scouterrors.ErrCodeWorkerOutputInvalid, "model reply is not valid JSON")
	}
	if strings.TrimSpace(out.Content) == "" {
		return research.SectionOutput{}, scouterrors.New(scouterrors.ErrCodeWorkerOutputInvalid, "model reply has empty content")
	}
	return out, nil
}

// extractJSON strips code fences and surrounding prose, returning the
// outermost JSON object in the text.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// classifyModelError maps client failures onto the pipeline's retryability
// taxonomy.
func classifyModelError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsRateLimitError() {
			return scouterrors.Wrap(err, scouterrors.ErrCodeModelRateLimit, "model provider throttled the request").
				WithRetryable(true)
		}
		if apiErr.Retryable {
			return scouterrors.Wrap(err, scouterrors.ErrCodeModelAPIError, "model provider failed").
				WithRetryable(true)
		}
		return scouterrors.Wrap(err, scouterrors.ErrCodeModelAPIError, "model request rejected")
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return scouterrors.Transient("model call failed", err)
}
