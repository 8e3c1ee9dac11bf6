package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/odvcencio/scout/pkg/config"
	scouterrors "github.com/odvcencio/scout/pkg/errors"
	"github.com/odvcencio/scout/pkg/logging"
	"github.com/odvcencio/scout/pkg/model"
	"github.com/odvcencio/scout/pkg/research"
)

const maxReportLength = 10000

// ReportAssembler merges resolved sections into a single Markdown report
// with an executive summary, renumbered citations, and a deduplicated
// reference list.
type ReportAssembler struct {
	client ChatCompleter
	cfg    config.ModelConfig
	logger *logging.Logger
}

// NewReportAssembler creates the production ReportWorker.
func NewReportAssembler(client ChatCompleter, cfg config.ModelConfig, logger *logging.Logger) *ReportAssembler {
	return &ReportAssembler{client: client, cfg: cfg, logger: logger}
}

// Assemble implements research.ReportWorker.
func (a *ReportAssembler) Assemble(ctx context.Context, topic, guidance string, sections []research.SectionSummary) (string, error) {
	input, err := json.Marshal(sections)
	if err != nil {
		return "", scouterrors.Wrap(err, scouterrors.ErrCodeInternal, "encoding assembly input")
	}

	resp, err := a.client.ChatCompletion(ctx, model.ChatRequest{
		Model: a.cfg.Model,
		Messages: []model.Message{
			{Role: "system", Content: assemblyInstructions(topic, guidance)},
			{Role: "user", Content: string(input)},
		},
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		return "", classifyModelError(err)
	}

	report := strings.TrimSpace(resp.Content())
	if report == "" {
		return "", scouterrors.New(scouterrors.ErrCodeWorkerOutputInvalid, "model returned an empty report")
	}

	a.logger.Info(logging.CategoryAssembly, "report_assembled", "", map[string]any{
		"topic":    topic,
		"sections": len(sections),
		"length":   len(report),
	})
	return report, nil
}

// assemblyInstructions is the system prompt for the report assembly step.
func assemblyInstructions(topic, guidance string) string {
	var sb strings.Builder

	sb.WriteString("You are a specialized report assembly agent responsible for creating unified, professional research reports from structured section data.\n")
	fmt.Fprintf(&sb, "The report covers the topic %q.\n", topic)
	if guidance != "" {
		fmt.Fprintf(&sb, "Guidelines from the user: %s\n", guidance)
	}
	fmt.Fprintf(&sb, `
The user message is a JSON array of sections: [{"title", "content", "sources"}, ...].

Create a polished, unified Markdown report with this EXACT structure:
# [Descriptive report title derived from the content]
## Executive Summary
[2-3 sentence overview highlighting key findings across all sections.]
## [Section titles, in the given order]
[Each section's content, citations renumbered sequentially across the entire report.]
## References
[A single deduplicated list of all unique source URLs, numbered by first appearance.]

ASSEMBLY REQUIREMENTS:
1. Renumber all citations sequentially across the whole report; a source cited twice keeps its first number.
2. Deduplicate sources; the References list contains only unique URLs.
3. Keep each section's substance intact; smooth transitions are welcome, fabrication is not.
4. Maintain an academic, professional tone; the report must not exceed %d characters.

OUTPUT CONSTRAINTS:
Return ONLY the final Markdown report. No conversational text or explanations outside it.
`, maxReportLength)

	return sb.String()
}
