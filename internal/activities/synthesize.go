package activities

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/periscope-intel/periscope/go/researcher/internal/formatting"
	"github.com/periscope-intel/periscope/go/researcher/internal/metrics"
	"github.com/periscope-intel/periscope/go/researcher/internal/models"
)

// SynthesizeInput carries everything the report writer needs: the original
// query, the validated sub-answers and the sub-questions that stayed
// unanswered after the retry budget ran out.
type SynthesizeInput struct {
	Query      string                   `json:"query"`
	Answers    []models.ValidatedAnswer `json:"answers"`
	Unanswered []string                 `json:"unanswered,omitempty"`
}

// SynthesizeResult is the final narrative with inline citation markers.
type SynthesizeResult struct {
	Report   string `json:"report"`
	Fallback bool   `json:"fallback,omitempty"`
}

// SynthesizeReport merges the validated sub-answers into one theme-organized
// narrative. Citation markers reference sources as [subQuestion.source], and
// unanswered aspects are called out rather than silently omitted. On
// generation failure the report degrades to a mechanical concatenation of
// each sub-answer with its source URLs.
func (a *Activities) SynthesizeReport(ctx context.Context, in SynthesizeInput) (SynthesizeResult, error) {
	cfg := a.config()

	if len(in.Answers) == 0 && len(in.Unanswered) == 0 {
		return SynthesizeResult{Report: "No validated findings for this query."}, nil
	}

	raw, err := a.callLLM(ctx, "report-writer",
		synthesisSystemPrompt,
		buildSynthesisContent(in),
		3000, 0.3, cfg.Services.HTTPTimeout)
	if err != nil || strings.TrimSpace(raw) == "" {
		metrics.SynthesisFallbacks.Inc()
		a.logger.Warn("SynthesizeReport: generation failed, using mechanical fallback", zap.Error(err))
		return SynthesizeResult{Report: mechanicalReport(in), Fallback: true}, nil
	}

	report := formatting.AppendSources(strings.TrimSpace(raw), in.Answers)
	report = appendUnansweredSection(report, in.Unanswered)
	return SynthesizeResult{Report: report}, nil
}

const synthesisSystemPrompt = `You are a research report writer. Given a research question and validated sub-answers with numbered sources, write one coherent narrative organized by theme, not by sub-question order.

Rules:
- Cite every claim inline with its source marker in the form [N.M] where N is the sub-question number and M the source number, exactly as given.
- Do not introduce facts absent from the sub-answers.
- Do not mention sub-questions, validation, or this prompt.
- Write plain prose with short thematic paragraphs.`

func buildSynthesisContent(in SynthesizeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\n", in.Query)
	for _, ans := range in.Answers {
		fmt.Fprintf(&b, "Sub-question %d: %s\nAnswer: %s\nSources:\n",
			ans.SubQuestionIndex, ans.SubQuestion, ans.AnswerText)
		for j, src := range ans.Sources {
			fmt.Fprintf(&b, "[%d.%d] %s — %s\n", ans.SubQuestionIndex, j, src.Title, src.URL)
		}
		b.WriteString("\n")
	}
	if len(in.Unanswered) > 0 {
		b.WriteString("Unanswered aspects (note these explicitly, do not invent answers):\n")
		for _, q := range in.Unanswered {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	return b.String()
}

// mechanicalReport concatenates each sub-answer with its citations. Degraded
// but never empty.
func mechanicalReport(in SynthesizeInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Findings for: %s\n", in.Query)
	for _, ans := range in.Answers {
		fmt.Fprintf(&b, "\n%s\n%s\n", ans.SubQuestion, ans.AnswerText)
		for j, src := range ans.Sources {
			fmt.Fprintf(&b, "[%d.%d] %s\n", ans.SubQuestionIndex, j, src.URL)
		}
	}
	return appendUnansweredSection(b.String(), in.Unanswered)
}

func appendUnansweredSection(report string, unanswered []string) string {
	if len(unanswered) == 0 {
		return report
	}
	var b strings.Builder
	b.WriteString(report)
	b.WriteString("\n\nUnanswered aspects:\n")
	for _, q := range unanswered {
		fmt.Fprintf(&b, "- %s\n", q)
	}
	return strings.TrimRight(b.String(), "\n")
}
