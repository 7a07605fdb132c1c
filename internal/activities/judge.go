package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/periscope-intel/periscope/go/researcher/internal/metrics"
	"github.com/periscope-intel/periscope/go/researcher/internal/models"
)

// ReviewCorpusInput hands a borderline corpus to the LLM judge for a
// tie-break verdict. The rules already decided the clear-cut cases.
type ReviewCorpusInput struct {
	OrganizationID string                   `json:"organization_id,omitempty"`
	Assessment     models.QualityAssessment `json:"assessment"`
	Documents      []models.Document        `json:"documents"`
}

// ReviewCorpusResult is the judge's structured verdict.
type ReviewCorpusResult struct {
	Sufficient   bool         `json:"sufficient"`
	Reasoning    string       `json:"reasoning,omitempty"`
	CriticalGaps []models.Gap `json:"critical_gaps,omitempty"`
	FailOpen     bool         `json:"fail_open,omitempty"`
}

type judgeVerdict struct {
	IsSufficient bool     `json:"is_sufficient"`
	Reasoning    string   `json:"reasoning"`
	CriticalGaps []string `json:"critical_gaps"`
}

// ReviewCorpus asks the judge whether a borderline corpus is sufficient.
// The judge can only make the gate stricter with reasons; if it fails or
// returns garbage the corpus is treated as sufficient, so a broken judge can
// never block the pipeline.
func (a *Activities) ReviewCorpus(ctx context.Context, in ReviewCorpusInput) (ReviewCorpusResult, error) {
	cfg := a.config()

	raw, err := a.callLLM(ctx, "quality-judge",
		reviewCorpusSystemPrompt,
		buildReviewCorpusContent(in, cfg.Quality.JudgeSampleSize),
		800, 0.0, cfg.Validation.Timeout)
	if err != nil {
		metrics.JudgeFailOpens.Inc()
		a.logger.Warn("ReviewCorpus: judge call failed, treating corpus as sufficient", zap.Error(err))
		return ReviewCorpusResult{Sufficient: true, FailOpen: true}, nil
	}

	jsonStr := extractJSON(raw)
	var verdict judgeVerdict
	if jsonStr == "" || json.Unmarshal([]byte(jsonStr), &verdict) != nil {
		metrics.JudgeFailOpens.Inc()
		a.logger.Warn("ReviewCorpus: malformed judge output, treating corpus as sufficient")
		return ReviewCorpusResult{Sufficient: true, FailOpen: true}, nil
	}

	out := ReviewCorpusResult{
		Sufficient: verdict.IsSufficient,
		Reasoning:  strings.TrimSpace(verdict.Reasoning),
	}
	for _, g := range verdict.CriticalGaps {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		out.CriticalGaps = append(out.CriticalGaps, models.Gap{
			Type:    models.GapTypeJudgeIdentified,
			Message: g,
		})
	}
	// An insufficient verdict with no named gap gives the gap-fill step
	// nothing to act on; hold the judge to its contract.
	if !out.Sufficient && len(out.CriticalGaps) == 0 {
		out.CriticalGaps = append(out.CriticalGaps, models.Gap{
			Type:    models.GapTypeJudgeIdentified,
			Message: "judge flagged corpus as insufficient",
		})
	}

	a.logger.Info("ReviewCorpus: verdict",
		zap.Bool("sufficient", out.Sufficient),
		zap.Int("critical_gaps", len(out.CriticalGaps)),
	)
	return out, nil
}

const reviewCorpusSystemPrompt = `You are a competitive intelligence quality reviewer. Given coverage statistics and a sample of a document corpus, decide whether the corpus is sufficient for briefing generation.

Respond with JSON only:
{
  "is_sufficient": true,
  "reasoning": "one or two sentences",
  "critical_gaps": ["specific missing coverage, one item per gap"]
}

Only mark the corpus insufficient if a concrete, fixable gap exists; list that gap in critical_gaps.`

func buildReviewCorpusContent(in ReviewCorpusInput, sampleSize int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Corpus: %d documents\n", in.Assessment.TotalDocuments)
	fmt.Fprintf(&b, "Has recent document: %v\n", in.Assessment.HasRecentDocument)

	if len(in.Assessment.PerTargetCoverageRate) > 0 {
		classes := make([]string, 0, len(in.Assessment.PerTargetCoverageRate))
		for class := range in.Assessment.PerTargetCoverageRate {
			classes = append(classes, class)
		}
		sort.Strings(classes)
		b.WriteString("Coverage by target class:\n")
		for _, class := range classes {
			fmt.Fprintf(&b, "- %s: %.0f%%\n", class, in.Assessment.PerTargetCoverageRate[class]*100)
		}
	}
	if len(in.Assessment.MinorGaps) > 0 {
		b.WriteString("Minor gaps already noted:\n")
		for _, g := range in.Assessment.MinorGaps {
			fmt.Fprintf(&b, "- %s\n", g.Message)
		}
	}

	docs := in.Documents
	if sampleSize > 0 && len(docs) > sampleSize {
		docs = docs[:sampleSize]
	}
	fmt.Fprintf(&b, "\nDocument sample (%d of %d):\n", len(docs), len(in.Documents))
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i, d.Title, truncateStr(d.Content, 250))
	}
	return b.String()
}
