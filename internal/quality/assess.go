// Package quality implements the rule-based corpus pre-check that decides
// PROCEED or SEARCH_GAPS before any LLM judge is consulted. Everything here
// is deterministic and side-effect free so it can run inside workflow code.
package quality

import (
	"fmt"
	"strings"
	"time"

	"github.com/periscope-intel/periscope/go/researcher/internal/models"
	"github.com/periscope-intel/periscope/go/researcher/internal/registry"
)

// Thresholds configures the rule engine. Zero values fall back to defaults.
type Thresholds struct {
	MinDocuments          int           // minimum corpus size (default 5)
	RecencyWindow         time.Duration // at least one document this fresh (default 48h)
	TopCompetitors        int           // how many top-priority competitors must have coverage (default 3)
	LowCoverageFloor      float64       // below this, a minor low_coverage gap is noted (default 0.5)
	ReviewCompetitorRate  float64       // judge-review escalation: competitor coverage below this... (default 0.25)
	ReviewStakeholderRate float64       // ...AND stakeholder coverage at or below this (default 0)
}

func (t Thresholds) withDefaults() Thresholds {
	if t.MinDocuments <= 0 {
		t.MinDocuments = 5
	}
	if t.RecencyWindow <= 0 {
		t.RecencyWindow = 48 * time.Hour
	}
	if t.TopCompetitors <= 0 {
		t.TopCompetitors = 3
	}
	if t.LowCoverageFloor <= 0 {
		t.LowCoverageFloor = 0.5
	}
	if t.ReviewCompetitorRate <= 0 {
		t.ReviewCompetitorRate = 0.25
	}
	return t
}

// Assess runs the rule-based checks over a corpus. criticalGaps empty is
// necessary and sufficient for PROCEED on this path; the judge-review
// escalation never adds a critical gap, it only flags the borderline case.
func Assess(docs []models.Document, targets []registry.Entity, now time.Time, t Thresholds) models.QualityAssessment {
	t = t.withDefaults()

	assessment := models.QualityAssessment{
		TotalDocuments:        len(docs),
		PerTargetCoverageRate: make(map[string]float64),
	}

	if len(docs) == 0 {
		// Nothing to gate; the caller decides whether "no data" proceeds.
		assessment.Decision = models.DecisionSearchGaps
		assessment.Reason = "empty corpus"
		assessment.CriticalGaps = append(assessment.CriticalGaps, models.Gap{
			Type:    models.GapTypeInsufficientArticles,
			Message: "corpus is empty",
		})
		return assessment
	}

	if len(docs) < t.MinDocuments {
		assessment.CriticalGaps = append(assessment.CriticalGaps, models.Gap{
			Type:    models.GapTypeInsufficientArticles,
			Message: fmt.Sprintf("only %d documents gathered, minimum is %d", len(docs), t.MinDocuments),
		})
	}

	cutoff := now.Add(-t.RecencyWindow)
	for _, d := range docs {
		if d.PublishedAt != nil && !d.PublishedAt.Before(cutoff) {
			assessment.HasRecentDocument = true
			break
		}
	}
	if !assessment.HasRecentDocument {
		assessment.CriticalGaps = append(assessment.CriticalGaps, models.Gap{
			Type:    models.GapTypeNoRecentArticles,
			Message: fmt.Sprintf("no document published within the last %s", t.RecencyWindow),
		})
	}

	byClass := splitByClass(targets)
	for class, entities := range byClass {
		assessment.PerTargetCoverageRate[class] = coverageRate(docs, entities)
	}

	topCompetitors := topPriority(byClass[registry.ClassCompetitor], t.TopCompetitors)
	if len(topCompetitors) > 0 && coverageRate(docs, topCompetitors) == 0 {
		assessment.CriticalGaps = append(assessment.CriticalGaps, models.Gap{
			Type:    models.GapTypeZeroTopCompetitorCoverage,
			Message: fmt.Sprintf("none of the top %d competitors are mentioned: %s", len(topCompetitors), names(topCompetitors)),
		})
	}

	for class, rate := range assessment.PerTargetCoverageRate {
		if rate > 0 && rate < t.LowCoverageFloor {
			assessment.MinorGaps = append(assessment.MinorGaps, models.Gap{
				Type:    models.GapTypeLowCoverage,
				Message: fmt.Sprintf("%s coverage is %.0f%%", class, rate*100),
			})
		}
	}

	if len(assessment.CriticalGaps) > 0 {
		assessment.Decision = models.DecisionSearchGaps
		assessment.Reason = "rule-based critical gaps"
		return assessment
	}

	// Combined-coverage escalation: extremely poor coverage with no literal
	// critical gap is a judgment call the rules cannot settle, so it is
	// flagged for judge review instead of auto-accepted.
	compRate, compTracked := assessment.PerTargetCoverageRate[registry.ClassCompetitor]
	stakeRate := assessment.PerTargetCoverageRate[registry.ClassStakeholder]
	if compTracked && compRate < t.ReviewCompetitorRate && stakeRate <= t.ReviewStakeholderRate {
		assessment.NeedsJudgeReview = true
		assessment.Reason = fmt.Sprintf("combined coverage borderline: competitors %.0f%%, stakeholders %.0f%%",
			compRate*100, stakeRate*100)
	}

	assessment.Decision = models.DecisionProceed
	if assessment.Reason == "" {
		assessment.Reason = "rule-based checks passed"
	}
	return assessment
}

// BuildGapContext turns an assessment into a structured description of what
// is missing, for the discovery service to act on.
func BuildGapContext(assessment models.QualityAssessment, docs []models.Document, targets []registry.Entity) models.GapContext {
	gc := models.GapContext{GapType: dominantGapType(assessment)}

	for _, e := range targets {
		if entityCovered(docs, e) {
			continue
		}
		gc.MissingEntities = append(gc.MissingEntities, models.MissingEntity{
			Name:     e.Name,
			Type:     e.Class,
			Priority: e.Priority,
			Reason:   "no corpus document mentions this target",
		})
	}

	seenAreas := make(map[string]bool)
	for _, gap := range assessment.CriticalGaps {
		if !seenAreas[gap.Type] {
			gc.PriorityAreas = append(gc.PriorityAreas, gap.Type)
			seenAreas[gap.Type] = true
		}
	}

	switch gc.GapType {
	case models.GapTypeInsufficientArticles:
		gc.StrategicFocus = "broaden source variety to raise overall document volume"
	case models.GapTypeNoRecentArticles:
		gc.StrategicFocus = "prioritize fresh news coverage over archival material"
	case models.GapTypeZeroTopCompetitorCoverage:
		gc.StrategicFocus = "target the named competitors directly, including their official channels"
	default:
		gc.StrategicFocus = "fill the named coverage gaps"
	}
	return gc
}

func dominantGapType(a models.QualityAssessment) string {
	if len(a.CriticalGaps) > 0 {
		return a.CriticalGaps[0].Type
	}
	if len(a.MinorGaps) > 0 {
		return a.MinorGaps[0].Type
	}
	return models.GapTypeLowCoverage
}

func splitByClass(targets []registry.Entity) map[string][]registry.Entity {
	out := make(map[string][]registry.Entity)
	for _, e := range targets {
		out[e.Class] = append(out[e.Class], e)
	}
	return out
}

func topPriority(entities []registry.Entity, n int) []registry.Entity {
	if len(entities) > n {
		return entities[:n]
	}
	return entities
}

func coverageRate(docs []models.Document, entities []registry.Entity) float64 {
	if len(entities) == 0 {
		return 1.0
	}
	covered := 0
	for _, e := range entities {
		if entityCovered(docs, e) {
			covered++
		}
	}
	return float64(covered) / float64(len(entities))
}

func entityCovered(docs []models.Document, e registry.Entity) bool {
	for _, d := range docs {
		if e.Mentioned(d.Title) || e.Mentioned(d.Content) {
			return true
		}
	}
	return false
}

func names(entities []registry.Entity) string {
	parts := make([]string, 0, len(entities))
	for _, e := range entities {
		parts = append(parts, e.Name)
	}
	return strings.Join(parts, ", ")
}
