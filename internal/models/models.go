// Package models holds the domain types shared between activities, workflows
// and the HTTP API. All types are JSON-serializable so they survive Temporal
// payload conversion unchanged.
package models

import "time"

// SubQuestion is one decomposed, independently answerable facet of a query.
// Priority 1 is most critical; priority breaks ties when only a partial retry
// budget remains.
type SubQuestion struct {
	Question    string   `json:"question"`
	Priority    int      `json:"priority"` // 1..3
	SearchTerms []string `json:"search_terms"`
	Answered    bool     `json:"answered"`
	RetryCount  int      `json:"retry_count"`
}

// Source types for search hits.
const (
	SourceTypeWeb  = "web"
	SourceTypeNews = "news"
)

// SearchHit is a single raw result from the search provider, tagged with the
// sub-question whose term surfaced it.
type SearchHit struct {
	Title             string     `json:"title"`
	URL               string     `json:"url"`
	Snippet           string     `json:"snippet,omitempty"`
	PublishedAt       *time.Time `json:"published_at,omitempty"`
	SourceType        string     `json:"source_type"` // web|news
	OriginSubQuestion int        `json:"origin_sub_question"`
}

// AnswerSource is one source backing a validated answer.
type AnswerSource struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Excerpt     string     `json:"excerpt,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Relevance   float64    `json:"relevance"` // 0.0-1.0
}

// ValidatedAnswer exists only when at least one source cleared the confidence
// floor for its sub-question.
type ValidatedAnswer struct {
	SubQuestion      string         `json:"sub_question"`
	SubQuestionIndex int            `json:"sub_question_index"`
	AnswerText       string         `json:"answer_text"`
	Confidence       float64        `json:"confidence"` // max confidence among kept sources
	Sources          []AnswerSource `json:"sources"`
}

// Document is one corpus entry on the quality-gate path. Monitoring feeds and
// gap-fill discovery both produce documents of this shape.
type Document struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Content     string     `json:"content,omitempty"`
	Source      string     `json:"source,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Quality gate decisions.
const (
	DecisionProceed    = "PROCEED"
	DecisionSearchGaps = "SEARCH_GAPS"
)

// Gap severity and well-known gap types.
const (
	GapTypeInsufficientArticles      = "insufficient_articles"
	GapTypeZeroTopCompetitorCoverage = "zero_top_competitor_coverage"
	GapTypeNoRecentArticles          = "no_recent_articles"
	GapTypeLowCoverage               = "low_coverage"
	GapTypeJudgeIdentified           = "judge_identified"
)

// Gap describes one coverage/volume/recency deficiency. Critical gaps justify
// spending a retry round; minor gaps are logged and never block.
type Gap struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// QualityAssessment is the quality gate's verdict over a corpus.
type QualityAssessment struct {
	TotalDocuments        int                `json:"total_documents"`
	PerTargetCoverageRate map[string]float64 `json:"per_target_coverage_rate"` // entity class -> fraction covered
	HasRecentDocument     bool               `json:"has_recent_document"`
	CriticalGaps          []Gap              `json:"critical_gaps"`
	MinorGaps             []Gap              `json:"minor_gaps"`
	Decision              string             `json:"decision"` // PROCEED|SEARCH_GAPS
	NeedsJudgeReview      bool               `json:"needs_judge_review,omitempty"`
	Reason                string             `json:"reason,omitempty"`
}

// MissingEntity names one registry target absent from the corpus.
type MissingEntity struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // competitor|stakeholder|topic
	Priority int    `json:"priority"`
	Reason   string `json:"reason,omitempty"`
}

// GapContext is a structured description of what a corpus is missing. It is
// handed to the discovery service so the downstream strategy step decides
// *how* to search, not just what string to send.
type GapContext struct {
	GapType         string          `json:"gap_type"`
	MissingEntities []MissingEntity `json:"missing_entities,omitempty"`
	StrategicFocus  string          `json:"strategic_focus,omitempty"`
	PriorityAreas   []string        `json:"priority_areas,omitempty"`
}
