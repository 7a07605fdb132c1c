package workflows

import (
	"sort"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/periscope-intel/periscope/go/researcher/internal/activities"
	"github.com/periscope-intel/periscope/go/researcher/internal/dedup"
	"github.com/periscope-intel/periscope/go/researcher/internal/metrics"
	"github.com/periscope-intel/periscope/go/researcher/internal/models"
	"github.com/periscope-intel/periscope/go/researcher/internal/timewindow"
)

// ResearchWorkflow runs the full research pipeline: resolve the time window,
// decompose the query, fan out searches, validate answers, spend the retry
// budget on unanswered sub-questions, synthesize and persist.
//
// Every external call degrades locally on failure. The only hard error is a
// missing query, because there is nothing reasonable to degrade to.
func ResearchWorkflow(ctx workflow.Context, input ResearchInput) (ResearchResult, error) {
	logger := workflow.GetLogger(ctx)

	if input.Query == "" {
		return ResearchResult{}, temporal.NewNonRetryableApplicationError(
			"query text is required", "InvalidInput", nil)
	}
	termsPer := input.TermsPerSubQuestion
	if termsPer <= 0 {
		termsPer = defaultTermsPerSubQuestion
	}

	if !workflow.IsReplaying(ctx) {
		metrics.ResearchRunsStarted.Inc()
	}
	startedAt := workflow.Now(ctx)

	window := timewindow.Resolve(input.Timeframe, workflow.Now(ctx))
	logger.Info("Research run starting",
		"query", input.Query,
		"window", window.Token,
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	})

	// Decompose. The activity falls back internally, so a failure here means
	// even the single-question fallback could not be produced.
	var decomposed activities.DecomposeResult
	err := workflow.ExecuteActivity(ctx, "DecomposeQuery", activities.DecomposeInput{
		Query:             input.Query,
		OrganizationID:    input.OrganizationID,
		WindowDescription: window.Description,
	}).Get(ctx, &decomposed)
	if err != nil {
		logger.Warn("Decomposition activity failed outright, using single-question plan", "error", err)
		decomposed = activities.DecomposeResult{
			SubQuestions: []models.SubQuestion{
				{Question: input.Query, Priority: 1, SearchTerms: []string{input.Query}},
			},
			Fallback: true,
		}
	}
	subs := decomposed.SubQuestions

	// Search fan-out: every sub-question's top terms, all in flight at once.
	// A failed provider call costs recall for one term, never the batch.
	hits, totalHits := runSearchRound(ctx, searchPlan(subs, termsPer), window)

	corpus := newMergedCorpus()
	corpus.addAll(ctx, hits)

	answers, unansweredIdx := runValidationRound(ctx, subs, corpus)
	for i := range subs {
		subs[i].Answered = !containsInt(unansweredIdx, i)
	}

	// Retry rounds are opt-in and bounded twice over: by round count and by
	// wall clock. A sub-question that failed its retry is never retried again.
	retryRounds := spendRetryBudget(ctx, input, subs, corpus, window, &answers)

	sort.Slice(answers, func(i, j int) bool {
		return answers[i].SubQuestionIndex < answers[j].SubQuestionIndex
	})
	var unanswered []string
	for _, sq := range subs {
		if !sq.Answered {
			unanswered = append(unanswered, sq.Question)
		}
	}

	var synth activities.SynthesizeResult
	err = workflow.ExecuteActivity(ctx, "SynthesizeReport", activities.SynthesizeInput{
		Query:      input.Query,
		Answers:    answers,
		Unanswered: unanswered,
	}).Get(ctx, &synth)
	if err != nil {
		// The activity already degrades internally; reaching this branch means
		// the worker itself was unavailable. Assemble the degraded report here.
		logger.Warn("Synthesis activity failed outright", "error", err)
		synth = activities.SynthesizeResult{Report: input.Query, Fallback: true}
	}

	runID := workflow.GetInfo(ctx).WorkflowExecution.ID
	persistErr := workflow.ExecuteActivity(ctx, "PersistReport", activities.ReportRecord{
		RunID:          runID,
		OrganizationID: input.OrganizationID,
		Query:          input.Query,
		Report:         synth.Report,
		Answers:        answers,
		Unanswered:     unanswered,
		Fallback:       synth.Fallback,
		CompletedAt:    workflow.Now(ctx),
	}).Get(ctx, nil)
	if persistErr != nil {
		// The report still goes back to the caller; losing the audit row is
		// not worth failing the run.
		logger.Error("Report persistence failed", "run_id", runID, "error", persistErr)
	}

	if !workflow.IsReplaying(ctx) {
		metrics.ResearchRunsCompleted.WithLabelValues("ok").Inc()
		metrics.ResearchRunDuration.Observe(workflow.Now(ctx).Sub(startedAt).Seconds())
	}
	logger.Info("Research run complete",
		"answers", len(answers),
		"unanswered", len(unanswered),
		"retry_rounds", retryRounds,
	)

	return ResearchResult{
		Query:          input.Query,
		Report:         synth.Report,
		Answers:        answers,
		Unanswered:     unanswered,
		RetryRounds:    retryRounds,
		TotalHits:      totalHits,
		UniqueHits:     corpus.uniqueCount(),
		ReportFallback: synth.Fallback,
	}, nil
}

// searchTask pairs one term with its sub-question.
type searchTask struct {
	SubQuestionIndex int
	Term             string
}

// searchPlan expands sub-questions into their top-N term tasks.
func searchPlan(subs []models.SubQuestion, termsPer int) []searchTask {
	var plan []searchTask
	for i, sq := range subs {
		terms := sq.SearchTerms
		if len(terms) > termsPer {
			terms = terms[:termsPer]
		}
		for _, term := range terms {
			plan = append(plan, searchTask{SubQuestionIndex: i, Term: term})
		}
	}
	return plan
}

// runSearchRound starts every search task concurrently and joins the results,
// tolerating individual failures.
func runSearchRound(ctx workflow.Context, plan []searchTask, window timewindow.Window) ([]models.SearchHit, int) {
	logger := workflow.GetLogger(ctx)

	futures := make([]workflow.Future, len(plan))
	for i, task := range plan {
		futures[i] = workflow.ExecuteActivity(ctx, "SearchTerm", activities.SearchTermInput{
			Term:             task.Term,
			SourceTypes:      []string{models.SourceTypeWeb, models.SourceTypeNews},
			RecencyFilter:    window.ProviderFilter,
			SubQuestionIndex: task.SubQuestionIndex,
		})
	}

	var hits []models.SearchHit
	total := 0
	for i, fut := range futures {
		var res activities.SearchTermResult
		if err := fut.Get(ctx, &res); err != nil {
			logger.Warn("Search activity failed",
				"term", plan[i].Term,
				"sub_question", plan[i].SubQuestionIndex,
				"error", err,
			)
			continue
		}
		total += len(res.Hits)
		hits = append(hits, res.Hits...)
	}
	return hits, total
}

// mergedCorpus deduplicates hits globally by canonical URL while keeping each
// hit eligible for every sub-question whose terms surfaced it.
type mergedCorpus struct {
	seen    map[string]bool // canonical URL -> in corpus
	subSeen map[int]map[string]bool
	perSub  map[int][]models.SearchHit
	unique  int
}

func newMergedCorpus() *mergedCorpus {
	return &mergedCorpus{
		seen:    make(map[string]bool),
		subSeen: make(map[int]map[string]bool),
		perSub:  make(map[int][]models.SearchHit),
	}
}

// addAll merges hits: first occurrence of a URL wins globally, repeats from a
// different sub-question still join that sub-question's validation set.
// Returns the hits actually admitted by this call.
func (c *mergedCorpus) addAll(ctx workflow.Context, hits []models.SearchHit) []models.SearchHit {
	var admitted []models.SearchHit
	dropped := 0
	for _, h := range hits {
		canonical := dedup.CanonicalURL(h.URL)
		if canonical == "" {
			continue
		}
		sub := h.OriginSubQuestion
		if c.subSeen[sub] == nil {
			c.subSeen[sub] = make(map[string]bool)
		}
		if c.subSeen[sub][canonical] {
			dropped++
			continue
		}
		c.subSeen[sub][canonical] = true
		c.perSub[sub] = append(c.perSub[sub], h)
		admitted = append(admitted, h)
		if !c.seen[canonical] {
			c.seen[canonical] = true
			c.unique++
		} else {
			dropped++
		}
	}
	if dropped > 0 && !workflow.IsReplaying(ctx) {
		metrics.DuplicatesDropped.Add(float64(dropped))
	}
	return admitted
}

func (c *mergedCorpus) hitsFor(sub int) []models.SearchHit { return c.perSub[sub] }
func (c *mergedCorpus) uniqueCount() int                   { return c.unique }

// runValidationRound validates every sub-question concurrently, one judge
// call each. Returns the validated answers and the indexes that stayed
// unanswered.
func runValidationRound(ctx workflow.Context, subs []models.SubQuestion, corpus *mergedCorpus) ([]models.ValidatedAnswer, []int) {
	logger := workflow.GetLogger(ctx)

	futures := make([]workflow.Future, len(subs))
	for i := range subs {
		futures[i] = workflow.ExecuteActivity(ctx, "ValidateAnswer", activities.ValidateAnswerInput{
			SubQuestion:      subs[i].Question,
			SubQuestionIndex: i,
			Hits:             corpus.hitsFor(i),
		})
	}

	var answers []models.ValidatedAnswer
	var unanswered []int
	for i := range subs {
		var res activities.ValidateAnswerResult
		if err := futures[i].Get(ctx, &res); err != nil {
			logger.Warn("Validation activity failed", "sub_question", i, "error", err)
			unanswered = append(unanswered, i)
			continue
		}
		if res.Answered && res.Answer != nil {
			answers = append(answers, *res.Answer)
		} else {
			unanswered = append(unanswered, i)
		}
	}
	return answers, unanswered
}

// spendRetryBudget runs up to the configured number of retry rounds over
// unanswered sub-questions, priority-1 first, under a wall-clock ceiling.
// Returns the number of rounds actually executed.
func spendRetryBudget(ctx workflow.Context, input ResearchInput, subs []models.SubQuestion, corpus *mergedCorpus, window timewindow.Window, answers *[]models.ValidatedAnswer) int {
	logger := workflow.GetLogger(ctx)

	maxRounds := input.MaxRetryRounds
	if maxRounds <= 0 {
		return 0
	}
	budgetSeconds := input.RetryBudgetSeconds
	if budgetSeconds <= 0 {
		budgetSeconds = defaultRetryBudgetSeconds
	}
	deadline := workflow.Now(ctx).Add(time.Duration(budgetSeconds) * time.Second)

	rounds := 0
	for rounds < maxRounds {
		// Budget state is checked before starting new work, never mid-call.
		if !workflow.Now(ctx).Before(deadline) {
			logger.Info("Retry wall-clock budget exhausted", "rounds", rounds)
			break
		}

		// Each sub-question gets one retry ever, highest priority first.
		var eligible []int
		for i, sq := range subs {
			if !sq.Answered && sq.RetryCount == 0 {
				eligible = append(eligible, i)
			}
		}
		if len(eligible) == 0 {
			break
		}
		sort.Slice(eligible, func(a, b int) bool {
			return subs[eligible[a]].Priority < subs[eligible[b]].Priority
		})

		rounds++
		if !workflow.IsReplaying(ctx) {
			metrics.RetryRounds.Inc()
		}
		logger.Info("Retry round starting", "round", rounds, "unanswered", len(eligible))

		for _, i := range eligible {
			if !workflow.Now(ctx).Before(deadline) {
				logger.Info("Retry wall-clock budget exhausted mid-round", "round", rounds)
				break
			}
			subs[i].RetryCount++

			var alt activities.AlternativeTermsResult
			err := workflow.ExecuteActivity(ctx, "GenerateAlternativeTerms", activities.AlternativeTermsInput{
				SubQuestion:   subs[i].Question,
				OriginalTerms: subs[i].SearchTerms,
			}).Get(ctx, &alt)
			if err != nil || len(alt.Terms) == 0 {
				logger.Warn("No alternative terms for sub-question", "sub_question", i, "error", err)
				continue
			}

			plan := make([]searchTask, 0, len(alt.Terms))
			for _, term := range alt.Terms {
				plan = append(plan, searchTask{SubQuestionIndex: i, Term: term})
			}
			hits, _ := runSearchRound(ctx, plan, window)
			// Validation is scoped to hits this round actually surfaced;
			// hits that failed validation the first time stay failed.
			admitted := corpus.addAll(ctx, hits)
			if len(admitted) == 0 {
				continue
			}

			var res activities.ValidateAnswerResult
			err = workflow.ExecuteActivity(ctx, "ValidateAnswer", activities.ValidateAnswerInput{
				SubQuestion:      subs[i].Question,
				SubQuestionIndex: i,
				Hits:             admitted,
			}).Get(ctx, &res)
			if err != nil {
				logger.Warn("Retry validation failed", "sub_question", i, "error", err)
				continue
			}
			if res.Answered && res.Answer != nil {
				subs[i].Answered = true
				*answers = append(*answers, *res.Answer)
			}
		}
	}
	return rounds
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
