// Package formatting post-processes synthesized reports so every delivered
// report carries a complete, canonical Sources section.
package formatting

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/periscope-intel/periscope/go/researcher/internal/models"
)

// citationMarker matches inline markers of the form [subQuestion.source].
var citationMarker = regexp.MustCompile(`\[(\d{1,3})\.(\d{1,3})\]`)

// AppendSources replaces whatever Sources section the report writer produced
// with one rebuilt from the validated answers. Every kept source is listed,
// whether or not the narrative cited it; sources the narrative did cite are
// marked. An empty report is returned unchanged.
func AppendSources(report string, answers []models.ValidatedAnswer) string {
	body := strings.TrimSpace(report)
	if body == "" || len(answers) == 0 {
		return report
	}

	cited := map[string]bool{}
	for _, m := range citationMarker.FindAllStringSubmatch(body, -1) {
		cited[m[1]+"."+m[2]] = true
	}

	// Cut from the LAST "## Sources" so a heading mentioned mid-narrative
	// does not truncate real content.
	lower := strings.ToLower(body)
	if idx := strings.LastIndex(lower, "## sources"); idx != -1 {
		body = strings.TrimSpace(body[:idx])
	}

	var lines []string
	for _, ans := range answers {
		for j, src := range ans.Sources {
			marker := fmt.Sprintf("%d.%d", ans.SubQuestionIndex, j)
			line := fmt.Sprintf("[%s] %s (%s)", marker, sourceTitle(src), src.URL)
			if cited[marker] {
				line += " — cited inline"
			}
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return body
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n\n## Sources\n")
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

func sourceTitle(src models.AnswerSource) string {
	if t := strings.TrimSpace(src.Title); t != "" {
		return t
	}
	return "Untitled"
}
