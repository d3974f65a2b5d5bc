package markers

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	stepHeaderPattern     = regexp.MustCompile(`(?i)^(?:#{1,6}\s+)?(?:\*\*)?\s*(\[long-running\]\s*)?step\s+(\d+)\s*(?:\*\*)?\s*[:.)]\s*(?:\*\*)?\s*(.*)$`)
	numberedHeaderPattern = regexp.MustCompile(`^(\[(?i:long-running)\]\s*)?(\d+)\.\s+(.*)$`)
)

type stepHeader struct {
	line        int
	ordinal     int
	text        string
	longRunning bool
}

// ParseSteps splits a plan into steps. "Step n:" headers take precedence; bare "n." lines are
// only used when the document has no "Step" headers, so numbered lists inside a step never split
// it. Headers inside file or edit blocks are ignored. Steps are sorted stably by ordinal.
func ParseSteps(doc string) ([]PlanStep, error) {
	lines := splitLines(doc)
	inside := insideBlocks(lines, scanBlocks(lines))

	headers := findStepHeaders(lines, inside, stepHeaderPattern)
	if len(headers) == 0 {
		headers = findStepHeaders(lines, inside, numberedHeaderPattern)
	}
	if len(headers) == 0 {
		return nil, ErrNoStepsFound
	}

	steps := make([]PlanStep, 0, len(headers))
	for i, h := range headers {
		end := len(lines)
		if i+1 < len(headers) {
			end = headers[i+1].line
		}
		body := strings.Join(lines[h.line+1:end], "\n")
		text := h.text
		if trimmed := strings.TrimSpace(body); trimmed != "" {
			text = strings.TrimSpace(text + "\n" + body)
		}
		steps = append(steps, PlanStep{
			Ordinal:     h.ordinal,
			Text:        text,
			LongRunning: h.longRunning,
		})
	}

	sort.SliceStable(steps, func(a, b int) bool { return steps[a].Ordinal < steps[b].Ordinal })
	return steps, nil
}

func findStepHeaders(lines []string, inside []bool, pattern *regexp.Regexp) []stepHeader {
	var headers []stepHeader
	for i, line := range lines {
		if inside[i] {
			continue
		}
		m := pattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		ordinal, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		text, tagged := stripLongRunning(strings.TrimRight(m[3], "* "))
		headers = append(headers, stepHeader{
			line:        i,
			ordinal:     ordinal,
			text:        text,
			longRunning: m[1] != "" || tagged,
		})
	}
	return headers
}

func stripLongRunning(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) >= len(LongRunningTag) && strings.EqualFold(trimmed[:len(LongRunningTag)], LongRunningTag) {
		return strings.TrimSpace(trimmed[len(LongRunningTag):]), true
	}
	return trimmed, false
}
