package markers

import "strings"

// StripFences removes an enclosing code fence (``` or ~~~ with an optional language tag) or a
// single-backtick wrapper. Leading and trailing blank lines are dropped; inner indentation is kept.
func StripFences(s string) string {
	lines := splitLines(trimBlankLines(s))
	if len(lines) == 0 {
		return ""
	}

	first := strings.TrimSpace(lines[0])
	if n, char := fenceRun(first); n >= 3 && len(lines) >= 2 {
		last := strings.TrimSpace(lines[len(lines)-1])
		if closing, closeChar := fenceRun(last); closeChar == char && closing >= n && closing == len(last) {
			return trimBlankLines(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}

	if len(lines) == 1 && len(first) >= 2 && first[0] == '`' && first[len(first)-1] == '`' && !strings.HasPrefix(first, "``") {
		return first[1 : len(first)-1]
	}
	return strings.Join(lines, "\n")
}

// fenceRun reports how many fence characters open the line and which character it is.
func fenceRun(trimmed string) (int, byte) {
	if trimmed == "" || (trimmed[0] != '`' && trimmed[0] != '~') {
		return 0, 0
	}
	char := trimmed[0]
	n := 0
	for n < len(trimmed) && trimmed[n] == char {
		n++
	}
	return n, char
}

// trimBlankLines drops whitespace-only lines at both ends.
func trimBlankLines(s string) string {
	lines := splitLines(s)
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}
