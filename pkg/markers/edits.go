package markers

import (
	"fmt"
	"strconv"
	"strings"
)

var editOpcodes = map[string]EditOp{
	"replace-block": EditReplace,
	"add-block":     EditAdd,
	"delete-block":  EditDelete,
	"rewrite-file":  EditRewrite,
}

// ParseEditBlocks extracts "#<opcode>#|file|description|start[-end]" blocks. A block whose
// header fails validation is skipped with one warning per problem; parsing continues.
func ParseEditBlocks(doc string) ([]EditInstruction, []string) {
	lines := splitLines(doc)
	var edits []EditInstruction
	var warnings []string

	for _, b := range scanBlocks(lines) {
		if b.kind != blockEdit {
			continue
		}
		line := b.start + 1
		if b.end < 0 {
			warnings = append(warnings, malformed(line, "edit block is not closed with %s", EditCloser))
			continue
		}

		edit, problems := parseEditHeader(b.header)
		if len(problems) > 0 {
			for _, p := range problems {
				warnings = append(warnings, malformed(line, "%s", p))
			}
			continue
		}

		edit.Line = line
		if edit.Op != EditDelete {
			edit.Content = trimBlankLines(StripFences(b.body(lines)))
			edit.HasContent = b.end > b.start+1
		}
		edits = append(edits, edit)
	}
	return edits, warnings
}

// parseEditHeader validates a header line and returns human-readable problems.
func parseEditHeader(header string) (EditInstruction, []string) {
	m := editHeaderPattern.FindStringSubmatch(header)
	if m == nil {
		return EditInstruction{}, []string{fmt.Sprintf("not an edit header: %q", header)}
	}

	op, ok := editOpcodes[strings.ToLower(m[1])]
	if !ok {
		return EditInstruction{}, []string{fmt.Sprintf("unknown edit opcode %q", m[1])}
	}

	fields := strings.Split(m[2], "|")
	edit := EditInstruction{Op: op, File: strings.TrimSpace(fields[0])}
	var lineSpec string
	switch {
	case len(fields) == 2:
		edit.Description = strings.TrimSpace(fields[1])
	case len(fields) >= 3:
		edit.Description = strings.TrimSpace(strings.Join(fields[1:len(fields)-1], "|"))
		lineSpec = strings.TrimSpace(fields[len(fields)-1])
	}

	var problems []string
	if edit.File == "" {
		problems = append(problems, "edit block has no file path")
	}
	if op == EditRewrite {
		return edit, problems
	}

	start, end, hasEnd, err := parseLineSpec(lineSpec)
	if err != nil {
		return edit, append(problems, fmt.Sprintf("%s-block for %q: %v", op, edit.File, err))
	}
	if start == 0 {
		return edit, append(problems, fmt.Sprintf("%s-block for %q requires a start line", op, edit.File))
	}

	switch op {
	case EditAdd:
		if hasEnd {
			problems = append(problems, fmt.Sprintf("add-block for %q takes a single line, got range %s", edit.File, lineSpec))
		}
		edit.StartLine, edit.EndLine = start, start
	case EditReplace, EditDelete:
		if !hasEnd {
			end = start
		}
		if start > end {
			problems = append(problems, fmt.Sprintf("%s-block for %q: start line %d is after end line %d", op, edit.File, start, end))
		}
		edit.StartLine, edit.EndLine = start, end
	}
	return edit, problems
}

// parseLineSpec parses "n" or "n-m". An empty spec yields zeros.
func parseLineSpec(spec string) (start, end int, hasEnd bool, err error) {
	if spec == "" {
		return 0, 0, false, nil
	}
	first, second, found := strings.Cut(spec, "-")
	start, err = positiveInt(first)
	if err != nil {
		return 0, 0, false, err
	}
	if !found {
		return start, 0, false, nil
	}
	end, err = positiveInt(second)
	if err != nil {
		return 0, 0, false, err
	}
	return start, end, true, nil
}

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("line number %q is not a positive integer", s)
	}
	return n, nil
}
