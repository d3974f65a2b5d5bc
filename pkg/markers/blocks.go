package markers

import (
	"regexp"
	"strings"
)

type blockKind int

const (
	blockFile blockKind = iota + 1
	blockEdit
)

// block is a header line and its closer, as indexes into the document lines.
// end is -1 for a block that never closes.
type block struct {
	kind   blockKind
	start  int
	end    int
	header string
}

func (b block) body(lines []string) string {
	if b.end < 0 {
		return ""
	}
	return strings.Join(lines[b.start+1:b.end], "\n")
}

var editHeaderPattern = regexp.MustCompile(`^#([A-Za-z][A-Za-z-]*)#\|(.*)$`)

// fileHeaderPath returns the path of a "### path" line. A heading whose text contains
// whitespace is ordinary markdown, not a header.
func fileHeaderPath(trimmed string) (string, bool) {
	if !strings.HasPrefix(trimmed, FileHeaderPrefix) {
		return "", false
	}
	rest := trimmed[len(FileHeaderPrefix):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	path := strings.Trim(strings.TrimSpace(rest), "`*\"'")
	if strings.ContainsAny(path, " \t") {
		return "", false
	}
	return path, true
}

func isEditHeader(trimmed string) bool {
	return editHeaderPattern.MatchString(trimmed)
}

func headerKind(trimmed string) (blockKind, string) {
	if _, ok := fileHeaderPath(trimmed); ok {
		return blockFile, FileCloser
	}
	if isEditHeader(trimmed) {
		return blockEdit, EditCloser
	}
	return 0, ""
}

// scanBlocks finds file and edit blocks in one pass. Lines inside a closed block are body.
// A block is unterminated when another header appears before its closer; scanning resumes at
// that header.
func scanBlocks(lines []string) []block {
	var blocks []block
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		kind, closer := headerKind(trimmed)
		if kind == 0 {
			continue
		}

		b := block{kind: kind, start: i, end: -1, header: trimmed}
		resume := -1
		for j := i + 1; j < len(lines); j++ {
			next := strings.TrimSpace(lines[j])
			if next == closer {
				b.end = j
				break
			}
			if k, _ := headerKind(next); k != 0 {
				resume = j
				break
			}
		}
		blocks = append(blocks, b)
		switch {
		case b.end >= 0:
			i = b.end
		case resume >= 0:
			i = resume - 1
		}
	}
	return blocks
}

// insideBlocks marks every line that belongs to a closed block, header and closer included.
func insideBlocks(lines []string, blocks []block) []bool {
	inside := make([]bool, len(lines))
	for _, b := range blocks {
		if b.end < 0 {
			continue
		}
		for i := b.start; i <= b.end; i++ {
			inside[i] = true
		}
	}
	return inside
}

// ParseFileBlocks extracts "### path" ... "%%%" blocks in document order.
func ParseFileBlocks(doc string) ([]FileInstruction, []string) {
	lines := splitLines(doc)
	var files []FileInstruction
	var warnings []string

	for _, b := range scanBlocks(lines) {
		if b.kind != blockFile {
			continue
		}
		path, _ := fileHeaderPath(b.header)
		if b.end < 0 {
			warnings = append(warnings, malformed(b.start+1, "file block %q is not closed with %s", path, FileCloser))
			continue
		}
		if path == "" {
			warnings = append(warnings, malformed(b.start+1, "file block has no path"))
			continue
		}
		files = append(files, FileInstruction{
			Path:    path,
			Content: strings.TrimSpace(StripFences(b.body(lines))),
			Line:    b.start + 1,
		})
	}
	return files, warnings
}

// ParseCommands returns "$ command" lines in order, ignoring lines inside file and edit blocks.
func ParseCommands(doc string) []string {
	lines := splitLines(doc)
	inside := insideBlocks(lines, scanBlocks(lines))

	var commands []string
	for i, line := range lines {
		if inside[i] {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, CommandPrefix) {
			continue
		}
		if cmd := strings.TrimSpace(trimmed[len(CommandPrefix):]); cmd != "" {
			commands = append(commands, cmd)
		}
	}
	return commands
}
