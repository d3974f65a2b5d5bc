package contextset

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"taskpilot/pkg/utils"
)

const maxInlineFileBytes = 256 * 1024

// Budget controls how much of the workspace is rendered into the prompt.
type Budget struct {
	IncludeFileContents bool
	// MaxTokens bounds the whole context text. Zero means unbounded.
	MaxTokens int
	// Counter counts tokens; nil falls back to a character estimate.
	Counter *utils.TokenCounter
}

func (b Budget) remaining(used int) int {
	if b.MaxTokens <= 0 {
		return int(^uint(0) >> 1)
	}
	return b.MaxTokens - used
}

// BuildContext renders the included and excluded path lists and, when requested, the contents
// of included files. Files that do not fit the token budget, are binary or are too large are
// listed but not inlined.
func BuildContext(set *Set, budget Budget) (string, error) {
	included := set.SnapshotIncluded()
	excluded := set.SnapshotExcluded()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Workspace files in context (%d of max %d):\n", len(included), set.MaxSize())
	writeList(&sb, included)
	fmt.Fprintf(&sb, "\nWorkspace files not in context (%d):\n", len(excluded))
	writeList(&sb, excluded)

	if !budget.IncludeFileContents || len(included) == 0 {
		return sb.String(), nil
	}

	used := budget.Counter.CountTokens(sb.String())
	var skipped []string
	var contents strings.Builder
	for _, rel := range included {
		data, err := os.ReadFile(filepath.Join(set.Root(), filepath.FromSlash(rel)))
		if err != nil {
			if os.IsNotExist(err) {
				set.Forget(rel)
				continue
			}
			return "", fmt.Errorf("failed to read %s for context: %w", rel, err)
		}
		if len(data) > maxInlineFileBytes || !isText(data) {
			skipped = append(skipped, rel)
			continue
		}

		section := fmt.Sprintf("\nContents of %s:\n```\n%s\n```\n", rel, strings.TrimRight(string(data), "\n"))
		cost := budget.Counter.CountTokens(section)
		if cost > budget.remaining(used) {
			skipped = append(skipped, rel)
			continue
		}
		used += cost
		contents.WriteString(section)
	}

	sb.WriteString(contents.String())
	if len(skipped) > 0 {
		fmt.Fprintf(&sb, "\nFiles in context but not shown (budget, size or binary) (%d):\n", len(skipped))
		writeList(&sb, skipped)
	}
	return sb.String(), nil
}

func writeList(sb *strings.Builder, paths []string) {
	if len(paths) == 0 {
		sb.WriteString("(none)\n")
		return
	}
	for _, p := range paths {
		sb.WriteString("- ")
		sb.WriteString(p)
		sb.WriteByte('\n')
	}
}

func isText(data []byte) bool {
	return !bytes.ContainsRune(data, 0) && utf8.Valid(data)
}
