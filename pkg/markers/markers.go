// Package markers extracts structured instructions from model output.
//
// The grammar is line oriented:
//
//	### path/to/file          file block header
//	...content...
//	%%%                       file block closer
//
//	#replace-block#|path|description|5-7
//	...content...
//	#end-block#
//
//	Step 1: [LONG-RUNNING] text
//	$ shell command
//
// Malformed blocks never abort a document. They are reported as warnings and skipped.
package markers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Marker tokens.
const (
	FileHeaderPrefix = "###"
	FileCloser       = "%%%"
	EditCloser       = "#end-block#"
	CommandPrefix    = "$ "
	LongRunningTag   = "[LONG-RUNNING]"
)

var (
	// ErrNoStepsFound is returned when a plan document contains no step headers.
	ErrNoStepsFound = errors.New("no steps found in plan")
	// ErrMalformedBlock marks a block that was dropped. It only appears inside warning strings.
	ErrMalformedBlock = errors.New("malformed block")
)

// PlanStep is one step of a plan.
type PlanStep struct {
	Ordinal     int
	Text        string
	LongRunning bool
}

// Title returns the first line of the step text.
func (s PlanStep) Title() string {
	title, _, _ := strings.Cut(s.Text, "\n")
	return title
}

// FileInstruction creates or overwrites a whole file.
type FileInstruction struct {
	Path    string
	Content string
	Line    int // 1-based header line in the source document
}

// EditOp is the kind of line-level edit.
type EditOp string

// Edit opcodes.
const (
	EditReplace EditOp = "replace"
	EditAdd     EditOp = "add"
	EditDelete  EditOp = "delete"
	EditRewrite EditOp = "rewrite"
)

// EditInstruction changes part of a file. Line numbers are 1-based and inclusive.
type EditInstruction struct {
	Op          EditOp
	File        string
	Description string
	StartLine   int
	EndLine     int
	Content     string
	HasContent  bool
	Line        int // 1-based header line in the source document
}

// Change is either a file or an edit instruction.
type Change struct {
	File *FileInstruction
	Edit *EditInstruction
}

// Target returns the path the change touches.
func (c Change) Target() string {
	if c.File != nil {
		return c.File.Path
	}
	if c.Edit != nil {
		return c.Edit.File
	}
	return ""
}

func (c Change) line() int {
	if c.File != nil {
		return c.File.Line
	}
	if c.Edit != nil {
		return c.Edit.Line
	}
	return 0
}

// Instructions is everything actionable in one model response.
type Instructions struct {
	Files    []FileInstruction
	Edits    []EditInstruction
	Commands []string
	Warnings []string
}

// Changes merges files and edits in document order.
func (in *Instructions) Changes() []Change {
	changes := make([]Change, 0, len(in.Files)+len(in.Edits))
	for i := range in.Files {
		changes = append(changes, Change{File: &in.Files[i]})
	}
	for i := range in.Edits {
		changes = append(changes, Change{Edit: &in.Edits[i]})
	}
	sort.SliceStable(changes, func(a, b int) bool { return changes[a].line() < changes[b].line() })
	return changes
}

// Empty reports whether the response carried no file changes and no commands.
func (in *Instructions) Empty() bool {
	return len(in.Files) == 0 && len(in.Edits) == 0 && len(in.Commands) == 0
}

// ParseInstructions extracts file blocks, edit blocks and commands from a response.
func ParseInstructions(doc string) Instructions {
	files, fileWarnings := ParseFileBlocks(doc)
	edits, editWarnings := ParseEditBlocks(doc)
	warnings := make([]string, 0, len(fileWarnings)+len(editWarnings))
	warnings = append(warnings, fileWarnings...)
	warnings = append(warnings, editWarnings...)
	return Instructions{
		Files:    files,
		Edits:    edits,
		Commands: ParseCommands(doc),
		Warnings: warnings,
	}
}

func malformed(line int, format string, args ...any) string {
	return fmt.Errorf("line %d: %w: %s", line, ErrMalformedBlock, fmt.Sprintf(format, args...)).Error()
}

func splitLines(doc string) []string {
	doc = strings.ReplaceAll(doc, "\r\n", "\n")
	return strings.Split(doc, "\n")
}
