// Package materialize applies parsed file and edit instructions to the workspace.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"taskpilot/pkg/logx"
	"taskpilot/pkg/markers"
)

var (
	// ErrNotLonger vetoes an overwrite whose trimmed content is not longer than the existing file.
	// Callers treat it as a skip, not a failure.
	ErrNotLonger = errors.New("new content is not longer than existing file")
	// ErrPathOutsideWorkspace rejects absolute paths and paths that escape the workspace root.
	ErrPathOutsideWorkspace = errors.New("path is outside the workspace")
	// ErrFileNotFound is returned by line edits on a missing file.
	ErrFileNotFound = errors.New("file not found")
)

// ContextIncluder receives paths of files the materializer wrote.
type ContextIncluder interface {
	Include(path string) error
}

// Observer is notified of every applied instruction ("created", "updated", "noop", "vetoed").
type Observer interface {
	ObserveFileChange(kind string)
}

// Options tunes a Materializer.
type Options struct {
	// SettleDelay is slept after each write so watchers and tools see a stable tree.
	SettleDelay time.Duration
	Observer    Observer
}

// Result describes what happened to one instruction.
type Result struct {
	Path     string
	Created  bool
	Changed  bool
	NoOp     bool
	Warnings []string
}

// Materializer writes files below a workspace root.
type Materializer struct {
	root   string
	set    ContextIncluder
	opts   Options
	logger *logx.Logger
}

// New creates a materializer. set may be nil.
func New(root string, set ContextIncluder, opts Options) *Materializer {
	return &Materializer{
		root:   root,
		set:    set,
		opts:   opts,
		logger: logx.NewLogger("materialize"),
	}
}

// resolve maps a workspace-relative path to an absolute one inside the root.
func (m *Materializer) resolve(p string) (string, string, error) {
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrPathOutsideWorkspace, p)
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %q", ErrPathOutsideWorkspace, p)
	}
	return filepath.Join(m.root, clean), filepath.ToSlash(clean), nil
}

// Apply dispatches a parsed change.
func (m *Materializer) Apply(ctx context.Context, change markers.Change) (Result, error) {
	switch {
	case change.File != nil:
		return m.ApplyFile(ctx, *change.File)
	case change.Edit != nil:
		return m.ApplyEdit(ctx, *change.Edit)
	default:
		return Result{}, fmt.Errorf("empty change")
	}
}

// ApplyFile creates a file or overwrites it when the new content is longer than the old.
func (m *Materializer) ApplyFile(ctx context.Context, fi markers.FileInstruction) (Result, error) {
	abs, rel, err := m.resolve(fi.Path)
	if err != nil {
		return Result{Path: fi.Path}, err
	}
	res := Result{Path: rel}

	mode := fs.FileMode(0o644)
	existing, err := os.ReadFile(abs)
	switch {
	case err == nil:
		oldLen := len(strings.TrimSpace(string(existing)))
		newLen := len(strings.TrimSpace(fi.Content))
		if newLen <= oldLen {
			m.observe("vetoed")
			return res, fmt.Errorf("%w: %s (%d <= %d bytes)", ErrNotLonger, rel, newLen, oldLen)
		}
		if info, statErr := os.Stat(abs); statErr == nil {
			mode = info.Mode().Perm()
		}
	case errors.Is(err, fs.ErrNotExist):
		res.Created = true
	default:
		return res, fmt.Errorf("failed to read %s: %w", rel, err)
	}

	if err := m.write(abs, fi.Content, mode); err != nil {
		return res, fmt.Errorf("failed to write %s: %w", rel, err)
	}
	res.Changed = true
	m.finish(ctx, &res)
	return res, nil
}

// ApplyEdit applies a line-level edit. Out-of-range line numbers are clamped with a warning.
func (m *Materializer) ApplyEdit(ctx context.Context, edit markers.EditInstruction) (Result, error) {
	abs, rel, err := m.resolve(edit.File)
	if err != nil {
		return Result{Path: edit.File}, err
	}
	res := Result{Path: rel}

	mode := fs.FileMode(0o644)
	original, err := os.ReadFile(abs)
	exists := err == nil
	switch {
	case exists:
		if info, statErr := os.Stat(abs); statErr == nil {
			mode = info.Mode().Perm()
		}
	case errors.Is(err, fs.ErrNotExist):
		if edit.Op != markers.EditRewrite {
			return res, fmt.Errorf("%w: %s", ErrFileNotFound, rel)
		}
	default:
		return res, fmt.Errorf("failed to read %s: %w", rel, err)
	}

	var updated string
	if edit.Op == markers.EditRewrite {
		updated = edit.Content
	} else {
		updated, res.Warnings = applyLineEdit(string(original), edit)
	}
	for _, w := range res.Warnings {
		m.logger.Warn("%s", w)
	}

	if exists && updated == string(original) {
		res.NoOp = true
		m.observe("noop")
		m.logger.Info("Edit %s on %s changes nothing", edit.Op, rel)
		return res, nil
	}

	if err := m.write(abs, updated, mode); err != nil {
		return res, fmt.Errorf("failed to write %s: %w", rel, err)
	}
	res.Created = !exists
	res.Changed = true
	m.finish(ctx, &res)
	return res, nil
}

// applyLineEdit splices content into text. A trailing newline in the original is kept.
func applyLineEdit(text string, edit markers.EditInstruction) (string, []string) {
	trailing := strings.HasSuffix(text, "\n") || text == ""
	body := strings.TrimSuffix(text, "\n")
	var lines []string
	if body != "" || strings.HasSuffix(text, "\n") {
		lines = strings.Split(body, "\n")
	}
	n := len(lines)

	var insert []string
	if edit.Op != markers.EditDelete && edit.HasContent {
		insert = strings.Split(edit.Content, "\n")
	}

	var warnings []string
	start, end := edit.StartLine, edit.EndLine
	if start < 1 {
		start = 1
	}

	var out []string
	switch edit.Op {
	case markers.EditAdd:
		if start > n+1 {
			warnings = append(warnings, fmt.Sprintf("%s: add at line %d is past the end (%d lines), appending", edit.File, start, n))
			start = n + 1
		}
		out = append(out, lines[:start-1]...)
		out = append(out, insert...)
		out = append(out, lines[start-1:]...)
	default:
		if end < start {
			end = start
		}
		if end > n {
			warnings = append(warnings, fmt.Sprintf("%s: end line %d is past the end (%d lines), clamped", edit.File, end, n))
			end = n
		}
		if start > n {
			warnings = append(warnings, fmt.Sprintf("%s: start line %d is past the end (%d lines), clamped", edit.File, start, n))
			start = max(n, 1)
		}
		out = append(out, lines[:start-1]...)
		out = append(out, insert...)
		if end >= start {
			out = append(out, lines[end:]...)
		} else {
			out = append(out, lines[start-1:]...)
		}
	}

	result := strings.Join(out, "\n")
	if trailing && len(out) > 0 {
		result += "\n"
	}
	return result, warnings
}

func (m *Materializer) write(abs, content string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(content), mode)
}

func (m *Materializer) finish(ctx context.Context, res *Result) {
	if res.Created {
		m.observe("created")
		m.logger.Info("Created %s", res.Path)
	} else {
		m.observe("updated")
		m.logger.Info("Updated %s", res.Path)
	}

	if m.set != nil {
		if err := m.set.Include(res.Path); err != nil {
			res.Warnings = append(res.Warnings, err.Error())
			m.logger.Warn("Not adding %s to context: %v", res.Path, err)
		}
	}

	if m.opts.SettleDelay > 0 {
		timer := time.NewTimer(m.opts.SettleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

func (m *Materializer) observe(kind string) {
	if m.opts.Observer != nil {
		m.opts.Observer.ObserveFileChange(kind)
	}
}
