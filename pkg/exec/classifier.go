package exec

import (
	"fmt"
	"regexp"
)

// DefaultLongRunningPatterns match commands that do not terminate on their own.
//
//nolint:gochecknoglobals // read-only table
var DefaultLongRunningPatterns = []string{
	`\b(npm|pnpm)\s+(run\s+)?(start|dev|serve|watch)\b`,
	`\byarn\s+(run\s+)?(start|dev|serve|watch)\b`,
	`\bnext\s+dev\b`,
	`\bvite(\s+(dev|serve|preview))?\s*$`,
	`\bng\s+serve\b`,
	`\bwebpack(-dev-server|\s+serve)\b`,
	`\bnodemon\b`,
	`\bhttp-server\b`,
	`\bpython3?\s+-m\s+http\.server\b`,
	`\bflask\s+run\b`,
	`\buvicorn\b`,
	`\bmanage\.py\s+runserver\b`,
	`\brails\s+s(erver)?\b`,
	`\bhugo\s+server\b`,
	`\bjekyll\s+serve\b`,
	`\bjupyter\s+(notebook|lab)\b`,
	`\b(cargo|dotnet)\s+watch\b`,
	`\bgradlew?\s+bootRun\b`,
	`\bmvnw?\s+spring-boot:run\b`,
	`\btail\s+-[fF]\b`,
	`\s--watch\b`,
}

// Classifier decides whether a command is long-running.
type Classifier struct {
	patterns []*regexp.Regexp
}

// NewClassifier compiles the default patterns plus extra ones.
func NewClassifier(extra ...string) (*Classifier, error) {
	return NewClassifierWithPatterns(append(append([]string(nil), DefaultLongRunningPatterns...), extra...))
}

// NewClassifierWithPatterns compiles exactly the given patterns.
func NewClassifierWithPatterns(patterns []string) (*Classifier, error) {
	c := &Classifier{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid long-running pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

// IsLongRunning reports whether command matches any pattern.
func (c *Classifier) IsLongRunning(command string) bool {
	if c == nil {
		return false
	}
	for _, re := range c.patterns {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}
