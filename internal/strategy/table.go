package strategy

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"promptlab/internal/assembly"
)

// DefaultTaskType is the fallback entry used for unknown task types.
const DefaultTaskType = "default"

// Preprocessor deterministically rewrites research text before assembly,
// e.g. marking substrings the downstream model should anchor on.
type Preprocessor func(string) string

// Entry is the per task-type generation strategy: budget shape, instruction
// text and optional preprocessing.
type Entry struct {
	TaskType     string                             `yaml:"task_type"`
	TotalTokens  int                                `yaml:"total_tokens"`
	Fractions    map[assembly.Category]float64      `yaml:"fractions"`
	Minimums     map[assembly.Category]int          `yaml:"minimums,omitempty"`
	Instructions string                             `yaml:"instructions"`
	Constraints  string                             `yaml:"constraints,omitempty"`
	Preprocess   Preprocessor                       `yaml:"-"`
}

// Table maps task types to strategies. Reads are concurrent-safe; overrides
// can be reloaded at runtime (see Watcher).
type Table struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewTable builds a table with the built-in strategies.
func NewTable() *Table {
	t := &Table{entries: make(map[string]Entry)}
	for _, e := range builtinEntries() {
		t.entries[e.TaskType] = e
	}
	return t
}

// Entry returns the strategy for a task type, falling back to the default
// entry for unknown types. It never fails.
func (t *Table) Entry(taskType string) Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[taskType]; ok {
		return e
	}
	return t.entries[DefaultTaskType]
}

// Budget resolves the token budget for a task type. A positive
// totalOverride replaces the entry's total while keeping its fractions.
func (t *Table) Budget(taskType string, totalOverride int) assembly.TokenBudget {
	e := t.Entry(taskType)
	total := e.TotalTokens
	if totalOverride > 0 {
		total = totalOverride
	}
	return assembly.TokenBudget{
		TotalTokens: total,
		Fractions:   e.Fractions,
		Minimums:    e.Minimums,
	}
}

// BudgetAllocation converts the entry's fractions to absolute token counts.
func (t *Table) BudgetAllocation(taskType string, totalOverride int) map[assembly.Category]int {
	return t.Budget(taskType, totalOverride).Allocations()
}

// Instructions returns the instruction and constraint text for a task type.
func (t *Table) Instructions(taskType string) string {
	e := t.Entry(taskType)
	if e.Constraints == "" {
		return e.Instructions
	}
	return e.Instructions + "\n\nConstraints:\n" + e.Constraints
}

// Preprocess applies the task type's preprocessor, if any.
func (t *Table) Preprocess(taskType, text string) string {
	e := t.Entry(taskType)
	if e.Preprocess == nil {
		return text
	}
	return e.Preprocess(text)
}

// TaskTypes lists the known task types.
func (t *Table) TaskTypes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	types := make([]string, 0, len(t.entries))
	for k := range t.entries {
		types = append(types, k)
	}
	return types
}

// LoadOverrides merges strategy overrides from a YAML file. Overrides can
// adjust budgets and instruction text but not preprocessors, which stay
// bound to the built-in entry for the same task type.
func (t *Table) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read strategies file: %w", err)
	}

	var file struct {
		Strategies []Entry `yaml:"strategies"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse strategies file: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range file.Strategies {
		if e.TaskType == "" {
			continue
		}
		if existing, ok := t.entries[e.TaskType]; ok {
			e.Preprocess = existing.Preprocess
			if e.TotalTokens == 0 {
				e.TotalTokens = existing.TotalTokens
			}
			if e.Fractions == nil {
				e.Fractions = existing.Fractions
			}
			if e.Instructions == "" {
				e.Instructions = existing.Instructions
			}
		}
		t.entries[e.TaskType] = e
	}
	log.Printf("📋 [STRATEGY] Loaded %d strategy overrides from %s", len(file.Strategies), path)
	return nil
}

// builtinEntries returns the default strategy set. Content-heavy task types
// shift budget from examples toward content.
func builtinEntries() []Entry {
	return []Entry{
		{
			TaskType:    DefaultTaskType,
			TotalTokens: 8000,
			Fractions: map[assembly.Category]float64{
				assembly.CategoryTask:     0.15,
				assembly.CategoryContent:  0.55,
				assembly.CategoryExamples: 0.1,
				assembly.CategoryMeta:     0.1,
				assembly.CategoryBuffer:   0.1,
			},
			Minimums: map[assembly.Category]int{
				assembly.CategoryTask: 200,
				assembly.CategoryMeta: 100,
			},
			Instructions: "Produce well-structured output grounded strictly in the supplied research material.",
		},
		{
			TaskType:    "timeline",
			TotalTokens: 8000,
			Fractions: map[assembly.Category]float64{
				assembly.CategoryTask:     0.1,
				assembly.CategoryContent:  0.65,
				assembly.CategoryExamples: 0.05,
				assembly.CategoryMeta:     0.1,
				assembly.CategoryBuffer:   0.1,
			},
			Minimums: map[assembly.Category]int{
				assembly.CategoryTask: 200,
				assembly.CategoryMeta: 100,
			},
			Instructions: "Extract a chronological timeline of events. Every entry needs a date or ordered position. Marked <<DATE:...>> spans identify date-like text in the research material.",
			Constraints:  "Do not invent dates absent from the research material.",
			Preprocess:   MarkDates,
		},
		{
			TaskType:    "slides",
			TotalTokens: 10000,
			Fractions: map[assembly.Category]float64{
				assembly.CategoryTask:     0.1,
				assembly.CategoryContent:  0.6,
				assembly.CategoryExamples: 0.1,
				assembly.CategoryMeta:     0.1,
				assembly.CategoryBuffer:   0.1,
			},
			Minimums: map[assembly.Category]int{
				assembly.CategoryTask: 200,
				assembly.CategoryMeta: 150,
			},
			Instructions: "Extract the key points suitable for presentation slides. Marked <<KEY:...>> spans flag summary and recommendation language in the research material.",
			Preprocess:   MarkKeyStatements,
		},
		{
			TaskType:    "roadmap",
			TotalTokens: 9000,
			Fractions: map[assembly.Category]float64{
				assembly.CategoryTask:     0.15,
				assembly.CategoryContent:  0.6,
				assembly.CategoryExamples: 0.05,
				assembly.CategoryMeta:     0.1,
				assembly.CategoryBuffer:   0.1,
			},
			Minimums: map[assembly.Category]int{
				assembly.CategoryTask: 200,
				assembly.CategoryMeta: 100,
			},
			Instructions: "Organize the material into phased initiatives with milestones and dependencies.",
		},
		{
			TaskType:    "summary",
			TotalTokens: 6000,
			Fractions: map[assembly.Category]float64{
				assembly.CategoryTask:     0.1,
				assembly.CategoryContent:  0.7,
				assembly.CategoryExamples: 0.0,
				assembly.CategoryMeta:     0.1,
				assembly.CategoryBuffer:   0.1,
			},
			Minimums: map[assembly.Category]int{
				assembly.CategoryTask: 150,
				assembly.CategoryMeta: 80,
			},
			Instructions: "Summarize the research material, preserving concrete figures and named entities.",
		},
	}
}

var (
	datePattern = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}|Q[1-4]\s+\d{4})\b`)
	keyPattern  = regexp.MustCompile(`(?i)\b(summary|recommend(?:ation|ed)?s?|conclusion|key takeaways?|in short)\b`)
)

// MarkDates wraps date-like substrings so timeline extraction can anchor on
// them. Deterministic: same input, same output.
func MarkDates(text string) string {
	return datePattern.ReplaceAllStringFunc(text, func(m string) string {
		return "<<DATE:" + m + ">>"
	})
}

// MarkKeyStatements wraps summary/recommendation keywords for slide
// extraction.
func MarkKeyStatements(text string) string {
	return keyPattern.ReplaceAllStringFunc(text, func(m string) string {
		return "<<KEY:" + m + ">>"
	})
}

// Watch reloads overrides whenever the file changes on disk. It returns a
// stop function. Editors often emit rename+create instead of write, so both
// are treated as a change.
func (t *Table) Watch(path string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create strategies watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if err := t.LoadOverrides(path); err != nil {
						log.Printf("⚠️  [STRATEGY] Reload failed for %s: %v", path, err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️  [STRATEGY] Watcher error: %v", err)
			}
		}
	}()

	log.Printf("👀 [STRATEGY] Watching %s for strategy changes", path)
	return func() {
		close(done)
		watcher.Close()
	}, nil
}
