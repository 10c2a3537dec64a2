package strategy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"promptlab/internal/assembly"
)

func TestEntryFallsBackToDefault(t *testing.T) {
	table := NewTable()

	e := table.Entry("nonexistent-task-type")
	if e.TaskType != DefaultTaskType {
		t.Errorf("Expected fallback to default entry, got %q", e.TaskType)
	}
}

func TestBuiltinEntriesAreComplete(t *testing.T) {
	table := NewTable()

	for _, taskType := range table.TaskTypes() {
		t.Run(taskType, func(t *testing.T) {
			e := table.Entry(taskType)
			if e.TotalTokens <= 0 {
				t.Error("Entry needs a positive total budget")
			}
			if len(e.Fractions) == 0 {
				t.Error("Entry needs budget fractions")
			}
			if e.Instructions == "" {
				t.Error("Entry needs instruction text")
			}
			budget := table.Budget(taskType, 0)
			if err := budget.Validate(); err != nil {
				t.Errorf("Built-in budget should validate: %v", err)
			}
		})
	}
}

func TestBudgetTotalOverride(t *testing.T) {
	table := NewTable()

	b := table.Budget("summary", 2000)
	if b.TotalTokens != 2000 {
		t.Errorf("Expected override total 2000, got %d", b.TotalTokens)
	}
	// Fractions come from the entry, unchanged.
	if b.Fractions[assembly.CategoryContent] != 0.7 {
		t.Errorf("Override should keep the entry's fractions, got %v", b.Fractions)
	}
}

func TestInstructionsIncludeConstraints(t *testing.T) {
	table := NewTable()

	got := table.Instructions("timeline")
	if !strings.Contains(got, "Constraints:") {
		t.Errorf("Timeline instructions should append constraints, got %q", got)
	}
	if !strings.Contains(got, "Do not invent dates") {
		t.Errorf("Constraint text missing from %q", got)
	}
}

func TestMarkDates(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"iso date", "shipped 2024-03-15 to prod", "shipped <<DATE:2024-03-15>> to prod"},
		{"month name", "Launched Mar 15, 2024 quietly", "Launched <<DATE:Mar 15, 2024>> quietly"},
		{"quarter", "planned for Q3 2025", "planned for <<DATE:Q3 2025>>"},
		{"no date", "nothing temporal here", "nothing temporal here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MarkDates(tt.input); got != tt.want {
				t.Errorf("MarkDates(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMarkDatesDeterministic(t *testing.T) {
	input := "2024-01-01 then 3/4/24 then Q1 2026"
	first := MarkDates(input)
	for i := 0; i < 5; i++ {
		if MarkDates(input) != first {
			t.Fatal("MarkDates must be deterministic")
		}
	}
}

func TestMarkKeyStatements(t *testing.T) {
	got := MarkKeyStatements("In summary, we recommend shipping.")
	if !strings.Contains(got, "<<KEY:summary>>") {
		t.Errorf("Expected summary marked, got %q", got)
	}
	if !strings.Contains(got, "<<KEY:recommend>>") {
		t.Errorf("Expected recommend marked, got %q", got)
	}
}

func TestPreprocessWiredToEntries(t *testing.T) {
	table := NewTable()

	out := table.Preprocess("timeline", "shipped 2024-03-15")
	if !strings.Contains(out, "<<DATE:") {
		t.Errorf("Timeline preprocess should mark dates, got %q", out)
	}

	// Entries without a preprocessor pass text through untouched.
	if got := table.Preprocess("roadmap", "shipped 2024-03-15"); got != "shipped 2024-03-15" {
		t.Errorf("Roadmap has no preprocessor, got %q", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strategies.yaml")
	yaml := `strategies:
  - task_type: timeline
    total_tokens: 12000
  - task_type: custom
    total_tokens: 5000
    fractions:
      task: 0.2
      content: 0.6
      meta: 0.2
    instructions: Custom instructions here.
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	table := NewTable()
	if err := table.LoadOverrides(path); err != nil {
		t.Fatalf("LoadOverrides failed: %v", err)
	}

	t.Run("override keeps builtin fields", func(t *testing.T) {
		e := table.Entry("timeline")
		if e.TotalTokens != 12000 {
			t.Errorf("Expected overridden total 12000, got %d", e.TotalTokens)
		}
		if e.Instructions == "" {
			t.Error("Override without instructions should keep the built-in text")
		}
		if e.Preprocess == nil {
			t.Error("Override must keep the built-in preprocessor")
		}
	})

	t.Run("new task type", func(t *testing.T) {
		e := table.Entry("custom")
		if e.TaskType != "custom" || e.TotalTokens != 5000 {
			t.Errorf("Expected the new custom entry, got %+v", e)
		}
		if e.Fractions[assembly.CategoryContent] != 0.6 {
			t.Errorf("Expected custom fractions, got %v", e.Fractions)
		}
	})
}

func TestLoadOverridesMissingFile(t *testing.T) {
	table := NewTable()
	if err := table.LoadOverrides("/nonexistent/strategies.yaml"); err == nil {
		t.Error("Expected an error for a missing overrides file")
	}
}
