package assembly

import (
	"strings"
	"testing"
	"unicode/utf8"

	"promptlab/internal/tokens"
)

type stubStrategy struct {
	budget       TokenBudget
	instructions string
	preprocess   func(string) string
}

func (s stubStrategy) Budget(string, int) TokenBudget { return s.budget }
func (s stubStrategy) Instructions(string) string     { return s.instructions }
func (s stubStrategy) Preprocess(_, text string) string {
	if s.preprocess != nil {
		return s.preprocess(text)
	}
	return text
}

func testAssembler(budget TokenBudget, instructions string) *Assembler {
	return NewAssembler(
		tokens.NewEstimator(tokens.Config{}),
		stubStrategy{budget: budget, instructions: instructions},
	)
}

func defaultTestBudget(total int) TokenBudget {
	return TokenBudget{
		TotalTokens: total,
		Fractions: map[Category]float64{
			CategoryTask:    0.3,
			CategoryContent: 0.5,
			CategoryMeta:    0.2,
		},
	}
}

func TestAssembleWithinBudget(t *testing.T) {
	a := testAssembler(defaultTestBudget(400), "Keep it factual.")

	ctx := a.Assemble(Request{
		TaskType:        "summary",
		TaskDescription: "Summarize the quarterly findings.",
		ResearchFiles: []ResearchFile{
			{Name: "notes.md", Text: "Revenue grew in all regions. Headcount stayed flat."},
		},
	})

	if len(ctx.Truncated) != 0 {
		t.Errorf("Nothing should be truncated for small inputs, got %v", ctx.Truncated)
	}
	if len(ctx.Excluded) != 0 {
		t.Errorf("Nothing should be excluded for small inputs, got %v", ctx.Excluded)
	}
	if ctx.BudgetUsed > 1.0 {
		t.Errorf("Expected budget used <= 1.0, got %f", ctx.BudgetUsed)
	}
	if len(ctx.Components) != 3 {
		t.Fatalf("Expected task, content and meta components, got %d", len(ctx.Components))
	}
}

func TestAssembleNoInput(t *testing.T) {
	a := testAssembler(defaultTestBudget(400), "")

	ctx := a.Assemble(Request{})
	if len(ctx.Components) != 0 {
		t.Errorf("Expected no components for an empty request, got %d", len(ctx.Components))
	}
	if ctx.TotalTokens != 0 {
		t.Errorf("Expected zero tokens, got %d", ctx.TotalTokens)
	}
}

func TestAssembleTruncatesOversizedContent(t *testing.T) {
	a := testAssembler(defaultTestBudget(400), "Keep it factual.")

	paras := make([]string, 40)
	for i := range paras {
		paras[i] = strings.Repeat("finding detail ", 10)
	}

	ctx := a.Assemble(Request{
		TaskDescription: "Summarize the findings.",
		ResearchFiles:   []ResearchFile{{Name: "big.md", Text: strings.Join(paras, "\n\n")}},
	})

	if !containsString(ctx.Truncated, "content") {
		t.Errorf("Expected content to be truncated, got %v", ctx.Truncated)
	}
	if ctx.TotalTokens > 400 {
		t.Errorf("Assembled context (%d tokens) exceeds the 400 token budget", ctx.TotalTokens)
	}

	for _, c := range ctx.Components {
		if c.Name == "content" && !strings.Contains(c.Content, "truncated to fit") {
			t.Error("Truncated content should carry the truncation marker")
		}
	}
}

func TestAssembleMultiFileProportional(t *testing.T) {
	a := testAssembler(defaultTestBudget(400), "")

	big := strings.Repeat(strings.Repeat("alpha beta ", 20)+"\n\n", 15)
	small := strings.Repeat("gamma delta ", 30)

	ctx := a.Assemble(Request{
		TaskDescription: "Compare the sources.",
		ResearchFiles: []ResearchFile{
			{Name: "big.md", Text: big},
			{Name: "small.md", Text: small},
		},
	})

	var content *Component
	for i := range ctx.Components {
		if ctx.Components[i].Name == "content" {
			content = &ctx.Components[i]
		}
	}
	if content == nil {
		t.Fatal("Expected a content component")
	}
	// Both file headers survive proportional truncation.
	if !strings.Contains(content.Content, "## big.md") || !strings.Contains(content.Content, "## small.md") {
		t.Errorf("Both file headers should survive truncation:\n%s", content.Content)
	}
	if ctx.TotalTokens > 400 {
		t.Errorf("Assembled context (%d tokens) exceeds the 400 token budget", ctx.TotalTokens)
	}
}

func TestAssembleOversizedTask(t *testing.T) {
	a := testAssembler(defaultTestBudget(200), "")

	task := strings.Repeat("This task description rambles on at great length. ", 60)
	ctx := a.Assemble(Request{TaskDescription: task})

	if !containsString(ctx.Truncated, "task") {
		t.Errorf("Expected the oversized task to be truncated, got %v", ctx.Truncated)
	}
	for _, c := range ctx.Components {
		if c.Name == "task" && c.Truncatable {
			t.Error("The task component must stay non-truncatable")
		}
	}
}

func TestAssembleExcludesUselessStub(t *testing.T) {
	// Content gets a 3-token allocation; after the file header overhead
	// nothing keepable remains, so the component is dropped.
	budget := TokenBudget{
		TotalTokens: 60,
		Fractions: map[Category]float64{
			CategoryTask:    0.7,
			CategoryContent: 0.05,
			CategoryMeta:    0.25,
		},
	}
	a := testAssembler(budget, "")

	ctx := a.Assemble(Request{
		TaskDescription: "Short task.",
		ResearchFiles:   []ResearchFile{{Name: "doc.md", Text: strings.Repeat("text ", 200)}},
	})

	if !containsString(ctx.Excluded, "content") {
		t.Errorf("Expected content excluded under a starvation allocation, got %v", ctx.Excluded)
	}
	for _, c := range ctx.Components {
		if c.Name == "content" {
			t.Error("Excluded component should not appear in the output")
		}
	}
}

func TestAssemblePreprocessApplied(t *testing.T) {
	a := NewAssembler(
		tokens.NewEstimator(tokens.Config{}),
		stubStrategy{
			budget:     defaultTestBudget(400),
			preprocess: func(s string) string { return strings.ReplaceAll(s, "2024", "<<DATE:2024>>") },
		},
	)

	ctx := a.Assemble(Request{
		TaskDescription: "Build a timeline.",
		ResearchFiles:   []ResearchFile{{Name: "log.md", Text: "Launched in 2024 after a long beta."}},
	})

	found := false
	for _, c := range ctx.Components {
		if c.Name == "content" && strings.Contains(c.Content, "<<DATE:2024>>") {
			found = true
		}
	}
	if !found {
		t.Error("Preprocessor output should flow into the content component")
	}
}

func TestBuildPromptOrder(t *testing.T) {
	a := testAssembler(defaultTestBudget(400), "Follow the house style.")

	ctx := a.Assemble(Request{
		TaskDescription: "UNIQUE_TASK_MARKER",
		ResearchFiles:   []ResearchFile{{Name: "f.md", Text: "UNIQUE_CONTENT_MARKER"}},
	})
	prompt := a.BuildPrompt(ctx)

	taskIdx := strings.Index(prompt, "UNIQUE_TASK_MARKER")
	metaIdx := strings.Index(prompt, "Follow the house style.")
	contentIdx := strings.Index(prompt, "UNIQUE_CONTENT_MARKER")

	if taskIdx == -1 || metaIdx == -1 || contentIdx == -1 {
		t.Fatalf("Prompt is missing components:\n%s", prompt)
	}
	if !(taskIdx < metaIdx && metaIdx < contentIdx) {
		t.Errorf("Expected task < meta < content ordering, got %d/%d/%d", taskIdx, metaIdx, contentIdx)
	}
}

func TestBudgetOverrideInRequest(t *testing.T) {
	a := testAssembler(defaultTestBudget(8000), "")

	override := defaultTestBudget(100)
	ctx := a.Assemble(Request{
		TaskDescription: strings.Repeat("long task text ", 100),
		Budget:          &override,
	})

	// With the 100-token override the task must have been cut.
	if !containsString(ctx.Truncated, "task") {
		t.Errorf("Expected truncation under the per-request budget override, got %v", ctx.Truncated)
	}
}

func TestAssembleMultibyteStaysValidUTF8(t *testing.T) {
	a := testAssembler(defaultTestBudget(300), "")

	// No ASCII sentence or paragraph boundaries, so truncation falls back
	// to raw byte cuts.
	ctx := a.Assemble(Request{
		TaskDescription: "summarize",
		ResearchFiles: []ResearchFile{
			{Name: "notes.md", Text: strings.Repeat("概要と提案のまとめ。", 500)},
		},
	})

	for _, c := range ctx.Components {
		if !utf8.ValidString(c.Content) {
			t.Errorf("Component %s contains invalid UTF-8 after truncation", c.Name)
		}
	}
	if !utf8.ValidString(a.BuildPrompt(ctx)) {
		t.Error("Assembled prompt contains invalid UTF-8")
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
