package assembly

import (
	"fmt"
	"sort"
	"strings"

	"promptlab/internal/tokens"
)

const (
	// truncationMarker is appended wherever content was cut to fit.
	truncationMarker = "\n\n[... truncated to fit token budget ...]"

	// fileHeaderOverhead reserves tokens per research file for its header.
	fileHeaderOverhead = 8

	// minComponentTokens is the floor below which a truncated component is
	// dropped entirely instead of kept as a useless stub.
	minComponentTokens = 15
)

// ResearchFile is one named source document handed to the assembler.
type ResearchFile struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// StrategyProvider supplies per task-type budget shapes, instruction text
// and preprocessing. Implemented by strategy.Table.
type StrategyProvider interface {
	Budget(taskType string, totalOverride int) TokenBudget
	Instructions(taskType string) string
	Preprocess(taskType, text string) string
}

// Request carries everything needed to assemble one budgeted context.
type Request struct {
	TaskType        string         `json:"task_type"`
	TaskDescription string         `json:"task_description"`
	UserPrompt      string         `json:"user_prompt"`
	ResearchFiles   []ResearchFile `json:"research_files"`
	Budget          *TokenBudget   `json:"budget,omitempty"`
}

// Assembler packs a task description, research documents and instruction
// hints into a token budget, truncating by priority when the material is
// oversized. All methods are safe for concurrent use; the assembler holds
// no mutable state.
type Assembler struct {
	est        *tokens.Estimator
	strategies StrategyProvider
}

// NewAssembler wires an assembler with an already-constructed estimator and
// strategy table.
func NewAssembler(est *tokens.Estimator, strategies StrategyProvider) *Assembler {
	return &Assembler{est: est, strategies: strategies}
}

// Assemble builds the budgeted context. It never fails: when even the
// non-truncatable task component cannot fit, the result is returned with
// BudgetUsed > 1.0 and callers must check that flag.
func (a *Assembler) Assemble(req Request) *AssembledContext {
	budget := a.strategies.Budget(req.TaskType, 0)
	if req.Budget != nil {
		budget = *req.Budget
	}
	alloc := budget.Allocations()

	result := &AssembledContext{}

	if task := a.buildTaskComponent(req, alloc[CategoryTask], result); task != nil {
		result.Components = append(result.Components, *task)
	}
	if content := a.buildContentComponent(req, alloc[CategoryContent], result); content != nil {
		result.Components = append(result.Components, *content)
	}
	if meta := a.buildMetaComponent(req, alloc[CategoryMeta], result); meta != nil {
		result.Components = append(result.Components, *meta)
	}

	a.enforceTotalBudget(result, budget.TotalTokens)

	total := 0
	for _, c := range result.Components {
		total += c.Tokens
	}
	result.TotalTokens = total
	if budget.TotalTokens > 0 {
		result.BudgetUsed = float64(total) / float64(budget.TotalTokens)
	}
	return result
}

// BuildPrompt renders the assembled context by ascending priority, critical
// components first.
func (a *Assembler) BuildPrompt(ctx *AssembledContext) string {
	comps := make([]Component, len(ctx.Components))
	copy(comps, ctx.Components)
	sort.SliceStable(comps, func(i, j int) bool { return comps[i].Priority < comps[j].Priority })

	parts := make([]string, 0, len(comps))
	for _, c := range comps {
		if c.Content != "" {
			parts = append(parts, c.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// buildTaskComponent builds the critical task component. It is marked
// non-truncatable so the final budget pass leaves it alone, but when it
// alone exceeds its allocation it is smart-truncated once here.
func (a *Assembler) buildTaskComponent(req Request, allocation int, result *AssembledContext) *Component {
	text := strings.TrimSpace(req.TaskDescription)
	if prompt := strings.TrimSpace(req.UserPrompt); prompt != "" {
		if text != "" {
			text += "\n\n"
		}
		text += prompt
	}
	if text == "" {
		return nil
	}

	count := a.est.Count(text, tokens.ContentProse)
	if allocation > 0 && count > allocation {
		text = a.smartTruncate(text, tokens.ContentProse, allocation)
		count = a.est.Count(text, tokens.ContentProse)
		result.Truncated = append(result.Truncated, "task")
	}

	return &Component{
		Name:        "task",
		Content:     text,
		Tokens:      count,
		Priority:    PriorityCritical,
		Truncatable: false,
	}
}

// buildContentComponent concatenates research files under filename headers.
// A single oversized file is smart-truncated; multiple files are cut
// proportionally to their original size so no file is starved.
func (a *Assembler) buildContentComponent(req Request, allocation int, result *AssembledContext) *Component {
	if len(req.ResearchFiles) == 0 {
		return nil
	}

	texts := make([]string, len(req.ResearchFiles))
	counts := make([]int, len(req.ResearchFiles))
	totalCount := 0
	for i, f := range req.ResearchFiles {
		texts[i] = a.strategies.Preprocess(req.TaskType, f.Text)
		counts[i] = a.est.Count(texts[i], tokens.ContentTechnical)
		totalCount += counts[i] + fileHeaderOverhead
	}

	if allocation > 0 && totalCount > allocation {
		result.Truncated = append(result.Truncated, "content")
		if len(texts) == 1 {
			texts[0] = a.smartTruncate(texts[0], tokens.ContentTechnical, allocation-fileHeaderOverhead)
		} else {
			available := allocation - len(texts)*fileHeaderOverhead
			if available < 0 {
				available = 0
			}
			contentTotal := totalCount - len(texts)*fileHeaderOverhead
			for i := range texts {
				share := 0
				if contentTotal > 0 {
					share = available * counts[i] / contentTotal
				}
				if counts[i] > share {
					texts[i] = a.smartTruncate(texts[i], tokens.ContentTechnical, share)
				}
			}
		}
	}

	var b strings.Builder
	for i, f := range req.ResearchFiles {
		if texts[i] == "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", f.Name, texts[i])
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		result.Excluded = append(result.Excluded, "content")
		return nil
	}

	return &Component{
		Name:        "content",
		Content:     content,
		Tokens:      a.est.Count(content, tokens.ContentTechnical),
		Priority:    PriorityMedium,
		Truncatable: true,
		Metadata:    map[string]string{"file_count": fmt.Sprintf("%d", len(req.ResearchFiles))},
	}
}

// buildMetaComponent carries the task-type and instruction hints, capped at
// its allocation.
func (a *Assembler) buildMetaComponent(req Request, allocation int, result *AssembledContext) *Component {
	instructions := a.strategies.Instructions(req.TaskType)
	if instructions == "" {
		return nil
	}
	text := fmt.Sprintf("Task type: %s\n\n%s", req.TaskType, instructions)

	count := a.est.Count(text, tokens.ContentProse)
	if allocation > 0 && count > allocation {
		text = a.smartTruncate(text, tokens.ContentProse, allocation)
		count = a.est.Count(text, tokens.ContentProse)
		result.Truncated = append(result.Truncated, "meta")
	}

	return &Component{
		Name:        "meta",
		Content:     text,
		Tokens:      count,
		Priority:    PriorityHigh,
		Truncatable: true,
	}
}

// enforceTotalBudget trims components lowest priority first until the sum
// fits. A component loses at most half its current tokens per pass; one that
// underflows the keepable floor is dropped and recorded as excluded.
func (a *Assembler) enforceTotalBudget(result *AssembledContext, budgetTotal int) {
	if budgetTotal <= 0 {
		return
	}
	total := 0
	for _, c := range result.Components {
		total += c.Tokens
	}

	truncated := map[string]bool{}
	for pass := 0; total > budgetTotal && pass < 32; pass++ {
		progressed := false
		for _, pr := range []Priority{PriorityLow, PriorityMedium, PriorityHigh} {
			for i := len(result.Components) - 1; i >= 0; i-- {
				c := &result.Components[i]
				if c.Priority != pr || !c.Truncatable || c.Tokens == 0 {
					continue
				}
				over := total - budgetTotal
				target := c.Tokens - over
				if half := c.Tokens / 2; target < half {
					target = half
				}
				if target < minComponentTokens {
					total -= c.Tokens
					result.Excluded = append(result.Excluded, c.Name)
					result.Components = append(result.Components[:i], result.Components[i+1:]...)
					progressed = true
				} else {
					newContent := a.smartTruncate(c.Content, tokens.ContentTechnical, target)
					newTokens := a.est.Count(newContent, tokens.ContentTechnical)
					if newTokens >= c.Tokens {
						// Marker overhead ate the savings; cut raw.
						newContent = newContent[:tokens.RuneSafe(newContent, len(newContent)/2)]
						newTokens = a.est.Count(newContent, tokens.ContentTechnical)
					}
					if newTokens < c.Tokens {
						total += newTokens - c.Tokens
						c.Content = newContent
						c.Tokens = newTokens
						truncated[c.Name] = true
						progressed = true
					}
				}
				if total <= budgetTotal {
					break
				}
			}
			if total <= budgetTotal {
				break
			}
		}
		if !progressed {
			break
		}
	}

	for name := range truncated {
		if !contains(result.Truncated, name) {
			result.Truncated = append(result.Truncated, name)
		}
	}
	sort.Strings(result.Truncated)
}

// smartTruncate cuts text down to roughly maxTokens, preferring a paragraph
// boundary, then a sentence boundary, before falling back to a raw cut, and
// appends a truncation marker. Returns "" when maxTokens leaves no room.
func (a *Assembler) smartTruncate(text string, ct tokens.ContentType, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if a.est.FitsInBudget(text, ct, maxTokens) {
		return text
	}

	markerTokens := a.est.Count(truncationMarker, ct)
	capChars := a.est.EstimateCapacity(maxTokens-markerTokens, ct)
	if capChars <= 0 {
		return ""
	}

	for capChars > 0 {
		cut := text
		if capChars < len(cut) {
			cut = cut[:tokens.RuneSafe(cut, capChars)]
			// Prefer structural boundaries in the back half of the cut.
			if idx := strings.LastIndex(cut, "\n\n"); idx > capChars/2 {
				cut = cut[:idx]
			} else if idx := strings.LastIndex(cut, ". "); idx > capChars/2 {
				cut = cut[:idx+1]
			}
		}
		candidate := strings.TrimRight(cut, " \n") + truncationMarker
		if a.est.FitsInBudget(candidate, ct, maxTokens) {
			return candidate
		}
		// Structural corrections pushed the estimate over; shrink and retry.
		capChars = capChars * 9 / 10
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
