package assembly

import (
	"fmt"
	"math"
	"sort"
)

// Category names one slice of the token budget.
type Category string

const (
	CategoryTask     Category = "task"
	CategoryContent  Category = "content"
	CategoryExamples Category = "examples"
	CategoryMeta     Category = "meta"
	CategoryBuffer   Category = "buffer"
)

// TokenBudget allocates a total token count across categories. Each category
// receives max(minimum, floor(total * fraction)) tokens.
type TokenBudget struct {
	TotalTokens int                  `json:"total_tokens" yaml:"total_tokens"`
	Fractions   map[Category]float64 `json:"fractions" yaml:"fractions"`
	Minimums    map[Category]int     `json:"minimums,omitempty" yaml:"minimums,omitempty"`
}

// Validate checks that the minimums are satisfiable within the total.
func (b TokenBudget) Validate() error {
	if b.TotalTokens <= 0 {
		return fmt.Errorf("token budget total must be positive, got %d", b.TotalTokens)
	}
	sum := 0
	for cat, min := range b.Minimums {
		if min < 0 {
			return fmt.Errorf("minimum for category %q is negative", cat)
		}
		sum += min
	}
	if sum > b.TotalTokens {
		return fmt.Errorf("category minimums (%d) exceed total budget (%d)", sum, b.TotalTokens)
	}
	return nil
}

// Allocations resolves the per-category absolute token counts. When raising
// categories to their minimums would overshoot the total, the surplus is
// clawed back from categories sitting above their own minimum, so the sum
// never exceeds TotalTokens as long as the minimums themselves fit.
func (b TokenBudget) Allocations() map[Category]int {
	alloc := make(map[Category]int, len(b.Fractions))
	sum := 0
	for cat, frac := range b.Fractions {
		n := int(math.Floor(float64(b.TotalTokens) * frac))
		if min := b.Minimums[cat]; n < min {
			n = min
		}
		alloc[cat] = n
		sum += n
	}
	// Categories with only a minimum and no fraction still get their floor.
	for cat, min := range b.Minimums {
		if _, ok := alloc[cat]; !ok {
			alloc[cat] = min
			sum += min
		}
	}

	over := sum - b.TotalTokens
	if over <= 0 {
		return alloc
	}
	reducible := 0
	for cat, n := range alloc {
		reducible += n - b.Minimums[cat]
	}
	if reducible <= 0 {
		return alloc
	}
	for _, cat := range sortedCategories(alloc) {
		if over <= 0 {
			break
		}
		slack := alloc[cat] - b.Minimums[cat]
		if slack <= 0 {
			continue
		}
		cut := int(math.Ceil(float64(over) * float64(slack) / float64(reducible)))
		if cut > slack {
			cut = slack
		}
		if cut > over {
			cut = over
		}
		alloc[cat] -= cut
		over -= cut
	}
	// The proportional pass can leave a remainder when rounding shrinks a
	// later cut; sweep it up greedily.
	for _, cat := range sortedCategories(alloc) {
		if over <= 0 {
			break
		}
		slack := alloc[cat] - b.Minimums[cat]
		if slack <= 0 {
			continue
		}
		cut := slack
		if cut > over {
			cut = over
		}
		alloc[cat] -= cut
		over -= cut
	}
	return alloc
}

// sortedCategories returns map keys in a stable order so clawback rounding
// is deterministic.
func sortedCategories(m map[Category]int) []Category {
	keys := make([]Category, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Allocation returns the resolved token count for a single category.
func (b TokenBudget) Allocation(cat Category) int {
	return b.Allocations()[cat]
}
