package assembly

import "testing"

func TestBudgetValidate(t *testing.T) {
	tests := []struct {
		name    string
		budget  TokenBudget
		wantErr bool
	}{
		{
			name:   "valid",
			budget: TokenBudget{TotalTokens: 1000, Fractions: map[Category]float64{CategoryTask: 0.5}},
		},
		{
			name:    "zero total",
			budget:  TokenBudget{TotalTokens: 0},
			wantErr: true,
		},
		{
			name: "negative minimum",
			budget: TokenBudget{
				TotalTokens: 1000,
				Minimums:    map[Category]int{CategoryTask: -1},
			},
			wantErr: true,
		},
		{
			name: "minimums exceed total",
			budget: TokenBudget{
				TotalTokens: 100,
				Minimums:    map[Category]int{CategoryTask: 80, CategoryMeta: 40},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.budget.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAllocationsFractions(t *testing.T) {
	b := TokenBudget{
		TotalTokens: 8000,
		Fractions: map[Category]float64{
			CategoryTask:     0.15,
			CategoryContent:  0.55,
			CategoryExamples: 0.1,
			CategoryMeta:     0.1,
			CategoryBuffer:   0.1,
		},
	}

	alloc := b.Allocations()
	if alloc[CategoryTask] != 1200 {
		t.Errorf("Expected task allocation 1200, got %d", alloc[CategoryTask])
	}
	if alloc[CategoryContent] != 4400 {
		t.Errorf("Expected content allocation 4400, got %d", alloc[CategoryContent])
	}

	sum := 0
	for _, n := range alloc {
		sum += n
	}
	if sum > b.TotalTokens {
		t.Errorf("Allocations sum to %d, over the total %d", sum, b.TotalTokens)
	}
}

func TestAllocationsMinimumLift(t *testing.T) {
	// At a small total the task fraction lands under its minimum; the
	// minimum wins and the surplus comes out of other categories.
	b := TokenBudget{
		TotalTokens: 1000,
		Fractions: map[Category]float64{
			CategoryTask:    0.1,
			CategoryContent: 0.9,
		},
		Minimums: map[Category]int{CategoryTask: 200},
	}

	alloc := b.Allocations()
	if alloc[CategoryTask] != 200 {
		t.Errorf("Expected task lifted to its 200 minimum, got %d", alloc[CategoryTask])
	}

	sum := 0
	for _, n := range alloc {
		sum += n
	}
	if sum > b.TotalTokens {
		t.Errorf("Allocations sum to %d, over the total %d", sum, b.TotalTokens)
	}
	if alloc[CategoryContent] >= 900 {
		t.Errorf("Expected content clawed back below 900, got %d", alloc[CategoryContent])
	}
}

func TestAllocationsNeverExceedTotal(t *testing.T) {
	budgets := []TokenBudget{
		{
			TotalTokens: 500,
			Fractions: map[Category]float64{
				CategoryTask:    0.5,
				CategoryContent: 0.5,
			},
			Minimums: map[Category]int{CategoryTask: 300, CategoryMeta: 100},
		},
		{
			TotalTokens: 97,
			Fractions: map[Category]float64{
				CategoryTask:     0.33,
				CategoryContent:  0.33,
				CategoryExamples: 0.34,
			},
			Minimums: map[Category]int{CategoryContent: 50},
		},
	}

	for i, b := range budgets {
		if err := b.Validate(); err != nil {
			t.Fatalf("budget %d should validate: %v", i, err)
		}
		sum := 0
		for _, n := range b.Allocations() {
			sum += n
		}
		if sum > b.TotalTokens {
			t.Errorf("budget %d: allocations sum to %d, over the total %d", i, sum, b.TotalTokens)
		}
	}
}

func TestAllocationsDeterministic(t *testing.T) {
	b := TokenBudget{
		TotalTokens: 500,
		Fractions: map[Category]float64{
			CategoryTask:    0.5,
			CategoryContent: 0.5,
		},
		Minimums: map[Category]int{CategoryTask: 300},
	}

	first := b.Allocations()
	for i := 0; i < 20; i++ {
		again := b.Allocations()
		for cat, n := range first {
			if again[cat] != n {
				t.Fatalf("Allocation for %s changed between calls: %d vs %d", cat, n, again[cat])
			}
		}
	}
}

func TestAllocationMinimumOnlyCategory(t *testing.T) {
	b := TokenBudget{
		TotalTokens: 1000,
		Fractions:   map[Category]float64{CategoryContent: 0.8},
		Minimums:    map[Category]int{CategoryMeta: 50},
	}

	alloc := b.Allocations()
	if alloc[CategoryMeta] != 50 {
		t.Errorf("Category with only a minimum should get its floor, got %d", alloc[CategoryMeta])
	}
}
