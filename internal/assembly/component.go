package assembly

// Priority orders components for rendering and for the truncation pass.
// Lower values render first and are truncated last.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Component is one named block of the assembled context.
type Component struct {
	Name        string            `json:"name"`
	Content     string            `json:"content"`
	Tokens      int               `json:"tokens"`
	Priority    Priority          `json:"priority"`
	Truncatable bool              `json:"truncatable"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AssembledContext is the result of an Assemble call. TotalTokens is the
// exact sum of component token counts at return time. Callers must check
// BudgetUsed: a value above 1.0 means a non-truncatable component could not
// be made to fit and the context exceeds the budget.
type AssembledContext struct {
	Components  []Component `json:"components"`
	TotalTokens int         `json:"total_tokens"`
	BudgetUsed  float64     `json:"budget_used"`
	Truncated   []string    `json:"truncated,omitempty"`
	Excluded    []string    `json:"excluded,omitempty"`
}
