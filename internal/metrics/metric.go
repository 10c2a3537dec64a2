package metrics

import "time"

// Feedback carries the asynchronously reported user signals. All fields are
// nullable until reported; a metric's feedback is only ever written by the
// feedback-update path.
type Feedback struct {
	Rating           *float64   `json:"rating,omitempty" bson:"rating,omitempty"`
	ThumbsUp         *bool      `json:"thumbs_up,omitempty" bson:"thumbsUp,omitempty"`
	WasEdited        *bool      `json:"was_edited,omitempty" bson:"wasEdited,omitempty"`
	EditDistance     *float64   `json:"edit_distance,omitempty" bson:"editDistance,omitempty"`
	TimeToFirstEdit  *float64   `json:"time_to_first_edit_ms,omitempty" bson:"timeToFirstEditMs,omitempty"`
	WasExported      *bool      `json:"was_exported,omitempty" bson:"wasExported,omitempty"`
	WasRegenerated   *bool      `json:"was_regenerated,omitempty" bson:"wasRegenerated,omitempty"`
	ReceivedAt       *time.Time `json:"received_at,omitempty" bson:"receivedAt,omitempty"`
}

// merge overlays reported fields onto the existing feedback. Only non-nil
// fields overwrite.
func (f *Feedback) merge(in Feedback) {
	if in.Rating != nil {
		f.Rating = in.Rating
	}
	if in.ThumbsUp != nil {
		f.ThumbsUp = in.ThumbsUp
	}
	if in.WasEdited != nil {
		f.WasEdited = in.WasEdited
	}
	if in.EditDistance != nil {
		f.EditDistance = in.EditDistance
	}
	if in.TimeToFirstEdit != nil {
		f.TimeToFirstEdit = in.TimeToFirstEdit
	}
	if in.WasExported != nil {
		f.WasExported = in.WasExported
	}
	if in.WasRegenerated != nil {
		f.WasRegenerated = in.WasRegenerated
	}
	now := time.Now()
	f.ReceivedAt = &now
}

// ValidationResult is the quality verdict supplied by the external
// validation collaborator.
type ValidationResult struct {
	SchemaValid   bool               `json:"schema_valid" bson:"schemaValid"`
	Errors        []string           `json:"errors,omitempty" bson:"errors,omitempty"`
	SafetyFlagged bool               `json:"safety_flagged" bson:"safetyFlagged"`
	QualityScore  float64            `json:"quality_score" bson:"qualityScore"`
	Grade         string             `json:"grade,omitempty" bson:"grade,omitempty"`
	Dimensions    map[string]float64 `json:"dimensions,omitempty" bson:"dimensions,omitempty"`
}

// GenerationMetric is one outcome record per generation. Created at
// generation time with empty feedback; never mutated afterwards except by
// the feedback-update path.
type GenerationMetric struct {
	ID        string    `json:"id" bson:"id"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	// Variant reference.
	ContentType       string `json:"content_type" bson:"contentType"`
	VariantID         string `json:"variant_id" bson:"variantId"`
	PromptFingerprint string `json:"prompt_fingerprint" bson:"promptFingerprint"`

	// Input characteristics.
	PromptLength       int `json:"prompt_length" bson:"promptLength"`
	FileCount          int `json:"file_count" bson:"fileCount"`
	InputTokenEstimate int `json:"input_token_estimate" bson:"inputTokenEstimate"`

	// Execution characteristics.
	Model        string  `json:"model" bson:"model"`
	LatencyMs    float64 `json:"latency_ms" bson:"latencyMs"`
	InputTokens  int     `json:"input_tokens" bson:"inputTokens"`
	OutputTokens int     `json:"output_tokens" bson:"outputTokens"`
	Retries      int     `json:"retries" bson:"retries"`
	CacheHit     bool    `json:"cache_hit" bson:"cacheHit"`

	// Quality characteristics.
	Validation ValidationResult `json:"validation" bson:"validation"`

	// Feedback characteristics, filled in later.
	Feedback Feedback `json:"feedback" bson:"feedback"`
}

// GenerationInput is the outcome report accepted from the caller; the
// collector turns it into a GenerationMetric.
type GenerationInput struct {
	ContentType        string           `json:"content_type"`
	VariantID          string           `json:"variant_id"`
	Prompt             string           `json:"prompt"`
	FileCount          int              `json:"file_count"`
	InputTokenEstimate int              `json:"input_token_estimate"`
	Model              string           `json:"model"`
	LatencyMs          float64          `json:"latency_ms"`
	InputTokens        int              `json:"input_tokens"`
	OutputTokens       int              `json:"output_tokens"`
	Retries            int              `json:"retries"`
	CacheHit           bool             `json:"cache_hit"`
	Validation         ValidationResult `json:"validation"`
}
