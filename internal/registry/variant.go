package registry

import "time"

// Status is a variant's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCandidate Status = "candidate"
	StatusChampion  Status = "champion"
	StatusRetired   Status = "retired"
	StatusPaused    Status = "paused"
)

// selectable reports whether a variant in this status may receive traffic.
func (s Status) selectable() bool {
	switch s {
	case StatusActive, StatusCandidate, StatusChampion:
		return true
	default:
		return false
	}
}

// Performance is the per-variant running record. Averages use the variant's
// impression count as the window.
type Performance struct {
	Impressions   int64   `json:"impressions" bson:"impressions"`
	Conversions   int64   `json:"conversions" bson:"conversions"`
	AvgLatencyMs  float64 `json:"avg_latency_ms" bson:"avgLatencyMs"`
	AvgQuality    float64 `json:"avg_quality" bson:"avgQuality"`
	FeedbackSum   float64 `json:"feedback_sum" bson:"feedbackSum"`
	FeedbackCount int64   `json:"feedback_count" bson:"feedbackCount"`
	Errors        int64   `json:"errors" bson:"errors"`
}

// FeedbackAvg returns the mean feedback rating, or 0 with no feedback.
func (p Performance) FeedbackAvg() float64 {
	if p.FeedbackCount == 0 {
		return 0
	}
	return p.FeedbackSum / float64(p.FeedbackCount)
}

// Variant is one prompt template competing for traffic within a content
// type.
type Variant struct {
	ID          string            `json:"id" bson:"id"`
	ContentType string            `json:"content_type" bson:"contentType"`
	Status      Status            `json:"status" bson:"status"`
	Weight      float64           `json:"weight" bson:"weight"`
	Template    string            `json:"template" bson:"template"`
	Metadata    map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Performance Performance       `json:"performance" bson:"performance"`
	CreatedAt   time.Time         `json:"created_at" bson:"createdAt"`
	UpdatedAt   time.Time         `json:"updated_at" bson:"updatedAt"`
}

// clone returns a deep copy so callers never share registry-owned state.
func (v *Variant) clone() *Variant {
	c := *v
	if v.Metadata != nil {
		c.Metadata = make(map[string]string, len(v.Metadata))
		for k, val := range v.Metadata {
			c.Metadata[k] = val
		}
	}
	return &c
}

// PerformanceUpdate carries one generation outcome into the running record.
// Pointer fields are optional.
type PerformanceUpdate struct {
	LatencyMs      float64  `json:"latency_ms"`
	Quality        *float64 `json:"quality,omitempty"`
	Converted      bool     `json:"converted"`
	Errored        bool     `json:"errored"`
	FeedbackRating *float64 `json:"feedback_rating,omitempty"`
}
