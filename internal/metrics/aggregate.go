package metrics

import (
	"context"
	"math"
	"sort"
	"time"
)

// AggregateStats summarizes a set of generation metrics for one slice
// (a content type, a variant, or both).
type AggregateStats struct {
	Samples      int  `json:"samples"`
	Insufficient bool `json:"insufficient_data"`

	LatencyMeanMs float64 `json:"latency_mean_ms"`
	LatencyP50Ms  float64 `json:"latency_p50_ms"`
	LatencyP95Ms  float64 `json:"latency_p95_ms"`
	LatencyP99Ms  float64 `json:"latency_p99_ms"`

	SuccessRate float64 `json:"success_rate"`
	SafetyRate  float64 `json:"safety_flag_rate"`
	CacheRate   float64 `json:"cache_hit_rate"`
	MeanRetries float64 `json:"mean_retries"`

	QualityMean    float64            `json:"quality_mean"`
	GradeCounts    map[string]int     `json:"grade_counts,omitempty"`
	DimensionMeans map[string]float64 `json:"dimension_means,omitempty"`

	// Feedback rates are computed only over records where the signal was
	// actually reported, tracked per signal.
	FeedbackSamples int     `json:"feedback_samples"`
	RatingMean      float64 `json:"rating_mean"`
	ThumbsUpRate    float64 `json:"thumbs_up_rate"`
	EditRate        float64 `json:"edit_rate"`
	ExportRate      float64 `json:"export_rate"`
	RegenerateRate  float64 `json:"regenerate_rate"`
}

// Aggregate folds records into summary statistics. Below minSamples the
// result still carries what was computed but is marked insufficient.
func Aggregate(records []GenerationMetric, minSamples int) AggregateStats {
	stats := AggregateStats{
		Samples:      len(records),
		Insufficient: len(records) < minSamples,
	}
	if len(records) == 0 {
		return stats
	}

	latencies := make([]float64, 0, len(records))
	var latencySum, qualitySum, retrySum float64
	var successes, flagged, cacheHits int
	gradeCounts := make(map[string]int)
	dimSums := make(map[string]float64)
	dimCounts := make(map[string]int)

	var ratingSum float64
	var ratingN, thumbsUp, thumbsN, edited, editN, exported, exportN, regenerated, regenN int

	for i := range records {
		m := &records[i]
		latencies = append(latencies, m.LatencyMs)
		latencySum += m.LatencyMs
		retrySum += float64(m.Retries)
		if m.Validation.SchemaValid {
			successes++
		}
		if m.Validation.SafetyFlagged {
			flagged++
		}
		if m.CacheHit {
			cacheHits++
		}
		qualitySum += m.Validation.QualityScore
		if m.Validation.Grade != "" {
			gradeCounts[m.Validation.Grade]++
		}
		for dim, score := range m.Validation.Dimensions {
			dimSums[dim] += score
			dimCounts[dim]++
		}

		fb := &m.Feedback
		if fb.ReceivedAt != nil {
			stats.FeedbackSamples++
		}
		if fb.Rating != nil {
			ratingSum += *fb.Rating
			ratingN++
		}
		if fb.ThumbsUp != nil {
			thumbsN++
			if *fb.ThumbsUp {
				thumbsUp++
			}
		}
		if fb.WasEdited != nil {
			editN++
			if *fb.WasEdited {
				edited++
			}
		}
		if fb.WasExported != nil {
			exportN++
			if *fb.WasExported {
				exported++
			}
		}
		if fb.WasRegenerated != nil {
			regenN++
			if *fb.WasRegenerated {
				regenerated++
			}
		}
	}

	n := float64(len(records))
	sort.Float64s(latencies)
	stats.LatencyMeanMs = latencySum / n
	stats.LatencyP50Ms = percentile(latencies, 50)
	stats.LatencyP95Ms = percentile(latencies, 95)
	stats.LatencyP99Ms = percentile(latencies, 99)
	stats.SuccessRate = float64(successes) / n
	stats.SafetyRate = float64(flagged) / n
	stats.CacheRate = float64(cacheHits) / n
	stats.MeanRetries = retrySum / n
	stats.QualityMean = qualitySum / n
	if len(gradeCounts) > 0 {
		stats.GradeCounts = gradeCounts
	}
	if len(dimSums) > 0 {
		stats.DimensionMeans = make(map[string]float64, len(dimSums))
		for dim, sum := range dimSums {
			stats.DimensionMeans[dim] = sum / float64(dimCounts[dim])
		}
	}

	if ratingN > 0 {
		stats.RatingMean = ratingSum / float64(ratingN)
	}
	if thumbsN > 0 {
		stats.ThumbsUpRate = float64(thumbsUp) / float64(thumbsN)
	}
	if editN > 0 {
		stats.EditRate = float64(edited) / float64(editN)
	}
	if exportN > 0 {
		stats.ExportRate = float64(exported) / float64(exportN)
	}
	if regenN > 0 {
		stats.RegenerateRate = float64(regenerated) / float64(regenN)
	}
	return stats
}

// percentile uses the nearest-rank method on an already sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// AggregateStats computes summary statistics for a content type, optionally
// narrowed to one variant and a time window. Buffered, not-yet-flushed
// records are included.
func (c *Collector) AggregateStats(ctx context.Context, contentType, variantID string, since time.Time) (AggregateStats, error) {
	recs, err := c.records(ctx, Query{ContentType: contentType, VariantID: variantID, Since: since})
	if err != nil {
		return AggregateStats{}, err
	}
	return Aggregate(recs, c.cfg.MinSampleSize), nil
}
