package metrics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// VariantComparison is one contender's row in an A/B comparison.
type VariantComparison struct {
	VariantID      string         `json:"variant_id"`
	Stats          AggregateStats `json:"stats"`
	CompositeScore float64        `json:"composite_score"`
}

// ABTestResult ranks variants of one content type by composite score.
type ABTestResult struct {
	ContentType    string              `json:"content_type"`
	Variants       []VariantComparison `json:"variants"`
	WinnerID       string              `json:"winner_id,omitempty"`
	Confidence     float64             `json:"confidence"`
	Recommendation string              `json:"recommendation"`
}

// ABTestResults compares the given variants over records since the given
// time. With an empty variant list every variant seen in the window is
// compared. Variants below the minimum sample size are listed but excluded
// from winner selection.
func (c *Collector) ABTestResults(ctx context.Context, contentType string, variantIDs []string, since time.Time) (*ABTestResult, error) {
	if contentType == "" {
		return nil, fmt.Errorf("%w: content_type is required", ErrValidation)
	}

	if len(variantIDs) == 0 {
		recs, err := c.records(ctx, Query{ContentType: contentType, Since: since})
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		for i := range recs {
			if !seen[recs[i].VariantID] {
				seen[recs[i].VariantID] = true
				variantIDs = append(variantIDs, recs[i].VariantID)
			}
		}
		sort.Strings(variantIDs)
	}

	result := &ABTestResult{ContentType: contentType}
	for _, id := range variantIDs {
		stats, err := c.AggregateStats(ctx, contentType, id, since)
		if err != nil {
			return nil, err
		}
		result.Variants = append(result.Variants, VariantComparison{
			VariantID:      id,
			Stats:          stats,
			CompositeScore: c.compositeScore(stats),
		})
	}

	sort.SliceStable(result.Variants, func(i, j int) bool {
		return result.Variants[i].CompositeScore > result.Variants[j].CompositeScore
	})

	var sufficient []VariantComparison
	for _, v := range result.Variants {
		if !v.Stats.Insufficient {
			sufficient = append(sufficient, v)
		}
	}

	if len(sufficient) == 0 {
		result.Recommendation = "Insufficient data for every variant; keep collecting."
		return result, nil
	}

	best := sufficient[0]
	result.WinnerID = best.VariantID
	result.Confidence = c.confidence(sufficient)

	switch {
	case result.Confidence < 0.4:
		result.Recommendation = fmt.Sprintf("Low confidence; %s leads but the gap is within noise, keep collecting.", best.VariantID)
	case result.Confidence < 0.7:
		result.Recommendation = fmt.Sprintf("Moderate confidence that %s leads; collect more samples before promoting.", best.VariantID)
	default:
		result.Recommendation = fmt.Sprintf("High confidence; consider promoting %s to champion.", best.VariantID)
	}
	return result, nil
}

// compositeScore blends validation quality, user rating, and latency into
// one comparable number. Weights: 0.5 quality, 0.3 rating, 0.2 latency
// efficiency (linear penalty up to the configured cap).
func (c *Collector) compositeScore(s AggregateStats) float64 {
	quality := clamp01(s.QualityMean)
	rating := clamp01(s.RatingMean / 5)
	efficiency := 1 - math.Min(s.LatencyMeanMs, c.cfg.LatencyCapMs)/c.cfg.LatencyCapMs
	return 0.5*quality + 0.3*rating + 0.2*efficiency
}

// confidence blends sample-size saturation (full weight near 100 samples
// per variant) with score separation between the best and worst contender.
func (c *Collector) confidence(sufficient []VariantComparison) float64 {
	var sampleSum float64
	for _, v := range sufficient {
		sampleSum += float64(v.Stats.Samples)
	}
	sampleFactor := math.Min(1, sampleSum/float64(len(sufficient))/100)

	separation := 0.0
	if len(sufficient) > 1 {
		gap := sufficient[0].CompositeScore - sufficient[len(sufficient)-1].CompositeScore
		separation = math.Min(1, gap/0.2)
	}
	return 0.6*sampleFactor + 0.4*separation
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
