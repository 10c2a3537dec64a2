package registry

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Error types for registry operations.
var (
	ErrVariantNotFound    = errors.New("variant not found")
	ErrNoActiveVariants   = errors.New("no selectable variants for content type")
	ErrVariantRetired     = errors.New("variant is retired")
	ErrDuplicateVariantID = errors.New("variant id already registered")
	ErrInvalidWeight      = errors.New("variant weight must be in [0,1]")
	ErrValidationFailed   = errors.New("validation failed")
)

// Default tier traffic masses.
const (
	DefaultChampionMass  = 0.7
	DefaultCandidateMass = 0.2
	DefaultActiveMass    = 0.1
)

// Config tunes selection behaviour.
type Config struct {
	ChampionMass  float64
	CandidateMass float64
	ActiveMass    float64

	// RedistributeEmptyTiers spreads an empty tier's mass EQUALLY over the
	// present tiers. Off by default: the default policy renormalizes, so
	// present tiers keep their relative proportions (0.2:0.1 stays 2:1
	// when the champion tier is empty).
	RedistributeEmptyTiers bool
}

// DefaultConfig returns the 0.7/0.2/0.1 tier policy.
func DefaultConfig() Config {
	return Config{
		ChampionMass:  DefaultChampionMass,
		CandidateMass: DefaultCandidateMass,
		ActiveMass:    DefaultActiveMass,
	}
}

// LifecycleEvent describes a status transition, published to the optional
// lifecycle hook so sibling instances can react.
type LifecycleEvent struct {
	Type        string `json:"type"` // promoted, paused, resumed, retired, candidate, registered
	ContentType string `json:"content_type"`
	VariantID   string `json:"variant_id"`
}

// Registry holds all prompt variants, selects one per request under the
// tiered traffic policy and manages the promotion lifecycle. Safe for
// concurrent use; selection and promotion never observe a torn champion
// index.
type Registry struct {
	mu        sync.RWMutex
	variants  map[string]*Variant
	byType    map[string][]string // content type -> variant ids, registration order
	champions map[string]string   // content type -> champion variant id
	cfg       Config
	rng       *rand.Rand
	onChange  func(LifecycleEvent)
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.ChampionMass <= 0 && cfg.CandidateMass <= 0 && cfg.ActiveMass <= 0 {
		cfg = DefaultConfig()
	}
	return &Registry{
		variants:  make(map[string]*Variant),
		byType:    make(map[string][]string),
		champions: make(map[string]string),
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetLifecycleHook installs a callback invoked on status transitions. The
// hook runs after the registry lock is released. Pass nil to remove.
func (r *Registry) SetLifecycleHook(fn func(LifecycleEvent)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Register adds a variant. An empty ID gets a generated UUID; an empty
// status defaults to active.
func (r *Registry) Register(v Variant) (*Variant, error) {
	if v.ContentType == "" {
		return nil, fmt.Errorf("%w: content_type is required", ErrValidationFailed)
	}
	if v.Template == "" {
		return nil, fmt.Errorf("%w: template is required", ErrValidationFailed)
	}
	if v.Weight < 0 || v.Weight > 1 {
		return nil, ErrInvalidWeight
	}
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = StatusActive
	}
	now := time.Now()
	v.CreatedAt = now
	v.UpdatedAt = now

	r.mu.Lock()
	if _, exists := r.variants[v.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateVariantID, v.ID)
	}
	if v.Status == StatusChampion {
		if prev, ok := r.champions[v.ContentType]; ok && prev != v.ID {
			r.mu.Unlock()
			return nil, fmt.Errorf("content type %q already has champion %s", v.ContentType, prev)
		}
		r.champions[v.ContentType] = v.ID
	}
	stored := v.clone()
	r.variants[v.ID] = stored
	r.byType[v.ContentType] = append(r.byType[v.ContentType], v.ID)
	hook := r.onChange
	r.mu.Unlock()

	log.Printf("🧪 [REGISTRY] Registered variant %s (%s, status=%s, weight=%.2f)", v.ID, v.ContentType, v.Status, v.Weight)
	if hook != nil {
		hook(LifecycleEvent{Type: "registered", ContentType: v.ContentType, VariantID: v.ID})
	}
	return stored.clone(), nil
}

// Get returns a copy of a variant.
func (r *Registry) Get(id string) (*Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVariantNotFound, id)
	}
	return v.clone(), nil
}

// List returns copies of all variants for a content type, in registration
// order. An empty content type lists everything.
func (r *Registry) List(contentType string) []Variant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	if contentType == "" {
		ids = make([]string, 0, len(r.variants))
		for id := range r.variants {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	} else {
		ids = r.byType[contentType]
	}

	out := make([]Variant, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.variants[id].clone())
	}
	return out
}

// Select picks one variant for a content type under the tiered traffic
// policy and increments its impression counter. forceID, when non-empty,
// bypasses the draw for controlled testing but still must name a selectable
// variant of that content type.
func (r *Registry) Select(contentType, forceID string) (*Variant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if forceID != "" {
		v, ok := r.variants[forceID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrVariantNotFound, forceID)
		}
		if v.ContentType != contentType {
			return nil, fmt.Errorf("%w: %s belongs to content type %q", ErrVariantNotFound, forceID, v.ContentType)
		}
		if !v.Status.selectable() {
			return nil, fmt.Errorf("%w (status=%s)", ErrNoActiveVariants, v.Status)
		}
		v.Performance.Impressions++
		return v.clone(), nil
	}

	pool := make([]*Variant, 0, 8)
	for _, id := range r.byType[contentType] {
		if v := r.variants[id]; v.Status.selectable() {
			pool = append(pool, v)
		}
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoActiveVariants, contentType)
	}
	if len(pool) == 1 {
		pool[0].Performance.Impressions++
		return pool[0].clone(), nil
	}

	probs := r.selectionProbabilities(pool)

	// Cumulative walk over one uniform draw.
	draw := r.rng.Float64()
	cum := 0.0
	chosen := pool[len(pool)-1]
	for i, v := range pool {
		cum += probs[i]
		if draw < cum {
			chosen = v
			break
		}
	}
	chosen.Performance.Impressions++
	return chosen.clone(), nil
}

// selectionProbabilities assigns each pool member a probability: each tier
// gets a fixed aggregate mass, split within the tier proportional to member
// weights (equal split when all weights are zero), then the whole vector is
// normalized to sum to exactly 1. Callers hold the lock.
func (r *Registry) selectionProbabilities(pool []*Variant) []float64 {
	tiers := map[Status][]int{}
	for i, v := range pool {
		tiers[v.Status] = append(tiers[v.Status], i)
	}

	masses := map[Status]float64{
		StatusChampion:  r.cfg.ChampionMass,
		StatusCandidate: r.cfg.CandidateMass,
		StatusActive:    r.cfg.ActiveMass,
	}
	if r.cfg.RedistributeEmptyTiers {
		presentTiers := 0
		missing := 0.0
		for st, mass := range masses {
			if len(tiers[st]) > 0 {
				presentTiers++
			} else {
				missing += mass
			}
		}
		if presentTiers > 0 && missing > 0 {
			share := missing / float64(presentTiers)
			for st := range masses {
				if len(tiers[st]) > 0 {
					masses[st] += share
				} else {
					masses[st] = 0
				}
			}
		}
	}

	probs := make([]float64, len(pool))
	for st, idxs := range tiers {
		mass := masses[st]
		if mass <= 0 || len(idxs) == 0 {
			continue
		}
		weightSum := 0.0
		for _, i := range idxs {
			weightSum += pool[i].Weight
		}
		for _, i := range idxs {
			if weightSum > 0 {
				probs[i] = mass * pool[i].Weight / weightSum
			} else {
				probs[i] = mass / float64(len(idxs))
			}
		}
	}

	total := 0.0
	for _, p := range probs {
		total += p
	}
	if total <= 0 {
		// All masses zero for the present tiers; fall back to uniform.
		for i := range probs {
			probs[i] = 1 / float64(len(probs))
		}
		return probs
	}
	for i := range probs {
		probs[i] /= total
	}
	return probs
}

// PromoteToChampion makes a variant the sole champion of its content type.
// Any existing champion for the same content type is demoted to retired in
// the same critical section, so concurrent selections never see zero or two
// champions.
func (r *Registry) PromoteToChampion(id string) error {
	r.mu.Lock()
	v, ok := r.variants[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrVariantNotFound, id)
	}
	if v.Status == StatusRetired {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrVariantRetired, id)
	}
	now := time.Now()
	var demoted string
	if prevID, ok := r.champions[v.ContentType]; ok && prevID != id {
		prev := r.variants[prevID]
		prev.Status = StatusRetired
		prev.UpdatedAt = now
		demoted = prevID
	}
	v.Status = StatusChampion
	v.UpdatedAt = now
	r.champions[v.ContentType] = id
	hook := r.onChange
	contentType := v.ContentType
	r.mu.Unlock()

	if demoted != "" {
		log.Printf("👑 [REGISTRY] Promoted %s to champion of %q (retired %s)", id, contentType, demoted)
	} else {
		log.Printf("👑 [REGISTRY] Promoted %s to champion of %q", id, contentType)
	}
	if hook != nil {
		hook(LifecycleEvent{Type: "promoted", ContentType: contentType, VariantID: id})
	}
	return nil
}

// Pause removes a variant from selection without losing its record.
func (r *Registry) Pause(id string) error {
	return r.setStatus(id, StatusPaused, "paused")
}

// Resume returns a paused variant to active.
func (r *Registry) Resume(id string) error {
	return r.setStatus(id, StatusActive, "resumed")
}

// Retire permanently excludes a variant from selection. Retired variants
// are retained for audit and cannot be resumed.
func (r *Registry) Retire(id string) error {
	return r.setStatus(id, StatusRetired, "retired")
}

// SetAsCandidate marks a variant as a challenger under evaluation.
func (r *Registry) SetAsCandidate(id string) error {
	return r.setStatus(id, StatusCandidate, "candidate")
}

// setStatus applies a direct status write with no side effects on other
// variants. The champion index is kept consistent when a champion leaves
// that status.
func (r *Registry) setStatus(id string, status Status, event string) error {
	r.mu.Lock()
	v, ok := r.variants[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrVariantNotFound, id)
	}
	if v.Status == StatusRetired && status != StatusRetired {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrVariantRetired, id)
	}
	if v.Status == StatusChampion && status != StatusChampion {
		delete(r.champions, v.ContentType)
	}
	v.Status = status
	v.UpdatedAt = time.Now()
	hook := r.onChange
	contentType := v.ContentType
	r.mu.Unlock()

	if hook != nil {
		hook(LifecycleEvent{Type: event, ContentType: contentType, VariantID: id})
	}
	return nil
}

// UpdateWeight sets a variant's traffic weight. Weight is never changed by
// performance updates; it is an explicit operator action.
func (r *Registry) UpdateWeight(id string, weight float64) error {
	if weight < 0 || weight > 1 {
		return ErrInvalidWeight
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.variants[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVariantNotFound, id)
	}
	v.Weight = weight
	v.UpdatedAt = time.Now()
	return nil
}

// UpdatePerformance folds one generation outcome into the variant's running
// record. Moving averages use the impression count as the window:
// newAvg = ((oldAvg*(n-1)) + sample) / n.
func (r *Registry) UpdatePerformance(id string, u PerformanceUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.variants[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVariantNotFound, id)
	}

	p := &v.Performance
	n := float64(p.Impressions)
	if n < 1 {
		n = 1
	}
	if u.LatencyMs > 0 {
		p.AvgLatencyMs = ((p.AvgLatencyMs * (n - 1)) + u.LatencyMs) / n
	}
	if u.Quality != nil {
		p.AvgQuality = ((p.AvgQuality * (n - 1)) + *u.Quality) / n
	}
	if u.Converted {
		p.Conversions++
	}
	if u.Errored {
		p.Errors++
	}
	if u.FeedbackRating != nil {
		p.FeedbackSum += *u.FeedbackRating
		p.FeedbackCount++
	}
	v.UpdatedAt = time.Now()
	return nil
}

// Champion returns the current champion for a content type, if any.
func (r *Registry) Champion(contentType string) (*Variant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.champions[contentType]
	if !ok {
		return nil, false
	}
	return r.variants[id].clone(), true
}
